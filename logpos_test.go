package raft

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func TestZeroLogPosition(t *testing.T) {
	assert.Equal(t, Term(0), ZeroLogPosition.PrevTerm)
	assert.Equal(t, LogIndex(0), ZeroLogPosition.Index)
}

func TestLogPositionLess(t *testing.T) {
	a := LogPosition{PrevTerm: 5, Index: 3}
	b := LogPosition{PrevTerm: 1, Index: 4}
	assert.True(t, a.Less(b))
	assert.False(t, b.Less(a))
	assert.False(t, a.Less(a))
}

func TestIndexSubNeverUnderflows(t *testing.T) {
	assert.Equal(t, LogIndex(0), indexSub(3, 10))
	assert.Equal(t, LogIndex(0), indexSub(0, 0))
	assert.Equal(t, LogIndex(7), indexSub(10, 3))
}

func TestIndexSubProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		a := LogIndex(rapid.Uint64Range(0, 1<<20).Draw(rt, "a"))
		b := LogIndex(rapid.Uint64Range(0, 1<<20).Draw(rt, "b"))
		got := indexSub(a, b)
		if b >= a {
			assert.Equal(rt, LogIndex(0), got)
		} else {
			assert.Equal(rt, a-b, got)
		}
	})
}
