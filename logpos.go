package raft

import "fmt"

// LogPosition identifies the entry at Index and records its own term as
// PrevTerm — "prev" relative to whatever entries follow it in a suffix,
// not relative to its own index. It is the standard Raft
// (prevLogIndex, prevLogTerm) pair. The canonical empty-log position is
// {PrevTerm: 0, Index: 0} — the sole valid initial state (see spec §9:
// the source's 0xff sentinel for an empty prev_term is a bug, not a
// convention to preserve).
type LogPosition struct {
	PrevTerm Term
	Index    LogIndex
}

// ZeroLogPosition is the canonical empty-log position.
var ZeroLogPosition = LogPosition{PrevTerm: 0, Index: 0}

func (p LogPosition) String() string {
	return fmt.Sprintf("(prev_term=%d, index=%d)", p.PrevTerm, p.Index)
}

// Less reports whether p denotes an earlier slot than other, comparing by
// index only (position ordering along a single log is by index; PrevTerm
// only disambiguates which branch a position belongs to).
func (p LogPosition) Less(other LogPosition) bool { return p.Index < other.Index }

// indexSub returns a-b as a LogIndex, never underflowing: if b > a the
// result is 0, so the canonical empty position (index 0) never produces an
// unsigned wraparound, per spec §9's resolution of the longest_common_prefix
// bug. LogHistory does its own index subtraction directly, each time behind
// a bounds check that keeps the result non-negative.
func indexSub(a, b LogIndex) LogIndex {
	if b >= a {
		return 0
	}
	return a - b
}
