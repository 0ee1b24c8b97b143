package raft

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cmdEntry(term Term, s string) LogEntry { return CommandEntry(term, []byte(s)) }

func TestNewLogHistoryIsEmpty(t *testing.T) {
	h := NewLogHistory(NewStableConfig("a", "b", "c"))
	assert.Equal(t, ZeroLogPosition, h.AppendedTail())
	assert.Equal(t, ZeroLogPosition, h.CommittedTail())
	assert.Equal(t, ZeroLogPosition, h.ConsumedTail())
	assert.Equal(t, ZeroLogPosition, h.SnapshotBoundary())
}

func TestAppendRejectsMismatchedHead(t *testing.T) {
	h := NewLogHistory(NewStableConfig("a"))
	bad := LogSuffix{Head: LogPosition{Index: 5}, Entries: []LogEntry{cmdEntry(1, "x")}}
	err := h.Append(bad)
	require.Error(t, err)
}

func TestAppendAdvancesTail(t *testing.T) {
	h := NewLogHistory(NewStableConfig("a"))
	suffix := LogSuffix{Head: ZeroLogPosition, Entries: []LogEntry{cmdEntry(1, "x"), cmdEntry(1, "y")}}
	require.NoError(t, h.Append(suffix))
	assert.Equal(t, LogPosition{PrevTerm: 1, Index: 2}, h.AppendedTail())
}

func TestCommitIsMonotonicAndTransitive(t *testing.T) {
	h := NewLogHistory(NewStableConfig("a"))
	suffix := LogSuffix{Head: ZeroLogPosition, Entries: []LogEntry{cmdEntry(1, "x"), cmdEntry(1, "y"), cmdEntry(2, "z")}}
	require.NoError(t, h.Append(suffix))

	require.NoError(t, h.Commit(2))
	assert.Equal(t, LogIndex(2), h.CommittedTail().Index)

	// Regressing is a no-op, never un-commits.
	require.NoError(t, h.Commit(1))
	assert.Equal(t, LogIndex(2), h.CommittedTail().Index)

	require.NoError(t, h.Commit(3))
	assert.Equal(t, LogIndex(3), h.CommittedTail().Index)
}

func TestCommitRejectsBeyondAppendedTail(t *testing.T) {
	h := NewLogHistory(NewStableConfig("a"))
	require.NoError(t, h.Append(LogSuffix{Head: ZeroLogPosition, Entries: []LogEntry{cmdEntry(1, "x")}}))
	assert.Error(t, h.Commit(5))
}

func TestConsumeDrainsInOrderUpToCommitted(t *testing.T) {
	h := NewLogHistory(NewStableConfig("a"))
	require.NoError(t, h.Append(LogSuffix{Head: ZeroLogPosition, Entries: []LogEntry{
		cmdEntry(1, "x"), cmdEntry(1, "y"), cmdEntry(1, "z"),
	}}))
	require.NoError(t, h.Commit(2))

	e1, i1, ok := h.Consume()
	require.True(t, ok)
	assert.Equal(t, LogIndex(1), i1)
	assert.Equal(t, []byte("x"), e1.Bytes)

	e2, i2, ok := h.Consume()
	require.True(t, ok)
	assert.Equal(t, LogIndex(2), i2)
	assert.Equal(t, []byte("y"), e2.Bytes)

	_, _, ok = h.Consume()
	assert.False(t, ok, "index 3 is appended but not yet committed")
}

func TestTruncateDropsConflictingSuffixButKeepsPrevEntry(t *testing.T) {
	h := NewLogHistory(NewStableConfig("a"))
	require.NoError(t, h.Append(LogSuffix{Head: ZeroLogPosition, Entries: []LogEntry{
		cmdEntry(1, "x"), cmdEntry(1, "y"), cmdEntry(1, "z"),
	}}))

	// Truncating at index 2 drops entries at index >= 2, keeping index 1.
	require.NoError(t, h.Truncate(2))
	assert.Equal(t, LogPosition{PrevTerm: 1, Index: 1}, h.AppendedTail())

	// The kept entry can still be appended after.
	require.NoError(t, h.Append(LogSuffix{Head: h.AppendedTail(), Entries: []LogEntry{cmdEntry(2, "w")}}))
	assert.Equal(t, LogIndex(2), h.AppendedTail().Index)
}

func TestTruncateRejectsBelowCommitted(t *testing.T) {
	h := NewLogHistory(NewStableConfig("a"))
	require.NoError(t, h.Append(LogSuffix{Head: ZeroLogPosition, Entries: []LogEntry{cmdEntry(1, "x"), cmdEntry(1, "y")}}))
	require.NoError(t, h.Commit(2))
	assert.Error(t, h.Truncate(1))
}

func TestInstallSnapshotIsIdempotent(t *testing.T) {
	h := NewLogHistory(NewStableConfig("a"))
	require.NoError(t, h.Append(LogSuffix{Head: ZeroLogPosition, Entries: []LogEntry{cmdEntry(1, "x"), cmdEntry(1, "y")}}))
	require.NoError(t, h.Commit(2))

	prefix := LogPrefix{Tail: LogPosition{PrevTerm: 1, Index: 2}, Config: NewStableConfig("a"), UserBytes: []byte("snap")}
	require.NoError(t, h.InstallSnapshot(prefix))
	first := *h

	require.NoError(t, h.InstallSnapshot(prefix))
	assert.Equal(t, first.base, h.base)
	assert.Equal(t, first.committedTail, h.committedTail)
	assert.Equal(t, first.consumedTail, h.consumedTail)
}

func TestSuffixFallsBackBelowSnapshotBoundary(t *testing.T) {
	h := NewLogHistory(NewStableConfig("a"))
	require.NoError(t, h.Append(LogSuffix{Head: ZeroLogPosition, Entries: []LogEntry{cmdEntry(1, "x"), cmdEntry(1, "y")}}))
	require.NoError(t, h.Commit(2))
	require.NoError(t, h.InstallSnapshot(LogPrefix{Tail: LogPosition{PrevTerm: 1, Index: 2}, Config: NewStableConfig("a")}))

	_, ok := h.Suffix(1)
	assert.False(t, ok, "index below the new snapshot boundary must signal InstallSnapshot instead")

	s, ok := h.Suffix(2)
	assert.True(t, ok)
	assert.Equal(t, LogPosition{PrevTerm: 1, Index: 2}, s.Head)
}

func TestLongestCommonPrefix(t *testing.T) {
	h := NewLogHistory(NewStableConfig("a"))
	require.NoError(t, h.Append(LogSuffix{Head: ZeroLogPosition, Entries: []LogEntry{
		cmdEntry(1, "a"), cmdEntry(1, "b"), cmdEntry(2, "c"), cmdEntry(2, "d"),
	}}))

	remote := LogSuffix{Head: ZeroLogPosition, Entries: []LogEntry{
		cmdEntry(1, "a"), cmdEntry(1, "b"), cmdEntry(3, "x"),
	}}
	lcp := h.LongestCommonPrefix(remote)
	assert.Equal(t, LogPosition{PrevTerm: 1, Index: 2}, lcp)
}

func TestLongestCommonPrefixWithEmptyRemote(t *testing.T) {
	h := NewLogHistory(NewStableConfig("a"))
	require.NoError(t, h.Append(LogSuffix{Head: ZeroLogPosition, Entries: []LogEntry{cmdEntry(1, "a")}}))
	lcp := h.LongestCommonPrefix(EmptySuffix())
	assert.Equal(t, ZeroLogPosition, lcp)
}

func TestActiveConfigTracksConfigEntries(t *testing.T) {
	h := NewLogHistory(NewStableConfig("a", "b"))
	reconfig := NewStableConfig("a", "b").StartReconfig(nodes("a", "b", "c"))
	require.NoError(t, h.Append(LogSuffix{Head: ZeroLogPosition, Entries: []LogEntry{ConfigEntry(1, reconfig)}}))

	active := h.ActiveConfig()
	assert.Equal(t, ConfigCatchUp, active.State)
	assert.Equal(t, LogPosition{PrevTerm: 1, Index: 1}, h.ActiveConfigHead())
}

func TestRestoreFromStorageRebuildsHistory(t *testing.T) {
	prefix := &LogPrefix{Tail: LogPosition{PrevTerm: 2, Index: 3}, Config: NewStableConfig("a", "b")}
	suffix := LogSuffix{Head: prefix.Tail, Entries: []LogEntry{cmdEntry(2, "e4")}}

	h, err := RestoreFromStorage(prefix, suffix, NewStableConfig("a", "b"))
	require.NoError(t, err)
	assert.Equal(t, LogPosition{PrevTerm: 2, Index: 4}, h.AppendedTail())
	assert.Equal(t, prefix.Tail, h.SnapshotBoundary())
}
