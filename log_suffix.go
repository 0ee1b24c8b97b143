package raft

// LogSuffix represents a contiguous tail of the log: Head is the position
// just before Entries[0], and Entries occupy indices Head.Index+1 through
// Head.Index+len(Entries). Invariant: Entries[0]'s predecessor term is
// Head.PrevTerm, and each subsequent entry's predecessor term equals the
// previous entry's term — i.e. the suffix is internally consistent even
// before being reconciled against any other log.
type LogSuffix struct {
	Head    LogPosition
	Entries []LogEntry
}

// EmptySuffix is the canonical empty suffix anchored at the empty log.
func EmptySuffix() LogSuffix { return LogSuffix{Head: ZeroLogPosition} }

// Len is the number of entries carried by this suffix.
func (s LogSuffix) Len() int { return len(s.Entries) }

// EndIndex is the index of the last entry this suffix covers (Head.Index
// when it carries no entries).
func (s LogSuffix) EndIndex() LogIndex { return s.Head.Index + LogIndex(len(s.Entries)) }

// TermAt returns the term of the entry at the given absolute index and
// whether that index falls within this suffix.
func (s LogSuffix) TermAt(index LogIndex) (Term, bool) {
	if index <= s.Head.Index || index > s.EndIndex() {
		return 0, false
	}
	return s.Entries[index-s.Head.Index-1].Term, true
}

// LastPosition returns the position of the last entry in this suffix (or
// the head itself, if the suffix carries no entries).
func (s LogSuffix) LastPosition() LogPosition {
	if len(s.Entries) == 0 {
		return s.Head
	}
	return LogPosition{PrevTerm: s.Entries[len(s.Entries)-1].Term, Index: s.EndIndex()}
}

// clone deep-copies the suffix so callers holding it across goroutine
// boundaries (storage futures, transport sends) never observe a mutation.
func (s LogSuffix) clone() LogSuffix {
	out := LogSuffix{Head: s.Head, Entries: make([]LogEntry, len(s.Entries))}
	for i, e := range s.Entries {
		out.Entries[i] = e.clone()
	}
	return out
}
