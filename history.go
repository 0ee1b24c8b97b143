package raft

// HistoryRecord documents the cluster configuration active from Head.Index
// onward, up to the next record (or the end of the log). Head.Index == 0
// denotes the record that was active before any entry was appended.
type HistoryRecord struct {
	Head   LogPosition
	Config ClusterConfig
}

// LogHistory is the in-memory log abstraction described in spec §4.2: a
// contiguous run of entries from a snapshot boundary (base) through
// appendedTail, the configuration-change history over that run, and the
// commit/consume cursors. It does not itself perform durable I/O — that is
// Storage's job — but every mutation here mirrors a Storage call the node
// driver has already awaited.
type LogHistory struct {
	base    LogPosition // the snapshot boundary; entries[0] is base.Index+1
	entries []LogEntry

	records []HistoryRecord

	appendedTail  LogPosition
	committedTail LogPosition
	consumedTail  LogPosition
}

// NewLogHistory builds a fresh, empty history with initialConfig active
// from the start, matching the contract a fresh Storage must satisfy
// (spec §6): empty ballot, empty log, no snapshot.
func NewLogHistory(initialConfig ClusterConfig) *LogHistory {
	return &LogHistory{
		records:       []HistoryRecord{{Head: ZeroLogPosition, Config: initialConfig.clone()}},
		appendedTail:  ZeroLogPosition,
		committedTail: ZeroLogPosition,
		consumedTail:  ZeroLogPosition,
	}
}

// RestoreFromStorage rebuilds a LogHistory from whatever a Storage
// implementation reports for a non-fresh node: the loaded snapshot prefix
// (if any) and the loaded suffix on top of it.
func RestoreFromStorage(prefix *LogPrefix, suffix LogSuffix, initialConfig ClusterConfig) (*LogHistory, error) {
	h := NewLogHistory(initialConfig)
	if prefix != nil {
		if err := h.InstallSnapshot(*prefix); err != nil {
			return nil, err
		}
	}
	if err := h.Append(suffix); err != nil {
		return nil, err
	}
	// On restart the node has not yet re-delivered anything to the
	// upper state machine this process lifetime, but persisted commit
	// progress is exactly what the suffix/prefix encode; consumedTail
	// starts back at the snapshot boundary (or zero) and the upper
	// state machine will re-observe committed-but-not-yet-reapplied
	// entries, which is safe because Consume is idempotent per entry
	// only when the caller tracks its own high-water mark — callers
	// that need exactly-once application must dedupe by index.
	return h, nil
}

func (h *LogHistory) termAt(idx LogIndex) (Term, bool) {
	if idx <= h.base.Index || idx > h.appendedTail.Index {
		return 0, false
	}
	pos := int(idx - h.base.Index - 1)
	if pos < 0 || pos >= len(h.entries) {
		return 0, false
	}
	return h.entries[pos].Term, true
}

func (h *LogHistory) positionAt(idx LogIndex) LogPosition {
	if idx == 0 {
		return ZeroLogPosition
	}
	if idx == h.base.Index {
		return h.base
	}
	if term, ok := h.termAt(idx); ok {
		return LogPosition{PrevTerm: term, Index: idx}
	}
	return LogPosition{Index: idx}
}

// AppendedTail is the position of the last durably-appended entry (the
// snapshot boundary, or ZeroLogPosition, when no entry follows it).
func (h *LogHistory) AppendedTail() LogPosition { return h.appendedTail }

// CommittedTail is the highest index known to be replicated to a quorum.
func (h *LogHistory) CommittedTail() LogPosition { return h.committedTail }

// ConsumedTail is the highest index delivered to the upper state machine.
func (h *LogHistory) ConsumedTail() LogPosition { return h.consumedTail }

// SnapshotBoundary is the position of the last compacted entry: entries at
// or below its index have been compacted away; load_log_prefix /
// InstallSnapshot move this forward.
func (h *LogHistory) SnapshotBoundary() LogPosition { return h.base }

// ActiveConfig is the currently-active cluster configuration: the last
// history record's config. Per spec §3's Lifecycle note, a configuration
// entry takes effect as soon as it is appended, not when it commits.
func (h *LogHistory) ActiveConfig() ClusterConfig {
	return h.records[len(h.records)-1].Config.clone()
}

// ActiveConfigHead is the log position at which the currently active
// configuration record took effect — the index of the config entry that
// produced it, or the snapshot boundary if no config entry has been
// appended since the last snapshot.
func (h *LogHistory) ActiveConfigHead() LogPosition {
	return h.records[len(h.records)-1].Head
}

// ConfigAt returns the configuration that was active at the given index,
// for a caller that needs the config as of a specific log position (e.g.
// the appended-but-not-yet-committed case). The node's own RequestVote/
// AppendEntries handling uses ActiveConfig, not ConfigAt.
func (h *LogHistory) ConfigAt(index LogIndex) ClusterConfig {
	active := h.records[0].Config
	for _, r := range h.records {
		if r.Head.Index > index {
			break
		}
		active = r.Config
	}
	return active.clone()
}

// LastLogPosition is the position of the last appended entry, for use in
// RequestVote's up-to-date comparison.
func (h *LogHistory) LastLogPosition() LogPosition { return h.appendedTail }

// Append requires suffix.Head == AppendedTail(); it is the caller's job to
// have already durably persisted suffix via Storage.SaveLogSuffix before
// calling this (spec §5's ordering guarantee). Returns an
// *InvalidArgumentError (a non-monotonic append; its reason quotes
// ErrInconsistentLog's text) if the head does not match the current tail.
func (h *LogHistory) Append(suffix LogSuffix) error {
	if suffix.Head != h.appendedTail {
		return invalidArgument("append head %s does not match appended tail %s: %v", suffix.Head, h.appendedTail, ErrInconsistentLog)
	}
	startIndex := suffix.Head.Index + 1
	for i, e := range suffix.Entries {
		h.entries = append(h.entries, e.clone())
		if e.Kind == EntryConfig {
			h.pushRecord(HistoryRecord{
				Head:   LogPosition{PrevTerm: e.Term, Index: startIndex + LogIndex(i)},
				Config: e.Config,
			})
		}
	}
	h.appendedTail = suffix.LastPosition()
	return nil
}

func (h *LogHistory) pushRecord(r HistoryRecord) {
	last := h.records[len(h.records)-1]
	if r.Head.Index <= last.Head.Index {
		// Reconfiguration history is monotonic by construction (Append
		// only ever extends the tail); a caller violating that is a
		// programmer error.
		panic(invalidArgument("history record index %d did not advance past %d", r.Head.Index, last.Head.Index))
	}
	h.records = append(h.records, r)
}

// Truncate drops all entries at index >= idx and pops any history records
// whose Head falls at or past idx. It requires idx >= CommittedTail().Index
// — committed entries are never discarded.
func (h *LogHistory) Truncate(idx LogIndex) error {
	if idx < h.committedTail.Index {
		return invalidArgument("cannot truncate index %d: already committed up to %d", idx, h.committedTail.Index)
	}
	if idx <= h.base.Index {
		return invalidArgument("cannot truncate index %d: at or before snapshot boundary %d", idx, h.base.Index)
	}
	if idx > h.appendedTail.Index {
		return nil
	}
	sliceLen := int(idx - h.base.Index - 1)
	h.entries = h.entries[:sliceLen]
	if len(h.entries) == 0 {
		h.appendedTail = h.base
	} else {
		last := h.entries[len(h.entries)-1]
		h.appendedTail = LogPosition{PrevTerm: last.Term, Index: h.base.Index + LogIndex(len(h.entries))}
	}
	for len(h.records) > 1 && h.records[len(h.records)-1].Head.Index >= idx {
		h.records = h.records[:len(h.records)-1]
	}
	return nil
}

// Commit advances CommittedTail() to idx. Requires
// CommittedTail().Index <= idx <= AppendedTail().Index. Commit advancement
// is monotonic: committing an index at or below the current tail is a
// no-op (never regresses).
func (h *LogHistory) Commit(idx LogIndex) error {
	if idx < h.committedTail.Index {
		return nil
	}
	if idx > h.appendedTail.Index {
		return invalidArgument("cannot commit index %d: beyond appended tail %d", idx, h.appendedTail.Index)
	}
	h.committedTail = h.positionAt(idx)
	return nil
}

// Consume yields the next committed-but-unconsumed entry and advances
// ConsumedTail(). The second return value is the entry's absolute index;
// ok is false once ConsumedTail() has caught up with CommittedTail().
func (h *LogHistory) Consume() (entry LogEntry, index LogIndex, ok bool) {
	if h.consumedTail.Index >= h.committedTail.Index {
		return LogEntry{}, 0, false
	}
	index = h.consumedTail.Index + 1
	pos := int(index - h.base.Index - 1)
	entry = h.entries[pos]
	h.consumedTail = LogPosition{PrevTerm: entry.Term, Index: index}
	return entry, index, true
}

// InstallSnapshot atomically replaces all entries up to and including
// prefix.Tail.Index,
// resets the configuration history to a single record at the snapshot
// boundary, and fast-forwards consumed/committed to the snapshot tail.
// Installing the same prefix twice is a no-op the second time (idempotent,
// per spec §8's law) because base/records/cursors all converge to the
// same values.
func (h *LogHistory) InstallSnapshot(prefix LogPrefix) error {
	if prefix.Tail.Index < h.base.Index {
		return invalidArgument("snapshot tail %s precedes current compaction boundary %s", prefix.Tail, h.base)
	}
	if prefix.Tail.Index > h.appendedTail.Index {
		h.entries = nil
		h.appendedTail = prefix.Tail
	} else {
		start := int(prefix.Tail.Index - h.base.Index)
		if start > len(h.entries) {
			start = len(h.entries)
		}
		h.entries = append([]LogEntry(nil), h.entries[start:]...)
	}
	h.base = prefix.Tail
	h.records = []HistoryRecord{{Head: prefix.Tail, Config: prefix.Config.clone()}}
	h.committedTail = prefix.Tail
	h.consumedTail = prefix.Tail
	return nil
}

// Suffix returns the contiguous run of entries starting at from (the
// leader-side Appender's next_index - 1, i.e. Suffix's Head.Index == from)
// through the current appended tail. ok is false if from lies below the
// snapshot boundary, meaning the caller must fall back to InstallSnapshot
// instead; from == SnapshotBoundary().Index is still served.
func (h *LogHistory) Suffix(from LogIndex) (suffix LogSuffix, ok bool) {
	if from < h.base.Index {
		return LogSuffix{}, false
	}
	head := h.positionAt(from)
	start := int(from - h.base.Index)
	entries := append([]LogEntry(nil), h.entries[start:]...)
	return LogSuffix{Head: head, Entries: entries}, true
}

// LongestCommonPrefix returns the largest LogPosition at which this
// history and remote agree, scanning forward from
// max(SnapshotBoundary, remote.Head) without ever underflowing an index
// subtraction — remote.Head.Index == 0 (an empty remote log) is handled
// the same way as any other start point (spec §4.2, §9).
func (h *LogHistory) LongestCommonPrefix(remote LogSuffix) LogPosition {
	start := remote.Head.Index
	if h.base.Index > start {
		start = h.base.Index
	}
	best := h.positionAt(start)
	end := remote.EndIndex()
	if h.appendedTail.Index < end {
		end = h.appendedTail.Index
	}
	for i := start + 1; i <= end; i++ {
		localTerm, ok := h.termAt(i)
		if !ok {
			break
		}
		remoteTerm, ok2 := remote.TermAt(i)
		if !ok2 || remoteTerm != localTerm {
			break
		}
		best = LogPosition{PrevTerm: localTerm, Index: i}
	}
	return best
}
