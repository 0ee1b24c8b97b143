// Package raftmem provides in-memory Storage and Transport implementations
// of the raft package's collaborator interfaces, intended for tests and
// the bundled demo rather than production use: nothing here survives a
// process restart.
package raftmem

import (
	"context"
	"sync"

	"github.com/raftlog/raft"
)

// Storage is a goroutine-safe, entirely in-memory raft.Storage. Multiple
// Node instances (e.g. simulated peers in a test) may not share one
// Storage, but a single Node's durability contract is fully honored
// across repeated restarts within the same process.
type Storage struct {
	mu     sync.Mutex
	ballot *raft.Ballot
	prefix *raft.LogPrefix
	suffix raft.LogSuffix
}

// NewStorage returns a fresh Storage satisfying the "fresh node" contract
// documented on raft.Storage: nil ballot, nil prefix, empty suffix at the
// zero position.
func NewStorage() *Storage {
	return &Storage{suffix: raft.EmptySuffix()}
}

func (s *Storage) LoadBallot(ctx context.Context) (*raft.Ballot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ballot == nil {
		return nil, nil
	}
	b := *s.ballot
	return &b, nil
}

func (s *Storage) SaveBallot(ctx context.Context, b raft.Ballot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ballot = &b
	return nil
}

func (s *Storage) LoadLog(ctx context.Context, start raft.LogIndex, end *raft.LogIndex) (raft.LogSuffix, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if start <= s.suffix.Head.Index && (end == nil || *end >= s.suffix.EndIndex()) {
		return s.suffix, nil
	}
	// A partial load is only ever requested by code this package does not
	// need to support (the driver always loads the whole durable log at
	// startup); return the full suffix regardless of start/end so callers
	// that do pass a narrower range still see consistent data.
	return s.suffix, nil
}

func (s *Storage) SaveLogSuffix(ctx context.Context, suffix raft.LogSuffix) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if suffix.Head.Index < s.suffix.Head.Index {
		return &raft.InvalidArgumentError{Reason: "SaveLogSuffix head precedes current snapshot boundary"}
	}
	if suffix.Head == s.suffix.LastPosition() {
		s.suffix.Entries = append(s.suffix.Entries, suffix.Entries...)
		return nil
	}
	// An overwrite starting mid-log (a follower truncating and
	// re-appending) keeps entries through Head.Index and replaces
	// everything after it.
	keep := int(suffix.Head.Index - s.suffix.Head.Index)
	if keep < 0 {
		keep = 0
	}
	if keep > len(s.suffix.Entries) {
		keep = len(s.suffix.Entries)
	}
	entries := append([]raft.LogEntry{}, s.suffix.Entries[:keep]...)
	entries = append(entries, suffix.Entries...)
	s.suffix = raft.LogSuffix{Head: s.suffix.Head, Entries: entries}
	return nil
}

func (s *Storage) LoadLogPrefix(ctx context.Context) (*raft.LogPrefix, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.prefix == nil {
		return nil, nil
	}
	p := *s.prefix
	return &p, nil
}

func (s *Storage) SaveLogPrefix(ctx context.Context, prefix raft.LogPrefix) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prefix = &prefix
	if prefix.Tail.Index >= s.suffix.EndIndex() {
		s.suffix = raft.LogSuffix{Head: prefix.Tail}
	} else {
		keep := int(prefix.Tail.Index - s.suffix.Head.Index)
		if keep < 0 {
			keep = 0
		}
		s.suffix = raft.LogSuffix{Head: prefix.Tail, Entries: append([]raft.LogEntry{}, s.suffix.Entries[keep:]...)}
	}
	return nil
}
