package raft

import "fmt"

// StorageError wraps a durable-state I/O failure. It is fatal to the node:
// the driver emits a terminal event and stops (spec §7).
type StorageError struct{ Cause error }

func (e *StorageError) Error() string { return fmt.Sprintf("raft: storage error: %v", e.Cause) }
func (e *StorageError) Unwrap() error { return e.Cause }

// TransportError wraps a message send failure. It is non-fatal: the
// caller drops it and relies on the protocol's own retransmission
// (heartbeat or the next RPC) rather than a retry loop.
type TransportError struct{ Cause error }

func (e *TransportError) Error() string { return fmt.Sprintf("raft: transport error: %v", e.Cause) }
func (e *TransportError) Unwrap() error { return e.Cause }

// ErrInconsistentLog is a protocol-level signal, not a failure: it causes
// replication backoff (leader decrements next_index, or a follower asks
// for a snapshot).
var ErrInconsistentLog = fmt.Errorf("raft: inconsistent log")

// NotLeaderError is returned from Propose/ProposeConfig when the local
// node is not the leader. Hint, if non-empty, is the last known leader and
// the caller is responsible for redirecting there.
type NotLeaderError struct{ Hint NodeId }

func (e *NotLeaderError) Error() string {
	if e.Hint == "" {
		return "raft: not leader (no known leader)"
	}
	return fmt.Sprintf("raft: not leader (known leader: %s)", e.Hint)
}

// ErrConfigChangeInProgress is returned from ProposeConfig when another
// membership change is already in flight. Only one may be outstanding at
// a time (spec §4.6).
var ErrConfigChangeInProgress = fmt.Errorf("raft: configuration change already in progress")

// InvalidArgumentError signals a programmer error — e.g. a non-monotonic
// append or a truncate below the committed index. LogHistory returns it
// and leaves its state unchanged; it is not fatal in itself. Callers that
// hold the condition impossible panic on it through must1, while
// followerState.handleAppendEntries answers a refused Truncate with
// AppendInconsistent and keeps running.
type InvalidArgumentError struct{ Reason string }

func (e *InvalidArgumentError) Error() string { return "raft: invalid argument: " + e.Reason }

func invalidArgument(format string, args ...interface{}) error {
	return &InvalidArgumentError{Reason: fmt.Sprintf(format, args...)}
}

// must1 panics if err is non-nil. Used the way the teacher's Must1/Must2
// helpers guard invariants that a correctly functioning node must never
// violate (e.g. appending a suffix the caller already validated against
// the in-memory log). Fallible I/O against Storage is never wrapped in
// must1 — a Storage failure is reported via Node.fail instead, so the
// node can emit the documented terminal event rather than crash its
// goroutine (spec §7).
func must1(err error) {
	if err != nil {
		panic(err)
	}
}

func must2[T any](v T, err error) T {
	must1(err)
	return v
}
