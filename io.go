package raft

import "context"

// Storage is the durable-state collaborator a caller must supply (spec
// §6). Every method may block; the node driver calls these synchronously
// from its single event-loop goroutine, so a slow call stalls that node's
// loop, and implementations need not be safe for concurrent use by more
// than one caller at a time per node — but a single Storage instance may
// be shared by several Node instances (e.g. one per shard) and must then
// be safe for concurrent use across nodes.
//
// Contract for a fresh node: LoadBallot returns (nil, nil); LoadLog
// returns LogSuffix{Head: ZeroLogPosition} with no entries; LoadLogPrefix
// returns (nil, nil). Returning any other PrevTerm than 0 for an empty log
// is a user error.
type Storage interface {
	LoadBallot(ctx context.Context) (*Ballot, error)
	SaveBallot(ctx context.Context, b Ballot) error

	// LoadLog loads entries in [start, end). A nil end means "through the
	// end of the durable log".
	LoadLog(ctx context.Context, start LogIndex, end *LogIndex) (LogSuffix, error)
	// SaveLogSuffix durably appends or overwrites starting at
	// suffix.Head; it must be persisted before AppendEntriesReply{Success}
	// is sent for entries it covers.
	SaveLogSuffix(ctx context.Context, suffix LogSuffix) error

	LoadLogPrefix(ctx context.Context) (*LogPrefix, error)
	SaveLogPrefix(ctx context.Context, prefix LogPrefix) error
}

// InboundMessage pairs an incoming wire Message with the peer it arrived
// from.
type InboundMessage struct {
	From    NodeId
	Message Message
}

// Transport is the networking collaborator a caller must supply (spec
// §6). It is assumed asynchronous, best-effort, and may reorder,
// duplicate, or drop messages; the protocol tolerates all three.
type Transport interface {
	// Send is fire-and-forget from the caller's perspective: failures are
	// reported out-of-band (e.g. logged) rather than returned, since the
	// protocol itself is the retry loop (spec §7).
	Send(dst NodeId, msg Message)
	// Inbox yields every message addressed to this node, in arrival
	// order as delivered by the network (which may not be send order).
	Inbox() <-chan InboundMessage
}
