package raft

// MessageKind discriminates the wire-level Message envelope's payload.
type MessageKind int

const (
	MsgRequestVote MessageKind = iota
	MsgRequestVoteReply
	MsgAppendEntries
	MsgAppendEntriesReply
	MsgInstallSnapshot
	MsgInstallSnapshotReply
)

func (k MessageKind) String() string {
	switch k {
	case MsgRequestVote:
		return "RequestVote"
	case MsgRequestVoteReply:
		return "RequestVoteReply"
	case MsgAppendEntries:
		return "AppendEntries"
	case MsgAppendEntriesReply:
		return "AppendEntriesReply"
	case MsgInstallSnapshot:
		return "InstallSnapshot"
	case MsgInstallSnapshotReply:
		return "InstallSnapshotReply"
	default:
		return "Unknown"
	}
}

// Message is the single wire envelope every RPC and reply travels in.
// Every variant carries Sender and Term per spec §6; exactly one of the
// payload fields is populated, selected by Kind.
type Message struct {
	Kind MessageKind
	// ID uniquely identifies this wire message for logging/tracing
	// correlation across the sender and receiver's logs; it carries no
	// protocol meaning.
	ID     string
	Sender NodeId
	Term   Term

	RequestVote      *RequestVote
	RequestVoteReply *RequestVoteReply

	AppendEntries      *AppendEntries
	AppendEntriesReply *AppendEntriesReply

	InstallSnapshot      *InstallSnapshot
	InstallSnapshotReply *InstallSnapshotReply
}

// RequestVote solicits a ballot grant from a peer.
type RequestVote struct {
	LastLogPosition LogPosition
}

type RequestVoteReply struct {
	Granted bool
}

// AppendEntries both replicates log entries and, with an empty Entries
// slice, serves as a heartbeat.
type AppendEntries struct {
	Prev        LogPosition
	Entries     []LogEntry
	CommitIndex LogIndex
	// Seq is a leader-local send counter, echoed back in the reply. A
	// ReadIndex call only completes once the replies for a Seq issued
	// after the call come back from a quorum, which is what proves the
	// leader is still current (spec §9's read-index discussion).
	Seq int64
}

// AppendEntriesResult discriminates AppendEntriesReply's outcome.
type AppendEntriesResult int

const (
	AppendSuccess AppendEntriesResult = iota
	AppendInconsistent
	AppendBusy
)

type AppendEntriesReply struct {
	Result AppendEntriesResult
	// MatchIndex is meaningful iff Result == AppendSuccess.
	MatchIndex LogIndex
	// HintIndex is meaningful iff Result == AppendInconsistent, offered for
	// fast next_index backoff: the follower's own last index when Prev lies
	// past its log, its snapshot boundary when Prev precedes that boundary,
	// or its commit index when the term at Prev does not match.
	HintIndex LogIndex
	// Seq echoes the AppendEntries.Seq this reply answers.
	Seq int64
}

// InstallSnapshot carries one chunk of a chunked snapshot transfer.
type InstallSnapshot struct {
	PrefixTail LogPosition
	Config     ClusterConfig
	ChunkIndex int
	ChunkTotal int
	Bytes      []byte
}

type InstallSnapshotReply struct {
	// Accepted is false if the follower rejected the chunk (e.g. stale
	// term, already has a newer snapshot); the sender must restart the
	// chunk sequence.
	Accepted bool
}
