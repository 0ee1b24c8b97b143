package raft

import "time"

// roleState is the tagged-variant role abstraction from spec §9: common
// state lives on *Node; each role holds only its own sub-state and is
// replaced wholesale on transition rather than mutated through a shared
// base type. A step function (onMessage/onTimeout) returns either nil
// (spec's "Continue": stay in this role) or a freshly constructed roleState
// (spec's "Transition"); "Emit" is folded into side effects performed
// through *Node (n.emit, n.send) during the call, which is what makes each
// step directly unit-testable against a fake Transport/Storage without an
// executor.
type roleState interface {
	Role() Role
	// enter runs once, immediately after this role becomes active. It is
	// where a Candidate solicits votes, a Leader appends its Noop, and a
	// Follower arms its election timer.
	enter(n *Node)
	// onMessage processes one inbound wire message. Returning non-nil
	// transitions the node to the returned role.
	onMessage(n *Node, from NodeId, msg Message) roleState
	// onTimeout fires when the node's single timer expires. For
	// Follower/Candidate this is the election timeout; for Leader it is
	// the heartbeat tick (which re-arms itself and returns nil).
	onTimeout(n *Node) roleState
}

// armElectionTimer (re)starts n.timer with a duration drawn uniformly
// from [T, 2T), per spec §4.4's split-vote mitigation.
func armElectionTimer(n *Node) {
	low := n.opts.electionTimeoutLow
	jitter := time.Duration(n.rng.Int63n(int64(low)))
	n.resetTimer(low + jitter)
}

func armHeartbeatTimer(n *Node) {
	n.resetTimer(n.opts.heartbeatInterval)
}
