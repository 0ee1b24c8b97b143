// Package raft implements the replicated core of the Raft consensus
// protocol: leader election, log replication with commit advancement,
// snapshot install, and joint-consensus membership changes.
//
// The package does not provide storage or networking. Callers supply a
// Storage and a Transport (see io.go) and drive a Node's event loop; the
// upper state machine consumes Committed events emitted on Node.Events().
package raft
