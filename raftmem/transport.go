package raftmem

import (
	"sync"

	"github.com/raftlog/raft"
)

// Network is a shared switchboard for in-memory Transports. Each Node in
// a test or demo gets its own Transport bound to the same Network, and
// Transport.Send resolves the destination by looking up its inbox here —
// no sockets, no serialization, matching the raft.Transport contract that
// messages may be dropped, reordered, or duplicated.
type Network struct {
	mu     sync.RWMutex
	inboxes map[raft.NodeId]chan raft.InboundMessage

	// Partition, when non-nil, reports whether a message from -> to
	// should be dropped. Tests use this to simulate a network split.
	Partition func(from, to raft.NodeId) bool
}

// NewNetwork returns an empty switchboard.
func NewNetwork() *Network {
	return &Network{inboxes: make(map[raft.NodeId]chan raft.InboundMessage)}
}

// Transport binds one node id to a Network.
type Transport struct {
	id      raft.NodeId
	network *Network
	inbox   chan raft.InboundMessage
}

// NewTransport registers id on network and returns its Transport. Calling
// this twice for the same id on the same Network replaces the prior
// inbox, which is only safe if the old Transport is no longer in use.
func NewTransport(network *Network, id raft.NodeId) *Transport {
	inbox := make(chan raft.InboundMessage, 256)
	network.mu.Lock()
	network.inboxes[id] = inbox
	network.mu.Unlock()
	return &Transport{id: id, network: network, inbox: inbox}
}

func (t *Transport) Send(dst raft.NodeId, msg raft.Message) {
	if t.network.Partition != nil && t.network.Partition(t.id, dst) {
		return
	}
	t.network.mu.RLock()
	inbox, ok := t.network.inboxes[dst]
	t.network.mu.RUnlock()
	if !ok {
		return
	}
	select {
	case inbox <- raft.InboundMessage{From: t.id, Message: msg}:
	default:
		// Full inbox: drop, exactly as a lossy real network would.
	}
}

func (t *Transport) Inbox() <-chan raft.InboundMessage { return t.inbox }
