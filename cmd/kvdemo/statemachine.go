package main

import (
	"sync"

	"github.com/raftlog/raft"
)

// commandKind discriminates the tiny command language this demo state
// machine understands.
type commandKind byte

const (
	cmdSet commandKind = iota
	cmdUnset
)

type kvCommand struct {
	Kind  commandKind
	Key   string
	Value []byte
}

func encodeCommand(c kvCommand) []byte {
	b, err := raft.EncodeSnapshot(c)
	if err != nil {
		panic(err)
	}
	return b
}

func decodeCommand(b []byte) kvCommand {
	var c kvCommand
	if err := raft.DecodeSnapshot(b, &c); err != nil {
		panic(err)
	}
	return c
}

// kvStateMachine is the upper state machine a kvdemo node drives from
// raft.Node's Events() channel, generalized from the teacher's
// cmd/kv.StateMachine: it applies committed commands to an in-memory map
// and can snapshot/restore that map through raft.LogPrefix.UserBytes,
// using the same msgpack encoding raft.EncodeSnapshot gives the wire codec.
type kvStateMachine struct {
	mu    sync.RWMutex
	state map[string][]byte
}

func newKVStateMachine() *kvStateMachine {
	return &kvStateMachine{state: map[string][]byte{}}
}

func (m *kvStateMachine) apply(entry raft.LogEntry) {
	if entry.Kind != raft.EntryCommand {
		return
	}
	cmd := decodeCommand(entry.Bytes)
	m.mu.Lock()
	defer m.mu.Unlock()
	switch cmd.Kind {
	case cmdSet:
		m.state[cmd.Key] = cmd.Value
	case cmdUnset:
		delete(m.state, cmd.Key)
	}
}

func (m *kvStateMachine) value(key string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.state[key]
	return v, ok
}

func (m *kvStateMachine) snapshotBytes() []byte {
	m.mu.RLock()
	stateCopy := make(map[string][]byte, len(m.state))
	for k, v := range m.state {
		stateCopy[k] = append([]byte(nil), v...)
	}
	m.mu.RUnlock()

	b, err := raft.EncodeSnapshot(stateCopy)
	if err != nil {
		panic(err)
	}
	return b
}

func (m *kvStateMachine) restore(b []byte) {
	var loaded map[string][]byte
	if err := raft.DecodeSnapshot(b, &loaded); err != nil {
		panic(err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = loaded
}
