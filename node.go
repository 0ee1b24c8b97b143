package raft

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"
)

type commandKind int

const (
	cmdPropose commandKind = iota
	cmdProposeConfig
	cmdInstallSnapshot
	cmdTakeSnapshotSuggestion
	cmdReadIndex
)

type command struct {
	kind       commandKind
	bytes      []byte
	newMembers NodeSet
	prefix     LogPrefix
	respCh     chan commandResult
}

type commandResult struct {
	index    LogIndex
	position LogPosition
	err      error
}

// NodeStatus is a point-in-time introspection snapshot, generalized from
// the teacher's ServerStates.
type NodeStatus struct {
	Id            NodeId
	Role          Role
	Leader        NodeId
	CurrentTerm   Term
	LastLogIndex  LogIndex
	CommitIndex   LogIndex
	ConsumedIndex LogIndex
	Config        ClusterConfig
}

// Node is the public handle for one replica's Raft state machine. It owns
// a single goroutine (Run) that is the sole mutator of all replication
// state; every other method communicates with that goroutine over
// channels, matching spec §5's "no intra-node lock" concurrency model,
// except Status, which reads a copy the loop publishes under statusMu.
type Node struct {
	id      NodeId
	opts    *nodeOptions
	logger  *zap.Logger
	storage   Storage
	transport Transport

	history *LogHistory
	ballot  Ballot

	role       roleState
	leaderHint NodeId

	configInFlight bool

	timer *time.Timer
	rng   *rand.Rand

	commandCh chan command
	events    chan Event
	doneCh    chan struct{}
	stopOnce  sync.Once
	fatalErr  error

	statusMu sync.RWMutex
	status   NodeStatus
}

// NewNode constructs a node in the Follower.Init sub-state. It does not
// start the event loop; call Run (typically in its own goroutine) to do
// that.
func NewNode(id NodeId, storage Storage, transport Transport, bootstrapConfig ClusterConfig, opts ...Option) *Node {
	o := applyOptions(opts...)
	if o.logger == nil {
		o.logger = defaultLogger(o.logLevel)
	}
	n := &Node{
		id:      id,
		opts:    o,
		logger:  o.logger.With(zap.String("node_id", string(id))),
		storage:   storage,
		transport: transport,
		history:   NewLogHistory(bootstrapConfig),
		timer:   time.NewTimer(time.Hour),
		rng:     rand.New(rand.NewSource(time.Now().UnixNano() ^ int64(hashNodeId(id)))),

		commandCh: make(chan command, 32),
		events:    make(chan Event, 256),
		doneCh:    make(chan struct{}),
	}
	if !n.timer.Stop() {
		<-n.timer.C
	}
	n.role = newFollowerInitState()
	return n
}

func hashNodeId(id NodeId) uint32 {
	var h uint32 = 2166136261
	for i := 0; i < len(id); i++ {
		h ^= uint32(id[i])
		h *= 16777619
	}
	return h
}

// Events returns the channel of upstream Event notifications. The caller
// must keep draining it; a full channel causes the oldest pending event
// to be dropped rather than stalling replication (spec §5 Backpressure).
// The channel is closed once Run returns.
func (n *Node) Events() <-chan Event { return n.events }

func (n *Node) resetTimer(d time.Duration) {
	if !n.timer.Stop() {
		select {
		case <-n.timer.C:
		default:
		}
	}
	n.timer.Reset(d)
}

// Run executes the single-threaded event loop until Shutdown is called or
// Storage fails fatally. It loads persisted state from Storage before
// entering the loop (Follower.Init, spec §4.4).
func (n *Node) Run(ctx context.Context) error {
	defer close(n.events)
	if err := n.restore(ctx); err != nil {
		n.emit(Event{Kind: EventTerminal, Err: err})
		return err
	}
	n.role = newFollowerState()
	n.role.enter(n)

	for {
		select {
		case in := <-n.transport.Inbox():
			n.handleInbound(in)
		case <-n.timer.C:
			if next := n.role.onTimeout(n); next != nil {
				n.transition(next)
			}
		case cmd := <-n.commandCh:
			n.handleCommand(cmd)
		case <-ctx.Done():
			n.emit(Event{Kind: EventTerminal, Err: ctx.Err()})
			return ctx.Err()
		case <-n.doneCh:
			return nil
		}
		if n.fatalErr != nil {
			n.emit(Event{Kind: EventTerminal, Err: n.fatalErr})
			return n.fatalErr
		}
		n.refreshStatus()
	}
}

// fail records a fatal Storage error. The event loop notices it once the
// message or timeout currently being handled finishes, emits the
// documented terminal event, and returns from Run (spec §7: "Storage(cause)
// ... fatal to the node; the driver emits a terminal event and stops").
// Only the first error is kept; later ones during the same shutdown are
// dropped since the node is already on its way out.
func (n *Node) fail(err error) {
	if n.fatalErr == nil {
		n.fatalErr = err
	}
}

// restore loads ballot, log prefix, and log suffix from Storage, exactly
// as Follower.Init is specified to do (spec §4.4): it emits no messages,
// and a fresh node's Storage must answer with the contract spelled out in
// spec §6 (nil ballot, empty suffix at the zero position, nil prefix).
func (n *Node) restore(ctx context.Context) error {
	ballot, err := n.storage.LoadBallot(ctx)
	if err != nil {
		return &StorageError{Cause: err}
	}
	if ballot != nil {
		n.ballot = *ballot
	}
	prefix, err := n.storage.LoadLogPrefix(ctx)
	if err != nil {
		return &StorageError{Cause: err}
	}
	suffix, err := n.storage.LoadLog(ctx, 0, nil)
	if err != nil {
		return &StorageError{Cause: err}
	}
	initialConfig := n.history.ActiveConfig()
	history, err := RestoreFromStorage(prefix, suffix, initialConfig)
	if err != nil {
		return &StorageError{Cause: err}
	}
	n.history = history
	return nil
}

// Shutdown stops the event loop. It is safe to call more than once and
// from any goroutine.
func (n *Node) Shutdown() {
	n.stopOnce.Do(func() { close(n.doneCh) })
}

// Status returns a point-in-time snapshot safe to call from any goroutine.
func (n *Node) Status() NodeStatus {
	n.statusMu.RLock()
	defer n.statusMu.RUnlock()
	return n.status
}

func (n *Node) refreshStatus() {
	n.statusMu.Lock()
	defer n.statusMu.Unlock()
	n.status = NodeStatus{
		Id:            n.id,
		Role:          n.role.Role(),
		Leader:        n.leaderHint,
		CurrentTerm:   n.ballot.Term,
		LastLogIndex:  n.history.AppendedTail().Index,
		CommitIndex:   n.history.CommittedTail().Index,
		ConsumedIndex: n.history.ConsumedTail().Index,
		Config:        n.history.ActiveConfig(),
	}
}

// handleInbound implements the shared term contract of spec §4.3 before
// delegating anything role-specific: a higher term forces adoption and a
// step-down to Follower; a lower term gets a current-term reply (for
// requests) or is silently dropped (for replies).
func (n *Node) handleInbound(in InboundMessage) {
	msg := in.Message
	if msg.Term > n.ballot.Term {
		n.adoptTerm(msg.Term)
	} else if msg.Term < n.ballot.Term {
		n.replyStale(in.From, msg)
		return
	}
	if next := n.role.onMessage(n, in.From, msg); next != nil {
		n.transition(next)
	}
}

func (n *Node) replyStale(from NodeId, msg Message) {
	switch msg.Kind {
	case MsgRequestVote:
		n.send(from, Message{Kind: MsgRequestVoteReply, RequestVoteReply: &RequestVoteReply{Granted: false}})
	case MsgAppendEntries:
		n.send(from, Message{Kind: MsgAppendEntriesReply, AppendEntriesReply: &AppendEntriesReply{
			Result: AppendInconsistent, HintIndex: n.history.AppendedTail().Index,
		}})
	case MsgInstallSnapshot:
		n.send(from, Message{Kind: MsgInstallSnapshotReply, InstallSnapshotReply: &InstallSnapshotReply{Accepted: false}})
	default:
		// Reply-kind messages carrying a stale term are dropped, not
		// answered (spec §4.3).
	}
}

func (n *Node) handleCommand(cmd command) {
	switch cmd.kind {
	case cmdPropose:
		n.handlePropose(cmd)
	case cmdProposeConfig:
		n.handleProposeConfig(cmd)
	case cmdInstallSnapshot:
		n.handleInstallSnapshotCommand(cmd)
	case cmdTakeSnapshotSuggestion:
		cmd.respCh <- commandResult{index: n.history.ConsumedTail().Index, position: n.history.ConsumedTail()}
	case cmdReadIndex:
		n.handleReadIndex(cmd)
	}
}

func (n *Node) handlePropose(cmd command) {
	leader, ok := n.role.(*leaderState)
	if !ok {
		cmd.respCh <- commandResult{err: &NotLeaderError{Hint: n.leaderHint}}
		return
	}
	index, err := leader.proposeCommand(n, cmd.bytes)
	cmd.respCh <- commandResult{index: index, err: err}
}

func (n *Node) handleProposeConfig(cmd command) {
	leader, ok := n.role.(*leaderState)
	if !ok {
		cmd.respCh <- commandResult{err: &NotLeaderError{Hint: n.leaderHint}}
		return
	}
	if n.configInFlight {
		cmd.respCh <- commandResult{err: ErrConfigChangeInProgress}
		return
	}
	index, err := leader.startReconfig(n, cmd.newMembers)
	cmd.respCh <- commandResult{index: index, err: err}
}

func (n *Node) handleInstallSnapshotCommand(cmd command) {
	if err := n.history.InstallSnapshot(cmd.prefix); err != nil {
		cmd.respCh <- commandResult{err: err}
		return
	}
	if err := n.storage.SaveLogPrefix(bgCtx(), cmd.prefix); err != nil {
		storageErr := &StorageError{Cause: err}
		n.fail(storageErr)
		cmd.respCh <- commandResult{err: storageErr}
		return
	}
	n.emit(Event{Kind: EventSnapshotInstalled, InstalledPrefix: cmd.prefix})
	cmd.respCh <- commandResult{index: cmd.prefix.Tail.Index}
}

func (n *Node) handleReadIndex(cmd command) {
	leader, ok := n.role.(*leaderState)
	if !ok {
		cmd.respCh <- commandResult{err: &NotLeaderError{Hint: n.leaderHint}}
		return
	}
	leader.requestReadIndex(n, cmd.respCh)
}

// Propose appends bytes as a Command entry if this node is currently
// leader. It fails immediately with NotLeaderError otherwise; the caller
// is responsible for redirecting to Hint (spec §4.7).
func (n *Node) Propose(ctx context.Context, bytes []byte) (LogIndex, error) {
	return n.submit(ctx, command{kind: cmdPropose, bytes: bytes})
}

// ProposeConfig begins a joint-consensus membership change to newMembers.
// Fails with ErrConfigChangeInProgress if another change is already in
// flight (spec §4.6).
func (n *Node) ProposeConfig(ctx context.Context, newMembers NodeSet) (LogIndex, error) {
	return n.submit(ctx, command{kind: cmdProposeConfig, newMembers: newMembers})
}

// InstallSnapshot tells the node that the upper state machine has
// compacted its own state up through prefix.Tail and the node should
// adopt prefix as its new snapshot boundary.
func (n *Node) InstallSnapshot(ctx context.Context, prefix LogPrefix) error {
	_, err := n.submit(ctx, command{kind: cmdInstallSnapshot, prefix: prefix})
	return err
}

// TakeSnapshotSuggestion returns the position of the highest entry already
// delivered to the upper state machine — a safe upper bound for the next
// snapshot's Tail, per spec §4.7.
func (n *Node) TakeSnapshotSuggestion(ctx context.Context) (LogPosition, error) {
	cmd := command{kind: cmdTakeSnapshotSuggestion, respCh: make(chan commandResult, 1)}
	select {
	case n.commandCh <- cmd:
	case <-ctx.Done():
		return ZeroLogPosition, ctx.Err()
	case <-n.doneCh:
		return ZeroLogPosition, &StorageError{Cause: context.Canceled}
	}
	select {
	case res := <-cmd.respCh:
		return res.position, res.err
	case <-ctx.Done():
		return ZeroLogPosition, ctx.Err()
	}
}

// ReadIndex implements spec §9's recommended strong-read primitive: it
// completes only once a quorum of nodes has acknowledged a heartbeat sent
// after this call, at which point the returned index is safe to read
// against (no stale leader can have silently answered behind a partition).
func (n *Node) ReadIndex(ctx context.Context) (LogIndex, error) {
	return n.submit(ctx, command{kind: cmdReadIndex})
}

func (n *Node) submit(ctx context.Context, cmd command) (LogIndex, error) {
	cmd.respCh = make(chan commandResult, 1)
	select {
	case n.commandCh <- cmd:
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-n.doneCh:
		return 0, &StorageError{Cause: context.Canceled}
	}
	select {
	case res := <-cmd.respCh:
		return res.index, res.err
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}
