package raft

import "golang.org/x/sync/semaphore"

// appenderState tracks one follower's replication progress (spec §4.6)
// and the bounded in-flight window a leader enforces per follower (spec
// §5 Backpressure), implemented with a real weighted semaphore rather
// than a hand-rolled counter.
type appenderState struct {
	nextIndex   LogIndex
	matchIndex  LogIndex
	sem         *semaphore.Weighted
	outstanding int64
}

type pendingRead struct {
	round  int64
	index  LogIndex
	acked  NodeSet
	respCh chan commandResult
}

// leaderState implements spec §4.6: on entry it appends a Noop so that
// entries from earlier terms become committable once the Noop itself
// commits, then drives replication to every voter, advances the commit
// index under the "own term, quorum of match_index" rule, and steers a
// membership change through CatchUp -> Joint -> Stable as followers catch
// up and each phase's config entry commits.
type leaderState struct {
	appenders    map[NodeId]*appenderState
	pendingReads []*pendingRead
	seqCounter   int64
}

func newLeaderState() *leaderState {
	return &leaderState{appenders: make(map[NodeId]*appenderState)}
}

func (s *leaderState) Role() Role { return RoleLeader }

func (s *leaderState) enter(n *Node) {
	n.leaderHint = n.id
	n.configInFlight = n.history.ActiveConfig().State != ConfigStable

	for peer := range n.history.ActiveConfig().Voters() {
		if peer != n.id {
			s.ensureAppender(n, peer)
		}
	}

	entry := NoopEntry(n.currentTerm())
	suffix := LogSuffix{Head: n.history.AppendedTail(), Entries: []LogEntry{entry}}
	if err := n.storage.SaveLogSuffix(bgCtx(), suffix); err != nil {
		n.fail(&StorageError{Cause: err})
		return
	}
	must1(n.history.Append(suffix))

	s.pipelineAll(n)
	s.tryAdvanceCommit(n)
	armHeartbeatTimer(n)
}

func (s *leaderState) ensureAppender(n *Node, peer NodeId) *appenderState {
	if as, ok := s.appenders[peer]; ok {
		return as
	}
	as := &appenderState{
		nextIndex: n.history.AppendedTail().Index + 1,
		sem:       semaphore.NewWeighted(n.opts.appendWindow),
	}
	s.appenders[peer] = as
	return as
}

func (s *leaderState) dropAppendersNotIn(voters NodeSet) {
	for peer := range s.appenders {
		if !voters.Contains(peer) {
			delete(s.appenders, peer)
		}
	}
}

func (s *leaderState) onMessage(n *Node, from NodeId, msg Message) roleState {
	switch msg.Kind {
	case MsgRequestVote:
		// Another candidate in our own term; we already hold it.
		n.send(from, Message{Kind: MsgRequestVoteReply, RequestVoteReply: &RequestVoteReply{Granted: false}})
	case MsgAppendEntriesReply:
		s.handleAppendEntriesReply(n, from, msg.AppendEntriesReply)
	case MsgInstallSnapshotReply:
		s.handleInstallSnapshotReply(n, from, msg.InstallSnapshotReply)
	default:
		// AppendEntries/InstallSnapshot addressed to us at our own term
		// means another leader thinks it holds this term too, which
		// cannot happen under the election-safety invariant; ignore.
	}
	return nil
}

func (s *leaderState) onTimeout(n *Node) roleState {
	s.pipelineAll(n)
	armHeartbeatTimer(n)
	return nil
}

// pipelineAll sends every appender whatever it is owed: a batch of new
// entries if the follower is behind, or a bare heartbeat otherwise. Called
// both on the heartbeat tick and right after any local log mutation so
// replication does not wait for the next tick to start.
func (s *leaderState) pipelineAll(n *Node) {
	for peer, as := range s.appenders {
		s.dispatch(n, peer, as)
	}
}

func (s *leaderState) dispatch(n *Node, peer NodeId, as *appenderState) {
	if !as.sem.TryAcquire(1) {
		s.sendBareHeartbeat(n, peer)
		return
	}
	as.outstanding++
	s.seqCounter++
	seq := s.seqCounter

	suffix, ok := n.history.Suffix(as.nextIndex - 1)
	if !ok {
		as.sem.Release(1)
		as.outstanding--
		s.sendSnapshot(n, peer)
		return
	}
	entries := suffix.Entries
	if max := n.opts.maxEntriesPerAppend; max > 0 && len(entries) > max {
		entries = entries[:max]
	}
	n.send(peer, Message{Kind: MsgAppendEntries, AppendEntries: &AppendEntries{
		Prev:        suffix.Head,
		Entries:     entries,
		CommitIndex: n.history.CommittedTail().Index,
		Seq:         seq,
	}})
}

func (s *leaderState) sendBareHeartbeat(n *Node, peer NodeId) {
	s.seqCounter++
	n.send(peer, Message{Kind: MsgAppendEntries, AppendEntries: &AppendEntries{
		Prev:        n.history.AppendedTail(),
		CommitIndex: n.history.CommittedTail().Index,
		Seq:         s.seqCounter,
	}})
}

func (s *leaderState) sendSnapshot(n *Node, peer NodeId) {
	prefix, err := n.storage.LoadLogPrefix(bgCtx())
	if err != nil {
		n.fail(&StorageError{Cause: err})
		return
	}
	if prefix == nil {
		p := LogPrefix{Tail: n.history.SnapshotBoundary(), Config: n.history.ActiveConfig()}
		prefix = &p
	}
	n.send(peer, Message{Kind: MsgInstallSnapshot, InstallSnapshot: &InstallSnapshot{
		PrefixTail: prefix.Tail,
		Config:     prefix.Config,
		ChunkIndex: 0,
		ChunkTotal: 1,
		Bytes:      prefix.UserBytes,
	}})
}

func (s *leaderState) handleAppendEntriesReply(n *Node, from NodeId, reply *AppendEntriesReply) {
	as, ok := s.appenders[from]
	if !ok {
		return
	}
	if as.outstanding > 0 {
		as.outstanding--
		as.sem.Release(1)
	}
	s.ackReadIndex(reply.Seq, from)
	s.checkPendingReads(n)

	switch reply.Result {
	case AppendSuccess:
		as.matchIndex = maxIndex(as.matchIndex, reply.MatchIndex)
		as.nextIndex = as.matchIndex + 1
		s.tryAdvanceCommit(n)
		// A new member can finish catching up after the last commit
		// advance, so the CatchUp check cannot wait for the next commit.
		s.advanceConfigPhaseIfReady(n)
		if as.matchIndex < n.history.AppendedTail().Index {
			s.dispatch(n, from, as)
		}
	case AppendInconsistent:
		backoff := reply.HintIndex + 1
		if as.nextIndex > 1 && backoff >= as.nextIndex {
			backoff = as.nextIndex - 1
		}
		if backoff < 1 {
			backoff = 1
		}
		as.nextIndex = backoff
		s.dispatch(n, from, as)
	case AppendBusy:
		// Follower asked us to back off; the next heartbeat tick will
		// retry without forcing another batch now.
	}
}

func (s *leaderState) handleInstallSnapshotReply(n *Node, from NodeId, reply *InstallSnapshotReply) {
	as, ok := s.appenders[from]
	if !ok {
		return
	}
	if as.outstanding > 0 {
		as.outstanding--
		as.sem.Release(1)
	}
	if !reply.Accepted {
		return
	}
	as.matchIndex = n.history.SnapshotBoundary().Index
	as.nextIndex = as.matchIndex + 1
	s.tryAdvanceCommit(n)
	s.dispatch(n, from, as)
}

// tryAdvanceCommit implements the safe commit rule (spec §4.6, mirroring
// Raft's Figure 8 restriction): the highest index committed directly must
// carry the leader's current term; anything below it commits
// transitively in the same call since Commit sets the tail, not just
// bumps it by one.
func (s *leaderState) tryAdvanceCommit(n *Node) {
	last := n.history.AppendedTail().Index
	cur := n.history.CommittedTail().Index
	cfg := n.history.ActiveConfig()
	for idx := last; idx > cur; idx-- {
		term, ok := n.history.termAt(idx)
		if !ok || term != n.currentTerm() {
			continue
		}
		acked := NewNodeSet(n.id)
		for peer, as := range s.appenders {
			if as.matchIndex >= idx {
				acked[peer] = struct{}{}
			}
		}
		if cfg.QuorumSatisfied(acked) {
			must1(n.history.Commit(idx))
			n.deliverCommitted()
			s.advanceConfigPhaseIfReady(n)
			return
		}
	}
}

// advanceConfigPhaseIfReady drives CatchUp -> Joint once every new-only
// voter has matched the commit index, and Joint -> Stable once the Joint
// config entry itself has committed (spec §4.1). Each transition is
// itself a new config log entry, never an in-place mutation of the
// active one.
func (s *leaderState) advanceConfigPhaseIfReady(n *Node) {
	cfg := n.history.ActiveConfig()
	switch cfg.State {
	case ConfigCatchUp:
		commit := n.history.CommittedTail().Index
		for id := range cfg.New {
			if cfg.Old.Contains(id) {
				continue
			}
			as, ok := s.appenders[id]
			if !ok || as.matchIndex < commit {
				return
			}
		}
		if err := s.appendConfigTransition(n, cfg.AdvanceState()); err != nil {
			return
		}
	case ConfigJoint:
		jointHead := n.history.ActiveConfigHead()
		if n.history.CommittedTail().Index < jointHead.Index {
			return
		}
		next := cfg.AdvanceState()
		if err := s.appendConfigTransition(n, next); err != nil {
			return
		}
		s.dropAppendersNotIn(next.Voters())
		n.configInFlight = false
	}
}

func (s *leaderState) appendConfigTransition(n *Node, next ClusterConfig) error {
	entry := ConfigEntry(n.currentTerm(), next)
	suffix := LogSuffix{Head: n.history.AppendedTail(), Entries: []LogEntry{entry}}
	if err := n.storage.SaveLogSuffix(bgCtx(), suffix); err != nil {
		storageErr := &StorageError{Cause: err}
		n.fail(storageErr)
		return storageErr
	}
	must1(n.history.Append(suffix))
	for peer := range next.Voters() {
		if peer != n.id {
			s.ensureAppender(n, peer)
		}
	}
	n.emit(Event{Kind: EventConfigChanged, NewConfig: next})
	s.pipelineAll(n)
	return nil
}

// proposeCommand appends bytes as a Command entry and kicks off
// replication immediately rather than waiting for the next heartbeat.
func (s *leaderState) proposeCommand(n *Node, bytes []byte) (LogIndex, error) {
	entry := CommandEntry(n.currentTerm(), bytes)
	suffix := LogSuffix{Head: n.history.AppendedTail(), Entries: []LogEntry{entry}}
	if err := n.storage.SaveLogSuffix(bgCtx(), suffix); err != nil {
		storageErr := &StorageError{Cause: err}
		n.fail(storageErr)
		return 0, storageErr
	}
	must1(n.history.Append(suffix))
	index := n.history.AppendedTail().Index
	s.pipelineAll(n)
	s.tryAdvanceCommit(n)
	return index, nil
}

// startReconfig begins a membership change, gated to one at a time by
// Node.configInFlight.
func (s *leaderState) startReconfig(n *Node, newMembers NodeSet) (LogIndex, error) {
	cfg := n.history.ActiveConfig()
	if cfg.State != ConfigStable {
		return 0, ErrConfigChangeInProgress
	}
	next := cfg.StartReconfig(newMembers)
	n.configInFlight = true
	if err := s.appendConfigTransition(n, next); err != nil {
		return 0, err
	}
	return n.history.AppendedTail().Index, nil
}

// requestReadIndex implements the linearizable-read primitive from spec
// §9: it records the current commit index, then waits for a quorum of
// followers to acknowledge a heartbeat sent at or after this call. That
// acknowledgment is what proves no other leader could have been elected
// behind this one's back since the call was made.
func (s *leaderState) requestReadIndex(n *Node, respCh chan commandResult) {
	s.seqCounter++
	round := s.seqCounter
	read := &pendingRead{round: round, index: n.history.CommittedTail().Index, acked: NewNodeSet(n.id), respCh: respCh}
	s.pendingReads = append(s.pendingReads, read)
	for peer := range s.appenders {
		n.send(peer, Message{Kind: MsgAppendEntries, AppendEntries: &AppendEntries{
			Prev:        n.history.AppendedTail(),
			CommitIndex: n.history.CommittedTail().Index,
			Seq:         round,
		}})
	}
	s.checkPendingReads(n)
}

func (s *leaderState) ackReadIndex(seq int64, from NodeId) {
	for _, read := range s.pendingReads {
		if seq >= read.round {
			read.acked[from] = struct{}{}
		}
	}
}

func (s *leaderState) checkPendingReads(n *Node) {
	cfg := n.history.ActiveConfig()
	remaining := s.pendingReads[:0]
	for _, read := range s.pendingReads {
		if cfg.QuorumSatisfied(read.acked) {
			read.respCh <- commandResult{index: read.index}
		} else {
			remaining = append(remaining, read)
		}
	}
	s.pendingReads = remaining
}
