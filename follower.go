package raft

// followerState implements spec §4.4's Follower: it answers RequestVote
// and AppendEntries, tracks the current leader hint, and converts a silent
// election timeout into a Candidate transition. "Init" is folded into
// Node.restore, which runs once before the first role is entered, so
// there is only one follower roleState rather than a separate Init/Idle
// pair.
type followerState struct{}

func newFollowerState() *followerState { return &followerState{} }

// newFollowerInitState exists only to give NewNode a placeholder role
// before Run has loaded Storage; Run immediately replaces it with
// newFollowerState once restore succeeds.
func newFollowerInitState() *followerState { return &followerState{} }

func (s *followerState) Role() Role { return RoleFollower }

func (s *followerState) enter(n *Node) {
	armElectionTimer(n)
}

func (s *followerState) onMessage(n *Node, from NodeId, msg Message) roleState {
	switch msg.Kind {
	case MsgRequestVote:
		s.handleRequestVote(n, from, msg.RequestVote)
	case MsgAppendEntries:
		s.handleAppendEntries(n, from, msg.AppendEntries)
	case MsgInstallSnapshot:
		s.handleInstallSnapshot(n, from, msg.InstallSnapshot)
	default:
		// Replies addressed to a follower (e.g. a stray AppendEntriesReply
		// from before a step-down) carry no actionable information.
	}
	return nil
}

func (s *followerState) onTimeout(n *Node) roleState {
	n.logger.Info("election timeout, becoming candidate", n.logFields()...)
	return newCandidateState()
}

func (s *followerState) handleRequestVote(n *Node, from NodeId, rv *RequestVote) {
	granted := n.isLogUpToDate(rv.LastLogPosition) && n.tryVote(from)
	if granted {
		armElectionTimer(n)
	}
	n.send(from, Message{Kind: MsgRequestVoteReply, RequestVoteReply: &RequestVoteReply{Granted: granted}})
}

func (s *followerState) handleAppendEntries(n *Node, from NodeId, ae *AppendEntries) {
	n.leaderHint = from
	armElectionTimer(n)

	local := n.history.AppendedTail()
	if ae.Prev.Index > local.Index {
		n.send(from, Message{Kind: MsgAppendEntriesReply, AppendEntriesReply: &AppendEntriesReply{
			Result: AppendInconsistent, HintIndex: local.Index, Seq: ae.Seq,
		}})
		return
	}
	if ae.Prev.Index < n.history.SnapshotBoundary().Index {
		// The leader's idea of prev predates our compaction boundary; it
		// must fall back to InstallSnapshot instead.
		n.send(from, Message{Kind: MsgAppendEntriesReply, AppendEntriesReply: &AppendEntriesReply{
			Result: AppendInconsistent, HintIndex: n.history.SnapshotBoundary().Index, Seq: ae.Seq,
		}})
		return
	}
	if pos := n.history.positionAt(ae.Prev.Index); pos.PrevTerm != ae.Prev.PrevTerm {
		n.send(from, Message{Kind: MsgAppendEntriesReply, AppendEntriesReply: &AppendEntriesReply{
			Result: AppendInconsistent, HintIndex: n.history.CommittedTail().Index, Seq: ae.Seq,
		}})
		return
	}

	suffix := LogSuffix{Head: ae.Prev, Entries: ae.Entries}
	if ae.Prev.Index < local.Index {
		if err := n.history.Truncate(ae.Prev.Index + 1); err != nil {
			n.send(from, Message{Kind: MsgAppendEntriesReply, AppendEntriesReply: &AppendEntriesReply{
				Result: AppendInconsistent, HintIndex: n.history.CommittedTail().Index, Seq: ae.Seq,
			}})
			return
		}
	}
	if err := n.storage.SaveLogSuffix(bgCtx(), suffix); err != nil {
		n.fail(&StorageError{Cause: err})
		return
	}
	must1(n.history.Append(suffix))

	if ae.CommitIndex > n.history.CommittedTail().Index {
		newCommit := minIndex(ae.CommitIndex, n.history.AppendedTail().Index)
		must1(n.history.Commit(newCommit))
		n.deliverCommitted()
	}

	n.send(from, Message{Kind: MsgAppendEntriesReply, AppendEntriesReply: &AppendEntriesReply{
		Result: AppendSuccess, MatchIndex: n.history.AppendedTail().Index, Seq: ae.Seq,
	}})
}

func (s *followerState) handleInstallSnapshot(n *Node, from NodeId, is *InstallSnapshot) {
	n.leaderHint = from
	armElectionTimer(n)

	if is.ChunkIndex != is.ChunkTotal-1 {
		// Chunk reassembly across an RPC boundary is a transport-layer
		// concern (spec §6 leaves chunking to Transport); a single-chunk
		// InstallSnapshot is what the in-process and grpc transports both
		// produce, so treat any non-final chunk as an invalid message.
		n.send(from, Message{Kind: MsgInstallSnapshotReply, InstallSnapshotReply: &InstallSnapshotReply{Accepted: false}})
		return
	}
	prefix := LogPrefix{Tail: is.PrefixTail, Config: is.Config, UserBytes: is.Bytes}
	if err := n.history.InstallSnapshot(prefix); err != nil {
		n.send(from, Message{Kind: MsgInstallSnapshotReply, InstallSnapshotReply: &InstallSnapshotReply{Accepted: false}})
		return
	}
	if err := n.storage.SaveLogPrefix(bgCtx(), prefix); err != nil {
		n.fail(&StorageError{Cause: err})
		return
	}
	n.emit(Event{Kind: EventSnapshotInstalled, InstalledPrefix: prefix})
	n.deliverCommitted()
	n.send(from, Message{Kind: MsgInstallSnapshotReply, InstallSnapshotReply: &InstallSnapshotReply{Accepted: true}})
}

// deliverCommitted drains every newly-committed entry to the upstream
// Events channel, in order, per spec §4.2's Consume contract.
func (n *Node) deliverCommitted() {
	for {
		entry, index, ok := n.history.Consume()
		if !ok {
			return
		}
		if entry.Kind == EntryConfig {
			n.emit(Event{Kind: EventConfigChanged, NewConfig: entry.Config})
		}
		n.emit(Event{Kind: EventCommitted, CommittedEntry: entry, CommittedIndex: index})
	}
}
