package raft

// candidateState implements spec §4.5: on entry it increments the term,
// votes for itself, and solicits every peer; it becomes Leader once a
// quorum of grants arrives under the active configuration, reverts to
// Follower on any higher-term message (handled upstream by
// Node.handleInbound before onMessage even runs), and restarts an
// election with a fresh randomized timeout if none of that happens before
// onTimeout fires again.
type candidateState struct {
	votes NodeSet
}

func newCandidateState() *candidateState {
	return &candidateState{votes: NodeSet{}}
}

func (s *candidateState) Role() Role { return RoleCandidate }

func (s *candidateState) enter(n *Node) {
	n.ballot = Ballot{Term: n.ballot.Term + 1, Voted: true, VotedFor: n.id}
	if err := n.storage.SaveBallot(bgCtx(), n.ballot); err != nil {
		n.fail(&StorageError{Cause: err})
		return
	}
	n.emit(Event{Kind: EventTermChanged, NewTerm: n.ballot.Term})
	s.votes = NewNodeSet(n.id)
	n.leaderHint = ""

	last := n.history.LastLogPosition()
	voters := n.history.ActiveConfig().Voters()
	for peer := range voters {
		if peer == n.id {
			continue
		}
		n.send(peer, Message{Kind: MsgRequestVote, RequestVote: &RequestVote{LastLogPosition: last}})
	}
	armElectionTimer(n)

	if n.history.ActiveConfig().QuorumSatisfied(s.votes) {
		// Single-node (or single-voter) cluster: the self-vote above is
		// already a quorum, so become leader without waiting for a reply.
		n.transition(newLeaderState())
	}
}

func (s *candidateState) onMessage(n *Node, from NodeId, msg Message) roleState {
	if msg.Kind != MsgRequestVoteReply {
		if msg.Kind == MsgRequestVote {
			// A peer that also started an election at the same term; we
			// already voted for ourselves this term, so decline.
			n.send(from, Message{Kind: MsgRequestVoteReply, RequestVoteReply: &RequestVoteReply{Granted: false}})
		}
		return nil
	}
	if msg.RequestVoteReply.Granted {
		s.votes[from] = struct{}{}
	}
	if n.history.ActiveConfig().QuorumSatisfied(s.votes) {
		return newLeaderState()
	}
	return nil
}

func (s *candidateState) onTimeout(n *Node) roleState {
	n.logger.Info("election timed out with no quorum, restarting election", n.logFields()...)
	return newCandidateState()
}
