package raft

import (
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// currentTerm, role, and the other small accessors below exist so that
// role sub-state machines and the driver loop read through one name
// regardless of which field actually backs it — the same indirection the
// teacher's serverState/commitState embeds give Server.

func (n *Node) currentTerm() Term { return n.ballot.Term }

func (n *Node) role_() Role { return n.role.Role() }

// roleKind returns the current role's discriminant, the same value
// Status() publishes as NodeStatus.Role.
func (n *Node) roleKind() Role { return n.role.Role() }

// adoptTerm implements spec §4.3's contract: any message with a higher
// term forces current_term := msg.term, voted_for := none, and a
// transition to Follower (a fresh followerState; Init is folded into
// Node.restore), with the ballot flushed before any reply is sent. Returns
// true if the term advanced and the ballot was saved (i.e. the caller must
// re-check whether it is still safe to apply whatever triggered this); a
// failed save returns false after recording the error via n.fail.
func (n *Node) adoptTerm(term Term) bool {
	if term <= n.ballot.Term {
		return false
	}
	n.logger.Info("adopting higher term", n.logFields(zap.Uint64("new_term", uint64(term)))...)
	n.ballot = Ballot{Term: term}
	if err := n.storage.SaveBallot(bgCtx(), n.ballot); err != nil {
		n.fail(&StorageError{Cause: err})
		return false
	}
	n.leaderHint = ""
	n.emit(Event{Kind: EventTermChanged, NewTerm: term})
	if n.role.Role() != RoleFollower {
		n.transition(newFollowerState())
	}
	return true
}

// tryVote persists a grant for candidate in the current term and returns
// whether the grant was made. It enforces "voted_for is set at most once
// per term" (spec §3's Ballot invariant).
func (n *Node) tryVote(candidate NodeId) bool {
	if n.ballot.Voted && n.ballot.VotedFor != candidate {
		return false
	}
	if n.ballot.Voted && n.ballot.VotedFor == candidate {
		return true
	}
	n.ballot.Voted = true
	n.ballot.VotedFor = candidate
	if err := n.storage.SaveBallot(bgCtx(), n.ballot); err != nil {
		n.fail(&StorageError{Cause: err})
		return false
	}
	return true
}

// isLogUpToDate implements RequestVote's up-to-date check (spec §4.4):
// granted iff the candidate's log has a higher last term, or an equal
// last term with index >= the local last index.
func (n *Node) isLogUpToDate(candidateLast LogPosition) bool {
	local := n.history.LastLogPosition()
	if candidateLast.PrevTerm != local.PrevTerm {
		return candidateLast.PrevTerm > local.PrevTerm
	}
	return candidateLast.Index >= local.Index
}

func (n *Node) transition(next roleState) {
	n.logger.Info("role transition", n.logFields(zap.String("from", n.role.Role().String()), zap.String("to", next.Role().String()))...)
	n.role = next
	n.emit(Event{Kind: EventRoleChanged, NewRole: next.Role()})
	n.role.enter(n)
}

func (n *Node) emit(ev Event) {
	select {
	case n.events <- ev:
	default:
		// The upstream consumer is slow; spec §5 says replication must
		// not block on it. Drop the oldest pending event to make room
		// rather than block the driver loop forever.
		select {
		case <-n.events:
		default:
		}
		select {
		case n.events <- ev:
		default:
		}
	}
}

func (n *Node) send(dst NodeId, msg Message) {
	msg.ID = uuid.NewString()
	msg.Sender = n.id
	msg.Term = n.ballot.Term
	n.transport.Send(dst, msg)
}
