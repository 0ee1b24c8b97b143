package raft

import (
	"fmt"
	"sort"
	"strings"
)

// ConfigState is the joint-consensus phase a ClusterConfig is in.
type ConfigState int

const (
	// ConfigStable: only New is the active membership; Old is empty.
	ConfigStable ConfigState = iota
	// ConfigCatchUp: the leader is bringing New's extra members up to
	// date before counting them toward quorum. Quorum is still decided
	// by Old alone in this phase — CatchUp members do not yet vote.
	ConfigCatchUp
	// ConfigJoint: both Old and New majorities are required for quorum.
	ConfigJoint
)

func (s ConfigState) String() string {
	switch s {
	case ConfigStable:
		return "stable"
	case ConfigCatchUp:
		return "catchup"
	case ConfigJoint:
		return "joint"
	default:
		return "unknown"
	}
}

// NodeSet is an immutable-by-convention set of NodeIds.
type NodeSet map[NodeId]struct{}

func NewNodeSet(ids ...NodeId) NodeSet {
	s := make(NodeSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

func (s NodeSet) Contains(id NodeId) bool { _, ok := s[id]; return ok }

func (s NodeSet) Len() int { return len(s) }

// Quorum is the smallest majority of s: floor(len/2)+1.
func (s NodeSet) Quorum() int { return len(s)/2 + 1 }

func (s NodeSet) clone() NodeSet {
	out := make(NodeSet, len(s))
	for id := range s {
		out[id] = struct{}{}
	}
	return out
}

// QuorumSatisfied reports whether votes contains a majority of s.
func (s NodeSet) QuorumSatisfied(votes NodeSet) bool {
	count := 0
	for id := range s {
		if votes.Contains(id) {
			count++
		}
	}
	return count >= s.Quorum()
}

func (s NodeSet) sorted() []NodeId {
	out := make([]NodeId, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (s NodeSet) String() string {
	ids := s.sorted()
	strs := make([]string, len(ids))
	for i, id := range ids {
		strs[i] = string(id)
	}
	return "{" + strings.Join(strs, ",") + "}"
}

// ClusterConfig is the membership of the cluster, possibly mid
// reconfiguration. Under Joint, quorum requires a majority of Old AND a
// majority of New simultaneously — the safety-critical predicate that
// prevents split-brain during a membership change.
type ClusterConfig struct {
	Old   NodeSet
	New   NodeSet
	State ConfigState
}

// NewStableConfig builds a fresh, non-reconfiguring configuration.
func NewStableConfig(members ...NodeId) ClusterConfig {
	return ClusterConfig{Old: NodeSet{}, New: NewNodeSet(members...), State: ConfigStable}
}

func (c ClusterConfig) clone() ClusterConfig {
	return ClusterConfig{Old: c.Old.clone(), New: c.New.clone(), State: c.State}
}

func (c ClusterConfig) String() string {
	switch c.State {
	case ConfigStable:
		return fmt.Sprintf("Config{stable, members=%s}", c.New)
	default:
		return fmt.Sprintf("Config{%s, old=%s, new=%s}", c.State, c.Old, c.New)
	}
}

// Voters is the set of node ids whose RequestVote/AppendEntries traffic
// this config actually routes to — the union of Old and New. CatchUp
// members are reachable (the leader replicates to them) but do not count
// toward quorum until the phase advances to Joint.
func (c ClusterConfig) Voters() NodeSet {
	out := c.New.clone()
	for id := range c.Old {
		out[id] = struct{}{}
	}
	return out
}

// IsMember reports whether id is part of the cluster under any phase.
func (c ClusterConfig) IsMember(id NodeId) bool {
	return c.New.Contains(id) || c.Old.Contains(id)
}

// QuorumSatisfied implements spec §4.1's joint-consensus predicate:
// majority of New alone when Stable, majority of Old alone when
// CatchUp (the members New adds are still catching up and are not yet
// counted toward quorum), and majority of Old AND New when Joint.
func (c ClusterConfig) QuorumSatisfied(votes NodeSet) bool {
	switch c.State {
	case ConfigCatchUp:
		return c.Old.QuorumSatisfied(votes)
	case ConfigJoint:
		return c.Old.QuorumSatisfied(votes) && c.New.QuorumSatisfied(votes)
	default:
		return c.New.QuorumSatisfied(votes)
	}
}

// StartReconfig begins a membership change: Old becomes the current New,
// New becomes newMembers, and the phase moves to CatchUp. The caller
// (leader sub-state machine) is responsible for tracking when every member
// added by newMembers has caught up, at which point AdvanceState should be
// called to move CatchUp -> Joint.
func (c ClusterConfig) StartReconfig(newMembers NodeSet) ClusterConfig {
	return ClusterConfig{Old: c.New.clone(), New: newMembers.clone(), State: ConfigCatchUp}
}

// AdvanceState implements the CatchUp -> Joint -> Stable lifecycle
// described in spec §4.1. It is a pure state transform; the caller decides
// *when* to call it (on commit of the relevant config entry, or once every
// new member's match index has crossed the commit index).
func (c ClusterConfig) AdvanceState() ClusterConfig {
	switch c.State {
	case ConfigCatchUp:
		next := c.clone()
		next.State = ConfigJoint
		return next
	case ConfigJoint:
		// Joint -> Stable drops Old entirely; New becomes the sole
		// active membership.
		return ClusterConfig{Old: NodeSet{}, New: c.New.clone(), State: ConfigStable}
	default:
		return c.clone()
	}
}
