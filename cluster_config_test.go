package raft

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func nodes(ids ...string) NodeSet {
	n := make([]NodeId, len(ids))
	for i, id := range ids {
		n[i] = NodeId(id)
	}
	return NewNodeSet(n...)
}

func TestNodeSetQuorum(t *testing.T) {
	assert.Equal(t, 1, nodes("a").Quorum())
	assert.Equal(t, 2, nodes("a", "b", "c").Quorum())
	assert.Equal(t, 3, nodes("a", "b", "c", "d", "e").Quorum())
}

func TestNodeSetQuorumSatisfied(t *testing.T) {
	members := nodes("a", "b", "c")
	assert.False(t, members.QuorumSatisfied(nodes("a")))
	assert.True(t, members.QuorumSatisfied(nodes("a", "b")))
	assert.True(t, members.QuorumSatisfied(nodes("a", "b", "c")))
	// Votes outside the member set don't count.
	assert.False(t, members.QuorumSatisfied(nodes("x", "y")))
}

func TestStableConfigQuorumIsSimpleMajority(t *testing.T) {
	cfg := NewStableConfig("a", "b", "c")
	assert.Equal(t, ConfigStable, cfg.State)
	assert.True(t, cfg.QuorumSatisfied(nodes("a", "b")))
	assert.False(t, cfg.QuorumSatisfied(nodes("a")))
}

func TestReconfigLifecycle(t *testing.T) {
	cfg := NewStableConfig("a", "b", "c")

	reconfiguring := cfg.StartReconfig(nodes("a", "b", "d"))
	assert.Equal(t, ConfigCatchUp, reconfiguring.State)
	assert.Equal(t, nodes("a", "b", "c"), reconfiguring.Old)
	assert.Equal(t, nodes("a", "b", "d"), reconfiguring.New)
	// CatchUp: quorum still decided by Old alone (d is still catching
	// up and isn't counted until the phase advances to Joint).
	assert.True(t, reconfiguring.QuorumSatisfied(nodes("a", "b")))
	assert.False(t, reconfiguring.QuorumSatisfied(nodes("d")))

	joint := reconfiguring.AdvanceState()
	assert.Equal(t, ConfigJoint, joint.State)
	// Joint requires majorities of BOTH Old and New simultaneously.
	assert.True(t, joint.QuorumSatisfied(nodes("a", "b")))
	assert.False(t, joint.QuorumSatisfied(nodes("a", "c"))) // missing New majority (only a)
	assert.False(t, joint.QuorumSatisfied(nodes("d")))      // missing Old majority entirely

	stable := joint.AdvanceState()
	assert.Equal(t, ConfigStable, stable.State)
	assert.Equal(t, 0, stable.Old.Len())
	assert.Equal(t, nodes("a", "b", "d"), stable.New)
}

func TestAdvanceStateOnStableIsNoop(t *testing.T) {
	cfg := NewStableConfig("a", "b", "c")
	assert.Equal(t, cfg, cfg.AdvanceState())
}

func TestVotersIsUnionOfOldAndNew(t *testing.T) {
	cfg := ClusterConfig{Old: nodes("a", "b"), New: nodes("b", "c"), State: ConfigJoint}
	voters := cfg.Voters()
	assert.True(t, voters.Contains("a"))
	assert.True(t, voters.Contains("b"))
	assert.True(t, voters.Contains("c"))
	assert.Equal(t, 3, voters.Len())
}

func TestIsMemberAcrossBothSets(t *testing.T) {
	cfg := ClusterConfig{Old: nodes("a"), New: nodes("b"), State: ConfigJoint}
	assert.True(t, cfg.IsMember("a"))
	assert.True(t, cfg.IsMember("b"))
	assert.False(t, cfg.IsMember("c"))
}

// TestJointQuorumNeverSplitBrain checks the safety property a joint config
// exists to guarantee: for any membership change, two disjoint vote sets
// can never both satisfy quorum, preventing two leaders in the same term.
func TestJointQuorumNeverSplitBrain(t *testing.T) {
	oldIds := []string{"a", "b", "c", "d", "e"}
	newIds := []string{"f", "g", "h", "i", "j"}
	rapid.Check(t, func(rt *rapid.T) {
		oldCount := rapid.IntRange(1, len(oldIds)).Draw(rt, "old-count")
		newCount := rapid.IntRange(1, len(newIds)).Draw(rt, "new-count")
		old := nodes(oldIds[:oldCount]...)
		next := nodes(newIds[:newCount]...)
		cfg := ClusterConfig{Old: old, New: next, State: ConfigJoint}

		universe := append(append([]string{}, oldIds[:oldCount]...), newIds[:newCount]...)
		votesA := randSubset(rt, universe)
		votesB := randSubset(rt, universe)

		if cfg.QuorumSatisfied(nodes(votesA...)) && cfg.QuorumSatisfied(nodes(votesB...)) {
			// Both sides satisfying quorum must share at least one
			// voter in both Old and New, i.e. the two vote sets
			// cannot be disjoint within either half.
			assert.True(rt, intersects(votesA, votesB, oldIds[:oldCount]))
			assert.True(rt, intersects(votesA, votesB, newIds[:newCount]))
		}
	})
}

func randSubset(rt *rapid.T, universe []string) []string {
	var out []string
	for _, id := range universe {
		if rapid.Bool().Draw(rt, "include-"+id) {
			out = append(out, id)
		}
	}
	return out
}

func intersects(a, b, within []string) bool {
	inWithin := func(id string, set []string) bool {
		for _, w := range within {
			if w == id {
				for _, s := range set {
					if s == id {
						return true
					}
				}
			}
		}
		return false
	}
	for _, id := range within {
		if inWithin(id, a) && inWithin(id, b) {
			return true
		}
	}
	return false
}
