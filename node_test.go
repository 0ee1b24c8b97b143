package raft_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/raftlog/raft"
	"github.com/raftlog/raft/raftmem"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type cluster struct {
	network *raftmem.Network
	nodes   map[raft.NodeId]*raft.Node
	cancels map[raft.NodeId]context.CancelFunc
	done    chan struct{}
}

func newCluster(t *testing.T, ids ...raft.NodeId) *cluster {
	t.Helper()
	c := &cluster{
		network: raftmem.NewNetwork(),
		nodes:   make(map[raft.NodeId]*raft.Node, len(ids)),
		cancels: make(map[raft.NodeId]context.CancelFunc),
		done:    make(chan struct{}),
	}
	bootstrap := raft.NewStableConfig(ids...)
	for _, id := range ids {
		c.spawn(t, id, bootstrap)
	}
	t.Cleanup(c.stop)
	return c
}

// spawn starts a node bound to the cluster's shared network under the
// given bootstrap configuration, recording it for cluster.stop. Used both
// by newCluster and to join a node after the cluster already exists (a
// ProposeConfig target that isn't part of the initial membership).
func (c *cluster) spawn(t *testing.T, id raft.NodeId, bootstrap raft.ClusterConfig) *raft.Node {
	t.Helper()
	transport := raftmem.NewTransport(c.network, id)
	node := raft.NewNode(id, raftmem.NewStorage(), transport, bootstrap, raft.WithLogger(zap.NewNop()))
	ctx, cancel := context.WithCancel(context.Background())
	c.nodes[id] = node
	c.cancels[id] = cancel
	go func() {
		_ = node.Run(ctx)
	}()
	go drain(node)
	return node
}

// join adds a brand-new node to the cluster's network, bootstrapped with
// an empty configuration so it only learns membership once the leader's
// InstallSnapshot/AppendEntries stream catches it up — the CatchUp phase
// of a live ProposeConfig.
func (c *cluster) join(t *testing.T, id raft.NodeId) *raft.Node {
	t.Helper()
	return c.spawn(t, id, raft.NewStableConfig())
}

func drain(node *raft.Node) {
	for range node.Events() {
	}
}

func (c *cluster) stop() {
	for _, cancel := range c.cancels {
		cancel()
	}
	for _, node := range c.nodes {
		node.Shutdown()
	}
}

func (c *cluster) leader(t *testing.T, within time.Duration) *raft.Node {
	t.Helper()
	deadline := time.Now().Add(within)
	for time.Now().Before(deadline) {
		for _, node := range c.nodes {
			if node.Status().Role == raft.RoleLeader {
				return node
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("no leader elected within deadline")
	return nil
}

func TestElectsExactlyOneLeader(t *testing.T) {
	c := newCluster(t, "a", "b", "c")
	leader := c.leader(t, 2*time.Second)
	require.NotEmpty(t, leader.Status().Id)

	leaders := 0
	for _, node := range c.nodes {
		if node.Status().Role == raft.RoleLeader {
			leaders++
		}
	}
	require.Equal(t, 1, leaders)
}

func TestProposeReplicatesAndCommits(t *testing.T) {
	c := newCluster(t, "a", "b", "c")
	leader := c.leader(t, 2*time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	index, err := leader.Propose(ctx, []byte("hello"))
	require.NoError(t, err)
	require.Greater(t, uint64(index), uint64(0))

	require.Eventually(t, func() bool {
		return leader.Status().CommitIndex >= index
	}, time.Second, 10*time.Millisecond)
}

func TestProposeOnFollowerFailsWithHint(t *testing.T) {
	c := newCluster(t, "a", "b", "c")
	leader := c.leader(t, 2*time.Second)

	var follower *raft.Node
	for _, node := range c.nodes {
		if node.Status().Role != raft.RoleLeader {
			follower = node
			break
		}
	}
	require.NotNil(t, follower)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_, err := follower.Propose(ctx, []byte("nope"))
	require.Error(t, err)
	var notLeader *raft.NotLeaderError
	require.ErrorAs(t, err, &notLeader)
	require.Equal(t, leader.Status().Id, notLeader.Hint)
}

func TestReadIndexCompletesOnLeader(t *testing.T) {
	c := newCluster(t, "a", "b", "c")
	leader := c.leader(t, 2*time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	index, err := leader.ReadIndex(ctx)
	require.NoError(t, err)
	require.GreaterOrEqual(t, uint64(index), uint64(0))
}

// TestProposeConfigAddsMemberAndReachesStable is an S4-style end-to-end
// membership-change test: a fresh node joins the network out-of-config,
// the leader drives it through ProposeConfig's CatchUp -> Joint -> Stable
// lifecycle, and commit advancement must keep working throughout (the
// CatchUp-phase quorum predicate lives exactly in this path).
func TestProposeConfigAddsMemberAndReachesStable(t *testing.T) {
	c := newCluster(t, "a", "b", "c")
	leader := c.leader(t, 2*time.Second)
	c.join(t, "d")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := leader.ProposeConfig(ctx, raft.NewNodeSet("a", "b", "c", "d"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		cfg := leader.Status().Config
		return cfg.State == raft.ConfigStable && cfg.New.Len() == 4 && cfg.New.Contains("d")
	}, 2*time.Second, 10*time.Millisecond, "reconfiguration should settle with d as a stable member")

	proposeCtx, proposeCancel := context.WithTimeout(context.Background(), time.Second)
	defer proposeCancel()
	index, err := leader.Propose(proposeCtx, []byte("post-reconfig"))
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return leader.Status().CommitIndex >= index
	}, time.Second, 10*time.Millisecond, "commit must keep advancing once the config is stable")
}
