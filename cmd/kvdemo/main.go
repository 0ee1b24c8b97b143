// Command kvdemo wires raft.Node to a trivial in-memory key-value state
// machine and a grpc Transport, the way the teacher's cmd/kv bundled a
// reference Server with a StateMachine. It exists to exercise the library
// end-to-end, not as a production KV store.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/raftlog/raft"
	"github.com/raftlog/raft/raftmem"
	"go.uber.org/zap"
)

// snapshotInterval is how often kvdemo checks whether it can compact its
// log. A real deployment would trigger this off log size, not a clock.
const snapshotInterval = 30 * time.Second

func main() {
	var (
		id        = flag.String("id", "", "this node's id")
		listen    = flag.String("listen", ":7000", "address to listen on for peer traffic")
		peersFlag = flag.String("peers", "", "comma-separated id=addr pairs for every voting peer, including self")
		apiListen = flag.String("api", ":7001", "address to listen on for the demo HTTP API")
	)
	flag.Parse()

	if *id == "" {
		log.Fatal("kvdemo: -id is required")
	}

	peers, err := parsePeers(*peersFlag)
	if err != nil {
		log.Fatalf("kvdemo: %v", err)
	}

	ids := make([]raft.NodeId, 0, len(peers))
	for peerID := range peers {
		ids = append(ids, peerID)
	}
	bootstrapConfig := raft.NewStableConfig(ids...)

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	transport, err := raft.NewGRPCTransport(raft.NodeId(*id), *listen, peerAddrs(peers, *id), logger)
	if err != nil {
		log.Fatalf("kvdemo: listen: %v", err)
	}
	go func() {
		if err := transport.Serve(); err != nil {
			logger.Error("transport stopped", zap.Error(err))
		}
	}()

	node := raft.NewNode(raft.NodeId(*id), raftmem.NewStorage(), transport, bootstrapConfig,
		raft.WithLogger(logger),
	)

	ctx, cancel := context.WithCancel(context.Background())

	sm := newKVStateMachine()
	go applyLoop(node, sm)
	go snapshotLoop(ctx, node, sm)

	go func() {
		select {
		case sig := <-raft.TerminalSignalCh():
			logger.Info("received signal, shutting down", zap.String("signal", sig.String()))
			cancel()
		case <-ctx.Done():
		}
	}()

	go serveAPI(*apiListen, node, sm)

	if err := node.Run(ctx); err != nil && ctx.Err() == nil {
		logger.Fatal("node stopped unexpectedly", zap.Error(err))
	}
	node.Shutdown()
	transport.Close()
}

func applyLoop(node *raft.Node, sm *kvStateMachine) {
	for ev := range node.Events() {
		switch ev.Kind {
		case raft.EventCommitted:
			sm.apply(ev.CommittedEntry)
		case raft.EventSnapshotInstalled:
			sm.restore(ev.InstalledPrefix.UserBytes)
		case raft.EventTerminal:
			return
		}
	}
}

// snapshotLoop periodically compacts the committed log behind the state
// machine's own encoded snapshot, exercising TakeSnapshotSuggestion and
// InstallSnapshot the way a long-running node would.
func snapshotLoop(ctx context.Context, node *raft.Node, sm *kvStateMachine) {
	ticker := time.NewTicker(snapshotInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		pos, err := node.TakeSnapshotSuggestion(ctx)
		if err != nil || pos.Index == 0 {
			continue
		}
		prefix := raft.LogPrefix{Tail: pos, Config: node.Status().Config, UserBytes: sm.snapshotBytes()}
		_ = node.InstallSnapshot(ctx, prefix)
	}
}

func parsePeers(spec string) (map[raft.NodeId]string, error) {
	out := map[raft.NodeId]string{}
	if spec == "" {
		return out, nil
	}
	for _, part := range strings.Split(spec, ",") {
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 || kv[0] == "" || kv[1] == "" {
			return nil, fmt.Errorf("invalid -peers entry %q, want id=addr", part)
		}
		out[raft.NodeId(kv[0])] = kv[1]
	}
	return out, nil
}

func peerAddrs(peers map[raft.NodeId]string, self string) map[raft.NodeId]string {
	out := make(map[raft.NodeId]string, len(peers))
	for id, addr := range peers {
		if string(id) == self {
			continue
		}
		out[id] = addr
	}
	return out
}
