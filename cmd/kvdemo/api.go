package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/raftlog/raft"
)

// serveAPI exposes kvStateMachine over a tiny HTTP surface so the demo can
// be driven with curl. It is outer glue, not core replication logic, so it
// leans on net/http directly rather than any of the library's own types.
//
//	GET  /kv/{key}   -> 200 with value, or 404
//	PUT  /kv/{key}   -> body is the new value, proposed through raft.Node
//	DELETE /kv/{key} -> proposes a delete
func serveAPI(addr string, node *raft.Node, sm *kvStateMachine) {
	mux := http.NewServeMux()
	mux.HandleFunc("/kv/", func(w http.ResponseWriter, r *http.Request) {
		key := r.URL.Path[len("/kv/"):]
		if key == "" {
			http.Error(w, "missing key", http.StatusBadRequest)
			return
		}
		switch r.Method {
		case http.MethodGet:
			handleGet(w, r, node, sm, key)
		case http.MethodPut:
			handleSet(w, r, node, key)
		case http.MethodDelete:
			handleUnset(w, r, node, key)
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})
	server := &http.Server{Addr: addr, Handler: mux}
	_ = server.ListenAndServe()
}

func handleGet(w http.ResponseWriter, r *http.Request, node *raft.Node, sm *kvStateMachine, key string) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	if _, err := node.ReadIndex(ctx); err != nil {
		writeNodeError(w, err)
		return
	}
	value, ok := sm.value(key)
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Write(value)
}

func handleSet(w http.ResponseWriter, r *http.Request, node *raft.Node, key string) {
	value, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	_, err = node.Propose(ctx, encodeCommand(kvCommand{Kind: cmdSet, Key: key, Value: value}))
	if err != nil {
		writeNodeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func handleUnset(w http.ResponseWriter, r *http.Request, node *raft.Node, key string) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	_, err := node.Propose(ctx, encodeCommand(kvCommand{Kind: cmdUnset, Key: key}))
	if err != nil {
		writeNodeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeNodeError(w http.ResponseWriter, err error) {
	var notLeader *raft.NotLeaderError
	if errors.As(err, &notLeader) {
		w.Header().Set("X-Leader-Hint", string(notLeader.Hint))
		http.Error(w, err.Error(), http.StatusMisdirectedRequest)
		return
	}
	http.Error(w, err.Error(), http.StatusInternalServerError)
}
