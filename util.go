package raft

import "context"

// bgCtx is used for the handful of storage calls issued from inside a
// handler that was not itself given a context (e.g. a ballot flush
// triggered by an incoming RPC). Storage implementations that need
// deadlines should derive their own default from Node's configured
// options rather than relying on cancellation here.
func bgCtx() context.Context { return context.Background() }

func minIndex(a, b LogIndex) LogIndex {
	if a < b {
		return a
	}
	return b
}

func maxIndex(a, b LogIndex) LogIndex {
	if a > b {
		return a
	}
	return b
}
