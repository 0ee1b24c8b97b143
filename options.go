package raft

import (
	"time"

	"go.uber.org/zap"
)

// nodeOptions holds the tunables a Node is built with. Mirrors the
// teacher's serverOptions/ServerOption pattern: a private struct filled in
// by a variadic list of functional Options.
type nodeOptions struct {
	electionTimeoutLow  time.Duration
	heartbeatInterval   time.Duration
	appendWindow        int64
	logger              *zap.Logger
	logLevel            zap.AtomicLevel
	maxEntriesPerAppend int
}

// Option configures a Node at construction time.
type Option func(*nodeOptions)

func defaultOptions() *nodeOptions {
	level := zap.NewAtomicLevelAt(zap.InfoLevel)
	return &nodeOptions{
		electionTimeoutLow:  150 * time.Millisecond,
		heartbeatInterval:   50 * time.Millisecond,
		appendWindow:        8,
		logLevel:            level,
		maxEntriesPerAppend: 256,
	}
}

func applyOptions(opts ...Option) *nodeOptions {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	if o.heartbeatInterval >= o.electionTimeoutLow {
		panic(invalidArgument("heartbeat interval (%s) must be strictly below the election timeout lower bound (%s)", o.heartbeatInterval, o.electionTimeoutLow))
	}
	return o
}

// WithElectionTimeout sets the lower bound T of the randomized [T, 2T)
// election-timeout range (spec §4.4). The heartbeat interval must stay
// strictly below T; applyOptions validates this once all Options have
// been applied, regardless of the order WithElectionTimeout and
// WithHeartbeatInterval were passed in.
func WithElectionTimeout(low time.Duration) Option {
	return func(o *nodeOptions) { o.electionTimeoutLow = low }
}

// WithHeartbeatInterval sets the leader's heartbeat period (spec §5).
func WithHeartbeatInterval(d time.Duration) Option {
	return func(o *nodeOptions) { o.heartbeatInterval = d }
}

// WithAppendWindow bounds the number of in-flight AppendEntries batches
// per follower before the leader pauses new sends (spec §5 Backpressure).
func WithAppendWindow(n int64) Option {
	return func(o *nodeOptions) { o.appendWindow = n }
}

// WithMaxEntriesPerAppend caps how many log entries a single
// AppendEntries batch carries.
func WithMaxEntriesPerAppend(n int) Option {
	return func(o *nodeOptions) { o.maxEntriesPerAppend = n }
}

// WithLogger overrides the zap logger (default: a production JSON logger
// at info level, matching the teacher's serverLogger default).
func WithLogger(l *zap.Logger) Option {
	return func(o *nodeOptions) { o.logger = l }
}

// WithLogLevel sets the atomic log level shared by the default logger.
func WithLogLevel(level zap.AtomicLevel) Option {
	return func(o *nodeOptions) { o.logLevel = level }
}
