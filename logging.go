package raft

import (
	"go.uber.org/zap"
)

// defaultLogger builds the same kind of production JSON logger the
// teacher's serverLogger(logLevel) constructs, parameterized on a shared
// AtomicLevel so callers can adjust verbosity at runtime.
func defaultLogger(level zap.AtomicLevel) *zap.Logger {
	cfg := zap.NewProductionConfig()
	cfg.Level = level
	logger, err := cfg.Build()
	if err != nil {
		// Falling back to a no-op logger is safer than panicking a
		// library constructor over a logging misconfiguration.
		return zap.NewNop()
	}
	return logger
}

// logFields prefixes every log line with the node's identity and current
// role/term, the way the teacher's logFields(s, ...) helper does, so a
// single grep over node_id picks up a node's full history regardless of
// role.
func (n *Node) logFields(extra ...zap.Field) []zap.Field {
	fields := make([]zap.Field, 0, len(extra)+3)
	fields = append(fields,
		zap.String("node_id", string(n.id)),
		zap.String("role", n.role.Role().String()),
		zap.Uint64("term", uint64(n.currentTerm())),
	)
	return append(fields, extra...)
}
