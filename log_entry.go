package raft

import "fmt"

// LogEntryKind discriminates the tagged LogEntry variant.
type LogEntryKind int

const (
	EntryNoop LogEntryKind = iota
	EntryConfig
	EntryCommand
)

func (k LogEntryKind) String() string {
	switch k {
	case EntryNoop:
		return "noop"
	case EntryConfig:
		return "config"
	case EntryCommand:
		return "command"
	default:
		return "unknown"
	}
}

// LogEntry is a tagged variant: exactly one of Config/Command is
// meaningful, selected by Kind. Every entry carries the term in which it
// was appended.
type LogEntry struct {
	Term   Term
	Kind   LogEntryKind
	Config ClusterConfig // meaningful iff Kind == EntryConfig
	Bytes  []byte        // meaningful iff Kind == EntryCommand
}

func NoopEntry(term Term) LogEntry { return LogEntry{Term: term, Kind: EntryNoop} }

func ConfigEntry(term Term, cfg ClusterConfig) LogEntry {
	return LogEntry{Term: term, Kind: EntryConfig, Config: cfg.clone()}
}

func CommandEntry(term Term, bytes []byte) LogEntry {
	return LogEntry{Term: term, Kind: EntryCommand, Bytes: append([]byte(nil), bytes...)}
}

func (e LogEntry) String() string {
	switch e.Kind {
	case EntryNoop:
		return fmt.Sprintf("Noop{term=%d}", e.Term)
	case EntryConfig:
		return fmt.Sprintf("Config{term=%d, %s}", e.Term, e.Config)
	case EntryCommand:
		return fmt.Sprintf("Command{term=%d, %d bytes}", e.Term, len(e.Bytes))
	default:
		return "LogEntry{?}"
	}
}

func (e LogEntry) clone() LogEntry {
	out := e
	out.Config = e.Config.clone()
	if e.Bytes != nil {
		out.Bytes = append([]byte(nil), e.Bytes...)
	}
	return out
}
