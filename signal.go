package raft

import (
	"os"
	"os/signal"
	"syscall"
)

// TerminalSignalCh returns a channel that receives the signals which
// usually indicate a process should shut down. A Node caller typically
// selects on this alongside Node.Run's context to trigger a graceful
// Shutdown.
func TerminalSignalCh() <-chan os.Signal {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	return ch
}
