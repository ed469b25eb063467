//go:build unix

package main

import (
	"os"
	"os/signal"
	"strings"
	"syscall"
)

// notifyCancel subscribes to the signal that raises the External Cancel
// Event. "none" disables it.
func notifyCancel(name string) (<-chan os.Signal, func()) {
	ch := make(chan os.Signal, 1)
	var sig os.Signal
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "", "SIGUSR1":
		sig = syscall.SIGUSR1
	case "SIGUSR2":
		sig = syscall.SIGUSR2
	case "SIGHUP":
		sig = syscall.SIGHUP
	default:
		return ch, func() {}
	}
	signal.Notify(ch, sig)
	return ch, func() { signal.Stop(ch) }
}
