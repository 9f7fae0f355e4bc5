package cmd

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
)

// readPidFile returns the pid recorded by start at pidPath. There is no
// other persisted state (spec.md §6: "the daemon is stateless across
// restarts") - the pid file exists solely so stop/status/restart can find
// the running process.
func readPidFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("no pid file at %s (is the daemon running?): %w", path, err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("pid file %s is corrupt: %w", path, err)
	}
	return pid, nil
}

// processAlive reports whether pid names a live process, probing with
// signal 0 rather than assuming the pid file is accurate.
func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}
