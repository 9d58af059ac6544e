/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package lockfile keeps two client instances from fighting over the same
// player.
package lockfile

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
)

// Lock is a held pid file.
type Lock struct {
	path string
}

// Acquire writes a pid file at path. An existing file whose pid is still
// alive aborts; a stale file left by a dead process is replaced.
func Acquire(path string) (*Lock, error) {
	if data, err := os.ReadFile(path); err == nil {
		pid, convErr := strconv.Atoi(strings.TrimSpace(string(data)))
		if convErr == nil && pidAlive(pid) {
			return nil, fmt.Errorf("another instance is running (pid %d, lock %s)", pid, path)
		}
		// stale lock from a dead process
		_ = os.Remove(path)
	}

	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
		return nil, fmt.Errorf("write lock %s: %w", path, err)
	}
	return &Lock{path: path}, nil
}

// Release removes the pid file.
func (l *Lock) Release() {
	_ = os.Remove(l.path)
}

// pidAlive probes the pid with signal 0.
func pidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}
