//go:build linux

package engine

import "golang.org/x/sys/unix"

// isProcessAlive probes pid with signal 0, the standard no-op existence
// check (no signal is actually delivered). It returns true for zombies:
// the pid is still a live entry in the process table until the parent
// reaps it, which is sufficient for the engine's purposes since the
// supervisor is the one responsible for reaping.
func isProcessAlive(pid int) bool {
	err := unix.Kill(pid, 0)
	if err == nil {
		return true
	}
	// EPERM means the pid exists but we lack permission to signal it,
	// which still counts as alive.
	return err == unix.EPERM
}
