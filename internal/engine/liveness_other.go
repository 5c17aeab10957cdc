//go:build !linux

package engine

// isProcessAlive always reports false on platforms without perf_event_open,
// so Start fails there with ErrProcessDead at its liveness check, before
// any counter is opened. This stub only exists to keep the package
// buildable everywhere.
func isProcessAlive(pid int) bool {
	return false
}
