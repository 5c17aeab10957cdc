// Package procinfo reads display-only metadata about a target process from
// /proc, the same way the TripWire agent's process watcher enriches a raw
// PID with a command name and executable path before emitting an alert. The
// profiler never uses this data to make profiling decisions — it exists
// purely so CLI output can show a human-readable program identity alongside
// a bare pid.
package procinfo

import (
	"fmt"
	"os"
	"strings"
)

// Info is a best-effort snapshot of a process's identity as reported by the
// kernel's /proc filesystem. Any field may be empty if it could not be read,
// most commonly because the process has already exited.
type Info struct {
	Pid     int
	Comm    string
	Exe     string
	Cmdline string
}

// Read gathers comm, exe, and cmdline for pid. It never returns an error:
// an unreadable field is left as the empty string, since the target process
// dying mid-read is an expected race, not a failure the caller should act on.
func Read(pid int) Info {
	info := Info{Pid: pid}

	if b, err := os.ReadFile(fmt.Sprintf("/proc/%d/comm", pid)); err == nil {
		info.Comm = strings.TrimRight(string(b), "\n\r")
	}
	if link, err := os.Readlink(fmt.Sprintf("/proc/%d/exe", pid)); err == nil {
		info.Exe = link
	}
	if b, err := os.ReadFile(fmt.Sprintf("/proc/%d/cmdline", pid)); err == nil {
		info.Cmdline = strings.TrimRight(strings.ReplaceAll(string(b), "\x00", " "), " ")
	}
	return info
}

// String renders a one-line human-readable identity for log lines, e.g.
// "1234 (stress) /usr/bin/stress".
func (i Info) String() string {
	if i.Comm == "" && i.Exe == "" {
		return fmt.Sprintf("%d", i.Pid)
	}
	if i.Exe == "" {
		return fmt.Sprintf("%d (%s)", i.Pid, i.Comm)
	}
	return fmt.Sprintf("%d (%s) %s", i.Pid, i.Comm, i.Exe)
}
