// Package perfevent wraps the Linux perf_event_open(2) syscall to open,
// reset, enable, read, and close one hardware or software performance
// counter attached to an external process.
//
// # Scope
//
// One Counter corresponds to one perf_event file descriptor, attached to a
// single pid on any CPU (group_fd = -1 — each counter is opened
// independently rather than as members of a counter group; see spec.md §9
// "Counter groups" for the multiplexing tradeoff this implies).
//
// # Platform support
//
//   - Linux: a real perf_event_open(2) backed implementation
//     (perfevent_linux.go).
//   - Other: Open always fails with ErrUnsupported (perfevent_other.go),
//     following the same platform-stub convention as
//     internal/watcher/process_watcher_other.go in the TripWire agent this
//     package is modeled on.
package perfevent

import (
	"errors"

	"github.com/elus10n/profiler/internal/metrics"
)

// ErrUnsupported is returned by Open on platforms without perf_event_open.
var ErrUnsupported = errors.New("perfevent: perf_event_open is not supported on this platform")

// Counter is one open perf_event counter. It is exclusively owned by
// whichever caller opened it; Close releases the underlying descriptor.
//
// Counter is not safe for concurrent use — callers (the Counter Engine's
// sampler) are expected to serialize access.
type Counter struct {
	fd   int
	kind metrics.MetricKind
	// last is the last absolute value read from this counter. It is
	// monotonically non-decreasing for the lifetime of the counter.
	last uint64
}

// Kind returns the MetricKind this counter was opened for.
func (c *Counter) Kind() metrics.MetricKind {
	return c.kind
}

// Open opens a perf_event counter for kind, attached to pid, on any CPU.
// The returned counter is created disabled, with hypervisor events excluded
// and kernel events included, then reset to zero and enabled — matching the
// post-open protocol in spec.md §4.2 exactly: IOC_RESET, then IOC_ENABLE.
//
// kind must be Valid(); pid must name a process the caller has permission to
// attach to.
func Open(pid int, kind metrics.MetricKind) (*Counter, error) {
	return open(pid, kind)
}

// Sample reads the counter's current absolute value, computes the delta
// since the previous Sample (or since Open, for the first call), and
// updates the stored last value. The returned delta is never negative: the
// Linux perf ABI guarantees absolute values are monotonically
// non-decreasing while a counter is enabled.
//
// If the underlying read returns fewer bytes than a uint64, Sample returns
// delta 0 and a non-nil error instead of failing the whole session — see
// spec.md §4.2 "Runtime: counter read short-count". Callers should log and
// continue rather than treat this as fatal.
func (c *Counter) Sample() (delta uint64, err error) {
	current, err := c.read()
	if err != nil {
		return 0, err
	}
	delta = current - c.last
	c.last = current
	return delta, nil
}

// Close releases the counter's file descriptor. Close is idempotent: a
// second call on an already-closed counter returns nil.
func (c *Counter) Close() error {
	return c.close()
}
