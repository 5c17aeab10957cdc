// Package metrics defines the closed set of counters the profiler can
// attach to a target process, and the shapes used to report readings.
//
// The seven MetricKind values and their family/code/name/unit mapping are
// fixed by the Linux perf_event ABI; see internal/perfevent for where the
// family and code are turned into a perf_event_attr.
package metrics

import "fmt"

// MetricKind identifies one of the seven counters the profiler understands.
// The first five are hardware counters; the last two are software counters.
type MetricKind int

const (
	Instructions MetricKind = iota
	CPUCycles
	CacheMisses
	CacheReferences
	BranchMisses
	PageFaults
	ContextSwitches

	numMetricKinds = int(ContextSwitches) + 1
)

// Family identifies the perf_event_attr.Type a MetricKind belongs to.
type Family int

const (
	// Hardware counters are backed by a CPU performance monitoring unit.
	Hardware Family = iota
	// Software counters are maintained by the kernel itself.
	Software
)

// descriptor is the fixed (family, code, name, unit) tuple for one
// MetricKind, taken verbatim from the perf_event ABI table in spec.md §6.
type descriptor struct {
	family Family
	code   uint64
	name   string
	unit   string
}

// Linux PERF_TYPE_* and PERF_COUNT_{HW,SW}_* values, from <linux/perf_event.h>.
// Never change these — they are part of the kernel ABI, not an implementation
// choice.
const (
	perfCountHWCPUCycles         = 0
	perfCountHWInstructions      = 1
	perfCountHWCacheReferences   = 2
	perfCountHWCacheMisses       = 3
	perfCountHWBranchMisses      = 5
	perfCountSWPageFaults        = 2
	perfCountSWContextSwitches   = 3
)

var descriptors = [numMetricKinds]descriptor{
	Instructions:    {Hardware, perfCountHWInstructions, "instructions", "count"},
	CPUCycles:       {Hardware, perfCountHWCPUCycles, "cpu_cycles", "cycles"},
	CacheMisses:     {Hardware, perfCountHWCacheMisses, "cache_misses", "misses"},
	CacheReferences: {Hardware, perfCountHWCacheReferences, "cache_references", "references"},
	BranchMisses:    {Hardware, perfCountHWBranchMisses, "branch_misses", "misses"},
	PageFaults:      {Software, perfCountSWPageFaults, "page_faults", "faults"},
	ContextSwitches: {Software, perfCountSWContextSwitches, "context_switches", "switches"},
}

// Valid reports whether k is one of the seven defined MetricKind values.
func (k MetricKind) Valid() bool {
	return k >= Instructions && int(k) < numMetricKinds
}

// Family returns the perf_event family (hardware or software) that k maps
// to. It panics if k is not Valid — callers are expected to validate
// configuration before reaching this point.
func (k MetricKind) Family() Family {
	return descriptors[k].family
}

// Code returns the perf_event counter code (PERF_COUNT_{HW,SW}_*) for k.
func (k MetricKind) Code() uint64 {
	return descriptors[k].code
}

// Name returns the human-readable metric name, e.g. "cpu_cycles".
func (k MetricKind) Name() string {
	return descriptors[k].name
}

// Unit returns the human-readable unit, e.g. "cycles".
func (k MetricKind) Unit() string {
	return descriptors[k].unit
}

// String implements fmt.Stringer for diagnostic output and log lines.
func (k MetricKind) String() string {
	if !k.Valid() {
		return fmt.Sprintf("MetricKind(%d)", int(k))
	}
	return descriptors[k].name
}

// Sample is one reading in one Snapshot: the delta for a single metric since
// the previous snapshot in the current session. Delta is never the absolute
// counter value.
type Sample struct {
	Kind  MetricKind
	Delta uint64
	Name  string
	Unit  string
}

// Snapshot is one sampling interval's output. Metrics is ordered identically
// to the session.Config.Metrics list the session was started with.
// Snapshots are append-only within a session and carry no identity beyond
// their position.
type Snapshot struct {
	// TimestampMs is an absolute monotonic millisecond value, arbitrary
	// epoch; only differences between snapshots in the same session are
	// meaningful.
	TimestampMs uint64
	// DurationMs is the nominal interval length this snapshot covers; 0 for
	// the final post-mortem snapshot emitted after the target dies.
	DurationMs uint64
	Metrics    []Sample
}

// Find returns a pointer to the Sample for kind, or nil if kind is not
// present in the snapshot.
func (s *Snapshot) Find(kind MetricKind) *Sample {
	for i := range s.Metrics {
		if s.Metrics[i].Kind == kind {
			return &s.Metrics[i]
		}
	}
	return nil
}
