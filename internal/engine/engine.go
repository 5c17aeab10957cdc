// Package engine implements the Counter Engine: it opens one perf_event
// counter per requested metric against a target pid, samples them at a
// bounded cadence in a background goroutine, and reports per-interval
// deltas, log lines, and errors to an observer.
//
// Engine is modeled on the TripWire agent's netlink-based ProcessWatcher
// (internal/watcher/process_watcher_linux.go): a mutex-guarded start/stop
// pair, a context-free atomic "active" flag rather than a context.Context
// (the spec calls for compare-and-swap cancellation, not cancellation
// propagation), a sync.WaitGroup-joined sampler goroutine, and an Events-style
// fan-out — here three typed callbacks instead of one channel, matching
// spec.md §9's "either design is acceptable" note.
package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/elus10n/profiler/internal/metrics"
	"github.com/elus10n/profiler/internal/perfevent"
)

// defaultMaxHistory bounds the in-memory snapshot history so a long-running
// session cannot grow it without limit (spec.md §9 Open Question: the
// original design's history grows unbounded; this implementation documents
// and bounds the growth instead).
const defaultMaxHistory = 4096

var (
	// ErrAlreadyActive is returned by Start when a session is already in
	// progress.
	ErrAlreadyActive = errors.New("engine: profiling already active")
	// ErrProcessDead is returned by Start when the target pid does not
	// exist at call time (signal-0 liveness probe).
	ErrProcessDead = errors.New("engine: target process does not exist")
	// ErrNoMetrics is returned by Start when the requested metric list is
	// empty.
	ErrNoMetrics = errors.New("engine: no metrics specified")
)

// CounterOpenError reports that opening a perf_event counter for a
// particular metric kind failed. Any counters already opened earlier in the
// same Start call have been closed before this error is returned.
type CounterOpenError struct {
	Kind metrics.MetricKind
	Err  error
}

func (e *CounterOpenError) Error() string {
	return fmt.Sprintf("engine: failed to open perf counter for %v: %v", e.Kind, e.Err)
}

func (e *CounterOpenError) Unwrap() error { return e.Err }

// Engine is the Counter Engine described in spec.md §4.2. The zero value is
// not ready to use; construct with New.
type Engine struct {
	logger     *slog.Logger
	maxHistory int

	active atomic.Bool

	mu           sync.Mutex // guards pid, interval, counters, history, sessionStart below
	pid          int
	interval     time.Duration
	counters     []*perfevent.Counter
	history      []metrics.Snapshot
	sessionStart time.Time

	cbMu     sync.Mutex // guards the three callback slots
	onMetric func(metrics.Snapshot)
	onLog    func(string)
	onError  func(string)

	wg sync.WaitGroup
}

// New creates an Engine. If logger is nil, slog.Default() is used.
func New(logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{logger: logger, maxHistory: defaultMaxHistory}
}

// OnMetric registers the callback invoked with each Snapshot as it is
// produced. Setting it is idempotent; a later call replaces an earlier one.
func (e *Engine) OnMetric(cb func(metrics.Snapshot)) {
	e.cbMu.Lock()
	defer e.cbMu.Unlock()
	e.onMetric = cb
}

// OnLog registers the callback invoked with human-readable log lines.
func (e *Engine) OnLog(cb func(string)) {
	e.cbMu.Lock()
	defer e.cbMu.Unlock()
	e.onLog = cb
}

// OnError registers the callback invoked with error strings.
func (e *Engine) OnError(cb func(string)) {
	e.cbMu.Lock()
	defer e.cbMu.Unlock()
	e.onError = cb
}

// IsActive reports whether a profiling session is currently running.
func (e *Engine) IsActive() bool {
	return e.active.Load()
}

// Start opens one counter per kind in kinds, in order, attached to pid, and
// launches the background sampler. See spec.md §4.2 for the full contract;
// in short: fails with ErrAlreadyActive, ErrProcessDead, ErrNoMetrics, or a
// *CounterOpenError, and never leaves partially-opened counters behind.
func (e *Engine) Start(pid int, kinds []metrics.MetricKind, intervalMs int) error {
	if !e.active.CompareAndSwap(false, true) {
		return ErrAlreadyActive
	}

	if !isProcessAlive(pid) {
		e.active.Store(false)
		return ErrProcessDead
	}
	if len(kinds) == 0 {
		e.active.Store(false)
		return ErrNoMetrics
	}

	counters, err := e.openCounters(pid, kinds)
	if err != nil {
		e.active.Store(false)
		return err
	}

	e.mu.Lock()
	e.pid = pid
	e.interval = time.Duration(intervalMs) * time.Millisecond
	e.counters = counters
	e.history = e.history[:0]
	e.sessionStart = time.Now()
	e.mu.Unlock()

	e.wg.Add(1)
	go e.sampleLoop(pid, intervalMs)

	e.emitLog(fmt.Sprintf("Started profiling PID %d with interval %dms", pid, intervalMs))
	return nil
}

// openCounters opens one counter per kind, in order, closing whatever it
// already opened if any Open call fails.
func (e *Engine) openCounters(pid int, kinds []metrics.MetricKind) ([]*perfevent.Counter, error) {
	opened := make([]*perfevent.Counter, 0, len(kinds))
	for _, kind := range kinds {
		c, err := perfevent.Open(pid, kind)
		if err != nil {
			for _, already := range opened {
				_ = already.Close()
			}
			return nil, &CounterOpenError{Kind: kind, Err: err}
		}
		opened = append(opened, c)
	}
	return opened, nil
}

// Stop atomically transitions the session from active to inactive. If the
// session is already inactive (including because the sampler already
// tore it down after observing the target's death) Stop is a silent no-op.
// Otherwise it joins the sampler goroutine and closes every counter
// descriptor. Stop is idempotent and safe to call from a defer.
func (e *Engine) Stop() {
	if !e.active.CompareAndSwap(true, false) {
		return
	}
	e.wg.Wait()
	e.teardown()
}

// teardown closes all open counter descriptors and clears the list. It must
// only be invoked by whichever of Stop or the sampler goroutine won the
// active-flag compare-and-swap for a given session.
func (e *Engine) teardown() {
	e.mu.Lock()
	pid := e.pid
	counters := e.counters
	e.counters = nil
	e.mu.Unlock()

	for _, c := range counters {
		_ = c.Close()
	}
	e.emitLog(fmt.Sprintf("Stopped profiling PID %d", pid))
}

// Snapshots returns a copy of the bounded in-memory snapshot history
// accumulated so far in the current (or most recently finished) session.
func (e *Engine) Snapshots() []metrics.Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]metrics.Snapshot, len(e.history))
	copy(out, e.history)
	return out
}

// sampleLoop is the background sampler started by Start. It samples every
// counter at the configured cadence while the session is active and the
// target pid is alive, and performs the final-death handoff described in
// spec.md §4.2 when the target exits on its own.
func (e *Engine) sampleLoop(pid int, intervalMs int) {
	defer e.wg.Done()

	interval := time.Duration(intervalMs) * time.Millisecond
	for e.active.Load() && isProcessAlive(pid) {
		t0 := time.Now()

		snap := e.collect(uint64(intervalMs))
		e.appendHistory(snap)
		e.emitMetric(snap)

		elapsed := time.Since(t0)
		if elapsed < interval {
			time.Sleep(interval - elapsed)
		}
	}

	if isProcessAlive(pid) {
		return // active flag was flipped by an explicit Stop(); nothing more to do here
	}

	e.emitLog(fmt.Sprintf("Profiled process %d has terminated", pid))
	final := e.collect(0)
	e.appendHistory(final)
	e.emitMetric(final)

	if e.active.CompareAndSwap(true, false) {
		e.teardown()
	}
}

// collect reads every open counter once, in configured order, and returns
// the resulting Snapshot. A short read on any one counter downgrades that
// counter's delta to 0 for this snapshot rather than failing the session
// (spec.md §4.2 "Runtime: counter read short-count").
//
// TimestampMs is measured off sessionStart with time.Since, not
// time.Now().UnixMilli(): the latter is wall-clock and can step backward
// across an NTP correction, which would violate the non-decreasing
// timestamp invariant between consecutive snapshots in a session.
// time.Since retains the monotonic reading Go attaches to every time.Time,
// the same guarantee elapsed := time.Since(t0) relies on in sampleLoop.
func (e *Engine) collect(durationMs uint64) metrics.Snapshot {
	e.mu.Lock()
	counters := e.counters
	sessionStart := e.sessionStart
	e.mu.Unlock()

	samples := make([]metrics.Sample, len(counters))
	for i, c := range counters {
		delta, err := c.Sample()
		if err != nil {
			e.emitLog(fmt.Sprintf("counter read for %v failed, using delta 0: %v", c.Kind(), err))
			delta = 0
		}
		samples[i] = metrics.Sample{
			Kind:  c.Kind(),
			Delta: delta,
			Name:  c.Kind().Name(),
			Unit:  c.Kind().Unit(),
		}
	}

	return metrics.Snapshot{
		TimestampMs: uint64(time.Since(sessionStart).Milliseconds()),
		DurationMs:  durationMs,
		Metrics:     samples,
	}
}

// appendHistory records snap in the bounded history ring, dropping the
// oldest entry once maxHistory is reached.
func (e *Engine) appendHistory(snap metrics.Snapshot) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.history) >= e.maxHistory {
		e.history = append(e.history[1:], snap)
		return
	}
	e.history = append(e.history, snap)
}

func (e *Engine) emitMetric(snap metrics.Snapshot) {
	e.cbMu.Lock()
	cb := e.onMetric
	e.cbMu.Unlock()
	if cb != nil {
		cb(snap)
	}
}

func (e *Engine) emitLog(msg string) {
	e.logger.Info(msg)
	e.cbMu.Lock()
	cb := e.onLog
	e.cbMu.Unlock()
	if cb != nil {
		cb(msg)
	}
}

func (e *Engine) emitError(msg string) {
	e.logger.Error(msg)
	e.cbMu.Lock()
	cb := e.onError
	e.cbMu.Unlock()
	if cb != nil {
		cb(msg)
	}
}
