// Package session implements the Session Coordinator: it composes a
// supervisor.Supervisor and an engine.Engine into a single start/stop
// lifecycle, fans out their events to an observer, and enforces that at
// most one session is active at a time.
//
// Like the TripWire agent's top-level Agent type (internal/agent/agent.go),
// the Coordinator owns the subsystems it drives, exposes a small
// start/stop surface, and normalizes their callbacks onto observer hooks
// rather than letting callers reach into the subsystems directly.
package session

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/elus10n/profiler/internal/audit"
	"github.com/elus10n/profiler/internal/engine"
	"github.com/elus10n/profiler/internal/metrics"
	"github.com/elus10n/profiler/internal/supervisor"
)

// SpawnGracePeriod is the post-spawn stabilisation delay: how long Start
// waits before checking that the child is still alive. spec.md §9 leaves
// the rationale for 1000ms undocumented and explicitly allows making it
// configurable; WithGracePeriod does that.
const SpawnGracePeriod = 1000 * time.Millisecond

// State is the coordinator's lifecycle state machine.
type State int

const (
	Idle State = iota
	Starting
	Running
	Stopping
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Starting:
		return "starting"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// Config is a profiling session's configuration.
type Config struct {
	Metrics    []metrics.MetricKind
	IntervalMs int
}

// DefaultConfig returns the configuration a freshly constructed Coordinator
// reports before any session has started: page faults sampled every 500ms.
func DefaultConfig() Config {
	return Config{Metrics: []metrics.MetricKind{metrics.PageFaults}, IntervalMs: 500}
}

// Validate reports whether c is acceptable to the coordinator: a non-empty
// metric list and an interval in [100, 5000] milliseconds.
func (c Config) Validate() error {
	if len(c.Metrics) == 0 {
		return fmt.Errorf("session: metrics list is empty")
	}
	if c.IntervalMs < 100 || c.IntervalMs > 5000 {
		return fmt.Errorf("session: interval_ms %d out of range [100, 5000]", c.IntervalMs)
	}
	return nil
}

// Option configures a Coordinator at construction time.
type Option func(*Coordinator)

// WithGracePeriod overrides SpawnGracePeriod.
func WithGracePeriod(d time.Duration) Option {
	return func(c *Coordinator) { c.gracePeriod = d }
}

// WithAuditLogger attaches a hash-chained audit.Logger that records every
// lifecycle transition the coordinator makes. The coordinator never closes
// the logger; callers own its lifetime.
func WithAuditLogger(l *audit.Logger) Option {
	return func(c *Coordinator) { c.audit = l }
}

// Coordinator is the Session Coordinator. Construct with New.
type Coordinator struct {
	logger      *slog.Logger
	gracePeriod time.Duration

	supervisor *supervisor.Supervisor
	engine     *engine.Engine
	audit      *audit.Logger

	mu             sync.Mutex
	state          State
	currentPid     int
	currentProgram string
	currentConfig  Config

	cbMu     sync.Mutex
	onMetric func(metrics.Snapshot)
	onLog    func(string)
	onError  func(string)
}

// New creates a Coordinator with a fresh Supervisor and Engine. If logger
// is nil, slog.Default() is used for both the coordinator and its
// subsystems.
func New(logger *slog.Logger, opts ...Option) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Coordinator{
		logger:         logger,
		gracePeriod:    SpawnGracePeriod,
		supervisor:     supervisor.New(logger),
		engine:         engine.New(logger),
		currentPid:     -1,
		currentProgram: "idle",
		currentConfig:  DefaultConfig(),
	}
	c.engine.OnMetric(c.handleEngineMetric)
	c.engine.OnLog(c.handleEngineLog)
	c.engine.OnError(c.handleEngineError)
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// OnMetric registers the observer's metric callback. A later call replaces
// an earlier one.
func (c *Coordinator) OnMetric(cb func(metrics.Snapshot)) {
	c.cbMu.Lock()
	defer c.cbMu.Unlock()
	c.onMetric = cb
}

// OnLog registers the observer's log callback.
func (c *Coordinator) OnLog(cb func(string)) {
	c.cbMu.Lock()
	defer c.cbMu.Unlock()
	c.onLog = cb
}

// OnError registers the observer's error callback.
func (c *Coordinator) OnError(cb func(string)) {
	c.cbMu.Lock()
	defer c.cbMu.Unlock()
	c.onError = cb
}

// State returns the coordinator's current lifecycle state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Pid returns the pid of the currently profiled process, or -1 if none.
func (c *Coordinator) Pid() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentPid
}

// Program returns the path of the currently profiled program, or "idle".
func (c *Coordinator) Program() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentProgram
}

// Config returns the configuration of the current (or most recent) session.
func (c *Coordinator) Config() Config {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentConfig
}

// Start spawns programPath with argv, attaches the counter engine to it per
// cfg, and marks the session Running. It returns false and reports exactly
// one error via the error callback on any failure; see spec.md §4.3 for the
// exact ordering of checks.
func (c *Coordinator) Start(programPath string, argv []string, cfg Config) bool {
	if c.supervisor.IsRunning() || c.engine.IsActive() {
		c.teardown()
	}

	c.mu.Lock()
	c.state = Starting
	c.mu.Unlock()

	if programPath == "" {
		return c.fail("Programm path is empty!")
	}
	if err := cfg.Validate(); err != nil {
		c.logAudit(audit.SessionEvent{Kind: audit.EventConfigRejected, Program: programPath, Detail: err.Error()})
		return c.fail("Configuration is invalid!")
	}

	pid, err := c.supervisor.Spawn(programPath, argv)
	if err != nil {
		c.logAudit(audit.SessionEvent{Kind: audit.EventSpawnFailed, Program: programPath, Detail: err.Error()})
		return c.fail("Failed to create process!")
	}
	c.logAudit(audit.SessionEvent{Kind: audit.EventSpawnSucceeded, Program: programPath, Pid: pid})

	time.Sleep(c.gracePeriod)
	if !c.supervisor.IsRunning() {
		c.logAudit(audit.SessionEvent{Kind: audit.EventSessionEnded, Program: programPath, Pid: pid, Reason: "exited_before_sampling"})
		return c.fail("Process ended after start!")
	}

	if err := c.engine.Start(pid, cfg.Metrics, cfg.IntervalMs); err != nil {
		c.supervisor.Terminate()
		c.supervisor.Wait()
		c.logAudit(audit.SessionEvent{Kind: audit.EventSessionEnded, Program: programPath, Pid: pid, Reason: "counter_failure", Detail: err.Error()})
		c.emitError(fmt.Sprintf("failed to start counter engine: %v", err))
		c.resetToIdle()
		return false
	}
	c.logAudit(audit.SessionEvent{Kind: audit.EventEngineStarted, Program: programPath, Pid: pid})

	c.mu.Lock()
	c.state = Running
	c.currentPid = pid
	c.currentProgram = programPath
	c.currentConfig = cfg
	c.mu.Unlock()
	return true
}

// Stop transitions the session to inactive. If no session is active it
// reports "Profiling inactive already!" once for that call and returns;
// stopping an active session emits no error.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	if c.state == Idle {
		c.mu.Unlock()
		c.emitError("Profiling inactive already!")
		return
	}
	c.state = Stopping
	pid := c.currentPid
	program := c.currentProgram
	c.mu.Unlock()

	c.engine.Stop()
	c.supervisor.Terminate()
	c.supervisor.Wait()

	c.logAudit(audit.SessionEvent{Kind: audit.EventEngineStopped, Program: program, Pid: pid})
	c.logAudit(audit.SessionEvent{Kind: audit.EventSessionEnded, Program: program, Pid: pid, Reason: "explicit_stop"})

	c.resetToIdle()
}

// logAudit is a no-op when no audit.Logger was configured via
// WithAuditLogger. Append failures are logged, not escalated: an audit
// write failure must never take down a profiling session.
func (c *Coordinator) logAudit(ev audit.SessionEvent) {
	if c.audit == nil {
		return
	}
	if _, err := audit.LogSessionEvent(c.audit, ev); err != nil {
		c.logger.Warn("failed to append audit event", "kind", ev.Kind, "err", err)
	}
}

// teardown forcibly stops any in-progress session without emitting the
// "inactive already" error, used defensively at the top of Start to recover
// from an observer restarting after a crash.
func (c *Coordinator) teardown() {
	if c.engine.IsActive() {
		c.engine.Stop()
	}
	if c.supervisor.IsRunning() {
		c.supervisor.Terminate()
		c.supervisor.Wait()
	}
}

func (c *Coordinator) fail(msg string) bool {
	c.emitError(msg)
	c.resetToIdle()
	return false
}

func (c *Coordinator) resetToIdle() {
	c.mu.Lock()
	c.state = Idle
	c.currentPid = -1
	c.currentProgram = "idle"
	c.currentConfig = DefaultConfig()
	c.mu.Unlock()
}

// handleEngineMetric forwards a Snapshot from the engine to the observer,
// or reports "undefined callback" if none is registered.
func (c *Coordinator) handleEngineMetric(snap metrics.Snapshot) {
	c.cbMu.Lock()
	cb := c.onMetric
	c.cbMu.Unlock()
	if cb == nil {
		c.emitError("undefined callback")
		return
	}
	cb(snap)
}

func (c *Coordinator) handleEngineLog(msg string) {
	c.mu.Lock()
	pid := c.currentPid
	program := c.currentProgram
	isDeathLog := c.state == Running && pid != -1 && msg == fmt.Sprintf("Profiled process %d has terminated", pid)
	if isDeathLog {
		c.state = Stopping
	}
	c.mu.Unlock()

	if isDeathLog {
		// The engine has already deactivated itself; finish tearing the
		// session down so current_pid/program/config reset to idle too.
		// Racing with an explicit Stop() is resolved by the state check
		// above: only one of the two paths observes state == Running.
		c.supervisor.Terminate()
		c.supervisor.Wait()
		c.logAudit(audit.SessionEvent{Kind: audit.EventSessionEnded, Program: program, Pid: pid, Reason: "child_death"})
		c.resetToIdle()
	}

	c.cbMu.Lock()
	cb := c.onLog
	c.cbMu.Unlock()
	if cb == nil {
		c.emitError("undefined callback")
		return
	}
	cb(msg)
}

func (c *Coordinator) handleEngineError(msg string) {
	c.emitError(msg)
}

// emitError forwards msg to the observer's error callback if set, otherwise
// to the logger (standing in for "falls through to stderr"). The
// coordinator never drops an error silently.
func (c *Coordinator) emitError(msg string) {
	c.cbMu.Lock()
	cb := c.onError
	c.cbMu.Unlock()
	if cb != nil {
		cb(msg)
		return
	}
	c.logger.Error(msg)
}
