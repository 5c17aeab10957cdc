package session

import (
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/elus10n/profiler/internal/audit"
	"github.com/elus10n/profiler/internal/metrics"
)

func skipUnlessPerfAvailable(t *testing.T) {
	t.Helper()
	if runtime.GOOS != "linux" {
		t.Skip("perf_event_open is linux-only")
	}
}

func newTestCoordinator() *Coordinator {
	// A short grace period keeps these tests fast; production callers use
	// SpawnGracePeriod.
	return New(nil, WithGracePeriod(20*time.Millisecond))
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if len(cfg.Metrics) != 1 || cfg.Metrics[0] != metrics.PageFaults {
		t.Fatalf("DefaultConfig().Metrics = %v, want [PageFaults]", cfg.Metrics)
	}
	if cfg.IntervalMs != 500 {
		t.Fatalf("DefaultConfig().IntervalMs = %d, want 500", cfg.IntervalMs)
	}
}

func TestConfigValidateBoundaries(t *testing.T) {
	valid := []Config{
		{Metrics: []metrics.MetricKind{metrics.CPUCycles}, IntervalMs: 100},
		{Metrics: []metrics.MetricKind{metrics.CPUCycles}, IntervalMs: 5000},
	}
	for _, c := range valid {
		if err := c.Validate(); err != nil {
			t.Errorf("Validate(%+v) = %v, want nil", c, err)
		}
	}

	invalid := []Config{
		{Metrics: nil, IntervalMs: 500},
		{Metrics: []metrics.MetricKind{metrics.CPUCycles}, IntervalMs: 99},
		{Metrics: []metrics.MetricKind{metrics.CPUCycles}, IntervalMs: 5001},
	}
	for _, c := range invalid {
		if err := c.Validate(); err == nil {
			t.Errorf("Validate(%+v) = nil, want an error", c)
		}
	}
}

func TestStartRejectsEmptyPath(t *testing.T) {
	c := newTestCoordinator()
	var lastErr string
	c.OnError(func(msg string) { lastErr = msg })

	if c.Start("", nil, DefaultConfig()) {
		t.Fatal("Start(\"\") = true, want false")
	}
	if lastErr != "Programm path is empty!" {
		t.Fatalf("error callback = %q, want %q", lastErr, "Programm path is empty!")
	}
	if c.State() != Idle {
		t.Fatalf("State() = %v, want Idle", c.State())
	}
}

func TestStartRejectsInvalidConfig(t *testing.T) {
	c := newTestCoordinator()
	var lastErr string
	c.OnError(func(msg string) { lastErr = msg })

	if c.Start("true", nil, Config{}) {
		t.Fatal("Start() with empty config = true, want false")
	}
	if lastErr != "Configuration is invalid!" {
		t.Fatalf("error callback = %q, want %q", lastErr, "Configuration is invalid!")
	}
}

func TestStartImmediateExitProgram(t *testing.T) {
	skipUnlessPerfAvailable(t)
	c := newTestCoordinator()
	var lastErr string
	c.OnError(func(msg string) { lastErr = msg })
	metricCalls := 0
	c.OnMetric(func(metrics.Snapshot) { metricCalls++ })

	cfg := Config{Metrics: []metrics.MetricKind{metrics.PageFaults}, IntervalMs: 500}
	if c.Start("true", nil, cfg) {
		t.Fatal("Start(\"true\") = true, want false")
	}
	if lastErr != "Process ended after start!" {
		t.Fatalf("error callback = %q, want %q", lastErr, "Process ended after start!")
	}
	if metricCalls != 0 {
		t.Fatalf("metric callback invoked %d times, want 0", metricCalls)
	}
	if c.State() != Idle {
		t.Fatalf("State() = %v, want Idle", c.State())
	}
}

func TestStopWhenInactiveReportsOnce(t *testing.T) {
	c := newTestCoordinator()
	var errs []string
	var mu sync.Mutex
	c.OnError(func(msg string) {
		mu.Lock()
		errs = append(errs, msg)
		mu.Unlock()
	})

	c.Stop()
	c.Stop()

	mu.Lock()
	defer mu.Unlock()
	if len(errs) != 2 {
		t.Fatalf("got %d error callbacks, want 2 (one per Stop call)", len(errs))
	}
	for _, e := range errs {
		if e != "Profiling inactive already!" {
			t.Fatalf("error = %q, want %q", e, "Profiling inactive already!")
		}
	}
}

func TestHappyPathStartStop(t *testing.T) {
	skipUnlessPerfAvailable(t)
	c := newTestCoordinator()

	var mu sync.Mutex
	var logs []string
	var snaps int
	c.OnLog(func(msg string) {
		mu.Lock()
		logs = append(logs, msg)
		mu.Unlock()
	})
	c.OnMetric(func(metrics.Snapshot) {
		mu.Lock()
		snaps++
		mu.Unlock()
	})
	c.OnError(func(msg string) {
		t.Errorf("unexpected error callback: %s", msg)
	})

	cfg := Config{Metrics: []metrics.MetricKind{metrics.CPUCycles, metrics.Instructions}, IntervalMs: 100}
	ok := c.Start("sleep", []string{"5"}, cfg)
	if !ok {
		t.Fatal("Start() = false, want true")
	}
	if c.State() != Running {
		t.Fatalf("State() = %v, want Running", c.State())
	}
	if c.Pid() <= 0 {
		t.Fatalf("Pid() = %d, want > 0", c.Pid())
	}

	time.Sleep(250 * time.Millisecond)
	c.Stop()

	if c.State() != Idle {
		t.Fatalf("State() = %v, want Idle", c.State())
	}
	if c.Pid() != -1 {
		t.Fatalf("Pid() = %d, want -1 after Stop", c.Pid())
	}

	mu.Lock()
	defer mu.Unlock()
	if snaps == 0 {
		t.Fatal("expected at least one metric snapshot")
	}
	if len(logs) < 2 {
		t.Fatalf("expected start and stop log lines, got %v", logs)
	}
}

func TestDoubleStartTerminatesFirstChild(t *testing.T) {
	skipUnlessPerfAvailable(t)
	c := newTestCoordinator()
	cfg := Config{Metrics: []metrics.MetricKind{metrics.PageFaults}, IntervalMs: 100}

	if !c.Start("sleep", []string{"5"}, cfg) {
		t.Fatal("first Start() = false, want true")
	}
	firstPid := c.Pid()

	if !c.Start("sleep", []string{"5"}, cfg) {
		t.Fatal("second Start() = false, want true")
	}
	secondPid := c.Pid()

	if firstPid == secondPid {
		t.Fatal("second session reused the first child's pid")
	}
	if c.State() != Running {
		t.Fatalf("State() = %v, want Running", c.State())
	}

	c.Stop()
}

func TestAuditLoggerRecordsRejectedConfig(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "audit.jsonl")
	logger, err := audit.Open(logPath)
	if err != nil {
		t.Fatalf("audit.Open: %v", err)
	}
	defer logger.Close()

	c := New(nil, WithGracePeriod(20*time.Millisecond), WithAuditLogger(logger))
	c.OnError(func(string) {})

	if c.Start("true", nil, Config{}) {
		t.Fatal("Start() with empty config = true, want false")
	}

	entries, err := audit.Verify(logPath)
	if err != nil {
		t.Fatalf("audit.Verify: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d audit entries, want 1", len(entries))
	}
}
