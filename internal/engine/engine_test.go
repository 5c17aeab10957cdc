package engine

import (
	"errors"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"testing"
	"time"

	"github.com/elus10n/profiler/internal/metrics"
)

func skipUnlessPerfAvailable(t *testing.T) {
	t.Helper()
	if runtime.GOOS != "linux" {
		t.Skip("perf_event_open is linux-only")
	}
}

// maybeSkipPermission skips the test if err looks like a perf_event_open
// permission failure (common in sandboxes and containers without
// CAP_PERFMON / a permissive perf_event_paranoid).
func maybeSkipPermission(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		return
	}
	if errors.Is(err, os.ErrPermission) {
		t.Skipf("perf_event_open not permitted in this environment: %v", err)
	}
	var coe *CounterOpenError
	if errors.As(err, &coe) {
		t.Skipf("perf_event_open not permitted in this environment: %v", err)
	}
}

func TestStartRejectsEmptyMetricList(t *testing.T) {
	skipUnlessPerfAvailable(t)
	e := New(nil)
	err := e.Start(os.Getpid(), nil, 50)
	if !errors.Is(err, ErrNoMetrics) {
		t.Fatalf("Start() error = %v, want ErrNoMetrics", err)
	}
	if e.IsActive() {
		t.Fatal("IsActive() = true after a failed Start")
	}
}

func TestStartRejectsDeadProcess(t *testing.T) {
	skipUnlessPerfAvailable(t)
	cmd := exec.Command("true")
	if err := cmd.Run(); err != nil {
		t.Skipf("could not run a throwaway process: %v", err)
	}
	deadPid := cmd.Process.Pid

	e := New(nil)
	err := e.Start(deadPid, []metrics.MetricKind{metrics.Instructions}, 50)
	if !errors.Is(err, ErrProcessDead) {
		t.Fatalf("Start() error = %v, want ErrProcessDead", err)
	}
}

func TestStartTwiceReturnsAlreadyActive(t *testing.T) {
	skipUnlessPerfAvailable(t)
	e := New(nil)
	err := e.Start(os.Getpid(), []metrics.MetricKind{metrics.CPUCycles}, 20)
	maybeSkipPermission(t, err)
	if err != nil {
		t.Fatalf("first Start() error = %v", err)
	}
	defer e.Stop()

	if err := e.Start(os.Getpid(), []metrics.MetricKind{metrics.CPUCycles}, 20); !errors.Is(err, ErrAlreadyActive) {
		t.Fatalf("second Start() error = %v, want ErrAlreadyActive", err)
	}
}

func TestStartStopLifecycle(t *testing.T) {
	skipUnlessPerfAvailable(t)
	e := New(nil)

	var logs []string
	e.OnLog(func(msg string) { logs = append(logs, msg) })

	snapshots := 0
	e.OnMetric(func(metrics.Snapshot) { snapshots++ })

	err := e.Start(os.Getpid(), []metrics.MetricKind{metrics.Instructions, metrics.CPUCycles}, 10)
	maybeSkipPermission(t, err)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if !e.IsActive() {
		t.Fatal("IsActive() = false immediately after Start")
	}

	time.Sleep(100 * time.Millisecond)
	e.Stop()

	if e.IsActive() {
		t.Fatal("IsActive() = true after Stop")
	}
	if snapshots == 0 {
		t.Fatal("expected at least one snapshot before Stop")
	}
	if len(logs) < 2 {
		t.Fatalf("expected a start and stop log line, got %v", logs)
	}

	// Stop is idempotent.
	e.Stop()
}

func TestDeadTargetDeactivatesWithoutExplicitStop(t *testing.T) {
	skipUnlessPerfAvailable(t)
	cmd := exec.Command("sleep", "0.05")
	if err := cmd.Start(); err != nil {
		t.Skipf("could not start a throwaway process: %v", err)
	}
	pid := cmd.Process.Pid

	e := New(nil)
	terminated := make(chan struct{}, 1)
	e.OnLog(func(msg string) {
		if msg == "Profiled process "+strconv.Itoa(pid)+" has terminated" {
			select {
			case terminated <- struct{}{}:
			default:
			}
		}
	})

	err := e.Start(pid, []metrics.MetricKind{metrics.Instructions}, 10)
	maybeSkipPermission(t, err)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	_ = cmd.Wait()

	select {
	case <-terminated:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for termination log")
	}

	deadline := time.Now().Add(time.Second)
	for e.IsActive() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if e.IsActive() {
		t.Fatal("IsActive() still true after target process death")
	}

	snaps := e.Snapshots()
	if len(snaps) == 0 {
		t.Fatal("expected at least the final post-mortem snapshot")
	}

	e.Stop() // must remain a harmless no-op
}
