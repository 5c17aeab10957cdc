package procinfo

import (
	"os"
	"testing"
)

func TestReadSelf(t *testing.T) {
	if _, err := os.Stat("/proc/self"); err != nil {
		t.Skip("/proc is not available on this platform")
	}

	info := Read(os.Getpid())
	if info.Pid != os.Getpid() {
		t.Fatalf("Pid = %d, want %d", info.Pid, os.Getpid())
	}
	if info.Comm == "" {
		t.Fatal("Comm is empty for the current process")
	}
	if info.Exe == "" {
		t.Fatal("Exe is empty for the current process")
	}
}

func TestReadNonexistentPidReturnsEmptyFields(t *testing.T) {
	if _, err := os.Stat("/proc/self"); err != nil {
		t.Skip("/proc is not available on this platform")
	}

	info := Read(1 << 30) // pid that almost certainly does not exist
	if info.Comm != "" || info.Exe != "" || info.Cmdline != "" {
		t.Fatalf("Read(bogus pid) = %+v, want all fields empty", info)
	}
}

func TestStringFormatsWithoutData(t *testing.T) {
	info := Info{Pid: 99}
	if got, want := info.String(), "99"; got != want {
		t.Fatalf("String() = %q, want %q", got, want)
	}
}

func TestStringFormatsWithCommOnly(t *testing.T) {
	info := Info{Pid: 99, Comm: "sleep"}
	if got, want := info.String(), "99 (sleep)"; got != want {
		t.Fatalf("String() = %q, want %q", got, want)
	}
}
