package audit

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestAppendAndVerify(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")

	l, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	events := []SessionEvent{
		{Kind: EventSpawnSucceeded, Program: "/bin/sleep", Pid: 1234},
		{Kind: EventEngineStarted, Program: "/bin/sleep", Pid: 1234},
		{Kind: EventEngineStopped, Program: "/bin/sleep", Pid: 1234},
		{Kind: EventSessionEnded, Program: "/bin/sleep", Pid: 1234, Reason: "explicit_stop"},
	}
	for _, ev := range events {
		if _, err := LogSessionEvent(l, ev); err != nil {
			t.Fatalf("LogSessionEvent(%v): %v", ev.Kind, err)
		}
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	entries, err := Verify(path)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if len(entries) != len(events) {
		t.Fatalf("Verify() returned %d entries, want %d", len(entries), len(events))
	}
	if entries[0].PrevHash != GenesisHash {
		t.Fatalf("first entry PrevHash = %q, want genesis hash", entries[0].PrevHash)
	}
	for i := 1; i < len(entries); i++ {
		if entries[i].PrevHash != entries[i-1].EventHash {
			t.Fatalf("entry %d PrevHash = %q, want %q", i, entries[i].PrevHash, entries[i-1].EventHash)
		}
	}
}

func TestVerifyDetectsTampering(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")

	l, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := LogSessionEvent(l, SessionEvent{Kind: EventSpawnSucceeded, Pid: 1}); err != nil {
		t.Fatalf("LogSessionEvent: %v", err)
	}
	if _, err := LogSessionEvent(l, SessionEvent{Kind: EventEngineStarted, Pid: 1}); err != nil {
		t.Fatalf("LogSessionEvent: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	tampered := []byte(strings.Replace(string(data), `"pid":1`, `"pid":99`, 1))
	if err := os.WriteFile(path, tampered, 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if _, err := Verify(path); err == nil {
		t.Fatal("Verify() error = nil after tampering, want a hash mismatch error")
	}
}

func TestReopenContinuesChain(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")

	l1, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	first, err := LogSessionEvent(l1, SessionEvent{Kind: EventSpawnSucceeded, Pid: 1})
	if err != nil {
		t.Fatalf("LogSessionEvent: %v", err)
	}
	if err := l1.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	l2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen Open: %v", err)
	}
	second, err := LogSessionEvent(l2, SessionEvent{Kind: EventEngineStarted, Pid: 1})
	if err != nil {
		t.Fatalf("LogSessionEvent after reopen: %v", err)
	}
	if err := l2.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if second.Seq != first.Seq+1 {
		t.Fatalf("second.Seq = %d, want %d", second.Seq, first.Seq+1)
	}
	if second.PrevHash != first.EventHash {
		t.Fatalf("second.PrevHash = %q, want %q", second.PrevHash, first.EventHash)
	}
}
