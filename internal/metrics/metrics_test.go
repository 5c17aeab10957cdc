package metrics

import "testing"

func TestMetricKindTable(t *testing.T) {
	cases := []struct {
		kind   MetricKind
		family Family
		name   string
		unit   string
	}{
		{Instructions, Hardware, "instructions", "count"},
		{CPUCycles, Hardware, "cpu_cycles", "cycles"},
		{CacheMisses, Hardware, "cache_misses", "misses"},
		{CacheReferences, Hardware, "cache_references", "references"},
		{BranchMisses, Hardware, "branch_misses", "misses"},
		{PageFaults, Software, "page_faults", "faults"},
		{ContextSwitches, Software, "context_switches", "switches"},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if !c.kind.Valid() {
				t.Fatalf("%v: expected Valid", c.kind)
			}
			if got := c.kind.Family(); got != c.family {
				t.Errorf("Family() = %v, want %v", got, c.family)
			}
			if got := c.kind.Name(); got != c.name {
				t.Errorf("Name() = %q, want %q", got, c.name)
			}
			if got := c.kind.Unit(); got != c.unit {
				t.Errorf("Unit() = %q, want %q", got, c.unit)
			}
			if got := c.kind.String(); got != c.name {
				t.Errorf("String() = %q, want %q", got, c.name)
			}
		})
	}
}

func TestMetricKindInvalid(t *testing.T) {
	k := MetricKind(99)
	if k.Valid() {
		t.Fatalf("expected MetricKind(99) to be invalid")
	}
	if got, want := k.String(), "MetricKind(99)"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}

func TestSnapshotFind(t *testing.T) {
	snap := Snapshot{
		TimestampMs: 1000,
		DurationMs:  500,
		Metrics: []Sample{
			{Kind: CPUCycles, Delta: 10, Name: "cpu_cycles", Unit: "cycles"},
			{Kind: Instructions, Delta: 20, Name: "instructions", Unit: "count"},
		},
	}

	if s := snap.Find(Instructions); s == nil || s.Delta != 20 {
		t.Fatalf("Find(Instructions) = %+v, want delta 20", s)
	}
	if s := snap.Find(PageFaults); s != nil {
		t.Fatalf("Find(PageFaults) = %+v, want nil", s)
	}
}
