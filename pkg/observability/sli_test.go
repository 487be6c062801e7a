package observability

import (
	"testing"
)

func TestSLIRegister(t *testing.T) {
	r := NewSLIRegistry()
	err := r.Register(&SLI{
		SLIID:     "sli-1",
		Name:      "Append Latency",
		Operation: "receipt.append",
		Source:    SLISourceMetric,
		Unit:      "ms",
	})
	if err != nil {
		t.Fatal(err)
	}
	if r.Count() != 1 {
		t.Fatalf("expected 1, got %d", r.Count())
	}
}

func TestSLIRegisterMissingFields(t *testing.T) {
	r := NewSLIRegistry()
	err := r.Register(&SLI{SLIID: "sli-1"})
	if err == nil {
		t.Fatal("expected error for missing fields")
	}
}

func TestSLIByOperation(t *testing.T) {
	r := NewSLIRegistry()
	r.Register(&SLI{SLIID: "s1", Name: "a", Operation: "task.lease", Source: SLISourceMetric})
	r.Register(&SLI{SLIID: "s2", Name: "b", Operation: "task.lease", Source: SLISourceTrace})
	r.Register(&SLI{SLIID: "s3", Name: "c", Operation: "task.complete", Source: SLISourceLog})

	leases := r.ByOperation("task.lease")
	if len(leases) != 2 {
		t.Fatalf("expected 2 lease SLIs, got %d", len(leases))
	}
}

func TestSLILinkToSLO(t *testing.T) {
	r := NewSLIRegistry()
	r.Register(&SLI{SLIID: "s1", Name: "a", Operation: "receipt.append"})

	err := r.LinkToSLO("s1", "slo-1")
	if err != nil {
		t.Fatal(err)
	}

	sli, _ := r.Get("s1")
	if sli.LinkedSLOID != "slo-1" {
		t.Fatal("expected linked SLO")
	}
}

func TestSLIGetNotFound(t *testing.T) {
	r := NewSLIRegistry()
	_, err := r.Get("nonexistent")
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestDefaultSLIsRegister(t *testing.T) {
	r := NewSLIRegistry()
	for _, sli := range DefaultSLIs() {
		if err := r.Register(sli); err != nil {
			t.Fatalf("register %s: %v", sli.SLIID, err)
		}
	}
	if r.Count() != 3 {
		t.Fatalf("expected 3 defaults, got %d", r.Count())
	}
}
