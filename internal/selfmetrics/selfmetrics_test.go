package selfmetrics

import "testing"

func TestCollectPopulatesStaticFields(t *testing.T) {
	snap := Collect()

	if snap.OS == "" {
		t.Fatal("expected non-empty OS")
	}
	if snap.Arch == "" {
		t.Fatal("expected non-empty Arch")
	}
	if snap.GoVersion == "" {
		t.Fatal("expected non-empty GoVersion")
	}
	if snap.NumCPU <= 0 {
		t.Fatalf("expected positive NumCPU, got %d", snap.NumCPU)
	}
	if snap.PID <= 0 {
		t.Fatalf("expected positive PID, got %d", snap.PID)
	}
}
