package registry

import (
	"errors"
	"testing"

	"go.uber.org/zap"
)

func TestRegisterResolveRoundTrip(t *testing.T) {
	r := New(zap.NewNop())

	wait, err := r.Register(KindWait, "run1", "d1")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	r.Resolve(KindWait, "run1", "d1", []byte(`"ok"`))

	value, err := wait()
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if string(value) != `"ok"` {
		t.Fatalf("unexpected value: %s", value)
	}
}

func TestRegisterDuplicateKeyRejected(t *testing.T) {
	r := New(zap.NewNop())

	if _, err := r.Register(KindFetch, "run1", "f1"); err != nil {
		t.Fatalf("first Register: %v", err)
	}
	if _, err := r.Register(KindFetch, "run1", "f1"); !errors.Is(err, ErrDuplicateKey) {
		t.Fatalf("expected ErrDuplicateKey, got %v", err)
	}
}

func TestResolveUnknownKeyIsNotAnError(t *testing.T) {
	r := New(zap.NewNop())

	// No panic, no error return path exists at all — Resolve is void.
	r.Resolve(KindWait, "run99", "unknown", []byte("null"))
}

func TestClearRunRejectsOutstandingCalls(t *testing.T) {
	r := New(zap.NewNop())

	wait1, _ := r.Register(KindFetch, "run1", "a")
	wait2, _ := r.Register(KindWait, "run1", "b")
	waitOther, _ := r.Register(KindFetch, "run2", "a")

	r.ClearRun("run1")

	if _, err := wait1(); !errors.Is(err, ErrRunTornDown) {
		t.Fatalf("expected ErrRunTornDown, got %v", err)
	}
	if _, err := wait2(); !errors.Is(err, ErrRunTornDown) {
		t.Fatalf("expected ErrRunTornDown, got %v", err)
	}

	r.Resolve(KindFetch, "run2", "a", []byte("1"))
	if v, err := waitOther(); err != nil || string(v) != "1" {
		t.Fatalf("expected other run unaffected, got %s, %v", v, err)
	}
}

func TestShutdownRejectsEveryRun(t *testing.T) {
	r := New(zap.NewNop())

	wait1, _ := r.Register(KindFetch, "run1", "a")
	wait2, _ := r.Register(KindWait, "run2", "b")

	r.Shutdown()

	if _, err := wait1(); !errors.Is(err, ErrRunTornDown) {
		t.Fatalf("expected ErrRunTornDown, got %v", err)
	}
	if _, err := wait2(); !errors.Is(err, ErrRunTornDown) {
		t.Fatalf("expected ErrRunTornDown, got %v", err)
	}
}

func TestKeysAreIsolatedPerKind(t *testing.T) {
	r := New(zap.NewNop())

	waitFetch, _ := r.Register(KindFetch, "run1", "k")
	_, _ = r.Register(KindWait, "run1", "k")

	r.Resolve(KindFetch, "run1", "k", []byte("1"))

	if r.Pending(KindWait) != 1 {
		t.Fatalf("expected KindWait call to remain pending, Pending=%d", r.Pending(KindWait))
	}

	v, err := waitFetch()
	if err != nil || string(v) != "1" {
		t.Fatalf("unexpected fetch result: %s, %v", v, err)
	}
}
