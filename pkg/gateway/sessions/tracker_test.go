package sessions

import (
	"context"
	"testing"
	"time"
)

func TestTracker_RegisterUnregister(t *testing.T) {
	tr := NewTracker()
	un := tr.Register("s_1", Handle{})
	if tr.Count() != 1 {
		t.Fatalf("count=%d, want 1", tr.Count())
	}
	un()
	un() // idempotent
	if tr.Count() != 0 {
		t.Fatalf("count=%d, want 0", tr.Count())
	}
}

func TestTracker_ReplacingSessionIDReleasesOld(t *testing.T) {
	tr := NewTracker()
	tr.Register("s_1", Handle{})
	un2 := tr.Register("s_1", Handle{})
	if tr.Count() != 1 {
		t.Fatalf("count=%d, want 1", tr.Count())
	}
	un2()
	if !tr.Wait(contextWithTimeout(t, 500*time.Millisecond)) {
		t.Fatalf("wait should complete after replacement unregisters")
	}
}

func TestTracker_NotifyAndCancelAll(t *testing.T) {
	tr := NewTracker()
	var notified, canceled int
	tr.Register("s_1", Handle{
		Notify: func(code, message string) error { notified++; return nil },
		Cancel: func() { canceled++ },
	})
	tr.Register("s_2", Handle{
		Cancel: func() { canceled++ },
	})

	if got := tr.NotifyAll("draining", "shutting down"); got != 1 {
		t.Fatalf("notified=%d, want 1", got)
	}
	if got := tr.CancelAll(); got != 2 {
		t.Fatalf("canceled=%d, want 2", got)
	}
	if notified != 1 || canceled != 2 {
		t.Fatalf("notified=%d canceled=%d", notified, canceled)
	}
}

func TestTracker_Draining(t *testing.T) {
	tr := NewTracker()
	if tr.IsDraining() {
		t.Fatalf("new tracker should not be draining")
	}
	tr.SetDraining(true)
	if !tr.IsDraining() {
		t.Fatalf("expected draining")
	}
}

func TestTracker_WaitTimesOut(t *testing.T) {
	tr := NewTracker()
	tr.Register("s_1", Handle{})
	if tr.Wait(contextWithTimeout(t, 50*time.Millisecond)) {
		t.Fatalf("wait should time out while a session is registered")
	}
}

func contextWithTimeout(t *testing.T, d time.Duration) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), d)
	t.Cleanup(cancel)
	return ctx
}
