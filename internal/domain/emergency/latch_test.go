package emergency

import "testing"

func TestLatch_ActivateDeactivate(t *testing.T) {
	t.Parallel()

	l := New()
	if l.IsActive() {
		t.Fatal("new latch must start inactive")
	}

	state := l.Activate("admin-1", "incident", "sess-1")
	if !state.Active || !l.IsActive() {
		t.Fatal("expected latch active after Activate")
	}
	if state.ActivatedBy != "admin-1" || state.Reason != "incident" || state.SessionID != "sess-1" {
		t.Errorf("state = %+v, want activatedBy/reason/sessionID recorded", state)
	}

	state = l.Deactivate("admin-2")
	if state.Active || l.IsActive() {
		t.Fatal("expected latch inactive after Deactivate")
	}
}

func TestLatch_Activate_AlreadyActiveIsNoop(t *testing.T) {
	t.Parallel()

	l := New()
	first := l.Activate("admin-1", "incident-a", "sess-1")
	second := l.Activate("admin-2", "incident-b", "sess-2")

	if second.ActivatedBy != first.ActivatedBy || second.Reason != first.Reason {
		t.Errorf("re-activating an active latch must not overwrite state: first=%+v second=%+v", first, second)
	}
}

func TestLatch_Deactivate_AlreadyInactiveIsNoop(t *testing.T) {
	t.Parallel()

	l := New()
	state := l.Deactivate("admin-1")
	if state.Active {
		t.Error("deactivating an inactive latch must remain inactive")
	}
}

func TestLatch_RecordBlocked_AccumulatesAcrossActivations(t *testing.T) {
	t.Parallel()

	l := New()
	l.Activate("admin-1", "incident", "sess-1")
	l.RecordBlocked()
	l.RecordBlocked()

	if got := l.Statistics().BlockedCount; got != 2 {
		t.Errorf("BlockedCount = %d, want 2", got)
	}

	l.Deactivate("admin-1")
	l.Activate("admin-1", "incident-2", "sess-2")
	if got := l.Statistics().BlockedCount; got != 2 {
		t.Errorf("BlockedCount after re-activation = %d, want 2 (counter is lifetime, not per-activation)", got)
	}
}
