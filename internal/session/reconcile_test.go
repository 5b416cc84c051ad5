package session

import (
	"testing"
	"time"
)

func TestReconcile_UnknownDevice(t *testing.T) {
	r, _ := newTestRegistry(t, sundayNoon)

	if _, err := r.Reconcile("ghost", "s1", true, "tok"); err != ErrUnknownDevice {
		t.Fatalf("Expected ErrUnknownDevice, got %v", err)
	}
}

func TestReconcile_ClientInactiveRetiresImmediately(t *testing.T) {
	r, _ := newTestRegistry(t, sundayNoon)
	registerTestDevice(t, r, "d1")

	if _, err := r.StartSession("d1", "s1", "tok"); err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}

	// The client dismissed its widget; the registry learns this here and
	// must not wait for the TTL sweep.
	result, err := r.Reconcile("d1", "", false, "")
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if result.Outcome != OutcomeRetired {
		t.Fatalf("Expected retired outcome, got %s", result.Outcome)
	}
	if _, ok := r.ForDevice("d1"); ok {
		t.Error("Expected no live session after inactive heartbeat")
	}
}

func TestReconcile_IdleWhenNeitherSideActive(t *testing.T) {
	r, _ := newTestRegistry(t, sundayNoon)
	registerTestDevice(t, r, "d1")

	result, err := r.Reconcile("d1", "", false, "")
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if result.Outcome != OutcomeIdle {
		t.Errorf("Expected idle outcome, got %s", result.Outcome)
	}
	if result.Session != nil {
		t.Errorf("Expected nil session, got %+v", result.Session)
	}
}

func TestReconcile_UnknownSessionRegistersFresh(t *testing.T) {
	r, _ := newTestRegistry(t, sundayNoon)
	registerTestDevice(t, r, "d1")

	// The client holds a session the server lost, e.g. across a restart.
	result, err := r.Reconcile("d1", "client-session", true, "client-token")
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if result.Outcome != OutcomeRegistered {
		t.Fatalf("Expected registered outcome, got %s", result.Outcome)
	}
	if result.Session == nil || result.Session.ID != "client-session" {
		t.Fatalf("Expected session client-session, got %+v", result.Session)
	}
	if result.Session.PushToken != "client-token" {
		t.Errorf("Expected client token adopted, got %q", result.Session.PushToken)
	}
	if result.Session.State != StateActive {
		t.Errorf("Expected active state, got %s", result.Session.State)
	}
}

func TestReconcile_MatchingSessionRefreshesHeartbeat(t *testing.T) {
	r, clock := newTestRegistry(t, sundayNoon)
	registerTestDevice(t, r, "d1")

	started, err := r.StartSession("d1", "s1", "tok")
	if err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}

	clock.Advance(10 * time.Minute)
	result, err := r.Reconcile("d1", "s1", true, "")
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if result.Outcome != OutcomeRefreshed {
		t.Fatalf("Expected refreshed outcome, got %s", result.Outcome)
	}
	if !result.Session.LastHeartbeatAt.After(started.LastHeartbeatAt) {
		t.Error("Expected heartbeat timestamp to advance")
	}
	// An omitted token must not clear the stored one.
	if result.Session.PushToken != "tok" {
		t.Errorf("Expected token preserved, got %q", result.Session.PushToken)
	}
}

func TestReconcile_MatchingSessionRotatesToken(t *testing.T) {
	r, _ := newTestRegistry(t, sundayNoon)
	registerTestDevice(t, r, "d1")

	if _, err := r.StartSession("d1", "s1", "old-token"); err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}

	result, err := r.Reconcile("d1", "s1", true, "new-token")
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if result.Session.PushToken != "new-token" {
		t.Errorf("Expected rotated token, got %q", result.Session.PushToken)
	}
}

func TestReconcile_OmittedSessionIDRefreshesLiveSession(t *testing.T) {
	r, clock := newTestRegistry(t, sundayNoon)
	registerTestDevice(t, r, "d1")

	started, err := r.StartSession("d1", "s1", "tok")
	if err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}
	view := View{TeamTotal: 42.5, ComputedAt: clock.Now()}
	if !r.CompletePush("s1", view, clock.Now()) {
		t.Fatal("CompletePush failed")
	}

	// Older clients heartbeat with only the active flag. That must not
	// replace the live session: a replacement drops LastPushed and forces
	// a redundant push every cycle.
	clock.Advance(10 * time.Minute)
	result, err := r.Reconcile("d1", "", true, "")
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if result.Outcome != OutcomeRefreshed {
		t.Fatalf("Expected refreshed outcome, got %s", result.Outcome)
	}
	if result.Session.ID != started.ID {
		t.Errorf("Expected session %s kept, got %s", started.ID, result.Session.ID)
	}
	if result.Session.LastPushed == nil || result.Session.LastPushed.TeamTotal != 42.5 {
		t.Errorf("Expected delivered view preserved, got %+v", result.Session.LastPushed)
	}
	if !result.Session.LastHeartbeatAt.After(started.LastHeartbeatAt) {
		t.Error("Expected heartbeat timestamp to advance")
	}
}

func TestReconcile_DifferentSessionReplacesLiveOne(t *testing.T) {
	r, _ := newTestRegistry(t, sundayNoon)
	registerTestDevice(t, r, "d1")

	if _, err := r.StartSession("d1", "s1", "tok"); err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}

	result, err := r.Reconcile("d1", "s2", true, "tok")
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if result.Outcome != OutcomeRegistered {
		t.Fatalf("Expected registered outcome, got %s", result.Outcome)
	}
	if _, ok := r.Get("s1"); ok {
		t.Error("Expected old session replaced")
	}
	if active, _ := r.Counts(); active != 1 {
		t.Errorf("Expected 1 active session, got %d", active)
	}
}
