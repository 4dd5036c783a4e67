package presence

import (
	"testing"
	"time"

	"depesha/internal/models"
)

func TestRegisterUnregister(t *testing.T) {
	r := NewRegistry()

	if r.IsOnline("u1") {
		t.Error("identity online before register")
	}

	ch := make(chan models.ServerMessage, 1)
	if prev := r.Register("u1", ch); prev != nil {
		t.Error("unexpected superseded handle on first register")
	}

	if !r.IsOnline("u1") {
		t.Error("identity not online after register")
	}
	got, ok := r.ConnectionFor("u1")
	if !ok || got != ch {
		t.Error("ConnectionFor did not return the registered handle")
	}

	if !r.Unregister("u1", ch) {
		t.Error("Unregister of registered handle returned false")
	}
	if r.IsOnline("u1") {
		t.Error("identity still online after unregister")
	}

	// Idempotent.
	if r.Unregister("u1", ch) {
		t.Error("second Unregister should be a no-op")
	}
}

func TestSupersede(t *testing.T) {
	r := NewRegistry()

	ch1 := make(chan models.ServerMessage, 1)
	ch2 := make(chan models.ServerMessage, 1)

	r.Register("u1", ch1)
	prev := r.Register("u1", ch2)
	if prev != ch1 {
		t.Error("expected first handle returned as superseded")
	}

	got, _ := r.ConnectionFor("u1")
	if got != ch2 {
		t.Error("second register did not replace the handle")
	}

	// The superseded connection tearing down must not knock the live
	// session offline.
	if r.Unregister("u1", ch1) {
		t.Error("Unregister with stale handle removed the live session")
	}
	if !r.IsOnline("u1") {
		t.Error("live session lost after stale unregister")
	}

	if !r.Unregister("u1", ch2) {
		t.Error("Unregister with current handle failed")
	}
}

func TestLastSeen(t *testing.T) {
	r := NewRegistry()
	r.now = func() time.Time { return time.Unix(1234, 0) }

	if got := r.StatusFor("u1"); got.LastSeen != 0 {
		t.Errorf("lastSeen should be zero before first offline transition, got %d", got.LastSeen)
	}

	ch := make(chan models.ServerMessage, 1)
	r.Register("u1", ch)
	if got := r.StatusFor("u1"); !got.Online {
		t.Error("expected online status")
	}

	r.Unregister("u1", ch)
	got := r.StatusFor("u1")
	if got.Online {
		t.Error("expected offline status")
	}
	if got.LastSeen != 1234 {
		t.Errorf("expected lastSeen 1234, got %d", got.LastSeen)
	}
}

func TestAllKnownWithStatus(t *testing.T) {
	r := NewRegistry()

	chA := make(chan models.ServerMessage, 1)
	chB := make(chan models.ServerMessage, 1)
	r.Register("a", chA)
	r.Register("b", chB)
	r.Unregister("b", chB)

	statuses := r.AllKnownWithStatus()
	if len(statuses) != 2 {
		t.Fatalf("expected 2 known identities, got %d", len(statuses))
	}

	byID := make(map[string]IdentityStatus)
	for _, s := range statuses {
		byID[s.Identity] = s
	}
	if !byID["a"].Online {
		t.Error("a should be online")
	}
	if byID["b"].Online {
		t.Error("b should be offline")
	}
	if byID["b"].LastSeen == 0 {
		t.Error("b should have lastSeen set")
	}
}

func TestConnectionsSnapshot(t *testing.T) {
	r := NewRegistry()

	chA := make(chan models.ServerMessage, 1)
	r.Register("a", chA)

	snapshot := r.Connections()
	if len(snapshot) != 1 || snapshot["a"] != chA {
		t.Fatalf("unexpected snapshot: %v", snapshot)
	}

	// Mutating the snapshot must not affect the registry.
	delete(snapshot, "a")
	if !r.IsOnline("a") {
		t.Error("registry mutated through snapshot")
	}
}
