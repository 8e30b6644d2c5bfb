package session

import (
	"testing"
	"time"
)

func collectFire(t *testing.T, fires <-chan recoveryFire, within time.Duration) (recoveryFire, bool) {
	t.Helper()
	select {
	case fire := <-fires:
		return fire, true
	case <-time.After(within):
		return recoveryFire{}, false
	}
}

func TestRecoveryCeilingFires(t *testing.T) {
	fires := make(chan recoveryFire, 1)
	r := NewRecoverySupervisor(10*time.Millisecond, 30*time.Millisecond, fires)

	r.Arm("u_1")
	fire, ok := collectFire(t, fires, time.Second)
	if !ok {
		t.Fatal("ceiling never fired")
	}
	if fire.UnitID != "u_1" || fire.Layer != LayerCeiling {
		t.Fatalf("fire = %+v, want u_1/ceiling", fire)
	}
	if got := r.State(); got != RecoveryEscalated {
		t.Fatalf("State() = %q, want escalated", got)
	}
}

func TestRecoveryGraceFiresBeforeCeiling(t *testing.T) {
	fires := make(chan recoveryFire, 1)
	r := NewRecoverySupervisor(10*time.Millisecond, 500*time.Millisecond, fires)

	r.Arm("u_1")
	r.StartGrace("u_1")
	fire, ok := collectFire(t, fires, time.Second)
	if !ok {
		t.Fatal("grace never fired")
	}
	if fire.Layer != LayerGrace {
		t.Fatalf("fire.Layer = %q, want grace", fire.Layer)
	}
}

func TestRecoveryCancelStopsTimers(t *testing.T) {
	fires := make(chan recoveryFire, 1)
	r := NewRecoverySupervisor(10*time.Millisecond, 20*time.Millisecond, fires)

	r.Arm("u_1")
	r.StartGrace("u_1")
	r.Cancel("u_1")

	if _, ok := collectFire(t, fires, 80*time.Millisecond); ok {
		t.Fatal("cancelled timer still fired")
	}
	if got := r.State(); got != RecoveryResolved {
		t.Fatalf("State() = %q, want resolved", got)
	}
}

func TestRecoveryRearmSupersedesOldUnit(t *testing.T) {
	fires := make(chan recoveryFire, 2)
	r := NewRecoverySupervisor(10*time.Millisecond, 30*time.Millisecond, fires)

	r.Arm("u_1")
	r.Arm("u_2")

	fire, ok := collectFire(t, fires, time.Second)
	if !ok {
		t.Fatal("ceiling never fired")
	}
	if fire.UnitID != "u_2" {
		t.Fatalf("fire.UnitID = %q, want u_2", fire.UnitID)
	}
	if _, ok := collectFire(t, fires, 80*time.Millisecond); ok {
		t.Fatal("stale timer for u_1 fired after re-arm")
	}
}

func TestRecoveryGraceIgnoresForeignUnit(t *testing.T) {
	fires := make(chan recoveryFire, 1)
	r := NewRecoverySupervisor(10*time.Millisecond, time.Second, fires)

	r.Arm("u_2")
	r.StartGrace("u_1")

	if _, ok := collectFire(t, fires, 80*time.Millisecond); ok {
		t.Fatal("grace fired for a unit that is not armed")
	}
}

func TestRecoveryCancelIgnoresForeignUnit(t *testing.T) {
	fires := make(chan recoveryFire, 1)
	r := NewRecoverySupervisor(10*time.Millisecond, 30*time.Millisecond, fires)

	r.Arm("u_2")
	r.Cancel("u_1")

	if _, ok := collectFire(t, fires, time.Second); !ok {
		t.Fatal("ceiling for u_2 was cancelled by a foreign unit ID")
	}
}
