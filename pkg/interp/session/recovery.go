package session

import (
	"sync"
	"time"
)

// RecoveryLayer names which timeout layer fired.
type RecoveryLayer string

const (
	// LayerGrace is the short window allowed for late transcript events
	// after the backend signals output finished.
	LayerGrace RecoveryLayer = "grace"
	// LayerCeiling is the hard bound from response_begin, independent of
	// which transcript events do or do not arrive.
	LayerCeiling RecoveryLayer = "ceiling"
)

// RecoveryState tracks the supervisor's position in its state machine.
type RecoveryState string

const (
	RecoveryIdle      RecoveryState = "idle"
	RecoveryArmed     RecoveryState = "armed"
	RecoveryResolved  RecoveryState = "resolved"
	RecoveryEscalated RecoveryState = "escalated"
)

// recoveryFire re-enters the coordinator loop when a timeout layer elapses.
// Fires are keyed by unit ID so a stale timer cannot act on a newer unit.
type recoveryFire struct {
	UnitID string
	Layer  RecoveryLayer
}

// RecoverySupervisor force-completes stalled units via two timeout layers.
// Timers never mutate coordinator state directly: they enqueue a fire record
// which the single-threaded loop applies, so a transcript event and a timer
// racing are ordered by whichever is enqueued first.
type RecoverySupervisor struct {
	grace   time.Duration
	ceiling time.Duration
	fires   chan<- recoveryFire

	mu           sync.Mutex
	state        RecoveryState
	unitID       string
	graceTimer   *time.Timer
	ceilingTimer *time.Timer
}

func NewRecoverySupervisor(grace, ceiling time.Duration, fires chan<- recoveryFire) *RecoverySupervisor {
	if grace <= 0 {
		grace = 1200 * time.Millisecond
	}
	if ceiling <= 0 {
		ceiling = 4 * time.Second
	}
	return &RecoverySupervisor{
		grace:   grace,
		ceiling: ceiling,
		fires:   fires,
		state:   RecoveryIdle,
	}
}

// Arm starts the hard ceiling for the given unit. Any previously armed timers
// are cancelled first, so re-arming for a newer unit cannot leak a stale fire.
func (r *RecoverySupervisor) Arm(unitID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.stopLocked()
	r.unitID = unitID
	r.state = RecoveryArmed
	r.ceilingTimer = time.AfterFunc(r.ceiling, func() {
		r.fire(unitID, LayerCeiling)
	})
}

// StartGrace starts the short window for late-arriving transcript events
// after an output-finished signal with no usable text. The ceiling keeps
// running; whichever layer elapses first escalates.
func (r *RecoverySupervisor) StartGrace(unitID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.unitID != unitID {
		// The grace request belongs to a superseded unit.
		return
	}
	if r.graceTimer != nil {
		r.graceTimer.Stop()
	}
	r.graceTimer = time.AfterFunc(r.grace, func() {
		r.fire(unitID, LayerGrace)
	})
}

// Cancel stops both timers when keyed to the given unit. Every normal
// finalize path must call this.
func (r *RecoverySupervisor) Cancel(unitID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.unitID != unitID {
		return
	}
	r.stopLocked()
	r.state = RecoveryResolved
}

// CancelAll stops everything, used on session teardown.
func (r *RecoverySupervisor) CancelAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopLocked()
	r.state = RecoveryIdle
}

// State returns the supervisor state for observability.
func (r *RecoverySupervisor) State() RecoveryState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *RecoverySupervisor) fire(unitID string, layer RecoveryLayer) {
	r.mu.Lock()
	if r.unitID != unitID {
		r.mu.Unlock()
		return
	}
	r.state = RecoveryEscalated
	r.mu.Unlock()

	select {
	case r.fires <- recoveryFire{UnitID: unitID, Layer: layer}:
	default:
		// The loop is gone or saturated; dropping is safe because the
		// coordinator re-checks the open unit on every fire anyway.
	}
}

func (r *RecoverySupervisor) stopLocked() {
	if r.graceTimer != nil {
		r.graceTimer.Stop()
		r.graceTimer = nil
	}
	if r.ceilingTimer != nil {
		r.ceilingTimer.Stop()
		r.ceilingTimer = nil
	}
	r.unitID = ""
}
