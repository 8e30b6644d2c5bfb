package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/medvoz/interp/pkg/interp/metrics"
	"github.com/medvoz/interp/pkg/interp/protocol"
)

// Transport is the physical realtime channel to the AI backend. The
// coordinator never dials or owns it; it only consumes events and sends
// instructions.
type Transport interface {
	Send(ctx context.Context, message any) error
	Events() <-chan protocol.ServerEvent
	Close() error
}

// Store is the persistence collaborator. Every call is best-effort: failures
// are logged and surfaced as status, never fatal to the live turn.
type Store interface {
	SaveMessage(ctx context.Context, sessionID, role, content string, meta map[string]any) error
	EndSession(ctx context.Context, sessionID string) error
	GenerateSummary(ctx context.Context, sessionID string) (string, error)
}

// FragmentKind tags a queued fragment.
type FragmentKind string

const (
	FragmentDelta FragmentKind = "delta"
	FragmentFinal FragmentKind = "final"
)

// PendingFragment holds a fragment that arrived before it could be attributed
// to an open unit. The queue is FIFO and cleared once drained.
type PendingFragment struct {
	Kind FragmentKind
	Text string
}

// Config bounds the coordinator's timers.
type Config struct {
	ResponseGrace   time.Duration
	ResponseCeiling time.Duration
	ActionTimeout   time.Duration
	PersistTimeout  time.Duration
}

// Dependencies wires a Coordinator.
type Dependencies struct {
	Transport Transport
	Store     Store
	Handlers  map[ActionType]ActionHandler
	Logger    *slog.Logger
	Metrics   *metrics.Metrics
	Notifier  *Notifier
	Config    Config
	Now       func() time.Time

	// OnReady is invoked on the loop goroutine when the upstream channel is
	// negotiated; it returns the session identity issued by the lifecycle
	// manager. When nil, the coordinator issues its own.
	OnReady func() string
}

// Coordinator is the protocol event router. It normalizes the transport's
// event stream and drives the unit store, command interceptor, recovery
// supervisor and side-effect dispatcher from a single goroutine: exactly one
// event handler body runs to completion before the next is dispatched. Timer
// fires and detached action results re-enter the same loop.
type Coordinator struct {
	transport Transport
	store     Store
	logger    *slog.Logger
	metrics   *metrics.Metrics
	notifier  *Notifier
	cfg       Config
	now       func() time.Time
	onReady   func() string

	units      *UnitStore
	recovery   *RecoverySupervisor
	dispatcher *Dispatcher

	fires   chan recoveryFire
	results chan actionResult
	stopCh  chan stopRequest

	sessionID          string
	userTurnInProgress bool
	pending            []PendingFragment
	armPending         bool

	// pendingActionUnit correlates the placeholder unit opened on a
	// classified action utterance with the action_requested event that
	// follows it.
	pendingActionUnit string
}

type stopRequest struct {
	done chan struct{}
}

func New(deps Dependencies) (*Coordinator, error) {
	if deps.Transport == nil {
		return nil, fmt.Errorf("transport is required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Notifier == nil {
		deps.Notifier = &Notifier{}
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Config.ResponseGrace <= 0 {
		deps.Config.ResponseGrace = 1200 * time.Millisecond
	}
	if deps.Config.ResponseCeiling <= 0 {
		deps.Config.ResponseCeiling = 4 * time.Second
	}
	if deps.Config.ActionTimeout <= 0 {
		deps.Config.ActionTimeout = 10 * time.Second
	}
	if deps.Config.PersistTimeout <= 0 {
		deps.Config.PersistTimeout = 10 * time.Second
	}

	fires := make(chan recoveryFire, 8)
	results := make(chan actionResult, 8)

	c := &Coordinator{
		transport:  deps.Transport,
		store:      deps.Store,
		logger:     deps.Logger,
		metrics:    deps.Metrics,
		notifier:   deps.Notifier,
		cfg:        deps.Config,
		now:        deps.Now,
		onReady:    deps.OnReady,
		units:      NewUnitStore(deps.Logger, deps.Now),
		recovery:   NewRecoverySupervisor(deps.Config.ResponseGrace, deps.Config.ResponseCeiling, fires),
		fires:      fires,
		results:    results,
		stopCh:     make(chan stopRequest),
	}
	c.dispatcher = NewDispatcher(deps.Logger, deps.Handlers, deps.Config.ActionTimeout, results)
	return c, nil
}

// Subscribe installs the presentation listener. Last subscriber wins.
func (c *Coordinator) Subscribe(fn func(Notification)) {
	c.notifier.Subscribe(fn)
}

// Run drains the transport until the context is cancelled, a stop is
// requested, or the transport fails. The returned error is non-nil only for
// transport failures (and context cancellation).
func (c *Coordinator) Run(ctx context.Context) error {
	defer c.recovery.CancelAll()

	for {
		select {
		case <-ctx.Done():
			c.closeOpenUnit("session stopped")
			return ctx.Err()
		case req := <-c.stopCh:
			c.closeOpenUnit("session stopped")
			close(req.done)
			return nil
		case ev, ok := <-c.transport.Events():
			if !ok {
				c.closeOpenUnit("transport closed")
				return newTransportError("event stream closed", nil)
			}
			if fatal := c.handleEvent(ctx, ev); fatal != nil {
				c.closeOpenUnit("transport failed")
				return fatal
			}
		case fire := <-c.fires:
			c.handleRecoveryFire(fire)
		case res := <-c.results:
			c.handleActionResult(ctx, res)
		}
	}
}

// Shutdown asks the loop to force-finalize any open unit and return. Safe to
// call from any goroutine.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	req := stopRequest{done: make(chan struct{})}
	select {
	case c.stopCh <- req:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-req.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SessionID returns the identity issued on channel_ready, or empty.
func (c *Coordinator) SessionID() string {
	return c.sessionID
}

func (c *Coordinator) handleEvent(ctx context.Context, ev protocol.ServerEvent) *Error {
	switch e := ev.(type) {
	case protocol.ChannelReady:
		if c.onReady != nil {
			c.sessionID = c.onReady()
		} else {
			c.sessionID = uuid.NewString()
		}
		c.logger.Info("channel ready", "session_id", c.sessionID)
		c.notifier.publish(StatusChanged{State: StateActive})
	case protocol.TurnBegin:
		c.userTurnInProgress = true
	case protocol.TurnEnd:
		c.logger.Debug("turn ended")
	case protocol.UtteranceFinalized:
		c.handleUtterance(ctx, e.Text)
	case protocol.ResponseBegin:
		if open := c.units.Active(); open != nil {
			c.recovery.Arm(open.ID)
		} else {
			// Finalization has not been processed yet; arm once the
			// unit opens.
			c.armPending = true
		}
	case protocol.StreamingFragment:
		c.handleFragment(e.Delta)
	case protocol.ResponseEnd:
		c.handleResponseEnd(e.Text)
	case protocol.ActionRequested:
		c.handleActionRequested(ctx, e)
	case protocol.ErrorEvent:
		return newTransportError(e.Message, nil)
	default:
		c.logger.Warn("skipping unhandled event", "type", ev.EventType())
	}
	return nil
}

func (c *Coordinator) handleUtterance(ctx context.Context, text string) {
	match := Classify(text)
	c.metrics.RecordCommand(string(match.Kind))

	switch match.Kind {
	case CommandRepeat:
		// No unit opens for a repeat; anything queued or armed belongs to a
		// previous turn.
		c.pending = nil
		c.armPending = false
		last := c.units.LastTranslation()
		if last == "" {
			// Nothing to replay; deliberately a no-op.
			c.logger.Info("repeat requested with no prior translation")
			c.notifier.publish(StatusChanged{State: StateActive, Message: "nothing to repeat yet"})
			break
		}
		c.send(ctx, protocol.NewReplay(last))
	case CommandAction:
		c.closeOpenUnit("superseded by action")
		unit, err := c.units.Open(UnitAction, text, match.Language, match.Language.Other())
		if err != nil {
			c.logger.Error("open action unit", "err", err)
			break
		}
		c.units.SetText(unit.ID, match.Action.Placeholder())
		c.metrics.RecordUnitOpened(string(UnitAction))
		c.notifier.publish(UnitCreated{Unit: *unit})
		// Bound the placeholder: if the backend never requests the action
		// or the handler stalls, the ceiling recovers the unit.
		c.recovery.Arm(unit.ID)
		c.pending = nil
		c.armPending = false
		c.pendingActionUnit = unit.ID
	case CommandOrdinary:
		c.closeOpenUnit("superseded by new utterance")
		unit, err := c.units.Open(UnitOrdinary, text, match.Language, match.Language.Other())
		if err != nil {
			c.logger.Error("open unit", "err", err)
			break
		}
		c.metrics.RecordUnitOpened(string(UnitOrdinary))
		c.notifier.publish(UnitCreated{Unit: *unit})
		if c.armPending {
			c.recovery.Arm(unit.ID)
			c.armPending = false
		}
		c.drainPending(unit.ID)
	}

	c.userTurnInProgress = false
}

func (c *Coordinator) handleFragment(delta string) {
	open := c.units.Active()
	if open == nil {
		if c.userTurnInProgress {
			// Fragments can outrun the finalized utterance; queue instead of
			// dropping.
			c.pending = append(c.pending, PendingFragment{Kind: FragmentDelta, Text: delta})
			return
		}
		// No turn underway: this is a stale fragment for an already-complete
		// unit, not the pre-open race.
		c.logger.Debug("dropping fragment with no open unit")
		return
	}
	if open.Kind == UnitAction {
		// Ordinary translation is suppressed for action turns.
		c.logger.Debug("dropping fragment during action turn", "unit_id", open.ID)
		return
	}
	unit, ok := c.units.Append(open.ID, delta)
	if ok {
		c.notifier.publish(UnitUpdated{Unit: *unit})
	}
}

func (c *Coordinator) handleResponseEnd(text string) {
	open := c.units.Active()
	if open == nil {
		if text != "" && c.userTurnInProgress {
			c.pending = append(c.pending, PendingFragment{Kind: FragmentFinal, Text: text})
		} else if text != "" {
			// Duplicate completion for an already-finalized unit; expected
			// upstream behavior, never re-attributed to a later unit.
			c.logger.Debug("dropping completion with no open unit")
		}
		return
	}
	if open.Kind == UnitAction {
		// Action turns complete through the dispatcher, not the response
		// stream.
		return
	}
	switch {
	case text != "":
		c.finalizeNormal(open.ID, text)
	case open.AccumulatedText != "":
		c.finalizeNormal(open.ID, "")
	default:
		// No text anywhere yet. The true final transcript sometimes
		// arrives after this signal, so hold the unit open for the grace
		// window rather than finalizing empty.
		c.recovery.StartGrace(open.ID)
	}
}

func (c *Coordinator) handleActionRequested(ctx context.Context, ev protocol.ActionRequested) {
	action := ActionType(ev.Name)
	unitID := c.pendingActionUnit
	c.pendingActionUnit = ""
	c.dispatcher.Dispatch(ctx, ev.CallID, unitID, action, ev.ArgumentsJSON)
}

func (c *Coordinator) handleRecoveryFire(fire recoveryFire) {
	open := c.units.Active()
	if open == nil || open.ID != fire.UnitID {
		// Stale timer for a unit that already finalized.
		return
	}
	unit, changed := c.units.ForceFinalize(fire.UnitID, "")
	if !changed {
		return
	}
	c.recovery.Cancel(fire.UnitID)
	c.userTurnInProgress = false
	c.pending = nil
	c.armPending = false
	c.pendingActionUnit = ""

	c.logger.Warn("force-finalized stalled unit",
		"unit_id", unit.ID, "layer", string(fire.Layer))
	c.metrics.RecordRecovery(string(fire.Layer))
	c.metrics.RecordUnitFinalized("recovered")
	c.notifier.publish(UnitFinalized{Unit: *unit, Recovered: true})
	c.notifier.publish(StatusChanged{
		State: StateActive,
		Err:   newStallError("no completion signal within timeout"),
	})
	c.persistUnit(unit)
}

func (c *Coordinator) handleActionResult(ctx context.Context, res actionResult) {
	if res.Err != nil {
		c.logger.Warn("action dispatch failed",
			"action", string(res.Action), "call_id", res.CallID, "err", res.Err)
		c.notifier.publish(StatusChanged{
			State: StateActive,
			Err:   newActionDispatchError(string(res.Action), res.Err),
		})
		if res.UnitID != "" {
			if unit, changed := c.units.Override(res.UnitID, "action failed — please try again"); changed {
				c.recovery.Cancel(res.UnitID)
				c.pending = nil
				c.metrics.RecordUnitFinalized("action_failed")
				c.notifier.publish(UnitFinalized{Unit: *unit})
				c.persistUnit(unit)
			}
		}
		return
	}

	c.send(ctx, protocol.NewActionAck(res.CallID, "ok"))
	if res.UnitID != "" {
		if unit, changed := c.units.Override(res.UnitID, res.Action.Confirmation()); changed {
			c.recovery.Cancel(res.UnitID)
			c.pending = nil
			c.metrics.RecordUnitFinalized("action")
			c.notifier.publish(UnitFinalized{Unit: *unit})
			c.persistUnit(unit)
		}
	}
	c.scheduleSummary()
}

func (c *Coordinator) finalizeNormal(unitID, text string) {
	unit, changed := c.units.Finalize(unitID, text)
	if !changed {
		return
	}
	c.recovery.Cancel(unitID)
	c.pending = nil
	c.armPending = false
	c.metrics.RecordUnitFinalized("normal")
	c.notifier.publish(UnitFinalized{Unit: *unit})
	c.persistUnit(unit)
}

// closeOpenUnit force-finalizes any open unit before the state moves on.
// Units are never silently dropped.
func (c *Coordinator) closeOpenUnit(reason string) {
	open := c.units.Active()
	if open == nil {
		return
	}
	unit, changed := c.units.ForceFinalize(open.ID, "")
	if !changed {
		return
	}
	c.recovery.Cancel(unit.ID)
	c.pending = nil
	c.armPending = false
	c.logger.Info("force-finalized open unit", "unit_id", unit.ID, "reason", reason)
	c.metrics.RecordUnitFinalized("superseded")
	c.notifier.publish(UnitFinalized{Unit: *unit, Recovered: true})
	c.persistUnit(unit)
}

func (c *Coordinator) drainPending(unitID string) {
	queued := c.pending
	c.pending = nil
	for _, frag := range queued {
		switch frag.Kind {
		case FragmentDelta:
			if unit, ok := c.units.Append(unitID, frag.Text); ok {
				c.notifier.publish(UnitUpdated{Unit: *unit})
			}
		case FragmentFinal:
			c.finalizeNormal(unitID, frag.Text)
		}
	}
}

func (c *Coordinator) send(ctx context.Context, message any) {
	if err := c.transport.Send(ctx, message); err != nil {
		c.logger.Warn("outbound send failed", "err", err)
		c.notifier.publish(StatusChanged{
			State: StateActive,
			Err:   newTransportError("outbound send failed", err),
		})
	}
}

// persistUnit saves both sides of a finalized unit as detached, best-effort
// work. The live turn never waits on it.
func (c *Coordinator) persistUnit(unit *TranslationUnit) {
	if c.store == nil || c.sessionID == "" {
		return
	}
	sessionID := c.sessionID
	snapshot := *unit
	timeout := c.cfg.PersistTimeout

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		meta := map[string]any{
			"unit_id":           snapshot.ID,
			"unit_kind":         string(snapshot.Kind),
			"original_language": string(snapshot.OriginalLanguage),
			"target_language":   string(snapshot.TargetLanguage),
		}
		if err := c.store.SaveMessage(ctx, sessionID, "user", snapshot.OriginalText, meta); err != nil {
			c.reportPersistence("save original", err)
			return
		}
		if err := c.store.SaveMessage(ctx, sessionID, "interpreter", snapshot.AccumulatedText, meta); err != nil {
			c.reportPersistence("save translation", err)
		}
	}()
}

// scheduleSummary kicks off summary generation as fire-and-forget work.
func (c *Coordinator) scheduleSummary() {
	if c.store == nil || c.sessionID == "" {
		return
	}
	sessionID := c.sessionID
	timeout := c.cfg.PersistTimeout

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if _, err := c.store.GenerateSummary(ctx, sessionID); err != nil {
			c.reportPersistence("generate summary", err)
		}
	}()
}

func (c *Coordinator) reportPersistence(op string, err error) {
	c.logger.Warn("persistence call failed", "op", op, "err", err)
	c.metrics.RecordPersistenceFailure()
	c.notifier.publish(StatusChanged{
		State: StateActive,
		Err:   newPersistenceError(op, err),
	})
}
