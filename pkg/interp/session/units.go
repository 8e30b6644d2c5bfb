package session

import (
	"fmt"
	"log/slog"
	"time"
)

// UnitKind separates translation turns from action placeholder turns.
type UnitKind string

const (
	UnitOrdinary UnitKind = "ordinary"
	UnitAction   UnitKind = "action"
)

// TranslationUnit tracks one utterance's original text and its in-progress or
// finalized translation.
type TranslationUnit struct {
	ID               string
	Kind             UnitKind
	OriginalText     string
	OriginalLanguage Language
	TargetLanguage   Language
	AccumulatedText  string
	IsComplete       bool
	CreatedAt        time.Time
	CompletedAt      time.Time
}

// fallbackText is the recovery text when no translation was accumulated.
func (u TranslationUnit) fallbackText() string {
	if u.Kind == UnitAction {
		return "action status unknown — please verify"
	}
	return "no response received — please try again"
}

// ErrUnitOpen is returned by Open while another unit is still open. Callers
// must force-finalize the stale unit first; units are never silently dropped.
var ErrUnitOpen = fmt.Errorf("a translation unit is already open")

// UnitStore owns every translation unit of the live session. It is not
// goroutine safe: all access happens on the coordinator loop.
type UnitStore struct {
	logger *slog.Logger
	now    func() time.Time

	counter int64
	units   []*TranslationUnit
	open    *TranslationUnit

	lastTranslation string
}

func NewUnitStore(logger *slog.Logger, now func() time.Time) *UnitStore {
	if logger == nil {
		logger = slog.Default()
	}
	if now == nil {
		now = time.Now
	}
	return &UnitStore{logger: logger, now: now}
}

// Open creates a new unit and marks it as the single open unit. It fails when
// one is already open; the at-most-one-open invariant is enforced here, not
// papered over.
func (s *UnitStore) Open(kind UnitKind, original string, originalLang, targetLang Language) (*TranslationUnit, error) {
	if s.open != nil {
		return nil, ErrUnitOpen
	}
	s.counter++
	unit := &TranslationUnit{
		ID:               fmt.Sprintf("u_%d", s.counter),
		Kind:             kind,
		OriginalText:     original,
		OriginalLanguage: originalLang,
		TargetLanguage:   targetLang,
		CreatedAt:        s.now(),
	}
	s.units = append(s.units, unit)
	s.open = unit
	return unit, nil
}

// Active returns the currently open unit, or nil.
func (s *UnitStore) Active() *TranslationUnit {
	return s.open
}

// Append adds a streamed fragment to the open unit. Fragments addressed to a
// superseded unit are logged and ignored.
func (s *UnitStore) Append(unitID, fragment string) (*TranslationUnit, bool) {
	if s.open == nil || s.open.ID != unitID {
		s.logger.Warn("dropping fragment for non-open unit", "unit_id", unitID)
		return nil, false
	}
	s.open.AccumulatedText += fragment
	return s.open, true
}

// SetText replaces the open unit's accumulated text, used for placeholder
// text on action units.
func (s *UnitStore) SetText(unitID, text string) (*TranslationUnit, bool) {
	if s.open == nil || s.open.ID != unitID {
		return nil, false
	}
	s.open.AccumulatedText = text
	return s.open, true
}

// Finalize completes a unit through the normal path. An empty finalText falls
// back to the text already accumulated from deltas. Finalizing an
// already-complete unit is a no-op: multiple completion signals per utterance
// are expected upstream behavior. The last-translation slot is updated only
// here.
func (s *UnitStore) Finalize(unitID, finalText string) (*TranslationUnit, bool) {
	unit := s.lookup(unitID)
	if unit == nil {
		s.logger.Warn("finalize for unknown unit", "unit_id", unitID)
		return nil, false
	}
	if unit.IsComplete {
		return unit, false
	}
	if finalText != "" {
		unit.AccumulatedText = finalText
	}
	s.complete(unit)
	if unit.AccumulatedText != "" {
		s.lastTranslation = unit.AccumulatedText
	}
	return unit, true
}

// ForceFinalize completes a stalled unit with best-available text: the
// accumulated streamed text when present, the fallback otherwise. It never
// touches the last-translation slot, so a repeat request cannot replay
// recovery filler.
func (s *UnitStore) ForceFinalize(unitID, fallbackText string) (*TranslationUnit, bool) {
	unit := s.lookup(unitID)
	if unit == nil {
		return nil, false
	}
	if unit.IsComplete {
		return unit, false
	}
	if unit.AccumulatedText == "" {
		if fallbackText == "" {
			fallbackText = unit.fallbackText()
		}
		unit.AccumulatedText = fallbackText
	}
	s.complete(unit)
	return unit, true
}

// Override completes a unit with exactly the given text, bypassing the
// accumulated buffer. Used for side-effect confirmations. Idempotent like
// Finalize; does not update the last-translation slot.
func (s *UnitStore) Override(unitID, text string) (*TranslationUnit, bool) {
	unit := s.lookup(unitID)
	if unit == nil {
		return nil, false
	}
	if unit.IsComplete {
		return unit, false
	}
	unit.AccumulatedText = text
	s.complete(unit)
	return unit, true
}

// LastTranslation returns the most recently finalized translated text.
func (s *UnitStore) LastTranslation() string {
	return s.lastTranslation
}

// List returns a snapshot of all units in creation order.
func (s *UnitStore) List() []TranslationUnit {
	out := make([]TranslationUnit, 0, len(s.units))
	for _, u := range s.units {
		out = append(out, *u)
	}
	return out
}

// OpenCount reports how many units are currently incomplete.
func (s *UnitStore) OpenCount() int {
	n := 0
	for _, u := range s.units {
		if !u.IsComplete {
			n++
		}
	}
	return n
}

func (s *UnitStore) complete(unit *TranslationUnit) {
	unit.IsComplete = true
	unit.CompletedAt = s.now()
	if s.open != nil && s.open.ID == unit.ID {
		s.open = nil
	}
}

func (s *UnitStore) lookup(unitID string) *TranslationUnit {
	for i := len(s.units) - 1; i >= 0; i-- {
		if s.units[i].ID == unitID {
			return s.units[i]
		}
	}
	return nil
}
