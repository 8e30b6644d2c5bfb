package session

import (
	"errors"
	"testing"
)

func newTestUnitStore() *UnitStore {
	return NewUnitStore(nil, nil)
}

func TestUnitStoreSingleOpenUnit(t *testing.T) {
	s := newTestUnitStore()

	first, err := s.Open(UnitOrdinary, "hello", LanguageEnglish, LanguageSpanish)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if s.Active() == nil || s.Active().ID != first.ID {
		t.Fatalf("Active() = %v, want %s", s.Active(), first.ID)
	}

	if _, err := s.Open(UnitOrdinary, "again", LanguageEnglish, LanguageSpanish); !errors.Is(err, ErrUnitOpen) {
		t.Fatalf("second Open err = %v, want ErrUnitOpen", err)
	}

	s.Finalize(first.ID, "hola")
	if s.Active() != nil {
		t.Fatal("Active() non-nil after finalize")
	}
	if _, err := s.Open(UnitOrdinary, "again", LanguageEnglish, LanguageSpanish); err != nil {
		t.Fatalf("Open after finalize: %v", err)
	}
	if got := s.OpenCount(); got != 1 {
		t.Fatalf("OpenCount() = %d, want 1", got)
	}
}

func TestUnitStoreAppend(t *testing.T) {
	s := newTestUnitStore()
	unit, _ := s.Open(UnitOrdinary, "hello", LanguageEnglish, LanguageSpanish)

	s.Append(unit.ID, "ho")
	got, ok := s.Append(unit.ID, "la")
	if !ok || got.AccumulatedText != "hola" {
		t.Fatalf("AccumulatedText = %q, want hola", got.AccumulatedText)
	}

	// Fragments addressed to a non-open unit are dropped.
	if _, ok := s.Append("u_999", "xx"); ok {
		t.Fatal("Append to unknown unit succeeded")
	}
	s.Finalize(unit.ID, "")
	if _, ok := s.Append(unit.ID, "late"); ok {
		t.Fatal("Append to finalized unit succeeded")
	}
	if u := s.lookup(unit.ID); u.AccumulatedText != "hola" {
		t.Fatalf("late fragment mutated unit: %q", u.AccumulatedText)
	}
}

func TestUnitStoreFinalize(t *testing.T) {
	s := newTestUnitStore()
	unit, _ := s.Open(UnitOrdinary, "hello", LanguageEnglish, LanguageSpanish)
	s.Append(unit.ID, "ho")

	got, changed := s.Finalize(unit.ID, "hola")
	if !changed {
		t.Fatal("Finalize reported no change")
	}
	if !got.IsComplete || got.AccumulatedText != "hola" {
		t.Fatalf("unit after finalize: complete=%v text=%q", got.IsComplete, got.AccumulatedText)
	}
	if got.CompletedAt.IsZero() {
		t.Fatal("CompletedAt not set")
	}
	if s.LastTranslation() != "hola" {
		t.Fatalf("LastTranslation() = %q, want hola", s.LastTranslation())
	}

	// A second completion signal for the same unit is a no-op.
	if _, changed := s.Finalize(unit.ID, "something else"); changed {
		t.Fatal("second Finalize reported a change")
	}
	if s.lookup(unit.ID).AccumulatedText != "hola" {
		t.Fatal("second Finalize mutated text")
	}
}

func TestUnitStoreFinalizeFallsBackToAccumulated(t *testing.T) {
	s := newTestUnitStore()
	unit, _ := s.Open(UnitOrdinary, "hello", LanguageEnglish, LanguageSpanish)
	s.Append(unit.ID, "hola")

	got, _ := s.Finalize(unit.ID, "")
	if got.AccumulatedText != "hola" {
		t.Fatalf("AccumulatedText = %q, want accumulated hola", got.AccumulatedText)
	}
	if s.LastTranslation() != "hola" {
		t.Fatalf("LastTranslation() = %q, want hola", s.LastTranslation())
	}
}

func TestUnitStoreForceFinalize(t *testing.T) {
	s := newTestUnitStore()

	// Seed the last translation through the normal path.
	seed, _ := s.Open(UnitOrdinary, "hi", LanguageEnglish, LanguageSpanish)
	s.Finalize(seed.ID, "hola")

	unit, _ := s.Open(UnitOrdinary, "how are you", LanguageEnglish, LanguageSpanish)
	got, changed := s.ForceFinalize(unit.ID, "")
	if !changed || !got.IsComplete {
		t.Fatal("ForceFinalize did not complete the unit")
	}
	if got.AccumulatedText != "no response received — please try again" {
		t.Fatalf("fallback text = %q", got.AccumulatedText)
	}
	if s.LastTranslation() != "hola" {
		t.Fatalf("recovery filler leaked into LastTranslation: %q", s.LastTranslation())
	}

	// Partial streamed text is kept over the fallback.
	partial, _ := s.Open(UnitOrdinary, "where", LanguageEnglish, LanguageSpanish)
	s.Append(partial.ID, "dón")
	got, _ = s.ForceFinalize(partial.ID, "")
	if got.AccumulatedText != "dón" {
		t.Fatalf("AccumulatedText = %q, want partial dón", got.AccumulatedText)
	}

	// Action units fall back to the action-specific filler.
	action, _ := s.Open(UnitAction, "send the lab order", LanguageEnglish, LanguageSpanish)
	got, _ = s.ForceFinalize(action.ID, "")
	if got.AccumulatedText != "action status unknown — please verify" {
		t.Fatalf("action fallback = %q", got.AccumulatedText)
	}
}

func TestUnitStoreOverride(t *testing.T) {
	s := newTestUnitStore()
	seed, _ := s.Open(UnitOrdinary, "hi", LanguageEnglish, LanguageSpanish)
	s.Finalize(seed.ID, "hola")

	unit, _ := s.Open(UnitAction, "send the lab order", LanguageEnglish, LanguageSpanish)
	s.SetText(unit.ID, "processing lab order…")

	got, changed := s.Override(unit.ID, "lab order sent")
	if !changed || got.AccumulatedText != "lab order sent" {
		t.Fatalf("Override: changed=%v text=%q", changed, got.AccumulatedText)
	}
	if s.LastTranslation() != "hola" {
		t.Fatalf("Override touched LastTranslation: %q", s.LastTranslation())
	}
	if _, changed := s.Override(unit.ID, "again"); changed {
		t.Fatal("second Override reported a change")
	}
}

func TestUnitStoreList(t *testing.T) {
	s := newTestUnitStore()
	a, _ := s.Open(UnitOrdinary, "one", LanguageEnglish, LanguageSpanish)
	s.Finalize(a.ID, "uno")
	b, _ := s.Open(UnitOrdinary, "two", LanguageEnglish, LanguageSpanish)
	s.Finalize(b.ID, "dos")

	units := s.List()
	if len(units) != 2 {
		t.Fatalf("len(List()) = %d, want 2", len(units))
	}
	if units[0].ID != a.ID || units[1].ID != b.ID {
		t.Fatalf("List() order = [%s %s], want [%s %s]", units[0].ID, units[1].ID, a.ID, b.ID)
	}
	if s.OpenCount() != 0 {
		t.Fatalf("OpenCount() = %d, want 0", s.OpenCount())
	}
}
