package session

import "strings"

// Language identifies one side of the interpretation pair.
type Language string

const (
	LanguageEnglish Language = "en"
	LanguageSpanish Language = "es"
)

// Other returns the opposite side of the pair.
func (l Language) Other() Language {
	if l == LanguageSpanish {
		return LanguageEnglish
	}
	return LanguageSpanish
}

// CommandKind classifies a finalized utterance.
type CommandKind string

const (
	CommandOrdinary CommandKind = "ordinary"
	CommandRepeat   CommandKind = "repeat"
	CommandAction   CommandKind = "action"
)

// ActionType names a recognized medical side effect.
type ActionType string

const (
	ActionSendLabOrder     ActionType = "send_lab_order"
	ActionScheduleFollowup ActionType = "schedule_followup"
	ActionPagePhysician    ActionType = "page_physician"
)

// CommandMatch is the transient classification result. It is never persisted.
type CommandMatch struct {
	Kind     CommandKind
	Action   ActionType
	Language Language
}

// actionKeywords is checked in order; the first matching set wins. Medical
// actions outrank repeat requests, so an utterance containing both kinds of
// keyword always classifies as the action.
var actionKeywords = []struct {
	action   ActionType
	keywords []string
}{
	{ActionSendLabOrder, []string{
		"lab order",
		"order labs",
		"order a lab",
		"send the labs",
		"orden de laboratorio",
		"analisis de laboratorio",
		"análisis de laboratorio",
	}},
	{ActionScheduleFollowup, []string{
		"follow up appointment",
		"follow-up appointment",
		"schedule a follow",
		"schedule follow",
		"cita de seguimiento",
		"agendar una cita",
		"agendar cita",
	}},
	{ActionPagePhysician, []string{
		"page the doctor",
		"page the physician",
		"page doctor",
		"llamar al medico",
		"llamar al médico",
		"avisar al doctor",
	}},
}

var repeatKeywords = []string{
	"repeat that",
	"say that again",
	"repeat please",
	"please repeat",
	"one more time",
	"repita",
	"repite",
	"otra vez",
	"de nuevo",
}

// spanishStopwords is a closed list used by the language heuristic.
var spanishStopwords = map[string]struct{}{
	"el": {}, "la": {}, "los": {}, "las": {}, "un": {}, "una": {},
	"de": {}, "del": {}, "que": {}, "como": {}, "donde": {}, "cuando": {},
	"para": {}, "por": {}, "con": {}, "pero": {}, "usted": {}, "yo": {},
	"me": {}, "mi": {}, "muy": {}, "tengo": {}, "dolor": {}, "hola": {},
	"gracias": {}, "si": {}, "sí": {}, "no": {}, "es": {}, "esta": {}, "está": {},
}

var spanishMarkers = "áéíóúüñ¿¡"

// Classify maps a finalized utterance to a command match. Priority order is
// fixed: medical actions first, then repeat requests, then ordinary. The
// embedded language is a heuristic for ordinary utterances only.
func Classify(text string) CommandMatch {
	normalized := strings.ToLower(strings.TrimSpace(text))

	for _, set := range actionKeywords {
		for _, kw := range set.keywords {
			if strings.Contains(normalized, kw) {
				return CommandMatch{Kind: CommandAction, Action: set.action, Language: DetectLanguage(normalized)}
			}
		}
	}

	for _, kw := range repeatKeywords {
		if strings.Contains(normalized, kw) {
			return CommandMatch{Kind: CommandRepeat, Language: DetectLanguage(normalized)}
		}
	}

	return CommandMatch{Kind: CommandOrdinary, Language: DetectLanguage(normalized)}
}

// DetectLanguage guesses the source language of an utterance. Spanish is
// selected on any Spanish-only diacritic or a closed stop-word hit; the
// default is English. Best effort only, not a guarantee.
func DetectLanguage(text string) Language {
	normalized := strings.ToLower(strings.TrimSpace(text))

	for _, r := range normalized {
		if strings.ContainsRune(spanishMarkers, r) {
			return LanguageSpanish
		}
	}
	for _, word := range strings.Fields(normalized) {
		word = strings.Trim(word, ".,!?;:\"'")
		if _, ok := spanishStopwords[word]; ok {
			return LanguageSpanish
		}
	}
	return LanguageEnglish
}

// Placeholder is the interim unit text shown while an action is in flight.
func (a ActionType) Placeholder() string {
	switch a {
	case ActionSendLabOrder:
		return "processing lab order…"
	case ActionScheduleFollowup:
		return "scheduling follow-up…"
	case ActionPagePhysician:
		return "paging physician…"
	default:
		return "processing action…"
	}
}

// Confirmation is the unit text used once the action handler succeeds.
func (a ActionType) Confirmation() string {
	switch a {
	case ActionSendLabOrder:
		return "lab order sent"
	case ActionScheduleFollowup:
		return "follow-up appointment scheduled"
	case ActionPagePhysician:
		return "physician paged"
	default:
		return "done"
	}
}
