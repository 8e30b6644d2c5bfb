package session

import "testing"

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		wantKind CommandKind
		wantAct  ActionType
		wantLang Language
	}{
		{
			name:     "ordinary english",
			text:     "I have a headache since yesterday",
			wantKind: CommandOrdinary,
			wantLang: LanguageEnglish,
		},
		{
			name:     "ordinary spanish stopwords",
			text:     "tengo dolor en el pecho",
			wantKind: CommandOrdinary,
			wantLang: LanguageSpanish,
		},
		{
			name:     "repeat english",
			text:     "Could you repeat that for me",
			wantKind: CommandRepeat,
			wantLang: LanguageEnglish,
		},
		{
			name:     "repeat spanish",
			text:     "repita por favor",
			wantKind: CommandRepeat,
			wantLang: LanguageSpanish,
		},
		{
			name:     "lab order",
			text:     "please send the lab order for a CBC",
			wantKind: CommandAction,
			wantAct:  ActionSendLabOrder,
			wantLang: LanguageEnglish,
		},
		{
			name:     "follow-up",
			text:     "let's schedule a follow up appointment for next week",
			wantKind: CommandAction,
			wantAct:  ActionScheduleFollowup,
			wantLang: LanguageEnglish,
		},
		{
			name:     "page physician spanish",
			text:     "hay que llamar al médico ahora",
			wantKind: CommandAction,
			wantAct:  ActionPagePhysician,
			wantLang: LanguageSpanish,
		},
		{
			name:     "action outranks repeat",
			text:     "say that again and send the lab order",
			wantKind: CommandAction,
			wantAct:  ActionSendLabOrder,
			wantLang: LanguageEnglish,
		},
		{
			name:     "keyword match is case insensitive",
			text:     "SEND THE LAB ORDER",
			wantKind: CommandAction,
			wantAct:  ActionSendLabOrder,
			wantLang: LanguageEnglish,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.text)
			if got.Kind != tt.wantKind {
				t.Errorf("Classify(%q).Kind = %q, want %q", tt.text, got.Kind, tt.wantKind)
			}
			if got.Action != tt.wantAct {
				t.Errorf("Classify(%q).Action = %q, want %q", tt.text, got.Action, tt.wantAct)
			}
			if got.Language != tt.wantLang {
				t.Errorf("Classify(%q).Language = %q, want %q", tt.text, got.Language, tt.wantLang)
			}
		})
	}
}

func TestDetectLanguage(t *testing.T) {
	tests := []struct {
		text string
		want Language
	}{
		{"hello there, how are you feeling", LanguageEnglish},
		{"the pain started two days ago", LanguageEnglish},
		{"¿dónde le duele?", LanguageSpanish},
		{"me duele la cabeza", LanguageSpanish},
		{"gracias", LanguageSpanish},
		{"", LanguageEnglish},
	}

	for _, tt := range tests {
		if got := DetectLanguage(tt.text); got != tt.want {
			t.Errorf("DetectLanguage(%q) = %q, want %q", tt.text, got, tt.want)
		}
	}
}

func TestLanguageOther(t *testing.T) {
	if got := LanguageEnglish.Other(); got != LanguageSpanish {
		t.Errorf("en.Other() = %q, want es", got)
	}
	if got := LanguageSpanish.Other(); got != LanguageEnglish {
		t.Errorf("es.Other() = %q, want en", got)
	}
}

func TestActionTexts(t *testing.T) {
	for _, action := range []ActionType{ActionSendLabOrder, ActionScheduleFollowup, ActionPagePhysician} {
		if action.Placeholder() == "" {
			t.Errorf("action %q has empty placeholder", action)
		}
		if action.Confirmation() == "" {
			t.Errorf("action %q has empty confirmation", action)
		}
		if action.Placeholder() == action.Confirmation() {
			t.Errorf("action %q placeholder equals confirmation", action)
		}
	}
}
