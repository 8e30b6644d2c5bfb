package store

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
)

// newTestStore connects to the database named by INTERP_TEST_DATABASE_URL and
// skips the test when it is unset.
func newTestStore(t *testing.T) *Postgres {
	t.Helper()
	url := os.Getenv("INTERP_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("INTERP_TEST_DATABASE_URL not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	p, err := New(ctx, url, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(p.Close)
	return p
}

func TestPostgresSaveAndSummarize(t *testing.T) {
	p := newTestStore(t)
	ctx := context.Background()
	sessionID := uuid.NewString()

	meta := map[string]any{"unit_id": "u_1", "unit_kind": "ordinary"}
	if err := p.SaveMessage(ctx, sessionID, "user", "hello", meta); err != nil {
		t.Fatalf("SaveMessage user: %v", err)
	}
	if err := p.SaveMessage(ctx, sessionID, "interpreter", "hola", meta); err != nil {
		t.Fatalf("SaveMessage interpreter: %v", err)
	}

	summary, err := p.GenerateSummary(ctx, sessionID)
	if err != nil {
		t.Fatalf("GenerateSummary: %v", err)
	}
	if summary == "" || summary == "no exchanges interpreted" {
		t.Fatalf("summary = %q, want non-empty exchange summary", summary)
	}

	stored, err := p.Summary(ctx, sessionID)
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if stored != summary {
		t.Fatalf("stored summary = %q, want %q", stored, summary)
	}

	if err := p.EndSession(ctx, sessionID); err != nil {
		t.Fatalf("EndSession: %v", err)
	}
	// Ending twice is a no-op.
	if err := p.EndSession(ctx, sessionID); err != nil {
		t.Fatalf("second EndSession: %v", err)
	}
}

func TestPostgresSummaryWithoutMessages(t *testing.T) {
	p := newTestStore(t)
	ctx := context.Background()
	sessionID := uuid.NewString()

	// The session row does not exist yet; the summary update simply affects
	// zero rows and the derived text reflects the empty transcript.
	summary, err := p.GenerateSummary(ctx, sessionID)
	if err != nil {
		t.Fatalf("GenerateSummary: %v", err)
	}
	if summary != "no exchanges interpreted" {
		t.Fatalf("summary = %q", summary)
	}
}

func TestPostgresSaveRequiresSessionID(t *testing.T) {
	p := newTestStore(t)
	if err := p.SaveMessage(context.Background(), "", "user", "hello", nil); err == nil {
		t.Fatal("SaveMessage with empty session id succeeded")
	}
}
