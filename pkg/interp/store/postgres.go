// Package store persists session transcripts to Postgres. Every method is
// best-effort from the caller's point of view: the live session never blocks
// on the database.
package store

import (
	"context"
	"embed"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Postgres stores sessions, transcript messages and generated summaries.
type Postgres struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// New connects to databaseURL, runs pending migrations and returns the store.
func New(ctx context.Context, databaseURL string, logger *slog.Logger) (*Postgres, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("database url is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := migrate(pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &Postgres{pool: pool, logger: logger}, nil
}

func migrate(pool *pgxpool.Pool) error {
	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set migration dialect: %w", err)
	}

	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()

	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (p *Postgres) Close() {
	p.pool.Close()
}

// SaveMessage records one side of a finalized translation unit. The session
// row is created on first write.
func (p *Postgres) SaveMessage(ctx context.Context, sessionID, role, content string, meta map[string]any) error {
	if sessionID == "" {
		return fmt.Errorf("session id is required")
	}

	_, err := p.pool.Exec(ctx,
		`INSERT INTO sessions (id, started_at) VALUES ($1, now())
		 ON CONFLICT (id) DO NOTHING`, sessionID)
	if err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}

	_, err = p.pool.Exec(ctx,
		`INSERT INTO messages (session_id, role, content, meta) VALUES ($1, $2, $3, $4)`,
		sessionID, role, content, meta)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// EndSession stamps the session as finished. Idempotent: the earliest end
// time wins.
func (p *Postgres) EndSession(ctx context.Context, sessionID string) error {
	_, err := p.pool.Exec(ctx,
		`UPDATE sessions SET ended_at = now() WHERE id = $1 AND ended_at IS NULL`,
		sessionID)
	if err != nil {
		return fmt.Errorf("end session: %w", err)
	}
	return nil
}

// GenerateSummary derives a transcript summary from the saved messages and
// stores it on the session row. Regenerating replaces the previous summary.
func (p *Postgres) GenerateSummary(ctx context.Context, sessionID string) (string, error) {
	var (
		exchanges int
		first     *time.Time
		last      *time.Time
	)
	err := p.pool.QueryRow(ctx,
		`SELECT count(*) FILTER (WHERE role = 'user'), min(created_at), max(created_at)
		 FROM messages WHERE session_id = $1`,
		sessionID).Scan(&exchanges, &first, &last)
	if err != nil {
		return "", fmt.Errorf("aggregate transcript: %w", err)
	}

	summary := "no exchanges interpreted"
	if exchanges > 0 && first != nil && last != nil {
		summary = fmt.Sprintf("%d exchanges interpreted over %s",
			exchanges, last.Sub(*first).Round(time.Second))
	}

	_, err = p.pool.Exec(ctx,
		`UPDATE sessions SET summary = $2 WHERE id = $1`, sessionID, summary)
	if err != nil {
		return "", fmt.Errorf("store summary: %w", err)
	}
	return summary, nil
}

// Summary returns the stored summary for a session, or empty when none was
// generated.
func (p *Postgres) Summary(ctx context.Context, sessionID string) (string, error) {
	var summary *string
	err := p.pool.QueryRow(ctx,
		`SELECT summary FROM sessions WHERE id = $1`, sessionID).Scan(&summary)
	if err != nil {
		return "", fmt.Errorf("load summary: %w", err)
	}
	if summary == nil {
		return "", nil
	}
	return *summary, nil
}
