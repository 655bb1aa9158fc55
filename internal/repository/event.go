package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
)

// SessionEvent is one archived bus event.
type SessionEvent struct {
	ID        int64     `db:"id" json:"id"`
	SessionID string    `db:"session_id" json:"sessionId"`
	Type      string    `db:"type" json:"type"`
	Text      string    `db:"text" json:"text"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}

type CreateSessionEventParams struct {
	SessionID string
	Type      string
	Text      string
	CreatedAt time.Time
}

type EventRepository interface {
	EnsureSchema(ctx context.Context) error
	Create(ctx context.Context, params CreateSessionEventParams) error
	ListBySessionID(ctx context.Context, sessionID string, limit int) ([]SessionEvent, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

type eventRepo struct {
	db *sqlx.DB
}

func NewEventRepository(db *sqlx.DB) EventRepository {
	return &eventRepo{db: db}
}

func (r *eventRepo) EnsureSchema(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS session_events (
			id BIGSERIAL PRIMARY KEY,
			session_id TEXT NOT NULL,
			type TEXT NOT NULL,
			text TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_session_events_session_id ON session_events (session_id, created_at DESC);
		CREATE INDEX IF NOT EXISTS idx_session_events_created_at ON session_events (created_at)
	`)
	return err
}

func (r *eventRepo) Create(ctx context.Context, params CreateSessionEventParams) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO session_events (session_id, type, text, created_at)
		VALUES ($1, $2, $3, $4)
	`, params.SessionID, params.Type, params.Text, params.CreatedAt)
	return err
}

func (r *eventRepo) ListBySessionID(ctx context.Context, sessionID string, limit int) ([]SessionEvent, error) {
	var events []SessionEvent
	err := r.db.SelectContext(ctx, &events, `
		SELECT * FROM session_events
		WHERE session_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, sessionID, limit)
	if err != nil {
		return nil, err
	}
	return events, nil
}

func (r *eventRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM session_events WHERE created_at < $1
	`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
