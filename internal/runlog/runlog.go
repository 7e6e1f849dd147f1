// Package runlog journals per-ticket processing outcomes for operator
// inspection. It is observability only: the approval decision never reads it,
// so reconciliation stays a pure function of comment history and file bytes.
package runlog

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/provtools/userbot/pkg/database"
)

// Event is one journaled processing step.
type Event struct {
	ID        int64
	TicketKey string
	Step      string
	Status    string
	Detail    string
	CreatedAt time.Time
}

// Step and status values written by the processor.
const (
	StepIntent      = "intent"
	StepCredentials = "credentials"
	StepParse       = "parse"
	StepValidate    = "validate"
	StepApproval    = "approval"
	StepUpload      = "upload"

	StatusOK      = "ok"
	StatusSkipped = "skipped"
	StatusFailed  = "failed"
)

const schema = `
CREATE TABLE IF NOT EXISTS run_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	ticket_key TEXT NOT NULL,
	step TEXT NOT NULL,
	status TEXT NOT NULL,
	detail TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_run_events_ticket ON run_events(ticket_key, created_at);
`

// Store persists run events.
type Store struct {
	db     *database.DB
	logger *zap.Logger
}

// NewStore creates the store and ensures the schema exists.
func NewStore(db *database.DB, logger *zap.Logger) (*Store, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("create run_events schema: %w", err)
	}
	return &Store{db: db, logger: logger}, nil
}

// Record journals one event. Journal failures are logged, never propagated:
// the journal must not be able to fail a ticket.
func (s *Store) Record(ctx context.Context, ticketKey, step, status, detail string) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO run_events (ticket_key, step, status, detail, created_at) VALUES (?, ?, ?, ?, ?)`,
		ticketKey, step, status, detail, time.Now().UTC())
	if err != nil {
		s.logger.Warn("Failed to journal run event",
			zap.String("ticket", ticketKey),
			zap.String("step", step),
			zap.Error(err))
	}
}

// History returns the most recent events for a ticket, newest first.
func (s *Store) History(ctx context.Context, ticketKey string, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, ticket_key, step, status, detail, created_at
		 FROM run_events WHERE ticket_key = ? ORDER BY created_at DESC, id DESC LIMIT ?`,
		ticketKey, limit)
	if err != nil {
		return nil, fmt.Errorf("query run events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// Recent returns the most recent events across all tickets, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, ticket_key, step, status, detail, created_at
		 FROM run_events ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query run events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

type rowScanner interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}

func scanEvents(rows rowScanner) ([]Event, error) {
	var events []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.TicketKey, &e.Step, &e.Status, &e.Detail, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan run event: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate run events: %w", err)
	}
	return events, nil
}
