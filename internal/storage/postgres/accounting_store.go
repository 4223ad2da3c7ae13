package postgres

import (
	"context"
	"fmt"
	"time"

	"cds-eod-engine/internal/domain"
	"cds-eod-engine/internal/storage"
)

// AccountingEventStore implements storage.AccountingEventStore using PostgreSQL.
type AccountingEventStore struct {
	pool *Pool
}

// NewAccountingEventStore creates a new AccountingEventStore.
func NewAccountingEventStore(pool *Pool) *AccountingEventStore {
	return &AccountingEventStore{pool: pool}
}

var _ storage.AccountingEventStore = (*AccountingEventStore)(nil)

const accountingColumns = `
	event_date, trade_id, event_type, amount, currency, description, job_id
`

// InsertBulk writes all events in one transaction. The delete-then-insert
// keeps re-runs idempotent for the date and job.
func (s *AccountingEventStore) InsertBulk(ctx context.Context, events []*domain.AccountingEvent) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin accounting insert: %w", err)
	}
	defer tx.Rollback(ctx)

	del := `DELETE FROM accounting_events WHERE event_date = $1 AND job_id = $2`
	if _, err := tx.Exec(ctx, del, events[0].EventDate, events[0].JobID); err != nil {
		return fmt.Errorf("delete prior accounting events: %w", err)
	}

	query := `
		INSERT INTO accounting_events (` + accountingColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	for _, e := range events {
		_, err := tx.Exec(ctx, query,
			e.EventDate, e.TradeID, string(e.EventType), e.Amount, e.Currency, e.Description, e.JobID,
		)
		if err != nil {
			return fmt.Errorf("insert accounting event: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit accounting insert: %w", err)
	}
	return nil
}

// ListByDate retrieves all events for a date.
func (s *AccountingEventStore) ListByDate(ctx context.Context, date time.Time) ([]*domain.AccountingEvent, error) {
	query := `
		SELECT ` + accountingColumns + `
		FROM accounting_events
		WHERE event_date = $1
		ORDER BY trade_id ASC, event_type ASC
	`

	rows, err := s.pool.Query(ctx, query, date)
	if err != nil {
		return nil, fmt.Errorf("list accounting events by date: %w", err)
	}
	defer rows.Close()

	var events []*domain.AccountingEvent
	for rows.Next() {
		var e domain.AccountingEvent
		var eventType string
		err := rows.Scan(&e.EventDate, &e.TradeID, &eventType, &e.Amount, &e.Currency, &e.Description, &e.JobID)
		if err != nil {
			return nil, fmt.Errorf("scan accounting event row: %w", err)
		}
		e.EventType = domain.AccountingEventType(eventType)
		events = append(events, &e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate accounting event rows: %w", err)
	}

	return events, nil
}
