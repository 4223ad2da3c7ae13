package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"cds-eod-engine/internal/domain"
	"cds-eod-engine/internal/storage"
)

// AccountingEventStore is an in-memory implementation of
// storage.AccountingEventStore. Events are append-only.
type AccountingEventStore struct {
	mu   sync.RWMutex
	data map[string][]*domain.AccountingEvent // keyed by event date
}

// NewAccountingEventStore creates a new in-memory accounting event store.
func NewAccountingEventStore() *AccountingEventStore {
	return &AccountingEventStore{data: make(map[string][]*domain.AccountingEvent)}
}

var _ storage.AccountingEventStore = (*AccountingEventStore)(nil)

// InsertBulk appends a batch of events.
func (s *AccountingEventStore) InsertBulk(_ context.Context, events []*domain.AccountingEvent) error {
	for _, e := range events {
		if e == nil || e.TradeID == "" || e.EventDate.IsZero() {
			return storage.ErrInvalidInput
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range events {
		cp := *e
		key := domain.DateKey(e.EventDate)
		s.data[key] = append(s.data[key], &cp)
	}
	return nil
}

// ListByDate retrieves all events for a date, ordered by trade_id then type.
func (s *AccountingEventStore) ListByDate(_ context.Context, date time.Time) ([]*domain.AccountingEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows := s.data[domain.DateKey(date)]
	result := make([]*domain.AccountingEvent, 0, len(rows))
	for _, e := range rows {
		cp := *e
		result = append(result, &cp)
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].TradeID != result[j].TradeID {
			return result[i].TradeID < result[j].TradeID
		}
		return result[i].EventType < result[j].EventType
	})

	return result, nil
}
