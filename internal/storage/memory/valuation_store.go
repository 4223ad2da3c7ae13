package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"cds-eod-engine/internal/domain"
	"cds-eod-engine/internal/storage"
)

type dateTradeKey struct {
	date    string
	tradeID string
}

// ValuationStore is an in-memory implementation of storage.ValuationStore.
// Upsert is a per-key overwrite, safe under concurrent batch workers.
type ValuationStore struct {
	mu   sync.RWMutex
	data map[dateTradeKey]*domain.TradeValuation
}

// NewValuationStore creates a new in-memory valuation store.
func NewValuationStore() *ValuationStore {
	return &ValuationStore{data: make(map[dateTradeKey]*domain.TradeValuation)}
}

var _ storage.ValuationStore = (*ValuationStore)(nil)

// Upsert writes the valuation for its (valuation_date, trade_id) key.
func (s *ValuationStore) Upsert(_ context.Context, v *domain.TradeValuation) error {
	if v == nil || v.TradeID == "" || v.ValuationDate.IsZero() {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *v
	s.data[dateTradeKey{domain.DateKey(v.ValuationDate), v.TradeID}] = &cp
	return nil
}

// GetByDateAndTrade retrieves one valuation. Returns ErrNotFound if absent.
func (s *ValuationStore) GetByDateAndTrade(_ context.Context, date time.Time, tradeID string) (*domain.TradeValuation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, exists := s.data[dateTradeKey{domain.DateKey(date), tradeID}]
	if !exists {
		return nil, storage.ErrNotFound
	}

	cp := *v
	return &cp, nil
}

// ListByDate retrieves all valuations for a date, ordered by trade_id.
func (s *ValuationStore) ListByDate(_ context.Context, date time.Time) ([]*domain.TradeValuation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	key := domain.DateKey(date)
	var result []*domain.TradeValuation
	for k, v := range s.data {
		if k.date == key {
			cp := *v
			result = append(result, &cp)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].TradeID < result[j].TradeID
	})

	return result, nil
}

// GetLatestBefore retrieves the most recent valuation for a trade strictly
// before the given date. Returns ErrNotFound if none exists.
func (s *ValuationStore) GetLatestBefore(_ context.Context, tradeID string, date time.Time) (*domain.TradeValuation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *domain.TradeValuation
	for k, v := range s.data {
		if k.tradeID != tradeID || !v.ValuationDate.Before(date) {
			continue
		}
		if latest == nil || v.ValuationDate.After(latest.ValuationDate) {
			latest = v
		}
	}

	if latest == nil {
		return nil, storage.ErrNotFound
	}

	cp := *latest
	return &cp, nil
}

// CountByDateAndStatus counts valuations for a date with the given status.
func (s *ValuationStore) CountByDateAndStatus(_ context.Context, date time.Time, status domain.ValuationStatus) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	key := domain.DateKey(date)
	count := 0
	for k, v := range s.data {
		if k.date == key && v.Status == status {
			count++
		}
	}
	return count, nil
}

// SensitivityStore is an in-memory implementation of storage.SensitivityStore.
type SensitivityStore struct {
	mu   sync.RWMutex
	data map[dateTradeKey]*domain.TradeValuationSensitivity
}

// NewSensitivityStore creates a new in-memory sensitivity store.
func NewSensitivityStore() *SensitivityStore {
	return &SensitivityStore{data: make(map[dateTradeKey]*domain.TradeValuationSensitivity)}
}

var _ storage.SensitivityStore = (*SensitivityStore)(nil)

// Upsert writes the sensitivity for its (valuation_date, trade_id) key.
func (s *SensitivityStore) Upsert(_ context.Context, sens *domain.TradeValuationSensitivity) error {
	if sens == nil || sens.TradeID == "" || sens.ValuationDate.IsZero() {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *sens
	s.data[dateTradeKey{domain.DateKey(sens.ValuationDate), sens.TradeID}] = &cp
	return nil
}

// GetByDateAndTrade retrieves one sensitivity record. Returns ErrNotFound if absent.
func (s *SensitivityStore) GetByDateAndTrade(_ context.Context, date time.Time, tradeID string) (*domain.TradeValuationSensitivity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sens, exists := s.data[dateTradeKey{domain.DateKey(date), tradeID}]
	if !exists {
		return nil, storage.ErrNotFound
	}

	cp := *sens
	return &cp, nil
}

// ListByDate retrieves all sensitivity records for a date, ordered by trade_id.
func (s *SensitivityStore) ListByDate(_ context.Context, date time.Time) ([]*domain.TradeValuationSensitivity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	key := domain.DateKey(date)
	var result []*domain.TradeValuationSensitivity
	for k, v := range s.data {
		if k.date == key {
			cp := *v
			result = append(result, &cp)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].TradeID < result[j].TradeID
	})

	return result, nil
}
