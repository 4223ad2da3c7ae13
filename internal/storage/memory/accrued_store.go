package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"cds-eod-engine/internal/domain"
	"cds-eod-engine/internal/storage"
)

// AccruedStore is an in-memory implementation of storage.AccruedStore.
type AccruedStore struct {
	mu   sync.RWMutex
	data map[dateTradeKey]*domain.TradeAccruedInterest
}

// NewAccruedStore creates a new in-memory accrued interest store.
func NewAccruedStore() *AccruedStore {
	return &AccruedStore{data: make(map[dateTradeKey]*domain.TradeAccruedInterest)}
}

var _ storage.AccruedStore = (*AccruedStore)(nil)

// Upsert writes the accrued record for its (calculation_date, trade_id) key.
func (s *AccruedStore) Upsert(_ context.Context, a *domain.TradeAccruedInterest) error {
	if a == nil || a.TradeID == "" || a.CalculationDate.IsZero() {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *a
	s.data[dateTradeKey{domain.DateKey(a.CalculationDate), a.TradeID}] = &cp
	return nil
}

// GetByDateAndTrade retrieves one accrued record. Returns ErrNotFound if absent.
func (s *AccruedStore) GetByDateAndTrade(_ context.Context, date time.Time, tradeID string) (*domain.TradeAccruedInterest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, exists := s.data[dateTradeKey{domain.DateKey(date), tradeID}]
	if !exists {
		return nil, storage.ErrNotFound
	}

	cp := *a
	return &cp, nil
}

// ListByDate retrieves all accrued records for a date, ordered by trade_id.
func (s *AccruedStore) ListByDate(_ context.Context, date time.Time) ([]*domain.TradeAccruedInterest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	key := domain.DateKey(date)
	var result []*domain.TradeAccruedInterest
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

// PnlStore is an in-memory implementation of storage.PnlStore.
type PnlStore struct {
	mu   sync.RWMutex
	data map[dateTradeKey]*domain.DailyPnlResult
}

// NewPnlStore creates a new in-memory P&L store.
func NewPnlStore() *PnlStore {
	return &PnlStore{data: make(map[dateTradeKey]*domain.DailyPnlResult)}
}

var _ storage.PnlStore = (*PnlStore)(nil)

// Upsert writes the P&L result for its (pnl_date, trade_id) key.
func (s *PnlStore) Upsert(_ context.Context, p *domain.DailyPnlResult) error {
	if p == nil || p.TradeID == "" || p.PnlDate.IsZero() {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *p
	s.data[dateTradeKey{domain.DateKey(p.PnlDate), p.TradeID}] = &cp
	return nil
}

// GetByDateAndTrade retrieves one P&L result. Returns ErrNotFound if absent.
func (s *PnlStore) GetByDateAndTrade(_ context.Context, date time.Time, tradeID string) (*domain.DailyPnlResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, exists := s.data[dateTradeKey{domain.DateKey(date), tradeID}]
	if !exists {
		return nil, storage.ErrNotFound
	}

	cp := *p
	return &cp, nil
}

// ListByDate retrieves all P&L results for a date, ordered by trade_id.
func (s *PnlStore) ListByDate(_ context.Context, date time.Time) ([]*domain.DailyPnlResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	key := domain.DateKey(date)
	var result []*domain.DailyPnlResult
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
