package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"cds-eod-engine/internal/domain"
	"cds-eod-engine/internal/storage"
)

// ToleranceRuleStore is an in-memory implementation of storage.ToleranceRuleStore.
type ToleranceRuleStore struct {
	mu   sync.RWMutex
	data map[string]*domain.ValuationToleranceRule
}

// NewToleranceRuleStore creates a new in-memory tolerance rule store.
func NewToleranceRuleStore() *ToleranceRuleStore {
	return &ToleranceRuleStore{data: make(map[string]*domain.ValuationToleranceRule)}
}

var _ storage.ToleranceRuleStore = (*ToleranceRuleStore)(nil)

// Insert adds a rule. Returns ErrDuplicateKey if rule_id exists.
func (s *ToleranceRuleStore) Insert(_ context.Context, r *domain.ValuationToleranceRule) error {
	if r == nil || r.RuleID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[r.RuleID]; exists {
		return storage.ErrDuplicateKey
	}

	cp := *r
	s.data[r.RuleID] = &cp
	return nil
}

// ListActive retrieves active rules, ordered by rule_id.
func (s *ToleranceRuleStore) ListActive(_ context.Context) ([]*domain.ValuationToleranceRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.ValuationToleranceRule
	for _, r := range s.data {
		if r.Active {
			cp := *r
			result = append(result, &cp)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].RuleID < result[j].RuleID
	})

	return result, nil
}

type exceptionKey struct {
	date    string
	tradeID string
	typ     domain.ExceptionType
}

// ExceptionStore is an in-memory implementation of storage.ExceptionStore.
type ExceptionStore struct {
	mu   sync.RWMutex
	data map[exceptionKey]*domain.ValuationException
}

// NewExceptionStore creates a new in-memory exception store.
func NewExceptionStore() *ExceptionStore {
	return &ExceptionStore{data: make(map[exceptionKey]*domain.ValuationException)}
}

var _ storage.ExceptionStore = (*ExceptionStore)(nil)

// Upsert writes the exception for its (exception_date, trade_id, type) key.
func (s *ExceptionStore) Upsert(_ context.Context, e *domain.ValuationException) error {
	if e == nil || e.TradeID == "" || e.ExceptionDate.IsZero() || e.Type == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *e
	s.data[exceptionKey{domain.DateKey(e.ExceptionDate), e.TradeID, e.Type}] = &cp
	return nil
}

// ListByDate retrieves all exceptions for a date, ordered by trade_id then type.
func (s *ExceptionStore) ListByDate(_ context.Context, date time.Time) ([]*domain.ValuationException, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	key := domain.DateKey(date)
	var result []*domain.ValuationException
	for k, v := range s.data {
		if k.date == key {
			cp := *v
			result = append(result, &cp)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].TradeID != result[j].TradeID {
			return result[i].TradeID < result[j].TradeID
		}
		return result[i].Type < result[j].Type
	})

	return result, nil
}

// ListOpen retrieves all exceptions not yet RESOLVED, newest first.
func (s *ExceptionStore) ListOpen(_ context.Context) ([]*domain.ValuationException, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.ValuationException
	for _, v := range s.data {
		if v.Status != domain.ExceptionResolved {
			cp := *v
			result = append(result, &cp)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].ExceptionDate.Equal(result[j].ExceptionDate) {
			return result[i].ExceptionDate.After(result[j].ExceptionDate)
		}
		if result[i].TradeID != result[j].TradeID {
			return result[i].TradeID < result[j].TradeID
		}
		return result[i].Type < result[j].Type
	})

	return result, nil
}

// Review updates an exception's review state. Returns ErrNotFound if absent.
func (s *ExceptionStore) Review(_ context.Context, date time.Time, tradeID string, typ domain.ExceptionType,
	reviewedBy string, status domain.ExceptionStatus, notes string, at time.Time) error {

	s.mu.Lock()
	defer s.mu.Unlock()

	e, exists := s.data[exceptionKey{domain.DateKey(date), tradeID, typ}]
	if !exists {
		return storage.ErrNotFound
	}

	e.Status = status
	e.ReviewedBy = reviewedBy
	e.ReviewedAt = &at
	e.ResolutionNotes = notes
	return nil
}

// ReconciliationSummaryStore is an in-memory implementation of
// storage.ReconciliationSummaryStore.
type ReconciliationSummaryStore struct {
	mu   sync.RWMutex
	data map[string]*domain.DailyReconciliationSummary // keyed by date
}

// NewReconciliationSummaryStore creates a new in-memory summary store.
func NewReconciliationSummaryStore() *ReconciliationSummaryStore {
	return &ReconciliationSummaryStore{data: make(map[string]*domain.DailyReconciliationSummary)}
}

var _ storage.ReconciliationSummaryStore = (*ReconciliationSummaryStore)(nil)

// Upsert writes the summary for its date.
func (s *ReconciliationSummaryStore) Upsert(_ context.Context, sum *domain.DailyReconciliationSummary) error {
	if sum == nil || sum.ReconciliationDate.IsZero() {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *sum
	s.data[domain.DateKey(sum.ReconciliationDate)] = &cp
	return nil
}

// GetByDate retrieves the summary for a date. Returns ErrNotFound if absent.
func (s *ReconciliationSummaryStore) GetByDate(_ context.Context, date time.Time) (*domain.DailyReconciliationSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sum, exists := s.data[domain.DateKey(date)]
	if !exists {
		return nil, storage.ErrNotFound
	}

	cp := *sum
	return &cp, nil
}

// Update replaces the summary for its date. Returns ErrNotFound if absent.
func (s *ReconciliationSummaryStore) Update(_ context.Context, sum *domain.DailyReconciliationSummary) error {
	if sum == nil || sum.ReconciliationDate.IsZero() {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := domain.DateKey(sum.ReconciliationDate)
	if _, exists := s.data[key]; !exists {
		return storage.ErrNotFound
	}

	cp := *sum
	s.data[key] = &cp
	return nil
}
