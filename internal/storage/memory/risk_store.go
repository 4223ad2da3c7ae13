package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"cds-eod-engine/internal/domain"
	"cds-eod-engine/internal/storage"
)

// PortfolioStore is an in-memory implementation of storage.PortfolioStore.
type PortfolioStore struct {
	mu   sync.RWMutex
	data map[string]*domain.Portfolio
}

// NewPortfolioStore creates a new in-memory portfolio store.
func NewPortfolioStore() *PortfolioStore {
	return &PortfolioStore{data: make(map[string]*domain.Portfolio)}
}

var _ storage.PortfolioStore = (*PortfolioStore)(nil)

// Insert adds a portfolio. Returns ErrDuplicateKey if portfolio_id exists.
func (s *PortfolioStore) Insert(_ context.Context, p *domain.Portfolio) error {
	if p == nil || p.PortfolioID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[p.PortfolioID]; exists {
		return storage.ErrDuplicateKey
	}

	cp := *p
	s.data[p.PortfolioID] = &cp
	return nil
}

// GetByID retrieves a portfolio. Returns ErrNotFound if not exists.
func (s *PortfolioStore) GetByID(_ context.Context, portfolioID string) (*domain.Portfolio, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, exists := s.data[portfolioID]
	if !exists {
		return nil, storage.ErrNotFound
	}

	cp := *p
	return &cp, nil
}

// ListAll retrieves every portfolio, ordered by portfolio_id.
func (s *PortfolioStore) ListAll(_ context.Context) ([]*domain.Portfolio, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.Portfolio, 0, len(s.data))
	for _, p := range s.data {
		cp := *p
		result = append(result, &cp)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].PortfolioID < result[j].PortfolioID
	})

	return result, nil
}

type datePortfolioKey struct {
	date        string
	portfolioID string
}

// PortfolioRiskStore is an in-memory implementation of storage.PortfolioRiskStore.
type PortfolioRiskStore struct {
	mu   sync.RWMutex
	data map[datePortfolioKey]*domain.PortfolioRiskMetrics
}

// NewPortfolioRiskStore creates a new in-memory portfolio risk store.
func NewPortfolioRiskStore() *PortfolioRiskStore {
	return &PortfolioRiskStore{data: make(map[datePortfolioKey]*domain.PortfolioRiskMetrics)}
}

var _ storage.PortfolioRiskStore = (*PortfolioRiskStore)(nil)

// Upsert writes the metrics for its (calculation_date, portfolio_id) key.
func (s *PortfolioRiskStore) Upsert(_ context.Context, m *domain.PortfolioRiskMetrics) error {
	if m == nil || m.PortfolioID == "" || m.CalculationDate.IsZero() {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *m
	s.data[datePortfolioKey{domain.DateKey(m.CalculationDate), m.PortfolioID}] = &cp
	return nil
}

// GetByDateAndPortfolio retrieves one metrics row. Returns ErrNotFound if absent.
func (s *PortfolioRiskStore) GetByDateAndPortfolio(_ context.Context, date time.Time, portfolioID string) (*domain.PortfolioRiskMetrics, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, exists := s.data[datePortfolioKey{domain.DateKey(date), portfolioID}]
	if !exists {
		return nil, storage.ErrNotFound
	}

	cp := *m
	return &cp, nil
}

// ListByDate retrieves all portfolio metrics for a date, ordered by portfolio_id.
func (s *PortfolioRiskStore) ListByDate(_ context.Context, date time.Time) ([]*domain.PortfolioRiskMetrics, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	key := domain.DateKey(date)
	var result []*domain.PortfolioRiskMetrics
	for k, v := range s.data {
		if k.date == key {
			cp := *v
			result = append(result, &cp)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].PortfolioID < result[j].PortfolioID
	})

	return result, nil
}

// FirmRiskStore is an in-memory implementation of storage.FirmRiskStore.
type FirmRiskStore struct {
	mu   sync.RWMutex
	data map[string]*domain.FirmRiskSummary // keyed by date
}

// NewFirmRiskStore creates a new in-memory firm risk store.
func NewFirmRiskStore() *FirmRiskStore {
	return &FirmRiskStore{data: make(map[string]*domain.FirmRiskSummary)}
}

var _ storage.FirmRiskStore = (*FirmRiskStore)(nil)

// Upsert writes the firm summary for its date.
func (s *FirmRiskStore) Upsert(_ context.Context, sum *domain.FirmRiskSummary) error {
	if sum == nil || sum.CalculationDate.IsZero() {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *sum
	s.data[domain.DateKey(sum.CalculationDate)] = &cp
	return nil
}

// GetByDate retrieves the firm summary for a date. Returns ErrNotFound if absent.
func (s *FirmRiskStore) GetByDate(_ context.Context, date time.Time) (*domain.FirmRiskSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sum, exists := s.data[domain.DateKey(date)]
	if !exists {
		return nil, storage.ErrNotFound
	}

	cp := *sum
	return &cp, nil
}

// ConcentrationStore is an in-memory implementation of storage.ConcentrationStore.
type ConcentrationStore struct {
	mu   sync.RWMutex
	data map[string][]*domain.RiskConcentration // keyed by date
}

// NewConcentrationStore creates a new in-memory concentration store.
func NewConcentrationStore() *ConcentrationStore {
	return &ConcentrationStore{data: make(map[string][]*domain.RiskConcentration)}
}

var _ storage.ConcentrationStore = (*ConcentrationStore)(nil)

// ReplaceForDate atomically replaces the ranking for a date.
func (s *ConcentrationStore) ReplaceForDate(_ context.Context, date time.Time, rows []*domain.RiskConcentration) error {
	if date.IsZero() {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cp := make([]*domain.RiskConcentration, 0, len(rows))
	for _, r := range rows {
		rc := *r
		cp = append(cp, &rc)
	}
	s.data[domain.DateKey(date)] = cp
	return nil
}

// ListByDate retrieves the ranking for a date, ordered by rank.
func (s *ConcentrationStore) ListByDate(_ context.Context, date time.Time) ([]*domain.RiskConcentration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows := s.data[domain.DateKey(date)]
	result := make([]*domain.RiskConcentration, 0, len(rows))
	for _, r := range rows {
		cp := *r
		result = append(result, &cp)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Ranking < result[j].Ranking
	})

	return result, nil
}

// RiskLimitStore is an in-memory implementation of storage.RiskLimitStore.
type RiskLimitStore struct {
	mu   sync.RWMutex
	data map[string]*domain.RiskLimit
}

// NewRiskLimitStore creates a new in-memory risk limit store.
func NewRiskLimitStore() *RiskLimitStore {
	return &RiskLimitStore{data: make(map[string]*domain.RiskLimit)}
}

var _ storage.RiskLimitStore = (*RiskLimitStore)(nil)

// Insert adds a limit. Returns ErrDuplicateKey if limit_id exists.
func (s *RiskLimitStore) Insert(_ context.Context, l *domain.RiskLimit) error {
	if l == nil || l.LimitID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[l.LimitID]; exists {
		return storage.ErrDuplicateKey
	}

	cp := *l
	s.data[l.LimitID] = &cp
	return nil
}

// ListActive retrieves active limits, ordered by limit_id.
func (s *RiskLimitStore) ListActive(_ context.Context) ([]*domain.RiskLimit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.RiskLimit
	for _, l := range s.data {
		if l.Active {
			cp := *l
			result = append(result, &cp)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].LimitID < result[j].LimitID
	})

	return result, nil
}

// BreachStore is an in-memory implementation of storage.BreachStore.
type BreachStore struct {
	mu   sync.RWMutex
	data map[string]*domain.RiskLimitBreach // keyed by breach_id
}

// NewBreachStore creates a new in-memory breach store.
func NewBreachStore() *BreachStore {
	return &BreachStore{data: make(map[string]*domain.RiskLimitBreach)}
}

var _ storage.BreachStore = (*BreachStore)(nil)

// Insert adds a breach record. Returns ErrDuplicateKey if breach_id exists.
func (s *BreachStore) Insert(_ context.Context, b *domain.RiskLimitBreach) error {
	if b == nil || b.BreachID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[b.BreachID]; exists {
		return storage.ErrDuplicateKey
	}

	cp := *b
	s.data[b.BreachID] = &cp
	return nil
}

// ListOpenByLimit retrieves unresolved breaches for a limit.
func (s *BreachStore) ListOpenByLimit(_ context.Context, limitID string) ([]*domain.RiskLimitBreach, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.RiskLimitBreach
	for _, b := range s.data {
		if b.LimitID == limitID && !b.Resolved {
			cp := *b
			result = append(result, &cp)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].BreachID < result[j].BreachID
	})

	return result, nil
}

// Resolve marks a breach resolved. Returns ErrNotFound if absent.
func (s *BreachStore) Resolve(_ context.Context, breachID, resolvedBy string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, exists := s.data[breachID]
	if !exists {
		return storage.ErrNotFound
	}

	b.Resolved = true
	b.ResolvedBy = resolvedBy
	b.ResolvedAt = &at
	return nil
}
