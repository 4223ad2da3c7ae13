package storage

import (
	"context"
	"time"

	"cds-eod-engine/internal/domain"
)

// TradeStore provides read access to the trade population. Trades are owned
// by the upstream booking system; the pipeline only inserts in tests and
// fixtures.
type TradeStore interface {
	// Insert adds a trade. Returns ErrDuplicateKey if trade_id exists.
	Insert(ctx context.Context, t *domain.Trade) error

	// GetByID retrieves a trade. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, tradeID string) (*domain.Trade, error)

	// ListActive retrieves trades eligible for valuation on asOf:
	// status ACTIVE, tradeDate <= asOf < maturityDate.
	ListActive(ctx context.Context, asOf time.Time) ([]*domain.Trade, error)

	// ListAll retrieves every trade regardless of status.
	ListAll(ctx context.Context) ([]*domain.Trade, error)
}

// MarketDataSnapshotStore holds at most one snapshot per date.
type MarketDataSnapshotStore interface {
	// Insert adds a snapshot. Returns ErrDuplicateKey if one exists for the date.
	Insert(ctx context.Context, s *domain.MarketDataSnapshot) error

	// Update replaces the snapshot for its date. Returns ErrNotFound if absent.
	Update(ctx context.Context, s *domain.MarketDataSnapshot) error

	// GetByDate retrieves the snapshot for a date. Returns ErrNotFound if absent.
	GetByDate(ctx context.Context, date time.Time) (*domain.MarketDataSnapshot, error)

	// GetLatestComplete retrieves the most recent COMPLETE snapshot.
	GetLatestComplete(ctx context.Context) (*domain.MarketDataSnapshot, error)
}

// ValuationStore holds per-(date, trade) NPV results. Upsert semantics give
// idempotent overwrites for re-runs within a job.
type ValuationStore interface {
	// Upsert writes the valuation for its (valuation_date, trade_id) key.
	Upsert(ctx context.Context, v *domain.TradeValuation) error

	// GetByDateAndTrade retrieves one valuation. Returns ErrNotFound if absent.
	GetByDateAndTrade(ctx context.Context, date time.Time, tradeID string) (*domain.TradeValuation, error)

	// ListByDate retrieves all valuations for a date, ordered by trade_id.
	ListByDate(ctx context.Context, date time.Time) ([]*domain.TradeValuation, error)

	// GetLatestBefore retrieves the most recent valuation for a trade strictly
	// before the given date. Returns ErrNotFound if none exists.
	GetLatestBefore(ctx context.Context, tradeID string, date time.Time) (*domain.TradeValuation, error)

	// CountByDateAndStatus counts valuations for a date with the given status.
	CountByDateAndStatus(ctx context.Context, date time.Time, status domain.ValuationStatus) (int, error)
}

// SensitivityStore holds the one-to-one sensitivity record per valuation.
type SensitivityStore interface {
	Upsert(ctx context.Context, s *domain.TradeValuationSensitivity) error
	GetByDateAndTrade(ctx context.Context, date time.Time, tradeID string) (*domain.TradeValuationSensitivity, error)
	ListByDate(ctx context.Context, date time.Time) ([]*domain.TradeValuationSensitivity, error)
}

// AccruedStore holds per-(date, trade) accrued interest results.
type AccruedStore interface {
	Upsert(ctx context.Context, a *domain.TradeAccruedInterest) error
	GetByDateAndTrade(ctx context.Context, date time.Time, tradeID string) (*domain.TradeAccruedInterest, error)
	ListByDate(ctx context.Context, date time.Time) ([]*domain.TradeAccruedInterest, error)
}

// PnlStore holds per-(date, trade) daily P&L results.
type PnlStore interface {
	Upsert(ctx context.Context, p *domain.DailyPnlResult) error
	GetByDateAndTrade(ctx context.Context, date time.Time, tradeID string) (*domain.DailyPnlResult, error)
	ListByDate(ctx context.Context, date time.Time) ([]*domain.DailyPnlResult, error)
}

// PortfolioStore provides access to portfolio reference data.
type PortfolioStore interface {
	Insert(ctx context.Context, p *domain.Portfolio) error
	GetByID(ctx context.Context, portfolioID string) (*domain.Portfolio, error)
	ListAll(ctx context.Context) ([]*domain.Portfolio, error)
}

// PortfolioRiskStore holds per-(date, portfolio) risk aggregates.
type PortfolioRiskStore interface {
	Upsert(ctx context.Context, m *domain.PortfolioRiskMetrics) error
	GetByDateAndPortfolio(ctx context.Context, date time.Time, portfolioID string) (*domain.PortfolioRiskMetrics, error)
	ListByDate(ctx context.Context, date time.Time) ([]*domain.PortfolioRiskMetrics, error)
}

// FirmRiskStore holds the firm-wide summary, one per date.
type FirmRiskStore interface {
	Upsert(ctx context.Context, s *domain.FirmRiskSummary) error
	GetByDate(ctx context.Context, date time.Time) (*domain.FirmRiskSummary, error)
}

// ConcentrationStore holds the top-N concentration ranking for a date.
type ConcentrationStore interface {
	// ReplaceForDate atomically replaces the ranking for a date.
	ReplaceForDate(ctx context.Context, date time.Time, rows []*domain.RiskConcentration) error
	ListByDate(ctx context.Context, date time.Time) ([]*domain.RiskConcentration, error)
}

// RiskLimitStore provides access to configured risk limits.
type RiskLimitStore interface {
	Insert(ctx context.Context, l *domain.RiskLimit) error
	ListActive(ctx context.Context) ([]*domain.RiskLimit, error)
}

// BreachStore holds risk limit breach records.
type BreachStore interface {
	Insert(ctx context.Context, b *domain.RiskLimitBreach) error

	// ListOpenByLimit retrieves unresolved breaches for a limit.
	ListOpenByLimit(ctx context.Context, limitID string) ([]*domain.RiskLimitBreach, error)

	// Resolve marks a breach resolved. Returns ErrNotFound if absent.
	Resolve(ctx context.Context, breachID, resolvedBy string, at time.Time) error
}

// ToleranceRuleStore provides access to reconciliation tolerance rules.
type ToleranceRuleStore interface {
	Insert(ctx context.Context, r *domain.ValuationToleranceRule) error
	ListActive(ctx context.Context) ([]*domain.ValuationToleranceRule, error)
}

// ExceptionStore holds reconciliation exceptions keyed by
// (exception_date, trade_id, type).
type ExceptionStore interface {
	Upsert(ctx context.Context, e *domain.ValuationException) error

	ListByDate(ctx context.Context, date time.Time) ([]*domain.ValuationException, error)

	// ListOpen retrieves all exceptions not yet RESOLVED, newest first.
	ListOpen(ctx context.Context) ([]*domain.ValuationException, error)

	// Review updates an exception's review state. Returns ErrNotFound if absent.
	Review(ctx context.Context, date time.Time, tradeID string, typ domain.ExceptionType,
		reviewedBy string, status domain.ExceptionStatus, notes string, at time.Time) error
}

// ReconciliationSummaryStore holds one summary per date.
type ReconciliationSummaryStore interface {
	Upsert(ctx context.Context, s *domain.DailyReconciliationSummary) error
	GetByDate(ctx context.Context, date time.Time) (*domain.DailyReconciliationSummary, error)
	Update(ctx context.Context, s *domain.DailyReconciliationSummary) error
}

// JobStore persists EOD jobs and their steps. Update persists the whole job
// document including steps, which serves as the persist-then-flush
// checkpoint between step transitions.
type JobStore interface {
	// Insert adds a job. Returns ErrDuplicateKey if a job already exists for
	// the job's valuation date.
	Insert(ctx context.Context, j *domain.EodValuationJob) error

	// Update replaces the stored job and steps. Returns ErrNotFound if absent.
	Update(ctx context.Context, j *domain.EodValuationJob) error

	GetByJobID(ctx context.Context, jobID string) (*domain.EodValuationJob, error)
	GetByDate(ctx context.Context, date time.Time) (*domain.EodValuationJob, error)
	ListByStatus(ctx context.Context, status domain.JobStatus) ([]*domain.EodValuationJob, error)

	// ListRecent retrieves up to limit jobs ordered by valuation date descending.
	ListRecent(ctx context.Context, limit int) ([]*domain.EodValuationJob, error)

	// RequestCancel sets the cooperative cancellation flag on a job.
	// Returns ErrNotFound if absent.
	RequestCancel(ctx context.Context, jobID string) error

	// IsCancelRequested reads the cancellation flag. This read path must work
	// while a stage for the same job is executing.
	IsCancelRequested(ctx context.Context, jobID string) (bool, error)
}

// AccountingEventStore holds generated accounting events.
type AccountingEventStore interface {
	InsertBulk(ctx context.Context, events []*domain.AccountingEvent) error
	ListByDate(ctx context.Context, date time.Time) ([]*domain.AccountingEvent, error)
}
