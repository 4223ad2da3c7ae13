package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"cds-eod-engine/internal/domain"
	"cds-eod-engine/internal/storage"
)

// ToleranceRuleStore implements storage.ToleranceRuleStore using PostgreSQL.
type ToleranceRuleStore struct {
	pool *Pool
}

// NewToleranceRuleStore creates a new ToleranceRuleStore.
func NewToleranceRuleStore(pool *Pool) *ToleranceRuleStore {
	return &ToleranceRuleStore{pool: pool}
}

var _ storage.ToleranceRuleStore = (*ToleranceRuleStore)(nil)

const toleranceRuleColumns = `
	rule_id, rule_type, applies_to, portfolio_id, trade_type,
	abs_threshold, pct_threshold, severity, active
`

// Insert adds a tolerance rule. Returns ErrDuplicateKey if rule_id exists.
func (s *ToleranceRuleStore) Insert(ctx context.Context, r *domain.ValuationToleranceRule) error {
	query := `
		INSERT INTO valuation_tolerance_rules (` + toleranceRuleColumns + `) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9
		)
	`

	_, err := s.pool.Exec(ctx, query,
		r.RuleID, string(r.RuleType), string(r.AppliesTo), r.PortfolioID, r.TradeType,
		nullDecimal(r.AbsThreshold), nullDecimal(r.PctThreshold), string(r.Severity), r.Active,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert tolerance rule: %w", err)
	}
	return nil
}

// ListActive retrieves all active tolerance rules.
func (s *ToleranceRuleStore) ListActive(ctx context.Context) ([]*domain.ValuationToleranceRule, error) {
	query := `
		SELECT ` + toleranceRuleColumns + `
		FROM valuation_tolerance_rules
		WHERE active = true
		ORDER BY rule_id ASC
	`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list active tolerance rules: %w", err)
	}
	defer rows.Close()

	var rules []*domain.ValuationToleranceRule
	for rows.Next() {
		var r domain.ValuationToleranceRule
		var ruleType, appliesTo, severity string
		var abs, pct decimal.NullDecimal
		err := rows.Scan(
			&r.RuleID, &ruleType, &appliesTo, &r.PortfolioID, &r.TradeType,
			&abs, &pct, &severity, &r.Active,
		)
		if err != nil {
			return nil, fmt.Errorf("scan tolerance rule row: %w", err)
		}
		r.RuleType = domain.ToleranceRuleType(ruleType)
		r.AppliesTo = domain.ToleranceScope(appliesTo)
		r.Severity = domain.ExceptionSeverity(severity)
		r.AbsThreshold = decimalPtr(abs)
		r.PctThreshold = decimalPtr(pct)
		rules = append(rules, &r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tolerance rule rows: %w", err)
	}

	return rules, nil
}

// ExceptionStore implements storage.ExceptionStore using PostgreSQL.
type ExceptionStore struct {
	pool *Pool
}

// NewExceptionStore creates a new ExceptionStore.
func NewExceptionStore(pool *Pool) *ExceptionStore {
	return &ExceptionStore{pool: pool}
}

var _ storage.ExceptionStore = (*ExceptionStore)(nil)

const exceptionColumns = `
	exception_date, trade_id, exception_type,
	current_value, previous_value, value_change, percentage_change, threshold_value,
	rule_id, severity, status, reviewed_by, reviewed_at, resolution_notes
`

// Upsert writes an exception for its (exception_date, trade_id, type) key.
// Re-runs refresh the measured values but keep review state columns from the
// incoming record, which reconciliation preserves for already-reviewed rows.
func (s *ExceptionStore) Upsert(ctx context.Context, e *domain.ValuationException) error {
	query := `
		INSERT INTO valuation_exceptions (` + exceptionColumns + `) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14
		)
		ON CONFLICT (exception_date, trade_id, exception_type) DO UPDATE SET
			current_value = EXCLUDED.current_value,
			previous_value = EXCLUDED.previous_value,
			value_change = EXCLUDED.value_change,
			percentage_change = EXCLUDED.percentage_change,
			threshold_value = EXCLUDED.threshold_value,
			rule_id = EXCLUDED.rule_id,
			severity = EXCLUDED.severity,
			status = EXCLUDED.status,
			reviewed_by = EXCLUDED.reviewed_by,
			reviewed_at = EXCLUDED.reviewed_at,
			resolution_notes = EXCLUDED.resolution_notes
	`

	_, err := s.pool.Exec(ctx, query,
		e.ExceptionDate, e.TradeID, string(e.Type),
		nullDecimal(e.CurrentValue), nullDecimal(e.PreviousValue), nullDecimal(e.ValueChange),
		nullDecimal(e.PercentageChange), nullDecimal(e.ThresholdValue),
		e.RuleID, string(e.Severity), string(e.Status), e.ReviewedBy, e.ReviewedAt, e.ResolutionNotes,
	)
	if err != nil {
		return fmt.Errorf("upsert exception: %w", err)
	}
	return nil
}

// ListByDate retrieves all exceptions for a date.
func (s *ExceptionStore) ListByDate(ctx context.Context, date time.Time) ([]*domain.ValuationException, error) {
	query := `
		SELECT ` + exceptionColumns + `
		FROM valuation_exceptions
		WHERE exception_date = $1
		ORDER BY trade_id ASC, exception_type ASC
	`

	rows, err := s.pool.Query(ctx, query, date)
	if err != nil {
		return nil, fmt.Errorf("list exceptions by date: %w", err)
	}
	defer rows.Close()

	return scanExceptions(rows)
}

// ListOpen retrieves all exceptions not yet RESOLVED, newest first.
func (s *ExceptionStore) ListOpen(ctx context.Context) ([]*domain.ValuationException, error) {
	query := `
		SELECT ` + exceptionColumns + `
		FROM valuation_exceptions
		WHERE status != 'RESOLVED'
		ORDER BY exception_date DESC, trade_id ASC, exception_type ASC
	`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list open exceptions: %w", err)
	}
	defer rows.Close()

	return scanExceptions(rows)
}

// Review updates an exception's review state. Returns ErrNotFound if absent.
func (s *ExceptionStore) Review(ctx context.Context, date time.Time, tradeID string, typ domain.ExceptionType,
	reviewedBy string, status domain.ExceptionStatus, notes string, at time.Time) error {
	query := `
		UPDATE valuation_exceptions
		SET status = $4, reviewed_by = $5, reviewed_at = $6, resolution_notes = $7
		WHERE exception_date = $1 AND trade_id = $2 AND exception_type = $3
	`

	tag, err := s.pool.Exec(ctx, query, date, tradeID, string(typ), string(status), reviewedBy, at, notes)
	if err != nil {
		return fmt.Errorf("review exception: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func scanException(row pgx.Row) (*domain.ValuationException, error) {
	var e domain.ValuationException
	var typ, severity, status string
	var cur, prev, change, pct, threshold decimal.NullDecimal

	err := row.Scan(
		&e.ExceptionDate, &e.TradeID, &typ,
		&cur, &prev, &change, &pct, &threshold,
		&e.RuleID, &severity, &status, &e.ReviewedBy, &e.ReviewedAt, &e.ResolutionNotes,
	)
	if err != nil {
		return nil, err
	}

	e.Type = domain.ExceptionType(typ)
	e.Severity = domain.ExceptionSeverity(severity)
	e.Status = domain.ExceptionStatus(status)
	e.CurrentValue = decimalPtr(cur)
	e.PreviousValue = decimalPtr(prev)
	e.ValueChange = decimalPtr(change)
	e.PercentageChange = decimalPtr(pct)
	e.ThresholdValue = decimalPtr(threshold)
	return &e, nil
}

func scanExceptions(rows pgx.Rows) ([]*domain.ValuationException, error) {
	var exceptions []*domain.ValuationException

	for rows.Next() {
		e, err := scanException(rows)
		if err != nil {
			return nil, fmt.Errorf("scan exception row: %w", err)
		}
		exceptions = append(exceptions, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate exception rows: %w", err)
	}

	return exceptions, nil
}

// ReconciliationSummaryStore implements storage.ReconciliationSummaryStore
// using PostgreSQL.
type ReconciliationSummaryStore struct {
	pool *Pool
}

// NewReconciliationSummaryStore creates a new ReconciliationSummaryStore.
func NewReconciliationSummaryStore(pool *Pool) *ReconciliationSummaryStore {
	return &ReconciliationSummaryStore{pool: pool}
}

var _ storage.ReconciliationSummaryStore = (*ReconciliationSummaryStore)(nil)

const reconSummaryColumns = `
	reconciliation_date, job_id, total_valuations, total_exceptions,
	info_count, warning_count, error_count, critical_count,
	large_npv_change_count, large_pnl_count, missing_valuation_count, negative_accrued_count,
	open_exceptions, under_review_exceptions, resolved_exceptions,
	status, approved_by, approved_at
`

// Upsert writes the summary for its reconciliation_date key.
func (s *ReconciliationSummaryStore) Upsert(ctx context.Context, sum *domain.DailyReconciliationSummary) error {
	query := `
		INSERT INTO daily_reconciliation_summaries (` + reconSummaryColumns + `) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18
		)
		ON CONFLICT (reconciliation_date) DO UPDATE SET
			job_id = EXCLUDED.job_id,
			total_valuations = EXCLUDED.total_valuations,
			total_exceptions = EXCLUDED.total_exceptions,
			info_count = EXCLUDED.info_count,
			warning_count = EXCLUDED.warning_count,
			error_count = EXCLUDED.error_count,
			critical_count = EXCLUDED.critical_count,
			large_npv_change_count = EXCLUDED.large_npv_change_count,
			large_pnl_count = EXCLUDED.large_pnl_count,
			missing_valuation_count = EXCLUDED.missing_valuation_count,
			negative_accrued_count = EXCLUDED.negative_accrued_count,
			open_exceptions = EXCLUDED.open_exceptions,
			under_review_exceptions = EXCLUDED.under_review_exceptions,
			resolved_exceptions = EXCLUDED.resolved_exceptions,
			status = EXCLUDED.status,
			approved_by = EXCLUDED.approved_by,
			approved_at = EXCLUDED.approved_at
	`

	_, err := s.pool.Exec(ctx, query, summaryArgs(sum)...)
	if err != nil {
		return fmt.Errorf("upsert reconciliation summary: %w", err)
	}
	return nil
}

// GetByDate retrieves the summary for a date. Returns ErrNotFound if absent.
func (s *ReconciliationSummaryStore) GetByDate(ctx context.Context, date time.Time) (*domain.DailyReconciliationSummary, error) {
	query := `
		SELECT ` + reconSummaryColumns + `
		FROM daily_reconciliation_summaries
		WHERE reconciliation_date = $1
	`

	var sum domain.DailyReconciliationSummary
	var status string
	err := s.pool.QueryRow(ctx, query, date).Scan(
		&sum.ReconciliationDate, &sum.JobID, &sum.TotalValuations, &sum.TotalExceptions,
		&sum.InfoCount, &sum.WarningCount, &sum.ErrorCount, &sum.CriticalCount,
		&sum.LargeNpvChangeCount, &sum.LargePnlCount, &sum.MissingValuationCount, &sum.NegativeAccruedCount,
		&sum.OpenExceptions, &sum.UnderReviewExceptions, &sum.ResolvedExceptions,
		&status, &sum.ApprovedBy, &sum.ApprovedAt,
	)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get reconciliation summary: %w", err)
	}
	sum.Status = domain.ReconciliationStatus(status)
	return &sum, nil
}

// Update replaces the summary for its date. Returns ErrNotFound if absent.
func (s *ReconciliationSummaryStore) Update(ctx context.Context, sum *domain.DailyReconciliationSummary) error {
	query := `
		UPDATE daily_reconciliation_summaries SET
			job_id = $2, total_valuations = $3, total_exceptions = $4,
			info_count = $5, warning_count = $6, error_count = $7, critical_count = $8,
			large_npv_change_count = $9, large_pnl_count = $10,
			missing_valuation_count = $11, negative_accrued_count = $12,
			open_exceptions = $13, under_review_exceptions = $14, resolved_exceptions = $15,
			status = $16, approved_by = $17, approved_at = $18
		WHERE reconciliation_date = $1
	`

	tag, err := s.pool.Exec(ctx, query, summaryArgs(sum)...)
	if err != nil {
		return fmt.Errorf("update reconciliation summary: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func summaryArgs(sum *domain.DailyReconciliationSummary) []any {
	return []any{
		sum.ReconciliationDate, sum.JobID, sum.TotalValuations, sum.TotalExceptions,
		sum.InfoCount, sum.WarningCount, sum.ErrorCount, sum.CriticalCount,
		sum.LargeNpvChangeCount, sum.LargePnlCount, sum.MissingValuationCount, sum.NegativeAccruedCount,
		sum.OpenExceptions, sum.UnderReviewExceptions, sum.ResolvedExceptions,
		string(sum.Status), sum.ApprovedBy, sum.ApprovedAt,
	}
}
