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

// AccruedStore implements storage.AccruedStore using PostgreSQL.
type AccruedStore struct {
	pool *Pool
}

// NewAccruedStore creates a new AccruedStore.
func NewAccruedStore(pool *Pool) *AccruedStore {
	return &AccruedStore{pool: pool}
}

var _ storage.AccruedStore = (*AccruedStore)(nil)

const accruedColumns = `
	calculation_date, trade_id, accrued_interest, accrual_start_date, accrual_end_date,
	numerator_days, denominator_days, day_count_fraction, notional, spread_bps,
	day_count, currency, status, error_message, job_id
`

// Upsert writes an accrued interest row for its (calculation_date, trade_id) key.
func (s *AccruedStore) Upsert(ctx context.Context, a *domain.TradeAccruedInterest) error {
	query := `
		INSERT INTO trade_accrued_interest (` + accruedColumns + `) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15
		)
		ON CONFLICT (calculation_date, trade_id) DO UPDATE SET
			accrued_interest = EXCLUDED.accrued_interest,
			accrual_start_date = EXCLUDED.accrual_start_date,
			accrual_end_date = EXCLUDED.accrual_end_date,
			numerator_days = EXCLUDED.numerator_days,
			denominator_days = EXCLUDED.denominator_days,
			day_count_fraction = EXCLUDED.day_count_fraction,
			notional = EXCLUDED.notional,
			spread_bps = EXCLUDED.spread_bps,
			day_count = EXCLUDED.day_count,
			currency = EXCLUDED.currency,
			status = EXCLUDED.status,
			error_message = EXCLUDED.error_message,
			job_id = EXCLUDED.job_id
	`

	_, err := s.pool.Exec(ctx, query,
		a.CalculationDate, a.TradeID, a.AccruedInterest, a.AccrualStartDate, a.AccrualEndDate,
		a.NumeratorDays, a.DenominatorDays, a.DayCountFraction, a.Notional, a.SpreadBps,
		a.DayCount, a.Currency, string(a.Status), a.ErrorMessage, a.JobID,
	)
	if err != nil {
		return fmt.Errorf("upsert accrued interest: %w", err)
	}
	return nil
}

// GetByDateAndTrade retrieves one accrued row. Returns ErrNotFound if absent.
func (s *AccruedStore) GetByDateAndTrade(ctx context.Context, date time.Time, tradeID string) (*domain.TradeAccruedInterest, error) {
	query := `
		SELECT ` + accruedColumns + `
		FROM trade_accrued_interest
		WHERE calculation_date = $1 AND trade_id = $2
	`

	a, err := scanAccrued(s.pool.QueryRow(ctx, query, date, tradeID))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get accrued interest: %w", err)
	}
	return a, nil
}

// ListByDate retrieves all accrued rows for a date.
func (s *AccruedStore) ListByDate(ctx context.Context, date time.Time) ([]*domain.TradeAccruedInterest, error) {
	query := `
		SELECT ` + accruedColumns + `
		FROM trade_accrued_interest
		WHERE calculation_date = $1
		ORDER BY trade_id ASC
	`

	rows, err := s.pool.Query(ctx, query, date)
	if err != nil {
		return nil, fmt.Errorf("list accrued interest by date: %w", err)
	}
	defer rows.Close()

	var results []*domain.TradeAccruedInterest
	for rows.Next() {
		a, err := scanAccrued(rows)
		if err != nil {
			return nil, fmt.Errorf("scan accrued row: %w", err)
		}
		results = append(results, a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate accrued rows: %w", err)
	}

	return results, nil
}

func scanAccrued(row pgx.Row) (*domain.TradeAccruedInterest, error) {
	var a domain.TradeAccruedInterest
	var status string

	err := row.Scan(
		&a.CalculationDate, &a.TradeID, &a.AccruedInterest, &a.AccrualStartDate, &a.AccrualEndDate,
		&a.NumeratorDays, &a.DenominatorDays, &a.DayCountFraction, &a.Notional, &a.SpreadBps,
		&a.DayCount, &a.Currency, &status, &a.ErrorMessage, &a.JobID,
	)
	if err != nil {
		return nil, err
	}

	a.Status = domain.AccrualStatus(status)
	return &a, nil
}

// PnlStore implements storage.PnlStore using PostgreSQL.
type PnlStore struct {
	pool *Pool
}

// NewPnlStore creates a new PnlStore.
func NewPnlStore(pool *Pool) *PnlStore {
	return &PnlStore{pool: pool}
}

var _ storage.PnlStore = (*PnlStore)(nil)

const pnlColumns = `
	pnl_date, trade_id, current_npv, current_accrued, current_total_value,
	previous_npv, previous_accrued, previous_total,
	total_pnl, pnl_percentage, market_pnl, accrued_pnl, new_trade,
	notional, currency, reference_entity, direction, job_id
`

// Upsert writes a P&L row for its (pnl_date, trade_id) key.
func (s *PnlStore) Upsert(ctx context.Context, p *domain.DailyPnlResult) error {
	query := `
		INSERT INTO daily_pnl_results (` + pnlColumns + `) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18
		)
		ON CONFLICT (pnl_date, trade_id) DO UPDATE SET
			current_npv = EXCLUDED.current_npv,
			current_accrued = EXCLUDED.current_accrued,
			current_total_value = EXCLUDED.current_total_value,
			previous_npv = EXCLUDED.previous_npv,
			previous_accrued = EXCLUDED.previous_accrued,
			previous_total = EXCLUDED.previous_total,
			total_pnl = EXCLUDED.total_pnl,
			pnl_percentage = EXCLUDED.pnl_percentage,
			market_pnl = EXCLUDED.market_pnl,
			accrued_pnl = EXCLUDED.accrued_pnl,
			new_trade = EXCLUDED.new_trade,
			notional = EXCLUDED.notional,
			currency = EXCLUDED.currency,
			reference_entity = EXCLUDED.reference_entity,
			direction = EXCLUDED.direction,
			job_id = EXCLUDED.job_id
	`

	_, err := s.pool.Exec(ctx, query,
		p.PnlDate, p.TradeID, p.CurrentNpv, p.CurrentAccrued, p.CurrentTotalValue,
		nullDecimal(p.PreviousNpv), nullDecimal(p.PreviousAccrued), nullDecimal(p.PreviousTotal),
		p.TotalPnl, nullDecimal(p.PnlPercentage), nullDecimal(p.MarketPnl), nullDecimal(p.AccruedPnl), p.NewTrade,
		p.Notional, p.Currency, p.ReferenceEntity, string(p.Direction), p.JobID,
	)
	if err != nil {
		return fmt.Errorf("upsert pnl result: %w", err)
	}
	return nil
}

// GetByDateAndTrade retrieves one P&L row. Returns ErrNotFound if absent.
func (s *PnlStore) GetByDateAndTrade(ctx context.Context, date time.Time, tradeID string) (*domain.DailyPnlResult, error) {
	query := `
		SELECT ` + pnlColumns + `
		FROM daily_pnl_results
		WHERE pnl_date = $1 AND trade_id = $2
	`

	p, err := scanPnl(s.pool.QueryRow(ctx, query, date, tradeID))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get pnl result: %w", err)
	}
	return p, nil
}

// ListByDate retrieves all P&L rows for a date.
func (s *PnlStore) ListByDate(ctx context.Context, date time.Time) ([]*domain.DailyPnlResult, error) {
	query := `
		SELECT ` + pnlColumns + `
		FROM daily_pnl_results
		WHERE pnl_date = $1
		ORDER BY trade_id ASC
	`

	rows, err := s.pool.Query(ctx, query, date)
	if err != nil {
		return nil, fmt.Errorf("list pnl results by date: %w", err)
	}
	defer rows.Close()

	var results []*domain.DailyPnlResult
	for rows.Next() {
		p, err := scanPnl(rows)
		if err != nil {
			return nil, fmt.Errorf("scan pnl row: %w", err)
		}
		results = append(results, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pnl rows: %w", err)
	}

	return results, nil
}

func scanPnl(row pgx.Row) (*domain.DailyPnlResult, error) {
	var p domain.DailyPnlResult
	var direction string
	var prevNpv, prevAccrued, prevTotal, pnlPct, marketPnl, accruedPnl decimal.NullDecimal

	err := row.Scan(
		&p.PnlDate, &p.TradeID, &p.CurrentNpv, &p.CurrentAccrued, &p.CurrentTotalValue,
		&prevNpv, &prevAccrued, &prevTotal,
		&p.TotalPnl, &pnlPct, &marketPnl, &accruedPnl, &p.NewTrade,
		&p.Notional, &p.Currency, &p.ReferenceEntity, &direction, &p.JobID,
	)
	if err != nil {
		return nil, err
	}

	p.PreviousNpv = decimalPtr(prevNpv)
	p.PreviousAccrued = decimalPtr(prevAccrued)
	p.PreviousTotal = decimalPtr(prevTotal)
	p.PnlPercentage = decimalPtr(pnlPct)
	p.MarketPnl = decimalPtr(marketPnl)
	p.AccruedPnl = decimalPtr(accruedPnl)
	p.Direction = domain.ProtectionDirection(direction)
	return &p, nil
}
