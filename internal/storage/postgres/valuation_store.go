package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"cds-eod-engine/internal/domain"
	"cds-eod-engine/internal/storage"
)

// ValuationStore implements storage.ValuationStore using PostgreSQL.
type ValuationStore struct {
	pool *Pool
}

// NewValuationStore creates a new ValuationStore.
func NewValuationStore(pool *Pool) *ValuationStore {
	return &ValuationStore{pool: pool}
}

var _ storage.ValuationStore = (*ValuationStore)(nil)

const valuationColumns = `
	valuation_date, trade_id, npv, premium_leg_pv, protection_leg_pv,
	currency, calculation_method, status, error_message, calculation_time_ms, job_id
`

// Upsert writes a valuation, replacing any prior result for the same
// date and trade. Reruns overwrite, they never duplicate.
func (s *ValuationStore) Upsert(ctx context.Context, v *domain.TradeValuation) error {
	query := `
		INSERT INTO trade_valuations (` + valuationColumns + `) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11
		)
		ON CONFLICT (valuation_date, trade_id) DO UPDATE SET
			npv = EXCLUDED.npv,
			premium_leg_pv = EXCLUDED.premium_leg_pv,
			protection_leg_pv = EXCLUDED.protection_leg_pv,
			currency = EXCLUDED.currency,
			calculation_method = EXCLUDED.calculation_method,
			status = EXCLUDED.status,
			error_message = EXCLUDED.error_message,
			calculation_time_ms = EXCLUDED.calculation_time_ms,
			job_id = EXCLUDED.job_id
	`

	_, err := s.pool.Exec(ctx, query,
		v.ValuationDate, v.TradeID, v.Npv, v.PremiumLegPv, v.ProtectionLegPv,
		v.Currency, v.CalculationMethod, string(v.Status), v.ErrorMessage,
		v.CalculationTimeMs, v.JobID,
	)
	if err != nil {
		return fmt.Errorf("upsert valuation: %w", err)
	}
	return nil
}

// GetByDateAndTrade retrieves one valuation. Returns ErrNotFound if absent.
func (s *ValuationStore) GetByDateAndTrade(ctx context.Context, date time.Time, tradeID string) (*domain.TradeValuation, error) {
	query := `
		SELECT ` + valuationColumns + `
		FROM trade_valuations
		WHERE valuation_date = $1 AND trade_id = $2
	`

	v, err := scanValuation(s.pool.QueryRow(ctx, query, date, tradeID))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get valuation: %w", err)
	}
	return v, nil
}

// ListByDate retrieves all valuations for a date.
func (s *ValuationStore) ListByDate(ctx context.Context, date time.Time) ([]*domain.TradeValuation, error) {
	query := `
		SELECT ` + valuationColumns + `
		FROM trade_valuations
		WHERE valuation_date = $1
		ORDER BY trade_id ASC
	`

	rows, err := s.pool.Query(ctx, query, date)
	if err != nil {
		return nil, fmt.Errorf("list valuations by date: %w", err)
	}
	defer rows.Close()

	return scanValuations(rows)
}

// GetLatestBefore retrieves a trade's most recent valuation strictly before
// date. Returns ErrNotFound if the trade has no prior valuation.
func (s *ValuationStore) GetLatestBefore(ctx context.Context, tradeID string, date time.Time) (*domain.TradeValuation, error) {
	query := `
		SELECT ` + valuationColumns + `
		FROM trade_valuations
		WHERE trade_id = $1 AND valuation_date < $2
		ORDER BY valuation_date DESC
		LIMIT 1
	`

	v, err := scanValuation(s.pool.QueryRow(ctx, query, tradeID, date))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get latest valuation before date: %w", err)
	}
	return v, nil
}

// CountByDateAndStatus counts a date's valuations with the given status.
func (s *ValuationStore) CountByDateAndStatus(ctx context.Context, date time.Time, status domain.ValuationStatus) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM trade_valuations
		WHERE valuation_date = $1 AND status = $2
	`

	var count int
	if err := s.pool.QueryRow(ctx, query, date, string(status)).Scan(&count); err != nil {
		return 0, fmt.Errorf("count valuations by status: %w", err)
	}
	return count, nil
}

func scanValuation(row pgx.Row) (*domain.TradeValuation, error) {
	var v domain.TradeValuation
	var status string

	err := row.Scan(
		&v.ValuationDate, &v.TradeID, &v.Npv, &v.PremiumLegPv, &v.ProtectionLegPv,
		&v.Currency, &v.CalculationMethod, &status, &v.ErrorMessage,
		&v.CalculationTimeMs, &v.JobID,
	)
	if err != nil {
		return nil, err
	}

	v.Status = domain.ValuationStatus(status)
	return &v, nil
}

func scanValuations(rows pgx.Rows) ([]*domain.TradeValuation, error) {
	var valuations []*domain.TradeValuation

	for rows.Next() {
		v, err := scanValuation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan valuation row: %w", err)
		}
		valuations = append(valuations, v)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate valuation rows: %w", err)
	}

	return valuations, nil
}

// SensitivityStore implements storage.SensitivityStore using PostgreSQL.
type SensitivityStore struct {
	pool *Pool
}

// NewSensitivityStore creates a new SensitivityStore.
func NewSensitivityStore(pool *Pool) *SensitivityStore {
	return &SensitivityStore{pool: pool}
}

var _ storage.SensitivityStore = (*SensitivityStore)(nil)

const sensitivityColumns = `
	valuation_date, trade_id, cs01, ir01, jtd, rec01, duration_years, job_id
`

// Upsert writes a sensitivity row, replacing any prior result.
func (s *SensitivityStore) Upsert(ctx context.Context, sens *domain.TradeValuationSensitivity) error {
	query := `
		INSERT INTO trade_valuation_sensitivities (` + sensitivityColumns + `) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8
		)
		ON CONFLICT (valuation_date, trade_id) DO UPDATE SET
			cs01 = EXCLUDED.cs01,
			ir01 = EXCLUDED.ir01,
			jtd = EXCLUDED.jtd,
			rec01 = EXCLUDED.rec01,
			duration_years = EXCLUDED.duration_years,
			job_id = EXCLUDED.job_id
	`

	_, err := s.pool.Exec(ctx, query,
		sens.ValuationDate, sens.TradeID, sens.Cs01, sens.Ir01, sens.Jtd,
		sens.Rec01, sens.DurationYears, sens.JobID,
	)
	if err != nil {
		return fmt.Errorf("upsert sensitivity: %w", err)
	}
	return nil
}

// GetByDateAndTrade retrieves one sensitivity row. Returns ErrNotFound if absent.
func (s *SensitivityStore) GetByDateAndTrade(ctx context.Context, date time.Time, tradeID string) (*domain.TradeValuationSensitivity, error) {
	query := `
		SELECT ` + sensitivityColumns + `
		FROM trade_valuation_sensitivities
		WHERE valuation_date = $1 AND trade_id = $2
	`

	sens, err := scanSensitivity(s.pool.QueryRow(ctx, query, date, tradeID))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get sensitivity: %w", err)
	}
	return sens, nil
}

// ListByDate retrieves all sensitivities for a date.
func (s *SensitivityStore) ListByDate(ctx context.Context, date time.Time) ([]*domain.TradeValuationSensitivity, error) {
	query := `
		SELECT ` + sensitivityColumns + `
		FROM trade_valuation_sensitivities
		WHERE valuation_date = $1
		ORDER BY trade_id ASC
	`

	rows, err := s.pool.Query(ctx, query, date)
	if err != nil {
		return nil, fmt.Errorf("list sensitivities by date: %w", err)
	}
	defer rows.Close()

	var sensitivities []*domain.TradeValuationSensitivity
	for rows.Next() {
		sens, err := scanSensitivity(rows)
		if err != nil {
			return nil, fmt.Errorf("scan sensitivity row: %w", err)
		}
		sensitivities = append(sensitivities, sens)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sensitivity rows: %w", err)
	}

	return sensitivities, nil
}

func scanSensitivity(row pgx.Row) (*domain.TradeValuationSensitivity, error) {
	var sens domain.TradeValuationSensitivity

	err := row.Scan(
		&sens.ValuationDate, &sens.TradeID, &sens.Cs01, &sens.Ir01, &sens.Jtd,
		&sens.Rec01, &sens.DurationYears, &sens.JobID,
	)
	if err != nil {
		return nil, err
	}
	return &sens, nil
}
