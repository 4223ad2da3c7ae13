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

// PortfolioRiskStore implements storage.PortfolioRiskStore using PostgreSQL.
type PortfolioRiskStore struct {
	pool *Pool
}

// NewPortfolioRiskStore creates a new PortfolioRiskStore.
func NewPortfolioRiskStore(pool *Pool) *PortfolioRiskStore {
	return &PortfolioRiskStore{pool: pool}
}

var _ storage.PortfolioRiskStore = (*PortfolioRiskStore)(nil)

const portfolioRiskColumns = `
	calculation_date, portfolio_id, currency,
	cs01, cs01_long, cs01_short, ir01, jtd, jtd_long, jtd_short, rec01,
	gross_notional, net_notional, long_notional, short_notional,
	trade_count, job_id
`

// Upsert writes a portfolio aggregate for its (calculation_date, portfolio_id) key.
func (s *PortfolioRiskStore) Upsert(ctx context.Context, m *domain.PortfolioRiskMetrics) error {
	query := `
		INSERT INTO portfolio_risk_metrics (` + portfolioRiskColumns + `) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17
		)
		ON CONFLICT (calculation_date, portfolio_id) DO UPDATE SET
			currency = EXCLUDED.currency,
			cs01 = EXCLUDED.cs01,
			cs01_long = EXCLUDED.cs01_long,
			cs01_short = EXCLUDED.cs01_short,
			ir01 = EXCLUDED.ir01,
			jtd = EXCLUDED.jtd,
			jtd_long = EXCLUDED.jtd_long,
			jtd_short = EXCLUDED.jtd_short,
			rec01 = EXCLUDED.rec01,
			gross_notional = EXCLUDED.gross_notional,
			net_notional = EXCLUDED.net_notional,
			long_notional = EXCLUDED.long_notional,
			short_notional = EXCLUDED.short_notional,
			trade_count = EXCLUDED.trade_count,
			job_id = EXCLUDED.job_id
	`

	_, err := s.pool.Exec(ctx, query,
		m.CalculationDate, m.PortfolioID, m.Currency,
		m.Cs01, m.Cs01Long, m.Cs01Short, m.Ir01, m.Jtd, m.JtdLong, m.JtdShort, m.Rec01,
		m.GrossNotional, m.NetNotional, m.LongNotional, m.ShortNotional,
		m.TradeCount, m.JobID,
	)
	if err != nil {
		return fmt.Errorf("upsert portfolio risk: %w", err)
	}
	return nil
}

// GetByDateAndPortfolio retrieves one aggregate. Returns ErrNotFound if absent.
func (s *PortfolioRiskStore) GetByDateAndPortfolio(ctx context.Context, date time.Time, portfolioID string) (*domain.PortfolioRiskMetrics, error) {
	query := `
		SELECT ` + portfolioRiskColumns + `
		FROM portfolio_risk_metrics
		WHERE calculation_date = $1 AND portfolio_id = $2
	`

	m, err := scanPortfolioRisk(s.pool.QueryRow(ctx, query, date, portfolioID))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get portfolio risk: %w", err)
	}
	return m, nil
}

// ListByDate retrieves all portfolio aggregates for a date.
func (s *PortfolioRiskStore) ListByDate(ctx context.Context, date time.Time) ([]*domain.PortfolioRiskMetrics, error) {
	query := `
		SELECT ` + portfolioRiskColumns + `
		FROM portfolio_risk_metrics
		WHERE calculation_date = $1
		ORDER BY portfolio_id ASC
	`

	rows, err := s.pool.Query(ctx, query, date)
	if err != nil {
		return nil, fmt.Errorf("list portfolio risk by date: %w", err)
	}
	defer rows.Close()

	var metrics []*domain.PortfolioRiskMetrics
	for rows.Next() {
		m, err := scanPortfolioRisk(rows)
		if err != nil {
			return nil, fmt.Errorf("scan portfolio risk row: %w", err)
		}
		metrics = append(metrics, m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate portfolio risk rows: %w", err)
	}

	return metrics, nil
}

func scanPortfolioRisk(row pgx.Row) (*domain.PortfolioRiskMetrics, error) {
	var m domain.PortfolioRiskMetrics

	err := row.Scan(
		&m.CalculationDate, &m.PortfolioID, &m.Currency,
		&m.Cs01, &m.Cs01Long, &m.Cs01Short, &m.Ir01, &m.Jtd, &m.JtdLong, &m.JtdShort, &m.Rec01,
		&m.GrossNotional, &m.NetNotional, &m.LongNotional, &m.ShortNotional,
		&m.TradeCount, &m.JobID,
	)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// FirmRiskStore implements storage.FirmRiskStore using PostgreSQL.
type FirmRiskStore struct {
	pool *Pool
}

// NewFirmRiskStore creates a new FirmRiskStore.
func NewFirmRiskStore(pool *Pool) *FirmRiskStore {
	return &FirmRiskStore{pool: pool}
}

var _ storage.FirmRiskStore = (*FirmRiskStore)(nil)

const firmRiskColumns = `
	calculation_date, currency,
	total_cs01, total_cs01_long, total_cs01_short, total_ir01,
	total_jtd, total_jtd_long, total_jtd_short, total_rec01,
	total_gross_notional, total_net_notional, total_long_notional, total_short_notional,
	var_95, var_99, expected_shortfall,
	portfolio_count, trade_count, counterparty_count, reference_entity_count, job_id
`

// Upsert writes the firm summary for its calculation_date key.
func (s *FirmRiskStore) Upsert(ctx context.Context, f *domain.FirmRiskSummary) error {
	query := `
		INSERT INTO firm_risk_summaries (` + firmRiskColumns + `) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11,
			$12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22
		)
		ON CONFLICT (calculation_date) DO UPDATE SET
			currency = EXCLUDED.currency,
			total_cs01 = EXCLUDED.total_cs01,
			total_cs01_long = EXCLUDED.total_cs01_long,
			total_cs01_short = EXCLUDED.total_cs01_short,
			total_ir01 = EXCLUDED.total_ir01,
			total_jtd = EXCLUDED.total_jtd,
			total_jtd_long = EXCLUDED.total_jtd_long,
			total_jtd_short = EXCLUDED.total_jtd_short,
			total_rec01 = EXCLUDED.total_rec01,
			total_gross_notional = EXCLUDED.total_gross_notional,
			total_net_notional = EXCLUDED.total_net_notional,
			total_long_notional = EXCLUDED.total_long_notional,
			total_short_notional = EXCLUDED.total_short_notional,
			var_95 = EXCLUDED.var_95,
			var_99 = EXCLUDED.var_99,
			expected_shortfall = EXCLUDED.expected_shortfall,
			portfolio_count = EXCLUDED.portfolio_count,
			trade_count = EXCLUDED.trade_count,
			counterparty_count = EXCLUDED.counterparty_count,
			reference_entity_count = EXCLUDED.reference_entity_count,
			job_id = EXCLUDED.job_id
	`

	_, err := s.pool.Exec(ctx, query,
		f.CalculationDate, f.Currency,
		f.TotalCs01, f.TotalCs01Long, f.TotalCs01Short, f.TotalIr01,
		f.TotalJtd, f.TotalJtdLong, f.TotalJtdShort, f.TotalRec01,
		f.TotalGrossNotional, f.TotalNetNotional, f.TotalLongNotional, f.TotalShortNotional,
		f.Var95, f.Var99, f.ExpectedShortfall,
		f.PortfolioCount, f.TradeCount, f.CounterpartyCount, f.ReferenceEntityCount, f.JobID,
	)
	if err != nil {
		return fmt.Errorf("upsert firm risk summary: %w", err)
	}
	return nil
}

// GetByDate retrieves the firm summary. Returns ErrNotFound if absent.
func (s *FirmRiskStore) GetByDate(ctx context.Context, date time.Time) (*domain.FirmRiskSummary, error) {
	query := `SELECT ` + firmRiskColumns + ` FROM firm_risk_summaries WHERE calculation_date = $1`

	var f domain.FirmRiskSummary
	err := s.pool.QueryRow(ctx, query, date).Scan(
		&f.CalculationDate, &f.Currency,
		&f.TotalCs01, &f.TotalCs01Long, &f.TotalCs01Short, &f.TotalIr01,
		&f.TotalJtd, &f.TotalJtdLong, &f.TotalJtdShort, &f.TotalRec01,
		&f.TotalGrossNotional, &f.TotalNetNotional, &f.TotalLongNotional, &f.TotalShortNotional,
		&f.Var95, &f.Var99, &f.ExpectedShortfall,
		&f.PortfolioCount, &f.TradeCount, &f.CounterpartyCount, &f.ReferenceEntityCount, &f.JobID,
	)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get firm risk summary: %w", err)
	}
	return &f, nil
}

// ConcentrationStore implements storage.ConcentrationStore using PostgreSQL.
type ConcentrationStore struct {
	pool *Pool
}

// NewConcentrationStore creates a new ConcentrationStore.
func NewConcentrationStore(pool *Pool) *ConcentrationStore {
	return &ConcentrationStore{pool: pool}
}

var _ storage.ConcentrationStore = (*ConcentrationStore)(nil)

const concentrationColumns = `
	calculation_date, concentration_type, reference_entity,
	cs01, jtd, gross_notional, ranking, trade_count,
	pct_of_firm_jtd, pct_of_firm_cs01, currency
`

// ReplaceForDate swaps the ranking for a date in one transaction, so readers
// never see a mix of old and new rows.
func (s *ConcentrationStore) ReplaceForDate(ctx context.Context, date time.Time, rows []*domain.RiskConcentration) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin concentration replace: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM risk_concentrations WHERE calculation_date = $1`, date); err != nil {
		return fmt.Errorf("delete concentrations: %w", err)
	}

	query := `
		INSERT INTO risk_concentrations (` + concentrationColumns + `) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11
		)
	`
	for _, c := range rows {
		_, err := tx.Exec(ctx, query,
			c.CalculationDate, c.ConcentrationType, c.ReferenceEntity,
			c.Cs01, c.Jtd, c.GrossNotional, c.Ranking, c.TradeCount,
			nullDecimal(c.PctOfFirmJtd), nullDecimal(c.PctOfFirmCs01), c.Currency,
		)
		if err != nil {
			return fmt.Errorf("insert concentration: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit concentration replace: %w", err)
	}
	return nil
}

// ListByDate retrieves the ranking for a date ordered by rank.
func (s *ConcentrationStore) ListByDate(ctx context.Context, date time.Time) ([]*domain.RiskConcentration, error) {
	query := `
		SELECT ` + concentrationColumns + `
		FROM risk_concentrations
		WHERE calculation_date = $1
		ORDER BY ranking ASC
	`

	rows, err := s.pool.Query(ctx, query, date)
	if err != nil {
		return nil, fmt.Errorf("list concentrations by date: %w", err)
	}
	defer rows.Close()

	var result []*domain.RiskConcentration
	for rows.Next() {
		var c domain.RiskConcentration
		var pctJtd, pctCs01 decimal.NullDecimal
		err := rows.Scan(
			&c.CalculationDate, &c.ConcentrationType, &c.ReferenceEntity,
			&c.Cs01, &c.Jtd, &c.GrossNotional, &c.Ranking, &c.TradeCount,
			&pctJtd, &pctCs01, &c.Currency,
		)
		if err != nil {
			return nil, fmt.Errorf("scan concentration row: %w", err)
		}
		c.PctOfFirmJtd = decimalPtr(pctJtd)
		c.PctOfFirmCs01 = decimalPtr(pctCs01)
		result = append(result, &c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate concentration rows: %w", err)
	}

	return result, nil
}

// RiskLimitStore implements storage.RiskLimitStore using PostgreSQL.
type RiskLimitStore struct {
	pool *Pool
}

// NewRiskLimitStore creates a new RiskLimitStore.
func NewRiskLimitStore(pool *Pool) *RiskLimitStore {
	return &RiskLimitStore{pool: pool}
}

var _ storage.RiskLimitStore = (*RiskLimitStore)(nil)

const riskLimitColumns = `
	limit_id, limit_type, firm_wide, portfolio_id, limit_value, warning_threshold, active
`

// Insert adds a risk limit. Returns ErrDuplicateKey if limit_id exists.
func (s *RiskLimitStore) Insert(ctx context.Context, l *domain.RiskLimit) error {
	query := `
		INSERT INTO risk_limits (` + riskLimitColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := s.pool.Exec(ctx, query,
		l.LimitID, string(l.LimitType), l.FirmWide, l.PortfolioID,
		l.LimitValue, nullDecimal(l.WarningThreshold), l.Active,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert risk limit: %w", err)
	}
	return nil
}

// ListActive retrieves all active limits.
func (s *RiskLimitStore) ListActive(ctx context.Context) ([]*domain.RiskLimit, error) {
	query := `
		SELECT ` + riskLimitColumns + `
		FROM risk_limits
		WHERE active = true
		ORDER BY limit_id ASC
	`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list active risk limits: %w", err)
	}
	defer rows.Close()

	var limits []*domain.RiskLimit
	for rows.Next() {
		var l domain.RiskLimit
		var limitType string
		var warn decimal.NullDecimal
		err := rows.Scan(&l.LimitID, &limitType, &l.FirmWide, &l.PortfolioID, &l.LimitValue, &warn, &l.Active)
		if err != nil {
			return nil, fmt.Errorf("scan risk limit row: %w", err)
		}
		l.LimitType = domain.LimitType(limitType)
		l.WarningThreshold = decimalPtr(warn)
		limits = append(limits, &l)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate risk limit rows: %w", err)
	}

	return limits, nil
}

// BreachStore implements storage.BreachStore using PostgreSQL.
type BreachStore struct {
	pool *Pool
}

// NewBreachStore creates a new BreachStore.
func NewBreachStore(pool *Pool) *BreachStore {
	return &BreachStore{pool: pool}
}

var _ storage.BreachStore = (*BreachStore)(nil)

const breachColumns = `
	breach_id, breach_date, limit_id, limit_type, limit_value, current_value,
	severity, resolved, resolved_by, resolved_at
`

// Insert adds a breach record. Returns ErrDuplicateKey if breach_id exists.
func (s *BreachStore) Insert(ctx context.Context, b *domain.RiskLimitBreach) error {
	query := `
		INSERT INTO risk_limit_breaches (` + breachColumns + `) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10
		)
	`

	_, err := s.pool.Exec(ctx, query,
		b.BreachID, b.BreachDate, b.LimitID, string(b.LimitType), b.LimitValue, b.CurrentValue,
		string(b.Severity), b.Resolved, b.ResolvedBy, b.ResolvedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert breach: %w", err)
	}
	return nil
}

// ListOpenByLimit retrieves unresolved breaches for a limit, newest first.
func (s *BreachStore) ListOpenByLimit(ctx context.Context, limitID string) ([]*domain.RiskLimitBreach, error) {
	query := `
		SELECT ` + breachColumns + `
		FROM risk_limit_breaches
		WHERE limit_id = $1 AND resolved = false
		ORDER BY breach_date DESC
	`

	rows, err := s.pool.Query(ctx, query, limitID)
	if err != nil {
		return nil, fmt.Errorf("list open breaches: %w", err)
	}
	defer rows.Close()

	var breaches []*domain.RiskLimitBreach
	for rows.Next() {
		var b domain.RiskLimitBreach
		var limitType, severity string
		err := rows.Scan(
			&b.BreachID, &b.BreachDate, &b.LimitID, &limitType, &b.LimitValue, &b.CurrentValue,
			&severity, &b.Resolved, &b.ResolvedBy, &b.ResolvedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan breach row: %w", err)
		}
		b.LimitType = domain.LimitType(limitType)
		b.Severity = domain.BreachSeverity(severity)
		breaches = append(breaches, &b)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate breach rows: %w", err)
	}

	return breaches, nil
}

// Resolve marks a breach resolved. Returns ErrNotFound if absent.
func (s *BreachStore) Resolve(ctx context.Context, breachID, resolvedBy string, at time.Time) error {
	query := `
		UPDATE risk_limit_breaches
		SET resolved = true, resolved_by = $2, resolved_at = $3
		WHERE breach_id = $1
	`

	tag, err := s.pool.Exec(ctx, query, breachID, resolvedBy, at)
	if err != nil {
		return fmt.Errorf("resolve breach: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}
