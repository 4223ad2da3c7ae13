package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"cds-eod-engine/internal/domain"
	"cds-eod-engine/internal/storage"
)

// TradeStore implements storage.TradeStore using PostgreSQL.
type TradeStore struct {
	pool *Pool
}

// NewTradeStore creates a new TradeStore.
func NewTradeStore(pool *Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

// Compile-time interface check.
var _ storage.TradeStore = (*TradeStore)(nil)

const tradeColumns = `
	trade_id, reference_entity, counterparty, portfolio_id,
	notional, spread_bps, currency, direction,
	trade_date, effective_date, maturity_date,
	day_count, premium_freq, recovery_rate, status
`

// Insert adds a trade. Returns ErrDuplicateKey if trade_id exists.
func (s *TradeStore) Insert(ctx context.Context, t *domain.Trade) error {
	query := `
		INSERT INTO trades (` + tradeColumns + `) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7, $8,
			$9, $10, $11,
			$12, $13, $14, $15
		)
	`

	_, err := s.pool.Exec(ctx, query,
		t.TradeID, t.ReferenceEntity, t.Counterparty, t.PortfolioID,
		t.Notional, t.SpreadBps, t.Currency, string(t.Direction),
		t.TradeDate, t.EffectiveDate, t.MaturityDate,
		t.DayCount, t.PremiumFreq, t.RecoveryRate, string(t.Status),
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert trade: %w", err)
	}
	return nil
}

// GetByID retrieves a trade. Returns ErrNotFound if not exists.
func (s *TradeStore) GetByID(ctx context.Context, tradeID string) (*domain.Trade, error) {
	query := `SELECT ` + tradeColumns + ` FROM trades WHERE trade_id = $1`

	t, err := scanTrade(s.pool.QueryRow(ctx, query, tradeID))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get trade by id: %w", err)
	}
	return t, nil
}

// ListActive retrieves trades eligible for valuation on asOf.
func (s *TradeStore) ListActive(ctx context.Context, asOf time.Time) ([]*domain.Trade, error) {
	query := `
		SELECT ` + tradeColumns + `
		FROM trades
		WHERE status = 'ACTIVE' AND trade_date <= $1 AND maturity_date > $1
		ORDER BY trade_id ASC
	`

	rows, err := s.pool.Query(ctx, query, asOf)
	if err != nil {
		return nil, fmt.Errorf("list active trades: %w", err)
	}
	defer rows.Close()

	return scanTrades(rows)
}

// ListAll retrieves every trade regardless of status.
func (s *TradeStore) ListAll(ctx context.Context) ([]*domain.Trade, error) {
	query := `SELECT ` + tradeColumns + ` FROM trades ORDER BY trade_id ASC`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list all trades: %w", err)
	}
	defer rows.Close()

	return scanTrades(rows)
}

func scanTrade(row pgx.Row) (*domain.Trade, error) {
	var t domain.Trade
	var direction, status string

	err := row.Scan(
		&t.TradeID, &t.ReferenceEntity, &t.Counterparty, &t.PortfolioID,
		&t.Notional, &t.SpreadBps, &t.Currency, &direction,
		&t.TradeDate, &t.EffectiveDate, &t.MaturityDate,
		&t.DayCount, &t.PremiumFreq, &t.RecoveryRate, &status,
	)
	if err != nil {
		return nil, err
	}

	t.Direction = domain.ProtectionDirection(direction)
	t.Status = domain.TradeStatus(status)
	return &t, nil
}

func scanTrades(rows pgx.Rows) ([]*domain.Trade, error) {
	var trades []*domain.Trade

	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("scan trade row: %w", err)
		}
		trades = append(trades, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate trade rows: %w", err)
	}

	return trades, nil
}

// PortfolioStore implements storage.PortfolioStore using PostgreSQL.
type PortfolioStore struct {
	pool *Pool
}

// NewPortfolioStore creates a new PortfolioStore.
func NewPortfolioStore(pool *Pool) *PortfolioStore {
	return &PortfolioStore{pool: pool}
}

var _ storage.PortfolioStore = (*PortfolioStore)(nil)

// Insert adds a portfolio. Returns ErrDuplicateKey if portfolio_id exists.
func (s *PortfolioStore) Insert(ctx context.Context, p *domain.Portfolio) error {
	query := `
		INSERT INTO portfolios (portfolio_id, name, currency, active)
		VALUES ($1, $2, $3, $4)
	`

	_, err := s.pool.Exec(ctx, query, p.PortfolioID, p.Name, p.Currency, p.Active)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert portfolio: %w", err)
	}
	return nil
}

// GetByID retrieves a portfolio. Returns ErrNotFound if not exists.
func (s *PortfolioStore) GetByID(ctx context.Context, portfolioID string) (*domain.Portfolio, error) {
	query := `SELECT portfolio_id, name, currency, active FROM portfolios WHERE portfolio_id = $1`

	var p domain.Portfolio
	err := s.pool.QueryRow(ctx, query, portfolioID).Scan(&p.PortfolioID, &p.Name, &p.Currency, &p.Active)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get portfolio by id: %w", err)
	}
	return &p, nil
}

// ListAll retrieves all portfolios.
func (s *PortfolioStore) ListAll(ctx context.Context) ([]*domain.Portfolio, error) {
	query := `SELECT portfolio_id, name, currency, active FROM portfolios ORDER BY portfolio_id ASC`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list portfolios: %w", err)
	}
	defer rows.Close()

	var portfolios []*domain.Portfolio
	for rows.Next() {
		var p domain.Portfolio
		if err := rows.Scan(&p.PortfolioID, &p.Name, &p.Currency, &p.Active); err != nil {
			return nil, fmt.Errorf("scan portfolio row: %w", err)
		}
		portfolios = append(portfolios, &p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate portfolio rows: %w", err)
	}

	return portfolios, nil
}
