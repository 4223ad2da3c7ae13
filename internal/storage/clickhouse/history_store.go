package clickhouse

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"cds-eod-engine/internal/domain"
)

// HistoryStore mirrors valuation and P&L results into ClickHouse for
// time-series analytics. Rows are append-only; re-runs for the same date are
// collapsed by the ReplacingMergeTree on read via FINAL.
type HistoryStore struct {
	conn *Conn
}

// NewHistoryStore creates a new HistoryStore.
func NewHistoryStore(conn *Conn) *HistoryStore {
	return &HistoryStore{conn: conn}
}

// NpvPoint is one point of a trade's NPV time series.
type NpvPoint struct {
	ValuationDate time.Time
	Npv           decimal.Decimal
	Cs01          decimal.Decimal
	Jtd           decimal.Decimal
}

// PnlTotal is the firm-wide P&L total for one date.
type PnlTotal struct {
	PnlDate    time.Time
	TotalPnl   decimal.Decimal
	TradeCount int
}

// InsertValuations appends a batch of valuations with their sensitivities.
// Sensitivities may be nil for failed valuations.
func (s *HistoryStore) InsertValuations(ctx context.Context, valuations []*domain.TradeValuation, sensitivities map[string]*domain.TradeValuationSensitivity) error {
	if len(valuations) == 0 {
		return nil
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO valuation_history (
			valuation_date, trade_id, npv, premium_leg_pv, protection_leg_pv,
			cs01, ir01, jtd, rec01, currency, status, job_id
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare valuation batch: %w", err)
	}

	for _, v := range valuations {
		var cs01, ir01, jtd, rec01 float64
		if sens := sensitivities[v.TradeID]; sens != nil {
			cs01 = sens.Cs01.InexactFloat64()
			ir01 = sens.Ir01.InexactFloat64()
			jtd = sens.Jtd.InexactFloat64()
			rec01 = sens.Rec01.InexactFloat64()
		}
		err = batch.Append(
			v.ValuationDate, v.TradeID,
			v.Npv.InexactFloat64(), v.PremiumLegPv.InexactFloat64(), v.ProtectionLegPv.InexactFloat64(),
			cs01, ir01, jtd, rec01,
			v.Currency, string(v.Status), v.JobID,
		)
		if err != nil {
			return fmt.Errorf("append valuation to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send valuation batch: %w", err)
	}

	return nil
}

// InsertPnl appends a batch of daily P&L rows.
func (s *HistoryStore) InsertPnl(ctx context.Context, rows []*domain.DailyPnlResult) error {
	if len(rows) == 0 {
		return nil
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO pnl_history (
			pnl_date, trade_id, reference_entity, portfolio_currency, direction,
			total_pnl, market_pnl, accrued_pnl, notional, new_trade, job_id
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare pnl batch: %w", err)
	}

	for _, p := range rows {
		var marketPnl, accruedPnl float64
		if p.MarketPnl != nil {
			marketPnl = p.MarketPnl.InexactFloat64()
		}
		if p.AccruedPnl != nil {
			accruedPnl = p.AccruedPnl.InexactFloat64()
		}
		err = batch.Append(
			p.PnlDate, p.TradeID, p.ReferenceEntity, p.Currency, string(p.Direction),
			p.TotalPnl.InexactFloat64(), marketPnl, accruedPnl,
			p.Notional.InexactFloat64(), p.NewTrade, p.JobID,
		)
		if err != nil {
			return fmt.Errorf("append pnl to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send pnl batch: %w", err)
	}

	return nil
}

// NpvHistory retrieves a trade's NPV series within [from, to], oldest first.
func (s *HistoryStore) NpvHistory(ctx context.Context, tradeID string, from, to time.Time) ([]*NpvPoint, error) {
	query := `
		SELECT valuation_date, npv, cs01, jtd
		FROM valuation_history FINAL
		WHERE trade_id = ? AND valuation_date >= ? AND valuation_date <= ?
		ORDER BY valuation_date ASC
	`

	rows, err := s.conn.Query(ctx, query, tradeID, from, to)
	if err != nil {
		return nil, fmt.Errorf("query npv history: %w", err)
	}
	defer rows.Close()

	var points []*NpvPoint
	for rows.Next() {
		var p NpvPoint
		var npv, cs01, jtd float64
		if err := rows.Scan(&p.ValuationDate, &npv, &cs01, &jtd); err != nil {
			return nil, fmt.Errorf("scan npv history row: %w", err)
		}
		p.Npv = decimal.NewFromFloat(npv)
		p.Cs01 = decimal.NewFromFloat(cs01)
		p.Jtd = decimal.NewFromFloat(jtd)
		points = append(points, &p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate npv history rows: %w", err)
	}

	return points, nil
}

// PnlTotalsByDate retrieves firm-wide daily P&L totals within [from, to],
// oldest first.
func (s *HistoryStore) PnlTotalsByDate(ctx context.Context, from, to time.Time) ([]*PnlTotal, error) {
	query := `
		SELECT pnl_date, sum(total_pnl) AS total, count() AS trades
		FROM pnl_history FINAL
		WHERE pnl_date >= ? AND pnl_date <= ?
		GROUP BY pnl_date
		ORDER BY pnl_date ASC
	`

	rows, err := s.conn.Query(ctx, query, from, to)
	if err != nil {
		return nil, fmt.Errorf("query pnl totals: %w", err)
	}
	defer rows.Close()

	var totals []*PnlTotal
	for rows.Next() {
		var t PnlTotal
		var total float64
		var trades uint64
		if err := rows.Scan(&t.PnlDate, &total, &trades); err != nil {
			return nil, fmt.Errorf("scan pnl total row: %w", err)
		}
		t.TotalPnl = decimal.NewFromFloat(total)
		t.TradeCount = int(trades)
		totals = append(totals, &t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pnl total rows: %w", err)
	}

	return totals, nil
}
