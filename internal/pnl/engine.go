// Package pnl computes day-over-day P&L per trade: the change in total value
// V = NPV + accrued between consecutive valuation dates.
package pnl

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"cds-eod-engine/internal/domain"
	"cds-eod-engine/internal/storage"
)

const pctScale = 6

var hundred = decimal.NewFromInt(100)

// Engine computes and persists daily P&L results.
type Engine struct {
	valuations storage.ValuationStore
	accrued    storage.AccruedStore
	pnl        storage.PnlStore
	trades     storage.TradeStore
	log        zerolog.Logger
}

// NewEngine creates a P&L engine.
func NewEngine(valuations storage.ValuationStore, accrued storage.AccruedStore,
	pnl storage.PnlStore, trades storage.TradeStore, log zerolog.Logger) *Engine {
	return &Engine{
		valuations: valuations,
		accrued:    accrued,
		pnl:        pnl,
		trades:     trades,
		log:        log.With().Str("component", "pnl").Logger(),
	}
}

// CalculateDailyPnl computes P&L for every trade valued on the date against
// the prior calendar date. Trades without a prior valuation are flagged as
// new; their P&L is the current total value with no subtraction. Per-trade
// failures are logged and skipped, never aborting the batch.
func (e *Engine) CalculateDailyPnl(ctx context.Context, date time.Time, jobID string) ([]*domain.DailyPnlResult, error) {
	previousDate := date.AddDate(0, 0, -1)

	current, err := e.valuations.ListByDate(ctx, date)
	if err != nil {
		return nil, fmt.Errorf("list valuations for %s: %w", domain.DateKey(date), err)
	}

	e.log.Info().Int("valuations", len(current)).Str("date", domain.DateKey(date)).
		Msg("calculating daily P&L")

	var results []*domain.DailyPnlResult
	for _, v := range current {
		if err := ctx.Err(); err != nil {
			return results, fmt.Errorf("daily P&L interrupted: %w", err)
		}

		result, err := e.calculateForTrade(ctx, v, date, previousDate, jobID)
		if err != nil {
			e.log.Error().Err(err).Str("trade_id", v.TradeID).Msg("failed to calculate P&L")
			continue
		}
		if result == nil {
			continue
		}

		if err := e.pnl.Upsert(ctx, result); err != nil {
			return results, fmt.Errorf("persist P&L for %s: %w", v.TradeID, err)
		}
		results = append(results, result)
	}

	e.log.Info().Int("results", len(results)).Msg("daily P&L completed")
	return results, nil
}

func (e *Engine) calculateForTrade(ctx context.Context, current *domain.TradeValuation,
	date, previousDate time.Time, jobID string) (*domain.DailyPnlResult, error) {

	currentAccrued := e.accruedOrZero(ctx, date, current.TradeID)
	currentTotal := current.Npv.Add(currentAccrued)

	trade, err := e.trades.GetByID(ctx, current.TradeID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			e.log.Warn().Str("trade_id", current.TradeID).Msg("trade not found, skipping P&L")
			return nil, nil
		}
		return nil, fmt.Errorf("load trade: %w", err)
	}

	result := &domain.DailyPnlResult{
		PnlDate:           date,
		TradeID:           current.TradeID,
		CurrentNpv:        current.Npv,
		CurrentAccrued:    currentAccrued,
		CurrentTotalValue: currentTotal,
		Notional:          trade.Notional,
		Currency:          trade.Currency,
		ReferenceEntity:   trade.ReferenceEntity,
		Direction:         trade.Direction,
		JobID:             jobID,
	}

	previous, err := e.valuations.GetByDateAndTrade(ctx, previousDate, current.TradeID)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("load previous valuation: %w", err)
		}
		// New trade: P&L is the current total value, percentage undefined.
		result.NewTrade = true
		result.TotalPnl = currentTotal
		return result, nil
	}

	previousAccrued := e.accruedOrZero(ctx, previousDate, current.TradeID)
	previousTotal := previous.Npv.Add(previousAccrued)

	result.PreviousNpv = &previous.Npv
	result.PreviousAccrued = &previousAccrued
	result.PreviousTotal = &previousTotal
	result.TotalPnl = currentTotal.Sub(previousTotal)

	if !previousTotal.IsZero() {
		pct := result.TotalPnl.DivRound(previousTotal.Abs(), pctScale).Mul(hundred)
		result.PnlPercentage = &pct
	}

	marketPnl := current.Npv.Sub(previous.Npv)
	accruedPnl := currentAccrued.Sub(previousAccrued)
	result.MarketPnl = &marketPnl
	result.AccruedPnl = &accruedPnl

	return result, nil
}

func (e *Engine) accruedOrZero(ctx context.Context, date time.Time, tradeID string) decimal.Decimal {
	rec, err := e.accrued.GetByDateAndTrade(ctx, date, tradeID)
	if err != nil {
		return decimal.Zero
	}
	return rec.AccruedInterest
}

// Summary aggregates a date's P&L rows.
type Summary struct {
	Date          time.Time
	TradeCount    int
	TotalPnl      decimal.Decimal
	NewTradeCount int
}

// Summarize rolls up the persisted P&L rows for a date.
func (e *Engine) Summarize(ctx context.Context, date time.Time) (*Summary, error) {
	rows, err := e.pnl.ListByDate(ctx, date)
	if err != nil {
		return nil, fmt.Errorf("list P&L for %s: %w", domain.DateKey(date), err)
	}

	s := &Summary{Date: date, TradeCount: len(rows), TotalPnl: decimal.Zero}
	for _, r := range rows {
		s.TotalPnl = s.TotalPnl.Add(r.TotalPnl)
		if r.NewTrade {
			s.NewTradeCount++
		}
	}
	return s, nil
}
