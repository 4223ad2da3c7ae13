// Package accrual computes premium accrued interest per trade using the
// trade's day count convention and premium frequency.
package accrual

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"cds-eod-engine/internal/daycount"
	"cds-eod-engine/internal/domain"
	"cds-eod-engine/internal/storage"
)

// ErrExcessiveFailures is returned when the batch failure rate exceeds the
// tolerated threshold, escalating item failures into a stage failure.
var ErrExcessiveFailures = errors.New("accrued batch failure rate exceeds threshold")

// MaxFailureRate is the tolerated fraction of FAILED items in a batch.
const MaxFailureRate = 0.10

const amountScale = 4

var ten4 = decimal.NewFromInt(10000)

// Engine computes and persists accrued interest records.
type Engine struct {
	accrued storage.AccruedStore
	log     zerolog.Logger
}

// NewEngine creates an accrual engine.
func NewEngine(accrued storage.AccruedStore, log zerolog.Logger) *Engine {
	return &Engine{
		accrued: accrued,
		log:     log.With().Str("component", "accrual").Logger(),
	}
}

// Calculate computes accrued interest for one trade as of a date and
// persists the record. Matured trades get a zero-accrued SUCCESS record.
// Calculation failures persist FAILED rows; the returned error covers store
// failures only.
func (e *Engine) Calculate(ctx context.Context, trade *domain.Trade, date time.Time, jobID string) (*domain.TradeAccruedInterest, error) {
	rec := e.build(trade, date, jobID)
	if err := e.accrued.Upsert(ctx, rec); err != nil {
		return nil, fmt.Errorf("persist accrued for %s: %w", trade.TradeID, err)
	}
	return rec, nil
}

func (e *Engine) build(trade *domain.Trade, date time.Time, jobID string) *domain.TradeAccruedInterest {
	rec := &domain.TradeAccruedInterest{
		CalculationDate: date,
		TradeID:         trade.TradeID,
		Notional:        trade.Notional,
		SpreadBps:       trade.SpreadBps,
		DayCount:        trade.DayCount,
		Currency:        trade.Currency,
		JobID:           jobID,
	}

	// Matured trades produce a zero-accrued SUCCESS record, not an absence.
	if date.After(trade.MaturityDate) {
		rec.AccruedInterest = decimal.Zero
		rec.AccrualStartDate = date
		rec.AccrualEndDate = date
		rec.DenominatorDays = 1
		rec.DayCountFraction = decimal.Zero
		rec.Status = domain.AccrualSuccess
		return rec
	}

	if trade.EffectiveDate.After(date) {
		rec.Status = domain.AccrualFailed
		rec.ErrorMessage = fmt.Sprintf("effective date %s after calculation date %s",
			domain.DateKey(trade.EffectiveDate), domain.DateKey(date))
		rec.AccrualStartDate = date
		rec.AccrualEndDate = date
		rec.DenominatorDays = 1
		return rec
	}

	start := daycount.LastCouponDate(trade.EffectiveDate, date, trade.PremiumFreq)
	dc := daycount.Fraction(start, date, trade.DayCount)

	spread := trade.SpreadBps.DivRound(ten4, 6)
	rec.AccruedInterest = trade.Notional.Mul(spread).Mul(dc.Fraction).Round(amountScale)
	rec.AccrualStartDate = start
	rec.AccrualEndDate = date
	rec.NumeratorDays = dc.Numerator
	rec.DenominatorDays = dc.Denominator
	rec.DayCountFraction = dc.Fraction
	rec.Status = domain.AccrualSuccess
	return rec
}

// BatchResult carries per-item outcome counts for an accrual batch.
type BatchResult struct {
	Processed int
	Succeeded int
	Failed    int
}

// CalculateBatch computes accrued interest for every trade with item-level
// failure isolation. When the failure rate exceeds MaxFailureRate the whole
// batch escalates to ErrExcessiveFailures so the step fails hard.
func (e *Engine) CalculateBatch(ctx context.Context, trades []*domain.Trade, date time.Time, jobID string) (BatchResult, error) {
	e.log.Info().Int("trades", len(trades)).Str("date", domain.DateKey(date)).
		Msg("starting batch accrued calculation")

	var result BatchResult
	for _, trade := range trades {
		if err := ctx.Err(); err != nil {
			return result, fmt.Errorf("batch accrued calculation interrupted: %w", err)
		}

		rec, err := e.Calculate(ctx, trade, date, jobID)
		if err != nil {
			return result, err
		}

		result.Processed++
		if rec.Status == domain.AccrualSuccess {
			result.Succeeded++
		} else {
			result.Failed++
		}
	}

	e.log.Info().Int("succeeded", result.Succeeded).Int("failed", result.Failed).
		Msg("batch accrued calculation completed")

	if result.Processed > 0 {
		rate := float64(result.Failed) / float64(result.Processed)
		if rate > MaxFailureRate {
			return result, fmt.Errorf("%w: %d of %d failed", ErrExcessiveFailures, result.Failed, result.Processed)
		}
	}

	return result, nil
}
