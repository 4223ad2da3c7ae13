// Package valuation prices CDS trades against a market data snapshot using a
// simplified reduced-form model and derives analytic risk sensitivities. The
// model is a documented placeholder: a richer pricer can replace priceTrade
// and deriveSensitivities without changing the batch or pipeline contracts.
package valuation

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"cds-eod-engine/internal/daycount"
	"cds-eod-engine/internal/domain"
	"cds-eod-engine/internal/storage"
)

// MethodSimplifiedClosedForm tags valuations produced by the built-in model.
const MethodSimplifiedClosedForm = "SIMPLIFIED_CLOSED_FORM"

const (
	priceScale  = 6
	amountScale = 4
)

var (
	ten4            = decimal.NewFromInt(10000)
	one             = decimal.NewFromInt(1)
	defaultRecovery = decimal.NewFromFloat(0.40)
	bp              = decimal.NewFromFloat(0.0001)
	ir01Factor      = decimal.NewFromFloat(0.10)
	rec01Factor     = decimal.NewFromFloat(0.01)
)

// DefaultRiskFreeRate is the flat rate applied when the snapshot carries no
// curve point for the trade currency.
var DefaultRiskFreeRate = decimal.NewFromFloat(0.05)

// Engine computes NPVs and sensitivities and persists the results.
type Engine struct {
	valuations    storage.ValuationStore
	sensitivities storage.SensitivityStore
	log           zerolog.Logger
}

// NewEngine creates a valuation engine.
func NewEngine(valuations storage.ValuationStore, sensitivities storage.SensitivityStore, log zerolog.Logger) *Engine {
	return &Engine{
		valuations:    valuations,
		sensitivities: sensitivities,
		log:           log.With().Str("component", "valuation").Logger(),
	}
}

// CalculateNpv values one trade against the snapshot and persists the result.
// Calculation failures are captured as a FAILED valuation row, not returned:
// a single trade must never abort the batch. The returned error covers store
// failures only.
func (e *Engine) CalculateNpv(ctx context.Context, trade *domain.Trade, date time.Time,
	snap *domain.MarketDataSnapshot, jobID string) (*domain.TradeValuation, error) {

	started := time.Now()

	npv, premLeg, protLeg, calcErr := priceTrade(trade, date, snap)
	elapsed := time.Since(started).Milliseconds()

	if calcErr != nil {
		e.log.Error().Err(calcErr).Str("trade_id", trade.TradeID).Msg("NPV calculation failed")

		failed := &domain.TradeValuation{
			ValuationDate:     date,
			TradeID:           trade.TradeID,
			Npv:               decimal.Zero,
			Currency:          trade.Currency,
			CalculationMethod: MethodSimplifiedClosedForm,
			Status:            domain.ValuationFailed,
			ErrorMessage:      calcErr.Error(),
			CalculationTimeMs: elapsed,
			JobID:             jobID,
		}
		if err := e.valuations.Upsert(ctx, failed); err != nil {
			return nil, fmt.Errorf("persist failed valuation for %s: %w", trade.TradeID, err)
		}
		return failed, nil
	}

	v := &domain.TradeValuation{
		ValuationDate:     date,
		TradeID:           trade.TradeID,
		Npv:               npv,
		PremiumLegPv:      premLeg,
		ProtectionLegPv:   protLeg,
		Currency:          trade.Currency,
		CalculationMethod: MethodSimplifiedClosedForm,
		Status:            domain.ValuationSuccess,
		CalculationTimeMs: elapsed,
		JobID:             jobID,
	}
	if err := e.valuations.Upsert(ctx, v); err != nil {
		return nil, fmt.Errorf("persist valuation for %s: %w", trade.TradeID, err)
	}

	sens := deriveSensitivities(trade, date, snap, jobID)
	if err := e.sensitivities.Upsert(ctx, sens); err != nil {
		return nil, fmt.Errorf("persist sensitivities for %s: %w", trade.TradeID, err)
	}

	e.log.Debug().Str("trade_id", trade.TradeID).Str("npv", npv.String()).
		Int64("calc_ms", elapsed).Msg("calculated NPV")

	return v, nil
}

// priceTrade implements the reduced-form model:
//
//	hazard     = spread / (1 - recovery)
//	survival   = exp(-hazard * t)
//	df         = 1 / (1 + r * t)
//	protection = notional * (1 - recovery) * (1 - survival) * df
//	premium    = notional * spread * t * survival * df
//	npv        = protection - premium, negated for protection sellers
//
// Trades at or past maturity price to zero deterministically.
func priceTrade(trade *domain.Trade, date time.Time, snap *domain.MarketDataSnapshot) (npv, premLeg, protLeg decimal.Decimal, err error) {
	if !trade.MaturityDate.After(date) {
		return decimal.Zero, decimal.Zero, decimal.Zero, nil
	}

	t, err := daycount.YearsBetween(date, trade.MaturityDate, priceScale)
	if err != nil {
		return decimal.Zero, decimal.Zero, decimal.Zero, err
	}

	spread := trade.SpreadBps.DivRound(ten4, priceScale)
	recovery := recoveryFor(trade, snap)
	if recovery.GreaterThanOrEqual(one) {
		return decimal.Zero, decimal.Zero, decimal.Zero,
			fmt.Errorf("recovery rate %s leaves no loss given default", recovery)
	}

	rate := snap.RiskFreeRate(trade.Currency, DefaultRiskFreeRate)
	df := one.DivRound(one.Add(rate.Mul(t)), priceScale)

	hazard := spread.DivRound(one.Sub(recovery), priceScale)
	survival := decimal.NewFromFloat(math.Exp(-hazard.Mul(t).InexactFloat64()))
	defaultProb := one.Sub(survival)

	protLeg = trade.Notional.Mul(one.Sub(recovery)).Mul(defaultProb).Mul(df).Round(amountScale)
	premLeg = trade.Notional.Mul(spread).Mul(t.Mul(survival)).Mul(df).Round(amountScale)

	npv = protLeg.Sub(premLeg)
	if trade.Direction == domain.DirectionSell {
		npv = npv.Neg()
	}
	return npv.Round(amountScale), premLeg, protLeg, nil
}

// deriveSensitivities computes the placeholder analytic sensitivities from
// the same inputs as the valuation.
func deriveSensitivities(trade *domain.Trade, date time.Time, snap *domain.MarketDataSnapshot, jobID string) *domain.TradeValuationSensitivity {
	duration := decimal.Zero
	if trade.MaturityDate.After(date) {
		days := daycount.DaysBetween(date, trade.MaturityDate)
		duration = decimal.NewFromInt(int64(days)).DivRound(decimal.NewFromInt(365), amountScale)
	}

	recovery := recoveryFor(trade, snap)

	cs01 := trade.Notional.Mul(bp).Mul(duration).Round(amountScale)
	ir01 := cs01.Mul(ir01Factor).Round(amountScale)
	jtd := trade.Notional.Mul(one.Sub(recovery)).Round(amountScale)
	if trade.Direction == domain.DirectionSell {
		jtd = jtd.Neg()
	}
	rec01 := trade.Notional.Mul(rec01Factor).Round(amountScale)

	return &domain.TradeValuationSensitivity{
		ValuationDate: date,
		TradeID:       trade.TradeID,
		Cs01:          cs01,
		Ir01:          ir01,
		Jtd:           jtd,
		Rec01:         rec01,
		DurationYears: duration,
		JobID:         jobID,
	}
}

// recoveryFor prefers the snapshot quote for the reference entity, falls back
// to the booked recovery, and finally to the 40% market standard.
func recoveryFor(trade *domain.Trade, snap *domain.MarketDataSnapshot) decimal.Decimal {
	if r, ok := snap.RecoveryFor(trade.ReferenceEntity); ok {
		return r
	}
	if !trade.RecoveryRate.IsZero() {
		return trade.RecoveryRate
	}
	return defaultRecovery
}
