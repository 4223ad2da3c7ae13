package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ValuationStatus is the outcome of a single trade valuation.
type ValuationStatus string

const (
	ValuationSuccess ValuationStatus = "SUCCESS"
	ValuationFailed  ValuationStatus = "FAILED"
)

// TradeValuation is the NPV result for one trade on one valuation date.
// Keyed by (valuation_date, trade_id); re-runs within a job overwrite.
type TradeValuation struct {
	ValuationDate     time.Time
	TradeID           string
	Npv               decimal.Decimal
	PremiumLegPv      decimal.Decimal
	ProtectionLegPv   decimal.Decimal
	Currency          string
	CalculationMethod string // "SIMPLIFIED_CLOSED_FORM" until a richer pricer lands
	Status            ValuationStatus
	ErrorMessage      string
	CalculationTimeMs int64
	JobID             string
}

// TradeValuationSensitivity holds analytic risk sensitivities computed from
// the same trade/date/snapshot as its parent valuation. One-to-one with
// TradeValuation on (valuation_date, trade_id).
type TradeValuationSensitivity struct {
	ValuationDate time.Time
	TradeID       string
	Cs01          decimal.Decimal // NPV change for 1bp spread move
	Ir01          decimal.Decimal // NPV change for 1bp rate move
	Jtd           decimal.Decimal // jump-to-default loss
	Rec01         decimal.Decimal // NPV change for 1% recovery move
	DurationYears decimal.Decimal
	JobID         string
}

// AccrualStatus is the outcome of an accrued interest calculation.
type AccrualStatus string

const (
	AccrualSuccess AccrualStatus = "SUCCESS"
	AccrualFailed  AccrualStatus = "FAILED"
)

// TradeAccruedInterest is the accrued premium for one trade as of a date.
// Matured trades get a zero-accrued SUCCESS record, never an absence.
type TradeAccruedInterest struct {
	CalculationDate  time.Time
	TradeID          string
	AccruedInterest  decimal.Decimal
	AccrualStartDate time.Time
	AccrualEndDate   time.Time
	NumeratorDays    int
	DenominatorDays  int
	DayCountFraction decimal.Decimal
	Notional         decimal.Decimal
	SpreadBps        decimal.Decimal
	DayCount         string
	Currency         string
	Status           AccrualStatus
	ErrorMessage     string
	JobID            string
}

// DailyPnlResult is the day-over-day P&L for one trade.
// Total value V = NPV + accrued; total P&L = V(T) - V(T-1).
type DailyPnlResult struct {
	PnlDate           time.Time
	TradeID           string
	CurrentNpv        decimal.Decimal
	CurrentAccrued    decimal.Decimal
	CurrentTotalValue decimal.Decimal
	PreviousNpv       *decimal.Decimal // nil for new trades
	PreviousAccrued   *decimal.Decimal
	PreviousTotal     *decimal.Decimal
	TotalPnl          decimal.Decimal
	PnlPercentage     *decimal.Decimal // nil when previous total is absent or zero
	MarketPnl         *decimal.Decimal // NPV delta, existing trades only
	AccruedPnl        *decimal.Decimal // accrued delta, existing trades only
	NewTrade          bool

	// Enrichment from the trade for downstream consumers.
	Notional        decimal.Decimal
	Currency        string
	ReferenceEntity string
	Direction       ProtectionDirection
	JobID           string
}
