package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Portfolio is a grouping of trades for risk aggregation.
type Portfolio struct {
	PortfolioID string
	Name        string
	Currency    string
	Active      bool
}

// PortfolioRiskMetrics is the per-portfolio roll-up of sensitivities and
// notional exposure for one date.
type PortfolioRiskMetrics struct {
	CalculationDate time.Time
	PortfolioID     string
	Currency        string

	Cs01      decimal.Decimal
	Cs01Long  decimal.Decimal // protection-buy side
	Cs01Short decimal.Decimal // protection-sell side
	Ir01      decimal.Decimal
	Jtd       decimal.Decimal
	JtdLong   decimal.Decimal
	JtdShort  decimal.Decimal
	Rec01     decimal.Decimal

	GrossNotional decimal.Decimal
	NetNotional   decimal.Decimal
	LongNotional  decimal.Decimal
	ShortNotional decimal.Decimal

	TradeCount int
	JobID      string
}

// FirmRiskSummary is the firm-wide roll-up: the sum over all portfolio
// aggregates for the date, plus parametric VaR/ES and population counts.
type FirmRiskSummary struct {
	CalculationDate time.Time
	Currency        string

	TotalCs01      decimal.Decimal
	TotalCs01Long  decimal.Decimal
	TotalCs01Short decimal.Decimal
	TotalIr01      decimal.Decimal
	TotalJtd       decimal.Decimal
	TotalJtdLong   decimal.Decimal
	TotalJtdShort  decimal.Decimal
	TotalRec01     decimal.Decimal

	TotalGrossNotional decimal.Decimal
	TotalNetNotional   decimal.Decimal
	TotalLongNotional  decimal.Decimal
	TotalShortNotional decimal.Decimal

	Var95             decimal.Decimal
	Var99             decimal.Decimal
	ExpectedShortfall decimal.Decimal

	PortfolioCount       int
	TradeCount           int
	CounterpartyCount    int
	ReferenceEntityCount int
	JobID                string
}

// RiskConcentration is one row of the top-N reference entity ranking by |JTD|.
type RiskConcentration struct {
	CalculationDate   time.Time
	ConcentrationType string // "TOP_10_NAMES"
	ReferenceEntity   string
	Cs01              decimal.Decimal
	Jtd               decimal.Decimal
	GrossNotional     decimal.Decimal
	Ranking           int
	TradeCount        int
	PctOfFirmJtd      *decimal.Decimal
	PctOfFirmCs01     *decimal.Decimal
	Currency          string
}

// LimitType identifies which aggregate a risk limit constrains.
type LimitType string

const (
	LimitCs01     LimitType = "CS01"
	LimitIr01     LimitType = "IR01"
	LimitJtd      LimitType = "JTD"
	LimitNotional LimitType = "NOTIONAL"
	LimitVar95    LimitType = "VAR_95"
	LimitVar99    LimitType = "VAR_99"
)

// RiskLimit is a configured ceiling on an aggregate risk measure, firm-wide
// or scoped to one portfolio.
type RiskLimit struct {
	LimitID          string
	LimitType        LimitType
	FirmWide         bool
	PortfolioID      string // set when not firm-wide
	LimitValue       decimal.Decimal
	WarningThreshold *decimal.Decimal // optional soft threshold below the hard limit
	Active           bool
}

// BreachSeverity distinguishes hard breaches from warning-threshold crossings.
type BreachSeverity string

const (
	BreachHard    BreachSeverity = "BREACH"
	BreachWarning BreachSeverity = "WARNING"
)

// RiskLimitBreach records a limit check failure. At most one unresolved
// breach exists per limit; re-checks do not duplicate it.
type RiskLimitBreach struct {
	BreachID     string
	BreachDate   time.Time
	LimitID      string
	LimitType    LimitType
	LimitValue   decimal.Decimal
	CurrentValue decimal.Decimal
	Severity     BreachSeverity
	Resolved     bool
	ResolvedBy   string
	ResolvedAt   *time.Time
}
