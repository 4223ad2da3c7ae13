package reporting

import (
	"time"

	"github.com/shopspring/decimal"

	"cds-eod-engine/internal/domain"
)

// Report is the end-of-day report for one valuation date.
type Report struct {
	ValuationDate time.Time
	GeneratedAt   time.Time

	Job *JobSection

	Valuation ValuationSection
	Pnl       PnlSection

	Risk           *RiskSection
	Concentration  []ConcentrationRow
	OpenBreaches   []BreachRow
	Reconciliation *ReconciliationSection
}

// JobSection summarizes the pipeline run for the date.
type JobSection struct {
	JobID                string
	Status               domain.JobStatus
	DryRun               bool
	TriggeredBy          string
	StartedAt            *time.Time
	CompletedAt          *time.Time
	TotalTradesProcessed int
	SuccessfulValuations int
	FailedValuations     int
	ErrorMessage         string
	Steps                []StepRow
}

// StepRow is one pipeline step in the job section.
type StepRow struct {
	StepNumber       int
	StepName         string
	Status           domain.StepStatus
	RecordsProcessed int
	RecordsFailed    int
	RetryCount       int
}

// ValuationSection summarizes the date's NPV results.
type ValuationSection struct {
	TradeCount   int
	SuccessCount int
	FailedCount  int
	TotalNpv     decimal.Decimal
}

// PnlSection summarizes the date's P&L with the largest absolute movers.
type PnlSection struct {
	TradeCount    int
	NewTradeCount int
	TotalPnl      decimal.Decimal
	TopMovers     []PnlMoverRow
}

// PnlMoverRow is one trade in the top-movers table.
type PnlMoverRow struct {
	TradeID         string
	ReferenceEntity string
	TotalPnl        decimal.Decimal
	NewTrade        bool
}

// RiskSection holds the firm summary and per-portfolio aggregates.
type RiskSection struct {
	Firm       domain.FirmRiskSummary
	Portfolios []domain.PortfolioRiskMetrics
}

// ConcentrationRow is one reference entity in the concentration ranking.
type ConcentrationRow struct {
	Ranking         int
	ReferenceEntity string
	Jtd             decimal.Decimal
	Cs01            decimal.Decimal
	GrossNotional   decimal.Decimal
	PctOfFirmJtd    *decimal.Decimal
}

// BreachRow is one unresolved risk limit breach.
type BreachRow struct {
	LimitID      string
	LimitType    domain.LimitType
	Severity     domain.BreachSeverity
	LimitValue   decimal.Decimal
	CurrentValue decimal.Decimal
	BreachDate   time.Time
}

// ReconciliationSection summarizes the date's reconciliation outcome.
type ReconciliationSection struct {
	Status          domain.ReconciliationStatus
	TotalValuations int
	TotalExceptions int
	CriticalCount   int
	ErrorCount      int
	WarningCount    int
	OpenExceptions  []ExceptionRow
	ApprovedBy      string
}

// ExceptionRow is one open exception in the reconciliation section.
type ExceptionRow struct {
	TradeID  string
	Type     domain.ExceptionType
	Severity domain.ExceptionSeverity
	Status   domain.ExceptionStatus
}
