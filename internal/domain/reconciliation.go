package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ExceptionType classifies a reconciliation anomaly.
type ExceptionType string

const (
	ExceptionLargeNpvChange   ExceptionType = "LARGE_NPV_CHANGE"
	ExceptionLargePnl         ExceptionType = "LARGE_PNL"
	ExceptionNegativeAccrued  ExceptionType = "NEGATIVE_ACCRUED"
	ExceptionMissingValuation ExceptionType = "MISSING_VALUATION"
)

// ExceptionSeverity orders anomalies for review. CRITICAL blocks approval.
type ExceptionSeverity string

const (
	SeverityInfo     ExceptionSeverity = "INFO"
	SeverityWarning  ExceptionSeverity = "WARNING"
	SeverityError    ExceptionSeverity = "ERROR"
	SeverityCritical ExceptionSeverity = "CRITICAL"
)

// ExceptionStatus is the review state of an exception.
type ExceptionStatus string

const (
	ExceptionOpen        ExceptionStatus = "OPEN"
	ExceptionUnderReview ExceptionStatus = "UNDER_REVIEW"
	ExceptionResolved    ExceptionStatus = "RESOLVED"
)

// ValuationException is a data-quality finding from reconciliation, keyed by
// (exception_date, trade_id, type). Exceptions are review items, not
// execution errors; they never abort the pipeline run.
type ValuationException struct {
	ExceptionDate    time.Time
	TradeID          string
	Type             ExceptionType
	CurrentValue     *decimal.Decimal
	PreviousValue    *decimal.Decimal
	ValueChange      *decimal.Decimal
	PercentageChange *decimal.Decimal
	ThresholdValue   *decimal.Decimal
	RuleID           string // tolerance rule matched, empty for system defaults
	Severity         ExceptionSeverity
	Status           ExceptionStatus
	ReviewedBy       string
	ReviewedAt       *time.Time
	ResolutionNotes  string
}

// ToleranceRuleType identifies which check a tolerance rule configures.
type ToleranceRuleType string

const (
	RuleNpvChange    ToleranceRuleType = "NPV_CHANGE"
	RulePnlThreshold ToleranceRuleType = "PNL_THRESHOLD"
)

// ToleranceScope limits which trades a rule applies to.
type ToleranceScope string

const (
	ScopeAll       ToleranceScope = "ALL"
	ScopePortfolio ToleranceScope = "PORTFOLIO"
	ScopeTradeType ToleranceScope = "TRADE_TYPE"
)

// ValuationToleranceRule is a configurable threshold for flagging a value
// change as anomalous. The first matching active rule wins; absent any,
// system defaults apply.
type ValuationToleranceRule struct {
	RuleID        string
	RuleType      ToleranceRuleType
	AppliesTo     ToleranceScope
	PortfolioID   string // when AppliesTo == PORTFOLIO
	TradeType     string // when AppliesTo == TRADE_TYPE
	AbsThreshold  *decimal.Decimal
	PctThreshold  *decimal.Decimal
	Severity      ExceptionSeverity
	Active        bool
}

// Matches reports whether the rule's scope covers the trade.
func (r *ValuationToleranceRule) Matches(t *Trade) bool {
	switch r.AppliesTo {
	case ScopeAll:
		return true
	case ScopePortfolio:
		return r.PortfolioID != "" && r.PortfolioID == t.PortfolioID
	case ScopeTradeType:
		// All trades in this book are single-name CDS.
		return r.TradeType == "CDS"
	default:
		return false
	}
}

// ReconciliationStatus is the overall state of a day's reconciliation.
type ReconciliationStatus string

const (
	ReconInProgress    ReconciliationStatus = "IN_PROGRESS"
	ReconPendingReview ReconciliationStatus = "PENDING_REVIEW"
	ReconIssues        ReconciliationStatus = "ISSUES"
	ReconApproved      ReconciliationStatus = "APPROVED"
)

// DailyReconciliationSummary aggregates a day's exceptions by severity, type
// and status. Approval is an explicit action; the pipeline never
// self-approves.
type DailyReconciliationSummary struct {
	ReconciliationDate time.Time
	JobID              string
	TotalValuations    int
	TotalExceptions    int

	InfoCount     int
	WarningCount  int
	ErrorCount    int
	CriticalCount int

	LargeNpvChangeCount   int
	LargePnlCount         int
	MissingValuationCount int
	NegativeAccruedCount  int

	OpenExceptions        int
	UnderReviewExceptions int
	ResolvedExceptions    int

	Status     ReconciliationStatus
	ApprovedBy string
	ApprovedAt *time.Time
}
