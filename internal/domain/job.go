package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// JobStatus is the lifecycle status of an EOD valuation job.
type JobStatus string

const (
	JobPending   JobStatus = "PENDING"
	JobRunning   JobStatus = "RUNNING"
	JobCompleted JobStatus = "COMPLETED"
	JobFailed    JobStatus = "FAILED"
	JobCancelled JobStatus = "CANCELLED"
)

// StepStatus is the lifecycle status of a single job step. Statuses are
// monotonic: a step never regresses from a terminal status back to PENDING.
type StepStatus string

const (
	StepPending   StepStatus = "PENDING"
	StepRunning   StepStatus = "RUNNING"
	StepCompleted StepStatus = "COMPLETED"
	StepFailed    StepStatus = "FAILED"
)

// Step names, in execution order.
const (
	StepCaptureMarketData        = "CAPTURE_MARKET_DATA"
	StepLoadActiveTrades         = "LOAD_ACTIVE_TRADES"
	StepCalculateNpv             = "CALCULATE_NPV"
	StepCalculateAccrued         = "CALCULATE_ACCRUED"
	StepCalculatePnl             = "CALCULATE_PNL"
	StepAggregateRisk            = "AGGREGATE_RISK"
	StepReconcile                = "RECONCILE"
	StepGenerateAccountingEvents = "GENERATE_ACCOUNTING_EVENTS"
)

// EodValuationJobStep tracks one stage of a job.
type EodValuationJobStep struct {
	StepNumber       int
	StepName         string
	Status           StepStatus
	StartedAt        *time.Time
	CompletedAt      *time.Time
	RecordsProcessed int
	RecordsSucceeded int
	RecordsFailed    int
	RetryCount       int
	ErrorMessage     string
}

// Start transitions the step to RUNNING and stamps the start time.
func (s *EodValuationJobStep) Start(now time.Time) {
	s.Status = StepRunning
	s.StartedAt = &now
	s.ErrorMessage = ""
}

// Complete transitions the step to COMPLETED.
func (s *EodValuationJobStep) Complete(now time.Time) {
	s.Status = StepCompleted
	s.CompletedAt = &now
}

// Fail transitions the step to FAILED with the captured error.
func (s *EodValuationJobStep) Fail(now time.Time, msg string) {
	s.Status = StepFailed
	s.CompletedAt = &now
	s.ErrorMessage = msg
}

// EodValuationJob is the persistent record of one EOD pipeline run.
// Exactly one job may exist per valuation date.
type EodValuationJob struct {
	JobID         string // "EOD-YYYYMMDD-xxxxxxxx"
	ValuationDate time.Time
	Status        JobStatus

	ScheduledAt time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time

	DryRun        bool
	ManualTrigger bool
	TriggeredBy   string

	CurrentStep int
	TotalSteps  int
	MaxRetries  int

	TotalTradesProcessed int
	SuccessfulValuations int
	FailedValuations     int

	ErrorMessage    string
	CancelRequested bool

	Steps []*EodValuationJobStep
}

// StepByName returns the step with the given name, or nil.
func (j *EodValuationJob) StepByName(name string) *EodValuationJobStep {
	for _, s := range j.Steps {
		if s.StepName == name {
			return s
		}
	}
	return nil
}

// Start transitions the job to RUNNING.
func (j *EodValuationJob) Start(now time.Time) {
	j.Status = JobRunning
	j.StartedAt = &now
}

// Complete marks the job COMPLETED with all steps done.
func (j *EodValuationJob) Complete(now time.Time) {
	j.Status = JobCompleted
	j.CompletedAt = &now
	j.CurrentStep = j.TotalSteps
}

// Fail marks the job FAILED with a message naming the failing step.
func (j *EodValuationJob) Fail(now time.Time, msg string) {
	j.Status = JobFailed
	j.CompletedAt = &now
	j.ErrorMessage = msg
}

// Cancel marks the job CANCELLED. Already-persisted partial results from the
// current stage are kept.
func (j *EodValuationJob) Cancel(now time.Time) {
	j.Status = JobCancelled
	j.CompletedAt = &now
}

// AccountingEventType classifies generated accounting events.
type AccountingEventType string

const (
	AccountingMtm     AccountingEventType = "MTM_PNL"
	AccountingAccrual AccountingEventType = "PREMIUM_ACCRUAL"
)

// AccountingEvent is a downstream accounting posting generated from a P&L
// row in the optional final pipeline stage.
type AccountingEvent struct {
	EventDate   time.Time
	TradeID     string
	EventType   AccountingEventType
	Amount      decimal.Decimal // signed; negative amounts post as debits
	Currency    string
	Description string
	JobID       string
}
