package orchestrator

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"cds-eod-engine/internal/accounting"
	"cds-eod-engine/internal/accrual"
	"cds-eod-engine/internal/domain"
	"cds-eod-engine/internal/marketdata"
	"cds-eod-engine/internal/pnl"
	"cds-eod-engine/internal/reconciliation"
	"cds-eod-engine/internal/riskagg"
	"cds-eod-engine/internal/storage/memory"
	"cds-eod-engine/internal/valuation"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

type fixture struct {
	orch       *Orchestrator
	jobs       *memory.JobStore
	trades     *memory.TradeStore
	valuations *memory.ValuationStore
	accrued    *memory.AccruedStore
	pnl        *memory.PnlStore
	portfolios *memory.PortfolioStore
	snapshots  *memory.SnapshotStore
	exceptions *memory.ExceptionStore
	summaries  *memory.ReconciliationSummaryStore
	events     *memory.AccountingEventStore
}

func newFixture() *fixture {
	log := zerolog.Nop()

	f := &fixture{
		jobs:       memory.NewJobStore(),
		trades:     memory.NewTradeStore(),
		valuations: memory.NewValuationStore(),
		accrued:    memory.NewAccruedStore(),
		pnl:        memory.NewPnlStore(),
		portfolios: memory.NewPortfolioStore(),
		snapshots:  memory.NewSnapshotStore(),
		exceptions: memory.NewExceptionStore(),
		summaries:  memory.NewReconciliationSummaryStore(),
		events:     memory.NewAccountingEventStore(),
	}

	sensitivities := memory.NewSensitivityStore()
	portfolioRisk := memory.NewPortfolioRiskStore()
	firmRisk := memory.NewFirmRiskStore()
	concentration := memory.NewConcentrationStore()
	limits := memory.NewRiskLimitStore()
	breaches := memory.NewBreachStore()
	rules := memory.NewToleranceRuleStore()

	source := &marketdata.StaticSource{
		Curve: []domain.IrCurvePoint{{Currency: "USD", CurveType: "OIS", Tenor: "5Y",
			Rate: decimal.NewFromFloat(0.05), DataSource: "TEST"}},
	}

	f.orch = New(Options{
		Jobs:       f.jobs,
		Trades:     f.trades,
		MarketData: marketdata.NewService(f.snapshots, source, log),
		Valuation:  valuation.NewEngine(f.valuations, sensitivities, log),
		Accrual:    accrual.NewEngine(f.accrued, log),
		Pnl:        pnl.NewEngine(f.valuations, f.accrued, f.pnl, f.trades, log),
		Risk: riskagg.NewEngine(f.valuations, sensitivities, f.trades, f.portfolios,
			portfolioRisk, firmRisk, concentration, limits, breaches, log),
		Recon: reconciliation.NewEngine(f.valuations, f.pnl, f.trades, rules,
			f.exceptions, f.summaries, log),
		Accounting: accounting.NewGenerator(f.events, f.pnl, log),
		Config: Config{
			MaxRetries:         1,
			RetryBaseDelay:     time.Millisecond,
			StageTimeout:       5 * time.Second,
			ValuationWorkers:   2,
			CancelPollInterval: time.Millisecond,
		},
		Log: log,
	})
	return f
}

func (f *fixture) addPortfolio(t *testing.T, id string) {
	t.Helper()
	err := f.portfolios.Insert(context.Background(), &domain.Portfolio{
		PortfolioID: id, Name: id, Currency: "USD", Active: true,
	})
	if err != nil {
		t.Fatalf("Insert portfolio failed: %v", err)
	}
}

func (f *fixture) addTrade(t *testing.T, id string, effective time.Time) {
	t.Helper()
	err := f.trades.Insert(context.Background(), &domain.Trade{
		TradeID:         id,
		ReferenceEntity: "ACME_CORP",
		Counterparty:    "CP-1",
		PortfolioID:     "PF-CREDIT-01",
		Notional:        decimal.NewFromInt(10_000_000),
		SpreadBps:       decimal.NewFromInt(100),
		Currency:        "USD",
		Direction:       domain.DirectionBuy,
		TradeDate:       date(2024, 1, 15),
		EffectiveDate:   effective,
		MaturityDate:    date(2029, 1, 15),
		DayCount:        "ACT/360",
		PremiumFreq:     "QUARTERLY",
		RecoveryRate:    decimal.NewFromFloat(0.40),
		Status:          domain.TradeStatusActive,
	})
	if err != nil {
		t.Fatalf("Insert trade failed: %v", err)
	}
}

func TestSubmitJob_OneJobPerDate(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	d := date(2024, 6, 28)

	if _, err := f.orch.SubmitJob(ctx, d, "ops", false); err != nil {
		t.Fatalf("First SubmitJob failed: %v", err)
	}
	_, err := f.orch.SubmitJob(ctx, d, "ops", false)
	if !errors.Is(err, ErrDuplicateJob) {
		t.Fatalf("Expected ErrDuplicateJob, got %v", err)
	}
}

func TestRunJob_HappyPath(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	d := date(2024, 6, 28)

	f.addPortfolio(t, "PF-CREDIT-01")
	f.addTrade(t, "CDS-001", date(2024, 1, 15))
	f.addTrade(t, "CDS-002", date(2024, 1, 15))

	job, err := f.orch.Run(ctx, d, "ops", false)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if job.Status != domain.JobCompleted {
		t.Fatalf("Job status: got %s, want COMPLETED (%s)", job.Status, job.ErrorMessage)
	}
	if job.CurrentStep != job.TotalSteps {
		t.Errorf("CurrentStep: got %d, want %d", job.CurrentStep, job.TotalSteps)
	}
	if job.TotalTradesProcessed != 2 || job.SuccessfulValuations != 2 {
		t.Errorf("Job metrics: processed %d succeeded %d, want 2/2",
			job.TotalTradesProcessed, job.SuccessfulValuations)
	}

	stored, err := f.jobs.GetByDate(ctx, d)
	if err != nil {
		t.Fatalf("GetByDate failed: %v", err)
	}
	for i, step := range stored.Steps {
		if step.Status != domain.StepCompleted {
			t.Errorf("Step %s: got %s, want COMPLETED (%s)", step.StepName, step.Status, step.ErrorMessage)
		}
		if step.StartedAt == nil || step.CompletedAt == nil {
			t.Fatalf("Step %s missing timestamps", step.StepName)
		}
		if step.CompletedAt.Before(*step.StartedAt) {
			t.Errorf("Step %s completed before it started", step.StepName)
		}
		if i > 0 {
			prev := stored.Steps[i-1]
			if step.StartedAt.Before(*prev.CompletedAt) {
				t.Errorf("Step %s started before %s completed", step.StepName, prev.StepName)
			}
		}
	}

	vals, err := f.valuations.ListByDate(ctx, d)
	if err != nil {
		t.Fatalf("ListByDate failed: %v", err)
	}
	if len(vals) != 2 {
		t.Errorf("Valuations persisted: got %d, want 2", len(vals))
	}
	if _, err := f.summaries.GetByDate(ctx, d); err != nil {
		t.Errorf("Reconciliation summary not persisted: %v", err)
	}
}

func TestRunJob_DryRunWritesNothing(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	d := date(2024, 6, 28)

	f.addPortfolio(t, "PF-CREDIT-01")
	f.addTrade(t, "CDS-001", date(2024, 1, 15))

	job, err := f.orch.Run(ctx, d, "ops", true)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if job.Status != domain.JobCompleted {
		t.Fatalf("Job status: got %s, want COMPLETED", job.Status)
	}

	for _, step := range job.Steps {
		if step.RecordsProcessed != 0 {
			t.Errorf("Dry-run step %s processed %d records", step.StepName, step.RecordsProcessed)
		}
	}
	if vals, _ := f.valuations.ListByDate(ctx, d); len(vals) != 0 {
		t.Errorf("Dry run persisted %d valuations", len(vals))
	}
	if _, err := f.snapshots.GetByDate(ctx, d); err == nil {
		t.Error("Dry run captured a market data snapshot")
	}
}

func TestRunJob_FailureNamesStep(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	d := date(2024, 6, 28)

	f.addPortfolio(t, "PF-CREDIT-01")
	// 2 of 10 trades start accruing after the calculation date, tripping the
	// accrued batch failure-rate gate on every attempt.
	for i := 0; i < 10; i++ {
		id := "CDS-0" + string(rune('0'+i))
		if i < 2 {
			f.addTrade(t, id, date(2025, 1, 1))
		} else {
			f.addTrade(t, id, date(2024, 1, 15))
		}
	}

	job, err := f.orch.Run(ctx, d, "ops", false)
	if !errors.Is(err, accrual.ErrExcessiveFailures) {
		t.Fatalf("Expected ErrExcessiveFailures, got %v", err)
	}
	if job.Status != domain.JobFailed {
		t.Fatalf("Job status: got %s, want FAILED", job.Status)
	}
	if !strings.HasPrefix(job.ErrorMessage, "step "+domain.StepCalculateAccrued) {
		t.Errorf("Job error must name the failing step, got %q", job.ErrorMessage)
	}

	step := job.StepByName(domain.StepCalculateAccrued)
	if step.Status != domain.StepFailed {
		t.Errorf("Step status: got %s, want FAILED", step.Status)
	}
	if step.RetryCount != 1 {
		t.Errorf("RetryCount: got %d, want 1", step.RetryCount)
	}

	// Later steps never ran.
	if s := job.StepByName(domain.StepCalculatePnl); s.Status != domain.StepPending {
		t.Errorf("Downstream step status: got %s, want PENDING", s.Status)
	}
}

func TestRunJob_CancelRequestedBeforeStart(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	d := date(2024, 6, 28)

	f.addPortfolio(t, "PF-CREDIT-01")
	f.addTrade(t, "CDS-001", date(2024, 1, 15))

	job, err := f.orch.SubmitJob(ctx, d, "ops", false)
	if err != nil {
		t.Fatalf("SubmitJob failed: %v", err)
	}
	if err := f.jobs.RequestCancel(ctx, job.JobID); err != nil {
		t.Fatalf("RequestCancel failed: %v", err)
	}

	job, err = f.orch.RunJob(ctx, job.JobID)
	if err != nil {
		t.Fatalf("RunJob failed: %v", err)
	}
	if job.Status != domain.JobCancelled {
		t.Fatalf("Job status: got %s, want CANCELLED", job.Status)
	}
	// No stage ran before the cancel was observed.
	for _, step := range job.Steps {
		if step.Status == domain.StepCompleted {
			t.Errorf("Step %s ran despite pre-run cancel", step.StepName)
		}
	}
}

func TestRunJob_OnlyPendingJobsRun(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	d := date(2024, 6, 28)

	f.addPortfolio(t, "PF-CREDIT-01")
	f.addTrade(t, "CDS-001", date(2024, 1, 15))

	job, err := f.orch.Run(ctx, d, "ops", false)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if _, err := f.orch.RunJob(ctx, job.JobID); !errors.Is(err, ErrJobNotRunnable) {
		t.Fatalf("Expected ErrJobNotRunnable, got %v", err)
	}
}

func TestCancel_RequiresRunningJob(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	job, err := f.orch.SubmitJob(ctx, date(2024, 6, 28), "ops", false)
	if err != nil {
		t.Fatalf("SubmitJob failed: %v", err)
	}
	if err := f.orch.Cancel(ctx, job.JobID); !errors.Is(err, ErrJobNotRunning) {
		t.Fatalf("Expected ErrJobNotRunning, got %v", err)
	}
	if err := f.orch.Cancel(ctx, "EOD-UNKNOWN"); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("Expected ErrJobNotFound, got %v", err)
	}
}

func TestRecentJobs(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	for day := 24; day <= 28; day++ {
		if _, err := f.orch.SubmitJob(ctx, date(2024, 6, day), "ops", false); err != nil {
			t.Fatalf("SubmitJob failed: %v", err)
		}
	}

	recent, err := f.orch.RecentJobs(ctx, 3)
	if err != nil {
		t.Fatalf("RecentJobs failed: %v", err)
	}
	if len(recent) != 3 {
		t.Fatalf("Expected 3 jobs, got %d", len(recent))
	}
	if !recent[0].ValuationDate.Equal(date(2024, 6, 28)) {
		t.Errorf("Newest first: got %s", domain.DateKey(recent[0].ValuationDate))
	}
}
