// Package orchestrator runs the EOD valuation pipeline as a persistent job
// with a fixed step sequence:
// market data → trades → NPV → accrued → P&L → risk → reconciliation → accounting.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"cds-eod-engine/internal/accounting"
	"cds-eod-engine/internal/accrual"
	"cds-eod-engine/internal/domain"
	"cds-eod-engine/internal/marketdata"
	"cds-eod-engine/internal/observability"
	"cds-eod-engine/internal/pnl"
	"cds-eod-engine/internal/reconciliation"
	"cds-eod-engine/internal/riskagg"
	"cds-eod-engine/internal/storage"
	"cds-eod-engine/internal/valuation"
)

var (
	// ErrDuplicateJob is returned when a job already exists for the date.
	ErrDuplicateJob = errors.New("eod job already exists for date")

	// ErrJobNotFound is returned by job queries for unknown jobs.
	ErrJobNotFound = errors.New("eod job not found")

	// ErrJobNotRunnable is returned when RunJob is called on a job that is
	// not in PENDING state.
	ErrJobNotRunnable = errors.New("eod job is not in a runnable state")

	// ErrJobNotRunning is returned when cancelling a job that is not RUNNING.
	ErrJobNotRunning = errors.New("eod job is not running")
)

// Config tunes orchestrator behavior. Zero values fall back to defaults.
type Config struct {
	MaxRetries         int           // retries per step after the first attempt
	RetryBaseDelay     time.Duration // backoff is base << retryCount
	StageTimeout       time.Duration // wall-clock budget per stage attempt
	ValuationWorkers   int           // NPV worker pool size
	CancelPollInterval time.Duration // cooperative cancel flag poll period

	// Completeness requirements for market data validation.
	RequiredEntities   []string
	RequiredCurrencies []string
}

func (c Config) withDefaults() Config {
	if c.MaxRetries <= 0 {
		c.MaxRetries = 2
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = 5 * time.Second
	}
	if c.StageTimeout <= 0 {
		c.StageTimeout = 10 * time.Minute
	}
	if c.ValuationWorkers <= 0 {
		c.ValuationWorkers = 4
	}
	if c.CancelPollInterval <= 0 {
		c.CancelPollInterval = time.Second
	}
	return c
}

// Orchestrator coordinates the EOD pipeline stages against the job store.
type Orchestrator struct {
	jobs   storage.JobStore
	trades storage.TradeStore

	marketData *marketdata.Service
	valuation  *valuation.Engine
	accrual    *accrual.Engine
	pnl        *pnl.Engine
	risk       *riskagg.Engine
	recon      *reconciliation.Engine
	accounting *accounting.Generator

	cfg     Config
	metrics *observability.Metrics
	log     zerolog.Logger
	now     func() time.Time
}

// Options bundles the orchestrator's dependencies.
type Options struct {
	Jobs   storage.JobStore
	Trades storage.TradeStore

	MarketData *marketdata.Service
	Valuation  *valuation.Engine
	Accrual    *accrual.Engine
	Pnl        *pnl.Engine
	Risk       *riskagg.Engine
	Recon      *reconciliation.Engine
	Accounting *accounting.Generator

	Config  Config
	Metrics *observability.Metrics // optional
	Log     zerolog.Logger
}

// New creates an Orchestrator.
func New(opts Options) *Orchestrator {
	return &Orchestrator{
		jobs:       opts.Jobs,
		trades:     opts.Trades,
		marketData: opts.MarketData,
		valuation:  opts.Valuation,
		accrual:    opts.Accrual,
		pnl:        opts.Pnl,
		risk:       opts.Risk,
		recon:      opts.Recon,
		accounting: opts.Accounting,
		cfg:        opts.Config.withDefaults(),
		metrics:    opts.Metrics,
		log:        opts.Log.With().Str("component", "orchestrator").Logger(),
		now:        time.Now,
	}
}

// stepNames in execution order. GENERATE_ACCOUNTING_EVENTS is last and its
// failures never fail the job.
var stepNames = []string{
	domain.StepCaptureMarketData,
	domain.StepLoadActiveTrades,
	domain.StepCalculateNpv,
	domain.StepCalculateAccrued,
	domain.StepCalculatePnl,
	domain.StepAggregateRisk,
	domain.StepReconcile,
	domain.StepGenerateAccountingEvents,
}

// SubmitJob creates a PENDING job with its step skeleton. Exactly one job may
// exist per valuation date; a second submission returns ErrDuplicateJob
// without touching the store.
func (o *Orchestrator) SubmitJob(ctx context.Context, date time.Time, triggeredBy string, dryRun bool) (*domain.EodValuationJob, error) {
	if _, err := o.jobs.GetByDate(ctx, date); err == nil {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateJob, domain.DateKey(date))
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("check existing job: %w", err)
	}

	job := &domain.EodValuationJob{
		JobID:         generateJobID(date),
		ValuationDate: date,
		Status:        domain.JobPending,
		ScheduledAt:   o.now(),
		DryRun:        dryRun,
		ManualTrigger: triggeredBy != "SYSTEM",
		TriggeredBy:   triggeredBy,
		TotalSteps:    len(stepNames),
		MaxRetries:    o.cfg.MaxRetries,
	}
	for i, name := range stepNames {
		job.Steps = append(job.Steps, &domain.EodValuationJobStep{
			StepNumber: i + 1,
			StepName:   name,
			Status:     domain.StepPending,
		})
	}

	if err := o.jobs.Insert(ctx, job); err != nil {
		if errors.Is(err, storage.ErrDuplicateKey) {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateJob, domain.DateKey(date))
		}
		return nil, fmt.Errorf("persist job: %w", err)
	}

	o.log.Info().Str("job_id", job.JobID).Str("date", domain.DateKey(date)).
		Str("triggered_by", triggeredBy).Bool("dry_run", dryRun).
		Msg("eod job created")
	return job, nil
}

func generateJobID(date time.Time) string {
	return fmt.Sprintf("EOD-%s-%s", date.Format("20060102"), uuid.NewString()[:8])
}

// RunJob executes a PENDING job's steps in order. Each step is persisted
// before and after every transition, retried with exponential backoff up to
// MaxRetries, and bounded by the stage timeout. A cancel request observed
// between or during steps ends the job as CANCELLED with partial results
// kept. The first step that exhausts its retries fails the whole job.
func (o *Orchestrator) RunJob(ctx context.Context, jobID string) (*domain.EodValuationJob, error) {
	job, err := o.jobs.GetByJobID(ctx, jobID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
		}
		return nil, fmt.Errorf("load job: %w", err)
	}
	if job.Status != domain.JobPending {
		return nil, fmt.Errorf("%w: %s is %s", ErrJobNotRunnable, jobID, job.Status)
	}

	started := o.now()
	job.Start(started)
	if err := o.jobs.Update(ctx, job); err != nil {
		return nil, fmt.Errorf("persist job start: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go o.watchCancel(runCtx, cancel, jobID)

	log := o.log.With().Str("job_id", job.JobID).Logger()
	run := &jobRun{job: job, log: log}

	for _, step := range job.Steps {
		if o.cancelled(ctx, runCtx, jobID) {
			return o.finishCancelled(ctx, job)
		}

		if err := o.runStepWithRetry(ctx, runCtx, run, step); err != nil {
			if o.cancelled(ctx, runCtx, jobID) {
				return o.finishCancelled(ctx, job)
			}
			job.Fail(o.now(), fmt.Sprintf("step %s failed: %s", step.StepName, step.ErrorMessage))
			if uerr := o.jobs.Update(ctx, job); uerr != nil {
				return job, fmt.Errorf("persist job failure: %w", uerr)
			}
			o.metrics.RecordJob(string(domain.JobFailed), o.now().Sub(started).Seconds())
			log.Error().Str("step", step.StepName).Msg("eod job failed")
			return job, err
		}

		job.CurrentStep = step.StepNumber
		if err := o.jobs.Update(ctx, job); err != nil {
			return job, fmt.Errorf("persist job progress: %w", err)
		}
	}

	o.applyJobMetrics(job)
	job.Complete(o.now())
	if err := o.jobs.Update(ctx, job); err != nil {
		return job, fmt.Errorf("persist job completion: %w", err)
	}
	o.metrics.RecordJob(string(domain.JobCompleted), o.now().Sub(started).Seconds())

	log.Info().Int("trades", job.TotalTradesProcessed).
		Int("succeeded", job.SuccessfulValuations).Int("failed", job.FailedValuations).
		Msg("eod job completed")
	return job, nil
}

// Run submits and immediately executes a job for the date.
func (o *Orchestrator) Run(ctx context.Context, date time.Time, triggeredBy string, dryRun bool) (*domain.EodValuationJob, error) {
	job, err := o.SubmitJob(ctx, date, triggeredBy, dryRun)
	if err != nil {
		return nil, err
	}
	return o.RunJob(ctx, job.JobID)
}

// jobRun carries state shared between stages of a single run.
type jobRun struct {
	job    *domain.EodValuationJob
	trades []*domain.Trade
	log    zerolog.Logger
}

func (o *Orchestrator) runStepWithRetry(ctx, runCtx context.Context, run *jobRun, step *domain.EodValuationJobStep) error {
	for {
		err := o.runStepOnce(ctx, runCtx, run, step)
		if err == nil {
			return nil
		}
		if runCtx.Err() != nil {
			return err
		}
		if step.RetryCount >= run.job.MaxRetries {
			return err
		}

		delay := o.cfg.RetryBaseDelay << step.RetryCount
		step.RetryCount++
		o.metrics.RecordStepRetry(step.StepName)
		run.log.Warn().Str("step", step.StepName).Int("retry", step.RetryCount).
			Dur("delay", delay).Err(err).Msg("step failed, retrying")
		if err := o.jobs.Update(ctx, run.job); err != nil {
			return fmt.Errorf("persist retry count: %w", err)
		}

		select {
		case <-time.After(delay):
		case <-runCtx.Done():
			return fmt.Errorf("retry wait interrupted: %w", runCtx.Err())
		}
	}
}

func (o *Orchestrator) runStepOnce(ctx, runCtx context.Context, run *jobRun, step *domain.EodValuationJobStep) error {
	startedAt := o.now()
	step.Start(startedAt)
	if err := o.jobs.Update(ctx, run.job); err != nil {
		return fmt.Errorf("persist step start: %w", err)
	}

	run.log.Info().Str("step", step.StepName).Int("number", step.StepNumber).Msg("executing step")

	stageCtx, cancel := context.WithTimeout(runCtx, o.cfg.StageTimeout)
	err := o.executeStage(stageCtx, run, step)
	cancel()

	elapsed := o.now().Sub(startedAt).Seconds()
	if err != nil {
		step.Fail(o.now(), err.Error())
		o.metrics.RecordStep(step.StepName, string(domain.StepFailed), elapsed)
		if uerr := o.jobs.Update(ctx, run.job); uerr != nil {
			return fmt.Errorf("persist step failure: %w", uerr)
		}
		return err
	}

	step.Complete(o.now())
	o.metrics.RecordStep(step.StepName, string(domain.StepCompleted), elapsed)
	if err := o.jobs.Update(ctx, run.job); err != nil {
		return fmt.Errorf("persist step completion: %w", err)
	}

	run.log.Info().Str("step", step.StepName).
		Int("processed", step.RecordsProcessed).Int("failed", step.RecordsFailed).
		Msg("step completed")
	return nil
}

func (o *Orchestrator) executeStage(ctx context.Context, run *jobRun, step *domain.EodValuationJobStep) error {
	job := run.job
	if job.DryRun {
		run.log.Info().Str("step", step.StepName).Msg("dry run, skipping stage work")
		step.RecordsProcessed = 0
		return nil
	}

	switch step.StepName {
	case domain.StepCaptureMarketData:
		return o.stageCaptureMarketData(ctx, run, step)
	case domain.StepLoadActiveTrades:
		return o.stageLoadActiveTrades(ctx, run, step)
	case domain.StepCalculateNpv:
		return o.stageCalculateNpv(ctx, run, step)
	case domain.StepCalculateAccrued:
		return o.stageCalculateAccrued(ctx, run, step)
	case domain.StepCalculatePnl:
		return o.stageCalculatePnl(ctx, run, step)
	case domain.StepAggregateRisk:
		return o.stageAggregateRisk(ctx, run, step)
	case domain.StepReconcile:
		return o.stageReconcile(ctx, run, step)
	case domain.StepGenerateAccountingEvents:
		return o.stageGenerateAccountingEvents(ctx, run, step)
	default:
		return fmt.Errorf("unknown step %q", step.StepName)
	}
}

func (o *Orchestrator) stageCaptureMarketData(ctx context.Context, run *jobRun, step *domain.EodValuationJobStep) error {
	snap, err := o.marketData.Capture(ctx, run.job.ValuationDate, run.job.JobID)
	if err != nil {
		o.metrics.RecordSnapshot(string(domain.SnapshotFailed))
		return err
	}

	snap, err = o.marketData.Validate(ctx, run.job.ValuationDate, o.cfg.RequiredEntities, o.cfg.RequiredCurrencies)
	if err != nil {
		return err
	}
	o.metrics.RecordSnapshot(string(snap.Status))
	if snap.Status == domain.SnapshotPartial {
		run.log.Warn().Str("missing", snap.MissingData).Msg("market data snapshot is partial")
	}

	step.RecordsProcessed = 1
	step.RecordsSucceeded = 1
	return nil
}

func (o *Orchestrator) stageLoadActiveTrades(ctx context.Context, run *jobRun, step *domain.EodValuationJobStep) error {
	trades, err := o.trades.ListActive(ctx, run.job.ValuationDate)
	if err != nil {
		return fmt.Errorf("list active trades: %w", err)
	}
	run.trades = trades
	step.RecordsProcessed = len(trades)
	step.RecordsSucceeded = len(trades)
	run.log.Info().Int("trades", len(trades)).Msg("loaded active trades")
	return nil
}

func (o *Orchestrator) stageCalculateNpv(ctx context.Context, run *jobRun, step *domain.EodValuationJobStep) error {
	if err := o.ensureTrades(ctx, run); err != nil {
		return err
	}
	if len(run.trades) == 0 {
		run.log.Warn().Msg("no active trades for NPV calculation")
		return nil
	}

	snap, err := o.marketData.ForValuation(ctx, run.job.ValuationDate)
	if err != nil {
		return err
	}

	result, err := o.valuation.CalculateNpvBatch(ctx, run.trades, run.job.ValuationDate,
		snap, run.job.JobID, o.cfg.ValuationWorkers)
	step.RecordsProcessed = result.Processed
	step.RecordsSucceeded = result.Succeeded
	step.RecordsFailed = result.Failed
	o.metrics.RecordValuations(result.Succeeded, result.Failed)
	return err
}

func (o *Orchestrator) stageCalculateAccrued(ctx context.Context, run *jobRun, step *domain.EodValuationJobStep) error {
	if err := o.ensureTrades(ctx, run); err != nil {
		return err
	}
	result, err := o.accrual.CalculateBatch(ctx, run.trades, run.job.ValuationDate, run.job.JobID)
	step.RecordsProcessed = result.Processed
	step.RecordsSucceeded = result.Succeeded
	step.RecordsFailed = result.Failed
	return err
}

func (o *Orchestrator) stageCalculatePnl(ctx context.Context, run *jobRun, step *domain.EodValuationJobStep) error {
	results, err := o.pnl.CalculateDailyPnl(ctx, run.job.ValuationDate, run.job.JobID)
	step.RecordsProcessed = len(results)
	step.RecordsSucceeded = len(results)
	return err
}

func (o *Orchestrator) stageAggregateRisk(ctx context.Context, run *jobRun, step *domain.EodValuationJobStep) error {
	portfolios, err := o.risk.AggregateAll(ctx, run.job.ValuationDate, run.job.JobID)
	step.RecordsProcessed = portfolios
	step.RecordsSucceeded = portfolios
	return err
}

func (o *Orchestrator) stageReconcile(ctx context.Context, run *jobRun, step *domain.EodValuationJobStep) error {
	summary, err := o.recon.Reconcile(ctx, run.job.ValuationDate, run.job.JobID)
	if err != nil {
		return err
	}
	if summary == nil {
		return nil
	}

	step.RecordsProcessed = summary.TotalValuations
	step.RecordsSucceeded = summary.TotalValuations - summary.TotalExceptions
	step.RecordsFailed = summary.TotalExceptions

	// Critical exceptions block the pipeline until resolved.
	if summary.CriticalCount > 0 {
		return fmt.Errorf("reconciliation found %d critical exceptions", summary.CriticalCount)
	}
	return nil
}

func (o *Orchestrator) stageGenerateAccountingEvents(ctx context.Context, run *jobRun, step *domain.EodValuationJobStep) error {
	events, err := o.accounting.Generate(ctx, run.job.ValuationDate, run.job.JobID)
	if err != nil {
		// Accounting is the optional tail stage; a failure is recorded on the
		// step but never fails the job.
		run.log.Error().Err(err).Msg("accounting event generation failed")
		step.ErrorMessage = err.Error()
		return nil
	}
	step.RecordsProcessed = len(events)
	step.RecordsSucceeded = len(events)
	return nil
}

// ensureTrades reloads the active trade population when a retry or restart
// lost the in-memory slice from LOAD_ACTIVE_TRADES.
func (o *Orchestrator) ensureTrades(ctx context.Context, run *jobRun) error {
	if run.trades != nil {
		return nil
	}
	trades, err := o.trades.ListActive(ctx, run.job.ValuationDate)
	if err != nil {
		return fmt.Errorf("list active trades: %w", err)
	}
	run.trades = trades
	return nil
}

func (o *Orchestrator) applyJobMetrics(job *domain.EodValuationJob) {
	if npv := job.StepByName(domain.StepCalculateNpv); npv != nil {
		job.TotalTradesProcessed = npv.RecordsProcessed
		job.SuccessfulValuations = npv.RecordsSucceeded
		job.FailedValuations = npv.RecordsFailed
	}
}

// watchCancel polls the persistent cancel flag and cancels the run context
// when it is set. The flag read goes through the store so a cancel issued by
// another process is observed.
func (o *Orchestrator) watchCancel(ctx context.Context, cancel context.CancelFunc, jobID string) {
	ticker := time.NewTicker(o.cfg.CancelPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			requested, err := o.jobs.IsCancelRequested(ctx, jobID)
			if err != nil {
				continue
			}
			if requested {
				o.log.Info().Str("job_id", jobID).Msg("cancel request observed")
				cancel()
				return
			}
		}
	}
}

func (o *Orchestrator) cancelled(ctx, runCtx context.Context, jobID string) bool {
	if runCtx.Err() != nil && ctx.Err() == nil {
		return true
	}
	requested, err := o.jobs.IsCancelRequested(ctx, jobID)
	return err == nil && requested
}

func (o *Orchestrator) finishCancelled(ctx context.Context, job *domain.EodValuationJob) (*domain.EodValuationJob, error) {
	job.Cancel(o.now())
	if err := o.jobs.Update(ctx, job); err != nil {
		return job, fmt.Errorf("persist job cancellation: %w", err)
	}
	o.metrics.RecordJob(string(domain.JobCancelled), 0)
	o.log.Info().Str("job_id", job.JobID).Msg("eod job cancelled, partial results kept")
	return job, nil
}

// Cancel requests cooperative cancellation of a RUNNING job. The running
// stage observes the flag at its next loop boundary.
func (o *Orchestrator) Cancel(ctx context.Context, jobID string) error {
	job, err := o.JobByID(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status != domain.JobRunning {
		return fmt.Errorf("%w: %s is %s", ErrJobNotRunning, jobID, job.Status)
	}
	if err := o.jobs.RequestCancel(ctx, jobID); err != nil {
		return fmt.Errorf("request cancel: %w", err)
	}
	o.log.Info().Str("job_id", jobID).Msg("cancellation requested")
	return nil
}

// JobByID retrieves a job by its identifier.
func (o *Orchestrator) JobByID(ctx context.Context, jobID string) (*domain.EodValuationJob, error) {
	job, err := o.jobs.GetByJobID(ctx, jobID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
		}
		return nil, err
	}
	return job, nil
}

// JobForDate retrieves the job for a valuation date.
func (o *Orchestrator) JobForDate(ctx context.Context, date time.Time) (*domain.EodValuationJob, error) {
	job, err := o.jobs.GetByDate(ctx, date)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: date %s", ErrJobNotFound, domain.DateKey(date))
		}
		return nil, err
	}
	return job, nil
}

// JobsByStatus lists jobs in a given status.
func (o *Orchestrator) JobsByStatus(ctx context.Context, status domain.JobStatus) ([]*domain.EodValuationJob, error) {
	return o.jobs.ListByStatus(ctx, status)
}

// RecentJobs lists up to limit jobs, most recent valuation date first.
func (o *Orchestrator) RecentJobs(ctx context.Context, limit int) ([]*domain.EodValuationJob, error) {
	return o.jobs.ListRecent(ctx, limit)
}

// DescribeJob renders a one-line human summary of a job's progress.
func DescribeJob(job *domain.EodValuationJob) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s [%s] %s step %d/%d",
		job.JobID, job.Status, domain.DateKey(job.ValuationDate), job.CurrentStep, job.TotalSteps)
	if job.ErrorMessage != "" {
		fmt.Fprintf(&b, " (%s)", job.ErrorMessage)
	}
	return b.String()
}
