package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"cds-eod-engine/internal/domain"
	"cds-eod-engine/internal/storage"
)

// JobStore implements storage.JobStore using PostgreSQL. Steps are persisted
// as a JSONB document on the job row; Update rewrites the whole document,
// which is the per-stage checkpoint the orchestrator relies on.
type JobStore struct {
	pool *Pool
}

// NewJobStore creates a new JobStore.
func NewJobStore(pool *Pool) *JobStore {
	return &JobStore{pool: pool}
}

var _ storage.JobStore = (*JobStore)(nil)

const jobColumns = `
	job_id, valuation_date, status, scheduled_at, started_at, completed_at,
	dry_run, manual_trigger, triggered_by,
	current_step, total_steps, max_retries,
	total_trades_processed, successful_valuations, failed_valuations,
	error_message, cancel_requested, steps
`

// jobStep is the JSONB shape for one step.
type jobStep struct {
	StepNumber       int        `json:"step_number"`
	StepName         string     `json:"step_name"`
	Status           string     `json:"status"`
	StartedAt        *time.Time `json:"started_at,omitempty"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
	RecordsProcessed int        `json:"records_processed"`
	RecordsSucceeded int        `json:"records_succeeded"`
	RecordsFailed    int        `json:"records_failed"`
	RetryCount       int        `json:"retry_count"`
	ErrorMessage     string     `json:"error_message,omitempty"`
}

// Insert adds a job. The unique index on valuation_date enforces the
// one-job-per-date invariant; a conflict surfaces as ErrDuplicateKey.
func (s *JobStore) Insert(ctx context.Context, j *domain.EodValuationJob) error {
	steps, err := marshalSteps(j.Steps)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO eod_valuation_jobs (` + jobColumns + `) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18
		)
	`

	_, err = s.pool.Exec(ctx, query,
		j.JobID, j.ValuationDate, string(j.Status), j.ScheduledAt, j.StartedAt, j.CompletedAt,
		j.DryRun, j.ManualTrigger, j.TriggeredBy,
		j.CurrentStep, j.TotalSteps, j.MaxRetries,
		j.TotalTradesProcessed, j.SuccessfulValuations, j.FailedValuations,
		j.ErrorMessage, j.CancelRequested, steps,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// Update replaces the stored job and steps. Returns ErrNotFound if absent.
// The cancel_requested column is deliberately not written here: RequestCancel
// owns it, so a checkpoint can never race away an operator's cancellation.
func (s *JobStore) Update(ctx context.Context, j *domain.EodValuationJob) error {
	steps, err := marshalSteps(j.Steps)
	if err != nil {
		return err
	}

	query := `
		UPDATE eod_valuation_jobs SET
			valuation_date = $2, status = $3, scheduled_at = $4, started_at = $5, completed_at = $6,
			dry_run = $7, manual_trigger = $8, triggered_by = $9,
			current_step = $10, total_steps = $11, max_retries = $12,
			total_trades_processed = $13, successful_valuations = $14, failed_valuations = $15,
			error_message = $16, steps = $17
		WHERE job_id = $1
	`

	tag, err := s.pool.Exec(ctx, query,
		j.JobID, j.ValuationDate, string(j.Status), j.ScheduledAt, j.StartedAt, j.CompletedAt,
		j.DryRun, j.ManualTrigger, j.TriggeredBy,
		j.CurrentStep, j.TotalSteps, j.MaxRetries,
		j.TotalTradesProcessed, j.SuccessfulValuations, j.FailedValuations,
		j.ErrorMessage, steps,
	)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// GetByJobID retrieves a job. Returns ErrNotFound if absent.
func (s *JobStore) GetByJobID(ctx context.Context, jobID string) (*domain.EodValuationJob, error) {
	query := `SELECT ` + jobColumns + ` FROM eod_valuation_jobs WHERE job_id = $1`

	j, err := scanJob(s.pool.QueryRow(ctx, query, jobID))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get job by id: %w", err)
	}
	return j, nil
}

// GetByDate retrieves the job for a valuation date. Returns ErrNotFound if absent.
func (s *JobStore) GetByDate(ctx context.Context, date time.Time) (*domain.EodValuationJob, error) {
	query := `SELECT ` + jobColumns + ` FROM eod_valuation_jobs WHERE valuation_date = $1`

	j, err := scanJob(s.pool.QueryRow(ctx, query, date))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get job by date: %w", err)
	}
	return j, nil
}

// ListByStatus retrieves jobs with the given status, newest first.
func (s *JobStore) ListByStatus(ctx context.Context, status domain.JobStatus) ([]*domain.EodValuationJob, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM eod_valuation_jobs
		WHERE status = $1
		ORDER BY valuation_date DESC
	`

	rows, err := s.pool.Query(ctx, query, string(status))
	if err != nil {
		return nil, fmt.Errorf("list jobs by status: %w", err)
	}
	defer rows.Close()

	return scanJobs(rows)
}

// ListRecent retrieves up to limit jobs ordered by valuation date descending.
func (s *JobStore) ListRecent(ctx context.Context, limit int) ([]*domain.EodValuationJob, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM eod_valuation_jobs
		ORDER BY valuation_date DESC
		LIMIT $1
	`

	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent jobs: %w", err)
	}
	defer rows.Close()

	return scanJobs(rows)
}

// RequestCancel sets the cooperative cancellation flag on a job.
func (s *JobStore) RequestCancel(ctx context.Context, jobID string) error {
	query := `UPDATE eod_valuation_jobs SET cancel_requested = true WHERE job_id = $1`

	tag, err := s.pool.Exec(ctx, query, jobID)
	if err != nil {
		return fmt.Errorf("request cancel: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// IsCancelRequested reads the cancellation flag.
func (s *JobStore) IsCancelRequested(ctx context.Context, jobID string) (bool, error) {
	query := `SELECT cancel_requested FROM eod_valuation_jobs WHERE job_id = $1`

	var requested bool
	if err := s.pool.QueryRow(ctx, query, jobID).Scan(&requested); err != nil {
		if isNotFoundError(err) {
			return false, storage.ErrNotFound
		}
		return false, fmt.Errorf("read cancel flag: %w", err)
	}
	return requested, nil
}

func marshalSteps(steps []*domain.EodValuationJobStep) ([]byte, error) {
	docs := make([]jobStep, 0, len(steps))
	for _, st := range steps {
		docs = append(docs, jobStep{
			StepNumber:       st.StepNumber,
			StepName:         st.StepName,
			Status:           string(st.Status),
			StartedAt:        st.StartedAt,
			CompletedAt:      st.CompletedAt,
			RecordsProcessed: st.RecordsProcessed,
			RecordsSucceeded: st.RecordsSucceeded,
			RecordsFailed:    st.RecordsFailed,
			RetryCount:       st.RetryCount,
			ErrorMessage:     st.ErrorMessage,
		})
	}

	data, err := json.Marshal(docs)
	if err != nil {
		return nil, fmt.Errorf("marshal job steps: %w", err)
	}
	return data, nil
}

func scanJob(row pgx.Row) (*domain.EodValuationJob, error) {
	var j domain.EodValuationJob
	var status string
	var stepsData []byte

	err := row.Scan(
		&j.JobID, &j.ValuationDate, &status, &j.ScheduledAt, &j.StartedAt, &j.CompletedAt,
		&j.DryRun, &j.ManualTrigger, &j.TriggeredBy,
		&j.CurrentStep, &j.TotalSteps, &j.MaxRetries,
		&j.TotalTradesProcessed, &j.SuccessfulValuations, &j.FailedValuations,
		&j.ErrorMessage, &j.CancelRequested, &stepsData,
	)
	if err != nil {
		return nil, err
	}
	j.Status = domain.JobStatus(status)

	var docs []jobStep
	if err := json.Unmarshal(stepsData, &docs); err != nil {
		return nil, fmt.Errorf("unmarshal job steps: %w", err)
	}
	for _, d := range docs {
		j.Steps = append(j.Steps, &domain.EodValuationJobStep{
			StepNumber:       d.StepNumber,
			StepName:         d.StepName,
			Status:           domain.StepStatus(d.Status),
			StartedAt:        d.StartedAt,
			CompletedAt:      d.CompletedAt,
			RecordsProcessed: d.RecordsProcessed,
			RecordsSucceeded: d.RecordsSucceeded,
			RecordsFailed:    d.RecordsFailed,
			RetryCount:       d.RetryCount,
			ErrorMessage:     d.ErrorMessage,
		})
	}

	return &j, nil
}

func scanJobs(rows pgx.Rows) ([]*domain.EodValuationJob, error) {
	var jobs []*domain.EodValuationJob

	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job row: %w", err)
		}
		jobs = append(jobs, j)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate job rows: %w", err)
	}

	return jobs, nil
}
