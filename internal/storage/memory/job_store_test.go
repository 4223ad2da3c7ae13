package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"cds-eod-engine/internal/domain"
	"cds-eod-engine/internal/storage"
)

func testJob(jobID string, y, m, d int) *domain.EodValuationJob {
	return &domain.EodValuationJob{
		JobID:         jobID,
		ValuationDate: date(y, time.Month(m), d),
		Status:        domain.JobPending,
		ScheduledAt:   date(y, time.Month(m), d),
		TotalSteps:    8,
		MaxRetries:    2,
		Steps: []*domain.EodValuationJobStep{
			{StepNumber: 1, StepName: domain.StepCaptureMarketData, Status: domain.StepPending},
			{StepNumber: 2, StepName: domain.StepLoadActiveTrades, Status: domain.StepPending},
		},
	}
}

func TestJobStore_OneJobPerDate(t *testing.T) {
	store := NewJobStore()
	ctx := context.Background()

	if err := store.Insert(ctx, testJob("EOD-20250630-aaaa1111", 2025, 6, 30)); err != nil {
		t.Fatalf("First insert failed: %v", err)
	}

	// Different job ID, same valuation date
	err := store.Insert(ctx, testJob("EOD-20250630-bbbb2222", 2025, 6, 30))
	if !errors.Is(err, storage.ErrDuplicateKey) {
		t.Errorf("Expected ErrDuplicateKey for second job on same date, got %v", err)
	}

	// Next business day is fine
	if err := store.Insert(ctx, testJob("EOD-20250701-cccc3333", 2025, 7, 1)); err != nil {
		t.Errorf("Insert for a new date failed: %v", err)
	}
}

func TestJobStore_UpdatePersistsSteps(t *testing.T) {
	store := NewJobStore()
	ctx := context.Background()

	j := testJob("EOD-20250630-aaaa1111", 2025, 6, 30)
	if err := store.Insert(ctx, j); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	j.Status = domain.JobRunning
	j.CurrentStep = 1
	j.Steps[0].Status = domain.StepCompleted
	j.Steps[0].RecordsProcessed = 42
	if err := store.Update(ctx, j); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	got, err := store.GetByJobID(ctx, "EOD-20250630-aaaa1111")
	if err != nil {
		t.Fatalf("GetByJobID failed: %v", err)
	}
	if got.Status != domain.JobRunning {
		t.Errorf("Status not persisted: got %s", got.Status)
	}
	if got.Steps[0].Status != domain.StepCompleted || got.Steps[0].RecordsProcessed != 42 {
		t.Errorf("Step state not persisted: %+v", got.Steps[0])
	}

	// Mutating the returned copy must not touch stored state
	got.Steps[1].Status = domain.StepFailed
	again, _ := store.GetByJobID(ctx, "EOD-20250630-aaaa1111")
	if again.Steps[1].Status != domain.StepPending {
		t.Errorf("Step mutation leaked into the store")
	}
}

func TestJobStore_CancelFlagSurvivesUpdate(t *testing.T) {
	store := NewJobStore()
	ctx := context.Background()

	j := testJob("EOD-20250630-aaaa1111", 2025, 6, 30)
	if err := store.Insert(ctx, j); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	if err := store.RequestCancel(ctx, j.JobID); err != nil {
		t.Fatalf("RequestCancel failed: %v", err)
	}

	// The orchestrator updates from its own in-memory copy which predates the
	// cancel request; the flag must not be lost.
	stale := testJob("EOD-20250630-aaaa1111", 2025, 6, 30)
	stale.Status = domain.JobRunning
	if err := store.Update(ctx, stale); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	cancelled, err := store.IsCancelRequested(ctx, j.JobID)
	if err != nil {
		t.Fatalf("IsCancelRequested failed: %v", err)
	}
	if !cancelled {
		t.Errorf("Cancel flag lost after Update")
	}
}

func TestJobStore_GetByDate(t *testing.T) {
	store := NewJobStore()
	ctx := context.Background()

	if err := store.Insert(ctx, testJob("EOD-20250630-aaaa1111", 2025, 6, 30)); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	got, err := store.GetByDate(ctx, date(2025, 6, 30))
	if err != nil {
		t.Fatalf("GetByDate failed: %v", err)
	}
	if got.JobID != "EOD-20250630-aaaa1111" {
		t.Errorf("Unexpected job: %s", got.JobID)
	}

	_, err = store.GetByDate(ctx, date(2025, 7, 1))
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestJobStore_ListRecent(t *testing.T) {
	store := NewJobStore()
	ctx := context.Background()

	for d := 1; d <= 5; d++ {
		j := testJob("EOD-2025070"+string(rune('0'+d))+"-aaaa1111", 2025, 7, d)
		if err := store.Insert(ctx, j); err != nil {
			t.Fatalf("Insert failed: %v", err)
		}
	}

	got, err := store.ListRecent(ctx, 3)
	if err != nil {
		t.Fatalf("ListRecent failed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("Expected 3 jobs, got %d", len(got))
	}
	if !got[0].ValuationDate.Equal(date(2025, 7, 5)) {
		t.Errorf("Expected newest first, got %s", got[0].ValuationDate)
	}
	if !got[2].ValuationDate.Equal(date(2025, 7, 3)) {
		t.Errorf("Expected 2025-07-03 third, got %s", got[2].ValuationDate)
	}
}

func TestJobStore_ListByStatus(t *testing.T) {
	store := NewJobStore()
	ctx := context.Background()

	running := testJob("EOD-20250630-aaaa1111", 2025, 6, 30)
	running.Status = domain.JobRunning
	done := testJob("EOD-20250701-bbbb2222", 2025, 7, 1)
	done.Status = domain.JobCompleted

	for _, j := range []*domain.EodValuationJob{running, done} {
		if err := store.Insert(ctx, j); err != nil {
			t.Fatalf("Insert failed: %v", err)
		}
	}

	got, err := store.ListByStatus(ctx, domain.JobRunning)
	if err != nil {
		t.Fatalf("ListByStatus failed: %v", err)
	}
	if len(got) != 1 || got[0].JobID != "EOD-20250630-aaaa1111" {
		t.Errorf("Unexpected RUNNING set: %+v", got)
	}
}
