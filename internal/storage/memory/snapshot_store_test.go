package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"cds-eod-engine/internal/domain"
	"cds-eod-engine/internal/storage"
)

func testSnapshot(y, m, d int, status domain.SnapshotStatus) *domain.MarketDataSnapshot {
	return &domain.MarketDataSnapshot{
		SnapshotDate: date(y, time.Month(m), d),
		SnapshotTime: date(y, time.Month(m), d).Add(17 * time.Hour),
		Status:       status,
		CapturedBy:   "SYSTEM",
		CdsSpreads: []domain.CdsSpreadQuote{
			{ReferenceEntity: "ACME_CORP", Tenor: "5Y", Currency: "USD", SpreadBps: decimal.NewFromInt(120)},
		},
		IrCurve: []domain.IrCurvePoint{
			{Currency: "USD", CurveType: "OIS", Tenor: "5Y", Rate: decimal.NewFromFloat(0.05)},
		},
	}
}

func TestSnapshotStore_OnePerDate(t *testing.T) {
	store := NewSnapshotStore()
	ctx := context.Background()

	if err := store.Insert(ctx, testSnapshot(2025, 6, 30, domain.SnapshotPending)); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	err := store.Insert(ctx, testSnapshot(2025, 6, 30, domain.SnapshotPending))
	if !errors.Is(err, storage.ErrDuplicateKey) {
		t.Errorf("Expected ErrDuplicateKey for second snapshot on same date, got %v", err)
	}
}

func TestSnapshotStore_UpdateRequiresExisting(t *testing.T) {
	store := NewSnapshotStore()
	ctx := context.Background()

	snap := testSnapshot(2025, 6, 30, domain.SnapshotPending)
	err := store.Update(ctx, snap)
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound updating absent snapshot, got %v", err)
	}

	if err := store.Insert(ctx, snap); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	snap.Status = domain.SnapshotComplete
	if err := store.Update(ctx, snap); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	got, err := store.GetByDate(ctx, date(2025, 6, 30))
	if err != nil {
		t.Fatalf("GetByDate failed: %v", err)
	}
	if got.Status != domain.SnapshotComplete {
		t.Errorf("Status not updated: got %s", got.Status)
	}
}

func TestSnapshotStore_GetLatestComplete(t *testing.T) {
	store := NewSnapshotStore()
	ctx := context.Background()

	snaps := []*domain.MarketDataSnapshot{
		testSnapshot(2025, 6, 26, domain.SnapshotComplete),
		testSnapshot(2025, 6, 27, domain.SnapshotComplete),
		testSnapshot(2025, 6, 30, domain.SnapshotPartial), // latest but not COMPLETE
	}
	for _, s := range snaps {
		if err := store.Insert(ctx, s); err != nil {
			t.Fatalf("Insert failed: %v", err)
		}
	}

	got, err := store.GetLatestComplete(ctx)
	if err != nil {
		t.Fatalf("GetLatestComplete failed: %v", err)
	}
	if !got.SnapshotDate.Equal(date(2025, 6, 27)) {
		t.Errorf("Expected 2025-06-27, got %s", got.SnapshotDate)
	}
}

func TestSnapshotStore_GetLatestComplete_Empty(t *testing.T) {
	store := NewSnapshotStore()
	ctx := context.Background()

	_, err := store.GetLatestComplete(ctx)
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound on empty store, got %v", err)
	}
}

func TestSnapshotStore_QuoteSlicesCopied(t *testing.T) {
	store := NewSnapshotStore()
	ctx := context.Background()

	snap := testSnapshot(2025, 6, 30, domain.SnapshotComplete)
	if err := store.Insert(ctx, snap); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	got, err := store.GetByDate(ctx, date(2025, 6, 30))
	if err != nil {
		t.Fatalf("GetByDate failed: %v", err)
	}
	got.CdsSpreads[0].SpreadBps = decimal.NewFromInt(9999)

	again, _ := store.GetByDate(ctx, date(2025, 6, 30))
	if !again.CdsSpreads[0].SpreadBps.Equal(decimal.NewFromInt(120)) {
		t.Errorf("Quote slice mutation leaked into the store")
	}
}
