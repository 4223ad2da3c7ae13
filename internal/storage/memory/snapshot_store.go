package memory

import (
	"context"
	"sync"
	"time"

	"cds-eod-engine/internal/domain"
	"cds-eod-engine/internal/storage"
)

// SnapshotStore is an in-memory implementation of
// storage.MarketDataSnapshotStore. At most one snapshot exists per date.
type SnapshotStore struct {
	mu   sync.RWMutex
	data map[string]*domain.MarketDataSnapshot // keyed by snapshot date
}

// NewSnapshotStore creates a new in-memory snapshot store.
func NewSnapshotStore() *SnapshotStore {
	return &SnapshotStore{data: make(map[string]*domain.MarketDataSnapshot)}
}

var _ storage.MarketDataSnapshotStore = (*SnapshotStore)(nil)

// Insert adds a snapshot. Returns ErrDuplicateKey if one exists for the date.
func (s *SnapshotStore) Insert(_ context.Context, snap *domain.MarketDataSnapshot) error {
	if snap == nil || snap.SnapshotDate.IsZero() {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := domain.DateKey(snap.SnapshotDate)
	if _, exists := s.data[key]; exists {
		return storage.ErrDuplicateKey
	}

	s.data[key] = cloneSnapshot(snap)
	return nil
}

// Update replaces the snapshot for its date. Returns ErrNotFound if absent.
func (s *SnapshotStore) Update(_ context.Context, snap *domain.MarketDataSnapshot) error {
	if snap == nil || snap.SnapshotDate.IsZero() {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := domain.DateKey(snap.SnapshotDate)
	if _, exists := s.data[key]; !exists {
		return storage.ErrNotFound
	}

	s.data[key] = cloneSnapshot(snap)
	return nil
}

// GetByDate retrieves the snapshot for a date. Returns ErrNotFound if absent.
func (s *SnapshotStore) GetByDate(_ context.Context, date time.Time) (*domain.MarketDataSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap, exists := s.data[domain.DateKey(date)]
	if !exists {
		return nil, storage.ErrNotFound
	}
	return cloneSnapshot(snap), nil
}

// GetLatestComplete retrieves the most recent COMPLETE snapshot.
func (s *SnapshotStore) GetLatestComplete(_ context.Context) (*domain.MarketDataSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *domain.MarketDataSnapshot
	for _, snap := range s.data {
		if snap.Status != domain.SnapshotComplete {
			continue
		}
		if latest == nil || snap.SnapshotDate.After(latest.SnapshotDate) {
			latest = snap
		}
	}

	if latest == nil {
		return nil, storage.ErrNotFound
	}
	return cloneSnapshot(latest), nil
}

func cloneSnapshot(snap *domain.MarketDataSnapshot) *domain.MarketDataSnapshot {
	cp := *snap
	cp.CdsSpreads = append([]domain.CdsSpreadQuote(nil), snap.CdsSpreads...)
	cp.IrCurve = append([]domain.IrCurvePoint(nil), snap.IrCurve...)
	cp.FxRates = append([]domain.FxRateQuote(nil), snap.FxRates...)
	cp.RecoveryRates = append([]domain.RecoveryRateQuote(nil), snap.RecoveryRates...)
	return &cp
}
