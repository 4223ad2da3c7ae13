package marketdata

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"cds-eod-engine/internal/domain"
	"cds-eod-engine/internal/storage"
)

// DefaultRiskFreeRate is the flat discounting rate used when a snapshot has
// no curve point for a currency.
var DefaultRiskFreeRate = decimal.NewFromFloat(0.05)

// Source supplies market quotes for a capture run. The websocket feed client
// implements this; tests use a static source.
type Source interface {
	CdsSpreads(ctx context.Context, date time.Time) ([]domain.CdsSpreadQuote, error)
	IrCurve(ctx context.Context, date time.Time) ([]domain.IrCurvePoint, error)
	FxRates(ctx context.Context, date time.Time) ([]domain.FxRateQuote, error)
	RecoveryRates(ctx context.Context, date time.Time) ([]domain.RecoveryRateQuote, error)
}

// Service captures and serves market data snapshots.
type Service struct {
	store  storage.MarketDataSnapshotStore
	source Source
	log    zerolog.Logger
}

// NewService creates a snapshot service.
func NewService(store storage.MarketDataSnapshotStore, source Source, log zerolog.Logger) *Service {
	return &Service{
		store:  store,
		source: source,
		log:    log.With().Str("component", "marketdata").Logger(),
	}
}

// Capture builds the snapshot for a date from the quote source and persists
// it. A retry of the capture stage reuses the existing snapshot row for the
// date instead of failing on the uniqueness constraint.
func (s *Service) Capture(ctx context.Context, date time.Time, capturedBy string) (*domain.MarketDataSnapshot, error) {
	snap := &domain.MarketDataSnapshot{
		SnapshotDate: date,
		SnapshotTime: time.Now().UTC(),
		Status:       domain.SnapshotPending,
		CapturedBy:   capturedBy,
	}

	replacing := false
	if err := s.store.Insert(ctx, snap); err != nil {
		if !errors.Is(err, storage.ErrDuplicateKey) {
			return nil, fmt.Errorf("insert snapshot: %w", err)
		}
		replacing = true
	}

	if err := s.fill(ctx, snap); err != nil {
		snap.Status = domain.SnapshotFailed
		snap.MissingData = err.Error()
		if uerr := s.store.Update(ctx, snap); uerr != nil {
			s.log.Error().Err(uerr).Msg("failed to persist FAILED snapshot")
		}
		return nil, fmt.Errorf("capture quotes for %s: %w", domain.DateKey(date), err)
	}

	now := time.Now().UTC()
	snap.Status = domain.SnapshotComplete
	snap.CompletedAt = &now
	if err := s.store.Update(ctx, snap); err != nil {
		return nil, fmt.Errorf("complete snapshot: %w", err)
	}

	s.log.Info().
		Str("date", domain.DateKey(date)).
		Bool("recapture", replacing).
		Int("cds_spreads", len(snap.CdsSpreads)).
		Int("ir_points", len(snap.IrCurve)).
		Int("fx_rates", len(snap.FxRates)).
		Int("recovery_rates", len(snap.RecoveryRates)).
		Msg("market data snapshot captured")

	return snap, nil
}

func (s *Service) fill(ctx context.Context, snap *domain.MarketDataSnapshot) error {
	var err error
	if snap.CdsSpreads, err = s.source.CdsSpreads(ctx, snap.SnapshotDate); err != nil {
		return fmt.Errorf("cds spreads: %w", err)
	}
	if snap.IrCurve, err = s.source.IrCurve(ctx, snap.SnapshotDate); err != nil {
		return fmt.Errorf("ir curve: %w", err)
	}
	if snap.FxRates, err = s.source.FxRates(ctx, snap.SnapshotDate); err != nil {
		return fmt.Errorf("fx rates: %w", err)
	}
	if snap.RecoveryRates, err = s.source.RecoveryRates(ctx, snap.SnapshotDate); err != nil {
		return fmt.Errorf("recovery rates: %w", err)
	}
	return nil
}

// Validate checks a snapshot against the required entity and currency
// coverage, downgrades it to PARTIAL with a missing-data list when coverage
// is incomplete, and persists the result.
func (s *Service) Validate(ctx context.Context, date time.Time, requiredEntities, requiredCurrencies []string) (*domain.MarketDataSnapshot, error) {
	snap, err := s.store.GetByDate(ctx, date)
	if err != nil {
		return nil, fmt.Errorf("load snapshot for validation: %w", err)
	}

	var missing []string
	for _, entity := range requiredEntities {
		found := false
		for _, q := range snap.CdsSpreads {
			if q.ReferenceEntity == entity {
				found = true
				break
			}
		}
		if !found {
			missing = append(missing, "missing CDS spread for "+entity)
		}
	}
	for _, ccy := range requiredCurrencies {
		found := false
		for _, p := range snap.IrCurve {
			if p.Currency == ccy {
				found = true
				break
			}
		}
		if !found {
			missing = append(missing, "missing IR curve for "+ccy)
		}
	}

	if len(missing) > 0 {
		snap.Status = domain.SnapshotPartial
		snap.MissingData = strings.Join(missing, "; ")
		s.log.Warn().Str("date", domain.DateKey(date)).Str("missing", snap.MissingData).
			Msg("snapshot validation found missing data")
	} else {
		snap.Status = domain.SnapshotComplete
		snap.MissingData = ""
	}

	if err := s.store.Update(ctx, snap); err != nil {
		return nil, fmt.Errorf("persist validation result: %w", err)
	}
	return snap, nil
}

// ForValuation returns the snapshot valuation should price against. A
// missing snapshot does not abort the pipeline; the caller gets a default
// flat-curve snapshot and the degradation is logged.
func (s *Service) ForValuation(ctx context.Context, date time.Time) (*domain.MarketDataSnapshot, error) {
	snap, err := s.store.GetByDate(ctx, date)
	if err == nil {
		return snap, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	s.log.Warn().Str("date", domain.DateKey(date)).
		Msg("no market data snapshot for date, using default values")
	return DefaultSnapshot(date), nil
}

// DefaultSnapshot is the documented fallback used when no snapshot exists
// for a valuation date: no quotes, so valuation falls back to per-trade
// booked spreads and recovery rates with a flat risk-free rate.
func DefaultSnapshot(date time.Time) *domain.MarketDataSnapshot {
	return &domain.MarketDataSnapshot{
		SnapshotDate: date,
		SnapshotTime: time.Now().UTC(),
		Status:       domain.SnapshotComplete,
		CapturedBy:   "DEFAULT",
		IrCurve: []domain.IrCurvePoint{
			{Currency: "USD", CurveType: "FLAT", Tenor: "ALL", Rate: DefaultRiskFreeRate, DataSource: "DEFAULT", QuoteTime: time.Now().UTC()},
		},
	}
}
