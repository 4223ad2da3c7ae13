package marketdata

import (
	"context"
	"time"

	"cds-eod-engine/internal/domain"
)

// StaticSource serves a fixed set of quotes. Used by tests and by cmd/eod
// when no live feed is configured.
type StaticSource struct {
	Spreads    []domain.CdsSpreadQuote
	Curve      []domain.IrCurvePoint
	Fx         []domain.FxRateQuote
	Recoveries []domain.RecoveryRateQuote
}

var _ Source = (*StaticSource)(nil)

func (s *StaticSource) CdsSpreads(_ context.Context, _ time.Time) ([]domain.CdsSpreadQuote, error) {
	return s.Spreads, nil
}

func (s *StaticSource) IrCurve(_ context.Context, _ time.Time) ([]domain.IrCurvePoint, error) {
	return s.Curve, nil
}

func (s *StaticSource) FxRates(_ context.Context, _ time.Time) ([]domain.FxRateQuote, error) {
	return s.Fx, nil
}

func (s *StaticSource) RecoveryRates(_ context.Context, _ time.Time) ([]domain.RecoveryRateQuote, error) {
	return s.Recoveries, nil
}
