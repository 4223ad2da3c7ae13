package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// SnapshotStatus is the capture state of a market data snapshot.
type SnapshotStatus string

const (
	SnapshotPending  SnapshotStatus = "PENDING"
	SnapshotPartial  SnapshotStatus = "PARTIAL"
	SnapshotComplete SnapshotStatus = "COMPLETE"
	SnapshotFailed   SnapshotStatus = "FAILED"
)

// CdsSpreadQuote is a single CDS spread observation within a snapshot.
type CdsSpreadQuote struct {
	ReferenceEntity string
	Tenor           string // "5Y", "3Y", ...
	Currency        string
	Seniority       string // SNR, SUB
	SpreadBps       decimal.Decimal
	DataSource      string
	QuoteTime       time.Time
}

// IrCurvePoint is a single interest rate curve observation.
type IrCurvePoint struct {
	Currency   string
	CurveType  string // OIS, SWAP
	Tenor      string
	Rate       decimal.Decimal // annualized, as a fraction
	DataSource string
	QuoteTime  time.Time
}

// FxRateQuote is a spot FX observation.
type FxRateQuote struct {
	BaseCurrency  string
	QuoteCurrency string
	Rate          decimal.Decimal
	DataSource    string
	QuoteTime     time.Time
}

// RecoveryRateQuote is a recovery rate assumption for a reference entity.
type RecoveryRateQuote struct {
	ReferenceEntity string
	Seniority       string
	Recovery        decimal.Decimal // fraction, e.g. 0.40
	DataSource      string
	QuoteTime       time.Time
}

// MarketDataSnapshot is the versioned, date-keyed container of market data
// used by valuation. At most one snapshot exists per date; it is immutable
// once COMPLETE.
type MarketDataSnapshot struct {
	SnapshotDate time.Time
	SnapshotTime time.Time
	Status       SnapshotStatus
	CapturedBy   string
	CompletedAt  *time.Time
	MissingData  string // populated when validation marks the snapshot PARTIAL

	CdsSpreads    []CdsSpreadQuote
	IrCurve       []IrCurvePoint
	FxRates       []FxRateQuote
	RecoveryRates []RecoveryRateQuote
}

// RiskFreeRate returns the snapshot's discounting rate for a currency, or
// the supplied fallback when the curve has no point for it. The simplified
// pricer uses a single flat rate rather than a bootstrapped term structure.
func (s *MarketDataSnapshot) RiskFreeRate(currency string, fallback decimal.Decimal) decimal.Decimal {
	for _, p := range s.IrCurve {
		if p.Currency == currency {
			return p.Rate
		}
	}
	return fallback
}

// RecoveryFor returns the snapshot recovery assumption for a reference
// entity, or ok=false when none is quoted.
func (s *MarketDataSnapshot) RecoveryFor(entity string) (decimal.Decimal, bool) {
	for _, r := range s.RecoveryRates {
		if r.ReferenceEntity == entity {
			return r.Recovery, true
		}
	}
	return decimal.Decimal{}, false
}
