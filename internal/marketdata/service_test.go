package marketdata

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cds-eod-engine/internal/domain"
	"cds-eod-engine/internal/storage/memory"
)

func testDate() time.Time {
	return time.Date(2024, 6, 28, 0, 0, 0, 0, time.UTC)
}

func fullSource(quoteTime time.Time) *StaticSource {
	return &StaticSource{
		Spreads: []domain.CdsSpreadQuote{
			{ReferenceEntity: "ACME_CORP", Tenor: "5Y", Currency: "USD", Seniority: "SNR",
				SpreadBps: decimal.NewFromInt(120), DataSource: "FEED", QuoteTime: quoteTime},
		},
		Curve: []domain.IrCurvePoint{
			{Currency: "USD", CurveType: "OIS", Tenor: "5Y",
				Rate: decimal.NewFromFloat(0.045), DataSource: "FEED", QuoteTime: quoteTime},
		},
		Fx: []domain.FxRateQuote{
			{BaseCurrency: "EUR", QuoteCurrency: "USD",
				Rate: decimal.NewFromFloat(1.07), DataSource: "FEED", QuoteTime: quoteTime},
		},
		Recoveries: []domain.RecoveryRateQuote{
			{ReferenceEntity: "ACME_CORP", Seniority: "SNR",
				Recovery: decimal.NewFromFloat(0.40), DataSource: "FEED", QuoteTime: quoteTime},
		},
	}
}

func TestService_CaptureAndValidate(t *testing.T) {
	ctx := context.Background()
	store := memory.NewSnapshotStore()
	svc := NewService(store, fullSource(testDate()), zerolog.Nop())

	snap, err := svc.Capture(ctx, testDate(), "eod-pipeline")
	require.NoError(t, err)
	assert.Equal(t, domain.SnapshotComplete, snap.Status)
	assert.Equal(t, "eod-pipeline", snap.CapturedBy)
	require.NotNil(t, snap.CompletedAt)
	require.Len(t, snap.CdsSpreads, 1)

	validated, err := svc.Validate(ctx, testDate(), []string{"ACME_CORP"}, []string{"USD"})
	require.NoError(t, err)
	assert.Equal(t, domain.SnapshotComplete, validated.Status)
	assert.Empty(t, validated.MissingData)
}

func TestService_ValidateFlagsMissingCoverage(t *testing.T) {
	ctx := context.Background()
	store := memory.NewSnapshotStore()
	svc := NewService(store, fullSource(testDate()), zerolog.Nop())

	_, err := svc.Capture(ctx, testDate(), "eod-pipeline")
	require.NoError(t, err)

	validated, err := svc.Validate(ctx, testDate(), []string{"ACME_CORP", "GLOBEX"}, []string{"USD", "EUR"})
	require.NoError(t, err)
	assert.Equal(t, domain.SnapshotPartial, validated.Status)
	assert.Contains(t, validated.MissingData, "missing CDS spread for GLOBEX")
	assert.Contains(t, validated.MissingData, "missing IR curve for EUR")

	// The downgrade is persisted, not just returned.
	stored, err := store.GetByDate(ctx, testDate())
	require.NoError(t, err)
	assert.Equal(t, domain.SnapshotPartial, stored.Status)
}

func TestService_CaptureRetryReusesRow(t *testing.T) {
	ctx := context.Background()
	store := memory.NewSnapshotStore()
	svc := NewService(store, fullSource(testDate()), zerolog.Nop())

	first, err := svc.Capture(ctx, testDate(), "eod-pipeline")
	require.NoError(t, err)

	second, err := svc.Capture(ctx, testDate(), "eod-pipeline")
	require.NoError(t, err)
	assert.True(t, second.SnapshotDate.Equal(first.SnapshotDate))

	stored, err := store.GetByDate(ctx, testDate())
	require.NoError(t, err)
	assert.Equal(t, domain.SnapshotComplete, stored.Status)
}

type failingSource struct {
	StaticSource
}

func (f *failingSource) IrCurve(context.Context, time.Time) ([]domain.IrCurvePoint, error) {
	return nil, errors.New("feed unavailable")
}

func TestService_CaptureSourceErrorMarksFailed(t *testing.T) {
	ctx := context.Background()
	store := memory.NewSnapshotStore()
	svc := NewService(store, &failingSource{}, zerolog.Nop())

	_, err := svc.Capture(ctx, testDate(), "eod-pipeline")
	require.Error(t, err)

	stored, err := store.GetByDate(ctx, testDate())
	require.NoError(t, err)
	assert.Equal(t, domain.SnapshotFailed, stored.Status)
	assert.Contains(t, stored.MissingData, "feed unavailable")
}

func TestService_ForValuationFallsBackToDefault(t *testing.T) {
	ctx := context.Background()
	store := memory.NewSnapshotStore()
	svc := NewService(store, &StaticSource{}, zerolog.Nop())

	snap, err := svc.ForValuation(ctx, testDate())
	require.NoError(t, err)
	assert.Equal(t, "DEFAULT", snap.CapturedBy)
	require.Len(t, snap.IrCurve, 1)
	assert.True(t, snap.IrCurve[0].Rate.Equal(DefaultRiskFreeRate))
	assert.Empty(t, snap.CdsSpreads)
}
