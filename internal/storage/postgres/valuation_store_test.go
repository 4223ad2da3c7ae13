package postgres

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cds-eod-engine/internal/domain"
	"cds-eod-engine/internal/storage"
)

func createTestValuation(tradeID string, d, npv int) *domain.TradeValuation {
	return &domain.TradeValuation{
		ValuationDate:     date(2024, 6, d),
		TradeID:           tradeID,
		Npv:               decimal.NewFromInt(int64(npv)),
		PremiumLegPv:      decimal.NewFromInt(int64(npv) / 2),
		ProtectionLegPv:   decimal.NewFromInt(int64(npv) + int64(npv)/2),
		Currency:          "USD",
		CalculationMethod: "ISDA_STANDARD",
		Status:            domain.ValuationSuccess,
		CalculationTimeMs: 12,
		JobID:             "EOD-20240628-abcd1234",
	}
}

func TestValuationStore_UpsertOverwrites(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewValuationStore(pool)

	v := createTestValuation("CDS-001", 28, 10_000)
	require.NoError(t, store.Upsert(ctx, v))

	v.Npv = decimal.NewFromInt(12_500)
	require.NoError(t, store.Upsert(ctx, v))

	retrieved, err := store.GetByDateAndTrade(ctx, date(2024, 6, 28), "CDS-001")
	require.NoError(t, err)
	assert.True(t, retrieved.Npv.Equal(decimal.NewFromInt(12_500)))
	assert.Equal(t, domain.ValuationSuccess, retrieved.Status)

	list, err := store.ListByDate(ctx, date(2024, 6, 28))
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestValuationStore_GetLatestBefore(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewValuationStore(pool)

	require.NoError(t, store.Upsert(ctx, createTestValuation("CDS-001", 26, 9_000)))
	require.NoError(t, store.Upsert(ctx, createTestValuation("CDS-001", 27, 9_500)))
	require.NoError(t, store.Upsert(ctx, createTestValuation("CDS-001", 28, 10_000)))

	prev, err := store.GetLatestBefore(ctx, "CDS-001", date(2024, 6, 28))
	require.NoError(t, err)
	assert.True(t, prev.ValuationDate.Equal(date(2024, 6, 27)))
	assert.True(t, prev.Npv.Equal(decimal.NewFromInt(9_500)))

	_, err = store.GetLatestBefore(ctx, "CDS-001", date(2024, 6, 26))
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestValuationStore_CountByDateAndStatus(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewValuationStore(pool)

	require.NoError(t, store.Upsert(ctx, createTestValuation("CDS-001", 28, 10_000)))

	failed := createTestValuation("CDS-002", 28, 0)
	failed.Status = domain.ValuationFailed
	failed.ErrorMessage = "missing spread quote"
	require.NoError(t, store.Upsert(ctx, failed))

	success, err := store.CountByDateAndStatus(ctx, date(2024, 6, 28), domain.ValuationSuccess)
	require.NoError(t, err)
	assert.Equal(t, 1, success)

	failures, err := store.CountByDateAndStatus(ctx, date(2024, 6, 28), domain.ValuationFailed)
	require.NoError(t, err)
	assert.Equal(t, 1, failures)
}

func TestSensitivityStore_UpsertAndList(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewSensitivityStore(pool)

	sens := &domain.TradeValuationSensitivity{
		ValuationDate: date(2024, 6, 28),
		TradeID:       "CDS-001",
		Cs01:          decimal.NewFromInt(4_500),
		Ir01:          decimal.NewFromInt(120),
		Jtd:           decimal.NewFromInt(6_000_000),
		Rec01:         decimal.NewFromInt(-35_000),
		DurationYears: decimal.NewFromFloat(4.55),
		JobID:         "EOD-20240628-abcd1234",
	}
	require.NoError(t, store.Upsert(ctx, sens))

	sens.Cs01 = decimal.NewFromInt(4_600)
	require.NoError(t, store.Upsert(ctx, sens))

	retrieved, err := store.GetByDateAndTrade(ctx, date(2024, 6, 28), "CDS-001")
	require.NoError(t, err)
	assert.True(t, retrieved.Cs01.Equal(decimal.NewFromInt(4_600)))
	assert.True(t, retrieved.Jtd.Equal(decimal.NewFromInt(6_000_000)))

	list, err := store.ListByDate(ctx, date(2024, 6, 28))
	require.NoError(t, err)
	assert.Len(t, list, 1)

	_, err = store.GetByDateAndTrade(ctx, date(2024, 6, 28), "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestPnlStore_NullableAttribution(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewPnlStore(pool)

	newTrade := &domain.DailyPnlResult{
		PnlDate:           date(2024, 6, 28),
		TradeID:           "CDS-NEW",
		CurrentNpv:        decimal.NewFromInt(5_000),
		CurrentAccrued:    decimal.NewFromInt(250),
		CurrentTotalValue: decimal.NewFromInt(5_250),
		TotalPnl:          decimal.NewFromInt(5_250),
		NewTrade:          true,
		Notional:          decimal.NewFromInt(10_000_000),
		Currency:          "USD",
		ReferenceEntity:   "ACME_CORP",
		Direction:         domain.DirectionBuy,
		JobID:             "EOD-20240628-abcd1234",
	}
	require.NoError(t, store.Upsert(ctx, newTrade))

	retrieved, err := store.GetByDateAndTrade(ctx, date(2024, 6, 28), "CDS-NEW")
	require.NoError(t, err)
	assert.True(t, retrieved.NewTrade)
	assert.Nil(t, retrieved.PreviousNpv)
	assert.Nil(t, retrieved.MarketPnl)
	assert.Nil(t, retrieved.AccruedPnl)

	seasoned := *newTrade
	seasoned.TradeID = "CDS-OLD"
	seasoned.NewTrade = false
	seasoned.PreviousNpv = ptr(decimal.NewFromInt(4_000))
	seasoned.PreviousAccrued = ptr(decimal.NewFromInt(200))
	seasoned.PreviousTotal = ptr(decimal.NewFromInt(4_200))
	seasoned.MarketPnl = ptr(decimal.NewFromInt(1_000))
	seasoned.AccruedPnl = ptr(decimal.NewFromInt(50))
	seasoned.PnlPercentage = ptr(decimal.NewFromFloat(25.0))
	require.NoError(t, store.Upsert(ctx, &seasoned))

	retrieved, err = store.GetByDateAndTrade(ctx, date(2024, 6, 28), "CDS-OLD")
	require.NoError(t, err)
	require.NotNil(t, retrieved.MarketPnl)
	assert.True(t, retrieved.MarketPnl.Equal(decimal.NewFromInt(1_000)))
	require.NotNil(t, retrieved.PnlPercentage)
	assert.True(t, retrieved.PnlPercentage.Equal(decimal.NewFromFloat(25.0)))

	list, err := store.ListByDate(ctx, date(2024, 6, 28))
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "CDS-NEW", list[0].TradeID)
	assert.Equal(t, "CDS-OLD", list[1].TradeID)
}
