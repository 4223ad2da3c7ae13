package clickhouse

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cds-eod-engine/internal/domain"
)

func chDate(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func testValuation(tradeID string, d time.Time, npv float64) *domain.TradeValuation {
	return &domain.TradeValuation{
		ValuationDate:   d,
		TradeID:         tradeID,
		Npv:             decimal.NewFromFloat(npv),
		PremiumLegPv:    decimal.NewFromFloat(npv / 2),
		ProtectionLegPv: decimal.NewFromFloat(npv * 1.5),
		Currency:        "USD",
		Status:          domain.ValuationSuccess,
		JobID:           "EOD-20240628-abcd1234",
	}
}

func TestHistoryStore_NpvHistory(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewHistoryStore(conn)

	sens := map[string]*domain.TradeValuationSensitivity{
		"CDS-001": {
			TradeID: "CDS-001",
			Cs01:    decimal.NewFromInt(4_500),
			Ir01:    decimal.NewFromInt(120),
			Jtd:     decimal.NewFromInt(6_000_000),
			Rec01:   decimal.NewFromInt(-35_000),
		},
	}

	err := store.InsertValuations(ctx, []*domain.TradeValuation{
		testValuation("CDS-001", chDate(2024, 6, 26), 9_000),
		testValuation("CDS-001", chDate(2024, 6, 27), 9_500),
		testValuation("CDS-001", chDate(2024, 6, 28), 10_000),
		testValuation("CDS-002", chDate(2024, 6, 28), -2_000),
	}, sens)
	require.NoError(t, err)

	points, err := store.NpvHistory(ctx, "CDS-001", chDate(2024, 6, 26), chDate(2024, 6, 28))
	require.NoError(t, err)
	require.Len(t, points, 3)

	assert.True(t, points[0].ValuationDate.Equal(chDate(2024, 6, 26)))
	assert.InDelta(t, 9_000, points[0].Npv.InexactFloat64(), 0.01)
	assert.InDelta(t, 4_500, points[0].Cs01.InexactFloat64(), 0.01)
	assert.True(t, points[2].ValuationDate.Equal(chDate(2024, 6, 28)))
	assert.InDelta(t, 10_000, points[2].Npv.InexactFloat64(), 0.01)

	// Trade without sensitivities records zeros.
	other, err := store.NpvHistory(ctx, "CDS-002", chDate(2024, 6, 26), chDate(2024, 6, 28))
	require.NoError(t, err)
	require.Len(t, other, 1)
	assert.InDelta(t, 0, other[0].Cs01.InexactFloat64(), 0.0001)
}

func TestHistoryStore_PnlTotalsByDate(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewHistoryStore(conn)

	mk := func(tradeID string, d time.Time, pnl float64) *domain.DailyPnlResult {
		return &domain.DailyPnlResult{
			PnlDate:         d,
			TradeID:         tradeID,
			TotalPnl:        decimal.NewFromFloat(pnl),
			Notional:        decimal.NewFromInt(10_000_000),
			Currency:        "USD",
			ReferenceEntity: "ACME_CORP",
			Direction:       domain.DirectionBuy,
			JobID:           "EOD-20240628-abcd1234",
		}
	}

	err := store.InsertPnl(ctx, []*domain.DailyPnlResult{
		mk("CDS-001", chDate(2024, 6, 27), 1_000),
		mk("CDS-002", chDate(2024, 6, 27), -250),
		mk("CDS-001", chDate(2024, 6, 28), 500),
	})
	require.NoError(t, err)

	totals, err := store.PnlTotalsByDate(ctx, chDate(2024, 6, 27), chDate(2024, 6, 28))
	require.NoError(t, err)
	require.Len(t, totals, 2)

	assert.True(t, totals[0].PnlDate.Equal(chDate(2024, 6, 27)))
	assert.InDelta(t, 750, totals[0].TotalPnl.InexactFloat64(), 0.01)
	assert.Equal(t, 2, totals[0].TradeCount)

	assert.True(t, totals[1].PnlDate.Equal(chDate(2024, 6, 28)))
	assert.InDelta(t, 500, totals[1].TotalPnl.InexactFloat64(), 0.01)
	assert.Equal(t, 1, totals[1].TradeCount)
}

func TestHistoryStore_EmptyBatchesNoop(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewHistoryStore(conn)

	require.NoError(t, store.InsertValuations(ctx, nil, nil))
	require.NoError(t, store.InsertPnl(ctx, nil))
}
