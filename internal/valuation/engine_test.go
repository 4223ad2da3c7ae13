package valuation

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"cds-eod-engine/internal/domain"
	"cds-eod-engine/internal/storage/memory"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func testTrade(id string) *domain.Trade {
	return &domain.Trade{
		TradeID:         id,
		ReferenceEntity: "ACME_CORP",
		Counterparty:    "BANK_A",
		PortfolioID:     "PF-CREDIT-01",
		Notional:        decimal.NewFromInt(10_000_000),
		SpreadBps:       decimal.NewFromInt(100),
		Currency:        "USD",
		Direction:       domain.DirectionBuy,
		TradeDate:       date(2024, 1, 15),
		EffectiveDate:   date(2024, 1, 16),
		MaturityDate:    date(2029, 1, 15),
		DayCount:        "ACT/360",
		PremiumFreq:     "QUARTERLY",
		RecoveryRate:    decimal.NewFromFloat(0.40),
		Status:          domain.TradeStatusActive,
	}
}

func emptySnapshot(d time.Time) *domain.MarketDataSnapshot {
	return &domain.MarketDataSnapshot{
		SnapshotDate: d,
		Status:       domain.SnapshotComplete,
	}
}

func newTestEngine() (*Engine, *memory.ValuationStore, *memory.SensitivityStore) {
	vs := memory.NewValuationStore()
	ss := memory.NewSensitivityStore()
	return NewEngine(vs, ss, zerolog.Nop()), vs, ss
}

func TestCalculateNpv_MaturedTradeIsZeroSuccess(t *testing.T) {
	engine, _, _ := newTestEngine()
	ctx := context.Background()

	trade := testTrade("CDS-001")
	trade.MaturityDate = date(2024, 1, 1)
	valuationDate := date(2024, 6, 1)

	v, err := engine.CalculateNpv(ctx, trade, valuationDate, emptySnapshot(valuationDate), "JOB-1")
	if err != nil {
		t.Fatalf("CalculateNpv failed: %v", err)
	}
	if v.Status != domain.ValuationSuccess {
		t.Errorf("Expected SUCCESS for matured trade, got %s", v.Status)
	}
	if !v.Npv.IsZero() {
		t.Errorf("Expected zero NPV for matured trade, got %s", v.Npv)
	}
}

func TestCalculateNpv_BuyerPositiveForWideSpread(t *testing.T) {
	engine, _, _ := newTestEngine()
	ctx := context.Background()

	// Protection bought at 100bps priced with default flat inputs: the
	// protection leg dominates, so buyer NPV is positive.
	trade := testTrade("CDS-001")
	valuationDate := date(2024, 6, 28)

	v, err := engine.CalculateNpv(ctx, trade, valuationDate, emptySnapshot(valuationDate), "JOB-1")
	if err != nil {
		t.Fatalf("CalculateNpv failed: %v", err)
	}
	if v.Status != domain.ValuationSuccess {
		t.Fatalf("Expected SUCCESS, got %s (%s)", v.Status, v.ErrorMessage)
	}
	if v.ProtectionLegPv.LessThanOrEqual(decimal.Zero) {
		t.Errorf("Protection leg should be positive, got %s", v.ProtectionLegPv)
	}
	if v.PremiumLegPv.LessThanOrEqual(decimal.Zero) {
		t.Errorf("Premium leg should be positive, got %s", v.PremiumLegPv)
	}
	if !v.Npv.Equal(v.ProtectionLegPv.Sub(v.PremiumLegPv).Round(4)) {
		t.Errorf("NPV %s != protection %s - premium %s", v.Npv, v.ProtectionLegPv, v.PremiumLegPv)
	}
}

func TestCalculateNpv_SellerIsNegatedBuyer(t *testing.T) {
	engine, _, _ := newTestEngine()
	ctx := context.Background()
	valuationDate := date(2024, 6, 28)
	snap := emptySnapshot(valuationDate)

	buy := testTrade("CDS-BUY")
	sell := testTrade("CDS-SELL")
	sell.Direction = domain.DirectionSell

	vb, err := engine.CalculateNpv(ctx, buy, valuationDate, snap, "JOB-1")
	if err != nil {
		t.Fatalf("CalculateNpv(buy) failed: %v", err)
	}
	vs, err := engine.CalculateNpv(ctx, sell, valuationDate, snap, "JOB-1")
	if err != nil {
		t.Fatalf("CalculateNpv(sell) failed: %v", err)
	}

	if !vs.Npv.Equal(vb.Npv.Neg()) {
		t.Errorf("Seller NPV %s should equal negated buyer NPV %s", vs.Npv, vb.Npv.Neg())
	}
}

func TestCalculateNpv_SnapshotRateAndRecoveryUsed(t *testing.T) {
	engine, _, _ := newTestEngine()
	ctx := context.Background()
	valuationDate := date(2024, 6, 28)

	quoted := emptySnapshot(valuationDate)
	quoted.IrCurve = []domain.IrCurvePoint{
		{Currency: "USD", CurveType: "OIS", Tenor: "5Y", Rate: decimal.NewFromFloat(0.10)},
	}

	trade := testTrade("CDS-001")
	vDefault, err := engine.CalculateNpv(ctx, trade, valuationDate, emptySnapshot(valuationDate), "JOB-1")
	if err != nil {
		t.Fatalf("CalculateNpv failed: %v", err)
	}

	trade2 := testTrade("CDS-002")
	vQuoted, err := engine.CalculateNpv(ctx, trade2, valuationDate, quoted, "JOB-1")
	if err != nil {
		t.Fatalf("CalculateNpv failed: %v", err)
	}

	// Higher discount rate shrinks both legs, so the NPVs must differ.
	if vDefault.Npv.Equal(vQuoted.Npv) {
		t.Errorf("Snapshot rate was not applied: both NPVs %s", vDefault.Npv)
	}
}

func TestCalculateNpv_FailurePersistsFailedRow(t *testing.T) {
	engine, vs, _ := newTestEngine()
	ctx := context.Background()
	valuationDate := date(2024, 6, 28)

	trade := testTrade("CDS-BAD")
	trade.RecoveryRate = decimal.NewFromInt(1) // no loss given default, model rejects

	v, err := engine.CalculateNpv(ctx, trade, valuationDate, emptySnapshot(valuationDate), "JOB-1")
	if err != nil {
		t.Fatalf("CalculateNpv returned store error: %v", err)
	}
	if v.Status != domain.ValuationFailed {
		t.Fatalf("Expected FAILED, got %s", v.Status)
	}
	if v.ErrorMessage == "" {
		t.Errorf("FAILED row must carry the error message")
	}

	stored, err := vs.GetByDateAndTrade(ctx, valuationDate, "CDS-BAD")
	if err != nil {
		t.Fatalf("FAILED row not persisted: %v", err)
	}
	if stored.Status != domain.ValuationFailed {
		t.Errorf("Persisted status mismatch: %s", stored.Status)
	}
}

func TestCalculateNpv_SensitivityRowExists(t *testing.T) {
	engine, _, ss := newTestEngine()
	ctx := context.Background()
	valuationDate := date(2024, 6, 28)

	trade := testTrade("CDS-001")
	if _, err := engine.CalculateNpv(ctx, trade, valuationDate, emptySnapshot(valuationDate), "JOB-1"); err != nil {
		t.Fatalf("CalculateNpv failed: %v", err)
	}

	sens, err := ss.GetByDateAndTrade(ctx, valuationDate, "CDS-001")
	if err != nil {
		t.Fatalf("Sensitivity row missing for successful valuation: %v", err)
	}

	// CS01 = notional * 1bp * duration; IR01 = 10% of CS01
	if !sens.Ir01.Equal(sens.Cs01.Mul(decimal.NewFromFloat(0.10)).Round(4)) {
		t.Errorf("IR01 %s should be 10%% of CS01 %s", sens.Ir01, sens.Cs01)
	}
	// JTD = notional * (1 - recovery) = 10M * 0.6
	if !sens.Jtd.Equal(decimal.NewFromInt(6_000_000)) {
		t.Errorf("JTD mismatch: got %s, want 6000000", sens.Jtd)
	}
	// REC01 = 1% of notional
	if !sens.Rec01.Equal(decimal.NewFromInt(100_000)) {
		t.Errorf("REC01 mismatch: got %s, want 100000", sens.Rec01)
	}
}

func TestCalculateNpvBatch_FailureIsolation(t *testing.T) {
	engine, vs, _ := newTestEngine()
	ctx := context.Background()
	valuationDate := date(2024, 6, 28)
	snap := emptySnapshot(valuationDate)

	var trades []*domain.Trade
	for i := 0; i < 10; i++ {
		tr := testTrade("CDS-00" + string(rune('0'+i)))
		if i == 4 {
			tr.RecoveryRate = decimal.NewFromInt(1) // forced failure
		}
		trades = append(trades, tr)
	}

	result, err := engine.CalculateNpvBatch(ctx, trades, valuationDate, snap, "JOB-1", 4)
	if err != nil {
		t.Fatalf("CalculateNpvBatch failed: %v", err)
	}

	if result.Processed != 10 {
		t.Errorf("Expected 10 processed, got %d", result.Processed)
	}
	if result.Succeeded != 9 {
		t.Errorf("Expected 9 succeeded, got %d", result.Succeeded)
	}
	if result.Failed != 1 {
		t.Errorf("Expected 1 failed, got %d", result.Failed)
	}

	n, err := vs.CountByDateAndStatus(ctx, valuationDate, domain.ValuationFailed)
	if err != nil {
		t.Fatalf("CountByDateAndStatus failed: %v", err)
	}
	if n != 1 {
		t.Errorf("Expected exactly 1 persisted FAILED row, got %d", n)
	}
}

func TestCalculateNpvBatch_CancelledContextStopsDispatch(t *testing.T) {
	engine, _, _ := newTestEngine()
	valuationDate := date(2024, 6, 28)
	snap := emptySnapshot(valuationDate)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var trades []*domain.Trade
	for i := 0; i < 5; i++ {
		trades = append(trades, testTrade("CDS-00"+string(rune('0'+i))))
	}

	result, err := engine.CalculateNpvBatch(ctx, trades, valuationDate, snap, "JOB-1", 2)
	if err == nil {
		t.Fatalf("Expected interruption error for cancelled context")
	}
	if result.Processed == len(trades) {
		t.Errorf("Cancelled batch should not have dispatched all trades")
	}
}
