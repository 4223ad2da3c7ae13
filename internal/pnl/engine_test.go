package pnl

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

type fixture struct {
	engine     *Engine
	trades     *memory.TradeStore
	valuations *memory.ValuationStore
	accrued    *memory.AccruedStore
	pnl        *memory.PnlStore
}

func newFixture() *fixture {
	f := &fixture{
		trades:     memory.NewTradeStore(),
		valuations: memory.NewValuationStore(),
		accrued:    memory.NewAccruedStore(),
		pnl:        memory.NewPnlStore(),
	}
	f.engine = NewEngine(f.valuations, f.accrued, f.pnl, f.trades, zerolog.Nop())
	return f
}

func (f *fixture) addTrade(t *testing.T, id string) {
	t.Helper()
	err := f.trades.Insert(context.Background(), &domain.Trade{
		TradeID:         id,
		ReferenceEntity: "ACME_CORP",
		PortfolioID:     "PF-CREDIT-01",
		Notional:        decimal.NewFromInt(10_000_000),
		SpreadBps:       decimal.NewFromInt(100),
		Currency:        "USD",
		Direction:       domain.DirectionBuy,
		TradeDate:       date(2024, 1, 15),
		EffectiveDate:   date(2024, 1, 15),
		MaturityDate:    date(2029, 1, 15),
		DayCount:        "ACT/360",
		PremiumFreq:     "QUARTERLY",
		RecoveryRate:    decimal.NewFromFloat(0.40),
		Status:          domain.TradeStatusActive,
	})
	if err != nil {
		t.Fatalf("Insert trade failed: %v", err)
	}
}

func (f *fixture) addValuation(t *testing.T, id string, d time.Time, npv int64) {
	t.Helper()
	err := f.valuations.Upsert(context.Background(), &domain.TradeValuation{
		ValuationDate: d,
		TradeID:       id,
		Npv:           decimal.NewFromInt(npv),
		Currency:      "USD",
		Status:        domain.ValuationSuccess,
	})
	if err != nil {
		t.Fatalf("Upsert valuation failed: %v", err)
	}
}

func (f *fixture) addAccrued(t *testing.T, id string, d time.Time, amount int64) {
	t.Helper()
	err := f.accrued.Upsert(context.Background(), &domain.TradeAccruedInterest{
		CalculationDate: d,
		TradeID:         id,
		AccruedInterest: decimal.NewFromInt(amount),
		Status:          domain.AccrualSuccess,
	})
	if err != nil {
		t.Fatalf("Upsert accrued failed: %v", err)
	}
}

func TestCalculateDailyPnl_NewTrade(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	today := date(2024, 6, 28)

	f.addTrade(t, "CDS-001")
	f.addValuation(t, "CDS-001", today, 125000)
	f.addAccrued(t, "CDS-001", today, 5000)

	results, err := f.engine.CalculateDailyPnl(ctx, today, "JOB-1")
	if err != nil {
		t.Fatalf("CalculateDailyPnl failed: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("Expected 1 result, got %d", len(results))
	}

	r := results[0]
	if !r.NewTrade {
		t.Errorf("Expected newTrade=true without prior valuation")
	}
	if !r.TotalPnl.Equal(decimal.NewFromInt(130000)) {
		t.Errorf("New-trade P&L should be current total 130000, got %s", r.TotalPnl)
	}
	if r.PnlPercentage != nil {
		t.Errorf("Percentage must be undefined for new trades")
	}
	if r.MarketPnl != nil || r.AccruedPnl != nil {
		t.Errorf("Attribution must be absent for new trades")
	}
}

func TestCalculateDailyPnl_ExistingTrade(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	today := date(2024, 6, 28)
	yesterday := date(2024, 6, 27)

	f.addTrade(t, "CDS-001")
	f.addValuation(t, "CDS-001", yesterday, 100000)
	f.addAccrued(t, "CDS-001", yesterday, 4000)
	f.addValuation(t, "CDS-001", today, 125000)
	f.addAccrued(t, "CDS-001", today, 5000)

	results, err := f.engine.CalculateDailyPnl(ctx, today, "JOB-1")
	if err != nil {
		t.Fatalf("CalculateDailyPnl failed: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("Expected 1 result, got %d", len(results))
	}

	r := results[0]
	if r.NewTrade {
		t.Errorf("Expected existing trade")
	}
	// (125000+5000) - (100000+4000) = 26000
	if !r.TotalPnl.Equal(decimal.NewFromInt(26000)) {
		t.Errorf("TotalPnl: got %s, want 26000", r.TotalPnl)
	}
	if r.MarketPnl == nil || !r.MarketPnl.Equal(decimal.NewFromInt(25000)) {
		t.Errorf("MarketPnl: got %v, want 25000", r.MarketPnl)
	}
	if r.AccruedPnl == nil || !r.AccruedPnl.Equal(decimal.NewFromInt(1000)) {
		t.Errorf("AccruedPnl: got %v, want 1000", r.AccruedPnl)
	}
	// 26000 / 104000 * 100 = 25%
	if r.PnlPercentage == nil || !r.PnlPercentage.Equal(decimal.NewFromInt(25)) {
		t.Errorf("PnlPercentage: got %v, want 25", r.PnlPercentage)
	}
}

func TestCalculateDailyPnl_MissingAccruedDefaultsZero(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	today := date(2024, 6, 28)

	f.addTrade(t, "CDS-001")
	f.addValuation(t, "CDS-001", today, 125000)

	results, err := f.engine.CalculateDailyPnl(ctx, today, "JOB-1")
	if err != nil {
		t.Fatalf("CalculateDailyPnl failed: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("Expected 1 result, got %d", len(results))
	}
	if !results[0].CurrentAccrued.IsZero() {
		t.Errorf("Missing accrued must default to zero, got %s", results[0].CurrentAccrued)
	}
	if !results[0].TotalPnl.Equal(decimal.NewFromInt(125000)) {
		t.Errorf("TotalPnl: got %s, want 125000", results[0].TotalPnl)
	}
}

func TestCalculateDailyPnl_ZeroPreviousTotalNoPercentage(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	today := date(2024, 6, 28)
	yesterday := date(2024, 6, 27)

	f.addTrade(t, "CDS-001")
	f.addValuation(t, "CDS-001", yesterday, 0)
	f.addValuation(t, "CDS-001", today, 50000)

	results, err := f.engine.CalculateDailyPnl(ctx, today, "JOB-1")
	if err != nil {
		t.Fatalf("CalculateDailyPnl failed: %v", err)
	}

	r := results[0]
	if r.NewTrade {
		t.Errorf("Trade with prior valuation is not new")
	}
	if r.PnlPercentage != nil {
		t.Errorf("Percentage must be undefined when previous total is zero")
	}
	if !r.TotalPnl.Equal(decimal.NewFromInt(50000)) {
		t.Errorf("TotalPnl: got %s, want 50000", r.TotalPnl)
	}
}

func TestCalculateDailyPnl_UnknownTradeSkipped(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	today := date(2024, 6, 28)

	// Valuation exists but the trade is not in the trade store.
	f.addValuation(t, "CDS-GHOST", today, 125000)

	results, err := f.engine.CalculateDailyPnl(ctx, today, "JOB-1")
	if err != nil {
		t.Fatalf("CalculateDailyPnl failed: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("Expected ghost trade skipped, got %d results", len(results))
	}
}

func TestSummarize(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	today := date(2024, 6, 28)

	f.addTrade(t, "CDS-001")
	f.addTrade(t, "CDS-002")
	f.addValuation(t, "CDS-001", today, 100000)
	f.addValuation(t, "CDS-002", today, -40000)
	f.addValuation(t, "CDS-001", date(2024, 6, 27), 90000)

	if _, err := f.engine.CalculateDailyPnl(ctx, today, "JOB-1"); err != nil {
		t.Fatalf("CalculateDailyPnl failed: %v", err)
	}

	s, err := f.engine.Summarize(ctx, today)
	if err != nil {
		t.Fatalf("Summarize failed: %v", err)
	}
	if s.TradeCount != 2 {
		t.Errorf("TradeCount: got %d, want 2", s.TradeCount)
	}
	if s.NewTradeCount != 1 {
		t.Errorf("NewTradeCount: got %d, want 1", s.NewTradeCount)
	}
	// CDS-001: 100000-90000=10000; CDS-002 new: -40000. Total: -30000.
	if !s.TotalPnl.Equal(decimal.NewFromInt(-30000)) {
		t.Errorf("TotalPnl: got %s, want -30000", s.TotalPnl)
	}
}
