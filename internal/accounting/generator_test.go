package accounting

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

func decPtr(v int64) *decimal.Decimal {
	d := decimal.NewFromInt(v)
	return &d
}

func newTestGenerator() (*Generator, *memory.PnlStore, *memory.AccountingEventStore) {
	pnl := memory.NewPnlStore()
	events := memory.NewAccountingEventStore()
	return NewGenerator(events, pnl, zerolog.Nop()), pnl, events
}

func addPnl(t *testing.T, store *memory.PnlStore, row *domain.DailyPnlResult) {
	t.Helper()
	if err := store.Upsert(context.Background(), row); err != nil {
		t.Fatalf("Upsert P&L failed: %v", err)
	}
}

func TestGenerate_MtmAndAccrual(t *testing.T) {
	gen, pnl, _ := newTestGenerator()
	ctx := context.Background()
	d := date(2024, 6, 28)

	addPnl(t, pnl, &domain.DailyPnlResult{
		PnlDate:         d,
		TradeID:         "CDS-001",
		CurrentNpv:      decimal.NewFromInt(125_000),
		PreviousNpv:     decPtr(100_000),
		CurrentAccrued:  decimal.NewFromInt(5_000),
		PreviousAccrued: decPtr(4_000),
		Currency:        "USD",
		ReferenceEntity: "ACME_CORP",
	})

	events, err := gen.Generate(ctx, d, "JOB-1")
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("Expected 2 events, got %d", len(events))
	}

	var mtm, accrual *domain.AccountingEvent
	for _, ev := range events {
		switch ev.EventType {
		case domain.AccountingMtm:
			mtm = ev
		case domain.AccountingAccrual:
			accrual = ev
		}
	}
	if mtm == nil || !mtm.Amount.Equal(decimal.NewFromInt(25_000)) {
		t.Errorf("MTM event: got %+v, want amount 25000", mtm)
	}
	if accrual == nil || !accrual.Amount.Equal(decimal.NewFromInt(1_000)) {
		t.Errorf("Accrual event: got %+v, want amount 1000", accrual)
	}
}

func TestGenerate_NewTradeSkipsMtm(t *testing.T) {
	gen, pnl, _ := newTestGenerator()
	ctx := context.Background()
	d := date(2024, 6, 28)

	addPnl(t, pnl, &domain.DailyPnlResult{
		PnlDate:         d,
		TradeID:         "CDS-001",
		CurrentNpv:      decimal.NewFromInt(125_000),
		CurrentAccrued:  decimal.NewFromInt(5_000),
		NewTrade:        true,
		Currency:        "USD",
		ReferenceEntity: "ACME_CORP",
	})

	events, err := gen.Generate(ctx, d, "JOB-1")
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("Expected only the accrual event, got %d", len(events))
	}
	if events[0].EventType != domain.AccountingAccrual {
		t.Errorf("EventType: got %s, want %s", events[0].EventType, domain.AccountingAccrual)
	}
}

func TestGenerate_ImmaterialChangesSkipped(t *testing.T) {
	gen, pnl, _ := newTestGenerator()
	ctx := context.Background()
	d := date(2024, 6, 28)

	sub := decimal.NewFromFloat(100_000.50)
	addPnl(t, pnl, &domain.DailyPnlResult{
		PnlDate:         d,
		TradeID:         "CDS-001",
		CurrentNpv:      sub,
		PreviousNpv:     decPtr(100_000),
		CurrentAccrued:  decimal.NewFromFloat(0.25),
		Currency:        "USD",
		ReferenceEntity: "ACME_CORP",
	})

	events, err := gen.Generate(ctx, d, "JOB-1")
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("Sub-dollar moves must be skipped, got %d events", len(events))
	}
}

func TestGenerate_Idempotent(t *testing.T) {
	gen, pnl, store := newTestGenerator()
	ctx := context.Background()
	d := date(2024, 6, 28)

	addPnl(t, pnl, &domain.DailyPnlResult{
		PnlDate:         d,
		TradeID:         "CDS-001",
		CurrentNpv:      decimal.NewFromInt(125_000),
		PreviousNpv:     decPtr(100_000),
		CurrentAccrued:  decimal.NewFromInt(5_000),
		Currency:        "USD",
		ReferenceEntity: "ACME_CORP",
	})

	if _, err := gen.Generate(ctx, d, "JOB-1"); err != nil {
		t.Fatalf("First Generate failed: %v", err)
	}
	second, err := gen.Generate(ctx, d, "JOB-2")
	if err != nil {
		t.Fatalf("Second Generate failed: %v", err)
	}

	stored, err := store.ListByDate(ctx, d)
	if err != nil {
		t.Fatalf("ListByDate failed: %v", err)
	}
	if len(stored) != 2 {
		t.Errorf("Re-run must not duplicate events: got %d, want 2", len(stored))
	}
	for _, ev := range second {
		if ev.JobID != "JOB-1" {
			t.Errorf("Re-run must return the original events, got job %s", ev.JobID)
		}
	}
}
