// Package accounting turns daily P&L rows into downstream accounting events.
// This is the optional last pipeline stage; it reads P&L output and never
// feeds back into valuation or risk.
package accounting

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"cds-eod-engine/internal/domain"
	"cds-eod-engine/internal/storage"
)

// materialityThreshold filters out sub-dollar postings.
var materialityThreshold = decimal.NewFromInt(1)

// Generator builds accounting events from P&L results.
type Generator struct {
	events storage.AccountingEventStore
	pnl    storage.PnlStore
	log    zerolog.Logger
}

// NewGenerator creates an accounting event generator.
func NewGenerator(events storage.AccountingEventStore, pnl storage.PnlStore, log zerolog.Logger) *Generator {
	return &Generator{
		events: events,
		pnl:    pnl,
		log:    log.With().Str("component", "accounting").Logger(),
	}
}

// Generate builds and persists the date's accounting events from its P&L
// rows. Re-running a date that already has events returns the existing ones
// unchanged. Rows producing no material posting are skipped silently.
func (g *Generator) Generate(ctx context.Context, date time.Time, jobID string) ([]*domain.AccountingEvent, error) {
	existing, err := g.events.ListByDate(ctx, date)
	if err != nil {
		return nil, fmt.Errorf("list accounting events: %w", err)
	}
	if len(existing) > 0 {
		g.log.Warn().Str("date", domain.DateKey(date)).Int("events", len(existing)).
			Msg("accounting events already generated")
		return existing, nil
	}

	rows, err := g.pnl.ListByDate(ctx, date)
	if err != nil {
		return nil, fmt.Errorf("list P&L for %s: %w", domain.DateKey(date), err)
	}

	var events []*domain.AccountingEvent
	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("accounting generation interrupted: %w", err)
		}
		events = append(events, g.eventsForRow(row, jobID)...)
	}

	if len(events) == 0 {
		g.log.Info().Str("date", domain.DateKey(date)).Msg("no material accounting events")
		return nil, nil
	}

	if err := g.events.InsertBulk(ctx, events); err != nil {
		return nil, fmt.Errorf("persist accounting events: %w", err)
	}

	g.log.Info().Int("events", len(events)).Str("date", domain.DateKey(date)).
		Msg("generated accounting events")
	return events, nil
}

// eventsForRow derives up to two postings from one P&L row: an unrealized
// MTM posting for the day's NPV move and a premium accrual posting for the
// accrued move. New trades get no MTM posting; their initial value is booked
// by trade capture, not by this pipeline.
func (g *Generator) eventsForRow(row *domain.DailyPnlResult, jobID string) []*domain.AccountingEvent {
	var out []*domain.AccountingEvent

	if row.PreviousNpv != nil {
		npvChange := row.CurrentNpv.Sub(*row.PreviousNpv)
		if npvChange.Abs().GreaterThanOrEqual(materialityThreshold) {
			out = append(out, &domain.AccountingEvent{
				EventDate:   row.PnlDate,
				TradeID:     row.TradeID,
				EventType:   domain.AccountingMtm,
				Amount:      npvChange,
				Currency:    row.Currency,
				Description: fmt.Sprintf("MTM revaluation for %s", row.ReferenceEntity),
				JobID:       jobID,
			})
		}
	}

	accruedChange := row.CurrentAccrued
	if row.PreviousAccrued != nil {
		accruedChange = row.CurrentAccrued.Sub(*row.PreviousAccrued)
	}
	if accruedChange.Abs().GreaterThanOrEqual(materialityThreshold) {
		out = append(out, &domain.AccountingEvent{
			EventDate:   row.PnlDate,
			TradeID:     row.TradeID,
			EventType:   domain.AccountingAccrual,
			Amount:      accruedChange,
			Currency:    row.Currency,
			Description: fmt.Sprintf("Premium accrual for %s", row.ReferenceEntity),
			JobID:       jobID,
		})
	}

	return out
}
