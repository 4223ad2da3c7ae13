// Package reporting builds the end-of-day report for a valuation date from
// the persisted pipeline outputs and renders it as markdown or CSV.
package reporting

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"cds-eod-engine/internal/domain"
	"cds-eod-engine/internal/storage"
)

const topMoverCount = 5

// Stores bundles the read-side dependencies of the generator.
type Stores struct {
	Jobs          storage.JobStore
	Valuations    storage.ValuationStore
	Pnl           storage.PnlStore
	PortfolioRisk storage.PortfolioRiskStore
	FirmRisk      storage.FirmRiskStore
	Concentration storage.ConcentrationStore
	Limits        storage.RiskLimitStore
	Breaches      storage.BreachStore
	Summaries     storage.ReconciliationSummaryStore
	Exceptions    storage.ExceptionStore
}

// Generator produces EOD reports from stored data.
type Generator struct {
	stores Stores
	now    func() time.Time // injectable clock for deterministic output
}

// NewGenerator creates a report generator.
func NewGenerator(stores Stores) *Generator {
	return &Generator{
		stores: stores,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// WithClock sets a custom clock function for deterministic output.
func (g *Generator) WithClock(now func() time.Time) *Generator {
	g.now = now
	return g
}

// Generate builds the full report for a date. Sections whose inputs do not
// exist yet (no job, no firm risk row, no reconciliation summary) are left
// nil rather than failing the whole report.
func (g *Generator) Generate(ctx context.Context, date time.Time) (*Report, error) {
	r := &Report{
		ValuationDate: date,
		GeneratedAt:   g.now(),
	}

	if err := g.fillJob(ctx, date, r); err != nil {
		return nil, err
	}
	if err := g.fillValuation(ctx, date, r); err != nil {
		return nil, err
	}
	if err := g.fillPnl(ctx, date, r); err != nil {
		return nil, err
	}
	if err := g.fillRisk(ctx, date, r); err != nil {
		return nil, err
	}
	if err := g.fillReconciliation(ctx, date, r); err != nil {
		return nil, err
	}

	return r, nil
}

func (g *Generator) fillJob(ctx context.Context, date time.Time, r *Report) error {
	job, err := g.stores.Jobs.GetByDate(ctx, date)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load job: %w", err)
	}

	section := &JobSection{
		JobID:                job.JobID,
		Status:               job.Status,
		DryRun:               job.DryRun,
		TriggeredBy:          job.TriggeredBy,
		StartedAt:            job.StartedAt,
		CompletedAt:          job.CompletedAt,
		TotalTradesProcessed: job.TotalTradesProcessed,
		SuccessfulValuations: job.SuccessfulValuations,
		FailedValuations:     job.FailedValuations,
		ErrorMessage:         job.ErrorMessage,
	}
	for _, s := range job.Steps {
		section.Steps = append(section.Steps, StepRow{
			StepNumber:       s.StepNumber,
			StepName:         s.StepName,
			Status:           s.Status,
			RecordsProcessed: s.RecordsProcessed,
			RecordsFailed:    s.RecordsFailed,
			RetryCount:       s.RetryCount,
		})
	}
	r.Job = section
	return nil
}

func (g *Generator) fillValuation(ctx context.Context, date time.Time, r *Report) error {
	valuations, err := g.stores.Valuations.ListByDate(ctx, date)
	if err != nil {
		return fmt.Errorf("list valuations: %w", err)
	}

	r.Valuation.TradeCount = len(valuations)
	for _, v := range valuations {
		if v.Status == domain.ValuationSuccess {
			r.Valuation.SuccessCount++
			r.Valuation.TotalNpv = r.Valuation.TotalNpv.Add(v.Npv)
		} else {
			r.Valuation.FailedCount++
		}
	}
	return nil
}

func (g *Generator) fillPnl(ctx context.Context, date time.Time, r *Report) error {
	rows, err := g.stores.Pnl.ListByDate(ctx, date)
	if err != nil {
		return fmt.Errorf("list P&L: %w", err)
	}

	r.Pnl.TradeCount = len(rows)
	for _, row := range rows {
		r.Pnl.TotalPnl = r.Pnl.TotalPnl.Add(row.TotalPnl)
		if row.NewTrade {
			r.Pnl.NewTradeCount++
		}
	}

	sorted := make([]*domain.DailyPnlResult, len(rows))
	copy(sorted, rows)
	sort.Slice(sorted, func(i, j int) bool {
		a, b := sorted[i].TotalPnl.Abs(), sorted[j].TotalPnl.Abs()
		if !a.Equal(b) {
			return a.GreaterThan(b)
		}
		return sorted[i].TradeID < sorted[j].TradeID
	})
	for i, row := range sorted {
		if i >= topMoverCount {
			break
		}
		r.Pnl.TopMovers = append(r.Pnl.TopMovers, PnlMoverRow{
			TradeID:         row.TradeID,
			ReferenceEntity: row.ReferenceEntity,
			TotalPnl:        row.TotalPnl,
			NewTrade:        row.NewTrade,
		})
	}
	return nil
}

func (g *Generator) fillRisk(ctx context.Context, date time.Time, r *Report) error {
	firm, err := g.stores.FirmRisk.GetByDate(ctx, date)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load firm risk: %w", err)
	}

	portfolios, err := g.stores.PortfolioRisk.ListByDate(ctx, date)
	if err != nil {
		return fmt.Errorf("list portfolio risk: %w", err)
	}
	sort.Slice(portfolios, func(i, j int) bool {
		return portfolios[i].PortfolioID < portfolios[j].PortfolioID
	})

	section := &RiskSection{Firm: *firm}
	for _, p := range portfolios {
		section.Portfolios = append(section.Portfolios, *p)
	}
	r.Risk = section

	concentration, err := g.stores.Concentration.ListByDate(ctx, date)
	if err != nil {
		return fmt.Errorf("list concentration: %w", err)
	}
	sort.Slice(concentration, func(i, j int) bool {
		return concentration[i].Ranking < concentration[j].Ranking
	})
	for _, row := range concentration {
		r.Concentration = append(r.Concentration, ConcentrationRow{
			Ranking:         row.Ranking,
			ReferenceEntity: row.ReferenceEntity,
			Jtd:             row.Jtd,
			Cs01:            row.Cs01,
			GrossNotional:   row.GrossNotional,
			PctOfFirmJtd:    row.PctOfFirmJtd,
		})
	}

	return g.fillBreaches(ctx, r)
}

func (g *Generator) fillBreaches(ctx context.Context, r *Report) error {
	limits, err := g.stores.Limits.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("list limits: %w", err)
	}

	for _, limit := range limits {
		open, err := g.stores.Breaches.ListOpenByLimit(ctx, limit.LimitID)
		if err != nil {
			return fmt.Errorf("list breaches for %s: %w", limit.LimitID, err)
		}
		for _, b := range open {
			r.OpenBreaches = append(r.OpenBreaches, BreachRow{
				LimitID:      b.LimitID,
				LimitType:    b.LimitType,
				Severity:     b.Severity,
				LimitValue:   b.LimitValue,
				CurrentValue: b.CurrentValue,
				BreachDate:   b.BreachDate,
			})
		}
	}
	sort.Slice(r.OpenBreaches, func(i, j int) bool {
		return r.OpenBreaches[i].LimitID < r.OpenBreaches[j].LimitID
	})
	return nil
}

func (g *Generator) fillReconciliation(ctx context.Context, date time.Time, r *Report) error {
	summary, err := g.stores.Summaries.GetByDate(ctx, date)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load reconciliation summary: %w", err)
	}

	section := &ReconciliationSection{
		Status:          summary.Status,
		TotalValuations: summary.TotalValuations,
		TotalExceptions: summary.TotalExceptions,
		CriticalCount:   summary.CriticalCount,
		ErrorCount:      summary.ErrorCount,
		WarningCount:    summary.WarningCount,
		ApprovedBy:      summary.ApprovedBy,
	}

	exceptions, err := g.stores.Exceptions.ListByDate(ctx, date)
	if err != nil {
		return fmt.Errorf("list exceptions: %w", err)
	}
	sort.Slice(exceptions, func(i, j int) bool {
		if exceptions[i].TradeID != exceptions[j].TradeID {
			return exceptions[i].TradeID < exceptions[j].TradeID
		}
		return exceptions[i].Type < exceptions[j].Type
	})
	for _, e := range exceptions {
		if e.Status == domain.ExceptionResolved {
			continue
		}
		section.OpenExceptions = append(section.OpenExceptions, ExceptionRow{
			TradeID:  e.TradeID,
			Type:     e.Type,
			Severity: e.Severity,
			Status:   e.Status,
		})
	}

	r.Reconciliation = section
	return nil
}
