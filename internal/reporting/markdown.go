package reporting

import (
	"fmt"
	"strings"
	"time"

	"cds-eod-engine/internal/domain"
)

// RenderMarkdown renders the report as a Markdown string.
func RenderMarkdown(r *Report) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("# EOD Valuation Report %s\n\n", domain.DateKey(r.ValuationDate)))
	sb.WriteString(fmt.Sprintf("Generated: %s\n\n", r.GeneratedAt.Format(time.RFC3339)))

	renderJob(&sb, r.Job)
	renderValuation(&sb, r.Valuation)
	renderPnl(&sb, r.Pnl)
	renderRisk(&sb, r.Risk)
	renderConcentration(&sb, r.Concentration)
	renderBreaches(&sb, r.OpenBreaches)
	renderReconciliation(&sb, r.Reconciliation)

	return sb.String()
}

func renderJob(sb *strings.Builder, j *JobSection) {
	sb.WriteString("## Pipeline Run\n\n")
	if j == nil {
		sb.WriteString("No job found for this date.\n\n")
		return
	}

	sb.WriteString(fmt.Sprintf("Job `%s` status **%s**", j.JobID, j.Status))
	if j.DryRun {
		sb.WriteString(" (dry run)")
	}
	sb.WriteString(fmt.Sprintf(", triggered by %s\n\n", j.TriggeredBy))

	if j.ErrorMessage != "" {
		sb.WriteString(fmt.Sprintf("Error: %s\n\n", j.ErrorMessage))
	}

	sb.WriteString("| # | Step | Status | Processed | Failed | Retries |\n")
	sb.WriteString("|---|------|--------|-----------|--------|--------|\n")
	for _, s := range j.Steps {
		sb.WriteString(fmt.Sprintf("| %d | %s | %s | %d | %d | %d |\n",
			s.StepNumber, s.StepName, s.Status, s.RecordsProcessed, s.RecordsFailed, s.RetryCount))
	}
	sb.WriteString("\n")
}

func renderValuation(sb *strings.Builder, v ValuationSection) {
	sb.WriteString("## Valuation\n\n")
	sb.WriteString("| Metric | Value |\n")
	sb.WriteString("|--------|-------|\n")
	sb.WriteString(fmt.Sprintf("| Trades Valued | %d |\n", v.TradeCount))
	sb.WriteString(fmt.Sprintf("| Successful | %d |\n", v.SuccessCount))
	sb.WriteString(fmt.Sprintf("| Failed | %d |\n", v.FailedCount))
	sb.WriteString(fmt.Sprintf("| Total NPV | %s |\n", v.TotalNpv.StringFixed(2)))
	sb.WriteString("\n")
}

func renderPnl(sb *strings.Builder, p PnlSection) {
	sb.WriteString("## Daily P&L\n\n")
	sb.WriteString(fmt.Sprintf("Trades: %d | New trades: %d | Total P&L: %s\n\n",
		p.TradeCount, p.NewTradeCount, p.TotalPnl.StringFixed(2)))

	if len(p.TopMovers) > 0 {
		sb.WriteString("### Top Movers\n\n")
		sb.WriteString("| Trade | Entity | P&L | New |\n")
		sb.WriteString("|-------|--------|-----|-----|\n")
		for _, m := range p.TopMovers {
			newMark := ""
			if m.NewTrade {
				newMark = "yes"
			}
			sb.WriteString(fmt.Sprintf("| %s | %s | %s | %s |\n",
				m.TradeID, m.ReferenceEntity, m.TotalPnl.StringFixed(2), newMark))
		}
		sb.WriteString("\n")
	}
}

func renderRisk(sb *strings.Builder, r *RiskSection) {
	sb.WriteString("## Risk\n\n")
	if r == nil {
		sb.WriteString("No risk aggregates for this date.\n\n")
		return
	}

	f := r.Firm
	sb.WriteString("| Metric | Value |\n")
	sb.WriteString("|--------|-------|\n")
	sb.WriteString(fmt.Sprintf("| CS01 | %s |\n", f.TotalCs01.StringFixed(2)))
	sb.WriteString(fmt.Sprintf("| IR01 | %s |\n", f.TotalIr01.StringFixed(2)))
	sb.WriteString(fmt.Sprintf("| JTD | %s |\n", f.TotalJtd.StringFixed(2)))
	sb.WriteString(fmt.Sprintf("| Gross Notional | %s |\n", f.TotalGrossNotional.StringFixed(2)))
	sb.WriteString(fmt.Sprintf("| Net Notional | %s |\n", f.TotalNetNotional.StringFixed(2)))
	sb.WriteString(fmt.Sprintf("| VaR 95 | %s |\n", f.Var95.StringFixed(2)))
	sb.WriteString(fmt.Sprintf("| VaR 99 | %s |\n", f.Var99.StringFixed(2)))
	sb.WriteString(fmt.Sprintf("| Expected Shortfall | %s |\n", f.ExpectedShortfall.StringFixed(2)))
	sb.WriteString(fmt.Sprintf("| Portfolios / Trades | %d / %d |\n", f.PortfolioCount, f.TradeCount))
	sb.WriteString("\n")

	if len(r.Portfolios) > 0 {
		sb.WriteString("### Portfolios\n\n")
		sb.WriteString("| Portfolio | CS01 | JTD | Gross | Net | Trades |\n")
		sb.WriteString("|-----------|------|-----|-------|-----|--------|\n")
		for _, p := range r.Portfolios {
			sb.WriteString(fmt.Sprintf("| %s | %s | %s | %s | %s | %d |\n",
				p.PortfolioID, p.Cs01.StringFixed(2), p.Jtd.StringFixed(2),
				p.GrossNotional.StringFixed(2), p.NetNotional.StringFixed(2), p.TradeCount))
		}
		sb.WriteString("\n")
	}
}

func renderConcentration(sb *strings.Builder, rows []ConcentrationRow) {
	sb.WriteString("## Concentration (Top Names by |JTD|)\n\n")
	if len(rows) == 0 {
		sb.WriteString("No concentration data.\n\n")
		return
	}

	sb.WriteString("| Rank | Entity | JTD | CS01 | Gross Notional | % Firm JTD |\n")
	sb.WriteString("|------|--------|-----|------|----------------|------------|\n")
	for _, c := range rows {
		pct := "-"
		if c.PctOfFirmJtd != nil {
			pct = c.PctOfFirmJtd.StringFixed(2)
		}
		sb.WriteString(fmt.Sprintf("| %d | %s | %s | %s | %s | %s |\n",
			c.Ranking, c.ReferenceEntity, c.Jtd.StringFixed(2), c.Cs01.StringFixed(2),
			c.GrossNotional.StringFixed(2), pct))
	}
	sb.WriteString("\n")
}

func renderBreaches(sb *strings.Builder, rows []BreachRow) {
	sb.WriteString("## Open Limit Breaches\n\n")
	if len(rows) == 0 {
		sb.WriteString("No open breaches.\n\n")
		return
	}

	sb.WriteString("| Limit | Type | Severity | Limit Value | Current Value | Date |\n")
	sb.WriteString("|-------|------|----------|-------------|---------------|------|\n")
	for _, b := range rows {
		sb.WriteString(fmt.Sprintf("| %s | %s | %s | %s | %s | %s |\n",
			b.LimitID, b.LimitType, b.Severity,
			b.LimitValue.StringFixed(2), b.CurrentValue.StringFixed(2),
			domain.DateKey(b.BreachDate)))
	}
	sb.WriteString("\n")
}

func renderReconciliation(sb *strings.Builder, r *ReconciliationSection) {
	sb.WriteString("## Reconciliation\n\n")
	if r == nil {
		sb.WriteString("No reconciliation summary for this date.\n\n")
		return
	}

	sb.WriteString(fmt.Sprintf("Status: **%s**", r.Status))
	if r.ApprovedBy != "" {
		sb.WriteString(fmt.Sprintf(" (approved by %s)", r.ApprovedBy))
	}
	sb.WriteString("\n\n")
	sb.WriteString(fmt.Sprintf("Valuations: %d | Exceptions: %d (critical %d, error %d, warning %d)\n\n",
		r.TotalValuations, r.TotalExceptions, r.CriticalCount, r.ErrorCount, r.WarningCount))

	if len(r.OpenExceptions) > 0 {
		sb.WriteString("| Trade | Type | Severity | Status |\n")
		sb.WriteString("|-------|------|----------|--------|\n")
		for _, e := range r.OpenExceptions {
			sb.WriteString(fmt.Sprintf("| %s | %s | %s | %s |\n",
				e.TradeID, e.Type, e.Severity, e.Status))
		}
		sb.WriteString("\n")
	}
}
