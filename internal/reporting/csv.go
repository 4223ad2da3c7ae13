package reporting

import (
	"fmt"
	"strings"

	"cds-eod-engine/internal/domain"
)

// RenderPnlCSV renders a date's P&L rows as a CSV string for downstream
// spreadsheet consumers.
func RenderPnlCSV(rows []*domain.DailyPnlResult) string {
	var sb strings.Builder

	sb.WriteString("pnl_date,trade_id,reference_entity,currency,direction,notional,")
	sb.WriteString("current_npv,current_accrued,total_pnl,market_pnl,accrued_pnl,new_trade\n")

	for _, r := range rows {
		marketPnl := ""
		if r.MarketPnl != nil {
			marketPnl = r.MarketPnl.StringFixed(2)
		}
		accruedPnl := ""
		if r.AccruedPnl != nil {
			accruedPnl = r.AccruedPnl.StringFixed(2)
		}
		sb.WriteString(fmt.Sprintf("%s,%s,%s,%s,%s,%s,%s,%s,%s,%s,%s,%t\n",
			domain.DateKey(r.PnlDate),
			r.TradeID,
			r.ReferenceEntity,
			r.Currency,
			r.Direction,
			r.Notional.StringFixed(2),
			r.CurrentNpv.StringFixed(2),
			r.CurrentAccrued.StringFixed(2),
			r.TotalPnl.StringFixed(2),
			marketPnl,
			accruedPnl,
			r.NewTrade,
		))
	}

	return sb.String()
}

// RenderValuationCSV renders a date's valuations as a CSV string.
func RenderValuationCSV(rows []*domain.TradeValuation) string {
	var sb strings.Builder

	sb.WriteString("valuation_date,trade_id,npv,premium_leg_pv,protection_leg_pv,currency,status,error\n")

	for _, v := range rows {
		sb.WriteString(fmt.Sprintf("%s,%s,%s,%s,%s,%s,%s,%s\n",
			domain.DateKey(v.ValuationDate),
			v.TradeID,
			v.Npv.StringFixed(2),
			v.PremiumLegPv.StringFixed(2),
			v.ProtectionLegPv.StringFixed(2),
			v.Currency,
			v.Status,
			csvEscape(v.ErrorMessage),
		))
	}

	return sb.String()
}

// csvEscape strips separators out of free-text fields. Values here are short
// error strings, not arbitrary user input.
func csvEscape(s string) string {
	s = strings.ReplaceAll(s, ",", ";")
	return strings.ReplaceAll(s, "\n", " ")
}
