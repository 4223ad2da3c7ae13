package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ProtectionDirection indicates which side of the protection the firm holds.
type ProtectionDirection string

const (
	DirectionBuy  ProtectionDirection = "BUY"
	DirectionSell ProtectionDirection = "SELL"
)

// TradeStatus is the lifecycle status of a CDS trade.
type TradeStatus string

const (
	TradeStatusActive     TradeStatus = "ACTIVE"
	TradeStatusTerminated TradeStatus = "TERMINATED"
	TradeStatusMatured    TradeStatus = "MATURED"
)

// Trade is a CDS trade as booked by the upstream trade capture system.
// The valuation pipeline treats trades as read-only input.
type Trade struct {
	TradeID         string              // unique trade identifier
	ReferenceEntity string              // underlying credit name
	Counterparty    string              // trade counterparty
	PortfolioID     string              // owning portfolio
	Notional        decimal.Decimal     // notional amount in trade currency
	SpreadBps       decimal.Decimal     // premium spread in basis points
	Currency        string              // ISO currency code
	Direction       ProtectionDirection // BUY or SELL protection
	TradeDate       time.Time           // booking date
	EffectiveDate   time.Time           // protection start
	MaturityDate    time.Time           // protection end
	DayCount        string              // day count convention (ACT/360, ...)
	PremiumFreq     string              // QUARTERLY | SEMI_ANNUAL | ANNUAL
	RecoveryRate    decimal.Decimal     // assumed recovery as a fraction (0.40)
	Status          TradeStatus
}

// EligibleOn reports whether the trade belongs to the valuation population
// for the given date: status ACTIVE, tradeDate <= date < maturityDate.
func (t *Trade) EligibleOn(date time.Time) bool {
	return t.Status == TradeStatusActive &&
		!t.TradeDate.After(date) &&
		t.MaturityDate.After(date)
}

// DateLayout is the canonical date-only representation used for store keys.
const DateLayout = "2006-01-02"

// DateKey formats a valuation date for use in composite store keys.
func DateKey(d time.Time) string {
	return d.Format(DateLayout)
}
