// Package daycount provides convention-aware day count fractions and the
// coupon schedule arithmetic used by premium accrual. All functions are pure.
package daycount

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Supported conventions.
const (
	Act360    = "ACT/360"
	Act365    = "ACT/365"
	ActAct    = "ACT/ACT"
	Thirty360 = "30/360"
)

// FractionScale is the decimal scale used for day count fractions.
const FractionScale = 8

// Result carries the numerator, denominator and fraction of a day count
// calculation, kept separately for audit.
type Result struct {
	Numerator   int
	Denominator int
	Fraction    decimal.Decimal
}

// Fraction computes the day count fraction for [start, end) under the given
// convention. Unknown conventions fall back to ACT/360.
func Fraction(start, end time.Time, convention string) Result {
	switch strings.ToUpper(convention) {
	case Act360:
		return actual(start, end, 360)
	case Act365:
		return actual(start, end, 365)
	case ActAct:
		den := 365
		if isLeapYear(end.Year()) {
			den = 366
		}
		return actual(start, end, den)
	case Thirty360, "30/360 US":
		return thirty360US(start, end)
	default:
		return actual(start, end, 360)
	}
}

func actual(start, end time.Time, denominator int) Result {
	days := DaysBetween(start, end)
	frac := decimal.NewFromInt(int64(days)).
		DivRound(decimal.NewFromInt(int64(denominator)), FractionScale)
	return Result{Numerator: days, Denominator: denominator, Fraction: frac}
}

// thirty360US applies the US (NASD) 30/360 rule: a start day of 31 is capped
// to 30, and an end day of 31 is capped to 30 only when the start was capped.
func thirty360US(start, end time.Time) Result {
	d1 := start.Day()
	if d1 == 31 {
		d1 = 30
	}
	d2 := end.Day()
	if d1 == 30 && d2 == 31 {
		d2 = 30
	}

	days := 360*(end.Year()-start.Year()) +
		30*(int(end.Month())-int(start.Month())) +
		(d2 - d1)

	frac := decimal.NewFromInt(int64(days)).
		DivRound(decimal.NewFromInt(360), FractionScale)
	return Result{Numerator: days, Denominator: 360, Fraction: frac}
}

// DaysBetween returns the number of calendar days from start to end,
// ignoring time-of-day and timezone.
func DaysBetween(start, end time.Time) int {
	s := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, time.UTC)
	e := time.Date(end.Year(), end.Month(), end.Day(), 0, 0, 0, 0, time.UTC)
	return int(e.Sub(s).Hours() / 24)
}

func isLeapYear(y int) bool {
	return y%4 == 0 && (y%100 != 0 || y%400 == 0)
}

// MonthsPerPeriod maps a premium frequency to its period length in months.
// Unknown frequencies default to quarterly, matching market convention for
// single-name CDS.
func MonthsPerPeriod(frequency string) int {
	switch strings.ToUpper(frequency) {
	case "QUARTERLY", "3M":
		return 3
	case "SEMI_ANNUAL", "SEMI-ANNUAL", "6M":
		return 6
	case "ANNUAL", "12M", "1Y":
		return 12
	default:
		return 3
	}
}

// LastCouponDate returns the most recent coupon date on or before asOf,
// stepping forward from the effective date in premium-frequency increments.
func LastCouponDate(effectiveDate, asOf time.Time, frequency string) time.Time {
	months := MonthsPerPeriod(frequency)
	coupon := effectiveDate
	for {
		next := coupon.AddDate(0, months, 0)
		if next.After(asOf) {
			return coupon
		}
		coupon = next
	}
}

// YearsBetween returns the ACT/365 year fraction from start to end as a
// decimal at the given scale. Used for maturity horizons in pricing.
func YearsBetween(start, end time.Time, scale int32) (decimal.Decimal, error) {
	days := DaysBetween(start, end)
	if days < 0 {
		return decimal.Decimal{}, fmt.Errorf("end date %s before start date %s",
			end.Format("2006-01-02"), start.Format("2006-01-02"))
	}
	return decimal.NewFromInt(int64(days)).DivRound(decimal.NewFromInt(365), scale), nil
}
