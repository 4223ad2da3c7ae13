// Package riskagg rolls per-trade sensitivities up to portfolio and firm
// level, computes parametric VaR/ES, concentration rankings, and evaluates
// configured risk limits.
package riskagg

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"cds-eod-engine/internal/domain"
	"cds-eod-engine/internal/storage"
)

// ErrNoPortfolioData is returned when firm aggregation runs before any
// portfolio aggregate exists for the date.
var ErrNoPortfolioData = errors.New("no portfolio risk metrics for date")

// Parametric VaR model constants. Fixed placeholders for a richer model:
// the insertion point is calculateVar/expected shortfall, nothing upstream
// depends on the formula.
var (
	spreadVolatility = decimal.NewFromFloat(0.20)
	z95              = decimal.NewFromFloat(1.65)
	z99              = decimal.NewFromFloat(2.33)
	esMultiplier     = decimal.NewFromFloat(1.2)
	hundred          = decimal.NewFromInt(100)
)

const concentrationTopN = 10

// Engine aggregates risk and persists the results.
type Engine struct {
	valuations    storage.ValuationStore
	sensitivities storage.SensitivityStore
	trades        storage.TradeStore
	portfolios    storage.PortfolioStore
	portfolioRisk storage.PortfolioRiskStore
	firmRisk      storage.FirmRiskStore
	concentration storage.ConcentrationStore
	limits        storage.RiskLimitStore
	breaches      storage.BreachStore
	log           zerolog.Logger
}

// NewEngine creates a risk aggregation engine.
func NewEngine(
	valuations storage.ValuationStore,
	sensitivities storage.SensitivityStore,
	trades storage.TradeStore,
	portfolios storage.PortfolioStore,
	portfolioRisk storage.PortfolioRiskStore,
	firmRisk storage.FirmRiskStore,
	concentration storage.ConcentrationStore,
	limits storage.RiskLimitStore,
	breaches storage.BreachStore,
	log zerolog.Logger,
) *Engine {
	return &Engine{
		valuations:    valuations,
		sensitivities: sensitivities,
		trades:        trades,
		portfolios:    portfolios,
		portfolioRisk: portfolioRisk,
		firmRisk:      firmRisk,
		concentration: concentration,
		limits:        limits,
		breaches:      breaches,
		log:           log.With().Str("component", "riskagg").Logger(),
	}
}

// AggregatePortfolio sums sensitivities and notional exposure across the
// portfolio's valued trades for the date, split long/short by protection
// direction, and persists the aggregate.
func (e *Engine) AggregatePortfolio(ctx context.Context, date time.Time, portfolioID, jobID string) (*domain.PortfolioRiskMetrics, error) {
	if _, err := e.portfolios.GetByID(ctx, portfolioID); err != nil {
		return nil, fmt.Errorf("load portfolio %s: %w", portfolioID, err)
	}

	valuations, err := e.valuations.ListByDate(ctx, date)
	if err != nil {
		return nil, fmt.Errorf("list valuations: %w", err)
	}

	m := &domain.PortfolioRiskMetrics{
		CalculationDate: date,
		PortfolioID:     portfolioID,
		Currency:        "USD",
		JobID:           jobID,
	}

	for _, v := range valuations {
		trade, err := e.trades.GetByID(ctx, v.TradeID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				continue
			}
			return nil, fmt.Errorf("load trade %s: %w", v.TradeID, err)
		}
		if trade.PortfolioID != portfolioID {
			continue
		}

		sens, err := e.sensitivities.GetByDateAndTrade(ctx, date, v.TradeID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				continue
			}
			return nil, fmt.Errorf("load sensitivity %s: %w", v.TradeID, err)
		}

		m.Cs01 = m.Cs01.Add(sens.Cs01)
		m.Ir01 = m.Ir01.Add(sens.Ir01)
		m.Jtd = m.Jtd.Add(sens.Jtd)
		m.Rec01 = m.Rec01.Add(sens.Rec01)
		m.GrossNotional = m.GrossNotional.Add(trade.Notional.Abs())
		m.TradeCount++

		if trade.Direction == domain.DirectionBuy {
			m.Cs01Long = m.Cs01Long.Add(sens.Cs01)
			m.JtdLong = m.JtdLong.Add(sens.Jtd)
			m.LongNotional = m.LongNotional.Add(trade.Notional)
		} else {
			m.Cs01Short = m.Cs01Short.Add(sens.Cs01)
			m.JtdShort = m.JtdShort.Add(sens.Jtd)
			m.ShortNotional = m.ShortNotional.Add(trade.Notional)
		}
	}
	m.NetNotional = m.LongNotional.Sub(m.ShortNotional)

	if err := e.portfolioRisk.Upsert(ctx, m); err != nil {
		return nil, fmt.Errorf("persist portfolio risk: %w", err)
	}

	e.log.Info().Str("portfolio_id", portfolioID).Str("date", domain.DateKey(date)).
		Str("cs01", m.Cs01.String()).Str("jtd", m.Jtd.String()).Int("trades", m.TradeCount).
		Msg("aggregated portfolio risk")

	return m, nil
}

// AggregateFirm sums every portfolio aggregate for the date into the firm
// summary, adds parametric VaR/ES, and counts the valued population. It must
// never run before at least one portfolio aggregation succeeded.
func (e *Engine) AggregateFirm(ctx context.Context, date time.Time, jobID string) (*domain.FirmRiskSummary, error) {
	portfolios, err := e.portfolioRisk.ListByDate(ctx, date)
	if err != nil {
		return nil, fmt.Errorf("list portfolio risk: %w", err)
	}
	if len(portfolios) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoPortfolioData, domain.DateKey(date))
	}

	s := &domain.FirmRiskSummary{
		CalculationDate: date,
		Currency:        "USD",
		PortfolioCount:  len(portfolios),
		JobID:           jobID,
	}

	for _, p := range portfolios {
		s.TotalCs01 = s.TotalCs01.Add(p.Cs01)
		s.TotalCs01Long = s.TotalCs01Long.Add(p.Cs01Long)
		s.TotalCs01Short = s.TotalCs01Short.Add(p.Cs01Short)
		s.TotalIr01 = s.TotalIr01.Add(p.Ir01)
		s.TotalJtd = s.TotalJtd.Add(p.Jtd)
		s.TotalJtdLong = s.TotalJtdLong.Add(p.JtdLong)
		s.TotalJtdShort = s.TotalJtdShort.Add(p.JtdShort)
		s.TotalRec01 = s.TotalRec01.Add(p.Rec01)
		s.TotalGrossNotional = s.TotalGrossNotional.Add(p.GrossNotional)
		s.TotalNetNotional = s.TotalNetNotional.Add(p.NetNotional)
		s.TotalLongNotional = s.TotalLongNotional.Add(p.LongNotional)
		s.TotalShortNotional = s.TotalShortNotional.Add(p.ShortNotional)
	}

	s.Var95 = calculateVar(s.TotalCs01, z95)
	s.Var99 = calculateVar(s.TotalCs01, z99)
	s.ExpectedShortfall = s.Var99.Mul(esMultiplier).Round(2)

	if err := e.countPopulation(ctx, date, s); err != nil {
		return nil, err
	}

	if err := e.firmRisk.Upsert(ctx, s); err != nil {
		return nil, fmt.Errorf("persist firm risk: %w", err)
	}

	e.log.Info().Str("date", domain.DateKey(date)).
		Str("cs01", s.TotalCs01.String()).Str("var95", s.Var95.String()).Str("var99", s.Var99.String()).
		Msg("aggregated firm risk")

	return s, nil
}

// calculateVar is the parametric placeholder: VaR = |CS01| * vol * z.
func calculateVar(cs01, z decimal.Decimal) decimal.Decimal {
	return cs01.Abs().Mul(spreadVolatility).Mul(z).Round(2)
}

func (e *Engine) countPopulation(ctx context.Context, date time.Time, s *domain.FirmRiskSummary) error {
	valuations, err := e.valuations.ListByDate(ctx, date)
	if err != nil {
		return fmt.Errorf("list valuations: %w", err)
	}

	counterparties := make(map[string]struct{})
	entities := make(map[string]struct{})
	for _, v := range valuations {
		trade, err := e.trades.GetByID(ctx, v.TradeID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				continue
			}
			return fmt.Errorf("load trade %s: %w", v.TradeID, err)
		}
		s.TradeCount++
		counterparties[trade.Counterparty] = struct{}{}
		entities[trade.ReferenceEntity] = struct{}{}
	}
	s.CounterpartyCount = len(counterparties)
	s.ReferenceEntityCount = len(entities)
	return nil
}

// CalculateConcentration ranks reference entities by |JTD| descending,
// keeps the top 10 and records each one's share of firm JTD and CS01.
func (e *Engine) CalculateConcentration(ctx context.Context, date time.Time) error {
	firm, err := e.firmRisk.GetByDate(ctx, date)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			e.log.Warn().Str("date", domain.DateKey(date)).
				Msg("no firm risk summary, skipping concentration analysis")
			return nil
		}
		return fmt.Errorf("load firm risk: %w", err)
	}

	valuations, err := e.valuations.ListByDate(ctx, date)
	if err != nil {
		return fmt.Errorf("list valuations: %w", err)
	}

	type entityRisk struct {
		entity        string
		cs01          decimal.Decimal
		jtd           decimal.Decimal
		grossNotional decimal.Decimal
		tradeCount    int
	}

	byEntity := make(map[string]*entityRisk)
	for _, v := range valuations {
		trade, err := e.trades.GetByID(ctx, v.TradeID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				continue
			}
			return fmt.Errorf("load trade %s: %w", v.TradeID, err)
		}
		sens, err := e.sensitivities.GetByDateAndTrade(ctx, date, v.TradeID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				continue
			}
			return fmt.Errorf("load sensitivity %s: %w", v.TradeID, err)
		}

		er := byEntity[trade.ReferenceEntity]
		if er == nil {
			er = &entityRisk{entity: trade.ReferenceEntity}
			byEntity[trade.ReferenceEntity] = er
		}
		er.cs01 = er.cs01.Add(sens.Cs01)
		er.jtd = er.jtd.Add(sens.Jtd)
		er.grossNotional = er.grossNotional.Add(trade.Notional.Abs())
		er.tradeCount++
	}

	ranked := make([]*entityRisk, 0, len(byEntity))
	for _, er := range byEntity {
		ranked = append(ranked, er)
	}
	sort.Slice(ranked, func(i, j int) bool {
		a, b := ranked[i].jtd.Abs(), ranked[j].jtd.Abs()
		if !a.Equal(b) {
			return a.GreaterThan(b)
		}
		return ranked[i].entity < ranked[j].entity
	})
	if len(ranked) > concentrationTopN {
		ranked = ranked[:concentrationTopN]
	}

	rows := make([]*domain.RiskConcentration, 0, len(ranked))
	for i, er := range ranked {
		row := &domain.RiskConcentration{
			CalculationDate:   date,
			ConcentrationType: "TOP_10_NAMES",
			ReferenceEntity:   er.entity,
			Cs01:              er.cs01,
			Jtd:               er.jtd,
			GrossNotional:     er.grossNotional,
			Ranking:           i + 1,
			TradeCount:        er.tradeCount,
			Currency:          "USD",
		}
		if !firm.TotalJtd.IsZero() {
			pct := er.jtd.Abs().DivRound(firm.TotalJtd.Abs(), 4).Mul(hundred)
			row.PctOfFirmJtd = &pct
		}
		if !firm.TotalCs01.IsZero() {
			pct := er.cs01.Abs().DivRound(firm.TotalCs01.Abs(), 4).Mul(hundred)
			row.PctOfFirmCs01 = &pct
		}
		rows = append(rows, row)
	}

	if err := e.concentration.ReplaceForDate(ctx, date, rows); err != nil {
		return fmt.Errorf("persist concentration: %w", err)
	}

	e.log.Info().Int("entities", len(rows)).Str("date", domain.DateKey(date)).
		Msg("calculated risk concentration")
	return nil
}

// CheckLimits evaluates every active limit against the date's aggregates.
// |current| > limit creates a BREACH, else crossing the warning threshold
// creates a WARNING. At most one unresolved breach exists per limit; a
// re-check never duplicates it.
func (e *Engine) CheckLimits(ctx context.Context, date time.Time) error {
	limits, err := e.limits.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("list limits: %w", err)
	}
	if len(limits) == 0 {
		e.log.Info().Msg("no active risk limits to check")
		return nil
	}

	breachCount, warningCount := 0, 0
	for _, limit := range limits {
		current, ok, err := e.currentRiskValue(ctx, date, limit)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}

		switch {
		case current.Abs().GreaterThan(limit.LimitValue):
			created, err := e.recordBreach(ctx, date, limit, current, domain.BreachHard)
			if err != nil {
				return err
			}
			if created {
				breachCount++
			}
		case limit.WarningThreshold != nil && current.Abs().GreaterThan(*limit.WarningThreshold):
			created, err := e.recordBreach(ctx, date, limit, current, domain.BreachWarning)
			if err != nil {
				return err
			}
			if created {
				warningCount++
			}
		}
	}

	e.log.Info().Int("breaches", breachCount).Int("warnings", warningCount).
		Msg("risk limit check complete")
	return nil
}

func (e *Engine) currentRiskValue(ctx context.Context, date time.Time, limit *domain.RiskLimit) (decimal.Decimal, bool, error) {
	if limit.FirmWide {
		firm, err := e.firmRisk.GetByDate(ctx, date)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return decimal.Decimal{}, false, nil
			}
			return decimal.Decimal{}, false, fmt.Errorf("load firm risk: %w", err)
		}
		switch limit.LimitType {
		case domain.LimitCs01:
			return firm.TotalCs01, true, nil
		case domain.LimitIr01:
			return firm.TotalIr01, true, nil
		case domain.LimitJtd:
			return firm.TotalJtd, true, nil
		case domain.LimitNotional:
			return firm.TotalGrossNotional, true, nil
		case domain.LimitVar95:
			return firm.Var95, true, nil
		case domain.LimitVar99:
			return firm.Var99, true, nil
		}
		return decimal.Decimal{}, false, nil
	}

	if limit.PortfolioID == "" {
		return decimal.Decimal{}, false, nil
	}
	pm, err := e.portfolioRisk.GetByDateAndPortfolio(ctx, date, limit.PortfolioID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return decimal.Decimal{}, false, nil
		}
		return decimal.Decimal{}, false, fmt.Errorf("load portfolio risk: %w", err)
	}
	switch limit.LimitType {
	case domain.LimitCs01:
		return pm.Cs01, true, nil
	case domain.LimitIr01:
		return pm.Ir01, true, nil
	case domain.LimitJtd:
		return pm.Jtd, true, nil
	case domain.LimitNotional:
		return pm.GrossNotional, true, nil
	}
	return decimal.Decimal{}, false, nil
}

// recordBreach inserts a breach unless the limit already has an open one.
func (e *Engine) recordBreach(ctx context.Context, date time.Time, limit *domain.RiskLimit,
	current decimal.Decimal, severity domain.BreachSeverity) (bool, error) {

	open, err := e.breaches.ListOpenByLimit(ctx, limit.LimitID)
	if err != nil {
		return false, fmt.Errorf("list open breaches: %w", err)
	}
	if len(open) > 0 {
		return false, nil
	}

	breach := &domain.RiskLimitBreach{
		BreachID:     uuid.NewString(),
		BreachDate:   date,
		LimitID:      limit.LimitID,
		LimitType:    limit.LimitType,
		LimitValue:   limit.LimitValue,
		CurrentValue: current,
		Severity:     severity,
	}
	if err := e.breaches.Insert(ctx, breach); err != nil {
		return false, fmt.Errorf("persist breach: %w", err)
	}

	e.log.Warn().Str("limit_id", limit.LimitID).Str("severity", string(severity)).
		Str("limit", limit.LimitValue.String()).Str("current", current.String()).
		Msg("risk limit breach")
	return true, nil
}

// AggregateAll runs portfolio aggregation for every portfolio, then the firm
// summary, concentration ranking and limit checks. Per-portfolio failures
// are logged and tolerated as long as at least one portfolio succeeds.
// Returns the number of portfolios aggregated.
func (e *Engine) AggregateAll(ctx context.Context, date time.Time, jobID string) (int, error) {
	portfolios, err := e.portfolios.ListAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("list portfolios: %w", err)
	}

	succeeded := 0
	for _, p := range portfolios {
		if err := ctx.Err(); err != nil {
			return succeeded, fmt.Errorf("risk aggregation interrupted: %w", err)
		}
		if _, err := e.AggregatePortfolio(ctx, date, p.PortfolioID, jobID); err != nil {
			e.log.Error().Err(err).Str("portfolio_id", p.PortfolioID).Msg("portfolio aggregation failed")
			continue
		}
		succeeded++
	}

	if succeeded == 0 {
		return 0, fmt.Errorf("%w: all %d portfolio aggregations failed", ErrNoPortfolioData, len(portfolios))
	}

	if _, err := e.AggregateFirm(ctx, date, jobID); err != nil {
		return succeeded, err
	}
	if err := e.CalculateConcentration(ctx, date); err != nil {
		return succeeded, err
	}
	return succeeded, e.CheckLimits(ctx, date)
}
