// Package reconciliation runs data-quality checks over a day's valuation
// results and maintains the exception queue and daily summary that gate
// sign-off. Exceptions are review items, never execution errors.
package reconciliation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"cds-eod-engine/internal/domain"
	"cds-eod-engine/internal/storage"
)

// System default thresholds, used when no active tolerance rule matches.
var (
	defaultNpvChangeAbs = decimal.NewFromInt(100_000)
	defaultNpvChangePct = decimal.NewFromInt(50)
	defaultPnlAbs       = decimal.NewFromInt(50_000)
	hundred             = decimal.NewFromInt(100)
)

const pctScale = 4

// Engine detects exceptions and maintains the reconciliation summary.
type Engine struct {
	valuations storage.ValuationStore
	pnl        storage.PnlStore
	trades     storage.TradeStore
	rules      storage.ToleranceRuleStore
	exceptions storage.ExceptionStore
	summaries  storage.ReconciliationSummaryStore
	log        zerolog.Logger
	now        func() time.Time
}

// NewEngine creates a reconciliation engine.
func NewEngine(
	valuations storage.ValuationStore,
	pnl storage.PnlStore,
	trades storage.TradeStore,
	rules storage.ToleranceRuleStore,
	exceptions storage.ExceptionStore,
	summaries storage.ReconciliationSummaryStore,
	log zerolog.Logger,
) *Engine {
	return &Engine{
		valuations: valuations,
		pnl:        pnl,
		trades:     trades,
		rules:      rules,
		exceptions: exceptions,
		summaries:  summaries,
		log:        log.With().Str("component", "reconciliation").Logger(),
		now:        time.Now,
	}
}

// Reconcile runs every check over the date's valuations, persists the
// exceptions found, and writes the daily summary. A date with no valuations
// produces no summary.
func (e *Engine) Reconcile(ctx context.Context, date time.Time, jobID string) (*domain.DailyReconciliationSummary, error) {
	valuations, err := e.valuations.ListByDate(ctx, date)
	if err != nil {
		return nil, fmt.Errorf("list valuations: %w", err)
	}
	if len(valuations) == 0 {
		e.log.Warn().Str("date", domain.DateKey(date)).Msg("no valuations to reconcile")
		return nil, nil
	}

	rules, err := e.rules.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tolerance rules: %w", err)
	}

	var found []*domain.ValuationException
	for _, v := range valuations {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("reconciliation interrupted: %w", err)
		}
		exs, err := e.checkValuation(ctx, v, date, rules)
		if err != nil {
			return nil, err
		}
		found = append(found, exs...)
	}

	missing, err := e.checkMissingValuations(ctx, date, valuations)
	if err != nil {
		return nil, err
	}
	found = append(found, missing...)

	for _, ex := range found {
		if err := e.exceptions.Upsert(ctx, ex); err != nil {
			return nil, fmt.Errorf("persist exception %s/%s: %w", ex.TradeID, ex.Type, err)
		}
	}
	if len(found) > 0 {
		e.log.Info().Int("exceptions", len(found)).Str("date", domain.DateKey(date)).
			Msg("reconciliation exceptions created")
	}

	summary := buildSummary(date, jobID, len(valuations), found)
	if err := e.summaries.Upsert(ctx, summary); err != nil {
		return nil, fmt.Errorf("persist reconciliation summary: %w", err)
	}

	e.log.Info().Str("date", domain.DateKey(date)).Int("valuations", len(valuations)).
		Int("exceptions", len(found)).Str("status", string(summary.Status)).
		Msg("reconciliation complete")
	return summary, nil
}

func (e *Engine) checkValuation(ctx context.Context, v *domain.TradeValuation,
	date time.Time, rules []*domain.ValuationToleranceRule) ([]*domain.ValuationException, error) {

	trade, err := e.trades.GetByID(ctx, v.TradeID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("load trade %s: %w", v.TradeID, err)
	}

	var out []*domain.ValuationException

	ex, err := e.checkNpvChange(ctx, v, trade, date, rules)
	if err != nil {
		return nil, err
	}
	if ex != nil {
		out = append(out, ex)
	}

	ex, err = e.checkPnlThreshold(ctx, v, trade, date, rules)
	if err != nil {
		return nil, err
	}
	if ex != nil {
		out = append(out, ex)
	}

	ex, err = e.checkNegativeAccrued(ctx, v, date)
	if err != nil {
		return nil, err
	}
	if ex != nil {
		out = append(out, ex)
	}

	return out, nil
}

// checkNpvChange compares the NPV against the most recent prior valuation.
// A change exceeding either the absolute or the percentage threshold of the
// first matching NPV_CHANGE rule (or system defaults) raises an exception.
func (e *Engine) checkNpvChange(ctx context.Context, current *domain.TradeValuation,
	trade *domain.Trade, date time.Time, rules []*domain.ValuationToleranceRule) (*domain.ValuationException, error) {

	previous, err := e.valuations.GetLatestBefore(ctx, current.TradeID, date)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("load prior valuation for %s: %w", current.TradeID, err)
	}

	change := current.Npv.Sub(previous.Npv)
	pctChange := decimal.Zero
	if !previous.Npv.IsZero() {
		pctChange = change.DivRound(previous.Npv.Abs(), pctScale).Mul(hundred)
	}

	rule := firstMatching(rules, domain.RuleNpvChange, trade)
	absThreshold := defaultNpvChangeAbs
	pctThreshold := defaultNpvChangePct
	severity := domain.SeverityWarning
	ruleID := ""
	if rule != nil {
		if rule.AbsThreshold != nil {
			absThreshold = *rule.AbsThreshold
		}
		if rule.PctThreshold != nil {
			pctThreshold = *rule.PctThreshold
		}
		severity = rule.Severity
		ruleID = rule.RuleID
	}

	if change.Abs().LessThanOrEqual(absThreshold) && pctChange.Abs().LessThanOrEqual(pctThreshold) {
		return nil, nil
	}

	return &domain.ValuationException{
		ExceptionDate:    date,
		TradeID:          current.TradeID,
		Type:             domain.ExceptionLargeNpvChange,
		CurrentValue:     &current.Npv,
		PreviousValue:    &previous.Npv,
		ValueChange:      &change,
		PercentageChange: &pctChange,
		ThresholdValue:   &absThreshold,
		RuleID:           ruleID,
		Severity:         severity,
		Status:           domain.ExceptionOpen,
	}, nil
}

// checkPnlThreshold flags total P&L beyond the first matching PNL_THRESHOLD
// rule's absolute threshold, or the system default.
func (e *Engine) checkPnlThreshold(ctx context.Context, v *domain.TradeValuation,
	trade *domain.Trade, date time.Time, rules []*domain.ValuationToleranceRule) (*domain.ValuationException, error) {

	pnl, err := e.pnl.GetByDateAndTrade(ctx, date, v.TradeID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("load P&L for %s: %w", v.TradeID, err)
	}

	rule := firstMatching(rules, domain.RulePnlThreshold, trade)
	threshold := defaultPnlAbs
	severity := domain.SeverityWarning
	ruleID := ""
	if rule != nil {
		if rule.AbsThreshold != nil {
			threshold = *rule.AbsThreshold
		}
		severity = rule.Severity
		ruleID = rule.RuleID
	}

	if pnl.TotalPnl.Abs().LessThanOrEqual(threshold) {
		return nil, nil
	}

	return &domain.ValuationException{
		ExceptionDate:    date,
		TradeID:          v.TradeID,
		Type:             domain.ExceptionLargePnl,
		CurrentValue:     &pnl.TotalPnl,
		PercentageChange: pnl.PnlPercentage,
		ThresholdValue:   &threshold,
		RuleID:           ruleID,
		Severity:         severity,
		Status:           domain.ExceptionOpen,
	}, nil
}

// checkNegativeAccrued flags trades whose accrued interest went negative,
// reading the accrued carried on the P&L row.
func (e *Engine) checkNegativeAccrued(ctx context.Context, v *domain.TradeValuation,
	date time.Time) (*domain.ValuationException, error) {

	pnl, err := e.pnl.GetByDateAndTrade(ctx, date, v.TradeID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("load P&L for %s: %w", v.TradeID, err)
	}
	if !pnl.CurrentAccrued.IsNegative() {
		return nil, nil
	}

	return &domain.ValuationException{
		ExceptionDate: date,
		TradeID:       v.TradeID,
		Type:          domain.ExceptionNegativeAccrued,
		CurrentValue:  &pnl.CurrentAccrued,
		Severity:      domain.SeverityError,
		Status:        domain.ExceptionOpen,
	}, nil
}

// checkMissingValuations diffs the eligible trade population against the
// valued set. Each gap is an ERROR exception.
func (e *Engine) checkMissingValuations(ctx context.Context, date time.Time,
	valuations []*domain.TradeValuation) ([]*domain.ValuationException, error) {

	eligible, err := e.trades.ListActive(ctx, date)
	if err != nil {
		return nil, fmt.Errorf("list active trades: %w", err)
	}

	valued := make(map[string]struct{}, len(valuations))
	for _, v := range valuations {
		valued[v.TradeID] = struct{}{}
	}

	var out []*domain.ValuationException
	for _, trade := range eligible {
		if _, ok := valued[trade.TradeID]; ok {
			continue
		}
		out = append(out, &domain.ValuationException{
			ExceptionDate: date,
			TradeID:       trade.TradeID,
			Type:          domain.ExceptionMissingValuation,
			Severity:      domain.SeverityError,
			Status:        domain.ExceptionOpen,
		})
	}

	if len(out) > 0 {
		e.log.Warn().Int("missing", len(out)).Str("date", domain.DateKey(date)).
			Msg("trades missing valuations")
	}
	return out, nil
}

func firstMatching(rules []*domain.ValuationToleranceRule, typ domain.ToleranceRuleType,
	trade *domain.Trade) *domain.ValuationToleranceRule {
	for _, r := range rules {
		if r.RuleType == typ && r.Matches(trade) {
			return r
		}
	}
	return nil
}

func buildSummary(date time.Time, jobID string, totalValuations int,
	exceptions []*domain.ValuationException) *domain.DailyReconciliationSummary {

	s := &domain.DailyReconciliationSummary{
		ReconciliationDate: date,
		JobID:              jobID,
		TotalValuations:    totalValuations,
		TotalExceptions:    len(exceptions),
	}

	for _, ex := range exceptions {
		switch ex.Severity {
		case domain.SeverityInfo:
			s.InfoCount++
		case domain.SeverityWarning:
			s.WarningCount++
		case domain.SeverityError:
			s.ErrorCount++
		case domain.SeverityCritical:
			s.CriticalCount++
		}
		switch ex.Type {
		case domain.ExceptionLargeNpvChange:
			s.LargeNpvChangeCount++
		case domain.ExceptionLargePnl:
			s.LargePnlCount++
		case domain.ExceptionMissingValuation:
			s.MissingValuationCount++
		case domain.ExceptionNegativeAccrued:
			s.NegativeAccruedCount++
		}
		if ex.Status == domain.ExceptionOpen {
			s.OpenExceptions++
		}
	}

	switch {
	case s.CriticalCount > 0:
		s.Status = domain.ReconIssues
	case s.ErrorCount > 0:
		s.Status = domain.ReconPendingReview
	default:
		s.Status = domain.ReconInProgress
	}
	return s
}

// ReviewException updates an exception's review state.
func (e *Engine) ReviewException(ctx context.Context, date time.Time, tradeID string,
	typ domain.ExceptionType, reviewedBy string, status domain.ExceptionStatus, notes string) error {

	if err := e.exceptions.Review(ctx, date, tradeID, typ, reviewedBy, status, notes, e.now()); err != nil {
		return fmt.Errorf("review exception %s/%s: %w", tradeID, typ, err)
	}
	e.log.Info().Str("trade_id", tradeID).Str("type", string(typ)).
		Str("reviewed_by", reviewedBy).Str("status", string(status)).
		Msg("exception reviewed")
	return nil
}

// Approve marks the date's reconciliation summary APPROVED. Approval is a
// human action, never taken by the pipeline itself.
func (e *Engine) Approve(ctx context.Context, date time.Time, approvedBy string) error {
	summary, err := e.summaries.GetByDate(ctx, date)
	if err != nil {
		return fmt.Errorf("load reconciliation summary for %s: %w", domain.DateKey(date), err)
	}

	at := e.now()
	summary.Status = domain.ReconApproved
	summary.ApprovedBy = approvedBy
	summary.ApprovedAt = &at
	if err := e.summaries.Update(ctx, summary); err != nil {
		return fmt.Errorf("persist approval: %w", err)
	}

	e.log.Info().Str("date", domain.DateKey(date)).Str("approved_by", approvedBy).
		Msg("reconciliation approved")
	return nil
}

// OpenExceptions lists all unresolved exceptions across dates, newest first.
func (e *Engine) OpenExceptions(ctx context.Context) ([]*domain.ValuationException, error) {
	return e.exceptions.ListOpen(ctx)
}

// ExceptionsForDate lists the date's exceptions.
func (e *Engine) ExceptionsForDate(ctx context.Context, date time.Time) ([]*domain.ValuationException, error) {
	return e.exceptions.ListByDate(ctx, date)
}

// SummaryForDate retrieves the date's reconciliation summary.
func (e *Engine) SummaryForDate(ctx context.Context, date time.Time) (*domain.DailyReconciliationSummary, error) {
	return e.summaries.GetByDate(ctx, date)
}
