// Package app wires configuration, storage and engines for the command
// binaries.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"cds-eod-engine/internal/accounting"
	"cds-eod-engine/internal/accrual"
	"cds-eod-engine/internal/config"
	"cds-eod-engine/internal/domain"
	"cds-eod-engine/internal/marketdata"
	"cds-eod-engine/internal/observability"
	"cds-eod-engine/internal/orchestrator"
	"cds-eod-engine/internal/pnl"
	"cds-eod-engine/internal/reconciliation"
	"cds-eod-engine/internal/riskagg"
	"cds-eod-engine/internal/storage"
	"cds-eod-engine/internal/storage/clickhouse"
	"cds-eod-engine/internal/storage/memory"
	"cds-eod-engine/internal/storage/migrations"
	"cds-eod-engine/internal/storage/postgres"
	"cds-eod-engine/internal/valuation"
)

// Stores bundles every store the pipeline touches. History is nil unless a
// ClickHouse DSN is configured.
type Stores struct {
	Trades           storage.TradeStore
	Portfolios       storage.PortfolioStore
	Snapshots        storage.MarketDataSnapshotStore
	Valuations       storage.ValuationStore
	Sensitivities    storage.SensitivityStore
	Accrued          storage.AccruedStore
	Pnl              storage.PnlStore
	PortfolioRisk    storage.PortfolioRiskStore
	FirmRisk         storage.FirmRiskStore
	Concentration    storage.ConcentrationStore
	Limits           storage.RiskLimitStore
	Breaches         storage.BreachStore
	Rules            storage.ToleranceRuleStore
	Exceptions       storage.ExceptionStore
	Summaries        storage.ReconciliationSummaryStore
	Jobs             storage.JobStore
	AccountingEvents storage.AccountingEventStore

	History *clickhouse.HistoryStore
}

// LoadConfig reads the config file at path, or returns defaults when path is
// empty. Environment variables override file values.
func LoadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.LoadWithEnv(path)
}

// NewLogger builds the process logger from the log config.
func NewLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	var log zerolog.Logger
	if cfg.Log.Pretty {
		log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	} else {
		log = zerolog.New(os.Stderr)
	}
	return log.Level(level).With().Timestamp().Logger()
}

// CreateStores builds either the in-memory or the database-backed store set.
// The returned cleanup must be called on shutdown.
func CreateStores(ctx context.Context, cfg *config.Config, useMemory bool,
	log zerolog.Logger) (*Stores, func(), error) {

	if useMemory {
		return NewMemoryStores(), func() {}, nil
	}
	return createDatabaseStores(ctx, cfg, log)
}

// NewMemoryStores returns a full in-memory store set.
func NewMemoryStores() *Stores {
	return &Stores{
		Trades:           memory.NewTradeStore(),
		Portfolios:       memory.NewPortfolioStore(),
		Snapshots:        memory.NewSnapshotStore(),
		Valuations:       memory.NewValuationStore(),
		Sensitivities:    memory.NewSensitivityStore(),
		Accrued:          memory.NewAccruedStore(),
		Pnl:              memory.NewPnlStore(),
		PortfolioRisk:    memory.NewPortfolioRiskStore(),
		FirmRisk:         memory.NewFirmRiskStore(),
		Concentration:    memory.NewConcentrationStore(),
		Limits:           memory.NewRiskLimitStore(),
		Breaches:         memory.NewBreachStore(),
		Rules:            memory.NewToleranceRuleStore(),
		Exceptions:       memory.NewExceptionStore(),
		Summaries:        memory.NewReconciliationSummaryStore(),
		Jobs:             memory.NewJobStore(),
		AccountingEvents: memory.NewAccountingEventStore(),
	}
}

func createDatabaseStores(ctx context.Context, cfg *config.Config,
	log zerolog.Logger) (*Stores, func(), error) {

	if cfg.Postgres.DSN == "" {
		return nil, nil, errors.New("postgres DSN is required without in-memory storage")
	}

	pool, err := postgres.NewPool(ctx, cfg.Postgres.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to postgres: %w", err)
	}

	if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("run postgres migrations: %w", err)
	}
	log.Info().Msg("postgres migrations applied")

	stores := &Stores{
		Trades:           postgres.NewTradeStore(pool),
		Portfolios:       postgres.NewPortfolioStore(pool),
		Snapshots:        postgres.NewSnapshotStore(pool),
		Valuations:       postgres.NewValuationStore(pool),
		Sensitivities:    postgres.NewSensitivityStore(pool),
		Accrued:          postgres.NewAccruedStore(pool),
		Pnl:              postgres.NewPnlStore(pool),
		PortfolioRisk:    postgres.NewPortfolioRiskStore(pool),
		FirmRisk:         postgres.NewFirmRiskStore(pool),
		Concentration:    postgres.NewConcentrationStore(pool),
		Limits:           postgres.NewRiskLimitStore(pool),
		Breaches:         postgres.NewBreachStore(pool),
		Rules:            postgres.NewToleranceRuleStore(pool),
		Exceptions:       postgres.NewExceptionStore(pool),
		Summaries:        postgres.NewReconciliationSummaryStore(pool),
		Jobs:             postgres.NewJobStore(pool),
		AccountingEvents: postgres.NewAccountingEventStore(pool),
	}

	cleanup := func() { pool.Close() }

	if cfg.ClickHouse.DSN != "" {
		conn, err := migrations.RunClickhouseMigrations(ctx, cfg.ClickHouse.DSN)
		if err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("run clickhouse migrations: %w", err)
		}
		log.Info().Msg("clickhouse migrations applied")

		stores.History = clickhouse.NewHistoryStore(conn)
		cleanup = func() {
			conn.Close()
			pool.Close()
		}
	}

	return stores, cleanup, nil
}

// SeedFromConfig loads configured tolerance rules and risk limits. Existing
// rows are left alone so reseeding on every start is safe.
func SeedFromConfig(ctx context.Context, cfg *config.Config, stores *Stores) error {
	for _, rule := range cfg.DomainToleranceRules() {
		err := stores.Rules.Insert(ctx, rule)
		if err != nil && !errors.Is(err, storage.ErrDuplicateKey) {
			return fmt.Errorf("seed tolerance rule %s: %w", rule.RuleID, err)
		}
	}
	for _, limit := range cfg.DomainRiskLimits() {
		err := stores.Limits.Insert(ctx, limit)
		if err != nil && !errors.Is(err, storage.ErrDuplicateKey) {
			return fmt.Errorf("seed risk limit %s: %w", limit.LimitID, err)
		}
	}
	return nil
}

// BuildOrchestrator assembles the stage engines and the pipeline orchestrator.
func BuildOrchestrator(cfg *config.Config, stores *Stores, source marketdata.Source,
	metrics *observability.Metrics, log zerolog.Logger) *orchestrator.Orchestrator {

	marketDataSvc := marketdata.NewService(stores.Snapshots, source, log)
	valuationEng := valuation.NewEngine(stores.Valuations, stores.Sensitivities, log)
	accrualEng := accrual.NewEngine(stores.Accrued, log)
	pnlEng := pnl.NewEngine(stores.Valuations, stores.Accrued, stores.Pnl, stores.Trades, log)
	riskEng := riskagg.NewEngine(stores.Valuations, stores.Sensitivities, stores.Trades,
		stores.Portfolios, stores.PortfolioRisk, stores.FirmRisk, stores.Concentration,
		stores.Limits, stores.Breaches, log)
	reconEng := reconciliation.NewEngine(stores.Valuations, stores.Pnl, stores.Trades,
		stores.Rules, stores.Exceptions, stores.Summaries, log)
	accountingGen := accounting.NewGenerator(stores.AccountingEvents, stores.Pnl, log)

	return orchestrator.New(orchestrator.Options{
		Jobs:       stores.Jobs,
		Trades:     stores.Trades,
		MarketData: marketDataSvc,
		Valuation:  valuationEng,
		Accrual:    accrualEng,
		Pnl:        pnlEng,
		Risk:       riskEng,
		Recon:      reconEng,
		Accounting: accountingGen,
		Config: orchestrator.Config{
			MaxRetries:         cfg.Orchestrator.MaxRetries,
			RetryBaseDelay:     cfg.Orchestrator.RetryBaseDelay,
			StageTimeout:       cfg.Orchestrator.StageTimeout,
			ValuationWorkers:   cfg.Orchestrator.ValuationWorkers,
			CancelPollInterval: cfg.Orchestrator.CancelPollInterval,
			RequiredEntities:   cfg.MarketData.RequiredEntities,
			RequiredCurrencies: cfg.MarketData.RequiredCurrencies,
		},
		Metrics: metrics,
		Log:     log,
	})
}

// MirrorHistory copies the day's valuations and P&L into the analytic store.
func MirrorHistory(ctx context.Context, date time.Time, stores *Stores) error {
	if stores.History == nil {
		return nil
	}

	valuations, err := stores.Valuations.ListByDate(ctx, date)
	if err != nil {
		return fmt.Errorf("list valuations: %w", err)
	}

	sensList, err := stores.Sensitivities.ListByDate(ctx, date)
	if err != nil {
		return fmt.Errorf("list sensitivities: %w", err)
	}
	sens := make(map[string]*domain.TradeValuationSensitivity, len(sensList))
	for _, s := range sensList {
		sens[s.TradeID] = s
	}

	if err := stores.History.InsertValuations(ctx, valuations, sens); err != nil {
		return fmt.Errorf("insert valuation history: %w", err)
	}

	pnlResults, err := stores.Pnl.ListByDate(ctx, date)
	if err != nil {
		return fmt.Errorf("list pnl: %w", err)
	}
	if err := stores.History.InsertPnl(ctx, pnlResults); err != nil {
		return fmt.Errorf("insert pnl history: %w", err)
	}
	return nil
}
