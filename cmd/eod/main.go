// Command eod runs one end-of-day valuation job for a date.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"

	"cds-eod-engine/internal/app"
	"cds-eod-engine/internal/domain"
	"cds-eod-engine/internal/marketdata"
	"cds-eod-engine/internal/observability"
	"cds-eod-engine/internal/orchestrator"
)

func main() {
	dateStr := flag.String("date", time.Now().UTC().Format(domain.DateLayout), "valuation date (YYYY-MM-DD)")
	dryRun := flag.Bool("dry-run", false, "walk the step sequence without doing stage work")
	configPath := flag.String("config", "", "path to YAML config file")
	pgDSN := flag.String("postgres-dsn", "", "PostgreSQL DSN (overrides config)")
	chDSN := flag.String("clickhouse-dsn", "", "ClickHouse DSN (overrides config)")
	useMemory := flag.Bool("use-memory", false, "use in-memory stores with a sample book")
	triggeredBy := flag.String("triggered-by", "cli", "trigger attribution recorded on the job")
	flag.Parse()

	cfg, err := app.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
	if *pgDSN != "" {
		cfg.Postgres.DSN = *pgDSN
	}
	if *chDSN != "" {
		cfg.ClickHouse.DSN = *chDSN
	}

	log := app.NewLogger(cfg)

	date, err := time.ParseInLocation(domain.DateLayout, *dateStr, time.UTC)
	if err != nil {
		log.Fatal().Err(err).Str("date", *dateStr).Msg("invalid valuation date")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Warn().Str("signal", sig.String()).Msg("shutdown requested, cancelling run")
		cancel()
		<-sigCh
		log.Error().Msg("second signal, forcing exit")
		os.Exit(1)
	}()

	stores, cleanup, err := app.CreateStores(ctx, cfg, *useMemory, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize storage")
	}
	defer cleanup()

	if err := app.SeedFromConfig(ctx, cfg, stores); err != nil {
		log.Fatal().Err(err).Msg("failed to seed tolerance rules and risk limits")
	}

	var source marketdata.Source = &marketdata.StaticSource{}
	if *useMemory {
		if err := loadSampleBook(ctx, date, stores); err != nil {
			log.Fatal().Err(err).Msg("failed to load sample book")
		}
		source = sampleQuoteSource(date)
	}

	metrics := observability.NewMetrics("cds_eod")
	orch := app.BuildOrchestrator(cfg, stores, source, metrics, log)

	job, err := orch.Run(ctx, date, *triggeredBy, *dryRun)
	if job != nil {
		fmt.Println(orchestrator.DescribeJob(job))
		for _, step := range job.Steps {
			fmt.Printf("  %d. %-28s %-10s processed=%d failed=%d retries=%d\n",
				step.StepNumber, step.StepName, step.Status,
				step.RecordsProcessed, step.RecordsFailed, step.RetryCount)
		}
	}
	if err != nil {
		log.Error().Err(err).Msg("eod job did not complete")
		os.Exit(1)
	}

	if !*dryRun {
		if err := app.MirrorHistory(ctx, date, stores); err != nil {
			log.Error().Err(err).Msg("failed to mirror results to clickhouse")
		}
	}
}

// loadSampleBook seeds a small demonstration book into the memory stores.
func loadSampleBook(ctx context.Context, date time.Time, stores *app.Stores) error {
	portfolios := []*domain.Portfolio{
		{PortfolioID: "PF-CREDIT-01", Name: "Credit Flow", Currency: "USD", Active: true},
		{PortfolioID: "PF-CREDIT-02", Name: "Credit Macro", Currency: "USD", Active: true},
	}
	for _, p := range portfolios {
		if err := stores.Portfolios.Insert(ctx, p); err != nil {
			return fmt.Errorf("seed portfolio %s: %w", p.PortfolioID, err)
		}
	}

	trades := []*domain.Trade{
		sampleTrade("CDS-0001", "ACME_CORP", "PF-CREDIT-01", domain.DirectionBuy, 10_000_000, 120, date),
		sampleTrade("CDS-0002", "ACME_CORP", "PF-CREDIT-01", domain.DirectionSell, 5_000_000, 115, date),
		sampleTrade("CDS-0003", "GLOBEX", "PF-CREDIT-01", domain.DirectionBuy, 7_500_000, 250, date),
		sampleTrade("CDS-0004", "GLOBEX", "PF-CREDIT-02", domain.DirectionBuy, 12_000_000, 245, date),
		sampleTrade("CDS-0005", "INITECH", "PF-CREDIT-02", domain.DirectionSell, 8_000_000, 90, date),
	}
	for _, t := range trades {
		if err := stores.Trades.Insert(ctx, t); err != nil {
			return fmt.Errorf("seed trade %s: %w", t.TradeID, err)
		}
	}
	return nil
}

func sampleTrade(id, entity, portfolio string, dir domain.ProtectionDirection,
	notional, spreadBps int64, asOf time.Time) *domain.Trade {
	return &domain.Trade{
		TradeID:         id,
		ReferenceEntity: entity,
		Counterparty:    "BANK_A",
		PortfolioID:     portfolio,
		Notional:        decimal.NewFromInt(notional),
		SpreadBps:       decimal.NewFromInt(spreadBps),
		Currency:        "USD",
		Direction:       dir,
		TradeDate:       asOf.AddDate(-1, 0, 0),
		EffectiveDate:   asOf.AddDate(-1, 0, 1),
		MaturityDate:    asOf.AddDate(4, 0, 0),
		DayCount:        "ACT/360",
		PremiumFreq:     "QUARTERLY",
		RecoveryRate:    decimal.NewFromFloat(0.40),
		Status:          domain.TradeStatusActive,
	}
}

// sampleQuoteSource returns static quotes covering the sample book.
func sampleQuoteSource(date time.Time) *marketdata.StaticSource {
	quoteTime := date.Add(21*time.Hour + 30*time.Minute)
	spread := func(entity string, bps int64) domain.CdsSpreadQuote {
		return domain.CdsSpreadQuote{
			ReferenceEntity: entity, Tenor: "5Y", Currency: "USD", Seniority: "SNR",
			SpreadBps: decimal.NewFromInt(bps), DataSource: "STATIC", QuoteTime: quoteTime,
		}
	}
	recovery := func(entity string) domain.RecoveryRateQuote {
		return domain.RecoveryRateQuote{
			ReferenceEntity: entity, Seniority: "SNR",
			Recovery: decimal.NewFromFloat(0.40), DataSource: "STATIC", QuoteTime: quoteTime,
		}
	}
	return &marketdata.StaticSource{
		Spreads: []domain.CdsSpreadQuote{
			spread("ACME_CORP", 118), spread("GLOBEX", 255), spread("INITECH", 92),
		},
		Curve: []domain.IrCurvePoint{
			{Currency: "USD", CurveType: "OIS", Tenor: "5Y",
				Rate: decimal.NewFromFloat(0.045), DataSource: "STATIC", QuoteTime: quoteTime},
		},
		Fx: []domain.FxRateQuote{
			{BaseCurrency: "EUR", QuoteCurrency: "USD",
				Rate: decimal.NewFromFloat(1.07), DataSource: "STATIC", QuoteTime: quoteTime},
		},
		Recoveries: []domain.RecoveryRateQuote{
			recovery("ACME_CORP"), recovery("GLOBEX"), recovery("INITECH"),
		},
	}
}
