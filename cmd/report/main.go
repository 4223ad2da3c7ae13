// Command report renders the end-of-day report for a date to markdown
// and CSV files.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"cds-eod-engine/internal/app"
	"cds-eod-engine/internal/domain"
	"cds-eod-engine/internal/reporting"
)

func main() {
	dateStr := flag.String("date", time.Now().UTC().Format(domain.DateLayout), "report date (YYYY-MM-DD)")
	configPath := flag.String("config", "", "path to YAML config file")
	pgDSN := flag.String("postgres-dsn", "", "PostgreSQL DSN (overrides config)")
	outputDir := flag.String("output-dir", "reports", "output directory for generated files")
	format := flag.String("format", "markdown", "output format: markdown, csv or both")
	flag.Parse()

	cfg, err := app.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
	if *pgDSN != "" {
		cfg.Postgres.DSN = *pgDSN
	}

	log := app.NewLogger(cfg)

	if *format != "markdown" && *format != "csv" && *format != "both" {
		log.Fatal().Str("format", *format).Msg("format must be markdown, csv or both")
	}

	date, err := time.ParseInLocation(domain.DateLayout, *dateStr, time.UTC)
	if err != nil {
		log.Fatal().Err(err).Str("date", *dateStr).Msg("invalid report date")
	}

	ctx := context.Background()

	stores, cleanup, err := app.CreateStores(ctx, cfg, false, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize storage")
	}
	defer cleanup()

	gen := reporting.NewGenerator(reporting.Stores{
		Jobs:          stores.Jobs,
		Valuations:    stores.Valuations,
		Pnl:           stores.Pnl,
		PortfolioRisk: stores.PortfolioRisk,
		FirmRisk:      stores.FirmRisk,
		Concentration: stores.Concentration,
		Limits:        stores.Limits,
		Breaches:      stores.Breaches,
		Summaries:     stores.Summaries,
		Exceptions:    stores.Exceptions,
	})

	report, err := gen.Generate(ctx, date)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to generate report")
	}

	if err := os.MkdirAll(*outputDir, 0o755); err != nil {
		log.Fatal().Err(err).Str("dir", *outputDir).Msg("failed to create output directory")
	}

	key := domain.DateKey(date)

	if *format == "markdown" || *format == "both" {
		path := filepath.Join(*outputDir, fmt.Sprintf("eod-report-%s.md", key))
		if err := os.WriteFile(path, []byte(reporting.RenderMarkdown(report)), 0o644); err != nil {
			log.Fatal().Err(err).Str("path", path).Msg("failed to write markdown report")
		}
		fmt.Printf("wrote %s\n", path)
	}

	if *format == "csv" || *format == "both" {
		valuations, err := stores.Valuations.ListByDate(ctx, date)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to list valuations")
		}
		path := filepath.Join(*outputDir, fmt.Sprintf("valuations-%s.csv", key))
		if err := os.WriteFile(path, []byte(reporting.RenderValuationCSV(valuations)), 0o644); err != nil {
			log.Fatal().Err(err).Str("path", path).Msg("failed to write valuation csv")
		}
		fmt.Printf("wrote %s\n", path)

		pnlRows, err := stores.Pnl.ListByDate(ctx, date)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to list pnl results")
		}
		path = filepath.Join(*outputDir, fmt.Sprintf("pnl-%s.csv", key))
		if err := os.WriteFile(path, []byte(reporting.RenderPnlCSV(pnlRows)), 0o644); err != nil {
			log.Fatal().Err(err).Str("path", path).Msg("failed to write pnl csv")
		}
		fmt.Printf("wrote %s\n", path)
	}
}
