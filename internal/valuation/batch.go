package valuation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"cds-eod-engine/internal/domain"
)

// BatchResult carries the per-item outcome counts of a batch run for the
// caller to evaluate against its failure-rate policy.
type BatchResult struct {
	Processed int
	Succeeded int
	Failed    int
}

// CalculateNpvBatch values every trade independently against the shared
// snapshot using a bounded worker pool. Item failures are isolated: they
// increment Failed and never abort siblings. The context is checked at
// dispatch boundaries so a cooperative cancel stops remaining work while
// keeping already-persisted rows.
func (e *Engine) CalculateNpvBatch(ctx context.Context, trades []*domain.Trade, date time.Time,
	snap *domain.MarketDataSnapshot, jobID string, workers int) (BatchResult, error) {

	if workers < 1 {
		workers = 1
	}

	e.log.Info().Int("trades", len(trades)).Str("date", domain.DateKey(date)).
		Int("workers", workers).Msg("starting batch NPV calculation")

	var (
		mu       sync.Mutex
		result   BatchResult
		firstErr error
	)

	work := make(chan *domain.Trade)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for trade := range work {
				v, err := e.CalculateNpv(ctx, trade, date, snap, jobID)

				mu.Lock()
				switch {
				case err != nil:
					if firstErr == nil {
						firstErr = err
					}
					result.Failed++
				case v.Status == domain.ValuationSuccess:
					result.Succeeded++
				default:
					result.Failed++
				}
				result.Processed++
				mu.Unlock()
			}
		}()
	}

dispatch:
	for _, trade := range trades {
		if ctx.Err() != nil {
			break
		}
		select {
		case <-ctx.Done():
			break dispatch
		case work <- trade:
		}
	}
	close(work)
	wg.Wait()

	if err := ctx.Err(); err != nil {
		e.log.Warn().Int("processed", result.Processed).Int("remaining", len(trades)-result.Processed).
			Msg("batch NPV calculation stopped early")
		return result, fmt.Errorf("batch npv calculation interrupted: %w", err)
	}
	if firstErr != nil {
		return result, fmt.Errorf("batch npv calculation: %w", firstErr)
	}

	e.log.Info().Int("succeeded", result.Succeeded).Int("failed", result.Failed).
		Msg("batch NPV calculation completed")

	return result, nil
}
