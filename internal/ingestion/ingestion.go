package ingestion

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/guttosm/candledesk/internal/domain/models"
	"github.com/guttosm/candledesk/internal/logger"
	"github.com/guttosm/candledesk/internal/metrics"
	"github.com/guttosm/candledesk/internal/storage"
)

const (
	defaultBatchSize = 5000
	maxParallel      = 8
)

// TradeSource is the part of the venue the recorder reads from.
type TradeSource interface {
	ListInstruments(ctx context.Context) ([]models.Instrument, error)
	GetTrades(ctx context.Context, ticker string) ([]models.Tick, error)
}

// RecordTicks copies recent venue trades into the tick cache.
//
// Parameters:
//   - src:      venue trades source.
//   - repo:     tick repository.
//   - tickers:  instruments to record; empty means every listed instrument.
//   - parallel: concurrency limit, clamped to 1..8 (0 = min(8, NumCPU)).
//
// Behavior:
//   - Only ticks strictly newer than the latest stored one are inserted,
//     so repeated runs never duplicate rows.
//   - A failing ticker does not stop the others; all failures are joined
//     into the returned error.
//
// Returns:
//   - int: number of ticks inserted across all tickers.
//   - error: joined per-ticker failures (if any).
func RecordTicks(ctx context.Context, src TradeSource, repo storage.TicksRepository, tickers []string, parallel int) (int, error) {
	if len(tickers) == 0 {
		list, err := src.ListInstruments(ctx)
		if err != nil {
			return 0, fmt.Errorf("list instruments: %w", err)
		}
		for _, in := range list {
			tickers = append(tickers, in.Ticker)
		}
	}

	limit := maxParallel
	if parallel > 0 {
		if parallel < maxParallel {
			limit = parallel
		}
	} else if c := runtime.NumCPU(); c < limit {
		limit = c
	}

	var (
		mu    sync.Mutex
		total int
		errs  []error
	)
	g, gctx := errgroup.WithContext(ctx)
	sem := make(chan struct{}, limit)

	for _, ticker := range tickers {
		tk := ticker
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			_ = g.Wait()
			return total, ctx.Err()
		}

		g.Go(func() error {
			defer func() { <-sem }()
			n, err := recordOne(gctx, src, repo, tk)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				logger.L().Warn().Str("ticker", tk).Err(err).Msg("record ticks failed")
				errs = append(errs, fmt.Errorf("%s: %w", tk, err))
				return nil
			}
			total += n
			return nil
		})
	}

	_ = g.Wait()
	logger.L().Debug().Int("tickers", len(tickers)).Int("inserted", total).Msg("record ticks done")
	return total, errors.Join(errs...)
}

func recordOne(ctx context.Context, src TradeSource, repo storage.TicksRepository, ticker string) (int, error) {
	latest, ok, err := repo.LatestTickTime(ctx, ticker)
	if err != nil {
		return 0, fmt.Errorf("latest tick: %w", err)
	}
	ticks, err := src.GetTrades(ctx, ticker)
	if err != nil {
		return 0, fmt.Errorf("fetch trades: %w", err)
	}

	fresh := make([]models.Tick, 0, len(ticks))
	for _, t := range ticks {
		if !ok || t.Time.After(latest) {
			fresh = append(fresh, t)
		}
	}
	if len(fresh) == 0 {
		return 0, nil
	}
	sort.SliceStable(fresh, func(i, j int) bool { return fresh[i].Time.Before(fresh[j].Time) })

	if err := repo.InsertTicksBatch(ctx, ticker, fresh); err != nil {
		return 0, fmt.Errorf("insert: %w", err)
	}
	metrics.TicksRecordedTotal.WithLabelValues(ticker).Add(float64(len(fresh)))
	return len(fresh), nil
}

// Prune deletes cached ticks older than retention. A non-positive retention
// keeps everything.
func Prune(ctx context.Context, repo storage.TicksRepository, retention time.Duration, now time.Time) (int64, error) {
	if retention <= 0 {
		return 0, nil
	}
	n, err := repo.DeleteTicksBefore(ctx, now.Add(-retention))
	if err != nil {
		return 0, fmt.Errorf("prune ticks: %w", err)
	}
	if n > 0 {
		logger.L().Info().Int64("deleted", n).Dur("retention", retention).Msg("ticks pruned")
	}
	return n, nil
}

// ImportFile loads a "time;price" tick file for one instrument.
//
// Behavior:
//   - The file base name is the idempotency key: a file already recorded in
//     the ingestion log is skipped unless force is set.
//   - Header and rows are validated strictly; any malformed row fails the
//     whole import.
//   - Rows are inserted in batches of batch (<= 0 uses 5000).
//
// Returns:
//   - int: number of ticks imported (0 when skipped).
//   - error: first error encountered (if any).
func ImportFile(ctx context.Context, path, ticker string, repo storage.TicksRepository, batch int, force bool) (int, error) {
	ticker = strings.ToUpper(strings.TrimSpace(ticker))
	if ticker == "" {
		return 0, errors.New("ticker is required")
	}
	if batch <= 0 {
		batch = defaultBatchSize
	}
	base := filepath.Base(path)
	start := time.Now()

	exists, err := repo.HasIngestion(ctx, base)
	if err != nil {
		return 0, fmt.Errorf("file %s: check ingestion log: %w", path, err)
	}
	if exists && !force {
		logger.L().Info().Str("file", base).Bool("skipped", true).Msg("already ingested")
		return 0, nil
	}

	total, err := parseAndPersistFile(ctx, path, ticker, repo, batch)
	if err != nil {
		logger.L().Error().Str("file", base).Dur("elapsed", time.Since(start)).Err(err).Msg("file failed")
		return 0, fmt.Errorf("file %s: %w", path, err)
	}
	if err := repo.UpsertIngestionLog(ctx, base, ticker, total); err != nil {
		return 0, fmt.Errorf("file %s: upsert ingestion log: %w", path, err)
	}
	logger.L().Info().Str("file", base).Str("ticker", ticker).Int("rows", total).Dur("elapsed", time.Since(start)).Bool("force", force).Msg("file done")
	return total, nil
}
