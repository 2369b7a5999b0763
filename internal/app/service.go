package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/guttosm/candledesk/config"
	"github.com/guttosm/candledesk/internal/candle"
	"github.com/guttosm/candledesk/internal/ingestion"
	"github.com/guttosm/candledesk/internal/logger"
	"github.com/guttosm/candledesk/internal/poller"
	"github.com/guttosm/candledesk/internal/portfolio"
	"github.com/guttosm/candledesk/internal/service"
	"github.com/guttosm/candledesk/internal/storage"
	"github.com/guttosm/candledesk/internal/ticket"
	"github.com/guttosm/candledesk/internal/venue"
)

// pruneEvery bounds how often the recorder deletes expired ticks.
const pruneEvery = time.Hour

func newVenueClient(cfg config.Config) *venue.Client {
	return venue.NewClient(venue.Config{
		BaseURL:     cfg.Venue.BaseURL,
		UserName:    cfg.Venue.UserID,
		Timeout:     cfg.Venue.Timeout,
		RPS:         cfg.Venue.RPS,
		Burst:       cfg.Venue.Burst,
		Retries:     cfg.Venue.Retries,
		TradesLimit: cfg.Venue.TradesLimit,
		Location:    cfg.Chart.Location,
	})
}

// newDesk builds the session desk. repo may be nil.
func newDesk(cfg config.Config, v service.Venue, repo storage.TicksRepository) service.DeskService {
	return service.NewDeskService(service.Deps{
		Venue:   v,
		Repo:    repo,
		Account: portfolio.NewAccount(cfg.Account.StartingCash),
		Aggregator: candle.NewAggregator(candle.Config{
			MinimumCandles: cfg.Chart.MinCandles,
			Volatility:     cfg.Chart.Volatility,
			Location:       cfg.Chart.Location,
		}),
		Ticket: ticket.New(),
	})
}

// newSyncTask polls the venue for account state on POLL_SYNC_INTERVAL.
func newSyncTask(cfg config.Config, desk service.DeskService) *poller.Task {
	return poller.New("sync", cfg.Poll.SyncInterval, func(ctx context.Context) error {
		_, err := desk.Sync(ctx)
		return err
	})
}

// newRecordTask copies new venue trades into the tick cache and prunes
// ticks older than RECORD_RETENTION at most once per pruneEvery.
func newRecordTask(cfg config.Config, src ingestion.TradeSource, repo storage.TicksRepository) *poller.Task {
	var (
		mu        sync.Mutex
		lastPrune time.Time
	)
	return poller.New("record", cfg.Poll.RecordInterval, func(ctx context.Context) error {
		n, err := ingestion.RecordTicks(ctx, src, repo, cfg.Poll.RecordTickers, 0)
		if n > 0 {
			logger.L().Debug().Int("ticks", n).Msg("ticks recorded")
		}

		mu.Lock()
		due := time.Since(lastPrune) >= pruneEvery
		if due {
			lastPrune = time.Now()
		}
		mu.Unlock()
		if due {
			if _, perr := ingestion.Prune(ctx, repo, cfg.Poll.RecordRetention, time.Now()); perr != nil {
				logger.L().Warn().Err(perr).Msg("tick prune failed")
			}
		}
		return err
	})
}

// RunRecorder runs the tick recorder against the configured venue and
// Postgres until ctx is done. With once set it performs a single pass.
func RunRecorder(ctx context.Context, once bool) error {
	cfg := config.AppConfig
	db, err := postgresOpener(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize postgres: %w", err)
	}
	defer func() { _ = db.Close() }()

	task := newRecordTask(cfg, newVenueClient(cfg), storage.NewTicksRepository(db))
	if once {
		return task.RunOnce(ctx)
	}

	task.Start(ctx)
	<-ctx.Done()
	task.Stop()
	return nil
}

// ImportFile loads a "time;price" CSV export of one instrument into the
// tick cache. Files already imported are skipped unless force is set.
func ImportFile(ctx context.Context, path, ticker string, force bool) (int, error) {
	cfg := config.AppConfig
	db, err := postgresOpener(cfg)
	if err != nil {
		return 0, fmt.Errorf("failed to initialize postgres: %w", err)
	}
	defer func() { _ = db.Close() }()

	return ingestion.ImportFile(ctx, path, ticker, storage.NewTicksRepository(db), 0, force)
}
