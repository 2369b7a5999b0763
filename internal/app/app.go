package app

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/gin-gonic/gin"

	"github.com/guttosm/candledesk/config"
	"github.com/guttosm/candledesk/internal/api"
	"github.com/guttosm/candledesk/internal/poller"
	"github.com/guttosm/candledesk/internal/storage"
)

// InitializeApp sets up all application dependencies and returns
// a fully configured Gin router, a cleanup function for graceful shutdown,
// and any error encountered during initialization.
//
// Responsibilities:
//   - Connects to PostgreSQL when CACHE_ENABLED is set.
//   - Builds the venue client, the session desk and the HTTP layer.
//   - Registers health and readiness probes (venue, and postgres when enabled).
//   - Starts the sync poller and, with the cache enabled, the tick recorder.
//   - Provides a cleanup function that stops the pollers and closes the DB.
//
// Returns:
//   - *gin.Engine: the configured Gin HTTP router.
//   - func(): cleanup function to be executed on shutdown.
//   - error: any initialization error that occurred.
func InitializeApp() (*gin.Engine, func(), error) {
	cfg := config.AppConfig

	var (
		db   *sql.DB
		repo storage.TicksRepository
	)
	if cfg.Postgres.Enabled {
		var err error
		db, err = postgresOpener(cfg)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize postgres: %w", err)
		}
		repo = storage.NewTicksRepository(db)
	}

	client := newVenueClient(cfg)
	desk := newDesk(cfg, client, repo)

	router := api.NewRouter(api.NewHandler(desk), cfg.RateLimit)

	checks := map[string]api.Check{
		"venue": func(ctx context.Context) error {
			_, err := client.GetUserStatus(ctx)
			return err
		},
	}
	if db != nil {
		checks["postgres"] = db.PingContext
	}
	api.NewHealthHandler(checks).Register(router)

	// ─── Background tasks ─────────────────────────
	ctx, cancel := context.WithCancel(context.Background())
	tasks := []*poller.Task{newSyncTask(cfg, desk)}
	if repo != nil {
		tasks = append(tasks, newRecordTask(cfg, client, repo))
	}
	for _, t := range tasks {
		t.Start(ctx)
	}

	cleanup := func() {
		for _, t := range tasks {
			t.Stop()
		}
		cancel()
		if db != nil {
			_ = db.Close()
		}
	}

	return router, cleanup, nil
}
