package main

//
//  @title           candledesk API
//  @version         1.0
//  @description     Trading desk backend for the mock stock exchange: charts, order tickets and account sync.
//  @termsOfService  https://github.com/guttosm/candledesk
//  @contact.name    API Support
//  @contact.url     https://github.com/guttosm/candledesk
//  @contact.email   support@example.com
//  @license.name    MIT
//  @license.url     https://opensource.org/licenses/MIT
//  @host            localhost:8080
//  @BasePath        /
//  @schemes         http
//
//  @tag.name        market
//  @tag.description Instrument list, candle charts and order books
//
//  @tag.name        ticket
//  @tag.description Order ticket editing and submission
//
//  @tag.name        account
//  @tag.description Portfolio, pending orders, transactions and notifications
//
//  @tag.name        health
//  @tag.description Liveness and readiness probes

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/guttosm/candledesk/config"
	_ "github.com/guttosm/candledesk/docs" // swagger docs
	"github.com/guttosm/candledesk/internal/app"
	"github.com/guttosm/candledesk/internal/logger"
)

// startServer initializes and starts the HTTP server in a separate goroutine.
//
// Parameters:
//   - router (http.Handler): The HTTP router (Gin Engine) configured with all routes.
//   - port (string): The port where the server will listen for incoming requests.
//
// Returns:
//   - *http.Server: The initialized HTTP server instance.
func startServer(router http.Handler, port string) *http.Server {
	server := &http.Server{
		Addr:              ":" + port,
		Handler:           router,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.L().Info().Str("port", port).Msg("server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.L().Fatal().Err(err).Msg("server failed to start")
		}
	}()

	return server
}

// gracefulShutdown gracefully terminates the HTTP server and cleans up resources
// when an OS interrupt signal (SIGINT, SIGTERM) is received.
//
// Parameters:
//   - ctx (context.Context): A context with timeout for graceful shutdown.
//   - server (*http.Server): The HTTP server instance to shut down.
//   - cleanup (func()): Cleanup callback that stops pollers and closes the DB.
func gracefulShutdown(ctx context.Context, server *http.Server, cleanup func()) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	<-quit
	logger.L().Info().Msg("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.L().Fatal().Err(err).Msg("server forced to shutdown")
	}

	cleanup()
	logger.L().Info().Msg("server exited gracefully")
}

// main is the entry point of the candledesk application.
//
// Modes (selected via --mode flag):
//   - api:    Starts the REST API, the account sync poller and (with
//             CACHE_ENABLED) the tick recorder.
//   - record: Runs only the tick recorder against Postgres.
//   - import: Loads one "time;price" CSV export into the tick cache.
//
// Flags:
//   - --mode:   Execution mode ("api", "record" or "import"). Default: "api".
//   - --port:   Port for the API server. Defaults to SERVER_PORT.
//   - --once:   record mode performs a single pass and exits.
//   - --file:   CSV file for import mode.
//   - --ticker: Instrument the imported file belongs to.
//   - --force:  Re-import a file already present in the ingestion log.
func main() {
	ctx := context.Background()

	// Load configuration from environment or .env file
	config.LoadConfig()

	// Initialize JSON logger
	logger.Init()

	mode := flag.String("mode", "api", "Mode: api, record or import")
	port := flag.String("port", config.AppConfig.Server.Port, "Port for API mode")
	once := flag.Bool("once", false, "Record a single pass and exit")
	file := flag.String("file", "", "CSV file to import")
	ticker := flag.String("ticker", "", "Instrument of the imported file")
	force := flag.Bool("force", false, "Re-import a file even if already ingested")
	flag.Parse()

	switch *mode {
	case "api":
		logger.L().Info().Msg("starting API server")

		router, cleanup, err := app.InitializeApp()
		if err != nil {
			logger.L().Fatal().Err(err).Msg("app init error")
		}

		server := startServer(router, *port)
		gracefulShutdown(ctx, server, cleanup)

	case "record":
		logger.L().Info().Bool("once", *once).Msg("running tick recorder")

		sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
		defer stop()
		if err := app.RunRecorder(sigCtx, *once); err != nil {
			logger.L().Fatal().Err(err).Msg("recorder failed")
		}
		logger.L().Info().Msg("recorder stopped")

	case "import":
		if *file == "" || *ticker == "" {
			logger.L().Fatal().Msg("--file and --ticker are required in import mode")
		}
		n, err := app.ImportFile(ctx, *file, *ticker, *force)
		if err != nil {
			logger.L().Fatal().Err(err).Msg("import failed")
		}
		logger.L().Info().Int("rows", n).Msg("import completed successfully")

	default:
		logger.L().Fatal().Str("mode", *mode).Msg("unknown mode")
	}
}
