package api

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"golang.org/x/time/rate"

	"github.com/guttosm/candledesk/config"
	"github.com/guttosm/candledesk/internal/metrics"
	"github.com/guttosm/candledesk/internal/middleware"
)

const requestTimeout = 10 * time.Second

// NewRouter creates a Gin engine with routes configured.
// It receives a Handler instance with all business logic already injected.
//
// Responsibilities:
//   - Registers global middlewares (RequestID, Logger, Recovery, ErrorHandler, RateLimiter).
//   - Adds request timeout handling (10 seconds).
//   - Mounts Swagger docs (/swagger/*any) and Prometheus metrics (/metrics).
//   - Configures API v1 routes (/api/v1).
//
// Note:
//   - Health and readiness endpoints (/healthz, /readyz) are registered in app.InitializeApp().
//
// Parameters:
//   - handler (*Handler): The HTTP handler with business logic.
//   - rl (config.RateLimitConfig): per-IP limits; a non-positive RPS keeps
//     the middleware defaults.
//
// Returns:
//   - *gin.Engine: Configured Gin router.
func NewRouter(handler *Handler, rl config.RateLimitConfig) *gin.Engine {
	router := gin.New()

	limiter := middleware.RateLimiter()
	if rl.RPS > 0 {
		limiter = middleware.RateLimiterWith(rate.Limit(rl.RPS), rl.Burst)
	}

	// ─── Middlewares ───────────────────────────────
	router.Use(
		middleware.RequestID(),
		middleware.RequestLogger(),
		middleware.RecoveryMiddleware(),
		middleware.ErrorHandler,
		limiter,
	)

	// ─── Timeout ──────────────────────────────────
	router.Use(func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	})

	// ─── Swagger & metrics ────────────────────────
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	// ─── API v1 ───────────────────────────────────
	v1 := router.Group("/api/v1")
	{
		v1.GET("/instruments", handler.ListInstruments)
		v1.GET("/chart/:ticker", handler.GetChart)
		v1.GET("/orderbook/:ticker", handler.GetOrderBook)

		v1.POST("/ticket", handler.OpenTicket)
		v1.GET("/ticket", handler.GetTicket)
		v1.DELETE("/ticket", handler.CloseTicket)
		v1.POST("/ticket/focus", handler.FocusTicket)
		v1.POST("/ticket/keys", handler.PressKeys)
		v1.POST("/ticket/adjust", handler.AdjustTicket)
		v1.POST("/ticket/submit", handler.SubmitTicket)

		v1.GET("/portfolio", handler.GetPortfolio)
		v1.GET("/orders/pending", handler.ListPendingOrders)
		v1.DELETE("/orders/pending/:id", handler.CancelPendingOrder)
		v1.GET("/transactions", handler.ListTransactions)
		v1.GET("/notifications", handler.ListNotifications)
		v1.POST("/notifications/read", handler.MarkNotificationsRead)
		v1.POST("/sync", handler.TriggerSync)
	}

	return router
}
