package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"
	"github.com/guttosm/candledesk/internal/domain/dto"
	"github.com/guttosm/candledesk/internal/logger"
)

// RecoveryMiddleware returns a Gin middleware that recovers from panics in
// handlers and answers with a JSON error instead of dropping the connection.
//
// Behavior:
//   - Logs the panic value, request id, route and stack trace.
//   - Responds 500 with dto.ErrorResponse. The panic value is not echoed to
//     the client.
//
// Example:
//
//	router := gin.New()
//	router.Use(middleware.RecoveryMiddleware())
func RecoveryMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				logger.L().Error().
					Str("panic", fmt.Sprintf("%v", r)).
					Str("request_id", c.GetString(RequestIDKey)).
					Str("route", c.FullPath()).
					Bytes("stack", debug.Stack()).
					Msg("panic recovered")

				c.AbortWithStatusJSON(http.StatusInternalServerError, dto.NewErrorResponse("Internal server error", nil))
			}
		}()

		c.Next()
	}
}
