package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/arenabridge/agent/internal/infrastructure/logging"
	"github.com/arenabridge/agent/internal/shared/id"
)

// TraceHeader carries the per-request identifier in both directions. A
// caller-supplied value is kept so a widget can correlate its own logs.
const TraceHeader = "X-Trace-ID"

// Trace tags every ops request with a trace identifier and logs its outcome.
func Trace(log *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		traceID := c.GetHeader(TraceHeader)
		if traceID == "" {
			traceID = id.NewTraceID()
		}
		c.Header(TraceHeader, traceID)

		start := time.Now()
		c.Next()

		log.Info("ops request",
			zap.String("trace_id", traceID),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)))
	}
}
