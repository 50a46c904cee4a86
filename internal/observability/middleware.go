package observability

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// HTTPAccess logs and counts every request served by the admin surface.
// Upgraded connections are logged once the upgrade handler returns, which
// for a mux stream is when the session ends.
func HTTPAccess(logger zerolog.Logger, endpoint string) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		path := routePath(c)
		elapsed := time.Since(start)
		RecordHTTPRequest(endpoint, c.Request.Method, path, status, elapsed)

		event := logger.Debug()
		switch {
		case status >= http.StatusInternalServerError:
			event = logger.Error()
		case status >= http.StatusBadRequest:
			event = logger.Warn()
		case status == http.StatusSwitchingProtocols:
			event = logger.Info()
		}
		event.
			Str("method", c.Request.Method).
			Str("path", path).
			Int("status", status).
			Dur("duration", elapsed).
			Str("client_ip", c.ClientIP()).
			Msg("http_request")
	}
}

// routePath prefers the route template so ids in paths do not explode label
// cardinality.
func routePath(c *gin.Context) string {
	if p := c.FullPath(); p != "" {
		return p
	}
	return "unmatched"
}
