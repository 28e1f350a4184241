package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"

	"mail-ingest/internal/shared/metrics"
	"mail-ingest/internal/shared/server/respond"
	"mail-ingest/internal/shared/telemetry"
)

// Recovery turns a handler panic into a 500 and an http.panic event tagged with the
// caller's workspace, so a crashing scan or import can be traced to its mailbox.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			fields := map[string]any{
				"request_id": RequestIDFromContext(c),
				"error":      fmt.Sprint(rec),
				"stack":      string(debug.Stack()),
				"route":      c.FullPath(),
				"method":     c.Request.Method,
			}
			if ws := c.GetString("workspaceId"); ws != "" {
				fields["workspace_id"] = ws
			}
			if id := c.Param("id"); id != "" {
				fields["resource_id"] = id
			}
			telemetry.Error("http.panic", fields)
			metrics.IncHTTPPanic()
			respond.Error(c, http.StatusInternalServerError, "internal", "Unexpected server error", nil)
			c.Abort()
		}()
		c.Next()
	}
}
