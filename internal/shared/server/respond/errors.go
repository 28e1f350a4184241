package respond

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"mail-ingest/internal/shared/telemetry"
)

// ErrorBody is the error object every endpoint returns. RequestID lets a caller quote
// the failing request when reporting a stuck scan or import.
type ErrorBody struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Details   any    `json:"details,omitempty"`
	RequestID string `json:"requestId,omitempty"`
}

// ErrorResponse wraps the error body.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// Error aborts with a standardized error body. Client errors are logged as
// http.rejected at warn level; server errors as http.error.
func Error(c *gin.Context, status int, code, message string, details any) {
	reqID := c.GetString("requestId")
	fields := map[string]any{
		"status":     status,
		"code":       code,
		"message":    message,
		"route":      c.FullPath(),
		"method":     c.Request.Method,
		"request_id": reqID,
	}
	if workspaceID := c.GetString("workspaceId"); workspaceID != "" {
		fields["workspace_id"] = workspaceID
	}
	if userID := c.GetString("userId"); userID != "" {
		fields["user_id"] = userID
	}
	if id := c.Param("id"); id != "" {
		fields["resource_id"] = id
	}
	if status >= http.StatusInternalServerError {
		telemetry.Error("http.error", fields)
	} else {
		telemetry.Warn("http.rejected", fields)
	}

	c.AbortWithStatusJSON(status, ErrorResponse{
		Error: ErrorBody{
			Code:      code,
			Message:   message,
			Details:   details,
			RequestID: reqID,
		},
	})
}
