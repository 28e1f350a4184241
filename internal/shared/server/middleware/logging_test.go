package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"mail-ingest/internal/shared/telemetry"
)

func TestLoggingIncludesRequiredFields(t *testing.T) {
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.Use(RequestID(), Auth(nil, "dev"), Logging())
	router.GET("/api/v1/mail/connections/:id/stats", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	var buf bytes.Buffer
	restore := telemetry.SetOutput(&buf)
	defer restore()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/mail/connections/conn-1/stats", nil)
	req.Header.Set("X-Workspace-Id", "ws-1")
	req.Header.Set("X-User-Id", "user-1")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	last := lines[len(lines)-1]
	var payload map[string]any
	if err := json.Unmarshal([]byte(last), &payload); err != nil {
		t.Fatalf("decode log json: %v", err)
	}

	required := []string{"request_id", "user_id", "workspace_id", "duration_ms", "status", "route"}
	for _, key := range required {
		if _, ok := payload[key]; !ok {
			t.Fatalf("missing log field: %s", key)
		}
	}
	if payload["workspace_id"] != "ws-1" {
		t.Fatalf("unexpected workspace_id: %v", payload["workspace_id"])
	}
	if payload["resource_id"] != "conn-1" {
		t.Fatalf("unexpected resource_id: %v", payload["resource_id"])
	}
	if payload["route"] != "/api/v1/mail/connections/:id/stats" {
		t.Fatalf("unexpected route: %v", payload["route"])
	}
}
