package respond

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

func serve(t *testing.T, status int) (*httptest.ResponseRecorder, string) {
	t.Helper()
	var buf bytes.Buffer
	restore := telemetry.SetOutput(&buf)
	defer restore()

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/api/v1/mail/connections/:id/stats", func(c *gin.Context) {
		c.Set("requestId", "req-1")
		c.Set("workspaceId", "ws-1")
		Error(c, status, "some_code", "something happened", nil)
	})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/mail/connections/c9/stats", nil))
	return w, buf.String()
}

func TestErrorBodyCarriesRequestID(t *testing.T) {
	w, _ := serve(t, http.StatusNotFound)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
	var body ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Error.Code != "some_code" || body.Error.RequestID != "req-1" {
		t.Fatalf("unexpected body %+v", body)
	}
}

func TestErrorLogLevelFollowsStatus(t *testing.T) {
	_, logs := serve(t, http.StatusBadRequest)
	if !strings.Contains(logs, `"msg":"http.rejected"`) || !strings.Contains(logs, `"level":"warn"`) {
		t.Fatalf("expected warn http.rejected, got %s", logs)
	}
	if !strings.Contains(logs, `"resource_id":"c9"`) || !strings.Contains(logs, `"workspace_id":"ws-1"`) {
		t.Fatalf("expected resource and workspace ids, got %s", logs)
	}

	_, logs = serve(t, http.StatusInternalServerError)
	if !strings.Contains(logs, `"msg":"http.error"`) || !strings.Contains(logs, `"level":"error"`) {
		t.Fatalf("expected error http.error, got %s", logs)
	}
}
