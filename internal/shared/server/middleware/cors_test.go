package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func corsRouter(origins ...string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(CORS(origins))
	router.POST("/api/v1/mail/connections/:id/scan", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	router.PUT("/api/v1/mail/connections/:id/scan-window", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	return router
}

func TestCORSPreflightForScanWindow(t *testing.T) {
	req := httptest.NewRequest(http.MethodOptions, "/api/v1/mail/connections/c1/scan-window", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	resp := httptest.NewRecorder()
	corsRouter("http://localhost:5173/").ServeHTTP(resp, req)

	if resp.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.Code)
	}
	assertCORSHeaders(t, resp, "http://localhost:5173")
	if !strings.Contains(resp.Header().Get("Access-Control-Allow-Methods"), http.MethodPut) {
		t.Fatalf("expected PUT allowed, got %q", resp.Header().Get("Access-Control-Allow-Methods"))
	}
	if !strings.Contains(resp.Header().Get("Access-Control-Allow-Headers"), "X-Workspace-Id") {
		t.Fatalf("expected X-Workspace-Id allowed")
	}
}

func TestCORSHeadersOnScanTrigger(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/mail/connections/c1/scan", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	resp := httptest.NewRecorder()
	corsRouter("http://localhost:5173").ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	assertCORSHeaders(t, resp, "http://localhost:5173")
	if got := resp.Header().Get("Access-Control-Allow-Credentials"); got != "true" {
		t.Fatalf("expected credentials for listed origin, got %q", got)
	}
	if !strings.Contains(resp.Header().Get("Access-Control-Expose-Headers"), "Retry-After") {
		t.Fatalf("expected Retry-After exposed for rate limited scans")
	}
}

func TestCORSUnknownOriginGetsNoHeaders(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/mail/connections/c1/scan", nil)
	req.Header.Set("Origin", "https://evil.test")
	resp := httptest.NewRecorder()
	corsRouter("http://localhost:5173").ServeHTTP(resp, req)

	if got := resp.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("expected no Allow-Origin, got %q", got)
	}
}

func TestCORSWildcardOmitsCredentials(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/mail/connections/c1/scan", nil)
	req.Header.Set("Origin", "https://app.example.test")
	resp := httptest.NewRecorder()
	corsRouter("*").ServeHTTP(resp, req)

	assertCORSHeaders(t, resp, "*")
	if got := resp.Header().Get("Access-Control-Allow-Credentials"); got != "" {
		t.Fatalf("expected no credentials for wildcard, got %q", got)
	}
}

func assertCORSHeaders(t *testing.T, resp *httptest.ResponseRecorder, origin string) {
	t.Helper()
	if got := resp.Header().Get("Access-Control-Allow-Origin"); got != origin {
		t.Fatalf("expected Allow-Origin %s, got %q", origin, got)
	}
	if got := resp.Header().Get("Access-Control-Allow-Methods"); got == "" {
		t.Fatalf("expected Allow-Methods header")
	}
	if got := resp.Header().Get("Access-Control-Max-Age"); got != "600" {
		t.Fatalf("expected Max-Age 600, got %q", got)
	}
}
