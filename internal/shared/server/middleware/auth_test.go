package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	jwt "github.com/golang-jwt/jwt/v5"

	"mail-ingest/internal/shared/auth"
)

func newAuthRouter(t *testing.T, env string) (*gin.Engine, *auth.Verifier) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	verifier, err := auth.NewVerifier("test-secret", env)
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}
	router := gin.New()
	router.Use(Auth(verifier, env))
	router.GET("/api/v1/whoami", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"workspace": WorkspaceIDFromContext(c), "user": UserIDFromContext(c)})
	})
	router.GET("/api/v1/mail/oauth/callback", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	router.OPTIONS("/api/v1/documents", func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	return router, verifier
}

func TestAuthAllowsOptionsWithoutIdentity(t *testing.T) {
	router, _ := newAuthRouter(t, "dev")

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/documents", nil)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.Code)
	}
}

func TestAuthBearerToken(t *testing.T) {
	router, verifier := newAuthRouter(t, "production")
	token, err := verifier.Sign(auth.Claims{WorkspaceID: "ws-9", RegisteredClaims: jwt.RegisteredClaims{Subject: "user-9"}})
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/whoami", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	if body := resp.Body.String(); body != `{"user":"user-9","workspace":"ws-9"}` {
		t.Fatalf("unexpected identity %s", body)
	}
}

func TestAuthDevHeadersOnlyOutsideProduction(t *testing.T) {
	cases := []struct {
		env  string
		want int
	}{
		{env: "dev", want: http.StatusOK},
		{env: "production", want: http.StatusUnauthorized},
	}
	for _, tc := range cases {
		router, _ := newAuthRouter(t, tc.env)
		req := httptest.NewRequest(http.MethodGet, "/api/v1/whoami", nil)
		req.Header.Set("X-Workspace-Id", "ws-1")
		req.Header.Set("X-User-Id", "user-1")
		resp := httptest.NewRecorder()
		router.ServeHTTP(resp, req)
		if resp.Code != tc.want {
			t.Fatalf("env %s: expected %d, got %d", tc.env, tc.want, resp.Code)
		}
	}
}

func TestAuthSkipsOAuthCallback(t *testing.T) {
	router, _ := newAuthRouter(t, "production")
	req := httptest.NewRequest(http.MethodGet, "/api/v1/mail/oauth/callback?state=x", nil)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected callback to bypass auth, got %d", resp.Code)
	}
}

func TestAuthRejectsBadToken(t *testing.T) {
	router, _ := newAuthRouter(t, "dev")
	req := httptest.NewRequest(http.MethodGet, "/api/v1/whoami", nil)
	req.Header.Set("Authorization", "Bearer nope")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.Code)
	}
}
