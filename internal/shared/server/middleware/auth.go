package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"mail-ingest/internal/shared/auth"
	"mail-ingest/internal/shared/server/respond"
)

const (
	userIDKey      = "userId"
	workspaceIDKey = "workspaceId"
	userEmailKey   = "userEmail"
)

// publicPaths skip identity checks. The OAuth callback is reached by a browser redirect
// and carries its identity in the state parameter.
var publicPaths = map[string]bool{
	"/api/v1/mail/oauth/callback": true,
}

// Auth validates bearer tokens and stores the caller identity in context. In dev
// environments the X-Workspace-Id and X-User-Id headers are accepted instead.
func Auth(verifier *auth.Verifier, env string) gin.HandlerFunc {
	devHeaders := env == "dev" || env == "local"
	return func(c *gin.Context) {
		if c.Request.Method == http.MethodOptions {
			c.Status(http.StatusNoContent)
			return
		}
		if publicPaths[c.Request.URL.Path] {
			c.Next()
			return
		}

		authHeader := strings.TrimSpace(c.GetHeader("Authorization"))
		if authHeader != "" {
			if !strings.HasPrefix(authHeader, "Bearer ") || verifier == nil {
				respond.Error(c, http.StatusUnauthorized, "unauthorized", "missing or invalid token", nil)
				return
			}
			token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer"))
			claims, err := verifier.Verify(token)
			if err != nil {
				respond.Error(c, http.StatusUnauthorized, "unauthorized", "missing or invalid token", nil)
				return
			}
			c.Set(userIDKey, claims.Subject)
			c.Set(workspaceIDKey, claims.WorkspaceID)
			if claims.Email != "" {
				c.Set(userEmailKey, claims.Email)
			}
			c.Next()
			return
		}

		if devHeaders {
			workspaceID := strings.TrimSpace(c.GetHeader("X-Workspace-Id"))
			userID := strings.TrimSpace(c.GetHeader("X-User-Id"))
			if workspaceID != "" && userID != "" {
				c.Set(userIDKey, userID)
				c.Set(workspaceIDKey, workspaceID)
				c.Next()
				return
			}
		}

		respond.Error(c, http.StatusUnauthorized, "unauthorized", "Missing identity", nil)
	}
}

// UserIDFromContext fetches the user ID set by the auth middleware.
func UserIDFromContext(c *gin.Context) string {
	return stringValue(c, userIDKey)
}

// WorkspaceIDFromContext fetches the workspace ID set by the auth middleware.
func WorkspaceIDFromContext(c *gin.Context) string {
	return stringValue(c, workspaceIDKey)
}

// UserEmailFromContext fetches the email claim, when the token carried one.
func UserEmailFromContext(c *gin.Context) string {
	return stringValue(c, userEmailKey)
}

func stringValue(c *gin.Context, key string) string {
	if c == nil {
		return ""
	}
	val, _ := c.Get(key)
	if s, ok := val.(string); ok {
		return s
	}
	return ""
}
