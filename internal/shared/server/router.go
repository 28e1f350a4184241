package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"mail-ingest/internal/connections"
	"mail-ingest/internal/documents"
	"mail-ingest/internal/mailsync"
	"mail-ingest/internal/services/health"
	"mail-ingest/internal/shared/auth"
	"mail-ingest/internal/shared/config"
	"mail-ingest/internal/shared/metrics"
	"mail-ingest/internal/shared/server/middleware"
	"mail-ingest/internal/shared/server/respond"
)

// RouterDeps carries the handlers mounted on the API. Nil handlers are skipped.
type RouterDeps struct {
	Config            config.Config
	Verifier          *auth.Verifier
	Health            *health.Service
	DocumentHandler   *documents.Handler
	ConnectionHandler *connections.Handler
	Linker            *connections.Linker
	MailHandler       *mailsync.Handler
	RateLimiter       *middleware.RateLimiter
}

// NewRouter constructs the Gin engine with middleware and routes registered.
func NewRouter(deps RouterDeps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	limiter := deps.RateLimiter
	if limiter == nil {
		limiter = middleware.NewRateLimiter(time.Now)
	}

	r.Use(
		middleware.RequestID(),
		middleware.Logging(),
		middleware.Recovery(),
		middleware.CORS(deps.Config.CORSAllowOrigin),
	)

	r.GET("/metrics", metrics.Handler())

	api := r.Group("/api/v1")
	api.GET("/health", func(c *gin.Context) {
		if deps.Health == nil {
			respond.JSON(c, http.StatusOK, gin.H{"ok": true})
			return
		}
		ok, checks := deps.Health.Status(c.Request.Context())
		status := http.StatusOK
		if !ok {
			status = http.StatusServiceUnavailable
		}
		respond.JSON(c, status, gin.H{"ok": ok, "checks": checks})
	})

	api.Use(
		middleware.Auth(deps.Verifier, deps.Config.Env),
		middleware.RateLimit(middleware.RateLimitConfig{
			DefaultGroup: "DEFAULT",
			GroupFor:     middleware.ScanGroupFor,
			Limiter:      limiter,
			Rules: map[string]middleware.RateLimitRule{
				"DEFAULT":                     {Rate: 10, Burst: 30},
				middleware.ScanRateLimitGroup: {Rate: 0.2, Burst: 3},
			},
		}),
	)
	api.GET("/me", me)

	if deps.Linker != nil {
		deps.Linker.RegisterRoutes(api)
	}
	if deps.DocumentHandler != nil {
		deps.DocumentHandler.RegisterRoutes(api)
	}
	if deps.ConnectionHandler != nil {
		deps.ConnectionHandler.RegisterRoutes(api)
	}
	if deps.MailHandler != nil {
		deps.MailHandler.RegisterRoutes(api)
	}

	return r
}

func me(c *gin.Context) {
	userID := middleware.UserIDFromContext(c)
	if userID == "" {
		respond.Error(c, http.StatusUnauthorized, "unauthorized", "missing or invalid token", nil)
		return
	}
	resp := gin.H{
		"userId":      userID,
		"workspaceId": middleware.WorkspaceIDFromContext(c),
	}
	if email := middleware.UserEmailFromContext(c); email != "" {
		resp["email"] = email
	}
	respond.OK(c, resp)
}

// Addr normalizes the listen address.
func Addr(port string) string {
	if port == "" {
		return ":8080"
	}
	if port[0] == ':' {
		return port
	}
	return ":" + port
}
