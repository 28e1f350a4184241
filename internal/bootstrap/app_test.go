package bootstrap

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"mail-ingest/internal/extraction/cache"
	"mail-ingest/internal/llm"
	"mail-ingest/internal/shared/config"
	"mail-ingest/internal/shared/storage/db"
)

func devConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Defaults()
	cfg.Env = "dev"
	cfg.DatabaseURL = ""
	cfg.RedisAddr = ""
	cfg.GeminiAPIKey = ""
	cfg.LocalStoreDir = t.TempDir()
	return cfg
}

func TestBuildDevUsesInMemoryBackends(t *testing.T) {
	app, err := Build(devConfig(t))
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer app.Close()

	if app.DB != nil {
		t.Fatalf("expected no database")
	}
	if app.MemoryQueue == nil || app.Queue == nil {
		t.Fatalf("expected in-memory queue")
	}
	if _, ok := app.Cache.(*cache.MemoryCache); !ok {
		t.Fatalf("expected memory cache, got %T", app.Cache)
	}
	if app.Processor == nil || app.Scheduler == nil || app.MailService == nil {
		t.Fatalf("expected mail services wired")
	}

	w := httptest.NewRecorder()
	app.Router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected health 200, got %d: %s", w.Code, w.Body.String())
	}

	w = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/mail/connections", nil)
	req.Header.Set("X-Workspace-Id", "ws-1")
	req.Header.Set("X-User-Id", "user-1")
	app.Router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected connections 200, got %d: %s", w.Code, w.Body.String())
	}
}

func TestBuildProductionRequiresDatabase(t *testing.T) {
	cfg := devConfig(t)
	cfg.Env = "production"
	if _, err := Build(cfg); err == nil {
		t.Fatalf("expected error without DATABASE_URL")
	}
}

func TestBuildCipherRequiresKeyInProduction(t *testing.T) {
	cfg := devConfig(t)
	cfg.Env = "production"
	if _, err := buildCipher(cfg); err == nil {
		t.Fatalf("expected error without TOKEN_ENCRYPTION_KEY")
	}
	cfg.Env = "dev"
	if _, err := buildCipher(cfg); err != nil {
		t.Fatalf("dev cipher: %v", err)
	}
}

func TestBuildGeneratorWithoutKeyIsDisabled(t *testing.T) {
	gen, err := buildGenerator(devConfig(t))
	if err != nil {
		t.Fatalf("generator: %v", err)
	}
	if _, ok := gen.(llm.Disabled); !ok {
		t.Fatalf("expected disabled generator, got %T", gen)
	}
}

func TestPoolOptionsFollowRuntime(t *testing.T) {
	t.Setenv("AWS_LAMBDA_FUNCTION_NAME", "")
	if got := poolOptions(); got.MaxOpenConns != db.DefaultServerOptions().MaxOpenConns {
		t.Fatalf("expected server pool, got %+v", got)
	}
	t.Setenv("AWS_LAMBDA_FUNCTION_NAME", "mail-ingest-worker")
	if got := poolOptions(); got.MaxOpenConns != db.DefaultLambdaOptions().MaxOpenConns {
		t.Fatalf("expected lambda pool, got %+v", got)
	}
}
