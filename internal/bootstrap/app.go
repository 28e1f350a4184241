package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"mail-ingest/internal/connections"
	"mail-ingest/internal/dedupe"
	"mail-ingest/internal/documents"
	"mail-ingest/internal/extraction"
	"mail-ingest/internal/extraction/cache"
	"mail-ingest/internal/gmail"
	"mail-ingest/internal/llm"
	"mail-ingest/internal/llm/gemini"
	"mail-ingest/internal/llm/openai"
	"mail-ingest/internal/mailsync"
	"mail-ingest/internal/oauthtoken"
	"mail-ingest/internal/processed"
	"mail-ingest/internal/queue"
	"mail-ingest/internal/services/health"
	"mail-ingest/internal/shared/auth"
	"mail-ingest/internal/shared/config"
	"mail-ingest/internal/shared/secrets"
	"mail-ingest/internal/shared/server"
	"mail-ingest/internal/shared/storage/db"
	"mail-ingest/internal/shared/storage/object"
	localstore "mail-ingest/internal/shared/storage/object/local"
	miniostore "mail-ingest/internal/shared/storage/object/minio"
	s3store "mail-ingest/internal/shared/storage/object/s3"
	"mail-ingest/internal/workerproc"
)

const (
	gmailTimeout     = 30 * time.Second
	memoryQueueSize  = 1024
	devTokenKeyLabel = "mail-ingest-dev-token-key"
)

// App holds shared dependencies for every process.
type App struct {
	Config config.Config
	Router *gin.Engine
	DB     *sql.DB
	Store  object.Store

	// Queue is where tasks are sent. MemoryQueue is set when the in-process backend is used
	// so the API can drain it itself.
	Queue       queue.Client
	MemoryQueue *queue.MemoryQueue
	AMQP        *queue.AMQPClient
	SQS         *queue.SQSClient

	ConnectionsRepo connections.Repo
	DocumentsRepo   documents.Repo
	ProcessedRepo   processed.Repo

	Cipher     *secrets.Cipher
	Verifier   *auth.Verifier
	Tokens     *oauthtoken.Manager
	Gmail      *gmail.Client
	Cache      extraction.Cache
	Extraction *extraction.Client

	Pipeline    *mailsync.Pipeline
	Scanner     *mailsync.Scanner
	MailService *mailsync.Service
	Importer    *mailsync.Importer
	Scheduler   *mailsync.Scheduler
	Processor   *workerproc.Processor
	Health      *health.Service

	closers []func() error
}

// Build prepares shared dependencies and the HTTP router.
func Build(cfg config.Config) (*App, error) {
	if strings.TrimSpace(cfg.Env) == "" {
		cfg.Env = "dev"
	}
	if strings.TrimSpace(cfg.ObjectStoreType) == "" {
		cfg.ObjectStoreType = "local"
	}
	ctx := context.Background()

	app := &App{Config: cfg}

	sqlDB, shared, err := buildDB(ctx, cfg)
	if err != nil {
		return nil, err
	}
	app.DB = sqlDB
	if sqlDB != nil && !shared {
		app.closers = append(app.closers, sqlDB.Close)
	}

	if app.Store, err = buildStore(ctx, cfg); err != nil {
		return nil, err
	}
	if err := app.buildQueue(ctx); err != nil {
		return nil, err
	}
	if err := app.buildServices(ctx); err != nil {
		_ = app.Close()
		return nil, err
	}

	app.Router = server.NewRouter(server.RouterDeps{
		Config:            cfg,
		Verifier:          app.Verifier,
		Health:            app.Health,
		DocumentHandler:   documents.NewHandler(&documents.Service{Repo: app.DocumentsRepo}),
		ConnectionHandler: connections.NewHandler(app.ConnectionsRepo),
		Linker: connections.NewLinker(
			connections.OAuthConfig(cfg.GoogleClientID, cfg.GoogleClientSecret, cfg.GoogleRedirectURL),
			app.ConnectionsRepo,
			app.Cipher,
			cfg.UIRedirectURL,
		),
		MailHandler: mailsync.NewHandler(app.MailService, app.Importer),
	})

	return app, nil
}

// Close releases database, cache and broker connections.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// buildDB returns the pool and whether it is the process-wide Lambda singleton, which
// outlives the App.
func buildDB(ctx context.Context, cfg config.Config) (*sql.DB, bool, error) {
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		if cfg.IsDevLike() {
			log.Printf("bootstrap: DATABASE_URL empty; using in-memory repositories")
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("DATABASE_URL is required")
	}

	var (
		sqlDB  *sql.DB
		err    error
		shared = db.IsLambdaRuntime()
	)
	if shared {
		sqlDB, err = db.GetSingleton(ctx, cfg.DatabaseURL, poolOptions())
	} else {
		sqlDB, err = db.Connect(ctx, cfg.DatabaseURL, poolOptions())
	}
	if err != nil {
		if cfg.IsDevLike() {
			log.Printf("bootstrap: database connect failed; using in-memory repositories: %v", err)
			return nil, false, nil
		}
		return nil, false, err
	}
	return sqlDB, shared, nil
}

func poolOptions() db.Options {
	if db.IsLambdaRuntime() {
		return db.OptionsFromEnv(db.DefaultLambdaOptions())
	}
	return db.OptionsFromEnv(db.DefaultServerOptions())
}

func buildStore(ctx context.Context, cfg config.Config) (object.Store, error) {
	switch cfg.ObjectStoreType {
	case "s3":
		return s3store.New(ctx, s3store.Options{
			Region:        cfg.AWSRegion,
			Bucket:        cfg.S3Bucket,
			Prefix:        cfg.S3Prefix,
			Endpoint:      cfg.S3Endpoint,
			AccessKey:     cfg.S3AccessKey,
			SecretKey:     cfg.S3SecretKey,
			UsePathStyle:  cfg.S3UsePathStyle,
			KMSKeyID:      cfg.SSEKMSKeyID,
			PublicBaseURL: cfg.PublicBaseURL,
		})
	case "minio":
		return miniostore.New(ctx, cfg.S3Endpoint, cfg.S3AccessKey, cfg.S3SecretKey, cfg.S3Bucket, cfg.PublicBaseURL)
	default:
		return localstore.New(cfg.LocalStoreDir, cfg.PublicBaseURL), nil
	}
}

func (a *App) buildQueue(ctx context.Context) error {
	switch a.Config.QueueBackend {
	case "sqs":
		if strings.TrimSpace(a.Config.SQSQueueURL) == "" {
			return fmt.Errorf("QUEUE_BACKEND=sqs requires SQS_QUEUE_URL")
		}
		client, err := queue.NewSQSClient(ctx, a.Config.SQSQueueURL, a.Config.AWSRegion)
		if err != nil {
			return err
		}
		a.SQS = client
		a.Queue = client
	case "amqp":
		if strings.TrimSpace(a.Config.AMQPURL) == "" {
			return fmt.Errorf("QUEUE_BACKEND=amqp requires AMQP_URL")
		}
		client, err := queue.DialAMQP(a.Config.AMQPURL, a.Config.AMQPQueue)
		if err != nil {
			return err
		}
		a.AMQP = client
		a.Queue = client
		a.closers = append(a.closers, client.Close)
	default:
		a.MemoryQueue = queue.NewMemory(memoryQueueSize)
		a.Queue = a.MemoryQueue
	}
	return nil
}

func (a *App) buildServices(ctx context.Context) error {
	cfg := a.Config

	if a.DB != nil {
		a.ConnectionsRepo = &connections.PGRepo{DB: a.DB}
		a.DocumentsRepo = &documents.PGRepo{DB: a.DB}
		a.ProcessedRepo = &processed.PGRepo{DB: a.DB}
	} else {
		a.ConnectionsRepo = connections.NewMemoryRepo()
		a.DocumentsRepo = documents.NewMemoryRepo()
		a.ProcessedRepo = processed.NewMemoryRepo()
	}

	cipher, err := buildCipher(cfg)
	if err != nil {
		return err
	}
	a.Cipher = cipher

	if a.Verifier, err = auth.NewVerifier(cfg.JWTSecret, cfg.Env); err != nil {
		return err
	}

	oauthConfig := connections.OAuthConfig(cfg.GoogleClientID, cfg.GoogleClientSecret, cfg.GoogleRedirectURL)
	a.Tokens = oauthtoken.New(oauthConfig, a.ConnectionsRepo, cipher)
	a.Gmail = gmail.New(cfg.GmailRequestsPerSec, gmailTimeout)

	gen, err := buildGenerator(cfg)
	if err != nil {
		return err
	}
	a.Cache = a.buildCache(ctx)
	a.Extraction, err = extraction.New(gen, a.Cache, extraction.Options{
		QualityModel:      cfg.VisionModel,
		FastModel:         cfg.VisionFastModel,
		SimpleThresholdKB: cfg.SimpleThresholdKB,
		SimpleMaxPages:    cfg.SimpleMaxPages,
		Concurrency:       cfg.VisionConcurrency,
		DocumentTimeout:   cfg.DocumentTimeout,
		WaveDelay:         cfg.ExtractionBatchWait,
	})
	if err != nil {
		return err
	}

	a.Pipeline = &mailsync.Pipeline{
		Store:     a.Store,
		Extractor: a.Extraction,
		Dedupe:    dedupe.New(a.DocumentsRepo),
		Documents: a.DocumentsRepo,
		Tasks:     a.Queue,
		BatchOCR:  cfg.BatchOCR,
	}
	a.Scanner = mailsync.NewScanner(a.ConnectionsRepo, a.ProcessedRepo, a.Gmail, a.Tokens, a.Pipeline, mailsync.Options{
		MaxMessages: cfg.ScanMaxMessages,
		BatchSize:   cfg.ScanBatchSize,
		BatchPause:  cfg.ScanBatchPause,
		Overlap:     cfg.ScanOverlap,
	})
	a.MailService = mailsync.NewService(a.ConnectionsRepo, a.DocumentsRepo, a.Scanner, a.Tokens, a.Queue)
	a.Importer = mailsync.NewImporter(a.ProcessedRepo, a.Pipeline)
	a.Scheduler = mailsync.NewScheduler(a.ConnectionsRepo, a.MailService, cfg.ScanScheduleInterval, 0)
	a.Processor = &workerproc.Processor{Scans: a.MailService, Documents: a.DocumentsRepo}
	a.Health = health.NewService(a.healthChecks())
	return nil
}

func buildCipher(cfg config.Config) (*secrets.Cipher, error) {
	key := cfg.TokenEncryptionKey
	if strings.TrimSpace(key) == "" {
		if !cfg.IsDevLike() {
			return nil, fmt.Errorf("TOKEN_ENCRYPTION_KEY is required")
		}
		log.Printf("bootstrap: TOKEN_ENCRYPTION_KEY empty; using an insecure development key")
		key = devTokenKeyLabel
	}
	return secrets.NewCipher(key)
}

func buildGenerator(cfg config.Config) (llm.Generator, error) {
	var base llm.Generator
	switch cfg.LLMProvider {
	case "openai":
		if strings.TrimSpace(cfg.OpenAIAPIKey) == "" {
			log.Printf("bootstrap: OPENAI_API_KEY empty; extraction disabled")
			return llm.Disabled{}, nil
		}
		client, err := openai.NewClient(cfg.OpenAIAPIKey, cfg.VisionTimeout)
		if err != nil {
			return nil, err
		}
		base = client
	default:
		if strings.TrimSpace(cfg.GeminiAPIKey) == "" {
			log.Printf("bootstrap: GEMINI_API_KEY empty; extraction disabled")
			return llm.Disabled{}, nil
		}
		client, err := gemini.NewClient(cfg.GeminiAPIKey, cfg.VisionTimeout)
		if err != nil {
			return nil, err
		}
		base = client
	}
	return llm.WithRetry(base, llm.RetryOptions{}), nil
}

func (a *App) buildCache(ctx context.Context) extraction.Cache {
	if strings.TrimSpace(a.Config.RedisAddr) == "" {
		return cache.NewMemory(a.Config.CacheTTL)
	}
	rc := cache.Dial(a.Config.RedisAddr, a.Config.RedisPassword, a.Config.RedisDB, a.Config.CacheTTL)
	if err := rc.Ping(ctx); err != nil {
		// Misses are tolerated, so an unreachable cache at startup is not fatal.
		log.Printf("bootstrap: redis ping failed: %v", err)
	}
	a.closers = append(a.closers, rc.Close)
	return rc
}

func (a *App) healthChecks() map[string]health.Check {
	checks := map[string]health.Check{}
	if a.DB != nil {
		checks["database"] = func(ctx context.Context) error { return db.Ping(ctx, a.DB) }
	}
	if rc, ok := a.Cache.(*cache.RedisCache); ok {
		checks["cache"] = rc.Ping
	}
	return checks
}
