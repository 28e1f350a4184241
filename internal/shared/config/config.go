package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds application configuration.
type Config struct {
	Port            string   `yaml:"port"`
	CORSAllowOrigin []string `yaml:"corsAllowOrigins"`
	Env             string   `yaml:"env"`
	DatabaseURL     string   `yaml:"databaseURL"`
	JWTSecret       string   `yaml:"jwtSecret"`

	ObjectStoreType string `yaml:"objectStore"`
	LocalStoreDir   string `yaml:"localStoreDir"`
	PublicBaseURL   string `yaml:"publicBaseURL"`
	AWSRegion       string `yaml:"awsRegion"`
	S3Bucket        string `yaml:"s3Bucket"`
	S3Prefix        string `yaml:"s3Prefix"`
	S3Endpoint      string `yaml:"s3Endpoint"`
	S3AccessKey     string `yaml:"s3AccessKey"`
	S3SecretKey     string `yaml:"s3SecretKey"`
	S3UsePathStyle  bool   `yaml:"s3UsePathStyle"`
	SSEKMSKeyID     string `yaml:"sseKmsKeyId"`

	RedisAddr     string        `yaml:"redisAddr"`
	RedisPassword string        `yaml:"redisPassword"`
	RedisDB       int           `yaml:"redisDB"`
	CacheTTL      time.Duration `yaml:"cacheTTL"`

	LLMProvider         string        `yaml:"llmProvider"`
	VisionModel         string        `yaml:"visionModel"`
	VisionFastModel     string        `yaml:"visionFastModel"`
	GeminiAPIKey        string        `yaml:"geminiApiKey"`
	OpenAIAPIKey        string        `yaml:"openaiApiKey"`
	SimpleThresholdKB   int           `yaml:"simpleThresholdKB"`
	SimpleMaxPages      int           `yaml:"simpleMaxPages"`
	VisionConcurrency   int           `yaml:"visionConcurrency"`
	VisionTimeout       time.Duration `yaml:"visionTimeout"`
	DocumentTimeout     time.Duration `yaml:"documentTimeout"`
	ExtractionBatchWait time.Duration `yaml:"extractionBatchWait"`
	BatchOCR            bool          `yaml:"batchOCR"`

	GoogleClientID     string `yaml:"googleClientID"`
	GoogleClientSecret string `yaml:"googleClientSecret"`
	GoogleRedirectURL  string `yaml:"googleRedirectURL"`
	UIRedirectURL      string `yaml:"uiRedirectURL"`
	TokenEncryptionKey string `yaml:"tokenEncryptionKey"`

	QueueBackend string `yaml:"queueBackend"`
	SQSQueueURL  string `yaml:"sqsQueueURL"`
	AMQPURL      string `yaml:"amqpURL"`
	AMQPQueue    string `yaml:"amqpQueue"`

	ScanMaxMessages      int           `yaml:"scanMaxMessages"`
	ScanBatchSize        int           `yaml:"scanBatchSize"`
	ScanBatchPause       time.Duration `yaml:"scanBatchPause"`
	ScanOverlap          time.Duration `yaml:"scanOverlap"`
	ScanScheduleInterval time.Duration `yaml:"scanScheduleInterval"`
	ScanSchedulerEnabled bool          `yaml:"scanSchedulerEnabled"`
	GmailRequestsPerSec  float64       `yaml:"gmailRequestsPerSec"`
}

// Defaults returns the configuration used when neither file nor env provide a value.
func Defaults() Config {
	return Config{
		Port:                 "8080",
		CORSAllowOrigin:      []string{"http://localhost:5173"},
		Env:                  "dev",
		ObjectStoreType:      "local",
		LocalStoreDir:        "./data",
		CacheTTL:             30 * 24 * time.Hour,
		LLMProvider:          "gemini",
		VisionModel:          "gemini-2.5-pro",
		VisionFastModel:      "gemini-2.5-flash",
		SimpleThresholdKB:    100,
		SimpleMaxPages:       2,
		VisionConcurrency:    10,
		VisionTimeout:        90 * time.Second,
		DocumentTimeout:      3 * time.Minute,
		ExtractionBatchWait:  500 * time.Millisecond,
		BatchOCR:             true,
		QueueBackend:         "memory",
		AMQPQueue:            "mail-ingest.tasks",
		ScanMaxMessages:      500,
		ScanBatchSize:        10,
		ScanBatchPause:       2 * time.Second,
		ScanOverlap:          2 * time.Hour,
		ScanScheduleInterval: 6 * time.Hour,
		GmailRequestsPerSec:  20,
	}
}

// Load reads configuration from an optional YAML file and environment variables.
// Environment variables win over the file; the file wins over defaults.
func Load() Config {
	// Best-effort load of local env files for dev convenience.
	loadEnvFiles(".env", "cmd/.env")

	cfg := Defaults()
	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		if err := loadFile(path, &cfg); err != nil {
			log.Printf("config: %v", err)
		}
	}
	applyEnv(&cfg)

	cfg.Env = normalizeEnv(cfg.Env)
	cfg.ObjectStoreType = normalizeStoreType(cfg.ObjectStoreType)
	cfg.QueueBackend = normalizeQueueBackend(cfg.QueueBackend)
	cfg.LLMProvider = strings.ToLower(strings.TrimSpace(cfg.LLMProvider))

	if cfg.Env == "production" && cfg.DatabaseURL == "" {
		log.Printf("DATABASE_URL is required in production")
	}
	if cfg.Env == "production" && cfg.TokenEncryptionKey == "" {
		log.Printf("TOKEN_ENCRYPTION_KEY is required in production")
	}
	return cfg
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	envString(&cfg.Port, "PORT")
	if v := os.Getenv("CORS_ALLOW_ORIGINS"); v != "" {
		cfg.CORSAllowOrigin = splitAndTrim(v)
	}
	envString(&cfg.Env, "ENV")
	envString(&cfg.DatabaseURL, "DATABASE_URL")
	envString(&cfg.JWTSecret, "JWT_SECRET")

	envString(&cfg.ObjectStoreType, "OBJECT_STORE")
	envString(&cfg.LocalStoreDir, "LOCAL_STORE_DIR")
	envString(&cfg.PublicBaseURL, "PUBLIC_BASE_URL")
	envString(&cfg.AWSRegion, "AWS_REGION")
	envString(&cfg.S3Bucket, "S3_BUCKET")
	envString(&cfg.S3Prefix, "S3_PREFIX")
	envString(&cfg.S3Endpoint, "S3_ENDPOINT")
	envString(&cfg.S3AccessKey, "S3_ACCESS_KEY")
	envString(&cfg.S3SecretKey, "S3_SECRET_KEY")
	envBool(&cfg.S3UsePathStyle, "S3_USE_PATH_STYLE")
	envString(&cfg.SSEKMSKeyID, "SSE_KMS_KEY_ID")

	envString(&cfg.RedisAddr, "REDIS_ADDR")
	envString(&cfg.RedisPassword, "REDIS_PASSWORD")
	envInt(&cfg.RedisDB, "REDIS_DB")
	envDuration(&cfg.CacheTTL, "EXTRACTION_CACHE_TTL")

	envString(&cfg.LLMProvider, "LLM_PROVIDER")
	envString(&cfg.VisionModel, "VISION_MODEL")
	envString(&cfg.VisionFastModel, "VISION_FAST_MODEL")
	envString(&cfg.GeminiAPIKey, "GEMINI_API_KEY")
	envString(&cfg.OpenAIAPIKey, "OPENAI_API_KEY")
	envInt(&cfg.SimpleThresholdKB, "VISION_SIMPLE_THRESHOLD_KB")
	envInt(&cfg.SimpleMaxPages, "VISION_SIMPLE_MAX_PAGES")
	envInt(&cfg.VisionConcurrency, "VISION_CONCURRENCY")
	envDuration(&cfg.VisionTimeout, "VISION_TIMEOUT")
	envDuration(&cfg.DocumentTimeout, "DOCUMENT_TIMEOUT")
	envDuration(&cfg.ExtractionBatchWait, "EXTRACTION_BATCH_WAIT")
	envBool(&cfg.BatchOCR, "BATCH_OCR")

	envString(&cfg.GoogleClientID, "GOOGLE_CLIENT_ID")
	envString(&cfg.GoogleClientSecret, "GOOGLE_CLIENT_SECRET")
	envString(&cfg.GoogleRedirectURL, "GOOGLE_REDIRECT_URL")
	envString(&cfg.UIRedirectURL, "UI_REDIRECT_URL")
	envString(&cfg.TokenEncryptionKey, "TOKEN_ENCRYPTION_KEY")

	envString(&cfg.QueueBackend, "QUEUE_BACKEND")
	envString(&cfg.SQSQueueURL, "SQS_QUEUE_URL")
	envString(&cfg.AMQPURL, "AMQP_URL")
	envString(&cfg.AMQPQueue, "AMQP_QUEUE")

	envInt(&cfg.ScanMaxMessages, "SCAN_MAX_MESSAGES")
	envInt(&cfg.ScanBatchSize, "SCAN_BATCH_SIZE")
	envDuration(&cfg.ScanBatchPause, "SCAN_BATCH_PAUSE")
	envDuration(&cfg.ScanOverlap, "SCAN_OVERLAP")
	envDuration(&cfg.ScanScheduleInterval, "SCAN_SCHEDULE_INTERVAL")
	envBool(&cfg.ScanSchedulerEnabled, "SCAN_SCHEDULER_ENABLED")
	envFloat(&cfg.GmailRequestsPerSec, "GMAIL_REQUESTS_PER_SEC")
}

func envString(dst *string, key string) {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		*dst = val
	}
}

func envInt(dst *int, key string) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		log.Printf("config env %s invalid int: %v", key, err)
		return
	}
	*dst = val
}

func envFloat(dst *float64, key string) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return
	}
	val, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		log.Printf("config env %s invalid float: %v", key, err)
		return
	}
	*dst = val
}

func envBool(dst *bool, key string) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return
	}
	val, err := strconv.ParseBool(raw)
	if err != nil {
		log.Printf("config env %s invalid bool: %v", key, err)
		return
	}
	*dst = val
}

func envDuration(dst *time.Duration, key string) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return
	}
	val, err := time.ParseDuration(raw)
	if err != nil {
		log.Printf("config env %s invalid duration: %v", key, err)
		return
	}
	*dst = val
}

func splitAndTrim(raw string) []string {
	parts := strings.Split(raw, ",")
	var out []string
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func normalizeEnv(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "production", "prod":
		return "production"
	case "staging":
		return "staging"
	case "local":
		return "local"
	default:
		return "dev"
	}
}

func normalizeStoreType(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "s3", "r2":
		return "s3"
	case "minio":
		return "minio"
	default:
		return "local"
	}
}

func normalizeQueueBackend(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "sqs":
		return "sqs"
	case "amqp", "rabbitmq":
		return "amqp"
	default:
		return "memory"
	}
}

// IsDevLike reports whether the environment tolerates in-memory fallbacks.
func (c Config) IsDevLike() bool {
	switch c.Env {
	case "dev", "local":
		return true
	default:
		return false
	}
}
