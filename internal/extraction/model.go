// Package extraction reads invoices and quotes with a vision model: it picks a model by
// document complexity, parses and checks the answer, and consults a content-addressed
// cache around every call.
package extraction

import (
	"context"
	"time"
)

// Complexity decides which model reads a document in batch mode.
type Complexity string

const (
	Simple  Complexity = "simple"
	Complex Complexity = "complex"
)

// Input is one document to read.
type Input struct {
	Data     []byte
	MimeType string
	FileName string
}

// Result is the structured reading of one document. Data holds the model's JSON object
// (vendor, client, totals, dates, line items, confidence...) for the normalizer.
type Result struct {
	Data          map[string]any `json:"data"`
	RawText       string         `json:"rawText,omitempty"`
	Confidence    float64        `json:"confidence"`
	Model         string         `json:"model"`
	Complexity    Complexity     `json:"complexity"`
	PromptVersion string         `json:"promptVersion"`
	Partial       bool           `json:"partial"`
	Fallback      bool           `json:"fallback"`
	SchemaValid   bool           `json:"schemaValid"`
	CachedAt      *time.Time     `json:"cachedAt,omitempty"`

	FromCache bool `json:"-"`
	Attempts  int  `json:"-"`
}

// BatchItem pairs an ExtractBatch result with its per-item error.
type BatchItem struct {
	Result Result
	Err    error
}

// Cache stores results by content hash. Implementations degrade every backend failure
// to a miss.
type Cache interface {
	Get(ctx context.Context, hash string) (*Result, bool)
	Set(ctx context.Context, hash string, result Result)
}

// NopCache never hits.
type NopCache struct{}

func (NopCache) Get(context.Context, string) (*Result, bool) { return nil, false }
func (NopCache) Set(context.Context, string, Result)         {}

// Options tunes model selection and batching.
type Options struct {
	QualityModel      string
	FastModel         string
	SimpleThresholdKB int
	SimpleMaxPages    int
	Concurrency       int
	DocumentTimeout   time.Duration
	WaveDelay         time.Duration
}

// DefaultOptions mirrors the configuration defaults.
func DefaultOptions() Options {
	return Options{
		QualityModel:      "gemini-2.5-pro",
		FastModel:         "gemini-2.5-flash",
		SimpleThresholdKB: 100,
		SimpleMaxPages:    2,
		Concurrency:       10,
		DocumentTimeout:   3 * time.Minute,
		WaveDelay:         500 * time.Millisecond,
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.QualityModel == "" {
		o.QualityModel = def.QualityModel
	}
	if o.FastModel == "" {
		o.FastModel = o.QualityModel
	}
	if o.SimpleThresholdKB <= 0 {
		o.SimpleThresholdKB = def.SimpleThresholdKB
	}
	if o.Concurrency <= 0 {
		o.Concurrency = def.Concurrency
	}
	if o.DocumentTimeout <= 0 {
		o.DocumentTimeout = def.DocumentTimeout
	}
	if o.WaveDelay < 0 {
		o.WaveDelay = 0
	}
	return o
}
