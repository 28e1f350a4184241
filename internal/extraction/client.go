package extraction

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"mail-ingest/internal/extract"
	"mail-ingest/internal/llm"
	"mail-ingest/internal/normalize"
	"mail-ingest/internal/shared/metrics"
	"mail-ingest/internal/shared/telemetry"
	"mail-ingest/internal/shared/util"
)

// schemaMismatchConfidence caps the confidence of answers that do not match the schema.
const schemaMismatchConfidence = 0.5

// ErrEmptyInput is returned for a document without bytes.
var ErrEmptyInput = errors.New("extraction input is empty")

// Client runs vision extractions.
type Client struct {
	gen   llm.Generator
	cache Cache
	opts  Options
	sleep func(ctx context.Context, d time.Duration) error
}

// New builds a Client. gen should already carry transient-error retries (llm.WithRetry).
// A nil cache disables caching.
func New(gen llm.Generator, cache Cache, opts Options) (*Client, error) {
	if gen == nil {
		return nil, errors.New("extraction: generator is required")
	}
	if _, err := outputSchema(); err != nil {
		return nil, err
	}
	if cache == nil {
		cache = NopCache{}
	}
	return &Client{gen: gen, cache: cache, opts: opts.withDefaults(), sleep: sleepCtx}, nil
}

// Classify rates a document simple when it is below the size threshold, unless it is a
// PDF with more than maxPages pages.
func Classify(data []byte, thresholdKB, maxPages int) Complexity {
	if maxPages > 0 && extract.IsPDF(data) {
		if pages, err := extract.PageCount(data); err == nil && pages > maxPages {
			return Complex
		}
	}
	if len(data) < thresholdKB*1024 {
		return Simple
	}
	return Complex
}

// SelectModel returns the fast model only for simple documents in batch mode.
func (c *Client) SelectModel(complexity Complexity, batch bool) string {
	if batch && complexity == Simple {
		return c.opts.FastModel
	}
	return c.opts.QualityModel
}

// Extract reads one document with the quality model.
func (c *Client) Extract(ctx context.Context, in Input) (Result, error) {
	return c.extract(ctx, in, false)
}

// ExtractBatch reads documents concurrently in waves of Concurrency. Errors are
// reported per item and never fail the batch.
func (c *Client) ExtractBatch(ctx context.Context, inputs []Input) []BatchItem {
	out := make([]BatchItem, len(inputs))
	width := c.opts.Concurrency
	for start := 0; start < len(inputs); start += width {
		if start > 0 && c.opts.WaveDelay > 0 {
			if err := c.sleep(ctx, c.opts.WaveDelay); err != nil {
				for i := start; i < len(inputs); i++ {
					out[i].Err = err
				}
				return out
			}
		}
		end := min(start+width, len(inputs))
		var g errgroup.Group
		g.SetLimit(width)
		for i := start; i < end; i++ {
			i := i
			g.Go(func() error {
				res, err := c.extract(ctx, inputs[i], true)
				out[i] = BatchItem{Result: res, Err: err}
				return nil
			})
		}
		_ = g.Wait()
	}
	return out
}

func (c *Client) extract(ctx context.Context, in Input, batch bool) (Result, error) {
	if len(in.Data) == 0 {
		return Result{}, ErrEmptyInput
	}
	hash := util.ContentHash(in.Data)
	if cached, ok := c.cache.Get(ctx, hash); ok && cached != nil {
		res := *cached
		res.FromCache = true
		return res, nil
	}

	ctx, cancel := context.WithTimeout(ctx, c.opts.DocumentTimeout)
	defer cancel()

	started := time.Now()
	mimeType := extract.NormalizeMimeType(in.MimeType, in.FileName, in.Data)
	complexity := Classify(in.Data, c.opts.SimpleThresholdKB, c.opts.SimpleMaxPages)
	model := c.SelectModel(complexity, batch)
	req := llm.Request{
		Model:    model,
		System:   SystemInstruction(),
		Prompt:   userPrompt,
		Document: &llm.Document{Data: in.Data, MimeType: mimeType, FileName: in.FileName},
		JSON:     true,
	}

	var res Result
	for attempt := 1; attempt <= 2; attempt++ {
		text, err := c.gen.Generate(ctx, req)
		if err != nil {
			metrics.IncExtractionFailed()
			telemetry.Warn("extraction.failed", map[string]any{
				"model":   model,
				"attempt": attempt,
				"file":    in.FileName,
				"error":   err.Error(),
			})
			return Result{}, fmt.Errorf("extract %s: %w", in.FileName, err)
		}
		res = buildResult(text)
		res.Attempts = attempt
		if res.Fallback || !onlyCounterpartyFound(res.Data) || attempt == 2 {
			break
		}
		metrics.IncExtractionRetry()
		telemetry.Info("extraction.quality_retry", map[string]any{"model": model, "file": in.FileName})
	}
	res.Model = model
	res.Complexity = complexity
	res.PromptVersion = PromptVersion

	if !res.Fallback {
		if err := validateOutput(res.Data); err != nil {
			res.Confidence = min(res.Confidence, schemaMismatchConfidence)
			telemetry.Warn("extraction.schema_mismatch", map[string]any{"model": model, "error": err.Error()})
		} else {
			res.SchemaValid = true
		}
		c.cache.Set(ctx, hash, res)
	}

	metrics.ObserveExtractionDurationMs(metrics.SinceMs(started))
	telemetry.Info("extraction.completed", map[string]any{
		"model":      model,
		"complexity": string(complexity),
		"attempts":   res.Attempts,
		"confidence": res.Confidence,
		"partial":    res.Partial,
		"fallback":   res.Fallback,
		"durationMs": time.Since(started).Milliseconds(),
	})
	return res, nil
}

func buildResult(text string) Result {
	data, ok := ParseResponse(text)
	if !ok {
		return Result{
			Data:       fallbackData(text),
			RawText:    text,
			Confidence: FallbackConfidence,
			Fallback:   true,
			Partial:    true,
		}
	}
	fields := normalize.Normalize(data)
	raw, _ := data["rawText"].(string)
	return Result{
		Data:       data,
		RawText:    strings.TrimSpace(raw),
		Confidence: fields.Confidence,
		Partial:    fields.Total == 0 || fields.IssueDate == nil,
	}
}

// onlyCounterpartyFound reports an answer that names the vendor but carries no total,
// date, number or line item.
func onlyCounterpartyFound(data map[string]any) bool {
	f := normalize.Normalize(data)
	return f.Counterparty.Name != "" &&
		f.Total == 0 &&
		f.TotalPreTax == 0 &&
		f.IssueDate == nil &&
		f.DocumentNumber == "" &&
		len(f.LineItems) == 0
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
