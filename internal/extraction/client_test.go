package extraction

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mail-ingest/internal/llm"
	"mail-ingest/internal/shared/util"
)

const completeAnswer = `{
  "documentType": "invoice",
  "vendor": {"name": "Acme SAS", "country": "France"},
  "invoiceNumber": "INV-42",
  "invoiceDate": "2025-01-15",
  "totals": {"totalHT": 100, "totalTVA": 20, "totalTTC": 120},
  "currency": "EUR",
  "confidence": 0.93
}`

const vendorOnlyAnswer = `{"vendor": {"name": "Acme SAS"}, "totals": null, "confidence": 0.4}`

type scriptedGen struct {
	mu      sync.Mutex
	answers []string
	err     error
	calls   int
	models  []string
}

func (g *scriptedGen) Generate(ctx context.Context, req llm.Request) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	g.models = append(g.models, req.Model)
	if g.err != nil {
		return "", g.err
	}
	answer := g.answers[len(g.answers)-1]
	if g.calls <= len(g.answers) {
		answer = g.answers[g.calls-1]
	}
	return answer, nil
}

type mapCache struct {
	mu   sync.Mutex
	data map[string]Result
}

func newMapCache() *mapCache { return &mapCache{data: map[string]Result{}} }

func (c *mapCache) Get(_ context.Context, hash string) (*Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.data[hash]
	if !ok {
		return nil, false
	}
	return &r, true
}

func (c *mapCache) Set(_ context.Context, hash string, r Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[hash] = r
}

func testOptions() Options {
	return Options{QualityModel: "quality", FastModel: "fast", SimpleThresholdKB: 1, SimpleMaxPages: 2, Concurrency: 2}
}

func newTestClient(t *testing.T, gen llm.Generator, cache Cache) *Client {
	t.Helper()
	c, err := New(gen, cache, testOptions())
	require.NoError(t, err)
	c.sleep = func(context.Context, time.Duration) error { return nil }
	return c
}

func TestExtractCompleteAnswer(t *testing.T) {
	gen := &scriptedGen{answers: []string{completeAnswer}}
	cache := newMapCache()
	c := newTestClient(t, gen, cache)

	in := Input{Data: []byte("small pdf bytes"), MimeType: "application/pdf", FileName: "Facture_Acme.pdf"}
	res, err := c.Extract(context.Background(), in)
	require.NoError(t, err)

	assert.Equal(t, 1, gen.calls)
	assert.Equal(t, "quality", res.Model, "single mode always uses the quality model")
	assert.False(t, res.Partial)
	assert.False(t, res.Fallback)
	assert.True(t, res.SchemaValid)
	assert.InDelta(t, 0.93, res.Confidence, 1e-9)
	assert.Equal(t, "INV-42", res.Data["invoiceNumber"])

	_, cached := cache.data[util.ContentHash(in.Data)]
	assert.True(t, cached)
}

func TestExtractRetriesVendorOnlyAnswerExactlyOnce(t *testing.T) {
	gen := &scriptedGen{answers: []string{vendorOnlyAnswer}}
	c := newTestClient(t, gen, nil)

	res, err := c.Extract(context.Background(), Input{Data: []byte("pdf"), MimeType: "application/pdf"})
	require.NoError(t, err)
	assert.Equal(t, 2, gen.calls)
	assert.Equal(t, 2, res.Attempts)
	assert.True(t, res.Partial)
	assert.Equal(t, "quality", gen.models[1], "the retry reuses the unchanged request")
}

func TestExtractRetryCanRecover(t *testing.T) {
	gen := &scriptedGen{answers: []string{vendorOnlyAnswer, completeAnswer}}
	c := newTestClient(t, gen, nil)

	res, err := c.Extract(context.Background(), Input{Data: []byte("pdf")})
	require.NoError(t, err)
	assert.Equal(t, 2, gen.calls)
	assert.False(t, res.Partial)
}

func TestExtractUsesCache(t *testing.T) {
	gen := &scriptedGen{answers: []string{completeAnswer}}
	cache := newMapCache()
	c := newTestClient(t, gen, cache)
	in := Input{Data: []byte("same bytes")}

	_, err := c.Extract(context.Background(), in)
	require.NoError(t, err)
	res, err := c.Extract(context.Background(), in)
	require.NoError(t, err)

	assert.Equal(t, 1, gen.calls)
	assert.True(t, res.FromCache)
}

func TestExtractUnparseableAnswerFallsBack(t *testing.T) {
	gen := &scriptedGen{answers: []string{"Sorry, I cannot read this document."}}
	cache := newMapCache()
	c := newTestClient(t, gen, cache)

	res, err := c.Extract(context.Background(), Input{Data: []byte("blurry scan")})
	require.NoError(t, err)
	assert.True(t, res.Fallback)
	assert.Equal(t, FallbackConfidence, res.Confidence)
	assert.Equal(t, "Sorry, I cannot read this document.", res.RawText)
	assert.Equal(t, 1, gen.calls)
	assert.Empty(t, cache.data, "fallback results are not cached")
}

func TestExtractSchemaMismatchCapsConfidence(t *testing.T) {
	gen := &scriptedGen{answers: []string{`{"vendor": {"name": "Acme"}, "invoiceDate": "2025-01-15", "totals": {"totalTTC": 120}, "lineItems": "none", "confidence": 0.95}`}}
	c := newTestClient(t, gen, nil)

	res, err := c.Extract(context.Background(), Input{Data: []byte("pdf")})
	require.NoError(t, err)
	assert.False(t, res.SchemaValid)
	assert.Equal(t, 0.5, res.Confidence)
}

func TestExtractSurfacesProviderError(t *testing.T) {
	gen := &scriptedGen{err: &llm.APIError{Provider: "gemini", StatusCode: 503}}
	c := newTestClient(t, gen, nil)

	_, err := c.Extract(context.Background(), Input{Data: []byte("pdf")})
	var apiErr *llm.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, 1, gen.calls)
}

func TestExtractRejectsEmptyInput(t *testing.T) {
	c := newTestClient(t, &scriptedGen{answers: []string{completeAnswer}}, nil)
	_, err := c.Extract(context.Background(), Input{})
	assert.ErrorIs(t, err, ErrEmptyInput)
}

func TestExtractBatchSelectsModelsAndIsolatesErrors(t *testing.T) {
	gen := &scriptedGen{answers: []string{completeAnswer}}
	c := newTestClient(t, gen, nil)

	big := bytes.Repeat([]byte("x"), 4096)
	items := c.ExtractBatch(context.Background(), []Input{
		{Data: []byte("small-1")},
		{Data: big},
		{},
		{Data: []byte("small-2")},
	})
	require.Len(t, items, 4)

	require.NoError(t, items[0].Err)
	assert.Equal(t, "fast", items[0].Result.Model)
	require.NoError(t, items[1].Err)
	assert.Equal(t, "quality", items[1].Result.Model)
	assert.ErrorIs(t, items[2].Err, ErrEmptyInput)
	require.NoError(t, items[3].Err)
	assert.Equal(t, Simple, items[3].Result.Complexity)
}

func TestClassify(t *testing.T) {
	assert.Equal(t, Simple, Classify(make([]byte, 1023), 1, 2))
	assert.Equal(t, Complex, Classify(make([]byte, 1024), 1, 2))
}

func TestParseResponse(t *testing.T) {
	tests := []struct {
		name   string
		text   string
		wantOK bool
		want   any
	}{
		{"direct", `{"total": 12}`, true, 12.0},
		{"fenced", "```json\n{\"total\": 12}\n```", true, 12.0},
		{"prose around", `Here is the result: {"total": 12, "note": "a } brace"} hope it helps`, true, 12.0},
		{"only the first block is tried", `{oops} then {"total": 7}`, false, nil},
		{"no object", "no json here", false, nil},
		{"unbalanced", `{"total": 12`, false, nil},
		{"array", `[1,2]`, false, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseResponse(tt.text)
			require.Equal(t, tt.wantOK, ok)
			if ok {
				assert.Equal(t, tt.want, got["total"])
			}
		})
	}
}

func TestSystemInstructionEmbedsSchema(t *testing.T) {
	instr := SystemInstruction()
	assert.Contains(t, instr, `"totalTTC"`)
	assert.Contains(t, instr, "Return ONLY one JSON object")
}
