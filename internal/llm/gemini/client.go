// Package gemini calls the Google AI Studio generateContent API with inline documents.
package gemini

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"mail-ingest/internal/llm"
)

var baseURL = "https://generativelanguage.googleapis.com/v1beta"

const defaultTimeout = 120 * time.Second

// Client implements llm.Generator for Gemini.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// NewClient constructs a Gemini client. A zero timeout uses two minutes.
func NewClient(apiKey string, timeout time.Duration) (*Client, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY is required")
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		apiKey:     apiKey,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

type inlineData struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inline_data,omitempty"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type generationConfig struct {
	Temperature      float32 `json:"temperature"`
	ResponseMimeType string  `json:"responseMimeType,omitempty"`
}

type generateRequest struct {
	Contents          []content        `json:"contents"`
	SystemInstruction *content         `json:"systemInstruction,omitempty"`
	GenerationConfig  generationConfig `json:"generationConfig"`
}

type generateResponse struct {
	Candidates []struct {
		Content      content `json:"content"`
		FinishReason string  `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata *struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
		TotalTokenCount      int `json:"totalTokenCount"`
	} `json:"usageMetadata,omitempty"`
}

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// Generate sends one generateContent call and returns the concatenated text parts of
// the first candidate.
func (c *Client) Generate(ctx context.Context, req llm.Request) (string, error) {
	model := normalizeModel(req.Model)
	if model == "" {
		return "", fmt.Errorf("gemini: model is required")
	}

	parts := make([]part, 0, 2)
	if req.Document != nil && len(req.Document.Data) > 0 {
		parts = append(parts, part{InlineData: &inlineData{
			MimeType: req.Document.MimeType,
			Data:     base64.StdEncoding.EncodeToString(req.Document.Data),
		}})
	}
	parts = append(parts, part{Text: req.Prompt})

	body := generateRequest{
		Contents: []content{{Role: "user", Parts: parts}},
	}
	if strings.TrimSpace(req.System) != "" {
		body.SystemInstruction = &content{Parts: []part{{Text: req.System}}}
	}
	if req.JSON {
		body.GenerationConfig.ResponseMimeType = "application/json"
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent?key=%s", c.baseURL, url.PathEscape(model), url.QueryEscape(c.apiKey))
	var resp generateResponse
	if err := c.doJSON(ctx, endpoint, body, &resp); err != nil {
		return "", err
	}
	if len(resp.Candidates) == 0 {
		return "", llm.ErrEmptyResponse
	}
	var b strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		b.WriteString(p.Text)
	}
	text := strings.TrimSpace(b.String())
	if text == "" {
		return "", llm.ErrEmptyResponse
	}
	return text, nil
}

func normalizeModel(model string) string {
	model = strings.TrimSpace(model)
	return strings.TrimPrefix(model, "models/")
}

func (c *Client) doJSON(ctx context.Context, endpoint string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("gemini request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("gemini read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		var errResp errorResponse
		_ = json.Unmarshal(raw, &errResp)
		return &llm.APIError{Provider: "gemini", StatusCode: resp.StatusCode, Message: errResp.Error.Message}
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("gemini response parse: %w", err)
	}
	return nil
}
