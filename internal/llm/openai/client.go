// Package openai implements llm.Generator on the Chat Completions API.
package openai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"mail-ingest/internal/llm"
)

var apiURL = "https://api.openai.com/v1/chat/completions"

const defaultTimeout = 120 * time.Second

// Client implements llm.Generator using OpenAI Chat Completions.
type Client struct {
	apiKey     string
	httpClient *http.Client
}

// NewClient constructs a new OpenAI client. A zero timeout uses two minutes.
func NewClient(apiKey string, timeout time.Duration) (*Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY is required")
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
	File     *filePart `json:"file,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type filePart struct {
	FileName string `json:"filename"`
	FileData string `json:"file_data"`
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	Temperature    *float32        `json:"temperature,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage,omitempty"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// Generate sends one chat completion. PDFs travel as a file part and images as an
// image_url part, both as base64 data URLs.
func (c *Client) Generate(ctx context.Context, req llm.Request) (string, error) {
	if strings.TrimSpace(req.Model) == "" {
		return "", fmt.Errorf("openai: model is required")
	}

	messages := make([]chatMessage, 0, 2)
	if strings.TrimSpace(req.System) != "" {
		messages = append(messages, chatMessage{Role: "system", Content: req.System})
	}
	parts := []contentPart{{Type: "text", Text: req.Prompt}}
	if req.Document != nil && len(req.Document.Data) > 0 {
		parts = append(parts, documentPart(*req.Document))
	}
	messages = append(messages, chatMessage{Role: "user", Content: parts})

	body := chatRequest{Model: req.Model, Messages: messages}
	if !isGPT5(req.Model) {
		temp := float32(0)
		body.Temperature = &temp
	}
	if req.JSON {
		body.ResponseFormat = &responseFormat{Type: "json_object"}
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return "", err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || strings.Contains(err.Error(), "Client.Timeout") {
			return "", fmt.Errorf("openai request timeout: %w", err)
		}
		return "", err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil && resp.StatusCode < 400 {
		return "", fmt.Errorf("openai response parse: %w", err)
	}
	if resp.StatusCode >= 400 || parsed.Error != nil {
		apiErr := &llm.APIError{Provider: "openai", StatusCode: resp.StatusCode}
		if parsed.Error != nil {
			apiErr.Message = parsed.Error.Message
		}
		return "", apiErr
	}
	if len(parsed.Choices) == 0 {
		return "", llm.ErrEmptyResponse
	}
	logUsage(req.Model, parsed)

	text := strings.TrimSpace(parsed.Choices[0].Message.Content)
	if text == "" {
		return "", llm.ErrEmptyResponse
	}
	return text, nil
}

func documentPart(doc llm.Document) contentPart {
	mimeType := doc.MimeType
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	dataURL := "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(doc.Data)
	if strings.HasPrefix(mimeType, "image/") {
		return contentPart{Type: "image_url", ImageURL: &imageURL{URL: dataURL}}
	}
	name := doc.FileName
	if name == "" {
		name = "document.pdf"
	}
	return contentPart{Type: "file", File: &filePart{FileName: name, FileData: dataURL}}
}

func logUsage(model string, resp chatResponse) {
	if resp.Usage == nil {
		log.Printf("llm response provider=openai model=%s", model)
		return
	}
	log.Printf("llm response provider=openai model=%s prompt_tokens=%d completion_tokens=%d total_tokens=%d",
		model, resp.Usage.PromptTokens, resp.Usage.CompletionTokens, resp.Usage.TotalTokens)
}

// gpt-5 models reject an explicit temperature.
func isGPT5(model string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(model)), "gpt-5")
}
