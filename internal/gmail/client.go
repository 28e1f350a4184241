// Package gmail is a small REST client for the Gmail API calls the scanner needs:
// message search, full message fetch, attachment download and the mailbox profile.
package gmail

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"
)

var baseURL = "https://gmail.googleapis.com/gmail/v1/users/me"

const (
	defaultTimeout = 30 * time.Second
	// MaxPageSize is the largest maxResults the API accepts for a search page.
	MaxPageSize = 100
)

// ErrUnauthorized marks a 401 from the API: the access token is no longer accepted.
var ErrUnauthorized = errors.New("gmail: unauthorized")

// APIError is a non-2xx answer from the API.
type APIError struct {
	StatusCode int
	Status     string
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("gmail api error: http status %d", e.StatusCode)
	}
	return fmt.Sprintf("gmail api error: http status %d: %s", e.StatusCode, e.Message)
}

// Unwrap lets callers match 401s with errors.Is(err, ErrUnauthorized).
func (e *APIError) Unwrap() error {
	if e.StatusCode == http.StatusUnauthorized {
		return ErrUnauthorized
	}
	return nil
}

// Client calls the Gmail API with a caller-supplied access token.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// New builds a client that issues at most requestsPerSec calls per second across all
// mailboxes. Zero disables the limit.
func New(requestsPerSec float64, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	limit := rate.Inf
	burst := 1
	if requestsPerSec > 0 {
		limit = rate.Limit(requestsPerSec)
		burst = max(1, int(requestsPerSec))
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(limit, burst),
	}
}

// ListMessages returns one page of message IDs matching query.
func (c *Client) ListMessages(ctx context.Context, token, query, pageToken string, maxResults int) (ListResult, error) {
	if maxResults <= 0 || maxResults > MaxPageSize {
		maxResults = MaxPageSize
	}
	params := url.Values{}
	params.Set("q", query)
	params.Set("maxResults", strconv.Itoa(maxResults))
	if pageToken != "" {
		params.Set("pageToken", pageToken)
	}
	var out ListResult
	if err := c.get(ctx, token, "/messages?"+params.Encode(), &out); err != nil {
		return ListResult{}, fmt.Errorf("list messages: %w", err)
	}
	return out, nil
}

// GetMessage fetches a message with its full MIME part tree.
func (c *Client) GetMessage(ctx context.Context, token, id string) (Message, error) {
	var out Message
	if err := c.get(ctx, token, "/messages/"+url.PathEscape(id)+"?format=full", &out); err != nil {
		return Message{}, fmt.Errorf("get message %s: %w", id, err)
	}
	return out, nil
}

// GetAttachment downloads and decodes one attachment.
func (c *Client) GetAttachment(ctx context.Context, token, messageID, attachmentID string) ([]byte, error) {
	var body attachmentBody
	path := "/messages/" + url.PathEscape(messageID) + "/attachments/" + url.PathEscape(attachmentID)
	if err := c.get(ctx, token, path, &body); err != nil {
		return nil, fmt.Errorf("get attachment %s/%s: %w", messageID, attachmentID, err)
	}
	return DecodeBase64URL(body.Data)
}

// Profile returns the authenticated mailbox's profile.
func (c *Client) Profile(ctx context.Context, token string) (Profile, error) {
	var out Profile
	if err := c.get(ctx, token, "/profile", &out); err != nil {
		return Profile{}, fmt.Errorf("get profile: %w", err)
	}
	return out, nil
}

type errorBody struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

func (c *Client) get(ctx context.Context, token, path string, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		var eb errorBody
		_ = json.Unmarshal(raw, &eb)
		return &APIError{StatusCode: resp.StatusCode, Status: eb.Error.Status, Message: eb.Error.Message}
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
