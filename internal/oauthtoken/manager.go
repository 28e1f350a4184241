// Package oauthtoken hands out valid Gmail access tokens for a connection, refreshing
// and persisting them when they expire.
package oauthtoken

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"mail-ingest/internal/connections"
	"mail-ingest/internal/shared/metrics"
	"mail-ingest/internal/shared/secrets"
	"mail-ingest/internal/shared/telemetry"
)

const (
	// ExpirySkew treats tokens expiring within this window as already expired.
	ExpirySkew      = 60 * time.Second
	endpointTimeout = 15 * time.Second
	maxAttempts     = 3
)

var revokeURL = "https://oauth2.googleapis.com/revoke"

// Store is the slice of connection storage the manager reads and writes.
type Store interface {
	Get(ctx context.Context, id string) (connections.Connection, error)
	UpdateTokens(ctx context.Context, id, accessEnc, refreshEnc string, expiry time.Time) error
}

// Manager refreshes tokens at most once at a time per connection.
type Manager struct {
	config     *oauth2.Config
	store      Store
	cipher     *secrets.Cipher
	httpClient *http.Client
	flights    singleflight.Group
	now        func() time.Time
	retryBase  time.Duration
}

// New builds a Manager. config is the same consent configuration used for linking.
func New(config *oauth2.Config, store Store, cipher *secrets.Cipher) *Manager {
	return &Manager{
		config:     config,
		store:      store,
		cipher:     cipher,
		httpClient: &http.Client{Timeout: endpointTimeout},
		now:        time.Now,
		retryBase:  500 * time.Millisecond,
	}
}

// EnsureValidToken returns a usable access token for conn, refreshing it first when it
// expires within a minute.
func (m *Manager) EnsureValidToken(ctx context.Context, conn connections.Connection) (string, error) {
	if token, ok := m.current(conn); ok {
		return token, nil
	}
	v, err, shared := m.flights.Do(conn.ID, func() (any, error) {
		return m.refresh(ctx, conn.ID)
	})
	if err != nil {
		return "", err
	}
	if shared {
		telemetry.Info("oauth.refresh_shared", map[string]any{"connectionId": conn.ID})
	}
	return v.(string), nil
}

// current decrypts the stored access token when it is still fresh.
func (m *Manager) current(conn connections.Connection) (string, bool) {
	if conn.AccessTokenEnc == "" || conn.TokenExpiry == nil {
		return "", false
	}
	if !m.now().Add(ExpirySkew).Before(*conn.TokenExpiry) {
		return "", false
	}
	token, err := m.cipher.Decrypt(conn.AccessTokenEnc)
	if err != nil || token == "" {
		return "", false
	}
	return token, true
}

func (m *Manager) refresh(ctx context.Context, id string) (string, error) {
	// Re-read inside the flight: a refresh that just finished is reused.
	conn, err := m.store.Get(ctx, id)
	if err != nil {
		return "", fmt.Errorf("load connection: %w", err)
	}
	if token, ok := m.current(conn); ok {
		return token, nil
	}
	if conn.RefreshTokenEnc == "" {
		return "", revoked(errors.New("no refresh token stored"))
	}
	refreshToken, err := m.cipher.Decrypt(conn.RefreshTokenEnc)
	if err != nil {
		return "", revoked(err)
	}

	token, err := m.exchange(ctx, refreshToken)
	if err != nil {
		metrics.IncTokenRefreshFailed()
		telemetry.Warn("oauth.refresh_failed", map[string]any{
			"connectionId": id,
			"revoked":      IsAuthError(err),
			"error":        err.Error(),
		})
		return "", err
	}

	accessEnc, err := m.cipher.Encrypt(token.AccessToken)
	if err != nil {
		return "", err
	}
	refreshEnc := conn.RefreshTokenEnc
	if token.RefreshToken != "" && token.RefreshToken != refreshToken {
		if refreshEnc, err = m.cipher.Encrypt(token.RefreshToken); err != nil {
			return "", err
		}
	}
	expiry := token.Expiry
	if expiry.IsZero() {
		expiry = m.now().Add(time.Hour)
	}
	if err := m.store.UpdateTokens(ctx, id, accessEnc, refreshEnc, expiry); err != nil {
		return "", fmt.Errorf("persist refreshed token: %w", err)
	}
	metrics.IncTokenRefresh()
	telemetry.Info("oauth.refreshed", map[string]any{"connectionId": id, "expiresAt": expiry.UTC().Format(time.RFC3339)})
	return token.AccessToken, nil
}

func (m *Manager) exchange(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, m.httpClient)

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = m.retryBase
	policy.MaxElapsedTime = 0
	b := backoff.WithContext(backoff.WithMaxRetries(policy, maxAttempts-1), ctx)

	var token *oauth2.Token
	op := func() error {
		src := m.config.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
		t, err := src.Token()
		if err == nil {
			token = t
			return nil
		}
		if isRevocation(err) {
			return backoff.Permanent(revoked(err))
		}
		if !isTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	if err := backoff.Retry(op, b); err != nil {
		if IsAuthError(err) || !isTransient(err) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrRefreshUnavailable, err)
	}
	return token, nil
}

func isRevocation(err error) bool {
	var rErr *oauth2.RetrieveError
	if !errors.As(err, &rErr) {
		return false
	}
	if rErr.ErrorCode == "invalid_grant" || rErr.ErrorCode == "unauthorized_client" {
		return true
	}
	if rErr.Response != nil {
		code := rErr.Response.StatusCode
		return code == http.StatusBadRequest || code == http.StatusUnauthorized
	}
	return false
}

func isTransient(err error) bool {
	var rErr *oauth2.RetrieveError
	if errors.As(err, &rErr) && rErr.Response != nil {
		code := rErr.Response.StatusCode
		return code == http.StatusTooManyRequests || code >= 500
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "connection reset") || strings.Contains(msg, "connection refused") || strings.Contains(msg, "eof")
}

// Revoke asks the provider to revoke the connection's grant. It is best effort: callers
// disconnect locally whatever the outcome.
func (m *Manager) Revoke(ctx context.Context, conn connections.Connection) error {
	enc := conn.RefreshTokenEnc
	if enc == "" {
		enc = conn.AccessTokenEnc
	}
	if enc == "" {
		return nil
	}
	token, err := m.cipher.Decrypt(enc)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, endpointTimeout)
	defer cancel()
	form := url.Values{"token": {token}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, revokeURL, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := m.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("revoke token: http status %d", resp.StatusCode)
	}
	return nil
}
