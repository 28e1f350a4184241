package connections

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"mail-ingest/internal/shared/secrets"
	"mail-ingest/internal/shared/server/middleware"
	"mail-ingest/internal/shared/server/respond"
	"mail-ingest/internal/shared/telemetry"
)

const gmailReadonlyScope = "https://www.googleapis.com/auth/gmail.readonly"

var userInfoURL = "https://www.googleapis.com/oauth2/v2/userinfo"

// Linker runs the Google consent flow that links a Gmail mailbox to a workspace.
type Linker struct {
	oauthConfig *oauth2.Config
	repo        Repo
	cipher      *secrets.Cipher
	uiRedirect  string
	stateTTL    time.Duration
	stateStore  *stateStore
}

// NewLinker builds a Linker.
func NewLinker(oauthConfig *oauth2.Config, repo Repo, cipher *secrets.Cipher, uiRedirect string) *Linker {
	return &Linker{
		oauthConfig: oauthConfig,
		repo:        repo,
		cipher:      cipher,
		uiRedirect:  uiRedirect,
		stateTTL:    10 * time.Minute,
		stateStore:  newStateStore(),
	}
}

// OAuthConfig returns the Gmail consent configuration shared with token refresh.
func OAuthConfig(clientID, clientSecret, redirectURL string) *oauth2.Config {
	endpoint := google.Endpoint
	endpoint.AuthStyle = oauth2.AuthStyleInParams
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		Scopes: []string{
			gmailReadonlyScope,
			"https://www.googleapis.com/auth/userinfo.email",
			"https://www.googleapis.com/auth/userinfo.profile",
		},
		Endpoint: endpoint,
	}
}

// RegisterRoutes attaches the linking routes. The callback is reached by browser
// redirect and must be exempt from API auth.
func (l *Linker) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/mail/oauth/start", l.start)
	rg.GET("/mail/oauth/callback", l.callback)
}

func (l *Linker) configured() bool {
	return l.oauthConfig != nil && l.oauthConfig.ClientID != "" && l.oauthConfig.ClientSecret != "" &&
		l.oauthConfig.RedirectURL != "" && l.cipher != nil
}

func (l *Linker) start(c *gin.Context) {
	if !l.configured() {
		respond.Error(c, http.StatusInternalServerError, "oauth_not_configured", "Gmail linking not configured", nil)
		return
	}

	state := uuid.NewString()
	l.stateStore.put(state, pendingLink{
		workspaceID: middleware.WorkspaceIDFromContext(c),
		userID:      middleware.UserIDFromContext(c),
		expires:     time.Now().Add(l.stateTTL),
	})

	authURL := l.oauthConfig.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
	if c.Query("redirect") == "false" {
		respond.OK(c, gin.H{"authUrl": authURL})
		return
	}
	c.Redirect(http.StatusFound, authURL)
}

func (l *Linker) callback(c *gin.Context) {
	if errParam := c.Query("error"); errParam != "" {
		l.redirectUI(c, url.Values{"error": {errParam}})
		return
	}
	state := c.Query("state")
	code := c.Query("code")
	if state == "" || code == "" {
		respond.Error(c, http.StatusBadRequest, "invalid_request", "missing state or code", nil)
		return
	}

	pending, ok := l.stateStore.consume(state)
	if !ok {
		respond.Error(c, http.StatusBadRequest, "invalid_request", "invalid or expired state", nil)
		return
	}

	ctx := c.Request.Context()
	conn, err := l.Link(ctx, pending.workspaceID, pending.userID, code)
	if err != nil {
		telemetry.Error("mail.link.failed", map[string]any{
			"workspace_id": pending.workspaceID,
			"error":        err,
		})
		switch {
		case errors.Is(err, errExchange):
			respond.Error(c, http.StatusBadRequest, "invalid_request", "failed to exchange code", nil)
		case errors.Is(err, errProfile):
			respond.Error(c, http.StatusBadGateway, "link_failed", "failed to fetch mailbox profile", nil)
		default:
			respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to link mailbox", nil)
		}
		return
	}

	l.redirectUI(c, url.Values{"connectionId": {conn.ID}, "email": {conn.AccountEmail}})
}

var (
	errExchange = errors.New("oauth code exchange failed")
	errProfile  = errors.New("profile lookup failed")
)

// Link exchanges an authorization code and stores the encrypted token pair on the
// workspace's connection for that mailbox.
func (l *Linker) Link(ctx context.Context, workspaceID, userID, code string) (Connection, error) {
	token, err := l.oauthConfig.Exchange(ctx, code)
	if err != nil {
		return Connection{}, fmt.Errorf("%w: %v", errExchange, err)
	}

	info, err := l.fetchUserInfo(ctx, token)
	if err != nil {
		return Connection{}, fmt.Errorf("%w: %v", errProfile, err)
	}
	if info.Email == "" {
		return Connection{}, fmt.Errorf("%w: empty email", errProfile)
	}

	accessEnc, err := l.cipher.Encrypt(token.AccessToken)
	if err != nil {
		return Connection{}, err
	}
	refreshEnc, err := l.cipher.Encrypt(token.RefreshToken)
	if err != nil {
		return Connection{}, err
	}
	var expiry *time.Time
	if !token.Expiry.IsZero() {
		exp := token.Expiry.UTC()
		expiry = &exp
	}

	conn, err := l.repo.Upsert(ctx, Connection{
		ID:               uuid.NewString(),
		WorkspaceID:      workspaceID,
		UserID:           userID,
		Provider:         ProviderGmail,
		AccountEmail:     strings.ToLower(info.Email),
		AccountName:      info.Name,
		ScanPeriodMonths: DefaultScanMonths,
		AccessTokenEnc:   accessEnc,
		RefreshTokenEnc:  refreshEnc,
		TokenExpiry:      expiry,
	})
	if err != nil {
		return Connection{}, err
	}
	telemetry.Info("mail.linked", map[string]any{
		"workspace_id":  workspaceID,
		"connection_id": conn.ID,
	})
	return conn, nil
}

func (l *Linker) redirectUI(c *gin.Context, params url.Values) {
	target, err := appendQuery(l.uiRedirect, params)
	if err != nil {
		respond.OK(c, params)
		return
	}
	c.Redirect(http.StatusFound, target)
}

type googleUserInfo struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

func (l *Linker) fetchUserInfo(ctx context.Context, token *oauth2.Token) (googleUserInfo, error) {
	client := l.oauthConfig.Client(ctx, token)
	client.Timeout = 15 * time.Second
	resp, err := client.Get(userInfoURL)
	if err != nil {
		return googleUserInfo{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return googleUserInfo{}, fmt.Errorf("userinfo status %d", resp.StatusCode)
	}

	var info googleUserInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return googleUserInfo{}, err
	}
	return info, nil
}

type pendingLink struct {
	workspaceID string
	userID      string
	expires     time.Time
}

type stateStore struct {
	items map[string]pendingLink
	mu    sync.Mutex
}

func newStateStore() *stateStore {
	return &stateStore{items: make(map[string]pendingLink)}
}

func (s *stateStore) put(state string, link pendingLink) {
	s.mu.Lock()
	now := time.Now()
	for k, v := range s.items {
		if now.After(v.expires) {
			delete(s.items, k)
		}
	}
	s.items[state] = link
	s.mu.Unlock()
}

func (s *stateStore) consume(state string) (pendingLink, bool) {
	s.mu.Lock()
	link, ok := s.items[state]
	if ok {
		delete(s.items, state)
	}
	s.mu.Unlock()
	if !ok || time.Now().After(link.expires) {
		return pendingLink{}, false
	}
	return link, true
}

func appendQuery(rawURL string, params url.Values) (string, error) {
	if rawURL == "" {
		return "", errors.New("redirect url required")
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	for k, vs := range params {
		for _, v := range vs {
			q.Set(k, v)
		}
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
