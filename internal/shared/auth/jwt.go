package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

const (
	// DefaultTTL is the lifetime of tokens issued by Sign.
	DefaultTTL = 24 * time.Hour
	// DefaultLeeway tolerates clock skew between the issuer and this service.
	DefaultLeeway = 30 * time.Second
)

var (
	ErrMissingSecret = errors.New("jwt secret not configured")
	ErrInvalidToken  = errors.New("invalid token")
)

// Claims is the caller identity carried by API bearer tokens.
type Claims struct {
	WorkspaceID string `json:"wid"`
	Email       string `json:"email,omitempty"`
	Name        string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// Verifier signs and validates HS256 tokens with a shared secret.
type Verifier struct {
	secret []byte
	leeway time.Duration
}

// NewVerifier builds a Verifier. An empty secret is rejected in production and replaced
// by a fixed development secret elsewhere.
func NewVerifier(secret, env string) (*Verifier, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		if env == "production" {
			return nil, fmt.Errorf("%w: JWT_SECRET required in production", ErrMissingSecret)
		}
		secret = "dev-insecure-secret"
	}
	return &Verifier{secret: []byte(secret), leeway: DefaultLeeway}, nil
}

// Sign issues a token for the given identity.
func (v *Verifier) Sign(claims Claims) (string, error) {
	if claims.Subject == "" || claims.WorkspaceID == "" {
		return "", errors.New("sub and wid are required")
	}
	now := time.Now().UTC()
	if claims.IssuedAt == nil {
		claims.IssuedAt = jwt.NewNumericDate(now)
	}
	if claims.ExpiresAt == nil {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(DefaultTTL))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

// Verify checks signature and expiry and returns the claims. Tokens without a subject or
// workspace are rejected.
func (v *Verifier) Verify(token string) (Claims, error) {
	var claims Claims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithLeeway(v.leeway), jwt.WithExpirationRequired())
	if err != nil || !parsed.Valid {
		return Claims{}, ErrInvalidToken
	}
	if claims.Subject == "" || claims.WorkspaceID == "" {
		return Claims{}, ErrInvalidToken
	}
	return claims, nil
}
