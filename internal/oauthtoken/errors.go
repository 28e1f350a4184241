package oauthtoken

import (
	"errors"
	"fmt"
)

var (
	// ErrTokenRevoked means the refresh token is no longer accepted; the user must relink.
	ErrTokenRevoked = errors.New("oauth token revoked")
	// ErrRefreshUnavailable wraps transient refresh failures once retries are spent.
	ErrRefreshUnavailable = errors.New("token endpoint unavailable")
)

// AuthError carries a user-facing message for a credential the provider rejected.
type AuthError struct {
	Message string
	Cause   error
}

func (e *AuthError) Error() string {
	if e.Cause == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Cause)
}

// Unwrap matches ErrTokenRevoked.
func (e *AuthError) Unwrap() error { return ErrTokenRevoked }

// IsAuthError reports whether err means the connection must be relinked.
func IsAuthError(err error) bool {
	return errors.Is(err, ErrTokenRevoked)
}

// IsRetryable reports whether a later attempt may succeed.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrRefreshUnavailable)
}

func revoked(cause error) error {
	return &AuthError{
		Message: "Gmail access was revoked or has expired. Please reconnect your mailbox.",
		Cause:   cause,
	}
}
