package mailsync

import (
	"context"
	"errors"
	"net/http"
	"unicode/utf8"

	"mail-ingest/internal/gmail"
	"mail-ingest/internal/oauthtoken"
)

var (
	// ErrConnectionInactive is returned for scans of disconnected mailboxes.
	ErrConnectionInactive = errors.New("mail connection is not active")
	// ErrScanInProgress is returned to queued scan requests that found the mailbox syncing.
	ErrScanInProgress = errors.New("mail scan already in progress")
	// ErrInvalidMessage is returned when an uploaded .eml cannot be parsed.
	ErrInvalidMessage = errors.New("invalid email message")
)

const maxErrorDetail = 1000

// IsAuthError reports whether err means the mailbox credentials are no longer usable.
func IsAuthError(err error) bool {
	return oauthtoken.IsAuthError(err) || errors.Is(err, gmail.ErrUnauthorized)
}

// TranslateError turns a scan failure into a message the mailbox owner can act on.
func TranslateError(err error) string {
	if err == nil {
		return ""
	}
	var authErr *oauthtoken.AuthError
	if errors.As(err, &authErr) {
		return authErr.Message
	}
	if IsAuthError(err) {
		return "Gmail access was revoked or has expired. Please reconnect your mailbox."
	}
	if oauthtoken.IsRetryable(err) {
		return "Google sign-in is temporarily unavailable. Please try again in a few minutes."
	}
	var apiErr *gmail.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == http.StatusTooManyRequests:
			return "Gmail rate limit reached. The next scan will pick up where this one stopped."
		case apiErr.StatusCode == http.StatusForbidden:
			return "Gmail refused access to this mailbox. Check the permissions granted to the application."
		case apiErr.StatusCode >= 500:
			return "Gmail is temporarily unavailable. Please try again later."
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "The mailbox scan timed out. Please try again later."
	}
	return "The mailbox scan failed. Please try again later."
}

// TranslateImportError turns a partial .eml import failure into a message for the
// uploader. The raw error stays in the processed message record.
func TranslateImportError(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.DeadlineExceeded):
		return "Reading the attachments took too long. Upload the email again later."
	default:
		return "Some attachments could not be processed. Upload the email again later."
	}
}

func truncate(s string) string {
	if len(s) <= maxErrorDetail {
		return s
	}
	cut := maxErrorDetail
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
