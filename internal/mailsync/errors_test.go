package mailsync

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"

	"mail-ingest/internal/gmail"
	"mail-ingest/internal/oauthtoken"
)

func TestTranslateError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"revoked", &oauthtoken.AuthError{Message: "Please reconnect."}, "Please reconnect."},
		{"unauthorized", fmt.Errorf("list: %w", &gmail.APIError{StatusCode: 401}), "Gmail access was revoked or has expired. Please reconnect your mailbox."},
		{"refresh down", fmt.Errorf("%w: timeout", oauthtoken.ErrRefreshUnavailable), "Google sign-in is temporarily unavailable. Please try again in a few minutes."},
		{"rate limited", &gmail.APIError{StatusCode: 429}, "Gmail rate limit reached. The next scan will pick up where this one stopped."},
		{"forbidden", &gmail.APIError{StatusCode: 403}, "Gmail refused access to this mailbox. Check the permissions granted to the application."},
		{"timeout", fmt.Errorf("get: %w", context.DeadlineExceeded), "The mailbox scan timed out. Please try again later."},
		{"other", fmt.Errorf("boom"), "The mailbox scan failed. Please try again later."},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, TranslateError(tc.err))
		})
	}
}

func TestTruncateKeepsValidUTF8(t *testing.T) {
	long := strings.Repeat("é", maxErrorDetail)
	got := truncate(long)
	assert.LessOrEqual(t, len(got), maxErrorDetail)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, "short", truncate("short"))
}

func TestTranslateImportError(t *testing.T) {
	assert.Empty(t, TranslateImportError(nil))
	assert.Equal(t, "Reading the attachments took too long. Upload the email again later.",
		TranslateImportError(fmt.Errorf("extract %q: %w", "a.pdf", context.DeadlineExceeded)))
	got := TranslateImportError(fmt.Errorf("upload %q: %w", "a.pdf", fmt.Errorf("dial tcp 10.0.0.5:9000: refused")))
	assert.NotContains(t, got, "10.0.0.5")
}
