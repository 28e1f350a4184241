package gmail

import (
	"encoding/base64"
	"fmt"
	"net/mail"
	"strconv"
	"strings"
	"time"
)

// DecodeBase64URL decodes the provider's URL-safe base64, padded or not. Standard
// alphabet input is accepted too.
func DecodeBase64URL(s string) ([]byte, error) {
	s = strings.TrimRight(strings.TrimSpace(s), "=")
	s = strings.NewReplacer("+", "-", "/", "_", "\n", "", "\r", "").Replace(s)
	out, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode attachment data: %w", err)
	}
	return out, nil
}

func parseMailDate(raw string) (time.Time, error) {
	if t, err := mail.ParseDate(raw); err == nil {
		return t, nil
	}
	// Some senders append a zone comment mail.ParseDate rejects.
	if i := strings.Index(raw, " ("); i > 0 {
		return mail.ParseDate(raw[:i])
	}
	return time.Time{}, fmt.Errorf("unparseable date %q", raw)
}

func parseInt(s string) (int64, error) {
	return strconv.ParseInt(strings.TrimSpace(s), 10, 64)
}
