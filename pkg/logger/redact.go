package logger

import (
	"log/slog"
	"net/url"
	"strings"
)

const redacted = "[REDACTED]"

// sensitiveKeys are masked wherever they appear in an attribute key.
var sensitiveKeys = []string{
	"secret",
	"signature",
	"password",
	"passwd",
	"token",
	"authorization",
	"bearer",
	"api_key",
	"apikey",
	"cookie",
	"session",
	"private_key",
	"encryption_key",
	"master_key",
	"credential",
	"dsn",
	"ciphertext",
	"plaintext",
}

// urlKeys hold URLs whose userinfo and query may carry credentials.
var urlKeys = map[string]bool{
	"url":          true,
	"callback_uri": true,
	"callback_url": true,
	"endpoint":     true,
}

func sanitizeAttr(_ []string, a slog.Attr) slog.Attr {
	key := strings.ToLower(a.Key)
	for _, s := range sensitiveKeys {
		if strings.Contains(key, s) {
			return slog.String(a.Key, redacted)
		}
	}
	if urlKeys[key] {
		if s, ok := a.Value.Any().(string); ok {
			return slog.String(a.Key, RedactURL(s))
		}
	}
	return a
}

// RedactURL drops the password and masks query values of a URL.
func RedactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	if u.User != nil {
		u.User = url.User(u.User.Username())
	}
	if u.RawQuery != "" {
		q := u.Query()
		for k := range q {
			q.Set(k, "xxx")
		}
		u.RawQuery = q.Encode()
	}
	return u.String()
}
