package logging

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	apiKeyPattern = regexp.MustCompile(`(sk-[a-zA-Z0-9_-]{6,}|tvly-[a-zA-Z0-9_-]{6,})`)
	bearerPattern = regexp.MustCompile(`Bearer\s+[a-zA-Z0-9\-._~+/]+=*`)
	emailPattern  = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)

	sensitiveKeys = []string{"api_key", "apikey", "secret", "token", "password", "authorization"}
)

// Query returns a group attribute describing user question text without
// revealing it: a short digest that correlates log lines and the length in
// characters.
func Query(text string) slog.Attr {
	sum := sha256.Sum256([]byte(text))
	return slog.Group("query",
		slog.String("digest", hex.EncodeToString(sum[:6])),
		slog.Int("chars", utf8.RuneCountInString(text)),
	)
}

// RedactString masks API keys, bearer tokens and email addresses in value.
func RedactString(value string) string {
	if value == "" {
		return value
	}
	value = apiKeyPattern.ReplaceAllStringFunc(value, RedactAPIKey)
	value = bearerPattern.ReplaceAllString(value, "Bearer ***")
	return emailPattern.ReplaceAllStringFunc(value, RedactEmail)
}

// RedactAPIKey keeps the first four characters of a key.
func RedactAPIKey(apiKey string) string {
	if len(apiKey) <= 4 {
		return "***"
	}
	return apiKey[:4] + "***"
}

// RedactEmail keeps the first character and the domain.
func RedactEmail(email string) string {
	user, domain, ok := strings.Cut(email, "@")
	if !ok {
		return email
	}
	if user == "" {
		return "***@" + domain
	}
	return user[:1] + "***@" + domain
}

// redactAttr is installed as slog.HandlerOptions.ReplaceAttr.
func redactAttr(_ []string, a slog.Attr) slog.Attr {
	if a.Value.Kind() != slog.KindString {
		return a
	}
	if isSensitiveKey(a.Key) {
		return slog.String(a.Key, RedactAPIKey(a.Value.String()))
	}
	if a.Key == slog.MessageKey {
		return a
	}
	return slog.String(a.Key, RedactString(a.Value.String()))
}

func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, s := range sensitiveKeys {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}
