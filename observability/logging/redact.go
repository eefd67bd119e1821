package logging

import (
	"log/slog"
	"net/url"
	"strings"
)

// RedactedValue replaces secret values in log output.
const RedactedValue = "[REDACTED]"

// plainKeys name log fields that never carry secrets. MaskField masks every
// other key.
var plainKeys = map[string]struct{}{
	"service":   {},
	"env":       {},
	"message":   {},
	"severity":  {},
	"timestamp": {},
	"error":     {},
	"component": {},
	"op":        {},
	"kind":      {},
	"type":      {},
	"listen":    {},
	"issuer":    {},
}

// normalizeKey folds "rpc.jwt_secret", "jwtSecret" and "JWT-Secret" onto the
// same form and drops any section prefix.
func normalizeKey(key string) string {
	key = strings.ToLower(strings.TrimSpace(key))
	if i := strings.LastIndexByte(key, '.'); i >= 0 {
		key = key[i+1:]
	}
	return strings.NewReplacer("_", "", "-", "").Replace(key)
}

// IsAllowlisted reports whether values logged under key are emitted as is.
func IsAllowlisted(key string) bool {
	_, ok := plainKeys[normalizeKey(key)]
	return ok
}

// MaskValue returns RedactedValue for non-empty values. Empty values stay
// empty so an unset secret is still visible as unset.
func MaskValue(value string) string {
	if strings.TrimSpace(value) == "" {
		return value
	}
	return RedactedValue
}

// MaskField returns an attribute for key whose value is masked unless the key
// is allowlisted.
func MaskField(key, value string) slog.Attr {
	if IsAllowlisted(key) {
		return slog.String(key, value)
	}
	return slog.String(key, MaskValue(value))
}

// MaskURL keeps the scheme, host and path of raw but masks user info and the
// query string, where API keys usually travel. Unparseable values are masked
// whole.
func MaskURL(key, raw string) slog.Attr {
	if strings.TrimSpace(raw) == "" {
		return slog.String(key, raw)
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return slog.String(key, RedactedValue)
	}
	if u.User != nil {
		u.User = url.User("redacted")
	}
	if u.RawQuery != "" {
		u.RawQuery = "redacted"
	}
	u.Fragment = ""
	return slog.String(key, u.String())
}
