package logging

import (
	"log/slog"
	"maps"
	"slices"
	"strings"
)

// RedactedValue replaces free-form text that may carry personal data.
const RedactedValue = "[REDACTED]"

// publicFields are ledger facts that are already visible on chain and safe to
// log verbatim. Anything else passed through Sensitive is masked.
var publicFields = map[string]struct{}{
	"amount":    {},
	"caller":    {},
	"charity":   {},
	"class":     {},
	"component": {},
	"env":       {},
	"error":     {},
	"hash":      {},
	"index":     {},
	"message":   {},
	"method":    {},
	"nonce":     {},
	"requestid": {},
	"service":   {},
	"severity":  {},
	"timestamp": {},
	"type":      {},
}

func isPublic(key string) bool {
	_, ok := publicFields[strings.ToLower(strings.TrimSpace(key))]
	return ok
}

// PublicFields lists the keys Sensitive never masks, sorted.
func PublicFields() []string {
	return slices.Sorted(maps.Keys(publicFields))
}

// Sensitive builds a string attribute whose value is masked unless key names a
// public ledger field. Blank values pass through untouched.
func Sensitive(key, value string) slog.Attr {
	if strings.TrimSpace(value) == "" || isPublic(key) {
		return slog.String(key, value)
	}
	return slog.String(key, RedactedValue)
}
