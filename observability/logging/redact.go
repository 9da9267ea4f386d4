package logging

import (
	"log/slog"
	"strings"
)

// RedactedValue replaces sensitive attribute values in emitted lines.
const RedactedValue = "[REDACTED]"

// sensitiveKeys name attributes that carry buyer-supplied secrets or free
// text. Matching ignores case and surrounding whitespace.
var sensitiveKeys = map[string]bool{
	"memo":          true,
	"payload":       true,
	"secret":        true,
	"authorization": true,
	"token":         true,
	"hmac_secret":   true,
}

func isSensitive(key string) bool {
	return sensitiveKeys[strings.ToLower(strings.TrimSpace(key))]
}

// MaskValue hides a non-empty value.
func MaskValue(value string) string {
	if strings.TrimSpace(value) == "" {
		return value
	}
	return RedactedValue
}

// MaskField builds a string attribute, hiding the value when key is sensitive.
func MaskField(key, value string) slog.Attr {
	if isSensitive(key) {
		value = MaskValue(value)
	}
	return slog.String(key, value)
}

// scrub is applied by the JSON handler so sensitive attributes logged
// without MaskField are still hidden.
func scrub(attr slog.Attr) slog.Attr {
	if attr.Value.Kind() == slog.KindString && isSensitive(attr.Key) {
		return slog.String(attr.Key, MaskValue(attr.Value.String()))
	}
	return attr
}
