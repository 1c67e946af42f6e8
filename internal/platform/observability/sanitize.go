package observability

import (
	"strings"
	"unicode"
)

// sanitizeString strips control characters (log injection) and caps the rune count.
func sanitizeString(value string, limit int) string {
	var b strings.Builder
	n := 0
	for _, r := range value {
		if n == limit {
			break
		}
		if unicode.IsControl(r) {
			continue
		}
		b.WriteRune(r)
		n++
	}
	return b.String()
}

// SanitizeRoute bounds a route or path for logging.
func SanitizeRoute(route string) string {
	if route == "" {
		return "/"
	}
	return sanitizeString(route, 180)
}

// SanitizeMethod bounds an HTTP method for logging.
func SanitizeMethod(method string) string {
	return sanitizeString(method, 10)
}

// SanitizeSessionID keeps an 8 character prefix of a visitor id so logs can correlate a visit
// without holding a usable cookie value.
func SanitizeSessionID(id string) string {
	return sanitizeString(id, 8)
}
