package observability

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	defaultFieldLimit = 256
	routeLimit        = 180
	methodLimit       = 10
	sessionIDLimit    = 64
)

// sanitizeString drops control characters other than whitespace and keeps at most limit runes.
// Client supplied values pass through here before they become log fields or span attributes.
func sanitizeString(value string, limit int) string {
	if limit <= 0 {
		limit = defaultFieldLimit
	}
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && !unicode.IsSpace(r) {
			return -1
		}
		return r
	}, value)
	if utf8.RuneCountInString(cleaned) <= limit {
		return cleaned
	}
	return string([]rune(cleaned)[:limit])
}

// SanitizeRoute cleans a route pattern or raw path; empty becomes "/".
func SanitizeRoute(route string) string {
	if route == "" {
		return "/"
	}
	return sanitizeString(route, routeLimit)
}

func SanitizeMethod(method string) string {
	return sanitizeString(method, methodLimit)
}

// SanitizeSessionID bounds the checkout session id taken from the URL.
func SanitizeSessionID(id string) string {
	if id == "" {
		return ""
	}
	return sanitizeString(id, sessionIDLimit)
}
