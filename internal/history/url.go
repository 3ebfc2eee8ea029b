package history

import (
	"net/url"
	"strings"
)

// Schemes which are never recorded in history.
var ignoredSchemes = map[string]bool{
	"javascript":  true,
	"about":       true,
	"chrome":      true,
	"view-source": true,
	"data":        true,
}

// IsValidURL reports whether s parses as an absolute URL.
func IsValidURL(s string) bool {
	u, err := url.Parse(s)
	if err != nil || u.Scheme == "" {
		return false
	}
	return u.Host != "" || u.Opaque != ""
}

// IsAboutURL reports whether s uses the about: scheme.
func IsAboutURL(s string) bool {
	return strings.HasPrefix(strings.ToLower(s), "about:")
}

// CanAddURL reports whether s may be recorded in history at all.
func CanAddURL(s string) bool {
	if !IsValidURL(s) {
		return false
	}
	u, _ := url.Parse(s)
	return !ignoredSchemes[strings.ToLower(u.Scheme)]
}

// HostOf returns the lower-cased host of s, or "".
func HostOf(s string) string {
	u, err := url.Parse(s)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}
