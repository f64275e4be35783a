package dedup

import (
	"net/url"
	"strings"
)

// NormalizeURL reduces a URL to its comparison key: lowercased host without a
// leading "www." followed by the path without its trailing slash. Scheme,
// query and fragment do not participate. Unparseable input falls back to the
// lowercased raw string without its trailing slash.
func NormalizeURL(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ""
	}

	parsed, err := url.Parse(trimmed)
	if err != nil || parsed.Host == "" {
		return fallbackURLKey(trimmed)
	}

	host := strings.ToLower(parsed.Hostname())
	host = strings.TrimPrefix(host, "www.")
	if port := parsed.Port(); port != "" && !isDefaultPort(strings.ToLower(parsed.Scheme), port) {
		host = host + ":" + port
	}

	path := strings.ToLower(parsed.EscapedPath())
	path = strings.TrimRight(path, "/")
	return host + path
}

func fallbackURLKey(raw string) string {
	return strings.TrimRight(strings.ToLower(raw), "/")
}

func isDefaultPort(scheme, port string) bool {
	return (scheme == "http" && port == "80") || (scheme == "https" && port == "443")
}

// SameURL reports whether two URLs share a comparison key.
func SameURL(a, b string) bool {
	keyA := NormalizeURL(a)
	return keyA != "" && keyA == NormalizeURL(b)
}
