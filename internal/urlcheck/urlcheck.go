// Package urlcheck validates and normalizes URLs before they are checked
// for malicious reputation.
package urlcheck

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

const (
	// MinURLLength is the shortest raw URL accepted.
	MinURLLength = 10
	// MaxURLLength is the longest raw URL accepted.
	MaxURLLength = 2048
)

// Validate checks a raw URL and returns its normalized form: lowercase
// hostname, default ports elided, path defaulted to "/". A URL without a
// scheme is assumed to be https.
func Validate(raw string) (string, error) {
	if raw == "" {
		return "", fmt.Errorf("URL cannot be empty")
	}
	if len(raw) < MinURLLength {
		return "", fmt.Errorf("URL too short (minimum %d characters)", MinURLLength)
	}
	if len(raw) > MaxURLLength {
		return "", fmt.Errorf("URL exceeds maximum length of %d", MaxURLLength)
	}

	toParse := raw
	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		if strings.Contains(raw, "://") {
			return "", fmt.Errorf("URL must use http:// or https:// scheme")
		}
		toParse = "https://" + raw
	}

	parsed, err := url.Parse(toParse)
	if err != nil {
		return "", fmt.Errorf("invalid URL format: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", fmt.Errorf("invalid scheme %q, must be http or https", parsed.Scheme)
	}
	hostname := strings.ToLower(parsed.Hostname())
	if hostname == "" {
		return "", fmt.Errorf("URL must include a hostname")
	}
	if !validHostname(hostname) {
		return "", fmt.Errorf("hostname %q is not valid", hostname)
	}

	return reconstruct(parsed), nil
}

// ExtractHostPort returns the hostname and effective port of a valid URL,
// defaulting the port from the scheme.
func ExtractHostPort(raw string) (string, int, error) {
	normalized, err := Validate(raw)
	if err != nil {
		return "", 0, err
	}
	parsed, err := url.Parse(normalized)
	if err != nil {
		return "", 0, fmt.Errorf("invalid URL format: %w", err)
	}
	hostname := parsed.Hostname()
	port := defaultPort(parsed.Scheme)
	if p := parsed.Port(); p != "" {
		port, _ = strconv.Atoi(p)
	}
	return hostname, port, nil
}

// ExtractPath returns the path and query of a valid URL, e.g.
// "/path?query=value". The path defaults to "/".
func ExtractPath(raw string) (string, error) {
	normalized, err := Validate(raw)
	if err != nil {
		return "", err
	}
	parsed, err := url.Parse(normalized)
	if err != nil {
		return "", fmt.Errorf("invalid URL format: %w", err)
	}
	path := parsed.Path
	if path == "" {
		path = "/"
	}
	if parsed.RawQuery != "" {
		path += "?" + parsed.RawQuery
	}
	return path, nil
}

// ValidPort reports whether p is a usable TCP port.
func ValidPort(p int) bool {
	return p >= 1 && p <= 65535
}

func reconstruct(parsed *url.URL) string {
	scheme := parsed.Scheme
	if scheme == "" {
		scheme = "https"
	}
	hostname := strings.ToLower(parsed.Hostname())

	netloc := hostname
	if p := parsed.Port(); p != "" {
		if port, err := strconv.Atoi(p); err == nil && port != defaultPort(scheme) {
			netloc = fmt.Sprintf("%s:%d", hostname, port)
		}
	}

	path := parsed.Path
	if path == "" {
		path = "/"
	}
	out := scheme + "://" + netloc + path
	if parsed.RawQuery != "" {
		out += "?" + parsed.RawQuery
	}
	if parsed.Fragment != "" {
		out += "#" + parsed.Fragment
	}
	return out
}

func defaultPort(scheme string) int {
	if scheme == "http" {
		return 80
	}
	return 443
}

// validHostname applies a basic shape check: allowed characters, and at
// least two dot-separated labels unless the host is localhost or an IPv4
// address. Non-ASCII runes are allowed for internationalized names.
func validHostname(hostname string) bool {
	if hostname == "" {
		return false
	}
	if hostname == "localhost" {
		return true
	}
	for _, r := range hostname {
		if r > 127 {
			continue
		}
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '.' || r == '-' || r == ':' {
			continue
		}
		return false
	}
	if strings.Count(hostname, ".") == 0 && !validIPv4(hostname) {
		return false
	}
	return true
}

func validIPv4(s string) bool {
	parts := strings.Split(s, ".")
	if len(parts) != 4 {
		return false
	}
	for _, part := range parts {
		n, err := strconv.Atoi(part)
		if err != nil || n < 0 || n > 255 {
			return false
		}
	}
	return true
}
