// Package origin validates browser Origin headers for the relay's
// WebSocket and ICE-config endpoints.
package origin

import (
	"net/url"
	"strconv"
	"strings"
)

// Normalize validates and normalizes an Origin header to
// scheme://host[:port], dropping default ports. The special value "null" is
// passed through; everything else must be a clean http(s) origin.
func Normalize(header string) (normalized string, host string, ok bool) {
	trimmed := strings.TrimSpace(header)
	if trimmed == "" {
		return "", "", false
	}
	if trimmed == "null" {
		return "null", "", true
	}

	u, err := url.Parse(trimmed)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", "", false
	}
	if u.User != nil || u.RawQuery != "" || u.Fragment != "" || (u.Path != "" && u.Path != "/") {
		return "", "", false
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", "", false
	}

	hostname := strings.ToLower(u.Hostname())
	if hostname == "" {
		return "", "", false
	}

	port := u.Port()
	if port != "" {
		n, err := strconv.ParseUint(port, 10, 16)
		if err != nil || n == 0 {
			return "", "", false
		}
		if (scheme == "http" && n == 80) || (scheme == "https" && n == 443) {
			port = ""
		}
	}

	host = hostname
	if strings.Contains(hostname, ":") {
		host = "[" + hostname + "]"
	}
	if port != "" {
		host += ":" + port
	}
	return scheme + "://" + host, host, true
}

// Allowed reports whether a normalized origin may access the relay.
//
// With a non-empty allowlist, entries must be "*" or normalized origins.
// Without one the policy is same-host: the origin's host[:port] must match
// the request Host. Scheme is deliberately not compared because the relay
// commonly sits behind a TLS-terminating proxy.
func Allowed(normalized, originHost, requestHost string, allowlist []string) bool {
	if len(allowlist) > 0 {
		for _, entry := range allowlist {
			if entry == "*" || entry == normalized {
				return true
			}
		}
		return false
	}
	if normalized == "null" {
		return false
	}
	return originHost != "" && strings.EqualFold(stripDefaultPort(requestHost, normalized), originHost)
}

func stripDefaultPort(requestHost, normalizedOrigin string) string {
	host := strings.ToLower(strings.TrimSpace(requestHost))
	switch {
	case strings.HasPrefix(normalizedOrigin, "http://"):
		host = strings.TrimSuffix(host, ":80")
	case strings.HasPrefix(normalizedOrigin, "https://"):
		host = strings.TrimSuffix(host, ":443")
	}
	return host
}
