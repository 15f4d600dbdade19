// Package origin validates browser Origin headers against the configured
// allow-list, or against the request host when no allow-list is set.
package origin

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// Wildcard in an allow-list admits every well-formed origin.
const Wildcard = "*"

// Policy decides which browser origins may talk to the signaling relay.
//
// An empty Allowed list means same-host only.
type Policy struct {
	Allowed []string
}

// Check reports whether the request may proceed. Requests without an Origin
// header (non-browser clients) are always allowed and return an empty origin.
func (p Policy) Check(r *http.Request) (normalized string, ok bool) {
	raw := r.Header.Get("Origin")
	if raw == "" {
		return "", true
	}
	normalized, host, ok := NormalizeHeader(raw)
	if !ok {
		return "", false
	}
	return normalized, IsAllowed(normalized, host, r.Host, p.Allowed)
}

// NormalizeHeader validates an Origin header and returns scheme://host[:port]
// along with the host[:port] part. Default ports are dropped. The literal
// "null" origin is accepted with an empty host.
func NormalizeHeader(originHeader string) (normalizedOrigin string, host string, ok bool) {
	raw := strings.TrimSpace(originHeader)
	switch raw {
	case "":
		return "", "", false
	case "null":
		return "null", "", true
	}

	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", "", false
	}
	if u.User != nil || u.RawQuery != "" || u.Fragment != "" || u.ForceQuery {
		return "", "", false
	}
	if u.Path != "" && u.Path != "/" {
		return "", "", false
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", "", false
	}

	host, ok = canonicalAuthority(scheme, u.Host)
	if !ok {
		return "", "", false
	}
	return scheme + "://" + host, host, true
}

// IsAllowed matches a normalized origin against allowedOrigins, which must
// hold "*" or values produced by NormalizeHeader. With no allow-list the
// origin host must equal the request Host. The scheme is not compared so a
// TLS-terminating proxy in front of the relay still matches.
func IsAllowed(normalizedOrigin, originHost, requestHost string, allowedOrigins []string) bool {
	if len(allowedOrigins) > 0 {
		for _, allowed := range allowedOrigins {
			if allowed == Wildcard || allowed == normalizedOrigin {
				return true
			}
		}
		return false
	}

	scheme, _, found := strings.Cut(normalizedOrigin, "://")
	if !found || (scheme != "http" && scheme != "https") {
		return false
	}
	reqHost, ok := canonicalAuthority(scheme, requestHost)
	if !ok {
		return false
	}
	return originHost == reqHost
}

// canonicalAuthority lowercases host[:port], validates the port and strips it
// when it is the scheme default. IPv6 literals come back bracketed.
func canonicalAuthority(scheme, authority string) (string, bool) {
	hostname, rawPort, ok := splitHostPort(strings.ToLower(strings.TrimSpace(authority)))
	if !ok || hostname == "" {
		return "", false
	}

	var port uint64
	if rawPort != "" {
		n, err := strconv.ParseUint(rawPort, 10, 16)
		if err != nil || n == 0 {
			return "", false
		}
		port = n
	}
	if (scheme == "http" && port == 80) || (scheme == "https" && port == 443) {
		port = 0
	}

	if strings.Contains(hostname, ":") {
		hostname = "[" + hostname + "]"
	}
	if port == 0 {
		return hostname, true
	}
	return hostname + ":" + strconv.FormatUint(port, 10), true
}

// splitHostPort splits host[:port]. Bracketed IPv6 literals are returned
// without brackets; the port is not validated.
func splitHostPort(authority string) (hostname, port string, ok bool) {
	if authority == "" {
		return "", "", false
	}

	if rest, isV6 := strings.CutPrefix(authority, "["); isV6 {
		hostname, tail, closed := strings.Cut(rest, "]")
		if !closed {
			return "", "", false
		}
		if tail == "" {
			return hostname, "", true
		}
		port, hasPort := strings.CutPrefix(tail, ":")
		if !hasPort || port == "" {
			return "", "", false
		}
		return hostname, port, true
	}

	if strings.Count(authority, ":") > 1 {
		// Unbracketed IPv6.
		return "", "", false
	}
	hostname, port, hasPort := strings.Cut(authority, ":")
	if hostname == "" || (hasPort && port == "") {
		return "", "", false
	}
	return hostname, port, true
}
