package evidence

import (
	"fmt"
	"net/url"
	"strings"
)

// NormalizeURL standardizes a URL to avoid duplicate network work.
// It lowercases the scheme and host, removes default ports and fragments,
// and sorts query parameters.
func NormalizeURL(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)

	if u.Scheme == "http" && strings.HasSuffix(u.Host, ":80") {
		u.Host = strings.TrimSuffix(u.Host, ":80")
	}
	if u.Scheme == "https" && strings.HasSuffix(u.Host, ":443") {
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}

	u.Fragment = ""

	q := u.Query()
	u.RawQuery = q.Encode()

	return u.String(), nil
}

// CanonicalKey reduces a URL to a scheme- and www-insensitive identity used
// for dedup. Two URLs differing only by scheme, "www." prefix, or a trailing
// slash map to the same key. Unparseable input falls back to a trimmed,
// lowercased copy of the raw string so dedup never fails.
func CanonicalKey(rawURL string) string {
	trimmed := strings.TrimSpace(rawURL)
	normalized, err := NormalizeURL(ensureScheme(trimmed))
	if err != nil {
		return strings.ToLower(trimmed)
	}
	u, err := url.Parse(normalized)
	if err != nil {
		return strings.ToLower(trimmed)
	}
	host := strings.TrimPrefix(u.Host, "www.")
	path := strings.TrimSuffix(u.Path, "/")
	key := host + path
	if u.RawQuery != "" {
		key += "?" + u.RawQuery
	}
	return key
}

// Domain extracts the lowercased host (without "www.") from a URL or bare
// domain string. It returns "" only when no host can be recovered at all.
func Domain(rawURL string) string {
	trimmed := strings.TrimSpace(rawURL)
	if trimmed == "" {
		return ""
	}
	u, err := url.Parse(ensureScheme(trimmed))
	if err != nil || u.Hostname() == "" {
		// Fallback parse: take everything before the first slash.
		host := trimmed
		if idx := strings.IndexByte(host, '/'); idx >= 0 {
			host = host[:idx]
		}
		return strings.TrimPrefix(strings.ToLower(host), "www.")
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}

// SameDomain reports whether two URL-or-domain strings resolve to the same
// registrable host, www-insensitively.
func SameDomain(a, b string) bool {
	da, db := Domain(a), Domain(b)
	return da != "" && da == db
}

// IsFirstParty reports whether the item domain belongs to the bundle's
// primary URL domain or one of the supplied first-party domains.
func IsFirstParty(itemDomain, primaryURL string, firstPartyDomains []string) bool {
	d := Domain(itemDomain)
	if d == "" {
		return false
	}
	if primaryURL != "" && d == Domain(primaryURL) {
		return true
	}
	for _, fp := range firstPartyDomains {
		if d == Domain(fp) {
			return true
		}
	}
	return false
}

func ensureScheme(raw string) string {
	if raw == "" {
		return raw
	}
	if strings.Contains(raw, "://") {
		return raw
	}
	return "https://" + raw
}
