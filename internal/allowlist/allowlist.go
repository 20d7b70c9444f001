// Package allowlist decides whether a request origin may submit to a
// form. The rules are deliberately permissive legacy behavior: exact
// hostname match, "*." wildcard suffix match, or raw substring
// containment. Matching is case-sensitive; scheme and port are ignored
// only insofar as hostname extraction discards them.
package allowlist

import (
	"net/url"
	"strings"
)

// Allowed reports whether origin (an Origin or Referer header value) is
// permitted by the form's allowlist. An empty allowlist allows
// everything. The first matching entry wins.
func Allowed(origin string, allowlist []string) bool {
	if len(allowlist) == 0 {
		return true
	}

	host := ""
	if u, err := url.Parse(origin); err == nil {
		host = u.Hostname()
	}

	for _, entry := range allowlist {
		if entry == "" {
			continue
		}
		if host != "" && host == entry {
			return true
		}
		if strings.HasPrefix(entry, "*.") {
			suffix := strings.TrimPrefix(entry, "*")
			if host != "" && strings.HasSuffix(host, suffix) {
				return true
			}
			continue
		}
		// Legacy fallback: raw containment against the full header.
		if strings.Contains(origin, entry) {
			return true
		}
	}
	return false
}
