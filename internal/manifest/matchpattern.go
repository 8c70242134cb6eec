package manifest

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// AllURLs is the match pattern that covers every supported scheme.
const AllURLs = "<all_urls>"

// ValidatePattern checks a content script match pattern: <all_urls> or
// scheme://host/path, where scheme is http, https, file or *, the host
// wildcard may only appear as a leading "*." (or a bare "*"), and the
// path is a glob. Returns a descriptive error for malformed patterns.
func ValidatePattern(pattern string) error {
	if pattern == AllURLs {
		return nil
	}
	scheme, rest, ok := strings.Cut(pattern, "://")
	if !ok {
		return fmt.Errorf("missing scheme separator")
	}
	switch scheme {
	case "http", "https", "file", "*":
	default:
		return fmt.Errorf("unsupported scheme %q", scheme)
	}
	slash := strings.Index(rest, "/")
	if slash < 0 {
		return fmt.Errorf("missing path")
	}
	host, pth := rest[:slash], rest[slash:]
	if host == "" && scheme != "file" {
		return fmt.Errorf("missing host")
	}
	if err := validateHost(host); err != nil {
		return err
	}
	if !doublestar.ValidatePattern(pth) {
		return fmt.Errorf("malformed path glob %q", pth)
	}
	return nil
}

func validateHost(host string) error {
	if host == "" || host == "*" {
		return nil
	}
	h := strings.TrimPrefix(host, "*.")
	if h == "" {
		return fmt.Errorf("empty host after wildcard")
	}
	if strings.Contains(h, "*") {
		return fmt.Errorf("host wildcard only allowed as leading *.")
	}
	return nil
}

// Match reports whether rawURL falls inside pattern. Malformed input
// never matches.
func Match(pattern, rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" {
		return false
	}
	if pattern == AllURLs {
		return schemeSupported(u.Scheme)
	}
	scheme, rest, ok := strings.Cut(pattern, "://")
	if !ok {
		return false
	}
	if !schemeMatches(scheme, u.Scheme) {
		return false
	}
	slash := strings.Index(rest, "/")
	if slash < 0 {
		return false
	}
	host, pth := rest[:slash], rest[slash:]
	if !hostMatches(host, u.Hostname()) {
		return false
	}
	upath := u.Path
	if upath == "" {
		upath = "/"
	}
	matched, err := doublestar.Match(pathGlob(pth), upath)
	return err == nil && matched
}

// MatchAny reports whether rawURL falls inside any of the patterns.
func MatchAny(patterns []string, rawURL string) bool {
	for _, p := range patterns {
		if Match(p, rawURL) {
			return true
		}
	}
	return false
}

func schemeSupported(scheme string) bool {
	return scheme == "http" || scheme == "https" || scheme == "file"
}

func schemeMatches(pattern, scheme string) bool {
	if pattern == "*" {
		return scheme == "http" || scheme == "https"
	}
	return pattern == scheme
}

func hostMatches(pattern, host string) bool {
	switch {
	case pattern == "" || pattern == "*":
		return true
	case strings.HasPrefix(pattern, "*."):
		base := pattern[2:]
		return host == base || strings.HasSuffix(host, "."+base)
	default:
		return host == pattern
	}
}

// pathGlob widens a trailing "/*" so the common prefix form matches
// nested paths the way extension authors expect.
func pathGlob(p string) string {
	if strings.HasSuffix(p, "/*") {
		return p[:len(p)-1] + "**"
	}
	return p
}
