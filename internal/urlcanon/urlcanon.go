// Package urlcanon normalizes crawl URLs into the canonical form used as the
// dedup key by the visited registry, the node store, and the progress snapshot.
package urlcanon

import (
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"
)

// ErrRejected reports a URL that cannot be parsed or points at an excluded file type.
var ErrRejected = errors.New("url rejected")

// DefaultExcludedExtensions lists document and archive types that are never crawled.
var DefaultExcludedExtensions = []string{
	".pdf", ".doc", ".docx", ".xls", ".xlsx", ".ppt", ".pptx", ".zip", ".rar", ".tar", ".gz",
}

// Canonicalize strips the fragment, a leading "www." host label and trailing
// slashes, lower-casing scheme and host along the way. A nil excluded list
// means DefaultExcludedExtensions. The result is stable under re-application.
func Canonicalize(raw string, excluded []string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("%w: empty", ErrRejected)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRejected, err)
	}
	if excluded == nil {
		excluded = DefaultExcludedExtensions
	}
	if hasExcludedExtension(u.Path, excluded) {
		return "", fmt.Errorf("%w: excluded extension %q", ErrRejected, path.Ext(u.Path))
	}

	u.Fragment = ""
	u.RawFragment = ""
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = CanonicalDomain(u.Host)

	u.Path = strings.TrimRight(u.Path, "/")
	u.RawPath = strings.TrimRight(u.RawPath, "/")

	return u.String(), nil
}

// CanonicalDomain lower-cases a host and removes leading "www." labels.
func CanonicalDomain(host string) string {
	host = strings.ToLower(strings.TrimSpace(host))
	for strings.HasPrefix(host, "www.") {
		host = host[len("www."):]
	}
	return host
}

// Resolve returns ref as an absolute URL relative to base.
func Resolve(base, ref string) (string, error) {
	b, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse base: %w", err)
	}
	r, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return "", fmt.Errorf("parse ref: %w", err)
	}
	return b.ResolveReference(r).String(), nil
}

// IsValid accepts http(s) URLs whose host is domain or one of its subdomains.
func IsValid(rawURL, domain string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return false
	}
	host := CanonicalDomain(u.Hostname())
	domain = CanonicalDomain(domain)
	if host == "" || domain == "" {
		return false
	}
	return host == domain || strings.HasSuffix(host, "."+domain)
}

// Host returns the canonical host of rawURL, or "" when it cannot be parsed.
func Host(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return CanonicalDomain(u.Hostname())
}

func hasExcludedExtension(p string, excluded []string) bool {
	lower := strings.ToLower(strings.TrimRight(p, "/"))
	for _, ext := range excluded {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}
