// Package extract derives titles, breadcrumbs and same-domain links from decoded pages.
package extract

import (
	"errors"
	"net/url"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/JakeFAU/sitetree-crawler/internal/decode"
	"github.com/JakeFAU/sitetree-crawler/internal/urlcanon"
)

// ErrEmptyContent reports a page with nothing to parse.
var ErrEmptyContent = errors.New("empty content")

// BreadcrumbSelectors are the containers searched for a breadcrumb trail, in order.
var BreadcrumbSelectors = []string{
	`[class*="breadcrumb"]`,
	`nav.breadcrumb`,
	`ul.breadcrumb`,
	`div.breadcrumb`,
	`nav[aria-label="breadcrumb"]`,
}

const breadcrumbSep = " > "

// Document is a parsed page.
type Document interface {
	// Title returns the page title, falling back to pageURL.
	Title(pageURL string) string
	// Breadcrumb returns the navigation trail, synthesized from the path when absent.
	Breadcrumb(pageURL string) string
	// Links returns canonical same-domain links in first-seen order.
	Links(pageURL, domain string, excluded []string) []string
}

// Parse builds a Document for text using the parser named by kind. XML that
// fails to parse is retried as HTML.
func Parse(kind decode.Kind, text string) (Document, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyContent
	}
	if kind == decode.KindXML {
		doc, err := parseXML(text)
		if err == nil {
			return doc, nil
		}
	}
	return parseHTML(text)
}

// PathBreadcrumb renders "Home > Seg > Seg" from the URL path.
func PathBreadcrumb(pageURL string) string {
	u, err := url.Parse(pageURL)
	if err != nil {
		return "Home"
	}
	parts := []string{"Home"}
	for _, seg := range strings.Split(u.Path, "/") {
		if seg == "" {
			continue
		}
		parts = append(parts, capitalize(seg))
	}
	return strings.Join(parts, breadcrumbSep)
}

func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + strings.ToLower(s[size:])
}

func cleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func firstNonEmpty(candidates ...string) string {
	for _, c := range candidates {
		if c = cleanText(c); c != "" {
			return c
		}
	}
	return ""
}

// collectLinks resolves, canonicalizes and filters hrefs against domain.
func collectLinks(base, domain string, excluded []string, hrefs []string) []string {
	seen := make(map[string]struct{}, len(hrefs))
	out := make([]string, 0, len(hrefs))
	for _, href := range hrefs {
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "#") {
			continue
		}
		abs, err := urlcanon.Resolve(base, href)
		if err != nil {
			continue
		}
		canon, err := urlcanon.Canonicalize(abs, excluded)
		if err != nil || !urlcanon.IsValid(canon, domain) {
			continue
		}
		if _, dup := seen[canon]; dup {
			continue
		}
		seen[canon] = struct{}{}
		out = append(out, canon)
	}
	return out
}
