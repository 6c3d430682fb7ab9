package extract

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/antchfx/xmlquery"
)

// The text handed to the XML parser is already UTF-8; a stale encoding
// declaration would make the parser transcode it a second time.
var xmlEncodingDecl = regexp.MustCompile(`(?i)(<\?xml[^>]*?encoding=)["'][^"']*["']`)

type xmlDocument struct {
	root *xmlquery.Node
}

func parseXML(text string) (Document, error) {
	text = xmlEncodingDecl.ReplaceAllString(text, `${1}"UTF-8"`)
	root, err := xmlquery.Parse(strings.NewReader(text))
	if err != nil {
		return nil, fmt.Errorf("parse xml: %w", err)
	}
	if root.FirstChild == nil {
		return nil, ErrEmptyContent
	}
	return &xmlDocument{root: root}, nil
}

func (d *xmlDocument) text(expr string) string {
	node, err := xmlquery.Query(d.root, expr)
	if err != nil || node == nil {
		return ""
	}
	return node.InnerText()
}

func (d *xmlDocument) Title(pageURL string) string {
	var meta string
	if n := xmlquery.FindOne(d.root, "//meta[@name='title']"); n != nil {
		meta = n.SelectAttr("content")
	}
	if t := firstNonEmpty(d.text("//title"), d.text("//h1"), meta); t != "" {
		return t
	}
	return pageURL
}

func (d *xmlDocument) Breadcrumb(pageURL string) string {
	containers, err := xmlquery.QueryAll(d.root, `//*[contains(@class,'breadcrumb')]`)
	if err == nil {
		for _, c := range containers {
			var parts []string
			for _, n := range xmlquery.Find(c, ".//a | .//span") {
				if text := cleanText(n.InnerText()); text != "" {
					parts = append(parts, text)
				}
			}
			if len(parts) > 0 {
				return strings.Join(parts, breadcrumbSep)
			}
		}
	}
	return PathBreadcrumb(pageURL)
}

// Links reads anchors, Atom link elements and RSS <link> bodies in document order.
func (d *xmlDocument) Links(pageURL, domain string, excluded []string) []string {
	var hrefs []string
	var walk func(n *xmlquery.Node)
	walk = func(n *xmlquery.Node) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == xmlquery.ElementNode {
				if href, ok := linkTarget(c); ok {
					hrefs = append(hrefs, href)
				}
			}
			walk(c)
		}
	}
	walk(d.root)
	return collectLinks(pageURL, domain, excluded, hrefs)
}

func linkTarget(n *xmlquery.Node) (string, bool) {
	switch strings.ToLower(n.Data) {
	case "a":
		href := n.SelectAttr("href")
		return href, href != ""
	case "link":
		if href := n.SelectAttr("href"); href != "" {
			return href, true
		}
		if p := n.Parent; p != nil && (strings.EqualFold(p.Data, "item") || strings.EqualFold(p.Data, "channel")) {
			body := strings.TrimSpace(n.InnerText())
			return body, body != ""
		}
	}
	return "", false
}
