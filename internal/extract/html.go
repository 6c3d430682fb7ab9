package extract

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/sitetree-crawler/internal/urlcanon"
)

type htmlDocument struct {
	doc *goquery.Document
}

func parseHTML(text string) (Document, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(text))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return &htmlDocument{doc: doc}, nil
}

func (d *htmlDocument) Title(pageURL string) string {
	meta, _ := d.doc.Find(`meta[name="title"]`).First().Attr("content")
	if t := firstNonEmpty(
		d.doc.Find("title").First().Text(),
		d.doc.Find("h1").First().Text(),
		meta,
	); t != "" {
		return t
	}
	return pageURL
}

func (d *htmlDocument) Breadcrumb(pageURL string) string {
	for _, selector := range BreadcrumbSelectors {
		container := d.doc.Find(selector).First()
		if container.Length() == 0 {
			continue
		}
		var parts []string
		container.Find("a, span").Each(func(_ int, s *goquery.Selection) {
			if text := cleanText(s.Text()); text != "" {
				parts = append(parts, text)
			}
		})
		if len(parts) > 0 {
			return strings.Join(parts, breadcrumbSep)
		}
	}
	return PathBreadcrumb(pageURL)
}

func (d *htmlDocument) Links(pageURL, domain string, excluded []string) []string {
	base := pageURL
	if href, ok := d.doc.Find("base[href]").First().Attr("href"); ok && strings.TrimSpace(href) != "" {
		if resolved, err := urlcanon.Resolve(pageURL, href); err == nil {
			base = resolved
		}
	}
	var hrefs []string
	d.doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		if href, ok := s.Attr("href"); ok {
			hrefs = append(hrefs, href)
		}
	})
	return collectLinks(base, domain, excluded, hrefs)
}
