package decode

import "strings"

// Kind selects the parser used for a decoded document.
type Kind int

const (
	// KindHTML uses the lenient HTML parser.
	KindHTML Kind = iota
	// KindXML uses the XML parser (feeds, sitemaps, XML judgments).
	KindXML
)

func (k Kind) String() string {
	if k == KindXML {
		return "xml"
	}
	return "html"
}

var xmlPrologues = []string{"<?xml", "<rss", "<feed"}

// DetectKind picks KindXML when the Content-Type names XML or the body opens
// with an XML, RSS or Atom prologue. XHTML stays on the HTML parser.
func DetectKind(contentType, text string) Kind {
	ct := strings.ToLower(contentType)
	if strings.Contains(ct, "xhtml") {
		return KindHTML
	}
	if strings.Contains(ct, "xml") {
		return KindXML
	}

	head := strings.TrimLeft(strings.TrimPrefix(text, "\uFEFF"), " \t\r\n")
	if len(head) > 512 {
		head = head[:512]
	}
	head = strings.ToLower(head)
	for _, p := range xmlPrologues {
		if strings.HasPrefix(head, p) {
			if strings.Contains(head, "<html") || strings.Contains(head, "<!doctype html") {
				return KindHTML
			}
			return KindXML
		}
	}
	return KindHTML
}
