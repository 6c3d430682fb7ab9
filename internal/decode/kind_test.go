package decode

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDetectKind(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		contentType string
		text        string
		want        Kind
	}{
		{"xml header", "application/xml", "<doc/>", KindXML},
		{"rss header", "application/rss+xml; charset=utf-8", "", KindXML},
		{"xhtml header", "application/xhtml+xml", "<html/>", KindHTML},
		{"xml prologue", "text/plain", "  <?xml version=\"1.0\"?><root/>", KindXML},
		{"rss prologue", "", "<rss version=\"2.0\">", KindXML},
		{"atom prologue", "", "\uFEFF<feed xmlns=\"http://www.w3.org/2005/Atom\">", KindXML},
		{"xhtml prologue", "", "<?xml version=\"1.0\"?><!DOCTYPE html><html></html>", KindHTML},
		{"html", "text/html", "<!doctype html><html></html>", KindHTML},
		{"unknown", "", "hello", KindHTML},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, DetectKind(tt.contentType, tt.text))
		})
	}
	require.Equal(t, "xml", KindXML.String())
	require.Equal(t, "html", KindHTML.String())
}
