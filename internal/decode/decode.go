// Package decode turns raw response bytes into text without ever failing.
//
// Charsets are tried in order: the Content-Type header parameter, a
// statistically detected charset, a configurable fallback list, and finally
// UTF-8 with invalid sequences replaced. If every stage panics the caller
// still receives Undecodable.
package decode

import (
	"bytes"
	"mime"
	"strings"
	"unicode/utf8"

	"github.com/saintfish/chardet"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/unicode"
)

// Undecodable is returned when no decoding stage produced text.
const Undecodable = "[content could not be decoded]"

// Stage names the decoding step that produced a Result.
type Stage string

const (
	StageEmpty       Stage = "empty"
	StageHeader      Stage = "header"
	StageDetected    Stage = "detected"
	StageFallback    Stage = "fallback"
	StageReplacement Stage = "replacement"
	StageSentinel    Stage = "sentinel"
)

// DefaultFallbacks is the charset list tried after header and detection fail.
var DefaultFallbacks = []string{"utf-8", "windows-1252", "iso-8859-1"}

// minConfidence is the chardet score below which a detection is ignored.
const minConfidence = 20

// Result carries decoded text and how it was obtained.
type Result struct {
	Text    string
	Charset string
	Stage   Stage
}

// Decoder applies the staged charset policy.
type Decoder struct {
	fallbacks []string
	detector  *chardet.Detector
}

// New returns a Decoder using fallbacks, or DefaultFallbacks when empty.
func New(fallbacks []string) *Decoder {
	if len(fallbacks) == 0 {
		fallbacks = DefaultFallbacks
	}
	return &Decoder{
		fallbacks: append([]string(nil), fallbacks...),
		detector:  chardet.NewTextDetector(),
	}
}

var defaultDecoder = New(nil)

// Decode runs the default decoder.
func Decode(body []byte, contentType string) Result {
	return defaultDecoder.Decode(body, contentType)
}

// Decode converts body to text. It never panics.
func (d *Decoder) Decode(body []byte, contentType string) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = Result{Text: Undecodable, Stage: StageSentinel}
		}
	}()

	if len(body) == 0 {
		return Result{Charset: "utf-8", Stage: StageEmpty}
	}

	if label := HeaderCharset(contentType); label != "" {
		if text, ok := tryDecode(body, label); ok {
			return Result{Text: text, Charset: label, Stage: StageHeader}
		}
	}

	if label := d.detect(body); label != "" {
		if text, ok := tryDecode(body, label); ok {
			return Result{Text: text, Charset: label, Stage: StageDetected}
		}
	}

	for _, label := range d.fallbacks {
		if text, ok := tryDecode(body, label); ok {
			return Result{Text: text, Charset: label, Stage: StageFallback}
		}
	}

	if text, ok := safely(func() (string, bool) {
		return strings.ToValidUTF8(string(body), "\uFFFD"), true
	}); ok {
		return Result{Text: text, Charset: "utf-8", Stage: StageReplacement}
	}
	return Result{Text: Undecodable, Stage: StageSentinel}
}

// HeaderCharset extracts the charset parameter from a Content-Type value.
func HeaderCharset(contentType string) string {
	if contentType == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		// Tolerate sloppy headers such as "text/html; charset=utf-8;".
		idx := strings.Index(strings.ToLower(contentType), "charset=")
		if idx < 0 {
			return ""
		}
		label := contentType[idx+len("charset="):]
		if end := strings.IndexAny(label, "; "); end >= 0 {
			label = label[:end]
		}
		return strings.ToLower(strings.Trim(label, `"' `))
	}
	return strings.ToLower(strings.TrimSpace(params["charset"]))
}

func (d *Decoder) detect(body []byte) string {
	label, _ := safely(func() (string, bool) {
		best, err := d.detector.DetectBest(body)
		if err != nil || best == nil || best.Confidence < minConfidence {
			return "", false
		}
		return strings.ToLower(best.Charset), true
	})
	return label
}

// tryDecode decodes body strictly: replacement characters that were not in
// the input count as failure.
func tryDecode(body []byte, label string) (string, bool) {
	text, ok := safely(func() (string, bool) {
		enc := lookup(label)
		if enc == nil {
			return "", false
		}
		if enc == unicode.UTF8 || enc == encoding.Nop {
			if !utf8.Valid(body) {
				return "", false
			}
			return string(bytes.TrimPrefix(body, []byte("\xef\xbb\xbf"))), true
		}
		out, err := enc.NewDecoder().Bytes(body)
		if err != nil {
			return "", false
		}
		if bytes.ContainsRune(out, utf8.RuneError) && !bytes.ContainsRune(body, utf8.RuneError) {
			return "", false
		}
		return string(out), true
	})
	// A body made of a byte-order mark alone decodes to nothing.
	return text, ok && text != ""
}

func lookup(label string) encoding.Encoding {
	label = strings.ToLower(strings.TrimSpace(label))
	switch label {
	case "iso-8859-1", "iso8859-1", "latin1", "latin-1", "l1":
		// htmlindex maps these to windows-1252; keep true Latin-1 so the
		// fallback list always has a total decoder.
		return charmap.ISO8859_1
	case "utf8":
		label = "utf-8"
	}
	if enc, err := htmlindex.Get(label); err == nil {
		return enc
	}
	// chardet reports labels such as "GB-18030" and "ISO-8859-8-I".
	if enc, err := htmlindex.Get(strings.ReplaceAll(label, "-", "")); err == nil {
		return enc
	}
	return nil
}

func safely(fn func() (string, bool)) (out string, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			out, ok = "", false
		}
	}()
	return fn()
}
