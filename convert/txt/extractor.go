// Package txt implements the .txt decode-with-probes chain: detect the
// likely charset with github.com/gogs/chardet, then decode with that
// charset's golang.org/x/text decoder, falling through a fixed probe
// order if detection is inconclusive.
package txt

import (
	"strings"

	"github.com/gogs/chardet"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
)

// probes is the fixed fallback order tried when detection doesn't name a
// usable encoding, or decoding under the detected encoding yields
// replacement characters.
var probes = []struct {
	name string
	enc  encoding.Encoding
}{
	{"utf-8", unicode.UTF8},
	{"windows-1252", charmap.Windows1252},
	{"iso-8859-1", charmap.ISO8859_1},
}

// Extractor implements the .txt decode-with-probes chain.
type Extractor struct{}

// NewExtractor returns a txt.Extractor.
func NewExtractor() *Extractor { return &Extractor{} }

// Extract decodes content using the detected or probed charset.
func (e *Extractor) Extract(content []byte) (string, error) {
	return decodeWithProbes(content), nil
}

// decodeWithProbes runs chardet first to pick a likely starting probe,
// then walks the fixed probe order, accepting the first decode that
// doesn't contain the Unicode replacement character. A final pass decodes
// as UTF-8 with replacement characters allowed, guaranteeing a result.
func decodeWithProbes(content []byte) string {
	d := chardet.NewTextDetector()
	if result, err := d.DetectBest(content); err == nil && result != nil {
		if enc := encodingForName(result.Charset); enc != nil {
			if text, ok := tryDecode(enc, content); ok {
				return text
			}
		}
	}

	for _, p := range probes {
		if text, ok := tryDecode(p.enc, content); ok {
			return text
		}
	}

	text, _ := unicode.UTF8.NewDecoder().String(string(content))
	return strings.TrimSpace(text)
}

func tryDecode(enc encoding.Encoding, content []byte) (string, bool) {
	text, err := enc.NewDecoder().String(string(content))
	if err != nil {
		return "", false
	}
	if strings.ContainsRune(text, '�') {
		return "", false
	}
	return strings.TrimSpace(text), true
}

// encodingForName maps a chardet charset label to a golang.org/x/text
// encoding, covering the charsets this pipeline's .txt/.rtf resumes are
// realistically encoded in.
func encodingForName(name string) encoding.Encoding {
	switch strings.ToUpper(name) {
	case "UTF-8":
		return unicode.UTF8
	case "WINDOWS-1252":
		return charmap.Windows1252
	case "ISO-8859-1":
		return charmap.ISO8859_1
	default:
		return nil
	}
}
