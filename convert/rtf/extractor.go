// Package rtf implements the .rtf fallback chain: the same
// decode-with-probes sequence as convert/txt, followed by an RTF
// control-word stripper. The scanner only needs to handle resume-shaped
// RTF (plain runs of text between control words/groups), not the full
// RTF control-word grammar.
package rtf

import (
	"strings"

	"github.com/gogs/chardet"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
)

// Extractor implements the .rtf fallback chain.
type Extractor struct{}

// NewExtractor returns an rtf.Extractor.
func NewExtractor() *Extractor { return &Extractor{} }

// Extract decodes content's charset, then strips RTF control words and
// groups, returning plain text.
func (e *Extractor) Extract(content []byte) (string, error) {
	decoded := decodeWithProbes(content)
	return stripRTF(decoded), nil
}

func decodeWithProbes(content []byte) string {
	d := chardet.NewTextDetector()
	if result, err := d.DetectBest(content); err == nil && result != nil {
		if enc := encodingForName(result.Charset); enc != nil {
			if text, ok := tryDecode(enc, content); ok {
				return text
			}
		}
	}
	for _, enc := range []encoding.Encoding{unicode.UTF8, charmap.Windows1252, charmap.ISO8859_1} {
		if text, ok := tryDecode(enc, content); ok {
			return text
		}
	}
	text, _ := unicode.UTF8.NewDecoder().String(string(content))
	return text
}

func tryDecode(enc encoding.Encoding, content []byte) (string, bool) {
	text, err := enc.NewDecoder().String(string(content))
	if err != nil {
		return "", false
	}
	if strings.ContainsRune(text, '�') {
		return "", false
	}
	return text, true
}

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

// stripRTF removes RTF control words (`\wordN`), control symbols
// (`\X`), and group braces, keeping only literal text runs. `\par` and
// `\line` become line breaks. Escaped literal braces/backslashes (`\{`,
// `\}`, `\\`) are unescaped to their literal character.
func stripRTF(s string) string {
	var out strings.Builder
	runes := []rune(s)
	i := 0
	for i < len(runes) {
		c := runes[i]
		switch c {
		case '{', '}':
			i++
		case '\\':
			i++
			if i >= len(runes) {
				break
			}
			switch runes[i] {
			case '\\', '{', '}':
				out.WriteRune(runes[i])
				i++
			case '\'':
				// \'hh hex-escaped byte; skip the two hex digits.
				i++
				if i+1 < len(runes) {
					i += 2
				}
			default:
				// Control word: letters then optional numeric parameter,
				// terminated by a space (consumed) or any non-alnum.
				start := i
				for i < len(runes) && isAlpha(runes[i]) {
					i++
				}
				word := string(runes[start:i])
				for i < len(runes) && isDigit(runes[i]) {
					i++
				}
				if i < len(runes) && runes[i] == ' ' {
					i++
				}
				if word == "par" || word == "line" {
					out.WriteRune('\n')
				}
			}
		default:
			out.WriteRune(c)
			i++
		}
	}
	return strings.TrimSpace(collapseWhitespace(out.String()))
}

func isAlpha(r rune) bool { return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') }
func isDigit(r rune) bool { return r >= '0' && r <= '9' }

func collapseWhitespace(s string) string {
	fields := strings.Fields(s)
	return strings.Join(fields, " ")
}
