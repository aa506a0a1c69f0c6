// Package docx implements the .docx fallback chain: structured extract,
// then markdown convert, then raw XML paragraph extract, then simple
// text extract.
//
// The structured-extract strategy is a streaming-XML parser (paragraphs
// and "Header: Value" table rows); each strategy below it is a cheaper
// and more tolerant reading of the same OOXML container for documents
// too damaged for the one above it.
package docx

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"regexp"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/text"
)

const minChars = 20

// Extractor implements the .docx fallback chain.
type Extractor struct{}

// NewExtractor returns a docx.Extractor.
func NewExtractor() *Extractor { return &Extractor{} }

// Extract runs the fallback chain over an in-memory .docx (OOXML zip).
func (e *Extractor) Extract(content []byte) (string, error) {
	if len(content) == 0 {
		return "", fmt.Errorf("docx: empty content")
	}

	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err == nil {
		if docData, ok := readDocumentXML(zr); ok {
			if text := structuredExtract(docData); len(strings.TrimSpace(text)) >= minChars {
				return text, nil
			}
			if text := markdownConvert(docData); len(strings.TrimSpace(text)) >= minChars {
				return text, nil
			}
			if text := rawParagraphExtract(docData); len(strings.TrimSpace(text)) >= minChars {
				return text, nil
			}
		}
	}

	// The zip itself may be malformed enough that zip.NewReader failed, or
	// word/document.xml may be missing/unreadable — fall all the way back
	// to a byte-level scan of the raw container.
	return simpleTextExtract(content), nil
}

// readDocumentXML locates and reads word/document.xml out of an opened
// zip archive.
func readDocumentXML(zr *zip.Reader) ([]byte, bool) {
	for _, f := range zr.File {
		if f.Name != "word/document.xml" {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, false
		}
		defer rc.Close()
		var buf bytes.Buffer
		if _, err := buf.ReadFrom(rc); err != nil {
			return nil, false
		}
		return buf.Bytes(), true
	}
	return nil, false
}

// structuredExtract streams through document.xml collecting paragraph
// runs and header-labelled table cells. No heading/image metadata — the
// extraction prompt operates on flat text.
func structuredExtract(docData []byte) string {
	var text strings.Builder
	var inParagraph, inRun, inTable, inTableRow bool
	var paragraphTexts []string
	var tableHeaders []string
	var cellTexts []string
	var currentCell strings.Builder
	tableRowIdx := 0

	emitTableRow := func() {
		var fields []string
		for i, val := range cellTexts {
			val = strings.TrimSpace(val)
			if val == "" {
				continue
			}
			header := ""
			if i < len(tableHeaders) {
				header = tableHeaders[i]
			}
			if header != "" {
				fields = append(fields, fmt.Sprintf("%s: %s", header, val))
			} else {
				fields = append(fields, val)
			}
		}
		if len(fields) == 0 {
			return
		}
		if text.Len() > 0 {
			text.WriteString("\n\n")
		}
		text.WriteString(strings.Join(fields, ", "))
	}

	endParagraph := func() {
		inParagraph = false
		if inTable {
			return
		}
		if len(paragraphTexts) == 0 {
			return
		}
		paraText := strings.TrimSpace(strings.Join(paragraphTexts, ""))
		if paraText == "" {
			return
		}
		if text.Len() > 0 {
			text.WriteString("\n\n")
		}
		text.WriteString(paraText)
	}

	decoder := xml.NewDecoder(bytes.NewReader(docData))
	for {
		tok, err := decoder.Token()
		if err != nil {
			break
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "p":
				inParagraph = true
				paragraphTexts = nil
			case "r":
				inRun = true
			case "tbl":
				inTable = true
				tableHeaders = nil
				tableRowIdx = 0
			case "tr":
				inTableRow = true
				cellTexts = nil
			case "tc":
				currentCell.Reset()
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "r":
				inRun = false
			case "tc":
				cellTexts = append(cellTexts, strings.TrimSpace(currentCell.String()))
			case "tr":
				inTableRow = false
				if inTable {
					if tableRowIdx == 0 {
						tableHeaders = append([]string(nil), cellTexts...)
					} else {
						emitTableRow()
					}
					tableRowIdx++
				}
			case "tbl":
				inTable = false
			case "p":
				endParagraph()
			}
		case xml.CharData:
			content := string(t)
			if inTable && inTableRow {
				currentCell.WriteString(content)
			} else if inParagraph && inRun {
				paragraphTexts = append(paragraphTexts, content)
			}
		}
	}
	return strings.TrimSpace(text.String())
}

// markdownConvert re-walks the same document.xml, this time emitting
// "#"/"##" headings and "| a | b |" table rows, then renders that
// markdown through goldmark and flattens the resulting AST back to plain
// text via a small NodeRenderer. Rendering-then-flattening both validates
// the emitted markdown is well-formed and normalizes whitespace the same
// way regardless of which paragraphs were headings.
func markdownConvert(docData []byte) string {
	md := emitMarkdown(docData)
	if strings.TrimSpace(md) == "" {
		return ""
	}

	var buf bytes.Buffer
	gm := goldmark.New()
	gm.Parser().AddOptions(parser.WithAutoHeadingID())

	node := gm.Parser().Parse(text.NewReader([]byte(md)))
	flattenMarkdownAST(node, []byte(md), &buf)
	return strings.TrimSpace(buf.String())
}

// emitMarkdown walks document.xml paragraphs, emitting a heading line for
// "Heading*"-styled paragraphs and a GFM table for <w:tbl> content.
func emitMarkdown(docData []byte) string {
	var out strings.Builder
	var inParagraph, inRun, inTable, inTableRow bool
	var paragraphTexts []string
	var currentStyle string
	var cellTexts []string
	var currentCell strings.Builder
	tableRowIdx := 0
	colCount := 0

	decoder := xml.NewDecoder(bytes.NewReader(docData))
	for {
		tok, err := decoder.Token()
		if err != nil {
			break
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "p":
				inParagraph = true
				currentStyle = ""
				paragraphTexts = nil
			case "pStyle":
				for _, a := range t.Attr {
					if a.Name.Local == "val" {
						currentStyle = a.Value
					}
				}
			case "r":
				inRun = true
			case "tbl":
				inTable = true
				tableRowIdx = 0
				colCount = 0
			case "tr":
				inTableRow = true
				cellTexts = nil
			case "tc":
				currentCell.Reset()
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "r":
				inRun = false
			case "tc":
				cellTexts = append(cellTexts, strings.TrimSpace(currentCell.String()))
			case "tr":
				inTableRow = false
				if inTable {
					if tableRowIdx == 0 {
						colCount = len(cellTexts)
					}
					writeMarkdownTableRow(&out, cellTexts, tableRowIdx == 0, colCount)
					tableRowIdx++
				}
			case "tbl":
				inTable = false
				out.WriteString("\n")
			case "p":
				inParagraph = false
				if inTable {
					break
				}
				paraText := strings.TrimSpace(strings.Join(paragraphTexts, ""))
				if paraText == "" {
					break
				}
				if strings.HasPrefix(currentStyle, "Heading") {
					level := 1
					if len(currentStyle) > len("Heading") {
						if n := currentStyle[len("Heading"):]; n == "2" {
							level = 2
						} else if n == "3" {
							level = 3
						}
					}
					out.WriteString(strings.Repeat("#", level) + " " + paraText + "\n\n")
				} else {
					out.WriteString(paraText + "\n\n")
				}
			}
		case xml.CharData:
			content := string(t)
			if inTable && inTableRow {
				currentCell.WriteString(content)
			} else if inParagraph && inRun {
				paragraphTexts = append(paragraphTexts, content)
			}
		}
	}
	return out.String()
}

func writeMarkdownTableRow(out *strings.Builder, cells []string, isHeader bool, colCount int) {
	if len(cells) == 0 {
		return
	}
	out.WriteString("|")
	for _, c := range cells {
		out.WriteString(" " + strings.ReplaceAll(c, "|", "\\|") + " |")
	}
	out.WriteString("\n")
	if isHeader {
		out.WriteString("|")
		for i := 0; i < colCount; i++ {
			out.WriteString(" --- |")
		}
		out.WriteString("\n")
	}
}

// flattenMarkdownAST walks a parsed goldmark document and writes every
// text-bearing leaf node's content to out, with a newline before each
// paragraph or heading block — the "render back to plain text" half of the
// markdown-convert strategy.
func flattenMarkdownAST(n ast.Node, source []byte, out *bytes.Buffer) {
	ast.Walk(n, func(node ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch node.Kind() {
		case ast.KindText:
			t := node.(*ast.Text)
			out.Write(t.Segment.Value(source))
		case ast.KindString:
			s := node.(*ast.String)
			out.Write(s.Value)
		case ast.KindParagraph, ast.KindHeading:
			if out.Len() > 0 {
				out.WriteString("\n")
			}
		}
		return ast.WalkContinue, nil
	})
}

// rawParagraphExtract tolerantly decodes document.xml looking only for
// <w:t> character data, ignoring any structural/token errors encountered
// along the way — works on a document.xml with malformed nesting that
// defeats the stricter strategies above.
func rawParagraphExtract(docData []byte) string {
	var sb strings.Builder
	decoder := xml.NewDecoder(bytes.NewReader(docData))
	decoder.Strict = false
	inText := false
	for {
		tok, err := decoder.Token()
		if err != nil {
			break
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local == "t" {
				inText = true
			}
		case xml.EndElement:
			if t.Name.Local == "t" {
				inText = false
				sb.WriteString(" ")
			}
		case xml.CharData:
			if inText {
				sb.Write(t)
			}
		}
	}
	return strings.TrimSpace(sb.String())
}

var wtTagRe = regexp.MustCompile(`<w:t[^>]*>([^<]*)</w:t>`)

// simpleTextExtract is the last-resort strategy for a zip too damaged for
// archive/zip itself, or whose word/document.xml can't be located: it
// scans the raw container bytes with a regex for <w:t> runs, working even
// against a truncated or partially corrupt central directory.
func simpleTextExtract(content []byte) string {
	matches := wtTagRe.FindAllSubmatch(content, -1)
	if len(matches) == 0 {
		return ""
	}
	parts := make([]string, 0, len(matches))
	for _, m := range matches {
		if v := strings.TrimSpace(string(m[1])); v != "" {
			parts = append(parts, v)
		}
	}
	return strings.Join(parts, " ")
}
