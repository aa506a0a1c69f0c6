// Package pdf implements the .pdf fallback chain: fast extract, then a
// layout-aware extract, then a legacy content-operator walk, with
// per-page OCR escalation. All three text strategies use ledongthuc/pdf
// at progressively lower-level APIs rather than pulling in a second PDF
// dependency.
package pdf

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/ledongthuc/pdf"

	"github.com/quillhq/parsepipe/convert/image"
)

// minChars is the per-strategy escalation threshold shared by every
// fallback chain in the Converter.
const minChars = 20

// perPageOCRThreshold triggers OCR on a page whose extracted text falls
// short of this length, even if the whole-document text already cleared
// minChars via other pages.
const perPageOCRThreshold = 50

// Extractor implements the .pdf fallback chain.
type Extractor struct {
	// PdftoppmBin names the poppler-utils binary used to rasterize a page
	// for OCR escalation. Defaults to "pdftoppm" if empty.
	PdftoppmBin string
	OCR         *image.Extractor
}

// NewExtractor returns a pdf.Extractor with default external binaries.
func NewExtractor() *Extractor {
	return &Extractor{PdftoppmBin: "pdftoppm", OCR: image.NewExtractor()}
}

// Extract runs the .pdf fallback chain against content (the bytes of the
// file at path, which per-page OCR rasterizes),
// escalating through fast, layout-aware, and legacy strategies, then
// per-page OCR for any page that under-yields. It never returns an error
// for content problems — only for a completely unreadable container.
func (e *Extractor) Extract(ctx context.Context, path string, content []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", fmt.Errorf("pdf: open: %w", err)
	}

	if text := e.fastExtract(reader); len(strings.TrimSpace(text)) >= minChars {
		return e.withPerPageOCR(ctx, path, reader, text), nil
	}
	if text := e.layoutExtract(reader); len(strings.TrimSpace(text)) >= minChars {
		return e.withPerPageOCR(ctx, path, reader, text), nil
	}
	text := e.legacyExtract(reader)
	return e.withPerPageOCR(ctx, path, reader, text), nil
}

// fastExtract is the whole-document GetPlainText() path.
func (e *Extractor) fastExtract(r *pdf.Reader) string {
	plain, err := r.GetPlainText()
	if err != nil {
		return ""
	}
	b, err := io.ReadAll(plain)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(b))
}

// layoutExtract walks each page's rows/columns and tab-joins cells,
// preserving table structure that GetPlainText flattens away.
func (e *Extractor) layoutExtract(r *pdf.Reader) string {
	var sb strings.Builder
	for i := 1; i <= r.NumPage(); i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		rows, err := page.GetTextByRow()
		if err != nil {
			continue
		}
		for _, row := range rows {
			cells := make([]string, 0, len(row.Content))
			for _, w := range row.Content {
				cells = append(cells, w.S)
			}
			sb.WriteString(strings.Join(cells, "\t"))
			sb.WriteString("\n")
		}
	}
	return strings.TrimSpace(sb.String())
}

// legacyExtract walks raw content text operators page by page, the
// lowest-level API the library exposes — a last resort before OCR.
func (e *Extractor) legacyExtract(r *pdf.Reader) string {
	var sb strings.Builder
	for i := 1; i <= r.NumPage(); i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		for _, t := range page.Content().Text {
			sb.WriteString(t.S)
		}
		sb.WriteString("\n")
	}
	return strings.TrimSpace(sb.String())
}

// withPerPageOCR re-checks every page's individual text yield and, for
// each page under perPageOCRThreshold, rasterizes and OCRs that specific
// page, appending whatever it recovers. Best-effort: a page that can't
// be rasterized or OCRed keeps its original (possibly short)
// contribution.
func (e *Extractor) withPerPageOCR(ctx context.Context, path string, r *pdf.Reader, wholeText string) string {
	if e.OCR == nil {
		return wholeText
	}

	var recovered []string
	for i := 1; i <= r.NumPage(); i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		if pageTextLen(page) >= perPageOCRThreshold {
			continue
		}
		png, err := e.rasterizePage(ctx, path, i)
		if err != nil || len(png) == 0 {
			continue
		}
		ocrText, err := e.OCR.ExtractFromBytes(ctx, png)
		if err != nil || strings.TrimSpace(ocrText) == "" {
			continue
		}
		recovered = append(recovered, ocrText)
	}
	if len(recovered) == 0 {
		return wholeText
	}
	ocr := strings.Join(recovered, "\n\n")
	if wholeText == "" {
		return ocr
	}
	return wholeText + "\n\n" + ocr
}

// pageTextLen counts the characters a page yields through the row walk.
// A page whose rows can't be read counts as zero, so it escalates to OCR.
func pageTextLen(page pdf.Page) int {
	rows, err := page.GetTextByRow()
	if err != nil {
		return 0
	}
	n := 0
	for _, row := range rows {
		for _, w := range row.Content {
			n += len(w.S)
		}
	}
	return n
}

// rasterizePage shells out to pdftoppm to render one specific page of
// path to a PNG on stdout.
func (e *Extractor) rasterizePage(ctx context.Context, path string, page int) ([]byte, error) {
	bin := e.PdftoppmBin
	if bin == "" {
		bin = "pdftoppm"
	}
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second) // matches .doc conversion deadline
	defer cancel()
	p := strconv.Itoa(page)
	cmd := exec.CommandContext(ctx, bin, "-png", "-f", p, "-l", p, "-singlefile", path, "-")
	return cmd.Output()
}
