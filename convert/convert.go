// Package convert implements the Converter: routing each ScratchFile to
// its extension's fallback chain (subpackages pdf, docx, doc, image, rtf,
// txt), under separate bounds for CPU-bound conversions and
// subprocess-heavy .doc conversions.
//
// The per-format strategies are isolated into their own subpackages so a
// consumer that doesn't need, say, OCR never pulls in
// disintegration/imaging.
package convert

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	parsepipe "github.com/quillhq/parsepipe"
	"github.com/quillhq/parsepipe/convert/doc"
	"github.com/quillhq/parsepipe/convert/docx"
	"github.com/quillhq/parsepipe/convert/image"
	"github.com/quillhq/parsepipe/convert/pdf"
	"github.com/quillhq/parsepipe/convert/rtf"
	"github.com/quillhq/parsepipe/convert/txt"
)

// SupportedExtensions is the closed set of convertible file types.
var SupportedExtensions = map[string]bool{
	".pdf": true, ".doc": true, ".docx": true,
	".jpg": true, ".jpeg": true, ".png": true, ".webp": true,
	".rtf": true, ".txt": true,
}

// Converter routes ScratchFiles to their per-extension fallback chain.
type Converter struct {
	logger *slog.Logger

	conv *semaphore.Weighted // all CPU-bound conversions
	docs *semaphore.Weighted // .doc external-subprocess conversions specifically

	pdf  *pdf.Extractor
	docx *docx.Extractor
	doc  *doc.Extractor
	img  *image.Extractor
	rtf  *rtf.Extractor
	txt  *txt.Extractor
}

// New builds a Converter with the given concurrency bounds.
func New(cConv, cDoc int, logger *slog.Logger) *Converter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Converter{
		logger: logger,
		conv:   semaphore.NewWeighted(int64(cConv)),
		docs:   semaphore.NewWeighted(int64(cDoc)),
		pdf:    pdf.NewExtractor(),
		docx:   docx.NewExtractor(),
		doc:    doc.NewExtractor(),
		img:    image.NewExtractor(),
		rtf:    rtf.NewExtractor(),
		txt:    txt.NewExtractor(),
	}
}

// ConvertAll converts every file concurrently under the conversion
// bounds, returning a TextDocument per input in the same order. Never
// fails the batch on a per-file error — per-file conversion never errors
// on content problems; this only returns an error if ctx is cancelled
// before completion (used by the shutdown path).
func (c *Converter) ConvertAll(ctx context.Context, files []parsepipe.ScratchFile) ([]parsepipe.TextDocument, error) {
	out := make([]parsepipe.TextDocument, len(files))
	g, gctx := errgroup.WithContext(ctx)
	for i, f := range files {
		i, f := i, f
		g.Go(func() error {
			if err := c.conv.Acquire(gctx, 1); err != nil {
				return err
			}
			defer c.conv.Release(1)
			text, used := c.convertOne(gctx, f)
			out[i] = parsepipe.TextDocument{Source: f, Text: text, ConverterUsed: used}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// convertOne converts a single file to text: never returns an error for
// content problems, only empty text plus a log line identifying the file
// and which chain exhausted.
func (c *Converter) convertOne(ctx context.Context, f parsepipe.ScratchFile) (text string, converterUsed string) {
	ext := strings.ToLower(filepath.Ext(f.OriginalName))

	var err error
	switch ext {
	case ".pdf":
		text, err = c.convertPDF(ctx, f)
		converterUsed = "pdf"
	case ".docx":
		text, err = c.convertDOCX(f)
		converterUsed = "docx"
	case ".doc":
		text, err = c.convertDOC(ctx, f)
		converterUsed = "doc"
	case ".jpg", ".jpeg", ".png", ".webp":
		text, err = c.convertImage(ctx, f)
		converterUsed = "image"
	case ".rtf":
		text, err = c.rtf.Extract(mustRead(f.LocalPath))
		converterUsed = "rtf"
	case ".txt":
		text, err = c.txt.Extract(mustRead(f.LocalPath))
		converterUsed = "txt"
	default:
		c.logger.Warn("convert: unsupported extension reached converter", "path", f.LocalPath, "ext", ext)
		return "", "unsupported"
	}

	if err != nil || strings.TrimSpace(text) == "" {
		c.logger.Info("convert: all fallbacks exhausted, returning empty text",
			"path", f.LocalPath, "converter", converterUsed, "err", err)
		return "", converterUsed
	}
	return text, converterUsed
}

func (c *Converter) convertPDF(ctx context.Context, f parsepipe.ScratchFile) (string, error) {
	data := mustRead(f.LocalPath)
	return c.pdf.Extract(ctx, f.LocalPath, data)
}

func (c *Converter) convertDOCX(f parsepipe.ScratchFile) (string, error) {
	return c.docx.Extract(mustRead(f.LocalPath))
}

// convertDOC additionally bounds itself by the smaller, separate .doc
// semaphore because it spawns a heavy LibreOffice subprocess per
// invocation.
func (c *Converter) convertDOC(ctx context.Context, f parsepipe.ScratchFile) (string, error) {
	if err := c.docs.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer c.docs.Release(1)
	return c.doc.Extract(ctx, f.LocalPath)
}

func (c *Converter) convertImage(ctx context.Context, f parsepipe.ScratchFile) (string, error) {
	return c.img.Extract(ctx, f.LocalPath)
}

func mustRead(path string) []byte {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	return data
}
