// Package doc implements the .doc fallback chain: external conversion to
// .docx under a deadline with a unique per-invocation profile directory,
// then handing the result to convert/docx.
//
// Each invocation runs exec.CommandContext with a hard deadline and a
// unique LibreOffice user-profile directory, removed on return, so
// parallel instances never race on a shared profile.
package doc

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	parsepipe "github.com/quillhq/parsepipe"
	"github.com/quillhq/parsepipe/convert/docx"
)

// ConversionDeadline bounds a single soffice invocation.
const ConversionDeadline = 30 * time.Second

// Extractor implements the .doc fallback chain.
type Extractor struct {
	// SofficeBin names the LibreOffice headless binary. Defaults to
	// "soffice".
	SofficeBin string
	// ProfileRoot is the parent directory under which per-invocation
	// profile directories are created. Defaults to os.TempDir().
	ProfileRoot string

	docx *docx.Extractor
}

// NewExtractor returns a doc.Extractor with default external binary and
// profile root.
func NewExtractor() *Extractor {
	return &Extractor{SofficeBin: "soffice", docx: docx.NewExtractor()}
}

// Extract converts the .doc file at path to .docx via a sandboxed
// soffice subprocess, then runs the .docx fallback chain over the
// result. A conversion hitting its deadline yields empty text outright —
// the file gets an all-null record like any other empty conversion. Any
// other conversion failure (soffice missing, crash, no output produced)
// falls back to a direct best-effort text scan of the original bytes,
// since a malformed-but-legible .doc sometimes still yields readable
// ASCII runs.
func (e *Extractor) Extract(ctx context.Context, path string) (string, error) {
	docxPath, cleanup, err := e.convertToDocx(ctx, path)
	defer cleanup()
	if err != nil {
		var timeout *parsepipe.ErrExternalConversionTimeout
		if errors.As(err, &timeout) {
			return "", nil
		}
		return directTextFallback(path), nil
	}

	data, err := os.ReadFile(docxPath)
	if err != nil {
		return directTextFallback(path), nil
	}
	text, err := e.docx.Extract(data)
	if err != nil || text == "" {
		return directTextFallback(path), nil
	}
	return text, nil
}

// convertToDocx runs soffice in a uniquely named, always-removed profile
// directory. Returns the produced .docx path (inside the same
// caller-visible directory as path) and a cleanup func the caller must
// defer regardless of error.
func (e *Extractor) convertToDocx(ctx context.Context, path string) (string, func(), error) {
	ctx, cancel := context.WithTimeout(ctx, ConversionDeadline)
	defer cancel()

	root := e.ProfileRoot
	if root == "" {
		root = os.TempDir()
	}
	profileDir := filepath.Join(root, "soffice-profile-"+uuid.Must(uuid.NewV7()).String())
	if err := os.MkdirAll(profileDir, 0o755); err != nil {
		return "", func() {}, fmt.Errorf("doc: create profile dir: %w", err)
	}
	cleanup := func() { os.RemoveAll(profileDir) }

	outDir := filepath.Dir(path)
	cmd := exec.CommandContext(ctx, e.SofficeBin,
		"--headless",
		"--convert-to", "docx",
		"--outdir", outDir,
		"-env:UserInstallation=file://"+profileDir,
		path,
	)
	if err := cmd.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return "", cleanup, &parsepipe.ErrExternalConversionTimeout{Path: path}
		}
		return "", cleanup, fmt.Errorf("doc: soffice: %w", err)
	}

	outPath := filepath.Join(outDir, base(path)+".docx")
	if _, err := os.Stat(outPath); err != nil {
		return "", cleanup, fmt.Errorf("doc: output not produced: %w", err)
	}
	return outPath, cleanup, nil
}

func base(path string) string {
	name := filepath.Base(path)
	ext := filepath.Ext(name)
	return name[:len(name)-len(ext)]
}

// directTextFallback scans raw bytes for runs of printable ASCII at
// least 4 characters long, a crude but dependency-free last resort when
// soffice is unavailable or the conversion failed outright.
func directTextFallback(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	var out []byte
	var run []byte
	flush := func() {
		if len(run) >= 4 {
			if len(out) > 0 {
				out = append(out, ' ')
			}
			out = append(out, run...)
		}
		run = run[:0]
	}
	for _, b := range data {
		if b >= 0x20 && b < 0x7f {
			run = append(run, b)
		} else {
			flush()
		}
	}
	flush()
	return string(out)
}
