package doc

import (
	"archive/zip"
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// writeStubSoffice installs an executable shell script standing in for
// the LibreOffice binary, so conversions can be exercised without a real
// office suite on the test host.
func writeStubSoffice(t *testing.T, script string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "soffice")
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func writeDocFile(t *testing.T, content []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "resume.doc")
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

// buildDocx produces a minimal OOXML container holding one paragraph.
func buildDocx(t *testing.T, text string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("word/document.xml")
	if err != nil {
		t.Fatal(err)
	}
	doc := `<?xml version="1.0"?><w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body><w:p><w:r><w:t>` + text + `</w:t></w:r></w:p></w:body></w:document>`
	if _, err := w.Write([]byte(doc)); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestExtractUsesConvertedDocx(t *testing.T) {
	want := "Jane Doe, ten years of backend experience"
	docxPath := filepath.Join(t.TempDir(), "converted.docx")
	if err := os.WriteFile(docxPath, buildDocx(t, want), 0o644); err != nil {
		t.Fatal(err)
	}

	// Stub soffice: copy the prepared .docx to where the converter
	// expects its output ($5 is --outdir's value, $7 the input path).
	script := "#!/bin/sh\n" +
		"out=\"$5\"\n" +
		"in=\"$7\"\n" +
		"name=$(basename \"$in\")\n" +
		"cp \"" + docxPath + "\" \"$out/${name%.doc}.docx\"\n"

	e := NewExtractor()
	e.SofficeBin = writeStubSoffice(t, script)
	e.ProfileRoot = t.TempDir()

	docPath := writeDocFile(t, []byte("binary doc payload"))
	text, err := e.Extract(context.Background(), docPath)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if !strings.Contains(text, want) {
		t.Errorf("Extract() = %q, want converted docx content", text)
	}
}

func TestExtractTimeoutYieldsEmptyText(t *testing.T) {
	e := NewExtractor()
	e.SofficeBin = writeStubSoffice(t, "#!/bin/sh\nsleep 5\n")
	e.ProfileRoot = t.TempDir()

	// Legible ASCII in the source bytes: a timeout must NOT fall back to
	// scanning them — the file is treated exactly like an empty
	// conversion.
	docPath := writeDocFile(t, []byte("Jane Doe Senior Engineer resume text"))

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()

	text, err := e.Extract(ctx, docPath)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if text != "" {
		t.Errorf("Extract() = %q, want empty text on conversion timeout", text)
	}
}

func TestExtractConversionFailureFallsBackToByteScan(t *testing.T) {
	e := NewExtractor()
	e.SofficeBin = writeStubSoffice(t, "#!/bin/sh\nexit 1\n")
	e.ProfileRoot = t.TempDir()

	docPath := writeDocFile(t, []byte("Jane Doe\x00\x01\x02Senior Engineer resume"))
	text, err := e.Extract(context.Background(), docPath)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if !strings.Contains(text, "Jane Doe") || !strings.Contains(text, "Senior Engineer resume") {
		t.Errorf("Extract() = %q, want byte-scan fallback text", text)
	}
}

func TestExtractMissingOutputFallsBackToByteScan(t *testing.T) {
	e := NewExtractor()
	// Exits 0 but never produces the .docx.
	e.SofficeBin = writeStubSoffice(t, "#!/bin/sh\nexit 0\n")
	e.ProfileRoot = t.TempDir()

	docPath := writeDocFile(t, []byte("legible resume bytes here"))
	text, err := e.Extract(context.Background(), docPath)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if !strings.Contains(text, "legible resume bytes here") {
		t.Errorf("Extract() = %q", text)
	}
}

func TestDirectTextFallback(t *testing.T) {
	cases := []struct {
		name string
		in   []byte
		want string
	}{
		{"plain ascii", []byte("Jane Doe"), "Jane Doe"},
		{"binary separators", []byte("abcd\x00\x01efgh"), "abcd efgh"},
		{"short runs dropped", []byte("ab\x00cdef\x00xy"), "cdef"},
		{"all binary", []byte{0x00, 0x01, 0x02}, ""},
	}
	for _, c := range cases {
		path := filepath.Join(t.TempDir(), "f.doc")
		if err := os.WriteFile(path, c.in, 0o644); err != nil {
			t.Fatal(err)
		}
		if got := directTextFallback(path); got != c.want {
			t.Errorf("%s: directTextFallback() = %q, want %q", c.name, got, c.want)
		}
	}
}
