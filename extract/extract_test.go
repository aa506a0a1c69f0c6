package extract

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"os"
	"path/filepath"
	"testing"

	parsepipe "github.com/quillhq/parsepipe"
)

func writeScratchFile(t *testing.T, dir, name string, data []byte) parsepipe.ScratchFile {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return parsepipe.ScratchFile{LocalPath: path, OriginalName: name, Size: int64(len(data))}
}

func buildZip(t *testing.T, entries map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range entries {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write([]byte(content)); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestExpandArchivesZipClassifiesValidAndInvalid(t *testing.T) {
	srcDir := t.TempDir()
	zipData := buildZip(t, map[string]string{
		"resume.pdf": "pdf bytes",
		"cover.docx": "docx bytes",
		"notes.xyz":  "unsupported",
	})
	archive := writeScratchFile(t, srcDir, "batch.zip", zipData)

	destDir := t.TempDir()
	valid, invalid, err := ExpandArchives(destDir, []parsepipe.ScratchFile{archive})
	if err != nil {
		t.Fatalf("ExpandArchives() error = %v", err)
	}
	if len(valid) != 2 {
		t.Errorf("valid = %d, want 2", len(valid))
	}
	if len(invalid) != 1 {
		t.Errorf("invalid = %d, want 1", len(invalid))
	}
}

func TestExpandArchivesRejectsZipSlip(t *testing.T) {
	srcDir := t.TempDir()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("../../evil.txt")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.Write([]byte("escape")); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	archive := writeScratchFile(t, srcDir, "evil.zip", buf.Bytes())

	destDir := t.TempDir()
	_, _, err = ExpandArchives(destDir, []parsepipe.ScratchFile{archive})
	if err == nil {
		t.Fatal("expected an error rejecting a path that escapes the destination directory")
	}
}

func TestExpandArchivesTar(t *testing.T) {
	srcDir := t.TempDir()
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	content := []byte("resume text")
	if err := tw.WriteHeader(&tar.Header{Name: "resume.txt", Mode: 0o644, Size: int64(len(content))}); err != nil {
		t.Fatal(err)
	}
	if _, err := tw.Write(content); err != nil {
		t.Fatal(err)
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	archive := writeScratchFile(t, srcDir, "batch.tar", buf.Bytes())

	destDir := t.TempDir()
	valid, invalid, err := ExpandArchives(destDir, []parsepipe.ScratchFile{archive})
	if err != nil {
		t.Fatalf("ExpandArchives() error = %v", err)
	}
	if len(valid) != 1 || len(invalid) != 0 {
		t.Errorf("valid = %d invalid = %d, want 1, 0", len(valid), len(invalid))
	}
}

func TestExpandArchivesNonArchiveFileIsCopiedAsIs(t *testing.T) {
	srcDir := t.TempDir()
	sf := writeScratchFile(t, srcDir, "resume.pdf", []byte("pdf bytes"))

	destDir := t.TempDir()
	valid, invalid, err := ExpandArchives(destDir, []parsepipe.ScratchFile{sf})
	if err != nil {
		t.Fatalf("ExpandArchives() error = %v", err)
	}
	if len(valid) != 1 || len(invalid) != 0 {
		t.Errorf("valid = %d invalid = %d, want 1, 0", len(valid), len(invalid))
	}
}
