package convert

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	parsepipe "github.com/quillhq/parsepipe"
)

func TestConvertAllRoutesTxtByExtension(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "resume.txt")
	if err := os.WriteFile(path, []byte("Jane Doe, Engineer"), 0o644); err != nil {
		t.Fatal(err)
	}

	c := New(2, 1, nil)
	docs, err := c.ConvertAll(context.Background(), []parsepipe.ScratchFile{
		{LocalPath: path, OriginalName: "resume.txt"},
	})
	if err != nil {
		t.Fatalf("ConvertAll() error = %v", err)
	}
	if len(docs) != 1 {
		t.Fatalf("got %d docs, want 1", len(docs))
	}
	if docs[0].ConverterUsed != "txt" {
		t.Errorf("ConverterUsed = %q, want txt", docs[0].ConverterUsed)
	}
	if docs[0].Text != "Jane Doe, Engineer" {
		t.Errorf("Text = %q", docs[0].Text)
	}
}

func TestConvertAllUnsupportedExtensionReturnsEmptyText(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "weird.xyz")
	if err := os.WriteFile(path, []byte("whatever"), 0o644); err != nil {
		t.Fatal(err)
	}

	c := New(2, 1, nil)
	docs, err := c.ConvertAll(context.Background(), []parsepipe.ScratchFile{
		{LocalPath: path, OriginalName: "weird.xyz"},
	})
	if err != nil {
		t.Fatalf("ConvertAll() error = %v", err)
	}
	if docs[0].Text != "" {
		t.Errorf("Text = %q, want empty for unsupported extension", docs[0].Text)
	}
	if docs[0].ConverterUsed != "unsupported" {
		t.Errorf("ConverterUsed = %q, want unsupported", docs[0].ConverterUsed)
	}
}

func TestConvertAllPreservesInputOrder(t *testing.T) {
	dir := t.TempDir()
	var files []parsepipe.ScratchFile
	for i, name := range []string{"a.txt", "b.txt", "c.txt"} {
		path := filepath.Join(dir, name)
		content := []byte{byte('A' + i)}
		if err := os.WriteFile(path, content, 0o644); err != nil {
			t.Fatal(err)
		}
		files = append(files, parsepipe.ScratchFile{LocalPath: path, OriginalName: name})
	}

	c := New(4, 1, nil)
	docs, err := c.ConvertAll(context.Background(), files)
	if err != nil {
		t.Fatalf("ConvertAll() error = %v", err)
	}
	want := []string{"A", "B", "C"}
	for i, w := range want {
		if docs[i].Text != w {
			t.Errorf("docs[%d].Text = %q, want %q", i, docs[i].Text, w)
		}
	}
}
