// Package extract implements archive-mode materialization: expanding one
// or more downloaded archives into the scratch directory and classifying
// every resulting file as valid (supported extension) or invalid
// (everything else).
package extract

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	parsepipe "github.com/quillhq/parsepipe"
	"github.com/quillhq/parsepipe/convert"
)

// ExpandArchives extracts every archive in archives into destDir and
// recursively enumerates the resulting files, classifying each by
// extension. Supports .zip, .tar, and .tar.gz — the shapes real-world
// "upload a batch of resumes" producers use.
func ExpandArchives(destDir string, archives []parsepipe.ScratchFile) (valid []parsepipe.ScratchFile, invalid []parsepipe.ScratchFile, err error) {
	for _, a := range archives {
		if err := expandOne(destDir, a); err != nil {
			return nil, nil, fmt.Errorf("extract: expand %s: %w", a.OriginalName, err)
		}
	}
	return classify(destDir)
}

func expandOne(destDir string, a parsepipe.ScratchFile) error {
	lower := strings.ToLower(a.OriginalName)
	switch {
	case strings.HasSuffix(lower, ".zip"):
		return expandZip(destDir, a.LocalPath)
	case strings.HasSuffix(lower, ".tar.gz") || strings.HasSuffix(lower, ".tgz"):
		return expandTarGz(destDir, a.LocalPath)
	case strings.HasSuffix(lower, ".tar"):
		return expandTar(destDir, a.LocalPath)
	default:
		// Not a recognized archive container; treat the file itself as
		// part of the working set by copying it in place.
		return copyInto(destDir, a.LocalPath, a.OriginalName)
	}
}

func expandZip(destDir, path string) error {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return err
	}
	defer zr.Close()
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		if err := writeZipEntry(destDir, f); err != nil {
			return err
		}
	}
	return nil
}

func writeZipEntry(destDir string, f *zip.File) error {
	target, err := safeJoin(destDir, f.Name)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()
	out, err := os.Create(target)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, rc)
	return err
}

func expandTar(destDir, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return expandTarReader(destDir, tar.NewReader(f))
}

func expandTarGz(destDir, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	gz, err := gzip.NewReader(f)
	if err != nil {
		return err
	}
	defer gz.Close()
	return expandTarReader(destDir, tar.NewReader(gz))
}

func expandTarReader(destDir string, tr *tar.Reader) error {
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		target, err := safeJoin(destDir, hdr.Name)
		if err != nil {
			return err
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		out, err := os.Create(target)
		if err != nil {
			return err
		}
		if _, err := io.Copy(out, tr); err != nil {
			out.Close()
			return err
		}
		out.Close()
	}
}

func copyInto(destDir, srcPath, originalName string) error {
	target := filepath.Join(destDir, filepath.Base(originalName))
	if target == srcPath {
		return nil
	}
	in, err := os.Open(srcPath)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(target)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, in)
	return err
}

// safeJoin joins destDir and name, rejecting entries that would escape
// destDir via ".." path segments (zip-slip protection).
func safeJoin(destDir, name string) (string, error) {
	target := filepath.Join(destDir, name)
	if !strings.HasPrefix(target, filepath.Clean(destDir)+string(os.PathSeparator)) && target != filepath.Clean(destDir) {
		return "", fmt.Errorf("extract: illegal path escapes destination: %s", name)
	}
	return target, nil
}

// classify recursively walks destDir and splits files into valid
// (supported extension, per convert.SupportedExtensions) and invalid
// (everything else). Directories themselves are skipped.
func classify(destDir string) (valid, invalid []parsepipe.ScratchFile, err error) {
	err = filepath.Walk(destDir, func(path string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if info.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		sf := parsepipe.ScratchFile{
			LocalPath:    path,
			OriginalName: filepath.Base(path),
			Extension:    ext,
			Size:         info.Size(),
		}
		if convert.SupportedExtensions[ext] {
			valid = append(valid, sf)
		} else {
			invalid = append(invalid, sf)
		}
		return nil
	})
	return valid, invalid, err
}
