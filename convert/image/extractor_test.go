package image

import (
	"bytes"
	"context"
	stdimage "image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// writeStubTesseract installs an executable shell script standing in for
// the OCR binary: it writes fixed text to the output file tesseract would
// produce ($2 is the output base path).
func writeStubTesseract(t *testing.T, text string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tesseract")
	script := "#!/bin/sh\nprintf '" + text + "' > \"$2.txt\"\n"
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func encodePNG(t *testing.T, img stdimage.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestExtractFromBytesRunsOCR(t *testing.T) {
	e := NewExtractor()
	e.TesseractBin = writeStubTesseract(t, "Jane Doe OCR text")

	img := stdimage.NewGray(stdimage.Rect(0, 0, 40, 40))
	for i := range img.Pix {
		img.Pix[i] = 255
	}

	text, err := e.ExtractFromBytes(context.Background(), encodePNG(t, img))
	if err != nil {
		t.Fatalf("ExtractFromBytes() error = %v", err)
	}
	if !strings.Contains(text, "Jane Doe OCR text") {
		t.Errorf("ExtractFromBytes() = %q", text)
	}
}

func TestExtractFromBytesDecodeFailure(t *testing.T) {
	e := NewExtractor()
	if _, err := e.ExtractFromBytes(context.Background(), []byte("not an image")); err == nil {
		t.Error("expected decode error for non-image bytes")
	}
}

func TestExtractReadsFile(t *testing.T) {
	e := NewExtractor()
	e.TesseractBin = writeStubTesseract(t, "from file")

	img := stdimage.NewGray(stdimage.Rect(0, 0, 30, 30))
	path := filepath.Join(t.TempDir(), "scan.png")
	if err := os.WriteFile(path, encodePNG(t, img), 0o644); err != nil {
		t.Fatal(err)
	}

	text, err := e.Extract(context.Background(), path)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if !strings.Contains(text, "from file") {
		t.Errorf("Extract() = %q", text)
	}
}

func TestAdaptiveThresholdBinarizes(t *testing.T) {
	gray := stdimage.NewGray(stdimage.Rect(0, 0, 16, 16))
	for y := 0; y < 16; y++ {
		for x := 0; x < 16; x++ {
			v := byte(60)
			if x >= 8 {
				v = 200
			}
			gray.SetGray(x, y, color.Gray{Y: v})
		}
	}

	adaptiveThreshold(gray, 3, 10)
	for _, p := range gray.Pix {
		if p != 0 && p != 255 {
			t.Fatalf("pixel value %d after thresholding, want 0 or 255", p)
		}
	}
}

func TestMorphologicalOpenRemovesIsolatedSpeck(t *testing.T) {
	gray := stdimage.NewGray(stdimage.Rect(0, 0, 12, 12))
	// All black with one isolated white speck.
	gray.SetGray(6, 6, color.Gray{Y: 255})

	morphologicalOpen(gray, 1)
	for i, p := range gray.Pix {
		if p != 0 {
			t.Fatalf("pixel %d = %d after open, want speck removed", i, p)
		}
	}
}

func TestSobelEdgesMarksVerticalBoundary(t *testing.T) {
	gray := stdimage.NewGray(stdimage.Rect(0, 0, 16, 16))
	for y := 0; y < 16; y++ {
		for x := 8; x < 16; x++ {
			gray.SetGray(x, y, color.Gray{Y: 255})
		}
	}

	edges := sobelEdges(gray)
	if edges.GrayAt(8, 8).Y != 255 {
		t.Error("expected an edge at the black/white boundary column")
	}
	if edges.GrayAt(2, 8).Y != 0 {
		t.Error("expected no edge in a uniform region")
	}
}

func TestEstimateSkewAngleStaysInSearchRange(t *testing.T) {
	gray := stdimage.NewGray(stdimage.Rect(0, 0, 60, 60))
	// Two text-like rows of alternating pixels: edge mass concentrated in
	// tight horizontal bands, which the row-variance score rewards at the
	// correct (zero) angle.
	for _, y := range []int{20, 21, 40, 41} {
		for x := 4; x < 56; x += 2 {
			gray.SetGray(x, y, color.Gray{Y: 255})
		}
	}

	angle := estimateSkewAngle(gray)
	if angle < -5 || angle > 5 {
		t.Fatalf("estimateSkewAngle() = %v, outside the candidate range", angle)
	}
	if angle < -1 || angle > 1 {
		t.Errorf("estimateSkewAngle() = %v, want ~0 for level text bands", angle)
	}
}
