// Package image implements the image fallback chain (.jpg/.jpeg/.png/.webp):
// deskew, upscale, denoise, adaptive threshold, morphological open, then
// OCR via a deadline-bounded tesseract subprocess whose output file is
// probed before declaring success.
package image

import (
	"bytes"
	"context"
	"fmt"
	stdimage "image"
	"image/draw"
	_ "image/jpeg"
	"image/png"
	"os"
	"os/exec"
	"time"

	_ "golang.org/x/image/webp"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
)

// ocrDeadline bounds a single tesseract invocation, matching the .doc
// external-conversion deadline.
const ocrDeadline = 30 * time.Second

// Extractor implements the image fallback chain.
type Extractor struct {
	// TesseractBin names the OCR binary. Defaults to "tesseract".
	TesseractBin string
}

// NewExtractor returns an image.Extractor using the default tesseract
// binary name.
func NewExtractor() *Extractor {
	return &Extractor{TesseractBin: "tesseract"}
}

// Extract decodes, preprocesses, and OCRs the image at path.
func (e *Extractor) Extract(ctx context.Context, path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("image: read: %w", err)
	}
	return e.ExtractFromBytes(ctx, data)
}

// ExtractFromBytes runs the full preprocessing chain over an in-memory
// image (also used by convert/pdf for per-page OCR escalation) and OCRs
// the result.
func (e *Extractor) ExtractFromBytes(ctx context.Context, data []byte) (string, error) {
	img, _, err := stdimage.Decode(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("image: decode: %w", err)
	}

	pre := e.preprocess(img)

	var buf bytes.Buffer
	if err := png.Encode(&buf, pre); err != nil {
		return "", fmt.Errorf("image: encode preprocessed: %w", err)
	}
	return e.ocr(ctx, buf.Bytes())
}

// preprocess runs deskew, upscale, denoise, adaptive threshold, and
// morphological open, in that order.
func (e *Extractor) preprocess(img stdimage.Image) stdimage.Image {
	angle := estimateSkewAngle(img)
	if angle != 0 {
		img = imaging.Rotate(img, angle, stdimage.Transparent)
	}

	b := img.Bounds()
	img = imaging.Resize(img, int(float64(b.Dx())*1.5), 0, imaging.Lanczos)
	img = imaging.Blur(img, 0.5) // median-filter-style denoise approximation

	gray := toGray(img)
	adaptiveThreshold(gray, 15, 10)
	morphologicalOpen(gray, 1)
	return gray
}

// ocr writes png to a uniquely named temp file (tesseract requires a file
// path, not stdin, for reliable format sniffing) and runs the configured
// binary against it under ocrDeadline, probing the output file before
// declaring success.
func (e *Extractor) ocr(ctx context.Context, png []byte) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, ocrDeadline)
	defer cancel()

	id := uuid.Must(uuid.NewV7()).String()
	inPath := fmt.Sprintf("%s%c%s.png", os.TempDir(), os.PathSeparator, id)
	outBase := fmt.Sprintf("%s%c%s", os.TempDir(), os.PathSeparator, id)

	if err := os.WriteFile(inPath, png, 0o600); err != nil {
		return "", fmt.Errorf("image: write ocr input: %w", err)
	}
	defer os.Remove(inPath)
	defer os.Remove(outBase + ".txt")

	bin := e.TesseractBin
	if bin == "" {
		bin = "tesseract"
	}
	cmd := exec.CommandContext(ctx, bin, inPath, outBase)
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("image: tesseract: %w", err)
	}

	out, err := os.ReadFile(outBase + ".txt")
	if err != nil {
		return "", fmt.Errorf("image: read ocr output: %w", err)
	}
	return string(out), nil
}

// toGray copies img into a fresh *stdimage.Gray, the pixel format the
// hand-rolled threshold/morphology steps operate on.
func toGray(img stdimage.Image) *stdimage.Gray {
	b := img.Bounds()
	gray := stdimage.NewGray(b)
	draw.Draw(gray, b, img, b.Min, draw.Src)
	return gray
}

// estimateSkewAngle approximates page rotation via a coarse Sobel-edge /
// rotated-bounding-box search: it tries a small set of candidate angles
// and picks the one that maximizes the variance of horizontal row-sums of
// edge pixels (text lines align into tight, high-variance bands at the
// correct angle).
func estimateSkewAngle(img stdimage.Image) float64 {
	gray := toGray(img)
	edges := sobelEdges(gray)

	best := 0.0
	bestScore := -1.0
	for angle := -5.0; angle <= 5.0; angle += 1.0 {
		rotated := imaging.Rotate(edges, angle, stdimage.Black)
		score := rowSumVariance(toGray(rotated))
		if score > bestScore {
			bestScore = score
			best = angle
		}
	}
	return -best
}

// sobelEdges returns a coarse edge map: pixels whose horizontal Sobel
// gradient magnitude exceeds a fixed threshold are white, others black.
func sobelEdges(gray *stdimage.Gray) *stdimage.Gray {
	b := gray.Bounds()
	out := stdimage.NewGray(b)
	at := func(x, y int) int {
		if x < b.Min.X || x >= b.Max.X || y < b.Min.Y || y >= b.Max.Y {
			return 0
		}
		return int(gray.GrayAt(x, y).Y)
	}
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			gx := -at(x-1, y-1) - 2*at(x-1, y) - at(x-1, y+1) +
				at(x+1, y-1) + 2*at(x+1, y) + at(x+1, y+1)
			if gx < 0 {
				gx = -gx
			}
			v := byte(0)
			if gx > 80 {
				v = 255
			}
			out.Pix[out.PixOffset(x, y)] = v
		}
	}
	return out
}

// rowSumVariance scores how unevenly edge mass is distributed across
// rows: text at the correct skew angle concentrates into line bands.
func rowSumVariance(gray *stdimage.Gray) float64 {
	b := gray.Bounds()
	sums := make([]float64, b.Dy())
	for y := b.Min.Y; y < b.Max.Y; y++ {
		s := 0
		for x := b.Min.X; x < b.Max.X; x++ {
			s += int(gray.GrayAt(x, y).Y)
		}
		sums[y-b.Min.Y] = float64(s)
	}
	mean := 0.0
	for _, s := range sums {
		mean += s
	}
	mean /= float64(len(sums))
	variance := 0.0
	for _, s := range sums {
		d := s - mean
		variance += d * d
	}
	return variance / float64(len(sums))
}

// adaptiveThreshold binarizes gray in place using a local mean threshold
// over an (2*radius+1)-wide window, offset by bias — a simplified
// Bradley-style adaptive threshold.
func adaptiveThreshold(gray *stdimage.Gray, radius, bias int) {
	b := gray.Bounds()
	src := make([]byte, len(gray.Pix))
	copy(src, gray.Pix)
	at := func(x, y int) int {
		if x < b.Min.X || x >= b.Max.X || y < b.Min.Y || y >= b.Max.Y {
			return 255
		}
		return int(src[gray.PixOffset(x, y)])
	}
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			sum, n := 0, 0
			for dy := -radius; dy <= radius; dy++ {
				for dx := -radius; dx <= radius; dx++ {
					sum += at(x+dx, y+dy)
					n++
				}
			}
			mean := sum / n
			v := at(x, y)
			if v < mean-bias {
				gray.Pix[gray.PixOffset(x, y)] = 0
			} else {
				gray.Pix[gray.PixOffset(x, y)] = 255
			}
		}
	}
}

// morphologicalOpen performs erosion followed by dilation with a
// (2*radius+1) square structuring element, removing small noise specks
// left by thresholding without eroding text strokes away.
func morphologicalOpen(gray *stdimage.Gray, radius int) {
	eroded := morphStep(gray, radius, true)
	dilated := morphStep(eroded, radius, false)
	copy(gray.Pix, dilated.Pix)
}

func morphStep(gray *stdimage.Gray, radius int, erode bool) *stdimage.Gray {
	b := gray.Bounds()
	out := stdimage.NewGray(b)
	at := func(x, y int) byte {
		if x < b.Min.X || x >= b.Max.X || y < b.Min.Y || y >= b.Max.Y {
			if erode {
				return 255
			}
			return 0
		}
		return gray.Pix[gray.PixOffset(x, y)]
	}
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			result := byte(255)
			if erode {
				result = 255
			} else {
				result = 0
			}
			for dy := -radius; dy <= radius; dy++ {
				for dx := -radius; dx <= radius; dx++ {
					v := at(x+dx, y+dy)
					if erode && v < result {
						result = v
					}
					if !erode && v > result {
						result = v
					}
				}
			}
			out.Pix[out.PixOffset(x, y)] = result
		}
	}
	return out
}
