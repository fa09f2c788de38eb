// Package imaging merges multi-photo receipts into one tall image and
// prepares it for OCR. Receipts photographed in parts overlap at the
// seams; overlap is found by normalized cross-correlation template
// matching and removed before concatenation.
package imaging

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg" // Telegram delivers photos as JPEG
	"image/png"
	"log/slog"
	"math"
)

const (
	minTemplateHeight = 40
	maxTemplateHeight = 200

	// Matches deeper than this fraction of the next image are treated
	// as repetitive-texture false positives, not genuine overlap.
	overlapBand = 0.30

	minCorrelation = 0.30
)

// Stitch merges photos of one receipt top to bottom. It never fails the
// pipeline: on any internal error the first image's original bytes come
// back unchanged.
func Stitch(images [][]byte, logger *slog.Logger) ([]byte, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if len(images) == 0 {
		return nil, fmt.Errorf("no images to stitch")
	}

	out, err := stitchAll(images, logger)
	if err != nil {
		logger.Warn("imaging.stitch.failed", "error", err, "images", len(images))
		return images[0], nil
	}
	return out, nil
}

func stitchAll(images [][]byte, logger *slog.Logger) ([]byte, error) {
	acc, err := decodeUpright(images[0])
	if err != nil {
		return nil, fmt.Errorf("decode image 0: %w", err)
	}

	for i := 1; i < len(images); i++ {
		next, err := decodeUpright(images[i])
		if err != nil {
			return nil, fmt.Errorf("decode image %d: %w", i, err)
		}
		if next.Bounds().Dx() != acc.Bounds().Dx() {
			next = scaleToWidth(next, acc.Bounds().Dx())
		}
		acc = stitchPair(acc, next, logger)
	}

	acc = Deskew(acc, logger)

	var buf bytes.Buffer
	if err := png.Encode(&buf, acc); err != nil {
		return nil, fmt.Errorf("encode stitched image: %w", err)
	}
	return buf.Bytes(), nil
}

// stitchPair joins next below acc. A strip from the bottom of acc is the
// template; its best NCC match in next marks the duplicated content.
func stitchPair(acc, next *image.Gray, logger *slog.Logger) *image.Gray {
	h := acc.Bounds().Dy()
	th := clampInt(h/4, minTemplateHeight, maxTemplateHeight)
	if th > h {
		th = h
	}
	nextH := next.Bounds().Dy()
	if th > nextH {
		return concatVertical(acc, next, 0)
	}

	template := cropRows(acc, h-th, h)
	matchRow, score := bestMatch(next, template)

	band := int(float64(nextH) * overlapBand)
	if score < minCorrelation || matchRow > band {
		logger.Debug("imaging.stitch.no_overlap", "match_row", matchRow, "score", score, "band", band)
		return concatVertical(acc, next, 0)
	}

	logger.Debug("imaging.stitch.overlap", "match_row", matchRow, "score", score, "template_height", th)
	return concatVertical(acc, next, matchRow+th)
}

// bestMatch slides the template down next and returns the row with the
// highest normalized cross-correlation.
func bestMatch(img, template *image.Gray) (int, float64) {
	w := template.Bounds().Dx()
	th := template.Bounds().Dy()
	maxY := img.Bounds().Dy() - th

	tMean, tDev := meanStddev(template, 0, th)
	if tDev == 0 {
		return 0, 0
	}

	bestRow, bestScore := 0, math.Inf(-1)
	for y := 0; y <= maxY; y++ {
		mean, dev := meanStddev(img, y, y+th)
		if dev == 0 {
			continue
		}
		var sum float64
		for dy := 0; dy < th; dy++ {
			tRow := template.PixOffset(0, dy)
			iRow := img.PixOffset(0, y+dy)
			for x := 0; x < w; x++ {
				sum += (float64(template.Pix[tRow+x]) - tMean) * (float64(img.Pix[iRow+x]) - mean)
			}
		}
		score := sum / (float64(w*th) * tDev * dev)
		if score > bestScore {
			bestScore = score
			bestRow = y
		}
	}
	if math.IsInf(bestScore, -1) {
		return 0, 0
	}
	return bestRow, bestScore
}

func meanStddev(img *image.Gray, y0, y1 int) (float64, float64) {
	w := img.Bounds().Dx()
	n := float64(w * (y1 - y0))
	var sum, sumSq float64
	for y := y0; y < y1; y++ {
		row := img.PixOffset(0, y)
		for x := 0; x < w; x++ {
			v := float64(img.Pix[row+x])
			sum += v
			sumSq += v * v
		}
	}
	mean := sum / n
	variance := sumSq/n - mean*mean
	if variance < 0 {
		variance = 0
	}
	return mean, math.Sqrt(variance)
}

// decodeUpright decodes to grayscale and rotates landscape photos to
// portrait, since receipts are tall.
func decodeUpright(data []byte) (*image.Gray, error) {
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	gray := toGray(src)
	if gray.Bounds().Dx() > gray.Bounds().Dy() {
		gray = rotate90(gray)
	}
	return gray, nil
}

func toGray(src image.Image) *image.Gray {
	b := src.Bounds()
	gray := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			gray.Set(x-b.Min.X, y-b.Min.Y, src.At(x, y))
		}
	}
	return gray
}

func rotate90(src *image.Gray) *image.Gray {
	w, h := src.Bounds().Dx(), src.Bounds().Dy()
	dst := image.NewGray(image.Rect(0, 0, h, w))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			dst.SetGray(h-1-y, x, src.GrayAt(x, y))
		}
	}
	return dst
}

func scaleToWidth(src *image.Gray, width int) *image.Gray {
	srcW, srcH := src.Bounds().Dx(), src.Bounds().Dy()
	height := srcH * width / srcW
	dst := image.NewGray(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			dst.SetGray(x, y, src.GrayAt(x*srcW/width, y*srcH/height))
		}
	}
	return dst
}

func cropRows(src *image.Gray, y0, y1 int) *image.Gray {
	w := src.Bounds().Dx()
	dst := image.NewGray(image.Rect(0, 0, w, y1-y0))
	for y := y0; y < y1; y++ {
		copy(dst.Pix[(y-y0)*dst.Stride:(y-y0)*dst.Stride+w], src.Pix[src.PixOffset(0, y):src.PixOffset(0, y)+w])
	}
	return dst
}

// concatVertical joins top and the part of bottom from fromRow downward.
func concatVertical(top, bottom *image.Gray, fromRow int) *image.Gray {
	w := top.Bounds().Dx()
	bottomH := bottom.Bounds().Dy() - fromRow
	if bottomH <= 0 {
		return top
	}
	dst := image.NewGray(image.Rect(0, 0, w, top.Bounds().Dy()+bottomH))
	copy(dst.Pix, top.Pix[:top.Bounds().Dy()*top.Stride])
	for y := 0; y < bottomH; y++ {
		srcOff := bottom.PixOffset(0, fromRow+y)
		dstOff := dst.PixOffset(0, top.Bounds().Dy()+y)
		copy(dst.Pix[dstOff:dstOff+w], bottom.Pix[srcOff:srcOff+w])
	}
	return dst
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
