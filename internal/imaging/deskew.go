package imaging

import (
	"image"
	"log/slog"
	"math"
)

// maxSkewDegrees bounds the correction angle. Larger computed angles are
// almost always misdetections (near-90° flips), not real skew.
const maxSkewDegrees = 12.0

// Deskew straightens slightly rotated receipt photos and binarizes the
// result for OCR. Foreground is selected by Otsu thresholding; its
// orientation comes from the second-order image moments, which track the
// long axis of the printed text block.
func Deskew(src *image.Gray, logger *slog.Logger) *image.Gray {
	if logger == nil {
		logger = slog.Default()
	}

	threshold := otsuThreshold(src)
	angle := foregroundAngle(src, threshold)

	deg := angle * 180 / math.Pi
	if math.Abs(deg) > maxSkewDegrees {
		logger.Debug("imaging.deskew.angle_discarded", "degrees", deg)
		return binarize(src, threshold)
	}
	if math.Abs(deg) > 0.1 {
		logger.Debug("imaging.deskew.rotate", "degrees", deg)
		src = rotateByAngle(src, -angle)
		threshold = otsuThreshold(src)
	}
	return binarize(src, threshold)
}

// otsuThreshold finds the gray level that best separates ink from paper
// by maximizing between-class variance.
func otsuThreshold(img *image.Gray) uint8 {
	var hist [256]int
	total := 0
	for y := 0; y < img.Bounds().Dy(); y++ {
		row := img.PixOffset(0, y)
		for x := 0; x < img.Bounds().Dx(); x++ {
			hist[img.Pix[row+x]]++
			total++
		}
	}
	if total == 0 {
		return 128
	}

	var sumAll float64
	for v, n := range hist {
		sumAll += float64(v) * float64(n)
	}

	var sumBg, wBg float64
	best, bestVar := 128, -1.0
	for t := 0; t < 256; t++ {
		wBg += float64(hist[t])
		if wBg == 0 {
			continue
		}
		wFg := float64(total) - wBg
		if wFg == 0 {
			break
		}
		sumBg += float64(t) * float64(hist[t])
		meanBg := sumBg / wBg
		meanFg := (sumAll - sumBg) / wFg
		between := wBg * wFg * (meanBg - meanFg) * (meanBg - meanFg)
		if between > bestVar {
			bestVar = between
			best = t
		}
	}
	return uint8(best)
}

// foregroundAngle estimates the skew of dark (ink) pixels from the
// central second-order moments.
func foregroundAngle(img *image.Gray, threshold uint8) float64 {
	w, h := img.Bounds().Dx(), img.Bounds().Dy()

	var n, sumX, sumY float64
	for y := 0; y < h; y++ {
		row := img.PixOffset(0, y)
		for x := 0; x < w; x++ {
			if img.Pix[row+x] < threshold {
				n++
				sumX += float64(x)
				sumY += float64(y)
			}
		}
	}
	if n < 100 {
		return 0 // not enough ink to measure
	}
	cx, cy := sumX/n, sumY/n

	var mu11, mu20, mu02 float64
	for y := 0; y < h; y++ {
		row := img.PixOffset(0, y)
		for x := 0; x < w; x++ {
			if img.Pix[row+x] < threshold {
				dx, dy := float64(x)-cx, float64(y)-cy
				mu11 += dx * dy
				mu20 += dx * dx
				mu02 += dy * dy
			}
		}
	}
	if mu20 == mu02 && mu11 == 0 {
		return 0
	}
	angle := 0.5 * math.Atan2(2*mu11, mu20-mu02)
	// The principal axis of a portrait text block is vertical; fold the
	// angle into the deviation from vertical.
	if angle > math.Pi/4 {
		angle -= math.Pi / 2
	} else if angle < -math.Pi/4 {
		angle += math.Pi / 2
	}
	return angle
}

// rotateByAngle rotates around the image center with nearest-neighbor
// sampling, filling revealed corners with white.
func rotateByAngle(src *image.Gray, angle float64) *image.Gray {
	w, h := src.Bounds().Dx(), src.Bounds().Dy()
	dst := image.NewGray(image.Rect(0, 0, w, h))
	cx, cy := float64(w)/2, float64(h)/2
	sin, cos := math.Sin(angle), math.Cos(angle)

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			sx := cos*(float64(x)-cx) + sin*(float64(y)-cy) + cx
			sy := -sin*(float64(x)-cx) + cos*(float64(y)-cy) + cy
			xi, yi := int(math.Round(sx)), int(math.Round(sy))
			if xi >= 0 && xi < w && yi >= 0 && yi < h {
				dst.Pix[dst.PixOffset(x, y)] = src.Pix[src.PixOffset(xi, yi)]
			} else {
				dst.Pix[dst.PixOffset(x, y)] = 255
			}
		}
	}
	return dst
}

func binarize(src *image.Gray, threshold uint8) *image.Gray {
	w, h := src.Bounds().Dx(), src.Bounds().Dy()
	dst := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		srcRow := src.PixOffset(0, y)
		dstRow := dst.PixOffset(0, y)
		for x := 0; x < w; x++ {
			if src.Pix[srcRow+x] < threshold {
				dst.Pix[dstRow+x] = 0
			} else {
				dst.Pix[dstRow+x] = 255
			}
		}
	}
	return dst
}
