package imaging

import (
	"bytes"
	"image"
	"image/png"
	"math"
	"testing"
)

func encodePNG(t *testing.T, img *image.Gray) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode: %v", err)
	}
	return buf.Bytes()
}

func decodePNG(t *testing.T, data []byte) image.Image {
	t.Helper()
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	return img
}

// stripedImage varies brightness per row so every strip is distinctive
// and template matching has something to lock onto.
func stripedImage(w, h, seed int) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		v := uint8(((y + seed) * 37) % 251)
		for x := 0; x < w; x++ {
			img.Pix[img.PixOffset(x, y)] = v
		}
	}
	return img
}

func TestStitchRemovesOverlap(t *testing.T) {
	const w, h = 100, 400
	first := stripedImage(w, h, 0)

	// Second photo starts with the bottom 100 rows of the first
	// (the template height for h=400 is clamp(100, 40, 200) = 100).
	second := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < 100; y++ {
		copy(second.Pix[second.PixOffset(0, y):second.PixOffset(0, y)+w],
			first.Pix[first.PixOffset(0, h-100+y):first.PixOffset(0, h-100+y)+w])
	}
	for y := 100; y < h; y++ {
		v := uint8(((y * 91) + 17) % 251)
		for x := 0; x < w; x++ {
			second.Pix[second.PixOffset(x, y)] = v
		}
	}

	out, err := Stitch([][]byte{encodePNG(t, first), encodePNG(t, second)}, nil)
	if err != nil {
		t.Fatalf("Stitch: %v", err)
	}
	got := decodePNG(t, out)
	// Overlap found at row 0, crop from row 100: 400 + (400-100).
	if got.Bounds().Dy() != 700 {
		t.Errorf("stitched height = %d, want 700 with overlap removed", got.Bounds().Dy())
	}
	if got.Bounds().Dx() != w {
		t.Errorf("stitched width = %d, want %d", got.Bounds().Dx(), w)
	}
}

func TestStitchDeepMatchTreatedAsNoOverlap(t *testing.T) {
	const w, h = 100, 400
	first := stripedImage(w, h, 0)

	// The only region resembling the template sits at half the second
	// image's height, outside the top-30% acceptance band.
	second := image.NewGray(image.Rect(0, 0, w, h))
	for i := range second.Pix {
		second.Pix[i] = 128
	}
	for y := 0; y < 100; y++ {
		copy(second.Pix[second.PixOffset(0, 200+y):second.PixOffset(0, 200+y)+w],
			first.Pix[first.PixOffset(0, h-100+y):first.PixOffset(0, h-100+y)+w])
	}

	out, err := Stitch([][]byte{encodePNG(t, first), encodePNG(t, second)}, nil)
	if err != nil {
		t.Fatalf("Stitch: %v", err)
	}
	got := decodePNG(t, out)
	if got.Bounds().Dy() != 800 {
		t.Errorf("stitched height = %d, want 800 (full concatenation)", got.Bounds().Dy())
	}
}

func TestStitchRotatesLandscapeToPortrait(t *testing.T) {
	img := stripedImage(300, 120, 0) // wider than tall

	out, err := Stitch([][]byte{encodePNG(t, img)}, nil)
	if err != nil {
		t.Fatalf("Stitch: %v", err)
	}
	got := decodePNG(t, out)
	if got.Bounds().Dx() != 120 || got.Bounds().Dy() != 300 {
		t.Errorf("dimensions = %dx%d, want 120x300 after rotation", got.Bounds().Dx(), got.Bounds().Dy())
	}
}

func TestStitchBadInputReturnsOriginal(t *testing.T) {
	original := []byte("definitely not an image")
	out, err := Stitch([][]byte{original}, nil)
	if err != nil {
		t.Fatalf("Stitch: %v", err)
	}
	if !bytes.Equal(out, original) {
		t.Error("undecodable input was not returned unchanged")
	}

	if _, err := Stitch(nil, nil); err == nil {
		t.Error("Stitch with no images succeeded, want error")
	}
}

func TestOtsuThresholdSeparatesBimodal(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 100, 100))
	for i := range img.Pix {
		if i%2 == 0 {
			img.Pix[i] = 40
		} else {
			img.Pix[i] = 200
		}
	}
	th := otsuThreshold(img)
	if th <= 40 || th > 200 {
		t.Errorf("threshold = %d, want between the two modes", th)
	}
}

func TestForegroundAngle(t *testing.T) {
	// A vertical bar of ink on white paper: no skew.
	vertical := image.NewGray(image.Rect(0, 0, 200, 200))
	for i := range vertical.Pix {
		vertical.Pix[i] = 255
	}
	for y := 20; y < 180; y++ {
		for x := 95; x < 105; x++ {
			vertical.Pix[vertical.PixOffset(x, y)] = 0
		}
	}
	if got := foregroundAngle(vertical, 128); math.Abs(got) > 0.02 {
		t.Errorf("vertical bar angle = %.4f rad, want ~0", got)
	}

	// The same bar sheared sideways by 0.1 per row: ~5.7 degrees.
	tilted := image.NewGray(image.Rect(0, 0, 200, 200))
	for i := range tilted.Pix {
		tilted.Pix[i] = 255
	}
	for y := 20; y < 180; y++ {
		shift := y / 10
		for x := 85 + shift; x < 95+shift; x++ {
			tilted.Pix[tilted.PixOffset(x, y)] = 0
		}
	}
	deg := math.Abs(foregroundAngle(tilted, 128)) * 180 / math.Pi
	if deg < 4.0 || deg > 8.0 {
		t.Errorf("tilted bar angle = %.2f deg, want ~5.7", deg)
	}
}

func TestDeskewDiscardsLargeAngles(t *testing.T) {
	// Ink along a steep diagonal computes to far more than 12 degrees;
	// the correction must be skipped, leaving pixels where they were.
	img := image.NewGray(image.Rect(0, 0, 200, 200))
	for i := range img.Pix {
		img.Pix[i] = 255
	}
	for y := 10; y < 190; y++ {
		shift := y * 3 / 4
		for x := shift; x < shift+8 && x < 200; x++ {
			img.Pix[img.PixOffset(x, y)] = 0
		}
	}

	th := otsuThreshold(img)
	got := Deskew(img, nil)
	for y := 0; y < 200; y++ {
		for x := 0; x < 200; x++ {
			wantInk := img.Pix[img.PixOffset(x, y)] < th
			gotInk := got.Pix[got.PixOffset(x, y)] == 0
			if wantInk != gotInk {
				t.Fatalf("pixel (%d,%d) moved; large angle was not discarded", x, y)
			}
		}
	}
}
