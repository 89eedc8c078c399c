package vision

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"
)

// stripes returns vertical black and white stripes of the given width.
func stripes(width, height, stripe int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			c := color.RGBA{0, 0, 0, 255}
			if (x/stripe)%2 == 1 {
				c = color.RGBA{255, 255, 255, 255}
			}
			img.Set(x, y, c)
		}
	}
	return img
}

// solid returns a uniformly filled image.
func solid(width, height int, c color.Color) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

// encodePNG encodes an image to PNG bytes
func encodePNG(img image.Image) []byte {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

func TestDecodeImage(t *testing.T) {
	if _, err := DecodeImage(nil); err != ErrEmptyImage {
		t.Errorf("empty: got %v", err)
	}
	if _, err := DecodeImage([]byte("not an image")); err == nil {
		t.Error("expected error for garbage")
	}
	img, err := DecodeImage(encodePNG(solid(8, 4, color.White)))
	if err != nil {
		t.Fatalf("DecodeImage: %v", err)
	}
	if img.Bounds().Dx() != 8 || img.Bounds().Dy() != 4 {
		t.Errorf("bounds = %v", img.Bounds())
	}
}

func TestResizeToFit(t *testing.T) {
	small := solid(100, 50, color.White)
	if got := ResizeToFit(small, 256); got != small {
		t.Error("small image should be returned unchanged")
	}

	got := ResizeToFit(solid(1000, 500, color.White), 256)
	if got.Bounds().Dx() != 256 || got.Bounds().Dy() != 128 {
		t.Errorf("bounds = %v, want 256x128", got.Bounds())
	}
}

func TestEdgeDensity(t *testing.T) {
	if d := EdgeDensity(ToGray(solid(32, 32, color.Gray{Y: 128})), DefaultGradientThreshold); d != 0 {
		t.Errorf("solid density = %v, want 0", d)
	}
	if d := EdgeDensity(ToGray(stripes(32, 32, 2)), DefaultGradientThreshold); d != 1 {
		t.Errorf("stripes density = %v, want 1", d)
	}
	if d := EdgeDensity(ToGray(solid(2, 2, color.White)), DefaultGradientThreshold); d != 0 {
		t.Errorf("tiny density = %v, want 0", d)
	}
}

func TestToGray_OffsetBounds(t *testing.T) {
	src := image.NewGray(image.Rect(10, 10, 20, 20))
	for i := range src.Pix {
		src.Pix[i] = 200
	}
	if d := EdgeDensity(ToGray(src), DefaultGradientThreshold); d != 0 {
		t.Errorf("density = %v, want 0", d)
	}
}
