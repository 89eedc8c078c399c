// Package vision measures how visually busy a product photo is, so the
// pipeline can spend more diffusion steps on complex subjects.
package vision

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// Image preprocessing errors
var (
	ErrInvalidImage      = errors.New("vision: invalid image data")
	ErrEmptyImage        = errors.New("vision: empty image data")
	ErrInvalidDimensions = errors.New("vision: invalid dimensions")
)

// DefaultAnalysisSize bounds the longest side analysed. Edge density is
// scale dependent, so every image is reduced to the same size first.
const DefaultAnalysisSize = 256

// DecodeImage decodes PNG, JPEG, GIF or WebP data.
// This is a pure function with no side effects.
func DecodeImage(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, ErrEmptyImage
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	if img.Bounds().Empty() {
		return nil, ErrInvalidDimensions
	}
	return img, nil
}

// ResizeToFit scales img down so its longest side is at most maxSide,
// keeping the aspect ratio. Smaller images are returned unchanged.
// This is a pure function with no side effects.
func ResizeToFit(img image.Image, maxSide int) image.Image {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	longest := max(width, height)
	if maxSide <= 0 || longest <= maxSide {
		return img
	}

	scale := float64(maxSide) / float64(longest)
	newWidth := max(1, int(float64(width)*scale))
	newHeight := max(1, int(float64(height)*scale))

	dst := image.NewRGBA(image.Rect(0, 0, newWidth, newHeight))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, bounds, draw.Src, nil)
	return dst
}

// ToGray converts img to 8-bit luminance. Transparent pixels, as left by
// background removal, count as black.
// This is a pure function with no side effects.
func ToGray(img image.Image) *image.Gray {
	if gray, ok := img.(*image.Gray); ok {
		return gray
	}
	bounds := img.Bounds()
	gray := image.NewGray(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(gray, gray.Bounds(), img, bounds.Min, draw.Src)
	return gray
}

// EdgeDensity returns the fraction of interior pixels whose Sobel gradient
// magnitude exceeds threshold. Images smaller than 3x3 have no interior
// and score 0.
// This is a pure function with no side effects.
func EdgeDensity(gray *image.Gray, threshold float64) float64 {
	b := gray.Bounds()
	w, h := b.Dx(), b.Dy()
	if w < 3 || h < 3 {
		return 0
	}

	at := func(x, y int) float64 {
		return float64(gray.Pix[gray.PixOffset(b.Min.X+x, b.Min.Y+y)])
	}

	thresholdSq := threshold * threshold
	edges := 0
	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			gx := -at(x-1, y-1) - 2*at(x-1, y) - at(x-1, y+1) +
				at(x+1, y-1) + 2*at(x+1, y) + at(x+1, y+1)
			gy := -at(x-1, y-1) - 2*at(x, y-1) - at(x+1, y-1) +
				at(x-1, y+1) + 2*at(x, y+1) + at(x+1, y+1)
			if gx*gx+gy*gy > thresholdSq {
				edges++
			}
		}
	}
	return float64(edges) / float64((w-2)*(h-2))
}
