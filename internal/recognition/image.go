package recognition

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
)

// Frame is a decoded capture ready for detection. When the original exceeded
// maxDim it has been downscaled; Scale records the applied factor so that
// pixel thresholds can be scaled to match.
type Frame struct {
	Data       []byte // JPEG-encoded frame at Width x Height
	Width      int
	Height     int
	OrigWidth  int
	OrigHeight int
	Scale      float64 // Width/OrigWidth, 1.0 when no downscaling happened
}

// PrepareFrame decodes an image and downscales it to fit maxDim (width or
// height) while keeping aspect ratio. Bounds the CPU cost of detection on
// oversized uploads.
func PrepareFrame(data []byte, maxDim int) (*Frame, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()
	if width == 0 || height == 0 {
		return nil, fmt.Errorf("empty image %dx%d", width, height)
	}

	if width <= maxDim && height <= maxDim {
		// Re-encode as JPEG to ensure consistent format.
		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 85}); err != nil {
			return nil, fmt.Errorf("failed to encode image: %w", err)
		}
		return &Frame{
			Data:       buf.Bytes(),
			Width:      width,
			Height:     height,
			OrigWidth:  width,
			OrigHeight: height,
			Scale:      1.0,
		}, nil
	}

	var newWidth, newHeight int
	if width > height {
		newWidth = maxDim
		newHeight = int(float64(height) * float64(maxDim) / float64(width))
	} else {
		newHeight = maxDim
		newWidth = int(float64(width) * float64(maxDim) / float64(height))
	}

	resized := image.NewRGBA(image.Rect(0, 0, newWidth, newHeight))
	draw.CatmullRom.Scale(resized, resized.Bounds(), img, bounds, draw.Over, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, resized, &jpeg.Options{Quality: 85}); err != nil {
		return nil, fmt.Errorf("failed to encode resized image: %w", err)
	}

	return &Frame{
		Data:       buf.Bytes(),
		Width:      newWidth,
		Height:     newHeight,
		OrigWidth:  width,
		OrigHeight: height,
		Scale:      float64(newWidth) / float64(width),
	}, nil
}
