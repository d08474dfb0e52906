// Package imageprep decodes uploaded photos and brings them to the size the encoder expects.
package imageprep

import (
	"bytes"
	"fmt"
	"image"

	// registered decoders
	_ "image/gif"
	_ "image/png"

	"github.com/cuongbtq/face-recognition/internal/domain"
	"github.com/disintegration/imaging"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// Defaults for normalisation
const (
	DefaultMaxSide = 1000
	jpegQuality    = 90
)

// Normalize decodes the image, turns it upright according to its EXIF orientation,
// shrinks it so the longest side is at most maxSide and re-encodes it as JPEG.
// Undecodable input yields domain.ErrInvalidImage.
func Normalize(data []byte, maxSide int) ([]byte, error) {
	if maxSide <= 0 {
		maxSide = DefaultMaxSide
	}

	// phone cameras store portrait shots sideways and record the rotation in EXIF
	src, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidImage, err)
	}

	img := src
	bounds := src.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w > maxSide || h > maxSide {
		nw, nh := fit(w, h, maxSide)
		dst := image.NewRGBA(image.Rect(0, 0, nw, nh))
		draw.CatmullRom.Scale(dst, dst.Bounds(), src, bounds, draw.Over, nil)
		img = dst
	}

	var out bytes.Buffer
	if err := imaging.Encode(&out, img, imaging.JPEG, imaging.JPEGQuality(jpegQuality)); err != nil {
		return nil, fmt.Errorf("failed to encode jpeg: %w", err)
	}

	return out.Bytes(), nil
}

// fit scales w x h down proportionally so neither side exceeds maxSide
func fit(w, h, maxSide int) (int, int) {
	if w >= h {
		nh := h * maxSide / w
		if nh < 1 {
			nh = 1
		}
		return maxSide, nh
	}

	nw := w * maxSide / h
	if nw < 1 {
		nw = 1
	}
	return nw, maxSide
}
