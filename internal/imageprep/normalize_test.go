package imageprep

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/cuongbtq/face-recognition/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.Set(x, 0, color.RGBA{R: 200, A: 255})
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func encodeJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, image.NewGray(image.Rect(0, 0, w, h)), nil))
	return buf.Bytes()
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name  string
		input []byte
		maxW  int
		maxH  int
	}{
		{name: "wide png is shrunk", input: encodePNG(t, 2000, 1000), maxW: 1000, maxH: 500},
		{name: "tall jpeg is shrunk", input: encodeJPEG(t, 300, 1500), maxW: 200, maxH: 1000},
		{name: "small png is converted", input: encodePNG(t, 40, 30), maxW: 40, maxH: 30},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := Normalize(tt.input, DefaultMaxSide)
			require.NoError(t, err)

			cfg, format, err := image.DecodeConfig(bytes.NewReader(out))
			require.NoError(t, err)
			assert.Equal(t, "jpeg", format)
			assert.Equal(t, tt.maxW, cfg.Width)
			assert.Equal(t, tt.maxH, cfg.Height)
		})
	}
}

func TestNormalize_SmallJPEGKeepsSize(t *testing.T) {
	out, err := Normalize(encodeJPEG(t, 64, 48), 0)
	require.NoError(t, err)

	cfg, err := jpeg.DecodeConfig(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, 64, cfg.Width)
	assert.Equal(t, 48, cfg.Height)
}

// withOrientation inserts an APP1 Exif segment carrying only the orientation tag
// right after the JPEG start-of-image marker
func withOrientation(t *testing.T, jpg []byte, orientation byte) []byte {
	t.Helper()
	require.Equal(t, []byte{0xFF, 0xD8}, jpg[:2])

	app1 := []byte{
		0xFF, 0xE1, 0x00, 0x22, // APP1, segment length 34
		'E', 'x', 'i', 'f', 0x00, 0x00,
		'M', 'M', 0x00, 0x2A, 0x00, 0x00, 0x00, 0x08, // big-endian TIFF header, IFD0 at 8
		0x00, 0x01, // one entry
		0x01, 0x12, 0x00, 0x03, 0x00, 0x00, 0x00, 0x01, 0x00, orientation, 0x00, 0x00, // Orientation SHORT
		0x00, 0x00, 0x00, 0x00, // no next IFD
	}

	out := append([]byte{0xFF, 0xD8}, app1...)
	return append(out, jpg[2:]...)
}

func TestNormalize_AppliesEXIFOrientation(t *testing.T) {
	// 40x20 landscape, left half red and right half blue
	src := image.NewRGBA(image.Rect(0, 0, 40, 20))
	for x := 0; x < 40; x++ {
		c := color.RGBA{R: 255, A: 255}
		if x >= 20 {
			c = color.RGBA{B: 255, A: 255}
		}
		for y := 0; y < 20; y++ {
			src.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, src, &jpeg.Options{Quality: 95}))

	// orientation 6: the camera was turned, display needs a 90 degree clockwise turn
	out, err := Normalize(withOrientation(t, buf.Bytes(), 6), DefaultMaxSide)
	require.NoError(t, err)

	img, err := jpeg.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, 20, img.Bounds().Dx())
	assert.Equal(t, 40, img.Bounds().Dy())

	isRed := func(c color.Color) bool {
		r, _, b, _ := c.RGBA()
		return r > 0xC000 && b < 0x4000
	}
	isBlue := func(c color.Color) bool {
		r, _, b, _ := c.RGBA()
		return b > 0xC000 && r < 0x4000
	}
	assert.True(t, isRed(img.At(10, 5)), "left half ends up on top")
	assert.True(t, isBlue(img.At(10, 35)), "right half ends up at the bottom")
}

func TestNormalize_InvalidImage(t *testing.T) {
	_, err := Normalize([]byte("definitely not an image"), DefaultMaxSide)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidImage)
}

func TestFit(t *testing.T) {
	w, h := fit(4000, 3000, 1000)
	assert.Equal(t, 1000, w)
	assert.Equal(t, 750, h)

	w, h = fit(10, 5000, 1000)
	assert.Equal(t, 2, w)
	assert.Equal(t, 1000, h)
}
