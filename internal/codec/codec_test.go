package codec

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"image-shrinker-go/internal/sizer"
)

// texture returns a deterministic image with enough detail for lossy
// encoders to produce quality-dependent sizes.
func texture(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := uint32(x*7919+y*104729) ^ uint32(x*y)
			img.Set(x, y, color.NRGBA{
				R: uint8(v),
				G: uint8(v >> 8),
				B: uint8((x + y) * 3),
				A: 255,
			})
		}
	}
	return img
}

func encodeJPEG(t *testing.T, img image.Image, quality int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}))
	return buf.Bytes()
}

func TestDecodeReportsDimensions(t *testing.T) {
	c := New()
	data := encodeJPEG(t, texture(120, 80), 90)

	img, err := c.Decode(context.Background(), data, MIMEJPEG)
	require.NoError(t, err)
	assert.Equal(t, 120, img.Bounds().Dx())
	assert.Equal(t, 80, img.Bounds().Dy())
}

func TestDecodeRejectsGarbage(t *testing.T) {
	c := New()
	_, err := c.Decode(context.Background(), []byte("definitely not an image"), MIMEPNG)
	assert.Error(t, err)

	_, err = c.Decode(context.Background(), nil, MIMEPNG)
	assert.Error(t, err)
}

func TestEncodeJPEGSizeFollowsQuality(t *testing.T) {
	c := New()
	img := texture(200, 150)

	high, err := c.Encode(context.Background(), img, MIMEJPEG, 0.95)
	require.NoError(t, err)
	low, err := c.Encode(context.Background(), img, MIMEJPEG, 0.10)
	require.NoError(t, err)

	assert.Greater(t, len(high), len(low))
	assert.Equal(t, MIMEJPEG, DetectMIME(low))
}

func TestEncodeUnsupportedFormat(t *testing.T) {
	c := New()
	_, err := c.Encode(context.Background(), texture(4, 4), MIMEWebP, 0.5)
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestResize(t *testing.T) {
	c := New()
	out := c.Resize(texture(64, 32), 16, 8)
	assert.Equal(t, image.Rect(0, 0, 16, 8), out.Bounds())
}

func TestWithFilterChangesResampling(t *testing.T) {
	src := texture(64, 64)
	nearest, ok := FilterByName(" Nearest ")
	require.True(t, ok)

	a, ok := New(WithFilter(nearest)).Resize(src, 16, 16).(*image.NRGBA)
	require.True(t, ok)
	b, ok := New().Resize(src, 16, 16).(*image.NRGBA)
	require.True(t, ok)
	assert.NotEqual(t, a.Pix, b.Pix)

	_, ok = FilterByName("bicubic")
	assert.False(t, ok)
}

func TestQualityMapping(t *testing.T) {
	assert.Equal(t, 1, JPEGQuality(0))
	assert.Equal(t, 70, JPEGQuality(0.7))
	assert.Equal(t, 100, JPEGQuality(1.5))
	assert.Equal(t, 2, GIFColors(0.001))
	assert.Equal(t, 256, GIFColors(1))
}

func TestMIMEHelpers(t *testing.T) {
	assert.Equal(t, MIMEJPEG, MIMEFromPath("/tmp/Photo.JPG"))
	assert.Equal(t, MIMEWebP, MIMEFromPath("x.webp"))
	assert.Empty(t, MIMEFromPath("notes.txt"))

	assert.Equal(t, MIMEJPEG, OutputMIME("image/webp"))
	assert.Equal(t, MIMEPNG, OutputMIME("image/png; charset=binary"))
	assert.Equal(t, MIMEJPEG, OutputMIME("image/pjpeg"))

	assert.True(t, CanEncode("IMAGE/GIF"))
	assert.False(t, CanEncode("application/pdf"))

	assert.Equal(t, ".jpg", Extension(MIMEJPEG))
	assert.Equal(t, ".tiff", Extension(MIMETIFF))
	assert.Empty(t, DetectMIME([]byte("nope")))
}

func TestSizeTargetedEncodeWithImagingCodec(t *testing.T) {
	source := encodeJPEG(t, texture(400, 300), 95)
	target := int64(len(source) / 3)

	enc := sizer.NewEncoder(New(), sizer.DefaultOptions(), nil)
	res, err := enc.Encode(context.Background(), sizer.EncodeRequest{
		Source:     source,
		MimeType:   MIMEJPEG,
		TargetSize: target,
	})
	require.NoError(t, err)
	assert.Less(t, res.Size(), len(source))
	assert.Greater(t, res.Quality, 0.01)
	assert.Less(t, res.Quality, 1.0)
	assert.LessOrEqual(t, res.Attempts, sizer.DefaultMaxAttempts)
	assert.Equal(t, 400, res.Width)
	assert.Equal(t, MIMEJPEG, DetectMIME(res.Bytes))
}

func TestSizeTargetedEncodeDownscalesWideImage(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, texture(3200, 100)))

	enc := sizer.NewEncoder(New(), sizer.DefaultOptions(), nil)
	res, err := enc.Encode(context.Background(), sizer.EncodeRequest{
		Source:     buf.Bytes(),
		MimeType:   MIMEPNG,
		TargetSize: 1,
	})
	require.NoError(t, err)
	assert.Equal(t, 3000, res.Width)
	assert.Equal(t, 94, res.Height)
	assert.False(t, res.WithinTolerance)
}
