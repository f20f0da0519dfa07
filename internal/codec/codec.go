package codec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"math"
	"strings"

	"github.com/disintegration/imaging"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// ErrUnsupportedFormat is returned when no encoder exists for a MIME type.
var ErrUnsupportedFormat = errors.New("unsupported image format")

// ImagingCodec decodes, resizes and encodes images with disintegration/imaging.
// Quality in [0,1] maps to JPEG quality for JPEG output and to palette size
// for GIF output; lossless formats ignore it.
type ImagingCodec struct {
	autoOrient bool
	filter     imaging.ResampleFilter
}

// Option configures an ImagingCodec.
type Option func(*ImagingCodec)

// WithAutoOrientation applies the EXIF orientation tag while decoding.
func WithAutoOrientation(enabled bool) Option {
	return func(c *ImagingCodec) { c.autoOrient = enabled }
}

// WithFilter sets the resampling filter used by Resize.
func WithFilter(filter imaging.ResampleFilter) Option {
	return func(c *ImagingCodec) { c.filter = filter }
}

var filters = map[string]imaging.ResampleFilter{
	"nearest":    imaging.NearestNeighbor,
	"box":        imaging.Box,
	"linear":     imaging.Linear,
	"catmullrom": imaging.CatmullRom,
	"lanczos":    imaging.Lanczos,
}

// FilterByName looks up a resampling filter by its lowercase name.
func FilterByName(name string) (imaging.ResampleFilter, bool) {
	f, ok := filters[strings.ToLower(strings.TrimSpace(name))]
	return f, ok
}

// New returns an ImagingCodec with auto-orientation and Lanczos resampling.
func New(opts ...Option) *ImagingCodec {
	c := &ImagingCodec{
		autoOrient: true,
		filter:     imaging.Lanczos,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Decode decodes data; the format is sniffed from the bytes.
func (c *ImagingCodec) Decode(ctx context.Context, data []byte, mimeType string) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, errors.New("empty input")
	}
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(c.autoOrient))
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", mimeType, err)
	}
	return img, nil
}

// Resize scales img to width x height.
func (c *ImagingCodec) Resize(img image.Image, width, height int) image.Image {
	return imaging.Resize(img, width, height, c.filter)
}

// Encode encodes img as mimeType at the given quality.
func (c *ImagingCodec) Encode(ctx context.Context, img image.Image, mimeType string, quality float64) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	format, ok := FormatForMIME(mimeType)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, mimeType)
	}

	var opts []imaging.EncodeOption
	switch format {
	case imaging.JPEG:
		opts = append(opts, imaging.JPEGQuality(JPEGQuality(quality)))
	case imaging.PNG:
		opts = append(opts, imaging.PNGCompressionLevel(png.BestCompression))
	case imaging.GIF:
		opts = append(opts, imaging.GIFNumColors(GIFColors(quality)))
	}

	var buf bytes.Buffer
	buf.Grow(256 * 1024)
	if err := imaging.Encode(&buf, img, format, opts...); err != nil {
		return nil, fmt.Errorf("encode %s: %w", mimeType, err)
	}
	return buf.Bytes(), nil
}

// JPEGQuality maps a [0,1] quality to the 1-100 JPEG scale.
func JPEGQuality(quality float64) int {
	q := int(math.Round(quality * 100))
	return min(max(q, 1), 100)
}

// GIFColors maps a [0,1] quality to a palette size between 2 and 256.
func GIFColors(quality float64) int {
	n := int(math.Round(quality * 256))
	return min(max(n, 2), 256)
}
