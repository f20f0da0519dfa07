package sizer

import (
	"context"
	"image"
)

const (
	// DefaultMaxDimension is the largest width or height kept before the search.
	DefaultMaxDimension = 3000
	// DefaultMaxAttempts bounds the number of re-encode iterations per search.
	DefaultMaxAttempts = 20
	// DefaultTolerance is the accepted fractional deviation from the target size.
	DefaultTolerance = 0.05
	// DefaultMinQuality is the quality floor of the search window.
	DefaultMinQuality = 0.01
	// DefaultMinStep is the smallest quality change treated as progress.
	DefaultMinStep = 0.01
	// DefaultNudgeStep is the forced quality change applied when the search stalls.
	DefaultNudgeStep = 0.05
	// DefaultInitialQuality is used when a request leaves InitialQuality unset.
	DefaultInitialQuality = 0.7

	maxQuality = 1.0
)

// Codec decodes, resizes and re-encodes raster images.
type Codec interface {
	// Decode interprets raw bytes of the given MIME type as an image.
	Decode(ctx context.Context, data []byte, mimeType string) (image.Image, error)
	// Resize scales img to exactly width x height.
	Resize(img image.Image, width, height int) image.Image
	// Encode produces an encoded byte stream in mimeType at quality in [0,1].
	Encode(ctx context.Context, img image.Image, mimeType string, quality float64) ([]byte, error)
}

// Options are the numeric knobs of the search.
type Options struct {
	MaxDimension   int
	MaxAttempts    int
	Tolerance      float64
	MinQuality     float64
	MinStep        float64
	NudgeStep      float64
	InitialQuality float64
}

// DefaultOptions returns the stock search configuration.
func DefaultOptions() Options {
	return Options{
		MaxDimension:   DefaultMaxDimension,
		MaxAttempts:    DefaultMaxAttempts,
		Tolerance:      DefaultTolerance,
		MinQuality:     DefaultMinQuality,
		MinStep:        DefaultMinStep,
		NudgeStep:      DefaultNudgeStep,
		InitialQuality: DefaultInitialQuality,
	}
}

// normalize fills zero or out-of-range values with defaults.
func (o Options) normalize() Options {
	d := DefaultOptions()
	if o.MaxDimension <= 0 {
		o.MaxDimension = d.MaxDimension
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = d.MaxAttempts
	}
	if o.Tolerance <= 0 || o.Tolerance >= 1 {
		o.Tolerance = d.Tolerance
	}
	if o.MinQuality <= 0 || o.MinQuality >= maxQuality {
		o.MinQuality = d.MinQuality
	}
	if o.MinStep <= 0 {
		o.MinStep = d.MinStep
	}
	if o.NudgeStep <= 0 {
		o.NudgeStep = d.NudgeStep
	}
	if o.InitialQuality <= 0 || o.InitialQuality > maxQuality {
		o.InitialQuality = d.InitialQuality
	}
	return o
}

// EncodeRequest describes one size-targeted encode.
type EncodeRequest struct {
	Source []byte
	// SourceWidth and SourceHeight are optional declared dimensions.
	// The decoded bounds win when they disagree.
	SourceWidth  int
	SourceHeight int
	MimeType     string
	TargetSize   int64
	// InitialQuality is the first quality tried; zero selects the encoder default.
	InitialQuality float64
}

// Attempt is a single re-encode produced during a search.
type Attempt struct {
	Quality float64
	Bytes   []byte
	Size    int
}

// EncodeResult is the outcome of a search.
type EncodeResult struct {
	Bytes    []byte
	Quality  float64
	Width    int
	Height   int
	MimeType string
	// Attempts is the number of search iterations that ran.
	Attempts int
	// WithinTolerance reports whether Bytes landed inside the tolerance window.
	WithinTolerance bool
}

// Size returns the encoded size in bytes.
func (r *EncodeResult) Size() int {
	return len(r.Bytes)
}
