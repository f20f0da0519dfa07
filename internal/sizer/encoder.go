package sizer

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math"

	"github.com/sirupsen/logrus"
)

const (
	// Fraction of the remaining window kept when the output overshoots the target.
	overshootKeep      = 0.5
	largeOvershootKeep = 0.3
	// Fraction of the remaining window climbed when the output fits the budget.
	undershootClimb = 0.3
)

// Encoder runs the size-targeted quality search against an injected Codec.
// It holds no per-search state and is safe for concurrent use.
type Encoder struct {
	codec  Codec
	opts   Options
	logger logrus.FieldLogger
}

// NewEncoder returns an Encoder. Zero option values fall back to defaults.
func NewEncoder(codec Codec, opts Options, logger logrus.FieldLogger) *Encoder {
	if logger == nil {
		l := logrus.New()
		l.SetLevel(logrus.WarnLevel)
		logger = l
	}
	return &Encoder{
		codec:  codec,
		opts:   opts.normalize(),
		logger: logger,
	}
}

// Options returns the effective search options.
func (e *Encoder) Options() Options {
	return e.opts
}

// Encode re-encodes req.Source so that its size approaches req.TargetSize.
//
// A target at or above the source size returns the source untouched at
// quality 1.0. Otherwise the image is downscaled to MaxDimension if needed and
// a bounded bisection over quality runs until an attempt lands within
// Tolerance of the target or MaxAttempts is spent, in which case the attempt
// closest to the target is returned.
func (e *Encoder) Encode(ctx context.Context, req EncodeRequest) (*EncodeResult, error) {
	if req.TargetSize <= 0 {
		return nil, ErrInvalidTarget
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	img, err := e.codec.Decode(ctx, req.Source, req.MimeType)
	if err != nil {
		return nil, &DecodeError{MimeType: req.MimeType, Err: err}
	}
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width <= 0 || height <= 0 {
		return nil, &DecodeError{MimeType: req.MimeType, Err: errors.New("image has no pixels")}
	}
	if (req.SourceWidth != 0 && req.SourceWidth != width) || (req.SourceHeight != 0 && req.SourceHeight != height) {
		e.logger.WithFields(logrus.Fields{
			"declared": fmt.Sprintf("%dx%d", req.SourceWidth, req.SourceHeight),
			"decoded":  fmt.Sprintf("%dx%d", width, height),
		}).Debug("Declared dimensions differ from decoded image")
	}

	if req.TargetSize >= int64(len(req.Source)) {
		return &EncodeResult{
			Bytes:           req.Source,
			Quality:         maxQuality,
			Width:           width,
			Height:          height,
			MimeType:        req.MimeType,
			WithinTolerance: withinTolerance(len(req.Source), req.TargetSize, e.opts.Tolerance),
		}, nil
	}

	fitW, fitH := FitDimensions(width, height, e.opts.MaxDimension)
	if fitW != width || fitH != height {
		e.logger.WithFields(logrus.Fields{
			"from": fmt.Sprintf("%dx%d", width, height),
			"to":   fmt.Sprintf("%dx%d", fitW, fitH),
		}).Debug("Downscaling before search")
		img = e.codec.Resize(img, fitW, fitH)
	}

	return e.search(ctx, img, req, fitW, fitH)
}

type searchState struct {
	minQuality float64
	maxQuality float64
	quality    float64
	best       *Attempt
	bestDelta  int64
	attempts   int
	lastErr    error
}

func (e *Encoder) search(ctx context.Context, img image.Image, req EncodeRequest, width, height int) (*EncodeResult, error) {
	initial := req.InitialQuality
	if initial <= 0 {
		initial = e.opts.InitialQuality
	}
	st := &searchState{
		minQuality: e.opts.MinQuality,
		maxQuality: maxQuality,
		quality:    clamp(initial, e.opts.MinQuality, maxQuality),
	}
	// Qualities are revisited once the window collapses; reuse their output.
	tried := make(map[float64]*Attempt)

	result := func(a *Attempt, ok bool) *EncodeResult {
		return &EncodeResult{
			Bytes:           a.Bytes,
			Quality:         a.Quality,
			Width:           width,
			Height:          height,
			MimeType:        req.MimeType,
			Attempts:        st.attempts,
			WithinTolerance: ok,
		}
	}

	for st.attempts < e.opts.MaxAttempts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		st.attempts++

		attempt, err := e.attempt(ctx, img, req.MimeType, st.quality, tried)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			st.lastErr = err
			e.logger.WithFields(logrus.Fields{
				"attempt": st.attempts,
				"quality": st.quality,
			}).Debugf("Encode attempt failed: %v", err)
			st.quality = st.afterFailure(e.opts)
			continue
		}

		delta := absDelta(attempt.Size, req.TargetSize)
		if st.best == nil || delta < st.bestDelta {
			st.best = attempt
			st.bestDelta = delta
		}

		e.logger.WithFields(logrus.Fields{
			"attempt": st.attempts,
			"quality": fmt.Sprintf("%.2f", attempt.Quality),
			"size":    attempt.Size,
			"target":  req.TargetSize,
		}).Debug("Encode attempt")

		if withinTolerance(attempt.Size, req.TargetSize, e.opts.Tolerance) {
			return result(attempt, true), nil
		}
		st.quality = st.next(attempt.Size, req.TargetSize, e.opts)
	}

	if st.best == nil {
		e.logger.WithFields(logrus.Fields{
			"attempts": st.attempts,
			"mime":     req.MimeType,
		}).Warnf("No encode attempt produced output: %v", st.lastErr)
		return nil, &EncodeError{MimeType: req.MimeType, Attempts: st.attempts, Err: st.lastErr}
	}
	return result(st.best, false), nil
}

func (e *Encoder) attempt(ctx context.Context, img image.Image, mimeType string, quality float64, tried map[float64]*Attempt) (*Attempt, error) {
	if a, ok := tried[quality]; ok {
		return a, nil
	}
	data, err := e.codec.Encode(ctx, img, mimeType, quality)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, errors.New("encoder produced no output")
	}
	a := &Attempt{Quality: quality, Bytes: data, Size: len(data)}
	tried[quality] = a
	return a, nil
}

// next narrows the window around the current quality and picks the next one.
// Overshooting moves toward the floor, harder when the overshoot is large;
// fitting the budget climbs toward the ceiling in smaller steps.
func (s *searchState) next(size int, target int64, opts Options) float64 {
	cur := s.quality
	over := int64(size) > target

	var q float64
	if over {
		s.maxQuality = cur
		keep := overshootKeep
		if int64(size) > 2*target {
			keep = largeOvershootKeep
		}
		q = s.minQuality + (cur-s.minQuality)*keep
	} else {
		s.minQuality = cur
		q = cur + (s.maxQuality-cur)*undershootClimb
	}

	if math.Abs(q-cur) < opts.MinStep {
		if over {
			q = cur - opts.NudgeStep
		} else {
			q = cur + opts.NudgeStep
		}
	}
	return clamp(q, s.minQuality, s.maxQuality)
}

// afterFailure drops the failed quality from the window, cutting off the
// larger side, and moves to the midpoint of what remains.
func (s *searchState) afterFailure(opts Options) float64 {
	cur := s.quality
	if cur-s.minQuality >= s.maxQuality-cur {
		s.maxQuality = cur
	} else {
		s.minQuality = cur
	}
	q := (s.minQuality + s.maxQuality) / 2
	if math.Abs(q-cur) < opts.MinStep {
		if cur-s.minQuality > s.maxQuality-cur {
			q = cur - opts.NudgeStep
		} else {
			q = cur + opts.NudgeStep
		}
	}
	return clamp(q, s.minQuality, s.maxQuality)
}

func withinTolerance(size int, target int64, tolerance float64) bool {
	ratio := float64(size) / float64(target)
	return ratio >= 1-tolerance && ratio <= 1+tolerance
}

func absDelta(size int, target int64) int64 {
	d := int64(size) - target
	if d < 0 {
		return -d
	}
	return d
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
