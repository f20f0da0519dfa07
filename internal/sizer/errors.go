package sizer

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidTarget is returned for a non-positive target size.
	ErrInvalidTarget = errors.New("target size must be greater than zero")
	// ErrDecode marks failures to interpret the source as an image.
	ErrDecode = errors.New("decode failed")
	// ErrEncode marks searches in which no attempt produced output.
	ErrEncode = errors.New("encode failed")
)

// DecodeError wraps the codec error for an undecodable source.
type DecodeError struct {
	MimeType string
	Err      error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %v", e.MimeType, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrDecode) match.
func (e *DecodeError) Is(target error) bool { return target == ErrDecode }

// EncodeError reports that every attempt of a search failed.
type EncodeError struct {
	MimeType string
	Attempts int
	// Err is the error of the last failed attempt.
	Err error
}

func (e *EncodeError) Error() string {
	return fmt.Sprintf("encode %s: no output after %d attempts: %v", e.MimeType, e.Attempts, e.Err)
}

func (e *EncodeError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrEncode) match.
func (e *EncodeError) Is(target error) bool { return target == ErrEncode }
