package compressor

import (
	"context"
	"time"

	"image-shrinker-go/internal/sizer"
)

// Actions recorded in CompressionResult.Action.
const (
	ActionCompressed = "compressed"
	ActionOriginal   = "original"
	ActionSkipped    = "skipped"
	ActionError      = "error"
)

// CompressionParams defines parameters for the image compression process.
type CompressionParams struct {
	InputPaths []string
	TargetDir  string
	// TargetSize in bytes; zero selects half of each source, at least 20 KB.
	TargetSize     int64
	InitialQuality float64
	Formats        []string
	Workers        int
	DryRun         bool
	MarkCompressed bool
}

// CompressionResult describes the result of compressing a single file.
type CompressionResult struct {
	InputPath       string
	OutputPath      string
	MimeType        string
	OriginalSize    int64
	CompressedSize  int64
	TargetSize      int64
	PercentageSaved float64
	Quality         float64
	Attempts        int
	WithinTolerance bool
	OriginalWidth   int
	OriginalHeight  int
	Width           int
	Height          int
	Action          string
	Message         string
	Success         bool
	StartedAt       time.Time
	FinishedAt      time.Time
	Error           error
}

// Compressor defines the interface for image compression.
type Compressor interface {
	// Compress processes a list of files or directories according to the parameters.
	// Returns a slice of results for each file.
	Compress(ctx context.Context, params CompressionParams) ([]CompressionResult, error)
}

// SizeEncoder runs one size-targeted encode.
type SizeEncoder interface {
	Encode(ctx context.Context, req sizer.EncodeRequest) (*sizer.EncodeResult, error)
}

// MarkChecker reports whether a file was already produced by this tool.
type MarkChecker interface {
	IsCompressed(filePath string) bool
}

// ProgressFunc receives each result as soon as its file is done.
type ProgressFunc func(done, total int, result CompressionResult)
