package compressor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"image-shrinker-go/internal/codec"
	"image-shrinker-go/internal/fileutil"
	"image-shrinker-go/internal/logger"
	"image-shrinker-go/internal/metadata"
	"image-shrinker-go/internal/sizer"
	"image-shrinker-go/internal/statistics"
)

// DefaultCompressor is the default implementation of the Compressor interface.
type DefaultCompressor struct {
	encoder  SizeEncoder
	checker  MarkChecker
	marker   metadata.Marker
	stats    *statistics.Statistics
	logger   logrus.FieldLogger
	progress ProgressFunc
}

// Option configures a DefaultCompressor.
type Option func(*DefaultCompressor)

// WithMarkChecker skips inputs the checker reports as already compressed.
func WithMarkChecker(checker MarkChecker) Option {
	return func(c *DefaultCompressor) { c.checker = checker }
}

// WithMarker copies EXIF and stamps JPEG outputs when params ask for it.
func WithMarker(marker metadata.Marker) Option {
	return func(c *DefaultCompressor) { c.marker = marker }
}

// WithStatistics records outcomes into stats.
func WithStatistics(stats *statistics.Statistics) Option {
	return func(c *DefaultCompressor) { c.stats = stats }
}

// WithProgress registers a callback invoked after every file.
func WithProgress(fn ProgressFunc) Option {
	return func(c *DefaultCompressor) { c.progress = fn }
}

// NewDefaultCompressor creates a new DefaultCompressor instance.
func NewDefaultCompressor(encoder SizeEncoder, log logrus.FieldLogger, opts ...Option) *DefaultCompressor {
	c := &DefaultCompressor{
		encoder: encoder,
		logger:  log,
		stats:   statistics.NewStatistics(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Statistics returns the statistics the compressor records into.
func (c *DefaultCompressor) Statistics() *statistics.Statistics {
	return c.stats
}

// Compress performs image compression according to the provided parameters.
func (c *DefaultCompressor) Compress(ctx context.Context, params CompressionParams) ([]CompressionResult, error) {
	if params.TargetSize < 0 {
		return nil, sizer.ErrInvalidTarget
	}
	files, err := collectImageFiles(params.InputPaths, params.Formats)
	if err != nil {
		return nil, fmt.Errorf("collect files: %w", err)
	}
	c.stats.AddFilesFound(len(files))
	if len(files) == 0 {
		return nil, nil
	}

	if params.TargetDir != "" && !params.DryRun {
		if err := os.MkdirAll(params.TargetDir, 0755); err != nil {
			return nil, fmt.Errorf("create target dir: %w", err)
		}
	}

	numWorkers := params.Workers
	if numWorkers <= 0 {
		numWorkers = 4
	}
	numWorkers = min(numWorkers, len(files))

	type job struct {
		index int
		path  string
	}

	jobs := make(chan job, len(files))
	resArr := make([]CompressionResult, len(files))
	var done atomic.Int64

	var wg sync.WaitGroup
	wg.Add(numWorkers)
	for w := 0; w < numWorkers; w++ {
		go func() {
			defer wg.Done()
			for j := range jobs {
				var r CompressionResult
				if ctx.Err() != nil {
					r = cancelled(j.path, ctx.Err())
				} else {
					r = c.compressOne(ctx, j.path, params)
				}
				resArr[j.index] = r
				c.record(r)
				if c.progress != nil {
					c.progress(int(done.Add(1)), len(files), r)
				}
			}
		}()
	}

	for i, path := range files {
		jobs <- job{index: i, path: path}
	}
	close(jobs)
	wg.Wait()

	c.stats.Finalize()
	if err := ctx.Err(); err != nil {
		return resArr, err
	}
	return resArr, nil
}

// collectImageFiles recursively collects all files with supported extensions.
func collectImageFiles(inputPaths []string, formats []string) ([]string, error) {
	var files []string
	extSet := make(map[string]struct{})
	for _, f := range formats {
		f = strings.ToLower(f)
		if !strings.HasPrefix(f, ".") {
			f = "." + f
		}
		extSet[f] = struct{}{}
	}
	visit := func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(d.Name()))
		if _, ok := extSet[ext]; ok {
			files = append(files, path)
		}
		return nil
	}
	for _, in := range inputPaths {
		info, err := os.Stat(in)
		if err != nil {
			return nil, err
		}
		if info.IsDir() {
			if err := filepath.WalkDir(in, visit); err != nil {
				return nil, err
			}
		} else {
			// Explicitly named files are accepted regardless of extension.
			files = append(files, in)
		}
	}
	return files, nil
}

// compressOne compresses a single file and returns a CompressionResult.
func (c *DefaultCompressor) compressOne(ctx context.Context, inputPath string, params CompressionParams) CompressionResult {
	log := logger.WithFileOperation(c.logger, inputPath, "compress")
	res := CompressionResult{
		InputPath: inputPath,
		StartedAt: time.Now(),
	}
	fail := func(msg string, err error) CompressionResult {
		res.Action = ActionError
		res.Message = fmt.Sprintf("%s: %v", msg, err)
		res.Error = err
		res.FinishedAt = time.Now()
		log.Errorf("Compression error: %s", res.Message)
		return res
	}

	if c.checker != nil && c.checker.IsCompressed(inputPath) {
		res.Action = ActionSkipped
		res.Message = "Already compressed by ImageShrinker"
		res.Success = true
		res.FinishedAt = time.Now()
		return res
	}

	data, err := os.ReadFile(inputPath)
	if err != nil {
		return fail("read error", err)
	}
	res.OriginalSize = int64(len(data))

	srcMime := codec.MIMEFromPath(inputPath)
	if srcMime == "" {
		srcMime = codec.DetectMIME(data)
	}
	outMime := codec.OutputMIME(srcMime)
	res.MimeType = outMime

	if cfg, _, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
		res.OriginalWidth, res.OriginalHeight = cfg.Width, cfg.Height
	}

	target := params.TargetSize
	if target == 0 {
		target = fileutil.DefaultTarget(res.OriginalSize)
	}
	res.TargetSize = target

	encoded, err := c.encoder.Encode(ctx, sizer.EncodeRequest{
		Source:         data,
		SourceWidth:    res.OriginalWidth,
		SourceHeight:   res.OriginalHeight,
		MimeType:       outMime,
		TargetSize:     target,
		InitialQuality: params.InitialQuality,
	})
	if err != nil {
		switch {
		case errors.Is(err, sizer.ErrDecode):
			return fail("decode error", err)
		case errors.Is(err, sizer.ErrEncode):
			return fail("encode error", err)
		default:
			return fail("compress error", err)
		}
	}

	res.Quality = encoded.Quality
	res.Attempts = encoded.Attempts
	res.WithinTolerance = encoded.WithinTolerance
	res.Width, res.Height = encoded.Width, encoded.Height

	unchanged := encoded.Attempts == 0
	ext := filepath.Ext(inputPath)
	if unchanged {
		res.MimeType = srcMime
	} else if outMime != srcMime {
		ext = codec.Extension(outMime)
	}

	outDir := params.TargetDir
	if outDir == "" {
		outDir = filepath.Dir(inputPath)
	}
	outName := fileutil.CompressedFileName(filepath.Base(inputPath), int64(len(encoded.Bytes)), ext)
	res.OutputPath = filepath.Join(outDir, outName)
	res.CompressedSize = int64(len(encoded.Bytes))

	var warning string
	if !params.DryRun {
		mark := params.MarkCompressed && !unchanged && outMime == codec.MIMEJPEG
		size, warn, err := c.write(res.OutputPath, inputPath, encoded.Bytes, mark)
		if err != nil {
			return fail("save error", err)
		}
		res.CompressedSize = size
		warning = warn
	}

	if unchanged {
		res.Action = ActionOriginal
		res.Message = "Target not below original size, saved original"
	} else {
		res.Action = ActionCompressed
		if encoded.WithinTolerance {
			res.Message = "Image compressed"
		} else {
			res.Message = "Image compressed to closest achievable size"
		}
		if params.DryRun {
			res.Message += " (dry run)"
		}
	}
	if warning != "" {
		res.Message += "; " + warning
	}
	if res.OriginalSize > 0 {
		res.PercentageSaved = float64(res.OriginalSize-res.CompressedSize) * 100 / float64(res.OriginalSize)
	}
	res.Success = true
	res.FinishedAt = time.Now()

	log.WithFields(logrus.Fields{
		"quality":  fmt.Sprintf("%.2f", res.Quality),
		"attempts": res.Attempts,
		"size":     res.CompressedSize,
		"target":   target,
	}).Info("Image processed")
	return res
}

// write stores data at outPath through a temporary file and returns the
// final size on disk. Marking failures are returned as a warning.
func (c *DefaultCompressor) write(outPath, inputPath string, data []byte, mark bool) (int64, string, error) {
	if err := os.MkdirAll(filepath.Dir(outPath), 0755); err != nil {
		return 0, "", fmt.Errorf("mkdir: %w", err)
	}
	tmpPath := outPath + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return 0, "", fmt.Errorf("write tmp file: %w", err)
	}

	var warning string
	if mark && c.marker != nil {
		if err := c.marker.CopyAndMark(inputPath, tmpPath); err != nil {
			warning = fmt.Sprintf("warning: exif not copied/marked: %v", err)
			c.logger.Warnf("EXIF marking failed for %s: %v", inputPath, err)
		}
	}

	info, err := os.Stat(tmpPath)
	if err != nil {
		_ = os.Remove(tmpPath)
		return 0, "", fmt.Errorf("stat tmp file: %w", err)
	}
	if err := os.Rename(tmpPath, outPath); err != nil {
		_ = os.Remove(tmpPath)
		return 0, "", fmt.Errorf("rename: %w", err)
	}
	return info.Size(), warning, nil
}

func (c *DefaultCompressor) record(r CompressionResult) {
	switch r.Action {
	case ActionSkipped:
		c.stats.IncrementFilesSkipped()
		return
	case ActionError:
		c.stats.IncrementFilesWithErrors()
		c.stats.AddError(r.InputPath, "compress", r.Message)
		return
	}
	c.stats.IncrementFilesProcessed()
	if r.Action == ActionOriginal {
		c.stats.IncrementFilesUnchanged()
		return
	}
	c.stats.RecordCompression(r.MimeType, r.OriginalSize, r.CompressedSize, r.Attempts, r.WithinTolerance)
	if max(r.Width, r.Height) < max(r.OriginalWidth, r.OriginalHeight) {
		c.stats.IncrementDownscaled()
	}
}

func cancelled(path string, err error) CompressionResult {
	now := time.Now()
	return CompressionResult{
		InputPath:  path,
		Action:     ActionError,
		Message:    fmt.Sprintf("cancelled: %v", err),
		Error:      err,
		StartedAt:  now,
		FinishedAt: now,
	}
}
