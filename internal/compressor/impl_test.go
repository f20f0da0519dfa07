package compressor

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"image-shrinker-go/internal/codec"
	"image-shrinker-go/internal/sizer"
	"image-shrinker-go/internal/statistics"
)

type stubChecker map[string]bool

func (s stubChecker) IsCompressed(path string) bool { return s[filepath.Base(path)] }

type stubMarker struct {
	mu    sync.Mutex
	calls []string
}

func (m *stubMarker) CopyAndMark(src, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, filepath.Base(src))
	return nil
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func texture(w, h int) image.Image {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := uint32(x*7919+y*104729) ^ uint32(x*y)
			img.Set(x, y, color.NRGBA{R: uint8(v), G: uint8(v >> 8), B: uint8(x + y), A: 255})
		}
	}
	return img
}

func writeJPEG(t *testing.T, path string, img image.Image, quality int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}))
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0644))
	return buf.Bytes()
}

func writePNG(t *testing.T, path string, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0644))
	return buf.Bytes()
}

func newCompressor(opts ...Option) *DefaultCompressor {
	enc := sizer.NewEncoder(codec.New(), sizer.DefaultOptions(), quietLogger())
	return NewDefaultCompressor(enc, quietLogger(), opts...)
}

func TestCompressDirectory(t *testing.T) {
	src := t.TempDir()
	out := filepath.Join(t.TempDir(), "out")

	big := writeJPEG(t, filepath.Join(src, "a.jpg"), texture(400, 300), 95)
	small := writePNG(t, filepath.Join(src, "b.png"), image.NewGray(image.Rect(0, 0, 8, 8)))
	require.NoError(t, os.WriteFile(filepath.Join(src, "garbage.jpg"), []byte("not a jpeg"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "notes.txt"), []byte("ignored"), 0644))
	writeJPEG(t, filepath.Join(src, "skip.jpg"), texture(32, 32), 80)

	marker := &stubMarker{}
	stats := statistics.NewStatistics()
	var progressMu sync.Mutex
	var progressCalls int
	c := newCompressor(
		WithMarkChecker(stubChecker{"skip.jpg": true}),
		WithMarker(marker),
		WithStatistics(stats),
		WithProgress(func(done, total int, _ CompressionResult) {
			progressMu.Lock()
			progressCalls++
			progressMu.Unlock()
			assert.Equal(t, 4, total)
			assert.LessOrEqual(t, done, total)
		}),
	)

	results, err := c.Compress(context.Background(), CompressionParams{
		InputPaths:     []string{src},
		TargetDir:      out,
		TargetSize:     int64(len(big) / 3),
		Formats:        []string{".jpg", "png"},
		Workers:        2,
		MarkCompressed: true,
	})
	require.NoError(t, err)
	require.Len(t, results, 4)
	assert.Equal(t, 4, progressCalls)

	byName := make(map[string]CompressionResult)
	for _, r := range results {
		byName[filepath.Base(r.InputPath)] = r
	}

	a := byName["a.jpg"]
	assert.Equal(t, ActionCompressed, a.Action)
	assert.True(t, a.Success)
	assert.Regexp(t, regexp.MustCompile(`^a_\d+kb\.jpg$`), filepath.Base(a.OutputPath))
	assert.Less(t, a.CompressedSize, a.OriginalSize)
	assert.Greater(t, a.PercentageSaved, 0.0)
	assert.Equal(t, 400, a.OriginalWidth)
	info, err := os.Stat(a.OutputPath)
	require.NoError(t, err)
	assert.Equal(t, a.CompressedSize, info.Size())
	assert.Equal(t, []string{"a.jpg"}, marker.calls)

	b := byName["b.png"]
	assert.Equal(t, ActionOriginal, b.Action)
	saved, err := os.ReadFile(b.OutputPath)
	require.NoError(t, err)
	assert.Equal(t, small, saved)

	g := byName["garbage.jpg"]
	assert.Equal(t, ActionError, g.Action)
	assert.ErrorIs(t, g.Error, sizer.ErrDecode)

	assert.Equal(t, ActionSkipped, byName["skip.jpg"].Action)

	assert.Equal(t, int64(4), stats.TotalFilesFound)
	assert.Equal(t, int64(1), stats.FilesCompressed)
	assert.Equal(t, int64(1), stats.FilesUnchanged)
	assert.Equal(t, int64(1), stats.FilesSkipped)
	assert.Equal(t, int64(1), stats.FilesWithErrors)
	assert.Len(t, stats.Errors, 1)

	_, err = os.Stat(a.OutputPath + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestCompressDryRunWritesNothing(t *testing.T) {
	src := t.TempDir()
	out := filepath.Join(t.TempDir(), "out")
	data := writeJPEG(t, filepath.Join(src, "photo.jpeg"), texture(200, 200), 95)

	results, err := newCompressor().Compress(context.Background(), CompressionParams{
		InputPaths: []string{filepath.Join(src, "photo.jpeg")},
		TargetDir:  out,
		TargetSize: int64(len(data) / 2),
		DryRun:     true,
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, ActionCompressed, results[0].Action)
	assert.Contains(t, results[0].Message, "dry run")

	_, err = os.Stat(out)
	assert.True(t, os.IsNotExist(err))
}

func TestCompressDefaultTargetIsHalf(t *testing.T) {
	src := t.TempDir()
	data := writeJPEG(t, filepath.Join(src, "photo.jpg"), texture(500, 400), 98)

	results, err := newCompressor().Compress(context.Background(), CompressionParams{
		InputPaths: []string{src},
		Formats:    []string{".jpg"},
		DryRun:     true,
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, max(int64(len(data)/2), 20*1024), results[0].TargetSize)
}

func TestCompressRejectsNegativeTarget(t *testing.T) {
	_, err := newCompressor().Compress(context.Background(), CompressionParams{
		InputPaths: []string{t.TempDir()},
		TargetSize: -1,
	})
	assert.ErrorIs(t, err, sizer.ErrInvalidTarget)
}

func TestCompressMissingInput(t *testing.T) {
	_, err := newCompressor().Compress(context.Background(), CompressionParams{
		InputPaths: []string{filepath.Join(t.TempDir(), "nope")},
	})
	assert.Error(t, err)
}

func TestCompressCancelled(t *testing.T) {
	src := t.TempDir()
	writeJPEG(t, filepath.Join(src, "one.jpg"), texture(64, 64), 90)
	writeJPEG(t, filepath.Join(src, "two.jpg"), texture(64, 64), 90)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results, err := newCompressor().Compress(ctx, CompressionParams{
		InputPaths: []string{src},
		Formats:    []string{".jpg"},
		TargetSize: 100,
		DryRun:     true,
	})
	assert.ErrorIs(t, err, context.Canceled)
	require.Len(t, results, 2)
	for _, r := range results {
		assert.Equal(t, ActionError, r.Action)
	}
}
