package statistics

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"image-shrinker-go/internal/fileutil"
)

// Statistics contains all statistics for a compression run.
type Statistics struct {
	TotalFilesFound     int64
	TotalFilesProcessed int64
	FilesCompressed     int64
	FilesUnchanged      int64
	FilesSkipped        int64
	FilesWithErrors     int64

	WithinTolerance int64
	BestEffort      int64
	TotalAttempts   int64
	Downscaled      int64

	BytesIn  int64
	BytesOut int64

	StartTime      time.Time
	EndTime        time.Time
	Duration       time.Duration
	FilesPerSecond float64
	AverageSaved   float64

	Errors []StatError

	FormatStats map[string]int64

	mutex sync.RWMutex
}

// StatError represents an error that occurred during processing.
type StatError struct {
	FilePath  string
	Operation string
	Error     string
	Timestamp time.Time
}

// NewStatistics returns a new Statistics instance.
func NewStatistics() *Statistics {
	return &Statistics{
		StartTime:   time.Now(),
		FormatStats: make(map[string]int64),
		Errors:      make([]StatError, 0),
	}
}

// AddFilesFound increases the count of found files.
func (s *Statistics) AddFilesFound(n int) {
	atomic.AddInt64(&s.TotalFilesFound, int64(n))
}

// IncrementFilesProcessed increases the count of processed files by 1.
func (s *Statistics) IncrementFilesProcessed() {
	atomic.AddInt64(&s.TotalFilesProcessed, 1)
}

// IncrementFilesSkipped increases the count of skipped files by 1.
func (s *Statistics) IncrementFilesSkipped() {
	atomic.AddInt64(&s.FilesSkipped, 1)
}

// IncrementFilesWithErrors increases the count of files with errors by 1.
func (s *Statistics) IncrementFilesWithErrors() {
	atomic.AddInt64(&s.FilesWithErrors, 1)
}

// IncrementFilesUnchanged counts files kept as-is because the target was not below their size.
func (s *Statistics) IncrementFilesUnchanged() {
	atomic.AddInt64(&s.FilesUnchanged, 1)
}

// IncrementDownscaled counts images resized before the search.
func (s *Statistics) IncrementDownscaled() {
	atomic.AddInt64(&s.Downscaled, 1)
}

// RecordCompression records the outcome of one successful search.
func (s *Statistics) RecordCompression(mimeType string, bytesIn, bytesOut int64, attempts int, withinTolerance bool) {
	atomic.AddInt64(&s.FilesCompressed, 1)
	atomic.AddInt64(&s.BytesIn, bytesIn)
	atomic.AddInt64(&s.BytesOut, bytesOut)
	atomic.AddInt64(&s.TotalAttempts, int64(attempts))
	if withinTolerance {
		atomic.AddInt64(&s.WithinTolerance, 1)
	} else {
		atomic.AddInt64(&s.BestEffort, 1)
	}

	s.mutex.Lock()
	s.FormatStats[mimeType]++
	s.mutex.Unlock()
}

// Finalize calculates duration, throughput and average savings.
func (s *Statistics) Finalize() {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.EndTime = time.Now()
	s.Duration = s.EndTime.Sub(s.StartTime)

	processed := atomic.LoadInt64(&s.TotalFilesProcessed)
	if s.Duration.Seconds() > 0 {
		s.FilesPerSecond = float64(processed) / s.Duration.Seconds()
	}

	in := atomic.LoadInt64(&s.BytesIn)
	out := atomic.LoadInt64(&s.BytesOut)
	if in > 0 {
		s.AverageSaved = float64(in-out) * 100 / float64(in)
	}
}

// AddError records an error that occurred during processing.
func (s *Statistics) AddError(filePath, operation, errorMsg string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.Errors = append(s.Errors, StatError{
		FilePath:  filePath,
		Operation: operation,
		Error:     errorMsg,
		Timestamp: time.Now(),
	})
}

// Snapshot returns the counters as a map suitable for JSON responses.
func (s *Statistics) Snapshot() map[string]interface{} {
	return map[string]interface{}{
		"total_found":      atomic.LoadInt64(&s.TotalFilesFound),
		"total_processed":  atomic.LoadInt64(&s.TotalFilesProcessed),
		"compressed":       atomic.LoadInt64(&s.FilesCompressed),
		"unchanged":        atomic.LoadInt64(&s.FilesUnchanged),
		"skipped":          atomic.LoadInt64(&s.FilesSkipped),
		"errors":           atomic.LoadInt64(&s.FilesWithErrors),
		"within_tolerance": atomic.LoadInt64(&s.WithinTolerance),
		"best_effort":      atomic.LoadInt64(&s.BestEffort),
		"bytes_in":         atomic.LoadInt64(&s.BytesIn),
		"bytes_out":        atomic.LoadInt64(&s.BytesOut),
	}
}

// GetSummary returns a formatted summary of all statistics.
func (s *Statistics) GetSummary() string {
	s.mutex.RLock()
	duration := s.Duration
	filesPerSecond := s.FilesPerSecond
	averageSaved := s.AverageSaved
	s.mutex.RUnlock()

	compressed := atomic.LoadInt64(&s.FilesCompressed)
	attempts := atomic.LoadInt64(&s.TotalAttempts)
	var avgAttempts float64
	if compressed > 0 {
		avgAttempts = float64(attempts) / float64(compressed)
	}

	return fmt.Sprintf(`Image Shrinker Statistics Summary:

Files:
		Total Found: %d
		Total Processed: %d
		Compressed: %d
		Unchanged: %d
		Skipped: %d
		Errors: %d

Search:
		Within Tolerance: %d
		Best Effort: %d
		Average Attempts: %.1f
		Downscaled: %d

Size:
		Bytes In: %s
		Bytes Out: %s
		Saved: %.1f%%

Performance:
		Duration: %v
		Files/Second: %.2f`,
		atomic.LoadInt64(&s.TotalFilesFound),
		atomic.LoadInt64(&s.TotalFilesProcessed),
		compressed,
		atomic.LoadInt64(&s.FilesUnchanged),
		atomic.LoadInt64(&s.FilesSkipped),
		atomic.LoadInt64(&s.FilesWithErrors),
		atomic.LoadInt64(&s.WithinTolerance),
		atomic.LoadInt64(&s.BestEffort),
		avgAttempts,
		atomic.LoadInt64(&s.Downscaled),
		fileutil.FormatFileSize(atomic.LoadInt64(&s.BytesIn)),
		fileutil.FormatFileSize(atomic.LoadInt64(&s.BytesOut)),
		averageSaved,
		duration,
		filesPerSecond)
}

// GetErrorSummary returns a summary of errors that occurred during processing.
func (s *Statistics) GetErrorSummary() string {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if len(s.Errors) == 0 {
		return "No errors occurred during processing"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Errors (%d total):\n", len(s.Errors))
	for i, err := range s.Errors {
		if i >= 10 {
			fmt.Fprintf(&b, "  ... and %d more errors\n", len(s.Errors)-10)
			break
		}
		fmt.Fprintf(&b, "  [%s] %s: %s - %s\n",
			err.Timestamp.Format("15:04:05"),
			err.Operation,
			err.FilePath,
			err.Error)
	}
	return b.String()
}
