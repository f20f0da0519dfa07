package fileutil

import (
	"fmt"
	"math"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

const (
	// KB is the unit used for user-facing target sizes.
	KB = 1024
	MB = 1024 * KB

	// MinDefaultTargetKB is the smallest suggested target.
	MinDefaultTargetKB = 20
	// MaxTargetBytes caps targets accepted from uploads.
	MaxTargetBytes = 10 * MB
)

var (
	invalidNameChars = regexp.MustCompile(`[/\\?%*:|"<>]`)
	whitespaceRun    = regexp.MustCompile(`\s+`)
	dashRun          = regexp.MustCompile(`-+`)
	sizePattern      = regexp.MustCompile(`^([0-9]*\.?[0-9]+)\s*([a-zA-Z]*)$`)
)

// FormatFileSize renders a byte count for display.
func FormatFileSize(bytes int64) string {
	switch {
	case bytes < KB:
		return fmt.Sprintf("%d bytes", bytes)
	case bytes < MB:
		return fmt.Sprintf("%.1f KB", float64(bytes)/KB)
	default:
		return fmt.Sprintf("%.0f KB", float64(bytes)/KB)
	}
}

// CompressedFileName appends the achieved size to a file name:
// "holiday.jpg" at 512000 bytes becomes "holiday_500kb.jpg".
// A non-empty ext replaces the original extension.
func CompressedFileName(originalName string, sizeBytes int64, ext string) string {
	base := filepath.Base(originalName)
	origExt := filepath.Ext(base)
	stem := strings.TrimSuffix(base, origExt)
	if ext == "" {
		ext = origExt
	}
	kb := int64(math.Round(float64(sizeBytes) / KB))
	return fmt.Sprintf("%s_%dkb%s", stem, kb, ext)
}

// SanitizeFileName replaces characters that are invalid in file names.
func SanitizeFileName(name string) string {
	name = invalidNameChars.ReplaceAllString(name, "-")
	name = whitespaceRun.ReplaceAllString(name, "-")
	name = dashRun.ReplaceAllString(name, "-")
	return strings.TrimSpace(name)
}

// ParseSize converts "500KB", "1.5mb", "2048b" or a bare number of
// kilobytes into bytes.
func ParseSize(s string) (int64, error) {
	m := sizePattern.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return 0, fmt.Errorf("invalid size %q", s)
	}
	value, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", s, err)
	}

	var unit float64
	switch strings.ToLower(m[2]) {
	case "", "k", "kb", "kib":
		unit = KB
	case "b":
		unit = 1
	case "m", "mb", "mib":
		unit = MB
	default:
		return 0, fmt.Errorf("invalid size unit %q", m[2])
	}

	bytes := int64(math.Round(value * unit))
	if bytes <= 0 {
		return 0, fmt.Errorf("size must be positive: %q", s)
	}
	return bytes, nil
}

// DefaultTarget suggests a target of half the original, at least 20 KB.
func DefaultTarget(originalSize int64) int64 {
	half := originalSize / 2
	return max(half, MinDefaultTargetKB*KB)
}
