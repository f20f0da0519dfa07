package metadata

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rwcarlsen/goexif/exif"
	"github.com/sirupsen/logrus"

	"image-shrinker-go/internal/logger"
)

// Inspector reads EXIF metadata with goexif and caches results per file version.
type Inspector struct {
	logger logrus.FieldLogger
	cache  sync.Map
	stats  CacheStats
	mutex  sync.RWMutex
}

// NewInspector returns a new Inspector.
func NewInspector(logger logrus.FieldLogger) *Inspector {
	return &Inspector{logger: logger}
}

// Inspect returns metadata for a file. Files without EXIF yield an Info
// with HasEXIF false rather than an error.
func (in *Inspector) Inspect(filePath string) (*Info, error) {
	fileInfo, err := os.Stat(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}

	key := cacheKey(filePath, fileInfo)
	if value, ok := in.cache.Load(key); ok {
		in.incrementCacheHits()
		info := value.(Info)
		return &info, nil
	}
	in.incrementCacheMisses()

	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	info := in.decode(file, filePath)
	in.cache.Store(key, *info)
	return info, nil
}

// InspectBytes returns metadata for an in-memory image.
func (in *Inspector) InspectBytes(data []byte) *Info {
	return in.decode(bytes.NewReader(data), "")
}

// IsCompressed reports whether a JPEG file already carries the compression
// mark. goexif is tried first; exiftool is consulted when goexif cannot
// parse the file.
func (in *Inspector) IsCompressed(filePath string) bool {
	ext := strings.ToLower(filepath.Ext(filePath))
	if ext != ".jpg" && ext != ".jpeg" {
		return false
	}
	info, err := in.Inspect(filePath)
	if err == nil && info.HasEXIF {
		return info.Compressed()
	}
	marked, err := hasMarkExiftool(filePath)
	if err != nil {
		logger.WithFile(in.logger, filePath).Debugf("exiftool check skipped: %v", err)
		return false
	}
	return marked
}

// ClearCache removes all entries from the internal cache and resets statistics.
func (in *Inspector) ClearCache() {
	in.cache.Range(func(key, _ any) bool {
		in.cache.Delete(key)
		return true
	})
	in.mutex.Lock()
	in.stats = CacheStats{}
	in.mutex.Unlock()
}

// GetCacheStats returns cache statistics for this inspector.
func (in *Inspector) GetCacheStats() CacheStats {
	in.mutex.RLock()
	defer in.mutex.RUnlock()

	stats := in.stats
	if stats.TotalQueries > 0 {
		stats.HitRate = float64(stats.Hits) / float64(stats.TotalQueries)
	}
	return stats
}

func (in *Inspector) decode(r io.Reader, filePath string) *Info {
	info := &Info{}
	x, err := exif.Decode(r)
	if err != nil {
		if filePath != "" {
			logger.WithFile(in.logger, filePath).Debugf("No EXIF: %v", err)
		}
		return info
	}
	info.HasEXIF = true

	if field, err := x.Get(exif.Software); err == nil {
		if s, err := field.StringVal(); err == nil {
			info.Software = strings.TrimSpace(s)
		}
	}
	if field, err := x.Get(exif.Model); err == nil {
		if s, err := field.StringVal(); err == nil {
			info.CameraModel = strings.TrimSpace(s)
		}
	}
	if field, err := x.Get(exif.Orientation); err == nil {
		if o, err := field.Int(0); err == nil {
			info.Orientation = o
		}
	}
	if tm, err := x.DateTime(); err == nil {
		info.DateTaken = &tm
	}
	return info
}

func cacheKey(filePath string, fileInfo os.FileInfo) string {
	return fmt.Sprintf("%s:%d:%d", filePath, fileInfo.Size(), fileInfo.ModTime().UnixNano())
}

func containsMark(software string) bool {
	return strings.Contains(software, SoftwareMark)
}

func (in *Inspector) incrementCacheHits() {
	in.mutex.Lock()
	in.stats.Hits++
	in.stats.TotalQueries++
	in.mutex.Unlock()
}

func (in *Inspector) incrementCacheMisses() {
	in.mutex.Lock()
	in.stats.Misses++
	in.stats.TotalQueries++
	in.mutex.Unlock()
}
