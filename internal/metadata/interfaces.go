package metadata

import "time"

const (
	// SoftwareMark is looked for in the EXIF Software tag of processed files.
	SoftwareMark = "ImageShrinker"
	// SoftwareValue is written into the EXIF Software tag of compressed JPEGs.
	SoftwareValue = "ImageShrinker Compressed"
)

// Info holds the EXIF fields the tool cares about.
type Info struct {
	HasEXIF     bool
	Software    string
	CameraModel string
	Orientation int
	DateTaken   *time.Time
}

// Compressed reports whether the Software tag carries the compression mark.
func (i *Info) Compressed() bool {
	return i != nil && containsMark(i.Software)
}

// CacheStats contains statistics about cache performance.
type CacheStats struct {
	Hits         int64
	Misses       int64
	HitRate      float64
	TotalQueries int64
}

// Marker copies metadata onto a freshly encoded file and stamps it.
type Marker interface {
	CopyAndMark(src, dst string) error
}
