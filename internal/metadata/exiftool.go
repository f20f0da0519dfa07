package metadata

import (
	"fmt"
	"os/exec"
	"strings"

	"github.com/barasher/go-exiftool"
)

// ExiftoolMarker copies tags with the exiftool binary.
type ExiftoolMarker struct {
	path string
}

// NewExiftoolMarker returns a marker, or an error when exiftool is not installed.
func NewExiftoolMarker() (*ExiftoolMarker, error) {
	path, err := exec.LookPath("exiftool")
	if err != nil {
		return nil, fmt.Errorf("exiftool not found in PATH: %w", err)
	}
	return &ExiftoolMarker{path: path}, nil
}

// CopyAndMark copies EXIF from src to dst and sets the Software tag.
func (m *ExiftoolMarker) CopyAndMark(src, dst string) error {
	cmdCopy := exec.Command(m.path, "-TagsFromFile", src, "-overwrite_original", dst)
	if out, err := cmdCopy.CombinedOutput(); err != nil {
		return fmt.Errorf("exiftool copy failed: %w: %s", err, strings.TrimSpace(string(out)))
	}
	cmdSet := exec.Command(m.path, "-overwrite_original", "-Software="+SoftwareValue, dst)
	if out, err := cmdSet.CombinedOutput(); err != nil {
		return fmt.Errorf("exiftool set Software failed: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

// hasMarkExiftool checks the Software tag through a go-exiftool session.
func hasMarkExiftool(path string) (bool, error) {
	et, err := exiftool.NewExiftool()
	if err != nil {
		return false, err
	}
	defer et.Close()

	files := et.ExtractMetadata(path)
	if len(files) == 0 {
		return false, fmt.Errorf("exiftool returned no metadata for %s", path)
	}
	if files[0].Err != nil {
		return false, files[0].Err
	}
	sw, err := files[0].GetString("Software")
	if err != nil {
		return false, nil
	}
	return containsMark(sw), nil
}
