package metadata

import (
	"bytes"
	"encoding/binary"
	"image"
	"image/jpeg"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func plainJPEG(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, image.NewGray(image.Rect(0, 0, 16, 16)), nil))
	return buf.Bytes()
}

// withSoftwareTag inserts an APP1 EXIF segment holding only IFD0/Software.
func withSoftwareTag(t *testing.T, jpg []byte, software string) []byte {
	t.Helper()
	value := append([]byte(software), 0)

	var tiff bytes.Buffer
	tiff.WriteString("II*\x00")
	_ = binary.Write(&tiff, binary.LittleEndian, uint32(8))  // IFD0 offset
	_ = binary.Write(&tiff, binary.LittleEndian, uint16(1))  // entry count
	_ = binary.Write(&tiff, binary.LittleEndian, uint16(0x0131))
	_ = binary.Write(&tiff, binary.LittleEndian, uint16(2)) // ASCII
	_ = binary.Write(&tiff, binary.LittleEndian, uint32(len(value)))
	_ = binary.Write(&tiff, binary.LittleEndian, uint32(26)) // value offset
	_ = binary.Write(&tiff, binary.LittleEndian, uint32(0))  // next IFD
	tiff.Write(value)

	payload := append([]byte("Exif\x00\x00"), tiff.Bytes()...)
	var out bytes.Buffer
	out.Write(jpg[:2]) // SOI
	out.Write([]byte{0xFF, 0xE1})
	_ = binary.Write(&out, binary.BigEndian, uint16(len(payload)+2))
	out.Write(payload)
	out.Write(jpg[2:])
	return out.Bytes()
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(&bytes.Buffer{})
	return l
}

func TestInspectPlainJPEG(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plain.jpg")
	require.NoError(t, os.WriteFile(path, plainJPEG(t), 0644))

	in := NewInspector(quietLogger())
	info, err := in.Inspect(path)
	require.NoError(t, err)
	assert.False(t, info.HasEXIF)
	assert.False(t, info.Compressed())
	assert.False(t, in.IsCompressed(path))
}

func TestInspectReadsSoftwareMark(t *testing.T) {
	path := filepath.Join(t.TempDir(), "marked.jpg")
	require.NoError(t, os.WriteFile(path, withSoftwareTag(t, plainJPEG(t), SoftwareValue), 0644))

	in := NewInspector(quietLogger())
	info, err := in.Inspect(path)
	require.NoError(t, err)
	assert.True(t, info.HasEXIF)
	assert.Equal(t, SoftwareValue, info.Software)
	assert.True(t, in.IsCompressed(path))
}

func TestInspectBytesForeignSoftware(t *testing.T) {
	in := NewInspector(quietLogger())
	info := in.InspectBytes(withSoftwareTag(t, plainJPEG(t), "GIMP 2.10"))
	assert.True(t, info.HasEXIF)
	assert.Equal(t, "GIMP 2.10", info.Software)
	assert.False(t, info.Compressed())
}

func TestIsCompressedIgnoresNonJPEG(t *testing.T) {
	path := filepath.Join(t.TempDir(), "image.png")
	require.NoError(t, os.WriteFile(path, []byte("png-ish"), 0644))
	assert.False(t, NewInspector(quietLogger()).IsCompressed(path))
}

func TestInspectCache(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plain.jpg")
	require.NoError(t, os.WriteFile(path, plainJPEG(t), 0644))

	in := NewInspector(quietLogger())
	_, err := in.Inspect(path)
	require.NoError(t, err)
	_, err = in.Inspect(path)
	require.NoError(t, err)

	stats := in.GetCacheStats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.InDelta(t, 0.5, stats.HitRate, 1e-9)

	in.ClearCache()
	assert.Zero(t, in.GetCacheStats().TotalQueries)
}

func TestInspectMissingFile(t *testing.T) {
	_, err := NewInspector(quietLogger()).Inspect(filepath.Join(t.TempDir(), "missing.jpg"))
	assert.Error(t, err)
}
