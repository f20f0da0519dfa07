package codec

import (
	"bytes"
	"image"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
)

const (
	MIMEJPEG = "image/jpeg"
	MIMEPNG  = "image/png"
	MIMEGIF  = "image/gif"
	MIMEBMP  = "image/bmp"
	MIMETIFF = "image/tiff"
	MIMEWebP = "image/webp"
)

var mimeFormats = map[string]imaging.Format{
	MIMEJPEG:         imaging.JPEG,
	"image/jpg":      imaging.JPEG,
	"image/pjpeg":    imaging.JPEG,
	MIMEPNG:          imaging.PNG,
	MIMEGIF:          imaging.GIF,
	MIMEBMP:          imaging.BMP,
	"image/x-ms-bmp": imaging.BMP,
	MIMETIFF:         imaging.TIFF,
}

var extensionMIME = map[string]string{
	".jpg":  MIMEJPEG,
	".jpeg": MIMEJPEG,
	".png":  MIMEPNG,
	".gif":  MIMEGIF,
	".bmp":  MIMEBMP,
	".tif":  MIMETIFF,
	".tiff": MIMETIFF,
	".webp": MIMEWebP,
}

var formatNameMIME = map[string]string{
	"jpeg": MIMEJPEG,
	"png":  MIMEPNG,
	"gif":  MIMEGIF,
	"bmp":  MIMEBMP,
	"tiff": MIMETIFF,
	"webp": MIMEWebP,
}

// FormatForMIME returns the imaging output format for a MIME type.
func FormatForMIME(mimeType string) (imaging.Format, bool) {
	f, ok := mimeFormats[normalizeMIME(mimeType)]
	return f, ok
}

// CanEncode reports whether mimeType can be produced by the codec.
func CanEncode(mimeType string) bool {
	_, ok := FormatForMIME(mimeType)
	return ok
}

// OutputMIME returns the MIME type a source of mimeType is re-encoded to.
// Encodable types keep their format; everything else becomes JPEG.
func OutputMIME(mimeType string) string {
	f, ok := FormatForMIME(mimeType)
	if !ok {
		return MIMEJPEG
	}
	switch f {
	case imaging.JPEG:
		return MIMEJPEG
	case imaging.PNG:
		return MIMEPNG
	case imaging.GIF:
		return MIMEGIF
	case imaging.BMP:
		return MIMEBMP
	case imaging.TIFF:
		return MIMETIFF
	}
	return MIMEJPEG
}

// MIMEFromPath guesses the MIME type from a file extension.
func MIMEFromPath(path string) string {
	return extensionMIME[strings.ToLower(filepath.Ext(path))]
}

// DetectMIME sniffs the MIME type from encoded bytes. It returns an empty
// string when no registered decoder recognizes the data.
func DetectMIME(data []byte) string {
	_, name, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return ""
	}
	return formatNameMIME[name]
}

// Extension returns the canonical file extension, with dot, for mimeType.
func Extension(mimeType string) string {
	switch normalizeMIME(mimeType) {
	case MIMEJPEG, "image/jpg", "image/pjpeg":
		return ".jpg"
	case MIMEPNG:
		return ".png"
	case MIMEGIF:
		return ".gif"
	case MIMEBMP, "image/x-ms-bmp":
		return ".bmp"
	case MIMETIFF:
		return ".tiff"
	case MIMEWebP:
		return ".webp"
	}
	return ""
}

func normalizeMIME(mimeType string) string {
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = mimeType[:i]
	}
	return strings.ToLower(strings.TrimSpace(mimeType))
}
