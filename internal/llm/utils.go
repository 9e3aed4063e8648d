package llm

import (
	"encoding/base64"
	"mime"
	"os"
	"path/filepath"

	"github.com/joseph-ayodele/doc-digitizer/constants"
)

// MIMETypeForPath guesses an image content type from the file extension.
func MIMETypeForPath(path string) string {
	ext := constants.NormalizeExt(filepath.Ext(path))
	if mt := mime.TypeByExtension("." + ext); mt != "" {
		return mt
	}
	switch ext {
	case "jpg", "jpeg":
		return "image/jpeg"
	case "png":
		return "image/png"
	default:
		return "application/octet-stream"
	}
}

// DataURL encodes bytes as a base64 data URL.
func DataURL(mt string, data []byte) string {
	return "data:" + mt + ";base64," + base64.StdEncoding.EncodeToString(data)
}

func ReadAsDataURL(path string) (string, string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", "", err
	}
	mt := MIMETypeForPath(path)
	return DataURL(mt, b), mt, nil
}
