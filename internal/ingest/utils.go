package ingest

import (
	"path/filepath"
	"strings"

	"github.com/joseph-ayodele/doc-digitizer/constants"
)

// AllowedExt checks ext against allow, or the PDF set when allow is nil.
func AllowedExt(ext string, allow map[string]struct{}) bool {
	if allow == nil {
		allow = constants.PDFExtensions
	}
	_, ok := allow[constants.NormalizeExt(ext)]
	return ok
}

// IsHidden checks if a file or directory is hidden (starts with '.').
func IsHidden(path string) bool {
	base := filepath.Base(path)
	return base != "." && base != ".." && strings.HasPrefix(base, ".")
}
