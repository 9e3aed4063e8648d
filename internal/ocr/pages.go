package ocr

import (
	"fmt"

	rpdf "rsc.io/pdf"
)

// PageCount reads the page tree without rendering anything.
func PageCount(path string) (n int, err error) {
	// rsc.io/pdf panics on some malformed cross-reference tables
	defer func() {
		if r := recover(); r != nil {
			n, err = 0, fmt.Errorf("read pdf %s: %v", path, r)
		}
	}()
	doc, err := rpdf.Open(path)
	if err != nil {
		return 0, fmt.Errorf("read pdf %s: %w", path, err)
	}
	return doc.NumPage(), nil
}
