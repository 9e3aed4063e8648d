//go:build !gosseract

package app

import (
	"log/slog"

	"github.com/joseph-ayodele/doc-digitizer/internal/common"
	"github.com/joseph-ayodele/doc-digitizer/internal/ocr"
)

// pageRecognizer keeps the tesseract CLI; the in-process engine needs
// -tags gosseract.
func pageRecognizer(cfg common.OCRConfig, logger *slog.Logger) ocr.PageRecognizer {
	if cfg.Engine == "gosseract" {
		logger.Warn("ocr engine gosseract not compiled in, using tesseract binary")
	}
	return nil
}
