//go:build gosseract

package app

import (
	"log/slog"
	"strings"

	"github.com/joseph-ayodele/doc-digitizer/internal/common"
	"github.com/joseph-ayodele/doc-digitizer/internal/ocr"
	"github.com/joseph-ayodele/doc-digitizer/internal/ocr/tesseract"
)

func pageRecognizer(cfg common.OCRConfig, logger *slog.Logger) ocr.PageRecognizer {
	if cfg.Engine != "gosseract" {
		return nil
	}
	logger.Info("ocr engine", "engine", "gosseract", "language", cfg.Language)
	return tesseract.NewEngine(strings.Split(cfg.Language, "+"), cfg.TessdataDir)
}
