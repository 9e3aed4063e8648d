//go:build gosseract

// Package tesseract runs OCR in-process through libtesseract. It needs cgo
// and the tesseract headers, so it is only compiled with -tags gosseract.
package tesseract

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/otiai10/gosseract/v2"

	"github.com/joseph-ayodele/doc-digitizer/internal/ocr"
)

// Engine implements ocr.PageRecognizer with a fresh client per call.
type Engine struct {
	Languages     []string
	TessdataDir   string
	clientFactory func() *gosseract.Client
}

func NewEngine(languages []string, tessdataDir string) *Engine {
	return &Engine{Languages: languages, TessdataDir: tessdataDir, clientFactory: gosseract.NewClient}
}

func (e *Engine) RecognizePage(ctx context.Context, imagePath string, psm ocr.PSMConfig) (ocr.PageText, error) {
	if err := ctx.Err(); err != nil {
		return ocr.PageText{}, err
	}
	img, err := os.ReadFile(imagePath)
	if err != nil {
		return ocr.PageText{}, fmt.Errorf("read page: %w", err)
	}

	c := e.clientFactory()
	defer c.Close()

	if e.TessdataDir != "" {
		c.TessdataPrefix = e.TessdataDir
	}
	if len(e.Languages) > 0 {
		if err := c.SetLanguage(e.Languages...); err != nil {
			return ocr.PageText{}, fmt.Errorf("set languages: %w", err)
		}
	}
	if err := c.SetPageSegMode(gosseract.PageSegMode(psm.Mode)); err != nil {
		return ocr.PageText{}, fmt.Errorf("set psm %d: %w", psm.Mode, err)
	}
	if err := c.SetImageFromBytes(img); err != nil {
		return ocr.PageText{}, fmt.Errorf("set image: %w", err)
	}
	text, err := c.Text()
	if err != nil {
		return ocr.PageText{}, fmt.Errorf("recognize text: %w", err)
	}
	return ocr.PageText{Text: strings.TrimSpace(text), MeanConf: meanWordConfidence(c)}, nil
}

// meanWordConfidence averages word boxes; gosseract reports 0..100.
func meanWordConfidence(c *gosseract.Client) float64 {
	boxes, err := c.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil || len(boxes) == 0 {
		return 0
	}
	var sum float64
	for _, b := range boxes {
		sum += b.Confidence
	}
	return sum / float64(len(boxes))
}
