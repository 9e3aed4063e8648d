package ocr

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// PSMConfig is one tesseract page segmentation strategy.
type PSMConfig struct {
	Name string
	Mode int
}

// DefaultPSMConfigs are tried on every fallback page, in this order.
var DefaultPSMConfigs = []PSMConfig{
	{Name: "uniform_block", Mode: 6},
	{Name: "single_column", Mode: 4},
	{Name: "auto", Mode: 3},
	{Name: "sparse_text", Mode: 11},
}

// PageText is one OCR pass over one page image.
type PageText struct {
	Text     string
	MeanConf float64 // 0..100
}

// PageRecognizer runs OCR on a rendered page under one segmentation mode.
type PageRecognizer interface {
	RecognizePage(ctx context.Context, imagePath string, psm PSMConfig) (PageText, error)
}

// TesseractCLI drives the tesseract binary in TSV mode so one pass yields
// both the words and their confidences.
type TesseractCLI struct {
	Runner      Runner
	Binary      string
	Language    string
	TessdataDir string
	OEM         int
}

func (t *TesseractCLI) RecognizePage(ctx context.Context, imagePath string, psm PSMConfig) (PageText, error) {
	args := []string{imagePath, "stdout", "-l", t.Language, "--psm", strconv.Itoa(psm.Mode)}
	if t.OEM > 0 {
		args = append(args, "--oem", strconv.Itoa(t.OEM))
	}
	if t.TessdataDir != "" {
		args = append(args, "--tessdata-dir", t.TessdataDir)
	}
	args = append(args, "tsv")

	out, errb, err := t.Runner.Run(ctx, t.Binary, args...)
	if err != nil {
		return PageText{}, fmt.Errorf("tesseract psm %d: %w: %s", psm.Mode, err, truncate(string(errb), 512))
	}
	text, conf := parseTSV(string(out))
	return PageText{Text: stripBoxNoise(text), MeanConf: conf}, nil
}

// parseTSV rebuilds plain text from tesseract TSV rows and averages word
// confidences, ignoring the -1 rows that mark layout containers.
//
// Columns: level page_num block_num par_num line_num word_num left top width height conf text
func parseTSV(tsv string) (string, float64) {
	var (
		b        strings.Builder
		sum      float64
		n        int
		lastLine = [3]int{-1, -1, -1}
	)
	for i, ln := range strings.Split(tsv, "\n") {
		if i == 0 || strings.TrimSpace(ln) == "" {
			continue
		}
		cols := strings.Split(ln, "\t")
		if len(cols) < 12 {
			continue
		}
		conf, err := strconv.ParseFloat(strings.TrimSpace(cols[10]), 64)
		if err != nil || conf < 0 {
			continue
		}
		word := strings.TrimSpace(cols[11])
		if word == "" {
			continue
		}
		sum += conf
		n++

		block, _ := strconv.Atoi(cols[2])
		par, _ := strconv.Atoi(cols[3])
		line, _ := strconv.Atoi(cols[4])
		key := [3]int{block, par, line}
		switch {
		case b.Len() == 0:
		case key[0] != lastLine[0] || key[1] != lastLine[1]:
			b.WriteString("\n\n")
		case key[2] != lastLine[2]:
			b.WriteByte('\n')
		default:
			b.WriteByte(' ')
		}
		b.WriteString(word)
		lastLine = key
	}
	if n == 0 {
		return b.String(), 0
	}
	return b.String(), sum / float64(n)
}
