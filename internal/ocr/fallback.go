package ocr

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// Score ranks one OCR pass: trimmed length weighted by mean confidence.
func Score(text string, meanConf float64) float64 {
	return float64(utf8.RuneCountInString(strings.TrimSpace(text))) * (meanConf / 100.0)
}

// PageBreak is the marker placed before each page of fallback output.
func PageBreak(page int) string {
	return fmt.Sprintf("--- Page %d (Fallback OCR) ---", page)
}

// Fallback rasterizes every page and keeps, per page, the best-scoring
// segmentation mode. A missing rasterizer or OCR binary yields an empty result
// with a warning instead of an error. A page whose modes all fail keeps an
// empty slot; the call fails only when no page could be read.
func (e *Extractor) Fallback(ctx context.Context, path string) (FallbackResult, error) {
	start := time.Now()
	res := FallbackResult{}

	tmpDir, err := os.MkdirTemp(e.cfg.WorkDir, "dd-pages-*")
	if err != nil {
		return res, fmt.Errorf("temp dir: %w", err)
	}
	defer func(dir string) {
		if err := os.RemoveAll(dir); err != nil {
			e.logger.Warn("ocr.fallback.cleanup_failed", "dir", dir, "error", err)
		}
	}(tmpDir)

	pages, err := e.rasterize(ctx, path, tmpDir)
	if err != nil {
		if missingBinary(err) {
			res.Warnings = append(res.Warnings, "rasterizer unavailable: "+e.cfg.Pdftoppm)
			e.logger.Warn("ocr.fallback.unavailable", "path", path, "binary", e.cfg.Pdftoppm)
			return res, nil
		}
		return res, err
	}
	res.Pages = len(pages)

	wins := map[string]int{}
	var (
		b       strings.Builder
		total   int
		failed  int
		pageErr error
	)
	for i, img := range pages {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		best, score, warns, err := e.bestForPage(ctx, img, i+1)
		res.Warnings = append(res.Warnings, warns...)
		if err != nil {
			if missingBinary(err) {
				res.Warnings = append(res.Warnings, "ocr engine unavailable")
				e.logger.Warn("ocr.fallback.unavailable", "path", path, "binary", e.cfg.Tesseract)
				return FallbackResult{Pages: res.Pages, Warnings: res.Warnings, Duration: time.Since(start)}, nil
			}
			if ctx.Err() != nil {
				return res, err
			}
			failed++
			pageErr = err
			res.Warnings = append(res.Warnings, err.Error())
			e.logger.Warn("ocr.fallback.page_failed", "path", path, "page", i+1, "error", err)
			best, score = "", PageScore{Page: i + 1}
		}
		res.Scores = append(res.Scores, score)
		if score.Config != "" {
			wins[score.Config]++
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(PageBreak(i + 1))
		b.WriteString("\n\n")
		b.WriteString(strings.TrimSpace(best))
		total += score.Chars
	}
	if failed == len(pages) {
		return res, pageErr
	}
	if total > 0 {
		res.Text = b.String()
		res.Method = "fallback-" + e.dominantConfig(wins)
	}
	res.Duration = time.Since(start)
	e.logger.Info("ocr.fallback.done",
		"path", path,
		"pages", res.Pages,
		"chars", total,
		"method", res.Method,
		"elapsed_ms", res.Duration.Milliseconds(),
	)
	return res, nil
}

// bestForPage runs every configured mode on one page. Single-mode failures are
// warnings; the page fails only when every mode failed.
func (e *Extractor) bestForPage(ctx context.Context, img string, page int) (string, PageScore, []string, error) {
	var (
		bestText string
		best     = PageScore{Page: page, Score: -1}
		warns    []string
		lastErr  error
		ok       int
	)
	for _, psm := range e.cfg.PSMConfigs {
		pt, err := e.recognizer.RecognizePage(ctx, img, psm)
		if err != nil {
			if missingBinary(err) {
				return "", best, warns, err
			}
			lastErr = err
			warns = append(warns, fmt.Sprintf("page %d %s: %v", page, psm.Name, err))
			continue
		}
		ok++
		s := Score(pt.Text, pt.MeanConf)
		e.logger.Debug("ocr.fallback.page_config",
			"page", page, "config", psm.Name, "score", s, "mean_conf", pt.MeanConf)
		if s > best.Score {
			bestText = pt.Text
			best = PageScore{
				Page:     page,
				Config:   psm.Name,
				Chars:    utf8.RuneCountInString(strings.TrimSpace(pt.Text)),
				MeanConf: pt.MeanConf,
				Score:    s,
			}
		}
	}
	if ok == 0 && lastErr != nil {
		return "", PageScore{Page: page}, warns, fmt.Errorf("page %d: all ocr configs failed: %w", page, lastErr)
	}
	if best.Chars == 0 {
		// nothing readable; keep the page slot but no winner
		return "", PageScore{Page: page}, warns, nil
	}
	return bestText, best, warns, nil
}

func (e *Extractor) dominantConfig(wins map[string]int) string {
	name, most := "", 0
	for _, psm := range e.cfg.PSMConfigs {
		if wins[psm.Name] > most {
			name, most = psm.Name, wins[psm.Name]
		}
	}
	return name
}

// rasterize renders the PDF to PNG pages with pdftoppm and returns them in page order.
func (e *Extractor) rasterize(ctx context.Context, path, dir string) ([]string, error) {
	prefix := filepath.Join(dir, "page")
	// pdftoppm -r 300 -png [-l N] <in.pdf> <tmp/page>
	args := []string{"-r", strconv.Itoa(e.cfg.DPI), "-png"}
	if e.cfg.MaxPages > 0 {
		args = append(args, "-l", strconv.Itoa(e.cfg.MaxPages))
	}
	args = append(args, path, prefix)
	_, errb, err := e.runner.Run(ctx, e.cfg.Pdftoppm, args...)
	if err != nil {
		if missingBinary(err) {
			return nil, err
		}
		return nil, fmt.Errorf("pdftoppm: %w: %s", err, truncate(string(errb), 512))
	}

	// collect generated pngs (page-1.png or page-01.png, ...)
	matches, _ := filepath.Glob(prefix + "-*.png")
	sort.Slice(matches, func(i, j int) bool {
		return pageIndex(matches[i]) < pageIndex(matches[j])
	})
	if len(matches) == 0 {
		return nil, fmt.Errorf("pdftoppm produced no images")
	}
	return matches, nil
}

// pageIndex parses the numeric suffix pdftoppm appends; zero padding varies
// with page count so lexical order is not enough.
func pageIndex(p string) int {
	base := strings.TrimSuffix(filepath.Base(p), ".png")
	i := strings.LastIndex(base, "-")
	n, err := strconv.Atoi(base[i+1:])
	if err != nil {
		return 0
	}
	return n
}
