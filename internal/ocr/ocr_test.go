package ocr

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

// fakeRunner answers per binary name; pdftoppm writes page images.
type fakeRunner struct {
	pages   int
	outputs map[string]string
	errs    map[string]error
	calls   []string
}

func (f *fakeRunner) Run(_ context.Context, name string, args ...string) ([]byte, []byte, error) {
	f.calls = append(f.calls, name+" "+strings.Join(args, " "))
	if err := f.errs[name]; err != nil {
		return nil, []byte("boom"), err
	}
	if name == "pdftoppm" {
		prefix := args[len(args)-1]
		for i := 1; i <= f.pages; i++ {
			p := fmt.Sprintf("%s-%d.png", prefix, i)
			if err := os.WriteFile(p, []byte("png"), 0o644); err != nil {
				return nil, nil, err
			}
		}
		return nil, nil, nil
	}
	return []byte(f.outputs[name]), nil, nil
}

// scriptedRecognizer returns canned text/confidence per config name.
type scriptedRecognizer struct {
	byConfig map[string]PageText
	err      error
	calls    int
}

func (s *scriptedRecognizer) RecognizePage(_ context.Context, _ string, psm PSMConfig) (PageText, error) {
	s.calls++
	if s.err != nil {
		return PageText{}, s.err
	}
	return s.byConfig[psm.Name], nil
}

func newTestExtractor(t *testing.T, r Runner) *Extractor {
	t.Helper()
	e := NewExtractor(Config{WorkDir: t.TempDir()}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	e.runner = r
	return e
}

func TestScore(t *testing.T) {
	if got := Score("  hello  ", 50); got != 2.5 {
		t.Fatalf("Score = %v, want 2.5", got)
	}
	if got := Score("", 99); got != 0 {
		t.Fatalf("empty score = %v", got)
	}
}

func TestParseTSV(t *testing.T) {
	tsv := strings.Join([]string{
		"level\tpage_num\tblock_num\tpar_num\tline_num\tword_num\tleft\ttop\twidth\theight\tconf\ttext",
		"1\t1\t0\t0\t0\t0\t0\t0\t100\t100\t-1\t",
		"5\t1\t1\t1\t1\t1\t0\t0\t10\t10\t90\tHello",
		"5\t1\t1\t1\t1\t2\t0\t0\t10\t10\t80\tworld",
		"5\t1\t1\t1\t2\t1\t0\t0\t10\t10\t70\tnext",
		"5\t1\t2\t1\t1\t1\t0\t0\t10\t10\t60\tblock",
	}, "\n")
	text, conf := parseTSV(tsv)
	if text != "Hello world\nnext\n\nblock" {
		t.Fatalf("text = %q", text)
	}
	if conf != 75 {
		t.Fatalf("conf = %v, want 75", conf)
	}
}

func TestFallbackPicksBestConfigPerPage(t *testing.T) {
	r := &fakeRunner{pages: 2}
	e := newTestExtractor(t, r)
	rec := &scriptedRecognizer{byConfig: map[string]PageText{
		"uniform_block": {Text: "short", MeanConf: 95},
		"single_column": {Text: "a much longer recognized paragraph", MeanConf: 80},
		"auto":          {Text: "a much longer recognized paragraph!!", MeanConf: 10},
		"sparse_text":   {Text: "", MeanConf: 0},
	}}
	e.WithRecognizer(rec)

	res, err := e.Fallback(context.Background(), "doc.pdf")
	if err != nil {
		t.Fatalf("Fallback: %v", err)
	}
	if rec.calls != 8 {
		t.Fatalf("recognizer calls = %d, want 8 (2 pages x 4 configs)", rec.calls)
	}
	if res.Method != "fallback-single_column" {
		t.Fatalf("method = %q", res.Method)
	}
	if len(res.Scores) != 2 || res.Scores[0].Config != "single_column" {
		t.Fatalf("scores = %+v", res.Scores)
	}
	want := PageBreak(1) + "\n\na much longer recognized paragraph\n\n" + PageBreak(2) + "\n\na much longer recognized paragraph"
	if res.Text != want {
		t.Fatalf("text = %q", res.Text)
	}
}

func TestFallbackMissingRasterizerDegrades(t *testing.T) {
	r := &fakeRunner{errs: map[string]error{"pdftoppm": &exec.Error{Name: "pdftoppm", Err: exec.ErrNotFound}}}
	e := newTestExtractor(t, r)
	res, err := e.Fallback(context.Background(), "doc.pdf")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if res.Text != "" || len(res.Warnings) == 0 {
		t.Fatalf("expected empty result with warning, got %+v", res)
	}
}

func TestFallbackMissingOCREngineDegrades(t *testing.T) {
	r := &fakeRunner{pages: 1}
	e := newTestExtractor(t, r)
	e.WithRecognizer(&scriptedRecognizer{err: fmt.Errorf("wrap: %w", exec.ErrNotFound)})
	res, err := e.Fallback(context.Background(), "doc.pdf")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if res.Text != "" {
		t.Fatalf("expected empty text, got %q", res.Text)
	}
}

func TestFallbackAllConfigsFail(t *testing.T) {
	r := &fakeRunner{pages: 1}
	e := newTestExtractor(t, r)
	e.WithRecognizer(&scriptedRecognizer{err: errors.New("segfault")})
	if _, err := e.Fallback(context.Background(), "doc.pdf"); err == nil {
		t.Fatal("expected error when every config fails")
	}
}

// pageFailRecognizer errors on one page and answers every other page.
type pageFailRecognizer struct {
	failPage string
}

func (r *pageFailRecognizer) RecognizePage(_ context.Context, img string, _ PSMConfig) (PageText, error) {
	base := filepath.Base(img)
	if strings.HasSuffix(base, "-"+r.failPage+".png") {
		return PageText{}, errors.New("tesseract crashed")
	}
	return PageText{Text: "text of " + base, MeanConf: 90}, nil
}

func TestFallbackSkipsFailedPage(t *testing.T) {
	r := &fakeRunner{pages: 3}
	e := newTestExtractor(t, r)
	e.WithRecognizer(&pageFailRecognizer{failPage: "2"})

	res, err := e.Fallback(context.Background(), "doc.pdf")
	if err != nil {
		t.Fatalf("Fallback: %v", err)
	}
	if len(res.Scores) != 3 || res.Scores[1].Config != "" || res.Scores[1].Page != 2 {
		t.Fatalf("scores = %+v", res.Scores)
	}
	if !strings.Contains(res.Text, "text of page-1.png") || !strings.Contains(res.Text, "text of page-3.png") {
		t.Fatalf("surviving pages lost: %q", res.Text)
	}
	if strings.Contains(res.Text, "page-2.png") {
		t.Fatalf("failed page produced text: %q", res.Text)
	}
	var warned bool
	for _, w := range res.Warnings {
		if strings.Contains(w, "page 2") {
			warned = true
		}
	}
	if !warned {
		t.Fatalf("warnings = %v, want a page 2 warning", res.Warnings)
	}
}

func TestFallbackBlankPagesYieldNoText(t *testing.T) {
	r := &fakeRunner{pages: 3}
	e := newTestExtractor(t, r)
	e.WithRecognizer(&scriptedRecognizer{byConfig: map[string]PageText{}})
	res, err := e.Fallback(context.Background(), "doc.pdf")
	if err != nil {
		t.Fatal(err)
	}
	if res.Text != "" || res.Method != "" {
		t.Fatalf("blank pages should not produce markers only: %+v", res)
	}
	if res.Pages != 3 {
		t.Fatalf("pages = %d", res.Pages)
	}
}

func TestPageIndexOrdering(t *testing.T) {
	if pageIndex(filepath.Join("x", "page-10.png")) != 10 || pageIndex("page-02.png") != 2 {
		t.Fatal("pageIndex parse")
	}
}

func TestExtractMarkdownTextMode(t *testing.T) {
	r := &fakeRunner{outputs: map[string]string{"pdftotext": "Title\n\n\n\nBody   text\fPage two"}}
	e := newTestExtractor(t, r)
	e.cfg.PrimaryMode = PrimaryModeText
	got, err := e.ExtractMarkdown(context.Background(), "doc.pdf")
	if err != nil {
		t.Fatal(err)
	}
	if got != "Title\n\nBody text\n\nPage two" {
		t.Fatalf("got %q", got)
	}
}

func TestExtractMarkdownHTMLMode(t *testing.T) {
	html := `<html><head><title>x</title><script>alert(1)</script></head><body>
<h1>Install Guide</h1><p>Run the <b>installer</b> first.</p><ul><li>one</li><li>two</li></ul></body></html>`
	r := &fakeRunner{outputs: map[string]string{"pdftohtml": html}}
	e := newTestExtractor(t, r)
	got, err := e.ExtractMarkdown(context.Background(), "doc.pdf")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(got, "# Install Guide") {
		t.Fatalf("missing heading: %q", got)
	}
	if !strings.Contains(got, "**installer**") {
		t.Fatalf("missing bold: %q", got)
	}
	if strings.Contains(got, "alert") {
		t.Fatalf("script survived sanitizing: %q", got)
	}
}

func TestExtractMarkdownPropagatesError(t *testing.T) {
	r := &fakeRunner{errs: map[string]error{"pdftohtml": errors.New("exit status 1")}}
	e := newTestExtractor(t, r)
	if _, err := e.ExtractMarkdown(context.Background(), "doc.pdf"); err == nil {
		t.Fatal("expected error")
	}
}

func TestNormalizeKeepsIndent(t *testing.T) {
	in := "a  b\r\n    code  x\n\n\n\nend  "
	if got := Normalize(in); got != "a b\n    code x\n\nend" {
		t.Fatalf("Normalize = %q", got)
	}
}
