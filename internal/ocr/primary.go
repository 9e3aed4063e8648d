package ocr

import (
	"context"
	"fmt"
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/microcosm-cc/bluemonday"
)

// structural tags pdftohtml emits that survive into Markdown
var htmlPolicy = func() *bluemonday.Policy {
	p := bluemonday.NewPolicy()
	p.AllowElements("p", "br", "b", "strong", "i", "em", "h1", "h2", "h3", "h4", "h5", "h6",
		"ul", "ol", "li", "pre", "code", "table", "thead", "tbody", "tr", "th", "td", "hr")
	return p
}()

var mdConverter = converter.NewConverter(
	converter.WithPlugins(
		base.NewBasePlugin(),
		commonmark.NewCommonmarkPlugin(),
		table.NewTablePlugin(),
	),
)

func (e *Extractor) pdfToMarkdown(ctx context.Context, path string) (string, error) {
	// pdftohtml -s -i -noframes -stdout -enc UTF-8 <path>
	out, errb, err := e.runner.Run(ctx, e.cfg.Pdftohtml, "-s", "-i", "-noframes", "-stdout", "-enc", "UTF-8", path)
	if err != nil {
		return "", fmt.Errorf("pdftohtml: %w: %s", err, truncate(string(errb), 512))
	}
	return htmlToMarkdown(string(out))
}

func htmlToMarkdown(html string) (string, error) {
	clean := htmlPolicy.Sanitize(html)
	md, err := mdConverter.ConvertString(clean)
	if err != nil {
		return "", fmt.Errorf("html to markdown: %w", err)
	}
	return Normalize(md), nil
}

func (e *Extractor) pdfToText(ctx context.Context, path string) (string, error) {
	// pdftotext -layout -enc UTF-8 -eol unix <path> -
	out, errb, err := e.runner.Run(ctx, e.cfg.Pdftotext, "-layout", "-enc", "UTF-8", "-eol", "unix", path, "-")
	if err != nil {
		return "", fmt.Errorf("pdftotext: %w: %s", err, truncate(string(errb), 512))
	}
	// form feeds separate pages
	text := strings.ReplaceAll(string(out), "\f", "\n\n")
	return Normalize(text), nil
}
