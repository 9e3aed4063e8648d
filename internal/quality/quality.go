// Package quality scores the structure of a synthesized Markdown document.
package quality

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	extast "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"
)

const DefaultMinSections = 2

// Report is persisted as <doc>_quality_report.json.
type Report struct {
	Document            string         `json:"document"`
	Headings            map[string]int `json:"headings"`
	SectionCount        int            `json:"section_count"`
	CodeBlockCount      int            `json:"code_block_count"`
	HasTable            bool           `json:"has_table"`
	TableRowCount       int            `json:"table_row_count"`
	ListItemCount       int            `json:"list_item_count"`
	ImageReferenceCount int            `json:"image_reference_count"`
	TotalLines          int            `json:"total_lines"`
	TotalCharacters     int            `json:"total_characters"`
	Score               int            `json:"score"`
	MinSections         int            `json:"min_sections"`
	Passed              bool           `json:"passed"`
}

type Scorer struct {
	minSections int
	md          goldmark.Markdown
}

func NewScorer(minSections int) *Scorer {
	if minSections <= 0 {
		minSections = DefaultMinSections
	}
	return &Scorer{
		minSections: minSections,
		md:          goldmark.New(goldmark.WithExtensions(extension.Table)),
	}
}

// Score parses src and computes the structural metrics and composite score.
func (s *Scorer) Score(document string, src []byte) Report {
	r := Report{
		Document:        document,
		Headings:        map[string]int{},
		MinSections:     s.minSections,
		TotalCharacters: utf8.RuneCount(src),
		TotalLines:      countLines(src),
	}
	for lvl := 1; lvl <= 6; lvl++ {
		r.Headings[fmt.Sprintf("h%d", lvl)] = 0
	}

	doc := s.md.Parser().Parse(text.NewReader(src))
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch n.Kind() {
		case ast.KindHeading:
			h := n.(*ast.Heading)
			r.Headings[fmt.Sprintf("h%d", h.Level)]++
		case ast.KindFencedCodeBlock:
			r.CodeBlockCount++
		case ast.KindListItem:
			r.ListItemCount++
		case ast.KindImage:
			r.ImageReferenceCount++
		case extast.KindTable:
			r.HasTable = true
		case extast.KindTableRow:
			r.TableRowCount++
		}
		return ast.WalkContinue, nil
	})

	r.SectionCount = r.Headings["h2"]
	if r.SectionCount == 0 {
		r.SectionCount = r.Headings["h1"]
	}
	r.Score = score(r)
	r.Passed = r.SectionCount >= s.minSections
	return r
}

// score weights: sections 40, structure 20, code 15, tables 15, length 10.
func score(r Report) int {
	total := min(r.SectionCount*10, 40)
	deep := 0
	for lvl := 2; lvl <= 6; lvl++ {
		deep += r.Headings[fmt.Sprintf("h%d", lvl)]
	}
	if deep > 0 {
		total += 10
	}
	if r.ListItemCount > 0 {
		total += 10
	}
	if r.CodeBlockCount > 0 {
		total += 15
	}
	if r.HasTable {
		total += 15
	}
	if r.TotalCharacters >= 500 {
		total += 10
	}
	return total
}

func countLines(src []byte) int {
	if len(src) == 0 {
		return 0
	}
	s := string(src)
	n := strings.Count(s, "\n")
	if !strings.HasSuffix(s, "\n") {
		n++
	}
	return n
}
