package pipeline

import (
	"fmt"
	"strings"

	"github.com/joseph-ayodele/doc-digitizer/constants"
	"github.com/joseph-ayodele/doc-digitizer/internal/manifest"
)

const (
	analysisHeading = "## Extracted Image Analysis"
	imageNotesHead  = "### Image Notes"
	imageHeadPrefix = "### Image: `"
)

// SectionEntry is one image block of the analysis section.
type SectionEntry struct {
	Filename    string
	Category    constants.Category
	Entities    []string
	Description string
}

// BuildAnalysisSection renders the appended image analysis block. It starts
// with the separator so it can be concatenated to a trimmed body.
func BuildAnalysisSection(entries []manifest.Keyed) string {
	if len(entries) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("\n\n---\n\n")
	b.WriteString(analysisHeading)
	b.WriteString("\n\n")
	for i, e := range entries {
		if i > 0 {
			b.WriteString("\n")
		}
		writeImageBlock(&b, e.Filename, e.Category, e.Entities, e.Description)
	}
	return b.String()
}

func writeImageBlock(b *strings.Builder, file string, cat constants.Category, entities []string, desc string) {
	ents := "None"
	if len(entities) > 0 {
		ents = strings.Join(entities, ", ")
	}
	fmt.Fprintf(b, "%s%s`\n\n", imageHeadPrefix, file)
	fmt.Fprintf(b, "- **Category:** %s\n", cat)
	fmt.Fprintf(b, "- **Key Entities:** %s\n\n", ents)
	for _, line := range strings.Split(strings.TrimSpace(desc), "\n") {
		b.WriteString(strings.TrimRight("> "+line, " "))
		b.WriteString("\n")
	}
}

// StripAnalysisSection removes a previously appended analysis section (and
// its leading rule) so reruns never stack a second copy.
func StripAnalysisSection(text string) string {
	idx := sectionStart(text, analysisHeading)
	if idx < 0 {
		return text
	}
	head := strings.TrimRight(text[:idx], " \t\r\n")
	head = strings.TrimRight(strings.TrimSuffix(head, "---"), " \t\r\n")
	if head == "" {
		return ""
	}
	return head + "\n"
}

// sectionStart returns the offset of a line equal to heading, or -1.
func sectionStart(text, heading string) int {
	if strings.HasPrefix(text, heading+"\n") || text == heading {
		return 0
	}
	i := strings.Index(text, "\n"+heading+"\n")
	if i < 0 {
		if strings.HasSuffix(text, "\n"+heading) {
			return len(text) - len(heading)
		}
		return -1
	}
	return i + 1
}

// ParseAnalysisSection reads the image blocks back out of an enriched document.
func ParseAnalysisSection(text string) []SectionEntry {
	idx := sectionStart(text, analysisHeading)
	if idx < 0 {
		return nil
	}
	var (
		out []SectionEntry
		cur *SectionEntry
	)
	flush := func() {
		if cur != nil {
			cur.Description = strings.TrimSpace(cur.Description)
			out = append(out, *cur)
			cur = nil
		}
	}
	for _, line := range strings.Split(text[idx:], "\n") {
		switch {
		case strings.HasPrefix(line, imageHeadPrefix):
			flush()
			name := strings.TrimSuffix(strings.TrimPrefix(line, imageHeadPrefix), "`")
			cur = &SectionEntry{Filename: name}
		case cur == nil:
		case strings.HasPrefix(line, "## "):
			// next top-level section ends the block
			flush()
		case strings.HasPrefix(line, "- **Category:** "):
			cur.Category = constants.Category(strings.TrimPrefix(line, "- **Category:** "))
		case strings.HasPrefix(line, "- **Key Entities:** "):
			if v := strings.TrimPrefix(line, "- **Key Entities:** "); v != "None" {
				for _, e := range strings.Split(v, ",") {
					cur.Entities = append(cur.Entities, strings.TrimSpace(e))
				}
			}
		case strings.HasPrefix(line, ">"):
			cur.Description += strings.TrimSpace(strings.TrimPrefix(line, ">")) + "\n"
		}
	}
	flush()
	return out
}

// normalizeSpace collapses all whitespace runs to one space.
func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// RestoreMissingAnalyses appends, verbatim, every analysis whose description
// does not appear in the synthesized text. It returns the text and the
// filenames that had to be restored.
func RestoreMissingAnalyses(synth string, entries []SectionEntry) (string, []string) {
	hay := normalizeSpace(stripQuoteMarkers(synth))
	var missing []SectionEntry
	for _, e := range entries {
		if e.Description == "" {
			continue
		}
		if !strings.Contains(hay, normalizeSpace(e.Description)) {
			missing = append(missing, e)
		}
	}
	if len(missing) == 0 {
		return synth, nil
	}
	var b strings.Builder
	b.WriteString(strings.TrimRight(synth, " \t\r\n"))
	b.WriteString("\n\n")
	b.WriteString(imageNotesHead)
	b.WriteString("\n\n")
	names := make([]string, 0, len(missing))
	for i, e := range missing {
		if i > 0 {
			b.WriteString("\n")
		}
		writeImageBlock(&b, e.Filename, e.Category, e.Entities, e.Description)
		names = append(names, e.Filename)
	}
	return b.String(), names
}

// stripQuoteMarkers drops leading "> " so a description the model kept as a
// blockquote still matches.
func stripQuoteMarkers(s string) string {
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		t := strings.TrimLeft(l, " ")
		for strings.HasPrefix(t, ">") {
			t = strings.TrimLeft(strings.TrimPrefix(t, ">"), " ")
		}
		lines[i] = t
	}
	return strings.Join(lines, "\n")
}
