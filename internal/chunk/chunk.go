// Package chunk splits Markdown into heading-bounded pieces small enough for
// one cleanup call. Splitting is lossless: joining the chunks in order gives
// back the input byte for byte.
package chunk

import (
	"strings"
	"unicode/utf8"
)

const DefaultMaxBytes = 12000

// Chunk is one contiguous slice of the input.
type Chunk struct {
	Index int
	Text  string
}

// Split cuts text before every top-level (# or ##) heading outside fenced
// code, then breaks oversized sections at blank lines, line ends and finally
// rune boundaries so no chunk exceeds maxBytes.
func Split(text string, maxBytes int) []Chunk {
	if text == "" {
		return nil
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	var out []Chunk
	for _, sec := range sections(text) {
		for _, piece := range bound(sec, maxBytes) {
			out = append(out, Chunk{Index: len(out), Text: piece})
		}
	}
	return out
}

// Join reassembles chunk texts in index order.
func Join(chunks []string) string {
	return strings.Join(chunks, "")
}

func sections(text string) []string {
	var (
		out   []string
		start int
		fence string
	)
	for pos := 0; pos < len(text); {
		end := strings.IndexByte(text[pos:], '\n')
		next := len(text)
		if end >= 0 {
			next = pos + end + 1
		}
		line := text[pos:next]
		trimmed := strings.TrimLeft(line, " ")

		switch {
		case fence != "":
			if strings.HasPrefix(trimmed, fence) {
				fence = ""
			}
		case strings.HasPrefix(trimmed, "```"):
			fence = "```"
		case strings.HasPrefix(trimmed, "~~~"):
			fence = "~~~"
		case isTopHeading(line) && pos > start:
			out = append(out, text[start:pos])
			start = pos
		}
		pos = next
	}
	return append(out, text[start:])
}

func isTopHeading(line string) bool {
	return strings.HasPrefix(line, "# ") || strings.HasPrefix(line, "## ")
}

// bound splits s into pieces of at most max bytes.
func bound(s string, max int) []string {
	if len(s) <= max {
		return []string{s}
	}
	var out []string
	for len(s) > max {
		cut := lastBoundary(s[:max], "\n\n")
		if cut <= 0 {
			cut = lastBoundary(s[:max], "\n")
		}
		if cut <= 0 {
			cut = runeCut(s, max)
		}
		out = append(out, s[:cut])
		s = s[cut:]
	}
	if s != "" {
		out = append(out, s)
	}
	return out
}

// lastBoundary returns the offset just after the last sep in s, or -1.
func lastBoundary(s, sep string) int {
	i := strings.LastIndex(s, sep)
	if i < 0 {
		return -1
	}
	return i + len(sep)
}

func runeCut(s string, max int) int {
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	if cut == 0 {
		// a single rune wider than max; take it whole
		_, size := utf8.DecodeRuneInString(s)
		return size
	}
	return cut
}
