package chunk

import (
	"strings"
	"testing"
)

func join(cs []Chunk) string {
	parts := make([]string, len(cs))
	for i, c := range cs {
		parts[i] = c.Text
	}
	return Join(parts)
}

func TestSplitRoundTrip(t *testing.T) {
	inputs := []string{
		"",
		"no headings at all",
		"# Title\n\nintro\n\n## One\n\nbody\n\n## Two\nmore",
		"preamble\n# A\n## B\n### C stays inside B\n",
		"```\n# not a heading\n```\n## Real\n",
		"\r\n# windows\r\nline\r\n",
		strings.Repeat("ünïcödé ", 5000),
		"## trailing heading without newline",
	}
	for _, in := range inputs {
		for _, max := range []int{1, 7, 64, 1 << 20} {
			if got := join(Split(in, max)); got != in {
				t.Fatalf("round trip failed (max=%d) for %q", max, in)
			}
		}
	}
}

func TestSplitAtTopHeadings(t *testing.T) {
	in := "# Title\nintro\n## One\nbody\n### Sub\nx\n## Two\ny\n"
	cs := Split(in, 1<<20)
	want := []string{"# Title\nintro\n", "## One\nbody\n### Sub\nx\n", "## Two\ny\n"}
	if len(cs) != len(want) {
		t.Fatalf("got %d chunks: %q", len(cs), cs)
	}
	for i := range want {
		if cs[i].Text != want[i] || cs[i].Index != i {
			t.Fatalf("chunk %d = %q (index %d), want %q", i, cs[i].Text, cs[i].Index, want[i])
		}
	}
}

func TestSplitIgnoresHeadingsInFences(t *testing.T) {
	in := "## Code\n```sh\n# comment\n## also comment\n```\nafter\n"
	cs := Split(in, 1<<20)
	if len(cs) != 1 {
		t.Fatalf("fenced heading split the chunk: %q", cs)
	}
}

func TestSplitBoundsSizeAndKeepsHeadingLines(t *testing.T) {
	para := strings.Repeat("word ", 30) + "\n\n"
	in := "## Big\n" + strings.Repeat(para, 20)
	cs := Split(in, 400)
	for _, c := range cs {
		if len(c.Text) > 400 {
			t.Fatalf("chunk of %d bytes exceeds bound", len(c.Text))
		}
	}
	if !strings.HasPrefix(cs[0].Text, "## Big\n") {
		t.Fatalf("heading line was split: %q", cs[0].Text[:20])
	}
	if join(cs) != in {
		t.Fatal("not lossless")
	}
}

func TestSplitHardCutsOnRuneBoundaries(t *testing.T) {
	in := strings.Repeat("é", 100) // 200 bytes, no newlines
	for _, c := range Split(in, 15) {
		if !strings.HasPrefix(c.Text, "é") || len(c.Text)%2 != 0 {
			t.Fatalf("split inside a rune: %q", c.Text)
		}
	}
}
