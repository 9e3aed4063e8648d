package ingest

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func write(t *testing.T, path, body string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

func newTestIngestor() *FSIngestor {
	return NewFSIngestor(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestIngestDirectory(t *testing.T) {
	root := t.TempDir()
	write(t, filepath.Join(root, "a.pdf"), "%PDF a")
	write(t, filepath.Join(root, "B.PDF"), "%PDF b")
	write(t, filepath.Join(root, "copy.pdf"), "%PDF a")
	write(t, filepath.Join(root, "notes.txt"), "text")
	write(t, filepath.Join(root, ".hidden.pdf"), "%PDF h")
	write(t, filepath.Join(root, "sub", "c.pdf"), "%PDF c")

	results, stats, err := newTestIngestor().IngestDirectory(context.Background(), root)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Matched != 3 || stats.Succeeded != 2 || stats.Deduplicated != 1 || stats.Failed != 0 {
		t.Fatalf("stats=%+v", stats)
	}
	docs := Documents(results)
	if len(docs) != 2 || docs[0].Name != "B" || docs[1].Name != "a" {
		t.Fatalf("docs=%+v", docs)
	}
	if docs[1].SHA256 == "" || docs[1].SizeBytes != 6 {
		t.Fatalf("doc not hashed: %+v", docs[1])
	}
}

func TestIngestDirectory_Recursive(t *testing.T) {
	root := t.TempDir()
	write(t, filepath.Join(root, "a.pdf"), "%PDF a")
	write(t, filepath.Join(root, "sub", "c.pdf"), "%PDF c")
	write(t, filepath.Join(root, "other", "a.pdf"), "%PDF other a")
	write(t, filepath.Join(root, ".git", "d.pdf"), "%PDF d")

	ing := newTestIngestor()
	ing.Recursive = true
	results, stats, err := ing.IngestDirectory(context.Background(), root)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Matched != 3 || stats.Succeeded != 2 || stats.Failed != 1 {
		t.Fatalf("stats=%+v results=%+v", stats, results)
	}
}

func TestIngestDirectory_Errors(t *testing.T) {
	ing := newTestIngestor()
	if _, _, err := ing.IngestDirectory(context.Background(), " "); err == nil {
		t.Fatal("empty root accepted")
	}
	if _, _, err := ing.IngestDirectory(context.Background(), filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Fatal("missing root accepted")
	}
}

func TestIngestPath_RejectsExtension(t *testing.T) {
	p := filepath.Join(t.TempDir(), "x.docx")
	write(t, p, "x")
	if _, err := newTestIngestor().IngestPath(context.Background(), p); err == nil {
		t.Fatal("docx accepted")
	}
}
