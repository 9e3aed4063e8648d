// Package ingest discovers source documents on disk and turns them into
// pipeline documents (hashed, sized and page-counted).
package ingest

import (
	"context"

	"github.com/joseph-ayodele/doc-digitizer/internal/pipeline"
)

// IngestionResult is the per-file discovery outcome.
type IngestionResult struct {
	SourcePath   string
	Document     pipeline.Document
	Deduplicated bool
	DuplicateOf  string
	Err          string
}

// DirStats summarizes a directory scan.
type DirStats struct {
	Scanned      uint32
	Matched      uint32
	Succeeded    uint32
	Deduplicated uint32
	Failed       uint32
}

// Ingestor is the behavior the CLI and the daemon depend on.
type Ingestor interface {
	// IngestPath a single path.
	IngestPath(ctx context.Context, path string) (IngestionResult, error)
	// IngestDirectory ingests all matching files under root.
	IngestDirectory(ctx context.Context, root string) ([]IngestionResult, DirStats, error)
}

// Documents returns the documents of every successful, non-duplicate result.
func Documents(results []IngestionResult) []pipeline.Document {
	var out []pipeline.Document
	for _, r := range results {
		if r.Err != "" || r.Deduplicated {
			continue
		}
		out = append(out, r.Document)
	}
	return out
}
