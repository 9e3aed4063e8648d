package ingest

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/joseph-ayodele/doc-digitizer/constants"
	"github.com/joseph-ayodele/doc-digitizer/internal/common"
	"github.com/joseph-ayodele/doc-digitizer/internal/pipeline"
)

// FSIngestor reads from the local filesystem.
type FSIngestor struct {
	AllowedExts map[string]struct{} // lowercased sans '.'; nil -> pdf
	SkipHidden  bool
	Recursive   bool
	logger      *slog.Logger
}

func NewFSIngestor(logger *slog.Logger) *FSIngestor {
	if logger == nil {
		logger = slog.Default()
	}
	return &FSIngestor{SkipHidden: true, logger: logger}
}

func (i *FSIngestor) IngestPath(ctx context.Context, path string) (IngestionResult, error) {
	out := IngestionResult{SourcePath: path}
	if err := ctx.Err(); err != nil {
		return out, err
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return out, fmt.Errorf("abs path: %w", err)
	}
	ext := constants.NormalizeExt(filepath.Ext(abs))
	if ext == "" || !AllowedExt(ext, i.AllowedExts) {
		return out, fmt.Errorf("unsupported or missing extension: %q", ext)
	}

	doc, err := pipeline.NewDocument(abs)
	if err != nil {
		i.logger.Warn("ingest.file.failed", "path", abs, "error", err)
		return out, err
	}
	out.SourcePath = abs
	out.Document = doc
	return out, nil
}

// IngestDirectory walks root and calls IngestPath for each matching file.
// Two files with identical bytes are processed once; two files that would
// share a document name are rejected after the first, since every derived
// path is keyed by that name.
func (i *FSIngestor) IngestDirectory(ctx context.Context, root string) ([]IngestionResult, DirStats, error) {
	if strings.TrimSpace(root) == "" {
		return nil, DirStats{}, common.NewAppError("INVALID_INPUT", "source directory is required", common.ErrInvalidInput)
	}

	var (
		results []IngestionResult
		stats   DirStats
		bySHA   = map[string]string{}
		byName  = map[string]string{}
	)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		stats.Scanned++
		if walkErr != nil {
			if path == root {
				return walkErr
			}
			results = append(results, IngestionResult{SourcePath: path, Err: walkErr.Error()})
			stats.Failed++
			return nil
		}
		if d.IsDir() {
			if path != root && ((i.SkipHidden && IsHidden(path)) || !i.Recursive) {
				return filepath.SkipDir
			}
			return nil
		}
		if i.SkipHidden && IsHidden(path) {
			return nil
		}
		if !AllowedExt(filepath.Ext(path), i.AllowedExts) {
			return nil
		}
		stats.Matched++

		r, err := i.IngestPath(ctx, path)
		if err != nil {
			results = append(results, IngestionResult{SourcePath: path, Err: err.Error()})
			stats.Failed++
			return nil
		}
		if first, ok := bySHA[r.Document.SHA256]; ok {
			r.Deduplicated, r.DuplicateOf = true, first
			results = append(results, r)
			stats.Deduplicated++
			return nil
		}
		if first, ok := byName[r.Document.Name]; ok {
			r.Err = fmt.Sprintf("document name %q already used by %s", r.Document.Name, first)
			results = append(results, r)
			stats.Failed++
			return nil
		}
		bySHA[r.Document.SHA256] = r.SourcePath
		byName[r.Document.Name] = r.SourcePath
		results = append(results, r)
		stats.Succeeded++
		return nil
	})
	if err != nil {
		return results, stats, fmt.Errorf("walk: %w", err)
	}

	i.logger.Info("ingest.directory.done",
		"root", root,
		"scanned", stats.Scanned,
		"matched", stats.Matched,
		"succeeded", stats.Succeeded,
		"deduplicated", stats.Deduplicated,
		"failed", stats.Failed,
	)
	return results, stats, nil
}
