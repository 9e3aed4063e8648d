// Package server exposes the pipeline to other processes: a gRPC service
// with structpb payloads and an HTTP upload API, both feeding one worker
// pool.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/doc-digitizer/constants"
	"github.com/joseph-ayodele/doc-digitizer/internal/async"
	"github.com/joseph-ayodele/doc-digitizer/internal/common"
	"github.com/joseph-ayodele/doc-digitizer/internal/hashing"
	"github.com/joseph-ayodele/doc-digitizer/internal/ingest"
	"github.com/joseph-ayodele/doc-digitizer/internal/pipeline"
)

var ErrUnsupportedType = errors.New("unsupported file type; accepted: .pdf, .md, .markdown, .txt")

// DocumentProcessor runs one document end to end; *pipeline.Processor
// implements it.
type DocumentProcessor interface {
	ProcessDocument(ctx context.Context, doc pipeline.Document) pipeline.DocumentResult
	ProcessText(ctx context.Context, doc pipeline.Document, text string) pipeline.DocumentResult
}

type ServiceConfig struct {
	UploadDir  string
	Workers    int
	QueueSize  int
	DocTimeout time.Duration
}

// PipelineService owns the task registry and the worker pool behind both
// transports.
type PipelineService struct {
	proc      DocumentProcessor
	ingestor  ingest.Ingestor
	ledger    pipeline.Ledger
	tasks     *TaskRegistry
	queue     *async.ProcessorQueue
	uploadDir string
	logger    *slog.Logger
}

// NewPipelineService starts the worker pool. ledger may be nil.
func NewPipelineService(proc DocumentProcessor, ing ingest.Ingestor, ledger pipeline.Ledger, cfg ServiceConfig, logger *slog.Logger) *PipelineService {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.UploadDir == "" {
		cfg.UploadDir = os.TempDir()
	}
	s := &PipelineService{
		proc:      proc,
		ingestor:  ing,
		ledger:    ledger,
		tasks:     NewTaskRegistry(),
		uploadDir: cfg.UploadDir,
		logger:    logger,
	}
	s.queue = async.NewProcessorQueue(async.HandlerFunc(s.handle), logger,
		async.WithWorkers(cfg.Workers),
		async.WithQueueSize(cfg.QueueSize),
		async.WithProcessTimeout(cfg.DocTimeout),
	)
	return s
}

func (s *PipelineService) Tasks() *TaskRegistry { return s.tasks }

// KindFor routes PDFs to the full pipeline and text files to synthesis.
func KindFor(path string) (async.JobKind, bool) {
	switch {
	case constants.IsPDF(path):
		return async.KindPDF, true
	case constants.IsText(path):
		return async.KindText, true
	default:
		return "", false
	}
}

// Submit queues path. temp marks an uploaded file whose directory is removed
// once the task ends.
func (s *PipelineService) Submit(ctx context.Context, path string, temp bool) (Task, error) {
	kind, ok := KindFor(path)
	if !ok {
		return Task{}, ErrUnsupportedType
	}
	t := s.tasks.Create(path, filepath.Base(path), kind, temp)
	job := async.Job{
		ID:          uuid.MustParse(t.ID),
		Path:        path,
		Kind:        kind,
		SubmittedAt: t.CreatedAt,
		TraceID:     common.RequestIDFromContext(ctx),
	}
	if err := s.queue.Enqueue(ctx, job); err != nil {
		s.tasks.Update(t.ID, func(t *Task) {
			t.Status = TaskFailed
			t.Error = err.Error()
		})
		s.cleanup(t)
		return t, fmt.Errorf("enqueue: %w", err)
	}
	s.logger.Info("server.task.queued", "task_id", t.ID, "filename", t.Filename, "kind", kind)
	return t, nil
}

func (s *PipelineService) handle(ctx context.Context, job async.Job) error {
	id := job.ID.String()
	t, ok := s.tasks.Update(id, func(t *Task) { t.Status = TaskProcessing })
	if !ok {
		return fmt.Errorf("unknown task %s", id)
	}

	// every task is its own run in the ledger
	ctx = common.WithRunID(ctx, id)
	started := time.Now().UTC()
	if s.ledger != nil {
		if err := s.ledger.StartRun(ctx, id, started); err != nil {
			s.logger.Warn("server.task.ledger_start_failed", "task_id", id, "error", err)
		}
	}

	res, err := s.process(ctx, job)
	s.cleanup(t)
	if err != nil {
		s.fail(id, err)
		return err
	}

	if s.ledger != nil {
		sum := pipeline.Tally(pipeline.BatchSummary{RunID: id, StartedAt: started, Documents: 1}, []pipeline.DocumentResult{res})
		sum.FinishedAt = time.Now().UTC()
		if err := s.ledger.FinishRun(context.WithoutCancel(ctx), id, sum); err != nil {
			s.logger.Warn("server.task.ledger_finish_failed", "task_id", id, "error", err)
		}
	}

	s.tasks.Update(id, func(t *Task) {
		t.State = res.State
		t.Status = TaskCompleted
		if res.State != constants.StateScored {
			t.Status = TaskFailed
		}
		if res.Err != nil {
			t.Error = res.Err.Error()
		}
		if sy := res.Synthesis; sy != nil {
			t.Score, t.Passed = sy.Score, sy.Passed
		}
	})
	s.logger.Info("server.task.done", "task_id", id, "state", res.State)
	return res.Err
}

func (s *PipelineService) process(ctx context.Context, job async.Job) (pipeline.DocumentResult, error) {
	switch job.Kind {
	case async.KindText:
		data, err := os.ReadFile(job.Path)
		if err != nil {
			return pipeline.DocumentResult{}, fmt.Errorf("read upload: %w", err)
		}
		doc := pipeline.Document{
			Name:      constants.BaseName(job.Path),
			Path:      job.Path,
			SHA256:    hashing.BytesSHA256(data),
			SizeBytes: int64(len(data)),
		}
		return s.proc.ProcessText(ctx, doc, string(data)), nil
	default:
		r, err := s.ingestor.IngestPath(ctx, job.Path)
		if err != nil {
			return pipeline.DocumentResult{}, fmt.Errorf("ingest: %w", err)
		}
		return s.proc.ProcessDocument(ctx, r.Document), nil
	}
}

func (s *PipelineService) fail(id string, err error) {
	s.logger.Error("server.task.failed", "task_id", id, "error", err)
	s.tasks.Update(id, func(t *Task) {
		t.Status = TaskFailed
		t.Error = err.Error()
	})
}

// cleanup removes an uploaded file and, when it sits in its own upload
// directory, that directory.
func (s *PipelineService) cleanup(t Task) {
	if !t.temp || t.path == "" {
		return
	}
	target := t.path
	if dir := filepath.Dir(t.path); filepath.Dir(dir) == filepath.Clean(s.uploadDir) && strings.HasPrefix(filepath.Base(dir), uploadDirPrefix) {
		target = dir
	}
	if err := os.RemoveAll(target); err != nil {
		s.logger.Warn("server.task.cleanup_failed", "task_id", t.ID, "path", target, "error", err)
		return
	}
	s.logger.Debug("server.task.cleaned", "task_id", t.ID, "path", target)
}

// Shutdown stops accepting tasks and waits for running ones or ctx.
func (s *PipelineService) Shutdown(ctx context.Context) {
	s.queue.Shutdown(ctx)
}
