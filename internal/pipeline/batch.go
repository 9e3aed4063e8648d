package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/joseph-ayodele/doc-digitizer/constants"
	"github.com/joseph-ayodele/doc-digitizer/internal/async"
	"github.com/joseph-ayodele/doc-digitizer/internal/common"
)

// Ledger records runs and document states; *repository.Ledger implements it.
type Ledger interface {
	Recorder
	StartRun(ctx context.Context, runID string, startedAt time.Time) error
	FinishRun(ctx context.Context, runID string, summary BatchSummary) error
}

// StageCounts is the per-stage tally of a batch.
type StageCounts struct {
	Succeeded int `json:"succeeded"`
	Skipped   int `json:"skipped"`
	Degraded  int `json:"degraded"`
	Failed    int `json:"failed"`
}

func (c *StageCounts) add(status constants.StageStatus) {
	switch status {
	case constants.StageSucceeded:
		c.Succeeded++
	case constants.StageSkipped:
		c.Skipped++
	case constants.StageDegraded:
		c.Degraded++
	default:
		c.Failed++
	}
}

type BatchSummary struct {
	RunID      string      `json:"run_id"`
	StartedAt  time.Time   `json:"started_at"`
	FinishedAt time.Time   `json:"finished_at"`
	Documents  int         `json:"documents"`
	Extraction StageCounts `json:"extraction"`
	Enrichment StageCounts `json:"enrichment"`
	Synthesis  StageCounts `json:"synthesis"`
	Fatal      string      `json:"fatal,omitempty"`
}

type BatchConfig struct {
	Workers    int
	DocTimeout time.Duration
	QueueSize  int
}

// Batch fans documents out over the async worker pool and writes the stage
// summaries once every document has finished.
type Batch struct {
	proc   *Processor
	ledger Ledger
	cfg    BatchConfig
	logger *slog.Logger
}

func NewBatch(proc *Processor, ledger Ledger, cfg BatchConfig, logger *slog.Logger) *Batch {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.DocTimeout <= 0 {
		cfg.DocTimeout = 15 * time.Minute
	}
	return &Batch{proc: proc, ledger: ledger, cfg: cfg, logger: logger}
}

// Run processes docs through all three stages. The returned error is set only
// for run-level failures; per-document failures are in the results.
func (b *Batch) Run(ctx context.Context, docs []Document) (BatchSummary, []DocumentResult, error) {
	if len(docs) == 0 {
		return BatchSummary{}, nil, common.NewAppError("NO_DOCUMENTS", "no documents to process", common.ErrNoDocuments)
	}
	sum := BatchSummary{RunID: uuid.New().String(), StartedAt: time.Now().UTC(), Documents: len(docs)}
	ctx = common.WithRunID(ctx, sum.RunID)
	if b.ledger != nil {
		if err := b.ledger.StartRun(ctx, sum.RunID, sum.StartedAt); err != nil {
			return sum, nil, common.NewAppError("LEDGER_ERROR", "start run", err)
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		mu      sync.Mutex
		results = make([]DocumentResult, len(docs))
		fatal   error
	)
	byID := make(map[uuid.UUID]int, len(docs))
	jobs := make([]async.Job, len(docs))
	for i, d := range docs {
		jobs[i] = async.Job{ID: uuid.New(), Path: d.Path, Kind: async.KindPDF, TraceID: sum.RunID}
		byID[jobs[i].ID] = i
	}

	handler := async.HandlerFunc(func(jctx context.Context, job async.Job) error {
		i := byID[job.ID]
		r := b.proc.ProcessDocument(jctx, docs[i])
		mu.Lock()
		defer mu.Unlock()
		results[i] = r
		if r.Fatal() && fatal == nil {
			fatal = r.Err
			cancel()
		}
		return r.Err
	})
	q := async.NewProcessorQueue(handler, b.logger,
		async.WithWorkers(b.cfg.Workers),
		async.WithQueueSize(b.cfg.QueueSize),
		async.WithProcessTimeout(b.cfg.DocTimeout),
		async.WithBaseContext(runCtx),
	)
	for _, j := range jobs {
		if err := q.Enqueue(runCtx, j); err != nil {
			b.logger.Warn("pipeline.batch.enqueue_failed", "path", j.Path, "error", err)
			break
		}
	}
	q.Shutdown(context.Background())

	for i, r := range results {
		if r.Document.Name == "" {
			// never reached a worker (run aborted)
			results[i] = DocumentResult{Document: docs[i], State: constants.StateDiscovered, Err: fmt.Errorf("not processed: run aborted")}
		}
	}
	sum = Tally(sum, results)
	if fatal != nil {
		sum.Fatal = fatal.Error()
	}
	sum.FinishedAt = time.Now().UTC()
	b.writeSummaries(sum, results)

	if b.ledger != nil {
		if err := b.ledger.FinishRun(context.WithoutCancel(ctx), sum.RunID, sum); err != nil {
			b.logger.Warn("pipeline.batch.ledger_finish_failed", "run_id", sum.RunID, "error", err)
		}
	}
	b.logger.Info("pipeline.batch.done",
		"run_id", sum.RunID,
		"documents", sum.Documents,
		"extracted", sum.Extraction.Succeeded+sum.Extraction.Skipped,
		"extraction_failed", sum.Extraction.Failed,
		"enriched", sum.Enrichment.Succeeded,
		"enrichment_degraded", sum.Enrichment.Degraded,
		"synthesized", sum.Synthesis.Succeeded,
		"synthesis_degraded", sum.Synthesis.Degraded,
	)
	if fatal != nil {
		return sum, results, common.NewAppError("RUN_FATAL", "run aborted", fatal)
	}
	return sum, results, nil
}

// Tally counts per-stage outcomes of results into sum. A document that never
// produced an extraction result counts as an extraction failure.
func Tally(sum BatchSummary, results []DocumentResult) BatchSummary {
	for _, r := range results {
		if r.Extraction == nil {
			// text uploads skip extraction and enrichment
			if r.Synthesis != nil {
				sum.Synthesis.add(r.Synthesis.Status)
				continue
			}
			sum.Extraction.Failed++
			continue
		}
		sum.Extraction.add(r.Extraction.Status)
		if r.Enrichment != nil {
			sum.Enrichment.add(r.Enrichment.Status)
		}
		if r.Synthesis != nil {
			sum.Synthesis.add(r.Synthesis.Status)
		}
	}
	return sum
}

func (b *Batch) writeSummaries(sum BatchSummary, results []DocumentResult) {
	var (
		ex []ExtractionResult
		en []EnrichmentResult
		sy []SynthesisResult
	)
	for _, r := range results {
		if r.Extraction != nil {
			ex = append(ex, *r.Extraction)
		}
		if r.Enrichment != nil {
			en = append(en, *r.Enrichment)
		}
		if r.Synthesis != nil {
			sy = append(sy, *r.Synthesis)
		}
	}
	started := sum.StartedAt
	if _, err := b.proc.Extract.WriteSummary(started, ex); err != nil {
		b.logger.Error("pipeline.batch.summary_failed", "stage", "extraction", "error", err)
	}
	if _, err := b.proc.Enrich.WriteSummary(started, en); err != nil {
		b.logger.Error("pipeline.batch.summary_failed", "stage", "enrichment", "error", err)
	}
	if _, err := b.proc.Synth.WriteSummary(started, sy); err != nil {
		b.logger.Error("pipeline.batch.summary_failed", "stage", "synthesis", "error", err)
	}
}

// RunExtraction runs Stage 1 alone over docs with Workers parallelism.
func (b *Batch) RunExtraction(ctx context.Context, docs []Document) ([]ExtractionResult, StageSummary, error) {
	if len(docs) == 0 {
		return nil, StageSummary{}, common.NewAppError("NO_DOCUMENTS", "no PDF files found", common.ErrNoDocuments)
	}
	started := time.Now()
	out := make([]ExtractionResult, len(docs))
	b.each(ctx, len(docs), func(ctx context.Context, i int) {
		out[i] = b.proc.Extract.Run(ctx, docs[i])
	})
	sum, err := b.proc.Extract.WriteSummary(started, out)
	return out, sum, err
}

// RunEnrichment runs Stage 2 alone over document names.
func (b *Batch) RunEnrichment(ctx context.Context, names []string) ([]EnrichmentResult, StageSummary, error) {
	if len(names) == 0 {
		return nil, StageSummary{}, common.NewAppError("NO_DOCUMENTS", "no markdown files found", common.ErrNoDocuments)
	}
	started := time.Now()
	out := make([]EnrichmentResult, len(names))
	b.each(ctx, len(names), func(ctx context.Context, i int) {
		out[i] = b.proc.Enrich.Run(ctx, names[i])
	})
	sum, err := b.proc.Enrich.WriteSummary(started, out)
	for _, r := range out {
		if errors.Is(r.Err, ErrManifestUnavailable) {
			return out, sum, common.NewAppError("RUN_FATAL", "run aborted", r.Err)
		}
	}
	return out, sum, err
}

// RunSynthesis runs Stage 3 alone over document names.
func (b *Batch) RunSynthesis(ctx context.Context, names []string) ([]SynthesisResult, StageSummary, error) {
	if len(names) == 0 {
		return nil, StageSummary{}, common.NewAppError("NO_DOCUMENTS", "no enriched files found", common.ErrNoDocuments)
	}
	started := time.Now()
	out := make([]SynthesisResult, len(names))
	b.each(ctx, len(names), func(ctx context.Context, i int) {
		out[i] = b.proc.Synth.Run(ctx, names[i])
	})
	sum, err := b.proc.Synth.WriteSummary(started, out)
	return out, sum, err
}

// each runs fn for 0..n-1 with Workers parallelism and a per-item timeout.
func (b *Batch) each(ctx context.Context, n int, fn func(ctx context.Context, i int)) {
	var g errgroup.Group
	g.SetLimit(b.cfg.Workers)
	for i := 0; i < n; i++ {
		g.Go(func() error {
			ictx, cancel := context.WithTimeout(ctx, b.cfg.DocTimeout)
			defer cancel()
			fn(ictx, i)
			return nil
		})
	}
	_ = g.Wait()
}

// MarkdownNames lists the document names (*.md without suffix) in dir.
func MarkdownNames(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !constants.IsMarkdown(e.Name()) {
			continue
		}
		names = append(names, constants.BaseName(e.Name()))
	}
	return names, nil
}
