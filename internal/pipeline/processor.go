package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/joseph-ayodele/doc-digitizer/constants"
	"github.com/joseph-ayodele/doc-digitizer/internal/common"
)

// Recorder persists document state transitions. The run ledger implements it;
// nil disables recording.
type Recorder interface {
	RecordState(ctx context.Context, runID string, doc Document, state constants.DocState, method, errMsg string) error
}

// DocumentResult is everything one document went through.
type DocumentResult struct {
	Document   Document
	State      constants.DocState
	Extraction *ExtractionResult
	Enrichment *EnrichmentResult
	Synthesis  *SynthesisResult
	Err        error
	Started    time.Time
	Duration   time.Duration
}

// Fatal reports whether the failure must stop the whole run.
func (r DocumentResult) Fatal() bool {
	return errors.Is(r.Err, ErrManifestUnavailable)
}

// Processor runs the per-document state machine:
// discovered -> extracting -> {extracted | extraction_failed} -> enriching ->
// {enriched | enrichment_degraded} -> synthesizing ->
// {synthesized | synthesis_degraded} -> scored.
type Processor struct {
	Extract  *ExtractionStage
	Enrich   *EnrichmentStage
	Synth    *SynthesisStage
	recorder Recorder
	logger   *slog.Logger
}

func NewProcessor(extract *ExtractionStage, enrich *EnrichmentStage, synth *SynthesisStage, recorder Recorder, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{Extract: extract, Enrich: enrich, Synth: synth, recorder: recorder, logger: logger}
}

// ProcessDocument takes a PDF through all three stages. Failures stay in the
// result; nothing past the document boundary is affected.
func (p *Processor) ProcessDocument(ctx context.Context, doc Document) DocumentResult {
	ctx = common.WithDocument(ctx, doc.Name)
	res := DocumentResult{Document: doc, Started: time.Now()}

	p.transition(ctx, &res, constants.StateDiscovered, "", nil)
	p.transition(ctx, &res, constants.StateExtracting, "", nil)
	ex := p.Extract.Run(ctx, doc)
	res.Extraction = &ex
	if ex.Status == constants.StageFailed {
		p.transition(ctx, &res, constants.StateExtractionFailed, ex.Method, errors.New(ex.Error))
		return p.finish(res)
	}
	p.transition(ctx, &res, constants.StateExtracted, ex.Method, nil)

	if !p.enrich(ctx, &res) {
		return p.finish(res)
	}
	p.synthesize(ctx, &res, func() SynthesisResult { return p.Synth.Run(ctx, doc.Name) })
	return p.finish(res)
}

// ProcessText is the fast path for Markdown and plain-text uploads: the file
// goes straight to synthesis.
func (p *Processor) ProcessText(ctx context.Context, doc Document, text string) DocumentResult {
	ctx = common.WithDocument(ctx, doc.Name)
	res := DocumentResult{Document: doc, Started: time.Now()}

	p.transition(ctx, &res, constants.StateDiscovered, "", nil)
	p.synthesize(ctx, &res, func() SynthesisResult { return p.Synth.RunText(ctx, doc.Name, text) })
	return p.finish(res)
}

func (p *Processor) enrich(ctx context.Context, res *DocumentResult) bool {
	p.transition(ctx, res, constants.StateEnriching, "", nil)
	en := p.Enrich.Run(ctx, res.Document.Name)
	res.Enrichment = &en
	switch en.Status {
	case constants.StageFailed:
		p.transition(ctx, res, constants.StateFailed, "", en.Err)
		return false
	case constants.StageDegraded:
		p.transition(ctx, res, constants.StateEnrichmentDegraded, "", nil)
	default:
		p.transition(ctx, res, constants.StateEnriched, "", nil)
	}
	return true
}

func (p *Processor) synthesize(ctx context.Context, res *DocumentResult, run func() SynthesisResult) {
	p.transition(ctx, res, constants.StateSynthesizing, "", nil)
	sy := run()
	res.Synthesis = &sy
	switch sy.Status {
	case constants.StageFailed:
		p.transition(ctx, res, constants.StateFailed, "", sy.Err)
		return
	case constants.StageDegraded:
		p.transition(ctx, res, constants.StateSynthesisDegraded, "", nil)
	default:
		p.transition(ctx, res, constants.StateSynthesized, "", nil)
	}
	p.transition(ctx, res, constants.StateScored, "", nil)
}

func (p *Processor) transition(ctx context.Context, res *DocumentResult, state constants.DocState, method string, err error) {
	res.State = state
	errMsg := ""
	if err != nil {
		res.Err = err
		errMsg = err.Error()
	}
	p.logger.Debug("pipeline.state", "doc", res.Document.Name, "state", state)
	if p.recorder == nil {
		return
	}
	// a cancelled document still gets its final state written
	rctx := context.WithoutCancel(ctx)
	if rerr := p.recorder.RecordState(rctx, common.RunIDFromContext(ctx), res.Document, state, method, errMsg); rerr != nil {
		p.logger.Warn("pipeline.state.record_failed", "doc", res.Document.Name, "state", state, "error", rerr)
	}
}

func (p *Processor) finish(res DocumentResult) DocumentResult {
	res.Duration = time.Since(res.Started)
	level := slog.LevelInfo
	if res.Err != nil {
		level = slog.LevelWarn
	}
	p.logger.Log(context.Background(), level, "pipeline.document.done",
		"doc", res.Document.Name,
		"state", res.State,
		"error", errString(res.Err),
		"elapsed_ms", res.Duration.Milliseconds(),
	)
	return res
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
