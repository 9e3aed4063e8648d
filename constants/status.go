package constants

// DocState is the per-document position in the three-stage pipeline.
type DocState string

// Stable values (stored as-is in the run ledger and stage logs).
const (
	StateDiscovered         DocState = "discovered"
	StateExtracting         DocState = "extracting"
	StateExtracted          DocState = "extracted"
	StateExtractionFailed   DocState = "extraction_failed" // terminal
	StateEnriching          DocState = "enriching"
	StateEnriched           DocState = "enriched"
	StateEnrichmentDegraded DocState = "enrichment_degraded"
	StateSynthesizing       DocState = "synthesizing"
	StateSynthesized        DocState = "synthesized"
	StateSynthesisDegraded  DocState = "synthesis_degraded"
	StateScored             DocState = "scored"
	// StateFailed ends a document that could not read or write its own
	// files after extraction.
	StateFailed DocState = "failed"
)

// Terminal reports whether no further stage runs after s.
func (s DocState) Terminal() bool {
	return s == StateExtractionFailed || s == StateScored || s == StateFailed
}

// StageStatus is the outcome reported per document in stage summaries.
type StageStatus string

const (
	StageSucceeded StageStatus = "success"
	StageSkipped   StageStatus = "skipped"
	StageDegraded  StageStatus = "degraded"
	StageFailed    StageStatus = "failed"
)
