package export

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/joseph-ayodele/doc-digitizer/internal/pipeline"
	"github.com/joseph-ayodele/doc-digitizer/internal/repository"
)

const (
	DocumentsSheet = "Documents"
	SummarySheet   = "Summary"
)

// Row is one document line of the report.
type Row struct {
	Document         string
	State            string
	Method           string
	Pages            int
	Assets           int
	ImagesAnalyzed   int
	APICalls         int
	EstimatedCostUSD float64
	Score            int
	Passed           bool
	Error            string
}

// RowsFromResults flattens in-memory batch results.
func RowsFromResults(results []pipeline.DocumentResult) []Row {
	rows := make([]Row, 0, len(results))
	for _, r := range results {
		row := Row{Document: r.Document.Name, State: string(r.State), Pages: r.Document.PageCount}
		if r.Err != nil {
			row.Error = r.Err.Error()
		}
		if ex := r.Extraction; ex != nil {
			row.Method = ex.Method
			row.Assets = len(ex.Assets)
			if ex.PageCount > 0 {
				row.Pages = ex.PageCount
			}
		}
		if en := r.Enrichment; en != nil {
			row.ImagesAnalyzed = en.ImagesAnalyzed + en.ImagesCached
			row.APICalls += en.APICalls
			row.EstimatedCostUSD += en.EstimatedCostUSD
		}
		if sy := r.Synthesis; sy != nil {
			row.Score = sy.Score
			row.Passed = sy.Passed
			row.APICalls += sy.APICalls
		}
		rows = append(rows, row)
	}
	return rows
}

// RowsFromRecords builds rows from ledger records; stage metrics are not
// stored there and stay zero.
func RowsFromRecords(records []repository.DocumentRecord) []Row {
	rows := make([]Row, 0, len(records))
	for _, r := range records {
		rows = append(rows, Row{Document: r.Name, State: string(r.State), Method: r.Method, Error: r.Error})
	}
	return rows
}

// SummaryFromRun returns the stored summary of a run, or a bare one built
// from the run row when the run never finished.
func SummaryFromRun(run repository.RunRecord, documents int) pipeline.BatchSummary {
	if run.Summary != nil {
		return *run.Summary
	}
	return pipeline.BatchSummary{
		RunID:      run.ID,
		StartedAt:  run.StartedAt,
		FinishedAt: run.FinishedAt,
		Documents:  documents,
	}
}

// Service produces XLSX bytes for batch reports.
type Service struct {
	logger *slog.Logger
}

func NewService(logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{logger: logger}
}

// BuildBatchReport returns a workbook with a "Documents" sheet (one row per
// document) and a "Summary" sheet (stage counts).
func (s *Service) BuildBatchReport(summary pipeline.BatchSummary, rows []Row) ([]byte, error) {
	start := time.Now()

	f := excelize.NewFile()
	defer func() {
		if err := f.Close(); err != nil {
			s.logger.Warn("export.xlsx.close_failed", "error", err)
		}
	}()
	if err := f.SetSheetName("Sheet1", DocumentsSheet); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(SummarySheet); err != nil {
		return nil, err
	}
	activeIndex, _ := f.GetSheetIndex(DocumentsSheet)
	f.SetActiveSheet(activeIndex)

	headers := []string{
		"Document",
		"Final State",
		"Method",
		"Pages",
		"Assets",
		"Images Analyzed",
		"API Calls",
		"Est. Cost (USD)",
		"Score",
		"Passed",
		"Error",
	}
	if err := writeRow(f, DocumentsSheet, 1, toAny(headers)); err != nil {
		return nil, err
	}
	for i, r := range rows {
		vals := []any{
			r.Document,
			r.State,
			r.Method,
			r.Pages,
			r.Assets,
			r.ImagesAnalyzed,
			r.APICalls,
			r.EstimatedCostUSD,
			r.Score,
			r.Passed,
			truncate(r.Error, 300),
		}
		if err := writeRow(f, DocumentsSheet, i+2, vals); err != nil {
			return nil, err
		}
	}

	// Widen a few columns
	_ = f.SetColWidth(DocumentsSheet, "A", "A", 32) // document
	_ = f.SetColWidth(DocumentsSheet, "B", "C", 20) // state, method
	_ = f.SetColWidth(DocumentsSheet, "D", "J", 14) // numbers
	_ = f.SetColWidth(DocumentsSheet, "K", "K", 60) // error

	if err := writeSummary(f, summary); err != nil {
		return nil, err
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}
	s.logger.Info("export.xlsx.ok",
		"run_id", summary.RunID,
		"rows", len(rows),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return buf.Bytes(), nil
}

func writeSummary(f *excelize.File, sum pipeline.BatchSummary) error {
	lines := [][]any{
		{"Run ID", sum.RunID},
		{"Started", formatTime(sum.StartedAt)},
		{"Finished", formatTime(sum.FinishedAt)},
		{"Documents", sum.Documents},
		{},
		{"Stage", "Succeeded", "Skipped", "Degraded", "Failed"},
		stageLine("Extraction", sum.Extraction),
		stageLine("Enrichment", sum.Enrichment),
		stageLine("Synthesis", sum.Synthesis),
	}
	if sum.Fatal != "" {
		lines = append(lines, []any{}, []any{"Fatal", sum.Fatal})
	}
	for i, vals := range lines {
		if err := writeRow(f, SummarySheet, i+1, vals); err != nil {
			return err
		}
	}
	_ = f.SetColWidth(SummarySheet, "A", "A", 14)
	_ = f.SetColWidth(SummarySheet, "B", "B", 38)
	return nil
}

func stageLine(name string, c pipeline.StageCounts) []any {
	return []any{name, c.Succeeded, c.Skipped, c.Degraded, c.Failed}
}

func writeRow(f *excelize.File, sheet string, row int, vals []any) error {
	if len(vals) == 0 {
		return nil
	}
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	return f.SetSheetRow(sheet, cell, &vals)
}

func toAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	if n <= 1 {
		return s[:n]
	}
	return s[:n-1] + "…"
}
