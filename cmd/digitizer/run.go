package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/doc-digitizer/internal/common"
	"github.com/joseph-ayodele/doc-digitizer/internal/export"
	"github.com/joseph-ayodele/doc-digitizer/internal/ingest"
	"github.com/joseph-ayodele/doc-digitizer/internal/repository"
)

func runCmd(g *globalFlags) *cobra.Command {
	var pdfDir, mdDir, assetDir, enrichedDir, outputDir, reportPath string
	var recursive bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run all three stages over a directory of PDFs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := setup(ctx, g, true, func(cfg *common.Config) {
				setIf(&cfg.Paths.PDFDir, pdfDir)
				setIf(&cfg.Paths.MarkdownDir, mdDir)
				setIf(&cfg.Paths.AssetDir, assetDir)
				setIf(&cfg.Paths.EnrichedDir, enrichedDir)
				setIf(&cfg.Paths.OutputDir, outputDir)
				setIf(&cfg.Pipeline.ReportXLSX, reportPath)
			})
			if err != nil {
				return err
			}
			defer a.Close()

			a.Ingestor.Recursive = recursive
			found, _, err := a.Ingestor.IngestDirectory(ctx, a.Config.Paths.PDFDir)
			if err != nil {
				return err
			}

			sum, results, runErr := a.Batch.Run(ctx, ingest.Documents(found))
			if errors.Is(runErr, common.ErrNoDocuments) {
				return runErr
			}
			if path := a.Config.Pipeline.ReportXLSX; path != "" {
				data, err := a.Exporter.BuildBatchReport(sum, export.RowsFromResults(results))
				if err != nil {
					return fmt.Errorf("build report: %w", err)
				}
				if err := os.WriteFile(path, data, 0o644); err != nil {
					return fmt.Errorf("write report: %w", err)
				}
				a.Logger.Info("report written", "path", path, "documents", len(results))
			}
			if err := printJSON(cmd.OutOrStdout(), sum); err != nil {
				return err
			}
			return runErr
		},
	}
	cmd.Flags().StringVar(&pdfDir, "pdf-dir", "", "directory of source PDFs")
	cmd.Flags().StringVar(&mdDir, "md-dir", "", "where extracted Markdown is written")
	cmd.Flags().StringVar(&assetDir, "asset-dir", "", "where extracted images are written")
	cmd.Flags().StringVar(&enrichedDir, "enriched-dir", "", "where enriched Markdown is written")
	cmd.Flags().StringVar(&outputDir, "output-dir", "", "where synthesized documents are written")
	cmd.Flags().StringVar(&reportPath, "report", "", "write an XLSX batch report to this path")
	cmd.Flags().BoolVar(&recursive, "recursive", false, "descend into subdirectories of --pdf-dir")
	return cmd
}

func reportCmd(g *globalFlags) *cobra.Command {
	var runID, out string

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Write the XLSX report of a recorded run from the ledger",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := setup(ctx, g, false, nil)
			if err != nil {
				return err
			}
			defer a.Close()
			if a.Ledger == nil {
				return common.NewAppError("CONFIG_ERROR", "report needs LEDGER_DSN", common.ErrInvalidInput)
			}

			var rec repository.RunRecord
			if runID != "" {
				rec, err = a.Ledger.GetRun(ctx, runID)
			} else {
				rec, err = a.Ledger.LatestRun(ctx)
			}
			if err != nil {
				return fmt.Errorf("load run: %w", err)
			}
			docs, err := a.Ledger.ListDocuments(ctx, rec.ID)
			if err != nil {
				return fmt.Errorf("load documents: %w", err)
			}
			data, err := a.Exporter.BuildBatchReport(export.SummaryFromRun(rec, len(docs)), export.RowsFromRecords(docs))
			if err != nil {
				return err
			}
			if out == "" {
				out = "digitizer_" + rec.ID + ".xlsx"
			}
			if err := os.WriteFile(out, data, 0o644); err != nil {
				return fmt.Errorf("write report: %w", err)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), out)
			return err
		},
	}
	cmd.Flags().StringVar(&runID, "run-id", "", "run to report (default: latest)")
	cmd.Flags().StringVarP(&out, "out", "o", "", "output XLSX path (default: digitizer_<run id>.xlsx)")
	return cmd
}
