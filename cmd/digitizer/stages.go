package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/doc-digitizer/internal/common"
	"github.com/joseph-ayodele/doc-digitizer/internal/ingest"
	"github.com/joseph-ayodele/doc-digitizer/internal/pipeline"
)

func extractCmd(g *globalFlags) *cobra.Command {
	var pdfDir, mdDir, assetDir string
	var recursive bool

	cmd := &cobra.Command{
		Use:   "extract",
		Short: "Stage 1: convert PDFs to Markdown and pull out embedded images",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := setup(ctx, g, false, func(cfg *common.Config) {
				setIf(&cfg.Paths.PDFDir, pdfDir)
				setIf(&cfg.Paths.MarkdownDir, mdDir)
				setIf(&cfg.Paths.AssetDir, assetDir)
			})
			if err != nil {
				return err
			}
			defer a.Close()

			a.Ingestor.Recursive = recursive
			found, stats, err := a.Ingestor.IngestDirectory(ctx, a.Config.Paths.PDFDir)
			if err != nil {
				return err
			}
			a.Logger.Info("pdfs discovered", "dir", a.Config.Paths.PDFDir, "matched", stats.Matched, "deduplicated", stats.Deduplicated)

			_, sum, err := a.Batch.RunExtraction(ctx, ingest.Documents(found))
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), sum)
		},
	}
	cmd.Flags().StringVar(&pdfDir, "pdf-dir", "", "directory of source PDFs")
	cmd.Flags().StringVar(&mdDir, "md-dir", "", "where extracted Markdown is written")
	cmd.Flags().StringVar(&assetDir, "asset-dir", "", "where extracted images are written")
	cmd.Flags().BoolVar(&recursive, "recursive", false, "descend into subdirectories of --pdf-dir")
	return cmd
}

func enrichCmd(g *globalFlags) *cobra.Command {
	var sourceDir, assetDir, outputDir string

	cmd := &cobra.Command{
		Use:   "enrich",
		Short: "Stage 2: analyze images and clean up extracted Markdown",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := setup(ctx, g, true, func(cfg *common.Config) {
				setIf(&cfg.Paths.MarkdownDir, sourceDir)
				setIf(&cfg.Paths.AssetDir, assetDir)
				setIf(&cfg.Paths.EnrichedDir, outputDir)
			})
			if err != nil {
				return err
			}
			defer a.Close()

			names, err := pipeline.MarkdownNames(a.Config.Paths.MarkdownDir)
			if err != nil {
				return fmt.Errorf("list %s: %w", a.Config.Paths.MarkdownDir, err)
			}
			_, sum, err := a.Batch.RunEnrichment(ctx, names)
			if perr := printJSON(cmd.OutOrStdout(), sum); perr != nil && err == nil {
				err = perr
			}
			return err
		},
	}
	cmd.Flags().StringVar(&sourceDir, "source-md-dir", "", "directory of extracted Markdown")
	cmd.Flags().StringVar(&assetDir, "asset-dir", "", "directory of extracted images")
	cmd.Flags().StringVar(&outputDir, "output-dir", "", "where enriched Markdown is written")
	return cmd
}

func synthesizeCmd(g *globalFlags) *cobra.Command {
	var sourceDir, outputDir string

	cmd := &cobra.Command{
		Use:   "synthesize",
		Short: "Stage 3: produce the final document and its quality report",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := setup(ctx, g, true, func(cfg *common.Config) {
				setIf(&cfg.Paths.EnrichedDir, sourceDir)
				setIf(&cfg.Paths.OutputDir, outputDir)
			})
			if err != nil {
				return err
			}
			defer a.Close()

			names, err := pipeline.MarkdownNames(a.Config.Paths.EnrichedDir)
			if err != nil {
				return fmt.Errorf("list %s: %w", a.Config.Paths.EnrichedDir, err)
			}
			_, sum, err := a.Batch.RunSynthesis(ctx, names)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), sum)
		},
	}
	cmd.Flags().StringVar(&sourceDir, "source-dir", "", "directory of enriched Markdown")
	cmd.Flags().StringVar(&outputDir, "output-dir", "", "where synthesized documents are written")
	return cmd
}
