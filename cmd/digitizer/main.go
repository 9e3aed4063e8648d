package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/doc-digitizer/internal/app"
	"github.com/joseph-ayodele/doc-digitizer/internal/common"
)

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
	logLevel   string
	force      bool
	reanalyze  bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:           "digitizer",
		Short:         "Turn PDFs into enriched, synthesized Markdown",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&g.configPath, "config", "", "YAML config file layered over environment settings")
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "debug|info|warn|error (default from LOG_LEVEL)")
	root.PersistentFlags().BoolVar(&g.force, "force", false, "re-extract documents even when outputs are up to date")
	root.PersistentFlags().BoolVar(&g.reanalyze, "reanalyze", false, "ignore the analysis manifest and analyze every image again")

	root.AddCommand(
		extractCmd(g),
		enrichCmd(g),
		synthesizeCmd(g),
		runCmd(g),
		reportCmd(g),
	)
	return root
}

// setup loads configuration, applies flag overrides and builds the app.
func setup(ctx context.Context, g *globalFlags, needsLLM bool, override func(cfg *common.Config)) (*app.App, error) {
	cfg, err := common.LoadConfigFile(g.configPath)
	if err != nil {
		return nil, err
	}
	if g.logLevel != "" {
		cfg.LogLevel = g.logLevel
	}
	if g.force {
		cfg.Pipeline.ForceRerun = true
	}
	if g.reanalyze {
		cfg.Pipeline.Reanalyze = true
	}
	if override != nil {
		override(cfg)
	}
	logger := app.NewLogger(cfg.LogLevel)
	return app.New(ctx, cfg, app.Options{NeedsLLM: needsLLM}, logger)
}

func setIf(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func printJSON(w io.Writer, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}
