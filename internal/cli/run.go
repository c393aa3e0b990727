package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ppiankov/specwarden/internal/model"
	"github.com/ppiankov/specwarden/internal/report"
)

var (
	criticalOnly bool
	outJSON      string
	outMD        string
	maxFindings  int
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one verification over the manifest",
	Long: `Run fetches every document of the manifest, resolves and checks the
schemas, commits the derived rules and updates per-API health.

Exit status is 0 when the run completed (with or without findings), 2 when
it was aborted and 1 on any other error, including a critical-only run
rejected because another run is in flight.

Example:
  specwarden run --manifest apis/manifest.yaml
  specwarden run --critical-only --json run.json --md run.md`,
	Args: cobra.NoArgs,
	RunE: runVerify,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().BoolVar(&criticalOnly, "critical-only", false, "verify critical and currently failing APIs only")
	runCmd.Flags().StringVar(&outJSON, "json", "", "write the run report as JSON to this path")
	runCmd.Flags().StringVar(&outMD, "md", "", "write the run report as Markdown to this path")
	runCmd.Flags().IntVar(&maxFindings, "max-findings", 20, "findings listed in the summary (0 for all)")
	runCmd.Flags().Duration("timeout", 0, "run timeout (default from config)")
	_ = viper.BindPFlag("run.timeout", runCmd.Flags().Lookup("timeout"))
}

func runVerify(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(viper.GetViper())
	if err != nil {
		return err
	}
	logger := newLogger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	eng, err := openEngine(cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = eng.Close() }()

	sched, err := eng.scheduler()
	if err != nil {
		return err
	}

	mode := model.ModeFull
	if criticalOnly {
		mode = model.ModeCriticalOnly
	}
	if verbose {
		fmt.Fprintf(os.Stderr, "Manifest: %s\n", cfg.Manifest.Path)
		fmt.Fprintf(os.Stderr, "Store:    %s\n", cfg.Store.Path)
		fmt.Fprintf(os.Stderr, "Mode:     %s\n", mode)
	}

	run, runErr := sched.RunOnce(ctx, mode)
	if errors.Is(runErr, model.ErrRunInProgress) {
		return &ExitError{Code: 1, Err: runErr}
	}
	if run.ID == "" {
		return runErr
	}

	renderer := report.NewRenderer(maxFindings)
	renderer.RenderSummary(os.Stderr, run)
	if err := writeReports(ctx, eng, renderer, run); err != nil {
		return err
	}

	if runErr != nil {
		return &ExitError{Code: 1, Err: runErr}
	}
	return exitFor(run)
}

func writeReports(ctx context.Context, eng *engine, renderer *report.Renderer, run model.VerificationRun) error {
	if outJSON == "" && outMD == "" {
		return nil
	}
	statuses, err := eng.health.All(ctx)
	if err != nil {
		return fmt.Errorf("read health: %w", err)
	}
	rep := report.RunReport{Run: run, Health: statuses}
	if outJSON != "" {
		if err := renderer.RenderJSON(rep, outJSON); err != nil {
			return fmt.Errorf("render JSON: %w", err)
		}
		if verbose {
			fmt.Fprintf(os.Stderr, "✓ Wrote JSON: %s\n", outJSON)
		}
	}
	if outMD != "" {
		if err := renderer.RenderMarkdown(rep, outMD); err != nil {
			return fmt.Errorf("render markdown: %w", err)
		}
		if verbose {
			fmt.Fprintf(os.Stderr, "✓ Wrote Markdown: %s\n", outMD)
		}
	}
	return nil
}

// exitFor maps a finished run to the process exit status
func exitFor(run model.VerificationRun) error {
	if run.Status == model.StatusAborted {
		return &ExitError{Code: 2, Err: fmt.Errorf("run %s aborted: %s", run.ID, run.AbortReason)}
	}
	return nil
}
