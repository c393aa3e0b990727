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
	"github.com/ppiankov/specwarden/internal/scheduler"
)

var watchNow bool

// watchCmd represents the watch command
var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Run verifications periodically until interrupted",
	Long: `Watch starts full runs every run.full_interval and critical-only runs
every run.critical_interval. A critical-only run due while a full run is in
flight is skipped.

Example:
  specwarden watch --full-interval 24h --critical-interval 6h --now`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)

	watchCmd.Flags().BoolVar(&watchNow, "now", false, "start a full run immediately")
	watchCmd.Flags().Duration("full-interval", 0, "interval between full runs (default from config)")
	watchCmd.Flags().Duration("critical-interval", 0, "interval between critical-only runs (default from config)")
	_ = viper.BindPFlag("run.full_interval", watchCmd.Flags().Lookup("full-interval"))
	_ = viper.BindPFlag("run.critical_interval", watchCmd.Flags().Lookup("critical-interval"))
}

func runWatch(cmd *cobra.Command, args []string) error {
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

	renderer := report.NewRenderer(10)
	trigger := scheduler.NewTrigger(sched, scheduler.TriggerOptions{
		FullInterval:     cfg.Run.FullInterval,
		CriticalInterval: cfg.Run.CriticalInterval,
		RunAtStart:       watchNow,
		Logger:           logger,
		OnRun: func(mode model.RunMode, run model.VerificationRun, err error) {
			switch {
			case errors.Is(err, model.ErrRunInProgress):
				fmt.Fprintf(os.Stderr, "- %s run skipped: another run in flight\n", mode)
			case run.ID != "":
				renderer.RenderSummary(os.Stderr, run)
				if err != nil {
					fmt.Fprintf(os.Stderr, "✗ %v\n", err)
				}
			case err != nil:
				fmt.Fprintf(os.Stderr, "✗ %s run failed: %v\n", mode, err)
			}
		},
	})

	fmt.Fprintf(os.Stderr, "Watching %s (full every %s, critical every %s)\n",
		cfg.Manifest.Path, cfg.Run.FullInterval, cfg.Run.CriticalInterval)

	if err := trigger.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
