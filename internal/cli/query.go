package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ppiankov/specwarden/internal/model"
)

var queryJSON bool

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Query persisted validation rules",
}

var rulesLatestCmd = &cobra.Command{
	Use:   "latest <api>",
	Short: "Show the rules of the most recent run that verified an API",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(func(ctx context.Context, eng *engine) error {
			ruleSet, runID, err := eng.persister.Latest(ctx, args[0])
			if err != nil {
				return err
			}
			if queryJSON {
				return writeJSON(os.Stdout, map[string]any{"run_id": runID, "rules": ruleSet})
			}
			fmt.Fprintf(os.Stderr, "Run: %s\n\n", runID)
			return printRules(os.Stdout, ruleSet)
		})
	},
}

var rulesRunCmd = &cobra.Command{
	Use:   "run <run-id>",
	Short: "Show every rule committed by a run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(func(ctx context.Context, eng *engine) error {
			ruleSet, err := eng.persister.ByRun(ctx, args[0])
			if err != nil {
				return err
			}
			if queryJSON {
				return writeJSON(os.Stdout, ruleSet)
			}
			return printRules(os.Stdout, ruleSet)
		})
	},
}

var healthCmd = &cobra.Command{
	Use:   "health [api]",
	Short: "Show API health, or one API's health history",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(func(ctx context.Context, eng *engine) error {
			if len(args) == 1 {
				status, err := eng.health.Current(ctx, args[0])
				if err != nil {
					return err
				}
				if queryJSON {
					return writeJSON(os.Stdout, status)
				}
				return printHistory(os.Stdout, status)
			}
			statuses, err := eng.health.All(ctx)
			if err != nil {
				return err
			}
			if queryJSON {
				return writeJSON(os.Stdout, statuses)
			}
			return printHealth(os.Stdout, statuses)
		})
	},
}

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List committed verification runs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(func(ctx context.Context, eng *engine) error {
			runs, err := eng.persister.Runs(ctx)
			if err != nil {
				return err
			}
			if queryJSON {
				return writeJSON(os.Stdout, runs)
			}
			return printRuns(os.Stdout, runs)
		})
	},
}

func init() {
	for _, c := range []*cobra.Command{rulesCmd, healthCmd, runsCmd} {
		c.PersistentFlags().BoolVar(&queryJSON, "json", false, "print JSON")
		rootCmd.AddCommand(c)
	}
	rulesCmd.AddCommand(rulesLatestCmd)
	rulesCmd.AddCommand(rulesRunCmd)
}

// withEngine opens the store for a read-only query
func withEngine(fn func(ctx context.Context, eng *engine) error) error {
	cfg, err := loadConfig(viper.GetViper())
	if err != nil {
		return err
	}
	eng, err := openEngine(cfg, newLogger())
	if err != nil {
		return err
	}
	defer func() { _ = eng.Close() }()
	return fn(context.Background(), eng)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printRules(w io.Writer, ruleSet []model.ValidationRule) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "API\tSCHEMA\tFIELD\tTYPE\tREQUIRED\tMAX\tENUM")
	for _, r := range ruleSet {
		field := r.FieldPath
		if r.Synthetic {
			field += "*"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%t\t%d\t%s\n",
			r.API, r.Schema, field, r.FieldType, r.Required, r.MaxLength, strings.Join(r.Enum, ","))
	}
	return tw.Flush()
}

func printHealth(w io.Writer, statuses []model.APIHealthStatus) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "API\tSTATE\tFAILURES\tLAST SUCCESS\tLAST RUN")
	for _, s := range statuses {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n", s.API, s.State, s.ConsecutiveFailures, s.LastSuccessfulRun, s.LastRun())
	}
	return tw.Flush()
}

func printHistory(w io.Writer, status model.APIHealthStatus) error {
	fmt.Fprintf(w, "%s: %s (%d consecutive failures)\n\n", status.API, status.State, status.ConsecutiveFailures)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tSTATE\tAT")
	for _, h := range status.History {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", h.RunID, h.State, h.At.Format("2006-01-02 15:04:05"))
	}
	return tw.Flush()
}

func printRuns(w io.Writer, runs []model.VerificationRun) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tMODE\tSTARTED\tSTATUS\tFINDINGS\tRULES")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\n",
			r.ID, r.Mode, r.StartedAt.Format("2006-01-02 15:04:05"), r.Status, len(r.Findings), r.RuleCount)
	}
	return tw.Flush()
}
