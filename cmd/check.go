package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"deployaudit/internal/console"
	"deployaudit/internal/engine"
)

var flagThenSynthesize bool

var checkCmd = &cobra.Command{
	Use:   "check [category...]",
	Short: "Run all checkers, or the named ones, and write their reports",
	RunE:  runCheck,
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List checker categories in scan order",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		reg, err := engine.NewRegistry(cfg)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		for _, c := range reg.All() {
			fmt.Fprintf(tw, "%s\t%s\n", c.Category(), c.Description())
		}
		return tw.Flush()
	},
}

func runCheck(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	p := console.Stdout()
	e, err := engine.New(cfg, func(r engine.Result) {
		p.Report(r.Report, r.Path, r.Elapsed)
	})
	if err != nil {
		return err
	}

	p.Title("Auditing " + cfg.Root)
	start := time.Now()
	_, stats, err := e.Run(ctx, args...)
	if err != nil {
		return err
	}
	p.Totals(stats.Categories, stats.Findings, stats.Failed, stats.BySeverity)
	p.Info("done in %s, reports in %s", time.Since(start).Round(time.Millisecond), e.OutputDir())

	if !flagThenSynthesize {
		return nil
	}
	plan, path, err := synthesize(e, cfg, p)
	if err != nil {
		return err
	}
	p.Info("%d remediation items written to %s", len(plan.Items), path)
	return nil
}

func init() {
	checkCmd.Flags().BoolVar(&flagThenSynthesize, "synthesize", false, "build the remediation plan after the run")
	rootCmd.AddCommand(checkCmd, listCmd)
}
