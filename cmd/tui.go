package cmd

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/spf13/cobra"

	"deployaudit/internal/artifact"
	"deployaudit/internal/remediation"
	"deployaudit/internal/tui"
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Browse the persisted remediation plan",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		path := remediation.New(cfg).PlanPath(artifact.Dir(cfg.OutputPath()))
		plan, err := remediation.ReadPlan(path)
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("no plan at %s\nRun 'deployaudit synthesize' first", path)
		}
		if err != nil {
			return err
		}
		return tui.Run(plan, path)
	},
}

func init() {
	rootCmd.AddCommand(planCmd)
}
