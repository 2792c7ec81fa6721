package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"deployaudit/internal/console"
	"deployaudit/internal/engine"
	"deployaudit/internal/remediation"
)

var flagWidth int

var synthesizeCmd = &cobra.Command{
	Use:   "synthesize",
	Short: "Build the prioritized remediation plan from the persisted reports",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		e, err := engine.New(cfg, nil)
		if err != nil {
			return err
		}
		p := console.New(os.Stderr, false)
		plan, path, err := synthesize(e, cfg, p)
		if err != nil {
			return err
		}
		if err := remediation.Print(os.Stdout, remediation.Markdown(plan), flagWidth); err != nil {
			return err
		}
		p.Info("plan written to %s", path)
		return nil
	},
}

func init() {
	synthesizeCmd.Flags().IntVar(&flagWidth, "width", 100, "wrap width for terminal rendering")
	rootCmd.AddCommand(synthesizeCmd)
}
