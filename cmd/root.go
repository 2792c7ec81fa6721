package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"deployaudit/internal/config"
	"deployaudit/internal/console"
	"deployaudit/internal/engine"
	"deployaudit/internal/remediation"
)

var (
	flagConfig string
	flagRoot   string
	flagOut    string
	flagDSN    string
)

var rootCmd = &cobra.Command{
	Use:           "deployaudit",
	Short:         "Static post-deployment diagnostics and remediation planning",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCheck(cmd, nil)
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "config file (default "+config.DefaultPath+" when present)")
	rootCmd.PersistentFlags().StringVar(&flagRoot, "root", "", "application tree to audit (overrides root)")
	rootCmd.PersistentFlags().StringVar(&flagOut, "out", "", "artifact directory (overrides output_dir)")
	rootCmd.PersistentFlags().StringVar(&flagDSN, "dsn", "", "database DSN (overrides database.dsn)")
}

// loadConfig resolves the configuration file and applies flag overrides.
func loadConfig() (config.Config, error) {
	cfg, _, err := config.Resolve(flagConfig)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	if flagRoot != "" {
		cfg.Root = flagRoot
	}
	if flagOut != "" {
		cfg.OutputDir = flagOut
	}
	if flagDSN != "" {
		cfg.Database.DSN = flagDSN
	}
	return cfg, nil
}

// synthesize builds the plan from the artifacts in e's output directory and
// persists it.
func synthesize(e *engine.Engine, cfg config.Config, p *console.Printer) (remediation.Plan, string, error) {
	s := remediation.New(cfg)
	plan := s.Synthesize(e.OutputDir(), e.Registry().Categories())
	for _, m := range plan.Missing {
		p.Warn("%s: %s", m.Category, m.Reason)
	}
	path, err := s.Write(e.OutputDir(), plan)
	if err != nil {
		return plan, "", fmt.Errorf("write plan: %w", err)
	}
	return plan, path, nil
}
