// Package commands implements the gateway CLI.
package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gaborage/e2e-gateway/config"
	"github.com/gaborage/e2e-gateway/logger"
)

// GlobalOptions are flags shared by every subcommand.
type GlobalOptions struct {
	ConfigFile string
	DotEnv     string
}

// NewRootCommand creates the gateway root command with all subcommands.
func NewRootCommand(version string) *cobra.Command {
	opts := &GlobalOptions{}

	root := &cobra.Command{
		Use:   "gateway",
		Short: "HTTP gateway between the test UI, the orchestration backend and the browser worker",
		Long: `Gateway for end-to-end test automation.

It streams chat responses from the orchestration backend and forwards browser
actions (act, test, observe, extract, agent) to the automation worker, with
per-call timeouts and a single retry policy for transient failures.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&opts.ConfigFile, "config", "c", "config.yaml", "YAML config file (ignored when missing)")
	root.PersistentFlags().StringVar(&opts.DotEnv, "env-file", ".env", "dotenv file (ignored when missing)")

	root.AddCommand(
		NewServeCommand(opts),
		NewProbeCommand(opts),
		NewVersionCommand(version),
	)
	return root
}

func (o *GlobalOptions) load() (*config.Config, logger.Logger, error) {
	cfg, err := config.Load(config.Options{File: o.ConfigFile, DotEnv: o.DotEnv})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, logger.New(cfg.Log.Level, cfg.Log.Pretty), nil
}
