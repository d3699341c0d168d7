package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/gaborage/e2e-gateway/config"
	"github.com/gaborage/e2e-gateway/fetch"
	"github.com/gaborage/e2e-gateway/health"
	"github.com/gaborage/e2e-gateway/logger"
	"github.com/gaborage/e2e-gateway/orchestrator"
	"github.com/gaborage/e2e-gateway/worker"
)

// ProbeOptions holds options for the probe command
type ProbeOptions struct {
	Timeout time.Duration
}

// NewProbeCommand creates the probe command
func NewProbeCommand(global *GlobalOptions) *cobra.Command {
	opts := &ProbeOptions{}

	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Check that the backend and worker are reachable",
		Long: `Runs one health check against each upstream and prints the report as JSON.
Exits non-zero when any upstream is disconnected.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := global.load()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), opts.Timeout)
			defer cancel()
			return runProbe(ctx, cfg, log, cmd.OutOrStdout())
		},
	}

	cmd.Flags().DurationVarP(&opts.Timeout, "timeout", "t", 15*time.Second, "Overall probe deadline")

	return cmd
}

func runProbe(ctx context.Context, cfg *config.Config, log logger.Logger, out io.Writer) error {
	fetcher := fetch.New(log)

	backend, err := orchestrator.New(orchestrator.Config{
		BackendURL:    cfg.Backend.URL,
		HealthTimeout: cfg.Backend.Timeout.Health,
	}, fetcher, log)
	if err != nil {
		return err
	}
	wk, err := worker.New(worker.Config{
		WorkerURL:     cfg.Worker.URL,
		HealthTimeout: cfg.Worker.Timeout.Health,
	}, fetcher, log)
	if err != nil {
		return err
	}

	report := health.NewAggregator(log, backend, wk).Check(ctx)

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return err
	}
	if report.Status != health.StateConnected {
		return fmt.Errorf("upstreams %s", report.Status)
	}
	return nil
}
