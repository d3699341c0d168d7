package commands

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/gaborage/e2e-gateway/app"
)

// NewServeCommand creates the serve command
func NewServeCommand(opts *GlobalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP gateway",
		Long:  "Start the gateway and serve until SIGINT or SIGTERM, then shut down gracefully.",
		Example: `  # Defaults plus config.yaml and .env from the working directory
  gateway serve

  # Point at remote upstreams
  GATEWAY_BACKEND_URL=http://backend:8000 GATEWAY_WORKER_URL=http://worker:8787 gateway serve`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := opts.load()
			if err != nil {
				return err
			}

			a, err := app.New(cfg, log)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.Run(ctx)
		},
	}
}
