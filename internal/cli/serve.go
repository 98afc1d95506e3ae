package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nhle/mailsift/internal/app"
	"github.com/nhle/mailsift/internal/logging"
)

func newServeCmd() *cobra.Command {
	var (
		addr string
		dev  bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Connect every account and serve the HTTP API",
		Long: "Starts a mailbox session per configured account (backfill, then watch) " +
			"and serves the HTTP API until interrupted. With --dev, sample data is " +
			"seeded and no IMAP connection is made.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("addr") {
				cfg.HTTP.Addr = addr
			}
			if dev {
				cfg.DevMode = true
			}

			logger, err := logging.New(cmd.ErrOrStderr(), cfg.Log.Level, cfg.Log.Format)
			if err != nil {
				return fmt.Errorf("failed to set up logging: %w", err)
			}

			a, err := app.New(cfg, logger)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			runErr := a.ListenAndRun(ctx)
			if err := a.Close(); err != nil {
				logger.Error("shutdown", "error", err)
			}
			return runErr
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "HTTP listen address (overrides http.addr)")
	cmd.Flags().BoolVar(&dev, "dev", false, "seed sample data and skip IMAP")
	return cmd
}
