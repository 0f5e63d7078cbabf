package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"waveq/internal/daemon"
	"waveq/internal/logging"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the daemon in the foreground",
		Long: "Run the dispatcher, the HTTP API, and the cleanup scheduler until interrupted.\n" +
			"Only one daemon may run per data directory.",
		RunE: func(cmd *cobra.Command, args []string) error {
			signalCtx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			cfg, err := ctx.ensureConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.NewFromConfig(cfg)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			logging.CleanupOldLogs(logger, cfg.Paths.LogDir, "*.log*", cfg.Logging.RetentionDays)

			d, err := daemon.New(signalCtx, cfg, logger, version)
			if err != nil {
				return err
			}
			defer func() {
				if err := d.Close(); err != nil {
					logger.Warn("close daemon", logging.Error(err))
				}
			}()

			if err := d.Start(signalCtx); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "waveq daemon listening on %s\n", d.APIAddr())

			<-signalCtx.Done()
			logger.Info("shutdown requested")
			return nil
		},
	}
}
