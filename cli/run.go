package cli

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func newRunCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the trading bot through the daily schedule",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			sys, err := buildSystem(ctx, flags)
			if err != nil {
				return err
			}
			defer sys.journal.Close()

			sched := sys.scheduler()
			if err := sched.Start(ctx); err != nil {
				return err
			}
			sys.log.Info("scheduler running",
				"mode", sys.cfg.Broker.Mode, "accounts", len(sys.accounts))

			<-ctx.Done()
			sys.log.Info("shutting down")
			sched.Stop()
			return nil
		},
	}
}
