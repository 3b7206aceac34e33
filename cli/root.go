// Package cli wires the trading system together behind a cobra command
// tree: run the bot, generate a plan, manage config, query the journal.
package cli

import (
	"github.com/spf13/cobra"
)

type rootFlags struct {
	configPath string
	envPath    string
	logLevel   string
}

func NewRootCmd() *cobra.Command {
	flags := &rootFlags{}

	cmd := &cobra.Command{
		Use:           "trader",
		Short:         "Intraday NIFTY options trading bot",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "config.yaml", "path to the config file")
	cmd.PersistentFlags().StringVar(&flags.envPath, "env", ".env", "path to a .env credentials file")
	cmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "info", "log level: debug, info, warn or error")

	cmd.AddCommand(
		newRunCmd(flags),
		newPlanCmd(flags),
		newConfigCmd(flags),
		newJournalCmd(flags),
	)
	return cmd
}
