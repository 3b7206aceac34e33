package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/niftyalgo/trader/config"
)

func newConfigCmd(flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Generate or validate configuration files",
	}

	var output string
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg := config.Default()
			cfg.Accounts = []config.AccountConfig{{ClientCode: "YOUR_CLIENT_CODE"}}
			if err := cfg.SaveToFile(output); err != nil {
				return err
			}
			fmt.Printf("wrote %s\n", output)
			return nil
		},
	}
	initCmd.Flags().StringVarP(&output, "output", "o", "config.yaml", "where to write the config")

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the config file",
		RunE: func(_ *cobra.Command, _ []string) error {
			if _, err := config.LoadFromFile(flags.configPath); err != nil {
				return err
			}
			fmt.Printf("%s is valid\n", flags.configPath)
			return nil
		},
	}

	cmd.AddCommand(initCmd, validateCmd)
	return cmd
}
