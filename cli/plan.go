package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// plan runs the morning analysis once and prints the resulting setups
// without starting the monitoring loop. Useful for a dry look at what
// the bot would trade today.
func newPlanCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "plan",
		Short: "Generate today's trade plan and print the setups",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			sys, err := buildSystem(ctx, flags)
			if err != nil {
				return err
			}
			defer sys.journal.Close()

			sys.scheduler().MorningPlan(ctx)

			now := sys.clk.Now()
			for _, acct := range sys.accounts {
				setups := sys.book.Account(acct.Code).PendingSetups(now)
				fmt.Printf("%s: %d setups\n", acct.Code, len(setups))
				for _, s := range setups {
					fmt.Printf("  %-24s entry %.2f stop %.2f targets %.2f/%.2f qty %d  %s\n",
						s.Instrument.TradingSymbol,
						s.EntryPrice, s.StopLoss, s.Target1, s.Target2, s.Quantity,
						s.Pattern)
					if s.Reasoning != "" {
						fmt.Printf("    %s\n", s.Reasoning)
					}
				}
			}
			return nil
		},
	}
}
