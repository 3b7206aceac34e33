package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/niftyalgo/trader/journal"
)

func newJournalCmd(flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Query the trade journal",
	}

	var db string
	cmd.PersistentFlags().StringVar(&db, "db", "./trader.db", "path to the SQLite journal")

	var account string
	var limit int
	dailyCmd := &cobra.Command{
		Use:   "daily",
		Short: "Show recent daily stats for an account",
		RunE: func(_ *cobra.Command, _ []string) error {
			j, err := journal.NewSQLite(db)
			if err != nil {
				return err
			}
			defer j.Close()

			days, err := j.ListDaily(account, limit)
			if err != nil {
				return err
			}
			if len(days) == 0 {
				fmt.Println("no daily stats recorded")
				return nil
			}
			fmt.Printf("%-12s %8s %8s %6s %5s %5s %6s\n",
				"date", "pnl", "net", "trades", "wins", "loss", "wr%")
			for _, d := range days {
				fmt.Printf("%-12s %8.2f %8.2f %6d %5d %5d %6.1f\n",
					d.Date, d.PnL, d.NetPnL, d.Trades, d.Wins, d.Losses, d.WinRate)
			}
			return nil
		},
	}
	dailyCmd.Flags().StringVarP(&account, "account", "a", "", "client code")
	dailyCmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of days")
	_ = dailyCmd.MarkFlagRequired("account")

	var date string
	positionsCmd := &cobra.Command{
		Use:   "positions",
		Short: "Show positions closed on a date",
		RunE: func(_ *cobra.Command, _ []string) error {
			day, err := time.ParseInLocation("2006-01-02", date, time.Local)
			if err != nil {
				return fmt.Errorf("bad date %q, want YYYY-MM-DD: %w", date, err)
			}

			j, err := journal.NewSQLite(db)
			if err != nil {
				return err
			}
			defer j.Close()

			rows, err := j.ListPositionsClosedBetween(day, day.AddDate(0, 0, 1))
			if err != nil {
				return err
			}
			if len(rows) == 0 {
				fmt.Println("no closed positions")
				return nil
			}
			for _, r := range rows {
				fmt.Printf("%s  %-10s %-24s %-18s qty %4d  %8.2f -> %8.2f  pnl %9.2f  %s\n",
					r.ExitTime.Format("15:04:05"), r.Account, r.Symbol, r.Pattern,
					r.Quantity, r.EntryPrice, r.ExitPrice, r.RealizedPL, r.Reason)
			}
			return nil
		},
	}
	positionsCmd.Flags().StringVarP(&date, "date", "d", time.Now().Format("2006-01-02"), "trading date")

	cmd.AddCommand(dailyCmd, positionsCmd)
	return cmd
}
