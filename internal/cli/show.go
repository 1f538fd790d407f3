package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"market-data-automation/internal/app"
)

var (
	showSymbol  string
	showLimit   int
	cleanupDays int
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display recent stored quotes",
	RunE: func(cmd *cobra.Command, args []string) error {
		if showLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}

		opts := app.ShowOptions{
			Symbol: showSymbol,
			Limit:  showLimit,
		}

		return getApp().Show(cmd.Context(), opts)
	},
}

var latestCmd = &cobra.Command{
	Use:   "latest",
	Short: "Display the newest stored quote per symbol",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Latest(cmd.Context())
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Display storage statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Stats(cmd.Context())
	},
}

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete stored quotes older than the retention window",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cleanupDays < 0 {
			return fmt.Errorf("--days must not be negative")
		}
		return getApp().Cleanup(cmd.Context(), cleanupDays)
	},
}

func init() {
	showCmd.Flags().StringVar(&showSymbol, "symbol", "", "Only show this symbol")
	showCmd.Flags().IntVar(&showLimit, "limit", 10, "Number of quotes to display")
	cleanupCmd.Flags().IntVar(&cleanupDays, "days", 0, "Retention in days (defaults to config)")
}
