package cli

import (
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one fetch, store and alert batch",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Run(cmd.Context())
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Run batches on the configured interval until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Watch(cmd.Context())
	},
}

var thresholdsCmd = &cobra.Command{
	Use:   "thresholds",
	Short: "Print the configured price thresholds",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Thresholds()
	},
}
