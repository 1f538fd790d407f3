package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"market-data-automation/internal/app"
)

var (
	exportSymbol    string
	exportFrom      string
	exportTo        string
	exportPNGPath   string
	exportCSVPath   string
	exportMaxPoints int

	importPath   string
	importDryRun bool
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export a symbol's stored history as CSV and/or PNG chart",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.ExportOptions{
			Symbol:    exportSymbol,
			PNGPath:   exportPNGPath,
			CSVPath:   exportCSVPath,
			MaxPoints: exportMaxPoints,
		}

		if exportFrom != "" {
			from, err := time.Parse(time.RFC3339, exportFrom)
			if err != nil {
				return fmt.Errorf("invalid --from value: %w", err)
			}
			opts.From = &from
		}

		if exportTo != "" {
			to, err := time.Parse(time.RFC3339, exportTo)
			if err != nil {
				return fmt.Errorf("invalid --to value: %w", err)
			}
			opts.To = &to
		}

		return getApp().Export(cmd.Context(), opts)
	},
}

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Load a CSV mirror back into the primary store",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Import(cmd.Context(), app.ImportOptions{
			Path:   importPath,
			DryRun: importDryRun,
		})
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportSymbol, "symbol", "", "Symbol to export")
	exportCmd.Flags().StringVar(&exportFrom, "from", "", "Start timestamp (RFC3339, inclusive)")
	exportCmd.Flags().StringVar(&exportTo, "to", "", "End timestamp (RFC3339, exclusive)")
	exportCmd.Flags().StringVar(&exportPNGPath, "png", "", "Path to write PNG chart")
	exportCmd.Flags().StringVar(&exportCSVPath, "csv", "", "Path to write CSV data")
	exportCmd.Flags().IntVar(&exportMaxPoints, "max-points", 0, "Maximum data points to export (defaults to config)")
	_ = exportCmd.MarkFlagRequired("symbol")

	importCmd.Flags().StringVar(&importPath, "path", "", "CSV file to import (defaults to storage.csv_path)")
	importCmd.Flags().BoolVar(&importDryRun, "dry-run", false, "Report what would be stored without writing")
}
