package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/aristath/sentinel-cvx/internal/modules/historical"
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Load daily bars from CSV into the history database",
	Long: `Reads a CSV file with the header asset,date,return,volume and stores
every row, replacing bars that already exist for the same asset and date.

Example:
  backtest import --csv bars.csv --db data/history.db`,
	RunE: runImport,
}

var (
	importDB  string
	importCSV string
)

func init() {
	rootCmd.AddCommand(importCmd)

	importCmd.Flags().StringVar(&importDB, "db", "", "history database (default HISTORY_DB_PATH)")
	importCmd.Flags().StringVar(&importCSV, "csv", "", "bars CSV file")
	_ = importCmd.MarkFlagRequired("csv")
}

func runImport(cmd *cobra.Command, args []string) error {
	f, err := os.Open(importCSV)
	if err != nil {
		return err
	}
	defer f.Close()

	bars, err := historical.ReadBarsCSV(f)
	if err != nil {
		return err
	}

	db, store, err := openHistory(importDB)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := store.SaveBars(cmd.Context(), bars); err != nil {
		return err
	}

	log.Info().Int("bars", len(bars)).Str("db", db.Path()).Msg("Imported bars")
	fmt.Fprintf(cmd.OutOrStdout(), "imported %d bars into %s\n", len(bars), db.Path())
	return nil
}
