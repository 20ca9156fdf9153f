// Package commands implements the backtest CLI.
package commands

import (
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/aristath/sentinel-cvx/internal/config"
	"github.com/aristath/sentinel-cvx/pkg/logger"
)

var (
	// Global flags
	verbose bool

	cfg *config.Config
	log zerolog.Logger
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "backtest",
	Short: "Backtest portfolios under time-varying constraints",
	Long: `Backtest CLI

Replays daily history from a SQLite database through a policy whose
constraints are refreshed from market data at every step.

Environment (or .env):
  LOG_LEVEL, LOG_PRETTY, HISTORY_DB_PATH, MPO_HORIZON,
  MARKET_NEUTRAL_WINDOW, PENALTY_WEIGHT, METRICS_ADDR

Examples:
  backtest import --csv bars.csv
  backtest validate --constraints neutral.yaml
  backtest run --constraints neutral.yaml --from 2024-01-01`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load()
		if err != nil {
			return err
		}
		if verbose {
			loaded.LogLevel = "debug"
		}
		cfg = loaded
		log = logger.New(logger.Config{Level: cfg.LogLevel, Pretty: cfg.LogPretty})
		logger.SetGlobalLogger(log)
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
}
