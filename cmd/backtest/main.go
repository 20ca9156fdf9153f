package main

import (
	"os"

	"github.com/aristath/sentinel-cvx/cmd/backtest/commands"
)

// main is the entry point for the backtest CLI
func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
