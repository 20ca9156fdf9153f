package commands

import (
	"fmt"

	"github.com/aristath/sentinel-cvx/internal/database"
	"github.com/aristath/sentinel-cvx/internal/modules/historical"
)

// openHistory opens and migrates the history database. An empty path uses
// HISTORY_DB_PATH.
func openHistory(path string) (*database.DB, *historical.Store, error) {
	if path == "" {
		path = cfg.HistoryDBPath
	}
	db, err := database.New(database.Config{
		Path:    path,
		Profile: database.ProfileStandard,
		Name:    "history",
	})
	if err != nil {
		return nil, nil, err
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("failed to migrate history database: %w", err)
	}
	return db, historical.NewStore(db, log), nil
}
