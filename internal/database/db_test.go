package database

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTemp(t *testing.T, name string) *DB {
	t.Helper()
	db, err := New(Config{Path: filepath.Join(t.TempDir(), name+".db"), Name: name})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestMigrate_HistorySchemaIsIdempotent(t *testing.T) {
	db := openTemp(t, "history")
	require.NoError(t, db.Migrate())
	require.NoError(t, db.Migrate())

	var count int
	err := db.Conn().QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name IN ('daily_bars', 'backtest_runs')`).Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	assert.NoError(t, db.HealthCheck(context.Background()))
}

func TestMigrate_UnknownNameIsNoop(t *testing.T) {
	db := openTemp(t, "scratch")
	assert.NoError(t, db.Migrate())
	assert.Equal(t, "scratch", db.Name())
	assert.True(t, filepath.IsAbs(db.Path()))
}

func TestWithTransaction(t *testing.T) {
	db := openTemp(t, "history")
	require.NoError(t, db.Migrate())

	insert := func(tx *sql.Tx) error {
		_, err := tx.Exec(`INSERT INTO daily_bars (asset, date, ret, volume) VALUES ('AAA', 1, 0.01, 100)`)
		return err
	}

	boom := errors.New("boom")
	err := WithTransaction(db.Conn(), func(tx *sql.Tx) error {
		require.NoError(t, insert(tx))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	err = WithTransaction(db.Conn(), func(tx *sql.Tx) error {
		require.NoError(t, insert(tx))
		panic("bad")
	})
	assert.Error(t, err)

	require.NoError(t, WithTransaction(db.Conn(), insert))

	var n int
	require.NoError(t, db.Conn().QueryRow(`SELECT COUNT(*) FROM daily_bars`).Scan(&n))
	assert.Equal(t, 1, n)

	assert.Error(t, WithTransaction(nil, insert))
}
