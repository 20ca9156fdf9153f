// Package historical stores daily market bars and turns them into the market
// contexts a backtest feeds to its estimators.
package historical

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/aristath/sentinel-cvx/internal/database"
	"github.com/aristath/sentinel-cvx/internal/domain"
	"github.com/rs/zerolog"
)

// ErrNoData is returned when a query matches no complete observation.
var ErrNoData = errors.New("no historical data")

// Bar is one asset's daily observation.
type Bar struct {
	Asset  string
	Date   time.Time
	Return float64
	Volume float64
}

// RunRecord is the persisted summary of one backtest run.
type RunRecord struct {
	ID         string
	StartedAt  time.Time
	FinishedAt time.Time
	Steps      int
	FinalValue float64
}

// Store provides access to the daily_bars and backtest_runs tables.
type Store struct {
	db  *database.DB
	log zerolog.Logger
}

// NewStore creates a store on a migrated history database.
func NewStore(db *database.DB, log zerolog.Logger) *Store {
	return &Store{
		db:  db,
		log: log.With().Str("component", "history_store").Logger(),
	}
}

// SaveBars inserts or replaces bars in a single transaction.
func (s *Store) SaveBars(ctx context.Context, bars []Bar) error {
	for i, b := range bars {
		if b.Asset == "" {
			return fmt.Errorf("bar %d has no asset", i)
		}
		if math.IsNaN(b.Return) || math.IsInf(b.Return, 0) || math.IsNaN(b.Volume) || math.IsInf(b.Volume, 0) {
			return fmt.Errorf("bar %d (%s %s) has non-finite values", i, b.Asset, b.Date.Format("2006-01-02"))
		}
	}

	err := database.WithTransaction(s.db.Conn(), func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT OR REPLACE INTO daily_bars (asset, date, ret, volume)
			VALUES (?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare bar insert: %w", err)
		}
		defer stmt.Close()

		for _, b := range bars {
			if _, err := stmt.ExecContext(ctx, b.Asset, b.Date.UTC().Unix(), b.Return, b.Volume); err != nil {
				return fmt.Errorf("failed to insert bar %s %s: %w", b.Asset, b.Date.Format("2006-01-02"), err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.log.Debug().Int("bars", len(bars)).Msg("Saved daily bars")
	return nil
}

// Assets returns every asset with at least one bar, sorted.
func (s *Store) Assets(ctx context.Context) ([]string, error) {
	rows, err := s.db.Conn().QueryContext(ctx, `SELECT DISTINCT asset FROM daily_bars ORDER BY asset`)
	if err != nil {
		return nil, fmt.Errorf("failed to query assets: %w", err)
	}
	defer rows.Close()

	var assets []string
	for rows.Next() {
		var a string
		if err := rows.Scan(&a); err != nil {
			return nil, fmt.Errorf("failed to scan asset: %w", err)
		}
		assets = append(assets, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating assets: %w", err)
	}
	return assets, nil
}

// LoadDataset reads the bars of assets dated within [from, to] and aligns them into
// return and volume frames. Dates on which any asset is missing are dropped. A zero
// to leaves the range open at the end.
func (s *Store) LoadDataset(ctx context.Context, assets []string, from, to time.Time) (*Dataset, error) {
	universe, err := domain.NewUniverse(assets, "")
	if err != nil {
		return nil, err
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(assets)), ",")
	query := `
		SELECT asset, date, ret, volume
		FROM daily_bars
		WHERE asset IN (` + placeholders + `) AND date >= ? AND date <= ?
		ORDER BY date
	`
	args := make([]any, 0, len(assets)+2)
	for _, a := range assets {
		args = append(args, a)
	}
	upper := int64(math.MaxInt64)
	if !to.IsZero() {
		upper = to.UTC().Unix()
	}
	args = append(args, from.UTC().Unix(), upper)

	rows, err := s.db.Conn().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query daily bars: %w", err)
	}
	defer rows.Close()

	column := make(map[string]int, len(assets))
	for j, a := range assets {
		column[a] = j
	}
	type observation struct {
		ret, vol []float64
		seen     int
	}
	byDate := make(map[int64]*observation)
	for rows.Next() {
		var (
			asset    string
			date     int64
			ret, vol float64
		)
		if err := rows.Scan(&asset, &date, &ret, &vol); err != nil {
			return nil, fmt.Errorf("failed to scan daily bar: %w", err)
		}
		obs, ok := byDate[date]
		if !ok {
			obs = &observation{ret: make([]float64, len(assets)), vol: make([]float64, len(assets))}
			byDate[date] = obs
		}
		j := column[asset]
		obs.ret[j] = ret
		obs.vol[j] = vol
		obs.seen++
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating daily bars: %w", err)
	}

	dates := make([]int64, 0, len(byDate))
	dropped := 0
	for date, obs := range byDate {
		if obs.seen != len(assets) {
			dropped++
			continue
		}
		dates = append(dates, date)
	}
	if len(dates) == 0 {
		return nil, fmt.Errorf("%w for %v between %s and %s", ErrNoData, assets, from.Format("2006-01-02"), to.Format("2006-01-02"))
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i] < dates[j] })

	times := make([]time.Time, len(dates))
	returns := make([][]float64, len(dates))
	volumes := make([][]float64, len(dates))
	for i, date := range dates {
		times[i] = time.Unix(date, 0).UTC()
		returns[i] = byDate[date].ret
		volumes[i] = byDate[date].vol
	}

	if dropped > 0 {
		s.log.Warn().Int("dropped_dates", dropped).Int("kept_dates", len(dates)).Msg("Dropped dates with incomplete bars")
	}

	retFrame, err := domain.NewFrame(times, assets, returns)
	if err != nil {
		return nil, err
	}
	volFrame, err := domain.NewFrame(times, assets, volumes)
	if err != nil {
		return nil, err
	}
	return NewDataset(universe, retFrame, volFrame)
}

// SaveRun records a backtest run summary.
func (s *Store) SaveRun(ctx context.Context, run RunRecord) error {
	_, err := s.db.Conn().ExecContext(ctx, `
		INSERT OR REPLACE INTO backtest_runs (id, started_at, finished_at, steps, final_value)
		VALUES (?, ?, ?, ?, ?)
	`, run.ID, run.StartedAt.UTC().Unix(), run.FinishedAt.UTC().Unix(), run.Steps, run.FinalValue)
	if err != nil {
		return fmt.Errorf("failed to save backtest run %s: %w", run.ID, err)
	}
	return nil
}

// GetRun loads a backtest run summary.
func (s *Store) GetRun(ctx context.Context, id string) (*RunRecord, error) {
	var (
		run              RunRecord
		started, finished int64
	)
	err := s.db.Conn().QueryRowContext(ctx, `
		SELECT id, started_at, finished_at, steps, final_value
		FROM backtest_runs
		WHERE id = ?
	`, id).Scan(&run.ID, &started, &finished, &run.Steps, &run.FinalValue)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("backtest run %s: %w", id, ErrNoData)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load backtest run %s: %w", id, err)
	}
	run.StartedAt = time.Unix(started, 0).UTC()
	run.FinishedAt = time.Unix(finished, 0).UTC()
	return &run, nil
}
