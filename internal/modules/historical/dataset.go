package historical

import (
	"fmt"
	"time"

	"github.com/aristath/sentinel-cvx/internal/domain"
	"github.com/aristath/sentinel-cvx/internal/modules/estimator"
)

// Dataset is an aligned history of returns and volumes for a universe.
type Dataset struct {
	Universe domain.Universe
	Returns  *domain.Frame
	Volumes  *domain.Frame
}

// NewDataset checks that both frames have the universe assets as columns and share
// their timestamps.
func NewDataset(universe domain.Universe, returns, volumes *domain.Frame) (*Dataset, error) {
	for name, f := range map[string]*domain.Frame{"returns": returns, "volumes": volumes} {
		if err := f.Validate(); err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		assets := universe.Assets()
		if len(f.Assets) != len(assets) {
			return nil, &estimator.DimensionMismatchError{Name: name, WantRows: f.Rows(), WantCols: len(assets), GotRows: f.Rows(), GotCols: len(f.Assets)}
		}
		for j := range assets {
			if f.Assets[j] != assets[j] {
				return nil, fmt.Errorf("%s column %d is %q, universe has %q", name, j, f.Assets[j], assets[j])
			}
		}
	}
	if returns.Rows() != volumes.Rows() {
		return nil, fmt.Errorf("returns have %d rows, volumes %d", returns.Rows(), volumes.Rows())
	}
	for i := range returns.Times {
		if !returns.Times[i].Equal(volumes.Times[i]) {
			return nil, fmt.Errorf("returns and volumes disagree at row %d", i)
		}
	}
	return &Dataset{Universe: universe, Returns: returns, Volumes: volumes}, nil
}

// Timeline returns the dataset timestamps within [from, to]. A zero bound is open.
func (d *Dataset) Timeline(from, to time.Time) (domain.Timeline, error) {
	var times []time.Time
	for _, t := range d.Returns.Times {
		if (!from.IsZero() && t.Before(from)) || (!to.IsZero() && t.After(to)) {
			continue
		}
		times = append(times, t)
	}
	if len(times) == 0 {
		return domain.Timeline{}, fmt.Errorf("%w between %s and %s", ErrNoData, from.Format("2006-01-02"), to.Format("2006-01-02"))
	}
	return domain.NewTimeline(times)
}

// ContextAt builds the market context at t: returns and volumes strictly before t,
// the given portfolio value and lookahead step.
func (d *Dataset) ContextAt(t time.Time, portfolioValue float64, step int) *domain.MarketContext {
	return &domain.MarketContext{
		PastReturns:           d.Returns.Before(t),
		PastVolumes:           d.Volumes.Before(t),
		CurrentPortfolioValue: portfolioValue,
		MPOStep:               step,
	}
}

// ReturnsAt returns the asset returns realized at t.
func (d *Dataset) ReturnsAt(t time.Time) ([]float64, bool) {
	return d.Returns.Row(t)
}

// VolumeSource exposes the volume history as a time-and-asset-indexed source.
func (d *Dataset) VolumeSource() (*estimator.TableSource, error) {
	return estimator.Table(d.Volumes)
}
