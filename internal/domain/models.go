// Package domain provides the core backtest domain types: the investable
// universe, the backtest timeline, time x asset frames and the per-step market
// context handed to estimators.
package domain

import (
	"errors"
	"fmt"
	"time"
)

// DefaultCashName is the identifier of the synthetic trailing cash entry.
const DefaultCashName = "cash"

var (
	// ErrEmptyUniverse is returned when a universe has no tradable assets.
	ErrEmptyUniverse = errors.New("universe has no assets")
	// ErrTimelineOrder is returned when timeline timestamps are not strictly increasing.
	ErrTimelineOrder = errors.New("timeline must be strictly increasing")
)

// Universe is the ordered set of tradable assets followed by one synthetic cash entry.
// It is fixed for the duration of a backtest.
type Universe struct {
	assets []string
	cash   string
}

// NewUniverse creates a universe from asset identifiers. The cash entry is
// appended implicitly and must not appear among the assets.
func NewUniverse(assets []string, cash string) (Universe, error) {
	if len(assets) == 0 {
		return Universe{}, ErrEmptyUniverse
	}
	if cash == "" {
		cash = DefaultCashName
	}

	seen := make(map[string]struct{}, len(assets))
	for _, a := range assets {
		if a == "" {
			return Universe{}, fmt.Errorf("universe contains an empty asset identifier")
		}
		if a == cash {
			return Universe{}, fmt.Errorf("asset %q collides with the cash entry", a)
		}
		if _, dup := seen[a]; dup {
			return Universe{}, fmt.Errorf("duplicate asset %q in universe", a)
		}
		seen[a] = struct{}{}
	}

	owned := make([]string, len(assets))
	copy(owned, assets)
	return Universe{assets: owned, cash: cash}, nil
}

// Len returns the number of entries including cash.
func (u Universe) Len() int { return len(u.assets) + 1 }

// NumAssets returns the number of tradable assets (cash excluded).
func (u Universe) NumAssets() int { return len(u.assets) }

// CashIndex returns the position of the cash entry.
func (u Universe) CashIndex() int { return len(u.assets) }

// Cash returns the name of the cash entry.
func (u Universe) Cash() string { return u.cash }

// Assets returns a copy of the tradable asset identifiers.
func (u Universe) Assets() []string {
	out := make([]string, len(u.assets))
	copy(out, u.assets)
	return out
}

// Names returns assets followed by the cash entry.
func (u Universe) Names() []string {
	return append(u.Assets(), u.cash)
}

// Timeline is the strictly increasing sequence of backtest timestamps.
type Timeline struct {
	times []time.Time
	index map[int64]int
}

// NewTimeline validates and indexes the given timestamps.
func NewTimeline(times []time.Time) (Timeline, error) {
	index := make(map[int64]int, len(times))
	owned := make([]time.Time, len(times))
	for i, t := range times {
		if i > 0 && !t.After(times[i-1]) {
			return Timeline{}, fmt.Errorf("%w: %s follows %s", ErrTimelineOrder,
				t.Format(time.RFC3339), times[i-1].Format(time.RFC3339))
		}
		owned[i] = t
		index[t.UnixNano()] = i
	}
	return Timeline{times: owned, index: index}, nil
}

// Len returns the number of steps.
func (tl Timeline) Len() int { return len(tl.times) }

// At returns the i-th timestamp.
func (tl Timeline) At(i int) time.Time { return tl.times[i] }

// IndexOf returns the position of t in the timeline.
func (tl Timeline) IndexOf(t time.Time) (int, bool) {
	i, ok := tl.index[t.UnixNano()]
	return i, ok
}

// Contains reports whether t is a timeline step.
func (tl Timeline) Contains(t time.Time) bool {
	_, ok := tl.index[t.UnixNano()]
	return ok
}

// Times returns a copy of the timestamps.
func (tl Timeline) Times() []time.Time {
	out := make([]time.Time, len(tl.times))
	copy(out, tl.times)
	return out
}

// First returns the first timestamp, or the zero time for an empty timeline.
func (tl Timeline) First() time.Time {
	if len(tl.times) == 0 {
		return time.Time{}
	}
	return tl.times[0]
}

// Last returns the last timestamp, or the zero time for an empty timeline.
func (tl Timeline) Last() time.Time {
	if len(tl.times) == 0 {
		return time.Time{}
	}
	return tl.times[len(tl.times)-1]
}
