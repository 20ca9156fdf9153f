package constraints

import (
	"fmt"
	"time"

	"github.com/aristath/sentinel-cvx/internal/domain"
	"github.com/robfig/cron/v3"
)

// Calendar decides which timeline timestamps a time-scheduled constraint is active at.
type Calendar interface {
	// Resolve returns the active subset of the timeline.
	Resolve(timeline domain.Timeline) (map[int64]struct{}, error)
}

type fixedTimes []time.Time

// FixedTimes is a calendar of explicit timestamps. Timestamps absent from the
// timeline are ignored.
func FixedTimes(times ...time.Time) Calendar {
	return fixedTimes(append([]time.Time(nil), times...))
}

func (f fixedTimes) Resolve(timeline domain.Timeline) (map[int64]struct{}, error) {
	active := make(map[int64]struct{}, len(f))
	for _, t := range f {
		if timeline.Contains(t) {
			active[t.UnixNano()] = struct{}{}
		}
	}
	return active, nil
}

type cronCalendar struct {
	expr     string
	schedule cron.Schedule
}

// CronCalendar parses a standard five-field cron expression (or a descriptor such
// as "@monthly"). A timeline timestamp is active when the schedule fires in the
// half-open interval (previous timestamp, timestamp].
func CronCalendar(expr string) (Calendar, error) {
	schedule, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, fmt.Errorf("parse cron calendar %q: %w", expr, err)
	}
	return &cronCalendar{expr: expr, schedule: schedule}, nil
}

func (c *cronCalendar) Resolve(timeline domain.Timeline) (map[int64]struct{}, error) {
	active := make(map[int64]struct{})
	for i := 0; i < timeline.Len(); i++ {
		t := timeline.At(i)
		from := t.Add(-time.Nanosecond)
		if i > 0 {
			from = timeline.At(i - 1)
		}
		if next := c.schedule.Next(from); !next.IsZero() && !next.After(t) {
			active[t.UnixNano()] = struct{}{}
		}
	}
	return active, nil
}

func (c *cronCalendar) String() string { return c.expr }
