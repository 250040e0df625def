package rotation

import (
	"fmt"
	"time"

	"github.com/adhocore/gronx"
)

// PendingRollover tracks a calendar-day boundary observed while the user was
// still active. The rotation is deferred until the user goes idle or the
// deferral ceiling passes; at most one exists per session.
type PendingRollover struct {
	FromDayKey      string    `json:"fromDayKey"`
	ToDayKey        string    `json:"toDayKey"`
	FirstDetectedAt time.Time `json:"firstDetectedAt"`
}

// DayBoundary derives calendar day keys from a cron schedule, so the "day"
// can roll at any configured hour, not just midnight.
type DayBoundary struct {
	expr string
}

func NewDayBoundary(expr string) (*DayBoundary, error) {
	if !gronx.New().IsValid(expr) {
		return nil, fmt.Errorf("invalid rollover cron expression %q", expr)
	}
	return &DayBoundary{expr: expr}, nil
}

// DayKey names the calendar day t falls in: the date of the most recent
// boundary tick at or before t.
func (b *DayBoundary) DayKey(t time.Time) (string, error) {
	tick, err := gronx.PrevTickBefore(b.expr, t, true)
	if err != nil {
		return "", fmt.Errorf("compute rollover boundary: %w", err)
	}
	return tick.Format("2006-01-02"), nil
}

// Crossed reports whether a boundary lies between two instants.
func (b *DayBoundary) Crossed(earlier, later time.Time) (from, to string, crossed bool, err error) {
	from, err = b.DayKey(earlier)
	if err != nil {
		return "", "", false, err
	}
	to, err = b.DayKey(later)
	if err != nil {
		return "", "", false, err
	}
	return from, to, from != to, nil
}
