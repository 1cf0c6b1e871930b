package api

import (
	"fmt"
	"time"
	_ "time/tzdata"
)

// OperationWindow is the daily interval in which users may claim, submit and withdraw.
type OperationWindow struct {
	Location  *time.Location
	StartHour int
	EndHour   int
	Enabled   bool
}

// NewOperationWindow resolves the timezone name. The hours are [start, end) in local time.
func NewOperationWindow(timezone string, startHour, endHour int, enabled bool) (OperationWindow, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return OperationWindow{}, fmt.Errorf("load operation timezone %q: %w", timezone, err)
	}
	if startHour < 0 || endHour > 24 || startHour >= endHour {
		return OperationWindow{}, fmt.Errorf("invalid operation window %d-%d", startHour, endHour)
	}
	return OperationWindow{
		Location:  loc,
		StartHour: startHour,
		EndHour:   endHour,
		Enabled:   enabled,
	}, nil
}

// IsOpen reports whether now falls inside the window.
func (w OperationWindow) IsOpen(now time.Time) bool {
	if !w.Enabled {
		return true
	}
	loc := w.Location
	if loc == nil {
		loc = time.UTC
	}
	hour := now.In(loc).Hour()
	return hour >= w.StartHour && hour < w.EndHour
}

func (w OperationWindow) closedMessage() string {
	return fmt.Sprintf("Service is available from %02d:00 to %02d:00 (%s)", w.StartHour, w.EndHour, w.Location)
}
