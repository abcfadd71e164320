package reconcile

import (
	"fmt"
	"time"
)

// ActiveWindow is the daily time band in which scheduled reconciliation
// cycles do work; cycles outside it are skipped.
type ActiveWindow struct {
	startMin int
	endMin   int
}

// ParseActiveWindow parses "HH:MM" bounds. A start after the end describes a
// window that wraps past midnight.
func ParseActiveWindow(start, end string) (ActiveWindow, error) {
	s, err := parseClockMinutes(start)
	if err != nil {
		return ActiveWindow{}, fmt.Errorf("active window start: %w", err)
	}
	e, err := parseClockMinutes(end)
	if err != nil {
		return ActiveWindow{}, fmt.Errorf("active window end: %w", err)
	}
	return ActiveWindow{startMin: s, endMin: e}, nil
}

func parseClockMinutes(clock string) (int, error) {
	t, err := time.Parse("15:04", clock)
	if err != nil {
		return 0, fmt.Errorf("invalid time %q, want HH:MM: %w", clock, err)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// Contains reports whether t falls inside the window. The start is
// inclusive, the end exclusive.
func (w ActiveWindow) Contains(t time.Time) bool {
	m := t.Hour()*60 + t.Minute()
	if w.startMin <= w.endMin {
		return m >= w.startMin && m < w.endMin
	}
	// Window wraps past midnight.
	return m >= w.startMin || m < w.endMin
}
