package timeutil

import (
	"fmt"
	"time"
)

// HourWindow is a recurring daily window in local wall-clock time,
// written "HH:MM-HH:MM". The window may wrap past midnight, e.g.
// "22:00-06:00". Equal endpoints mean the whole day.
type HourWindow struct {
	startMin int // minutes since midnight, inclusive
	endMin   int // minutes since midnight, exclusive
}

// ParseHourWindow parses "HH:MM-HH:MM".
func ParseHourWindow(s string) (HourWindow, error) {
	var sh, sm, eh, em int
	if _, err := fmt.Sscanf(s, "%d:%d-%d:%d", &sh, &sm, &eh, &em); err != nil {
		return HourWindow{}, fmt.Errorf("invalid hour window %q (want HH:MM-HH:MM): %w", s, err)
	}
	if sh < 0 || sh > 23 || eh < 0 || eh > 23 || sm < 0 || sm > 59 || em < 0 || em > 59 {
		return HourWindow{}, fmt.Errorf("invalid hour window %q: hours 0-23, minutes 0-59", s)
	}
	return HourWindow{startMin: sh*60 + sm, endMin: eh*60 + em}, nil
}

// MustParseHourWindow parses or panics. For tests and literals.
func MustParseHourWindow(s string) HourWindow {
	w, err := ParseHourWindow(s)
	if err != nil {
		panic(err)
	}
	return w
}

// Contains reports whether t's wall-clock time falls inside the window.
func (w HourWindow) Contains(t time.Time) bool {
	m := t.Hour()*60 + t.Minute()
	if w.startMin == w.endMin {
		return true
	}
	if w.startMin < w.endMin {
		return m >= w.startMin && m < w.endMin
	}
	// Wraps midnight.
	return m >= w.startMin || m < w.endMin
}

// String renders the window back to "HH:MM-HH:MM".
func (w HourWindow) String() string {
	return fmt.Sprintf("%02d:%02d-%02d:%02d", w.startMin/60, w.startMin%60, w.endMin/60, w.endMin%60)
}
