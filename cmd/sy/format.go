package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/zulandar/shopyard/internal/models"
)

const clockLayout = "2006-01-02 15:04"

// parseWhen accepts RFC 3339 or "YYYY-MM-DD HH:MM" in local time. An empty
// string yields def.
func parseWhen(s string, def time.Time) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return def, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	t, err := time.ParseInLocation(clockLayout, s, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q: want RFC 3339 or %q", s, clockLayout)
	}
	return t, nil
}

// formatBooking renders a stage's machine interval, or "-" when unbooked.
func formatBooking(s models.Stage) string {
	if !s.Booked() {
		return "-"
	}
	start, end := s.ScheduledStart, s.ScheduledEnd
	endLayout := "15:04"
	if start.YearDay() != end.YearDay() || start.Year() != end.Year() {
		endLayout = clockLayout
	}
	return fmt.Sprintf("%s %s-%s", s.MachineID, start.Format(clockLayout), end.Format(endLayout))
}

// dash returns "-" for empty strings.
func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
