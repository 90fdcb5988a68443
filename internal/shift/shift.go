// Package shift validates edits to the operating shift calendar.
package shift

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/zulandar/shopyard/internal/models"
)

// DefaultCalendar is used for windows that name no calendar.
const DefaultCalendar = "plant"

const (
	dateLayout  = "2006-01-02"
	minutesADay = 24 * 60
)

// Validate checks a window's fields: exactly one of Weekday or Date, a weekday
// in 0..6 (Sunday is 0), a YYYY-MM-DD date and HH:MM times.
func Validate(w models.ShiftWindow) error {
	var errs []string
	switch {
	case w.Weekday == nil && w.Date == "":
		errs = append(errs, "one of weekday or date is required")
	case w.Weekday != nil && w.Date != "":
		errs = append(errs, "weekday and date are mutually exclusive")
	case w.Weekday != nil && (*w.Weekday < 0 || *w.Weekday > 6):
		errs = append(errs, fmt.Sprintf("weekday %d outside 0..6", *w.Weekday))
	case w.Date != "":
		if _, err := time.Parse(dateLayout, w.Date); err != nil {
			errs = append(errs, fmt.Sprintf("date %q is not YYYY-MM-DD", w.Date))
		}
	}
	start, err := parseClock(w.Start)
	if err != nil {
		errs = append(errs, "start: "+err.Error())
	}
	end, err := parseClock(w.End)
	if err != nil {
		errs = append(errs, "end: "+err.Error())
	}
	if len(errs) == 0 && start == end {
		errs = append(errs, "start and end are equal")
	}
	if len(errs) > 0 {
		return fmt.Errorf("shift: invalid window %q: %s", w.Name, strings.Join(errs, "; "))
	}
	return nil
}

// parseClock parses "HH:MM" into minutes after midnight.
func parseClock(s string) (int, error) {
	hh, mm, ok := strings.Cut(s, ":")
	if !ok {
		return 0, fmt.Errorf("%q is not HH:MM", s)
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("%q has a bad hour", s)
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 || len(mm) != 2 {
		return 0, fmt.Errorf("%q has bad minutes", s)
	}
	return h*60 + m, nil
}

// span returns the window as [start, end) minutes after midnight of the
// date it applies to. Overnight windows end past 24:00.
func span(w models.ShiftWindow) (int, int, error) {
	start, err := parseClock(w.Start)
	if err != nil {
		return 0, 0, err
	}
	end, err := parseClock(w.End)
	if err != nil {
		return 0, 0, err
	}
	if end < start {
		end += minutesADay
	}
	return start, end, nil
}

// Occurrence returns the absolute [start, end) the window covers when it
// runs on date, in date's location. Overnight windows end the next day.
func Occurrence(w models.ShiftWindow, date time.Time) (time.Time, time.Time, error) {
	s, e, err := span(w)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("shift: window %q: %w", w.Name, err)
	}
	y, m, d := date.Date()
	midnight := time.Date(y, m, d, 0, 0, 0, 0, date.Location())
	return midnight.Add(time.Duration(s) * time.Minute), midnight.Add(time.Duration(e) * time.Minute), nil
}

func calendarOf(w models.ShiftWindow) string {
	if w.Calendar == "" {
		return DefaultCalendar
	}
	return w.Calendar
}

// sameDate reports whether two windows apply to the same calendar date.
// A dated window overrides recurring windows on its date rather than
// competing with them, so mixed pairs never share a date.
func sameDate(a, b models.ShiftWindow) bool {
	switch {
	case a.Recurring() && b.Recurring():
		return *a.Weekday == *b.Weekday
	case !a.Recurring() && !b.Recurring():
		return a.Date == b.Date
	default:
		return false
	}
}

// Conflicts reports whether a and b are both active, in the same calendar,
// apply to the same date and overlap in time.
func Conflicts(a, b models.ShiftWindow) bool {
	if !a.Active || !b.Active || calendarOf(a) != calendarOf(b) || !sameDate(a, b) {
		return false
	}
	as, ae, err := span(a)
	if err != nil {
		return false
	}
	bs, be, err := span(b)
	if err != nil {
		return false
	}
	return as < be && bs < ae
}

// Calendar is an in-memory shift calendar.
type Calendar struct {
	mu      sync.RWMutex
	windows []models.ShiftWindow
	nextID  uint
}

// NewCalendar returns a calendar holding windows. Every window must pass
// Validate; rows loaded from storage are held to the same rules as edits.
func NewCalendar(windows []models.ShiftWindow) (*Calendar, error) {
	c := &Calendar{}
	for _, w := range windows {
		if err := Validate(w); err != nil {
			return nil, fmt.Errorf("shift: load window %d: %w", w.ID, err)
		}
		c.windows = append(c.windows, w)
		if w.ID >= c.nextID {
			c.nextID = w.ID + 1
		}
	}
	if c.nextID == 0 {
		c.nextID = 1
	}
	return c, nil
}

// Windows returns a copy of every window.
func (c *Calendar) Windows() []models.ShiftWindow {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]models.ShiftWindow, len(c.windows))
	copy(out, c.windows)
	return out
}

// FindConflicts returns every existing window that conflicts with proposed,
// skipping the window whose ID is excludingID (pass 0 to skip none, or the
// proposed window's own ID when editing it). The proposal is checked as if
// it were active, whatever its Active flag; inactive existing windows
// never conflict.
func (c *Calendar) FindConflicts(proposed models.ShiftWindow, excludingID uint) ([]models.ShiftWindow, error) {
	if err := Validate(proposed); err != nil {
		return nil, err
	}
	proposed.Active = true
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.findConflicts(proposed, excludingID), nil
}

func (c *Calendar) findConflicts(proposed models.ShiftWindow, excludingID uint) []models.ShiftWindow {
	var out []models.ShiftWindow
	for _, w := range c.windows {
		if excludingID != 0 && w.ID == excludingID {
			continue
		}
		if Conflicts(proposed, w) {
			out = append(out, w)
		}
	}
	return out
}

// Save validates w and stores it, replacing the window with the same ID.
// A zero ID is assigned the next free ID. Conflicting windows reject the
// save and are returned. An inactive w conflicts with nothing.
func (c *Calendar) Save(w models.ShiftWindow) (models.ShiftWindow, []models.ShiftWindow, error) {
	if err := Validate(w); err != nil {
		return models.ShiftWindow{}, nil, err
	}
	if w.Calendar == "" {
		w.Calendar = DefaultCalendar
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if conflicts := c.findConflicts(w, w.ID); len(conflicts) > 0 {
		return models.ShiftWindow{}, conflicts, fmt.Errorf("shift: window %q conflicts with %d existing window(s)", w.Name, len(conflicts))
	}
	if w.ID == 0 {
		w.ID = c.nextID
		c.nextID++
		c.windows = append(c.windows, w)
		return w, nil, nil
	}
	for i := range c.windows {
		if c.windows[i].ID == w.ID {
			c.windows[i] = w
			return w, nil, nil
		}
	}
	if w.ID >= c.nextID {
		c.nextID = w.ID + 1
	}
	c.windows = append(c.windows, w)
	return w, nil, nil
}

// WindowsOn returns the active windows in effect on date for calendar.
// Dated windows for that date replace the recurring windows for its
// weekday. Results are ordered by start time.
func (c *Calendar) WindowsOn(calendar string, date time.Time) []models.ShiftWindow {
	if calendar == "" {
		calendar = DefaultCalendar
	}
	key := date.Format(dateLayout)
	wd := int(date.Weekday())

	c.mu.RLock()
	defer c.mu.RUnlock()
	var dated, recurring []models.ShiftWindow
	for _, w := range c.windows {
		if !w.Active || calendarOf(w) != calendar {
			continue
		}
		switch {
		case w.Date == key:
			dated = append(dated, w)
		case w.Recurring() && *w.Weekday == wd:
			recurring = append(recurring, w)
		}
	}
	out := recurring
	if len(dated) > 0 {
		out = dated
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return out
}
