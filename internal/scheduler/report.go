package scheduler

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/zulandar/shopyard/internal/availability"
	"github.com/zulandar/shopyard/internal/models"
	"github.com/zulandar/shopyard/internal/schederr"
	"github.com/zulandar/shopyard/internal/shift"
)

// NextAvailableSlot previews the earliest [start, end) of length hours on
// the machine at or after notBefore. Nothing is booked.
func (e *Engine) NextAvailableSlot(machineID string, notBefore time.Time, hours decimal.Decimal) (time.Time, time.Time, error) {
	start, end, err := e.alloc.Next(machineID, notBefore, models.HoursDuration(hours))
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("scheduler: next slot on %s: %w", machineID, err)
	}
	return start, end, nil
}

// ValidateShift returns every existing window that proposed would overlap
// on the same calendar date. excludingID skips the window being edited.
func (e *Engine) ValidateShift(proposed models.ShiftWindow, excludingID uint) ([]models.ShiftWindow, error) {
	return e.shifts.FindConflicts(proposed, excludingID)
}

// SaveShift stores a shift window when it conflicts with nothing. The
// conflicting windows are returned alongside the error otherwise.
func (e *Engine) SaveShift(operatorID string, w models.ShiftWindow) (models.ShiftWindow, []models.ShiftWindow, error) {
	c, err := e.resolve(operatorID)
	if err != nil {
		return models.ShiftWindow{}, nil, err
	}
	if !e.gate.CanEditCalendar(c) {
		return models.ShiftWindow{}, nil, fmt.Errorf("scheduler: save shift as %s: %w", operatorID, schederr.ErrNotAuthorized)
	}
	return e.shifts.Save(w)
}

// Shifts returns the shift calendar.
func (e *Engine) Shifts() []models.ShiftWindow {
	return e.shifts.Windows()
}

// DepartmentUtilization returns, per department, the booked share of
// machine capacity in [from, to) as a percentage rounded to 2 places.
//
// Booked time is the part of each scheduled, in-progress or completed
// stage's booking inside the range. Capacity is the open time in the range
// times the number of bookable machines serving the department. Open time
// follows the plant shift calendar; with no shifts defined the plant is
// open around the clock. Bookings outside shifts can push a department
// past 100.
func (e *Engine) DepartmentUtilization(from, to time.Time) (map[string]decimal.Decimal, error) {
	if !from.Before(to) {
		return nil, fmt.Errorf("scheduler: utilization range %s to %s: %w",
			from.Format(time.RFC3339), to.Format(time.RFC3339), schederr.ErrInvalidDuration)
	}

	booked := make(map[string]time.Duration)
	for _, s := range e.allStages() {
		key := strings.ToLower(s.Department)
		if _, ok := booked[key]; !ok {
			booked[key] = 0
		}
		if !holdsBooking(s.Status) || !s.Booked() {
			continue
		}
		booked[key] += overlap(*s.ScheduledStart, *s.ScheduledEnd, from, to)
	}
	for _, step := range e.routing.Steps() {
		key := strings.ToLower(step.Department)
		if _, ok := booked[key]; !ok {
			booked[key] = 0
		}
	}

	open := e.openTime(from, to)
	out := make(map[string]decimal.Decimal, len(booked))
	for dept, used := range booked {
		capacity := open * time.Duration(len(e.machines.serving(dept)))
		if capacity <= 0 {
			out[dept] = decimal.Zero
			continue
		}
		out[dept] = decimal.NewFromInt(int64(used)).
			Mul(decimal.NewFromInt(100)).
			Div(decimal.NewFromInt(int64(capacity))).
			Round(2)
	}
	return out, nil
}

// openTime sums plant shift time inside [from, to).
func (e *Engine) openTime(from, to time.Time) time.Duration {
	if len(e.shifts.Windows()) == 0 {
		return to.Sub(from)
	}
	var total time.Duration
	y, m, d := from.Date()
	// Start a day early to catch overnight windows running into from.
	day := time.Date(y, m, d, 0, 0, 0, 0, from.Location()).AddDate(0, 0, -1)
	for ; day.Before(to); day = day.AddDate(0, 0, 1) {
		for _, w := range e.shifts.WindowsOn(shift.DefaultCalendar, day) {
			start, end, err := shift.Occurrence(w, day)
			if err != nil {
				e.log.Printf("scheduler: skipping shift %q: %v", w.Name, err)
				continue
			}
			total += overlap(start, end, from, to)
		}
	}
	return total
}

func overlap(aStart, aEnd, bStart, bEnd time.Time) time.Duration {
	start, end := aStart, aEnd
	if bStart.After(start) {
		start = bStart
	}
	if bEnd.Before(end) {
		end = bEnd
	}
	if !start.Before(end) {
		return 0
	}
	return end.Sub(start)
}

// OverdueStages returns scheduled and in-progress stages whose scheduled
// end is before now, earliest first.
func (e *Engine) OverdueStages(now time.Time) []models.Stage {
	var out []models.Stage
	for _, s := range e.allStages() {
		if s.Status != models.StatusScheduled && s.Status != models.StatusInProgress {
			continue
		}
		if s.ScheduledEnd != nil && s.ScheduledEnd.Before(now) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := *out[i].ScheduledEnd, *out[j].ScheduledEnd
		if !a.Equal(b) {
			return a.Before(b)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Stage returns a copy of one stage.
func (e *Engine) Stage(stageID string) (models.Stage, error) {
	ref, err := e.ref(stageID)
	if err != nil {
		return models.Stage{}, err
	}
	js, unlock, err := e.lockJob(ref.jobID)
	if err != nil {
		return models.Stage{}, err
	}
	defer unlock()
	s, ok := js.stages[stageID]
	if !ok {
		return models.Stage{}, fmt.Errorf("scheduler: stage %s: %w", stageID, schederr.ErrNotFound)
	}
	return *s, nil
}

// Stages returns a job's stages sorted by ID.
func (e *Engine) Stages(jobID string) ([]models.Stage, error) {
	js, unlock, err := e.lockJob(jobID)
	if err != nil {
		return nil, err
	}
	defer unlock()
	out := make([]models.Stage, 0, len(js.stages))
	for _, s := range js.stages {
		out = append(out, *s)
	}
	sortStagesByID(out)
	return out, nil
}

// Dependencies returns a job's dependency edges.
func (e *Engine) Dependencies(jobID string) ([]models.StageDep, error) {
	js, unlock, err := e.lockJob(jobID)
	if err != nil {
		return nil, err
	}
	defer unlock()
	return js.graph.Deps(), nil
}

// JobIDs returns every job ID, sorted.
func (e *Engine) JobIDs() []string {
	e.jobsMu.RLock()
	defer e.jobsMu.RUnlock()
	return sortedKeys(e.jobs)
}

// Machines returns the machine master data, sorted by ID.
func (e *Engine) Machines() []models.Machine {
	return e.machines.list()
}

// Bookings returns the committed bookings on a machine in start order.
func (e *Engine) Bookings(machineID string) []availability.Interval {
	return e.alloc.Index().Bookings(machineID)
}

// allStages copies every stage, locking one job at a time.
func (e *Engine) allStages() []models.Stage {
	var out []models.Stage
	for _, id := range e.JobIDs() {
		stages, err := e.Stages(id)
		if err != nil {
			continue
		}
		out = append(out, stages...)
	}
	return out
}
