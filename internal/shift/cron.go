package shift

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/zulandar/shopyard/internal/models"
)

// cronParser uses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// referenceWeek is a Sunday; expansion walks the seven days that follow it.
var referenceWeek = time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)

// FromCron expands a weekly cron expression into recurring windows, one per
// fire time in a week, each lasting d. "0 6 * * 1-5" with 8h yields
// Monday..Friday 06:00-14:00. Day-of-month and month fields should be "*";
// anything else is sampled against a single reference week.
func FromCron(name, calendar, expr string, d time.Duration) ([]models.ShiftWindow, error) {
	if d <= 0 || d >= 24*time.Hour {
		return nil, fmt.Errorf("shift: cron window %q duration %s must be between 0 and 24h", name, d)
	}
	if d%time.Minute != 0 {
		return nil, fmt.Errorf("shift: cron window %q duration %s must be whole minutes", name, d)
	}
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("shift: parse cron %q: %w", expr, err)
	}

	end := referenceWeek.Add(7 * 24 * time.Hour)
	var windows []models.ShiftWindow
	for t := sched.Next(referenceWeek.Add(-time.Minute)); t.Before(end); t = sched.Next(t) {
		wd := int(t.Weekday())
		windows = append(windows, models.ShiftWindow{
			Name:     name,
			Calendar: calendar,
			Weekday:  &wd,
			Start:    t.Format("15:04"),
			End:      t.Add(d).Format("15:04"),
			Active:   true,
		})
	}
	if len(windows) == 0 {
		return nil, fmt.Errorf("shift: cron %q never fires within a week", expr)
	}
	return windows, nil
}
