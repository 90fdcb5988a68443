// Package sweep runs the periodic safety-net pass over the schedule: every
// job is re-evaluated against its dependency graph, the changes are stored,
// and stages running past their scheduled end are reported.
package sweep

import (
	"context"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/zulandar/shopyard/internal/models"
	"github.com/zulandar/shopyard/internal/scheduler"
	"github.com/zulandar/shopyard/internal/store"
	"gorm.io/gorm"
)

// cronParser uses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Result summarizes one sweep.
type Result struct {
	Jobs    int
	Changed []models.Stage
	Overdue []models.Stage
}

// RunOnce loads the schedule from db, re-evaluates every job and stores
// what changed. A job whose changes fail to store is logged and skipped.
func RunOnce(db *gorm.DB, opts scheduler.Options, out io.Writer) (Result, error) {
	if db == nil {
		return Result{}, fmt.Errorf("sweep: db is required")
	}
	if out == nil {
		out = io.Discard
	}
	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}

	e, err := store.Open(db, opts)
	if err != nil {
		return Result{}, fmt.Errorf("sweep: %w", err)
	}

	var res Result
	for _, jobID := range e.JobIDs() {
		res.Jobs++
		o, err := e.Reevaluate(jobID)
		if err != nil {
			log.Printf("sweep: reevaluate %s: %v", jobID, err)
			continue
		}
		if len(o.Changed) == 0 {
			continue
		}
		if err := store.Apply(db, o); err != nil {
			log.Printf("sweep: store %s: %v", jobID, err)
			continue
		}
		for _, s := range o.Changed {
			fmt.Fprintf(out, "  %s (%s) -> %s\n", s.ID, jobID, s.Status)
		}
		res.Changed = append(res.Changed, o.Changed...)
	}

	res.Overdue = e.OverdueStages(now())
	for _, s := range res.Overdue {
		fmt.Fprintf(out, "  overdue: %s %s on %s, due %s\n", s.ID, s.Status, s.MachineID, s.ScheduledEnd.Format(time.RFC3339))
	}
	fmt.Fprintf(out, "Sweep: %d jobs, %d stages changed, %d overdue\n", res.Jobs, len(res.Changed), len(res.Overdue))
	return res, nil
}

// Run sweeps on every fire of schedule until ctx is done. Failed sweeps are
// logged and retried at the next fire.
func Run(ctx context.Context, db *gorm.DB, schedule string, opts scheduler.Options, out io.Writer) error {
	sched, err := cronParser.Parse(schedule)
	if err != nil {
		return fmt.Errorf("sweep: parse schedule %q: %w", schedule, err)
	}
	if out == nil {
		out = io.Discard
	}
	fmt.Fprintf(out, "Sweep daemon starting (schedule %q)...\n", schedule)

	for {
		next := sched.Next(time.Now())
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			fmt.Fprintf(out, "Sweep daemon stopped.\n")
			return nil
		case <-timer.C:
		}
		if _, err := RunOnce(db, opts, out); err != nil {
			log.Printf("sweep: %v", err)
		}
	}
}
