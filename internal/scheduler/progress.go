package scheduler

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/zulandar/shopyard/internal/depgraph"
	"github.com/zulandar/shopyard/internal/models"
	"github.com/zulandar/shopyard/internal/schederr"
	"github.com/zulandar/shopyard/internal/stage"
)

// StartStage moves a scheduled stage to in progress for operatorID.
//
// The gate is consulted first. The stage must have every requirement
// completed, and the operator must not be running any other stage; that
// check and the start itself happen under the operator's lock.
func (e *Engine) StartStage(stageID, operatorID string) (Outcome, error) {
	c, err := e.resolve(operatorID)
	if err != nil {
		return Outcome{}, err
	}
	ref, err := e.ref(stageID)
	if err != nil {
		return Outcome{}, err
	}
	if !e.gate.CanStart(c, ref.department) {
		return Outcome{}, fmt.Errorf("scheduler: start %s as %s: %w", stageID, operatorID, schederr.ErrNotAuthorized)
	}

	unlockOperator := e.operatorLocks.Lock(operatorID)
	defer unlockOperator()
	js, unlock, err := e.lockJob(ref.jobID)
	if err != nil {
		return Outcome{}, err
	}
	defer unlock()

	t := e.begin()
	defer t.abort()
	s, err := t.edit(js, stageID)
	if err != nil {
		return Outcome{}, err
	}
	switch s.Status {
	case models.StatusScheduled:
	case models.StatusBlocked:
		return Outcome{}, fmt.Errorf("scheduler: start %s: %w", stageID, schederr.ErrNotUnblocked)
	default:
		return Outcome{}, fmt.Errorf("scheduler: start %s: status %s: %w", stageID, s.Status, schederr.ErrInvalidTransition)
	}
	if !js.graph.IsUnblocked(stageID, t.statusOf) {
		return Outcome{}, fmt.Errorf("scheduler: start %s: %w", stageID, schederr.ErrNotUnblocked)
	}
	if current, busy := e.ActiveStage(operatorID); busy {
		return Outcome{}, fmt.Errorf("scheduler: start %s: operator %s is running %s: %w", stageID, operatorID, current, schederr.ErrAlreadyActive)
	}

	now := e.now()
	if err := stage.Transition(s, models.StatusInProgress); err != nil {
		return Outcome{}, err
	}
	s.ActualStart = &now
	s.Operator = operatorID

	out := t.commit(stageID)
	e.activeMu.Lock()
	e.active[operatorID] = stageID
	e.activeMu.Unlock()
	e.log.Printf("scheduler: %s started %s", operatorID, stageID)
	return out, nil
}

// CompleteStage finishes an in-progress stage and schedules what it unlocks.
//
// Blocked dependents whose requirements are now all completed are booked
// and moved to scheduled. When the stage belongs to a cohort, every cohort
// job lacking a stage in the next routed department gets one, depending on
// this stage. All cohort jobs are locked for the whole operation. A
// dependent that cannot be booked stays blocked; the completion still
// commits.
func (e *Engine) CompleteStage(stageID, operatorID string, actualCost *decimal.Decimal) (Outcome, error) {
	c, err := e.resolve(operatorID)
	if err != nil {
		return Outcome{}, err
	}
	ref, err := e.ref(stageID)
	if err != nil {
		return Outcome{}, err
	}
	if !e.gate.CanComplete(c, ref.department) {
		return Outcome{}, fmt.Errorf("scheduler: complete %s as %s: %w", stageID, operatorID, schederr.ErrNotAuthorized)
	}

	jobIDs := e.cohortOf(ref.jobID)
	states, unlock, err := e.lockJobs(jobIDs...)
	if err != nil {
		return Outcome{}, err
	}
	defer unlock()

	t := e.begin()
	defer t.abort()
	s, err := t.edit(states[ref.jobID], stageID)
	if err != nil {
		return Outcome{}, err
	}
	if s.Status != models.StatusInProgress {
		return Outcome{}, fmt.Errorf("scheduler: complete %s: status %s: %w", stageID, s.Status, schederr.ErrNotInProgress)
	}

	now := e.now()
	if err := stage.Transition(s, models.StatusCompleted); err != nil {
		return Outcome{}, err
	}
	runBy := s.Operator
	s.CompletionDate = &now
	s.Progress = 100
	if s.ActualStart != nil {
		s.ActualHours = decimal.NewNullDecimal(hoursOf(now.Sub(*s.ActualStart)))
	}
	if actualCost != nil {
		s.ActualCost = decimal.NewNullDecimal(*actualCost)
	}

	var (
		graphs   []*depgraph.Graph
		existing []models.Stage
		cohort   []models.Job
	)
	ownerOf := make(map[string]*jobState)
	for _, id := range sortedKeys(states) {
		js := states[id]
		graphs = append(graphs, js.graph)
		cohort = append(cohort, js.job)
		for _, sid := range sortedKeys(js.stages) {
			cur, _ := t.peek(js, sid)
			existing = append(existing, cur)
			ownerOf[sid] = js
		}
	}
	plan := stage.PlanDownstream(*s, graphs, existing, cohort, e.routing)

	for _, id := range plan.Unblock {
		js := ownerOf[id]
		cur, _ := t.peek(js, id)
		if err := t.book(&cur, now); err != nil {
			e.log.Printf("scheduler: %s unblocked by %s stays blocked: %v", id, stageID, err)
			continue
		}
		t.put(js, &cur)
	}

	for _, ns := range plan.Create {
		id, err := t.newStageID()
		if err != nil {
			return Outcome{}, fmt.Errorf("scheduler: complete %s: %w", stageID, err)
		}
		js := states[ns.Stage.JobID]
		n := ns.Stage
		n.ID = id
		n.CreatedAt = now
		if err := t.addDep(js.graph, id, ns.Requires, models.DepFinishToStart); err != nil {
			return Outcome{}, fmt.Errorf("scheduler: complete %s: %w", stageID, err)
		}
		if err := t.book(&n, now); err != nil {
			e.log.Printf("scheduler: cohort stage %s for job %s created blocked: %v", id, n.JobID, err)
		}
		t.put(js, &n)
	}

	out := t.commit(stageID)
	e.clearActive(runBy, stageID)
	if plan.Empty() {
		e.log.Printf("scheduler: %s completed %s", operatorID, stageID)
	} else {
		e.log.Printf("scheduler: %s completed %s (%d unblocked, %d created)", operatorID, stageID, len(plan.Unblock), len(plan.Create))
	}
	return out, nil
}

// UpdateProgress records percent complete on an in-progress stage. Progress
// never goes backwards.
func (e *Engine) UpdateProgress(stageID, operatorID string, percent int) (Outcome, error) {
	c, err := e.resolve(operatorID)
	if err != nil {
		return Outcome{}, err
	}
	ref, err := e.ref(stageID)
	if err != nil {
		return Outcome{}, err
	}
	if !e.gate.CanUpdateProgress(c, ref.department) {
		return Outcome{}, fmt.Errorf("scheduler: progress %s as %s: %w", stageID, operatorID, schederr.ErrNotAuthorized)
	}
	if percent < 0 || percent > 100 {
		return Outcome{}, fmt.Errorf("scheduler: progress %s: %d outside 0..100: %w", stageID, percent, schederr.ErrProgressOutOfRange)
	}

	js, unlock, err := e.lockJob(ref.jobID)
	if err != nil {
		return Outcome{}, err
	}
	defer unlock()

	t := e.begin()
	defer t.abort()
	s, err := t.edit(js, stageID)
	if err != nil {
		return Outcome{}, err
	}
	if s.Status != models.StatusInProgress {
		return Outcome{}, fmt.Errorf("scheduler: progress %s: status %s: %w", stageID, s.Status, schederr.ErrNotInProgress)
	}
	if percent < s.Progress {
		return Outcome{}, fmt.Errorf("scheduler: progress %s: %d below current %d: %w", stageID, percent, s.Progress, schederr.ErrProgressMustAdvance)
	}
	s.Progress = percent
	return t.commit(stageID), nil
}

// RescheduleStage moves a scheduled stage's booking to [newStart, newEnd).
// Overlaps with other bookings on the machine fail with a
// *schederr.ConflictError naming the stages in the way.
func (e *Engine) RescheduleStage(stageID, operatorID string, newStart, newEnd time.Time) (Outcome, error) {
	c, err := e.resolve(operatorID)
	if err != nil {
		return Outcome{}, err
	}
	if !e.gate.CanReschedule(c) {
		return Outcome{}, fmt.Errorf("scheduler: reschedule %s as %s: %w", stageID, operatorID, schederr.ErrNotAuthorized)
	}
	ref, err := e.ref(stageID)
	if err != nil {
		return Outcome{}, err
	}

	js, unlock, err := e.lockJob(ref.jobID)
	if err != nil {
		return Outcome{}, err
	}
	defer unlock()

	t := e.begin()
	defer t.abort()
	s, err := t.edit(js, stageID)
	if err != nil {
		return Outcome{}, err
	}
	if s.Status != models.StatusScheduled || !s.Booked() {
		return Outcome{}, fmt.Errorf("scheduler: reschedule %s: status %s: %w", stageID, s.Status, schederr.ErrInvalidTransition)
	}

	iv, err := e.alloc.Reschedule(s.MachineID, s.BookingID, newStart, newEnd)
	if err != nil {
		return Outcome{}, fmt.Errorf("scheduler: reschedule %s: %w", stageID, err)
	}
	start, end := iv.Start, iv.End
	s.ScheduledStart = &start
	s.ScheduledEnd = &end
	s.PlannedHours = hoursOf(iv.Duration())

	out := t.commit(stageID)
	e.log.Printf("scheduler: %s rescheduled %s to %s-%s", operatorID, stageID, start.Format(time.RFC3339), end.Format(time.RFC3339))
	return out, nil
}

// CancelStage cancels a scheduled stage and frees its machine time.
// Scheduled dependents left with an unmet requirement go back to blocked.
// Cross-job dependencies only ever point at completed stages, so only the
// stage's own job is affected.
func (e *Engine) CancelStage(stageID, operatorID string) (Outcome, error) {
	c, err := e.resolve(operatorID)
	if err != nil {
		return Outcome{}, err
	}
	if !e.gate.CanCancel(c) {
		return Outcome{}, fmt.Errorf("scheduler: cancel %s as %s: %w", stageID, operatorID, schederr.ErrNotAuthorized)
	}
	ref, err := e.ref(stageID)
	if err != nil {
		return Outcome{}, err
	}

	js, unlock, err := e.lockJob(ref.jobID)
	if err != nil {
		return Outcome{}, err
	}
	defer unlock()

	t := e.begin()
	defer t.abort()
	s, err := t.edit(js, stageID)
	if err != nil {
		return Outcome{}, err
	}
	if err := stage.Transition(s, models.StatusCancelled); err != nil {
		return Outcome{}, fmt.Errorf("scheduler: cancel: %w", err)
	}
	t.unbook(s)

	for _, id := range js.graph.DownstreamOf(stageID) {
		if t.statusOf(id) != models.StatusScheduled || js.graph.IsUnblocked(id, t.statusOf) {
			continue
		}
		d, err := t.edit(js, id)
		if err != nil {
			return Outcome{}, err
		}
		t.unbook(d)
		if err := stage.Transition(d, models.StatusBlocked); err != nil {
			return Outcome{}, err
		}
		e.log.Printf("scheduler: %s blocked again after %s was cancelled", id, stageID)
	}

	out := t.commit(stageID)
	e.log.Printf("scheduler: %s cancelled %s", operatorID, stageID)
	return out, nil
}

// AbortStage stops an in-progress stage and returns it to blocked. Its
// booking and operator are released; the next Reevaluate books it again.
func (e *Engine) AbortStage(stageID, operatorID string) (Outcome, error) {
	c, err := e.resolve(operatorID)
	if err != nil {
		return Outcome{}, err
	}
	ref, err := e.ref(stageID)
	if err != nil {
		return Outcome{}, err
	}

	js, unlock, err := e.lockJob(ref.jobID)
	if err != nil {
		return Outcome{}, err
	}
	defer unlock()

	t := e.begin()
	defer t.abort()
	s, err := t.edit(js, stageID)
	if err != nil {
		return Outcome{}, err
	}
	if !e.gate.CanAbort(c, ref.department, s.Operator) {
		return Outcome{}, fmt.Errorf("scheduler: abort %s as %s: %w", stageID, operatorID, schederr.ErrNotAuthorized)
	}
	if s.Status != models.StatusInProgress {
		return Outcome{}, fmt.Errorf("scheduler: abort %s: status %s: %w", stageID, s.Status, schederr.ErrNotInProgress)
	}
	if err := stage.Transition(s, models.StatusBlocked); err != nil {
		return Outcome{}, err
	}
	runBy := s.Operator
	t.unbook(s)
	s.Operator = ""
	s.ActualStart = nil

	out := t.commit(stageID)
	e.clearActive(runBy, stageID)
	e.log.Printf("scheduler: %s aborted %s", operatorID, stageID)
	return out, nil
}
