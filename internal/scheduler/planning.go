package scheduler

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/zulandar/shopyard/internal/models"
	"github.com/zulandar/shopyard/internal/schederr"
	"github.com/zulandar/shopyard/internal/stage"
)

// StageRequest describes a stage to add to a job.
type StageRequest struct {
	JobID      string
	Department string
	// MachineID pins the stage to one machine. Empty lets the engine pick
	// among the machines serving the department.
	MachineID    string
	PlannedHours decimal.Decimal
	// Requires lists stages of the same job that must complete first.
	Requires []string
	DepType  string
	// NotBefore is the earliest start; zero means now.
	NotBefore time.Time
}

// CreateStage adds a stage to a job. It is created blocked when any
// requirement is incomplete, otherwise it is booked and scheduled; a failed
// booking rejects the whole request.
func (e *Engine) CreateStage(operatorID string, req StageRequest) (Outcome, error) {
	c, err := e.resolve(operatorID)
	if err != nil {
		return Outcome{}, err
	}
	if !e.gate.CanPlan(c) {
		return Outcome{}, fmt.Errorf("scheduler: create stage as %s: %w", operatorID, schederr.ErrNotAuthorized)
	}
	req.Department = strings.TrimSpace(req.Department)
	if req.Department == "" {
		return Outcome{}, fmt.Errorf("scheduler: create stage: department is required")
	}
	if req.PlannedHours.IsNegative() {
		return Outcome{}, fmt.Errorf("scheduler: create stage: planned hours %s: %w", req.PlannedHours, schederr.ErrInvalidDuration)
	}
	if req.MachineID != "" {
		if _, ok := e.machines.Machine(req.MachineID); !ok {
			return Outcome{}, fmt.Errorf("scheduler: create stage: machine %s: %w", req.MachineID, schederr.ErrNotFound)
		}
	}
	for _, r := range req.Requires {
		ref, err := e.ref(r)
		if err != nil {
			return Outcome{}, err
		}
		if ref.jobID != req.JobID {
			return Outcome{}, fmt.Errorf("scheduler: create stage: %s is in job %s, not %s: %w", r, ref.jobID, req.JobID, schederr.ErrCrossJob)
		}
	}

	js, unlock, err := e.lockJob(req.JobID)
	if err != nil {
		return Outcome{}, err
	}
	defer unlock()

	t := e.begin()
	defer t.abort()
	id, err := t.newStageID()
	if err != nil {
		return Outcome{}, fmt.Errorf("scheduler: create stage: %w", err)
	}
	now := e.now()
	s := &models.Stage{
		ID:           id,
		JobID:        req.JobID,
		Department:   req.Department,
		MachineID:    req.MachineID,
		CohortID:     js.job.CohortID,
		Status:       models.StatusBlocked,
		PlannedHours: req.PlannedHours,
		CreatedAt:    now,
	}

	t.put(js, s)
	for _, r := range req.Requires {
		if err := t.addDep(js.graph, id, r, req.DepType); err != nil {
			return Outcome{}, fmt.Errorf("scheduler: create stage: %w", err)
		}
	}
	if js.graph.IsUnblocked(id, t.statusOf) {
		notBefore := req.NotBefore
		if notBefore.Before(now) {
			notBefore = now
		}
		if err := t.book(s, notBefore); err != nil {
			return Outcome{}, err
		}
	}

	out := t.commit(id)
	e.log.Printf("scheduler: %s created %s in job %s (%s)", operatorID, id, req.JobID, s.Status)
	return out, nil
}

// AddDependency makes dependentID wait for requiredID. Both stages must be
// in the same job. A scheduled dependent whose new requirement is
// incomplete loses its booking and goes back to blocked.
func (e *Engine) AddDependency(operatorID, dependentID, requiredID, depType string) (Outcome, error) {
	c, err := e.resolve(operatorID)
	if err != nil {
		return Outcome{}, err
	}
	if !e.gate.CanPlan(c) {
		return Outcome{}, fmt.Errorf("scheduler: add dependency as %s: %w", operatorID, schederr.ErrNotAuthorized)
	}
	dep, err := e.ref(dependentID)
	if err != nil {
		return Outcome{}, err
	}
	req, err := e.ref(requiredID)
	if err != nil {
		return Outcome{}, err
	}
	if dep.jobID != req.jobID {
		return Outcome{}, fmt.Errorf("scheduler: add dependency %s -> %s: %w", dependentID, requiredID, schederr.ErrCrossJob)
	}

	js, unlock, err := e.lockJob(dep.jobID)
	if err != nil {
		return Outcome{}, err
	}
	defer unlock()

	t := e.begin()
	defer t.abort()
	s, err := t.edit(js, dependentID)
	if err != nil {
		return Outcome{}, err
	}
	if s.Status != models.StatusBlocked && s.Status != models.StatusScheduled {
		return Outcome{}, fmt.Errorf("scheduler: add dependency to %s: status %s: %w", dependentID, s.Status, schederr.ErrInvalidTransition)
	}
	if err := t.addDep(js.graph, dependentID, requiredID, depType); err != nil {
		return Outcome{}, fmt.Errorf("scheduler: %w", err)
	}
	if s.Status == models.StatusScheduled && !js.graph.IsUnblocked(dependentID, t.statusOf) {
		t.unbook(s)
		if err := stage.Transition(s, models.StatusBlocked); err != nil {
			return Outcome{}, err
		}
	}
	return t.commit(dependentID), nil
}

// RemoveDependency drops the edge dependentID -> requiredID. A blocked
// dependent left with no incomplete requirement is booked; if booking fails
// it stays blocked.
func (e *Engine) RemoveDependency(operatorID, dependentID, requiredID string) (Outcome, error) {
	c, err := e.resolve(operatorID)
	if err != nil {
		return Outcome{}, err
	}
	if !e.gate.CanPlan(c) {
		return Outcome{}, fmt.Errorf("scheduler: remove dependency as %s: %w", operatorID, schederr.ErrNotAuthorized)
	}
	dep, err := e.ref(dependentID)
	if err != nil {
		return Outcome{}, err
	}

	js, unlock, err := e.lockJob(dep.jobID)
	if err != nil {
		return Outcome{}, err
	}
	defer unlock()

	t := e.begin()
	defer t.abort()
	if err := t.removeDep(js.graph, dependentID, requiredID); err != nil {
		return Outcome{}, fmt.Errorf("scheduler: %w", err)
	}
	cur, _ := t.peek(js, dependentID)
	if cur.Status == models.StatusBlocked && js.graph.IsUnblocked(dependentID, t.statusOf) {
		if err := t.book(&cur, e.now()); err != nil {
			e.log.Printf("scheduler: %s has no open requirements but stays blocked: %v", dependentID, err)
		} else {
			t.put(js, &cur)
		}
	}
	out := t.commit(dependentID)
	if out.Stage.ID == "" {
		out.Stage = cur
	}
	return out, nil
}

// Reevaluate brings a job's stages in line with its dependency graph:
// blocked stages with every requirement completed are booked, and
// scheduled stages with an incomplete requirement go back to blocked.
// Stages are visited in dependency order. Stages that cannot be booked
// stay blocked and are logged.
func (e *Engine) Reevaluate(jobID string) (Outcome, error) {
	js, unlock, err := e.lockJob(jobID)
	if err != nil {
		return Outcome{}, err
	}
	defer unlock()

	t := e.begin()
	defer t.abort()
	now := e.now()
	for _, id := range js.graph.TopoOrder(sortedKeys(js.stages)...) {
		cur, ok := t.peek(js, id)
		if !ok {
			// Requirement in another job.
			continue
		}
		unblocked := js.graph.IsUnblocked(id, t.statusOf)
		switch {
		case cur.Status == models.StatusBlocked && unblocked:
			if err := t.book(&cur, now); err != nil {
				e.log.Printf("scheduler: reevaluate %s: %s stays blocked: %v", jobID, id, err)
				continue
			}
			t.put(js, &cur)
		case cur.Status == models.StatusScheduled && !unblocked:
			t.unbook(&cur)
			cur.Status = models.StatusBlocked
			t.put(js, &cur)
		}
	}
	return t.commit(""), nil
}
