// Package scheduler is the stage progression engine. It drives stages
// through their lifecycle, books machine time for them and unlocks
// downstream work when a stage completes.
//
// The engine works on plain records handed to New and returns every record
// it changes in an Outcome; persisting those is the caller's job.
//
// Locks are always taken in the order operator, jobs (sorted by ID),
// machine. Machine locks live inside the availability index. Every
// operation either commits entirely or leaves all state as it was.
package scheduler

import (
	"fmt"
	"io"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/zulandar/shopyard/internal/allocator"
	"github.com/zulandar/shopyard/internal/auth"
	"github.com/zulandar/shopyard/internal/availability"
	"github.com/zulandar/shopyard/internal/depgraph"
	"github.com/zulandar/shopyard/internal/models"
	"github.com/zulandar/shopyard/internal/schederr"
	"github.com/zulandar/shopyard/internal/shift"
	"github.com/zulandar/shopyard/internal/stage"
)

// Snapshot is the master data the engine starts from.
type Snapshot struct {
	Machines  []models.Machine
	Jobs      []models.Job
	Stages    []models.Stage
	Deps      []models.StageDep
	Operators []models.Operator
	Shifts    []models.ShiftWindow
}

// Options configures an Engine. Zero values fall back to defaults.
type Options struct {
	Bounds  allocator.Bounds
	Routing stage.Routing
	// DefaultHours is booked for stages with no planned hours whose
	// department has none on the routing. Defaults to 1.
	DefaultHours decimal.Decimal
	Logger       *log.Logger
	Now          func() time.Time
	NewStageID   func() (string, error)
}

// Outcome lists everything an operation changed.
type Outcome struct {
	// Stage is the stage the operation targeted, after the change.
	Stage models.Stage
	// Changed holds every changed or created stage, Stage included.
	Changed     []models.Stage
	AddedDeps   []models.StageDep
	RemovedDeps []models.StageDep
}

type jobState struct {
	mu     sync.Mutex
	job    models.Job
	graph  *depgraph.Graph
	stages map[string]*models.Stage
}

// stageRef is the part of a stage readable without its job lock.
type stageRef struct {
	jobID      string
	department string
	status     string
}

// Engine is the stage progression engine.
type Engine struct {
	log          *log.Logger
	now          func() time.Time
	newID        func() (string, error)
	routing      stage.Routing
	defaultHours decimal.Decimal

	machines *machineTable
	alloc    *allocator.Allocator
	gate     *auth.Gate
	shifts   *shift.Calendar

	operatorLocks keyedMutex

	activeMu sync.Mutex
	active   map[string]string // operator -> in-progress stage

	jobsMu  sync.RWMutex
	jobs    map[string]*jobState
	cohorts map[string][]string

	refMu    sync.RWMutex
	refs     map[string]stageRef
	reserved map[string]bool // stage IDs handed out to uncommitted operations
}

// New builds an engine from snap. Stage bookings are restored into a fresh
// availability index; overlapping bookings, dangling references and
// cyclic dependencies are errors.
func New(snap Snapshot, opts Options) (*Engine, error) {
	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard, "", 0)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewStageID == nil {
		opts.NewStageID = stage.GenerateID
	}
	if !opts.DefaultHours.IsPositive() {
		opts.DefaultHours = decimal.NewFromInt(1)
	}

	gate, err := auth.NewGate(snap.Operators)
	if err != nil {
		return nil, fmt.Errorf("scheduler: %w", err)
	}
	machines := newMachineTable(snap.Machines)
	shifts, err := shift.NewCalendar(snap.Shifts)
	if err != nil {
		return nil, fmt.Errorf("scheduler: %w", err)
	}

	e := &Engine{
		log:          opts.Logger,
		now:          opts.Now,
		newID:        opts.NewStageID,
		routing:      opts.Routing,
		defaultHours: opts.DefaultHours,
		machines:     machines,
		alloc:        allocator.New(availability.NewIndex(), machines, opts.Bounds),
		gate:         gate,
		shifts:       shifts,
		active:       make(map[string]string),
		jobs:         make(map[string]*jobState),
		cohorts:      make(map[string][]string),
		refs:         make(map[string]stageRef),
		reserved:     make(map[string]bool),
	}

	for _, j := range snap.Jobs {
		if err := e.addJob(j); err != nil {
			return nil, err
		}
	}

	for _, s := range snap.Stages {
		js := e.jobs[s.JobID]
		if js == nil {
			return nil, fmt.Errorf("scheduler: stage %s references unknown job %s: %w", s.ID, s.JobID, schederr.ErrNotFound)
		}
		if _, dup := e.refs[s.ID]; dup {
			return nil, fmt.Errorf("scheduler: duplicate stage %s", s.ID)
		}
		if s.Status == "" {
			s.Status = models.StatusBlocked
		}
		s.Deps = nil
		cp := s
		js.stages[s.ID] = &cp
		e.refs[s.ID] = stageRef{jobID: s.JobID, department: s.Department, status: s.Status}
	}

	depsByJob := make(map[string][]models.StageDep)
	for _, d := range snap.Deps {
		ref, ok := e.refs[d.StageID]
		if !ok {
			return nil, fmt.Errorf("scheduler: dependency on unknown stage %s: %w", d.StageID, schederr.ErrNotFound)
		}
		if _, ok := e.refs[d.RequiredStageID]; !ok {
			return nil, fmt.Errorf("scheduler: %s requires unknown stage %s: %w", d.StageID, d.RequiredStageID, schederr.ErrNotFound)
		}
		depsByJob[ref.jobID] = append(depsByJob[ref.jobID], d)
	}
	for jobID, deps := range depsByJob {
		g, err := depgraph.FromDeps(jobID, deps)
		if err != nil {
			return nil, fmt.Errorf("scheduler: load dependencies of %s: %w", jobID, err)
		}
		e.jobs[jobID].graph = g
	}

	for _, jobID := range sortedKeys(e.jobs) {
		js := e.jobs[jobID]
		for _, id := range sortedKeys(js.stages) {
			s := js.stages[id]
			if holdsBooking(s.Status) && s.Booked() {
				iv := availability.Interval{ID: s.BookingID, StageID: s.ID, Start: *s.ScheduledStart, End: *s.ScheduledEnd}
				if err := e.alloc.Restore(s.MachineID, iv); err != nil {
					return nil, fmt.Errorf("scheduler: load stage %s: %w", s.ID, err)
				}
			}
			if s.Status == models.StatusInProgress && s.Operator != "" {
				if other, busy := e.active[s.Operator]; busy {
					e.log.Printf("scheduler: operator %s has %s and %s in progress", s.Operator, other, s.ID)
					continue
				}
				e.active[s.Operator] = s.ID
			}
		}
	}
	return e, nil
}

// holdsBooking reports whether stages in status keep their machine time.
// Completed stages keep theirs so utilization covers finished work.
func holdsBooking(status string) bool {
	switch status {
	case models.StatusScheduled, models.StatusInProgress, models.StatusCompleted:
		return true
	}
	return false
}

// AddJob registers a job with no stages.
func (e *Engine) AddJob(j models.Job) error {
	e.jobsMu.Lock()
	defer e.jobsMu.Unlock()
	return e.addJob(j)
}

func (e *Engine) addJob(j models.Job) error {
	if j.ID == "" {
		return fmt.Errorf("scheduler: job ID is required")
	}
	if _, dup := e.jobs[j.ID]; dup {
		return fmt.Errorf("scheduler: duplicate job %s", j.ID)
	}
	j.Stages = nil
	e.jobs[j.ID] = &jobState{job: j, graph: depgraph.New(j.ID), stages: make(map[string]*models.Stage)}
	if j.CohortID != "" {
		members := append(e.cohorts[j.CohortID], j.ID)
		sort.Strings(members)
		e.cohorts[j.CohortID] = members
	}
	return nil
}

// ref returns the lock-free view of a stage.
func (e *Engine) ref(stageID string) (stageRef, error) {
	e.refMu.RLock()
	defer e.refMu.RUnlock()
	r, ok := e.refs[stageID]
	if !ok {
		return stageRef{}, fmt.Errorf("scheduler: stage %s: %w", stageID, schederr.ErrNotFound)
	}
	return r, nil
}

func (e *Engine) statusOf(stageID string) string {
	e.refMu.RLock()
	defer e.refMu.RUnlock()
	return e.refs[stageID].status
}

// resolve turns an operator ID into a capability. Unknown and inactive
// operators are not authorized for anything.
func (e *Engine) resolve(operatorID string) (auth.Capability, error) {
	c, ok := e.gate.Resolve(operatorID)
	if !ok {
		return auth.Capability{}, fmt.Errorf("scheduler: operator %q: %w", operatorID, schederr.ErrNotAuthorized)
	}
	return c, nil
}

// cohortOf returns the IDs of every job in jobID's cohort, jobID included.
func (e *Engine) cohortOf(jobID string) []string {
	e.jobsMu.RLock()
	defer e.jobsMu.RUnlock()
	js := e.jobs[jobID]
	if js == nil || js.job.CohortID == "" {
		return []string{jobID}
	}
	return append([]string(nil), e.cohorts[js.job.CohortID]...)
}

// lockJobs locks the given jobs in ID order and returns them with a
// function that unlocks them all.
func (e *Engine) lockJobs(ids ...string) (map[string]*jobState, func(), error) {
	uniq := make(map[string]bool, len(ids))
	for _, id := range ids {
		uniq[id] = true
	}
	order := sortedKeys(uniq)

	states := make(map[string]*jobState, len(order))
	e.jobsMu.RLock()
	for _, id := range order {
		js := e.jobs[id]
		if js == nil {
			e.jobsMu.RUnlock()
			return nil, nil, fmt.Errorf("scheduler: job %s: %w", id, schederr.ErrNotFound)
		}
		states[id] = js
	}
	e.jobsMu.RUnlock()

	for _, id := range order {
		states[id].mu.Lock()
	}
	return states, func() {
		for i := len(order) - 1; i >= 0; i-- {
			states[order[i]].mu.Unlock()
		}
	}, nil
}

func (e *Engine) lockJob(id string) (*jobState, func(), error) {
	states, unlock, err := e.lockJobs(id)
	if err != nil {
		return nil, nil, err
	}
	return states[id], unlock, nil
}

// plannedHours returns the hours booked for a stage in department that has
// none of its own.
func (e *Engine) plannedHours(department string) decimal.Decimal {
	if h, ok := e.routing.Hours(department); ok {
		return h
	}
	return e.defaultHours
}

func (e *Engine) clearActive(operatorID, stageID string) {
	e.activeMu.Lock()
	defer e.activeMu.Unlock()
	if e.active[operatorID] == stageID {
		delete(e.active, operatorID)
	}
}

// ActiveStage returns the stage operatorID is running, if any.
func (e *Engine) ActiveStage(operatorID string) (string, bool) {
	e.activeMu.Lock()
	defer e.activeMu.Unlock()
	id, ok := e.active[operatorID]
	return id, ok
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// hoursOf converts a duration to decimal hours rounded to 2 places.
func hoursOf(d time.Duration) decimal.Decimal {
	return decimal.NewFromInt(int64(d / time.Second)).Div(decimal.NewFromInt(3600)).Round(2)
}
