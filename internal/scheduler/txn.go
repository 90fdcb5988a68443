package scheduler

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/zulandar/shopyard/internal/availability"
	"github.com/zulandar/shopyard/internal/depgraph"
	"github.com/zulandar/shopyard/internal/models"
	"github.com/zulandar/shopyard/internal/schederr"
	"github.com/zulandar/shopyard/internal/stage"
)

// maxIDAttempts bounds the retries for a stage ID nobody holds.
const maxIDAttempts = 8

// txn collects the changes of one operation on working copies of stages.
// Nothing is visible until commit: bookings made along the way stay held
// and are confirmed at commit or released if the operation fails. Callers
// hold the locks of every job touched.
type txn struct {
	e        *Engine
	work     map[string]*models.Stage
	owner    map[string]*jobState
	order    []string
	added    []models.StageDep
	removed  []models.StageDep
	undo     []func()
	release  []func()
	confirm  []func()
	reserved []string
	done     bool
}

func (e *Engine) begin() *txn {
	return &txn{
		e:     e,
		work:  make(map[string]*models.Stage),
		owner: make(map[string]*jobState),
	}
}

// edit returns the working copy of stage id, copying it on first use.
func (t *txn) edit(js *jobState, id string) (*models.Stage, error) {
	if s, ok := t.work[id]; ok {
		return s, nil
	}
	cur, ok := js.stages[id]
	if !ok {
		return nil, fmt.Errorf("scheduler: stage %s in job %s: %w", id, js.job.ID, schederr.ErrNotFound)
	}
	cp := *cur
	t.put(js, &cp)
	return &cp, nil
}

// peek returns a detached copy of stage id as the operation currently sees it.
func (t *txn) peek(js *jobState, id string) (models.Stage, bool) {
	if s, ok := t.work[id]; ok {
		return *s, true
	}
	cur, ok := js.stages[id]
	if !ok {
		return models.Stage{}, false
	}
	return *cur, true
}

// newStageID returns an ID that no stage and no other uncommitted operation
// holds. The reservation ends when t commits or aborts.
func (t *txn) newStageID() (string, error) {
	e := t.e
	for i := 0; i < maxIDAttempts; i++ {
		id, err := e.newID()
		if err != nil {
			return "", err
		}
		e.refMu.Lock()
		_, taken := e.refs[id]
		if !taken && !e.reserved[id] {
			e.reserved[id] = true
			e.refMu.Unlock()
			t.reserved = append(t.reserved, id)
			return id, nil
		}
		e.refMu.Unlock()
		e.log.Printf("scheduler: stage ID %s already in use, retrying", id)
	}
	return "", fmt.Errorf("scheduler: no unused stage ID after %d attempts", maxIDAttempts)
}

// put records s as changed.
func (t *txn) put(js *jobState, s *models.Stage) {
	if _, ok := t.work[s.ID]; !ok {
		t.order = append(t.order, s.ID)
	}
	t.work[s.ID] = s
	t.owner[s.ID] = js
}

func (t *txn) statusOf(id string) string {
	if s, ok := t.work[id]; ok {
		return s.Status
	}
	return t.e.statusOf(id)
}

func (t *txn) addDep(g *depgraph.Graph, dependent, required, depType string) error {
	if g.HasDependency(dependent, required) {
		return nil
	}
	if err := g.AddDependency(dependent, required, depType); err != nil {
		return err
	}
	t.undo = append(t.undo, func() { _ = g.RemoveDependency(dependent, required) })
	t.added = append(t.added, models.StageDep{
		StageID:         dependent,
		RequiredStageID: required,
		JobID:           g.JobID,
		DepType:         depgraph.NormalizeType(depType),
	})
	return nil
}

func (t *txn) removeDep(g *depgraph.Graph, dependent, required string) error {
	typ, _ := g.Type(dependent, required)
	if err := g.RemoveDependency(dependent, required); err != nil {
		return err
	}
	t.undo = append(t.undo, func() { _ = g.AddDependency(dependent, required, typ) })
	t.removed = append(t.removed, models.StageDep{StageID: dependent, RequiredStageID: required, JobID: g.JobID, DepType: typ})
	return nil
}

// book allocates machine time for a blocked stage at or after notBefore and
// moves it to scheduled. A stage with a machine is booked on that machine;
// otherwise the earliest of the machines serving its department wins. On
// error s is unchanged.
func (t *txn) book(s *models.Stage, notBefore time.Time) error {
	if !stage.CanTransition(s.Status, models.StatusScheduled) {
		return fmt.Errorf("scheduler: book %s: status %s: %w", s.ID, s.Status, schederr.ErrInvalidTransition)
	}
	e := t.e
	hours := s.PlannedHours
	if !hours.IsPositive() {
		hours = e.plannedHours(s.Department)
	}
	d := models.Stage{PlannedHours: hours}.PlannedDuration()

	var (
		machineID string
		iv        availability.Interval
		err       error
	)
	if s.MachineID != "" {
		machineID = s.MachineID
		iv, err = e.alloc.Hold(machineID, s.ID, notBefore, d)
	} else {
		machineID, iv, err = e.alloc.HoldAny(e.machines.serving(s.Department), s.ID, notBefore, d)
	}
	if err != nil {
		return fmt.Errorf("scheduler: book %s: %w", s.ID, err)
	}
	t.undo = append(t.undo, func() { e.alloc.Release(machineID, iv.ID) })
	t.confirm = append(t.confirm, func() { e.alloc.Confirm(machineID, iv.ID) })

	start, end := iv.Start, iv.End
	s.PlannedHours = hours
	s.MachineID = machineID
	s.BookingID = iv.ID
	s.ScheduledStart = &start
	s.ScheduledEnd = &end
	s.Status = models.StatusScheduled
	return nil
}

// unbook drops s's booking. The machine time is freed at commit.
func (t *txn) unbook(s *models.Stage) {
	if s.MachineID != "" && s.BookingID != "" {
		machineID, bookingID := s.MachineID, s.BookingID
		t.release = append(t.release, func() { t.e.alloc.Release(machineID, bookingID) })
	}
	s.BookingID = ""
	s.ScheduledStart = nil
	s.ScheduledEnd = nil
}

// abort reverts every side effect unless the txn committed.
func (t *txn) abort() {
	if t.done {
		return
	}
	t.done = true
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.e.refMu.Lock()
	t.unreserve()
	t.e.refMu.Unlock()
}

// unreserve drops t's stage ID reservations. Callers hold refMu.
func (t *txn) unreserve() {
	for _, id := range t.reserved {
		delete(t.e.reserved, id)
	}
}

// commit publishes the working copies, confirms held bookings and frees
// released machine time.
func (t *txn) commit(primary string) Outcome {
	t.done = true
	for _, r := range t.release {
		r()
	}

	now := t.e.now()
	out := Outcome{AddedDeps: t.added, RemovedDeps: t.removed}
	t.e.refMu.Lock()
	for _, id := range t.order {
		s := t.work[id]
		s.UpdatedAt = now
		if s.CreatedAt.IsZero() {
			s.CreatedAt = now
		}
		js := t.owner[id]
		if cur, ok := js.stages[id]; ok {
			*cur = *s
		} else {
			cp := *s
			js.stages[id] = &cp
		}
		t.e.refs[id] = stageRef{jobID: s.JobID, department: s.Department, status: s.Status}
		out.Changed = append(out.Changed, *s)
		if id == primary {
			out.Stage = *s
		}
	}
	t.unreserve()
	t.e.refMu.Unlock()

	for _, c := range t.confirm {
		c()
	}
	return out
}

// keyedMutex hands out one mutex per key. Keys are never freed; there is
// one per operator.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// Lock locks key and returns its unlock function.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*sync.Mutex)
	}
	l, ok := k.locks[key]
	if !ok {
		l = &sync.Mutex{}
		k.locks[key] = l
	}
	k.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// machineTable is the read-only machine master data.
type machineTable struct {
	byID map[string]models.Machine
	ids  []string
}

func newMachineTable(machines []models.Machine) *machineTable {
	t := &machineTable{byID: make(map[string]models.Machine, len(machines))}
	for _, m := range machines {
		t.byID[m.ID] = m
	}
	t.ids = sortedKeys(t.byID)
	return t
}

// Machine implements allocator.MachineSource.
func (t *machineTable) Machine(id string) (models.Machine, bool) {
	m, ok := t.byID[id]
	return m, ok
}

// serving returns the bookable machines tagged for department, by ID.
func (t *machineTable) serving(department string) []string {
	var out []string
	for _, id := range t.ids {
		m := t.byID[id]
		if m.Bookable() && m.HasTag(department) {
			out = append(out, id)
		}
	}
	return out
}

func (t *machineTable) list() []models.Machine {
	out := make([]models.Machine, 0, len(t.ids))
	for _, id := range t.ids {
		out = append(out, t.byID[id])
	}
	return out
}

func sortStagesByID(stages []models.Stage) {
	sort.Slice(stages, func(i, j int) bool { return stages[i].ID < stages[j].ID })
}
