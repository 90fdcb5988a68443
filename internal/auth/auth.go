// Package auth decides which operators may drive which stage transitions.
//
// Operator records carry free-text levels and departments. They are parsed
// once into a Capability when the gate is built, and every check after that
// works on the parsed form.
package auth

import (
	"fmt"
	"strings"
	"sync"

	"github.com/zulandar/shopyard/internal/models"
)

// Level is an operator's permission level.
type Level int

// Permission levels, lowest first. The zero Level grants nothing.
const (
	LevelOperator Level = iota + 1
	LevelLead
	LevelSupervisor
	LevelAdmin
)

var levelNames = map[Level]string{
	LevelOperator:   "operator",
	LevelLead:       "lead",
	LevelSupervisor: "supervisor",
	LevelAdmin:      "admin",
}

func (l Level) String() string {
	if s, ok := levelNames[l]; ok {
		return s
	}
	return fmt.Sprintf("level(%d)", int(l))
}

// ParseLevel maps a level name to a Level. Matching ignores case and
// surrounding whitespace; an empty name is an operator.
func ParseLevel(s string) (Level, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return LevelOperator, nil
	}
	for l, name := range levelNames {
		if name == s {
			return l, nil
		}
	}
	return 0, fmt.Errorf("auth: unknown level %q (want operator, lead, supervisor or admin)", s)
}

// Capability is what an operator is allowed to do.
type Capability struct {
	OperatorID string
	Department string
	Level      Level
}

// anyDepartment reports whether the capability spans every department.
func (c Capability) anyDepartment() bool {
	return c.Level >= LevelSupervisor
}

func (c Capability) inDepartment(department string) bool {
	if c.Level < LevelOperator {
		return false
	}
	return c.anyDepartment() || strings.EqualFold(c.Department, department)
}

// Gate holds the resolved capabilities of every active operator.
type Gate struct {
	mu   sync.RWMutex
	caps map[string]Capability
}

// NewGate resolves operators into capabilities. Inactive operators are
// left out, so they resolve to nothing. An unparseable level is an error.
func NewGate(operators []models.Operator) (*Gate, error) {
	g := &Gate{caps: make(map[string]Capability, len(operators))}
	for _, op := range operators {
		if err := g.Put(op); err != nil {
			return nil, err
		}
	}
	return g, nil
}

// Put adds or replaces one operator.
func (g *Gate) Put(op models.Operator) error {
	level, err := ParseLevel(op.Level)
	if err != nil {
		return fmt.Errorf("auth: operator %s: %w", op.ID, err)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if !op.Active {
		delete(g.caps, op.ID)
		return nil
	}
	g.caps[op.ID] = Capability{OperatorID: op.ID, Department: strings.TrimSpace(op.Department), Level: level}
	return nil
}

// Resolve returns the capability for operatorID. Unknown and inactive
// operators return false.
func (g *Gate) Resolve(operatorID string) (Capability, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	c, ok := g.caps[operatorID]
	return c, ok
}

// CanStart reports whether c may start a stage in department.
func (g *Gate) CanStart(c Capability, department string) bool {
	return c.inDepartment(department)
}

// CanComplete reports whether c may complete a stage in department.
func (g *Gate) CanComplete(c Capability, department string) bool {
	return c.inDepartment(department)
}

// CanUpdateProgress reports whether c may record progress on a stage in
// department.
func (g *Gate) CanUpdateProgress(c Capability, department string) bool {
	return c.inDepartment(department)
}

// CanAbort reports whether c may abort an in-progress stage in department.
// The operator running the stage may always abort it.
func (g *Gate) CanAbort(c Capability, department, runningOperator string) bool {
	if c.Level >= LevelOperator && c.OperatorID != "" && c.OperatorID == runningOperator {
		return true
	}
	return c.Level >= LevelLead && c.inDepartment(department)
}

// CanReschedule reports whether c may move bookings.
func (g *Gate) CanReschedule(c Capability) bool {
	return c.Level >= LevelLead
}

// CanCancel reports whether c may cancel stages.
func (g *Gate) CanCancel(c Capability) bool {
	return c.Level >= LevelLead
}

// CanEditCalendar reports whether c may change the shift calendar.
func (g *Gate) CanEditCalendar(c Capability) bool {
	return c.Level >= LevelSupervisor
}

// CanPlan reports whether c may create stages and edit dependencies.
func (g *Gate) CanPlan(c Capability) bool {
	return c.Level >= LevelLead
}
