// Package stage holds the stage state machine, department routing and the
// downstream planner that decides what completing a stage unlocks.
package stage

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/zulandar/shopyard/internal/models"
	"github.com/zulandar/shopyard/internal/schederr"
)

// ValidTransitions maps each status to its valid next statuses.
// Completed and cancelled are terminal.
var ValidTransitions = map[string][]string{
	models.StatusBlocked:    {models.StatusScheduled},
	models.StatusScheduled:  {models.StatusInProgress, models.StatusCancelled, models.StatusBlocked},
	models.StatusInProgress: {models.StatusCompleted, models.StatusBlocked},
}

// CanTransition reports whether from -> to is a legal status change.
func CanTransition(from, to string) bool {
	for _, s := range ValidTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Transition moves s to status to, or fails with ErrInvalidTransition.
func Transition(s *models.Stage, to string) error {
	if s.Terminal() {
		return fmt.Errorf("stage: %s is %s and final: %w", s.ID, s.Status, schederr.ErrInvalidTransition)
	}
	if !CanTransition(s.Status, to) {
		return fmt.Errorf("stage: %s cannot move from %q to %q (valid: %v): %w",
			s.ID, s.Status, to, ValidTransitions[s.Status], schederr.ErrInvalidTransition)
	}
	s.Status = to
	return nil
}

// GenerateID creates a unique stage ID in stg-xxxxxxxx format.
func GenerateID() (string, error) {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("stage: generate ID: %w", err)
	}
	return "stg-" + hex.EncodeToString(b), nil
}

// Step is one department on the routing, with the hours a stage there is
// planned for when it is synthesized.
type Step struct {
	Department string
	Hours      decimal.Decimal
}

// Routing is the ordered list of departments work flows through,
// e.g. print -> coat -> machine -> inspect.
type Routing struct {
	steps []Step
}

// NewRouting returns a routing over steps, in order. Department names are
// compared case-insensitively.
func NewRouting(steps ...Step) Routing {
	r := Routing{steps: make([]Step, 0, len(steps))}
	for _, s := range steps {
		s.Department = strings.TrimSpace(s.Department)
		r.steps = append(r.steps, s)
	}
	return r
}

// Steps returns the routing steps in order.
func (r Routing) Steps() []Step {
	out := make([]Step, len(r.steps))
	copy(out, r.steps)
	return out
}

// Next returns the step after department, if any.
func (r Routing) Next(department string) (Step, bool) {
	for i, s := range r.steps {
		if strings.EqualFold(s.Department, department) && i+1 < len(r.steps) {
			return r.steps[i+1], true
		}
	}
	return Step{}, false
}

// Hours returns the planned hours for department, or false when the
// department is not routed or has no hours set.
func (r Routing) Hours(department string) (decimal.Decimal, bool) {
	for _, s := range r.steps {
		if strings.EqualFold(s.Department, department) && s.Hours.IsPositive() {
			return s.Hours, true
		}
	}
	return decimal.Zero, false
}
