// Package schederr defines the error kinds returned by the scheduling engine.
//
// Every rejection is one of the sentinels below, possibly wrapped with
// context. Callers match with errors.Is; slot conflicts additionally carry
// the overlapping stage IDs through *ConflictError.
package schederr

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidDuration     = errors.New("invalid duration")
	ErrCapacityUnavailable = errors.New("capacity unavailable")
	ErrSlotConflict        = errors.New("slot conflict")
	ErrSelfReference       = errors.New("self reference")
	ErrCycleDetected       = errors.New("cycle detected")
	ErrNotUnblocked        = errors.New("not unblocked")
	ErrAlreadyActive       = errors.New("already active")
	ErrNotInProgress       = errors.New("not in progress")
	ErrProgressMustAdvance = errors.New("progress must advance")
	ErrProgressOutOfRange  = errors.New("progress out of range")
	ErrNotAuthorized       = errors.New("not authorized")
	ErrNotFound            = errors.New("not found")
	ErrInvalidTransition   = errors.New("invalid transition")
	ErrCrossJob            = errors.New("stages belong to different jobs")
)

// ConflictError reports the stages whose bookings overlap a requested interval.
type ConflictError struct {
	MachineID string
	StageIDs  []string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("slot conflict on machine %s with stages %s", e.MachineID, strings.Join(e.StageIDs, ", "))
}

// Is makes errors.Is(err, ErrSlotConflict) true for a *ConflictError.
func (e *ConflictError) Is(target error) bool {
	return target == ErrSlotConflict
}

// ConflictingStages returns the stage IDs carried by a slot conflict anywhere
// in err's chain, or nil.
func ConflictingStages(err error) []string {
	var ce *ConflictError
	if errors.As(err, &ce) {
		return ce.StageIDs
	}
	return nil
}

// Transient reports whether retrying with different input (another time, or
// after the operator's current stage finishes) may succeed.
func Transient(err error) bool {
	return errors.Is(err, ErrSlotConflict) || errors.Is(err, ErrAlreadyActive)
}
