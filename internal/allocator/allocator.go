// Package allocator turns free machine time into committed bookings.
package allocator

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/zulandar/shopyard/internal/availability"
	"github.com/zulandar/shopyard/internal/models"
	"github.com/zulandar/shopyard/internal/schederr"
)

// Default duration bounds for a single booking.
const (
	DefaultMinDuration = 15 * time.Minute
	DefaultMaxDuration = 7 * 24 * time.Hour
)

// MachineSource resolves machine master records.
type MachineSource interface {
	Machine(id string) (models.Machine, bool)
}

// Bounds limits the length of a single booking.
type Bounds struct {
	Min time.Duration
	Max time.Duration
}

// DefaultBounds returns the 15 minute to one week bounds.
func DefaultBounds() Bounds {
	return Bounds{Min: DefaultMinDuration, Max: DefaultMaxDuration}
}

// Check validates d against the bounds.
func (b Bounds) Check(d time.Duration) error {
	if d < b.Min || d > b.Max {
		return fmt.Errorf("allocator: duration %s outside [%s, %s]: %w", d, b.Min, b.Max, schederr.ErrInvalidDuration)
	}
	return nil
}

// Allocator commits bookings into an availability index.
type Allocator struct {
	index    *availability.Index
	machines MachineSource
	bounds   Bounds
	newID    func() string
}

// New returns an allocator over index. Zero bounds fall back to the defaults.
func New(index *availability.Index, machines MachineSource, bounds Bounds) *Allocator {
	if bounds.Min <= 0 {
		bounds.Min = DefaultMinDuration
	}
	if bounds.Max <= 0 {
		bounds.Max = DefaultMaxDuration
	}
	return &Allocator{
		index:    index,
		machines: machines,
		bounds:   bounds,
		newID:    uuid.NewString,
	}
}

// Bounds returns the allocator's duration bounds.
func (a *Allocator) Bounds() Bounds {
	return a.bounds
}

// Index returns the underlying availability index.
func (a *Allocator) Index() *availability.Index {
	return a.index
}

// checkMachine fails with CapacityUnavailable for unknown, inactive or
// unschedulable machines.
func (a *Allocator) checkMachine(machineID string) error {
	m, ok := a.machines.Machine(machineID)
	if !ok {
		return fmt.Errorf("allocator: machine %s unknown: %w", machineID, schederr.ErrCapacityUnavailable)
	}
	if !m.Active {
		return fmt.Errorf("allocator: machine %s inactive: %w", machineID, schederr.ErrCapacityUnavailable)
	}
	if !m.Schedulable {
		return fmt.Errorf("allocator: machine %s not schedulable: %w", machineID, schederr.ErrCapacityUnavailable)
	}
	return nil
}

// Next previews the slot Allocate would commit, without committing it.
// Held bookings of uncommitted operations are not considered.
func (a *Allocator) Next(machineID string, notBefore time.Time, d time.Duration) (time.Time, time.Time, error) {
	if err := a.bounds.Check(d); err != nil {
		return time.Time{}, time.Time{}, err
	}
	if err := a.checkMachine(machineID); err != nil {
		return time.Time{}, time.Time{}, err
	}
	start := a.index.PeekFree(machineID, notBefore, d)
	return start, start.Add(d), nil
}

// Allocate commits the earliest free slot of length d at or after notBefore
// on the machine for stageID. The horizon is unbounded, so it only fails for
// bad durations and unavailable machines.
func (a *Allocator) Allocate(machineID, stageID string, notBefore time.Time, d time.Duration) (availability.Interval, error) {
	return a.allocate(machineID, stageID, notBefore, d, false)
}

// Hold is Allocate for a booking that stays hidden from readers until
// Confirm. Release drops it.
func (a *Allocator) Hold(machineID, stageID string, notBefore time.Time, d time.Duration) (availability.Interval, error) {
	return a.allocate(machineID, stageID, notBefore, d, true)
}

// Confirm commits a held booking.
func (a *Allocator) Confirm(machineID, bookingID string) {
	a.index.Confirm(machineID, bookingID)
}

func (a *Allocator) allocate(machineID, stageID string, notBefore time.Time, d time.Duration, held bool) (availability.Interval, error) {
	if err := a.bounds.Check(d); err != nil {
		return availability.Interval{}, err
	}
	if err := a.checkMachine(machineID); err != nil {
		return availability.Interval{}, err
	}
	iv, err := a.reserve(machineID, stageID, notBefore, d, held)
	if err != nil {
		return availability.Interval{}, fmt.Errorf("allocator: allocate %s on %s: %w", stageID, machineID, err)
	}
	return iv, nil
}

func (a *Allocator) reserve(machineID, stageID string, notBefore time.Time, d time.Duration, held bool) (availability.Interval, error) {
	if held {
		return a.index.Hold(machineID, a.newID(), stageID, notBefore, d)
	}
	return a.index.Reserve(machineID, a.newID(), stageID, notBefore, d)
}

// AllocateAny commits a slot on whichever candidate machine offers the
// earliest start, ties going to the earlier candidate. Unavailable
// candidates are skipped; if none is usable the last machine error is
// returned.
func (a *Allocator) AllocateAny(candidates []string, stageID string, notBefore time.Time, d time.Duration) (string, availability.Interval, error) {
	return a.allocateAny(candidates, stageID, notBefore, d, false)
}

// HoldAny is AllocateAny for a booking held until Confirm.
func (a *Allocator) HoldAny(candidates []string, stageID string, notBefore time.Time, d time.Duration) (string, availability.Interval, error) {
	return a.allocateAny(candidates, stageID, notBefore, d, true)
}

func (a *Allocator) allocateAny(candidates []string, stageID string, notBefore time.Time, d time.Duration, held bool) (string, availability.Interval, error) {
	if err := a.bounds.Check(d); err != nil {
		return "", availability.Interval{}, err
	}

	lastErr := fmt.Errorf("allocator: no candidate machines for %s: %w", stageID, schederr.ErrCapacityUnavailable)
	best := ""
	var bestStart time.Time
	for _, id := range candidates {
		if err := a.checkMachine(id); err != nil {
			lastErr = err
			continue
		}
		start := a.index.NextFree(id, notBefore, d)
		if best == "" || start.Before(bestStart) {
			best, bestStart = id, start
		}
	}
	if best == "" {
		return "", availability.Interval{}, lastErr
	}

	// Reserve searches again under the machine's write lock.
	iv, err := a.reserve(best, stageID, bestStart, d, held)
	if err != nil {
		return "", availability.Interval{}, fmt.Errorf("allocator: allocate %s on %s: %w", stageID, best, err)
	}
	return best, iv, nil
}

// Reschedule moves an existing booking to [newStart, newEnd), re-validating
// against every other booking on the machine. Overlaps fail with a
// *schederr.ConflictError listing the stage IDs in the way.
func (a *Allocator) Reschedule(machineID, bookingID string, newStart, newEnd time.Time) (availability.Interval, error) {
	if !newStart.Before(newEnd) {
		return availability.Interval{}, fmt.Errorf("allocator: end %s not after start %s: %w",
			newEnd.Format(time.RFC3339), newStart.Format(time.RFC3339), schederr.ErrInvalidDuration)
	}
	if err := a.bounds.Check(newEnd.Sub(newStart)); err != nil {
		return availability.Interval{}, err
	}
	if err := a.checkMachine(machineID); err != nil {
		return availability.Interval{}, err
	}
	iv, err := a.index.Move(machineID, bookingID, newStart, newEnd)
	if err != nil {
		return availability.Interval{}, fmt.Errorf("allocator: reschedule %s: %w", bookingID, err)
	}
	return iv, nil
}

// Release drops a booking. Releasing an unknown booking is a no-op.
func (a *Allocator) Release(machineID, bookingID string) {
	if machineID == "" || bookingID == "" {
		return
	}
	a.index.Remove(machineID, bookingID)
}

// Restore re-inserts a previously committed booking, used when loading
// persisted stages and when rolling back a failed operation.
func (a *Allocator) Restore(machineID string, iv availability.Interval) error {
	if err := a.index.Insert(machineID, iv); err != nil {
		return fmt.Errorf("allocator: restore %s on %s: %w", iv.ID, machineID, err)
	}
	return nil
}
