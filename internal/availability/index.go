// Package availability tracks committed machine bookings.
//
// The Index is sharded by machine ID. Each shard keeps its intervals sorted
// by start time behind its own RWMutex, so writes on one machine never block
// reads or writes on another, and a read on a machine always observes the
// last committed write on that same machine.
//
// A booking can be held before it is committed. Held bookings take part in
// every overlap check but are hidden from Bookings and PeekFree until
// Confirm commits them; Remove drops them like any other booking.
package availability

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/zulandar/shopyard/internal/schederr"
)

// Interval is a half-open booking [Start, End) for a stage.
type Interval struct {
	ID      string
	StageID string
	Start   time.Time
	End     time.Time
	// Held marks a booking whose operation has not committed yet.
	Held bool
}

// Overlaps reports whether i shares any instant with [start, end).
func (i Interval) Overlaps(start, end time.Time) bool {
	return i.Start.Before(end) && start.Before(i.End)
}

// Duration returns the interval length.
func (i Interval) Duration() time.Duration {
	return i.End.Sub(i.Start)
}

type shard struct {
	mu        sync.RWMutex
	intervals []Interval
}

// Index is the per-machine booking index.
type Index struct {
	mu     sync.RWMutex
	shards map[string]*shard
}

// NewIndex returns an empty index.
func NewIndex() *Index {
	return &Index{shards: make(map[string]*shard)}
}

// shard returns the shard for machineID, creating it when create is true.
func (x *Index) shard(machineID string, create bool) *shard {
	x.mu.RLock()
	s := x.shards[machineID]
	x.mu.RUnlock()
	if s != nil || !create {
		return s
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	if s = x.shards[machineID]; s == nil {
		s = &shard{}
		x.shards[machineID] = s
	}
	return s
}

// IsFree reports whether [start, end) overlaps no booking on the machine.
func (x *Index) IsFree(machineID string, start, end time.Time) bool {
	s := x.shard(machineID, false)
	if s == nil {
		return true
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conflicts(start, end, "")) == 0
}

// Conflicts returns the bookings overlapping [start, end), ignoring the
// booking with ID excludeID.
func (x *Index) Conflicts(machineID string, start, end time.Time, excludeID string) []Interval {
	s := x.shard(machineID, false)
	if s == nil {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conflicts(start, end, excludeID)
}

// Insert commits iv on the machine. It fails with a slot conflict if iv
// overlaps an existing booking, or if iv is empty.
func (x *Index) Insert(machineID string, iv Interval) error {
	if !iv.Start.Before(iv.End) {
		return fmt.Errorf("availability: insert %s on %s: %w", iv.ID, machineID, schederr.ErrInvalidDuration)
	}
	s := x.shard(machineID, true)
	s.mu.Lock()
	defer s.mu.Unlock()
	if c := s.conflicts(iv.Start, iv.End, ""); len(c) > 0 {
		return conflictError(machineID, c)
	}
	s.insert(iv)
	return nil
}

// Remove deletes the booking with the given ID. It reports whether a
// booking was removed.
func (x *Index) Remove(machineID, intervalID string) bool {
	s := x.shard(machineID, false)
	if s == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.remove(intervalID)
	return ok
}

// NextFree returns the earliest start >= notBefore such that
// [start, start+d) overlaps no booking on the machine, held ones included.
func (x *Index) NextFree(machineID string, notBefore time.Time, d time.Duration) time.Time {
	return x.next(machineID, notBefore, d, true)
}

// PeekFree is NextFree over committed bookings only.
func (x *Index) PeekFree(machineID string, notBefore time.Time, d time.Duration) time.Time {
	return x.next(machineID, notBefore, d, false)
}

func (x *Index) next(machineID string, notBefore time.Time, d time.Duration, withHeld bool) time.Time {
	s := x.shard(machineID, false)
	if s == nil {
		return notBefore
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nextFree(notBefore, d, withHeld)
}

// Reserve finds the earliest free slot of length d at or after notBefore and
// commits it for stageID, all under the machine's write lock.
func (x *Index) Reserve(machineID, intervalID, stageID string, notBefore time.Time, d time.Duration) (Interval, error) {
	return x.reserve(machineID, intervalID, stageID, notBefore, d, false)
}

// Hold is Reserve for a booking that stays held until Confirm.
func (x *Index) Hold(machineID, intervalID, stageID string, notBefore time.Time, d time.Duration) (Interval, error) {
	return x.reserve(machineID, intervalID, stageID, notBefore, d, true)
}

func (x *Index) reserve(machineID, intervalID, stageID string, notBefore time.Time, d time.Duration, held bool) (Interval, error) {
	if d <= 0 {
		return Interval{}, fmt.Errorf("availability: reserve on %s: %w", machineID, schederr.ErrInvalidDuration)
	}
	s := x.shard(machineID, true)
	s.mu.Lock()
	defer s.mu.Unlock()

	start := s.nextFree(notBefore, d, true)
	iv := Interval{ID: intervalID, StageID: stageID, Start: start, End: start.Add(d), Held: held}
	s.insert(iv)
	return iv, nil
}

// Confirm commits a held booking. It reports whether the booking exists.
func (x *Index) Confirm(machineID, intervalID string) bool {
	s := x.shard(machineID, false)
	if s == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.intervals {
		if s.intervals[i].ID == intervalID {
			s.intervals[i].Held = false
			return true
		}
	}
	return false
}

// Move replaces booking intervalID with [start, end), checking for overlaps
// against every other booking on the machine. On conflict the original
// booking is left untouched.
func (x *Index) Move(machineID, intervalID string, start, end time.Time) (Interval, error) {
	if !start.Before(end) {
		return Interval{}, fmt.Errorf("availability: move %s on %s: %w", intervalID, machineID, schederr.ErrInvalidDuration)
	}
	s := x.shard(machineID, false)
	if s == nil {
		return Interval{}, fmt.Errorf("availability: booking %s on %s: %w", intervalID, machineID, schederr.ErrNotFound)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	old, ok := s.find(intervalID)
	if !ok {
		return Interval{}, fmt.Errorf("availability: booking %s on %s: %w", intervalID, machineID, schederr.ErrNotFound)
	}
	if c := s.conflicts(start, end, intervalID); len(c) > 0 {
		return Interval{}, conflictError(machineID, c)
	}
	s.remove(intervalID)
	moved := Interval{ID: old.ID, StageID: old.StageID, Start: start, End: end, Held: old.Held}
	s.insert(moved)
	return moved, nil
}

// Bookings returns a copy of the machine's committed bookings in start
// order.
func (x *Index) Bookings(machineID string) []Interval {
	s := x.shard(machineID, false)
	if s == nil {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Interval, 0, len(s.intervals))
	for _, iv := range s.intervals {
		if !iv.Held {
			out = append(out, iv)
		}
	}
	return out
}

func (s *shard) conflicts(start, end time.Time, excludeID string) []Interval {
	var out []Interval
	for _, iv := range s.intervals {
		if !iv.Start.Before(end) {
			break
		}
		if iv.ID != excludeID && iv.Overlaps(start, end) {
			out = append(out, iv)
		}
	}
	return out
}

func (s *shard) nextFree(notBefore time.Time, d time.Duration, withHeld bool) time.Time {
	candidate := notBefore
	for _, iv := range s.intervals {
		if (iv.Held && !withHeld) || !iv.End.After(candidate) {
			continue
		}
		if !candidate.Add(d).After(iv.Start) {
			return candidate
		}
		candidate = iv.End
	}
	return candidate
}

func (s *shard) insert(iv Interval) {
	i := sort.Search(len(s.intervals), func(i int) bool {
		return s.intervals[i].Start.After(iv.Start)
	})
	s.intervals = append(s.intervals, Interval{})
	copy(s.intervals[i+1:], s.intervals[i:])
	s.intervals[i] = iv
}

func (s *shard) find(id string) (Interval, bool) {
	for _, iv := range s.intervals {
		if iv.ID == id {
			return iv, true
		}
	}
	return Interval{}, false
}

func (s *shard) remove(id string) (Interval, bool) {
	for i, iv := range s.intervals {
		if iv.ID == id {
			s.intervals = append(s.intervals[:i], s.intervals[i+1:]...)
			return iv, true
		}
	}
	return Interval{}, false
}

func conflictError(machineID string, c []Interval) error {
	ids := make([]string, 0, len(c))
	for _, iv := range c {
		ids = append(ids, iv.StageID)
	}
	return fmt.Errorf("availability: %w", &schederr.ConflictError{MachineID: machineID, StageIDs: ids})
}
