// Package availability keeps, per space, the set of windows currently
// holding a reservation and offers atomic test-and-reserve on it.
//
// The index is derived state: the booking table is authoritative and the
// index is rebuilt from it on startup.
package availability

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"parkshare/internal/domain"
)

var (
	ErrConflict   = errors.New("window overlaps an existing reservation")
	ErrNotFound   = errors.New("reservation not found")
	ErrInvalidEnd = errors.New("new end must be after the current end")
	ErrDuplicate  = errors.New("booking already holds a reservation")
)

// ConflictError names the reservation that blocked a request.
type ConflictError struct {
	SpaceID   string
	Requested domain.TimeWindow
	Existing  Reservation
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("space %s: window %s overlaps reservation %s %s",
		e.SpaceID, e.Requested, e.Existing.BookingID, e.Existing.Window)
}

func (e *ConflictError) Unwrap() error { return ErrConflict }

type Reservation struct {
	BookingID string
	Window    domain.TimeWindow
}

// Entry is a reservation tagged with its space, used by Rebuild.
type Entry struct {
	SpaceID string
	Reservation
}

type spaceSet struct {
	mu sync.Mutex
	// slots is sorted by Window.Start and pairwise disjoint, so Window.End
	// is sorted as well.
	slots []Reservation
	byID  map[string]domain.TimeWindow
}

type Index struct {
	mu     sync.Mutex
	spaces map[string]*spaceSet
}

func New() *Index {
	return &Index{spaces: make(map[string]*spaceSet)}
}

func (ix *Index) space(spaceID string, create bool) *spaceSet {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	s, ok := ix.spaces[spaceID]
	if !ok && create {
		s = &spaceSet{byID: make(map[string]domain.TimeWindow)}
		ix.spaces[spaceID] = s
	}
	return s
}

// Do runs fn while holding spaceID's lock. Every index mutation made
// through the Txn is undone when fn returns an error (or panics), so a
// caller can pair the mutation with a store write and keep both or neither.
// fn must not call back into the Index for the same space.
func (ix *Index) Do(spaceID string, fn func(*Txn) error) (err error) {
	s := ix.space(spaceID, true)
	s.mu.Lock()
	defer s.mu.Unlock()

	txn := &Txn{spaceID: spaceID, set: s}
	defer func() {
		if p := recover(); p != nil {
			txn.rollback()
			panic(p)
		}
		if err != nil {
			txn.rollback()
		}
		txn.done = true
	}()
	return fn(txn)
}

// TryReserve records w for bookingID unless it overlaps another reservation.
func (ix *Index) TryReserve(spaceID, bookingID string, w domain.TimeWindow) error {
	return ix.Do(spaceID, func(txn *Txn) error {
		return txn.TryReserve(bookingID, w)
	})
}

// Release drops bookingID's reservation. Releasing an unknown or already
// released booking is a no-op that reports false.
func (ix *Index) Release(spaceID, bookingID string) (domain.TimeWindow, bool) {
	s := ix.space(spaceID, false)
	if s == nil {
		return domain.TimeWindow{}, false
	}
	var (
		w  domain.TimeWindow
		ok bool
	)
	_ = ix.Do(spaceID, func(txn *Txn) error {
		w, ok = txn.Release(bookingID)
		return nil
	})
	return w, ok
}

func (ix *Index) Extend(spaceID, bookingID string, newEnd time.Time) error {
	return ix.Do(spaceID, func(txn *Txn) error {
		return txn.Extend(bookingID, newEnd)
	})
}

// Overlaps is a read-only probe for availability display.
func (ix *Index) Overlaps(spaceID string, w domain.TimeWindow) bool {
	s := ix.space(spaceID, false)
	if s == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, hit := s.conflict(w, "")
	return hit
}

// Snapshot returns a copy of the space's reservations ordered by start.
func (ix *Index) Snapshot(spaceID string) []Reservation {
	s := ix.space(spaceID, false)
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.slots)
}

func (ix *Index) Spaces() []string {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	out := make([]string, 0, len(ix.spaces))
	for id := range ix.spaces {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Rebuild replaces the whole index with entries. Entries that overlap an
// already loaded reservation are skipped and reported; they indicate the
// store violates the no-overlap invariant.
func (ix *Index) Rebuild(entries []Entry) []error {
	ix.mu.Lock()
	ix.spaces = make(map[string]*spaceSet)
	ix.mu.Unlock()

	var faults []error
	for _, e := range entries {
		if err := ix.TryReserve(e.SpaceID, e.BookingID, e.Window); err != nil {
			faults = append(faults, err)
		}
	}
	return faults
}

// conflict returns a reservation other than ignoreID overlapping w.
// Cost is O(log n + k) for k candidates ending after w.Start.
func (s *spaceSet) conflict(w domain.TimeWindow, ignoreID string) (Reservation, bool) {
	i := sort.Search(len(s.slots), func(i int) bool {
		return !s.slots[i].Window.Start.Before(w.End)
	})
	for j := i - 1; j >= 0 && s.slots[j].Window.End.After(w.Start); j-- {
		if s.slots[j].BookingID != ignoreID {
			return s.slots[j], true
		}
	}
	return Reservation{}, false
}

func (s *spaceSet) insert(r Reservation) {
	i := sort.Search(len(s.slots), func(i int) bool {
		return s.slots[i].Window.Start.After(r.Window.Start)
	})
	s.slots = slices.Insert(s.slots, i, r)
	s.byID[r.BookingID] = r.Window
}

func (s *spaceSet) position(bookingID string) int {
	w, ok := s.byID[bookingID]
	if !ok {
		return -1
	}
	i := sort.Search(len(s.slots), func(i int) bool {
		return !s.slots[i].Window.Start.Before(w.Start)
	})
	for ; i < len(s.slots) && s.slots[i].Window.Start.Equal(w.Start); i++ {
		if s.slots[i].BookingID == bookingID {
			return i
		}
	}
	return -1
}

func (s *spaceSet) remove(bookingID string) (domain.TimeWindow, bool) {
	i := s.position(bookingID)
	if i < 0 {
		return domain.TimeWindow{}, false
	}
	w := s.slots[i].Window
	s.slots = slices.Delete(s.slots, i, i+1)
	delete(s.byID, bookingID)
	return w, true
}

func (s *spaceSet) setWindow(bookingID string, w domain.TimeWindow) {
	i := s.position(bookingID)
	s.slots[i].Window = w
	s.byID[bookingID] = w
}
