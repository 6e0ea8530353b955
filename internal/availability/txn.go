package availability

import (
	"fmt"
	"slices"
	"time"

	"parkshare/internal/domain"
)

// Txn is a unit of work on one space, valid only inside Index.Do.
type Txn struct {
	spaceID string
	set     *spaceSet
	undo    []func()
	done    bool
}

func (t *Txn) SpaceID() string { return t.spaceID }

func (t *Txn) checkOpen() {
	if t.done {
		panic("availability: Txn used after Do returned")
	}
}

func (t *Txn) TryReserve(bookingID string, w domain.TimeWindow) error {
	t.checkOpen()
	if err := w.Validate(); err != nil {
		return err
	}
	if _, exists := t.set.byID[bookingID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicate, bookingID)
	}
	if r, hit := t.set.conflict(w, ""); hit {
		return &ConflictError{SpaceID: t.spaceID, Requested: w, Existing: r}
	}

	t.set.insert(Reservation{BookingID: bookingID, Window: w})
	t.undo = append(t.undo, func() { t.set.remove(bookingID) })
	return nil
}

func (t *Txn) Release(bookingID string) (domain.TimeWindow, bool) {
	t.checkOpen()
	w, ok := t.set.remove(bookingID)
	if ok {
		t.undo = append(t.undo, func() {
			t.set.insert(Reservation{BookingID: bookingID, Window: w})
		})
	}
	return w, ok
}

// Extend widens bookingID's window to newEnd if [oldEnd, newEnd) is free.
func (t *Txn) Extend(bookingID string, newEnd time.Time) error {
	t.checkOpen()
	old, ok := t.set.byID[bookingID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, bookingID)
	}
	if !newEnd.After(old.End) {
		return ErrInvalidEnd
	}

	span := domain.TimeWindow{Start: old.End, End: newEnd}
	if r, hit := t.set.conflict(span, bookingID); hit {
		return &ConflictError{SpaceID: t.spaceID, Requested: span, Existing: r}
	}

	t.set.setWindow(bookingID, domain.TimeWindow{Start: old.Start, End: newEnd})
	t.undo = append(t.undo, func() { t.set.setWindow(bookingID, old) })
	return nil
}

func (t *Txn) Overlaps(w domain.TimeWindow) bool {
	t.checkOpen()
	_, hit := t.set.conflict(w, "")
	return hit
}

func (t *Txn) Get(bookingID string) (domain.TimeWindow, bool) {
	t.checkOpen()
	w, ok := t.set.byID[bookingID]
	return w, ok
}

func (t *Txn) Reservations() []Reservation {
	t.checkOpen()
	return slices.Clone(t.set.slots)
}

func (t *Txn) rollback() {
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
}
