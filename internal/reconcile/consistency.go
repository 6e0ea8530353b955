package reconcile

import (
	"context"
	"fmt"
	"log/slog"

	"parkshare/internal/availability"
	"parkshare/internal/domain"
	"parkshare/internal/repository"
)

// Fault is a disagreement between the availability index and the booking
// table.
type Fault struct {
	SpaceID   string
	BookingID string
	Reason    string
}

func (f Fault) String() string {
	return fmt.Sprintf("space %s booking %s: %s", f.SpaceID, f.BookingID, f.Reason)
}

// RebuildIndex loads every booking that holds its window into index.
// Overlapping rows are skipped and logged; they need a person.
func RebuildIndex(ctx context.Context, store *repository.Store, index *availability.Index, log *slog.Logger) (int, error) {
	holding, err := store.Bookings.ListHolding(ctx)
	if err != nil {
		return 0, fmt.Errorf("load holding bookings: %w", err)
	}

	entries := make([]availability.Entry, 0, len(holding))
	for _, b := range holding {
		entries = append(entries, availability.Entry{
			SpaceID:     b.SpaceID,
			Reservation: availability.Reservation{BookingID: b.ID, Window: b.Window},
		})
	}
	faults := index.Rebuild(entries)
	for _, err := range faults {
		log.Error("consistency_fault", "reason", "overlapping bookings in store", "error", err)
	}
	return len(entries) - len(faults), nil
}

// CheckConsistency compares the index with the booking table one space at
// a time. Each space is read under its index lock, so a commit in flight
// cannot show up as a fault.
func CheckConsistency(ctx context.Context, store *repository.Store, index *availability.Index) ([]Fault, error) {
	holding, err := store.Bookings.ListHolding(ctx)
	if err != nil {
		return nil, err
	}
	spaces := index.Spaces()
	seen := make(map[string]bool, len(spaces))
	for _, id := range spaces {
		seen[id] = true
	}
	for _, b := range holding {
		if !seen[b.SpaceID] {
			seen[b.SpaceID] = true
			spaces = append(spaces, b.SpaceID)
		}
	}

	var faults []Fault
	for _, spaceID := range spaces {
		err := index.Do(spaceID, func(txn *availability.Txn) error {
			rows, err := store.Bookings.ListHoldingBySpace(ctx, spaceID)
			if err != nil {
				return err
			}
			faults = append(faults, compare(spaceID, txn.Reservations(), rows)...)
			return nil
		})
		if err != nil {
			return faults, err
		}
	}
	return faults, nil
}

func compare(spaceID string, reserved []availability.Reservation, rows []domain.Booking) []Fault {
	byID := make(map[string]domain.TimeWindow, len(reserved))
	for _, r := range reserved {
		byID[r.BookingID] = r.Window
	}

	var faults []Fault
	for _, b := range rows {
		w, ok := byID[b.ID]
		switch {
		case !ok:
			faults = append(faults, Fault{SpaceID: spaceID, BookingID: b.ID, Reason: string(b.Status) + " booking missing from index"})
		case !w.Start.Equal(b.Window.Start) || !w.End.Equal(b.Window.End):
			faults = append(faults, Fault{SpaceID: spaceID, BookingID: b.ID,
				Reason: fmt.Sprintf("index holds %s, store holds %s", w, b.Window)})
		}
		delete(byID, b.ID)
	}
	for id, w := range byID {
		faults = append(faults, Fault{SpaceID: spaceID, BookingID: id, Reason: "index reservation " + w.String() + " has no holding booking"})
	}
	return faults
}
