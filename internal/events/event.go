// Package events carries booking and waitlist lifecycle events to
// downstream consumers.
package events

import (
	"context"
	"sync"
	"time"

	"parkshare/internal/domain"

	"github.com/shopspring/decimal"
)

type Type string

const (
	BookingCreated       Type = "booking.created"
	BookingConfirmed     Type = "booking.confirmed"
	BookingActivated     Type = "booking.activated"
	BookingCompleted     Type = "booking.completed"
	BookingCancelled     Type = "booking.cancelled"
	BookingExtended      Type = "booking.extended"
	BookingIssueReported Type = "booking.issue_reported"
	IssueResolved        Type = "issue.resolved"

	WaitlistJoined       Type = "waitlist.joined"
	WaitlistOffered      Type = "waitlist.offered"
	WaitlistClaimed      Type = "waitlist.claimed"
	WaitlistOfferExpired Type = "waitlist.offer_expired"
	WaitlistExpired      Type = "waitlist.expired"
	WaitlistLeft         Type = "waitlist.left"
)

type Event struct {
	Type       Type               `json:"type"`
	SpaceID    string             `json:"space_id"`
	BookingID  string             `json:"booking_id,omitempty"`
	EntryID    int64              `json:"entry_id,omitempty"`
	UserID     string             `json:"user_id,omitempty"`
	Status     string             `json:"status,omitempty"`
	Window     *domain.TimeWindow `json:"window,omitempty"`
	Amount     *decimal.Decimal   `json:"amount,omitempty"`
	OccurredAt time.Time          `json:"occurred_at"`
}

// ForBooking builds an event describing b's current state.
func ForBooking(t Type, b *domain.Booking, at time.Time) Event {
	w := b.Window
	return Event{
		Type:       t,
		SpaceID:    b.SpaceID,
		BookingID:  b.ID,
		UserID:     b.RenterID,
		Status:     string(b.Status),
		Window:     &w,
		OccurredAt: at,
	}
}

// ForEntry builds an event describing waitlist entry e.
func ForEntry(t Type, e *domain.WaitlistEntry, at time.Time) Event {
	w := e.DesiredWindow
	return Event{
		Type:       t,
		SpaceID:    e.SpaceID,
		BookingID:  e.BookingID,
		EntryID:    e.ID,
		UserID:     e.RequesterID,
		Status:     string(e.Status),
		Window:     &w,
		OccurredAt: at,
	}
}

type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

type nop struct{}

func (nop) Publish(context.Context, Event) error { return nil }

// Nop discards every event.
func Nop() Publisher { return nop{} }

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(_ context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Types lists the recorded event types in publish order.
func (r *Recorder) Types() []Type {
	var out []Type
	for _, e := range r.Events() {
		out = append(out, e.Type)
	}
	return out
}
