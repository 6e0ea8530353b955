// Package notification delivers user-facing messages (waitlist offers,
// cancellations, refunds) to the push hub and the e-mail dispatcher.
package notification

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

const (
	KindWaitlistOffer   = "waitlist.offer"
	KindOfferExpired    = "waitlist.offer_expired"
	KindBookingCreated  = "booking.created"
	KindBookingCanceled = "booking.cancelled"
	KindIssueReported   = "issue.reported"
	KindIssueResolved   = "issue.resolved"
)

type Message struct {
	UserID    string         `json:"user_id"`
	Kind      string         `json:"kind"`
	Title     string         `json:"title"`
	Body      string         `json:"body"`
	Data      map[string]any `json:"data,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

type Notifier interface {
	Notify(ctx context.Context, m Message) error
}

type nop struct{}

func (nop) Notify(context.Context, Message) error { return nil }

func Nop() Notifier { return nop{} }

// Multi delivers to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, msg Message) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Dispatch sends m and logs a failure instead of returning it. Delivery
// retries belong to the downstream dispatcher.
func Dispatch(ctx context.Context, n Notifier, log *slog.Logger, m Message) {
	if err := n.Notify(ctx, m); err != nil {
		log.Warn("notification failed", "kind", m.Kind, "user_id", m.UserID, "error", err)
	}
}
