package domain

import (
	"errors"
	"fmt"
)

// Kind groups engine errors by how callers are expected to react.
type Kind int

const (
	// KindValidation is a malformed request; never retried.
	KindValidation Kind = iota + 1
	// KindConflict is an expected outcome that drives an alternate path
	// (join the waitlist, pick another time).
	KindConflict
	KindNotFound
	// KindState means the entity is not in a status that allows the operation.
	KindState
	KindForbidden
)

type Error struct {
	Kind    Kind
	Code    string
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

func newError(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

var (
	ErrInvalidWindow   = newError(KindValidation, "INVALID_WINDOW", "invalid time window")
	ErrInvalidDuration = newError(KindValidation, "INVALID_DURATION", "invalid duration")
	ErrPriceMismatch   = newError(KindValidation, "PRICE_MISMATCH", "price does not match the current quote")
	ErrInvalidIssue    = newError(KindValidation, "INVALID_ISSUE", "invalid issue report")
	ErrInvalidPrice    = newError(KindValidation, "INVALID_PRICE", "invalid price")

	ErrSpaceUnavailable  = newError(KindConflict, "SPACE_UNAVAILABLE", "space is not available for the requested window")
	ErrExtensionConflict = newError(KindConflict, "EXTENSION_CONFLICT", "extension overlaps another reservation")
	ErrOfferExpired      = newError(KindConflict, "OFFER_EXPIRED", "waitlist offer has expired")

	ErrBookingNotFound = newError(KindNotFound, "BOOKING_NOT_FOUND", "booking not found")
	ErrSpaceNotFound   = newError(KindNotFound, "SPACE_NOT_FOUND", "space not found")
	ErrOfferNotFound   = newError(KindNotFound, "OFFER_NOT_FOUND", "no open waitlist offer")
	ErrEntryNotFound   = newError(KindNotFound, "WAITLIST_ENTRY_NOT_FOUND", "waitlist entry not found")

	ErrNotCancellable = newError(KindState, "NOT_CANCELLABLE", "booking cannot be cancelled")
	ErrNotExtendable  = newError(KindState, "NOT_EXTENDABLE", "booking cannot be extended")
	ErrNotReportable  = newError(KindState, "NOT_REPORTABLE", "issue cannot be reported for this booking")
	ErrNotResolvable  = newError(KindState, "NOT_RESOLVABLE", "booking has no open issue")
	ErrInvalidState   = newError(KindState, "INVALID_STATUS_TRANSITION", "invalid status transition")

	ErrForbidden = newError(KindForbidden, "FORBIDDEN", "forbidden")
)

// KindOf returns the kind of the first *Error in err's chain, or 0.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// Wrapf annotates a sentinel with request details so callers see which
// space and window the failure refers to.
func Wrapf(err *Error, format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{err}, args...)...)
}
