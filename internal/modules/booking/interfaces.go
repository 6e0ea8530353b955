package booking

import (
	"context"

	"parkshare/internal/domain"
)

// ReleaseListener is told about the still-future part of a window that was
// released before its end (cancellation, refunded issue, payment failure).
// It is called after the space lock is released.
type ReleaseListener interface {
	WindowFreed(ctx context.Context, spaceID string, freed domain.TimeWindow)
}

type ReleaseFunc func(ctx context.Context, spaceID string, freed domain.TimeWindow)

func (f ReleaseFunc) WindowFreed(ctx context.Context, spaceID string, freed domain.TimeWindow) {
	f(ctx, spaceID, freed)
}
