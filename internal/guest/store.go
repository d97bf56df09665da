// Package guest holds anonymous visitors' in-progress booking state in a
// namespaced, expiring store independent of the session source. Records carry
// their creation timestamp; anything older than the freshness window is
// deleted on the next read.
package guest

import (
	"context"

	"github.com/quickcourier/qcs-api/internal/domain"
)

// Store is the guest booking/progress store. Reads return (nil, nil) or
// (0, false, nil) when no unexpired record exists; an expired record is
// removed as part of the failed read, so a second read is also a clean miss.
type Store interface {
	SaveBooking(ctx context.Context, guestID string, b *domain.GuestBooking) error
	Booking(ctx context.Context, guestID string) (*domain.GuestBooking, error)

	SaveProgress(ctx context.Context, guestID string, step int) error
	Progress(ctx context.Context, guestID string) (int, bool, error)

	HasAnyGuestData(ctx context.Context, guestID string) (bool, error)
	ClearAll(ctx context.Context, guestID string) error
}
