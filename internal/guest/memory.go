package guest

import (
	"context"
	"sync"
	"time"

	"github.com/quickcourier/qcs-api/internal/domain"
)

// MemoryStore is an in-process guest store for development and tests. Same
// expiry-on-read semantics as the redis store.
type MemoryStore struct {
	mu       sync.Mutex
	ttl      time.Duration
	now      func() time.Time
	bookings map[string]*domain.GuestBooking
	progress map[string]*domain.GuestProgress
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		ttl:      ttl,
		now:      time.Now,
		bookings: make(map[string]*domain.GuestBooking),
		progress: make(map[string]*domain.GuestProgress),
	}
}

// SetClock replaces the store's clock. Test hook.
func (s *MemoryStore) SetClock(now func() time.Time) { s.now = now }

func (s *MemoryStore) SaveBooking(_ context.Context, guestID string, b *domain.GuestBooking) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	record := *b
	record.Timestamp = s.now().UnixMilli()
	s.bookings[guestID] = &record
	return nil
}

func (s *MemoryStore) Booking(_ context.Context, guestID string) (*domain.GuestBooking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bookings[guestID]
	if !ok {
		return nil, nil
	}
	if b.Expired(s.now(), s.ttl) {
		delete(s.bookings, guestID)
		return nil, nil
	}
	record := *b
	return &record, nil
}

func (s *MemoryStore) SaveProgress(_ context.Context, guestID string, step int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.progress[guestID] = &domain.GuestProgress{Step: step, Timestamp: s.now().UnixMilli()}
	return nil
}

func (s *MemoryStore) Progress(_ context.Context, guestID string) (int, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.progress[guestID]
	if !ok {
		return 0, false, nil
	}
	if p.Expired(s.now(), s.ttl) {
		delete(s.progress, guestID)
		return 0, false, nil
	}
	return p.Step, true, nil
}

func (s *MemoryStore) HasAnyGuestData(ctx context.Context, guestID string) (bool, error) {
	if b, _ := s.Booking(ctx, guestID); b != nil {
		return true, nil
	}
	_, ok, _ := s.Progress(ctx, guestID)
	return ok, nil
}

func (s *MemoryStore) ClearAll(_ context.Context, guestID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.bookings, guestID)
	delete(s.progress, guestID)
	return nil
}
