package guest

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/quickcourier/qcs-api/internal/domain"
	"github.com/quickcourier/qcs-api/pkg/logger"
)

const keyPrefix = "qcs:guest:"

// RedisStore is the production guest store. The freshness window is enforced
// twice: as a key TTL and as a timestamp check on read, so a record that
// outlives a TTL hiccup is still removed on the next read.
type RedisStore struct {
	rdb *redis.Client
	ttl time.Duration
	now func() time.Time
}

func NewRedisStore(rdb *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{rdb: rdb, ttl: ttl, now: time.Now}
}

func bookingKey(guestID string) string  { return keyPrefix + guestID + ":booking" }
func progressKey(guestID string) string { return keyPrefix + guestID + ":progress" }

func (s *RedisStore) SaveBooking(ctx context.Context, guestID string, b *domain.GuestBooking) error {
	record := *b
	record.Timestamp = s.now().UnixMilli()
	payload, err := json.Marshal(&record)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, bookingKey(guestID), payload, s.ttl).Err()
}

func (s *RedisStore) Booking(ctx context.Context, guestID string) (*domain.GuestBooking, error) {
	raw, err := s.rdb.Get(ctx, bookingKey(guestID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var b domain.GuestBooking
	if err := json.Unmarshal(raw, &b); err != nil {
		// Corrupt record: drop it rather than surface a parse error forever.
		logger.WarnContext(ctx, "Dropping unparsable guest booking", "guest_id", guestID, "error", err)
		_ = s.rdb.Del(ctx, bookingKey(guestID)).Err()
		return nil, nil
	}
	if b.Expired(s.now(), s.ttl) {
		if err := s.rdb.Del(ctx, bookingKey(guestID)).Err(); err != nil {
			return nil, err
		}
		return nil, nil
	}
	return &b, nil
}

func (s *RedisStore) SaveProgress(ctx context.Context, guestID string, step int) error {
	payload, err := json.Marshal(&domain.GuestProgress{Step: step, Timestamp: s.now().UnixMilli()})
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, progressKey(guestID), payload, s.ttl).Err()
}

func (s *RedisStore) Progress(ctx context.Context, guestID string) (int, bool, error) {
	raw, err := s.rdb.Get(ctx, progressKey(guestID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}

	var p domain.GuestProgress
	if err := json.Unmarshal(raw, &p); err != nil {
		logger.WarnContext(ctx, "Dropping unparsable guest progress", "guest_id", guestID, "error", err)
		_ = s.rdb.Del(ctx, progressKey(guestID)).Err()
		return 0, false, nil
	}
	if p.Expired(s.now(), s.ttl) {
		if err := s.rdb.Del(ctx, progressKey(guestID)).Err(); err != nil {
			return 0, false, err
		}
		return 0, false, nil
	}
	return p.Step, true, nil
}

func (s *RedisStore) HasAnyGuestData(ctx context.Context, guestID string) (bool, error) {
	b, err := s.Booking(ctx, guestID)
	if err != nil {
		return false, err
	}
	if b != nil {
		return true, nil
	}
	_, ok, err := s.Progress(ctx, guestID)
	return ok, err
}

func (s *RedisStore) ClearAll(ctx context.Context, guestID string) error {
	return s.rdb.Del(ctx, bookingKey(guestID), progressKey(guestID)).Err()
}
