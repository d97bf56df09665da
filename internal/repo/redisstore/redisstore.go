// Package redisstore holds the redis-backed implementations of the
// short-lived session-scoped stores: pre-auth navigation state, portal
// preference, and idempotency records.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/quickcourier/qcs-api/internal/domain"
	"github.com/quickcourier/qcs-api/internal/guard"
	"github.com/quickcourier/qcs-api/pkg/config"
)

func NewClient(cfg config.RedisConfig) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, err
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	opts.DB = cfg.DB
	return redis.NewClient(opts), nil
}

const (
	preAuthPrefix  = "qcs:preauth:"
	typePrefPrefix = "qcs:typepref:"
)

// StateStore implements guard.StateStore. Pre-auth state is short-lived;
// the portal preference persists much longer so returning visitors land on
// the right sign-in flow.
type StateStore struct {
	rdb        *redis.Client
	preAuthTTL time.Duration
}

func NewStateStore(rdb *redis.Client, preAuthTTL time.Duration) *StateStore {
	return &StateStore{rdb: rdb, preAuthTTL: preAuthTTL}
}

func (s *StateStore) SavePreAuth(ctx context.Context, visitorID string, st guard.PreAuthState) error {
	payload, err := json.Marshal(&st)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, preAuthPrefix+visitorID, payload, s.preAuthTTL).Err()
}

func (s *StateStore) PreAuth(ctx context.Context, visitorID string) (*guard.PreAuthState, error) {
	raw, err := s.rdb.Get(ctx, preAuthPrefix+visitorID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var st guard.PreAuthState
	if err := json.Unmarshal(raw, &st); err != nil {
		_ = s.rdb.Del(ctx, preAuthPrefix+visitorID).Err()
		return nil, nil
	}
	return &st, nil
}

func (s *StateStore) ClearPreAuth(ctx context.Context, visitorID string) error {
	return s.rdb.Del(ctx, preAuthPrefix+visitorID).Err()
}

func (s *StateStore) SaveTypePreference(ctx context.Context, visitorID string, t domain.UserType) error {
	return s.rdb.Set(ctx, typePrefPrefix+visitorID, string(t), 30*24*time.Hour).Err()
}

func (s *StateStore) TypePreference(ctx context.Context, visitorID string) (domain.UserType, error) {
	raw, err := s.rdb.Get(ctx, typePrefPrefix+visitorID).Result()
	if errors.Is(err, redis.Nil) {
		return domain.UserTypeNone, nil
	}
	if err != nil {
		return domain.UserTypeNone, err
	}
	t, ok := domain.ParseUserType(raw)
	if !ok {
		return domain.UserTypeNone, nil
	}
	return t, nil
}

// IdempotencyStore implements middleware.IdempotencyStore over redis.
type IdempotencyStore struct {
	rdb *redis.Client
}

func NewIdempotencyStore(rdb *redis.Client) *IdempotencyStore {
	return &IdempotencyStore{rdb: rdb}
}

func (s *IdempotencyStore) Get(ctx context.Context, key string) (string, error) {
	val, err := s.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return val, err
}

func (s *IdempotencyStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return s.rdb.Set(ctx, key, value, ttl).Err()
}
