package organization

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/quickcourier/qcs-api/internal/domain"
	"github.com/quickcourier/qcs-api/pkg/logger"
)

const (
	snapshotKeyPrefix = "qcs:org:snapshot:"
	errorKeyPrefix    = "qcs:org:lasterror:"
)

// Cache is the short-lived organization snapshot cache checked before any
// network fetch, plus the per-session error record written when a refresh
// fails.
type Cache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewCache(rdb *redis.Client, ttl time.Duration) *Cache {
	return &Cache{rdb: rdb, ttl: ttl}
}

func (c *Cache) Get(ctx context.Context, orgID string) (*domain.Organization, bool) {
	raw, err := c.rdb.Get(ctx, snapshotKeyPrefix+orgID).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			logger.WarnContext(ctx, "Organization cache read failed", "org_id", orgID, "error", err)
		}
		return nil, false
	}
	var org domain.Organization
	if err := json.Unmarshal(raw, &org); err != nil {
		_ = c.rdb.Del(ctx, snapshotKeyPrefix+orgID).Err()
		return nil, false
	}
	return &org, true
}

func (c *Cache) Set(ctx context.Context, org *domain.Organization) {
	payload, err := json.Marshal(org)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, snapshotKeyPrefix+org.ID, payload, c.ttl).Err(); err != nil {
		logger.WarnContext(ctx, "Organization cache write failed", "org_id", org.ID, "error", err)
	}
}

func (c *Cache) Clear(ctx context.Context, orgID string) {
	_ = c.rdb.Del(ctx, snapshotKeyPrefix+orgID).Err()
}

// ErrorRecord is the persisted diagnostic left behind by a failed refresh.
type ErrorRecord struct {
	OrganizationID string `json:"organization_id,omitempty"`
	Message        string `json:"message"`
	Timestamp      int64  `json:"timestamp"`
}

func (c *Cache) RecordError(ctx context.Context, sessionID string, rec ErrorRecord) {
	payload, err := json.Marshal(&rec)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, errorKeyPrefix+sessionID, payload, c.ttl).Err(); err != nil {
		logger.WarnContext(ctx, "Organization error record write failed", "session_id", sessionID, "error", err)
	}
}
