// Package organization keeps the denormalized organization snapshot in
// session metadata structurally valid and fresh.
package organization

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/quickcourier/qcs-api/internal/domain"
	"github.com/quickcourier/qcs-api/internal/platform/session"
	"github.com/quickcourier/qcs-api/pkg/events"
	"github.com/quickcourier/qcs-api/pkg/logger"
)

// Snapshots is the short-lived organization cache consulted before a fetch.
type Snapshots interface {
	Get(ctx context.Context, orgID string) (*domain.Organization, bool)
	Set(ctx context.Context, org *domain.Organization)
	Clear(ctx context.Context, orgID string)
	RecordError(ctx context.Context, sessionID string, rec ErrorRecord)
}

// Fetcher fetches organization details from the backend API.
type Fetcher interface {
	GetOrganization(ctx context.Context, id, bearerToken string) (*domain.Organization, error)
}

type Refresher struct {
	cache       Snapshots
	fetcher     Fetcher
	publisher   events.Publisher
	staleness   time.Duration
	tokenBuffer time.Duration
	now         func() time.Time
}

func NewRefresher(cache Snapshots, fetcher Fetcher, publisher events.Publisher, staleness, tokenBuffer time.Duration) *Refresher {
	return &Refresher{
		cache:       cache,
		fetcher:     fetcher,
		publisher:   publisher,
		staleness:   staleness,
		tokenBuffer: tokenBuffer,
		now:         time.Now,
	}
}

// SetClock replaces the refresher's clock. Test hook.
func (r *Refresher) SetClock(now func() time.Time) { r.now = now }

// Refresh validates the session's organization snapshot and re-fetches it
// when stale. It returns ok=false with a reason when the organization is
// invalid or unrecoverable; the caller decides where to route. Failures
// never escape as errors: every failure path degrades to (false, reason).
func (r *Refresher) Refresh(ctx context.Context, src session.Source, sess *domain.Session, path string) (bool, string) {
	meta := sess.Metadata
	if meta == nil {
		return false, "metadata missing"
	}
	ref := meta.CurrentOrganization

	if violations := ValidateRef(ref); len(violations) > 0 {
		if strings.Contains(path, "/onboarding") {
			// Already headed to repair; nothing to gate here.
			return true, ""
		}
		reason := strings.Join(violations, "; ")
		if ref != nil && ref.ID != "" {
			r.cache.Clear(ctx, ref.ID)
		}
		r.cache.RecordError(ctx, sess.ID, ErrorRecord{
			OrganizationID: orgID(ref),
			Message:        reason,
			Timestamp:      r.now().UnixMilli(),
		})
		logger.WarnContext(ctx, "Invalid organization snapshot",
			"session_id", sess.ID, "org_id", orgID(ref), "violations", reason)
		return false, reason
	}

	if !ref.Stale(r.now(), r.staleness) {
		return true, ""
	}

	token, err := src.GetToken(ctx, session.TokenOptions{
		LeewaySeconds: 60,
		Template:      "org-api",
		SkipCache:     true,
	})
	if err != nil {
		return r.fail(ctx, sess.ID, ref.ID, fmt.Sprintf("token acquisition failed: %v", err))
	}
	if err := checkTokenUsable(token, r.now(), r.tokenBuffer); err != nil {
		return r.fail(ctx, sess.ID, ref.ID, fmt.Sprintf("token unusable: %v", err))
	}

	org, cached := r.cache.Get(ctx, ref.ID)
	if !cached {
		org, err = r.fetcher.GetOrganization(ctx, ref.ID, token)
		if err != nil {
			return r.fail(ctx, sess.ID, ref.ID, fmt.Sprintf("organization fetch failed: %v", err))
		}
		r.cache.Set(ctx, org)
	}

	nowMs := r.now().UnixMilli()
	updated := &domain.OrganizationRef{
		ID:          org.ID,
		Name:        org.Name,
		LastUpdated: nowMs,
		ValidatedAt: nowMs,
	}
	if err := src.Update(ctx, domain.MetadataPatch{Organization: updated}); err != nil {
		return r.fail(ctx, sess.ID, ref.ID, fmt.Sprintf("metadata write failed: %v", err))
	}
	if _, err := src.Reload(ctx); err != nil {
		return r.fail(ctx, sess.ID, ref.ID, fmt.Sprintf("session reload failed: %v", err))
	}

	if r.publisher != nil {
		_ = r.publisher.Publish(ctx, events.OrganizationRefreshed, events.OrganizationRefreshedEvent{
			SessionID:      sess.ID,
			OrganizationID: org.ID,
			RefreshedAt:    r.now(),
		})
	}
	logger.InfoContext(ctx, "Organization snapshot refreshed", "session_id", sess.ID, "org_id", org.ID)
	return true, ""
}

func (r *Refresher) fail(ctx context.Context, sessionID, refID, message string) (bool, string) {
	r.cache.RecordError(ctx, sessionID, ErrorRecord{
		OrganizationID: refID,
		Message:        message,
		Timestamp:      r.now().UnixMilli(),
	})
	logger.ErrorContext(ctx, "Organization refresh failed",
		"session_id", sessionID, "org_id", refID, "message", message)
	return false, message
}

func orgID(ref *domain.OrganizationRef) string {
	if ref == nil {
		return ""
	}
	return ref.ID
}

// checkTokenUsable verifies a token's three-segment structure and that its
// expiration clears the safety buffer. Signature verification belongs to the
// consuming API; this check only prevents sending a token that would be
// rejected on arrival.
func checkTokenUsable(token string, now time.Time, buffer time.Duration) error {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return fmt.Errorf("expected 3 token segments, got %d", len(parts))
	}

	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return fmt.Errorf("token payload is not base64url: %w", err)
	}

	var claims struct {
		Exp int64 `json:"exp"`
	}
	if err := json.Unmarshal(payload, &claims); err != nil {
		return fmt.Errorf("token payload is not JSON: %w", err)
	}
	if claims.Exp == 0 {
		return fmt.Errorf("token has no expiration")
	}
	if time.Unix(claims.Exp, 0).Before(now.Add(buffer)) {
		return fmt.Errorf("token expires within safety buffer")
	}
	return nil
}
