// Package guard implements the session-gated navigation decision flow. Every
// evaluation yields exactly one decision: wait, allow, or a single redirect.
package guard

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/quickcourier/qcs-api/internal/domain"
	"github.com/quickcourier/qcs-api/internal/platform/session"
	"github.com/quickcourier/qcs-api/pkg/logger"
)

const (
	SignInPath = "/sign-in"
	ErrorPath  = "/error"
)

// Route is the location under evaluation.
type Route struct {
	Path  string
	Query string
}

func (r Route) Full() string {
	if r.Query == "" {
		return r.Path
	}
	return r.Path + "?" + r.Query
}

// PreAuthState is the navigation state saved before a sign-in redirect so the
// visitor can be returned to where they were after authenticating.
type PreAuthState struct {
	Path     string          `json:"path"`
	Query    string          `json:"query,omitempty"`
	UserType domain.UserType `json:"user_type,omitempty"`
	SavedAt  int64           `json:"saved_at"`
}

// StateStore is session-scoped storage for pre-auth navigation state and the
// visitor's remembered portal preference.
type StateStore interface {
	SavePreAuth(ctx context.Context, visitorID string, st PreAuthState) error
	PreAuth(ctx context.Context, visitorID string) (*PreAuthState, error)
	ClearPreAuth(ctx context.Context, visitorID string) error

	SaveTypePreference(ctx context.Context, visitorID string, t domain.UserType) error
	TypePreference(ctx context.Context, visitorID string) (domain.UserType, error)
}

// AttemptCounter bounds consecutive organization-recovery redirects per
// session and path.
type AttemptCounter interface {
	Bump(ctx context.Context, sessionID, path string) (int, error)
	Clear(ctx context.Context, sessionID, path string) error
}

// OrgRefresher validates and refreshes the session's organization snapshot.
// ok=false carries a reason and means the organization needs repair.
type OrgRefresher interface {
	Refresh(ctx context.Context, src session.Source, sess *domain.Session, path string) (ok bool, reason string)
}

type Guard struct {
	states      StateStore
	attempts    AttemptCounter
	orgs        OrgRefresher
	maxAttempts int
	now         func() time.Time

	inflight sync.Map // visitor key -> in-progress marker
}

func New(states StateStore, attempts AttemptCounter, orgs OrgRefresher, maxAttempts int) *Guard {
	return &Guard{
		states:      states,
		attempts:    attempts,
		orgs:        orgs,
		maxAttempts: maxAttempts,
		now:         time.Now,
	}
}

// SetClock replaces the guard's clock. Test hook.
func (g *Guard) SetClock(now func() time.Time) { g.now = now }

// Evaluate runs one pass of the gating algorithm. Overlapping evaluations for
// the same visitor are discarded with a wait decision. Any error or panic
// inside the evaluation degrades to a redirect to the generic error route,
// never to a crash.
func (g *Guard) Evaluate(ctx context.Context, src session.Source, visitorID string, route Route, req domain.RouteRequirement) (d domain.Decision) {
	if _, busy := g.inflight.LoadOrStore(visitorID, struct{}{}); busy {
		return domain.Wait()
	}
	defer g.inflight.Delete(visitorID)

	defer func() {
		if rec := recover(); rec != nil {
			d = g.fatal(ctx, route, fmt.Sprintf("panic: %v", rec))
		}
	}()

	d, err := g.evaluate(ctx, src, visitorID, route, req)
	if err != nil {
		return g.fatal(ctx, route, err.Error())
	}
	return d
}

func (g *Guard) evaluate(ctx context.Context, src session.Source, visitorID string, route Route, req domain.RouteRequirement) (domain.Decision, error) {
	sess, err := src.Read(ctx)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			// Token referenced a session that no longer exists; treat the
			// visitor as signed out.
			sess = &domain.Session{Loaded: true}
		} else {
			return domain.Decision{}, err
		}
	}

	// Identity state still initializing: no decision yet.
	if !sess.Loaded {
		return domain.Wait(), nil
	}

	if req.RequireAuth && !sess.SignedIn {
		return g.redirectToSignIn(ctx, visitorID, route), nil
	}

	if sess.SignedIn && route.Path == SignInPath {
		if st, err := g.states.PreAuth(ctx, visitorID); err == nil && st != nil {
			_ = g.states.ClearPreAuth(ctx, visitorID)
			target := st.Path
			if st.Query != "" {
				target += "?" + st.Query
			}
			return domain.Redirect(target, domain.NavState{}), nil
		}
	}

	if !sess.SignedIn {
		return domain.Allow(), nil
	}

	// Signed in past this point. A signed-in session without a live handle
	// cannot be evaluated.
	if sess.ID == "" {
		return domain.Decision{}, fmt.Errorf("live session handle missing")
	}

	// Self-healing bootstrap: a missing or unversioned metadata bag is
	// initialized in place and the evaluation re-runs against the reloaded
	// session. Not a terminal decision.
	if sess.Metadata == nil || sess.Metadata.SchemaVersion == 0 {
		ver := domain.MetadataSchemaVersion
		none := domain.UserTypeNone
		incomplete := false
		if err := src.Update(ctx, domain.MetadataPatch{
			SchemaVersion:      &ver,
			UserType:           &none,
			OnboardingComplete: &incomplete,
			ClearOrganization:  true,
		}); err != nil {
			return domain.Decision{}, fmt.Errorf("metadata bootstrap failed: %w", err)
		}
		if _, err := src.Reload(ctx); err != nil {
			return domain.Decision{}, fmt.Errorf("session reload failed: %w", err)
		}
		logger.InfoContext(ctx, "Initialized session metadata", "session_id", sess.ID)
		return domain.Reevaluate(), nil
	}

	meta := sess.Metadata

	if len(req.AllowedUserTypes) > 0 {
		if meta.UserType == domain.UserTypeNone {
			return g.determineUserType(ctx, src, visitorID, sess, route, req)
		}
		if !req.Allows(meta.UserType) {
			return domain.Redirect("/"+string(meta.UserType), domain.NavState{
				From:         route.Path,
				Restricted:   true,
				AllowedTypes: req.AllowedUserTypes,
				CurrentType:  meta.UserType,
			}), nil
		}
	}

	if req.RequireOnboarding && !meta.OnboardingComplete && !strings.Contains(route.Path, "/onboarding") {
		return domain.Redirect("/"+string(meta.UserType)+"/onboarding", domain.NavState{
			From:               route.Path,
			RequiresOnboarding: true,
			UserType:           meta.UserType,
		}), nil
	}

	if req.RequireOrganization && meta.UserType == domain.UserTypeCorporate && meta.OnboardingComplete {
		ok, reason := g.orgs.Refresh(ctx, src, sess, route.Path)
		if !ok {
			count, err := g.attempts.Bump(ctx, sess.ID, route.Path)
			if err != nil {
				return domain.Decision{}, fmt.Errorf("recovery attempt counter failed: %w", err)
			}
			if count > g.maxAttempts {
				return domain.Decision{}, fmt.Errorf("organization recovery attempts exceeded: %s", reason)
			}
			return domain.Redirect("/corporate/onboarding", domain.NavState{
				From:     route.Path,
				UserType: domain.UserTypeCorporate,
				Reason:   reason,
				Attempt:  count,
			}), nil
		}
		_ = g.attempts.Clear(ctx, sess.ID, route.Path)
	}

	return domain.Allow(), nil
}

func (g *Guard) redirectToSignIn(ctx context.Context, visitorID string, route Route) domain.Decision {
	userType := typeFromPath(route.Path)
	if userType == domain.UserTypeNone {
		if pref, err := g.states.TypePreference(ctx, visitorID); err == nil {
			userType = pref
		}
	}

	if err := g.states.SavePreAuth(ctx, visitorID, PreAuthState{
		Path:     route.Path,
		Query:    route.Query,
		UserType: userType,
		SavedAt:  g.now().UnixMilli(),
	}); err != nil {
		logger.WarnContext(ctx, "Failed to save pre-auth state", "error", err)
	}

	v := url.Values{}
	v.Set("redirect_url", route.Full())
	if userType != domain.UserTypeNone {
		v.Set("user_type", string(userType))
	}
	return domain.Redirect(SignInPath+"?"+v.Encode(), domain.NavState{})
}

func (g *Guard) determineUserType(ctx context.Context, src session.Source, visitorID string, sess *domain.Session, route Route, req domain.RouteRequirement) (domain.Decision, error) {
	determined := typeFromPath(route.Path)
	if determined == domain.UserTypeNone || !req.Allows(determined) {
		determined = domain.UserTypeNone
		if pref, err := g.states.TypePreference(ctx, visitorID); err == nil && req.Allows(pref) {
			determined = pref
		}
	}

	if determined == domain.UserTypeNone {
		// No segment and no remembered preference: let the visitor pick a
		// portal rather than guessing.
		return domain.Redirect("/", domain.NavState{
			From:   route.Path,
			Reason: "user_type_required",
		}), nil
	}

	incomplete := false
	if err := src.Update(ctx, domain.MetadataPatch{
		UserType:           &determined,
		OnboardingComplete: &incomplete,
	}); err != nil {
		return domain.Decision{}, fmt.Errorf("user type write failed: %w", err)
	}
	if _, err := src.Reload(ctx); err != nil {
		return domain.Decision{}, fmt.Errorf("session reload failed: %w", err)
	}
	if err := g.states.SaveTypePreference(ctx, visitorID, determined); err != nil {
		logger.WarnContext(ctx, "Failed to save user type preference", "error", err)
	}

	return domain.Redirect("/"+string(determined)+"/onboarding", domain.NavState{
		From:               route.Path,
		RequiresOnboarding: true,
		UserType:           determined,
	}), nil
}

func (g *Guard) fatal(ctx context.Context, route Route, message string) domain.Decision {
	logger.ErrorContext(ctx, "Route guard evaluation failed",
		"path", route.Path, "message", message)
	return domain.Redirect(ErrorPath, domain.NavState{
		Error:     "auth_middleware_failure",
		Message:   message,
		Timestamp: g.now().UnixMilli(),
		Path:      route.Path,
	})
}

// typeFromPath finds the first path segment that names a user type.
func typeFromPath(path string) domain.UserType {
	for _, seg := range strings.Split(strings.Trim(path, "/"), "/") {
		if t, ok := domain.ParseUserType(seg); ok {
			return t
		}
	}
	return domain.UserTypeNone
}
