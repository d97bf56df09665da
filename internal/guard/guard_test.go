package guard_test

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/quickcourier/qcs-api/internal/domain"
	"github.com/quickcourier/qcs-api/internal/guard"
	"github.com/quickcourier/qcs-api/internal/platform/session"
)

// ---------- Mocks ----------

type mockSource struct {
	mu      sync.Mutex
	sess    *domain.Session
	readErr error

	updates int
	reloads int

	readEntered chan struct{} // closed by test setups that need to observe a read
	readRelease chan struct{}
}

func (m *mockSource) Read(_ context.Context) (*domain.Session, error) {
	if m.readEntered != nil {
		m.readEntered <- struct{}{}
		<-m.readRelease
	}
	if m.readErr != nil {
		return nil, m.readErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *m.sess
	if m.sess.Metadata != nil {
		mc := *m.sess.Metadata
		cp.Metadata = &mc
	}
	return &cp, nil
}

func (m *mockSource) Update(_ context.Context, patch domain.MetadataPatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updates++
	if m.sess.Metadata == nil {
		m.sess.Metadata = domain.DefaultMetadata()
	}
	patch.Apply(m.sess.Metadata)
	return nil
}

func (m *mockSource) Reload(ctx context.Context) (*domain.Session, error) {
	m.mu.Lock()
	m.reloads++
	m.mu.Unlock()
	return m.Read(ctx)
}

func (m *mockSource) GetToken(_ context.Context, _ session.TokenOptions) (string, error) {
	return "test-token", nil
}

type mockStates struct {
	preAuth map[string]*guard.PreAuthState
	prefs   map[string]domain.UserType
}

func newMockStates() *mockStates {
	return &mockStates{
		preAuth: make(map[string]*guard.PreAuthState),
		prefs:   make(map[string]domain.UserType),
	}
}

func (m *mockStates) SavePreAuth(_ context.Context, visitorID string, st guard.PreAuthState) error {
	m.preAuth[visitorID] = &st
	return nil
}

func (m *mockStates) PreAuth(_ context.Context, visitorID string) (*guard.PreAuthState, error) {
	return m.preAuth[visitorID], nil
}

func (m *mockStates) ClearPreAuth(_ context.Context, visitorID string) error {
	delete(m.preAuth, visitorID)
	return nil
}

func (m *mockStates) SaveTypePreference(_ context.Context, visitorID string, t domain.UserType) error {
	m.prefs[visitorID] = t
	return nil
}

func (m *mockStates) TypePreference(_ context.Context, visitorID string) (domain.UserType, error) {
	t, ok := m.prefs[visitorID]
	if !ok {
		return domain.UserTypeNone, errors.New("no preference")
	}
	return t, nil
}

type mockAttempts struct {
	counts map[string]int
}

func newMockAttempts() *mockAttempts {
	return &mockAttempts{counts: make(map[string]int)}
}

func (m *mockAttempts) key(sessionID, path string) string { return sessionID + "|" + path }

func (m *mockAttempts) Bump(_ context.Context, sessionID, path string) (int, error) {
	m.counts[m.key(sessionID, path)]++
	return m.counts[m.key(sessionID, path)], nil
}

func (m *mockAttempts) Clear(_ context.Context, sessionID, path string) error {
	delete(m.counts, m.key(sessionID, path))
	return nil
}

type mockOrgs struct {
	ok     bool
	reason string
	calls  int
}

func (m *mockOrgs) Refresh(_ context.Context, _ session.Source, _ *domain.Session, _ string) (bool, string) {
	m.calls++
	return m.ok, m.reason
}

// ---------- Helpers ----------

func signedInSession(userType domain.UserType, onboarded bool) *domain.Session {
	return &domain.Session{
		ID:       "sess-1",
		Loaded:   true,
		SignedIn: true,
		UserID:   42,
		Email:    "user@example.com",
		Metadata: &domain.Metadata{
			SchemaVersion:      domain.MetadataSchemaVersion,
			UserType:           userType,
			OnboardingComplete: onboarded,
		},
	}
}

func newGuard(states guard.StateStore, attempts guard.AttemptCounter, orgs guard.OrgRefresher) *guard.Guard {
	g := guard.New(states, attempts, orgs, 3)
	g.SetClock(func() time.Time { return time.UnixMilli(1_700_000_000_000) })
	return g
}

// ---------- Tests ----------

func TestSignedOutRedirectsToSignInWithReturnURL(t *testing.T) {
	states := newMockStates()
	g := newGuard(states, newMockAttempts(), &mockOrgs{ok: true})
	src := &mockSource{sess: &domain.Session{Loaded: true}}

	route := guard.Route{Path: "/corporate/shipments", Query: "page=2"}
	d := g.Evaluate(context.Background(), src, "visitor-1", route, domain.RouteRequirement{RequireAuth: true})

	if d.Kind != domain.DecisionRedirect {
		t.Fatalf("expected redirect, got %v", d.Kind)
	}
	u, err := url.Parse(d.RedirectURL())
	if err != nil {
		t.Fatalf("redirect url parse: %v", err)
	}
	if u.Path != guard.SignInPath {
		t.Errorf("expected %s, got %s", guard.SignInPath, u.Path)
	}
	if got := u.Query().Get("redirect_url"); got != "/corporate/shipments?page=2" {
		t.Errorf("redirect_url = %q", got)
	}
	if got := u.Query().Get("user_type"); got != "corporate" {
		t.Errorf("user_type = %q, want corporate from the path segment", got)
	}

	st := states.preAuth["visitor-1"]
	if st == nil || st.Path != "/corporate/shipments" || st.Query != "page=2" {
		t.Errorf("pre-auth state not saved correctly: %+v", st)
	}
}

func TestSignedOutUsesRememberedTypePreference(t *testing.T) {
	states := newMockStates()
	states.prefs["visitor-1"] = domain.UserTypeRetail
	g := newGuard(states, newMockAttempts(), &mockOrgs{ok: true})
	src := &mockSource{sess: &domain.Session{Loaded: true}}

	d := g.Evaluate(context.Background(), src, "visitor-1",
		guard.Route{Path: "/dashboard"}, domain.RouteRequirement{RequireAuth: true})

	u, _ := url.Parse(d.RedirectURL())
	if got := u.Query().Get("user_type"); got != "retail" {
		t.Errorf("user_type = %q, want remembered retail preference", got)
	}
}

func TestSignInPageRestoresSavedRoute(t *testing.T) {
	states := newMockStates()
	states.preAuth["visitor-1"] = &guard.PreAuthState{Path: "/corporate/shipments", Query: "page=2"}
	g := newGuard(states, newMockAttempts(), &mockOrgs{ok: true})
	src := &mockSource{sess: signedInSession(domain.UserTypeCorporate, true)}

	d := g.Evaluate(context.Background(), src, "visitor-1",
		guard.Route{Path: guard.SignInPath}, domain.RouteRequirement{})

	if d.Kind != domain.DecisionRedirect || d.Target != "/corporate/shipments?page=2" {
		t.Fatalf("expected redirect to saved route, got %+v", d)
	}
	if states.preAuth["visitor-1"] != nil {
		t.Error("pre-auth state should be cleared after restore")
	}
}

func TestAnonymousAllowedOnPublicRoute(t *testing.T) {
	g := newGuard(newMockStates(), newMockAttempts(), &mockOrgs{ok: true})
	src := &mockSource{sess: &domain.Session{Loaded: true}}

	d := g.Evaluate(context.Background(), src, "visitor-1",
		guard.Route{Path: "/"}, domain.RouteRequirement{})

	if d.Kind != domain.DecisionAllow {
		t.Fatalf("expected allow, got %+v", d)
	}
}

func TestMissingSessionRecordTreatedAsSignedOut(t *testing.T) {
	g := newGuard(newMockStates(), newMockAttempts(), &mockOrgs{ok: true})
	src := &mockSource{sess: &domain.Session{}, readErr: session.ErrNotFound}

	d := g.Evaluate(context.Background(), src, "visitor-1",
		guard.Route{Path: "/retail/shipments"}, domain.RouteRequirement{RequireAuth: true})

	if d.Kind != domain.DecisionRedirect || !strings.HasPrefix(d.RedirectURL(), guard.SignInPath) {
		t.Fatalf("expected sign-in redirect, got %+v", d)
	}
}

func TestUnloadedSessionWaits(t *testing.T) {
	g := newGuard(newMockStates(), newMockAttempts(), &mockOrgs{ok: true})
	src := &mockSource{sess: &domain.Session{Loaded: false}}

	d := g.Evaluate(context.Background(), src, "visitor-1",
		guard.Route{Path: "/retail/shipments"}, domain.RouteRequirement{RequireAuth: true})

	if d.Kind != domain.DecisionWait {
		t.Fatalf("expected wait, got %+v", d)
	}
}

func TestMetadataBootstrapRepairsInPlace(t *testing.T) {
	g := newGuard(newMockStates(), newMockAttempts(), &mockOrgs{ok: true})
	sess := signedInSession(domain.UserTypeRetail, true)
	sess.Metadata = nil
	src := &mockSource{sess: sess}

	d := g.Evaluate(context.Background(), src, "visitor-1",
		guard.Route{Path: "/retail/shipments"}, domain.RouteRequirement{RequireAuth: true})

	if d.Kind != domain.DecisionReevaluate {
		t.Fatalf("expected reevaluate after bootstrap, got %+v", d)
	}
	if src.updates != 1 || src.reloads != 1 {
		t.Errorf("expected exactly one write and one reload, got %d/%d", src.updates, src.reloads)
	}
	if src.sess.Metadata == nil || src.sess.Metadata.SchemaVersion != domain.MetadataSchemaVersion {
		t.Errorf("metadata not initialized: %+v", src.sess.Metadata)
	}
	if src.sess.Metadata.UserType != domain.UserTypeNone || src.sess.Metadata.OnboardingComplete {
		t.Errorf("bootstrap should reset to defaults: %+v", src.sess.Metadata)
	}
}

func TestUnversionedMetadataAlsoBootstraps(t *testing.T) {
	g := newGuard(newMockStates(), newMockAttempts(), &mockOrgs{ok: true})
	sess := signedInSession(domain.UserTypeRetail, true)
	sess.Metadata.SchemaVersion = 0
	src := &mockSource{sess: sess}

	d := g.Evaluate(context.Background(), src, "visitor-1",
		guard.Route{Path: "/retail/shipments"}, domain.RouteRequirement{RequireAuth: true})

	if d.Kind != domain.DecisionReevaluate {
		t.Fatalf("expected reevaluate, got %+v", d)
	}
}

func TestDeterminedUserTypeFromPathRedirectsToOnboarding(t *testing.T) {
	states := newMockStates()
	g := newGuard(states, newMockAttempts(), &mockOrgs{ok: true})
	src := &mockSource{sess: signedInSession(domain.UserTypeNone, false)}

	d := g.Evaluate(context.Background(), src, "visitor-1",
		guard.Route{Path: "/corporate/shipments"},
		domain.RouteRequirement{RequireAuth: true, AllowedUserTypes: []domain.UserType{domain.UserTypeCorporate}})

	if d.Kind != domain.DecisionRedirect || d.Target != "/corporate/onboarding" {
		t.Fatalf("expected onboarding redirect, got %+v", d)
	}
	if src.sess.Metadata.UserType != domain.UserTypeCorporate {
		t.Errorf("user type not written, got %q", src.sess.Metadata.UserType)
	}
	if states.prefs["visitor-1"] != domain.UserTypeCorporate {
		t.Errorf("type preference not remembered")
	}
	if got := d.State.UserType; got != domain.UserTypeCorporate {
		t.Errorf("nav state user type = %q", got)
	}
	if !d.State.RequiresOnboarding {
		t.Error("nav state should flag onboarding")
	}
}

func TestUndeterminableUserTypeRedirectsToPortalPicker(t *testing.T) {
	g := newGuard(newMockStates(), newMockAttempts(), &mockOrgs{ok: true})
	src := &mockSource{sess: signedInSession(domain.UserTypeNone, false)}

	d := g.Evaluate(context.Background(), src, "visitor-1",
		guard.Route{Path: "/dashboard"},
		domain.RouteRequirement{RequireAuth: true, AllowedUserTypes: []domain.UserType{domain.UserTypeRetail, domain.UserTypeCorporate}})

	if d.Kind != domain.DecisionRedirect || d.Target != "/" {
		t.Fatalf("expected redirect to portal picker, got %+v", d)
	}
	if d.State.Reason != "user_type_required" {
		t.Errorf("reason = %q", d.State.Reason)
	}
	if src.updates != 0 {
		t.Errorf("no metadata write expected, got %d", src.updates)
	}
}

func TestDisallowedUserTypeRedirectsHome(t *testing.T) {
	g := newGuard(newMockStates(), newMockAttempts(), &mockOrgs{ok: true})
	src := &mockSource{sess: signedInSession(domain.UserTypeCorporate, true)}

	d := g.Evaluate(context.Background(), src, "visitor-1",
		guard.Route{Path: "/retail/shipments"},
		domain.RouteRequirement{RequireAuth: true, AllowedUserTypes: []domain.UserType{domain.UserTypeRetail}})

	if d.Kind != domain.DecisionRedirect || d.Target != "/corporate" {
		t.Fatalf("expected redirect to caller's own portal, got %+v", d)
	}
	if !d.State.Restricted || d.State.CurrentType != domain.UserTypeCorporate {
		t.Errorf("nav state = %+v", d.State)
	}
	if d.State.From != "/retail/shipments" {
		t.Errorf("from = %q", d.State.From)
	}
}

func TestIncompleteOnboardingRedirects(t *testing.T) {
	g := newGuard(newMockStates(), newMockAttempts(), &mockOrgs{ok: true})
	src := &mockSource{sess: signedInSession(domain.UserTypeRetail, false)}

	d := g.Evaluate(context.Background(), src, "visitor-1",
		guard.Route{Path: "/retail/shipments"},
		domain.RouteRequirement{RequireAuth: true, RequireOnboarding: true, AllowedUserTypes: []domain.UserType{domain.UserTypeRetail}})

	if d.Kind != domain.DecisionRedirect || d.Target != "/retail/onboarding" {
		t.Fatalf("expected onboarding redirect, got %+v", d)
	}
}

func TestOnboardingRouteItselfIsNotRedirected(t *testing.T) {
	g := newGuard(newMockStates(), newMockAttempts(), &mockOrgs{ok: true})
	src := &mockSource{sess: signedInSession(domain.UserTypeRetail, false)}

	d := g.Evaluate(context.Background(), src, "visitor-1",
		guard.Route{Path: "/retail/onboarding"},
		domain.RouteRequirement{RequireAuth: true, RequireOnboarding: true, AllowedUserTypes: []domain.UserType{domain.UserTypeRetail}})

	if d.Kind != domain.DecisionAllow {
		t.Fatalf("expected allow on the onboarding route, got %+v", d)
	}
}

func TestOrganizationRepairRedirectCarriesAttempt(t *testing.T) {
	attempts := newMockAttempts()
	orgs := &mockOrgs{ok: false, reason: "organization is missing"}
	g := newGuard(newMockStates(), attempts, orgs)
	src := &mockSource{sess: signedInSession(domain.UserTypeCorporate, true)}

	req := domain.RouteRequirement{
		RequireAuth:         true,
		RequireOnboarding:   true,
		AllowedUserTypes:    []domain.UserType{domain.UserTypeCorporate},
		RequireOrganization: true,
	}

	for i := 1; i <= 3; i++ {
		d := g.Evaluate(context.Background(), src, "visitor-1", guard.Route{Path: "/corporate/shipments"}, req)
		if d.Kind != domain.DecisionRedirect || d.Target != "/corporate/onboarding" {
			t.Fatalf("attempt %d: expected repair redirect, got %+v", i, d)
		}
		if d.State.Attempt != i {
			t.Errorf("attempt %d: nav state attempt = %d", i, d.State.Attempt)
		}
		if d.State.Reason != "organization is missing" {
			t.Errorf("attempt %d: reason = %q", i, d.State.Reason)
		}
	}

	// The fourth consecutive failure is fatal, not another repair loop.
	d := g.Evaluate(context.Background(), src, "visitor-1", guard.Route{Path: "/corporate/shipments"}, req)
	if d.Kind != domain.DecisionRedirect || d.Target != guard.ErrorPath {
		t.Fatalf("expected error redirect after exhausted attempts, got %+v", d)
	}
	if d.State.Error != "auth_middleware_failure" {
		t.Errorf("error nav state = %+v", d.State)
	}
}

func TestOrganizationRefreshSuccessClearsAttempts(t *testing.T) {
	attempts := newMockAttempts()
	orgs := &mockOrgs{ok: false, reason: "stale"}
	g := newGuard(newMockStates(), attempts, orgs)
	src := &mockSource{sess: signedInSession(domain.UserTypeCorporate, true)}

	req := domain.RouteRequirement{
		RequireAuth:         true,
		AllowedUserTypes:    []domain.UserType{domain.UserTypeCorporate},
		RequireOrganization: true,
	}

	g.Evaluate(context.Background(), src, "visitor-1", guard.Route{Path: "/corporate/shipments"}, req)
	g.Evaluate(context.Background(), src, "visitor-1", guard.Route{Path: "/corporate/shipments"}, req)

	orgs.ok = true
	d := g.Evaluate(context.Background(), src, "visitor-1", guard.Route{Path: "/corporate/shipments"}, req)
	if d.Kind != domain.DecisionAllow {
		t.Fatalf("expected allow after successful refresh, got %+v", d)
	}
	if len(attempts.counts) != 0 {
		t.Errorf("attempt counter not cleared: %+v", attempts.counts)
	}

	// Counter starts over after a success.
	orgs.ok = false
	d = g.Evaluate(context.Background(), src, "visitor-1", guard.Route{Path: "/corporate/shipments"}, req)
	if d.State.Attempt != 1 {
		t.Errorf("attempt should restart at 1, got %d", d.State.Attempt)
	}
}

func TestReadErrorDegradesToErrorRedirect(t *testing.T) {
	g := newGuard(newMockStates(), newMockAttempts(), &mockOrgs{ok: true})
	src := &mockSource{sess: &domain.Session{}, readErr: fmt.Errorf("backend unavailable")}

	d := g.Evaluate(context.Background(), src, "visitor-1",
		guard.Route{Path: "/retail/shipments"}, domain.RouteRequirement{RequireAuth: true})

	if d.Kind != domain.DecisionRedirect || d.Target != guard.ErrorPath {
		t.Fatalf("expected error redirect, got %+v", d)
	}
	u, _ := url.Parse(d.RedirectURL())
	if u.Query().Get("error") != "auth_middleware_failure" {
		t.Errorf("query = %q", u.RawQuery)
	}
	if u.Query().Get("path") != "/retail/shipments" {
		t.Errorf("path not recorded in state: %q", u.RawQuery)
	}
}

func TestOverlappingEvaluationWaits(t *testing.T) {
	g := newGuard(newMockStates(), newMockAttempts(), &mockOrgs{ok: true})
	src := &mockSource{
		sess:        &domain.Session{Loaded: true},
		readEntered: make(chan struct{}),
		readRelease: make(chan struct{}),
	}

	done := make(chan domain.Decision, 1)
	go func() {
		done <- g.Evaluate(context.Background(), src, "visitor-1", guard.Route{Path: "/"}, domain.RouteRequirement{})
	}()
	<-src.readEntered // first evaluation is now inside Read

	// Second evaluation for the same visitor must not run concurrently.
	fast := &mockSource{sess: &domain.Session{Loaded: true}}
	d := g.Evaluate(context.Background(), fast, "visitor-1", guard.Route{Path: "/"}, domain.RouteRequirement{})
	if d.Kind != domain.DecisionWait {
		t.Fatalf("expected wait for overlapping evaluation, got %+v", d)
	}

	close(src.readRelease)
	if d := <-done; d.Kind != domain.DecisionAllow {
		t.Fatalf("first evaluation should complete normally, got %+v", d)
	}

	// A different visitor is unaffected.
	d = g.Evaluate(context.Background(), fast, "visitor-2", guard.Route{Path: "/"}, domain.RouteRequirement{})
	if d.Kind != domain.DecisionAllow {
		t.Fatalf("expected allow for distinct visitor, got %+v", d)
	}
}

func TestSignedInWithoutHandleIsFatal(t *testing.T) {
	g := newGuard(newMockStates(), newMockAttempts(), &mockOrgs{ok: true})
	sess := signedInSession(domain.UserTypeRetail, true)
	sess.ID = ""
	src := &mockSource{sess: sess}

	d := g.Evaluate(context.Background(), src, "visitor-1",
		guard.Route{Path: "/retail/shipments"}, domain.RouteRequirement{RequireAuth: true})

	if d.Kind != domain.DecisionRedirect || d.Target != guard.ErrorPath {
		t.Fatalf("expected error redirect, got %+v", d)
	}
}
