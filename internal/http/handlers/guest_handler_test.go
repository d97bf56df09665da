package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/quickcourier/qcs-api/internal/domain"
	"github.com/quickcourier/qcs-api/internal/guest"
	"github.com/quickcourier/qcs-api/internal/http/handlers"
	mw "github.com/quickcourier/qcs-api/internal/http/middleware"
	"github.com/quickcourier/qcs-api/internal/platform/auth"
	"github.com/quickcourier/qcs-api/internal/repo/postgres"
	"github.com/quickcourier/qcs-api/pkg/config"
)

// ---------- Mocks ----------

type mockShipmentsRepo struct {
	created []*domain.Shipment
	nextID  int64
}

func (m *mockShipmentsRepo) Create(_ context.Context, s *domain.Shipment) (*domain.Shipment, error) {
	m.nextID++
	cp := *s
	cp.ID = m.nextID
	cp.CreatedAt = time.Now()
	cp.UpdatedAt = cp.CreatedAt
	m.created = append(m.created, &cp)
	return &cp, nil
}

func (m *mockShipmentsRepo) GetByID(_ context.Context, id int64) (*domain.Shipment, error) {
	for _, s := range m.created {
		if s.ID == id {
			return s, nil
		}
	}
	return nil, errors.New("not found")
}

func (m *mockShipmentsRepo) GetByTracking(_ context.Context, tracking string) (*domain.Shipment, error) {
	for _, s := range m.created {
		if s.TrackingNumber == tracking {
			return s, nil
		}
	}
	return nil, errors.New("not found")
}

func (m *mockShipmentsRepo) ListByUser(_ context.Context, userID int64, _, _ int) ([]domain.Shipment, error) {
	var out []domain.Shipment
	for _, s := range m.created {
		if s.UserID == userID {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (m *mockShipmentsRepo) ListByOrganization(_ context.Context, orgID string, _, _ int) ([]domain.Shipment, error) {
	var out []domain.Shipment
	for _, s := range m.created {
		if s.OrganizationID != nil && *s.OrganizationID == orgID {
			out = append(out, *s)
		}
	}
	return out, nil
}

type mockUsersRepo struct {
	users map[int64]*postgres.User
}

func (m *mockUsersRepo) Create(_ context.Context, email, hash, name, phone string) (*postgres.User, error) {
	return nil, errors.New("not implemented")
}

func (m *mockUsersRepo) FindByEmail(_ context.Context, email string) (*postgres.User, error) {
	for _, u := range m.users {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, errors.New("not found")
}

func (m *mockUsersRepo) FindByID(_ context.Context, id int64) (*postgres.User, error) {
	u, ok := m.users[id]
	if !ok {
		return nil, errors.New("not found")
	}
	return u, nil
}

type mockMailer struct {
	confirmations []string
}

func (m *mockMailer) Send(toEmail, toName, subject, text, html string) (string, error) {
	return "mock-id", nil
}

func (m *mockMailer) SendBookingConfirmation(email, name, trackingNumber string) error {
	m.confirmations = append(m.confirmations, trackingNumber)
	return nil
}

func (m *mockMailer) SendOnboardingWelcome(email, name string, portal domain.UserType) error {
	return nil
}

// ---------- Helpers ----------

type guestEnv struct {
	store  *guest.MemoryStore
	ships  *mockShipmentsRepo
	mailer *mockMailer
	srv    http.Handler
}

func newGuestEnv(t *testing.T) *guestEnv {
	t.Helper()
	store := guest.NewMemoryStore(24 * time.Hour)
	ships := &mockShipmentsRepo{}
	users := &mockUsersRepo{users: map[int64]*postgres.User{
		42: {ID: 42, Email: "user@example.com", Name: "Pat"},
	}}
	mail := &mockMailer{}

	h := handlers.NewGuestHandler(store, ships, users, nil, mail, nil)

	sessions := postgres.NewSessionsRepo(nil, config.SessionConfig{
		AccessTokenTTL: time.Hour,
		TokenCacheTTL:  time.Minute,
	})

	r := chi.NewRouter()
	r.Use(mw.GuestID)
	r.Use(mw.ResolveSession(sessions))
	r.Mount("/guest", h.Routes())

	return &guestEnv{store: store, ships: ships, mailer: mail, srv: r}
}

func (e *guestEnv) do(t *testing.T, method, path, guestID, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if guestID != "" {
		req.Header.Set(mw.GuestIDHeader, guestID)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.srv.ServeHTTP(rec, req)
	return rec
}

func signedInToken(t *testing.T) string {
	t.Helper()
	tok, err := auth.NewSessionToken(42, "sess-1", "user@example.com", "retail", time.Hour)
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	return tok
}

func bookingBody() map[string]any {
	return map[string]any{
		"tracking_number": "QCS-ABC123",
		"order_details": map[string]any{
			"pickup_address":   "1 Dock St",
			"delivery_address": "9 Pier Ave",
			"package_type":     "box",
			"weight_kg":        2.5,
			"service_level":    "express",
		},
	}
}

// ---------- Tests ----------

func TestSaveAndReadGuestBooking(t *testing.T) {
	env := newGuestEnv(t)

	rec := env.do(t, http.MethodPut, "/guest/booking", "g1", "", bookingBody())
	if rec.Code != http.StatusOK {
		t.Fatalf("save status = %d: %s", rec.Code, rec.Body.String())
	}

	var saved domain.GuestBooking
	if err := json.NewDecoder(rec.Body).Decode(&saved); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if saved.Pricing == nil || saved.Pricing.TotalCents <= 0 {
		t.Errorf("server should quote pricing, got %+v", saved.Pricing)
	}
	if saved.Timestamp == 0 {
		t.Error("server should stamp the record")
	}

	rec = env.do(t, http.MethodGet, "/guest/booking", "g1", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("read status = %d", rec.Code)
	}

	// A different guest must not see it.
	rec = env.do(t, http.MethodGet, "/guest/booking", "g2", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("cross-guest read status = %d", rec.Code)
	}
}

func TestSaveBookingRejectsBadInput(t *testing.T) {
	env := newGuestEnv(t)

	body := bookingBody()
	body["order_details"].(map[string]any)["service_level"] = "teleport"
	if rec := env.do(t, http.MethodPut, "/guest/booking", "g1", "", body); rec.Code != http.StatusBadRequest {
		t.Errorf("unknown service level accepted: %d", rec.Code)
	}

	body = bookingBody()
	delete(body["order_details"].(map[string]any), "pickup_address")
	if rec := env.do(t, http.MethodPut, "/guest/booking", "g1", "", body); rec.Code != http.StatusBadRequest {
		t.Errorf("missing pickup accepted: %d", rec.Code)
	}
}

func TestGuestProgressRoundTrip(t *testing.T) {
	env := newGuestEnv(t)

	if rec := env.do(t, http.MethodPut, "/guest/progress", "g1", "", map[string]int{"step": 3}); rec.Code != http.StatusOK {
		t.Fatalf("save progress status = %d", rec.Code)
	}

	rec := env.do(t, http.MethodGet, "/guest/progress", "g1", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("read progress status = %d", rec.Code)
	}
	var out map[string]int
	_ = json.NewDecoder(rec.Body).Decode(&out)
	if out["step"] != 3 {
		t.Errorf("step = %d", out["step"])
	}

	if rec := env.do(t, http.MethodGet, "/guest/status", "g1", "", nil); rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestClaimRequiresAuth(t *testing.T) {
	env := newGuestEnv(t)
	env.do(t, http.MethodPut, "/guest/booking", "g1", "", bookingBody())

	if rec := env.do(t, http.MethodPost, "/guest/claim", "g1", "", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous claim status = %d", rec.Code)
	}
}

func TestClaimConvertsBookingToShipment(t *testing.T) {
	env := newGuestEnv(t)
	env.do(t, http.MethodPut, "/guest/booking", "g1", "", bookingBody())

	rec := env.do(t, http.MethodPost, "/guest/claim", "g1", signedInToken(t), nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("claim status = %d: %s", rec.Code, rec.Body.String())
	}

	if len(env.ships.created) != 1 {
		t.Fatalf("expected one shipment, got %d", len(env.ships.created))
	}
	s := env.ships.created[0]
	if s.TrackingNumber != "QCS-ABC123" {
		t.Errorf("tracking = %q, want the saved draft's", s.TrackingNumber)
	}
	if s.UserID != 42 {
		t.Errorf("shipment owner = %d", s.UserID)
	}
	if s.ServiceLevel != domain.ServiceExpress {
		t.Errorf("service level = %q", s.ServiceLevel)
	}

	if len(env.mailer.confirmations) != 1 || env.mailer.confirmations[0] != "QCS-ABC123" {
		t.Errorf("confirmation email = %v", env.mailer.confirmations)
	}

	// Guest records are wiped by a successful claim.
	if rec := env.do(t, http.MethodGet, "/guest/booking", "g1", "", nil); rec.Code != http.StatusNotFound {
		t.Errorf("booking should be gone after claim, status = %d", rec.Code)
	}

	// Claiming again finds nothing.
	if rec := env.do(t, http.MethodPost, "/guest/claim", "g1", signedInToken(t), nil); rec.Code != http.StatusNotFound {
		t.Errorf("second claim status = %d", rec.Code)
	}
}

func TestClearAllGuestData(t *testing.T) {
	env := newGuestEnv(t)
	env.do(t, http.MethodPut, "/guest/booking", "g1", "", bookingBody())
	env.do(t, http.MethodPut, "/guest/progress", "g1", "", map[string]int{"step": 2})

	if rec := env.do(t, http.MethodDelete, "/guest/", "g1", "", nil); rec.Code != http.StatusNoContent {
		t.Fatalf("clear status = %d", rec.Code)
	}

	rec := env.do(t, http.MethodGet, "/guest/status", "g1", "", nil)
	var out map[string]bool
	_ = json.NewDecoder(rec.Body).Decode(&out)
	if out["has_guest_data"] {
		t.Error("guest data should be gone")
	}
}

func TestMintedGuestIDIsEchoed(t *testing.T) {
	env := newGuestEnv(t)

	rec := env.do(t, http.MethodGet, "/guest/status", "", "", nil)
	if got := rec.Header().Get(mw.GuestIDHeader); got == "" {
		t.Error("minted guest id should be echoed in the response header")
	}
}
