package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/quickcourier/qcs-api/internal/domain"
	"github.com/quickcourier/qcs-api/internal/guest"
	"github.com/quickcourier/qcs-api/internal/http/middleware"
	"github.com/quickcourier/qcs-api/internal/http/response"
	"github.com/quickcourier/qcs-api/internal/payments"
	"github.com/quickcourier/qcs-api/internal/platform/mailer"
	"github.com/quickcourier/qcs-api/internal/repo/postgres"
	"github.com/quickcourier/qcs-api/pkg/events"
	"github.com/quickcourier/qcs-api/pkg/logger"
)

// GuestHandler exposes the anonymous booking flow: visitors build up a
// booking and wizard progress keyed by their guest id, and after signing in
// they claim it, which converts the saved booking into a real shipment and
// wipes the guest records.
type GuestHandler struct {
	Store     guest.Store
	Shipments postgres.ShipmentsRepo
	Users     postgres.UsersRepo
	Payments  *payments.Client
	EmailSvc  mailer.Service
	Bus       events.Publisher
}

func NewGuestHandler(store guest.Store, shipments postgres.ShipmentsRepo, users postgres.UsersRepo, pay *payments.Client, emailSvc mailer.Service, bus events.Publisher) *GuestHandler {
	return &GuestHandler{Store: store, Shipments: shipments, Users: users, Payments: pay, EmailSvc: emailSvc, Bus: bus}
}

func (h *GuestHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Put("/booking", h.saveBooking)
	r.Get("/booking", h.getBooking)
	r.Put("/progress", h.saveProgress)
	r.Get("/progress", h.getProgress)
	r.Get("/status", h.status)
	r.Delete("/", h.clearAll)
	r.With(middleware.RequireAuth).Post("/claim", h.claim)
	return r
}

func (h *GuestHandler) saveBooking(w http.ResponseWriter, r *http.Request) {
	guestID := middleware.GuestIDFrom(r)
	if guestID == "" {
		response.BadRequest(w, "Guest id is missing")
		return
	}

	var in struct {
		TrackingNumber string               `json:"tracking_number"`
		OrderDetails   *domain.OrderDetails `json:"order_details"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		response.BadRequest(w, "Invalid JSON format")
		return
	}
	if in.OrderDetails == nil || in.OrderDetails.PickupAddress == "" || in.OrderDetails.DeliveryAddress == "" {
		response.WriteError(w, http.StatusBadRequest, "Pickup and delivery addresses are required", response.CodeInvalidInput)
		return
	}
	if _, ok := domain.ParseServiceLevel(string(in.OrderDetails.ServiceLevel)); !ok {
		response.WriteError(w, http.StatusBadRequest, "Unknown service level", response.CodeInvalidInput)
		return
	}

	b := &domain.GuestBooking{
		TrackingNumber: in.TrackingNumber,
		OrderDetails:   in.OrderDetails,
		Pricing:        domain.QuotePricing(in.OrderDetails),
	}
	if err := h.Store.SaveBooking(r.Context(), guestID, b); err != nil {
		logger.ErrorContext(r.Context(), "Failed to save guest booking", "error", err)
		response.InternalError(w, "Failed to save booking")
		return
	}

	if h.Bus != nil {
		_ = h.Bus.Publish(r.Context(), events.GuestBookingSaved, b)
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(b)
}

func (h *GuestHandler) getBooking(w http.ResponseWriter, r *http.Request) {
	b, err := h.Store.Booking(r.Context(), middleware.GuestIDFrom(r))
	if err != nil {
		response.InternalError(w, "Failed to read booking")
		return
	}
	if b == nil {
		response.WriteError(w, http.StatusNotFound, "No saved booking", response.CodeGuestDataExpired)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(b)
}

func (h *GuestHandler) saveProgress(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Step int `json:"step"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.Step < 0 {
		response.BadRequest(w, "Invalid step")
		return
	}
	if err := h.Store.SaveProgress(r.Context(), middleware.GuestIDFrom(r), in.Step); err != nil {
		response.InternalError(w, "Failed to save progress")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]int{"step": in.Step})
}

func (h *GuestHandler) getProgress(w http.ResponseWriter, r *http.Request) {
	step, ok, err := h.Store.Progress(r.Context(), middleware.GuestIDFrom(r))
	if err != nil {
		response.InternalError(w, "Failed to read progress")
		return
	}
	if !ok {
		response.WriteError(w, http.StatusNotFound, "No saved progress", response.CodeGuestDataExpired)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]int{"step": step})
}

func (h *GuestHandler) status(w http.ResponseWriter, r *http.Request) {
	has, err := h.Store.HasAnyGuestData(r.Context(), middleware.GuestIDFrom(r))
	if err != nil {
		response.InternalError(w, "Failed to read guest state")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]bool{"has_guest_data": has})
}

func (h *GuestHandler) clearAll(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.ClearAll(r.Context(), middleware.GuestIDFrom(r)); err != nil {
		response.InternalError(w, "Failed to clear guest state")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// claim converts the caller's saved guest booking into a shipment owned by
// their account. The guest records are cleared only after the shipment row
// exists, so a failed claim can be retried.
func (h *GuestHandler) claim(w http.ResponseWriter, r *http.Request) {
	claims := middleware.Claims(r)
	guestID := middleware.GuestIDFrom(r)

	b, err := h.Store.Booking(r.Context(), guestID)
	if err != nil {
		response.InternalError(w, "Failed to read booking")
		return
	}
	if b == nil || b.OrderDetails == nil {
		response.WriteError(w, http.StatusNotFound, "No saved booking to claim", response.CodeGuestDataExpired)
		return
	}

	tracking := b.TrackingNumber
	if tracking == "" {
		tracking = postgres.NewTrackingNumber()
	}
	pricing := b.Pricing
	if pricing == nil {
		pricing = domain.QuotePricing(b.OrderDetails)
	}

	s := &domain.Shipment{
		TrackingNumber:  tracking,
		Status:          domain.ShipmentPending,
		UserID:          claims.Sub,
		PickupAddress:   b.OrderDetails.PickupAddress,
		DeliveryAddress: b.OrderDetails.DeliveryAddress,
		PackageType:     b.OrderDetails.PackageType,
		WeightKg:        b.OrderDetails.WeightKg,
		ServiceLevel:    b.OrderDetails.ServiceLevel,
		Notes:           b.OrderDetails.Notes,
		PriceCents:      pricing.TotalCents,
		Currency:        pricing.Currency,
	}

	var clientSecret string
	if h.Payments != nil && h.Payments.Enabled() {
		intentID, secret, err := h.Payments.CreateIntent(r.Context(), pricing, tracking, claims.Email)
		if err != nil {
			logger.ErrorContext(r.Context(), "Payment intent failed", "error", err, "tracking_number", tracking)
			response.InternalError(w, "Failed to set up payment")
			return
		}
		s.PaymentIntentID = intentID
		clientSecret = secret
		if h.Bus != nil {
			_ = h.Bus.Publish(r.Context(), events.PaymentIntentCreated, events.PaymentIntentCreatedEvent{
				TrackingNumber: tracking,
				IntentID:       intentID,
				Amount:         pricing.TotalCents,
				Currency:       pricing.Currency,
			})
		}
	}

	created, err := h.Shipments.Create(r.Context(), s)
	if err != nil {
		logger.ErrorContext(r.Context(), "Failed to create shipment from claim", "error", err)
		response.InternalError(w, "Failed to create shipment")
		return
	}

	if err := h.Store.ClearAll(r.Context(), guestID); err != nil {
		logger.WarnContext(r.Context(), "Failed to clear guest state after claim", "error", err)
	}

	if h.Bus != nil {
		_ = h.Bus.Publish(r.Context(), events.GuestBookingClaimed, events.GuestBookingClaimedEvent{
			GuestID:        guestID,
			UserID:         claims.Sub,
			TrackingNumber: created.TrackingNumber,
			ClaimedAt:      time.Now(),
		})
		_ = h.Bus.Publish(r.Context(), events.ShipmentCreated, events.ShipmentCreatedEvent{
			ShipmentID:     created.ID,
			TrackingNumber: created.TrackingNumber,
			UserID:         created.UserID,
			ServiceLevel:   string(created.ServiceLevel),
			CreatedAt:      created.CreatedAt,
		})
	}

	if h.EmailSvc != nil {
		if u, err := h.Users.FindByID(r.Context(), claims.Sub); err == nil {
			if err := h.EmailSvc.SendBookingConfirmation(u.Email, u.Name, created.TrackingNumber); err != nil {
				logger.WarnContext(r.Context(), "Confirmation email failed", "error", err)
			}
		}
	}

	out := map[string]any{"shipment": created}
	if clientSecret != "" {
		out["payment_client_secret"] = clientSecret
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(out)
}
