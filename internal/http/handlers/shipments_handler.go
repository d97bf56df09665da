package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/quickcourier/qcs-api/internal/domain"
	"github.com/quickcourier/qcs-api/internal/http/middleware"
	"github.com/quickcourier/qcs-api/internal/http/response"
	"github.com/quickcourier/qcs-api/internal/repo/postgres"
	"github.com/quickcourier/qcs-api/pkg/events"
	"github.com/quickcourier/qcs-api/pkg/logger"
)

type ShipmentsHandler struct {
	Repo postgres.ShipmentsRepo
	Bus  events.Publisher
}

func NewShipmentsHandler(repo postgres.ShipmentsRepo, bus events.Publisher) *ShipmentsHandler {
	return &ShipmentsHandler{Repo: repo, Bus: bus}
}

// Routes serves the retail portal: shipments belong to the signed-in user.
func (h *ShipmentsHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.create)
	r.Get("/", h.listMine)
	r.Get("/{trackingNumber}", h.getByTracking)
	return r
}

// OrgRoutes serves the corporate portal: shipments are scoped to the
// caller's organization rather than their user id.
func (h *ShipmentsHandler) OrgRoutes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.create)
	r.Get("/", h.listForOrganization)
	r.Get("/{trackingNumber}", h.getByTracking)
	return r
}

func (h *ShipmentsHandler) create(w http.ResponseWriter, r *http.Request) {
	claims := middleware.Claims(r)

	var in domain.ShipmentCreateReq
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		response.BadRequest(w, "Invalid JSON format")
		return
	}
	if in.PickupAddress == "" || in.DeliveryAddress == "" {
		response.WriteError(w, http.StatusBadRequest, "Pickup and delivery addresses are required", response.CodeInvalidInput)
		return
	}
	level, ok := domain.ParseServiceLevel(string(in.ServiceLevel))
	if !ok {
		response.WriteError(w, http.StatusBadRequest, "Unknown service level", response.CodeInvalidInput)
		return
	}

	pricing := domain.QuotePricing(&domain.OrderDetails{
		PickupAddress:   in.PickupAddress,
		DeliveryAddress: in.DeliveryAddress,
		PackageType:     in.PackageType,
		WeightKg:        in.WeightKg,
		ServiceLevel:    level,
	})

	s := &domain.Shipment{
		TrackingNumber:  postgres.NewTrackingNumber(),
		Status:          domain.ShipmentPending,
		UserID:          claims.Sub,
		OrganizationID:  h.organizationID(r),
		PickupAddress:   in.PickupAddress,
		DeliveryAddress: in.DeliveryAddress,
		PackageType:     in.PackageType,
		WeightKg:        in.WeightKg,
		ServiceLevel:    level,
		Notes:           in.Notes,
		PriceCents:      pricing.TotalCents,
		Currency:        pricing.Currency,
	}

	created, err := h.Repo.Create(r.Context(), s)
	if err != nil {
		logger.ErrorContext(r.Context(), "Failed to create shipment", "error", err)
		response.InternalError(w, "Failed to create shipment")
		return
	}

	if h.Bus != nil {
		ev := events.ShipmentCreatedEvent{
			ShipmentID:     created.ID,
			TrackingNumber: created.TrackingNumber,
			UserID:         created.UserID,
			ServiceLevel:   string(created.ServiceLevel),
			CreatedAt:      created.CreatedAt,
		}
		if created.OrganizationID != nil {
			ev.OrganizationID = *created.OrganizationID
		}
		_ = h.Bus.Publish(r.Context(), events.ShipmentCreated, ev)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(created)
}

func (h *ShipmentsHandler) listMine(w http.ResponseWriter, r *http.Request) {
	claims := middleware.Claims(r)
	limit, offset := pageParams(r)

	items, err := h.Repo.ListByUser(r.Context(), claims.Sub, limit, offset)
	if err != nil {
		response.InternalError(w, "Failed to list shipments")
		return
	}
	writeShipmentList(w, items, limit, offset)
}

func (h *ShipmentsHandler) listForOrganization(w http.ResponseWriter, r *http.Request) {
	orgID := h.organizationID(r)
	if orgID == nil {
		response.WriteError(w, http.StatusConflict, "Session has no organization attached", response.CodeOrganizationInvalid)
		return
	}
	limit, offset := pageParams(r)

	items, err := h.Repo.ListByOrganization(r.Context(), *orgID, limit, offset)
	if err != nil {
		response.InternalError(w, "Failed to list shipments")
		return
	}
	writeShipmentList(w, items, limit, offset)
}

func (h *ShipmentsHandler) getByTracking(w http.ResponseWriter, r *http.Request) {
	claims := middleware.Claims(r)
	tracking := chi.URLParam(r, "trackingNumber")

	s, err := h.Repo.GetByTracking(r.Context(), tracking)
	if err != nil {
		response.NotFound(w, "Shipment not found")
		return
	}

	// Owner or someone in the same organization.
	if s.UserID != claims.Sub {
		orgID := h.organizationID(r)
		if orgID == nil || s.OrganizationID == nil || *s.OrganizationID != *orgID {
			response.NotFound(w, "Shipment not found")
			return
		}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s)
}

// organizationID reads the caller's organization from session metadata.
// Retail sessions have none.
func (h *ShipmentsHandler) organizationID(r *http.Request) *string {
	src := middleware.Source(r)
	if src == nil {
		return nil
	}
	sess, err := src.Read(r.Context())
	if err != nil || sess.Metadata == nil || sess.Metadata.CurrentOrganization == nil {
		return nil
	}
	id := sess.Metadata.CurrentOrganization.ID
	if id == "" {
		return nil
	}
	return &id
}

func pageParams(r *http.Request) (limit, offset int) {
	limit = 20
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 && v <= 100 {
		limit = v
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil && v > 0 {
		offset = v
	}
	return limit, offset
}

func writeShipmentList(w http.ResponseWriter, items []domain.Shipment, limit, offset int) {
	if items == nil {
		items = []domain.Shipment{}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"shipments": items,
		"limit":     limit,
		"offset":    offset,
		"fetched":   time.Now().UTC().Format(time.RFC3339),
	})
}
