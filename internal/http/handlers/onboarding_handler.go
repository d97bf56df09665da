package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/quickcourier/qcs-api/internal/domain"
	"github.com/quickcourier/qcs-api/internal/http/middleware"
	"github.com/quickcourier/qcs-api/internal/http/response"
	"github.com/quickcourier/qcs-api/internal/organization"
	"github.com/quickcourier/qcs-api/internal/platform/mailer"
	"github.com/quickcourier/qcs-api/internal/repo/postgres"
	"github.com/quickcourier/qcs-api/internal/utils"
	"github.com/quickcourier/qcs-api/pkg/events"
	"github.com/quickcourier/qcs-api/pkg/logger"
)

// OnboardingHandler finishes the post-sign-up setup for a portal. Retail
// users just confirm; corporate users must end up attached to a valid
// organization before the corporate routes let them through.
type OnboardingHandler struct {
	Orgs     postgres.OrganizationsRepo
	Users    postgres.UsersRepo
	EmailSvc mailer.Service
	Bus      events.Publisher
}

func NewOnboardingHandler(orgs postgres.OrganizationsRepo, users postgres.UsersRepo, emailSvc mailer.Service, bus events.Publisher) *OnboardingHandler {
	return &OnboardingHandler{Orgs: orgs, Users: users, EmailSvc: emailSvc, Bus: bus}
}

func (h *OnboardingHandler) RetailRoutes() chi.Router {
	r := chi.NewRouter()
	r.Post("/complete", h.completeRetail)
	return r
}

func (h *OnboardingHandler) CorporateRoutes() chi.Router {
	r := chi.NewRouter()
	r.Post("/complete", h.completeCorporate)
	return r
}

func (h *OnboardingHandler) completeRetail(w http.ResponseWriter, r *http.Request) {
	h.complete(w, r, domain.UserTypeRetail, nil)
}

func (h *OnboardingHandler) completeCorporate(w http.ResponseWriter, r *http.Request) {
	var in struct {
		OrganizationID string `json:"organization_id"`
		Name           string `json:"name"`
		Address        string `json:"address"`
		ContactEmail   string `json:"contact_email"`
		Phone          string `json:"phone"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		response.BadRequest(w, "Invalid JSON format")
		return
	}

	var org *domain.Organization
	var err error
	if in.OrganizationID != "" {
		if !domain.ValidOrgID(in.OrganizationID) {
			response.WriteError(w, http.StatusBadRequest, "Malformed organization id", response.CodeOrganizationInvalid)
			return
		}
		org, err = h.Orgs.Get(r.Context(), in.OrganizationID)
		if err != nil {
			response.WriteError(w, http.StatusNotFound, "Organization not found", response.CodeOrganizationInvalid)
			return
		}
	} else {
		if in.Name = utils.NormalizeString(in.Name); in.Name == "" {
			response.WriteError(w, http.StatusBadRequest, "Organization name is required", response.CodeInvalidInput)
			return
		}
		org, err = h.Orgs.Create(r.Context(), in.Name, in.Address, utils.NormalizeEmail(in.ContactEmail), in.Phone)
		if err != nil {
			logger.ErrorContext(r.Context(), "Failed to create organization", "error", err)
			response.InternalError(w, "Failed to create organization")
			return
		}
	}

	ref := &domain.OrganizationRef{
		ID:          org.ID,
		Name:        org.Name,
		LastUpdated: time.Now().UnixMilli(),
		ValidatedAt: time.Now().UnixMilli(),
	}
	if violations := organization.ValidateRef(ref); len(violations) > 0 {
		response.WriteError(w, http.StatusUnprocessableEntity, "Organization record failed validation", response.CodeOrganizationInvalid)
		return
	}

	h.complete(w, r, domain.UserTypeCorporate, ref)
}

func (h *OnboardingHandler) complete(w http.ResponseWriter, r *http.Request, userType domain.UserType, org *domain.OrganizationRef) {
	claims := middleware.Claims(r)
	src := middleware.Source(r)
	if claims == nil || src == nil {
		response.Unauthorized(w, "Authentication required")
		return
	}

	done := true
	ut := userType
	patch := domain.MetadataPatch{
		UserType:           &ut,
		OnboardingComplete: &done,
		Organization:       org,
	}
	if err := src.Update(r.Context(), patch); err != nil {
		logger.ErrorContext(r.Context(), "Failed to update session metadata", "error", err)
		response.InternalError(w, "Failed to update session")
		return
	}
	sess, err := src.Reload(r.Context())
	if err != nil {
		response.InternalError(w, "Failed to reload session")
		return
	}

	if h.Bus != nil {
		_ = h.Bus.Publish(r.Context(), events.SessionMetadataUpdated, events.SessionMetadataUpdatedEvent{
			SessionID: sess.ID,
			UserID:    sess.UserID,
			UserType:  string(userType),
			UpdatedAt: time.Now(),
		})
	}

	if h.EmailSvc != nil {
		if u, err := h.Users.FindByID(r.Context(), claims.Sub); err == nil {
			if err := h.EmailSvc.SendOnboardingWelcome(u.Email, u.Name, userType); err != nil {
				logger.WarnContext(r.Context(), "Welcome email failed", "error", err)
			}
		}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"message":  "onboarding complete",
		"metadata": sess.Metadata,
	})
}
