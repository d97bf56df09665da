package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/quickcourier/qcs-api/internal/domain"
	"github.com/quickcourier/qcs-api/internal/http/response"
	"github.com/quickcourier/qcs-api/internal/repo/postgres"
)

// OrganizationsHandler serves the organization lookup the metadata refresher
// calls when a cached snapshot is stale.
type OrganizationsHandler struct {
	Repo postgres.OrganizationsRepo
}

func NewOrganizationsHandler(repo postgres.OrganizationsRepo) *OrganizationsHandler {
	return &OrganizationsHandler{Repo: repo}
}

func (h *OrganizationsHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/{orgID}", h.get)
	return r
}

func (h *OrganizationsHandler) get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "orgID")
	if !domain.ValidOrgID(id) {
		response.WriteError(w, http.StatusBadRequest, "Malformed organization id", response.CodeOrganizationInvalid)
		return
	}

	org, err := h.Repo.Get(r.Context(), id)
	if err != nil {
		response.NotFound(w, "Organization not found")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(org)
}
