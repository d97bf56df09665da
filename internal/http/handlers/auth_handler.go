package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/alexedwards/argon2id"
	"github.com/go-chi/chi/v5"
	"github.com/quickcourier/qcs-api/internal/http/middleware"
	"github.com/quickcourier/qcs-api/internal/http/response"
	"github.com/quickcourier/qcs-api/internal/platform/auth"
	"github.com/quickcourier/qcs-api/internal/repo/postgres"
	"github.com/quickcourier/qcs-api/internal/utils"
	"github.com/quickcourier/qcs-api/pkg/config"
	"github.com/quickcourier/qcs-api/pkg/events"
	"github.com/quickcourier/qcs-api/pkg/logger"
)

type AuthHandler struct {
	Users    postgres.UsersRepo
	Sessions *postgres.SessionsRepo
	Bus      events.Publisher
	Cfg      config.SessionConfig
}

func NewAuthHandler(users postgres.UsersRepo, sessions *postgres.SessionsRepo, bus events.Publisher, cfg config.SessionConfig) *AuthHandler {
	return &AuthHandler{Users: users, Sessions: sessions, Bus: bus, Cfg: cfg}
}

func (h *AuthHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/register", h.register)
	r.Post("/login", h.login) // ?redirect_url=... echoed back for the client to resume
	r.Post("/logout", h.logout)
	return r
}

func (h *AuthHandler) register(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Email    string `json:"email"`
		Password string `json:"password"`
		Name     string `json:"name"`
		Phone    string `json:"phone"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		response.BadRequest(w, "Invalid JSON format")
		return
	}

	in.Email = utils.NormalizeEmail(in.Email)
	if in.Email == "" || !utils.IsValidEmail(in.Email) {
		response.WriteError(w, http.StatusBadRequest, "A valid email is required", response.CodeInvalidInput)
		return
	}
	if len(in.Password) < 8 {
		response.WriteError(w, http.StatusBadRequest, "Password must be at least 8 characters", response.CodeInvalidInput)
		return
	}
	if in.Name = utils.NormalizeString(in.Name); in.Name == "" {
		response.WriteError(w, http.StatusBadRequest, "Name is required", response.CodeInvalidInput)
		return
	}

	hash, err := argon2id.CreateHash(in.Password, argon2id.DefaultParams)
	if err != nil {
		response.InternalError(w, "Failed to process password")
		return
	}

	u, err := h.Users.Create(r.Context(), in.Email, hash, in.Name, in.Phone)
	if err != nil {
		response.WriteError(w, http.StatusConflict, "An account with this email already exists", response.CodeEmailExists)
		return
	}

	h.issueSession(w, r, u, http.StatusCreated)
}

func (h *AuthHandler) login(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.Email == "" || in.Password == "" {
		response.BadRequest(w, "Email and password are required")
		return
	}

	u, err := h.Users.FindByEmail(r.Context(), utils.NormalizeEmail(in.Email))
	if err != nil {
		response.Unauthorized(w, "Invalid credentials")
		return
	}

	ok, _ := argon2id.ComparePasswordAndHash(in.Password, u.PasswordHash)
	if !ok {
		response.Unauthorized(w, "Invalid credentials")
		return
	}

	h.issueSession(w, r, u, http.StatusOK)
}

func (h *AuthHandler) issueSession(w http.ResponseWriter, r *http.Request, u *postgres.User, status int) {
	sess, err := h.Sessions.Create(r.Context(), u.ID, u.Email)
	if err != nil {
		logger.ErrorContext(r.Context(), "Failed to create session", "error", err)
		response.InternalError(w, "Failed to create session")
		return
	}

	userType := ""
	if sess.Metadata != nil {
		userType = string(sess.Metadata.UserType)
	}
	access, err := auth.NewSessionToken(u.ID, sess.ID, u.Email, userType, h.Cfg.AccessTokenTTL)
	if err != nil {
		response.InternalError(w, "Failed to issue token")
		return
	}

	if h.Bus != nil {
		_ = h.Bus.Publish(r.Context(), events.SessionCreated, events.SessionMetadataUpdatedEvent{
			SessionID: sess.ID,
			UserID:    u.ID,
			UpdatedAt: sess.CreatedAt,
		})
	}

	out := map[string]any{
		"access_token": access,
		"session_id":   sess.ID,
		"user": map[string]any{
			"id": u.ID, "email": u.Email, "name": u.Name, "phone": u.Phone,
		},
	}
	// The sign-in page forwards its redirect_url so the client can resume the
	// route it was bounced from.
	if ru := r.URL.Query().Get("redirect_url"); ru != "" {
		out["redirect_url"] = ru
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(out)
}

func (h *AuthHandler) logout(w http.ResponseWriter, r *http.Request) {
	claims := middleware.Claims(r)
	if claims == nil {
		response.Unauthorized(w, "Authentication required")
		return
	}
	if err := h.Sessions.Delete(r.Context(), claims.SessionID); err != nil {
		response.InternalError(w, "Failed to end session")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"message": "signed out"})
}
