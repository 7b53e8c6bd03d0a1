package auth

import (
	"encoding/json"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/aoi-nmz/backend-club/internal/common"
	"github.com/aoi-nmz/backend-club/internal/tenant"
)

// Handler exposes HTTP handlers for staff authentication endpoints.
type Handler struct {
	Service  *Service
	Validate *validator.Validate
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken" validate:"required"`
}

type logoutRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type createStaffRequest struct {
	Name     string   `json:"name" validate:"required"`
	Email    string   `json:"email" validate:"required,email"`
	Password string   `json:"password" validate:"required,min=8"`
	Roles    []string `json:"roles" validate:"dive,oneof=admin manager staff"`
}

// Login handles POST /api/v1/auth/login.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	if h.Service == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "auth service not configured", nil)
		return
	}
	rec, ok := tenant.RecordFrom(r.Context())
	if !ok {
		common.JSONError(w, http.StatusBadRequest, "STORE_REQUIRED", "store identifier is required", nil)
		return
	}
	var req loginRequest
	if !h.decode(w, r, &req) {
		return
	}
	result, err := h.Service.Login(r.Context(), rec.ID, req.Email, req.Password, r.UserAgent(), common.ClientIP(r))
	if err != nil {
		common.WriteAppError(w, err)
		return
	}
	common.JSONData(w, http.StatusOK, result)
}

// Refresh handles POST /api/v1/auth/refresh.
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	if h.Service == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "auth service not configured", nil)
		return
	}
	var req refreshRequest
	if !h.decode(w, r, &req) {
		return
	}
	result, err := h.Service.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		common.WriteAppError(w, err)
		return
	}
	common.JSONData(w, http.StatusOK, result)
}

// Logout handles POST /api/v1/auth/logout.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if h.Service == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "auth service not configured", nil)
		return
	}
	var req logoutRequest
	// tolerate an empty body; logout is best-effort
	_ = json.NewDecoder(r.Body).Decode(&req)
	if req.RefreshToken != "" {
		_ = h.Service.Logout(r.Context(), req.RefreshToken)
	}
	w.WriteHeader(http.StatusNoContent)
}

// Me handles GET /api/v1/auth/me.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	if h.Service == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "auth service not configured", nil)
		return
	}
	staffID, ok := common.StaffID(r.Context())
	if !ok {
		common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing or invalid token", nil)
		return
	}
	staff, err := h.Service.Me(r.Context(), staffID)
	if err != nil {
		common.WriteAppError(w, err)
		return
	}
	common.JSONData(w, http.StatusOK, staff)
}

// CreateStaff handles POST /api/v1/staff. Admin only.
func (h *Handler) CreateStaff(w http.ResponseWriter, r *http.Request) {
	if h.Service == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "auth service not configured", nil)
		return
	}
	rec, ok := tenant.RecordFrom(r.Context())
	if !ok {
		common.JSONError(w, http.StatusBadRequest, "STORE_REQUIRED", "store identifier is required", nil)
		return
	}
	var req createStaffRequest
	if !h.decode(w, r, &req) {
		return
	}
	staff, err := h.Service.CreateStaff(r.Context(), rec.ID, req.Name, req.Email, req.Password, req.Roles)
	if err != nil {
		common.WriteAppError(w, err)
		return
	}
	common.JSONData(w, http.StatusCreated, staff)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid request payload", nil)
		return false
	}
	if h.Validate != nil {
		if err := h.Validate.Struct(dst); err != nil {
			common.JSONError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
			return false
		}
	}
	return true
}
