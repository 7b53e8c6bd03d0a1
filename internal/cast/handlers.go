package cast

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/aoi-nmz/backend-club/internal/common"
)

// Handler exposes cast roster and attendance endpoints.
type Handler struct {
	service  *Service
	validate *validator.Validate
}

// HandlerConfig configures the Handler dependencies.
type HandlerConfig struct {
	Service  *Service
	Validate *validator.Validate
}

// NewHandler constructs a Handler.
func NewHandler(cfg HandlerConfig) *Handler {
	validate := cfg.Validate
	if validate == nil {
		validate = validator.New()
	}
	return &Handler{service: cfg.Service, validate: validate}
}

type createRequest struct {
	Name     string `json:"name" validate:"required,max=80"`
	Nickname string `json:"nickname" validate:"max=80"`
}

type patchRequest struct {
	Name     *string `json:"name" validate:"omitempty,min=1,max=80"`
	Nickname *string `json:"nickname" validate:"omitempty,max=80"`
	Active   *bool   `json:"active"`
}

// Create handles POST /api/v1/casts.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if !h.decode(w, r, &req) {
		return
	}
	c, err := h.service.Create(r.Context(), req.Name, req.Nickname)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSONData(w, http.StatusCreated, c)
}

// List handles GET /api/v1/casts.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("active") == "true"
	items, err := h.service.List(r.Context(), activeOnly)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSONData(w, http.StatusOK, items)
}

// Update handles PATCH /api/v1/casts/{id}.
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := h.castID(w, r)
	if !ok {
		return
	}
	var req patchRequest
	if !h.decode(w, r, &req) {
		return
	}
	c, err := h.service.Update(r.Context(), id, CastPatch{
		Name:     req.Name,
		Nickname: req.Nickname,
		Active:   req.Active,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSONData(w, http.StatusOK, c)
}

// ClockIn handles POST /api/v1/casts/{id}/attendance/clock-in.
func (h *Handler) ClockIn(w http.ResponseWriter, r *http.Request) {
	id, ok := h.castID(w, r)
	if !ok {
		return
	}
	a, err := h.service.ClockIn(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSONData(w, http.StatusCreated, a)
}

// ClockOut handles POST /api/v1/casts/{id}/attendance/clock-out.
func (h *Handler) ClockOut(w http.ResponseWriter, r *http.Request) {
	id, ok := h.castID(w, r)
	if !ok {
		return
	}
	a, err := h.service.ClockOut(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSONData(w, http.StatusOK, a)
}

// Attendance handles GET /api/v1/attendance.
func (h *Handler) Attendance(w http.ResponseWriter, r *http.Request) {
	items, err := h.service.Attendance(r.Context(), r.URL.Query().Get("date"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSONData(w, http.StatusOK, items)
}

func (h *Handler) castID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "VALIDATION", "invalid cast id", nil)
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		common.JSONError(w, http.StatusBadRequest, "VALIDATION", "invalid request body", nil)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		common.JSONError(w, http.StatusBadRequest, "VALIDATION", "request validation failed", map[string]any{"error": err.Error()})
		return false
	}
	return true
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	if appErr, ok := common.AsAppError(err); ok {
		common.WriteAppError(w, appErr)
		return
	}
	common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "cast operation failed", nil)
}
