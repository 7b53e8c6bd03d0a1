package session

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/aoi-nmz/backend-club/internal/billing"
	"github.com/aoi-nmz/backend-club/internal/common"
)

// Handler exposes table session endpoints for the operator console.
type Handler struct {
	service  *Service
	validate *validator.Validate
	pageSize int
}

// HandlerConfig configures the Handler dependencies.
type HandlerConfig struct {
	Service  *Service
	Validate *validator.Validate
	PageSize int
}

// NewHandler constructs a Handler.
func NewHandler(cfg HandlerConfig) *Handler {
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}
	validate := cfg.Validate
	if validate == nil {
		validate = validator.New()
	}
	return &Handler{service: cfg.Service, validate: validate, pageSize: pageSize}
}

type openRequest struct {
	TableNumber string     `json:"tableNumber" validate:"required,max=32"`
	GuestCount  int        `json:"guestCount" validate:"required,gt=0,lte=100"`
	StartTime   *time.Time `json:"startTime"`
}

type guestsRequest struct {
	GuestCount int `json:"guestCount" validate:"required,gt=0,lte=100"`
}

type assignRequest struct {
	CastID uuid.UUID `json:"castId" validate:"required"`
	Status string    `json:"status" validate:"required,oneof=shime jounai free help"`
}

// Open handles POST /api/v1/table-sessions.
func (h *Handler) Open(w http.ResponseWriter, r *http.Request) {
	var req openRequest
	if !h.decode(w, r, &req) {
		return
	}
	sess, err := h.service.Open(r.Context(), OpenParams{
		TableNumber: req.TableNumber,
		GuestCount:  req.GuestCount,
		StartTime:   req.StartTime,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSONData(w, http.StatusCreated, sess)
}

// List handles GET /api/v1/table-sessions.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	page, perPage := common.ParsePagination(r, h.pageSize)
	items, total, err := h.service.List(r.Context(), ListFilter{
		Status: r.URL.Query().Get("status"),
		Limit:  perPage,
		Offset: (page - 1) * perPage,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	w.Header().Set("X-Total-Count", strconv.Itoa(total))
	common.JSON(w, http.StatusOK, map[string]any{
		"data":       items,
		"pagination": common.Pagination{Page: page, PerPage: perPage, TotalItems: total},
	})
}

// Get handles GET /api/v1/table-sessions/{id}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := h.sessionID(w, r)
	if !ok {
		return
	}
	detail, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSONData(w, http.StatusOK, detail)
}

// UpdateGuests handles PATCH /api/v1/table-sessions/{id}/guests.
func (h *Handler) UpdateGuests(w http.ResponseWriter, r *http.Request) {
	id, ok := h.sessionID(w, r)
	if !ok {
		return
	}
	var req guestsRequest
	if !h.decode(w, r, &req) {
		return
	}
	sess, err := h.service.UpdateGuests(r.Context(), id, req.GuestCount)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSONData(w, http.StatusOK, sess)
}

// Assign handles POST /api/v1/table-sessions/{id}/assignments.
func (h *Handler) Assign(w http.ResponseWriter, r *http.Request) {
	id, ok := h.sessionID(w, r)
	if !ok {
		return
	}
	var req assignRequest
	if !h.decode(w, r, &req) {
		return
	}
	a, err := h.service.AssignCast(r.Context(), id, req.CastID, billing.CastStatus(req.Status))
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSONData(w, http.StatusCreated, a)
}

// Unassign handles DELETE /api/v1/table-sessions/{id}/assignments/{assignmentID}.
func (h *Handler) Unassign(w http.ResponseWriter, r *http.Request) {
	id, ok := h.sessionID(w, r)
	if !ok {
		return
	}
	assignmentID, err := uuid.Parse(chi.URLParam(r, "assignmentID"))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "VALIDATION", "invalid assignment id", nil)
		return
	}
	if err := h.service.RemoveAssignment(r.Context(), id, assignmentID); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Close handles POST /api/v1/table-sessions/{id}/close.
func (h *Handler) Close(w http.ResponseWriter, r *http.Request) {
	id, ok := h.sessionID(w, r)
	if !ok {
		return
	}
	detail, err := h.service.Close(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSONData(w, http.StatusOK, detail)
}

// Bill handles GET /api/v1/table-sessions/{id}/bill.
func (h *Handler) Bill(w http.ResponseWriter, r *http.Request) {
	id, ok := h.sessionID(w, r)
	if !ok {
		return
	}
	bd, err := h.service.Bill(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSONData(w, http.StatusOK, bd)
}

func (h *Handler) sessionID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "VALIDATION", "invalid session id", nil)
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
	common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "table session operation failed", nil)
}
