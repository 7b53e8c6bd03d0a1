package order

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/aoi-nmz/backend-club/internal/billing"
	"github.com/aoi-nmz/backend-club/internal/common"
)

// Handler exposes order endpoints nested under table sessions.
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

type addRequest struct {
	Label     string        `json:"label" validate:"required,max=120"`
	UnitPrice billing.Money `json:"unitPrice" validate:"required,gt=0"`
	Quantity  int           `json:"quantity" validate:"required,gt=0,lte=99"`
}

// Add handles POST /api/v1/table-sessions/{id}/orders.
func (h *Handler) Add(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := h.sessionID(w, r)
	if !ok {
		return
	}
	var req addRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "VALIDATION", "invalid request body", nil)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "VALIDATION", "request validation failed", map[string]any{"error": err.Error()})
		return
	}
	created, err := h.service.Add(r.Context(), sessionID, AddParams{
		Label:     req.Label,
		UnitPrice: req.UnitPrice,
		Quantity:  req.Quantity,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSONData(w, http.StatusCreated, created)
}

// List handles GET /api/v1/table-sessions/{id}/orders.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := h.sessionID(w, r)
	if !ok {
		return
	}
	items, err := h.service.List(r.Context(), sessionID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSONData(w, http.StatusOK, items)
}

// Remove handles DELETE /api/v1/table-sessions/{id}/orders/{orderID}.
func (h *Handler) Remove(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := h.sessionID(w, r)
	if !ok {
		return
	}
	orderID, err := uuid.Parse(chi.URLParam(r, "orderID"))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "VALIDATION", "invalid order id", nil)
		return
	}
	if err := h.service.Remove(r.Context(), sessionID, orderID); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) sessionID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "VALIDATION", "invalid session id", nil)
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	if appErr, ok := common.AsAppError(err); ok {
		common.WriteAppError(w, appErr)
		return
	}
	common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "order operation failed", nil)
}
