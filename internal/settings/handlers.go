package settings

import (
	"encoding/json"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/aoi-nmz/backend-club/internal/billing"
	"github.com/aoi-nmz/backend-club/internal/common"
)

// Handler exposes billing settings endpoints. Routes sit behind the admin
// role gate.
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

type updateRequest struct {
	HourlyCharge    billing.Money `json:"hourlyCharge" validate:"required,gt=0"`
	SetDurationMin  int           `json:"setDurationMinutes" validate:"required,gt=0,lte=1440"`
	ExtensionFee30m billing.Money `json:"extensionFee30Min" validate:"gte=0"`
	ShimeFee        billing.Money `json:"shimeFee" validate:"gte=0"`
	JounaiFee       billing.Money `json:"jounaiFee" validate:"gte=0"`
	ServiceRateBps  int           `json:"serviceRateBps" validate:"gte=0,lte=10000"`
	TaxRateBps      int           `json:"taxRateBps" validate:"gte=0,lte=10000"`
}

// Get handles GET /api/v1/settings/billing.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	row, err := h.service.Get(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSONData(w, http.StatusOK, row)
}

// Update handles PUT /api/v1/settings/billing.
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	var req updateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "VALIDATION", "invalid request body", nil)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "VALIDATION", "request validation failed", map[string]any{"error": err.Error()})
		return
	}
	row, err := h.service.Update(r.Context(), UpdateParams{
		HourlyCharge:    req.HourlyCharge,
		SetDurationMin:  req.SetDurationMin,
		ExtensionFee30m: req.ExtensionFee30m,
		ShimeFee:        req.ShimeFee,
		JounaiFee:       req.JounaiFee,
		ServiceRateBps:  req.ServiceRateBps,
		TaxRateBps:      req.TaxRateBps,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSONData(w, http.StatusOK, row)
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	if appErr, ok := common.AsAppError(err); ok {
		common.WriteAppError(w, appErr)
		return
	}
	common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "settings operation failed", nil)
}
