package report

import (
	"net/http"

	"github.com/aoi-nmz/backend-club/internal/common"
)

// Handler exposes operator report endpoints. Routes sit behind the manager
// role gate.
type Handler struct {
	service *Service
}

// HandlerConfig configures the Handler dependencies.
type HandlerConfig struct {
	Service *Service
}

// NewHandler constructs a Handler.
func NewHandler(cfg HandlerConfig) *Handler {
	return &Handler{service: cfg.Service}
}

// Sales handles GET /api/v1/reports/sales.
func (h *Handler) Sales(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	out, err := h.service.Sales(r.Context(), q.Get("from"), q.Get("to"))
	if err != nil {
		if appErr, ok := common.AsAppError(err); ok {
			common.WriteAppError(w, appErr)
			return
		}
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "report query failed", nil)
		return
	}
	common.JSONData(w, http.StatusOK, out)
}
