package audit

import (
	"net/http"
	"strconv"

	"github.com/aoi-nmz/backend-club/internal/common"
	"github.com/aoi-nmz/backend-club/internal/tenant"
)

// Handler exposes the audit trail to admins.
type Handler struct {
	store    Store
	pageSize int
}

// HandlerConfig configures the Handler dependencies.
type HandlerConfig struct {
	Store    Store
	PageSize int
}

// NewHandler constructs a Handler.
func NewHandler(cfg HandlerConfig) *Handler {
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}
	return &Handler{store: cfg.Store, pageSize: pageSize}
}

// List handles GET /api/v1/audit-log.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	store, ok := tenant.RecordFrom(r.Context())
	if !ok {
		common.JSONError(w, http.StatusBadRequest, "STORE_REQUIRED", "store identifier is required", nil)
		return
	}
	page, perPage := common.ParsePagination(r, h.pageSize)
	items, err := h.store.ListEntries(r.Context(), store.ID, perPage, (page-1)*perPage)
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "audit query failed", nil)
		return
	}
	total, err := h.store.CountEntries(r.Context(), store.ID)
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "audit query failed", nil)
		return
	}
	w.Header().Set("X-Total-Count", strconv.Itoa(total))
	common.JSON(w, http.StatusOK, map[string]any{
		"data":       items,
		"pagination": common.Pagination{Page: page, PerPage: perPage, TotalItems: total},
	})
}
