package common

import (
	"net/http"
)

// Pagination holds pagination metadata for list responses.
type Pagination struct {
	Page       int `json:"page"`
	PerPage    int `json:"per_page"`
	TotalItems int `json:"total_items"`
}

// ParsePagination extracts page and per-page parameters from query values.
func ParsePagination(r *http.Request, defaultPerPage int) (page, perPage int) {
	page = AtoiDefault(r.URL.Query().Get("page"), 1)
	if page <= 0 {
		page = 1
	}
	perPage = AtoiDefault(r.URL.Query().Get("limit"), defaultPerPage)
	if perPage <= 0 {
		perPage = defaultPerPage
	}
	return
}
