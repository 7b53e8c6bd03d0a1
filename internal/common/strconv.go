package common

import (
	"strconv"
	"strings"
)

// AtoiDefault parses value as an integer. Empty or malformed input yields
// the provided default so query parameters never hard-fail a request.
func AtoiDefault(value string, def int) int {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return def
	}
	parsed, err := strconv.Atoi(trimmed)
	if err != nil {
		return def
	}
	return parsed
}
