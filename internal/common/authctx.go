package common

import "context"

type ctxKey string

const (
	staffIDKey    ctxKey = "auth/staff-id"
	staffRolesKey ctxKey = "auth/staff-roles"
)

// WithStaffID stores the authenticated staff identifier on the provided context.
func WithStaffID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, staffIDKey, id)
}

// StaffID extracts the authenticated staff identifier from the context if present.
func StaffID(ctx context.Context) (string, bool) {
	v := ctx.Value(staffIDKey)
	if v == nil {
		return "", false
	}
	id, ok := v.(string)
	return id, ok
}

// WithStaffRoles stores the authenticated staff roles on the provided context.
func WithStaffRoles(ctx context.Context, roles []string) context.Context {
	return context.WithValue(ctx, staffRolesKey, roles)
}

// StaffRoles extracts the authenticated staff roles from the context.
func StaffRoles(ctx context.Context) []string {
	if v, ok := ctx.Value(staffRolesKey).([]string); ok {
		return v
	}
	return nil
}

// HasRole reports whether the context carries the given staff role.
func HasRole(ctx context.Context, role string) bool {
	for _, r := range StaffRoles(ctx) {
		if r == role {
			return true
		}
	}
	return false
}
