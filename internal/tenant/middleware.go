package tenant

import (
	"context"
	"net"
	"net/http"
	"strings"
)

type contextKey string

const storeContextKey contextKey = "tenant.store"

// Resolver resolves store identifiers from HTTP requests using either headers
// or subdomains. Every venue (store) is a tenant; all domain data is scoped
// to the resolved store.
type Resolver struct {
	HeaderName   string
	RootDomain   string
	DefaultStore string
}

// NewResolver returns a resolver configured with the provided header name,
// root domain, and default store slug. If headerName is empty, "X-Store-ID"
// is used.
func NewResolver(headerName, rootDomain, defaultStore string) *Resolver {
	if headerName == "" {
		headerName = "X-Store-ID"
	}
	return &Resolver{
		HeaderName:   headerName,
		RootDomain:   strings.ToLower(strings.TrimSpace(rootDomain)),
		DefaultStore: strings.TrimSpace(defaultStore),
	}
}

// Middleware resolves the store from the request and injects it into the
// context passed downstream.
func (r *Resolver) Middleware(next http.Handler) http.Handler {
	if r == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		storeID := r.Resolve(req)
		if storeID == "" {
			storeID = r.DefaultStore
		}
		if storeID != "" {
			ctx := WithStore(req.Context(), storeID)
			req = req.WithContext(ctx)
		}
		next.ServeHTTP(w, req)
	})
}

// Resolve attempts to find the store identifier from the configured header or
// the request subdomain.
func (r *Resolver) Resolve(req *http.Request) string {
	if r == nil || req == nil {
		return ""
	}
	if storeID := strings.TrimSpace(req.Header.Get(r.HeaderName)); storeID != "" {
		return storeID
	}

	host := hostWithoutPort(req.Host)
	if host == "" {
		return ""
	}
	return strings.TrimSpace(r.subdomainFromHost(host))
}

func (r *Resolver) subdomainFromHost(host string) string {
	host = strings.ToLower(strings.TrimSpace(host))
	if host == "" || r.RootDomain == "" {
		return ""
	}
	if host == r.RootDomain {
		return ""
	}
	suffix := "." + r.RootDomain
	if !strings.HasSuffix(host, suffix) {
		return ""
	}
	sub := strings.TrimSuffix(host, suffix)
	if sub == "" || strings.Contains(sub, ".") {
		return ""
	}
	return sub
}

func hostWithoutPort(host string) string {
	host = strings.TrimSpace(host)
	if host == "" {
		return ""
	}
	if h, _, err := net.SplitHostPort(host); err == nil {
		return h
	}
	return host
}

// WithStore stores the store identifier into the provided context.
func WithStore(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, storeContextKey, id)
}

// FromContext extracts the store identifier from the context.
func FromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	id, ok := ctx.Value(storeContextKey).(string)
	if !ok || id == "" {
		return "", false
	}
	return id, true
}
