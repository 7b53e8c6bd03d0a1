package audit

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aoi-nmz/backend-club/internal/common"
	"github.com/aoi-nmz/backend-club/internal/tenant"
)

// Recorder captures mutating operator requests into the audit trail. Writes
// are best effort and happen off the request path so a slow audit insert
// never delays the response.
type Recorder struct {
	Store   Store
	Logger  zerolog.Logger
	Timeout time.Duration
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	return w.ResponseWriter.Write(b)
}

// Middleware records POST/PUT/PATCH/DELETE requests once the response has
// been written.
func (rec *Recorder) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		default:
			next.ServeHTTP(w, r)
			return
		}
		sw := &statusWriter{ResponseWriter: w}
		next.ServeHTTP(sw, r)

		store, ok := tenant.RecordFrom(r.Context())
		if !ok || rec.Store == nil {
			return
		}
		entry := Entry{
			StoreID: store.ID,
			Method:  r.Method,
			Path:    r.URL.Path,
			Status:  sw.status,
			IP:      common.ClientIP(r),
		}
		if id, ok := common.StaffID(r.Context()); ok {
			if parsed, err := uuid.Parse(id); err == nil {
				entry.StaffID = &parsed
			}
		}
		go rec.record(entry)
	})
}

func (rec *Recorder) record(entry Entry) {
	timeout := rec.Timeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := rec.Store.InsertEntry(ctx, entry); err != nil {
		rec.Logger.Warn().Err(err).Str("path", entry.Path).Msg("audit write failed")
	}
}
