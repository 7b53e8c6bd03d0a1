package security

import (
	"bytes"
	"errors"
	"io"
	"net/http"
)

// BodyLimit caps request payload sizes. Session and order writes are tiny
// JSON documents, so anything past the cap is either a mistake or abuse.
type BodyLimit struct {
	Max int64
}

// Middleware answers 413 when the payload exceeds the cap. The body is
// buffered so downstream decoders see a replayable reader.
func (b BodyLimit) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if b.Max <= 0 || r.Body == nil {
			next.ServeHTTP(w, r)
			return
		}
		if r.ContentLength != -1 && r.ContentLength > b.Max {
			http.Error(w, "request entity too large", http.StatusRequestEntityTooLarge)
			return
		}
		body, ok := b.readCapped(w, r)
		if !ok {
			return
		}
		_ = r.Body.Close()
		r.Body = io.NopCloser(bytes.NewReader(body))
		next.ServeHTTP(w, r)
	})
}

// readCapped reads at most Max+1 bytes. The extra byte detects bodies that
// lie about, or omit, their Content-Length.
func (b BodyLimit) readCapped(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	buf, err := io.ReadAll(io.LimitReader(r.Body, b.Max+1))
	if err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return nil, false
	}
	if int64(len(buf)) > b.Max {
		http.Error(w, "request entity too large", http.StatusRequestEntityTooLarge)
		return nil, false
	}
	return buf, true
}
