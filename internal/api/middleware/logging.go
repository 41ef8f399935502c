package middleware

import (
	"log"
	"net/http"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
)

// Logging writes one access line per request. It expects chi's RequestID
// middleware to run first.
func Logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		log.Printf("[API] request_id=%s method=%s path=%s status=%d bytes=%d duration=%s",
			chimw.GetReqID(r.Context()),
			r.Method,
			r.URL.Path,
			status,
			ww.BytesWritten(),
			time.Since(start),
		)
	})
}
