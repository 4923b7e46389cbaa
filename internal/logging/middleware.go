package logging

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

// RequestLogger returns chi middleware that logs one line per completed
// request, at a level matching its status code.
func RequestLogger(logger zerolog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(ww, r)

			var event *zerolog.Event
			switch {
			case ww.statusCode >= 500:
				event = logger.Error()
			case ww.statusCode >= 400:
				event = logger.Warn()
			default:
				event = logger.Info()
			}

			event = event.
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Str("remote_addr", r.RemoteAddr).
				Int("status", ww.statusCode).
				Dur("duration", time.Since(start)).
				Int64("response_size", ww.responseSize)

			if id := middleware.GetReqID(r.Context()); id != "" {
				event = event.Str("request_id", id)
			}
			if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
				event = event.Str("route", routeCtx.RoutePattern())
			}
			if span := trace.SpanFromContext(r.Context()); span.SpanContext().IsValid() {
				event = event.Str("trace_id", span.SpanContext().TraceID().String())
			}

			event.Msg("Request completed")
		})
	}
}

// responseWriter captures the status code and body size for logging
type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	responseSize int64
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	size, err := rw.ResponseWriter.Write(b)
	rw.responseSize += int64(size)
	return size, err
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
