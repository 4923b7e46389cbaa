package telemetry

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
)

// HTTPMiddleware returns a middleware that traces HTTP requests. Trace
// context is extracted from incoming headers and a server span wraps each
// request.
func HTTPMiddleware(serviceName string) func(next http.Handler) http.Handler {
	tracer := Tracer(serviceName)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			propagator := propagation.TraceContext{}
			ctx = propagator.Extract(ctx, propagation.HeaderCarrier(r.Header))

			routePattern := getRoutePattern(r)

			attrs := []attribute.KeyValue{
				semconv.HTTPMethodKey.String(r.Method),
				semconv.HTTPRouteKey.String(routePattern),
				semconv.HTTPURLKey.String(r.URL.String()),
				semconv.NetHostNameKey.String(r.Host),
			}

			spanName := routePattern
			if spanName == "" {
				spanName = r.URL.Path
			}

			spanCtx, span := tracer.Start(
				ctx,
				spanName,
				trace.WithAttributes(attrs...),
				trace.WithSpanKind(trace.SpanKindServer),
			)
			defer span.End()

			ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(ww, r.WithContext(spanCtx))

			span.SetAttributes(semconv.HTTPStatusCodeKey.Int(ww.statusCode))
			if ww.statusCode >= 400 {
				span.SetStatus(codes.Error, http.StatusText(ww.statusCode))
			}
		})
	}
}

// getRoutePattern retrieves the route pattern from a chi router if available
func getRoutePattern(r *http.Request) string {
	if routeContext := chi.RouteContext(r.Context()); routeContext != nil {
		return routeContext.RoutePattern()
	}
	return r.URL.Path
}

// responseWriter captures the status code written by the handler
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

// WriteHeader captures the status code and calls the underlying ResponseWriter
func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Flush implements http.Flusher if the underlying ResponseWriter supports it
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
