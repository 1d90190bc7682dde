package observability

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// HTTP metric names recorded by MetricsMiddleware.
const (
	MetricHTTPRequests = "http_requests_total"
	MetricHTTPActive   = "http_requests_active"
	MetricHTTPDuration = "http_request_duration_seconds"
	MetricHTTPErrors   = "http_errors_total"
)

// DefaultExcludedPaths are not measured or logged per request.
var DefaultExcludedPaths = []string{"/health", "/metrics", "/favicon.ico"}

// PathSet is a set of request paths skipped by the HTTP middleware.
type PathSet map[string]struct{}

// NewPathSet builds a PathSet from paths.
func NewPathSet(paths []string) PathSet {
	set := make(PathSet, len(paths))
	for _, p := range paths {
		set[p] = struct{}{}
	}
	return set
}

// Contains reports whether path is excluded.
func (s PathSet) Contains(path string) bool {
	_, ok := s[path]
	return ok
}

// RouteLabel returns the chi route pattern matched by r, or the normalised
// URL path when r was not routed by chi. Call it after the handler ran.
func RouteLabel(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return NormalizePath(r.URL.Path)
}

// TracingMiddleware starts a server span per request, continuing any trace
// carried by the inbound headers.
func TracingMiddleware(serviceName string) func(http.Handler) http.Handler {
	tracer := otel.Tracer(serviceName)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			propagator := otel.GetTextMapPropagator()
			ctx := propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))

			attrs := []attribute.KeyValue{
				attribute.String("http.method", r.Method),
				attribute.String("http.target", r.URL.Path),
				attribute.String("http.scheme", scheme(r)),
				attribute.String("http.user_agent", r.UserAgent()),
			}
			if id, ok := CorrelationID(ctx); ok {
				attrs = append(attrs, attribute.String(CorrelationIDKey, id))
			}
			ctx, span := tracer.Start(ctx, r.Method,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(attrs...),
			)
			defer span.End()

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			if sc := span.SpanContext(); sc.HasTraceID() {
				ww.Header().Set("X-Trace-ID", sc.TraceID().String())
			}

			r = r.WithContext(ctx)
			next.ServeHTTP(ww, r)

			route := RouteLabel(r)
			status := statusOf(ww)
			span.SetName(fmt.Sprintf("%s %s", r.Method, route))
			span.SetAttributes(
				attribute.String("http.route", route),
				attribute.Int("http.status_code", status),
				attribute.Int("http.response_size", ww.BytesWritten()),
			)
			if status >= http.StatusInternalServerError {
				span.SetStatus(codes.Error, http.StatusText(status))
			}
		})
	}
}

// MetricsMiddleware records request counts, in-flight requests, latency and
// errors into collector. Paths in excluded are passed through unmeasured.
func MetricsMiddleware(collector *Collector, excluded PathSet) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if excluded.Contains(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			active := Labels{"method": r.Method}
			collector.AddGauge(MetricHTTPActive, 1, active)
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			panicked := true
			defer func() {
				collector.AddGauge(MetricHTTPActive, -1, active)

				status := statusOf(ww)
				if panicked {
					status = http.StatusInternalServerError
				}
				route := RouteLabel(r)
				code := strconv.Itoa(status)

				collector.Inc(MetricHTTPRequests, Labels{"method": r.Method, "path": route})
				collector.ObserveHistogram(MetricHTTPDuration, time.Since(start).Seconds(),
					Labels{"method": r.Method, "path": route, "status": code})
				if status >= http.StatusBadRequest {
					collector.Inc(MetricHTTPErrors, Labels{"method": r.Method, "path": route, "status": code})
				}
			}()

			next.ServeHTTP(ww, r)
			panicked = false
		})
	}
}

func statusOf(ww middleware.WrapResponseWriter) int {
	if s := ww.Status(); s != 0 {
		return s
	}
	return http.StatusOK
}

func scheme(r *http.Request) string {
	if r.TLS != nil {
		return "https"
	}
	return "http"
}
