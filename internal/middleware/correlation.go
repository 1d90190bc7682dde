package middleware

import (
	"net/http"
	"unicode"

	"analytics-hub-backend/internal/infrastructure/observability"
)

// Header names carrying the correlation id.
const (
	CorrelationIDHeader = "X-Correlation-ID"
	RequestIDHeader     = "X-Request-ID"
)

const maxCorrelationIDLength = 128

// CorrelationID binds a correlation id to every request. An inbound
// X-Correlation-ID (or X-Request-ID) is reused when it looks sane,
// otherwise a new id is generated. The id is echoed on the response.
func CorrelationID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(CorrelationIDHeader)
		if id == "" {
			id = r.Header.Get(RequestIDHeader)
		}
		if !validCorrelationID(id) {
			id = observability.NewCorrelationID()
		}

		w.Header().Set(CorrelationIDHeader, id)
		ctx := observability.WithCorrelationID(r.Context(), id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetCorrelationID extracts the correlation id from the request context.
func GetCorrelationID(r *http.Request) string {
	id, _ := observability.CorrelationID(r.Context())
	return id
}

func validCorrelationID(id string) bool {
	if id == "" || len(id) > maxCorrelationIDLength {
		return false
	}
	for _, c := range id {
		if !unicode.IsPrint(c) || unicode.IsSpace(c) {
			return false
		}
	}
	return true
}
