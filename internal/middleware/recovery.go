package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"go.uber.org/zap"

	"analytics-hub-backend/internal/infrastructure/observability"
	"analytics-hub-backend/pkg/api"
	appErrors "analytics-hub-backend/pkg/errors"
)

// Recovery converts a panic into a 500 response carrying the correlation
// id and logs it with the stack trace.
func Recovery(logger *zap.Logger) func(http.Handler) http.Handler {
	log := observability.NewContextLogger(logger)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}

				log.Error(r.Context(), "Panic recovered",
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.String("panic", fmt.Sprint(rec)),
					zap.ByteString("stack", debug.Stack()),
				)

				// Nothing useful can be sent once the handler started writing.
				if w.Header().Get("Content-Type") == "" {
					api.FromError(w, appErrors.NewInternal("panic recovered", fmt.Errorf("%v", rec)), GetCorrelationID(r))
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}
