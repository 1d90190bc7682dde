package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"analytics-hub-backend/internal/infrastructure/observability"
)

// RequestLogging logs the start and completion of every request not in
// excluded. Completion is logged at warn level for 4xx and error for 5xx.
func RequestLogging(logger *zap.Logger, excluded observability.PathSet) func(http.Handler) http.Handler {
	log := observability.NewContextLogger(logger).Named("http")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if excluded.Contains(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			ctx := r.Context()
			log.Info(ctx, "Request started",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("remote_addr", r.RemoteAddr),
				zap.String("user_agent", r.UserAgent()),
			)

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			panicked := true
			defer func() {
				status := ww.Status()
				if panicked {
					status = http.StatusInternalServerError
				} else if status == 0 {
					status = http.StatusOK
				}
				log.Log(ctx, levelForStatus(status), "Request completed",
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Int("status", status),
					zap.Int("bytes", ww.BytesWritten()),
					zap.Float64("duration_ms", float64(time.Since(start).Microseconds())/1000),
					zap.Bool("panicked", panicked),
				)
			}()

			next.ServeHTTP(ww, r)
			panicked = false
		})
	}
}

func levelForStatus(status int) zapcore.Level {
	switch {
	case status >= http.StatusInternalServerError:
		return zapcore.ErrorLevel
	case status >= http.StatusBadRequest:
		return zapcore.WarnLevel
	}
	return zapcore.InfoLevel
}
