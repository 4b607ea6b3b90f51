package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/park285/prompt-battle/internal/obslog"
)

// requestLogger logs one line per request. Websocket streams are logged when they end.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		fields := []zap.Field{
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		}
		if pid := participant(r); pid != "" {
			fields = append(fields, zap.String("participant_id", pid))
		}
		switch status := ww.Status(); {
		case status >= 500:
			obslog.L().Warn("http_request", fields...)
		default:
			obslog.L().Debug("http_request", fields...)
		}
	})
}
