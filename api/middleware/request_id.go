package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/homerunhq/homerun-backend/pkg/logger"
)

const requestIDHeader = "X-Request-Id"

// RequestID accepts a caller-provided X-Request-Id or generates one, echoes
// it on the response, and seeds both the request context and the logger.
func RequestID(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := r.Header.Get(requestIDHeader)
			if requestID == "" {
				requestID = uuid.NewString()
			}

			w.Header().Set(requestIDHeader, requestID)

			ctx := withRequestID(r.Context(), requestID)
			ctx = logg.WithRequestID(ctx, requestID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
