package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/homerunhq/homerun-backend/api/responses"
	pkgerrors "github.com/homerunhq/homerun-backend/pkg/errors"
	"github.com/homerunhq/homerun-backend/pkg/logger"
	"github.com/homerunhq/homerun-backend/pkg/redis"
)

const (
	idempotencyHeader = "Idempotency-Key"
	idempotencyTTL    = 24 * time.Hour
)

// Idempotency enforces single-use Idempotency-Key headers on mutating
// endpoints. A reused key within the TTL is rejected before the handler runs.
// Missing headers pass through so callers can opt in per request.
func Idempotency(store redis.IdempotencyStore, scope string, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := strings.TrimSpace(r.Header.Get(idempotencyHeader))
			if store == nil || key == "" {
				next.ServeHTTP(w, r)
				return
			}

			storeKey := store.IdempotencyKey(scope, key)
			fresh, err := store.SetNX(r.Context(), storeKey, time.Now().UTC().Format(time.RFC3339), idempotencyTTL)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "idempotency store unavailable"))
				return
			}
			if !fresh {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeIdempotency, "idempotency key already used").WithDetails(map[string]string{"key": key}))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
