package controllers

import (
	"context"
	"net/http"

	"github.com/homerunhq/homerun-backend/api/responses"
	pkgerrors "github.com/homerunhq/homerun-backend/pkg/errors"
	"github.com/homerunhq/homerun-backend/pkg/logger"
)

// Pinger is implemented by the backing stores the readiness probe checks.
type Pinger interface {
	Ping(ctx context.Context) error
}

type HealthController struct {
	db    Pinger
	cache Pinger
	logg  *logger.Logger
}

func NewHealthController(db, cache Pinger, logg *logger.Logger) *HealthController {
	return &HealthController{db: db, cache: cache, logg: logg}
}

func (h *HealthController) Live(w http.ResponseWriter, r *http.Request) {
	responses.WriteSuccess(w, map[string]string{"status": "ok"})
}

func (h *HealthController) Ready(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{"db": "ok", "redis": "ok"}
	healthy := true

	if h.db != nil {
		if err := h.db.Ping(r.Context()); err != nil {
			checks["db"] = err.Error()
			healthy = false
		}
	}
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			checks["redis"] = err.Error()
			healthy = false
		}
	}

	if !healthy {
		responses.WriteError(r.Context(), h.logg, w,
			pkgerrors.New(pkgerrors.CodeDependency, "dependency unavailable").WithDetails(checks))
		return
	}
	responses.WriteSuccess(w, map[string]any{"status": "ok", "checks": checks})
}
