package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/homerunhq/homerun-backend/api/controllers"
	"github.com/homerunhq/homerun-backend/api/middleware"
	"github.com/homerunhq/homerun-backend/pkg/config"
	"github.com/homerunhq/homerun-backend/pkg/logger"
	"github.com/homerunhq/homerun-backend/pkg/redis"
)

// Deps bundles everything the router needs.
type Deps struct {
	Config   *config.Config
	Logger   *logger.Logger
	Health   *controllers.HealthController
	Bookings *controllers.BookingController
	Payments *controllers.PaymentController

	IdempotencyStore redis.IdempotencyStore
	MetricsRegistry  *prometheus.Registry
}

// NewRouter assembles the HTTP surface: health probes, metrics, and the
// authenticated v1 API.
func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer(deps.Logger))
	r.Use(middleware.RequestID(deps.Logger))
	r.Use(middleware.Logging(deps.Logger))

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", deps.Health.Live)
		r.Get("/ready", deps.Health.Ready)
	})

	if deps.MetricsRegistry != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(deps.MetricsRegistry, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(deps.Config.JWT, deps.Logger))

		r.Route("/bookings", func(r chi.Router) {
			r.Post("/", deps.Bookings.Create)
			r.Get("/", deps.Bookings.List)

			r.Route("/{bookingID}", func(r chi.Router) {
				r.Get("/", deps.Bookings.Get)
				r.Get("/eligibility", deps.Bookings.Eligibility)
				r.Post("/confirm", deps.Bookings.Confirm)
				r.Post("/cancel", deps.Bookings.Cancel)
				r.Post("/reschedule", deps.Bookings.Reschedule)
				r.Post("/start", deps.Bookings.Start)
				r.Post("/complete", deps.Bookings.Complete)
				r.Post("/no-show", deps.Bookings.MarkNoShow)
				r.Patch("/pricing", deps.Bookings.AdjustPricing)

				r.Get("/payments", deps.Payments.ListByBooking)
				r.With(middleware.Idempotency(deps.IdempotencyStore, "payments", deps.Logger)).
					Post("/payments", deps.Payments.Process)
			})
		})

		r.Route("/payments", func(r chi.Router) {
			r.Get("/quote", deps.Payments.Quote)
			r.Route("/{paymentID}", func(r chi.Router) {
				r.Get("/", deps.Payments.Get)
				r.With(middleware.Idempotency(deps.IdempotencyStore, "refunds", deps.Logger)).
					Post("/refunds", deps.Payments.Refund)
			})
		})
	})

	return r
}
