package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nyumbapay/nyumbapay-backend/api/controllers"
	webhookcontrollers "github.com/nyumbapay/nyumbapay-backend/api/controllers/webhooks"
	"github.com/nyumbapay/nyumbapay-backend/api/middleware"
	"github.com/nyumbapay/nyumbapay-backend/pkg/config"
	"github.com/nyumbapay/nyumbapay-backend/pkg/logger"
)

// NewRouter assembles the HTTP surface: batch orchestration, provider
// callbacks, health and metrics.
func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP controllers.Pinger,
	redisP controllers.Pinger,
	batchService controllers.BatchService,
	webhookService webhookcontrollers.ReconcileService,
	registry *prometheus.Registry,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, dbP, redisP))
	})

	if registry != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	}

	r.Route("/api/public", func(r chi.Router) {
		r.Get("/ping", controllers.PublicPing())
	})

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/mpesa", webhookcontrollers.MpesaWebhook(webhookService, logg))
		r.Post("/airtel", webhookcontrollers.AirtelWebhook(webhookService, logg))
	})

	r.Route("/api/v1/batches", func(r chi.Router) {
		r.Post("/rent-collection", controllers.RunBatch(batchService, logg))
		r.Post("/{batchId}/retry", controllers.RetryBatch(batchService, logg))
		r.Get("/{batchId}", controllers.BatchStatus(batchService, logg))
	})

	return r
}
