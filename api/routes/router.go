package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/learnexity/learnexity-backend/api/controllers"
	"github.com/learnexity/learnexity-backend/api/middleware"
	"github.com/learnexity/learnexity-backend/internal/enrollments"
	"github.com/learnexity/learnexity-backend/internal/messaging"
	"github.com/learnexity/learnexity-backend/internal/notify"
	"github.com/learnexity/learnexity-backend/internal/payments"
	"github.com/learnexity/learnexity-backend/pkg/config"
	"github.com/learnexity/learnexity-backend/pkg/logger"
)

// RouterParams carry everything the HTTP surface depends on.
type RouterParams struct {
	Config        *config.Config
	Logger        *logger.Logger
	DB            controllers.Pinger
	Redis         controllers.Pinger
	Enrollments   *enrollments.Service
	Payments      *payments.Service
	Messaging     *messaging.Service
	Notifications notify.Repository
	Geo           controllers.CurrencyResolver
	Metrics       prometheus.Gatherer
}

func NewRouter(params RouterParams) http.Handler {
	cfg := params.Config
	logg := params.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, params.DB, params.Redis))
	})

	if params.Metrics != nil {
		r.Handle("/metrics", promhttp.HandlerFor(params.Metrics, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/enrollments", func(r chi.Router) {
			r.Post("/", controllers.CreateEnrollment(params.Enrollments, params.Geo, logg))
			r.Get("/{enrollmentID}", controllers.GetEnrollment(params.Enrollments, logg))
			r.Get("/{enrollmentID}/access", controllers.GetEnrollmentAccess(params.Enrollments, logg))
			r.Get("/{enrollmentID}/payments", controllers.GetPaymentHistory(params.Payments, logg))
		})

		r.Post("/payments/confirm", controllers.ConfirmPayment(params.Payments, logg))
		r.Post("/webhooks/payment", controllers.PaymentWebhook(params.Payments, logg))

		r.Route("/users/{userID}", func(r chi.Router) {
			r.Get("/enrollments", controllers.ListUserEnrollments(params.Enrollments, logg))
			r.Get("/notifications", controllers.ListNotifications(params.Notifications, logg))
		})
	})

	r.Route("/api/admin/v1", func(r chi.Router) {
		r.Post("/messages", controllers.BroadcastMessage(params.Messaging, logg))
	})

	return r
}
