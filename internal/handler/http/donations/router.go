package donations_http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"go.uber.org/zap"

	"donations/internal/app/reconcile"
)

func RegisterRoutes(r chi.Router, s reconcile.ReconcileService, sweepStaleAge, sweepExpireAge time.Duration, l *zap.Logger) {
	handler := NewDonationHandler(s, sweepStaleAge, sweepExpireAge, l.With(zap.String("component", "DonationHTTPHandler")))

	r.Route("/health", func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("Donations service is healthy!"))
		})
	})

	r.Route("/donations", func(r chi.Router) {
		r.Post("/orders", handler.InitiateOrderHandler)
		r.Post("/verify", handler.VerifyCallbackHandler)
		r.Post("/sweep", handler.SweepHandler)
		r.Get("/analytics", handler.AnalyticsHandler)
		r.Get("/{id}", handler.GetStatusHandler)
		r.Post("/{id}/sync", handler.SyncStatusHandler)
		r.Post("/{id}/fail", handler.MarkFailedHandler)
	})

	r.Route("/webhooks", func(r chi.Router) {
		r.Post("/gateway", handler.WebhookHandler)
	})
}
