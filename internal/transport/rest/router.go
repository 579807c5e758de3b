package rest

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"

	"github.com/frahmantamala/cashback-settlement/internal/audit"
	"github.com/frahmantamala/cashback-settlement/internal/batch"
	"github.com/frahmantamala/cashback-settlement/internal/session"
	"github.com/frahmantamala/cashback-settlement/internal/transport/middleware"
	"github.com/frahmantamala/cashback-settlement/internal/transport/swagger"
)

type Handlers struct {
	Health  *HealthHandler
	Batch   *batch.Handler
	Session *session.Handler
	Audit   *audit.Handler
	// Metrics is mounted at MetricsPath when set.
	Metrics     http.Handler
	MetricsPath string
}

func RegisterAllRoutes(router *chi.Mux, h Handlers, authn middleware.Authenticator, logger *slog.Logger) {
	router.Use(middleware.RequestID)
	router.Use(middleware.RecoveryMiddleware(logger))
	router.Use(middleware.LoggingMiddleware(logger))

	router.Get("/openapi.yml", func(w http.ResponseWriter, r *http.Request) {
		http.ServeFile(w, r, "./api/openapi.yml")
	})
	router.Handle("/swagger/*", swagger.Handler())

	if h.Metrics != nil {
		path := h.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		router.Handle(path, h.Metrics)
	}

	adminOnly := middleware.RequireAdmin(logger)

	router.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", h.Health.healthCheckHandler)
		r.Get("/ping", h.Health.pingHandler)

		r.Group(func(pr chi.Router) {
			pr.Use(middleware.Authenticate(authn, logger))

			pr.Route("/batches", func(br chi.Router) {
				br.Get("/", h.Batch.ListBatches)
				br.Get("/{id}", h.Batch.GetBatch)
				br.With(adminOnly).Post("/", h.Batch.CreateBatch)
				br.With(adminOnly).Post("/{id}/cancel", h.Batch.CancelBatch)
				br.With(adminOnly).Post("/{id}/recompute", h.Batch.RecomputeTotals)
				br.With(adminOnly).Get("/{id}/audit", h.Audit.ListBatchEvents)
			})

			pr.Route("/sessions", func(sr chi.Router) {
				sr.Get("/{id}", h.Session.GetSession)
				sr.Post("/{id}/download", h.Session.DownloadBatch)
				sr.Post("/{id}/upload", h.Session.UploadVerificationResults)
				sr.Post("/{id}/submit", h.Session.SubmitSession)
				sr.With(adminOnly).Post("/{id}/complete", h.Session.CompleteSession)
				sr.With(adminOnly).Post("/{id}/extend", h.Session.ExtendDeadline)
			})

			pr.Route("/items", func(ir chi.Router) {
				ir.Patch("/{id}", h.Session.DecideItem)
				ir.With(adminOnly).Patch("/{id}/override", h.Session.OverrideItem)
				ir.With(adminOnly).Post("/{id}/assessment", h.Session.AssessItem)
			})

			pr.With(adminOnly).Post("/admin/sweep", h.Session.Sweep)
		})
	})
}
