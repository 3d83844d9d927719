package httpservice

import (
	"net/http"
	"time"

	"github.com/arkade-os/escrowd/internal/core/application"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type healthResponse struct {
	Status string `json:"status"`
}

func newRouter(
	svc application.Service, ready *readiness, signatures *signatureVerifier,
	timeout time.Duration, withMetrics bool,
) http.Handler {
	h := newHandler(svc)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(panicRecovery)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		if !ready.ready() {
			writeJSON(w, http.StatusServiceUnavailable, healthResponse{"starting"})
			return
		}
		writeJSON(w, http.StatusOK, healthResponse{"ok"})
	})
	if withMetrics {
		r.Handle("/metrics", promhttp.Handler())
	}

	r.Route("/v1", func(r chi.Router) {
		r.Use(ready.middleware)
		r.Use(signatures.middleware)
		r.Use(middleware.Timeout(timeout))

		r.Post("/messages", h.handleMessage)

		r.Route("/sends", func(r chi.Router) {
			r.Post("/", h.requestSend)
			r.Post("/{requester}/resolve", h.resolve)
		})

		r.Route("/claims", func(r chi.Router) {
			r.Post("/", h.claim)
			r.Get("/", h.listClaims)
			r.Get("/{id}", h.getClaim)
		})

		r.Post("/accounts", h.registerAccount)
	})

	return r
}
