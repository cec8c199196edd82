package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Router assembles the HTTP surface: REST endpoints, the WebSocket stream,
// health, and metrics. ws may be nil in tests that only exercise REST.
func Router(h *Handlers, ws http.HandlerFunc) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/healthz", h.Health)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/token", h.Token)

	r.Route("/api", func(r chi.Router) {
		r.Get("/topics", h.Topics)
		r.Get("/visualization/{topic}", h.Visualization)
		r.Post("/narration/{topic}", h.Narration)
		r.Post("/process-doubt", h.ProcessDoubt)
	})

	if ws != nil {
		r.Get("/ws", ws)
	}
	return r
}
