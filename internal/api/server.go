// Package api exposes the campaign management HTTP surface: campaign CRUD
// and lifecycle actions, stats, the bounce webhook, and the public tracking
// endpoints.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/ignite/campaign-engine/internal/tracking"
)

// Server wraps the router and the underlying http.Server.
type Server struct {
	handler http.Handler
	server  *http.Server
}

// NewServer builds the full route tree. The tracking handler is mounted at
// the root so pixel and click URLs stay short.
func NewServer(h *Handlers, th *tracking.Handler) *Server {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Tenant-ID"},
		MaxAge:         300,
	}))

	r.Get("/health", h.HandleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Route("/campaigns", func(r chi.Router) {
			r.Post("/", h.HandleCreateCampaign)
			r.Get("/", h.HandleListCampaigns)
			r.Route("/{campaignID}", func(r chi.Router) {
				r.Get("/", h.HandleGetCampaign)
				r.Get("/stats", h.HandleCampaignStats)
				r.Post("/schedule", h.HandleScheduleCampaign)
				r.Post("/send", h.HandleSendCampaign)
				r.Post("/pause", h.HandlePauseCampaign)
				r.Post("/resume", h.HandleResumeCampaign)
				r.Post("/cancel", h.HandleCancelCampaign)
			})
		})
		r.Get("/suppressions", h.HandleListSuppressions)
	})

	r.Post("/webhooks/bounce", h.HandleBounceWebhook)

	if th != nil {
		r.Mount("/", th.Routes())
	}

	return &Server{handler: r}
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe(addr string) error {
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Handler returns the HTTP handler for testing.
func (s *Server) Handler() http.Handler {
	return s.handler
}
