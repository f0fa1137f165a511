package web

import (
	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/khoj/internal/web/handlers"
	"github.com/kozaktomas/khoj/internal/web/middleware"
)

func (s *Server) setupRoutes() {
	facesHandler := handlers.NewFacesHandler(s.svc, s.config.Web.MaxUploadBytes, s.log)
	galleryHandler := handlers.NewGalleryHandler(s.svc, s.log)

	// Health check (no auth required)
	s.router.Get("/api/v1/health", handlers.HealthCheck)

	s.router.Route("/api/v1", func(r chi.Router) {
		// Read routes
		r.Post("/faces/search", facesHandler.Search)
		r.Get("/gallery/stats", galleryHandler.Stats)
		r.Get("/gallery/identities", galleryHandler.Identities)

		// Write routes require the API key when one is configured
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAPIKey(s.config.Web.APIKey))

			r.Post("/faces/enroll", facesHandler.Enroll)
			r.Post("/gallery/rebuild", galleryHandler.Rebuild)
			r.Post("/gallery/persist", galleryHandler.Persist)
			r.Post("/gallery/reload", galleryHandler.Reload)
		})
	})
}
