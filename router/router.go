package router

import (
	"context"
	"net/http"
	"time"

	"satunaskah/config"
	docHandler "satunaskah/internal/document"
	"satunaskah/internal/document/service"
	"satunaskah/middleware"
	"satunaskah/socket"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

// HealthCheck reports whether a backing service is reachable.
type HealthCheck func(ctx context.Context) error

func Setup(cfg *config.Config, docs *service.DocumentService, sessions *service.SessionService, hub *socket.Hub, checks ...HealthCheck) http.Handler {
	h := docHandler.NewDocumentHandler(docs, sessions, cfg.Presence.FreshnessWindow)

	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(middleware.CORSMiddleware(cfg.App.CORSOrigin))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		for _, check := range checks {
			if err := check(ctx); err != nil {
				http.Error(w, err.Error(), http.StatusServiceUnavailable)
				return
			}
		}
		w.Write([]byte("ok"))
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.Auth(cfg.Auth.JWTSecret))

		// WebSocket change feed
		r.Get("/ws", func(w http.ResponseWriter, r *http.Request) {
			socket.ServeWs(hub, w, r, middleware.UserID(r.Context()))
		})

		// REST API
		r.Get("/api/me", h.GetProfile)
		r.Route("/api/documents", func(r chi.Router) {
			r.Get("/", h.ListDocuments)
			r.Post("/", h.CreateDocument)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.GetDocument)
				r.Patch("/", h.UpdateDocument)
				r.Delete("/", h.ArchiveDocument)
				r.Post("/collaborators", h.AddCollaborator)
				r.Get("/members", h.GetDocumentMembers)
				r.Put("/session", h.TouchSession)
				r.Delete("/session", h.LeaveSession)
				r.Get("/sessions", h.ActiveSessions)
			})
		})
	})

	return r
}
