package server

import (
	"net/http"

	"github.com/cloo-solutions/medindex/internal/api"
	"github.com/cloo-solutions/medindex/internal/api/handlers"
	"github.com/cloo-solutions/medindex/internal/api/middleware"
	"github.com/go-chi/chi/v5"
)

// DefaultMaxBodyBytes caps request bodies when RouterConfig leaves it unset.
const DefaultMaxBodyBytes int64 = 50 * 1024 * 1024

type RouterConfig struct {
	DocumentHandler *handlers.DocumentHandler
	SearchHandler   *handlers.SearchHandler
	FeedbackHandler *handlers.FeedbackHandler
	AdminHandler    *handlers.AdminHandler
	MaxBodyBytes    int64
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	maxBodyBytes := cfg.MaxBodyBytes
	if maxBodyBytes <= 0 {
		maxBodyBytes = DefaultMaxBodyBytes
	}

	r.Use(middleware.RequestID)
	r.Use(middleware.SentryMiddleware)
	r.Use(middleware.AccessLog)
	r.Use(middleware.MaxBodyBytes(maxBodyBytes))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		api.Success(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/documents", func(r chi.Router) {
		r.Post("/", cfg.DocumentHandler.Submit)
		r.Get("/", cfg.DocumentHandler.List)
		r.Get("/{id}", cfg.DocumentHandler.Get)
		r.Delete("/{id}", cfg.DocumentHandler.Purge)
		r.Get("/{id}/chunks", cfg.DocumentHandler.Chunks)
		r.Get("/{id}/download", cfg.DocumentHandler.DownloadURL)
		r.Post("/{id}/reingest", cfg.DocumentHandler.Reingest)
		r.Post("/{id}/deactivate", cfg.DocumentHandler.Deactivate)
	})

	r.Post("/search", cfg.SearchHandler.Search)
	r.Post("/answer", cfg.SearchHandler.Answer)
	r.Post("/feedback", cfg.FeedbackHandler.Submit)

	r.Route("/admin", func(r chi.Router) {
		r.Get("/index", cfg.AdminHandler.IndexStats)
		r.Post("/index/compact", cfg.AdminHandler.CompactIndex)
		r.Post("/integrity/check", cfg.AdminHandler.CheckIntegrity)
		r.Post("/integrity/rebuild", cfg.AdminHandler.RebuildIndex)
		r.Get("/dead-letters", cfg.AdminHandler.ListDeadLetters)
		r.Post("/dead-letters/{id}/redrive", cfg.AdminHandler.Redrive)
		r.Post("/feed/sync", cfg.AdminHandler.SyncFeed)
	})

	return r
}
