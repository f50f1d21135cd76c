package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/markdave123-py/textbook-index/internal/api/handlers"
	appMiddleware "github.com/markdave123-py/textbook-index/internal/api/middlewares"
	"github.com/markdave123-py/textbook-index/internal/config"
	"github.com/markdave123-py/textbook-index/internal/search"
	"github.com/markdave123-py/textbook-index/pkg/logger"
)

// SearchService is everything the routes use from the search engine.
type SearchService interface {
	handlers.SearchEngine
	handlers.SearchHealth
}

// Handlers are the dependencies of the HTTP routes.
type Handlers struct {
	Documents handlers.DocumentService
	Search    SearchService
	Content   handlers.ContentGenerator
	DB        handlers.Pinger
	Prompt    search.PromptOptions
}

// Server wraps the HTTP server instance and its handlers.
type Server struct {
	httpServer *http.Server
}

// NewRouter builds and wires all routes.
func NewRouter(h Handlers) http.Handler {
	docHandler := handlers.NewDocumentHandler(h.Documents)
	searchHandler := handlers.NewSearchHandler(h.Search, h.Prompt)
	contentHandler := handlers.NewContentHandler(h.Content)
	healthHandler := handlers.NewHealthHandler(h.DB, h.Search)

	r := chi.NewRouter()
	r.Use(appMiddleware.RequestID)
	r.Use(appMiddleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(appMiddleware.Metrics)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8888"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", appMiddleware.RequestIDHeader},
		ExposedHeaders:   []string{appMiddleware.RequestIDHeader},
		AllowCredentials: false,
	}))

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(api chi.Router) {
		api.Get("/health", healthHandler.Health)

		api.Group(func(g chi.Router) {
			g.Use(middleware.Timeout(60 * time.Second))
			g.Post("/search", searchHandler.Search)
			g.Post("/search/batch", searchHandler.BatchSearch)
			g.Post("/search/context", searchHandler.PromptContext)
			g.Get("/search/similar/{id}", searchHandler.Similar)
			g.Get("/search/stats", searchHandler.Stats)
			g.Get("/documents/status", docHandler.GetStatus)
			g.Post("/documents/process", docHandler.ProcessDocuments)
			g.Post("/documents/retry", docHandler.RetryDocuments)
		})

		// Uploads and generation carry their own, longer deadlines.
		api.Post("/documents", docHandler.UploadDocument)
		api.Post("/content", contentHandler.Generate)
	})

	return r
}

func NewServer(cfg *config.Config, h Handlers) *Server {
	return &Server{httpServer: &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           NewRouter(h),
		ReadHeaderTimeout: 10 * time.Second,
	}}
}

// Start runs the HTTP server until it is shut down.
func (s *Server) Start() error {
	logger.Info(context.Background(), "HTTP server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	logger.Info(ctx, "shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}
