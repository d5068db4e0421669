package app

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/harborml/drivesearch/internal/api/handlers"
	appMiddleware "github.com/harborml/drivesearch/internal/api/middlewares"
	"github.com/harborml/drivesearch/internal/config"
	"github.com/harborml/drivesearch/internal/core"
	"github.com/harborml/drivesearch/internal/core/drive"
	"github.com/harborml/drivesearch/internal/syncer"
)

// Server wraps the HTTP server instance and its handlers.
type Server struct {
	httpServer *http.Server
}

// NewServer builds and wires all routes.
func NewServer(cfg *config.Config, db core.DbClient, driveClient *drive.Client, emb core.EmbeddingProvider, obj core.ObjectClient, engine *syncer.Engine) *Server {
	authHandler := handlers.NewAuthHandler(db, cfg.JWTSecret)
	driveHandler := handlers.NewDriveHandler(db, driveClient, cfg.JWTSecret)
	syncHandler := handlers.NewSyncHandler(db, engine)
	docHandler := handlers.NewDocumentHandler(db, obj, cfg.BucketName)
	searchHandler := handlers.NewSearchHandler(db, emb)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8888"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(api chi.Router) {
		// public endpoints
		api.Post("/signup", authHandler.Signup)
		api.Post("/login", authHandler.Login)
		// Google redirects here without our Authorization header; the OAuth
		// state token carries the user identity instead.
		api.Get("/drive/callback", driveHandler.Callback)

		// protected endpoints
		api.Group(func(protected chi.Router) {
			protected.Use(appMiddleware.JWTMiddleware(cfg.JWTSecret))

			protected.Get("/drive/connect", driveHandler.Connect)
			protected.Post("/drive/disconnect", driveHandler.Disconnect)
			protected.Get("/drive/status", driveHandler.Status)

			protected.Post("/sync", syncHandler.Trigger)
			protected.Get("/sync/status", syncHandler.Status)
			protected.Post("/sync/cancel", syncHandler.Cancel)

			protected.Get("/documents", docHandler.GetDocuments)
			protected.Get("/documents/{id}", docHandler.GetDocument)
			protected.Get("/documents/{id}/raw", docHandler.GetRawContent)

			protected.Post("/search", searchHandler.Search)
		})
	})

	httpSrv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}

	return &Server{httpServer: httpSrv}
}

// Start runs the HTTP server.
func (s *Server) Start() {
	log.Printf("HTTP server listening on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("server error: %v", err)
	}
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Println("Shutting down HTTP server...")
	return s.httpServer.Shutdown(ctx)
}
