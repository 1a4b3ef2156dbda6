package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/globalbrain-ai/globalbrain/internal/api/handlers"
	appmw "github.com/globalbrain-ai/globalbrain/internal/api/middlewares"
	"github.com/globalbrain-ai/globalbrain/internal/config"
	"github.com/globalbrain-ai/globalbrain/internal/core"
	"github.com/globalbrain-ai/globalbrain/internal/ingest"
	"github.com/globalbrain-ai/globalbrain/internal/log"
	"github.com/globalbrain-ai/globalbrain/internal/retrieval"
	"github.com/globalbrain-ai/globalbrain/internal/study"
)

// Server wraps the HTTP server and its routes.
type Server struct {
	httpServer *http.Server
	logger     log.Logger
}

// NewServer builds and wires all routes.
func NewServer(
	cfg *config.Config,
	dbClient core.DbClient,
	objClient core.ObjectClient,
	index core.VectorIndex,
	orch *ingest.Orchestrator,
	retriever *retrieval.Retriever,
	composer *retrieval.Composer,
	generator *study.Generator,
	logger log.Logger,
) *Server {
	authHandler := handlers.NewAuthHandler(dbClient, cfg.JWTSecret, logger)
	docHandler := handlers.NewDocumentHandler(dbClient, objClient, index, orch, cfg.BucketName, logger)
	chatHandler := handlers.NewChatHandler(dbClient, retriever, composer, time.Duration(cfg.QueryTimeout)*time.Second, logger)
	studyHandler := handlers.NewStudyHandler(dbClient, generator, docHandler, logger)

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(requestLogger(logger))
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(2 * time.Duration(cfg.QueryTimeout) * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8888"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Route("/api", func(api chi.Router) {
		api.Post("/signup", authHandler.Signup)
		api.Post("/login", authHandler.Login)

		api.Group(func(protected chi.Router) {
			protected.Use(appmw.JWT(cfg.JWTSecret))

			protected.Post("/documents/upload", docHandler.Upload)
			protected.Get("/documents", docHandler.List)
			protected.Get("/documents/{id}", docHandler.Get)
			protected.Post("/documents/{id}/reprocess", docHandler.Reprocess)
			protected.Delete("/documents/{id}", docHandler.Delete)

			protected.Get("/documents/{id}/flashcards", studyHandler.ListFlashcards)
			protected.Post("/documents/{id}/flashcards", studyHandler.GenerateFlashcards)
			protected.Get("/documents/{id}/quiz", studyHandler.ListQuizItems)
			protected.Post("/documents/{id}/quiz", studyHandler.GenerateQuiz)

			protected.Post("/chat/ask", chatHandler.Ask)
		})
	})

	return &Server{
		httpServer: &http.Server{
			Addr:              ":" + cfg.Port,
			Handler:           r,
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger: logger,
	}
}

// Start runs the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	s.logger.Info("http server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.httpServer.Shutdown(ctx)
}

func requestLogger(logger log.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Info("request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"request_id", chimw.GetReqID(r.Context()),
			)
		})
	}
}
