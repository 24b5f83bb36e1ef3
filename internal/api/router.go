// Package api assembles the HTTP surface of the finance agent.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/dvloznov/finance-agent/internal/api/handlers"
	"github.com/dvloznov/finance-agent/internal/api/middleware"
	"github.com/dvloznov/finance-agent/internal/config"
)

// Service is everything the HTTP handlers need. *app.App satisfies it.
type Service interface {
	handlers.DocumentService
	handlers.JobService
	handlers.ProfileService
	handlers.ChatService
	handlers.RAGService
	handlers.SettingsService
}

// NewRouter builds the HTTP handler. llmSettings seeds the settings endpoint.
func NewRouter(svc Service, llmSettings config.LLM, corsOrigins []string, log zerolog.Logger) http.Handler {
	documentsV1 := handlers.NewDocumentsHandler(svc, log)
	jobsV1 := handlers.NewJobsHandler(svc, log)
	profileV1 := handlers.NewProfileHandler(svc, log)
	chatV1 := handlers.NewChatHandler(svc, log)
	ragV1 := handlers.NewRAGHandler(svc, log)
	system := handlers.NewSystemHandler(svc, llmSettings, log)

	if len(corsOrigins) == 0 {
		corsOrigins = []string{"*"}
	}

	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(middleware.Logger(log))
	router.Use(middleware.Recovery(log))
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins: corsOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", middleware.RequestIDHeader},
		ExposedHeaders: []string{middleware.RequestIDHeader},
		MaxAge:         300,
	}))

	router.Get("/health", system.Health)

	router.Route("/api/v1", func(r chi.Router) {
		r.Route("/documents", documentsV1.Routes)
		r.Route("/jobs", jobsV1.Routes)
		r.Route("/profile", profileV1.Routes)
		r.Route("/entries", profileV1.EntryRoutes)
		r.Route("/chat", chatV1.Routes)
		r.Route("/rag", ragV1.Routes)
		system.Routes(r)
	})

	return router
}
