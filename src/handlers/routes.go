package handlers

import (
	"net/http"

	"github.com/00vip7-stack/hedge-dashboard/src/security"
	"github.com/00vip7-stack/hedge-dashboard/src/services"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"golang.org/x/time/rate"
)

// RouterConfig carries everything the HTTP surface is built from.
type RouterConfig struct {
	Auth           *security.AuthService
	Uploads        services.UploadProcessor
	Archive        ProvenanceArchive
	Metrics        http.Handler // nil leaves /metrics unrouted
	AllowedOrigins []string
	MaxUploadBytes int64
	Limiter        *rate.Limiter // nil disables rate limiting
}

// NewRouter wires the API routes.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "If-None-Match"},
		ExposedHeaders:   []string{"ETag", "Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	if cfg.Limiter != nil {
		r.Use(RateLimit(cfg.Limiter))
	}

	provenanceHandler := NewProvenanceHandler(cfg.Archive)
	r.Get("/healthz", provenanceHandler.HandleHealth)
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics)
	}

	authHandler := NewAuthHandler(cfg.Auth)
	uploadHandler := NewUploadHandler(cfg.Uploads, cfg.MaxUploadBytes)

	r.Route("/api", func(r chi.Router) {
		r.Post("/auth/token", authHandler.HandleToken)

		r.Group(func(r chi.Router) {
			r.Use(AuthMiddleware(cfg.Auth))

			r.Post("/upload", uploadHandler.HandleUpload)
			r.Get("/upload/latest", uploadHandler.HandleGetLatest)

			r.Route("/provenance", func(r chi.Router) {
				r.Get("/", provenanceHandler.HandleSearch)
				r.Get("/recent", provenanceHandler.HandleRecent)
				r.Get("/stats", provenanceHandler.HandleStatistics)
				r.Get("/export", provenanceHandler.HandleExportJSON)
				r.Get("/export.csv", provenanceHandler.HandleExportCSV)
				r.Get("/duplicates/{checksum}", provenanceHandler.HandleDuplicates)
				r.Get("/{id}", provenanceHandler.HandleGet)
				r.Get("/{id}/mermaid", provenanceHandler.HandleMermaid)
				r.With(RequireRole(security.RoleAdmin)).Delete("/{id}", provenanceHandler.HandleDelete)
			})
		})
	})
	return r
}
