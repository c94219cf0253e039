// Package api is the HTTP boundary: request decoding, tenant
// resolution, and JSON shaping. All domain decisions live below it.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/R005ter/fwp/database"
	"github.com/R005ter/fwp/internal/blob"
	"github.com/R005ter/fwp/internal/credential"
	"github.com/R005ter/fwp/internal/jobs"
	"github.com/R005ter/fwp/internal/registry"
	"github.com/R005ter/fwp/internal/runner"
)

// TenantResolver turns an opaque auth token into a tenant. Session and
// OAuth machinery live outside the core; this is the entire surface the
// core depends on.
type TenantResolver interface {
	Resolve(ctx context.Context, token string) (*database.Tenant, error)
}

// Server holds the wired collaborators behind the HTTP routes.
type Server struct {
	orchestrator *jobs.Orchestrator
	jobs         *jobs.Registry
	registry     *registry.Registry
	credentials  *credential.Store
	runner       *runner.Runner
	media        *blob.LocalStore
	remote       blob.Store
	resolver     TenantResolver
	log          *zap.SugaredLogger
}

type Config struct {
	Orchestrator *jobs.Orchestrator
	Jobs         *jobs.Registry
	Registry     *registry.Registry
	Credentials  *credential.Store
	Runner       *runner.Runner
	Media        *blob.LocalStore
	Remote       blob.Store
	Resolver     TenantResolver
}

func NewServer(cfg Config) *Server {
	return &Server{
		orchestrator: cfg.Orchestrator,
		jobs:         cfg.Jobs,
		registry:     cfg.Registry,
		credentials:  cfg.Credentials,
		runner:       cfg.Runner,
		media:        cfg.Media,
		remote:       cfg.Remote,
		resolver:     cfg.Resolver,
		log:          zap.S().Named("api"),
	}
}

// Router builds the chi route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "X-Auth-Token"},
	}))

	r.Get("/api/health", s.handleHealth)
	r.Get("/videos/{filename}", s.handleServeVideo)

	r.Group(func(r chi.Router) {
		r.Use(s.withTenant)
		r.Post("/api/download", s.handleStartDownload)
		r.Get("/api/download/{id}", s.handleDownloadStatus)
		r.Get("/api/videos", s.handleListLibrary)
		r.Delete("/api/videos/{filename}", s.handleDeleteVideo)
		r.Post("/api/auth/cookies", s.handleSetCookies)
	})

	return r
}

type tenantContextKey struct{}

// withTenant resolves the X-Auth-Token header to a tenant, rejecting
// requests that carry none or an unknown one.
func (s *Server) withTenant(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimSpace(r.Header.Get("X-Auth-Token"))
		if token == "" {
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		tenant, err := s.resolver.Resolve(r.Context(), token)
		if err != nil {
			s.log.Errorw("tenant resolution failed", "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		if tenant == nil {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		ctx := context.WithValue(r.Context(), tenantContextKey{}, tenant)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func tenantFrom(r *http.Request) *database.Tenant {
	tenant, _ := r.Context().Value(tenantContextKey{}).(*database.Tenant)
	return tenant
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
