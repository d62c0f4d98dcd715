package api

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/trovehq/trove/pkg/artifacts"
	"github.com/trovehq/trove/pkg/middleware"
	"github.com/trovehq/trove/pkg/observability"
	"github.com/trovehq/trove/pkg/registry"
	"github.com/trovehq/trove/pkg/webhooks"
)

// Server wires the HTTP handlers to the domain services.
type Server struct {
	router *mux.Router

	registry  *registry.Service
	artifacts *artifacts.Service
	hooks     *webhooks.Manager

	health  *observability.HealthChecker
	metrics *observability.Metrics
	prom    *prometheus.Registry
	log     *slog.Logger
}

// NewServer creates the API server over the given services.
func NewServer(registrySvc *registry.Service, artifactSvc *artifacts.Service, log *slog.Logger) *Server {
	return &Server{
		registry:  registrySvc,
		artifacts: artifactSvc,
		log:       log,
	}
}

// WithWebhooks enables the webhook administration endpoints.
func (s *Server) WithWebhooks(hooks *webhooks.Manager) *Server {
	s.hooks = hooks
	return s
}

// WithHealth enables the liveness and readiness probes.
func (s *Server) WithHealth(health *observability.HealthChecker) *Server {
	s.health = health
	return s
}

// WithMetrics enables per-request metrics and the /metrics endpoint.
func (s *Server) WithMetrics(metrics *observability.Metrics, prom *prometheus.Registry) *Server {
	s.metrics = metrics
	s.prom = prom
	return s
}

// Router returns the fully wired HTTP handler.
func (s *Server) Router() http.Handler {
	if s.router == nil {
		s.setupRoutes()
	}
	return s.router
}

// setupRoutes configures all the API routes
func (s *Server) setupRoutes() {
	s.router = mux.NewRouter()

	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.Recover(s.log))
	s.router.Use(middleware.Logging(s.log))
	if s.metrics != nil {
		s.router.Use(middleware.Metrics(s.metrics))
	}

	// Probes and metrics bypass principal extraction.
	if s.health != nil {
		s.router.HandleFunc("/health/live", s.health.Liveness).Methods("GET")
		s.router.HandleFunc("/health/ready", s.health.Readiness).Methods("GET")
	}
	if s.prom != nil {
		s.router.Handle("/metrics", observability.MetricsHandler(s.prom)).Methods("GET")
	}

	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.Use(middleware.Principal)

	// Organization routes
	api.HandleFunc("/orgs", s.createOrg).Methods("POST")
	api.HandleFunc("/orgs", s.listOrgs).Methods("GET")
	api.HandleFunc("/orgs/{org}", s.getOrg).Methods("GET")
	api.HandleFunc("/orgs/{org}/archive", s.archiveOrg).Methods("POST")
	api.HandleFunc("/orgs/{org}/unarchive", s.unarchiveOrg).Methods("POST")
	api.HandleFunc("/orgs/{org}/permissions/{username}", s.setOrgPermission).Methods("PUT")

	// Project routes
	api.HandleFunc("/orgs/{org}/projects", s.createProject).Methods("POST")
	api.HandleFunc("/orgs/{org}/projects", s.listProjects).Methods("GET")
	api.HandleFunc("/orgs/{org}/projects/{project}", s.getProject).Methods("GET")
	api.HandleFunc("/orgs/{org}/projects/{project}/archive", s.archiveProject).Methods("POST")
	api.HandleFunc("/orgs/{org}/projects/{project}/unarchive", s.unarchiveProject).Methods("POST")
	api.HandleFunc("/orgs/{org}/projects/{project}/permissions/{username}", s.setProjectPermission).Methods("PUT")

	// Branch routes
	api.HandleFunc("/orgs/{org}/projects/{project}/branches", s.createBranch).Methods("POST")
	api.HandleFunc("/orgs/{org}/projects/{project}/branches", s.listBranches).Methods("GET")
	api.HandleFunc("/orgs/{org}/projects/{project}/branches/{branch}", s.getBranch).Methods("GET")

	// Artifact routes
	prefix := "/orgs/{org}/projects/{project}/branches/{branch}/artifacts"
	api.HandleFunc(prefix, s.createArtifact).Methods("POST")
	api.HandleFunc(prefix, s.listArtifacts).Methods("GET")
	api.HandleFunc(prefix+"/{artifact}", s.getArtifact).Methods("GET")
	api.HandleFunc(prefix+"/{artifact}", s.updateArtifact).Methods("PATCH")
	api.HandleFunc(prefix+"/{artifact}", s.deleteArtifact).Methods("DELETE")
	api.HandleFunc(prefix+"/{artifact}/blob", s.downloadBlob).Methods("GET")
	api.HandleFunc(prefix+"/{artifact}/blob", s.uploadBlob).Methods("PUT")

	// Webhook routes
	if s.hooks != nil {
		api.HandleFunc("/webhooks", s.registerWebhook).Methods("POST")
		api.HandleFunc("/webhooks", s.listWebhooks).Methods("GET")
		api.HandleFunc("/webhooks/{id}", s.getWebhook).Methods("GET")
		api.HandleFunc("/webhooks/{id}", s.deleteWebhook).Methods("DELETE")
		api.HandleFunc("/webhooks/{id}/activate", s.activateWebhook).Methods("POST")
		api.HandleFunc("/webhooks/{id}/deactivate", s.deactivateWebhook).Methods("POST")
		api.HandleFunc("/webhooks/{id}/deliveries", s.listDeliveries).Methods("GET")
		api.HandleFunc("/webhooks/{id}/stats", s.webhookStats).Methods("GET")
	}
}
