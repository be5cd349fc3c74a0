// Package api exposes the migration workbench over HTTP: connection
// management, migration runs as async jobs with streamed logs, and
// access to persisted migration results and their playbooks.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/rflorenc/chef-migration-workbench/internal/models"
	"github.com/rflorenc/chef-migration-workbench/internal/statestore"
)

// Server holds shared state for all API handlers.
type Server struct {
	Connections *models.ConnectionStore
	Jobs        *models.JobStore
	Migrations  statestore.Store
	// CookbookRoot is the local cookbook tree used when a migration
	// request names no chef-server connection.
	CookbookRoot string
	// OutputDir receives rendered playbooks; empty discards them.
	OutputDir string
	// Retries is passed through to the endpoint HTTP clients.
	Retries int
	// StrictLint makes lint findings fail validation even when a
	// migration request does not ask for it.
	StrictLint bool
}

// NewRouter builds the chi router with all API routes.
func NewRouter(s *Server) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.Health)

		// Connections
		r.Post("/connections", s.CreateConnection)
		r.Get("/connections", s.ListConnections)
		r.Put("/connections/{id}", s.UpdateConnection)
		r.Delete("/connections/{id}", s.DeleteConnection)
		r.Post("/connections/{id}/test", s.TestConnection)

		// Migrations
		r.Post("/migrations/preflight", s.RunPreflight)
		r.Post("/migrations", s.StartMigration)
		r.Get("/migrations", s.ListMigrations)
		r.Get("/migrations/{id}", s.GetMigration)
		r.Get("/migrations/{id}/playbooks/{name}", s.GetPlaybook)
		r.Post("/migrations/{id}/resume", s.ResumeMigration)
		r.Post("/migrations/{id}/rollback", s.RollbackMigration)

		// Jobs
		r.Get("/jobs", s.ListJobs)
		r.Get("/jobs/{id}", s.GetJob)
		r.Post("/jobs/{id}/cancel", s.CancelJob)
	})

	// WebSocket (outside /api to avoid JSON content-type assumptions)
	r.Get("/ws/jobs/{id}/logs", s.StreamJobLogs)

	return r
}

// Health is the liveness probe.
func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
