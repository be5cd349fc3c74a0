package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/rflorenc/chef-migration-workbench/internal/models"
)

// ListJobs returns jobs newest-first. ?migration=<id> narrows to the
// jobs of one migration (its run plus any resumes and rollbacks);
// ?type=migrate|rollback narrows by job kind.
func (s *Server) ListJobs(w http.ResponseWriter, r *http.Request) {
	migration := r.URL.Query().Get("migration")
	jobType := r.URL.Query().Get("type")

	jobs := make([]*models.Job, 0)
	for _, j := range s.Jobs.List() {
		if migration != "" && j.MigrationID != migration {
			continue
		}
		if jobType != "" && j.Type != jobType {
			continue
		}
		jobs = append(jobs, j)
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (s *Server) GetJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job := s.Jobs.Get(id)
	if job == nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// CancelJob stops a running migration or rollback job. The orchestrator
// notices the cancelled context at the next phase or resource boundary,
// so a deploy in flight still cleans up after itself.
func (s *Server) CancelJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job := s.Jobs.Get(id)
	if job == nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if !job.Running() {
		writeError(w, http.StatusConflict, "job is not running")
		return
	}
	job.AppendLog("CANCELED: migration stopped by user")
	job.Cancel()
	writeJSON(w, http.StatusOK, map[string]string{"status": "canceled"})
}
