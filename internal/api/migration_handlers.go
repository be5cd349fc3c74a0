package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/rflorenc/chef-migration-workbench/internal/chefserver"
	"github.com/rflorenc/chef-migration-workbench/internal/migration"
	"github.com/rflorenc/chef-migration-workbench/internal/models"
	"github.com/rflorenc/chef-migration-workbench/internal/platform"
	"github.com/rflorenc/chef-migration-workbench/internal/statestore"
)

// migrationRequest selects the endpoints and options for one run.
type migrationRequest struct {
	// SourceID names a chef-server connection; empty falls back to the
	// locally configured cookbook directory.
	SourceID  string   `json:"source_id,omitempty"`
	Cookbooks []string `json:"cookbooks,omitempty"`
	NodeQuery string   `json:"node_query,omitempty"`

	// DestinationID names a controller connection; required when
	// deploy is set.
	DestinationID string `json:"destination_id,omitempty"`

	Deploy            bool   `json:"deploy"`
	ContinueOnPartial bool   `json:"continue_on_partial"`
	StrictLint        bool   `json:"strict_lint"`
	ProjectURL        string `json:"project_url,omitempty"`
	ProjectBranch     string `json:"project_branch,omitempty"`
	EEImage           string `json:"ee_image,omitempty"`
}

// buildSource resolves the request's cookbook source.
func (s *Server) buildSource(req *migrationRequest) (migration.Source, error) {
	if req.SourceID == "" {
		if s.CookbookRoot == "" {
			return nil, errors.New("no source connection and no local cookbook directory configured")
		}
		return &migration.DirSource{Root: s.CookbookRoot, Cookbooks: req.Cookbooks}, nil
	}
	conn := s.Connections.Get(req.SourceID)
	if conn == nil {
		return nil, errors.New("source connection not found")
	}
	if conn.Type != "chef-server" {
		return nil, errors.New("source connection is not a chef server")
	}
	return &migration.ServerSource{
		Chef:      chefserver.NewClient(conn, conn.Org, s.Retries),
		Cookbooks: req.Cookbooks,
		NodeQuery: req.NodeQuery,
	}, nil
}

// buildController resolves the request's destination controller, running
// discovery when the connection has not been probed yet.
func (s *Server) buildController(ctx context.Context, id string) (*platform.Controller, error) {
	conn := s.Connections.Get(id)
	if conn == nil {
		return nil, errors.New("destination connection not found")
	}
	if conn.Type != "controller" {
		return nil, errors.New("destination connection is not a controller")
	}
	client := platform.NewClient(conn, s.Retries)
	if conn.APIPrefix == "" {
		platform.DiscoverAndStore(ctx, client, conn, s.Connections)
	}
	return platform.NewController(client, conn.APIPrefix, conn.Version), nil
}

func (s *Server) options(req *migrationRequest) migration.Options {
	return migration.Options{
		Deploy:            req.Deploy,
		ContinueOnPartial: req.ContinueOnPartial,
		StrictLint:        req.StrictLint || s.StrictLint,
		ProjectURL:        req.ProjectURL,
		ProjectBranch:     req.ProjectBranch,
		EEImage:           req.EEImage,
	}
}

// RunPreflight checks both endpoints synchronously.
func (s *Server) RunPreflight(w http.ResponseWriter, r *http.Request) {
	var req migrationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	var chefPinger migration.Pinger
	if req.SourceID != "" {
		conn := s.Connections.Get(req.SourceID)
		if conn == nil {
			writeError(w, http.StatusNotFound, "source connection not found")
			return
		}
		chefPinger = chefserver.NewClient(conn, conn.Org, s.Retries)
	}

	var ctrl *platform.Controller
	if req.Deploy && req.DestinationID != "" {
		var err error
		ctrl, err = s.buildController(r.Context(), req.DestinationID)
		if err != nil {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
	}

	checks, ok := migration.Preflight(r.Context(), chefPinger, ctrl, s.options(&req), nil)
	writeJSON(w, http.StatusOK, map[string]any{"ok": ok, "checks": checks})
}

// StartMigration kicks off an async migration job. The response carries
// the job ID; the migration ID appears in the job once the run begins.
func (s *Server) StartMigration(w http.ResponseWriter, r *http.Request) {
	var req migrationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	source, err := s.buildSource(&req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var deployer migration.Deployer
	if req.Deploy {
		if req.DestinationID == "" {
			writeError(w, http.StatusBadRequest, "deploy requested without a destination connection")
			return
		}
		ctrl, err := s.buildController(r.Context(), req.DestinationID)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		deployer = ctrl
	}

	ctx, cancel := context.WithCancel(context.Background())
	job := s.Jobs.Create("migrate", "", cancel)

	o := migration.New(source, deployer, s.Migrations, s.options(&req), job.AppendLog)
	if s.OutputDir != "" {
		o.SetArtifactWriter(&migration.DirWriter{Dir: s.OutputDir})
	}

	go func() {
		defer cancel()
		result, err := o.Run(ctx)
		if result != nil {
			job.MigrationID = result.ID
		}
		if err != nil {
			job.AppendLog("ERROR: " + err.Error())
			job.Fail(err.Error())
			return
		}
		job.Complete()
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": job.ID})
}

func (s *Server) ListMigrations(w http.ResponseWriter, r *http.Request) {
	results, err := s.Migrations.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if results == nil {
		results = []*models.MigrationResult{}
	}
	writeJSON(w, http.StatusOK, results)
}

func (s *Server) GetMigration(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	result, err := s.Migrations.Get(r.Context(), id)
	if errors.Is(err, statestore.ErrNotFound) {
		writeError(w, http.StatusNotFound, "migration not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// GetPlaybook serves one rendered playbook as YAML.
func (s *Server) GetPlaybook(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	name := chi.URLParam(r, "name")
	result, err := s.Migrations.Get(r.Context(), id)
	if errors.Is(err, statestore.ErrNotFound) {
		writeError(w, http.StatusNotFound, "migration not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	playbook, ok := result.Playbooks[name]
	if !ok {
		writeError(w, http.StatusNotFound, "playbook not found")
		return
	}
	w.Header().Set("Content-Type", "application/yaml")
	w.Write([]byte(playbook))
}

// ResumeMigration continues a persisted run that halted after
// conversion: validation and, when requested, deployment run as an
// async job against the stored playbooks.
func (s *Server) ResumeMigration(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req migrationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	result, err := s.Migrations.Get(r.Context(), id)
	if errors.Is(err, statestore.ErrNotFound) {
		writeError(w, http.StatusNotFound, "migration not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if result.Status != models.StatusConverted && result.Status != models.StatusPartialSuccess {
		writeError(w, http.StatusConflict, "migration is not in a resumable state")
		return
	}

	source, err := s.buildSource(&req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var deployer migration.Deployer
	if req.Deploy {
		ctrl, err := s.buildController(r.Context(), req.DestinationID)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		deployer = ctrl
	}

	ctx, cancel := context.WithCancel(context.Background())
	job := s.Jobs.Create("migrate", id, cancel)

	o := migration.New(source, deployer, s.Migrations, s.options(&req), job.AppendLog)
	if s.OutputDir != "" {
		o.SetArtifactWriter(&migration.DirWriter{Dir: s.OutputDir})
	}
	go func() {
		defer cancel()
		if _, err := o.Resume(ctx, id); err != nil {
			job.AppendLog("ERROR: " + err.Error())
			job.Fail(err.Error())
			return
		}
		job.Complete()
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": job.ID})
}

// RollbackMigration starts an async rollback job for a deployed run.
func (s *Server) RollbackMigration(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req struct {
		DestinationID string `json:"destination_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	result, err := s.Migrations.Get(r.Context(), id)
	if errors.Is(err, statestore.ErrNotFound) {
		writeError(w, http.StatusNotFound, "migration not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !models.CanTransition(result.Status, models.StatusRolledBack) {
		writeError(w, http.StatusConflict, "migration is not in a rollbackable state")
		return
	}

	ctrl, err := s.buildController(r.Context(), req.DestinationID)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	job := s.Jobs.Create("rollback", id, cancel)

	o := migration.New(nil, ctrl, s.Migrations, migration.Options{}, job.AppendLog)
	go func() {
		defer cancel()
		if _, err := o.Rollback(ctx, id); err != nil {
			job.AppendLog("ERROR: " + err.Error())
			job.Fail(err.Error())
			return
		}
		job.Complete()
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": job.ID})
}
