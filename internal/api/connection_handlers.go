package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/rflorenc/chef-migration-workbench/internal/chefserver"
	"github.com/rflorenc/chef-migration-workbench/internal/models"
	"github.com/rflorenc/chef-migration-workbench/internal/platform"
)

// connectionJSON is the wire shape for create/update requests. The
// secret fields deserialize here and move onto the model, which never
// serializes them back.
type connectionJSON struct {
	models.Connection
	Password  string `json:"password,omitempty"`
	ClientKey string `json:"client_key,omitempty"`
	CACert    string `json:"ca_cert,omitempty"`
}

func (in *connectionJSON) model() *models.Connection {
	conn := in.Connection
	conn.Password = in.Password
	conn.ClientKey = in.ClientKey
	conn.CACert = in.CACert
	return &conn
}

func (s *Server) CreateConnection(w http.ResponseWriter, r *http.Request) {
	var in connectionJSON
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	conn := in.model()
	if conn.Host == "" {
		writeError(w, http.StatusBadRequest, "host is required")
		return
	}
	if conn.Type == "" {
		conn.Type = "controller"
	}
	if conn.Type != "chef-server" && conn.Type != "controller" {
		writeError(w, http.StatusBadRequest, "type must be chef-server or controller")
		return
	}
	if conn.Scheme == "" {
		conn.Scheme = "https"
	}
	if conn.Port == 0 {
		if conn.Scheme == "https" {
			conn.Port = 443
		} else {
			conn.Port = 80
		}
	}
	s.Connections.Create(conn)
	writeJSON(w, http.StatusCreated, conn)
}

func (s *Server) ListConnections(w http.ResponseWriter, r *http.Request) {
	conns := s.Connections.List()
	writeJSON(w, http.StatusOK, conns)
}

func (s *Server) UpdateConnection(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var in connectionJSON
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	conn := in.model()
	conn.ID = id
	if !s.Connections.Update(conn) {
		writeError(w, http.StatusNotFound, "connection not found")
		return
	}
	writeJSON(w, http.StatusOK, conn)
}

func (s *Server) DeleteConnection(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !s.Connections.Delete(id) {
		writeError(w, http.StatusNotFound, "connection not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// TestConnection pings the endpoint, checks credentials where the
// endpoint distinguishes the two, and records the outcome on the
// connection.
func (s *Server) TestConnection(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	conn := s.Connections.Get(id)
	if conn == nil {
		writeError(w, http.StatusNotFound, "connection not found")
		return
	}

	ctx := r.Context()
	var pingErr, authErr error
	switch conn.Type {
	case "chef-server":
		c := chefserver.NewClient(conn, conn.Org, s.Retries)
		pingErr = c.Ping(ctx)
		authErr = pingErr // the Chef server authenticates every request
	default:
		client := platform.NewClient(conn, s.Retries)
		platform.DiscoverAndStore(ctx, client, conn, s.Connections)
		ctrl := platform.NewController(client, conn.APIPrefix, conn.Version)
		pingErr = ctrl.Ping(ctx)
		if pingErr == nil {
			authErr = ctrl.CheckAuth(ctx)
		}
	}

	status := func(err error) (string, string) {
		if err != nil {
			return "error", err.Error()
		}
		return "ok", ""
	}
	ping, pingMsg := status(pingErr)
	auth, authMsg := status(authErr)
	s.Connections.SetHealth(id, ping, pingMsg, auth, authMsg)

	writeJSON(w, http.StatusOK, map[string]any{
		"ok":         pingErr == nil && authErr == nil,
		"ping_error": pingMsg,
		"auth_error": authMsg,
		"version":    conn.Version,
	})
}
