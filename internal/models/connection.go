package models

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Connection is a configured endpoint: either the Chef server that
// cookbooks and node data are read from, or the Automation Platform
// controller that converted playbooks deploy to.
type Connection struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Type     string `json:"type"`   // "chef-server" or "controller"
	Scheme   string `json:"scheme"` // "http" or "https"
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	// Org is the Chef organization; unused for controller connections.
	Org string `json:"org,omitempty"`
	// Password is never serialized; MaskedPassword is what listings show.
	Password string `json:"-"`
	// ClientKey holds the Chef client PEM for chef-server connections.
	ClientKey string `json:"-"`
	CACert    string `json:"-"`
	Insecure  bool   `json:"insecure"` // skip TLS verification

	// Version and APIPrefix are filled in by discovery.
	Version   string `json:"version,omitempty"`
	APIPrefix string `json:"api_prefix,omitempty"`

	PingStatus  string     `json:"ping_status"` // "unknown", "ok", "error"
	PingError   string     `json:"ping_error,omitempty"`
	AuthStatus  string     `json:"auth_status"` // "unknown", "ok", "error"
	AuthError   string     `json:"auth_error,omitempty"`
	LastChecked *time.Time `json:"last_checked,omitempty"`
}

// BaseURL returns the full base URL for this connection.
func (c *Connection) BaseURL() string {
	return fmt.Sprintf("%s://%s:%d", c.Scheme, c.Host, c.Port)
}

// MaskedPassword returns a fixed-width mask, or "" when no password is
// set. The real value never leaves the store.
func (c *Connection) MaskedPassword() string {
	if c.Password == "" {
		return ""
	}
	return "••••••••"
}

// ConnectionStore is an in-memory thread-safe store for connections.
type ConnectionStore struct {
	mu    sync.RWMutex
	conns map[string]*Connection
}

// NewConnectionStore creates an empty connection store.
func NewConnectionStore() *ConnectionStore {
	return &ConnectionStore{conns: make(map[string]*Connection)}
}

// Create adds a new connection, assigning it a UUID and resetting its
// health state.
func (s *ConnectionStore) Create(c *Connection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c.ID = uuid.New().String()
	c.PingStatus = "unknown"
	c.AuthStatus = "unknown"
	s.conns[c.ID] = c
}

// Get returns a connection by ID, or nil if not found.
func (s *ConnectionStore) Get(id string) *Connection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conns[id]
}

// List returns all connections.
func (s *ConnectionStore) List() []*Connection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]*Connection, 0, len(s.conns))
	for _, c := range s.conns {
		result = append(result, c)
	}
	return result
}

// Update replaces an existing connection's settings.
func (s *ConnectionStore) Update(c *Connection) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conns[c.ID]; !ok {
		return false
	}
	s.conns[c.ID] = c
	return true
}

// Delete removes a connection by ID.
func (s *ConnectionStore) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conns[id]; !ok {
		return false
	}
	delete(s.conns, id)
	return true
}

// SetVersion records the platform version and API prefix found by
// discovery. Missing IDs are ignored.
func (s *ConnectionStore) SetVersion(id, version, apiPrefix string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conns[id]
	if !ok {
		return
	}
	c.Version = version
	c.APIPrefix = apiPrefix
}

// SetHealth records the result of a reachability + auth probe. Missing
// IDs are ignored.
func (s *ConnectionStore) SetHealth(id, pingStatus, pingError, authStatus, authError string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conns[id]
	if !ok {
		return
	}
	c.PingStatus = pingStatus
	c.PingError = pingError
	c.AuthStatus = authStatus
	c.AuthError = authError
	now := time.Now()
	c.LastChecked = &now
}
