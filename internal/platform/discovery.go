package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	goversion "github.com/hashicorp/go-version"

	"github.com/rflorenc/chef-migration-workbench/internal/models"
)

// PingResponse holds the parsed /ping/ response.
type PingResponse struct {
	Version string `json:"version"`
}

// APIRootResponse holds the parsed /api/ response.
// AWX format: {"current_version": "/api/v2/", ...}
// AAP format: {"apis": {"controller": "/api/controller/", ...}}
type APIRootResponse struct {
	CurrentVersion string            `json:"current_version"`
	APIs           map[string]string `json:"apis"` // service name → prefix path
}

// ParsePingResponse extracts the version from a /ping/ JSON response body.
func ParsePingResponse(body []byte) (*PingResponse, error) {
	var resp PingResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parsing ping response: %w", err)
	}
	if resp.Version == "" {
		return nil, fmt.Errorf("ping response missing version field")
	}
	return &resp, nil
}

// ParseAPIRoot parses the /api/ response body.
func ParseAPIRoot(body []byte) (*APIRootResponse, error) {
	var resp APIRootResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parsing API root response: %w", err)
	}
	return &resp, nil
}

// DetectAPIPrefix determines the API prefix from the parsed /api/
// response. Standalone controllers expose current_version directly;
// gateway deployments (AAP 2.5+) list per-service prefixes. Returns ""
// if detection fails.
func DetectAPIPrefix(root *APIRootResponse) string {
	if root == nil {
		return ""
	}
	if root.CurrentVersion != "" {
		prefix := root.CurrentVersion
		if !strings.HasSuffix(prefix, "/") {
			prefix += "/"
		}
		return prefix
	}
	if controllerPrefix, ok := root.APIs["controller"]; ok && controllerPrefix != "" {
		prefix := controllerPrefix
		if !strings.HasSuffix(prefix, "/") {
			prefix += "/"
		}
		return prefix + "v2/"
	}
	return ""
}

// VersionAtLeast reports whether version >= min. Unknown versions pass
// so discovery failures never block a migration outright.
func VersionAtLeast(version, min string) bool {
	if version == "" || min == "" {
		return true
	}
	v, err := goversion.NewVersion(version)
	if err != nil {
		return true
	}
	m, err := goversion.NewVersion(min)
	if err != nil {
		return true
	}
	return v.GreaterThanOrEqual(m)
}

// PingPaths returns the ping endpoint paths to try. The gateway path
// comes first, then the non-gateway fallback (AAP 2.4 RPM installs).
func PingPaths() []string {
	return []string{"/api/controller/v2/ping/", "/api/v2/ping/"}
}

// PingWithVersion calls the ping endpoint using an authenticated client
// and parses the version from the response. If the response can't be
// parsed but HTTP succeeded, returns an empty PingResponse
// (connectivity OK, version unknown).
func (c *Client) PingWithVersion(ctx context.Context, apiPath string) (*PingResponse, error) {
	body, err := c.Get(ctx, apiPath, nil)
	if err != nil {
		return nil, err
	}
	resp, err := ParsePingResponse(body)
	if err != nil {
		// HTTP succeeded but couldn't parse version — not fatal
		return &PingResponse{}, nil
	}
	return resp, nil
}

// DiscoverAndStore probes /api/ on a controller connection, detects the
// API prefix and version, and records them on the connection. All
// discovery is best-effort: failures are logged but not returned.
func DiscoverAndStore(ctx context.Context, client *Client, conn *models.Connection, store *models.ConnectionStore) {
	body, err := client.Get(ctx, "/api/", nil)
	if err != nil {
		log.Printf("  DISCOVERY: %s: /api/ failed: %v", conn.Name, err)
		return
	}

	root, err := ParseAPIRoot(body)
	if err != nil {
		log.Printf("  DISCOVERY: %s: parse /api/ failed: %v", conn.Name, err)
		return
	}

	prefix := DetectAPIPrefix(root)
	if prefix == "" {
		log.Printf("  DISCOVERY: %s: could not detect API prefix", conn.Name)
		return
	}

	version := ""
	for _, p := range PingPaths() {
		if ping, err := client.PingWithVersion(ctx, p); err == nil {
			version = ping.Version
			break
		}
	}

	store.SetVersion(conn.ID, version, prefix)
	// Update local conn so callers see it immediately
	conn.Version = version
	conn.APIPrefix = prefix
	log.Printf("  DISCOVERY: %s: detected API prefix %s (version %q)", conn.Name, prefix, version)
}
