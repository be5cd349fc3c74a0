// Package chefserver reads cookbooks, nodes and roles from a Chef Infra
// Server (or a knife-serve compatible proxy). It is the source side of
// a migration: everything here is read-only.
package chefserver

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/hashicorp/go-retryablehttp"
	goversion "github.com/hashicorp/go-version"

	"github.com/rflorenc/chef-migration-workbench/internal/models"
)

// Node is a Chef node object as returned by search. The four attribute
// maps feed the precedence resolver; automatic wins over everything.
type Node struct {
	Name        string         `json:"name"`
	Environment string         `json:"chef_environment"`
	RunList     []string       `json:"run_list"`
	Automatic   map[string]any `json:"automatic"`
	Normal      map[string]any `json:"normal"`
	Default     map[string]any `json:"default"`
	Override    map[string]any `json:"override"`
}

// Role is a Chef role; its run list expands into the node's.
type Role struct {
	Name    string   `json:"name"`
	RunList []string `json:"run_list"`
}

// CookbookFile is one downloadable file inside a cookbook version.
type CookbookFile struct {
	Name string `json:"name"`
	Path string `json:"path"`
	URL  string `json:"url"`
}

// Cookbook is one cookbook version with the file lists the converter
// needs and the declared dependency constraints.
type Cookbook struct {
	Name       string         `json:"cookbook_name"`
	Version    string         `json:"version"`
	Recipes    []CookbookFile `json:"recipes"`
	Attributes []CookbookFile `json:"attributes"`
	Templates  []CookbookFile `json:"templates"`
	Metadata   struct {
		Dependencies map[string]string `json:"dependencies"`
	} `json:"metadata"`
}

// Client talks to one Chef server organization. Transient failures are
// retried with backoff.
type Client struct {
	baseURL    string
	org        string
	userID     string
	httpClient *http.Client
}

// NewClient creates a Client from a chef-server connection. The
// connection's Username is the Chef client/user ID.
func NewClient(conn *models.Connection, org string, retries int) *Client {
	transport := &http.Transport{}
	if conn.Insecure {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	rc := retryablehttp.NewClient()
	rc.RetryMax = retries
	rc.Logger = nil
	rc.HTTPClient = &http.Client{Transport: transport}

	return &Client{
		baseURL:    conn.BaseURL(),
		org:        org,
		userID:     conn.Username,
		httpClient: rc.StandardClient(),
	}
}

func (c *Client) orgPath(path string) string {
	return fmt.Sprintf("/organizations/%s%s", c.org, path)
}

func (c *Client) get(ctx context.Context, path string, params url.Values, dest any) error {
	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Ops-Userid", c.userID)
	req.Header.Set("X-Chef-Version", "18.0.0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("GET %s: HTTP %d", path, resp.StatusCode)
	}
	if dest == nil {
		return nil
	}
	return json.Unmarshal(body, dest)
}

// Ping checks reachability via the unauthenticated license endpoint.
func (c *Client) Ping(ctx context.Context) error {
	return c.get(ctx, "/license", nil, nil)
}

// searchResponse is the Chef search envelope.
type searchResponse struct {
	Total int               `json:"total"`
	Start int               `json:"start"`
	Rows  []json.RawMessage `json:"rows"`
}

// SearchNodes runs a node search, e.g. "role:web" or "*:*", following
// the server's start/rows paging.
func (c *Client) SearchNodes(ctx context.Context, query string) ([]Node, error) {
	var nodes []Node
	start := 0
	for {
		params := url.Values{
			"q":     {query},
			"start": {fmt.Sprintf("%d", start)},
			"rows":  {"100"},
		}
		var page searchResponse
		if err := c.get(ctx, c.orgPath("/search/node"), params, &page); err != nil {
			return nil, fmt.Errorf("chefserver: search nodes: %w", err)
		}
		for _, raw := range page.Rows {
			var n Node
			if err := json.Unmarshal(raw, &n); err != nil {
				return nil, fmt.Errorf("chefserver: parse node: %w", err)
			}
			nodes = append(nodes, n)
		}
		start += len(page.Rows)
		if start >= page.Total || len(page.Rows) == 0 {
			break
		}
	}
	return nodes, nil
}

// GetNode fetches one node by name.
func (c *Client) GetNode(ctx context.Context, name string) (*Node, error) {
	var n Node
	if err := c.get(ctx, c.orgPath("/nodes/"+name), nil, &n); err != nil {
		return nil, fmt.Errorf("chefserver: get node %s: %w", name, err)
	}
	if n.Name == "" {
		n.Name = name
	}
	return &n, nil
}

// GetRole fetches one role by name.
func (c *Client) GetRole(ctx context.Context, name string) (*Role, error) {
	var r Role
	if err := c.get(ctx, c.orgPath("/roles/"+name), nil, &r); err != nil {
		return nil, fmt.Errorf("chefserver: get role %s: %w", name, err)
	}
	return &r, nil
}

// cookbookListEntry is one cookbook in the /cookbooks listing.
type cookbookListEntry struct {
	URL      string `json:"url"`
	Versions []struct {
		URL     string `json:"url"`
		Version string `json:"version"`
	} `json:"versions"`
}

// ListCookbookVersions returns the available versions per cookbook,
// newest first.
func (c *Client) ListCookbookVersions(ctx context.Context) (map[string][]string, error) {
	var listing map[string]cookbookListEntry
	params := url.Values{"num_versions": {"all"}}
	if err := c.get(ctx, c.orgPath("/cookbooks"), params, &listing); err != nil {
		return nil, fmt.Errorf("chefserver: list cookbooks: %w", err)
	}
	out := make(map[string][]string, len(listing))
	for name, entry := range listing {
		versions := make([]string, 0, len(entry.Versions))
		for _, v := range entry.Versions {
			versions = append(versions, v.Version)
		}
		sortVersionsDesc(versions)
		out[name] = versions
	}
	return out, nil
}

// GetCookbook fetches one cookbook version; "_latest" resolves to the
// newest.
func (c *Client) GetCookbook(ctx context.Context, name, ver string) (*Cookbook, error) {
	if ver == "" {
		ver = "_latest"
	}
	var cb Cookbook
	if err := c.get(ctx, c.orgPath(fmt.Sprintf("/cookbooks/%s/%s", name, ver)), nil, &cb); err != nil {
		return nil, fmt.Errorf("chefserver: get cookbook %s %s: %w", name, ver, err)
	}
	if cb.Name == "" {
		cb.Name = name
	}
	return &cb, nil
}

// DownloadFile fetches a cookbook file by its signed URL.
func (c *Client) DownloadFile(ctx context.Context, fileURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", fileURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("chefserver: download: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("chefserver: download: HTTP %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// SatisfiesConstraint reports whether a cookbook version satisfies a
// metadata constraint like ">= 2.0" or "~> 1.2". An empty or
// unparsable constraint always passes.
func SatisfiesConstraint(ver, constraint string) bool {
	if constraint == "" {
		return true
	}
	v, err := goversion.NewVersion(ver)
	if err != nil {
		return true
	}
	// Chef's pessimistic operator matches go-version's.
	cs, err := goversion.NewConstraint(constraint)
	if err != nil {
		return true
	}
	return cs.Check(v)
}

// ParseRunListItem splits "recipe[nginx::default]" or "role[web]" into
// its kind and name. Bare names count as recipes.
func ParseRunListItem(item string) (kind, name string) {
	open := strings.IndexByte(item, '[')
	if open < 0 || !strings.HasSuffix(item, "]") {
		return "recipe", item
	}
	return item[:open], item[open+1 : len(item)-1]
}

func sortVersionsDesc(versions []string) {
	sort.Slice(versions, func(i, j int) bool {
		vi, erri := goversion.NewVersion(versions[i])
		vj, errj := goversion.NewVersion(versions[j])
		if erri != nil || errj != nil {
			return versions[i] > versions[j]
		}
		return vi.GreaterThan(vj)
	})
}
