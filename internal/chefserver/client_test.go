package chefserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rflorenc/chef-migration-workbench/internal/models"
)

func newTestClient(ts *httptest.Server) *Client {
	return &Client{
		baseURL:    ts.URL,
		org:        "acme",
		userID:     "workbench",
		httpClient: ts.Client(),
	}
}

func TestSearchNodesPaging(t *testing.T) {
	calls := 0
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/organizations/acme/search/node" {
			t.Errorf("path = %s", r.URL.Path)
		}
		calls++
		var resp map[string]any
		if r.URL.Query().Get("start") == "0" {
			resp = map[string]any{
				"total": 3,
				"start": 0,
				"rows": []any{
					map[string]any{"name": "web01", "chef_environment": "prod", "run_list": []string{"recipe[nginx]"}},
					map[string]any{"name": "web02", "chef_environment": "prod"},
				},
			}
		} else {
			resp = map[string]any{
				"total": 3,
				"start": 2,
				"rows": []any{
					map[string]any{"name": "db01", "automatic": map[string]any{"platform": "ubuntu"}},
				},
			}
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer ts.Close()

	nodes, err := newTestClient(ts).SearchNodes(context.Background(), "*:*")
	if err != nil {
		t.Fatalf("SearchNodes: %v", err)
	}
	if calls != 2 {
		t.Errorf("server saw %d calls, want 2", calls)
	}
	if len(nodes) != 3 || nodes[0].Name != "web01" || nodes[2].Name != "db01" {
		t.Fatalf("nodes = %+v", nodes)
	}
	if nodes[0].RunList[0] != "recipe[nginx]" {
		t.Errorf("run_list = %v", nodes[0].RunList)
	}
	if nodes[2].Automatic["platform"] != "ubuntu" {
		t.Errorf("automatic = %v", nodes[2].Automatic)
	}
}

func TestGetCookbook(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/organizations/acme/cookbooks/nginx/_latest" {
			t.Errorf("path = %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"cookbook_name": "nginx",
			"version":       "2.7.6",
			"recipes": []any{
				map[string]any{"name": "default.rb", "path": "recipes/default.rb", "url": "https://files/abc"},
			},
			"metadata": map[string]any{
				"dependencies": map[string]any{"apt": ">= 2.0"},
			},
		})
	}))
	defer ts.Close()

	cb, err := newTestClient(ts).GetCookbook(context.Background(), "nginx", "")
	if err != nil {
		t.Fatalf("GetCookbook: %v", err)
	}
	if cb.Version != "2.7.6" || len(cb.Recipes) != 1 {
		t.Fatalf("cookbook = %+v", cb)
	}
	if cb.Metadata.Dependencies["apt"] != ">= 2.0" {
		t.Errorf("dependencies = %v", cb.Metadata.Dependencies)
	}
}

func TestListCookbookVersionsSorted(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"nginx": map[string]any{
				"url": "https://chef/cookbooks/nginx",
				"versions": []any{
					map[string]any{"version": "1.9.0"},
					map[string]any{"version": "2.10.1"},
					map[string]any{"version": "2.2.0"},
				},
			},
		})
	}))
	defer ts.Close()

	versions, err := newTestClient(ts).ListCookbookVersions(context.Background())
	if err != nil {
		t.Fatalf("ListCookbookVersions: %v", err)
	}
	got := versions["nginx"]
	want := []string{"2.10.1", "2.2.0", "1.9.0"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("versions = %v, want %v", got, want)
		}
	}
}

func TestGetErrorStatus(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer ts.Close()

	_, err := newTestClient(ts).GetNode(context.Background(), "web01")
	if err == nil {
		t.Fatal("GetNode should surface HTTP 403")
	}
}

func TestSatisfiesConstraint(t *testing.T) {
	tests := []struct {
		ver, constraint string
		want            bool
	}{
		{"2.7.6", ">= 2.0", true},
		{"1.9.0", ">= 2.0", false},
		{"1.2.5", "~> 1.2", true},
		{"1.3.0", "~> 1.2.0", false},
		{"2.7.6", "", true},
		{"weird", ">= 2.0", true}, // unparsable versions pass
	}
	for _, tc := range tests {
		if got := SatisfiesConstraint(tc.ver, tc.constraint); got != tc.want {
			t.Errorf("SatisfiesConstraint(%q, %q) = %v, want %v", tc.ver, tc.constraint, got, tc.want)
		}
	}
}

func TestParseRunListItem(t *testing.T) {
	tests := []struct {
		item, kind, name string
	}{
		{"recipe[nginx::default]", "recipe", "nginx::default"},
		{"role[web]", "role", "web"},
		{"nginx", "recipe", "nginx"},
	}
	for _, tc := range tests {
		kind, name := ParseRunListItem(tc.item)
		if kind != tc.kind || name != tc.name {
			t.Errorf("ParseRunListItem(%q) = (%q, %q), want (%q, %q)", tc.item, kind, name, tc.kind, tc.name)
		}
	}
}

func TestNewClientBaseURL(t *testing.T) {
	conn := &models.Connection{Scheme: "https", Host: "chef.lab.local", Port: 443, Username: "workbench"}
	c := NewClient(conn, "acme", 2)
	if c.baseURL != "https://chef.lab.local:443" || c.org != "acme" {
		t.Errorf("client = %+v", c)
	}
}
