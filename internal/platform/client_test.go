package platform

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/rflorenc/chef-migration-workbench/internal/models"
)

func newTestClient(ts *httptest.Server) *Client {
	return &Client{
		baseURL:    ts.URL,
		username:   "admin",
		password:   "secret",
		httpClient: ts.Client(),
	}
}

func TestClient_Get_Success(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"ok"}`))
	}))
	defer ts.Close()

	c := newTestClient(ts)
	body, err := c.Get(context.Background(), "/api/controller/v2/ping/", nil)
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if string(body) != `{"status":"ok"}` {
		t.Errorf("body = %q, want {\"status\":\"ok\"}", string(body))
	}
}

func TestClient_Get_AuthHeader(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "admin" || pass != "secret" {
			t.Errorf("BasicAuth = (%q, %q, %v), want (admin, secret, true)", user, pass, ok)
		}
		w.Write([]byte("{}"))
	}))
	defer ts.Close()

	c := newTestClient(ts)
	_, err := c.Get(context.Background(), "/test", nil)
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
}

func TestClient_Get_ErrorStatus(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"detail":"Invalid username/password."}`))
	}))
	defer ts.Close()

	c := newTestClient(ts)
	_, err := c.Get(context.Background(), "/api/controller/v2/me/", nil)
	if err == nil {
		t.Fatal("Get should return error for 401")
	}
}

func TestClient_GetAll_Pagination(t *testing.T) {
	page := 0
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		page++
		var resp map[string]interface{}
		if page == 1 {
			resp = map[string]interface{}{
				"count":   3,
				"next":    "/api/controller/v2/inventories/?page=2",
				"results": []interface{}{map[string]interface{}{"id": 1, "name": "Inv1"}},
			}
		} else {
			resp = map[string]interface{}{
				"count":   3,
				"next":    nil,
				"results": []interface{}{map[string]interface{}{"id": 2, "name": "Inv2"}, map[string]interface{}{"id": 3, "name": "Inv3"}},
			}
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer ts.Close()

	c := newTestClient(ts)
	results, err := c.GetAll(context.Background(), "/api/controller/v2/inventories/")
	if err != nil {
		t.Fatalf("GetAll returned error: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("GetAll returned %d results, want 3", len(results))
	}
	if results[0].StringField("name") != "Inv1" {
		t.Errorf("results[0].name = %v, want Inv1", results[0]["name"])
	}
}

func TestClient_Post(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "POST" {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("Content-Type = %s, want application/json", r.Header.Get("Content-Type"))
		}
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id":1}`))
	}))
	defer ts.Close()

	c := newTestClient(ts)
	body, status, err := c.Post(context.Background(), "/api/controller/v2/inventories/", map[string]string{"name": "Test"})
	if err != nil {
		t.Fatalf("Post returned error: %v", err)
	}
	if status != 201 {
		t.Errorf("status = %d, want 201", status)
	}
	if string(body) != `{"id":1}` {
		t.Errorf("body = %q", string(body))
	}
}

func TestClient_Delete(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "DELETE" {
			t.Errorf("method = %s, want DELETE", r.Method)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer ts.Close()

	c := newTestClient(ts)
	err := c.Delete(context.Background(), "/api/controller/v2/inventories/1/")
	if err != nil {
		t.Fatalf("Delete returned error: %v", err)
	}
}

func TestClient_Delete_NotFound(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer ts.Close()

	c := newTestClient(ts)
	err := c.Delete(context.Background(), "/api/controller/v2/inventories/999/")
	if !errors.Is(err, ErrAlreadyGone) {
		t.Fatalf("Delete(404) should report ErrAlreadyGone, got: %v", err)
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		maxLen int
		expect string
	}{
		{"short", "hello", 10, "hello"},
		{"exact", "hello", 5, "hello"},
		{"long", "hello world", 5, "hello..."},
		{"empty", "", 5, ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := truncate(tc.input, tc.maxLen)
			if got != tc.expect {
				t.Errorf("truncate(%q, %d) = %q, want %q", tc.input, tc.maxLen, got, tc.expect)
			}
		})
	}
}

func TestNewClient(t *testing.T) {
	conn := &models.Connection{
		Scheme:   "https",
		Host:     "example.com",
		Port:     443,
		Username: "user",
		Password: "pass",
		Insecure: true,
	}
	c := NewClient(conn, 3)
	if c.baseURL != "https://example.com:443" {
		t.Errorf("baseURL = %q, want https://example.com:443", c.baseURL)
	}
	if c.username != "user" || c.password != "pass" {
		t.Error("credentials not set correctly")
	}
}

func TestClientRetriesTransientErrors(t *testing.T) {
	attempts := 0
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"status":"ok"}`))
	}))
	defer ts.Close()

	rc := retryablehttp.NewClient()
	rc.RetryMax = 3
	rc.RetryWaitMin = time.Millisecond
	rc.RetryWaitMax = 5 * time.Millisecond
	rc.Logger = nil
	c := &Client{baseURL: ts.URL, httpClient: rc.StandardClient()}

	if _, err := c.Get(context.Background(), "/api/", nil); err != nil {
		t.Fatalf("Get should succeed after retries: %v", err)
	}
	if attempts != 3 {
		t.Errorf("server saw %d attempts, want 3", attempts)
	}
}

func TestControllerCreateAndDelete(t *testing.T) {
	var deleted []string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case "POST":
			w.WriteHeader(http.StatusCreated)
			w.Write([]byte(`{"id":42,"name":"chef-migrated"}`))
		case "DELETE":
			deleted = append(deleted, r.URL.Path)
			w.WriteHeader(http.StatusNoContent)
		}
	}))
	defer ts.Close()

	ctrl := NewController(newTestClient(ts), "/api/controller/v2/", "4.5.0")
	id, err := ctrl.CreateInventory(context.Background(), "chef-migrated", 1, "")
	if err != nil {
		t.Fatalf("CreateInventory: %v", err)
	}
	if id != 42 {
		t.Errorf("id = %d, want 42", id)
	}
	if err := ctrl.Delete(context.Background(), "inventory", 42); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if len(deleted) != 1 || deleted[0] != "/api/controller/v2/inventories/42/" {
		t.Errorf("deleted = %v", deleted)
	}
}

func TestControllerUnknownKind(t *testing.T) {
	ctrl := NewController(&Client{}, "", "")
	if err := ctrl.Delete(context.Background(), "mystery", 1); err == nil {
		t.Fatal("Delete(unknown kind) should error")
	}
}

func TestSupportsExecutionEnvironments(t *testing.T) {
	tests := []struct {
		version string
		want    bool
	}{
		{"4.5.0", true},
		{"4.0", true},
		{"3.8.2", false},
		{"", true}, // unknown versions pass
	}
	for _, tc := range tests {
		ctrl := NewController(&Client{}, "", tc.version)
		if got := ctrl.SupportsExecutionEnvironments(); got != tc.want {
			t.Errorf("version %q: got %v, want %v", tc.version, got, tc.want)
		}
	}
}
