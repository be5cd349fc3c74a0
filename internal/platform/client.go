// Package platform talks to the Ansible Automation Platform controller
// API: creating the inventories, projects and job templates a migration
// deploys, and deleting them again on rollback.
package platform

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/rflorenc/chef-migration-workbench/internal/models"
)

// ErrAlreadyGone reports a DELETE against an identifier the controller
// no longer knows. Callers treat it as success, usually recording a
// warning.
var ErrAlreadyGone = errors.New("platform: object already deleted")

// Resource is a generic controller API object.
type Resource map[string]any

// IntField returns a numeric field as int. Controller APIs encode IDs
// as JSON numbers, which decode to float64.
func (r Resource) IntField(key string) int {
	if v, ok := r[key].(float64); ok {
		return int(v)
	}
	return 0
}

// StringField returns a string field, or "".
func (r Resource) StringField(key string) string {
	if v, ok := r[key].(string); ok {
		return v
	}
	return ""
}

// Client is an authenticated controller API client. Transient failures
// (connection errors, 5xx) are retried with backoff; request bodies are
// rewound between attempts by retryablehttp.
type Client struct {
	baseURL    string
	username   string
	password   string
	httpClient *http.Client
}

// NewClient creates a Client from a Connection. retries bounds the
// retry attempts per request.
func NewClient(conn *models.Connection, retries int) *Client {
	transport := &http.Transport{}
	if conn.Insecure {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	} else if conn.CACert != "" {
		caCertPool := x509.NewCertPool()
		if caCertPool.AppendCertsFromPEM([]byte(conn.CACert)) {
			transport.TLSClientConfig = &tls.Config{RootCAs: caCertPool}
		}
	}

	rc := retryablehttp.NewClient()
	rc.RetryMax = retries
	rc.Logger = nil
	rc.HTTPClient = &http.Client{
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			// Re-apply basic auth on redirects
			if len(via) > 0 {
				req.SetBasicAuth(conn.Username, conn.Password)
			}
			return nil
		},
	}

	return &Client{
		baseURL:    conn.BaseURL(),
		username:   conn.Username,
		password:   conn.Password,
		httpClient: rc.StandardClient(),
	}
}

// paginatedResponse is the standard controller paginated envelope.
type paginatedResponse struct {
	Count   int               `json:"count"`
	Next    *string           `json:"next"`
	Results []json.RawMessage `json:"results"`
}

func (c *Client) newRequest(ctx context.Context, method, u string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.SetBasicAuth(c.username, c.password)
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

// Get performs an authenticated GET request and returns the response body.
func (c *Client) Get(ctx context.Context, path string, params url.Values) ([]byte, error) {
	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	req, err := c.newRequest(ctx, "GET", u, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return body, fmt.Errorf("GET %s: HTTP %d: %s", path, resp.StatusCode, truncate(string(body), 200))
	}
	return body, nil
}

// GetJSON performs an authenticated GET and unmarshals the response into dest.
func (c *Client) GetJSON(ctx context.Context, path string, params url.Values, dest any) error {
	body, err := c.Get(ctx, path, params)
	if err != nil {
		return err
	}
	return json.Unmarshal(body, dest)
}

// GetAll fetches all pages of a paginated endpoint.
func (c *Client) GetAll(ctx context.Context, path string) ([]Resource, error) {
	var all []Resource
	currentURL := c.baseURL + path

	for currentURL != "" {
		req, err := c.newRequest(ctx, "GET", currentURL, nil)
		if err != nil {
			return nil, err
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("GET %s: %w", currentURL, err)
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("reading response: %w", err)
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, fmt.Errorf("GET %s: HTTP %d: %s", currentURL, resp.StatusCode, truncate(string(body), 200))
		}

		var page paginatedResponse
		if err := json.Unmarshal(body, &page); err != nil {
			return nil, fmt.Errorf("parsing response: %w", err)
		}

		for _, raw := range page.Results {
			var res Resource
			if err := json.Unmarshal(raw, &res); err != nil {
				return nil, fmt.Errorf("parsing resource: %w", err)
			}
			all = append(all, res)
		}

		if page.Next != nil && *page.Next != "" {
			currentURL = *page.Next
			// If relative URL, make absolute
			if len(currentURL) > 0 && currentURL[0] == '/' {
				currentURL = c.baseURL + currentURL
			}
		} else {
			currentURL = ""
		}
	}
	return all, nil
}

// Post performs an authenticated POST request with a JSON body.
func (c *Client) Post(ctx context.Context, path string, payload any) ([]byte, int, error) {
	var bodyReader io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, 0, fmt.Errorf("marshaling body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := c.newRequest(ctx, "POST", c.baseURL+path, bodyReader)
	if err != nil {
		return nil, 0, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("POST %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return body, resp.StatusCode, fmt.Errorf("POST %s: HTTP %d: %s", path, resp.StatusCode, truncate(string(body), 200))
	}
	return body, resp.StatusCode, nil
}

// Patch performs an authenticated PATCH request.
func (c *Client) Patch(ctx context.Context, path string, payload any) ([]byte, int, error) {
	var bodyReader io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, 0, fmt.Errorf("marshaling body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := c.newRequest(ctx, "PATCH", c.baseURL+path, bodyReader)
	if err != nil {
		return nil, 0, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("PATCH %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return body, resp.StatusCode, fmt.Errorf("PATCH %s: HTTP %d: %s", path, resp.StatusCode, truncate(string(body), 200))
	}
	return body, resp.StatusCode, nil
}

// Delete performs an authenticated DELETE request. A 404 is treated as
// success so rollback stays idempotent.
func (c *Client) Delete(ctx context.Context, path string) error {
	req, err := c.newRequest(ctx, "DELETE", c.baseURL+path, nil)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("DELETE %s: %w", path, err)
	}
	defer resp.Body.Close()
	io.ReadAll(resp.Body)

	switch {
	case resp.StatusCode == 204, resp.StatusCode == 202:
		return nil
	case resp.StatusCode == 404:
		return ErrAlreadyGone
	default:
		return fmt.Errorf("DELETE %s: HTTP %d", path, resp.StatusCode)
	}
}

// FindByName searches for a resource by name at the given API path.
// Returns nil, nil when nothing matches.
func (c *Client) FindByName(ctx context.Context, path, name string) (Resource, error) {
	params := url.Values{"name": {name}}
	body, err := c.Get(ctx, path, params)
	if err != nil {
		return nil, err
	}
	var page paginatedResponse
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, fmt.Errorf("parsing response: %w", err)
	}
	if len(page.Results) == 0 {
		return nil, nil
	}
	var res Resource
	if err := json.Unmarshal(page.Results[0], &res); err != nil {
		return nil, fmt.Errorf("parsing resource: %w", err)
	}
	return res, nil
}

// Ping checks connectivity by hitting the API root.
func (c *Client) Ping(ctx context.Context, apiPath string) error {
	_, err := c.Get(ctx, apiPath, nil)
	return err
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
