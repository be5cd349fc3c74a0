package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// apiPaths maps creation-record kinds to controller API collections.
// Rollback uses the same table to delete what a deploy created.
var apiPaths = map[string]string{
	"organization":          "organizations/",
	"inventory":             "inventories/",
	"host":                  "hosts/",
	"group":                 "groups/",
	"project":               "projects/",
	"execution_environment": "execution_environments/",
	"job_template":          "job_templates/",
}

// minEEVersion is the oldest controller that supports execution
// environments.
const minEEVersion = "4.0"

// Controller wraps the client with the typed operations a migration
// deploy needs.
type Controller struct {
	client    *Client
	apiPrefix string // e.g. "/api/controller/v2/"
	version   string
}

// NewController creates a Controller. apiPrefix normally comes from
// discovery; "" falls back to the gateway default.
func NewController(client *Client, apiPrefix, version string) *Controller {
	if apiPrefix == "" {
		apiPrefix = "/api/controller/v2/"
	}
	if !strings.HasSuffix(apiPrefix, "/") {
		apiPrefix += "/"
	}
	return &Controller{client: client, apiPrefix: apiPrefix, version: version}
}

// Ping tests connectivity.
func (c *Controller) Ping(ctx context.Context) error {
	var lastErr error
	for _, p := range PingPaths() {
		if err := c.client.Ping(ctx, p); err == nil {
			return nil
		} else {
			lastErr = err
		}
	}
	return lastErr
}

// CheckAuth verifies credentials against the authenticated /me/ endpoint.
func (c *Controller) CheckAuth(ctx context.Context) error {
	_, err := c.client.Get(ctx, c.apiPrefix+"me/", nil)
	return err
}

// SupportsExecutionEnvironments reports whether the controller is new
// enough to register execution environments.
func (c *Controller) SupportsExecutionEnvironments() bool {
	return VersionAtLeast(c.version, minEEVersion)
}

func (c *Controller) path(kind string) (string, error) {
	p, ok := apiPaths[kind]
	if !ok {
		return "", fmt.Errorf("platform: unknown resource kind %q", kind)
	}
	return c.apiPrefix + p, nil
}

// create POSTs a payload and returns the new object's ID.
func (c *Controller) create(ctx context.Context, kind string, payload any) (int, error) {
	p, err := c.path(kind)
	if err != nil {
		return 0, err
	}
	body, _, err := c.client.Post(ctx, p, payload)
	if err != nil {
		return 0, fmt.Errorf("creating %s: %w", kind, err)
	}
	var res Resource
	if err := json.Unmarshal(body, &res); err != nil {
		return 0, fmt.Errorf("parsing %s response: %w", kind, err)
	}
	id := res.IntField("id")
	if id == 0 {
		return 0, fmt.Errorf("creating %s: response carried no id", kind)
	}
	return id, nil
}

// Delete removes an object by kind and ID. Deleting an object that is
// already gone succeeds, so repeated rollbacks are safe.
func (c *Controller) Delete(ctx context.Context, kind string, id int) error {
	p, err := c.path(kind)
	if err != nil {
		return err
	}
	return c.client.Delete(ctx, fmt.Sprintf("%s%d/", p, id))
}

// FindByName looks up an object by name, or nil.
func (c *Controller) FindByName(ctx context.Context, kind, name string) (Resource, error) {
	p, err := c.path(kind)
	if err != nil {
		return nil, err
	}
	return c.client.FindByName(ctx, p, name)
}

// CreateInventory creates an inventory under an organization.
func (c *Controller) CreateInventory(ctx context.Context, name string, orgID int, description string) (int, error) {
	return c.create(ctx, "inventory", map[string]any{
		"name":         name,
		"organization": orgID,
		"description":  description,
	})
}

// CreateHost adds a host to an inventory with its variables as YAML/JSON.
func (c *Controller) CreateHost(ctx context.Context, inventoryID int, name string, variables map[string]any) (int, error) {
	payload := map[string]any{
		"name":      name,
		"inventory": inventoryID,
	}
	if len(variables) > 0 {
		data, err := json.Marshal(variables)
		if err != nil {
			return 0, fmt.Errorf("encoding host variables: %w", err)
		}
		payload["variables"] = string(data)
	}
	return c.create(ctx, "host", payload)
}

// CreateGroup adds a group to an inventory.
func (c *Controller) CreateGroup(ctx context.Context, inventoryID int, name string) (int, error) {
	return c.create(ctx, "group", map[string]any{
		"name":      name,
		"inventory": inventoryID,
	})
}

// AddHostToGroup associates an existing host with a group.
func (c *Controller) AddHostToGroup(ctx context.Context, groupID, hostID int) error {
	p, err := c.path("group")
	if err != nil {
		return err
	}
	_, _, err = c.client.Post(ctx, fmt.Sprintf("%s%d/hosts/", p, groupID), map[string]any{"id": hostID})
	if err != nil {
		return fmt.Errorf("adding host %d to group %d: %w", hostID, groupID, err)
	}
	return nil
}

// CreateProject registers the repository holding the converted playbooks.
func (c *Controller) CreateProject(ctx context.Context, name string, orgID int, scmType, scmURL, scmBranch string) (int, error) {
	payload := map[string]any{
		"name":         name,
		"organization": orgID,
		"scm_type":     scmType,
		"scm_url":      scmURL,
	}
	if scmBranch != "" {
		payload["scm_branch"] = scmBranch
	}
	return c.create(ctx, "project", payload)
}

// CreateExecutionEnvironment registers a container image to run the
// converted playbooks in.
func (c *Controller) CreateExecutionEnvironment(ctx context.Context, name, image string, orgID int) (int, error) {
	if !c.SupportsExecutionEnvironments() {
		return 0, fmt.Errorf("platform: controller %s does not support execution environments (need >= %s)", c.version, minEEVersion)
	}
	return c.create(ctx, "execution_environment", map[string]any{
		"name":         name,
		"image":        image,
		"organization": orgID,
	})
}

// CreateJobTemplate wires a playbook to an inventory and project.
func (c *Controller) CreateJobTemplate(ctx context.Context, name string, inventoryID, projectID int, playbook string, eeID int) (int, error) {
	payload := map[string]any{
		"name":      name,
		"job_type":  "run",
		"inventory": inventoryID,
		"project":   projectID,
		"playbook":  playbook,
	}
	if eeID != 0 {
		payload["execution_environment"] = eeID
	}
	return c.create(ctx, "job_template", payload)
}

// DefaultOrganization returns the ID of the Default organization, or
// the first one listed when no organization is named Default.
func (c *Controller) DefaultOrganization(ctx context.Context) (int, error) {
	res, err := c.FindByName(ctx, "organization", "Default")
	if err != nil {
		return 0, err
	}
	if res != nil {
		return res.IntField("id"), nil
	}
	p, err := c.path("organization")
	if err != nil {
		return 0, err
	}
	all, err := c.client.GetAll(ctx, p)
	if err != nil {
		return 0, err
	}
	if len(all) == 0 {
		return 0, fmt.Errorf("platform: controller has no organizations")
	}
	return all[0].IntField("id"), nil
}
