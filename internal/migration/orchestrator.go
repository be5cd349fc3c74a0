// Package migration drives a Chef-to-Ansible migration end to end:
// load and parse the cookbooks, build the dependency graph, emit
// playbooks, validate them, deploy the results to the controller, and
// roll a deployment back on request. Progress is persisted at every
// phase boundary so a crash never loses the run's record.
package migration

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/hashicorp/go-multierror"

	"github.com/rflorenc/chef-migration-workbench/internal/ansible"
	"github.com/rflorenc/chef-migration-workbench/internal/ir"
	"github.com/rflorenc/chef-migration-workbench/internal/models"
	"github.com/rflorenc/chef-migration-workbench/internal/platform"
	"github.com/rflorenc/chef-migration-workbench/internal/statestore"
)

// Deployer creates and deletes objects on a controller. Implemented by
// *platform.Controller.
type Deployer interface {
	DefaultOrganization(ctx context.Context) (int, error)
	CreateInventory(ctx context.Context, name string, orgID int, description string) (int, error)
	CreateGroup(ctx context.Context, inventoryID int, name string) (int, error)
	CreateHost(ctx context.Context, inventoryID int, name string, variables map[string]any) (int, error)
	AddHostToGroup(ctx context.Context, groupID, hostID int) error
	CreateProject(ctx context.Context, name string, orgID int, scmType, scmURL, scmBranch string) (int, error)
	CreateExecutionEnvironment(ctx context.Context, name, image string, orgID int) (int, error)
	CreateJobTemplate(ctx context.Context, name string, inventoryID, projectID int, playbook string, eeID int) (int, error)
	Delete(ctx context.Context, kind string, id int) error
}

// Options tune a migration run.
type Options struct {
	// Deploy pushes the converted inventory and templates to the
	// controller after validation.
	Deploy bool
	// ContinueOnPartial lets a PARTIAL_SUCCESS conversion proceed to
	// validation instead of halting for review.
	ContinueOnPartial bool
	// StrictLint turns lint findings into a failed validation.
	StrictLint bool
	// ProjectURL is the git repository the playbooks land in; deploy
	// skips job templates without one.
	ProjectURL    string
	ProjectBranch string
	// EEImage optionally registers an execution environment image.
	EEImage string
}

// Orchestrator runs migrations and rollbacks.
type Orchestrator struct {
	source    Source
	deployer  Deployer
	store     statestore.Store
	linter    Linter
	artifacts ArtifactWriter
	opts      Options
	logger    func(string)
}

// New creates an Orchestrator. deployer may be nil when deployment is
// disabled; linter and artifacts fall back to built-in defaults.
func New(source Source, deployer Deployer, store statestore.Store, opts Options, logger func(string)) *Orchestrator {
	if logger == nil {
		logger = func(string) {}
	}
	return &Orchestrator{
		source:    source,
		deployer:  deployer,
		store:     store,
		linter:    PlaybookLinter{},
		artifacts: discardWriter{},
		opts:      opts,
		logger:    logger,
	}
}

// SetLinter overrides the built-in playbook linter.
func (o *Orchestrator) SetLinter(l Linter) { o.linter = l }

// SetArtifactWriter directs rendered playbooks to a writer.
func (o *Orchestrator) SetArtifactWriter(w ArtifactWriter) { o.artifacts = w }

func (o *Orchestrator) save(ctx context.Context, r *models.MigrationResult) error {
	if err := o.store.Save(ctx, r); err != nil {
		return fmt.Errorf("migration: persisting result %s: %w", r.ID, err)
	}
	return nil
}

func (o *Orchestrator) logf(format string, args ...any) {
	o.logger(fmt.Sprintf(format, args...))
}

// fail records an error, moves the result to FAILED and persists it.
// The original error is returned for the caller.
func (o *Orchestrator) fail(ctx context.Context, r *models.MigrationResult, cause error) error {
	r.Errors = append(r.Errors, cause.Error())
	if models.CanTransition(r.Status, models.StatusFailed) {
		if err := r.Transition(models.StatusFailed); err != nil {
			r.Errors = append(r.Errors, err.Error())
		}
	}
	if err := o.save(ctx, r); err != nil {
		return multierror.Append(cause, err)
	}
	return cause
}

// Run executes a full migration. The returned result reflects how far
// the run got even when err is non-nil; it is always persisted.
func (o *Orchestrator) Run(ctx context.Context) (*models.MigrationResult, error) {
	o.logger("=== Loading cookbooks ===")
	units, report, err := o.source.Units(ctx)
	if err != nil {
		return nil, fmt.Errorf("migration: loading cookbooks: %w", err)
	}
	hosts, err := o.source.Hosts(ctx)
	if err != nil {
		return nil, fmt.Errorf("migration: loading hosts: %w", err)
	}

	names := make([]string, len(units))
	for i, u := range units {
		names[i] = u.Name
	}
	result := models.NewMigrationResult(names)
	result.Warnings = append(result.Warnings, report.Warnings...)
	o.logf("Loaded %d cookbooks, %d hosts", len(units), len(hosts))
	if err := o.save(ctx, result); err != nil {
		return result, err
	}

	if err := result.Transition(models.StatusInProgress); err != nil {
		return result, err
	}
	if err := o.save(ctx, result); err != nil {
		return result, err
	}

	// Convert.
	o.logger("")
	o.logger("=== Converting resources ===")
	graph, err := ir.Build(units, hosts)
	if err != nil {
		return result, o.fail(ctx, result, err)
	}
	emits, err := ansible.Emit(ctx, graph, units)
	if err != nil {
		return result, o.fail(ctx, result, err)
	}
	o.tally(result, units, emits, report)
	result.Playbooks = make(map[string]string, len(emits))
	for _, e := range emits {
		result.Playbooks[ansible.PlaybookFileName(e.Unit)] = string(e.YAML)
		o.logf("  CONVERTED: %s (%d tasks, %d manual)", e.Unit, len(e.Playbook.Tasks), len(e.Manual))
	}

	if result.Metrics.TotalResources > 0 && result.Metrics.Converted == 0 {
		return result, o.fail(ctx, result, fmt.Errorf("migration: no resources converted"))
	}
	partial := result.Metrics.Failed > 0 || result.Metrics.ManualReview > 0
	next := models.StatusConverted
	if partial {
		next = models.StatusPartialSuccess
	}
	if err := result.Transition(next); err != nil {
		return result, err
	}
	if err := o.save(ctx, result); err != nil {
		return result, err
	}
	o.logf("Conversion rate: %.0f%% (%d/%d)", result.Metrics.Rate()*100,
		result.Metrics.Converted, result.Metrics.TotalResources)

	if partial && !o.opts.ContinueOnPartial {
		o.logger("Partial conversion: halting for manual review")
		return result, nil
	}
	if err := ctx.Err(); err != nil {
		return result, o.fail(ctx, result, err)
	}

	// Validate.
	o.logger("")
	o.logger("=== Validating playbooks ===")
	if err := o.validate(ctx, result, units, emits); err != nil {
		return result, err
	}
	if err := o.save(ctx, result); err != nil {
		return result, err
	}

	for _, e := range emits {
		if err := o.artifacts.Write(ansible.PlaybookFileName(e.Unit), e.YAML); err != nil {
			return result, o.fail(ctx, result, err)
		}
	}

	if !o.opts.Deploy || o.deployer == nil {
		o.logger("Validation complete; deployment not requested")
		return result, nil
	}
	if err := ctx.Err(); err != nil {
		return result, o.fail(ctx, result, err)
	}

	// Deploy.
	o.logger("")
	o.logger("=== Deploying to controller ===")
	unitNames := make([]string, len(emits))
	for i, e := range emits {
		unitNames[i] = e.Unit
	}
	if err := o.deploy(ctx, result, graph, unitNames); err != nil {
		o.logger("Deploy failed: undoing created objects")
		if merr := o.deleteCreated(ctx, result); merr != nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("cleanup after failed deploy: %v", merr))
		} else {
			result.Created = nil
		}
		return result, o.fail(ctx, result, err)
	}
	if err := result.Transition(models.StatusDeployed); err != nil {
		return result, err
	}
	if err := o.save(ctx, result); err != nil {
		return result, err
	}
	o.logger("Migration deployed")
	return result, nil
}

// tally fills in the conversion metrics and manual-review items.
func (o *Orchestrator) tally(result *models.MigrationResult, units []ir.Unit, emits []*ansible.EmitResult, report *SourceReport) {
	m := &result.Metrics
	m.Failed = report.FailedResources
	m.TotalResources = report.FailedResources
	for _, u := range units {
		for _, rec := range u.Recipes {
			m.TotalResources += len(rec.Resources)
			for i := range rec.Resources {
				m.CountType(rec.Resources[i].Type)
			}
		}
	}
	for _, e := range emits {
		for _, item := range e.Manual {
			m.ManualReview++
			result.Manual = append(result.Manual, models.ManualReviewItem{
				Unit:       e.Unit,
				ResourceID: item.ResourceID,
				Reason:     item.Reason,
			})
		}
		for _, w := range e.Warnings {
			result.Warnings = append(result.Warnings, fmt.Sprintf("%s: %s", e.Unit, w))
		}
	}
	m.Converted = m.TotalResources - m.Failed - m.ManualReview
}

// validate lints every playbook and re-renders each unit to prove the
// emitter is deterministic. Findings fail the run under StrictLint and
// become warnings otherwise.
func (o *Orchestrator) validate(ctx context.Context, result *models.MigrationResult, units []ir.Unit, emits []*ansible.EmitResult) error {
	byName := make(map[string]*ir.Unit, len(units))
	for i := range units {
		byName[units[i].Name] = &units[i]
	}

	var findings []string
	for _, e := range emits {
		name := ansible.PlaybookFileName(e.Unit)
		findings = append(findings, o.linter.Lint(name, e.YAML)...)

		if u, ok := byName[e.Unit]; ok {
			again, err := ansible.EmitUnit(ctx, u)
			if err != nil {
				findings = append(findings, fmt.Sprintf("%s: re-emission failed: %v", name, err))
			} else if !bytes.Equal(again.YAML, e.YAML) {
				findings = append(findings, fmt.Sprintf("%s: re-emission is not byte-identical", name))
			}
		}
	}

	if len(findings) > 0 && o.opts.StrictLint {
		var merr *multierror.Error
		for _, f := range findings {
			merr = multierror.Append(merr, fmt.Errorf("%s", f))
		}
		return o.fail(ctx, result, fmt.Errorf("migration: validation failed: %w", merr.ErrorOrNil()))
	}
	for _, f := range findings {
		o.logf("  LINT: %s", f)
		result.Warnings = append(result.Warnings, "lint: "+f)
	}
	if models.CanTransition(result.Status, models.StatusValidated) {
		if err := result.Transition(models.StatusValidated); err != nil {
			return err
		}
	}
	o.logf("Validated %d playbooks", len(emits))
	return nil
}

// deploy pushes inventory, hosts, project and job templates to the
// controller, recording each creation for rollback. unitNames are the
// converted units in migration order; one job template per unit.
func (o *Orchestrator) deploy(ctx context.Context, result *models.MigrationResult, graph *ir.Graph, unitNames []string) error {
	orgID, err := o.deployer.DefaultOrganization(ctx)
	if err != nil {
		return fmt.Errorf("migration: resolving organization: %w", err)
	}

	shortID := result.ID
	if len(shortID) > 8 {
		shortID = shortID[:8]
	}
	baseName := "chef-migrated-" + shortID

	invID, err := o.deployer.CreateInventory(ctx, baseName, orgID, "Converted from Chef cookbooks")
	if err != nil {
		return err
	}
	result.RecordCreation("inventory", invID, baseName)
	o.logf("  CREATED: inventory %s (ID %d)", baseName, invID)

	// Groups first so host memberships can resolve in one pass.
	groupIDs := make(map[string]int)
	for _, id := range graph.NodeIDs() {
		node := graph.Node(id)
		if node.Type != ir.NodeGroup {
			continue
		}
		gid, err := o.deployer.CreateGroup(ctx, invID, node.Name)
		if err != nil {
			return err
		}
		groupIDs[node.ID] = gid
		result.RecordCreation("group", gid, node.Name)
		o.logf("  CREATED: group %s (ID %d)", node.Name, gid)
	}
	for _, id := range graph.NodeIDs() {
		if err := ctx.Err(); err != nil {
			return err
		}
		node := graph.Node(id)
		if node.Type != ir.NodeHost {
			continue
		}
		vars := make(map[string]any, len(node.Variables))
		for _, v := range node.Variables {
			vars[v.Name] = v.Value
		}
		hid, err := o.deployer.CreateHost(ctx, invID, node.Name, vars)
		if err != nil {
			return err
		}
		result.RecordCreation("host", hid, node.Name)
		o.logf("  CREATED: host %s (ID %d)", node.Name, hid)
		for _, g := range graph.MemberOf(node.ID) {
			gid, ok := groupIDs[g]
			if !ok {
				continue
			}
			if err := o.deployer.AddHostToGroup(ctx, gid, hid); err != nil {
				return err
			}
		}
	}

	projID := 0
	if o.opts.ProjectURL != "" {
		projID, err = o.deployer.CreateProject(ctx, baseName, orgID, "git", o.opts.ProjectURL, o.opts.ProjectBranch)
		if err != nil {
			return err
		}
		result.RecordCreation("project", projID, baseName)
		o.logf("  CREATED: project %s (ID %d)", baseName, projID)
	}

	eeID := 0
	if o.opts.EEImage != "" {
		eeID, err = o.deployer.CreateExecutionEnvironment(ctx, baseName, o.opts.EEImage, orgID)
		if err != nil {
			return err
		}
		result.RecordCreation("execution_environment", eeID, baseName)
		o.logf("  CREATED: execution environment %s (ID %d)", baseName, eeID)
	}

	if projID == 0 {
		result.Warnings = append(result.Warnings, "no project URL configured: job templates skipped")
		return nil
	}
	for _, unit := range unitNames {
		if err := ctx.Err(); err != nil {
			return err
		}
		jtName := "apply-" + unit
		jtID, err := o.deployer.CreateJobTemplate(ctx, jtName, invID, projID, ansible.PlaybookFileName(unit), eeID)
		if err != nil {
			return err
		}
		result.RecordCreation("job_template", jtID, jtName)
		o.logf("  CREATED: job template %s (ID %d)", jtName, jtID)
	}
	return nil
}

// Resume picks up a persisted migration that stopped after conversion,
// either because it was PARTIAL_SUCCESS and halted for review or
// because the process died before validation. The stored playbooks are
// validated and deployed; conversion does not run again. Resuming a
// partial run implies the operator has reviewed the manual items.
func (o *Orchestrator) Resume(ctx context.Context, id string) (*models.MigrationResult, error) {
	result, err := o.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	switch result.Status {
	case models.StatusConverted, models.StatusPartialSuccess:
	default:
		return result, fmt.Errorf("migration: cannot resume a %s migration", result.Status)
	}

	o.logf("=== Resuming migration %s ===", id)
	var findings []string
	for name, playbook := range result.Playbooks {
		findings = append(findings, o.linter.Lint(name, []byte(playbook))...)
	}
	if len(findings) > 0 && o.opts.StrictLint {
		var merr *multierror.Error
		for _, f := range findings {
			merr = multierror.Append(merr, fmt.Errorf("%s", f))
		}
		return result, o.fail(ctx, result, fmt.Errorf("migration: validation failed: %w", merr.ErrorOrNil()))
	}
	for _, f := range findings {
		o.logf("  LINT: %s", f)
		result.Warnings = append(result.Warnings, "lint: "+f)
	}
	if err := result.Transition(models.StatusValidated); err != nil {
		return result, err
	}
	if err := o.save(ctx, result); err != nil {
		return result, err
	}
	for name, playbook := range result.Playbooks {
		if err := o.artifacts.Write(name, []byte(playbook)); err != nil {
			return result, o.fail(ctx, result, err)
		}
	}

	if !o.opts.Deploy || o.deployer == nil {
		o.logger("Validation complete; deployment not requested")
		return result, nil
	}

	// The inventory graph is not persisted; rebuild it from the source.
	units, _, err := o.source.Units(ctx)
	if err != nil {
		return result, o.fail(ctx, result, err)
	}
	hosts, err := o.source.Hosts(ctx)
	if err != nil {
		return result, o.fail(ctx, result, err)
	}
	graph, err := ir.Build(units, hosts)
	if err != nil {
		return result, o.fail(ctx, result, err)
	}
	var unitNames []string
	for _, nodeID := range graph.MigrationOrder() {
		node := graph.Node(nodeID)
		if node == nil {
			continue
		}
		if _, ok := result.Playbooks[ansible.PlaybookFileName(node.Name)]; ok {
			unitNames = append(unitNames, node.Name)
		}
	}

	o.logger("")
	o.logger("=== Deploying to controller ===")
	if err := o.deploy(ctx, result, graph, unitNames); err != nil {
		o.logger("Deploy failed: undoing created objects")
		if merr := o.deleteCreated(ctx, result); merr != nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("cleanup after failed deploy: %v", merr))
		} else {
			result.Created = nil
		}
		return result, o.fail(ctx, result, err)
	}
	if err := result.Transition(models.StatusDeployed); err != nil {
		return result, err
	}
	if err := o.save(ctx, result); err != nil {
		return result, err
	}
	o.logger("Migration deployed")
	return result, nil
}

// Rollback deletes everything a deployed (or partially converted)
// migration created, in reverse creation order. Deleting an object
// that is already gone counts as success, so rollback can be retried;
// rolling back an already rolled-back migration is a no-op.
func (o *Orchestrator) Rollback(ctx context.Context, id string) (*models.MigrationResult, error) {
	result, err := o.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if result.Status == models.StatusRolledBack {
		return result, nil
	}
	if !models.CanTransition(result.Status, models.StatusRolledBack) {
		return result, fmt.Errorf("migration: cannot roll back a %s migration", result.Status)
	}
	if o.deployer == nil {
		return result, fmt.Errorf("migration: no controller configured for rollback")
	}

	o.logf("=== Rolling back migration %s ===", id)
	if merr := o.deleteCreated(ctx, result); merr != nil {
		result.Errors = append(result.Errors, merr.Error())
		if err := o.save(ctx, result); err != nil {
			return result, multierror.Append(merr, err)
		}
		return result, merr
	}

	if err := result.Transition(models.StatusRolledBack); err != nil {
		return result, err
	}
	if err := o.save(ctx, result); err != nil {
		return result, err
	}
	o.logger("Rollback complete")
	return result, nil
}

// deleteCreated removes recorded creations newest-first, collecting
// failures instead of stopping at the first one.
func (o *Orchestrator) deleteCreated(ctx context.Context, result *models.MigrationResult) error {
	var merr *multierror.Error
	for i := len(result.Created) - 1; i >= 0; i-- {
		rec := result.Created[i]
		if err := ctx.Err(); err != nil {
			merr = multierror.Append(merr, err)
			break
		}
		err := o.deployer.Delete(ctx, rec.Kind, rec.ID)
		switch {
		case errors.Is(err, platform.ErrAlreadyGone):
			result.Warnings = append(result.Warnings, fmt.Sprintf("rollback: %s %s (ID %d) was already deleted", rec.Kind, rec.Name, rec.ID))
			o.logf("  DELETED: %s %s (ID %d) (already gone)", rec.Kind, rec.Name, rec.ID)
		case err != nil:
			merr = multierror.Append(merr, fmt.Errorf("deleting %s %s (ID %d): %w", rec.Kind, rec.Name, rec.ID, err))
			o.logf("  FAIL: %s %s (ID %d): %v", rec.Kind, rec.Name, rec.ID, err)
		default:
			o.logf("  DELETED: %s %s (ID %d)", rec.Kind, rec.Name, rec.ID)
		}
	}
	return merr.ErrorOrNil()
}
