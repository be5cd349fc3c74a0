package migration

import (
	"context"
	"fmt"

	"github.com/rflorenc/chef-migration-workbench/internal/platform"
)

// PreflightCheck is one examined precondition.
type PreflightCheck struct {
	Name   string `json:"name"`
	Status string `json:"status"` // "ok", "fail" or "skip"
	Detail string `json:"detail,omitempty"`
}

// Pinger is the health probe both endpoint clients expose.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Preflight examines both endpoints before a migration starts: the
// Chef server must answer, and when deployment is requested the
// controller must answer, accept our credentials, and support
// execution environments if an image is configured. Returns the
// individual checks and whether all of them passed.
func Preflight(ctx context.Context, chefServer Pinger, controller *platform.Controller, opts Options, logger func(string)) ([]PreflightCheck, bool) {
	if logger == nil {
		logger = func(string) {}
	}
	var checks []PreflightCheck
	ok := true
	add := func(c PreflightCheck) {
		if c.Status == "fail" {
			ok = false
			logger(fmt.Sprintf("  FAIL: %s: %s", c.Name, c.Detail))
		} else {
			logger(fmt.Sprintf("  %s: %s", statusLabel(c.Status), c.Name))
		}
		checks = append(checks, c)
	}

	logger("=== Preflight checks ===")

	if chefServer != nil {
		if err := chefServer.Ping(ctx); err != nil {
			add(PreflightCheck{Name: "chef server reachable", Status: "fail", Detail: err.Error()})
		} else {
			add(PreflightCheck{Name: "chef server reachable", Status: "ok"})
		}
	} else {
		add(PreflightCheck{Name: "chef server reachable", Status: "skip", Detail: "local cookbook source"})
	}

	if !opts.Deploy {
		add(PreflightCheck{Name: "controller reachable", Status: "skip", Detail: "deployment not requested"})
		return checks, ok
	}
	if controller == nil {
		add(PreflightCheck{Name: "controller reachable", Status: "fail", Detail: "no controller configured"})
		return checks, ok
	}

	if err := controller.Ping(ctx); err != nil {
		add(PreflightCheck{Name: "controller reachable", Status: "fail", Detail: err.Error()})
		return checks, ok
	}
	add(PreflightCheck{Name: "controller reachable", Status: "ok"})

	if err := controller.CheckAuth(ctx); err != nil {
		add(PreflightCheck{Name: "controller credentials", Status: "fail", Detail: err.Error()})
	} else {
		add(PreflightCheck{Name: "controller credentials", Status: "ok"})
	}

	if opts.EEImage != "" {
		if controller.SupportsExecutionEnvironments() {
			add(PreflightCheck{Name: "execution environments supported", Status: "ok"})
		} else {
			add(PreflightCheck{
				Name:   "execution environments supported",
				Status: "fail",
				Detail: "controller version is too old for execution environments",
			})
		}
	}
	return checks, ok
}

func statusLabel(s string) string {
	switch s {
	case "ok":
		return "OK"
	case "skip":
		return "SKIP"
	}
	return s
}
