package ansible

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rflorenc/chef-migration-workbench/internal/chef"
	"github.com/rflorenc/chef-migration-workbench/internal/ir"
)

func TestConvertPackageWithNotification(t *testing.T) {
	r := &chef.Resource{
		Kind:   chef.KindPackage,
		Type:   "package",
		Name:   "nginx",
		Action: "install",
		Notifications: []chef.Notification{
			{Action: "restart", Target: "service[nginx]", Timing: "delayed"},
		},
	}
	conv, err := Convert(r, 0)
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	if len(conv.Tasks) != 1 {
		t.Fatalf("got %d tasks, want 1", len(conv.Tasks))
	}
	task := conv.Tasks[0]
	if task.Module != "ansible.builtin.package" {
		t.Errorf("module = %q", task.Module)
	}
	wantParams := []Param{{Key: "name", Value: "nginx"}, {Key: "state", Value: "present"}}
	if len(task.Params) != len(wantParams) {
		t.Fatalf("params = %v", task.Params)
	}
	for i, p := range wantParams {
		if task.Params[i] != p {
			t.Errorf("param[%d] = %v, want %v", i, task.Params[i], p)
		}
	}
	if len(task.Notify) != 1 || task.Notify[0] != "restart nginx" {
		t.Errorf("notify = %v", task.Notify)
	}
	if len(conv.Handlers) != 1 {
		t.Fatalf("handlers = %v", conv.Handlers)
	}
	h := conv.Handlers[0]
	if h.Name != "restart nginx" || h.Module != "ansible.builtin.service" {
		t.Errorf("handler = %+v", h)
	}
	if h.Params[1] != (Param{Key: "state", Value: "restarted"}) {
		t.Errorf("handler state = %v", h.Params[1])
	}
}

func TestConvertDuplicateNotificationsDeduped(t *testing.T) {
	r := &chef.Resource{
		Kind: chef.KindPackage,
		Type: "package",
		Name: "nginx",
		Notifications: []chef.Notification{
			{Action: "restart", Target: "service[nginx]", Timing: "delayed"},
			{Action: "restart", Target: "service[nginx]", Timing: "delayed"},
		},
	}
	conv, err := Convert(r, 0)
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	if len(conv.Tasks[0].Notify) != 1 || len(conv.Handlers) != 1 {
		t.Errorf("notify = %v handlers = %v", conv.Tasks[0].Notify, conv.Handlers)
	}
}

func TestConvertImmediateNotificationFlushes(t *testing.T) {
	r := &chef.Resource{
		Kind: chef.KindTemplate,
		Type: "template",
		Name: "/etc/app.conf",
		Notifications: []chef.Notification{
			{Action: "reload", Target: "service[app]", Timing: "immediately"},
		},
	}
	conv, err := Convert(r, 0)
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	last := conv.Tasks[len(conv.Tasks)-1]
	if last.Module != "ansible.builtin.meta" {
		t.Fatalf("last task module = %q, want meta flush", last.Module)
	}
}

func TestConvertUnsupportedResource(t *testing.T) {
	r := &chef.Resource{Kind: chef.KindUnknown, Type: "chef_vault_secret", Name: "creds"}
	_, err := Convert(r, 0)
	var unsup *UnsupportedResourceError
	if !errors.As(err, &unsup) {
		t.Fatalf("err = %v, want UnsupportedResourceError", err)
	}
	if unsup.Type != "chef_vault_secret" {
		t.Errorf("Type = %q", unsup.Type)
	}
}

func TestConvertServiceActions(t *testing.T) {
	r := &chef.Resource{Kind: chef.KindService, Type: "service", Name: "nginx", Action: "enable,start"}
	conv, err := Convert(r, 0)
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	params := conv.Tasks[0].Params
	want := []Param{
		{Key: "name", Value: "nginx"},
		{Key: "enabled", Value: true},
		{Key: "state", Value: "started"},
	}
	if len(params) != len(want) {
		t.Fatalf("params = %v", params)
	}
	for i := range want {
		if params[i] != want[i] {
			t.Errorf("param[%d] = %v, want %v", i, params[i], want[i])
		}
	}
}

func TestConvertTemplateSourceRewrite(t *testing.T) {
	r := &chef.Resource{
		Kind: chef.KindTemplate,
		Type: "template",
		Name: "/etc/nginx/nginx.conf",
		Properties: []chef.Property{
			{Name: "source", Value: "nginx.conf.erb"},
			{Name: "owner", Value: "root"},
			{Name: "mode", Value: "0644"},
		},
	}
	conv, err := Convert(r, 0)
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	params := conv.Tasks[0].Params
	if params[0] != (Param{Key: "src", Value: "nginx.conf.j2"}) {
		t.Errorf("src = %v", params[0])
	}
	if params[1] != (Param{Key: "dest", Value: "/etc/nginx/nginx.conf"}) {
		t.Errorf("dest = %v", params[1])
	}
}

func TestConvertShellGuard(t *testing.T) {
	r := &chef.Resource{
		Kind: chef.KindExecute,
		Type: "execute",
		Name: "migrate-db",
		Properties: []chef.Property{
			{Name: "command", Value: "rake db:migrate"},
		},
		Guards: []chef.Guard{
			{Kind: chef.GuardOnlyIf, Expr: chef.ShellCommand{Command: "test -f /opt/app/pending"}},
		},
	}
	conv, err := Convert(r, 3)
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	if len(conv.Tasks) != 2 {
		t.Fatalf("got %d tasks, want precheck + command", len(conv.Tasks))
	}
	pre := conv.Tasks[0]
	if pre.Register != "guard_3_0" || pre.FailedWhen != "false" {
		t.Errorf("precheck = %+v", pre)
	}
	main := conv.Tasks[1]
	if len(main.When) != 1 || main.When[0] != "guard_3_0.rc == 0" {
		t.Errorf("when = %v", main.When)
	}
}

func TestConvertFileTestNotIf(t *testing.T) {
	r := &chef.Resource{
		Kind: chef.KindDirectory,
		Type: "directory",
		Name: "/var/lib/app",
		Guards: []chef.Guard{
			{Kind: chef.GuardNotIf, Expr: chef.FileTest{Path: "/var/lib/app/.done"}},
		},
	}
	conv, err := Convert(r, 0)
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	want := "not ('/var/lib/app/.done' is exists)"
	if got := conv.Tasks[0].When[0]; got != want {
		t.Errorf("when = %q, want %q", got, want)
	}
}

func TestConvertNodeAttributeGuard(t *testing.T) {
	expr, err := chef.ParseGuardExpr("node['platform'] == 'ubuntu'")
	if err != nil {
		t.Fatalf("ParseGuardExpr: %v", err)
	}
	r := &chef.Resource{
		Kind:   chef.KindPackage,
		Type:   "package",
		Name:   "ufw",
		Guards: []chef.Guard{{Kind: chef.GuardOnlyIf, Expr: expr}},
	}
	conv, err := Convert(r, 0)
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	if got := conv.Tasks[0].When[0]; got != "platform == 'ubuntu'" {
		t.Errorf("when = %q", got)
	}
}

func TestConvertCompoundAndSplitsWhen(t *testing.T) {
	r := &chef.Resource{
		Kind: chef.KindPackage,
		Type: "package",
		Name: "htop",
		Guards: []chef.Guard{
			{Kind: chef.GuardOnlyIf, Expr: chef.CompoundAnd{Exprs: []chef.GuardExpr{
				chef.FileTest{Path: "/etc/debian_version"},
				chef.PropertyComparison{Left: "node['cpu']['total']", Op: ">", Right: "2"},
			}}},
		},
	}
	conv, err := Convert(r, 0)
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	when := conv.Tasks[0].When
	if len(when) != 2 {
		t.Fatalf("when = %v, want two entries", when)
	}
	if when[0] != "'/etc/debian_version' is exists" || when[1] != "cpu.total > 2" {
		t.Errorf("when = %v", when)
	}
}

const nginxRecipe = `package 'nginx' do
  action :install
end

template '/etc/nginx/nginx.conf' do
  source 'nginx.conf.erb'
  owner 'root'
  mode '0644'
  notifies :reload, 'service[nginx]', :delayed
end

service 'nginx' do
  action [:enable, :start]
end
`

func TestEmitUnitEndToEnd(t *testing.T) {
	parsed := chef.ParseRecipe("recipes/default.rb", nginxRecipe)
	if len(parsed.Failures) != 0 {
		t.Fatalf("parse failures: %v", parsed.Failures)
	}
	unit := ir.Unit{
		Name:    "nginx",
		Recipes: []ir.Recipe{{Name: "default", Resources: parsed.Resources}},
	}
	res, err := EmitUnit(context.Background(), &unit)
	if err != nil {
		t.Fatalf("EmitUnit: %v", err)
	}
	if len(res.Manual) != 0 {
		t.Fatalf("manual items: %v", res.Manual)
	}
	if len(res.Playbook.Tasks) != 3 {
		t.Fatalf("got %d tasks, want 3", len(res.Playbook.Tasks))
	}
	y := string(res.YAML)
	for _, want := range []string{
		"hosts: nginx",
		"ansible.builtin.package",
		"ansible.builtin.template",
		"src: nginx.conf.j2",
		"ansible.builtin.service",
		"reload nginx",
	} {
		if !strings.Contains(y, want) {
			t.Errorf("rendered playbook missing %q:\n%s", want, y)
		}
	}
	// Task order follows source order.
	if strings.Index(y, "ansible.builtin.package") > strings.Index(y, "ansible.builtin.template") {
		t.Error("package task should precede template task")
	}
}

func TestEmitUnitDeterministic(t *testing.T) {
	parsed := chef.ParseRecipe("recipes/default.rb", nginxRecipe)
	unit := ir.Unit{
		Name:    "nginx",
		Recipes: []ir.Recipe{{Name: "default", Resources: parsed.Resources}},
	}
	first, err := EmitUnit(context.Background(), &unit)
	if err != nil {
		t.Fatalf("EmitUnit: %v", err)
	}
	second, err := EmitUnit(context.Background(), &unit)
	if err != nil {
		t.Fatalf("EmitUnit: %v", err)
	}
	if !bytes.Equal(first.YAML, second.YAML) {
		t.Error("re-emission produced different bytes")
	}
}

func TestEmitFollowsMigrationOrder(t *testing.T) {
	units := []ir.Unit{
		{Name: "app", DependsOn: []string{"base"}},
		{Name: "base"},
	}
	g, err := ir.Build(units, nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	results, err := Emit(context.Background(), g, units)
	if err != nil {
		t.Fatalf("Emit: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results", len(results))
	}
	if results[0].Unit != "base" || results[1].Unit != "app" {
		t.Errorf("order = [%s %s], want [base app]", results[0].Unit, results[1].Unit)
	}
}

func TestEmitUnitCancelled(t *testing.T) {
	parsed := chef.ParseRecipe("recipes/default.rb", nginxRecipe)
	unit := ir.Unit{
		Name:    "nginx",
		Recipes: []ir.Recipe{{Name: "default", Resources: parsed.Resources}},
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := EmitUnit(ctx, &unit); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestEmitUnitRoutesUnknownToManual(t *testing.T) {
	unit := ir.Unit{
		Name: "secrets",
		Recipes: []ir.Recipe{{Name: "default", Resources: []chef.Resource{
			{Kind: chef.KindUnknown, Type: "chef_vault_secret", Name: "db"},
			{Kind: chef.KindPackage, Type: "package", Name: "vim"},
		}}},
	}
	res, err := EmitUnit(context.Background(), &unit)
	if err != nil {
		t.Fatalf("EmitUnit: %v", err)
	}
	if len(res.Manual) != 1 || res.Manual[0].ResourceID != "chef_vault_secret[db]" {
		t.Errorf("manual = %v", res.Manual)
	}
	if len(res.Playbook.Tasks) != 1 {
		t.Errorf("convertible resource should still emit, tasks = %v", res.Playbook.Tasks)
	}
}
