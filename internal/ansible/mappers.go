package ansible

import (
	"fmt"
	"path"
	"strings"

	"github.com/rflorenc/chef-migration-workbench/internal/chef"
)

// mapperFunc produces the task skeleton for one resource kind. Guards
// and notifications are layered on afterwards by Convert.
type mapperFunc func(r *chef.Resource) ([]Task, error)

var mappers = map[chef.ResourceKind]mapperFunc{
	chef.KindPackage:      mapPackage,
	chef.KindService:      mapService,
	chef.KindFile:         mapFile,
	chef.KindTemplate:     mapTemplate,
	chef.KindDirectory:    mapDirectory,
	chef.KindRemoteFile:   mapRemoteFile,
	chef.KindCookbookFile: mapCookbookFile,
	chef.KindExecute:      mapExecute,
	chef.KindBash:         mapShellScript,
	chef.KindScript:       mapShellScript,
	chef.KindUser:         mapUser,
	chef.KindGroup:        mapGroup,
	chef.KindCron:         mapCron,
	chef.KindMount:        mapMount,
	chef.KindLink:         mapLink,
	chef.KindGit:          mapGit,
}

// Converted is the emitter output for one resource.
type Converted struct {
	Tasks    []Task
	Handlers []Handler
	Warnings []string
}

// Convert maps one parsed resource to Ansible tasks. seq keeps
// generated register names unique and deterministic within a playbook.
// An unmapped resource type returns *UnsupportedResourceError.
func Convert(r *chef.Resource, seq int) (*Converted, error) {
	fn, ok := mappers[r.Kind]
	if !ok {
		return nil, &UnsupportedResourceError{Type: r.Type}
	}
	tasks, err := fn(r)
	if err != nil {
		return nil, err
	}

	out := &Converted{}
	pre, when := translateGuards(r.Guards, seq)
	for i := range tasks {
		tasks[i].When = append(tasks[i].When, when...)
	}

	notify, handlers, flush, warns := translateNotifications(r.Notifications)
	out.Warnings = append(out.Warnings, warns...)
	for i := range tasks {
		tasks[i].Notify = append(tasks[i].Notify, notify...)
	}
	out.Handlers = handlers

	out.Tasks = append(out.Tasks, pre...)
	out.Tasks = append(out.Tasks, tasks...)
	if flush {
		out.Tasks = append(out.Tasks, Task{
			Name:   "Flush handlers for " + r.ID(),
			Module: "ansible.builtin.meta",
			Params: []Param{{Key: "free_form", Value: "flush_handlers"}},
		})
	}
	return out, nil
}

// translateNotifications dedupes triggers by (handler, timing) and
// builds the matching handler records. An immediate notification forces
// a flush_handlers task right after the notifying task.
func translateNotifications(notes []chef.Notification) (notify []string, handlers []Handler, flush bool, warnings []string) {
	seen := map[string]bool{}
	for _, n := range notes {
		h, ok := handlerFor(n)
		if !ok {
			warnings = append(warnings, fmt.Sprintf("notification to %s has no handler mapping", n.Target))
			continue
		}
		key := h.Name + "|" + n.Timing
		if seen[key] {
			continue
		}
		seen[key] = true
		if !containsStr(notify, h.Name) {
			notify = append(notify, h.Name)
		}
		if !hasHandler(handlers, h.Name) {
			handlers = append(handlers, h)
		}
		if n.Timing == "immediately" {
			flush = true
		}
	}
	return notify, handlers, flush, warnings
}

// handlerFor builds a handler from a notification target like
// "service[nginx]". Only service and execute targets have a direct
// Ansible analogue.
func handlerFor(n chef.Notification) (Handler, bool) {
	typ, name, ok := splitTargetID(n.Target)
	if !ok {
		return Handler{}, false
	}
	switch typ {
	case "service":
		state, ok := serviceState(n.Action)
		if !ok {
			return Handler{}, false
		}
		return Handler{
			Name:   n.Action + " " + name,
			Module: "ansible.builtin.service",
			Params: []Param{{Key: "name", Value: name}, {Key: "state", Value: state}},
		}, true
	case "execute", "bash":
		return Handler{
			Name:   "run " + name,
			Module: "ansible.builtin.command",
			Params: []Param{{Key: "cmd", Value: name}},
		}, true
	}
	return Handler{}, false
}

func splitTargetID(id string) (typ, name string, ok bool) {
	open := strings.IndexByte(id, '[')
	if open <= 0 || !strings.HasSuffix(id, "]") {
		return "", "", false
	}
	return id[:open], id[open+1 : len(id)-1], true
}

func serviceState(action string) (string, bool) {
	switch action {
	case "restart":
		return "restarted", true
	case "reload":
		return "reloaded", true
	case "start":
		return "started", true
	case "stop":
		return "stopped", true
	}
	return "", false
}

func mapPackage(r *chef.Resource) ([]Task, error) {
	name := r.StringProperty("package_name")
	if name == "" {
		name = r.Name
	}
	params := []Param{{Key: "name", Value: name}}
	if v := r.StringProperty("version"); v != "" {
		params[0] = Param{Key: "name", Value: name + "=" + v}
	}
	state := "present"
	switch primaryAction(r) {
	case "remove", "purge":
		state = "absent"
	case "upgrade":
		state = "latest"
	}
	params = append(params, Param{Key: "state", Value: state})
	return []Task{{
		Name:   "Install package " + name,
		Module: "ansible.builtin.package",
		Params: params,
	}}, nil
}

func mapService(r *chef.Resource) ([]Task, error) {
	params := []Param{{Key: "name", Value: r.Name}}
	var state string
	for _, action := range actions(r) {
		switch action {
		case "enable":
			params = append(params, Param{Key: "enabled", Value: true})
		case "disable":
			params = append(params, Param{Key: "enabled", Value: false})
		case "start":
			state = "started"
		case "stop":
			state = "stopped"
		case "restart":
			state = "restarted"
		case "reload":
			state = "reloaded"
		}
	}
	if state != "" {
		params = append(params, Param{Key: "state", Value: state})
	}
	return []Task{{
		Name:   "Manage service " + r.Name,
		Module: "ansible.builtin.service",
		Params: params,
	}}, nil
}

func mapFile(r *chef.Resource) ([]Task, error) {
	dest := pathProperty(r)
	if primaryAction(r) == "delete" {
		return []Task{{
			Name:   "Remove file " + dest,
			Module: "ansible.builtin.file",
			Params: []Param{{Key: "path", Value: dest}, {Key: "state", Value: "absent"}},
		}}, nil
	}
	if content, ok := r.Property("content"); ok {
		params := []Param{{Key: "content", Value: content}, {Key: "dest", Value: dest}}
		params = appendFileModes(params, r)
		return []Task{{
			Name:   "Write file " + dest,
			Module: "ansible.builtin.copy",
			Params: params,
		}}, nil
	}
	params := []Param{{Key: "path", Value: dest}, {Key: "state", Value: "touch"}}
	params = appendFileModes(params, r)
	return []Task{{
		Name:   "Ensure file " + dest,
		Module: "ansible.builtin.file",
		Params: params,
	}}, nil
}

func mapTemplate(r *chef.Resource) ([]Task, error) {
	dest := pathProperty(r)
	src := r.StringProperty("source")
	if src == "" {
		src = path.Base(dest) + ".erb"
	}
	src = strings.TrimSuffix(src, ".erb") + ".j2"
	params := []Param{{Key: "src", Value: src}, {Key: "dest", Value: dest}}
	params = appendFileModes(params, r)
	return []Task{{
		Name:   "Deploy template " + dest,
		Module: "ansible.builtin.template",
		Params: params,
	}}, nil
}

func mapDirectory(r *chef.Resource) ([]Task, error) {
	dir := pathProperty(r)
	if primaryAction(r) == "delete" {
		return []Task{{
			Name:   "Remove directory " + dir,
			Module: "ansible.builtin.file",
			Params: []Param{{Key: "path", Value: dir}, {Key: "state", Value: "absent"}},
		}}, nil
	}
	params := []Param{{Key: "path", Value: dir}, {Key: "state", Value: "directory"}}
	params = appendFileModes(params, r)
	if v, ok := r.Property("recursive"); ok {
		if b, isBool := v.(bool); isBool && b {
			params = append(params, Param{Key: "recurse", Value: true})
		}
	}
	return []Task{{
		Name:   "Create directory " + dir,
		Module: "ansible.builtin.file",
		Params: params,
	}}, nil
}

func mapRemoteFile(r *chef.Resource) ([]Task, error) {
	dest := pathProperty(r)
	params := []Param{
		{Key: "url", Value: r.StringProperty("source")},
		{Key: "dest", Value: dest},
	}
	if c := r.StringProperty("checksum"); c != "" {
		params = append(params, Param{Key: "checksum", Value: "sha256:" + c})
	}
	params = appendFileModes(params, r)
	return []Task{{
		Name:   "Download " + dest,
		Module: "ansible.builtin.get_url",
		Params: params,
	}}, nil
}

func mapCookbookFile(r *chef.Resource) ([]Task, error) {
	dest := pathProperty(r)
	src := r.StringProperty("source")
	if src == "" {
		src = path.Base(dest)
	}
	params := []Param{{Key: "src", Value: src}, {Key: "dest", Value: dest}}
	params = appendFileModes(params, r)
	return []Task{{
		Name:   "Copy file " + dest,
		Module: "ansible.builtin.copy",
		Params: params,
	}}, nil
}

func mapExecute(r *chef.Resource) ([]Task, error) {
	cmd := r.StringProperty("command")
	if cmd == "" {
		cmd = r.Name
	}
	params := []Param{{Key: "cmd", Value: cmd}}
	if cwd := r.StringProperty("cwd"); cwd != "" {
		params = append(params, Param{Key: "chdir", Value: cwd})
	}
	if creates := r.StringProperty("creates"); creates != "" {
		params = append(params, Param{Key: "creates", Value: creates})
	}
	return []Task{{
		Name:   "Run " + r.Name,
		Module: "ansible.builtin.command",
		Params: params,
	}}, nil
}

func mapShellScript(r *chef.Resource) ([]Task, error) {
	code := r.StringProperty("code")
	if code == "" {
		return nil, fmt.Errorf("ansible: %s %q has no code block", r.Type, r.Name)
	}
	params := []Param{{Key: "cmd", Value: code}}
	if cwd := r.StringProperty("cwd"); cwd != "" {
		params = append(params, Param{Key: "chdir", Value: cwd})
	}
	return []Task{{
		Name:   "Run script " + r.Name,
		Module: "ansible.builtin.shell",
		Params: params,
	}}, nil
}

func mapUser(r *chef.Resource) ([]Task, error) {
	params := []Param{{Key: "name", Value: r.Name}}
	if v, ok := r.Property("uid"); ok {
		params = append(params, Param{Key: "uid", Value: v})
	}
	if g := r.StringProperty("gid"); g != "" {
		params = append(params, Param{Key: "group", Value: g})
	}
	if h := r.StringProperty("home"); h != "" {
		params = append(params, Param{Key: "home", Value: h})
	}
	if s := r.StringProperty("shell"); s != "" {
		params = append(params, Param{Key: "shell", Value: s})
	}
	if v, ok := r.Property("system"); ok {
		params = append(params, Param{Key: "system", Value: v})
	}
	if primaryAction(r) == "remove" {
		params = append(params, Param{Key: "state", Value: "absent"})
	}
	return []Task{{
		Name:   "Manage user " + r.Name,
		Module: "ansible.builtin.user",
		Params: params,
	}}, nil
}

func mapGroup(r *chef.Resource) ([]Task, error) {
	params := []Param{{Key: "name", Value: r.Name}}
	if v, ok := r.Property("gid"); ok {
		params = append(params, Param{Key: "gid", Value: v})
	}
	if v, ok := r.Property("system"); ok {
		params = append(params, Param{Key: "system", Value: v})
	}
	if primaryAction(r) == "remove" {
		params = append(params, Param{Key: "state", Value: "absent"})
	}
	return []Task{{
		Name:   "Manage group " + r.Name,
		Module: "ansible.builtin.group",
		Params: params,
	}}, nil
}

func mapCron(r *chef.Resource) ([]Task, error) {
	params := []Param{{Key: "name", Value: r.Name}}
	for _, field := range []struct{ chef, ansible string }{
		{"minute", "minute"},
		{"hour", "hour"},
		{"day", "day"},
		{"month", "month"},
		{"weekday", "weekday"},
		{"user", "user"},
		{"command", "job"},
	} {
		if v, ok := r.Property(field.chef); ok {
			params = append(params, Param{Key: field.ansible, Value: fmt.Sprintf("%v", v)})
		}
	}
	if primaryAction(r) == "delete" {
		params = append(params, Param{Key: "state", Value: "absent"})
	}
	return []Task{{
		Name:   "Schedule cron " + r.Name,
		Module: "ansible.builtin.cron",
		Params: params,
	}}, nil
}

func mapMount(r *chef.Resource) ([]Task, error) {
	params := []Param{{Key: "path", Value: pathProperty(r)}}
	if d := r.StringProperty("device"); d != "" {
		params = append(params, Param{Key: "src", Value: d})
	}
	if f := r.StringProperty("fstype"); f != "" {
		params = append(params, Param{Key: "fstype", Value: f})
	}
	if o, ok := r.Property("options"); ok {
		params = append(params, Param{Key: "opts", Value: optsString(o)})
	}
	state := "mounted"
	switch primaryAction(r) {
	case "umount", "unmount":
		state = "unmounted"
	case "disable":
		state = "absent"
	}
	params = append(params, Param{Key: "state", Value: state})
	return []Task{{
		Name:   "Mount " + pathProperty(r),
		Module: "ansible.posix.mount",
		Params: params,
	}}, nil
}

func mapLink(r *chef.Resource) ([]Task, error) {
	params := []Param{
		{Key: "src", Value: r.StringProperty("to")},
		{Key: "dest", Value: pathProperty(r)},
		{Key: "state", Value: "link"},
	}
	return []Task{{
		Name:   "Link " + pathProperty(r),
		Module: "ansible.builtin.file",
		Params: params,
	}}, nil
}

func mapGit(r *chef.Resource) ([]Task, error) {
	dest := r.StringProperty("destination")
	if dest == "" {
		dest = r.Name
	}
	params := []Param{
		{Key: "repo", Value: r.StringProperty("repository")},
		{Key: "dest", Value: dest},
	}
	if rev := r.StringProperty("revision"); rev != "" {
		params = append(params, Param{Key: "version", Value: rev})
	}
	return []Task{{
		Name:   "Checkout " + dest,
		Module: "ansible.builtin.git",
		Params: params,
	}}, nil
}

// pathProperty prefers an explicit path property over the resource name.
func pathProperty(r *chef.Resource) string {
	if p := r.StringProperty("path"); p != "" {
		return p
	}
	return r.Name
}

func appendFileModes(params []Param, r *chef.Resource) []Param {
	if o := r.StringProperty("owner"); o != "" {
		params = append(params, Param{Key: "owner", Value: o})
	}
	if g := r.StringProperty("group"); g != "" {
		params = append(params, Param{Key: "group", Value: g})
	}
	if m := r.StringProperty("mode"); m != "" {
		params = append(params, Param{Key: "mode", Value: m})
	}
	return params
}

func actions(r *chef.Resource) []string {
	if r.Action == "" {
		return nil
	}
	return strings.Split(r.Action, ",")
}

func primaryAction(r *chef.Resource) string {
	a := actions(r)
	if len(a) == 0 {
		return ""
	}
	return a[0]
}

func optsString(v any) string {
	if items, ok := v.([]any); ok {
		parts := make([]string, len(items))
		for i, it := range items {
			parts[i] = fmt.Sprintf("%v", it)
		}
		return strings.Join(parts, ",")
	}
	return fmt.Sprintf("%v", v)
}

func containsStr(s []string, v string) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}

func hasHandler(hs []Handler, name string) bool {
	for _, h := range hs {
		if h.Name == name {
			return true
		}
	}
	return false
}
