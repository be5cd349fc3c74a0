package migration

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Linter inspects a rendered playbook and returns findings. An empty
// slice means the playbook passed.
type Linter interface {
	Lint(name string, playbook []byte) []string
}

// PlaybookLinter is the built-in structural check applied during the
// validation phase: the YAML must parse, and every play and task must
// carry the fields a controller refuses to run without.
type PlaybookLinter struct{}

type lintPlay struct {
	Name     string           `yaml:"name"`
	Hosts    string           `yaml:"hosts"`
	Tasks    []map[string]any `yaml:"tasks"`
	Handlers []map[string]any `yaml:"handlers"`
}

// Lint implements Linter.
func (PlaybookLinter) Lint(name string, playbook []byte) []string {
	var plays []lintPlay
	if err := yaml.Unmarshal(playbook, &plays); err != nil {
		return []string{fmt.Sprintf("%s: not valid YAML: %v", name, err)}
	}
	if len(plays) == 0 {
		return []string{fmt.Sprintf("%s: playbook has no plays", name)}
	}

	var findings []string
	for i, play := range plays {
		if play.Hosts == "" {
			findings = append(findings, fmt.Sprintf("%s: play %d has no hosts", name, i))
		}
		if play.Name == "" {
			findings = append(findings, fmt.Sprintf("%s: play %d has no name", name, i))
		}
		findings = append(findings, lintTasks(name, "task", play.Tasks)...)
		findings = append(findings, lintTasks(name, "handler", play.Handlers)...)
	}
	return findings
}

func lintTasks(playbook, kind string, tasks []map[string]any) []string {
	var findings []string
	for i, task := range tasks {
		if _, ok := task["name"]; !ok {
			findings = append(findings, fmt.Sprintf("%s: %s %d has no name", playbook, kind, i))
		}
		if !hasModuleKey(task) {
			findings = append(findings, fmt.Sprintf("%s: %s %d has no module", playbook, kind, i))
		}
	}
	return findings
}

// taskDirectives are task keywords, not modules.
var taskDirectives = map[string]bool{
	"name": true, "when": true, "register": true, "notify": true,
	"become": true, "changed_when": true, "failed_when": true,
	"loop": true, "vars": true, "tags": true, "delegate_to": true,
}

func hasModuleKey(task map[string]any) bool {
	for k := range task {
		if !taskDirectives[k] {
			return true
		}
	}
	return false
}
