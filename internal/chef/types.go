package chef

import "fmt"

// ResourceKind is the closed set of resource types the translator knows
// how to map. Unrecognized declarations are tagged KindUnknown at parse
// time and surfaced for manual review downstream.
type ResourceKind int

const (
	KindUnknown ResourceKind = iota
	KindPackage
	KindService
	KindFile
	KindTemplate
	KindDirectory
	KindRemoteFile
	KindCookbookFile
	KindExecute
	KindBash
	KindScript
	KindUser
	KindGroup
	KindCron
	KindMount
	KindLink
	KindGit
)

var kindByType = map[string]ResourceKind{
	"package":       KindPackage,
	"apt_package":   KindPackage,
	"yum_package":   KindPackage,
	"dnf_package":   KindPackage,
	"service":       KindService,
	"file":          KindFile,
	"template":      KindTemplate,
	"directory":     KindDirectory,
	"remote_file":   KindRemoteFile,
	"cookbook_file": KindCookbookFile,
	"execute":       KindExecute,
	"bash":          KindBash,
	"script":        KindScript,
	"user":          KindUser,
	"group":         KindGroup,
	"cron":          KindCron,
	"mount":         KindMount,
	"link":          KindLink,
	"git":           KindGit,
}

// KindFromType resolves a declaration's type token once at parse time.
func KindFromType(typeName string) ResourceKind {
	if k, ok := kindByType[typeName]; ok {
		return k
	}
	return KindUnknown
}

func (k ResourceKind) String() string {
	for name, kk := range kindByType {
		if kk == k {
			// Prefer the canonical spelling over package aliases.
			switch k {
			case KindPackage:
				return "package"
			default:
				return name
			}
		}
	}
	return "unknown"
}

// Property is one body assignment inside a resource block. Order is
// preserved so emitted tasks are stable.
type Property struct {
	Name  string `json:"name"`
	Value any    `json:"value"`
}

// Notification is a deferred handler trigger declared with `notifies`
// or `subscribes`.
type Notification struct {
	Action string `json:"action"` // e.g. "restart"
	Target string `json:"target"` // e.g. "service[nginx]"
	Timing string `json:"timing"` // "delayed" or "immediately"
}

// GuardKind distinguishes only_if from not_if clauses.
type GuardKind int

const (
	GuardOnlyIf GuardKind = iota
	GuardNotIf
)

func (k GuardKind) String() string {
	if k == GuardNotIf {
		return "not_if"
	}
	return "only_if"
}

// Guard is one conditional attached to a resource. Multiple guards on
// one resource combine with logical AND.
type Guard struct {
	Kind GuardKind `json:"kind"`
	Expr GuardExpr `json:"expr"`
}

// Resource is one declarative unit parsed from a recipe. Immutable once
// produced by the parser.
type Resource struct {
	Kind          ResourceKind   `json:"kind"`
	Type          string         `json:"type"` // raw type token from the source
	Name          string         `json:"name"`
	Action        string         `json:"action,omitempty"`
	Properties    []Property     `json:"properties,omitempty"`
	Guards        []Guard        `json:"guards,omitempty"`
	Notifications []Notification `json:"notifications,omitempty"`
	Source        string         `json:"source"`
	Line          int            `json:"line"`
}

// Property returns the value of a named property and whether it was set.
func (r *Resource) Property(name string) (any, bool) {
	for _, p := range r.Properties {
		if p.Name == name {
			return p.Value, true
		}
	}
	return nil, false
}

// StringProperty returns a property's value as a string, or "" if unset
// or not a string.
func (r *Resource) StringProperty(name string) string {
	v, ok := r.Property(name)
	if !ok {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

// ID returns the Chef-style resource identifier, e.g. "package[nginx]".
func (r *Resource) ID() string {
	return fmt.Sprintf("%s[%s]", r.Type, r.Name)
}
