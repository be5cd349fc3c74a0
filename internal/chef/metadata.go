package chef

import "strings"

// Metadata holds the fields of a cookbook's metadata.rb the migration
// cares about: identity and dependency constraints.
type Metadata struct {
	Name    string            `json:"name"`
	Version string            `json:"version,omitempty"`
	Depends map[string]string `json:"depends,omitempty"`
}

// ParseMetadata extracts name, version and depends declarations from a
// metadata.rb. Unknown directives are skipped without complaint.
func ParseMetadata(source, text string) (Metadata, []ParseWarning) {
	md := Metadata{Depends: make(map[string]string)}
	var warnings []ParseWarning

	for i, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(stripInlineComment(line))
		if trimmed == "" {
			continue
		}
		word := firstWord(trimmed)
		rest := strings.TrimSpace(trimmed[len(word):])
		switch word {
		case "name":
			if s, ok := parseRubyValue(rest).(string); ok {
				md.Name = s
			}
		case "version":
			if s, ok := parseRubyValue(rest).(string); ok {
				md.Version = s
			}
		case "depends":
			parts, err := splitTopLevel(rest, ',')
			if err != nil || len(parts) == 0 {
				warnings = append(warnings, ParseWarning{
					Source:  source,
					Line:    i + 1,
					Message: "unreadable depends declaration",
				})
				continue
			}
			dep, ok := parseRubyValue(parts[0]).(string)
			if !ok || dep == "" {
				warnings = append(warnings, ParseWarning{
					Source:  source,
					Line:    i + 1,
					Message: "depends declaration without a cookbook name",
				})
				continue
			}
			constraint := ""
			if len(parts) > 1 {
				if s, ok := parseRubyValue(parts[1]).(string); ok {
					constraint = s
				}
			}
			md.Depends[dep] = constraint
		}
	}
	return md, warnings
}
