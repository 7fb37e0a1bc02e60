package call

import "regexp"

var placeholder = regexp.MustCompile(`\$(?:(\$)|([_a-zA-Z][_a-zA-Z0-9]*)|\{([_a-zA-Z][_a-zA-Z0-9]*)\})`)

// RenderPrompt substitutes $name and ${name} placeholders with fields.
// Unknown placeholders are left as they are and $$ becomes a literal $.
func RenderPrompt(template string, fields map[string]string) string {
	return placeholder.ReplaceAllStringFunc(template, func(match string) string {
		groups := placeholder.FindStringSubmatch(match)
		switch {
		case groups[1] != "":
			return "$"
		case groups[2] != "":
			if v, ok := fields[groups[2]]; ok {
				return v
			}
		case groups[3] != "":
			if v, ok := fields[groups[3]]; ok {
				return v
			}
		}
		return match
	})
}
