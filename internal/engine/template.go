package engine

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// SQL node text marks parameters as {{name}} placeholders. Expansion rewrites
// them to PostgreSQL positional binds ($1, $2, ...) and returns the value
// slice in positional order; the same name reuses the same position. Values
// are always passed to the driver, never interpolated into the text.
var placeholderPattern = regexp.MustCompile(`\{\{\s*([a-zA-Z_]\w*)\s*\}\}`)

func expandTemplate(text string, values map[string]any) (string, []any, error) {
	positions := map[string]int{}
	var args []any
	var missing []string

	expanded := placeholderPattern.ReplaceAllStringFunc(text, func(match string) string {
		name := placeholderPattern.FindStringSubmatch(match)[1]
		position, seen := positions[name]
		if !seen {
			value, ok := values[name]
			if !ok {
				missing = append(missing, name)
				return match
			}
			args = append(args, value)
			position = len(args)
			positions[name] = position
		}
		return "$" + strconv.Itoa(position)
	})

	if len(missing) > 0 {
		issues := make([]ParameterIssue, 0, len(missing))
		for _, name := range dedupe(missing) {
			issues = append(issues, ParameterIssue{
				Name:    name,
				Code:    IssueMissingParameter,
				Message: fmt.Sprintf("placeholder {{%s}} has no bound value", name),
			})
		}
		return "", nil, &ValidationError{Issues: issues}
	}
	return expanded, args, nil
}

// templateParams lists the distinct placeholder names in order of first
// appearance.
func templateParams(text string) []string {
	matches := placeholderPattern.FindAllStringSubmatch(text, -1)
	names := make([]string, 0, len(matches))
	for _, match := range matches {
		names = append(names, match[1])
	}
	return dedupe(names)
}

func dedupe(names []string) []string {
	seen := map[string]struct{}{}
	out := names[:0]
	for _, name := range names {
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	return out
}

func stripTrailingSemicolons(sqlText string) string {
	trimmed := strings.TrimSpace(sqlText)
	for strings.HasSuffix(trimmed, ";") {
		trimmed = strings.TrimSpace(strings.TrimSuffix(trimmed, ";"))
	}
	return trimmed
}
