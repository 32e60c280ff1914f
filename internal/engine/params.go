package engine

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"time"
)

type ParamType string

const (
	ParamString     ParamType = "string"
	ParamNumber     ParamType = "number"
	ParamBoolean    ParamType = "boolean"
	ParamDate       ParamType = "date"
	ParamTimestamp  ParamType = "timestamp"
	ParamEnum       ParamType = "enum"
	ParamStringList ParamType = "string[]"
	ParamNumberList ParamType = "number[]"
)

type ParameterDefinition struct {
	Name       string    `json:"name"`
	Type       ParamType `json:"type"`
	Required   bool      `json:"required"`
	Default    any       `json:"default,omitempty"`
	EnumValues []string  `json:"enumValues,omitempty"`
	Min        *float64  `json:"min,omitempty"`
	Max        *float64  `json:"max,omitempty"`
	Pattern    string    `json:"pattern,omitempty"`

	pattern *regexp.Regexp
}

// CompileDefinitions checks definition-level invariants and compiles string
// patterns once. It returns a copy so callers can reuse the compiled set.
func CompileDefinitions(defs []ParameterDefinition) ([]ParameterDefinition, error) {
	compiled := make([]ParameterDefinition, len(defs))
	seen := make(map[string]struct{}, len(defs))
	for i, def := range defs {
		if def.Name == "" {
			return nil, fmt.Errorf("parameter %d: name is required", i)
		}
		if _, ok := seen[def.Name]; ok {
			return nil, fmt.Errorf("parameter %q: duplicate name", def.Name)
		}
		seen[def.Name] = struct{}{}

		switch def.Type {
		case ParamString, ParamNumber, ParamBoolean, ParamDate, ParamTimestamp, ParamStringList, ParamNumberList:
		case ParamEnum:
			if len(def.EnumValues) == 0 {
				return nil, fmt.Errorf("parameter %q: enum requires enumValues", def.Name)
			}
		default:
			return nil, fmt.Errorf("parameter %q: unknown type %q", def.Name, def.Type)
		}

		if def.Pattern != "" {
			re, err := regexp.Compile(def.Pattern)
			if err != nil {
				return nil, fmt.Errorf("parameter %q: invalid pattern: %w", def.Name, err)
			}
			def.pattern = re
		}
		compiled[i] = def
	}
	return compiled, nil
}

// ValidateValues applies defaults, coerces runtime values to their declared
// types, and checks constraints. All offending parameters are collected into
// one ValidationError. Unknown extra keys in values are ignored.
func ValidateValues(defs []ParameterDefinition, values map[string]any) (map[string]any, error) {
	typed := make(map[string]any, len(defs))
	var issues []ParameterIssue

	for _, def := range defs {
		raw, present := values[def.Name]
		if !present || raw == nil {
			if def.Default != nil {
				raw = def.Default
			} else if def.Required {
				issues = append(issues, ParameterIssue{
					Name:    def.Name,
					Code:    IssueMissingParameter,
					Message: "required parameter has no value and no default",
				})
				continue
			} else {
				continue
			}
		}

		value, issue := coerceAndCheck(def, raw)
		if issue != nil {
			issues = append(issues, *issue)
			continue
		}
		typed[def.Name] = value
	}

	if len(issues) > 0 {
		return nil, &ValidationError{Issues: issues}
	}
	return typed, nil
}

func coerceAndCheck(def ParameterDefinition, raw any) (any, *ParameterIssue) {
	switch def.Type {
	case ParamString:
		s, ok := asString(raw)
		if !ok {
			return nil, typeIssue(def, raw)
		}
		if def.pattern != nil && !def.pattern.MatchString(s) {
			return nil, &ParameterIssue{
				Name:    def.Name,
				Code:    IssuePatternMismatch,
				Message: fmt.Sprintf("value does not match pattern %q", def.Pattern),
			}
		}
		return s, nil

	case ParamNumber:
		n, ok := asNumber(raw)
		if !ok {
			return nil, typeIssue(def, raw)
		}
		if issue := checkRange(def, n); issue != nil {
			return nil, issue
		}
		return n, nil

	case ParamBoolean:
		switch v := raw.(type) {
		case bool:
			return v, nil
		case string:
			parsed, err := strconv.ParseBool(v)
			if err != nil {
				return nil, typeIssue(def, raw)
			}
			return parsed, nil
		default:
			return nil, typeIssue(def, raw)
		}

	case ParamDate:
		s, ok := asString(raw)
		if !ok {
			return nil, typeIssue(def, raw)
		}
		t, err := time.ParseInLocation("2006-01-02", s, time.UTC)
		if err != nil {
			return nil, typeIssue(def, raw)
		}
		return t, nil

	case ParamTimestamp:
		s, ok := asString(raw)
		if !ok {
			if t, isTime := raw.(time.Time); isTime {
				return t.UTC(), nil
			}
			return nil, typeIssue(def, raw)
		}
		t, err := parseTimestamp(s)
		if err != nil {
			return nil, typeIssue(def, raw)
		}
		return t, nil

	case ParamEnum:
		s, ok := asString(raw)
		if !ok {
			return nil, typeIssue(def, raw)
		}
		for _, allowed := range def.EnumValues {
			if s == allowed {
				return s, nil
			}
		}
		return nil, &ParameterIssue{
			Name:    def.Name,
			Code:    IssueInvalidEnumValue,
			Message: fmt.Sprintf("value %q is not one of the allowed enum values", s),
		}

	case ParamStringList:
		items, ok := asSlice(raw)
		if !ok {
			return nil, typeIssue(def, raw)
		}
		out := make([]string, 0, len(items))
		for _, item := range items {
			s, okItem := asString(item)
			if !okItem {
				return nil, typeIssue(def, item)
			}
			if def.pattern != nil && !def.pattern.MatchString(s) {
				return nil, &ParameterIssue{
					Name:    def.Name,
					Code:    IssuePatternMismatch,
					Message: fmt.Sprintf("element %q does not match pattern %q", s, def.Pattern),
				}
			}
			out = append(out, s)
		}
		return out, nil

	case ParamNumberList:
		items, ok := asSlice(raw)
		if !ok {
			return nil, typeIssue(def, raw)
		}
		out := make([]float64, 0, len(items))
		for _, item := range items {
			n, okItem := asNumber(item)
			if !okItem {
				return nil, typeIssue(def, item)
			}
			if issue := checkRange(def, n); issue != nil {
				return nil, issue
			}
			out = append(out, n)
		}
		return out, nil
	}

	return nil, typeIssue(def, raw)
}

func checkRange(def ParameterDefinition, n float64) *ParameterIssue {
	if def.Min != nil && n < *def.Min {
		return &ParameterIssue{
			Name:    def.Name,
			Code:    IssueOutOfRange,
			Message: fmt.Sprintf("value %v is below minimum %v", n, *def.Min),
		}
	}
	if def.Max != nil && n > *def.Max {
		return &ParameterIssue{
			Name:    def.Name,
			Code:    IssueOutOfRange,
			Message: fmt.Sprintf("value %v is above maximum %v", n, *def.Max),
		}
	}
	return nil
}

func typeIssue(def ParameterDefinition, raw any) *ParameterIssue {
	return &ParameterIssue{
		Name:    def.Name,
		Code:    IssueTypeMismatch,
		Message: fmt.Sprintf("value of type %T is not a valid %s", raw, def.Type),
	}
}

func asString(raw any) (string, bool) {
	s, ok := raw.(string)
	return s, ok
}

func asNumber(raw any) (float64, bool) {
	switch v := raw.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		parsed, err := v.Float64()
		if err != nil {
			return 0, false
		}
		return parsed, true
	case string:
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, false
		}
		return parsed, true
	default:
		return 0, false
	}
}

func asSlice(raw any) ([]any, bool) {
	switch v := raw.(type) {
	case []any:
		return v, true
	case []string:
		out := make([]any, len(v))
		for i, s := range v {
			out[i] = s
		}
		return out, true
	case []float64:
		out := make([]any, len(v))
		for i, n := range v {
			out[i] = n
		}
		return out, true
	default:
		return nil, false
	}
}

func parseTimestamp(s string) (time.Time, error) {
	layouts := []string{
		time.RFC3339,
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05",
		"2006-01-02",
	}
	for _, layout := range layouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}
