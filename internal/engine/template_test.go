package engine

import (
	"errors"
	"reflect"
	"testing"
)

func TestExpandTemplatePositionalBinds(t *testing.T) {
	text := "SELECT * FROM orders WHERE region = {{region}} AND ts >= {{from}} AND ts < {{to}}"
	expanded, args, err := expandTemplate(text, map[string]any{
		"region": "eu",
		"from":   "2024-01-01",
		"to":     "2024-02-01",
	})
	if err != nil {
		t.Fatalf("expandTemplate() error = %v", err)
	}
	want := "SELECT * FROM orders WHERE region = $1 AND ts >= $2 AND ts < $3"
	if expanded != want {
		t.Fatalf("expanded = %q, want %q", expanded, want)
	}
	if !reflect.DeepEqual(args, []any{"eu", "2024-01-01", "2024-02-01"}) {
		t.Fatalf("args = %v", args)
	}
}

func TestExpandTemplateReusesPositionForRepeatedName(t *testing.T) {
	expanded, args, err := expandTemplate(
		"SELECT {{limit}} AS a, {{region}}, {{limit}} AS b",
		map[string]any{"limit": 10, "region": "eu"},
	)
	if err != nil {
		t.Fatalf("expandTemplate() error = %v", err)
	}
	if expanded != "SELECT $1 AS a, $2, $1 AS b" {
		t.Fatalf("expanded = %q", expanded)
	}
	if !reflect.DeepEqual(args, []any{10, "eu"}) {
		t.Fatalf("args = %v", args)
	}
}

func TestExpandTemplateWhitespaceInsidePlaceholder(t *testing.T) {
	expanded, _, err := expandTemplate("SELECT {{ region }}", map[string]any{"region": "eu"})
	if err != nil {
		t.Fatalf("expandTemplate() error = %v", err)
	}
	if expanded != "SELECT $1" {
		t.Fatalf("expanded = %q", expanded)
	}
}

func TestExpandTemplateMissingValues(t *testing.T) {
	_, _, err := expandTemplate("SELECT {{a}}, {{b}}, {{a}}", map[string]any{})
	var validationErr *ValidationError
	if !errors.As(err, &validationErr) {
		t.Fatalf("error = %v, want ValidationError", err)
	}
	if len(validationErr.Issues) != 2 {
		t.Fatalf("issues = %v, want one per distinct placeholder", validationErr.Issues)
	}
	for _, issue := range validationErr.Issues {
		if issue.Code != IssueMissingParameter {
			t.Fatalf("code = %q", issue.Code)
		}
	}
}

func TestTemplateParams(t *testing.T) {
	names := templateParams("SELECT {{b}}, {{a}}, {{b}} WHERE x = {{c}}")
	if !reflect.DeepEqual(names, []string{"b", "a", "c"}) {
		t.Fatalf("names = %v", names)
	}
}

func TestStripTrailingSemicolons(t *testing.T) {
	if got := stripTrailingSemicolons(" SELECT 1 ; ; "); got != "SELECT 1" {
		t.Fatalf("got %q", got)
	}
}
