package migrations

import (
	"strings"
	"testing"
)

func TestControlPlaneMigrationContainsRequiredTables(t *testing.T) {
	cases := []struct {
		file     string
		snippets []string
	}{
		{
			file: "sql/000001_control_plane.up.sql",
			snippets: []string{
				"CREATE TABLE workspace",
				"CREATE TABLE data_source",
				"CREATE TABLE graph",
				"CREATE INDEX idx_graph_workspace_name",
			},
		},
		{
			file:     "sql/000002_secrets.up.sql",
			snippets: []string{"CREATE TABLE secret", "ciphertext"},
		},
		{
			file: "sql/000003_audit_events.up.sql",
			snippets: []string{
				"CREATE TABLE audit_event",
				"CREATE INDEX idx_audit_event_workspace_recorded",
			},
		},
	}

	for _, tc := range cases {
		body, err := embeddedFS.ReadFile(tc.file)
		if err != nil {
			t.Fatalf("ReadFile(%s) error = %v", tc.file, err)
		}
		for _, snippet := range tc.snippets {
			if !strings.Contains(string(body), snippet) {
				t.Fatalf("%s missing required snippet: %s", tc.file, snippet)
			}
		}
	}
}
