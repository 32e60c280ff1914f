// Package events records audit events for executions and catalog changes.
package events

import (
	"context"
	"time"
)

type EventType string

const (
	TypeGraphExecuted     EventType = "graph_executed"
	TypePreviewExecuted   EventType = "preview_executed"
	TypeExplorerQuery     EventType = "explorer_query"
	TypeDataSourceCreated EventType = "data_source_created"
	TypeDataSourceDeleted EventType = "data_source_deleted"
	TypeSecretRotated     EventType = "secret_rotated"
)

// Event is one audit record. Detail carries event-specific fields and must
// never include credentials or statement parameter values.
type Event struct {
	EventID     string
	WorkspaceID string
	Type        EventType
	Detail      map[string]any
	RecordedAt  time.Time
}

type Pathway interface {
	Record(ctx context.Context, workspaceID string, eventType EventType, detail map[string]any) (Event, error)
	ListRecent(ctx context.Context, workspaceID string, limit int) ([]Event, error)
}
