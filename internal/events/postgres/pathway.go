// Package postgres persists audit events in the control-plane database.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/graphdash/graphdash/internal/events"
)

type Pathway struct {
	db *sql.DB
}

func NewPathway(db *sql.DB) *Pathway {
	return &Pathway{db: db}
}

func (p *Pathway) Record(ctx context.Context, workspaceID string, eventType events.EventType, detail map[string]any) (events.Event, error) {
	if detail == nil {
		detail = map[string]any{}
	}
	detailJSON, err := json.Marshal(detail)
	if err != nil {
		return events.Event{}, fmt.Errorf("encode event detail: %w", err)
	}
	eventID := uuid.NewString()

	query := `
INSERT INTO audit_event (event_id, workspace_id, event_type, detail_json)
VALUES ($1, $2, $3, $4::jsonb)
RETURNING recorded_at`
	var recordedAt time.Time
	if err := p.db.QueryRowContext(ctx, query, eventID, workspaceID, string(eventType), string(detailJSON)).
		Scan(&recordedAt); err != nil {
		return events.Event{}, fmt.Errorf("record audit event: %w", err)
	}
	return events.Event{
		EventID:     eventID,
		WorkspaceID: workspaceID,
		Type:        eventType,
		Detail:      detail,
		RecordedAt:  recordedAt,
	}, nil
}

func (p *Pathway) ListRecent(ctx context.Context, workspaceID string, limit int) ([]events.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := p.db.QueryContext(ctx, `
SELECT event_id, workspace_id, event_type, detail_json, recorded_at
FROM audit_event
WHERE workspace_id = $1
ORDER BY recorded_at DESC
LIMIT $2`, workspaceID, limit)
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make([]events.Event, 0)
	for rows.Next() {
		var event events.Event
		var eventType string
		var detailJSON []byte
		if err := rows.Scan(&event.EventID, &event.WorkspaceID, &eventType, &detailJSON, &event.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		event.Type = events.EventType(eventType)
		if err := json.Unmarshal(detailJSON, &event.Detail); err != nil {
			return nil, fmt.Errorf("decode event detail: %w", err)
		}
		out = append(out, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	return out, nil
}
