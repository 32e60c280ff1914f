package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/graphdash/graphdash/internal/catalog"
	"github.com/graphdash/graphdash/internal/engine"
)

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) HealthCheck(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping control-plane db: %w", err)
	}
	return nil
}

func (r *Repository) CreateWorkspace(ctx context.Context, in catalog.CreateWorkspaceInput) (catalog.Workspace, error) {
	status := in.Status
	if status == "" {
		status = "active"
	}

	query := `
INSERT INTO workspace (workspace_id, name, status)
VALUES ($1, $2, $3)
RETURNING created_at`
	var createdAt time.Time
	if err := r.db.QueryRowContext(ctx, query, in.WorkspaceID, in.Name, status).Scan(&createdAt); err != nil {
		return catalog.Workspace{}, fmt.Errorf("create workspace: %w", err)
	}
	return catalog.Workspace{
		WorkspaceID: in.WorkspaceID,
		Name:        in.Name,
		Status:      status,
		CreatedAt:   createdAt,
	}, nil
}

func (r *Repository) GetWorkspace(ctx context.Context, workspaceID string) (catalog.Workspace, error) {
	query := `
SELECT workspace_id, name, status, created_at
FROM workspace
WHERE workspace_id = $1`

	var workspace catalog.Workspace
	if err := r.db.QueryRowContext(ctx, query, workspaceID).Scan(
		&workspace.WorkspaceID,
		&workspace.Name,
		&workspace.Status,
		&workspace.CreatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return catalog.Workspace{}, catalog.ErrNotFound
		}
		return catalog.Workspace{}, fmt.Errorf("get workspace: %w", err)
	}
	return workspace, nil
}

func (r *Repository) CreateDataSource(ctx context.Context, in catalog.CreateDataSourceInput) (catalog.DataSource, error) {
	if in.Ref == "" {
		return catalog.DataSource{}, fmt.Errorf("data source ref is required")
	}
	engineName := in.Engine
	if engineName == "" {
		engineName = "postgres"
	}
	secretName := in.SecretName
	if secretName == "" {
		secretName = in.Ref
	}

	query := `
INSERT INTO data_source (workspace_id, ref, name, engine, secret_name)
VALUES ($1, $2, $3, $4, $5)
RETURNING created_at, updated_at`
	var createdAt, updatedAt time.Time
	if err := r.db.QueryRowContext(ctx, query, in.WorkspaceID, in.Ref, in.Name, engineName, secretName).
		Scan(&createdAt, &updatedAt); err != nil {
		return catalog.DataSource{}, fmt.Errorf("create data source: %w", err)
	}
	return catalog.DataSource{
		WorkspaceID: in.WorkspaceID,
		Ref:         in.Ref,
		Name:        in.Name,
		Engine:      engineName,
		SecretName:  secretName,
		CreatedAt:   createdAt,
		UpdatedAt:   updatedAt,
	}, nil
}

func (r *Repository) GetDataSource(ctx context.Context, workspaceID, ref string) (catalog.DataSource, error) {
	query := `
SELECT workspace_id, ref, name, engine, secret_name, created_at, updated_at
FROM data_source
WHERE workspace_id = $1 AND ref = $2`

	var source catalog.DataSource
	if err := r.db.QueryRowContext(ctx, query, workspaceID, ref).Scan(
		&source.WorkspaceID,
		&source.Ref,
		&source.Name,
		&source.Engine,
		&source.SecretName,
		&source.CreatedAt,
		&source.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return catalog.DataSource{}, catalog.ErrNotFound
		}
		return catalog.DataSource{}, fmt.Errorf("get data source: %w", err)
	}
	return source, nil
}

func (r *Repository) ListDataSources(ctx context.Context, workspaceID string) ([]catalog.DataSource, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT workspace_id, ref, name, engine, secret_name, created_at, updated_at
FROM data_source
WHERE workspace_id = $1
ORDER BY ref`, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("list data sources: %w", err)
	}
	defer func() { _ = rows.Close() }()

	sources := make([]catalog.DataSource, 0)
	for rows.Next() {
		var source catalog.DataSource
		if err := rows.Scan(
			&source.WorkspaceID,
			&source.Ref,
			&source.Name,
			&source.Engine,
			&source.SecretName,
			&source.CreatedAt,
			&source.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan data source: %w", err)
		}
		sources = append(sources, source)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list data sources: %w", err)
	}
	return sources, nil
}

func (r *Repository) DeleteDataSource(ctx context.Context, workspaceID, ref string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
DELETE FROM data_source
WHERE workspace_id = $1 AND ref = $2`, workspaceID, ref)
	if err != nil {
		return false, fmt.Errorf("delete data source: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete data source: %w", err)
	}
	return affected > 0, nil
}

func (r *Repository) CreateGraph(ctx context.Context, in catalog.CreateGraphInput) (catalog.Graph, error) {
	if len(in.Nodes) == 0 {
		return catalog.Graph{}, fmt.Errorf("graph requires at least one node")
	}
	nodesJSON, err := json.Marshal(in.Nodes)
	if err != nil {
		return catalog.Graph{}, fmt.Errorf("encode graph nodes: %w", err)
	}
	graphID := uuid.NewString()

	query := `
INSERT INTO graph (graph_id, workspace_id, name, nodes_json)
VALUES ($1, $2, $3, $4::jsonb)
RETURNING created_at, updated_at`
	var createdAt, updatedAt time.Time
	if err := r.db.QueryRowContext(ctx, query, graphID, in.WorkspaceID, in.Name, string(nodesJSON)).
		Scan(&createdAt, &updatedAt); err != nil {
		return catalog.Graph{}, fmt.Errorf("create graph: %w", err)
	}
	return catalog.Graph{
		WorkspaceID: in.WorkspaceID,
		GraphID:     graphID,
		Name:        in.Name,
		Nodes:       in.Nodes,
		CreatedAt:   createdAt,
		UpdatedAt:   updatedAt,
	}, nil
}

func (r *Repository) GetGraph(ctx context.Context, workspaceID, graphID string) (catalog.Graph, error) {
	query := `
SELECT graph_id, workspace_id, name, nodes_json, created_at, updated_at
FROM graph
WHERE workspace_id = $1 AND graph_id = $2`

	var graph catalog.Graph
	var nodesJSON []byte
	if err := r.db.QueryRowContext(ctx, query, workspaceID, graphID).Scan(
		&graph.GraphID,
		&graph.WorkspaceID,
		&graph.Name,
		&nodesJSON,
		&graph.CreatedAt,
		&graph.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return catalog.Graph{}, catalog.ErrNotFound
		}
		return catalog.Graph{}, fmt.Errorf("get graph: %w", err)
	}
	if err := json.Unmarshal(nodesJSON, &graph.Nodes); err != nil {
		return catalog.Graph{}, fmt.Errorf("decode graph nodes: %w", err)
	}
	return graph, nil
}

func (r *Repository) ListGraphs(ctx context.Context, workspaceID string) ([]catalog.Graph, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT graph_id, workspace_id, name, nodes_json, created_at, updated_at
FROM graph
WHERE workspace_id = $1
ORDER BY name`, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("list graphs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	graphs := make([]catalog.Graph, 0)
	for rows.Next() {
		var graph catalog.Graph
		var nodesJSON []byte
		if err := rows.Scan(
			&graph.GraphID,
			&graph.WorkspaceID,
			&graph.Name,
			&nodesJSON,
			&graph.CreatedAt,
			&graph.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan graph: %w", err)
		}
		var nodes []engine.QueryNode
		if err := json.Unmarshal(nodesJSON, &nodes); err != nil {
			return nil, fmt.Errorf("decode graph nodes: %w", err)
		}
		graph.Nodes = nodes
		graphs = append(graphs, graph)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list graphs: %w", err)
	}
	return graphs, nil
}

func (r *Repository) DeleteGraph(ctx context.Context, workspaceID, graphID string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
DELETE FROM graph
WHERE workspace_id = $1 AND graph_id = $2`, workspaceID, graphID)
	if err != nil {
		return false, fmt.Errorf("delete graph: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete graph: %w", err)
	}
	return affected > 0, nil
}
