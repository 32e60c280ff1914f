// Package catalog defines the control-plane entities: workspaces, the data
// sources their graphs query, and the saved graphs themselves.
package catalog

import (
	"context"
	"errors"
	"time"

	"github.com/graphdash/graphdash/internal/engine"
)

var ErrNotFound = errors.New("catalog: not found")

type Repository interface {
	HealthCheck(ctx context.Context) error
	CreateWorkspace(ctx context.Context, in CreateWorkspaceInput) (Workspace, error)
	GetWorkspace(ctx context.Context, workspaceID string) (Workspace, error)
	CreateDataSource(ctx context.Context, in CreateDataSourceInput) (DataSource, error)
	GetDataSource(ctx context.Context, workspaceID, ref string) (DataSource, error)
	ListDataSources(ctx context.Context, workspaceID string) ([]DataSource, error)
	DeleteDataSource(ctx context.Context, workspaceID, ref string) (bool, error)
	CreateGraph(ctx context.Context, in CreateGraphInput) (Graph, error)
	GetGraph(ctx context.Context, workspaceID, graphID string) (Graph, error)
	ListGraphs(ctx context.Context, workspaceID string) ([]Graph, error)
	DeleteGraph(ctx context.Context, workspaceID, graphID string) (bool, error)
}

type Workspace struct {
	WorkspaceID string
	Name        string
	Status      string
	CreatedAt   time.Time
}

type CreateWorkspaceInput struct {
	WorkspaceID string
	Name        string
	Status      string
}

// DataSource points a stable reference at a target database. Credentials
// live in the secret store under SecretName; the catalog row carries no
// connection material.
type DataSource struct {
	WorkspaceID string
	Ref         string
	Name        string
	Engine      string
	SecretName  string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type CreateDataSourceInput struct {
	WorkspaceID string
	Ref         string
	Name        string
	Engine      string
	SecretName  string
}

// Graph is a saved set of query nodes executed together. Nodes are stored as
// the same JSON shape the execution API accepts.
type Graph struct {
	WorkspaceID string
	GraphID     string
	Name        string
	Nodes       []engine.QueryNode
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type CreateGraphInput struct {
	WorkspaceID string
	Name        string
	Nodes       []engine.QueryNode
}
