package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/graphdash/graphdash/internal/auth"
	"github.com/graphdash/graphdash/internal/catalog"
	"github.com/graphdash/graphdash/internal/engine"
	"github.com/graphdash/graphdash/internal/events"
)

type createGraphRequest struct {
	Name  string             `json:"name"`
	Nodes []engine.QueryNode `json:"nodes"`
}

type graphResponse struct {
	GraphID   string             `json:"graph_id"`
	Name      string             `json:"name"`
	Nodes     []engine.QueryNode `json:"nodes"`
	CreatedAt time.Time          `json:"created_at"`
	UpdatedAt time.Time          `json:"updated_at"`
}

type executeGraphRequest struct {
	Parameters map[string]any   `json:"parameters"`
	TimeRange  engine.TimeRange `json:"timeRange"`
}

func handleCreateGraph(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Catalog == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "CATALOG_NOT_CONFIGURED", "catalog dependencies are not configured", false, nil)
		return
	}

	workspaceID, err := workspaceFromRequest(r)
	if err != nil {
		writeError(r.Context(), w, http.StatusUnauthorized, "WORKSPACE_REQUIRED", err.Error(), false, nil)
		return
	}
	if err := requireRole(r, auth.RoleQueryRunner); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	var request createGraphRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&request); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid graph request body", false, map[string]any{"details": err.Error()})
		return
	}
	if strings.TrimSpace(request.Name) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "NAME_REQUIRED", "graph name is required", false, nil)
		return
	}
	if len(request.Nodes) == 0 {
		writeError(r.Context(), w, http.StatusBadRequest, "NODES_REQUIRED", "at least one query node is required", false, nil)
		return
	}

	// Reject unexecutable graphs at save time so the failure surfaces to the
	// author, not to a later dashboard viewer.
	if _, err := engine.BuildPlan(request.Nodes); err != nil {
		writeExecutionError(w, r, err)
		return
	}

	graph, err := deps.Catalog.CreateGraph(r.Context(), catalog.CreateGraphInput{
		WorkspaceID: workspaceID,
		Name:        request.Name,
		Nodes:       request.Nodes,
	})
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "CATALOG_ERROR", "failed to save graph", true, map[string]any{"details": err.Error()})
		return
	}

	writeJSON(w, http.StatusCreated, toGraphResponse(graph))
}

func handleListGraphs(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Catalog == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "CATALOG_NOT_CONFIGURED", "catalog dependencies are not configured", false, nil)
		return
	}

	workspaceID, err := workspaceFromRequest(r)
	if err != nil {
		writeError(r.Context(), w, http.StatusUnauthorized, "WORKSPACE_REQUIRED", err.Error(), false, nil)
		return
	}

	graphs, err := deps.Catalog.ListGraphs(r.Context(), workspaceID)
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "CATALOG_ERROR", "failed to list graphs", true, map[string]any{"details": err.Error()})
		return
	}

	responses := make([]graphResponse, 0, len(graphs))
	for _, graph := range graphs {
		responses = append(responses, toGraphResponse(graph))
	}
	writeJSON(w, http.StatusOK, map[string]any{"graphs": responses})
}

func handleGetGraph(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Catalog == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "CATALOG_NOT_CONFIGURED", "catalog dependencies are not configured", false, nil)
		return
	}

	workspaceID, err := workspaceFromRequest(r)
	if err != nil {
		writeError(r.Context(), w, http.StatusUnauthorized, "WORKSPACE_REQUIRED", err.Error(), false, nil)
		return
	}

	graph, err := deps.Catalog.GetGraph(r.Context(), workspaceID, r.PathValue("graph"))
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			writeError(r.Context(), w, http.StatusNotFound, "GRAPH_NOT_FOUND", "graph does not exist", false, nil)
			return
		}
		writeError(r.Context(), w, http.StatusInternalServerError, "CATALOG_ERROR", "failed to load graph", true, map[string]any{"details": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, toGraphResponse(graph))
}

func handleDeleteGraph(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Catalog == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "CATALOG_NOT_CONFIGURED", "catalog dependencies are not configured", false, nil)
		return
	}

	workspaceID, err := workspaceFromRequest(r)
	if err != nil {
		writeError(r.Context(), w, http.StatusUnauthorized, "WORKSPACE_REQUIRED", err.Error(), false, nil)
		return
	}
	if err := requireRole(r, auth.RoleQueryRunner); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	deleted, err := deps.Catalog.DeleteGraph(r.Context(), workspaceID, r.PathValue("graph"))
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "CATALOG_ERROR", "failed to delete graph", true, map[string]any{"details": err.Error()})
		return
	}
	if !deleted {
		writeError(r.Context(), w, http.StatusNotFound, "GRAPH_NOT_FOUND", "graph does not exist", false, nil)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"deleted": true})
}

func handleExecuteGraph(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Catalog == nil || deps.Engine == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "ENGINE_NOT_CONFIGURED", "execution dependencies are not configured", false, nil)
		return
	}

	workspaceID, err := workspaceFromRequest(r)
	if err != nil {
		writeError(r.Context(), w, http.StatusUnauthorized, "WORKSPACE_REQUIRED", err.Error(), false, nil)
		return
	}
	if err := requireRole(r, auth.RoleQueryRunner); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	var request executeGraphRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&request); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid execute request body", false, map[string]any{"details": err.Error()})
		return
	}

	graphID := r.PathValue("graph")
	graph, err := deps.Catalog.GetGraph(r.Context(), workspaceID, graphID)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			writeError(r.Context(), w, http.StatusNotFound, "GRAPH_NOT_FOUND", "graph does not exist", false, nil)
			return
		}
		writeError(r.Context(), w, http.StatusInternalServerError, "CATALOG_ERROR", "failed to load graph", true, map[string]any{"details": err.Error()})
		return
	}

	results, err := deps.Engine.Execute(r.Context(), engine.Request{
		WorkspaceID:     workspaceID,
		Nodes:           graph.Nodes,
		ParameterValues: request.Parameters,
		TimeRange:       request.TimeRange,
	})
	if err != nil {
		writeExecutionError(w, r, err)
		return
	}

	recordEvent(deps, workspaceID, events.TypeGraphExecuted, map[string]any{
		"graph_id":   graphID,
		"node_count": len(graph.Nodes),
	})
	writeJSON(w, http.StatusOK, executionResponse{Results: results})
}

func toGraphResponse(graph catalog.Graph) graphResponse {
	return graphResponse{
		GraphID:   graph.GraphID,
		Name:      graph.Name,
		Nodes:     graph.Nodes,
		CreatedAt: graph.CreatedAt,
		UpdatedAt: graph.UpdatedAt,
	}
}
