package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/graphdash/graphdash/internal/auth"
	"github.com/graphdash/graphdash/internal/catalog"
	"github.com/graphdash/graphdash/internal/connect"
	"github.com/graphdash/graphdash/internal/engine"
	"github.com/graphdash/graphdash/internal/events"
	"github.com/graphdash/graphdash/internal/secrets"
)

type previewRequest struct {
	Nodes []engine.QueryNode `json:"nodes"`
	// Query is the single-query form older dashboard clients still send.
	// It executes as a one-node graph and the response is the flattened
	// result rather than the results map.
	Query      *engine.QueryNode `json:"query"`
	Parameters map[string]any    `json:"parameters"`
	TimeRange  engine.TimeRange  `json:"timeRange"`
}

type executionResponse struct {
	Results map[string]engine.Result `json:"results"`
}

func handlePreview(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Engine == nil {
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

	var request previewRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&request); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid preview request body", false, map[string]any{"details": err.Error()})
		return
	}
	if len(request.Nodes) > 0 && request.Query != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "NODES_CONFLICT", "specify either nodes or query, not both", false, nil)
		return
	}
	nodes := request.Nodes
	single := false
	if len(nodes) == 0 && request.Query != nil {
		node := *request.Query
		if strings.TrimSpace(node.RefID) == "" {
			node.RefID = "A"
		}
		nodes = []engine.QueryNode{node}
		single = true
	}
	if len(nodes) == 0 {
		writeError(r.Context(), w, http.StatusBadRequest, "NODES_REQUIRED", "at least one query node is required", false, nil)
		return
	}

	results, err := deps.Engine.Execute(r.Context(), engine.Request{
		WorkspaceID:     workspaceID,
		Nodes:           nodes,
		ParameterValues: request.Parameters,
		TimeRange:       request.TimeRange,
	})
	if err != nil {
		writeExecutionError(w, r, err)
		return
	}

	recordEvent(deps, workspaceID, events.TypePreviewExecuted, map[string]any{
		"node_count": len(nodes),
	})
	if single {
		writeJSON(w, http.StatusOK, results[nodes[0].RefID])
		return
	}
	writeJSON(w, http.StatusOK, executionResponse{Results: results})
}

// recordEvent writes the audit record off the request path. A failed write
// is logged and never fails the response.
func recordEvent(deps Dependencies, workspaceID string, eventType events.EventType, detail map[string]any) {
	if deps.Events == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := deps.Events.Record(ctx, workspaceID, eventType, detail); err != nil && deps.Logger != nil {
			deps.Logger.Warn("audit event write failed", "event_type", string(eventType), "error", err.Error())
		}
	}()
}

// writeExecutionError maps engine and resolver failures to the response
// taxonomy. Driver messages pass through RedactCredentials before they ever
// reach an error type, so nothing here re-inspects them.
func writeExecutionError(w http.ResponseWriter, r *http.Request, err error) {
	var validationErr *engine.ValidationError
	if errors.As(err, &validationErr) {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_PARAMETERS", "parameter validation failed", false, map[string]any{"issues": validationErr.Issues})
		return
	}
	var planErr *engine.PlanError
	if errors.As(err, &planErr) {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_PLAN", planErr.Reason, false, map[string]any{"code": planErr.Code, "ref_ids": planErr.RefIDs})
		return
	}
	var rangeErr *engine.TimeRangeError
	if errors.As(err, &rangeErr) {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_TIME_RANGE", rangeErr.Error(), false, nil)
		return
	}
	var exprErr *engine.ExpressionError
	if errors.As(err, &exprErr) {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_EXPRESSION", exprErr.Error(), false, nil)
		return
	}
	var queryErr *engine.QueryError
	if errors.As(err, &queryErr) {
		if queryErr.Timeout {
			writeError(r.Context(), w, http.StatusGatewayTimeout, "QUERY_TIMEOUT", queryErr.Error(), true, map[string]any{"ref_id": queryErr.RefID})
			return
		}
		writeError(r.Context(), w, http.StatusBadGateway, "QUERY_FAILED", queryErr.Error(), true, map[string]any{"ref_id": queryErr.RefID})
		return
	}
	if errors.Is(err, engine.ErrPoolExhausted) {
		writeError(r.Context(), w, http.StatusServiceUnavailable, "POOL_EXHAUSTED", "no target database connection available", true, nil)
		return
	}
	var connErr *connect.ConnectionFailedError
	if errors.As(err, &connErr) {
		writeError(r.Context(), w, http.StatusBadGateway, "CONNECTION_FAILED", connErr.Error(), true, map[string]any{"data_source_ref": connErr.DataSourceRef})
		return
	}
	if errors.Is(err, catalog.ErrNotFound) {
		writeError(r.Context(), w, http.StatusNotFound, "NOT_FOUND", "requested resource does not exist", false, nil)
		return
	}
	if errors.Is(err, secrets.ErrSecretNotFound) {
		writeError(r.Context(), w, http.StatusNotFound, "SECRET_NOT_FOUND", "no secret registered for data source", false, nil)
		return
	}
	writeError(r.Context(), w, http.StatusInternalServerError, "INTERNAL", "execution failed", true, nil)
}

func workspaceFromRequest(r *http.Request) (string, error) {
	if identity, ok := auth.IdentityFromContext(r.Context()); ok {
		if strings.TrimSpace(identity.WorkspaceID) != "" {
			return identity.WorkspaceID, nil
		}
	}
	workspaceID := strings.TrimSpace(r.Header.Get("X-Workspace-ID"))
	if workspaceID == "" {
		return "", fmt.Errorf("workspace context is required")
	}
	return workspaceID, nil
}

func requireRole(r *http.Request, role string) error {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		return nil
	}
	if identity.HasRole(role) {
		return nil
	}
	return fmt.Errorf("missing required role %q", role)
}
