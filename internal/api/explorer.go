package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/graphdash/graphdash/internal/auth"
	"github.com/graphdash/graphdash/internal/events"
)

type explorerQueryRequest struct {
	DataSourceRef string `json:"dataSourceRef"`
	SQL           string `json:"sql"`
	Page          int    `json:"page"`
	PageSize      int    `json:"pageSize"`
}

func handleExplorerQuery(deps Dependencies, w http.ResponseWriter, r *http.Request) {
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

	var request explorerQueryRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&request); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid explorer request body", false, map[string]any{"details": err.Error()})
		return
	}
	if strings.TrimSpace(request.DataSourceRef) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "DATA_SOURCE_REQUIRED", "dataSourceRef is required", false, nil)
		return
	}
	if strings.TrimSpace(request.SQL) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "SQL_REQUIRED", "sql is required", false, nil)
		return
	}

	pageSize := request.PageSize
	if pageSize <= 0 {
		pageSize = deps.Explorer.DefaultPageSize
	}
	if deps.Explorer.MaxPageSize > 0 && pageSize > deps.Explorer.MaxPageSize {
		pageSize = deps.Explorer.MaxPageSize
	}

	page, err := deps.Engine.Explore(r.Context(), workspaceID, request.DataSourceRef, request.SQL, request.Page, pageSize)
	if err != nil {
		writeExecutionError(w, r, err)
		return
	}

	recordEvent(deps, workspaceID, events.TypeExplorerQuery, map[string]any{
		"data_source_ref": request.DataSourceRef,
		"page":            page.Page,
	})
	writeJSON(w, http.StatusOK, page)
}
