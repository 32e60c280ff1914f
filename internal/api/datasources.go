package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/graphdash/graphdash/internal/auth"
	"github.com/graphdash/graphdash/internal/catalog"
	"github.com/graphdash/graphdash/internal/connect"
	"github.com/graphdash/graphdash/internal/events"
	"github.com/graphdash/graphdash/internal/secrets"
)

type createDataSourceRequest struct {
	Ref        string `json:"ref"`
	Name       string `json:"name"`
	Engine     string `json:"engine"`
	SecretName string `json:"secret_name"`
	// Payload optionally registers the connection secret in the same call.
	Payload string `json:"payload"`
}

type dataSourceResponse struct {
	Ref        string    `json:"ref"`
	Name       string    `json:"name"`
	Engine     string    `json:"engine"`
	SecretName string    `json:"secret_name"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type testDataSourceRequest struct {
	Payload string `json:"payload"`
}

type putSecretRequest struct {
	Payload string `json:"payload"`
}

func handleCreateDataSource(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Catalog == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "CATALOG_NOT_CONFIGURED", "catalog dependencies are not configured", false, nil)
		return
	}

	workspaceID, err := workspaceFromRequest(r)
	if err != nil {
		writeError(r.Context(), w, http.StatusUnauthorized, "WORKSPACE_REQUIRED", err.Error(), false, nil)
		return
	}
	if err := requireRole(r, auth.RoleSourceAdmin); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	var request createDataSourceRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&request); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid data source request body", false, map[string]any{"details": err.Error()})
		return
	}
	if strings.TrimSpace(request.Ref) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "REF_REQUIRED", "ref is required", false, nil)
		return
	}
	if request.Payload != "" && deps.Secrets == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "SECRETS_NOT_CONFIGURED", "secret dependencies are not configured", false, nil)
		return
	}

	source, err := deps.Catalog.CreateDataSource(r.Context(), catalog.CreateDataSourceInput{
		WorkspaceID: workspaceID,
		Ref:         request.Ref,
		Name:        request.Name,
		Engine:      request.Engine,
		SecretName:  request.SecretName,
	})
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "CATALOG_ERROR", "failed to register data source", true, map[string]any{"details": err.Error()})
		return
	}

	if request.Payload != "" {
		if _, err := deps.Secrets.SetSecret(r.Context(), workspaceID, source.SecretName, request.Payload); err != nil {
			writeError(r.Context(), w, http.StatusInternalServerError, "SECRET_STORE_ERROR", "data source registered but secret write failed", true, map[string]any{"ref": source.Ref})
			return
		}
	}

	recordEvent(deps, workspaceID, events.TypeDataSourceCreated, map[string]any{
		"ref":    source.Ref,
		"engine": source.Engine,
	})
	writeJSON(w, http.StatusCreated, toDataSourceResponse(source))
}

func handleListDataSources(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Catalog == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "CATALOG_NOT_CONFIGURED", "catalog dependencies are not configured", false, nil)
		return
	}

	workspaceID, err := workspaceFromRequest(r)
	if err != nil {
		writeError(r.Context(), w, http.StatusUnauthorized, "WORKSPACE_REQUIRED", err.Error(), false, nil)
		return
	}

	sources, err := deps.Catalog.ListDataSources(r.Context(), workspaceID)
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "CATALOG_ERROR", "failed to list data sources", true, map[string]any{"details": err.Error()})
		return
	}

	responses := make([]dataSourceResponse, 0, len(sources))
	for _, source := range sources {
		responses = append(responses, toDataSourceResponse(source))
	}
	writeJSON(w, http.StatusOK, map[string]any{"data_sources": responses})
}

func handleDeleteDataSource(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Catalog == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "CATALOG_NOT_CONFIGURED", "catalog dependencies are not configured", false, nil)
		return
	}

	workspaceID, err := workspaceFromRequest(r)
	if err != nil {
		writeError(r.Context(), w, http.StatusUnauthorized, "WORKSPACE_REQUIRED", err.Error(), false, nil)
		return
	}
	if err := requireRole(r, auth.RoleSourceAdmin); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	ref := r.PathValue("ref")
	deleted, err := deps.Catalog.DeleteDataSource(r.Context(), workspaceID, ref)
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "CATALOG_ERROR", "failed to delete data source", true, map[string]any{"details": err.Error()})
		return
	}
	if !deleted {
		writeError(r.Context(), w, http.StatusNotFound, "DATA_SOURCE_NOT_FOUND", "data source does not exist", false, nil)
		return
	}

	recordEvent(deps, workspaceID, events.TypeDataSourceDeleted, map[string]any{"ref": ref})
	writeJSON(w, http.StatusOK, map[string]any{"deleted": true})
}

func handleTestDataSource(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Connections == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "CONNECT_NOT_CONFIGURED", "connection dependencies are not configured", false, nil)
		return
	}

	if _, err := workspaceFromRequest(r); err != nil {
		writeError(r.Context(), w, http.StatusUnauthorized, "WORKSPACE_REQUIRED", err.Error(), false, nil)
		return
	}
	if err := requireRole(r, auth.RoleSourceAdmin); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	var request testDataSourceRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&request); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid test request body", false, map[string]any{"details": err.Error()})
		return
	}
	if strings.TrimSpace(request.Payload) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "PAYLOAD_REQUIRED", "connection payload is required", false, nil)
		return
	}

	timeout := deps.ConnectTest
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if err := deps.Connections.TestConnection(r.Context(), request.Payload, timeout); err != nil {
		var connErr *connect.ConnectionFailedError
		if errors.As(err, &connErr) {
			writeError(r.Context(), w, http.StatusBadGateway, "CONNECTION_FAILED", connErr.Message, true, nil)
			return
		}
		writeError(r.Context(), w, http.StatusBadGateway, "CONNECTION_FAILED", "connection test failed", true, nil)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func handlePutSecret(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Secrets == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "SECRETS_NOT_CONFIGURED", "secret dependencies are not configured", false, nil)
		return
	}

	workspaceID, err := workspaceFromRequest(r)
	if err != nil {
		writeError(r.Context(), w, http.StatusUnauthorized, "WORKSPACE_REQUIRED", err.Error(), false, nil)
		return
	}
	if err := requireRole(r, auth.RoleSourceAdmin); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	var request putSecretRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&request); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid secret request body", false, map[string]any{"details": err.Error()})
		return
	}
	if request.Payload == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "PAYLOAD_REQUIRED", "secret payload is required", false, nil)
		return
	}

	name := r.PathValue("name")
	secret, err := deps.Secrets.SetSecret(r.Context(), workspaceID, name, request.Payload)
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "SECRET_STORE_ERROR", "failed to store secret", true, nil)
		return
	}

	recordEvent(deps, workspaceID, events.TypeSecretRotated, map[string]any{"name": name})
	// The payload never appears in the response, only the rotation timestamp.
	writeJSON(w, http.StatusOK, map[string]any{"name": secret.Name, "updated_at": secret.UpdatedAt})
}

func handleDeleteSecret(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Secrets == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "SECRETS_NOT_CONFIGURED", "secret dependencies are not configured", false, nil)
		return
	}

	workspaceID, err := workspaceFromRequest(r)
	if err != nil {
		writeError(r.Context(), w, http.StatusUnauthorized, "WORKSPACE_REQUIRED", err.Error(), false, nil)
		return
	}
	if err := requireRole(r, auth.RoleSourceAdmin); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	name := r.PathValue("name")
	if err := deps.Secrets.DeleteSecret(r.Context(), workspaceID, name); err != nil {
		if errors.Is(err, secrets.ErrSecretNotFound) {
			writeError(r.Context(), w, http.StatusNotFound, "SECRET_NOT_FOUND", "secret does not exist", false, nil)
			return
		}
		writeError(r.Context(), w, http.StatusInternalServerError, "SECRET_STORE_ERROR", "failed to delete secret", true, nil)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"deleted": true})
}

func toDataSourceResponse(source catalog.DataSource) dataSourceResponse {
	return dataSourceResponse{
		Ref:        source.Ref,
		Name:       source.Name,
		Engine:     source.Engine,
		SecretName: source.SecretName,
		CreatedAt:  source.CreatedAt,
		UpdatedAt:  source.UpdatedAt,
	}
}
