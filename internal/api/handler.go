// Package api exposes the HTTP surface: graph execution, ad-hoc previews,
// the data explorer, and control-plane management of data sources, graphs,
// and secrets.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/graphdash/graphdash/internal/catalog"
	"github.com/graphdash/graphdash/internal/config"
	"github.com/graphdash/graphdash/internal/engine"
	"github.com/graphdash/graphdash/internal/events"
	"github.com/graphdash/graphdash/internal/observability"
	"github.com/graphdash/graphdash/internal/secrets"
)

type ReadinessCheck func(ctx context.Context) error

// GraphEngine is the execution surface the handlers call.
type GraphEngine interface {
	Execute(ctx context.Context, req engine.Request) (map[string]engine.Result, error)
	Explore(ctx context.Context, workspaceID, dataSourceRef, sqlText string, page, pageSize int) (engine.Page, error)
}

// ConnectionTester probes a connection payload without registering anything.
type ConnectionTester interface {
	TestConnection(ctx context.Context, payload string, timeout time.Duration) error
}

type CatalogRepo interface {
	HealthCheck(ctx context.Context) error
	CreateDataSource(ctx context.Context, in catalog.CreateDataSourceInput) (catalog.DataSource, error)
	GetDataSource(ctx context.Context, workspaceID, ref string) (catalog.DataSource, error)
	ListDataSources(ctx context.Context, workspaceID string) ([]catalog.DataSource, error)
	DeleteDataSource(ctx context.Context, workspaceID, ref string) (bool, error)
	CreateGraph(ctx context.Context, in catalog.CreateGraphInput) (catalog.Graph, error)
	GetGraph(ctx context.Context, workspaceID, graphID string) (catalog.Graph, error)
	ListGraphs(ctx context.Context, workspaceID string) ([]catalog.Graph, error)
	DeleteGraph(ctx context.Context, workspaceID, graphID string) (bool, error)
}

type Dependencies struct {
	Logger            *slog.Logger
	Readiness         ReadinessCheck
	AuthMiddleware    func(http.Handler) http.Handler
	DependencyTimeout time.Duration
	Catalog           CatalogRepo
	Engine            GraphEngine
	Secrets           secrets.Store
	Connections       ConnectionTester
	Events            events.Pathway
	ConnectTest       time.Duration
	Explorer          config.ExplorerConfig
}

func NewHandler(cfg config.Config, deps Dependencies) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "service": cfg.Service.Name})
	})

	mux.HandleFunc("GET /v1/ready", func(w http.ResponseWriter, r *http.Request) {
		if deps.Readiness == nil {
			writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
			return
		}
		timeout := deps.DependencyTimeout
		if timeout <= 0 {
			timeout = 2 * time.Second
		}
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()
		if err := deps.Readiness(ctx); err != nil {
			writeError(r.Context(), w, http.StatusServiceUnavailable, "NOT_READY", err.Error(), true, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
	})

	mux.Handle("GET /v1/metrics", promhttp.Handler())

	protected := http.NewServeMux()
	protected.HandleFunc("POST /v1/preview", func(w http.ResponseWriter, r *http.Request) {
		handlePreview(deps, w, r)
	})
	protected.HandleFunc("POST /v1/graphs", func(w http.ResponseWriter, r *http.Request) {
		handleCreateGraph(deps, w, r)
	})
	protected.HandleFunc("GET /v1/graphs", func(w http.ResponseWriter, r *http.Request) {
		handleListGraphs(deps, w, r)
	})
	protected.HandleFunc("GET /v1/graphs/{graph}", func(w http.ResponseWriter, r *http.Request) {
		handleGetGraph(deps, w, r)
	})
	protected.HandleFunc("DELETE /v1/graphs/{graph}", func(w http.ResponseWriter, r *http.Request) {
		handleDeleteGraph(deps, w, r)
	})
	protected.HandleFunc("POST /v1/graphs/{graph}/execute", func(w http.ResponseWriter, r *http.Request) {
		handleExecuteGraph(deps, w, r)
	})
	protected.HandleFunc("POST /v1/explorer/query", func(w http.ResponseWriter, r *http.Request) {
		handleExplorerQuery(deps, w, r)
	})
	protected.HandleFunc("POST /v1/datasources", func(w http.ResponseWriter, r *http.Request) {
		handleCreateDataSource(deps, w, r)
	})
	protected.HandleFunc("GET /v1/datasources", func(w http.ResponseWriter, r *http.Request) {
		handleListDataSources(deps, w, r)
	})
	protected.HandleFunc("DELETE /v1/datasources/{ref}", func(w http.ResponseWriter, r *http.Request) {
		handleDeleteDataSource(deps, w, r)
	})
	protected.HandleFunc("POST /v1/datasources/test", func(w http.ResponseWriter, r *http.Request) {
		handleTestDataSource(deps, w, r)
	})
	protected.HandleFunc("PUT /v1/secrets/{name}", func(w http.ResponseWriter, r *http.Request) {
		handlePutSecret(deps, w, r)
	})
	protected.HandleFunc("DELETE /v1/secrets/{name}", func(w http.ResponseWriter, r *http.Request) {
		handleDeleteSecret(deps, w, r)
	})

	var protectedHandler http.Handler = protected
	if cfg.Auth.Required {
		if deps.AuthMiddleware == nil {
			if deps.Logger != nil {
				deps.Logger.Error("auth required but auth middleware missing")
			}
			protectedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				writeError(r.Context(), w, http.StatusInternalServerError, "AUTH_MIDDLEWARE_MISSING", "auth middleware is required by configuration", false, nil)
			})
		} else {
			protectedHandler = deps.AuthMiddleware(protectedHandler)
		}
	}
	mux.Handle("POST /v1/preview", protectedHandler)
	mux.Handle("POST /v1/graphs", protectedHandler)
	mux.Handle("GET /v1/graphs", protectedHandler)
	mux.Handle("GET /v1/graphs/{graph}", protectedHandler)
	mux.Handle("DELETE /v1/graphs/{graph}", protectedHandler)
	mux.Handle("POST /v1/graphs/{graph}/execute", protectedHandler)
	mux.Handle("POST /v1/explorer/query", protectedHandler)
	mux.Handle("POST /v1/datasources", protectedHandler)
	mux.Handle("GET /v1/datasources", protectedHandler)
	mux.Handle("DELETE /v1/datasources/{ref}", protectedHandler)
	mux.Handle("POST /v1/datasources/test", protectedHandler)
	mux.Handle("PUT /v1/secrets/{name}", protectedHandler)
	mux.Handle("DELETE /v1/secrets/{name}", protectedHandler)

	middlewares := []func(http.Handler) http.Handler{
		observability.TraceMiddleware,
		observability.MetricsMiddleware,
	}
	if deps.Logger != nil {
		middlewares = append(middlewares, observability.LoggingMiddleware(deps.Logger))
	}
	return chain(mux, middlewares...)
}

func CheckControlPlaneDSN(cfg config.Config) ReadinessCheck {
	return func(_ context.Context) error {
		if cfg.ControlPlane.DSN == "" {
			return errors.New("control-plane dsn is not configured")
		}
		return nil
	}
}

func CheckEncryptionKey(cfg config.Config) ReadinessCheck {
	return func(_ context.Context) error {
		if cfg.Secrets.EncryptionKey == "" {
			return errors.New("secrets encryption key is not configured")
		}
		return nil
	}
}

func CombineReadinessChecks(checks ...ReadinessCheck) ReadinessCheck {
	filtered := make([]ReadinessCheck, 0, len(checks))
	for _, check := range checks {
		if check != nil {
			filtered = append(filtered, check)
		}
	}
	return func(ctx context.Context) error {
		for _, check := range filtered {
			if err := check(ctx); err != nil {
				return err
			}
		}
		return nil
	}
}

func chain(base http.Handler, middlewares ...func(http.Handler) http.Handler) http.Handler {
	wrapped := base
	for i := len(middlewares) - 1; i >= 0; i-- {
		wrapped = middlewares[i](wrapped)
	}
	return wrapped
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(ctx context.Context, w http.ResponseWriter, status int, code, message string, retryable bool, extra map[string]any) {
	writeJSON(w, status, map[string]any{
		"error_code": code,
		"message":    message,
		"retryable":  retryable,
		"context":    extra,
		"trace_id":   observability.TraceIDFromContext(ctx),
	})
}
