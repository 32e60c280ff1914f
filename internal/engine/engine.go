package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/graphdash/graphdash/internal/observability"
)

// Request is one execution of a set of query nodes against a single resolved
// time window.
type Request struct {
	WorkspaceID     string
	Nodes           []QueryNode
	ParameterValues map[string]any
	TimeRange       TimeRange
}

type Engine struct {
	Connections        ConnectionProvider
	Logger             *slog.Logger
	QueryTimeout       time.Duration
	MaxParallelNodes   int
	PoolAcquireTimeout time.Duration
	Clock              func() time.Time
}

// Execute validates the request shape and every node's parameters before any
// database I/O, then walks the plan stage by stage. Independent SQL nodes of
// a stage run concurrently up to MaxParallelNodes; derived nodes run after
// the stage's queries so their upstream results are complete. Any node error
// aborts the whole request; partial results are discarded, never returned.
func (e *Engine) Execute(ctx context.Context, req Request) (map[string]Result, error) {
	plan, err := BuildPlan(req.Nodes)
	if err != nil {
		return nil, err
	}
	observability.ObserveRequestNodes(plan.NodeCount())

	now := time.Now
	if e.Clock != nil {
		now = e.Clock
	}
	window, err := req.TimeRange.Resolve(now())
	if err != nil {
		return nil, err
	}

	bound, err := e.bindSQLNodes(plan, req.ParameterValues, window)
	if err != nil {
		return nil, err
	}

	results := make(map[string]Result, plan.NodeCount())
	var mu sync.Mutex

	for _, stage := range plan.Stages {
		group, groupCtx := errgroup.WithContext(ctx)
		if e.MaxParallelNodes > 0 {
			group.SetLimit(e.MaxParallelNodes)
		}

		var derived []planNode
		for _, node := range stage {
			if node.Node.IsDerived() {
				derived = append(derived, node)
				continue
			}
			node := node
			group.Go(func() error {
				result, execErr := e.executeNode(groupCtx, req.WorkspaceID, node, bound[node.Node.RefID])
				if execErr != nil {
					return execErr
				}
				mu.Lock()
				results[node.Node.RefID] = result
				mu.Unlock()
				return nil
			})
		}
		if err := group.Wait(); err != nil {
			return nil, err
		}

		// Stage ordering already sorted derived nodes lexically.
		for _, node := range derived {
			start := now()
			result, evalErr := evaluateDerived(node, results)
			observability.ObserveNodeExecution("derived", evalErr, time.Since(start))
			if evalErr != nil {
				return nil, evalErr
			}
			results[node.Node.RefID] = result
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

// bindSQLNodes compiles each SQL node's parameter definitions, validates the
// runtime values, and checks that every placeholder in the node text has a
// binding. Issues across all nodes are aggregated so the caller sees every
// problem at once, before any connection is resolved.
func (e *Engine) bindSQLNodes(plan Plan, values map[string]any, window Window) (map[string]map[string]any, error) {
	bound := make(map[string]map[string]any)
	var issues []ParameterIssue

	for _, stage := range plan.Stages {
		for _, node := range stage {
			if node.Node.IsDerived() {
				continue
			}
			if node.Node.DataSourceRef == "" {
				issues = append(issues, ParameterIssue{
					Name:    node.Node.RefID,
					Code:    IssueMissingParameter,
					Message: "sql node requires a data source reference",
				})
				continue
			}

			defs, err := CompileDefinitions(node.Node.Parameters)
			if err != nil {
				issues = append(issues, ParameterIssue{
					Name:    node.Node.RefID,
					Code:    IssueTypeMismatch,
					Message: err.Error(),
				})
				continue
			}

			typed, err := ValidateValues(defs, values)
			if err != nil {
				var validationErr *ValidationError
				if errors.As(err, &validationErr) {
					issues = append(issues, validationErr.Issues...)
					continue
				}
				return nil, err
			}

			if !node.Node.DisableTimeRange {
				typed[TimeFromParam] = window.From
				typed[TimeToParam] = window.To
			}

			defined := make(map[string]struct{}, len(typed))
			for name := range typed {
				defined[name] = struct{}{}
			}
			for _, name := range templateParams(node.Node.Text) {
				if _, ok := defined[name]; !ok {
					issues = append(issues, ParameterIssue{
						Name:    name,
						Code:    IssueMissingParameter,
						Message: fmt.Sprintf("node %s: placeholder {{%s}} has no definition or value", node.Node.RefID, name),
					})
				}
			}

			bound[node.Node.RefID] = typed
		}
	}

	if len(issues) > 0 {
		return nil, &ValidationError{Issues: issues}
	}
	return bound, nil
}

func (e *Engine) executeNode(ctx context.Context, workspaceID string, node planNode, values map[string]any) (Result, error) {
	start := time.Now()
	result, err := e.runSQLNode(ctx, workspaceID, node, values)
	observability.ObserveNodeExecution("sql", err, time.Since(start))
	if err != nil && e.Logger != nil {
		e.Logger.WarnContext(ctx, "query node failed",
			slog.String("workspace_id", workspaceID),
			slog.String("ref_id", node.Node.RefID),
			slog.String("error", RedactCredentials(err.Error())),
		)
	}
	return result, err
}

func (e *Engine) runSQLNode(ctx context.Context, workspaceID string, node planNode, values map[string]any) (Result, error) {
	db, err := e.Connections.Resolve(ctx, workspaceID, node.Node.DataSourceRef)
	if err != nil {
		return Result{}, err
	}

	conn, err := acquireConn(ctx, db, node.Node.DataSourceRef, e.PoolAcquireTimeout)
	if err != nil {
		if errors.Is(err, ErrPoolExhausted) {
			observability.IncrementPoolExhausted()
		}
		return Result{}, err
	}
	defer func() { _ = conn.Close() }()

	queryCtx := ctx
	if e.QueryTimeout > 0 {
		var cancel context.CancelFunc
		queryCtx, cancel = context.WithTimeout(ctx, e.QueryTimeout)
		defer cancel()
	}
	return executeSQL(queryCtx, conn, node.Node.RefID, node.Node.Text, values)
}

// Explore services the ad-hoc explorer path: one read-only statement, one
// page of results.
func (e *Engine) Explore(ctx context.Context, workspaceID, dataSourceRef, sqlText string, page, pageSize int) (Page, error) {
	db, err := e.Connections.Resolve(ctx, workspaceID, dataSourceRef)
	if err != nil {
		return Page{}, err
	}
	conn, err := acquireConn(ctx, db, dataSourceRef, e.PoolAcquireTimeout)
	if err != nil {
		if errors.Is(err, ErrPoolExhausted) {
			observability.IncrementPoolExhausted()
		}
		return Page{}, err
	}
	defer func() { _ = conn.Close() }()

	queryCtx := ctx
	if e.QueryTimeout > 0 {
		var cancel context.CancelFunc
		queryCtx, cancel = context.WithTimeout(ctx, e.QueryTimeout)
		defer cancel()
	}
	return Paginate(queryCtx, conn, sqlText, page, pageSize)
}
