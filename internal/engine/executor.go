package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"time"
)

// ConnectionProvider resolves a data source reference into a pooled database
// handle scoped to one workspace.
type ConnectionProvider interface {
	Resolve(ctx context.Context, workspaceID, dataSourceRef string) (*sql.DB, error)
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// executeSQL binds the node's validated parameters into its statement and
// runs it on conn. The context carries the per-request deadline; exceeding it
// cancels the statement server-side.
func executeSQL(ctx context.Context, conn querier, refID, text string, values map[string]any) (Result, error) {
	statement, args, err := expandTemplate(stripTrailingSemicolons(text), values)
	if err != nil {
		return Result{}, err
	}

	rows, err := conn.QueryContext(ctx, statement, args...)
	if err != nil {
		return Result{}, wrapQueryError(ctx, refID, err)
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return Result{}, wrapQueryError(ctx, refID, err)
	}

	resultRows := make([][]any, 0)
	for rows.Next() {
		values := make([]any, len(columns))
		scanTargets := make([]any, len(columns))
		for i := range values {
			scanTargets[i] = &values[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return Result{}, wrapQueryError(ctx, refID, err)
		}
		resultRows = append(resultRows, normalizeValues(values))
	}
	if err := rows.Err(); err != nil {
		return Result{}, wrapQueryError(ctx, refID, err)
	}

	return Result{Columns: columns, Rows: resultRows}, nil
}

func normalizeValues(values []any) []any {
	normalized := make([]any, len(values))
	for i, value := range values {
		switch typed := value.(type) {
		case []byte:
			normalized[i] = string(typed)
		case time.Time:
			normalized[i] = typed.UTC()
		default:
			normalized[i] = typed
		}
	}
	return normalized
}

func wrapQueryError(ctx context.Context, refID string, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return &QueryError{RefID: refID, Timeout: true}
	}
	return &QueryError{RefID: refID, Message: RedactCredentials(err.Error())}
}

var (
	urlCredentialsPattern = regexp.MustCompile(`://[^:/@\s]+:[^@\s]+@`)
	kvCredentialsPattern  = regexp.MustCompile(`(?i)(password|sslpassword)=[^\s'"]+`)
)

// RedactCredentials strips passwords from driver messages before they reach
// logs or response payloads.
func RedactCredentials(message string) string {
	message = urlCredentialsPattern.ReplaceAllString(message, "://***:***@")
	message = kvCredentialsPattern.ReplaceAllString(message, "$1=***")
	return message
}

// acquireConn checks out a dedicated connection, bounding the wait so an
// exhausted pool or an unreachable target surfaces as an error instead of an
// indefinite hang. ErrPoolExhausted is reserved for a pool that is actually
// saturated; everything else the driver reports on the way to the target is a
// ConnectionFailedError with credentials redacted.
func acquireConn(ctx context.Context, db *sql.DB, dataSourceRef string, acquireTimeout time.Duration) (*sql.Conn, error) {
	if acquireTimeout <= 0 {
		acquireTimeout = 5 * time.Second
	}
	acquireCtx, cancel := context.WithTimeout(ctx, acquireTimeout)
	defer cancel()

	conn, err := db.Conn(acquireCtx)
	if err == nil {
		return conn, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if errors.Is(acquireCtx.Err(), context.DeadlineExceeded) {
		stats := db.Stats()
		if stats.MaxOpenConnections > 0 && stats.InUse >= stats.MaxOpenConnections {
			return nil, fmt.Errorf("%w: no connection available within %s", ErrPoolExhausted, acquireTimeout)
		}
		// The pool had free capacity, so the wait burned on a dial that
		// never completed.
		return nil, &ConnectionFailedError{
			DataSourceRef: dataSourceRef,
			Message:       fmt.Sprintf("connection attempt timed out after %s", acquireTimeout),
		}
	}
	return nil, &ConnectionFailedError{
		DataSourceRef: dataSourceRef,
		Message:       RedactCredentials(err.Error()),
	}
}
