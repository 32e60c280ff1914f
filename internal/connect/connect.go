// Package connect turns data source references into live target-database
// pools. Pools are partitioned per workspace and data source: two workspaces
// resolving the same host never share connections.
package connect

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/graphdash/graphdash/internal/catalog"
	"github.com/graphdash/graphdash/internal/engine"
	"github.com/graphdash/graphdash/internal/observability"
	"github.com/graphdash/graphdash/internal/secrets"
)

// SourceCatalog is the slice of the control-plane catalog the resolver needs.
type SourceCatalog interface {
	GetDataSource(ctx context.Context, workspaceID, ref string) (catalog.DataSource, error)
}

// SecretReader resolves secret payloads; the caching store satisfies it.
type SecretReader interface {
	GetSecret(ctx context.Context, workspaceID, name string) (secrets.Secret, error)
}

// PoolConfig bounds each target-database pool.
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxIdleTime time.Duration
}

// ConnectionFailedError is the engine's connection-failure type, re-exported
// so callers of this package keep a single error to match against.
type ConnectionFailedError = engine.ConnectionFailedError

// Pools are keyed by the resolved target identity rather than the data
// source ref, so two refs pointing at the same database share one pool.
type poolKey struct {
	workspaceID string
	signature   string
}

type poolEntry struct {
	db  *sql.DB
	dsn string
}

// Resolver implements engine.ConnectionProvider against the catalog and
// secret store. A pool is opened lazily on first use and reused until the
// underlying secret rotates, at which point the stale pool is closed and a
// fresh one opened with the new credentials.
type Resolver struct {
	catalog SourceCatalog
	secrets SecretReader
	logger  *slog.Logger
	poolCfg PoolConfig

	mu    sync.Mutex
	pools map[poolKey]*poolEntry
}

var _ engine.ConnectionProvider = (*Resolver)(nil)

func NewResolver(sources SourceCatalog, secretReader SecretReader, logger *slog.Logger, poolCfg PoolConfig) *Resolver {
	return &Resolver{
		catalog: sources,
		secrets: secretReader,
		logger:  logger,
		poolCfg: poolCfg,
		pools:   make(map[poolKey]*poolEntry),
	}
}

func (r *Resolver) Resolve(ctx context.Context, workspaceID, dataSourceRef string) (*sql.DB, error) {
	source, err := r.catalog.GetDataSource(ctx, workspaceID, dataSourceRef)
	if err != nil {
		return nil, err
	}

	secret, err := r.secrets.GetSecret(ctx, workspaceID, source.SecretName)
	if err != nil {
		return nil, err
	}
	dsn, err := dsnFromPayload(secret.Payload)
	if err != nil {
		return nil, &ConnectionFailedError{
			DataSourceRef: dataSourceRef,
			Message:       engine.RedactCredentials(err.Error()),
		}
	}

	key := poolKey{workspaceID: workspaceID, signature: poolSignature(dsn)}

	r.mu.Lock()
	defer r.mu.Unlock()

	if entry, ok := r.pools[key]; ok {
		if entry.dsn == dsn {
			return entry.db, nil
		}
		// Secret rotated: retire the stale pool.
		_ = entry.db.Close()
		delete(r.pools, key)
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, &ConnectionFailedError{
			DataSourceRef: dataSourceRef,
			Message:       engine.RedactCredentials(err.Error()),
		}
	}
	if r.poolCfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(r.poolCfg.MaxOpenConns)
	}
	if r.poolCfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(r.poolCfg.MaxIdleConns)
	}
	if r.poolCfg.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(r.poolCfg.ConnMaxIdleTime)
	}

	r.pools[key] = &poolEntry{db: db, dsn: dsn}
	observability.SetActiveTargetPools(len(r.pools))
	if r.logger != nil {
		r.logger.InfoContext(ctx, "opened target pool",
			slog.String("workspace_id", workspaceID),
			slog.String("data_source_ref", dataSourceRef),
		)
	}
	return db, nil
}

// poolSignature reduces a DSN to the identity of the target it opens: host,
// port, database, and user. Credentials and options are left out so a
// password rotation keeps the key stable while the dsn comparison in Resolve
// replaces the pool.
func poolSignature(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil || u.Host == "" {
		return dsn
	}
	port := u.Port()
	if port == "" {
		port = "5432"
	}
	user := ""
	if u.User != nil {
		user = u.User.Username()
	}
	database := strings.TrimPrefix(u.Path, "/")
	return fmt.Sprintf("%s:%s/%s?user=%s", u.Hostname(), port, database, user)
}

// TestConnection opens a throwaway connection with the given payload and runs
// a probe query. It never touches the pool map.
func (r *Resolver) TestConnection(ctx context.Context, payload string, timeout time.Duration) error {
	dsn, err := dsnFromPayload(payload)
	if err != nil {
		observability.ObserveConnectionTest(false)
		return &ConnectionFailedError{DataSourceRef: "test", Message: engine.RedactCredentials(err.Error())}
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		observability.ObserveConnectionTest(false)
		return &ConnectionFailedError{DataSourceRef: "test", Message: engine.RedactCredentials(err.Error())}
	}
	defer func() { _ = db.Close() }()

	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var one int
	if err := db.QueryRowContext(probeCtx, "SELECT 1").Scan(&one); err != nil {
		observability.ObserveConnectionTest(false)
		return &ConnectionFailedError{DataSourceRef: "test", Message: engine.RedactCredentials(err.Error())}
	}
	observability.ObserveConnectionTest(true)
	return nil
}

// Close shuts down every open target pool.
func (r *Resolver) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, entry := range r.pools {
		_ = entry.db.Close()
		delete(r.pools, key)
	}
	observability.SetActiveTargetPools(0)
}

// connectionDoc is the JSON form of a secret payload. A payload that is not
// JSON is treated as a raw DSN.
type connectionDoc struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Database string `json:"database"`
	User     string `json:"user"`
	Password string `json:"password"`
	SSLMode  string `json:"sslMode"`
}

func dsnFromPayload(payload string) (string, error) {
	trimmed := strings.TrimSpace(payload)
	if trimmed == "" {
		return "", fmt.Errorf("secret payload is empty")
	}
	if !strings.HasPrefix(trimmed, "{") {
		return trimmed, nil
	}

	var doc connectionDoc
	if err := json.Unmarshal([]byte(trimmed), &doc); err != nil {
		return "", fmt.Errorf("decode connection document: %w", err)
	}
	if doc.Host == "" {
		return "", fmt.Errorf("connection document requires host")
	}
	if doc.Port == 0 {
		doc.Port = 5432
	}
	if doc.SSLMode == "" {
		doc.SSLMode = "prefer"
	}

	u := url.URL{
		Scheme: "postgres",
		Host:   fmt.Sprintf("%s:%d", doc.Host, doc.Port),
		Path:   "/" + doc.Database,
	}
	if doc.User != "" {
		if doc.Password != "" {
			u.User = url.UserPassword(doc.User, doc.Password)
		} else {
			u.User = url.User(doc.User)
		}
	}
	query := url.Values{}
	query.Set("sslmode", doc.SSLMode)
	u.RawQuery = query.Encode()
	return u.String(), nil
}
