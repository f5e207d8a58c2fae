// Package db provides the SurrealDB-backed task, item, question and review store.
package db

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/raphaelgruber/quizproc-go/internal/metrics"
	"github.com/surrealdb/surrealdb.go"
	"github.com/surrealdb/surrealdb.go/contrib/rews"
	"github.com/surrealdb/surrealdb.go/pkg/connection"
	"github.com/surrealdb/surrealdb.go/pkg/connection/gorillaws"
	"github.com/surrealdb/surrealdb.go/pkg/logger"
	"github.com/surrealdb/surrealdb.go/surrealcbor"
)

func init() {
	// Force HTTP/1.1 for WSS connections to prevent HTTP/2 ALPN negotiation.
	// WebSocket upgrade requires HTTP/1.1 semantics which fail under HTTP/2.
	gorillaws.DefaultDialer.TLSClientConfig = &tls.Config{
		NextProtos: []string{"http/1.1"},
	}
}

// Config holds SurrealDB connection configuration.
type Config struct {
	URL       string
	Namespace string
	Database  string
	Username  string
	Password  string
	AuthLevel string // "root" or "database"
}

// Client wraps SurrealDB connection with auto-reconnect.
type Client struct {
	conn    *rews.Connection[*gorillaws.Connection]
	db      *surrealdb.DB
	cfg     Config
	logger  logger.Logger
	metrics *metrics.Collector
}

// NewClient dials SurrealDB over a reconnecting websocket, signs in and
// selects the configured namespace and database. collector may be nil.
func NewClient(ctx context.Context, cfg Config, log *slog.Logger, collector *metrics.Collector) (*Client, error) {
	if log == nil {
		log = slog.Default()
	}
	sdkLogger := logger.New(log.Handler())

	conn := dial(cfg, sdkLogger)
	sdkLogger.Info("connecting to store", "url", cfg.URL)
	if err := conn.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}

	db, err := surrealdb.FromConnection(ctx, conn)
	if err == nil {
		err = authenticate(ctx, db, cfg)
	}
	if err == nil {
		if useErr := db.Use(ctx, cfg.Namespace, cfg.Database); useErr != nil {
			err = fmt.Errorf("use %s/%s: %w", cfg.Namespace, cfg.Database, useErr)
		}
	}
	if err != nil {
		_ = conn.Close(ctx)
		return nil, err
	}

	sdkLogger.Info("store ready", "namespace", cfg.Namespace, "database", cfg.Database, "auth_level", cfg.AuthLevel)
	return &Client{conn: conn, db: db, cfg: cfg, logger: sdkLogger, metrics: collector}, nil
}

// dial builds the reconnecting connection. gorillaws appends /rpc itself.
func dial(cfg Config, log logger.Logger) *rews.Connection[*gorillaws.Connection] {
	codec := surrealcbor.New()
	baseURL := strings.TrimSuffix(cfg.URL, "/rpc")

	conn := rews.New(
		func(context.Context) (*gorillaws.Connection, error) {
			return gorillaws.New(&connection.Config{
				BaseURL:     baseURL,
				Marshaler:   codec,
				Unmarshaler: codec,
				Logger:      log,
			}), nil
		},
		5*time.Second,
		codec,
		log,
	)

	retryer := rews.NewExponentialBackoffRetryer()
	retryer.InitialDelay = time.Second
	retryer.MaxDelay = 30 * time.Second
	retryer.Multiplier = 2.0
	retryer.MaxRetries = 10
	conn.Retryer = retryer
	return conn
}

// authenticate signs in as a root user, or as a database user when
// AuthLevel is "database".
func authenticate(ctx context.Context, db *surrealdb.DB, cfg Config) error {
	auth := surrealdb.Auth{Username: cfg.Username, Password: cfg.Password}
	if cfg.AuthLevel == "database" {
		auth.Namespace = cfg.Namespace
		auth.Database = cfg.Database
	}
	if _, err := db.SignIn(ctx, auth); err != nil {
		return fmt.Errorf("signin as %s: %w", cfg.Username, err)
	}
	return nil
}

// Close closes the connection and stops reconnect attempts.
func (c *Client) Close(ctx context.Context) error {
	return c.conn.Close(ctx)
}

// DB returns the underlying SurrealDB client for queries.
func (c *Client) DB() *surrealdb.DB {
	return c.db
}

// InitSchema applies SchemaSQL. Every definition is idempotent.
func (c *Client) InitSchema(ctx context.Context) error {
	if _, err := surrealdb.Query[any](ctx, c.db, SchemaSQL, nil); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	c.logger.Debug("schema applied")
	return nil
}

// Query executes a SurrealQL query with parameters.
// Returns the raw query results as []surrealdb.QueryResult[any].
func (c *Client) Query(ctx context.Context, sql string, vars map[string]any) (*[]surrealdb.QueryResult[any], error) {
	defer c.timeQuery(time.Now())
	results, err := surrealdb.Query[any](ctx, c.db, sql, vars)
	return results, wrapQueryError(err)
}

// Ping checks that the connection can serve a trivial query.
func (c *Client) Ping(ctx context.Context) error {
	if _, err := surrealdb.Query[any](ctx, c.db, "RETURN true", nil); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	return nil
}

// wipeTables lists every table in dependency order, children first.
var wipeTables = []string{"polish_history", "polish_review", "question_translation", "question", "task_item", "task"}

// WipeData deletes all records but keeps the schema. Used by --wipe and tests.
func (c *Client) WipeData(ctx context.Context) error {
	c.logger.Warn("wiping store", "tables", len(wipeTables))
	for _, table := range wipeTables {
		if err := c.exec(ctx, "DELETE type::table($tb)", map[string]any{"tb": table}); err != nil {
			return fmt.Errorf("wipe %s: %w", table, err)
		}
	}
	return nil
}

// queryRows runs a single-statement query and returns its rows.
func queryRows[T any](ctx context.Context, c *Client, sql string, vars map[string]any) ([]T, error) {
	defer c.timeQuery(time.Now())
	results, err := surrealdb.Query[[]T](ctx, c.db, sql, vars)
	if err != nil {
		return nil, wrapQueryError(err)
	}
	if results == nil || len(*results) == 0 {
		return []T{}, nil
	}
	return (*results)[0].Result, nil
}

// queryFirst runs a single-statement query and returns its first row or nil.
func queryFirst[T any](ctx context.Context, c *Client, sql string, vars map[string]any) (*T, error) {
	rows, err := queryRows[T](ctx, c, sql, vars)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

// exec runs statements whose results are not needed, such as transactions.
func (c *Client) exec(ctx context.Context, sql string, vars map[string]any) error {
	defer c.timeQuery(time.Now())
	_, err := surrealdb.Query[any](ctx, c.db, sql, vars)
	return wrapQueryError(err)
}

func (c *Client) timeQuery(start time.Time) {
	if c.metrics != nil {
		c.metrics.RecordDBQuery(time.Since(start))
	}
}
