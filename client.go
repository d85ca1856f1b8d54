package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"slices"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// invalidCatalogName is SQLSTATE 3D000, returned when connecting to a
// database that does not exist.
const invalidCatalogName = "3D000"

const listDatabasesQuery = `
SELECT datname::text
FROM pg_catalog.pg_database
WHERE datistemplate = false
ORDER BY datname`

const listTablesQuery = `
SELECT table_name::text
FROM information_schema.tables
WHERE table_schema = $1 AND table_type = 'BASE TABLE'
ORDER BY table_name`

type schemaExecutor interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

// Client owns the pool for the current database and knows how to reach the
// admin database for server-level operations.
type Client struct {
	cfg     DatabaseConfig
	workers int

	mu      sync.RWMutex
	pool    *pgxpool.Pool
	current string
}

// Connect opens a pool to cfg.Name, creating the database first when the
// server reports it does not exist.
func Connect(ctx context.Context, cfg DatabaseConfig, workers int) (*Client, error) {
	c := &Client{cfg: cfg, workers: workers}
	pool, err := c.openOrCreate(ctx, cfg.Name)
	if err != nil {
		return nil, err
	}
	c.pool = pool
	c.current = cfg.Name
	return c, nil
}

func (c *Client) openPool(ctx context.Context, dbname string) (*pgxpool.Pool, error) {
	pcfg, err := pgxpool.ParseConfig(c.cfg.connString(dbname))
	if err != nil {
		return nil, fmt.Errorf("parse connection config: %w", err)
	}
	pcfg.MaxConns = c.cfg.MaxConns

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", dbname, err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connect %s: %w", dbname, err)
	}
	return pool, nil
}

func (c *Client) openOrCreate(ctx context.Context, dbname string) (*pgxpool.Pool, error) {
	log.Printf("connecting to PostgreSQL database %q on %s...", dbname, c.cfg.Host)
	pool, err := c.openPool(ctx, dbname)
	if err == nil {
		return pool, nil
	}
	if !isMissingDatabase(err) {
		return nil, err
	}

	log.Printf("  database %q does not exist, creating it", dbname)
	if err := c.withAdmin(ctx, func(conn *pgx.Conn) error {
		return createDatabase(ctx, conn, dbname)
	}); err != nil {
		return nil, err
	}
	return c.openPool(ctx, dbname)
}

func isMissingDatabase(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == invalidCatalogName
}

// withAdmin runs fn on a short-lived connection to the admin database.
func (c *Client) withAdmin(ctx context.Context, fn func(conn *pgx.Conn) error) error {
	conn, err := pgx.Connect(ctx, c.cfg.connString(c.cfg.AdminName))
	if err != nil {
		return fmt.Errorf("connect admin database %s: %w", c.cfg.AdminName, err)
	}
	defer conn.Close(context.Background())
	return fn(conn)
}

func (c *Client) db() *pgxpool.Pool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.pool
}

// Current returns the name of the database the pool is connected to.
func (c *Client) Current() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current
}

// ConnectTo switches the client to another database, creating it if absent.
func (c *Client) ConnectTo(ctx context.Context, dbname string) error {
	dbname = strings.TrimSpace(dbname)
	if dbname == "" {
		return ErrNameRequired
	}
	pool, err := c.openOrCreate(ctx, dbname)
	if err != nil {
		return err
	}

	c.mu.Lock()
	old := c.pool
	c.pool = pool
	c.current = dbname
	c.mu.Unlock()

	if old != nil {
		old.Close()
	}
	return nil
}

// CreateDatabase creates dbname unless it already exists.
func (c *Client) CreateDatabase(ctx context.Context, dbname string) error {
	dbname = strings.TrimSpace(dbname)
	if dbname == "" {
		return ErrNameRequired
	}
	return c.withAdmin(ctx, func(conn *pgx.Conn) error {
		existing, err := listDatabases(ctx, conn)
		if err != nil {
			return err
		}
		if slices.Contains(existing, dbname) {
			log.Printf("  database %q already exists", dbname)
			return nil
		}
		return createDatabase(ctx, conn, dbname)
	})
}

// ListDatabases returns non-template databases, read through the admin database.
func (c *Client) ListDatabases(ctx context.Context) ([]string, error) {
	var names []string
	err := c.withAdmin(ctx, func(conn *pgx.Conn) error {
		var err error
		names, err = listDatabases(ctx, conn)
		return err
	})
	return names, err
}

func (c *Client) ListTables(ctx context.Context, schema string) ([]string, error) {
	return listTables(ctx, c.db(), schema)
}

func (c *Client) TableDDL(ctx context.Context, schema, table string) (string, error) {
	return tableDDL(ctx, c.db(), schema, table)
}

func (c *Client) SchemaDDL(ctx context.Context, schema string) (map[string]string, error) {
	return schemaDDL(ctx, c.db(), schema, c.workers)
}

func (c *Client) SchemaReport(ctx context.Context, schema string) (*SchemaReport, error) {
	return schemaReport(ctx, c.db(), schema, c.workers)
}

// Query runs sql on one pooled connection, so session settings made by
// earlier statements of the text apply to the last one.
func (c *Client) Query(ctx context.Context, sql string, args ...any) (*QueryResult, error) {
	conn, err := c.db().Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()
	return runQuery(ctx, conn, sql, args...)
}

// QueryRows returns the raw rows of a single statement for callers that
// scan into their own types. The caller must close them.
func (c *Client) QueryRows(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return c.db().Query(ctx, sql, args...)
}

func (c *Client) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return c.db().Exec(ctx, sql, args...)
}

// ExecScript runs every statement of a multi-statement SQL text in order.
func (c *Client) ExecScript(ctx context.Context, name, sql string) (int, error) {
	conn, err := c.db().Acquire(ctx)
	if err != nil {
		return 0, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()
	return execScript(ctx, conn, name, sql)
}

func (c *Client) Ping(ctx context.Context) error {
	_, err := c.db().Exec(ctx, "SELECT 1")
	return err
}

func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pool != nil {
		c.pool.Close()
		c.pool = nil
	}
}

func createDatabase(ctx context.Context, exec schemaExecutor, dbname string) error {
	if _, err := exec.Exec(ctx, "CREATE DATABASE "+pgIdent(dbname)); err != nil {
		return fmt.Errorf("create database %s: %w", dbname, err)
	}
	log.Printf("  created database %q", dbname)
	return nil
}

func listDatabases(ctx context.Context, q catalogQuerier) ([]string, error) {
	names, err := collectStringRows(ctx, q, listDatabasesQuery)
	if err != nil {
		return nil, fmt.Errorf("list databases: %w", err)
	}
	return names, nil
}

func listTables(ctx context.Context, q catalogQuerier, schema string) ([]string, error) {
	names, err := collectStringRows(ctx, q, listTablesQuery, schema)
	if err != nil {
		return nil, fmt.Errorf("list tables in %s: %w", schema, err)
	}
	return names, nil
}
