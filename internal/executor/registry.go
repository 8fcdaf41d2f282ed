package executor

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/marcboeker/go-duckdb/v2"

	"github.com/duckmesh/querypilot/internal/schema"
)

type ConnectionConfig struct {
	ID      string
	Dialect schema.Dialect
	DSN     string
}

type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxIdleTime time.Duration
	ConnMaxLifetime time.Duration
}

type connection struct {
	dialect schema.Dialect
	db      *sql.DB
}

// Registry holds one pool per target database.
type Registry struct {
	connections map[string]connection
}

func NewRegistry() *Registry {
	return &Registry{connections: map[string]connection{}}
}

// Open connects to every configured target and pings it. On failure all pools opened so far
// are closed.
func Open(ctx context.Context, configs []ConnectionConfig, pool PoolConfig) (*Registry, error) {
	registry := NewRegistry()
	for _, cfg := range configs {
		db, err := openDB(ctx, cfg, pool)
		if err != nil {
			_ = registry.Close()
			return nil, err
		}
		if err := registry.Add(cfg.ID, cfg.Dialect, db); err != nil {
			_ = db.Close()
			_ = registry.Close()
			return nil, err
		}
	}
	return registry, nil
}

func openDB(ctx context.Context, cfg ConnectionConfig, pool PoolConfig) (*sql.DB, error) {
	if strings.TrimSpace(cfg.DSN) == "" && cfg.Dialect != schema.DialectDuckDB {
		return nil, fmt.Errorf("connection %q: dsn is required", cfg.ID)
	}
	driver, err := driverName(cfg.Dialect)
	if err != nil {
		return nil, fmt.Errorf("connection %q: %w", cfg.ID, err)
	}

	db, err := sql.Open(driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open connection %q: %w", cfg.ID, err)
	}
	if pool.MaxOpenConns > 0 {
		db.SetMaxOpenConns(pool.MaxOpenConns)
	}
	if pool.MaxIdleConns > 0 {
		db.SetMaxIdleConns(pool.MaxIdleConns)
	}
	if pool.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(pool.ConnMaxIdleTime)
	}
	if pool.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(pool.ConnMaxLifetime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping connection %q: %w", cfg.ID, err)
	}
	return db, nil
}

func driverName(dialect schema.Dialect) (string, error) {
	switch dialect {
	case schema.DialectPostgres:
		return "pgx", nil
	case schema.DialectMySQL, schema.DialectMariaDB:
		return "mysql", nil
	case schema.DialectDuckDB:
		return "duckdb", nil
	default:
		return "", fmt.Errorf("unsupported dialect %q", dialect)
	}
}

// Add registers an already opened pool. The registry takes ownership of db.
func (r *Registry) Add(id string, dialect schema.Dialect, db *sql.DB) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("connection id is required")
	}
	if db == nil {
		return fmt.Errorf("connection %q: db is required", id)
	}
	if _, exists := r.connections[id]; exists {
		return fmt.Errorf("duplicate connection %q", id)
	}
	r.connections[id] = connection{dialect: dialect, db: db}
	return nil
}

func (r *Registry) lookup(id string) (connection, error) {
	conn, ok := r.connections[id]
	if !ok {
		return connection{}, fmt.Errorf("%w: %q", ErrUnknownConnection, id)
	}
	return conn, nil
}

func (r *Registry) Dialect(_ context.Context, connectionID string) (schema.Dialect, error) {
	conn, err := r.lookup(connectionID)
	if err != nil {
		return "", err
	}
	return conn.dialect, nil
}

// DB exposes the pool for schema introspection.
func (r *Registry) DB(connectionID string) (*sql.DB, schema.Dialect, error) {
	conn, err := r.lookup(connectionID)
	if err != nil {
		return nil, "", err
	}
	return conn.db, conn.dialect, nil
}

func (r *Registry) List() []ConnectionInfo {
	infos := make([]ConnectionInfo, 0, len(r.connections))
	for id, conn := range r.connections {
		infos = append(infos, ConnectionInfo{ID: id, Dialect: conn.dialect})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}

// Ping checks every pool; used by the readiness check.
func (r *Registry) Ping(ctx context.Context) error {
	for _, info := range r.List() {
		if err := r.connections[info.ID].db.PingContext(ctx); err != nil {
			return fmt.Errorf("ping connection %q: %w", info.ID, err)
		}
	}
	return nil
}

func (r *Registry) Close() error {
	var errs []error
	for id, conn := range r.connections {
		if err := conn.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close connection %q: %w", id, err))
		}
	}
	r.connections = map[string]connection{}
	return errors.Join(errs...)
}

func (r *Registry) Execute(ctx context.Context, request Request) (Result, error) {
	conn, err := r.lookup(request.ConnectionID)
	if err != nil {
		return Result{}, err
	}

	sqlText := stripTrailingSemicolons(request.SQL)
	if sqlText == "" {
		return Result{}, fmt.Errorf("sql is required")
	}
	// MySQL and MariaDB reject derived tables with duplicate column names, so joins
	// like SELECT u.id, o.id cannot be wrapped. There the window is applied while scanning.
	scanWindow := request.RowLimit > 0 && !wrapsLimit(conn.dialect)
	if request.RowLimit > 0 && !scanWindow {
		sqlText = fmt.Sprintf("SELECT * FROM (%s) AS q LIMIT %d", sqlText, request.RowLimit)
		if request.Offset > 0 {
			sqlText = fmt.Sprintf("%s OFFSET %d", sqlText, request.Offset)
		}
	}

	start := time.Now()
	rows, err := conn.db.QueryContext(ctx, sqlText)
	if err != nil {
		return Result{}, fmt.Errorf("execute query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	rawColumns, err := rows.Columns()
	if err != nil {
		return Result{}, fmt.Errorf("query columns: %w", err)
	}
	columns := uniqueColumns(rawColumns)

	resultRows := make([]map[string]any, 0)
	skipped := 0
	for rows.Next() {
		if scanWindow && len(resultRows) >= request.RowLimit {
			break
		}
		values := make([]any, len(columns))
		scanTargets := make([]any, len(columns))
		for i := range values {
			scanTargets[i] = &values[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return Result{}, fmt.Errorf("scan row: %w", err)
		}
		if scanWindow && skipped < request.Offset {
			skipped++
			continue
		}
		row := make(map[string]any, len(columns))
		for i, value := range normalizeValues(values) {
			row[columns[i]] = value
		}
		resultRows = append(resultRows, row)
	}
	if err := rows.Err(); err != nil {
		return Result{}, fmt.Errorf("iterate rows: %w", err)
	}

	return Result{
		Columns:  columns,
		Rows:     resultRows,
		RowCount: len(resultRows),
		Duration: time.Since(start),
	}, nil
}

func wrapsLimit(dialect schema.Dialect) bool {
	switch dialect {
	case schema.DialectMySQL, schema.DialectMariaDB:
		return false
	default:
		return true
	}
}

func normalizeValues(values []any) []any {
	normalized := make([]any, len(values))
	for i, value := range values {
		switch typed := value.(type) {
		case []byte:
			normalized[i] = string(typed)
		default:
			normalized[i] = typed
		}
	}
	return normalized
}

// uniqueColumns suffixes repeated names (id, id_2, id_3) so rows can be keyed by column.
func uniqueColumns(columns []string) []string {
	seen := make(map[string]int, len(columns))
	unique := make([]string, 0, len(columns))
	taken := make(map[string]bool, len(columns))
	for _, name := range columns {
		candidate := name
		for taken[candidate] {
			seen[name]++
			candidate = fmt.Sprintf("%s_%d", name, seen[name]+1)
		}
		taken[candidate] = true
		unique = append(unique, candidate)
	}
	return unique
}

func stripTrailingSemicolons(sqlText string) string {
	trimmed := strings.TrimSpace(sqlText)
	for strings.HasSuffix(trimmed, ";") {
		trimmed = strings.TrimSpace(strings.TrimSuffix(trimmed, ";"))
	}
	return trimmed
}
