package migrations

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"
)

//go:embed sql/*.sql
var embeddedFS embed.FS

const (
	migrationTable = "querypilot_schema_migrations"
	// lockKey serializes migrators that share a history database.
	lockKey int64 = 0x71707069
)

var (
	migrationNamePattern = regexp.MustCompile(`^([0-9]+)_(.+)\.(up|down)\.sql$`)

	errAlreadyApplied = errors.New("migration already applied")
	errNotApplied     = errors.New("migration not applied")
)

// Runner applies the query history schema. Each migration runs in its own
// transaction under a transaction-scoped advisory lock, so API replicas and the
// migrate command can race safely.
type Runner struct {
	fsys fs.FS
}

func NewRunner() *Runner {
	return &Runner{fsys: embeddedFS}
}

func NewRunnerWithFS(fsys fs.FS) *Runner {
	return &Runner{fsys: fsys}
}

type migration struct {
	Version int64
	Name    string
	UpSQL   string
	DownSQL string
}

// Status reports one embedded migration and when it was applied, if ever.
type Status struct {
	Version   int64
	Name      string
	AppliedAt *time.Time
}

func (s Status) Applied() bool {
	return s.AppliedAt != nil
}

func (r *Runner) Up(ctx context.Context, db *sql.DB, steps int) (int, error) {
	statuses, lookup, _, err := r.status(ctx, db)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, status := range statuses {
		if status.Applied() {
			continue
		}
		if steps > 0 && count >= steps {
			break
		}
		item := lookup[status.Version]
		err := inLockedTx(ctx, db, func(tx *sql.Tx) error {
			applied, err := isApplied(ctx, tx, item.Version)
			if err != nil {
				return err
			}
			if applied {
				return errAlreadyApplied
			}
			if _, err := tx.ExecContext(ctx, item.UpSQL); err != nil {
				return fmt.Errorf("apply migration %d: %w", item.Version, err)
			}
			if _, err := tx.ExecContext(ctx, `INSERT INTO `+migrationTable+` (version, name) VALUES ($1, $2)`, item.Version, item.Name); err != nil {
				return fmt.Errorf("mark migration %d: %w", item.Version, err)
			}
			return nil
		})
		if errors.Is(err, errAlreadyApplied) {
			continue
		}
		if err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

func (r *Runner) Down(ctx context.Context, db *sql.DB, steps int) (int, error) {
	if steps <= 0 {
		steps = 1
	}
	_, lookup, appliedAt, err := r.status(ctx, db)
	if err != nil {
		return 0, err
	}
	applied := make([]int64, 0, len(appliedAt))
	for version := range appliedAt {
		applied = append(applied, version)
	}
	slices.Sort(applied)

	count := 0
	for i := len(applied) - 1; i >= 0 && count < steps; i-- {
		version := applied[i]
		item, ok := lookup[version]
		if !ok {
			return count, fmt.Errorf("applied migration %d is missing from source", version)
		}
		err := inLockedTx(ctx, db, func(tx *sql.Tx) error {
			present, err := isApplied(ctx, tx, version)
			if err != nil {
				return err
			}
			if !present {
				return errNotApplied
			}
			if _, err := tx.ExecContext(ctx, item.DownSQL); err != nil {
				return fmt.Errorf("rollback migration %d: %w", version, err)
			}
			if _, err := tx.ExecContext(ctx, `DELETE FROM `+migrationTable+` WHERE version = $1`, version); err != nil {
				return fmt.Errorf("unmark migration %d: %w", version, err)
			}
			return nil
		})
		if errors.Is(err, errNotApplied) {
			continue
		}
		if err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

// Status lists every embedded migration in version order.
func (r *Runner) Status(ctx context.Context, db *sql.DB) ([]Status, error) {
	statuses, _, _, err := r.status(ctx, db)
	return statuses, err
}

// Pending lists embedded versions not yet recorded in db.
func (r *Runner) Pending(ctx context.Context, db *sql.DB) ([]int64, error) {
	statuses, err := r.Status(ctx, db)
	if err != nil {
		return nil, err
	}
	pending := make([]int64, 0)
	for _, status := range statuses {
		if !status.Applied() {
			pending = append(pending, status.Version)
		}
	}
	return pending, nil
}

func (r *Runner) status(ctx context.Context, db *sql.DB) ([]Status, map[int64]migration, map[int64]time.Time, error) {
	items, err := loadMigrations(r.fsys)
	if err != nil {
		return nil, nil, nil, err
	}
	if err := ensureMigrationTable(ctx, db); err != nil {
		return nil, nil, nil, err
	}
	appliedAt, err := appliedTimes(ctx, db)
	if err != nil {
		return nil, nil, nil, err
	}

	lookup := make(map[int64]migration, len(items))
	statuses := make([]Status, 0, len(items))
	for _, item := range items {
		lookup[item.Version] = item
		status := Status{Version: item.Version, Name: item.Name}
		if at, ok := appliedAt[item.Version]; ok {
			status.AppliedAt = &at
		}
		statuses = append(statuses, status)
	}
	return statuses, lookup, appliedAt, nil
}

func ensureMigrationTable(ctx context.Context, db *sql.DB) error {
	query := `
CREATE TABLE IF NOT EXISTS ` + migrationTable + ` (
	version BIGINT PRIMARY KEY,
	name TEXT NOT NULL DEFAULT '',
	applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`
	if _, err := db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("ensure migration table: %w", err)
	}
	return nil
}

func inLockedTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, lockKey); err != nil {
		return fmt.Errorf("acquire migration lock: %w", err)
	}
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration: %w", err)
	}
	return nil
}

func isApplied(ctx context.Context, tx *sql.Tx, version int64) (bool, error) {
	var exists bool
	err := tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM `+migrationTable+` WHERE version = $1)`, version).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check migration %d: %w", version, err)
	}
	return exists, nil
}

func appliedTimes(ctx context.Context, db *sql.DB) (map[int64]time.Time, error) {
	rows, err := db.QueryContext(ctx, `SELECT version, applied_at FROM `+migrationTable+` ORDER BY version`)
	if err != nil {
		return nil, fmt.Errorf("query applied versions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	applied := map[int64]time.Time{}
	for rows.Next() {
		var (
			version int64
			at      time.Time
		)
		if err := rows.Scan(&version, &at); err != nil {
			return nil, fmt.Errorf("scan applied version: %w", err)
		}
		applied[version] = at
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate applied versions: %w", err)
	}
	return applied, nil
}

func loadMigrations(fsys fs.FS) ([]migration, error) {
	entries, err := fs.ReadDir(fsys, "sql")
	if err != nil {
		return nil, fmt.Errorf("read migration dir: %w", err)
	}

	items := map[int64]migration{}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		base := path.Base(entry.Name())
		matches := migrationNamePattern.FindStringSubmatch(base)
		if matches == nil {
			continue
		}
		version, err := strconv.ParseInt(matches[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse migration version for %q: %w", base, err)
		}
		script, err := fs.ReadFile(fsys, path.Join("sql", entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("read migration %q: %w", entry.Name(), err)
		}

		item := items[version]
		if item.Name != "" && item.Name != matches[2] {
			return nil, fmt.Errorf("migration %d has mismatched names %q and %q", version, item.Name, matches[2])
		}
		item.Version = version
		item.Name = matches[2]
		if matches[3] == "up" {
			item.UpSQL = string(script)
		} else {
			item.DownSQL = string(script)
		}
		items[version] = item
	}

	migrations := make([]migration, 0, len(items))
	for _, item := range items {
		if strings.TrimSpace(item.UpSQL) == "" {
			return nil, fmt.Errorf("migration %d missing up SQL", item.Version)
		}
		if strings.TrimSpace(item.DownSQL) == "" {
			return nil, fmt.Errorf("migration %d missing down SQL", item.Version)
		}
		migrations = append(migrations, item)
	}
	slices.SortFunc(migrations, func(a, b migration) int {
		switch {
		case a.Version < b.Version:
			return -1
		case a.Version > b.Version:
			return 1
		}
		return 0
	})
	return migrations, nil
}
