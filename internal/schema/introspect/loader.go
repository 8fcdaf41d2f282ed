package introspect

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/duckmesh/querypilot/internal/schema"
)

type Source interface {
	DB(connectionID string) (*sql.DB, schema.Dialect, error)
}

// Loader reads table metadata for a registered connection.
type Loader struct {
	source Source
}

func NewLoader(source Source) *Loader {
	return &Loader{source: source}
}

func (l *Loader) Load(ctx context.Context, connectionID string) (schema.Schema, error) {
	db, dialect, err := l.source.DB(connectionID)
	if err != nil {
		return schema.Schema{}, err
	}
	return Read(ctx, db, dialect)
}

// Read introspects db with the catalog queries of dialect.
func Read(ctx context.Context, db *sql.DB, dialect schema.Dialect) (schema.Schema, error) {
	q, ok := queriesFor(dialect)
	if !ok {
		return schema.Schema{}, fmt.Errorf("unsupported dialect %q", dialect)
	}

	var out schema.Schema
	var dbName sql.NullString
	if err := db.QueryRowContext(ctx, q.database).Scan(&dbName); err != nil {
		return schema.Schema{}, fmt.Errorf("read database name: %w", err)
	}
	out.DatabaseName = dbName.String

	var namespace sql.NullString
	if err := db.QueryRowContext(ctx, q.namespace).Scan(&namespace); err != nil {
		return schema.Schema{}, fmt.Errorf("read namespace: %w", err)
	}

	b := newBuilder(namespace.String)
	steps := []struct {
		name  string
		query string
		scan  func(*sql.Rows) error
	}{
		{"tables", q.tables, b.scanTable},
		{"columns", q.columns, b.scanColumn},
		{"primary keys", q.primaryKeys, b.scanPrimaryKey},
		{"foreign keys", q.foreignKeys, b.scanForeignKey},
		{"indexes", q.indexes, b.scanIndex},
		{"triggers", q.triggers, b.scanTrigger},
		{"constraints", q.constraints, b.scanConstraint},
	}
	for _, step := range steps {
		if step.query == "" {
			continue
		}
		if err := eachRow(ctx, db, step.query, namespace.String, step.scan); err != nil {
			return schema.Schema{}, fmt.Errorf("read %s: %w", step.name, err)
		}
	}

	out.Tables = b.tables()
	return out, nil
}

func eachRow(ctx context.Context, db *sql.DB, query string, namespace string, scan func(*sql.Rows) error) error {
	rows, err := db.QueryContext(ctx, query, namespace)
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		if err := scan(rows); err != nil {
			return err
		}
	}
	return rows.Err()
}

type builder struct {
	namespace string
	order     []string
	byName    map[string]*schema.Table
}

func newBuilder(namespace string) *builder {
	return &builder{namespace: namespace, byName: map[string]*schema.Table{}}
}

func (b *builder) tables() []schema.Table {
	out := make([]schema.Table, 0, len(b.order))
	for _, name := range b.order {
		out = append(out, *b.byName[name])
	}
	return out
}

func (b *builder) column(table, column string) *schema.Column {
	t, ok := b.byName[table]
	if !ok {
		return nil
	}
	for i := range t.Columns {
		if t.Columns[i].Name == column {
			return &t.Columns[i]
		}
	}
	return nil
}

func (b *builder) scanTable(rows *sql.Rows) error {
	var name string
	var estimate sql.NullInt64
	if err := rows.Scan(&name, &estimate); err != nil {
		return err
	}
	table := &schema.Table{Name: name, Namespace: b.namespace}
	if estimate.Valid && estimate.Int64 >= 0 {
		count := estimate.Int64
		table.RowCount = &count
	}
	b.byName[name] = table
	b.order = append(b.order, name)
	return nil
}

func (b *builder) scanColumn(rows *sql.Rows) error {
	var table, name, dataType, nullable, defaultValue string
	if err := rows.Scan(&table, &name, &dataType, &nullable, &defaultValue); err != nil {
		return err
	}
	t, ok := b.byName[table]
	if !ok {
		return nil
	}
	t.Columns = append(t.Columns, schema.Column{
		Name:     name,
		DataType: dataType,
		Nullable: strings.EqualFold(nullable, "YES"),
		Default:  defaultValue,
	})
	return nil
}

func (b *builder) scanPrimaryKey(rows *sql.Rows) error {
	var table, column string
	if err := rows.Scan(&table, &column); err != nil {
		return err
	}
	if c := b.column(table, column); c != nil {
		c.PrimaryKey = true
	}
	return nil
}

func (b *builder) scanForeignKey(rows *sql.Rows) error {
	var table, column string
	var refTable, refColumn sql.NullString
	if err := rows.Scan(&table, &column, &refTable, &refColumn); err != nil {
		return err
	}
	if c := b.column(table, column); c != nil {
		c.ForeignKey = true
		c.ForeignTable = refTable.String
		c.ForeignColumn = refColumn.String
	}
	return nil
}

func (b *builder) scanIndex(rows *sql.Rows) error {
	var table, name, columns string
	var unique bool
	if err := rows.Scan(&table, &name, &columns, &unique); err != nil {
		return err
	}
	t, ok := b.byName[table]
	if !ok {
		return nil
	}
	t.Indexes = append(t.Indexes, schema.Index{Name: name, Columns: splitColumnList(columns), Unique: unique})
	return nil
}

func (b *builder) scanTrigger(rows *sql.Rows) error {
	var table, name string
	if err := rows.Scan(&table, &name); err != nil {
		return err
	}
	if t, ok := b.byName[table]; ok {
		t.Triggers = append(t.Triggers, name)
	}
	return nil
}

func (b *builder) scanConstraint(rows *sql.Rows) error {
	var table, name, kind string
	if err := rows.Scan(&table, &name, &kind); err != nil {
		return err
	}
	if t, ok := b.byName[table]; ok {
		t.Constraints = append(t.Constraints, schema.Constraint{Name: name, Type: kind})
	}
	return nil
}

// splitColumnList accepts "a, b", "a,b" and "[a, b]" forms and strips identifier quotes.
func splitColumnList(raw string) []string {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "[")
	raw = strings.TrimSuffix(raw, "]")
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	columns := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.Trim(strings.TrimSpace(part), "\"`")
		if part != "" {
			columns = append(columns, part)
		}
	}
	return columns
}
