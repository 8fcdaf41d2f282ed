package schema

import (
	"fmt"
	"strings"
)

type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectMySQL    Dialect = "mysql"
	DialectMariaDB  Dialect = "mariadb"
	DialectDuckDB   Dialect = "duckdb"
)

func ParseDialect(raw string) (Dialect, error) {
	switch Dialect(strings.ToLower(strings.TrimSpace(raw))) {
	case DialectPostgres, "postgresql", "pg":
		return DialectPostgres, nil
	case DialectMySQL:
		return DialectMySQL, nil
	case DialectMariaDB:
		return DialectMariaDB, nil
	case DialectDuckDB:
		return DialectDuckDB, nil
	default:
		return "", fmt.Errorf("unsupported dialect %q", raw)
	}
}

// DisplayName is the engine name used in prompts.
func (d Dialect) DisplayName() string {
	switch d {
	case DialectPostgres:
		return "PostgreSQL"
	case DialectMySQL:
		return "MySQL"
	case DialectMariaDB:
		return "MariaDB"
	case DialectDuckDB:
		return "DuckDB"
	default:
		return string(d)
	}
}

type Schema struct {
	DatabaseName string  `json:"database_name"`
	Tables       []Table `json:"tables"`
}

type Table struct {
	Name        string       `json:"name"`
	Namespace   string       `json:"namespace,omitempty"`
	RowCount    *int64       `json:"row_count,omitempty"`
	Columns     []Column     `json:"columns"`
	Indexes     []Index      `json:"indexes,omitempty"`
	Triggers    []string     `json:"triggers,omitempty"`
	Constraints []Constraint `json:"constraints,omitempty"`
}

type Column struct {
	Name          string `json:"name"`
	DataType      string `json:"data_type"`
	Nullable      bool   `json:"nullable"`
	PrimaryKey    bool   `json:"primary_key"`
	ForeignKey    bool   `json:"foreign_key"`
	ForeignTable  string `json:"foreign_table,omitempty"`
	ForeignColumn string `json:"foreign_column,omitempty"`
	Default       string `json:"default,omitempty"`
}

type Index struct {
	Name    string   `json:"name"`
	Columns []string `json:"columns"`
	Unique  bool     `json:"unique"`
}

type Constraint struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

func (s Schema) TableNames() []string {
	names := make([]string, 0, len(s.Tables))
	for _, table := range s.Tables {
		names = append(names, table.Name)
	}
	return names
}

// FindTable matches a table name case-insensitively.
func (s Schema) FindTable(name string) (Table, bool) {
	name = strings.TrimSpace(name)
	for _, table := range s.Tables {
		if strings.EqualFold(table.Name, name) {
			return table, true
		}
	}
	return Table{}, false
}

func (t Table) KeyColumns() []Column {
	keys := make([]Column, 0)
	for _, column := range t.Columns {
		if column.PrimaryKey || column.ForeignKey {
			keys = append(keys, column)
		}
	}
	return keys
}

func (t Table) HasColumn(name string) bool {
	for _, column := range t.Columns {
		if column.Name == name {
			return true
		}
	}
	return false
}
