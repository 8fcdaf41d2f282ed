package introspect

import "github.com/duckmesh/querypilot/internal/schema"

// dialectQueries lists the catalog reads for one engine. Every statement takes the namespace
// as its only argument, except database which takes none. An empty statement is skipped.
type dialectQueries struct {
	database    string
	namespace   string
	tables      string
	columns     string
	primaryKeys string
	foreignKeys string
	indexes     string
	triggers    string
	constraints string
}

var postgresQueries = dialectQueries{
	database:  `SELECT current_database()`,
	namespace: `SELECT 'public'`,
	tables: `
SELECT t.table_name, COALESCE(c.reltuples, -1)::bigint
FROM information_schema.tables t
LEFT JOIN pg_class c ON c.relname = t.table_name AND c.relnamespace = t.table_schema::regnamespace
WHERE t.table_schema = $1 AND t.table_type = 'BASE TABLE'
ORDER BY t.table_name`,
	columns: `
SELECT table_name, column_name, data_type, is_nullable, COALESCE(column_default, '')
FROM information_schema.columns
WHERE table_schema = $1
ORDER BY table_name, ordinal_position`,
	primaryKeys: `
SELECT tc.table_name, kcu.column_name
FROM information_schema.table_constraints tc
JOIN information_schema.key_column_usage kcu
  ON kcu.constraint_name = tc.constraint_name AND kcu.table_schema = tc.table_schema
WHERE tc.constraint_type = 'PRIMARY KEY' AND tc.table_schema = $1`,
	foreignKeys: `
SELECT kcu.table_name, kcu.column_name, ccu.table_name, ccu.column_name
FROM information_schema.table_constraints tc
JOIN information_schema.key_column_usage kcu
  ON kcu.constraint_name = tc.constraint_name AND kcu.table_schema = tc.table_schema
JOIN information_schema.constraint_column_usage ccu
  ON ccu.constraint_name = tc.constraint_name AND ccu.table_schema = tc.table_schema
WHERE tc.constraint_type = 'FOREIGN KEY' AND tc.table_schema = $1`,
	indexes: `
SELECT tablename, indexname, COALESCE(substring(indexdef from '\((.*)\)'), ''), indexdef LIKE 'CREATE UNIQUE%'
FROM pg_indexes
WHERE schemaname = $1
ORDER BY tablename, indexname`,
	triggers: `
SELECT DISTINCT event_object_table, trigger_name
FROM information_schema.triggers
WHERE trigger_schema = $1
ORDER BY event_object_table, trigger_name`,
	constraints: `
SELECT table_name, constraint_name, constraint_type
FROM information_schema.table_constraints
WHERE table_schema = $1
ORDER BY table_name, constraint_name`,
}

var mysqlQueries = dialectQueries{
	database:  `SELECT DATABASE()`,
	namespace: `SELECT DATABASE()`,
	tables: `
SELECT table_name, COALESCE(table_rows, -1)
FROM information_schema.tables
WHERE table_schema = ? AND table_type = 'BASE TABLE'
ORDER BY table_name`,
	columns: `
SELECT table_name, column_name, column_type, is_nullable, COALESCE(column_default, '')
FROM information_schema.columns
WHERE table_schema = ?
ORDER BY table_name, ordinal_position`,
	primaryKeys: `
SELECT table_name, column_name
FROM information_schema.key_column_usage
WHERE table_schema = ? AND constraint_name = 'PRIMARY'`,
	foreignKeys: `
SELECT table_name, column_name, referenced_table_name, referenced_column_name
FROM information_schema.key_column_usage
WHERE table_schema = ? AND referenced_table_name IS NOT NULL`,
	indexes: `
SELECT table_name, index_name, GROUP_CONCAT(column_name ORDER BY seq_in_index SEPARATOR ','), MIN(non_unique) = 0
FROM information_schema.statistics
WHERE table_schema = ?
GROUP BY table_name, index_name
ORDER BY table_name, index_name`,
	triggers: `
SELECT event_object_table, trigger_name
FROM information_schema.triggers
WHERE trigger_schema = ?
ORDER BY event_object_table, trigger_name`,
	constraints: `
SELECT table_name, constraint_name, constraint_type
FROM information_schema.table_constraints
WHERE table_schema = ?
ORDER BY table_name, constraint_name`,
}

var duckdbQueries = dialectQueries{
	database:  `SELECT current_database()`,
	namespace: `SELECT current_schema()`,
	tables: `
SELECT table_name, COALESCE(estimated_size, -1)
FROM duckdb_tables()
WHERE schema_name = ?
ORDER BY table_name`,
	columns: `
SELECT table_name, column_name, data_type, is_nullable, COALESCE(column_default, '')
FROM information_schema.columns
WHERE table_schema = ?
ORDER BY table_name, ordinal_position`,
	primaryKeys: `
SELECT table_name, UNNEST(constraint_column_names)
FROM duckdb_constraints()
WHERE schema_name = ? AND constraint_type = 'PRIMARY KEY'`,
	foreignKeys: `
SELECT table_name, UNNEST(constraint_column_names), referenced_table, UNNEST(referenced_column_names)
FROM duckdb_constraints()
WHERE schema_name = ? AND constraint_type = 'FOREIGN KEY'`,
	indexes: `
SELECT table_name, index_name, CAST(expressions AS VARCHAR), is_unique
FROM duckdb_indexes()
WHERE schema_name = ?
ORDER BY table_name, index_name`,
}

func queriesFor(dialect schema.Dialect) (dialectQueries, bool) {
	switch dialect {
	case schema.DialectPostgres:
		return postgresQueries, true
	case schema.DialectMySQL, schema.DialectMariaDB:
		return mysqlQueries, true
	case schema.DialectDuckDB:
		return duckdbQueries, true
	default:
		return dialectQueries{}, false
	}
}
