package executor

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/duckmesh/querypilot/internal/schema"
)

func TestExecuteWrapsQueryWithLimitAndOffset(t *testing.T) {
	db, mock := newSQLMock(t)
	registry := NewRegistry()
	if err := registry.Add("shop", schema.DialectPostgres, db); err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM (SELECT id, name FROM users LIMIT 100) AS q LIMIT 100 OFFSET 20`)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).AddRow(int64(1), []byte("ada")).AddRow(int64(2), "grace"))

	result, err := registry.Execute(context.Background(), Request{
		ConnectionID: "shop",
		SQL:          "SELECT id, name FROM users LIMIT 100;",
		RowLimit:     100,
		Offset:       20,
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if result.RowCount != 2 || len(result.Rows) != 2 {
		t.Fatalf("RowCount = %d rows = %d", result.RowCount, len(result.Rows))
	}
	if result.Rows[0]["name"] != "ada" {
		t.Fatalf("[]byte should be normalized to string, got %#v", result.Rows[0]["name"])
	}
	if result.Columns[0] != "id" || result.Columns[1] != "name" {
		t.Fatalf("Columns = %v", result.Columns)
	}
	assertSQLMock(t, mock)
}

func TestExecuteWithoutRowLimitRunsStatementAsIs(t *testing.T) {
	db, mock := newSQLMock(t)
	registry := NewRegistry()
	if err := registry.Add("shop", schema.DialectMySQL, db); err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM users`)).
		WillReturnRows(sqlmock.NewRows([]string{"COUNT(*)"}).AddRow(int64(7)))

	result, err := registry.Execute(context.Background(), Request{ConnectionID: "shop", SQL: "SELECT COUNT(*) FROM users"})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	value, ok := result.Value()
	if !ok || value != int64(7) {
		t.Fatalf("Value() = %#v, %v", value, ok)
	}
	assertSQLMock(t, mock)
}

func TestExecuteMakesDuplicateColumnsUnique(t *testing.T) {
	db, mock := newSQLMock(t)
	registry := NewRegistry()
	if err := registry.Add("shop", schema.DialectPostgres, db); err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT u.id, o.id FROM users u JOIN orders o ON o.user_id = u.id`)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "id"}).AddRow(int64(1), int64(10)))

	result, err := registry.Execute(context.Background(), Request{
		ConnectionID: "shop",
		SQL:          "SELECT u.id, o.id FROM users u JOIN orders o ON o.user_id = u.id",
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if len(result.Columns) != 2 || result.Columns[1] != "id_2" {
		t.Fatalf("Columns = %v", result.Columns)
	}
	if result.Rows[0]["id_2"] != int64(10) {
		t.Fatalf("id_2 = %#v", result.Rows[0]["id_2"])
	}
	assertSQLMock(t, mock)
}

func TestExecuteRunsMySQLStatementUnwrapped(t *testing.T) {
	for _, dialect := range []schema.Dialect{schema.DialectMySQL, schema.DialectMariaDB} {
		t.Run(string(dialect), func(t *testing.T) {
			db, mock := newSQLMock(t)
			registry := NewRegistry()
			if err := registry.Add("shop", dialect, db); err != nil {
				t.Fatalf("Add() error = %v", err)
			}

			statement := "SELECT u.id, o.id FROM users u JOIN orders o ON o.user_id = u.id LIMIT 100"
			mock.ExpectQuery(`^` + regexp.QuoteMeta(statement) + `$`).
				WillReturnRows(sqlmock.NewRows([]string{"id", "id"}).
					AddRow(int64(1), int64(10)).
					AddRow(int64(1), int64(11)).
					AddRow(int64(2), int64(12)).
					AddRow(int64(3), int64(13)))

			result, err := registry.Execute(context.Background(), Request{
				ConnectionID: "shop",
				SQL:          statement + ";",
				RowLimit:     2,
				Offset:       1,
			})
			if err != nil {
				t.Fatalf("Execute() error = %v", err)
			}
			if result.RowCount != 2 {
				t.Fatalf("RowCount = %d, want 2", result.RowCount)
			}
			if result.Rows[0]["id_2"] != int64(11) || result.Rows[1]["id_2"] != int64(12) {
				t.Fatalf("Rows = %v", result.Rows)
			}
			assertSQLMock(t, mock)
		})
	}
}

func TestExecuteReturnsDatabaseError(t *testing.T) {
	db, mock := newSQLMock(t)
	registry := NewRegistry()
	if err := registry.Add("shop", schema.DialectPostgres, db); err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT nope FROM users`)).
		WillReturnError(errors.New(`column "nope" does not exist`))

	_, err := registry.Execute(context.Background(), Request{ConnectionID: "shop", SQL: "SELECT nope FROM users"})
	if err == nil {
		t.Fatal("expected error")
	}
	assertSQLMock(t, mock)
}

func TestUnknownConnection(t *testing.T) {
	registry := NewRegistry()
	_, err := registry.Execute(context.Background(), Request{ConnectionID: "missing", SQL: "SELECT 1"})
	if !errors.Is(err, ErrUnknownConnection) {
		t.Fatalf("expected ErrUnknownConnection, got %v", err)
	}
	if _, err := registry.Dialect(context.Background(), "missing"); !errors.Is(err, ErrUnknownConnection) {
		t.Fatalf("expected ErrUnknownConnection, got %v", err)
	}
}

func TestAddRejectsDuplicates(t *testing.T) {
	db, _ := newSQLMock(t)
	registry := NewRegistry()
	if err := registry.Add("shop", schema.DialectDuckDB, db); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if err := registry.Add("shop", schema.DialectDuckDB, db); err == nil {
		t.Fatal("expected duplicate error")
	}
	list := registry.List()
	if len(list) != 1 || list[0].Dialect != schema.DialectDuckDB {
		t.Fatalf("List() = %+v", list)
	}
}

func TestCloseClosesEveryPool(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	mock.ExpectClose()

	registry := NewRegistry()
	if err := registry.Add("shop", schema.DialectPostgres, db); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if err := registry.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if len(registry.List()) != 0 {
		t.Fatal("registry should be empty after Close")
	}
	assertSQLMock(t, mock)
}

func TestOpenRejectsUnsupportedDialect(t *testing.T) {
	_, err := Open(context.Background(), []ConnectionConfig{{ID: "x", Dialect: "oracle", DSN: "dsn"}}, PoolConfig{})
	if err == nil {
		t.Fatal("expected unsupported dialect error")
	}
}

func TestOpenRequiresDSN(t *testing.T) {
	_, err := Open(context.Background(), []ConnectionConfig{{ID: "x", Dialect: schema.DialectPostgres}}, PoolConfig{})
	if err == nil {
		t.Fatal("expected error for empty DSN")
	}
}

func TestUniqueColumns(t *testing.T) {
	got := uniqueColumns([]string{"id", "id_2", "id", "name"})
	want := []string{"id", "id_2", "id_3", "name"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("uniqueColumns() = %v, want %v", got, want)
		}
	}
}

func newSQLMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db, mock
}

func assertSQLMock(t *testing.T, mock sqlmock.Sqlmock) {
	t.Helper()
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sql expectations: %v", err)
	}
}
