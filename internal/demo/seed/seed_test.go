package seed

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/duckmesh/querypilot/internal/schema"
)

func TestServiceRunCreatesAndFillsTables(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta("DROP TABLE IF EXISTS orders")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("DROP TABLE IF EXISTS users")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS users")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS orders")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("CREATE INDEX IF NOT EXISTS idx_orders_user_id")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO users (id, name, email, country, created_at) VALUES ($1, $2, $3, $4, $5), ($6, $7, $8, $9, $10)")).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO users (id, name, email, country, created_at) VALUES ($1, $2, $3, $4, $5)")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO orders (id, user_id, product, status, amount, ordered_at) VALUES")).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO orders (id, user_id, product, status, amount, ordered_at) VALUES")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	svc, err := NewService(Config{
		Dialect:          schema.DialectPostgres,
		Users:            3,
		MaxOrdersPerUser: 1,
		BatchSize:        2,
		Reset:            true,
		Seed:             1,
	}, db, nil)
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	summary, err := svc.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if summary.Users != 3 || summary.Orders != 3 {
		t.Fatalf("summary = %+v", summary)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestServiceRunRollsBackOnInsertFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS users")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS orders")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO users (id, name, email, country, created_at) VALUES (?, ?, ?, ?, ?)")).
		WillReturnError(errors.New("duplicate key"))
	mock.ExpectRollback()

	svc, err := NewService(Config{Dialect: schema.DialectDuckDB, Users: 1, MaxOrdersPerUser: 2, BatchSize: 10, Seed: 5}, db, nil)
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	_, err = svc.Run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "insert users rows 0-0") {
		t.Fatalf("Run() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestBuildInsertPlaceholders(t *testing.T) {
	rows := [][]any{{1, "a"}, {2, "b"}}

	statement, args := buildInsert(schema.DialectMySQL, "users", []string{"id", "name"}, rows)
	if statement != "INSERT INTO users (id, name) VALUES (?, ?), (?, ?)" {
		t.Fatalf("mysql statement = %q", statement)
	}
	if len(args) != 4 || args[2] != 2 || args[3] != "b" {
		t.Fatalf("args = %v", args)
	}

	statement, _ = buildInsert(schema.DialectPostgres, "users", []string{"id", "name"}, rows)
	if statement != "INSERT INTO users (id, name) VALUES ($1, $2), ($3, $4)" {
		t.Fatalf("postgres statement = %q", statement)
	}
}

func TestNewServiceRejectsUnknownDialect(t *testing.T) {
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()

	if _, err := NewService(Config{Dialect: "oracle", Users: 1, MaxOrdersPerUser: 1, BatchSize: 1}, db, nil); err == nil {
		t.Fatal("expected unsupported dialect error")
	}
	if _, err := NewService(Config{Dialect: schema.DialectDuckDB, Users: 1, MaxOrdersPerUser: 1, BatchSize: 1}, nil, nil); err == nil {
		t.Fatal("expected missing db error")
	}
}
