package migrations

import (
	"context"
	"database/sql"
	"regexp"
	"strings"
	"testing"
	"testing/fstest"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
)

func TestLoadMigrationsSortsAndPairsUpDown(t *testing.T) {
	fsys := fstest.MapFS{
		"sql/000002_two.up.sql":   {Data: []byte("SELECT 2;")},
		"sql/000002_two.down.sql": {Data: []byte("SELECT -2;")},
		"sql/000001_one.up.sql":   {Data: []byte("SELECT 1;")},
		"sql/000001_one.down.sql": {Data: []byte("SELECT -1;")},
	}

	items, err := loadMigrations(fsys)
	if err != nil {
		t.Fatalf("loadMigrations() error = %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("len(items) = %d", len(items))
	}
	if items[0].Version != 1 || items[1].Version != 2 {
		t.Fatalf("unexpected migration order: %+v", items)
	}
}

func TestLoadMigrationsErrorsWhenDownMissing(t *testing.T) {
	fsys := fstest.MapFS{
		"sql/000001_one.up.sql": {Data: []byte("SELECT 1;")},
	}
	_, err := loadMigrations(fsys)
	if err == nil {
		t.Fatal("expected error for missing down migration")
	}
	if !strings.Contains(err.Error(), "missing down SQL") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestLoadMigrationsRejectsMismatchedNames(t *testing.T) {
	fsys := fstest.MapFS{
		"sql/000001_one.up.sql":   {Data: []byte("SELECT 1;")},
		"sql/000001_uno.down.sql": {Data: []byte("SELECT -1;")},
	}
	if _, err := loadMigrations(fsys); err == nil || !strings.Contains(err.Error(), "mismatched names") {
		t.Fatalf("loadMigrations() error = %v", err)
	}
}

func twoStepFS() fstest.MapFS {
	return fstest.MapFS{
		"sql/000001_one.up.sql":   {Data: []byte("CREATE TABLE one (id INT)")},
		"sql/000001_one.down.sql": {Data: []byte("DROP TABLE one")},
		"sql/000002_two.up.sql":   {Data: []byte("CREATE TABLE two (id INT)")},
		"sql/000002_two.down.sql": {Data: []byte("DROP TABLE two")},
	}
}

func newMigrationMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db, mock
}

func expectStatus(mock sqlmock.Sqlmock, applied ...int64) {
	mock.ExpectExec(regexp.QuoteMeta(`CREATE TABLE IF NOT EXISTS querypilot_schema_migrations`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	rows := sqlmock.NewRows([]string{"version", "applied_at"})
	for _, version := range applied {
		rows.AddRow(version, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
	}
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT version, applied_at FROM querypilot_schema_migrations ORDER BY version`)).
		WillReturnRows(rows)
}

func expectLockedCheck(mock sqlmock.Sqlmock, version int64, exists bool) {
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`SELECT pg_advisory_xact_lock($1)`)).
		WithArgs(lockKey).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT EXISTS (SELECT 1 FROM querypilot_schema_migrations WHERE version = $1)`)).
		WithArgs(version).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(exists))
}

func TestUpAppliesOnlyPendingMigrations(t *testing.T) {
	db, mock := newMigrationMock(t)
	runner := NewRunnerWithFS(twoStepFS())

	expectStatus(mock, 1)
	expectLockedCheck(mock, 2, false)
	mock.ExpectExec(regexp.QuoteMeta(`CREATE TABLE two (id INT)`)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO querypilot_schema_migrations (version, name) VALUES ($1, $2)`)).
		WithArgs(int64(2), "two").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	applied, err := runner.Up(context.Background(), db, 0)
	if err != nil {
		t.Fatalf("Up() error = %v", err)
	}
	if applied != 1 {
		t.Fatalf("applied = %d, want 1", applied)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sql expectations: %v", err)
	}
}

func TestUpSkipsMigrationAppliedByConcurrentRunner(t *testing.T) {
	db, mock := newMigrationMock(t)
	runner := NewRunnerWithFS(twoStepFS())

	expectStatus(mock, 1)
	expectLockedCheck(mock, 2, true)
	mock.ExpectRollback()

	applied, err := runner.Up(context.Background(), db, 0)
	if err != nil {
		t.Fatalf("Up() error = %v", err)
	}
	if applied != 0 {
		t.Fatalf("applied = %d, want 0", applied)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sql expectations: %v", err)
	}
}

func TestUpHonoursSteps(t *testing.T) {
	db, mock := newMigrationMock(t)
	runner := NewRunnerWithFS(twoStepFS())

	expectStatus(mock)
	expectLockedCheck(mock, 1, false)
	mock.ExpectExec(regexp.QuoteMeta(`CREATE TABLE one (id INT)`)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO querypilot_schema_migrations`)).
		WithArgs(int64(1), "one").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	applied, err := runner.Up(context.Background(), db, 1)
	if err != nil {
		t.Fatalf("Up() error = %v", err)
	}
	if applied != 1 {
		t.Fatalf("applied = %d, want 1", applied)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sql expectations: %v", err)
	}
}

func TestDownRollsBackNewestFirst(t *testing.T) {
	db, mock := newMigrationMock(t)
	runner := NewRunnerWithFS(twoStepFS())

	expectStatus(mock, 1, 2)
	expectLockedCheck(mock, 2, true)
	mock.ExpectExec(regexp.QuoteMeta(`DROP TABLE two`)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM querypilot_schema_migrations WHERE version = $1`)).
		WithArgs(int64(2)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	rolledBack, err := runner.Down(context.Background(), db, 1)
	if err != nil {
		t.Fatalf("Down() error = %v", err)
	}
	if rolledBack != 1 {
		t.Fatalf("rolledBack = %d, want 1", rolledBack)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sql expectations: %v", err)
	}
}

func TestDownFailsForUnknownAppliedVersion(t *testing.T) {
	db, mock := newMigrationMock(t)
	runner := NewRunnerWithFS(twoStepFS())

	expectStatus(mock, 1, 2, 9)

	_, err := runner.Down(context.Background(), db, 1)
	if err == nil || !strings.Contains(err.Error(), "missing from source") {
		t.Fatalf("Down() error = %v", err)
	}
}

func TestStatusReportsAppliedTimes(t *testing.T) {
	db, mock := newMigrationMock(t)
	expectStatus(mock, 1)

	statuses, err := NewRunnerWithFS(twoStepFS()).Status(context.Background(), db)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if len(statuses) != 2 {
		t.Fatalf("len(statuses) = %d", len(statuses))
	}
	if !statuses[0].Applied() || statuses[0].Name != "one" {
		t.Fatalf("statuses[0] = %+v", statuses[0])
	}
	if statuses[1].Applied() || statuses[1].Name != "two" {
		t.Fatalf("statuses[1] = %+v", statuses[1])
	}
}

func TestPendingListsUnappliedVersions(t *testing.T) {
	db, mock := newMigrationMock(t)
	expectStatus(mock, 1)

	pending, err := NewRunner().Pending(context.Background(), db)
	if err != nil {
		t.Fatalf("Pending() error = %v", err)
	}
	if len(pending) != 1 || pending[0] != 2 {
		t.Fatalf("Pending() = %v", pending)
	}
}
