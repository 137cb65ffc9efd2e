package migrate

import (
	"context"
	"testing"
	"testing/fstest"

	"github.com/DATA-DOG/go-sqlmock"
)

func newMock(t *testing.T) (*Manager, sqlmock.Sqlmock, fstest.MapFS) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	fsys := fstest.MapFS{
		"0001_accounts.up.sql":   {Data: []byte("create table accounts (id text);")},
		"0001_accounts.down.sql": {Data: []byte("drop table accounts;")},
		"0002_items.up.sql":      {Data: []byte("create table items (id text);\ninsert into items values ('a;b');")},
		"README.md":              {Data: []byte("ignored")},
	}
	return NewManager(db, fsys, nil), mock, fsys
}

func expectTables(mock sqlmock.Sqlmock) {
	mock.ExpectExec("create table if not exists schema_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("create table if not exists schema_seeds").WillReturnResult(sqlmock.NewResult(0, 0))
}

func TestUpAppliesOnlyPending(t *testing.T) {
	m, mock, _ := newMock(t)
	expectTables(mock)
	mock.ExpectQuery("select name from schema_migrations").
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("0001_accounts.up.sql"))
	mock.ExpectBegin()
	mock.ExpectExec("create table items").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("insert into items values").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	mock.ExpectExec("insert into schema_migrations").
		WithArgs("0002_items.up.sql", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	applied, err := m.Up(context.Background())
	if err != nil {
		t.Fatalf("up: %v", err)
	}
	if len(applied) != 1 || applied[0] != "0002_items.up.sql" {
		t.Fatalf("unexpected applied set: %v", applied)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestDownRollsBackLatest(t *testing.T) {
	m, mock, _ := newMock(t)
	expectTables(mock)
	mock.ExpectQuery("select name from schema_migrations").
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("0001_accounts.up.sql"))
	mock.ExpectBegin()
	mock.ExpectExec("drop table accounts").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()
	mock.ExpectExec("delete from schema_migrations").
		WithArgs("0001_accounts.up.sql").
		WillReturnResult(sqlmock.NewResult(0, 1))

	name, err := m.Down(context.Background())
	if err != nil {
		t.Fatalf("down: %v", err)
	}
	if name != "0001_accounts.up.sql" {
		t.Fatalf("rolled back %q", name)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestDownWithoutHistory(t *testing.T) {
	m, mock, _ := newMock(t)
	expectTables(mock)
	mock.ExpectQuery("select name from schema_migrations").
		WillReturnRows(sqlmock.NewRows([]string{"name"}))

	if _, err := m.Down(context.Background()); err == nil {
		t.Fatal("expected error with nothing applied")
	}
}

func TestPending(t *testing.T) {
	m, mock, _ := newMock(t)
	expectTables(mock)
	mock.ExpectQuery("select name from schema_migrations").
		WillReturnRows(sqlmock.NewRows([]string{"name"}))

	pending, err := m.Pending(context.Background())
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 2 || pending[0] != "0001_accounts.up.sql" || pending[1] != "0002_items.up.sql" {
		t.Fatalf("unexpected pending: %v", pending)
	}
}

func TestSplitStatementsKeepsQuotedSemicolons(t *testing.T) {
	stmts := splitStatements("insert into t values ('a;b'); select 1;\n")
	if len(stmts) != 2 {
		t.Fatalf("expected 2 statements, got %d: %q", len(stmts), stmts)
	}
	if stmts[0] != "insert into t values ('a;b');" {
		t.Fatalf("first statement = %q", stmts[0])
	}
}
