package utils

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func openTestSQLite(t *testing.T) *sql.DB {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "agent.db")
	db, err := OpenSQL(context.Background(), DriverSQLite, dsn, SQLPoolConfig{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestOpenSQL_RejectsUnknownDriver(t *testing.T) {
	if _, err := OpenSQL(context.Background(), "mysql", "x", SQLPoolConfig{}); err == nil {
		t.Fatalf("expected unsupported driver error")
	}
}

func TestSQLPoolDefaults_SQLiteUsesSingleConnection(t *testing.T) {
	p := SQLPoolConfig{MaxOpenConns: 10}.withDefaults(DriverSQLite)
	if p.MaxOpenConns != 1 || p.MaxIdleConns != 1 {
		t.Fatalf("expected single sqlite connection, got %+v", p)
	}
	p = SQLPoolConfig{}.withDefaults(DriverPostgres)
	if p.MaxOpenConns != 5 || p.PingTimeout != 5*time.Second {
		t.Fatalf("unexpected postgres defaults: %+v", p)
	}
}

func TestRunMigrations_CreatesTables(t *testing.T) {
	db := openTestSQLite(t)
	ctx := context.Background()
	if err := RunMigrations(ctx, db, DriverSQLite); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	// Second run is a no-op.
	if err := RunMigrations(ctx, db, DriverSQLite); err != nil {
		t.Fatalf("migrate again: %v", err)
	}
	for _, table := range []string{"capability_tokens", "call_history", "call_participants"} {
		var name string
		err := db.QueryRowContext(ctx, "SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		if err != nil {
			t.Fatalf("expected table %s: %v", table, err)
		}
	}
}

func TestWithTx_RollsBackOnError(t *testing.T) {
	db := openTestSQLite(t)
	ctx := context.Background()
	if _, err := db.ExecContext(ctx, "CREATE TABLE t (v INTEGER)"); err != nil {
		t.Fatalf("create: %v", err)
	}

	boom := errors.New("boom")
	err := WithTx(ctx, db, nil, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "INSERT INTO t (v) VALUES (1)"); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	var n int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM t").Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected rollback, found %d rows", n)
	}
}

func TestWithTx_Commits(t *testing.T) {
	db := openTestSQLite(t)
	ctx := context.Background()
	if _, err := db.ExecContext(ctx, "CREATE TABLE t (v INTEGER)"); err != nil {
		t.Fatalf("create: %v", err)
	}
	err := WithTx(ctx, db, nil, func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, "INSERT INTO t (v) VALUES (1)")
		return err
	})
	if err != nil {
		t.Fatalf("tx: %v", err)
	}
	var n int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM t").Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 row, got %d", n)
	}
}

func TestStatementBuilder_Placeholders(t *testing.T) {
	q, _, err := StatementBuilder(DriverPostgres).Select("a").From("t").Where("b = ?", 1).ToSql()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if q != "SELECT a FROM t WHERE b = $1" {
		t.Fatalf("unexpected postgres sql %q", q)
	}
	q, _, err = StatementBuilder(DriverSQLite).Select("a").From("t").Where("b = ?", 1).ToSql()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if q != "SELECT a FROM t WHERE b = ?" {
		t.Fatalf("unexpected sqlite sql %q", q)
	}
}

func TestOpenRedis_RequiresAddrEmpty(t *testing.T) {
	if _, err := OpenRedis(context.Background(), RedisConfig{}); err == nil {
		t.Fatalf("expected error for empty addr")
	}
}
