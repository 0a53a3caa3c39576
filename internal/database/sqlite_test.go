package database

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"github.com/CosmoTheDev/painscan/internal/config"
)

type logRow struct {
	ID      int64  `db:"id"`
	ScanID  string `db:"scan_id"`
	TS      string `db:"ts"`
	Phase   string `db:"phase"`
	Message string `db:"message"`
}

func newTestSQLite(t *testing.T) *SQLiteDB {
	t.Helper()
	db, err := NewSQLite(config.DatabaseConfig{Path: filepath.Join(t.TempDir(), "test.db")})
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	return db
}

func TestMigrateIsIdempotent(t *testing.T) {
	db := newTestSQLite(t)
	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("second Migrate: %v", err)
	}
}

func TestInsertAndSelectPreservesOrder(t *testing.T) {
	db := newTestSQLite(t)
	ctx := context.Background()
	for _, msg := range []string{"one", "two", "three"} {
		if _, err := db.Insert(ctx, "scan_record_logs", logRow{ScanID: "s1", TS: "t", Phase: "plan", Message: msg}); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}
	var rows []logRow
	if err := db.Select(ctx, &rows, `SELECT id, scan_id, ts, phase, message FROM scan_record_logs WHERE scan_id = ? ORDER BY id`, "s1"); err != nil {
		t.Fatalf("Select: %v", err)
	}
	if len(rows) != 3 || rows[0].Message != "one" || rows[2].Message != "three" {
		t.Fatalf("unexpected rows: %+v", rows)
	}
}

func TestExecAffectedReportsChangedRows(t *testing.T) {
	db := newTestSQLite(t)
	ctx := context.Background()
	err := db.Exec(ctx, `INSERT INTO scan_records (id, repository_url, status, findings_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`, "s1", "https://github.com/a/b", "scanning", "[]", "t", "t")
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	n, err := db.ExecAffected(ctx, `UPDATE scan_records SET status = ? WHERE id = ? AND status = ?`, "completed", "s1", "scanning")
	if err != nil || n != 1 {
		t.Fatalf("first update: n=%d err=%v", n, err)
	}
	n, err = db.ExecAffected(ctx, `UPDATE scan_records SET status = ? WHERE id = ? AND status = ?`, "failed", "s1", "scanning")
	if err != nil || n != 0 {
		t.Fatalf("second update should not match: n=%d err=%v", n, err)
	}
}

func TestGetMapsColumnsByName(t *testing.T) {
	db := newTestSQLite(t)
	ctx := context.Background()
	if _, err := db.Insert(ctx, "scan_record_logs", logRow{ScanID: "s1", TS: "t", Phase: "hunt", Message: "m"}); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	var row logRow
	// Columns in a different order than the struct fields.
	if err := db.Get(ctx, &row, `SELECT message, phase, scan_id FROM scan_record_logs WHERE scan_id = ?`, "s1"); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if row.Message != "m" || row.Phase != "hunt" || row.ScanID != "s1" {
		t.Fatalf("unexpected row: %+v", row)
	}
}

func TestGetReturnsErrNoRows(t *testing.T) {
	db := newTestSQLite(t)
	var row logRow
	err := db.Get(context.Background(), &row, `SELECT id FROM scan_record_logs WHERE scan_id = ?`, "missing")
	if !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("err = %v, want sql.ErrNoRows", err)
	}
}

func TestMySQLAdaptRewritesDDL(t *testing.T) {
	got := mysqlAdapt("CREATE TABLE x (id INTEGER PRIMARY KEY AUTOINCREMENT, v REAL NOT NULL)")
	want := "CREATE TABLE x (id BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY, v DOUBLE NOT NULL) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4"
	if got != want {
		t.Fatalf("mysqlAdapt:\n got %s\nwant %s", got, want)
	}
}

func countLogs(t *testing.T, db DB, scanID string) int {
	t.Helper()
	var rows []logRow
	if err := db.Select(context.Background(), &rows, `SELECT id, scan_id, ts, phase, message FROM scan_record_logs WHERE scan_id = ?`, scanID); err != nil {
		t.Fatalf("Select: %v", err)
	}
	return len(rows)
}

func TestInTxRollsBackOnError(t *testing.T) {
	db := newTestSQLite(t)
	ctx := context.Background()
	errStop := errors.New("stop")

	err := db.InTx(ctx, func(tx DB) error {
		if _, err := tx.Insert(ctx, "scan_record_logs", logRow{ScanID: "s1", TS: "t", Phase: "plan", Message: "gone"}); err != nil {
			return err
		}
		if n := countLogs(t, tx, "s1"); n != 1 {
			t.Errorf("row not visible inside the transaction: %d", n)
		}
		return errStop
	})
	if !errors.Is(err, errStop) {
		t.Fatalf("InTx error = %v", err)
	}
	if n := countLogs(t, db, "s1"); n != 0 {
		t.Fatalf("rolled back insert persisted: %d rows", n)
	}
}

func TestInTxCommitsAndNests(t *testing.T) {
	db := newTestSQLite(t)
	ctx := context.Background()

	err := db.InTx(ctx, func(tx DB) error {
		if _, err := tx.Insert(ctx, "scan_record_logs", logRow{ScanID: "s2", TS: "t", Phase: "plan", Message: "outer"}); err != nil {
			return err
		}
		return tx.InTx(ctx, func(inner DB) error {
			_, err := inner.Insert(ctx, "scan_record_logs", logRow{ScanID: "s2", TS: "t", Phase: "hunt", Message: "inner"})
			return err
		})
	})
	if err != nil {
		t.Fatalf("InTx: %v", err)
	}
	if n := countLogs(t, db, "s2"); n != 2 {
		t.Fatalf("expected 2 committed rows, got %d", n)
	}
}
