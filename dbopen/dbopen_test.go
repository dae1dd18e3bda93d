package dbopen

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
)

func TestOpenMemory_Pragmas(t *testing.T) {
	db := OpenMemory(t, WithSchema(`CREATE TABLE kv (k TEXT PRIMARY KEY, v TEXT)`))

	var fk int
	if err := db.QueryRow("PRAGMA foreign_keys").Scan(&fk); err != nil {
		t.Fatal(err)
	}
	if fk != 1 {
		t.Fatalf("foreign_keys = %d, want 1", fk)
	}
	if _, err := Exec(context.Background(), db, `INSERT INTO kv VALUES ('a', 'b')`); err != nil {
		t.Fatal(err)
	}
}

func TestOpen_FileWAL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "app.db")
	db, err := Open(path, WithMkdirAll())
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	var mode string
	if err := db.QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		t.Fatal(err)
	}
	if mode != "wal" {
		t.Fatalf("journal_mode = %q, want wal", mode)
	}
}

func TestDSN(t *testing.T) {
	dsn := DSN("app.db", 500)
	for _, want := range []string{"busy_timeout%28500%29", "journal_mode%28WAL%29", "foreign_keys%281%29"} {
		if !strings.Contains(dsn, want) {
			t.Errorf("DSN %q missing %q", dsn, want)
		}
	}
	if strings.Contains(DSN(":memory:", 1), "journal_mode") {
		t.Error("memory DSN must not set journal_mode")
	}
}

func TestIsBusy(t *testing.T) {
	if IsBusy(nil) {
		t.Error("nil is not busy")
	}
	if !IsBusy(errors.New("database is locked (5) (SQLITE_BUSY)")) {
		t.Error("expected busy")
	}
	if IsBusy(errors.New("no such table")) {
		t.Error("unexpected busy")
	}
}
