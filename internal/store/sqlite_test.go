package store

import (
	"os"
	"path/filepath"
	"testing"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dir := t.TempDir()
	dsn := filepath.Join(dir, "test.db")
	s, err := NewSQLiteStore(dsn)
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteStore_Unresolved(t *testing.T) {
	exerciseStore(t, newTestSQLiteStore(t))
}

func TestSQLiteStore_FilePermissions(t *testing.T) {
	dir := t.TempDir()
	dsn := filepath.Join(dir, "nested", "log.db")
	s, err := NewSQLiteStore(dsn)
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	defer s.Close() //nolint:errcheck

	info, err := os.Stat(dsn)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm&0077 != 0 {
		t.Errorf("permissions = %04o, want owner-only", perm)
	}
}

func TestSQLiteStore_MigrationsIdempotent(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "test.db")
	for i := 0; i < 2; i++ {
		s, err := NewSQLiteStore(dsn)
		if err != nil {
			t.Fatalf("open %d: %v", i, err)
		}
		_ = s.Close()
	}
}
