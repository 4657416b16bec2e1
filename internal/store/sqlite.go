package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrations embed.FS

// SQLiteStore implements Store backed by SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens a SQLite database, sets file permissions, and runs migrations.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	dir := filepath.Dir(dsn)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite: %w", err)
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("setting pragma %q: %w", pragma, err)
		}
	}

	if err := os.Chmod(dsn, 0600); err != nil && !os.IsNotExist(err) {
		_ = db.Close()
		return nil, fmt.Errorf("setting file permissions: %w", err)
	}

	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("sqlite3"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("setting goose dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// DB returns the underlying database connection for migration commands.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

func (s *SQLiteStore) SaveUnresolved(ctx context.Context, q *UnresolvedQuery) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO unresolved_queries (name, code, created_at)
		VALUES (NULLIF(?, ''), NULLIF(?, ''), ?)`,
		q.Name, q.Code, q.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("saving unresolved query: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		q.ID = id
	}
	return nil
}

func (s *SQLiteStore) GetUnresolved(ctx context.Context, limit int) ([]UnresolvedQuery, error) {
	query := `SELECT id, name, code, created_at FROM unresolved_queries ORDER BY id`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing unresolved queries: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	return scanUnresolved(rows)
}

func (s *SQLiteStore) GetUnresolvedByCode(ctx context.Context, code string) ([]UnresolvedQuery, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, code, created_at FROM unresolved_queries
		WHERE code = ? ORDER BY id`, code)
	if err != nil {
		return nil, fmt.Errorf("querying unresolved queries by code: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	return scanUnresolved(rows)
}

func (s *SQLiteStore) CountUnresolved(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM unresolved_queries`).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting unresolved queries: %w", err)
	}
	return count, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Shared helpers ---

// scanUnresolved reads id, name, code, created_at rows. Timestamps may come
// back as time.Time or text depending on the driver.
func scanUnresolved(rows *sql.Rows) ([]UnresolvedQuery, error) {
	var result []UnresolvedQuery
	for rows.Next() {
		var (
			q          UnresolvedQuery
			name, code sql.NullString
			tsRaw      any
		)
		if err := rows.Scan(&q.ID, &name, &code, &tsRaw); err != nil {
			return nil, fmt.Errorf("scanning unresolved query: %w", err)
		}
		ts, err := parseTimestamp(tsRaw)
		if err != nil {
			return nil, fmt.Errorf("parsing timestamp: %w", err)
		}
		q.Name = name.String
		q.Code = code.String
		q.CreatedAt = ts.UTC()
		result = append(result, q)
	}
	return result, rows.Err()
}

// parseTimestamp handles both time.Time and string timestamp values from SQLite.
func parseTimestamp(v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t, nil
	case []byte:
		return parseTimestamp(string(t))
	case string:
		for _, layout := range []string{
			time.RFC3339Nano,
			time.RFC3339,
			"2006-01-02 15:04:05.999999999 -0700 MST",
			"2006-01-02 15:04:05.999999999-07:00",
			"2006-01-02 15:04:05",
		} {
			if ts, err := time.Parse(layout, t); err == nil {
				return ts, nil
			}
		}
		return time.Time{}, fmt.Errorf("unable to parse timestamp: %q", t)
	default:
		return time.Time{}, fmt.Errorf("unexpected timestamp type: %T", v)
	}
}

// replacePlaceholders converts ? to $1, $2, $3 etc for postgres.
func replacePlaceholders(query string) string {
	result := make([]byte, 0, len(query))
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, fmt.Sprintf("$%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
