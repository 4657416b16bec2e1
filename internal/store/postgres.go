package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"

	"github.com/pressly/goose/v3"

	_ "github.com/jackc/pgx/v5/stdlib"
)

//go:embed pgmigrations/*.sql
var pgMigrations embed.FS

// PostgresStore implements Store backed by PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore opens a PostgreSQL connection and runs migrations.
func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening postgres: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}

	goose.SetBaseFS(pgMigrations)
	if err := goose.SetDialect("postgres"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("setting goose dialect: %w", err)
	}
	if err := goose.Up(db, "pgmigrations"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

// DB returns the underlying database connection for migration commands.
func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) SaveUnresolved(ctx context.Context, q *UnresolvedQuery) error {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO unresolved_queries (name, code, created_at)
		VALUES (NULLIF($1, ''), NULLIF($2, ''), $3)
		RETURNING id`,
		q.Name, q.Code, q.CreatedAt.UTC()).Scan(&q.ID)
	if err != nil {
		return fmt.Errorf("saving unresolved query: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUnresolved(ctx context.Context, limit int) ([]UnresolvedQuery, error) {
	query := `SELECT id, name, code, created_at FROM unresolved_queries ORDER BY id`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, replacePlaceholders(query), args...)
	if err != nil {
		return nil, fmt.Errorf("listing unresolved queries: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	return scanUnresolved(rows)
}

func (s *PostgresStore) GetUnresolvedByCode(ctx context.Context, code string) ([]UnresolvedQuery, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, code, created_at FROM unresolved_queries
		WHERE code = $1 ORDER BY id`, code)
	if err != nil {
		return nil, fmt.Errorf("querying unresolved queries by code: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	return scanUnresolved(rows)
}

func (s *PostgresStore) CountUnresolved(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM unresolved_queries`).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting unresolved queries: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}
