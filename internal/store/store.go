package store

import (
	"context"
	"fmt"
	"time"
)

// Store persists the unresolved-query log. SQLite, PostgreSQL and JSON file
// implementations satisfy this interface.
type Store interface {
	// SaveUnresolved appends an entry to the log.
	SaveUnresolved(ctx context.Context, q *UnresolvedQuery) error

	// GetUnresolved returns log entries oldest first. A limit <= 0 returns all entries.
	GetUnresolved(ctx context.Context, limit int) ([]UnresolvedQuery, error)

	// GetUnresolvedByCode returns the entries recorded with the given code, oldest first.
	GetUnresolvedByCode(ctx context.Context, code string) ([]UnresolvedQuery, error)

	// CountUnresolved returns the number of log entries.
	CountUnresolved(ctx context.Context) (int, error)

	// Close releases the underlying resources.
	Close() error
}

// UnresolvedQuery is a city query that matched nothing. Empty Name or Code
// means the field was absent from the query.
type UnresolvedQuery struct {
	ID        int64
	Name      string
	Code      string
	CreatedAt time.Time
}

// Open creates the store for the given driver ("sqlite", "postgres" or
// "json"). dsn is a file path for sqlite and json.
func Open(driver, dsn string) (Store, error) {
	switch driver {
	case "sqlite":
		return NewSQLiteStore(dsn)
	case "postgres":
		return NewPostgresStore(dsn)
	case "json":
		return NewJSONStore(dsn)
	default:
		return nil, fmt.Errorf("unknown storage driver: %s", driver)
	}
}
