// Package sqlitedb is the embedded storage driver: a single-file (or
// in-memory) SQLite database reached through database/sql with the pure-Go
// modernc driver. All access is funnelled through one connection, so SQLite
// transactions serialize writers the way row locks do on Postgres.
package sqlitedb

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// DriverName is the database/sql driver registered by modernc.org/sqlite.
const DriverName = "sqlite"

// DB wraps the handle so it satisfies the health-check Pinger.
type DB struct {
	*sql.DB
	path string
}

// Open opens (creating if needed) the database at path. ":memory:" gives a
// private in-memory database that lives as long as the handle.
func Open(ctx context.Context, path string) (*DB, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}

	sqlDB, err := sql.Open(DriverName, path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxLifetime(0)
	sqlDB.SetConnMaxIdleTime(0)

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	if path != ":memory:" {
		pragmas = append(pragmas, "PRAGMA journal_mode = WAL")
	}
	for _, p := range pragmas {
		if _, err := sqlDB.ExecContext(ctx, p); err != nil {
			sqlDB.Close()
			return nil, fmt.Errorf("%s: %w", p, err)
		}
	}

	return &DB{DB: sqlDB, path: path}, nil
}

// Ping implements db.Pinger.
func (d *DB) Ping(ctx context.Context) error {
	return d.DB.PingContext(ctx)
}

// Stats reports database/sql pool statistics for the health endpoint.
func (d *DB) Stats() interface{} {
	s := d.DB.Stats()
	return map[string]interface{}{
		"path":             d.path,
		"open_connections": s.OpenConnections,
		"in_use":           s.InUse,
		"wait_count":       s.WaitCount,
		"wait_duration":    s.WaitDuration.String(),
	}
}

// Time values are stored as unix microseconds so ordering and range filters
// are plain integer comparisons.

// TimeValue converts t for storage.
func TimeValue(t time.Time) int64 {
	return t.UTC().UnixMicro()
}

// NullTimeValue converts an optional time for storage.
func NullTimeValue(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: TimeValue(*t), Valid: true}
}

// ParseTime converts a stored value back to UTC time.
func ParseTime(v int64) time.Time {
	return time.UnixMicro(v).UTC()
}

// ParseNullTime converts an optional stored value.
func ParseNullTime(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := ParseTime(v.Int64)
	return &t
}

// NullString converts an optional string for storage.
func NullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// StringPtr converts an optional stored string.
func StringPtr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

// IsUniqueViolation reports a UNIQUE constraint failure.
func IsUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
