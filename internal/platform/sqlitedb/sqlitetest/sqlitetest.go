// Package sqlitetest opens migrated in-memory databases for repository tests.
package sqlitetest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sunflower/clinic/internal/platform/sqlitedb"
	"github.com/sunflower/clinic/migrations"
)

// Open returns a private in-memory database with every migration applied.
// It is closed when the test ends.
func Open(t testing.TB) *sqlitedb.DB {
	t.Helper()
	ctx := context.Background()

	d, err := sqlitedb.Open(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })

	_, err = sqlitedb.NewMigrator(d, migrations.SQLite()).Up(ctx)
	require.NoError(t, err)
	return d
}
