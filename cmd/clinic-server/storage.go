package main

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"

	"github.com/sunflower/clinic/internal/config"
	"github.com/sunflower/clinic/internal/domain/auditevent"
	"github.com/sunflower/clinic/internal/domain/encounter"
	"github.com/sunflower/clinic/internal/domain/labattachment"
	"github.com/sunflower/clinic/internal/domain/stationrecord"
	"github.com/sunflower/clinic/internal/platform/db"
	"github.com/sunflower/clinic/internal/platform/sqlitedb"
	"github.com/sunflower/clinic/migrations"
)

// stores bundles the repositories of one storage driver with its transaction
// manager and health hooks.
type stores struct {
	driver      string
	encounters  encounter.Repository
	records     stationrecord.Repository
	audit       auditevent.Repository
	attachments labattachment.Repository
	tx          db.TxManager
	pinger      db.Pinger
	stats       func() interface{}
	// tenant scopes /api/v1 requests to a schema; nil for sqlite.
	tenant echo.MiddlewareFunc
	// migrate brings the sqlite file, or the default tenant schema on
	// postgres, up to date.
	migrate func(ctx context.Context, source fs.FS) error
	close   func()
}

func openStores(ctx context.Context, cfg *config.Config) (*stores, error) {
	switch cfg.StorageDriver {
	case config.StoragePostgres:
		pool, err := db.NewPool(ctx, cfg.DatabaseURL, db.PoolConfig{
			MaxConns: cfg.DBMaxConns,
			MinConns: cfg.DBMinConns,
		})
		if err != nil {
			return nil, err
		}
		return postgresStores(pool, cfg.DefaultTenant), nil
	case config.StorageSQLite:
		d, err := sqlitedb.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return sqliteStores(d), nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.StorageDriver)
	}
}

func postgresStores(pool *pgxpool.Pool, defaultTenant string) *stores {
	return &stores{
		driver:      config.StoragePostgres,
		encounters:  encounter.NewRepo(pool),
		records:     stationrecord.NewRepo(pool),
		audit:       auditevent.NewRepo(pool),
		attachments: labattachment.NewRepo(pool),
		tx:          db.NewTxManager(pool),
		pinger:      pool,
		stats:       func() interface{} { return db.GetPoolStats(pool) },
		tenant:      db.TenantMiddleware(pool, defaultTenant),
		migrate: func(ctx context.Context, source fs.FS) error {
			return db.CreateTenantSchema(ctx, pool, defaultTenant, source)
		},
		close: pool.Close,
	}
}

func sqliteStores(d *sqlitedb.DB) *stores {
	return &stores{
		driver:      config.StorageSQLite,
		encounters:  encounter.NewSQLiteRepo(d),
		records:     stationrecord.NewSQLiteRepo(d),
		audit:       auditevent.NewSQLiteRepo(d),
		attachments: labattachment.NewSQLiteRepo(d),
		tx:          sqlitedb.NewTxManager(d),
		pinger:      d,
		stats:       d.Stats,
		migrate: func(ctx context.Context, source fs.FS) error {
			_, err := sqlitedb.NewMigrator(d, source).Up(ctx)
			return err
		},
		close: func() { d.Close() },
	}
}

// migrationSource picks the migration files for driver: dir when given
// (it must hold a subdirectory per driver), the embedded set otherwise.
func migrationSource(dir, driver string) (fs.FS, error) {
	if dir == "" {
		if driver == config.StorageSQLite {
			return migrations.SQLite(), nil
		}
		return migrations.Postgres(), nil
	}
	path := filepath.Join(dir, driver)
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("migrations directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("migrations directory: %s is not a directory", path)
	}
	return os.DirFS(path), nil
}
