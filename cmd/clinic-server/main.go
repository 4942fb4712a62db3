package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sunflower/clinic/internal/config"
	"github.com/sunflower/clinic/internal/platform/db"
	"github.com/sunflower/clinic/internal/platform/sqlitedb"
	"github.com/sunflower/clinic/migrations"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:          "clinic-server",
		Short:        "Clinic encounter workflow API server",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(tenantCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			migrate, _ := cmd.Flags().GetBool("migrate")
			return runServer(migrate)
		},
	}
	cmd.Flags().Bool("migrate", true, "Apply pending migrations (default tenant on postgres) before serving")
	return cmd
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, _ := cmd.Flags().GetString("schema")
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if dir == "" {
				dir = cfg.MigrationsDir
			}
			source, err := migrationSource(dir, cfg.StorageDriver)
			if err != nil {
				return err
			}

			ctx := context.Background()
			var count int
			switch cfg.StorageDriver {
			case config.StorageSQLite:
				d, err := sqlitedb.Open(ctx, cfg.SQLitePath)
				if err != nil {
					return err
				}
				defer d.Close()
				fmt.Printf("Running migrations on %s\n", cfg.SQLitePath)
				count, err = sqlitedb.NewMigrator(d, source).Up(ctx)
				if err != nil {
					return fmt.Errorf("migration failed: %w", err)
				}
			default:
				pool, err := db.NewPool(ctx, cfg.DatabaseURL, db.PoolConfig{MaxConns: 2})
				if err != nil {
					return err
				}
				defer pool.Close()
				if schema == "" {
					schema = db.SchemaName(cfg.DefaultTenant)
				}
				fmt.Printf("Running migrations on schema: %s\n", schema)
				count, err = db.NewMigrator(pool, source).Up(ctx, schema)
				if err != nil {
					return fmt.Errorf("migration failed: %w", err)
				}
			}

			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("schema", "", "Target schema (postgres; default tenant_<DEFAULT_TENANT>)")
	upCmd.Flags().String("dir", "", "Migrations directory with postgres/ and sqlite/ subdirectories (default: embedded)")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, _ := cmd.Flags().GetString("schema")
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if dir == "" {
				dir = cfg.MigrationsDir
			}
			source, err := migrationSource(dir, cfg.StorageDriver)
			if err != nil {
				return err
			}

			ctx := context.Background()
			var statuses []migrations.Status
			target := cfg.SQLitePath
			switch cfg.StorageDriver {
			case config.StorageSQLite:
				d, err := sqlitedb.Open(ctx, cfg.SQLitePath)
				if err != nil {
					return err
				}
				defer d.Close()
				statuses, err = sqlitedb.NewMigrator(d, source).Status(ctx)
				if err != nil {
					return fmt.Errorf("failed to get migration status: %w", err)
				}
			default:
				pool, err := db.NewPool(ctx, cfg.DatabaseURL, db.PoolConfig{MaxConns: 2})
				if err != nil {
					return err
				}
				defer pool.Close()
				if schema == "" {
					schema = db.SchemaName(cfg.DefaultTenant)
				}
				target = "schema " + schema
				statuses, err = db.NewMigrator(pool, source).Status(ctx, schema)
				if err != nil {
					return fmt.Errorf("failed to get migration status: %w", err)
				}
			}

			fmt.Printf("Migration status for %s\n", target)
			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Println("---------- ---------------------------------------- ---------- --------------------")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("schema", "", "Target schema (postgres; default tenant_<DEFAULT_TENANT>)")
	statusCmd.Flags().String("dir", "", "Migrations directory with postgres/ and sqlite/ subdirectories (default: embedded)")
	cmd.AddCommand(statusCmd)

	return cmd
}

func tenantCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tenant",
		Short: "Manage tenants",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create and migrate a tenant schema (postgres only)",
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("name")
			if name == "" {
				return fmt.Errorf("--name is required")
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.StorageDriver != config.StoragePostgres {
				return fmt.Errorf("tenants need STORAGE_DRIVER=postgres; sqlite serves a single clinic")
			}
			source, err := migrationSource(cfg.MigrationsDir, cfg.StorageDriver)
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, db.PoolConfig{MaxConns: 2})
			if err != nil {
				return err
			}
			defer pool.Close()

			fmt.Printf("Creating tenant schema: %s\n", db.SchemaName(name))
			if err := db.CreateTenantSchema(ctx, pool, name, source); err != nil {
				return err
			}
			fmt.Println("Tenant created and migrated.")
			return nil
		},
	}
	createCmd.Flags().String("name", "", "Tenant identifier (alphanumeric)")

	cmd.AddCommand(createCmd)
	return cmd
}
