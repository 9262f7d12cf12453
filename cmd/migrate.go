package cmd

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/sessiond/internal/config"
	"github.com/nextlevelbuilder/sessiond/internal/sink"
)

func openMigrator() (*sql.DB, *migrate.Migrate, error) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	driver := cfg.Database.Driver
	dsn := cfg.Database.DSN
	if driver == "sqlite" && dsn == "" {
		dsn = filepath.Join(cfg.WorkspacePath(), "sessiond.db")
	}
	if dsn == "" {
		return nil, nil, fmt.Errorf("no database DSN configured; set SESSIOND_DB_DSN")
	}
	db, err := sink.Open(driver, dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	m, err := sink.Migrator(db, driver)
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	return db, m, nil
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Database migration management",
	}
	cmd.AddCommand(migrateUpCmd())
	cmd.AddCommand(migrateDownCmd())
	cmd.AddCommand(migrateVersionCmd())
	cmd.AddCommand(migrateForceCmd())
	return cmd
}

func migrateUpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, m, err := openMigrator()
			if err != nil {
				return err
			}
			defer db.Close()
			if err := m.Up(); err != nil && err != migrate.ErrNoChange {
				return fmt.Errorf("migrate up: %w", err)
			}
			fmt.Println("migrations applied")
			return nil
		},
	}
}

func migrateDownCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "down",
		Short: "Roll back the most recent migration",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, m, err := openMigrator()
			if err != nil {
				return err
			}
			defer db.Close()
			if err := m.Steps(-1); err != nil {
				return fmt.Errorf("migrate down: %w", err)
			}
			fmt.Println("rolled back one migration")
			return nil
		},
	}
}

func migrateVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show the current migration version",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, m, err := openMigrator()
			if err != nil {
				return err
			}
			defer db.Close()
			version, dirty, err := m.Version()
			if err != nil {
				if err == migrate.ErrNilVersion {
					fmt.Println("no migrations applied")
					return nil
				}
				return err
			}
			fmt.Printf("version %d (dirty=%v)\n", version, dirty)
			return nil
		},
	}
}

func migrateForceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "force <version>",
		Short: "Force the migration version without running migrations",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			version, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid version %q", args[0])
			}
			db, m, err := openMigrator()
			if err != nil {
				return err
			}
			defer db.Close()
			if err := m.Force(version); err != nil {
				return fmt.Errorf("migrate force: %w", err)
			}
			fmt.Printf("forced version %d\n", version)
			return nil
		},
	}
}
