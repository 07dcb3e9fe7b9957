package daemon

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/dlopt/trialgrid/internal/constants"
	"github.com/dlopt/trialgrid/internal/database"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx" // PGX driver for golang-migrate
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/spf13/cobra"
)

func installMigrateCmd(app *App) {
	migrateCmd := &cobra.Command{
		Use:   "migrate [path-to-migration-scripts]",
		Short: "Apply trial results schema migrations",
		Long: `Apply the migration scripts creating or updating the trial results schema.
Without a path the scripts installed alongside the service data are used.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app.cmd.SilenceUsage = false

			app.config.MigrationsDir = constants.DefaultMigrationsDir
			if len(args) == 1 {
				app.config.MigrationsDir = args[0]
			}

			fileInfo, err := os.Stat(app.config.MigrationsDir)
			if err != nil {
				return fmt.Errorf("the path to migration scripts is not valid: %v", err)
			}
			if !fileInfo.IsDir() {
				return fmt.Errorf("the path to migration scripts should be a directory, not a file")
			}

			app.cmd.SilenceUsage = true

			slog.Info("Running migrate command", "path", app.config.MigrationsDir)
			return app.migrateRun()
		},
	}
	app.cmd.AddCommand(migrateCmd)
}

func (a App) migrateRun() error {
	m, err := migrate.New("file://"+a.config.MigrationsDir, migrationDSN(a.config.DBconfig))
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %v", err)
	}
	defer func() {
		sErr, dbErr := m.Close()
		if sErr != nil {
			slog.Error("Failed to close migration source", "error", sErr)
		}
		if dbErr != nil {
			slog.Error("Failed to close migration database connection", "error", dbErr)
		}
	}()

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			slog.Info("Trial results schema is up to date")
			return nil
		}

		return fmt.Errorf("failed to apply migrations: %v", err)
	}
	slog.Info("Trial results schema migrated")
	return nil
}

// migrationDSN builds the connection string of the golang-migrate pgx driver.
// The password can be empty for some authentication methods.
func migrationDSN(cfg database.Config) string {
	return fmt.Sprintf("pgx://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.DBName, cfg.SSLMode)
}
