package daemon_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/dlopt/trialgrid/cmd/results-service/daemon"
	"github.com/dlopt/trialgrid/internal/testutils"
	"github.com/stretchr/testify/require"
)

func TestMigrate(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	// Make a fake file in dir
	fakeMigration := filepath.Join(dir, "fake.sql")
	require.NoError(t, os.WriteFile(fakeMigration, []byte(""), 0600), "Setup: couldn't write fake migration file")
	trueMigrationsDir := filepath.Join(testutils.ModuleRoot(), "migrations")

	tests := map[string]struct {
		args               []string
		noDatabase         bool
		preApplyMigrations bool

		wantErr      bool
		wantUsageErr bool
	}{
		"basic migration": {
			args: []string{trueMigrationsDir},
		},
		"pre-applied migrations": {
			args:               []string{trueMigrationsDir},
			preApplyMigrations: true,
		},

		// Usage Error Cases
		"no path falls back to missing default location": {
			noDatabase:   true,
			wantErr:      true,
			wantUsageErr: true,
		},
		"non-existent path": {
			args:         []string{filepath.Join(dir, "non-existent-folder")},
			wantErr:      true,
			wantUsageErr: true,
		},
		"path to file": {
			args:         []string{fakeMigration},
			wantErr:      true,
			wantUsageErr: true,
		},

		// Error Cases
		"no database": {
			args:       []string{trueMigrationsDir},
			noDatabase: true,
			wantErr:    true,
		},
		"empty migrations directory": {
			args:    []string{dir},
			wantErr: true,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			db := &testutils.PostgresContainer{}
			if !tc.noDatabase {
				db = testutils.StartPostgresContainer(t)

				tc.args = append(tc.args,
					"--db-host", db.Host,
					"--db-port", db.Port,
					"--db-user", db.User,
					"--db-password", db.Password,
					"--db-name", db.Name,
					"--db-sslmode", "disable",
					"-vv")

				db.WaitConnected(t, t.Context())
				if tc.preApplyMigrations {
					db.ApplyMigrations(t, trueMigrationsDir)
				}
			}

			a, err := daemon.New()
			require.NoError(t, err, "Setup: New should not return an error")
			args := append([]string{"migrate"}, tc.args...)
			a.SetArgs(args...)

			err = a.Run()
			require.Equal(t, tc.wantUsageErr, a.UsageError(), "Run should return a usage error if expected")
			if tc.wantErr {
				require.Error(t, err, "Run should return an error")
				return
			}
			require.NoError(t, err, "Run should not return an error")

			// Get list of database tables
			got := db.ListTables(t, t.Context())
			want := testutils.LoadWithUpdateFromGoldenYAML(t, got)
			require.ElementsMatch(t, want, got, "Run should create the expected tables in the database")
		})
	}
}
