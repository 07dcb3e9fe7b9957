package testutils

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx" // PGX driver for golang-migrate
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// PostgresContainer represents a PostgreSQL container for testing purposes.
type PostgresContainer struct {
	Container testcontainers.Container
	DSN       string

	User     string
	Password string
	Name     string
	Host     string
	Port     string
}

// StartPostgresContainer starts a PostgreSQL container for testing purposes.
func StartPostgresContainer(t *testing.T) *PostgresContainer {
	t.Helper()

	const (
		defaultUser     = "postgres"
		defaultPassword = "postgres"
		defaultName     = "testdb"
	)

	if runtime.GOOS != "linux" {
		t.Skip("Skipping PostgreSQL container test on non-Linux OS")
	}

	req := testcontainers.ContainerRequest{
		Image:        "postgres:latest",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     defaultUser,
			"POSTGRES_PASSWORD": defaultPassword,
			"POSTGRES_DB":       defaultName,
		},
		WaitingFor: wait.ForListeningPort("5432/tcp"),
	}
	ctx := t.Context()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err, "Setup: failed to start PostgreSQL container")
	host, err := container.Host(ctx)
	require.NoError(t, err, "Setup: failed to get container host")

	port, err := container.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err, "Setup: failed to get mapped port")

	dsn := fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=disable",
		defaultUser,
		defaultPassword,
		host,
		port.Port(),
		defaultName,
	)

	return &PostgresContainer{
		Container: container,
		DSN:       dsn,

		User:     defaultUser,
		Password: defaultPassword,
		Name:     defaultName,
		Host:     host,
		Port:     port.Port(),
	}
}

// Stop terminates the container.
func (c *PostgresContainer) Stop(t *testing.T, ctx context.Context) {
	t.Helper()

	require.NoError(t, c.Container.Terminate(ctx), "Teardown: failed to terminate PostgreSQL container")
}

// ApplyMigrations applies the migration scripts in dir to the containerized database.
func (c *PostgresContainer) ApplyMigrations(t *testing.T, dir string) {
	t.Helper()

	abs, err := filepath.Abs(dir)
	require.NoError(t, err, "Setup: failed to resolve migrations directory")

	dsn := fmt.Sprintf("pgx://%s:%s@%s:%s/%s?sslmode=disable", c.User, c.Password, c.Host, c.Port, c.Name)
	m, err := migrate.New(fmt.Sprintf("file://%s", filepath.ToSlash(abs)), dsn)
	require.NoError(t, err, "Setup: failed to create migration instance")
	defer m.Close()

	require.NoError(t, m.Up(), "Setup: failed to apply migrations")
}

// ListTables returns the names of the tables in the public schema.
func (c *PostgresContainer) ListTables(t *testing.T, ctx context.Context) []string {
	t.Helper()

	conn, err := pgx.Connect(ctx, c.DSN)
	require.NoError(t, err, "failed to connect to database")
	defer conn.Close(ctx)

	rows, err := conn.Query(ctx, "SELECT table_name FROM information_schema.tables WHERE table_schema = 'public'")
	require.NoError(t, err, "failed to list tables")
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		require.NoError(t, rows.Scan(&name), "failed to scan table name")
		tables = append(tables, name)
	}
	require.NoError(t, rows.Err(), "failed to iterate over tables")
	return tables
}

// WaitConnected waits until the database accepts connections, or fails the test.
func (c *PostgresContainer) WaitConnected(t *testing.T, ctx context.Context) {
	t.Helper()

	deadline := time.Now().Add(30 * time.Second)
	for {
		conn, err := pgx.Connect(ctx, c.DSN)
		if err == nil {
			require.NoError(t, conn.Close(ctx), "Teardown: failed to close readiness check connection")
			return
		}
		if time.Now().After(deadline) {
			require.NoError(t, err, "Setup: database did not become ready")
		}
		time.Sleep(250 * time.Millisecond)
	}
}
