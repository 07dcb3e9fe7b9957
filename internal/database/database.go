// Package database provides the database connection and upload functionality for the results service.
// It handles the connection to a PostgreSQL database and provides methods to upload trial results.
package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/dlopt/trialgrid/internal/result"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Config holds the configuration for connecting to the PostgreSQL database.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

type dbPool interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Ping(ctx context.Context) error
	Close()
}

// Manager manages the PostgreSQL database connection pool.
type Manager struct {
	dbpool dbPool
}

type options struct {
	newPool func(ctx context.Context, dsn string) (dbPool, error)
}

// Options represents an optional function to override Manager default values.
type Options func(*options)

// New creates a database manager with a PostgreSQL connection pool using the provided configuration.
// Note: The connection is validated with a ping, but it is not maintained.
func New(ctx context.Context, cfg Config, args ...Options) (*Manager, error) {
	opts := options{
		newPool: func(ctx context.Context, dsn string) (dbPool, error) {
			return pgxpool.New(ctx, dsn)
		},
	}

	for _, opt := range args {
		opt(&opts)
	}

	dbpool, err := opts.newPool(ctx, cfg.URI("postgres"))
	if err != nil {
		return nil, fmt.Errorf("unable to create database connection pool: %w", err)
	}

	slog.Debug("Testing database connection", "host", cfg.Host, "port", cfg.Port)
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := dbpool.Ping(pingCtx); err != nil {
		dbpool.Close()
		return nil, fmt.Errorf("unable to ping database: %v", err)
	}

	slog.Info("Successfully pinged PostgreSQL database", "host", cfg.Host, "port", cfg.Port)
	return &Manager{dbpool: dbpool}, nil
}

// Upload uploads the provided trial result document to the PostgreSQL database.
func (db Manager) Upload(ctx context.Context, id string, doc *result.Document) error {
	const table = "trial_results"

	return db.upload(ctx, table, func(ctx context.Context, table string) (pgconn.CommandTag, error) {
		query := fmt.Sprintf(
			`INSERT INTO %s (
				result_id,
				entry_time,
				cluster,
				ordinal,
				queue_name,
				exit_code,
				started_at,
				finished_at,
				machine
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			table,
		)

		return db.dbpool.Exec(ctx, query,
			id,             // result_id
			time.Now(),     // entry_time
			doc.Cluster,    // cluster
			doc.Ordinal,    // ordinal
			doc.QueueName,  // queue_name
			doc.ExitCode,   // exit_code
			doc.StartedAt,  // started_at
			doc.FinishedAt, // finished_at
			doc.Machine,    // machine
		)
	})
}

// UploadInvalid uploads the invalid result to the invalid_results table as a string.
func (db Manager) UploadInvalid(ctx context.Context, id, queue, rawResult string) error {
	const table = "invalid_results"

	return db.upload(ctx, table, func(ctx context.Context, table string) (pgconn.CommandTag, error) {
		query := fmt.Sprintf(
			`INSERT INTO %s (
				result_id,
				entry_time,
				queue_name,
				raw_result
			) VALUES ($1, $2, $3, $4)`,
			table,
		)

		return db.dbpool.Exec(ctx, query,
			id,         // result_id
			time.Now(), // entry_time
			queue,      // queue_name
			rawResult,  // raw_result
		)
	})
}

// ClusterStatus is one row of the per-cluster trial counts.
type ClusterStatus struct {
	Cluster   string
	Trials    int
	Failed    int
	LastEntry time.Time
}

// ClusterStatuses returns per-cluster trial counts, most recently seen
// clusters first, up to limit rows.
func (db Manager) ClusterStatuses(ctx context.Context, limit int) ([]ClusterStatus, error) {
	if db.dbpool == nil {
		return nil, errors.New("database not initialized")
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	rows, err := db.dbpool.Query(ctx,
		`SELECT cluster,
			COUNT(*),
			COUNT(*) FILTER (WHERE exit_code <> 0),
			MAX(entry_time)
		FROM trial_results
		GROUP BY cluster
		ORDER BY MAX(entry_time) DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query cluster statuses: %v", err)
	}
	defer rows.Close()

	var statuses []ClusterStatus
	for rows.Next() {
		var s ClusterStatus
		if err := rows.Scan(&s.Cluster, &s.Trials, &s.Failed, &s.LastEntry); err != nil {
			return nil, fmt.Errorf("failed to scan cluster status: %v", err)
		}
		statuses = append(statuses, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read cluster statuses: %v", err)
	}

	return statuses, nil
}

func (db Manager) upload(ctx context.Context, table string, execFn func(context.Context, string) (pgconn.CommandTag, error)) error {
	if db.dbpool == nil {
		return fmt.Errorf("database not initialized")
	}

	table = pgx.Identifier{table}.Sanitize()

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	_, err := execFn(ctx, table)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return fmt.Errorf("upload canceled: %v", err)
		}
		return fmt.Errorf("failed to upload data: %v", err)
	}
	return nil
}

// Close closes the database connection.
//
// If the connection is already closed, it does nothing.
// If the connection does not close within 10 seconds, it returns an error.
func (db *Manager) Close() error {
	if db.dbpool == nil {
		return nil
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		db.dbpool.Close()
	}()

	select {
	case <-done:
		db.dbpool = nil
		return nil
	case <-time.After(10 * time.Second):
		return fmt.Errorf("timeout while closing database, connection may still be open")
	}
}

// URI is a helper method that returns a connection URI for PostgreSQL.
// It does not check the validity of the configuration values.
//
// Security warning: the returned string may include credentials.
func (c Config) URI(scheme string) string {
	host := c.Host
	if c.Port != 0 {
		host = fmt.Sprintf("%s:%d", c.Host, c.Port)
	}

	user := url.User(c.User)
	if c.Password != "" {
		user = url.UserPassword(c.User, c.Password)
	}

	u := &url.URL{
		Scheme: scheme,
		User:   user,
		Host:   host,
		Path:   c.DBName,
	}

	q := u.Query()
	if c.SSLMode != "" {
		q.Set("sslmode", c.SSLMode)
	}
	u.RawQuery = q.Encode()
	return u.String()
}
