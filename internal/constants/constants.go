// Package constants is responsible for defining the constants used in the application.
// It also provides utility functions to get the default spool and configuration paths.
package constants

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

var (
	// Version is the version of the application.
	Version = "Dev"
)

const (
	// CmdName is the name of the launcher command line tool.
	CmdName = "trialgrid"

	// ResultsServiceCmdName is the name of the results ingestion daemon.
	ResultsServiceCmdName = "results-service"

	// DefaultAppFolder is the name of the default root folder.
	DefaultAppFolder = "trialgrid"

	// LogsFolder is the directory, relative to the submit directory, holding the
	// per-trial stream files.
	LogsFolder = "logs"

	// ResultsFolder is the directory, relative to the submit directory, that
	// sandbox outputs are transferred back to at trial exit.
	ResultsFolder = "results"

	// SpoolFolder is the default name of the sandbox spool folder.
	SpoolFolder = "spool"

	// OutboxFolder is the results spool subfolder unlabeled submissions write
	// their result documents to. It is never a valid queue name.
	OutboxFolder = "outbox"

	// ResultExt is the extension of per-trial result documents.
	ResultExt = ".json"

	// ProfileExt is the extension of submit profile files.
	ProfileExt = ".profile.toml"

	// GlobalProfileName is the base name of the global submit profile file.
	GlobalProfileName = "global"

	// DefaultRequestCpus is the per-trial CPU reservation used when the
	// descriptor and profile are both silent.
	DefaultRequestCpus = 1

	// MaxResults is the maximum number of processed result files kept in a folder.
	MaxResults = 500

	// DefaultLogLevel is the default log level selected without any verbosity flags.
	DefaultLogLevel = slog.LevelWarn
)

const (
	// DefaultServiceFolder is the name of the default root folder for services.
	DefaultServiceFolder = "trialgrid-services"

	// DefaultServiceResultsFolder is the name of the default results folder for services.
	DefaultServiceResultsFolder = "results"

	// DefaultMigrationsFolder is the name of the default folder migration scripts
	// are installed into.
	DefaultMigrationsFolder = "migrations"
)

var (
	// DefaultConfigPath is the default app user configuration path. It's overridden when imported.
	DefaultConfigPath = DefaultAppFolder
	// DefaultCachePath is the default app user cache path. It's overridden when imported.
	DefaultCachePath = DefaultAppFolder

	// DefaultServiceDataDir is the default data directory for services. It's overridden when imported.
	DefaultServiceDataDir = DefaultServiceFolder

	// DefaultServiceResultsDir is the default results directory for services. It's overridden when imported.
	DefaultServiceResultsDir = filepath.Join(DefaultServiceDataDir, DefaultServiceResultsFolder)

	// DefaultMigrationsDir is the default directory migration scripts are read
	// from. It's overridden when imported.
	DefaultMigrationsDir = filepath.Join(DefaultServiceDataDir, DefaultMigrationsFolder)
)

func init() {
	userConfigDir, err := os.UserConfigDir()
	if err != nil {
		panic(fmt.Sprintf("Could not fetch config directory: %v", err))
	}
	userCacheDir, err := os.UserCacheDir()
	if err != nil {
		panic(fmt.Sprintf("Could not fetch cache directory: %v", err))
	}

	DefaultConfigPath = filepath.Join(userConfigDir, DefaultAppFolder)
	DefaultCachePath = filepath.Join(userCacheDir, DefaultAppFolder)
	DefaultServiceDataDir = filepath.Join(userCacheDir, DefaultServiceFolder)
	DefaultServiceResultsDir = filepath.Join(DefaultServiceDataDir, DefaultServiceResultsFolder)
	DefaultMigrationsDir = filepath.Join(DefaultServiceDataDir, DefaultMigrationsFolder)
}
