// Package commands contains the trialgrid command line interface.
package commands

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dlopt/trialgrid/internal/cli"
	"github.com/dlopt/trialgrid/internal/constants"
	"github.com/dlopt/trialgrid/internal/database"
	"github.com/dlopt/trialgrid/internal/machine"
	"github.com/dlopt/trialgrid/internal/notify"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// App represents the application.
type App struct {
	cmd    *cobra.Command
	viper  *viper.Viper
	config appConfig

	newNotifier newNotifier
	newStatusDB newStatusDB
	collect     collect
}

// appConfig holds the configuration for the application.
type appConfig struct {
	Verbosity int
	JSONLogs  bool

	ProfilesDir string

	Submit   submitConfig
	Validate validateConfig
	Status   statusConfig
	Profile  profileConfig

	DBconfig database.Config
}

type (
	newNotifier func(ctx context.Context, region, from string) (notify.Notifier, error)
	newStatusDB func(ctx context.Context, cfg database.Config) (statusDB, error)
	collect     func() (machine.Info, error)
)

// statusDB is the database surface the status command needs.
type statusDB interface {
	ClusterStatuses(ctx context.Context, limit int) ([]database.ClusterStatus, error)
	Close() error
}

type options struct {
	newNotifier newNotifier
	newStatusDB newStatusDB
	collect     collect
}

// Options represents an optional function to override App default values.
type Options func(*options)

// New creates a new App instance with default values.
func New(args ...Options) (*App, error) {
	opts := options{
		newNotifier: func(ctx context.Context, region, from string) (notify.Notifier, error) {
			return notify.NewMailer(ctx, region, from)
		},
		newStatusDB: func(ctx context.Context, cfg database.Config) (statusDB, error) {
			return database.New(ctx, cfg)
		},
		collect: func() (machine.Info, error) {
			return machine.New(slog.Default()).Collect()
		},
	}
	for _, opt := range args {
		opt(&opts)
	}

	a := App{
		newNotifier: opts.newNotifier,
		newStatusDB: opts.newStatusDB,
		collect:     opts.collect,
	}

	a.cmd = &cobra.Command{
		Use:           constants.CmdName,
		Short:         "Launch batches of independent trials from a submit descriptor",
		Long: constants.CmdName + ` reads a declarative submit descriptor and launches the
queued trials on the local machine, each in its own sandbox with staged
input files and per-trial output streams.`,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Command parsing has been successful. Returns to not print usage anymore.
			a.cmd.SilenceUsage = true
			cli.SetSlog(a.config.Verbosity, a.config.JSONLogs) // Set verbosity before loading config
			if err := cli.InitViperConfig(constants.CmdName, a.cmd, a.viper); err != nil {
				return err
			}
			if err := a.viper.Unmarshal(&a.config); err != nil {
				return fmt.Errorf("unable to strictly decode configuration into struct: %w", err)
			}
			slog.Debug("got app config", "config", a.config)

			cli.SetSlog(a.config.Verbosity, a.config.JSONLogs) // Update logging after loading config if necessary
			return nil
		},
	}
	a.viper = viper.New()
	a.cmd.CompletionOptions.HiddenDefaultCmd = true

	installRootFlags(&a)
	installSubmitCmd(&a)
	installValidateCmd(&a)
	installStatusCmd(&a)
	installProfileCmd(&a)
	cli.InstallConfigFlag(a.cmd)

	if err := a.viper.BindPFlags(a.cmd.PersistentFlags()); err != nil {
		return nil, err
	}

	a.installVersion()

	return &a, nil
}

func installRootFlags(app *App) {
	cmd := app.cmd

	cmd.PersistentFlags().CountVarP(&app.config.Verbosity, "verbose", "v", "issue INFO (-v), DEBUG (-vv)")
	cmd.PersistentFlags().BoolVar(&app.config.JSONLogs, "json-logs", false, "enable JSON formatted logs")
	cmd.PersistentFlags().StringVar(&app.config.ProfilesDir, "profiles-dir", constants.DefaultConfigPath, "directory holding submit profiles")

	if err := cmd.MarkPersistentFlagDirname("profiles-dir"); err != nil {
		panic(fmt.Sprintf("failed to mark profiles-dir flag as directory: %v", err))
	}
}

func addDBFlags(cmd *cobra.Command, config *database.Config) {
	cmd.Flags().StringVar(&config.Host, "db-host", "", "database host")
	cmd.Flags().IntVarP(&config.Port, "db-port", "p", 5432, "database port")
	cmd.Flags().StringVarP(&config.User, "db-user", "u", "", "database user")
	cmd.Flags().StringVarP(&config.Password, "db-password", "P", "", "database password")
	cmd.Flags().StringVarP(&config.DBName, "db-name", "n", "", "database name")
	cmd.Flags().StringVarP(&config.SSLMode, "db-sslmode", "s", "", "database SSL mode")
}

// Run executes the command and associated process, returning an error if any.
func (a App) Run() error {
	return a.cmd.Execute()
}

// UsageError returns if the error is a command parsing or runtime one.
func (a App) UsageError() bool {
	return !a.cmd.SilenceUsage
}

// RootCmd returns the root command.
func (a App) RootCmd() cobra.Command {
	return *a.cmd
}
