package commands

import (
	"context"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

type statusConfig struct {
	Limit int
}

func installStatusCmd(app *App) {
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show per-cluster trial counts from the results database",
		Long: `Show per-cluster trial counts from the results database, most
recently ingested first.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			slog.Debug("Running status command")
			return app.statusRun()
		},
	}

	statusCmd.Flags().IntVar(&app.config.Status.Limit, "limit", 20, "maximum number of clusters to show")
	addDBFlags(statusCmd, &app.config.DBconfig)

	app.cmd.AddCommand(statusCmd)
}

func (a *App) statusRun() error {
	ctx := context.Background()

	db, err := a.newStatusDB(ctx, a.config.DBconfig)
	if err != nil {
		return err
	}
	defer func() {
		if err := db.Close(); err != nil {
			slog.Warn("Failed to close database connection", "error", err)
		}
	}()

	statuses, err := db.ClusterStatuses(ctx, a.config.Status.Limit)
	if err != nil {
		return err
	}

	p := message.NewPrinter(language.English)
	if len(statuses) == 0 {
		p.Printf("No ingested clusters.\n")
		return nil
	}
	for _, s := range statuses {
		p.Printf("%s\t%d trial(s)\t%d failed\tlast entry %s\n",
			s.Cluster, s.Trials, s.Failed, s.LastEntry.UTC().Format(time.RFC3339))
	}
	return nil
}
