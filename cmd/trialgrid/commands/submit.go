package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/dlopt/trialgrid/internal/archdef"
	"github.com/dlopt/trialgrid/internal/constants"
	"github.com/dlopt/trialgrid/internal/descriptor"
	"github.com/dlopt/trialgrid/internal/notify"
	"github.com/dlopt/trialgrid/internal/profile"
	"github.com/dlopt/trialgrid/internal/runner"
	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

type submitConfig struct {
	Profile       string
	QueueName     string
	ResultsDir    string
	DryRun        bool
	KeepSandboxes bool

	SESRegion string
	MailFrom  string
}

func installSubmitCmd(app *App) {
	submitCmd := &cobra.Command{
		Use:   "submit [descriptor-file]",
		Short: "Launch the trials described by a submit descriptor",
		Long: `Launch the trials described by a submit descriptor and wait for all
of them to exit.

The command fails when the machine does not satisfy the descriptor
requirements, when a declared input file is missing, or when at least
one trial exits with a non-zero status.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			slog.Debug("Running submit command")
			return app.submitRun(args[0])
		},
	}

	submitCmd.Flags().StringVar(&app.config.Submit.Profile, "profile", "", "submit profile supplying defaults the descriptor omits")
	submitCmd.Flags().StringVar(&app.config.Submit.QueueName, "queue-name", "", "experiment label recorded with each result (defaults to the first argument token)")
	submitCmd.Flags().StringVar(&app.config.Submit.ResultsDir, "results-dir", constants.DefaultServiceResultsDir, "results spool directory trial result documents are written under")
	submitCmd.Flags().BoolVarP(&app.config.Submit.DryRun, "dry-run", "d", false, "log the notification instead of sending mail")
	submitCmd.Flags().BoolVar(&app.config.Submit.KeepSandboxes, "keep-sandboxes", false, "keep execution sandboxes after trial exit, for debugging")
	submitCmd.Flags().StringVar(&app.config.Submit.SESRegion, "ses-region", "", "AWS region of the SES mail endpoint")
	submitCmd.Flags().StringVar(&app.config.Submit.MailFrom, "mail-from", "", "sender address for notification mail")

	app.cmd.AddCommand(submitCmd)
}

func (a *App) submitRun(path string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	d, warnings, err := descriptor.Load(path, false)
	if err != nil {
		return err
	}
	for _, w := range warnings {
		slog.Warn("Descriptor warning", "warning", w)
	}

	pm := profile.New(a.config.ProfilesDir)
	prof, err := pm.Resolve(a.config.Submit.Profile, &d)
	if err != nil {
		return err
	}

	if err := checkArchDocument(d, false); err != nil {
		return err
	}

	info, err := a.collect()
	if err != nil {
		return fmt.Errorf("could not collect machine facts: %v", err)
	}

	notifier, err := a.notifier(ctx, d)
	if err != nil {
		return err
	}

	opts := []runner.Options{
		runner.WithQueueName(a.queueName(d)),
		runner.WithResultsDir(a.config.Submit.ResultsDir),
		runner.WithNotifier(notifier),
	}
	if prof.SpoolDir != "" {
		opts = append(opts, runner.WithSpoolDir(prof.SpoolDir))
	}
	if a.config.Submit.KeepSandboxes {
		opts = append(opts, runner.WithKeepSandboxes())
	}

	r, err := runner.New(d, info, opts...)
	if err != nil {
		return err
	}

	p := message.NewPrinter(language.English)
	p.Printf("%d trial(s) submitted to cluster %s.\n", d.QueueCount, r.Cluster())

	outcome, err := r.Run(ctx)
	if err != nil {
		return err
	}

	if len(outcome.Failed) > 0 {
		return fmt.Errorf("%d of %d trials failed: ordinals %v", len(outcome.Failed), outcome.Total, outcome.Failed)
	}
	p.Printf("All %d trial(s) completed.\n", outcome.Total)
	return nil
}

// queueName returns the experiment label for this submission. When the flag is
// unset it falls back to the first argument token, the label by convention,
// unless that token still contains a macro.
func (a App) queueName(d descriptor.Descriptor) string {
	if a.config.Submit.QueueName != "" {
		return a.config.Submit.QueueName
	}
	if len(d.Arguments) > 0 && !strings.Contains(d.Arguments[0], "$(") {
		return d.Arguments[0]
	}
	return ""
}

// notifier picks the notification transport for this submission. Mail is only
// wired up when it could actually be sent: a recipient, a sender and a policy
// other than Never, outside of dry runs.
func (a App) notifier(ctx context.Context, d descriptor.Descriptor) (notify.Notifier, error) {
	if a.config.Submit.DryRun || d.Notification == descriptor.NotificationNever || d.NotifyUser == "" {
		return notify.LogNotifier{}, nil
	}
	if a.config.Submit.MailFrom == "" {
		slog.Warn("No sender address configured, notifications will only be logged", "recipient", d.NotifyUser)
		return notify.LogNotifier{}, nil
	}
	return a.newNotifier(ctx, a.config.Submit.SESRegion, a.config.Submit.MailFrom)
}

// checkArchDocument validates the architecture document named by the last
// argument token, the conventional position for it. Descriptors launching
// executables that take no architecture document pass a token the check
// does not recognize; that is only an error in strict mode.
func checkArchDocument(d descriptor.Descriptor, strict bool) error {
	if len(d.Arguments) < 3 {
		if strict {
			return fmt.Errorf("descriptor has %d argument tokens, expected at least 3 (label, ordinal, architecture document)", len(d.Arguments))
		}
		return nil
	}

	token := d.Arguments[len(d.Arguments)-1]
	if strings.Contains(token, "$(") {
		slog.Debug("Architecture document name contains a macro, skipping validation", "token", token)
		return nil
	}
	if !strings.EqualFold(filepath.Ext(token), ".json") {
		if strict {
			return fmt.Errorf("last argument token %q does not name a JSON architecture document", token)
		}
		return nil
	}

	path := token
	if !filepath.IsAbs(path) && d.SubmitDir != "" {
		path = filepath.Join(d.SubmitDir, path)
	}

	def, err := archdef.Load(path)
	if err != nil {
		return err
	}
	slog.Info("Architecture document validated", "cell_type", def.CellType, "layers", len(def.Layers))
	return nil
}
