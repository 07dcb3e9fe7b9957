package commands

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/dlopt/trialgrid/internal/archdef"
	"github.com/dlopt/trialgrid/internal/descriptor"
	"github.com/dlopt/trialgrid/internal/profile"
	"github.com/spf13/cobra"
)

type validateConfig struct {
	Profile string
	Dataset string
}

func installValidateCmd(app *App) {
	validateCmd := &cobra.Command{
		Use:   "validate [descriptor-file]",
		Short: "Check a submit descriptor without launching anything",
		Long: `Check a submit descriptor without launching anything.

Validation is strict: unknown descriptor keys are an error here even
though submit only warns about them. The architecture document named by
the descriptor arguments is checked against its schema, and a dataset
file can be checked for shape with --dataset.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			slog.Debug("Running validate command")
			return app.validateRun(args[0])
		},
	}

	validateCmd.Flags().StringVar(&app.config.Validate.Profile, "profile", "", "submit profile supplying defaults the descriptor omits")
	validateCmd.Flags().StringVar(&app.config.Validate.Dataset, "dataset", "", "delimited dataset file to check for rectangular shape")

	if err := validateCmd.MarkFlagFilename("dataset"); err != nil {
		panic(fmt.Sprintf("failed to mark dataset flag as filename: %v", err))
	}

	app.cmd.AddCommand(validateCmd)
}

func (a *App) validateRun(path string) error {
	d, _, err := descriptor.Load(path, true)
	if err != nil {
		return err
	}

	pm := profile.New(a.config.ProfilesDir)
	if _, err := pm.Resolve(a.config.Validate.Profile, &d); err != nil {
		return err
	}

	if err := d.Validate(); err != nil {
		return err
	}

	if err := checkArchDocument(d, true); err != nil {
		return err
	}

	dataset := a.config.Validate.Dataset
	if dataset != "" {
		if !filepath.IsAbs(dataset) && d.SubmitDir != "" {
			dataset = filepath.Join(d.SubmitDir, dataset)
		}
		if err := archdef.ValidateDataset(dataset); err != nil {
			return err
		}
	}

	fmt.Printf("%s: %d trial(s), executable %s\n", filepath.Base(path), d.QueueCount, d.Executable)
	return nil
}
