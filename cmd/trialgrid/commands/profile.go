package commands

import (
	"fmt"
	"log/slog"

	"github.com/dlopt/trialgrid/internal/constants"
	"github.com/dlopt/trialgrid/internal/profile"
	"github.com/spf13/cobra"
)

type profileConfig struct {
	List bool

	NotifyUser  string
	RequestCpus int
	SpoolDir    string
}

func installProfileCmd(app *App) {
	profileCmd := &cobra.Command{
		Use:   "profile [name](optional argument)",
		Short: "Manage or show submit profiles",
		Long: `Manage or show submit profiles.

A profile supplies defaults for descriptor fields left unset at submit
time. Without a name the global profile, applied to every submission,
is managed.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := constants.GlobalProfileName
			if len(args) > 0 {
				name = args[0]
			}

			slog.Debug("Running profile command")
			return app.profileRun(cmd, name)
		},
	}

	profileCmd.Flags().BoolVarP(&app.config.Profile.List, "list", "l", false, "list named profiles and exit")
	profileCmd.Flags().StringVar(&app.config.Profile.NotifyUser, "notify-user", "", "default notification recipient")
	profileCmd.Flags().IntVar(&app.config.Profile.RequestCpus, "request-cpus", 0, "default per-trial CPU reservation")
	profileCmd.Flags().StringVar(&app.config.Profile.SpoolDir, "spool-dir", "", "default sandbox spool directory")

	app.cmd.AddCommand(profileCmd)
}

func (a *App) profileRun(cmd *cobra.Command, name string) error {
	pm := profile.New(a.config.ProfilesDir)

	if a.config.Profile.List {
		names, err := pm.Profiles()
		if err != nil {
			return err
		}
		for _, n := range names {
			fmt.Println(n)
		}
		return nil
	}

	p, err := pm.Get(name)
	if err != nil {
		return err
	}

	changed := false
	if cmd.Flags().Changed("notify-user") {
		p.NotifyUser = a.config.Profile.NotifyUser
		changed = true
	}
	if cmd.Flags().Changed("request-cpus") {
		p.RequestCpus = a.config.Profile.RequestCpus
		changed = true
	}
	if cmd.Flags().Changed("spool-dir") {
		p.SpoolDir = a.config.Profile.SpoolDir
		changed = true
	}
	if changed {
		if err := pm.Set(name, p); err != nil {
			return err
		}
	}

	fmt.Printf("%s: notify_user=%q request_cpus=%d spool_dir=%q\n", name, p.NotifyUser, p.RequestCpus, p.SpoolDir)
	return nil
}
