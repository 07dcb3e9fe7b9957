package commands_test

import (
	"path/filepath"
	"testing"

	"github.com/BurntSushi/toml"
	"github.com/dlopt/trialgrid/internal/profile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProfile(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		args     []string
		existing map[string]profile.Profile

		wantErr      bool
		wantUsageErr bool
		wantProfiles map[string]profile.Profile
	}{
		"Set global recipient": {
			args:         []string{"--notify-user", "ops@example.com"},
			wantProfiles: map[string]profile.Profile{"global": {NotifyUser: "ops@example.com"}},
		},
		"Set named profile": {
			args: []string{"mnist", "--request-cpus", "2", "--spool-dir", "/var/spool/grid"},
			wantProfiles: map[string]profile.Profile{
				"mnist": {RequestCpus: 2, SpoolDir: "/var/spool/grid"},
			},
		},
		"Update keeps other fields": {
			args:     []string{"mnist", "--request-cpus", "4"},
			existing: map[string]profile.Profile{"mnist": {NotifyUser: "ops@example.com", RequestCpus: 2}},
			wantProfiles: map[string]profile.Profile{
				"mnist": {NotifyUser: "ops@example.com", RequestCpus: 4},
			},
		},
		"Show without flags writes nothing": {
			args:         []string{"mnist"},
			existing:     map[string]profile.Profile{"mnist": {RequestCpus: 2}},
			wantProfiles: map[string]profile.Profile{"mnist": {RequestCpus: 2}},
		},
		"List": {
			args:     []string{"--list"},
			existing: map[string]profile.Profile{"mnist": {RequestCpus: 2}},
		},

		"Too many arguments": {
			args:         []string{"mnist", "extra"},
			wantErr:      true,
			wantUsageErr: true,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			dir := t.TempDir()
			pm := profile.New(dir)
			for name, p := range tc.existing {
				require.NoError(t, pm.Set(name, p), "Setup: could not write profile")
			}

			a := newAppForTests(t, append([]string{"profile", "--profiles-dir", dir}, tc.args...))

			err := a.Run()
			assert.Equal(t, tc.wantUsageErr, a.UsageError(), "UsageError should match expectation")
			if tc.wantErr {
				require.Error(t, err, "Run should return an error")
				return
			}
			require.NoError(t, err, "Run should not return an error")

			for name, want := range tc.wantProfiles {
				var got profile.Profile
				_, err := toml.DecodeFile(filepath.Join(dir, name+".profile.toml"), &got)
				require.NoError(t, err, "Profile file should exist and parse")
				assert.Equal(t, want, got, "Stored profile should match expectation")
			}
		})
	}
}
