package profile_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/dlopt/trialgrid/internal/descriptor"
	"github.com/dlopt/trialgrid/internal/profile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGet(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		files map[string]string
		name  string

		want    profile.Profile
		wantErr bool
	}{
		"Missing profile returns empty": {
			name: "mnist",
		},
		"Missing folder returns empty": {
			files: nil,
			name:  "mnist",
		},
		"Named profile is read": {
			files: map[string]string{
				"mnist.profile.toml": "notify_user = \"grid-ops@example.com\"\nrequest_cpus = 4\n",
			},
			name: "mnist",
			want: profile.Profile{NotifyUser: "grid-ops@example.com", RequestCpus: 4},
		},
		"Empty name reads global profile": {
			files: map[string]string{
				"global.profile.toml": "request_cpus = 2\n",
			},
			want: profile.Profile{RequestCpus: 2},
		},
		"Other profiles are not read": {
			files: map[string]string{
				"other.profile.toml": "request_cpus = 8\n",
			},
			name: "mnist",
		},

		"Error on invalid TOML": {
			files: map[string]string{
				"mnist.profile.toml": "request_cpus = ",
			},
			name:    "mnist",
			wantErr: true,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			dir := writeProfileDir(t, tc.files)
			pm := profile.New(dir)

			got, err := pm.Get(tc.name)
			if tc.wantErr {
				require.Error(t, err, "Get should return an error")
				return
			}
			require.NoError(t, err, "Get should not return an error")
			assert.Equal(t, tc.want, got, "Get should return the profile on disk")
		})
	}
}

func TestSet(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	pm := profile.New(filepath.Join(dir, "profiles"))

	want := profile.Profile{NotifyUser: "grid-ops@example.com", RequestCpus: 2}
	require.NoError(t, pm.Set("mnist", want), "Setup: Set should not return an error")

	got, err := pm.Get("mnist")
	require.NoError(t, err, "Get should not return an error")
	assert.Equal(t, want, got, "Get should return what Set wrote")

	// Overwrite keeps the file valid.
	want.RequestCpus = 8
	require.NoError(t, pm.Set("mnist", want), "Set should overwrite an existing profile")
	got, err = pm.Get("mnist")
	require.NoError(t, err, "Get should not return an error")
	assert.Equal(t, want, got, "Get should return the overwritten profile")
}

func TestResolve(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		files map[string]string
		name  string
		desc  descriptor.Descriptor

		want         descriptor.Descriptor
		wantSpoolDir string
	}{
		"No profiles leave descriptor untouched": {
			name: "mnist",
			desc: descriptor.Descriptor{NotifyUser: "set@example.com", RequestCpus: 2},
			want: descriptor.Descriptor{NotifyUser: "set@example.com", RequestCpus: 2},
		},
		"Named profile fills unset fields": {
			files: map[string]string{
				"mnist.profile.toml": "notify_user = \"grid-ops@example.com\"\nrequest_cpus = 4\n",
			},
			name: "mnist",
			want: descriptor.Descriptor{NotifyUser: "grid-ops@example.com", RequestCpus: 4},
		},
		"Descriptor values win over profile values": {
			files: map[string]string{
				"mnist.profile.toml": "notify_user = \"grid-ops@example.com\"\nrequest_cpus = 4\n",
			},
			name: "mnist",
			desc: descriptor.Descriptor{NotifyUser: "set@example.com", RequestCpus: 2},
			want: descriptor.Descriptor{NotifyUser: "set@example.com", RequestCpus: 2},
		},
		"Global profile applies without a name": {
			files: map[string]string{
				"global.profile.toml": "notify_user = \"grid-ops@example.com\"\n",
			},
			want: descriptor.Descriptor{NotifyUser: "grid-ops@example.com"},
		},
		"Named profile wins over global field by field": {
			files: map[string]string{
				"global.profile.toml": "notify_user = \"global@example.com\"\nrequest_cpus = 2\n",
				"mnist.profile.toml":  "notify_user = \"grid-ops@example.com\"\n",
			},
			name: "mnist",
			want: descriptor.Descriptor{NotifyUser: "grid-ops@example.com", RequestCpus: 2},
		},
		"Spool dir stays on the resolved profile": {
			files: map[string]string{
				"global.profile.toml": "spool_dir = \"/var/spool/trialgrid\"\n",
				"mnist.profile.toml":  "spool_dir = \"/scratch/mnist\"\n",
			},
			name:         "mnist",
			wantSpoolDir: "/scratch/mnist",
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			dir := writeProfileDir(t, tc.files)
			pm := profile.New(dir)

			d := tc.desc
			got, err := pm.Resolve(tc.name, &d)
			require.NoError(t, err, "Resolve should not return an error")
			assert.Equal(t, tc.want, d, "Resolve should merge profiles into the descriptor")
			assert.Equal(t, tc.wantSpoolDir, got.SpoolDir, "Resolve should carry the merged spool dir on the returned profile")
		})
	}
}

func TestProfiles(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		files map[string]string

		want []string
	}{
		"Missing folder returns nothing": {},
		"Global profile is excluded": {
			files: map[string]string{
				"global.profile.toml": "",
				"mnist.profile.toml":  "",
				"cifar.profile.toml":  "",
			},
			want: []string{"cifar", "mnist"},
		},
		"Unrelated files are ignored": {
			files: map[string]string{
				"mnist.profile.toml": "",
				"notes.txt":          "",
			},
			want: []string{"mnist"},
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			dir := writeProfileDir(t, tc.files)
			pm := profile.New(dir)

			got, err := pm.Profiles()
			require.NoError(t, err, "Profiles should not return an error")
			assert.ElementsMatch(t, tc.want, got, "Profiles should list named profile files")
		})
	}
}

// writeProfileDir writes the given files into a fresh profile folder and
// returns its path. A nil map returns a path that does not exist.
func writeProfileDir(t *testing.T, files map[string]string) string {
	t.Helper()

	dir := filepath.Join(t.TempDir(), "profiles")
	if files == nil {
		return dir
	}
	require.NoError(t, os.MkdirAll(dir, 0750), "Setup: could not create profile folder")
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0600), "Setup: could not write profile file")
	}
	return dir
}
