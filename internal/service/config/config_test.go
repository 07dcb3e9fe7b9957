package config_test

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dlopt/trialgrid/internal/service/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTempConfigFile(t *testing.T, content string) string {
	t.Helper()
	tmpDir := t.TempDir()
	tmpFile := filepath.Join(tmpDir, "config.json")
	require.NoError(t, os.WriteFile(tmpFile, []byte(content), 0600), "failed to write temp config file")
	return tmpFile
}

func TestLoad(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		content     string
		missingFile bool

		want    []string
		wantErr bool
	}{
		"Valid config loads": {
			content: `{"allowList": ["mnist", "cifar"]}`,
			want:    []string{"mnist", "cifar"},
		},
		"Empty JSON loads": {
			content: "{}",
		},
		"Duplicates are collapsed": {
			content: `{"allowList": ["mnist", "mnist"]}`,
			want:    []string{"mnist"},
		},
		"Ignores reserved names": {
			content: func() string {
				content := `{"allowList": ["mnist"`
				for reservedName := range config.GetReservedNames() {
					content += fmt.Sprintf(`, "%s"`, reservedName)
				}
				content += `]}`
				return content
			}(),
			want: []string{"mnist"},
		},

		// Error cases
		"Invalid JSON fails": {
			content: `{"allowList": ["mnist", "cifar"]`, // Missing closing brace
			wantErr: true,
		},
		"Missing file fails": {
			content:     "{}",
			missingFile: true,
			wantErr:     true,
		},
		"Empty file fails": {
			wantErr: true,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			configPath := "nonexistent.json"
			if !tc.missingFile {
				configPath = createTempConfigFile(t, tc.content)
			}

			cm := config.New(configPath)
			err := cm.Load()

			if tc.wantErr {
				require.Error(t, err, "expected error loading config")
				assert.Empty(t, cm.AllowList(), "expected empty allowList on error")
				assert.Empty(t, cm.AllowSet(), "expected empty allowSet on error")
				return
			}
			require.NoError(t, err, "expected no error loading config")

			assert.Equal(t, tc.want, cm.AllowList(), "expected allowList to match")
			for _, name := range tc.want {
				assert.True(t, cm.IsAllowed(name), "expected %q to be allowed", name)
			}
		})
	}
}

func TestWatchMissingFile(t *testing.T) {
	t.Parallel()
	cm := config.New("somewhere/nonexistent.json")
	watchEvent, watchErr, err := cm.Watch(t.Context())
	require.Error(t, err, "Expected error starting watch on missing config file")

	select {
	case <-watchErr:
		require.Fail(t, "expected no error in watchErr channel")
	case <-watchEvent:
		require.Fail(t, "expected no event for missing config file")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestWatchConfigReloadsOnChange(t *testing.T) {
	t.Parallel()
	initial := `{"allowList": ["alpha"]}`
	updated := `{"allowList": ["beta"]}`
	tmpFile := createTempConfigFile(t, initial)

	cm := config.New(tmpFile)
	watchEvent, watchErr, err := cm.Watch(t.Context())
	require.NoError(t, err, "Setup: failed to start watch")
	require.True(t, cm.IsAllowed("alpha"), "Setup: expected 'alpha' to be allowed")
	require.False(t, cm.IsAllowed("beta"), "Setup: expected 'beta' to not be allowed")

	require.NoError(t, os.WriteFile(tmpFile, []byte(updated), 0600), "Setup: failed to write updated config")

	time.Sleep(time.Second) // let watcher reload

	require.Equal(t, []string{"beta"}, cm.AllowList(), "expected allowList to match")
	require.False(t, cm.IsAllowed("alpha"), "expected 'alpha' to not be allowed")
	require.True(t, cm.IsAllowed("beta"), "expected 'beta' to be allowed")

	select {
	case err := <-watchErr:
		require.NoError(t, err, "expected no error watching config file")
	case <-watchEvent:
	case <-time.After(200 * time.Millisecond):
		require.Fail(t, "expected change event")
	}
}

func TestWatchIgnoresIrrelevantFiles(t *testing.T) {
	t.Parallel()

	initial := `{"allowList": ["alpha"]}`
	tmpFile := createTempConfigFile(t, initial)
	irrelevantFile := filepath.Join(filepath.Dir(tmpFile), "irrelevant.txt")

	cm := config.New(tmpFile)
	watchEvent, watchErr, err := cm.Watch(t.Context())
	require.NoError(t, err, "Setup: failed to start watch")

	require.NoError(t, os.WriteFile(irrelevantFile, []byte("irrelevant content"), 0600), "Setup: failed to write irrelevant file")
	time.Sleep(200 * time.Millisecond) // let watcher reload

	select {
	case err := <-watchErr:
		require.NoError(t, err, "expected no error watching config file")
	case <-watchEvent:
		require.Fail(t, "expected no change event")
	case <-time.After(200 * time.Millisecond):
	}

	require.True(t, cm.IsAllowed("alpha"), "expected 'alpha' to still be allowed")
}

func TestWatchNoEventIfReloadFails(t *testing.T) {
	t.Parallel()

	initial := `{"allowList": ["alpha"]}`
	tmpFile := createTempConfigFile(t, initial)

	cm := config.New(tmpFile)
	watchEvent, watchErr, err := cm.Watch(t.Context())
	require.NoError(t, err, "Setup: failed to start watch")

	require.NoError(t, os.WriteFile(tmpFile, []byte("invalid json"), 0600), "Setup: failed to write invalid config")
	time.Sleep(time.Second) // let watcher reload

	select {
	case err := <-watchErr:
		require.NoError(t, err, "expected no error watching config file")
	case <-watchEvent:
		require.Fail(t, "expected no change event")
	case <-time.After(200 * time.Millisecond):
	}
}
