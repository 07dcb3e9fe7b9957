package fileutils_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dlopt/trialgrid/internal/fileutils"
)

func TestAtomicWrite(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		data       []byte
		fileExists bool
		invalidDir bool
		wantError  bool
	}{
		"Empty file":          {data: []byte{}},
		"Non empty file":      {data: []byte("data to write")},
		"Override file":       {data: []byte("data to write"), fileExists: true},
		"Existing empty file": {data: []byte{}, fileExists: true},

		"Missing directory": {data: []byte("data to write"), invalidDir: true, wantError: true},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			oldContent := "Old content!"
			tmpDir := t.TempDir()
			path := filepath.Join(tmpDir, "file")
			if tc.invalidDir {
				path = filepath.Join(tmpDir, "missing", "file")
			}

			if tc.fileExists {
				err := os.WriteFile(path, []byte(oldContent), 0600)
				require.NoError(t, err, "Setup: WriteFile should not return an error")
			}

			err := fileutils.AtomicWrite(path, tc.data)
			if tc.wantError {
				require.Error(t, err, "AtomicWrite should return an error")

				if tc.fileExists {
					data, err := os.ReadFile(path)
					require.NoError(t, err, "ReadFile should not return an error")
					require.Equal(t, oldContent, string(data), "AtomicWrite should not have modified the file")
				}
				return
			}
			require.NoError(t, err, "AtomicWrite should not return an error")

			data, err := os.ReadFile(path)
			require.NoError(t, err, "ReadFile should not return an error")
			require.Equal(t, tc.data, data, "AtomicWrite should have written the data")
		})
	}
}

func TestCopyFile(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		missingSrc bool
		srcIsDir   bool
		dstExists  bool
		executable bool
		wantError  bool
	}{
		"Plain file":               {},
		"Executable keeps mode":    {executable: true},
		"Overwrites existing file": {dstExists: true},

		"Missing source":      {missingSrc: true, wantError: true},
		"Source is directory": {srcIsDir: true, wantError: true},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			tmpDir := t.TempDir()
			src := filepath.Join(tmpDir, "src")
			dst := filepath.Join(tmpDir, "dst")

			switch {
			case tc.missingSrc:
			case tc.srcIsDir:
				require.NoError(t, os.Mkdir(src, 0700), "Setup: Mkdir should not return an error")
			default:
				mode := os.FileMode(0600)
				if tc.executable {
					mode = 0700
				}
				require.NoError(t, os.WriteFile(src, []byte("payload"), mode), "Setup: WriteFile should not return an error")
			}

			if tc.dstExists {
				require.NoError(t, os.WriteFile(dst, []byte("stale"), 0600), "Setup: WriteFile should not return an error")
			}

			err := fileutils.CopyFile(src, dst)
			if tc.wantError {
				require.Error(t, err, "CopyFile should return an error")
				return
			}
			require.NoError(t, err, "CopyFile should not return an error")

			data, err := os.ReadFile(dst)
			require.NoError(t, err, "ReadFile should not return an error")
			assert.Equal(t, "payload", string(data), "destination contents should match source")

			if tc.executable {
				info, err := os.Stat(dst)
				require.NoError(t, err, "Stat should not return an error")
				assert.NotZero(t, info.Mode()&0100, "destination should keep the executable bit")
			}
		})
	}
}

func TestFileExists(t *testing.T) {
	t.Parallel()

	tmpDir := t.TempDir()
	file := filepath.Join(tmpDir, "file")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0600), "Setup: WriteFile should not return an error")

	assert.True(t, fileutils.FileExists(file), "existing regular file should be reported")
	assert.False(t, fileutils.FileExists(filepath.Join(tmpDir, "missing")), "missing file should not be reported")
	assert.False(t, fileutils.FileExists(tmpDir), "directory should not be reported as file")
}
