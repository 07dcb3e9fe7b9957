package commands_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		descriptor string
		archDoc    string
		dataset    string
		noDataset  bool
		extraArgs  []string

		wantErr      bool
		wantUsageErr bool
	}{
		"Canonical descriptor": {},
		"With dataset":         {dataset: "0.1,0.2\n0.3,0.4\n"},

		"Unknown key is an error in strict mode": {
			descriptor: `
executable    = run.sh
arguments     = mnist $(Process) arch.json
output        = logs/output.$(Process).out
error         = logs/error.$(Process).err
log           = logs/log.$(Process).log
notification  = Never
rank          = Memory
queue 2
`,
			wantErr: true,
		},
		"Colliding stream paths": {
			descriptor: `
executable    = run.sh
arguments     = mnist $(Process) arch.json
output        = logs/output.out
error         = logs/error.$(Process).err
log           = logs/log.$(Process).log
notification  = Never
queue 2
`,
			wantErr: true,
		},
		"Bad architecture document": {archDoc: `{"layers": []}`, wantErr: true},
		"Ragged dataset":            {dataset: "0.1,0.2\n0.3\n", wantErr: true},
		"Missing dataset":           {noDataset: true, extraArgs: []string{"--dataset", "nowhere.csv"}, wantErr: true},
		"Missing descriptor file":   {descriptor: "-", wantErr: true},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			dir := writeSubmitDir(t, passingScript, 2, tc.descriptor, tc.archDoc)
			path := filepath.Join(dir, "job.sub")
			if tc.descriptor == "-" {
				path = filepath.Join(dir, "missing.sub")
			}

			args := []string{"validate", path, "--profiles-dir", t.TempDir()}
			if tc.dataset != "" && !tc.noDataset {
				require.NoError(t, os.WriteFile(filepath.Join(dir, "train.csv"), []byte(tc.dataset), 0600), "Setup: could not write dataset")
				args = append(args, "--dataset", "train.csv")
			}
			args = append(args, tc.extraArgs...)

			a := newAppForTests(t, args)

			err := a.Run()
			assert.Equal(t, tc.wantUsageErr, a.UsageError(), "UsageError should match expectation")
			if tc.wantErr {
				require.Error(t, err, "Run should return an error")
				return
			}
			require.NoError(t, err, "Run should not return an error")
		})
	}
}
