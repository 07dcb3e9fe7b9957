// Package sandbox manages per-trial scratch directories.
//
// Each trial runs in its own sandbox under the spool folder. Input files are
// copied in before the executable starts, and files the trial created or
// modified are transferred back to the submit directory when it exits.
package sandbox

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/dlopt/trialgrid/internal/fileutils"
	"github.com/ubuntu/decorate"
)

// ErrMissingInput is returned when a transfer input file does not exist.
var ErrMissingInput = errors.New("missing input file")

// Sandbox is a per-trial scratch directory with its staged inputs recorded.
type Sandbox struct {
	path string

	// staged maps base names of staged inputs to their modification time at
	// stage-in, so transfer back can tell trial outputs from untouched inputs.
	staged map[string]time.Time
}

// CheckInputs verifies that every input path exists and is a regular file,
// relative paths being resolved against baseDir. It returns ErrMissingInput
// on the first absent one, so a submission fails before any trial starts.
func CheckInputs(baseDir string, inputs []string) (err error) {
	defer decorate.OnError(&err, "input files are not all available:")

	for _, in := range inputs {
		p := resolve(baseDir, in)
		info, err := os.Stat(p)
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrMissingInput, in)
		}
		if err != nil {
			return err
		}
		if info.IsDir() {
			return fmt.Errorf("%s is a directory, only regular files can be transferred", in)
		}
	}

	return nil
}

// New creates the sandbox directory for the given trial under spoolDir and
// stages the input files into it. Relative input paths are resolved against
// baseDir. The sandbox keeps the staged files' names and timestamps so
// TransferBack can skip them later.
func New(spoolDir, baseDir, cluster string, ordinal int, inputs []string) (s *Sandbox, err error) {
	defer decorate.OnError(&err, "could not prepare sandbox for trial %d:", ordinal)

	path := filepath.Join(spoolDir, cluster, fmt.Sprint(ordinal))
	if err := os.MkdirAll(path, 0750); err != nil {
		return nil, err
	}

	s = &Sandbox{path: path, staged: make(map[string]time.Time, len(inputs))}
	for _, in := range inputs {
		src := resolve(baseDir, in)
		dst := filepath.Join(path, filepath.Base(in))
		if err := fileutils.CopyFile(src, dst); err != nil {
			return nil, err
		}

		info, err := os.Stat(dst)
		if err != nil {
			return nil, err
		}
		s.staged[filepath.Base(in)] = info.ModTime()
		slog.Debug("Staged input file", "file", in, "sandbox", path)
	}

	return s, nil
}

// Path returns the sandbox directory. The trial executable runs with this as
// its working directory.
func (s Sandbox) Path() string {
	return s.path
}

// TransferBack copies files the trial created or modified into destDir,
// creating it if needed. Staged inputs whose timestamps are unchanged are
// left behind. Subdirectories are not transferred.
func (s Sandbox) TransferBack(destDir string) (err error) {
	defer decorate.OnError(&err, "could not transfer sandbox outputs:")

	entries, err := os.ReadDir(s.path)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(destDir, 0750); err != nil {
		return err
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			return err
		}
		if stagedAt, ok := s.staged[entry.Name()]; ok && info.ModTime().Equal(stagedAt) {
			continue
		}

		if err := fileutils.CopyFile(filepath.Join(s.path, entry.Name()), filepath.Join(destDir, entry.Name())); err != nil {
			return err
		}
		slog.Debug("Transferred output file", "file", entry.Name(), "dest", destDir)
	}

	return nil
}

// Remove deletes the sandbox directory and everything in it.
func (s Sandbox) Remove() error {
	return os.RemoveAll(s.path)
}

func resolve(baseDir, p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(baseDir, p)
}
