// Package profile is the implementation of the submit profile component.
// Submit profiles are per-experiment default files which fill in descriptor
// fields the submit file left unset. Descriptor values always win over
// profile values.
package profile

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/dlopt/trialgrid/internal/constants"
	"github.com/dlopt/trialgrid/internal/descriptor"
	"github.com/ubuntu/decorate"
)

// Manager is a struct that manages submit profile files.
type Manager struct {
	path string
}

// Profile holds the defaults a profile file can supply.
type Profile struct {
	NotifyUser  string `toml:"notify_user,omitempty"`
	RequestCpus int    `toml:"request_cpus,omitzero"`
	SpoolDir    string `toml:"spool_dir,omitempty"`
}

// New returns a new Manager.
// path is the folder the profiles are stored into.
func New(path string) *Manager {
	return &Manager{path: path}
}

// Get returns the profile for the given experiment name.
// If the experiment does not have a profile file, an empty profile is
// returned without error. If name is an empty string, the global profile
// is returned.
func (pm Manager) Get(name string) (Profile, error) {
	p, err := readProfileFile(pm.getProfileFile(name))
	if errors.Is(err, fs.ErrNotExist) {
		return Profile{}, nil
	}
	if err != nil {
		slog.Error("Error reading profile file", "name", name, "error", err)
		return Profile{}, err
	}

	return p, nil
}

// Set writes the profile for the given experiment name, creating the file
// if it does not exist. If name is an empty string, the global profile is
// written.
func (pm Manager) Set(name string, p Profile) (err error) {
	defer decorate.OnError(&err, "could not set profile:")

	return p.write(pm.getProfileFile(name))
}

// Resolve merges the global profile with the named one, the named profile
// winning field by field, and applies the result to the descriptor. Only
// fields the descriptor left unset are touched.
//
// The merged profile is returned so callers can pick up the fields which
// have no descriptor counterpart, such as the spool directory.
func (pm Manager) Resolve(name string, d *descriptor.Descriptor) (p Profile, err error) {
	defer decorate.OnError(&err, "could not resolve profile %q:", name)

	merged, err := pm.Get("")
	if err != nil {
		return Profile{}, err
	}
	if name != "" {
		named, err := pm.Get(name)
		if err != nil {
			return Profile{}, err
		}
		merged = merged.override(named)
	}

	merged.apply(d)
	return merged, nil
}

// Profiles returns the experiment names which have a profile file in the
// folder, excluding the global one.
func (pm Manager) Profiles() ([]string, error) {
	entries, err := os.ReadDir(pm.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), constants.ProfileExt) {
			continue
		}
		name := strings.TrimSuffix(entry.Name(), constants.ProfileExt)
		if name == constants.GlobalProfileName {
			continue
		}
		names = append(names, name)
		slog.Debug("Found profile file", "file", entry.Name())
	}

	return names, nil
}

// getProfileFile returns the expected path to the profile file for the
// given experiment name. If name is blank, it returns the path to the
// global profile file. It does not check if the file exists, or if it is
// valid.
func (pm Manager) getProfileFile(name string) string {
	if name == "" {
		name = constants.GlobalProfileName
	}
	return filepath.Join(pm.path, name+constants.ProfileExt)
}

// override returns the receiver with every field the other profile sets
// replaced by the other's value.
func (p Profile) override(o Profile) Profile {
	if o.NotifyUser != "" {
		p.NotifyUser = o.NotifyUser
	}
	if o.RequestCpus != 0 {
		p.RequestCpus = o.RequestCpus
	}
	if o.SpoolDir != "" {
		p.SpoolDir = o.SpoolDir
	}
	return p
}

// apply fills the descriptor fields its submit file left unset. SpoolDir is
// not a descriptor key and stays on the profile.
func (p Profile) apply(d *descriptor.Descriptor) {
	if d.NotifyUser == "" && p.NotifyUser != "" {
		d.NotifyUser = p.NotifyUser
		slog.Debug("Profile supplied notify_user", "notify_user", p.NotifyUser)
	}
	if d.RequestCpus == 0 && p.RequestCpus != 0 {
		d.RequestCpus = p.RequestCpus
		slog.Debug("Profile supplied request_cpus", "request_cpus", p.RequestCpus)
	}
}

func readProfileFile(path string) (Profile, error) {
	var p Profile
	_, err := toml.DecodeFile(path, &p)
	slog.Debug("Read profile file", "file", path)

	return p, err
}

// write writes the given profile to the given path atomically, replacing it
// if it already exists. Not atomic on Windows.
func (p Profile) write(path string) (err error) {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return fmt.Errorf("could not create profile directory: %v", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "profile-*.tmp")
	if err != nil {
		return fmt.Errorf("could not create temporary file: %v", err)
	}
	defer func() {
		_ = tmp.Close()
		if err := os.Remove(tmp.Name()); err != nil && !os.IsNotExist(err) {
			slog.Warn("Failed to remove temporary file when writing profile file", "file", tmp.Name(), "error", err)
		}
	}()

	if err := toml.NewEncoder(tmp).Encode(p); err != nil {
		return fmt.Errorf("could not encode profile file: %v", err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("could not close temporary file: %v", err)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("could not rename temporary file: %v", err)
	}
	slog.Debug("Wrote profile file", "file", path)

	return nil
}
