// Package config provides the configuration manager for the results service.
// The configuration is a JSON allow list of experiment queue names. It is
// watched for changes so the worker supervisor can follow edits without a
// restart.
package config

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// reservedNames are spool folder names which can never be queue names, so
// they are filtered from the allow list.
var reservedNames = map[string]struct{}{
	"outbox":    {},
	"processed": {},
	"invalid":   {},
}

// Manager loads and watches the service configuration file.
type Manager struct {
	path   string
	logger *slog.Logger

	lock      sync.RWMutex
	allowList []string
	allowSet  map[string]struct{}
}

type configFile struct {
	AllowList []string `json:"allowList"`
}

type options struct {
	// Private members exported for tests.
	Logger *slog.Logger
}

// Options represents an optional function to override Manager default values.
type Options func(*options)

// New returns a new configuration manager for the given file.
// The file is not read until Load or Watch is called.
func New(path string, args ...Options) *Manager {
	opts := options{
		Logger: slog.Default(),
	}
	for _, opt := range args {
		opt(&opts)
	}

	return &Manager{path: path, logger: opts.Logger}
}

// Load reads the configuration file and replaces the allow list.
// On error the previous allow list is discarded.
func (cm *Manager) Load() error {
	cm.lock.Lock()
	defer cm.lock.Unlock()

	cm.allowList = nil
	cm.allowSet = nil

	data, err := os.ReadFile(cm.path)
	if err != nil {
		return fmt.Errorf("failed to read configuration file: %v", err)
	}

	var cfg configFile
	if err := json.Unmarshal(data, &cfg); err != nil {
		return fmt.Errorf("failed to parse configuration file: %v", err)
	}

	var allowList []string
	allowSet := make(map[string]struct{}, len(cfg.AllowList))
	for _, name := range cfg.AllowList {
		if _, reserved := reservedNames[name]; reserved {
			cm.logger.Info("Ignoring reserved name in allow list", "name", name)
			continue
		}
		if _, dup := allowSet[name]; dup {
			continue
		}
		allowList = append(allowList, name)
		allowSet[name] = struct{}{}
	}

	cm.allowList = allowList
	cm.allowSet = allowSet
	return nil
}

// AllowList returns the allowed queue names in file order.
func (cm *Manager) AllowList() []string {
	cm.lock.RLock()
	defer cm.lock.RUnlock()
	return cm.allowList
}

// IsAllowed reports whether the given queue name is in the allow list.
func (cm *Manager) IsAllowed(name string) bool {
	cm.lock.RLock()
	defer cm.lock.RUnlock()
	_, ok := cm.allowSet[name]
	return ok
}

// Watch starts watching the configuration file for changes, reloading it
// when it is written to. A successful reload is signaled on the returned
// event channel. The watcher stops when the context is canceled, reporting
// a final error, if any, on the error channel.
func (cm *Manager) Watch(ctx context.Context) (<-chan struct{}, <-chan error, error) {
	if err := cm.Load(); err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration before watching: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create watcher: %v", err)
	}

	// Watch the directory, not the file: editors and atomic writers replace
	// the file and would otherwise drop the watch.
	if err := watcher.Add(filepath.Dir(cm.path)); err != nil {
		watcher.Close()
		return nil, nil, fmt.Errorf("failed to watch configuration directory: %v", err)
	}
	cm.logger.Info("Watching configuration file", "path", cm.path)

	watchEvent := make(chan struct{}, 1)
	watchErr := make(chan error, 1)
	go func() {
		defer watcher.Close()
		defer close(watchEvent)
		defer close(watchErr)

		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != filepath.Clean(cm.path) {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}

				if err := cm.Load(); err != nil {
					cm.logger.Warn("Failed to reload configuration", "path", cm.path, "error", err)
					continue
				}
				cm.logger.Info("Configuration reloaded", "path", cm.path)
				select {
				case watchEvent <- struct{}{}:
				default:
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				select {
				case watchErr <- err:
				default:
				}
			}
		}
	}()

	return watchEvent, watchErr, nil
}
