// Package result provides utility functions for handling per-trial result files.
//
// The launcher writes one result file per finished trial into the outbox
// folder, named result.<cluster>.<ordinal>.json. The results service picks
// them up from there.
package result

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/dlopt/trialgrid/internal/fileutils"
	"github.com/dlopt/trialgrid/internal/machine"
)

const prefix = "result."

var (
	// ErrInvalidResultExt is returned when a result file has an invalid extension.
	ErrInvalidResultExt = errors.New("invalid result file extension")

	// ErrInvalidResultName is returned when a result file has a name that can't be parsed.
	ErrInvalidResultName = errors.New("invalid result file name")
)

// Document is the payload of a result file.
type Document struct {
	Cluster   string `json:"cluster"`
	Ordinal   int    `json:"ordinal"`
	QueueName string `json:"queue_name,omitempty"`

	ExitCode   int       `json:"exit_code"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	// Machine describes the host the trial ran on.
	Machine machine.Info `json:"machine"`
}

// Succeeded reports whether the trial exited zero.
func (d Document) Succeeded() bool {
	return d.ExitCode == 0
}

// Result represents a result file on disk.
type Result struct {
	Path    string // Path is the path to the result file.
	Name    string // Name is the name of the result file, including extension.
	Cluster string // Cluster is the cluster identifier parsed from the name.
	Ordinal int    // Ordinal is the trial ordinal parsed from the name.

	resultStash resultStash
}

// resultStash is a helper struct to store a result and its data for movement.
type resultStash struct {
	Path string
	Data []byte
}

// FileName returns the name of the result file for the given trial.
func FileName(cluster string, ordinal int) string {
	return fmt.Sprintf("%s%s.%d.json", prefix, cluster, ordinal)
}

// Write serializes the document into dir atomically and returns the path.
func Write(dir string, doc Document) (string, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("failed to serialize result: %v", err)
	}

	path := filepath.Join(dir, FileName(doc.Cluster, doc.Ordinal))
	if err := fileutils.AtomicWrite(path, data); err != nil {
		return "", fmt.Errorf("failed to write result: %v", err)
	}
	return path, nil
}

// New creates a new Result object from a path.
// It does not write to the file system, or validate the path.
func New(path string) (Result, error) {
	name := filepath.Base(path)
	if filepath.Ext(name) != ".json" {
		return Result{}, ErrInvalidResultExt
	}

	cluster, ordinal, err := parseName(name)
	if err != nil {
		return Result{}, err
	}

	return Result{Path: path, Name: name, Cluster: cluster, Ordinal: ordinal}, nil
}

// ReadJSON reads the JSON data from the result file.
func (r Result) ReadJSON() ([]byte, error) {
	data, err := os.ReadFile(r.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to read result file: %v", err)
	}

	if !json.Valid(data) {
		return nil, fmt.Errorf("invalid JSON data in result file")
	}

	return data, nil
}

// MarkAsProcessed moves the result to a destination directory, and writes the data to the result.
// The original result is removed.
//
// The new result is returned, and the original data is stashed for use with UndoProcessed.
// Note that calling MarkAsProcessed multiple times on the same result will overwrite the stashed data.
func (r Result) MarkAsProcessed(dest string, data []byte) (Result, error) {
	origData, err := r.ReadJSON()
	if err != nil {
		return Result{}, fmt.Errorf("failed to read original result: %v", err)
	}

	newResult := Result{Path: filepath.Join(dest, r.Name), Name: r.Name, Cluster: r.Cluster, Ordinal: r.Ordinal,
		resultStash: resultStash{Path: r.Path, Data: origData}}

	if err := fileutils.AtomicWrite(newResult.Path, data); err != nil {
		return Result{}, fmt.Errorf("failed to write result: %v", err)
	}

	if err := os.Remove(r.Path); err != nil {
		return Result{}, fmt.Errorf("failed to remove result: %v", err)
	}

	return newResult, nil
}

// UndoProcessed moves the result back to the original directory, and writes the original data to the result.
// The new result is returned, and the original data is removed.
func (r Result) UndoProcessed() (Result, error) {
	if r.resultStash.Path == "" {
		return Result{}, errors.New("no stashed data to restore")
	}

	if err := fileutils.AtomicWrite(r.resultStash.Path, r.resultStash.Data); err != nil {
		return Result{}, fmt.Errorf("failed to write result: %v", err)
	}

	if err := os.Remove(r.Path); err != nil {
		return Result{}, fmt.Errorf("failed to remove result: %v", err)
	}

	return Result{Path: r.resultStash.Path, Name: r.Name, Cluster: r.Cluster, Ordinal: r.Ordinal}, nil
}

// GetAll returns all result files in the given directory, subdirectories excluded.
// Files which do not look like result files are skipped with a log entry.
func GetAll(dir string) ([]Result, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory: %w", err)
	}

	var results []Result
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		r, err := New(filepath.Join(dir, entry.Name()))
		if errors.Is(err, ErrInvalidResultExt) || errors.Is(err, ErrInvalidResultName) {
			slog.Info("Skipping non-result file", "file", entry.Name(), "error", err)
			continue
		} else if err != nil {
			return nil, fmt.Errorf("failed to create result object: %v", err)
		}

		results = append(results, r)
	}

	return results, nil
}

// Cleanup removes the oldest result files in dir until at most maxResults
// remain. Age is taken from the file modification time. A missing directory
// is not an error.
func Cleanup(dir string, maxResults int) error {
	results, err := GetAll(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if len(results) <= maxResults {
		return nil
	}

	type aged struct {
		r       Result
		modTime time.Time
	}
	files := make([]aged, 0, len(results))
	for _, r := range results {
		info, err := os.Stat(r.Path)
		if err != nil {
			return fmt.Errorf("failed to stat result file: %v", err)
		}
		files = append(files, aged{r: r, modTime: info.ModTime()})
	}
	slices.SortFunc(files, func(a, b aged) int {
		return a.modTime.Compare(b.modTime)
	})

	for _, f := range files[:len(files)-maxResults] {
		if err := os.Remove(f.r.Path); err != nil {
			return fmt.Errorf("failed to remove old result file: %v", err)
		}
		slog.Debug("Removed old result file", "file", f.r.Name)
	}
	return nil
}

// parseName splits result.<cluster>.<ordinal>.json into its parts.
func parseName(name string) (cluster string, ordinal int, err error) {
	base := strings.TrimSuffix(name, ".json")
	if !strings.HasPrefix(base, prefix) {
		return "", 0, fmt.Errorf("%w: %q", ErrInvalidResultName, name)
	}
	base = strings.TrimPrefix(base, prefix)

	i := strings.LastIndex(base, ".")
	if i <= 0 || i == len(base)-1 {
		return "", 0, fmt.Errorf("%w: %q", ErrInvalidResultName, name)
	}

	ordinal, err = strconv.Atoi(base[i+1:])
	if err != nil || ordinal < 0 {
		return "", 0, fmt.Errorf("%w: %q", ErrInvalidResultName, name)
	}

	return base[:i], ordinal, nil
}
