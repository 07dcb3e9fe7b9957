// Package descriptor implements the declarative job submission descriptor.
// A descriptor describes how to launch a set of independent trials: the
// executable, its argument template, the machine requirements, the files to
// stage into each execution sandbox, and the per-trial stream paths.
package descriptor

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ubuntu/decorate"
)

var (
	// ErrMissingQueue is returned when a descriptor has no queue directive.
	ErrMissingQueue = errors.New("descriptor has no queue directive")

	// ErrDuplicateQueue is returned when a descriptor has more than one queue directive.
	ErrDuplicateQueue = errors.New("descriptor has more than one queue directive")

	// ErrUnknownKey is returned in strict mode when a descriptor sets a key this
	// implementation does not know about.
	ErrUnknownKey = errors.New("unknown descriptor key")

	// ErrStreamCollision is returned when two ordinals resolve to the same stream path.
	ErrStreamCollision = errors.New("stream paths collide between ordinals")
)

// Notification is the notification policy of a submission.
type Notification string

// Notification policies. The launcher only ever sends mail spontaneously for
// the Error and Always policies; Complete is accepted for compatibility and
// treated like Always.
const (
	NotificationNever  Notification = "Never"
	NotificationError  Notification = "Error"
	NotificationAlways Notification = "Always"
)

// Streams holds the three per-trial output paths, already expanded for one ordinal.
type Streams struct {
	Output string
	Error  string
	Log    string
}

// Descriptor is a parsed job submission descriptor.
type Descriptor struct {
	Executable string
	Arguments  []string // raw tokens, macros not yet expanded

	Requirements    Requirements
	RequestCpus     int
	RequestMemoryMB int // 0 means no memory constraint was requested

	TransferInputFiles []string

	OutputPattern string
	ErrorPattern  string
	LogPattern    string

	NotifyUser   string
	Notification Notification

	QueueCount int

	// SubmitDir is the directory the descriptor was loaded from. Relative
	// paths in the descriptor are resolved against it.
	SubmitDir string
}

// Load reads and parses the descriptor at path.
//
// In strict mode unknown keys are an error; otherwise they only log a warning
// at parse time through the returned warnings slice.
func Load(path string, strict bool) (d Descriptor, warnings []string, err error) {
	defer decorate.OnError(&err, "could not load descriptor %s:", path)

	f, err := os.Open(path)
	if err != nil {
		return Descriptor{}, nil, err
	}
	defer f.Close()

	d, warnings, err = parse(bufio.NewScanner(f), strict)
	if err != nil {
		return Descriptor{}, nil, err
	}

	d.SubmitDir, err = filepath.Abs(filepath.Dir(path))
	if err != nil {
		return Descriptor{}, nil, err
	}

	return d, warnings, nil
}

// Parse parses a descriptor from a string. The submit directory is left empty.
func Parse(content string, strict bool) (Descriptor, []string, error) {
	return parse(bufio.NewScanner(strings.NewReader(content)), strict)
}

func parse(scanner *bufio.Scanner, strict bool) (d Descriptor, warnings []string, err error) {
	// RequestCpus is left at zero when the descriptor is silent so submit
	// profiles can fill it in; the launcher resolves zero to its default.
	d = Descriptor{
		Notification: NotificationError,
		QueueCount:   -1,
	}

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		if rest, ok := queueDirective(line); ok {
			if d.QueueCount >= 0 {
				return Descriptor{}, nil, ErrDuplicateQueue
			}
			count := 1
			if rest != "" {
				count, err = strconv.Atoi(rest)
				if err != nil || count < 1 {
					return Descriptor{}, nil, fmt.Errorf("line %d: invalid queue count %q", lineNo, rest)
				}
			}
			d.QueueCount = count
			continue
		}

		key, value, found := strings.Cut(line, "=")
		if !found {
			return Descriptor{}, nil, fmt.Errorf("line %d: expected 'key = value', got %q", lineNo, line)
		}
		key = strings.ToLower(strings.TrimSpace(key))
		value = strings.TrimSpace(value)

		if err := d.set(key, value); err != nil {
			if !errors.Is(err, ErrUnknownKey) {
				return Descriptor{}, nil, fmt.Errorf("line %d: %w", lineNo, err)
			}
			if strict {
				return Descriptor{}, nil, fmt.Errorf("line %d: %w: %s", lineNo, ErrUnknownKey, key)
			}
			warnings = append(warnings, fmt.Sprintf("ignoring unknown key %q on line %d", key, lineNo))
		}
	}
	if err := scanner.Err(); err != nil {
		return Descriptor{}, nil, err
	}

	if d.QueueCount < 0 {
		return Descriptor{}, nil, ErrMissingQueue
	}

	return d, warnings, nil
}

// queueDirective reports whether the line is a queue directive and returns its argument.
func queueDirective(line string) (rest string, ok bool) {
	fields := strings.Fields(line)
	if len(fields) == 0 || len(fields) > 2 || !strings.EqualFold(fields[0], "queue") {
		return "", false
	}
	if len(fields) == 2 {
		rest = fields[1]
	}
	return rest, true
}

func (d *Descriptor) set(key, value string) (err error) {
	switch key {
	case "universe":
		// Only the plain process universe is supported; the value is accepted
		// and ignored so canonical descriptors parse unchanged.
	case "executable":
		d.Executable = value
	case "arguments":
		d.Arguments = strings.Fields(value)
	case "requirements":
		d.Requirements, err = ParseRequirements(value)
	case "request_cpus":
		d.RequestCpus, err = positiveInt(value)
	case "request_memory":
		d.RequestMemoryMB, err = positiveInt(value)
	case "transfer_input_files":
		for _, f := range strings.Split(value, ",") {
			if f = strings.TrimSpace(f); f != "" {
				d.TransferInputFiles = append(d.TransferInputFiles, f)
			}
		}
	case "output":
		d.OutputPattern = value
	case "error":
		d.ErrorPattern = value
	case "log":
		d.LogPattern = value
	case "notify_user":
		d.NotifyUser = value
	case "notification":
		d.Notification, err = parseNotification(value)
	case "should_transfer_files", "when_to_transfer_output":
		// File transfer is always on and always ON_EXIT; accepted for compatibility.
	default:
		return ErrUnknownKey
	}
	return err
}

func positiveInt(value string) (int, error) {
	n, err := strconv.Atoi(value)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("expected a positive integer, got %q", value)
	}
	return n, nil
}

func parseNotification(value string) (Notification, error) {
	switch strings.ToLower(value) {
	case "never":
		return NotificationNever, nil
	case "error":
		return NotificationError, nil
	case "always", "complete":
		return NotificationAlways, nil
	default:
		return "", fmt.Errorf("invalid notification policy %q", value)
	}
}

// Validate checks that the descriptor is complete enough to submit.
func (d Descriptor) Validate() (err error) {
	defer decorate.OnError(&err, "invalid descriptor:")

	if d.Executable == "" {
		return errors.New("executable is not set")
	}
	if d.OutputPattern == "" || d.ErrorPattern == "" || d.LogPattern == "" {
		return errors.New("output, error and log must all be set")
	}
	if d.Notification != NotificationNever && d.NotifyUser == "" {
		return fmt.Errorf("notification policy is %s but notify_user is not set", d.Notification)
	}

	return d.checkStreamUniqueness()
}

// checkStreamUniqueness verifies that no two ordinals share a stream path.
func (d Descriptor) checkStreamUniqueness() error {
	seen := make(map[string]int, d.QueueCount*3)
	for ordinal := range d.QueueCount {
		s := d.StreamsFor("", ordinal)
		for _, p := range []string{s.Output, s.Error, s.Log} {
			if prev, ok := seen[p]; ok {
				return fmt.Errorf("%w: %q used by ordinals %d and %d", ErrStreamCollision, p, prev, ordinal)
			}
			seen[p] = ordinal
		}
	}
	return nil
}

// ArgumentsFor expands the argument template for one trial.
func (d Descriptor) ArgumentsFor(cluster string, ordinal int) []string {
	args := make([]string, 0, len(d.Arguments))
	for _, a := range d.Arguments {
		args = append(args, ExpandMacros(a, cluster, ordinal))
	}
	return args
}

// StreamsFor expands the three stream path patterns for one trial.
func (d Descriptor) StreamsFor(cluster string, ordinal int) Streams {
	return Streams{
		Output: ExpandMacros(d.OutputPattern, cluster, ordinal),
		Error:  ExpandMacros(d.ErrorPattern, cluster, ordinal),
		Log:    ExpandMacros(d.LogPattern, cluster, ordinal),
	}
}

// InputPaths returns the staged input files resolved against the submit directory.
func (d Descriptor) InputPaths() []string {
	paths := make([]string, 0, len(d.TransferInputFiles))
	for _, f := range d.TransferInputFiles {
		if !filepath.IsAbs(f) && d.SubmitDir != "" {
			f = filepath.Join(d.SubmitDir, f)
		}
		paths = append(paths, f)
	}
	return paths
}
