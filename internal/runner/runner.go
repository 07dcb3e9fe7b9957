// Package runner implements the runner component.
// The runner component is responsible for launching the trials a submit
// descriptor queues, bounding their parallelism by the machine's CPU
// reservation and recording their outcome.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/dlopt/trialgrid/internal/cmdutils"
	"github.com/dlopt/trialgrid/internal/constants"
	"github.com/dlopt/trialgrid/internal/descriptor"
	"github.com/dlopt/trialgrid/internal/machine"
	"github.com/dlopt/trialgrid/internal/notify"
	"github.com/dlopt/trialgrid/internal/result"
	"github.com/dlopt/trialgrid/internal/sandbox"
	"github.com/google/uuid"
	"github.com/ubuntu/decorate"
)

var (
	// ErrIneligible is returned when the machine does not satisfy the descriptor requirements.
	ErrIneligible = errors.New("machine does not satisfy requirements")
)

// Outcome summarizes a finished cluster.
type Outcome struct {
	Cluster string
	Total   int
	Failed  []int // ordinals which exited non-zero or never started, ascending
}

// Runner launches the trials of one submission.
type Runner struct {
	desc      descriptor.Descriptor
	machine   machine.Info
	cluster   string
	queueName string

	spoolDir   string
	resultsDir string
	notifier   notify.Notifier

	keepSandboxes bool
}

type options struct {
	cluster       string
	queueName     string
	spoolDir      string
	resultsDir    string
	notifier      notify.Notifier
	keepSandboxes bool
}

// Options represents an optional function to override Runner default values.
type Options func(*options)

// WithQueueName sets a human readable name reported in notifications.
func WithQueueName(name string) Options {
	return func(o *options) {
		o.queueName = name
	}
}

// WithSpoolDir overrides where trial sandboxes are created.
func WithSpoolDir(dir string) Options {
	return func(o *options) {
		o.spoolDir = dir
	}
}

// WithResultsDir overrides the base directory per-trial result documents are
// written under. Point it at the results service spool so the documents get
// ingested.
func WithResultsDir(dir string) Options {
	return func(o *options) {
		o.resultsDir = dir
	}
}

// WithNotifier overrides the notification transport.
func WithNotifier(n notify.Notifier) Options {
	return func(o *options) {
		o.notifier = n
	}
}

// WithKeepSandboxes keeps trial sandboxes on disk after the trials exit.
func WithKeepSandboxes() Options {
	return func(o *options) {
		o.keepSandboxes = true
	}
}

// New returns a new Runner for the given validated descriptor on the given
// machine. A fresh cluster identifier is generated for the submission.
func New(d descriptor.Descriptor, info machine.Info, args ...Options) (Runner, error) {
	if err := d.Validate(); err != nil {
		return Runner{}, err
	}

	opts := options{
		cluster:    uuid.NewString(),
		spoolDir:   filepath.Join(d.SubmitDir, constants.SpoolFolder),
		resultsDir: filepath.Join(d.SubmitDir, constants.SpoolFolder),
		notifier:   notify.LogNotifier{},
	}
	for _, opt := range args {
		opt(&opts)
	}

	slog.Debug("Creating new runner", "cluster", opts.cluster, "queue", d.QueueCount, "slots", slots(d, info))

	return Runner{
		desc:      d,
		machine:   info,
		cluster:   opts.cluster,
		queueName: opts.queueName,

		spoolDir:   opts.spoolDir,
		resultsDir: opts.resultsDir,
		notifier:   opts.notifier,

		keepSandboxes: opts.keepSandboxes,
	}, nil
}

// queueFolder returns the results spool subfolder of this submission's
// experiment. Unlabeled submissions go to the outbox folder, which the
// results service never ingests.
func (r Runner) queueFolder() string {
	if r.queueName == "" {
		return constants.OutboxFolder
	}
	return r.queueName
}

// Cluster returns the cluster identifier of this submission.
func (r Runner) Cluster() string {
	return r.cluster
}

// Slots returns how many trials run at once on this machine.
func (r Runner) Slots() int {
	return slots(r.desc, r.machine)
}

// Run launches every queued trial and blocks until all have exited, then
// delivers at most one notification per the descriptor policy.
//
// A trial failing does not stop its siblings and is never retried. Run only
// returns an error when the submission as a whole cannot proceed; per-trial
// failures are reported through the outcome.
func (r Runner) Run(ctx context.Context) (o Outcome, err error) {
	defer decorate.OnError(&err, "could not run cluster %s:", r.cluster)

	if err := r.preflight(); err != nil {
		return Outcome{}, err
	}

	for _, dir := range []string{r.spoolDir, filepath.Join(r.resultsDir, r.queueFolder()), filepath.Join(r.desc.SubmitDir, constants.LogsFolder)} {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return Outcome{}, err
		}
	}

	sem := make(chan struct{}, r.Slots())
	mu := &sync.Mutex{}
	var failed []int
	var wg sync.WaitGroup
	for ordinal := range r.desc.QueueCount {
		wg.Add(1)
		go func(ordinal int) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			if ok := r.runTrial(ctx, ordinal); !ok {
				mu.Lock()
				defer mu.Unlock()
				failed = append(failed, ordinal)
			}
		}(ordinal)
	}
	wg.Wait()

	slices.Sort(failed)
	o = Outcome{Cluster: r.cluster, Total: r.desc.QueueCount, Failed: failed}

	s := notify.Summary{Cluster: r.cluster, QueueName: r.queueName, Total: o.Total, Failed: o.Failed}
	if notify.ShouldNotify(r.desc.Notification, s) {
		if err := r.notifier.Notify(ctx, r.desc.NotifyUser, s); err != nil {
			slog.Warn("Failed to deliver notification", "cluster", r.cluster, "error", err)
		}
	}

	return o, nil
}

// preflight fails the whole submission before any trial starts.
func (r Runner) preflight() error {
	if ok, failedConjunct := r.desc.Requirements.Eval(r.machine.Attributes()); !ok {
		return fmt.Errorf("%w: %s does not hold", ErrIneligible, failedConjunct)
	}
	if r.desc.RequestMemoryMB > 0 && r.machine.MemoryMB < r.desc.RequestMemoryMB {
		return fmt.Errorf("%w: request_memory = %d but machine has %d MiB", ErrIneligible, r.desc.RequestMemoryMB, r.machine.MemoryMB)
	}

	return sandbox.CheckInputs(r.desc.SubmitDir, r.desc.TransferInputFiles)
}

// runTrial runs one ordinal from stage-in to result document and reports
// whether it succeeded. All failure modes are recorded in the trial's event
// log and result document rather than returned.
func (r Runner) runTrial(ctx context.Context, ordinal int) (ok bool) {
	streams := r.desc.StreamsFor(r.cluster, ordinal)

	events, closeEvents, err := newEventLog(r.desc.SubmitDir, streams.Log, r.cluster, ordinal)
	if err != nil {
		slog.Error("Could not open trial event log", "ordinal", ordinal, "error", err)
		return false
	}
	defer closeEvents()

	events.submitted(r.desc.QueueCount)

	startedAt := time.Now()
	exitCode, runErr := r.execute(ctx, ordinal, streams, events)
	finishedAt := time.Now()

	if runErr != nil {
		events.aborted(runErr)
		exitCode = -1
	} else {
		events.terminated(exitCode)
	}

	doc := result.Document{
		Cluster:    r.cluster,
		Ordinal:    ordinal,
		QueueName:  r.queueName,
		ExitCode:   exitCode,
		StartedAt:  startedAt.UTC(),
		FinishedAt: finishedAt.UTC(),
		Machine:    r.machine,
	}
	if _, err := result.Write(filepath.Join(r.resultsDir, r.queueFolder()), doc); err != nil {
		slog.Warn("Could not write result document", "ordinal", ordinal, "error", err)
	}

	if runErr != nil {
		slog.Warn("Trial failed to run", "cluster", r.cluster, "ordinal", ordinal, "error", runErr)
		return false
	}
	return exitCode == 0
}

// execute stages the sandbox, runs the executable with its streams attached
// and transfers outputs back. It returns the exit code, or an error when the
// trial never ran to completion.
func (r Runner) execute(ctx context.Context, ordinal int, streams descriptor.Streams, events *eventLog) (exitCode int, err error) {
	sb, err := sandbox.New(r.spoolDir, r.desc.SubmitDir, r.cluster, ordinal, r.desc.TransferInputFiles)
	if err != nil {
		return -1, err
	}
	defer func() {
		if r.keepSandboxes {
			return
		}
		if err := sb.Remove(); err != nil {
			slog.Warn("Could not remove sandbox", "ordinal", ordinal, "error", err)
		}
	}()

	outF, err := createStream(r.desc.SubmitDir, streams.Output)
	if err != nil {
		return -1, err
	}
	defer outF.Close()
	errF, err := createStream(r.desc.SubmitDir, streams.Error)
	if err != nil {
		return -1, err
	}
	defer errF.Close()

	events.executing(sb.Path())

	args := r.desc.ArgumentsFor(r.cluster, ordinal)
	exitCode, err = cmdutils.RunAttached(ctx, sb.Path(), outF, errF, r.executablePath(sb), args...)
	if err != nil {
		return exitCode, err
	}

	dest := filepath.Join(r.desc.SubmitDir, constants.ResultsFolder, r.cluster, fmt.Sprint(ordinal))
	if err := sb.TransferBack(dest); err != nil {
		slog.Warn("Could not transfer sandbox outputs", "ordinal", ordinal, "error", err)
	}

	return exitCode, nil
}

// executablePath prefers the staged copy of the executable so trials are
// isolated from later edits in the submit directory.
func (r Runner) executablePath(sb *sandbox.Sandbox) string {
	staged := filepath.Join(sb.Path(), filepath.Base(r.desc.Executable))
	if info, err := os.Stat(staged); err == nil && !info.IsDir() {
		return staged
	}

	if filepath.IsAbs(r.desc.Executable) {
		return r.desc.Executable
	}
	return filepath.Join(r.desc.SubmitDir, r.desc.Executable)
}

func createStream(baseDir, path string) (*os.File, error) {
	if !filepath.IsAbs(path) {
		path = filepath.Join(baseDir, path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, err
	}
	return os.Create(path)
}

func slots(d descriptor.Descriptor, info machine.Info) int {
	request := d.RequestCpus
	if request <= 0 {
		request = constants.DefaultRequestCpus
	}

	n := info.Cpus / request
	if n < 1 {
		n = 1
	}
	return n
}
