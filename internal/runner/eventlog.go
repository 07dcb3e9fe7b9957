package runner

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// eventLog appends scheduler events for one trial to its log stream.
// Each line carries an event code, the trial identity and a UTC timestamp,
// so the stream can be followed while the trial runs.
type eventLog struct {
	w       io.Writer
	cluster string
	ordinal int
}

const (
	codeSubmitted  = "000"
	codeExecuting  = "001"
	codeTerminated = "005"
	codeAborted    = "009"
)

// newEventLog opens the trial's log stream for appending, creating parent
// directories as needed. Relative paths are resolved against baseDir.
func newEventLog(baseDir, path, cluster string, ordinal int) (*eventLog, func(), error) {
	if !filepath.IsAbs(path) {
		path = filepath.Join(baseDir, path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, nil, err
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0640)
	if err != nil {
		return nil, nil, err
	}

	return &eventLog{w: f, cluster: cluster, ordinal: ordinal}, func() { _ = f.Close() }, nil
}

func (l eventLog) submitted(queued int) {
	l.append(codeSubmitted, fmt.Sprintf("Trial submitted, 1 of %d queued", queued))
}

func (l eventLog) executing(sandboxPath string) {
	l.append(codeExecuting, fmt.Sprintf("Trial executing in %s", sandboxPath))
}

func (l eventLog) terminated(exitCode int) {
	l.append(codeTerminated, fmt.Sprintf("Trial terminated with exit code %d", exitCode))
}

func (l eventLog) aborted(err error) {
	l.append(codeAborted, fmt.Sprintf("Trial aborted: %v", err))
}

func (l eventLog) append(code, msg string) {
	ts := time.Now().UTC().Format(time.RFC3339)
	fmt.Fprintf(l.w, "%s (%s.%d) %s %s\n", code, l.cluster, l.ordinal, ts, msg)
}
