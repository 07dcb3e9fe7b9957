// Package processor provides the functionality to process trial result files.
// It includes functions to validate, read, and process result documents, as
// well as upload them to a PostgreSQL database.
package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/dlopt/trialgrid/internal/constants"
	"github.com/dlopt/trialgrid/internal/result"
	"github.com/go-viper/mapstructure/v2"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
)

// ErrDatabaseErrors is returned when significant database errors occur during processing.
// It indicates more than a set threshold of upload attempts have failed due to database issues.
var ErrDatabaseErrors = errors.New("database errors during processing surpassed threshold")

var (
	errNoValidData      = errors.New("result file has no valid data")
	errUnexpectedFields = errors.New("file contains unexpected fields")
	errUploadFailed     = errors.New("failed to upload result to PostgreSQL database")
)

// ProcessedFolder is the spool subfolder processed results are moved into.
const ProcessedFolder = "processed"

type database interface {
	Upload(ctx context.Context, id string, doc *result.Document) error
	UploadInvalid(ctx context.Context, id, queue, rawResult string) error
}

// Processor is responsible for processing result files.
type Processor struct {
	resultsDir string
	db         database

	filesProcessed  *prometheus.CounterVec
	processDuration *prometheus.HistogramVec
	backlogSize     *prometheus.GaugeVec
	processErrors   *prometheus.CounterVec
}

// New creates a new Processor instance reading from resultsDir.
func New(resultsDir string, db database, reg prometheus.Registerer) (*Processor, error) {
	if resultsDir == "" {
		return nil, fmt.Errorf("resultsDir must be set")
	}

	if err := os.MkdirAll(resultsDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create resultsDir: %v", err)
	}

	p := &Processor{
		resultsDir: resultsDir,
		db:         db,

		filesProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "results_processor_files_processed_total",
			Help: "Total number of result files processed, by queue and outcome.",
		}, []string{"queue", "result"}),
		processDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name: "results_processor_process_duration_seconds",
			Help: "Duration of a processing pass over a queue folder.",
		}, []string{"queue"}),
		backlogSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "results_processor_backlog",
			Help: "Number of result files waiting in a queue folder.",
		}, []string{"queue"}),
		processErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "results_processor_errors_total",
			Help: "Total number of processing errors, by queue.",
		}, []string{"queue"}),
	}

	for _, c := range []prometheus.Collector{p.filesProcessed, p.processDuration, p.backlogSize, p.processErrors} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register processor metrics: %v", err)
		}
	}

	return p, nil
}

// Process processes all result files in the `resultsDir/queue` directory.
// It reads each file, decodes it into a result document and uploads it to
// the database. Valid results are moved to the processed folder, invalid
// payloads are recorded in the invalid results table and removed.
//
// It returns an error if a catastrophic failure occurs, or if the number of
// failed uploads exceeds a threshold.
func (p Processor) Process(ctx context.Context, queue string) (err error) {
	const minimumSuccessRate = 0.85

	timer := prometheus.NewTimer(p.processDuration.WithLabelValues(queue))
	defer timer.ObserveDuration()

	dir := filepath.Join(p.resultsDir, queue)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("failed to create directory %q: %v", dir, err)
	}
	processedDir := filepath.Join(p.resultsDir, ProcessedFolder, queue)
	if err := os.MkdirAll(processedDir, 0750); err != nil {
		return fmt.Errorf("failed to create directory %q: %v", processedDir, err)
	}

	results, err := result.GetAll(dir)
	if err != nil {
		return fmt.Errorf("failed to list result files: %v", err)
	}
	p.backlogSize.WithLabelValues(queue).Set(float64(len(results)))

	var (
		attemptCount = 0
		failureCount = 0
	)
	defer func() {
		// Check if over threshold of uploads failed
		if attemptCount > 0 && float64(failureCount)/float64(attemptCount) > (1-minimumSuccessRate) {
			err = errors.Join(ErrDatabaseErrors, err)
		}
	}()

	for _, r := range results {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		procErr := p.processAndUpload(ctx, r, queue, processedDir)

		if procErr == nil || errors.Is(procErr, errUploadFailed) {
			attemptCount++
		}
		if errors.Is(procErr, errUploadFailed) {
			failureCount++
			p.filesProcessed.WithLabelValues(queue, "upload_failed").Inc()
			continue // Leave the file in place, the next pass retries it.
		}

		if procErr != nil {
			p.processErrors.WithLabelValues(queue).Inc()
			uploadAttempted, err := p.uploadInvalid(ctx, r, queue)
			if err != nil {
				slog.Warn("Failed to upload invalid result", "file", r.Name, "err", err)
			}
			if uploadAttempted {
				attemptCount++
				if err != nil {
					failureCount++
					continue // Keep the file so the invalid payload is not lost.
				}
			}
			if err := os.Remove(r.Path); err != nil {
				slog.Warn("Failed to remove invalid file after processing", "file", r.Name, "err", err)
			}
			p.filesProcessed.WithLabelValues(queue, "invalid").Inc()
			continue
		}

		p.filesProcessed.WithLabelValues(queue, "ok").Inc()
		slog.Info("Finished processing file", "file", r.Name)
	}

	if err := result.Cleanup(processedDir, constants.MaxResults); err != nil {
		slog.Warn("Failed to clean up processed results", "queue", queue, "err", err)
	}

	return nil
}

// processAndUpload decodes one result file, validates it, uploads it and
// moves it to the processed folder.
//
// If upload fails, it returns errUploadFailed. If any other error is
// returned, upload was not attempted.
func (p Processor) processAndUpload(ctx context.Context, r result.Result, queue, processedDir string) error {
	doc, raw, err := decodeFile(r)
	if err != nil {
		slog.Warn("Failed to process file", "file", r.Name, "err", err)
		return err
	}

	if err := validateDocument(r, doc); err != nil {
		slog.Warn("File processed with errors, skipping upload", "file", r.Name, "err", err)
		return err
	}

	if err := p.db.Upload(ctx, uuid.NewString(), doc); err != nil {
		slog.Warn("Failed to upload file to PostgreSQL", "file", r.Name, "err", err)
		return errors.Join(errUploadFailed, err)
	}

	if _, err := r.MarkAsProcessed(processedDir, raw); err != nil {
		slog.Warn("Failed to move processed file", "file", r.Name, "err", err)
	}
	slog.Info("Successfully processed and uploaded file", "file", r.Name)
	return nil
}

// decodeFile reads a result file and decodes it into a result document.
// It returns the document and the raw bytes, or an error if the file is
// invalid or does not match the expected structure.
func decodeFile(r result.Result) (*result.Document, []byte, error) {
	data, err := r.ReadJSON()
	if err != nil {
		return nil, nil, err
	}

	var jsonData map[string]any
	if err = json.Unmarshal(data, &jsonData); err != nil {
		return nil, nil, errors.Join(errors.New("json file is invalid and could not be parsed"), err)
	}

	doc := &result.Document{}
	var md mapstructure.Metadata
	decoder, err := mapstructure.NewDecoder(getDecoderConfig(doc, &md))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create decoder: %v", err)
	}

	if err = decoder.Decode(jsonData); err != nil {
		return nil, nil, errors.Join(errors.New("file data does not match expected model structure"), err)
	}
	if len(md.Unused) > 0 {
		return nil, nil, errors.Join(errUnexpectedFields, fmt.Errorf("unexpected fields: %s", strings.Join(md.Unused, ", ")))
	}

	return doc, data, nil
}

// validateDocument checks the decoded payload against the trial identity
// encoded in the file name.
func validateDocument(r result.Result, doc *result.Document) error {
	if doc.Cluster == "" && doc.StartedAt.IsZero() && doc.FinishedAt.IsZero() {
		return errNoValidData
	}
	if doc.Cluster != r.Cluster || doc.Ordinal != r.Ordinal {
		return fmt.Errorf("file name %q does not match payload trial %s.%d", r.Name, doc.Cluster, doc.Ordinal)
	}
	return nil
}

// uploadInvalid reads the invalid file and uploads its content to the database as a string.
// It skips empty files or files that contain only whitespace, returning nil in those cases.
//
// If an upload was attempted, even if it failed, it returns true. Otherwise, it returns false.
func (p Processor) uploadInvalid(ctx context.Context, r result.Result, queue string) (bool, error) {
	data, err := os.ReadFile(r.Path)
	if err != nil {
		return false, fmt.Errorf("failed to re-read invalid file %q: %v", r.Path, err)
	}

	if strings.TrimSpace(string(data)) == "" {
		slog.Info("Skipping upload of empty invalid file", "file", r.Name)
		return false, nil // Skip empty files
	}

	if err := p.db.UploadInvalid(ctx, uuid.NewString(), queue, string(data)); err != nil {
		return true, errors.Join(errUploadFailed, err)
	}
	return true, nil
}

func getDecoderConfig(target any, md *mapstructure.Metadata) *mapstructure.DecoderConfig {
	return &mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			// The documents carry RFC 3339 timestamps as strings.
			mapstructure.StringToTimeHookFunc(time.RFC3339),
			// This hook converts any map[string]interface{} or []interface{} to json.RawMessage
			func(from reflect.Type, to reflect.Type, data any) (any, error) {
				if to != reflect.TypeOf(json.RawMessage{}) {
					return data, nil
				}

				jsonBytes, err := json.Marshal(data)
				if err != nil {
					return nil, err
				}

				return json.RawMessage(jsonBytes), nil
			},
		),
		TagName:          "json",
		WeaklyTypedInput: true,
		Metadata:         md,
		Result:           target,
	}
}
