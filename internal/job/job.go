// Package job drives one ad-hoc query run: prepare the environment, acquire a
// session, plan the query, write its result, show a sample, release the
// session.
package job

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/dataphantom/adhocsql/internal/observability"
	"github.com/dataphantom/adhocsql/internal/output"
	"github.com/dataphantom/adhocsql/internal/session"
	"github.com/dataphantom/adhocsql/internal/storage"
)

type Stage string

const (
	StageInit            Stage = "INIT"
	StageEnvSet          Stage = "ENV_SET"
	StageSessionAcquired Stage = "SESSION_ACQUIRED"
	StageExecuting       Stage = "EXECUTING"
	StageWriting         Stage = "WRITING"
	StagePreviewing      Stage = "PREVIEWING"
	StageDone            Stage = "DONE"
	StageError           Stage = "ERROR"
	StageCleanup         Stage = "CLEANUP"
)

const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

type Params struct {
	PlaygroundID string
	QueryID      string
	UniqueID     string
	SQL          string
	OutputBucket string
	PathPrefix   string
	CurrentDate  string
}

func (p Params) Location() storage.OutputLocation {
	return storage.OutputLocation{
		Bucket:       p.OutputBucket,
		PathPrefix:   p.PathPrefix,
		Date:         p.CurrentDate,
		PlaygroundID: p.PlaygroundID,
		QueryID:      p.QueryID,
		UniqueID:     p.UniqueID,
	}
}

func (p Params) Validate() error {
	if strings.TrimSpace(p.SQL) == "" {
		return fmt.Errorf("sql is required")
	}
	return p.Location().Validate()
}

// SessionOpener acquires the single session of a run.
type SessionOpener func(ctx context.Context, cfg session.Config) (session.Session, error)

type ResultWriter interface {
	Write(ctx context.Context, frame session.Frame, dest storage.OutputLocation) (output.WriteResult, error)
}

type Report struct {
	Stages      []Stage
	Environment Environment
	Schema      []session.Column
	Output      output.WriteResult
	Preview     PreviewOutcome
	// CleanupErr is informational; it never changes the run outcome.
	CleanupErr error
}

// Final is DONE or ERROR, whichever the run reached before cleanup.
func (r Report) Final() Stage {
	for i := len(r.Stages) - 1; i >= 0; i-- {
		if r.Stages[i] == StageDone || r.Stages[i] == StageError {
			return r.Stages[i]
		}
	}
	return ""
}

type Runner struct {
	OpenSession SessionOpener
	Writer      ResultWriter
	Session     session.Config
	Runtime     string
	PreviewRows int
	Console     io.Writer
	Logger      *slog.Logger
	Metrics     *observability.RunMetrics
}

// Run executes one query run. The session, once acquired, is released
// exactly once on every path. A non-nil error means the run failed; a
// failed preview or a failed release does not.
func (r *Runner) Run(ctx context.Context, params Params) (report Report, err error) {
	if r.OpenSession == nil || r.Writer == nil {
		return report, fmt.Errorf("runner requires a session opener and a result writer")
	}
	console := r.console()
	logger := observability.WithRun(r.logger(), params.PlaygroundID, params.QueryID, params.UniqueID)
	tracker := &stageTracker{report: &report, logger: logger, metrics: r.Metrics, start: time.Now()}

	tracker.enter(StageInit)
	var sess session.Session
	defer func() {
		tracker.enter(StageCleanup)
		if sess != nil {
			if closeErr := sess.Close(); closeErr != nil {
				report.CleanupErr = closeErr
				_, _ = fmt.Fprintf(console, "Warning: Could not stop session cleanly: %v\n", closeErr)
				logger.Warn("session release failed", slog.Any("error", closeErr))
				r.Metrics.RecordCleanupFailure()
			}
		}
		tracker.finish()
		if err != nil {
			r.Metrics.RecordRun(StatusFailed)
		} else {
			r.Metrics.RecordRun(StatusSuccess)
		}
	}()

	if validateErr := params.Validate(); validateErr != nil {
		return report, r.fail(tracker, console, errors.Wrap(validateErr, "invalid run parameters"))
	}
	location := params.Location()
	uri, err := location.URI()
	if err != nil {
		return report, r.fail(tracker, console, errors.Wrap(err, "resolve output location"))
	}

	env := PrepareEnvironment(r.Runtime)
	env.Print(console)
	report.Environment = env
	tracker.enter(StageEnvSet)

	sess, err = r.OpenSession(ctx, env.Apply(r.Session))
	if err != nil {
		sess = nil
		return report, r.fail(tracker, console, errors.Wrap(err, "acquire session"))
	}
	tracker.enter(StageSessionAcquired)
	logger.Info("session acquired", slog.String("session", sess.Name()))

	tracker.enter(StageExecuting)
	_, _ = fmt.Fprintf(console, "Starting SQL query execution - Playground: %s, Query: %s\n", params.PlaygroundID, params.QueryID)
	_, _ = fmt.Fprintln(console, "Executing SQL query...")
	_, _ = fmt.Fprintf(console, "Query: %s\n", params.SQL)
	logger.Info("submitting query")
	frame, err := sess.Query(ctx, params.SQL)
	if err != nil {
		return report, r.fail(tracker, console, errors.Wrap(err, "execute query"))
	}
	schema, err := frame.Schema(ctx)
	if err != nil {
		return report, r.fail(tracker, console, errors.Wrap(err, "read result schema"))
	}
	report.Schema = schema
	logger.Info("query planned", slog.Int("columns", len(schema)))
	_, _ = fmt.Fprintln(console, "Schema:")
	printSchema(console, schema)
	_, _ = fmt.Fprintln(console, "Query executed successfully - processing results...")

	tracker.enter(StageWriting)
	_, _ = fmt.Fprintf(console, "Writing results directly to S3: %s\n", uri)
	written, err := r.Writer.Write(ctx, frame, location)
	if err != nil {
		return report, r.fail(tracker, console, errors.Wrap(err, "write results"))
	}
	report.Output = written
	r.Metrics.RecordOutput(written.RowsWritten, written.BytesWritten)
	logger.Info("results written",
		slog.String("path", written.URI),
		slog.String("data_file", written.DataFileKey),
		slog.Int64("rows", written.RowsWritten),
		slog.Int64("bytes", written.BytesWritten),
	)
	_, _ = fmt.Fprintf(console, "Successfully wrote results to S3: %s\n", written.URI)

	tracker.enter(StagePreviewing)
	report.Preview = r.preview(ctx, frame, logger)

	tracker.enter(StageDone)
	_, _ = fmt.Fprintln(console, "SQL query executed successfully!")
	return report, nil
}

func (r *Runner) fail(tracker *stageTracker, console io.Writer, err error) error {
	failedIn := tracker.current
	tracker.enter(StageError)
	_, _ = fmt.Fprintf(console, "Error in SQL query: %v\n", err)
	_, _ = fmt.Fprintln(console, "Full traceback:")
	_, _ = fmt.Fprintf(console, "%+v\n", err)
	tracker.logger.Error("query run failed", slog.String("stage", string(failedIn)), slog.Any("error", err))
	return err
}

func (r *Runner) console() io.Writer {
	if r.Console != nil {
		return r.Console
	}
	return io.Discard
}

func (r *Runner) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// ExitCode maps a run outcome onto the process exit status.
func ExitCode(err error) int {
	if err != nil {
		return 1
	}
	return 0
}

type stageTracker struct {
	report  *Report
	logger  *slog.Logger
	metrics *observability.RunMetrics
	current Stage
	start   time.Time
}

func (t *stageTracker) enter(next Stage) {
	t.finish()
	t.report.Stages = append(t.report.Stages, next)
	t.current = next
	t.start = time.Now()
	t.logger.Debug("stage entered", slog.String("stage", string(next)))
}

func (t *stageTracker) finish() {
	if t.current == "" {
		return
	}
	t.metrics.ObserveStage(string(t.current), time.Since(t.start))
}
