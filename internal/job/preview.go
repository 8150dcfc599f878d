package job

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/dataphantom/adhocsql/internal/session"
)

// PreviewOutcome is the captured result of the best-effort sample step.
type PreviewOutcome struct {
	Sample  session.Preview
	Skipped bool
	Err     error
}

func (o PreviewOutcome) Failed() bool {
	return o.Err != nil
}

func (r *Runner) preview(ctx context.Context, frame session.Frame, logger *slog.Logger) (outcome PreviewOutcome) {
	console := r.console()
	_, _ = fmt.Fprintln(console, "Sample data:")
	if r.PreviewRows <= 0 {
		_, _ = fmt.Fprintln(console, "Sample data disabled")
		return PreviewOutcome{Skipped: true}
	}

	defer func() {
		if recovered := recover(); recovered != nil {
			outcome = PreviewOutcome{Err: fmt.Errorf("preview panicked: %v", recovered)}
		}
		if outcome.Err != nil {
			_, _ = fmt.Fprintf(console, "Could not show sample data: %v\n", outcome.Err)
			logger.Warn("could not show sample data", slog.Any("error", outcome.Err))
			r.Metrics.RecordPreviewFailure()
		}
	}()

	sample, err := frame.Preview(ctx, r.PreviewRows)
	if err != nil {
		return PreviewOutcome{Err: err}
	}
	renderPreview(console, sample)
	return PreviewOutcome{Sample: sample}
}

// renderPreview prints every value in full; columns grow to fit.
func renderPreview(w io.Writer, sample session.Preview) {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers(sample.Columns...).
		Rows(sample.Rows...)
	_, _ = fmt.Fprintln(w, t.Render())
	if len(sample.Rows) == 0 {
		_, _ = fmt.Fprintln(w, "(no rows)")
	}
}

func printSchema(w io.Writer, columns []session.Column) {
	_, _ = fmt.Fprintln(w, "root")
	for _, column := range columns {
		_, _ = fmt.Fprintf(w, " |-- %s: %s (nullable = %t)\n", column.Name, column.Type, column.Nullable)
	}
}
