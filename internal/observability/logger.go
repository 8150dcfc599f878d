package observability

import (
	"io"
	"log/slog"

	"github.com/dataphantom/adhocsql/internal/config"
)

func NewLogger(cfg config.Config, writer io.Writer) *slog.Logger {
	if writer == nil {
		writer = io.Discard
	}
	var handler slog.Handler
	if cfg.Observability.LogJSON {
		handler = slog.NewJSONHandler(writer, &slog.HandlerOptions{Level: cfg.Observability.LogLevel})
	} else {
		handler = slog.NewTextHandler(writer, &slog.HandlerOptions{Level: cfg.Observability.LogLevel})
	}
	return slog.New(handler).With(
		slog.String("service", cfg.Service.Name),
		slog.String("profile", string(cfg.Profile)),
	)
}

// WithRun tags every record with the identifiers of one query run.
func WithRun(logger *slog.Logger, playgroundID, queryID, uniqueID string) *slog.Logger {
	return logger.With(
		slog.String("playground_id", playgroundID),
		slog.String("query_id", queryID),
		slog.String("unique_id", uniqueID),
	)
}
