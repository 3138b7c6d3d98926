package engine

import (
	"context"
	"log/slog"

	"github.com/samsaffron/noma/internal/diagnostics"
	"github.com/samsaffron/noma/internal/llm"
)

// ErrorReporter receives failures worth keeping for later inspection.
// Report must not block the caller for long and never fails.
type ErrorReporter interface {
	Report(ctx context.Context, err error, message string, contents []llm.Content, operation string)
}

// FileReporter writes each report as a JSON file.
type FileReporter struct {
	Dir    string // defaults to os.TempDir()
	Logger *slog.Logger
}

// NewFileReporter creates a reporter writing into dir.
func NewFileReporter(dir string, logger *slog.Logger) *FileReporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileReporter{Dir: dir, Logger: logger}
}

func (r *FileReporter) Report(_ context.Context, err error, message string, contents []llm.Content, operation string) {
	report := &diagnostics.ErrorReport{
		Operation: operation,
		Message:   message,
		Context:   contents,
	}
	if err != nil {
		report.Error = err.Error()
	}
	if status, ok := llm.ErrorStatus(err); ok {
		report.Status = status
	}

	path, werr := diagnostics.WriteErrorReport(r.Dir, report)
	if werr != nil {
		r.Logger.Error("failed to write error report", "operation", operation, "error", werr, "original_error", err)
		return
	}
	r.Logger.Error(message, "operation", operation, "error", err, "report", path)
}

// nopReporter discards reports.
type nopReporter struct{}

func (nopReporter) Report(context.Context, error, string, []llm.Content, string) {}
