package engine

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samsaffron/noma/internal/diagnostics"
	"github.com/samsaffron/noma/internal/llm"
)

func TestFileReporterWritesReport(t *testing.T) {
	dir := t.TempDir()
	var logs bytes.Buffer
	r := NewFileReporter(dir, slog.New(slog.NewTextHandler(&logs, nil)))

	err := &llm.APIError{Provider: "openai", Status: 503, Message: "overloaded"}
	contents := []llm.Content{llm.UserText("hello")}
	r.Report(context.Background(), err, apiErrorMessage, contents, sendOperation)

	files, globErr := filepath.Glob(filepath.Join(dir, "noma-client-error-*.json"))
	require.NoError(t, globErr)
	require.Len(t, files, 1)

	report, readErr := diagnostics.ReadErrorReport(files[0])
	require.NoError(t, readErr)
	assert.Equal(t, sendOperation, report.Operation)
	assert.Equal(t, apiErrorMessage, report.Message)
	assert.Equal(t, 503, report.Status)
	assert.Contains(t, report.Error, "overloaded")
	require.Len(t, report.Context, 1)
	assert.Equal(t, "hello", report.Context[0].Text())

	assert.Contains(t, logs.String(), files[0])
}

func TestFileReporterFailureOnlyLogs(t *testing.T) {
	// a regular file where the directory should be
	blocker := filepath.Join(t.TempDir(), "blocker")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0600))

	var logs bytes.Buffer
	r := NewFileReporter(filepath.Join(blocker, "reports"), slog.New(slog.NewTextHandler(&logs, nil)))
	assert.NotPanics(t, func() {
		r.Report(context.Background(), errors.New("boom"), "failed", nil, "op")
	})
	assert.True(t, strings.Contains(logs.String(), "failed to write error report"))
}
