package diagnostics

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/samsaffron/noma/internal/llm"
)

// ErrorReport captures a failed model exchange for later inspection.
type ErrorReport struct {
	Timestamp time.Time `json:"timestamp"`
	Operation string    `json:"operation"`
	Message   string    `json:"message"`
	Error     string    `json:"error"`
	Status    int       `json:"status,omitempty"`

	// Full context: the history sent plus the offending input.
	Context []llm.Content `json:"context"`
}

// ReportFileName returns the file name used for a report.
func ReportFileName(operation string, ts time.Time) string {
	return fmt.Sprintf("noma-client-error-%s-%s.json", sanitize(operation), ts.UTC().Format("2006-01-02T15-04-05.000Z"))
}

// WriteErrorReport writes report as JSON into dir and returns the file path.
func WriteErrorReport(dir string, report *ErrorReport) (string, error) {
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create diagnostics directory: %w", err)
	}
	if report.Timestamp.IsZero() {
		report.Timestamp = time.Now()
	}

	path := filepath.Join(dir, ReportFileName(report.Operation, report.Timestamp))
	if err := writeJSON(path, report); err != nil {
		return "", err
	}
	return path, nil
}

// ReadErrorReport loads a report written by WriteErrorReport.
func ReadErrorReport(path string) (*ErrorReport, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var report ErrorReport
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("failed to parse diagnostics %s: %w", path, err)
	}
	return &report, nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal diagnostics: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write diagnostics JSON: %w", err)
	}
	return nil
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// sanitize keeps operation names usable as file name fragments.
func sanitize(s string) string {
	s = unsafeChars.ReplaceAllString(s, "_")
	s = strings.Trim(s, "_")
	if s == "" {
		return "unknown"
	}
	return s
}
