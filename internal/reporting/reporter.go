// internal/reporting/reporter.go
package reporting

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Reporter writes a finished run report to an output.
type Reporter interface {
	// Write renders the report.
	Write(report *Report) error
	// Close releases the underlying output (e.g., file handles).
	Close() error
}

// nopWriteCloser wraps an io.Writer and provides a no-op Close method.
type nopWriteCloser struct {
	io.Writer
}

func (nwc *nopWriteCloser) Close() error {
	return nil
}

// New creates a reporter for format ("json" or "text") writing to
// outputPath. An empty path or "stdout" writes to stdout.
func New(format, outputPath string) (Reporter, error) {
	return NewWithStdout(format, outputPath, os.Stdout)
}

// NewWithStdout is New with a replacement for standard output.
func NewWithStdout(format, outputPath string, stdout io.Writer) (Reporter, error) {
	switch format {
	case "json", "text":
	default:
		return nil, fmt.Errorf("unsupported output format: %s", format)
	}

	var writer io.WriteCloser
	if outputPath == "" || outputPath == "stdout" {
		// Wrap stdout so Close() is a no-op.
		writer = &nopWriteCloser{stdout}
	} else {
		if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory for %s: %w", outputPath, err)
		}
		f, err := os.Create(outputPath)
		if err != nil {
			return nil, fmt.Errorf("failed to create output file %s: %w", outputPath, err)
		}
		writer = f
	}

	if format == "json" {
		return &JSONReporter{writer: writer}, nil
	}
	return &TextReporter{writer: writer}, nil
}

// JSONReporter writes the report as an indented JSON document.
type JSONReporter struct {
	writer io.WriteCloser
}

func (j *JSONReporter) Write(report *Report) error {
	report.mu.Lock()
	defer report.mu.Unlock()

	enc := json.NewEncoder(j.writer)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	return nil
}

func (j *JSONReporter) Close() error {
	return j.writer.Close()
}

// TextReporter writes a human readable table of rows followed by the summary.
type TextReporter struct {
	writer io.WriteCloser
}

func (t *TextReporter) Write(report *Report) error {
	report.mu.Lock()
	defer report.mu.Unlock()

	tw := tabwriter.NewWriter(t.writer, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "ROW\tSTATUS\tWEIGHT\tQUESTION\tREASON\n")
	for _, row := range report.Rows {
		weight := "-"
		if row.Weight > 0 {
			weight = fmt.Sprint(row.Weight)
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", row.Row, row.Status, weight, truncate(row.Question, 60), row.Reason)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	s := report.Summary
	_, err := fmt.Fprintf(t.writer, "\nrun %s: %d rows, %d added, %d skipped, %d failed\n", report.RunID, s.Total, s.Added, s.Skipped, s.Failed)
	if err == nil && report.Aborted {
		_, err = fmt.Fprintf(t.writer, "aborted: %s\n", report.Error)
	}
	return err
}

func (t *TextReporter) Close() error {
	return t.writer.Close()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
