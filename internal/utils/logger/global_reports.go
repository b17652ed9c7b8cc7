package logger

import (
	"fmt"
	"os"
	"path/filepath"
)

type StringListReport struct {
	Title string
	Items []string
}

// ReportPath is where list reports are written; the CLI overrides it from config.
var ReportPath = "reports"

// NewStringListReport returns an empty report with the given title.
func NewStringListReport(title string) *StringListReport {
	return &StringListReport{Title: title, Items: []string{}}
}

// Add appends one line to the report.
func (r *StringListReport) Add(item string) {
	r.Items = append(r.Items, item)
}

// WriteToFile appends the report items to <ReportPath>/<prefix>-<title>.txt,
// one per line, followed by a blank separator line. The item list is reset.
func (r *StringListReport) WriteToFile(prefix string) (string, error) {
	if err := os.MkdirAll(ReportPath, 0755); err != nil {
		return "", fmt.Errorf("creating base path: %w", err)
	}

	reportFullPath := filepath.Join(ReportPath, fmt.Sprintf("%s-%s.txt", prefix, safeTitle(r.Title)))

	f, err := os.OpenFile(reportFullPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return "", fmt.Errorf("opening file: %w", err)
	}
	defer f.Close()

	for _, item := range r.Items {
		if _, err := fmt.Fprintln(f, item); err != nil {
			return "", fmt.Errorf("writing to file: %w", err)
		}
	}

	r.Items = []string{}
	if _, err := fmt.Fprintln(f); err != nil {
		return "", fmt.Errorf("writing new line to file: %w", err)
	}

	return reportFullPath, nil
}

// safeTitle replaces everything but ASCII letters and digits with underscores.
func safeTitle(title string) string {
	if title == "" {
		return "untitled"
	}
	out := make([]rune, 0, len(title))
	for _, r := range title {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			out = append(out, r)
		} else {
			out = append(out, '_')
		}
	}
	return string(out)
}
