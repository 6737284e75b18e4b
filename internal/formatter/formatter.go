// package formatter provides functions to export tracked jobs to various formats (CSV, Markdown, plain text, JSON)
package formatter

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/desertthunder/csync/internal/models"
	"github.com/desertthunder/csync/internal/shared"
)

// Format names accepted by [Write].
const (
	FormatCSV      = "csv"
	FormatMarkdown = "md"
	FormatText     = "txt"
	FormatJSON     = "json"
)

var summaryOrder = []models.State{models.Pending, models.Processing, models.Ready, models.Uploaded, models.Failed}

// ExportToCSV converts jobs to CSV format with columns: ID, Temp ID, Title, Platform, State, Created, Updated
func ExportToCSV(jobs []models.Job) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	headers := []string{"ID", "Temp ID", "Title", "Platform", "State", "Created", "Updated"}
	if err := writer.Write(headers); err != nil {
		return nil, fmt.Errorf("failed to write CSV headers: %w", err)
	}

	for _, job := range jobs {
		record := []string{
			job.JobID,
			job.TempID,
			job.Title,
			string(job.Platform),
			job.State.String(),
			job.CreatedAt.UTC().Format(time.RFC3339),
			job.UpdatedAt.UTC().Format(time.RFC3339),
		}
		if err := writer.Write(record); err != nil {
			return nil, fmt.Errorf("failed to write CSV record: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("CSV writer error: %w", err)
	}

	return buf.Bytes(), nil
}

// ExportToMarkdown converts date folders to Markdown, one section per day
func ExportToMarkdown(folders []models.Folder) ([]byte, error) {
	var buf bytes.Buffer
	var all []models.Job
	for _, f := range folders {
		all = append(all, f.Jobs...)
	}

	buf.WriteString("# Jobs\n\n")
	buf.WriteString(fmt.Sprintf("**Total**: %d\n", len(all)))
	if summary := Summarize(all); summary != "" {
		buf.WriteString(fmt.Sprintf("**States**: %s\n", summary))
	}

	for _, folder := range folders {
		buf.WriteString(fmt.Sprintf("\n## %s\n\n", folder.Date))
		for i, job := range folder.Jobs {
			buf.WriteString(fmt.Sprintf("%d. **%s** %s%s\n", i+1, job.State, job.Title, idSuffix(job)))
		}
	}

	return buf.Bytes(), nil
}

// ExportToText converts jobs to plain text, one line per job
func ExportToText(jobs []models.Job) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteString(fmt.Sprintf("Jobs: %d\n", len(jobs)))
	if summary := Summarize(jobs); summary != "" {
		buf.WriteString(fmt.Sprintf("States: %s\n", summary))
	}
	buf.WriteString("\n")

	for i, job := range jobs {
		buf.WriteString(fmt.Sprintf("%d. [%s] %s%s\n", i+1, job.State, job.Title, idSuffix(job)))
	}

	return buf.Bytes(), nil
}

// ExportToJSON generates an indented JSON array of jobs
func ExportToJSON(jobs []models.Job) ([]byte, error) {
	if jobs == nil {
		jobs = []models.Job{}
	}
	return shared.MarshalJSON(jobs, true)
}

// Summarize counts jobs per state in lifecycle order, e.g. "2 PENDING, 1 READY".
// States with no jobs are omitted.
func Summarize(jobs []models.Job) string {
	counts := make(map[models.State]int)
	for _, j := range jobs {
		counts[j.State]++
	}

	var parts []string
	for _, st := range summaryOrder {
		if n := counts[st]; n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, st))
		}
	}
	return strings.Join(parts, ", ")
}

func idSuffix(job models.Job) string {
	if job.JobID == "" {
		return " (unsubmitted)"
	}
	return fmt.Sprintf(" (#%s)", job.JobID)
}

// WriteCSVExport writes jobs to a CSV file. Defaults to jobs.csv.
func WriteCSVExport(jobs []models.Job, path string) (string, error) {
	if path == "" {
		path = "jobs.csv"
	}
	return writeExport(path, func() ([]byte, error) { return ExportToCSV(jobs) })
}

// WriteTextExport writes jobs to a plain text file. Defaults to jobs.txt.
func WriteTextExport(jobs []models.Job, path string) (string, error) {
	if path == "" {
		path = "jobs.txt"
	}
	return writeExport(path, func() ([]byte, error) { return ExportToText(jobs) })
}

// WriteJSONExport writes jobs to a JSON file. Defaults to jobs.json.
func WriteJSONExport(jobs []models.Job, path string) (string, error) {
	if path == "" {
		path = "jobs.json"
	}
	return writeExport(path, func() ([]byte, error) { return ExportToJSON(jobs) })
}

// MarkdownExportResult contains information about files created by WriteMarkdownExport
type MarkdownExportResult struct {
	Directory string
	Files     []string
}

// WriteMarkdownExport exports jobs grouped by day to {dir}/README.md.
//
// Directory name defaults to "jobs".
func WriteMarkdownExport(jobs []models.Job, outputDir string) (*MarkdownExportResult, error) {
	if outputDir == "" {
		outputDir = "jobs"
	}

	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	mdData, err := ExportToMarkdown(models.GroupByDate(jobs))
	if err != nil {
		return nil, fmt.Errorf("failed to generate Markdown: %w", err)
	}

	mdFile := filepath.Join(outputDir, "README.md")
	if err := os.WriteFile(mdFile, mdData, 0644); err != nil {
		return nil, fmt.Errorf("failed to write Markdown file: %w", err)
	}

	return &MarkdownExportResult{Directory: outputDir, Files: []string{mdFile}}, nil
}

// Write exports jobs in the named format and returns the file it created.
func Write(format string, jobs []models.Job, path string) (string, error) {
	switch strings.ToLower(format) {
	case FormatCSV:
		return WriteCSVExport(jobs, path)
	case FormatText, "text":
		return WriteTextExport(jobs, path)
	case FormatJSON:
		return WriteJSONExport(jobs, path)
	case FormatMarkdown, "markdown":
		result, err := WriteMarkdownExport(jobs, path)
		if err != nil {
			return "", err
		}
		return result.Files[0], nil
	default:
		return "", fmt.Errorf("%w: unknown export format %q", shared.ErrInvalidArgument, format)
	}
}

func writeExport(path string, render func() ([]byte, error)) (string, error) {
	data, err := render()
	if err != nil {
		return "", fmt.Errorf("failed to render export: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write export file: %w", err)
	}
	return path, nil
}
