package formatter

import (
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/desertthunder/csync/internal/models"
	"github.com/desertthunder/csync/internal/shared"
	th "github.com/desertthunder/csync/internal/testing"
)

func sampleJobs() []models.Job {
	day := time.Date(2026, 3, 10, 9, 0, 0, 0, time.Local)
	return []models.Job{
		{
			TempID:    "tmp-2",
			JobID:     "43",
			Title:     "Second Clip",
			Platform:  models.Reddit,
			State:     models.Ready,
			CreatedAt: day.Add(24 * time.Hour),
			UpdatedAt: day.Add(25 * time.Hour),
		},
		{
			TempID:    "tmp-1",
			JobID:     "42",
			Title:     "First Clip",
			Platform:  models.YouTube,
			State:     models.Processing,
			CreatedAt: day,
			UpdatedAt: day.Add(time.Minute),
		},
		{
			TempID:    "tmp-0",
			Title:     "Draft",
			State:     models.Pending,
			CreatedAt: day.Add(-time.Hour),
			UpdatedAt: day.Add(-time.Hour),
		},
	}
}

func TestExporters(t *testing.T) {
	jobs := sampleJobs()

	t.Run("ExportToCSV", func(t *testing.T) {
		data, err := ExportToCSV(jobs)
		if err != nil {
			t.Fatalf("ExportToCSV failed: %v", err)
		}

		lines := strings.Split(strings.TrimSpace(string(data)), "\n")
		if len(lines) != 4 {
			t.Fatalf("expected header plus 3 rows, got %d lines", len(lines))
		}
		if lines[0] != "ID,Temp ID,Title,Platform,State,Created,Updated" {
			t.Errorf("CSV missing headers, got: %s", lines[0])
		}
		if !strings.HasPrefix(lines[1], "43,tmp-2,Second Clip,reddit,READY,") {
			t.Errorf("unexpected first row: %s", lines[1])
		}
		if !strings.HasPrefix(lines[3], ",tmp-0,Draft,,PENDING,") {
			t.Errorf("expected unsubmitted job to have an empty ID, got: %s", lines[3])
		}
	})

	t.Run("ExportToCSV Quotes Titles", func(t *testing.T) {
		data, err := ExportToCSV([]models.Job{{TempID: "t", Title: "a, b", State: models.Pending}})
		if err != nil {
			t.Fatal(err)
		}
		if !strings.Contains(string(data), `"a, b"`) {
			t.Errorf("expected quoted title, got: %s", data)
		}
	})

	t.Run("ExportToMarkdown", func(t *testing.T) {
		data, err := ExportToMarkdown(models.GroupByDate(jobs))
		if err != nil {
			t.Fatalf("ExportToMarkdown failed: %v", err)
		}
		output := string(data)

		for _, want := range []string{
			"# Jobs",
			"**Total**: 3",
			"**States**: 1 PENDING, 1 PROCESSING, 1 READY",
			"## 2026-03-11",
			"## 2026-03-10",
			"1. **READY** Second Clip (#43)",
			"2. **PENDING** Draft (unsubmitted)",
		} {
			if !strings.Contains(output, want) {
				t.Errorf("Markdown missing %q, got:\n%s", want, output)
			}
		}

		if strings.Index(output, "## 2026-03-11") > strings.Index(output, "## 2026-03-10") {
			t.Error("expected newest day first")
		}
	})

	t.Run("ExportToText", func(t *testing.T) {
		data, err := ExportToText(jobs)
		if err != nil {
			t.Fatalf("ExportToText failed: %v", err)
		}
		output := string(data)

		if !strings.Contains(output, "Jobs: 3") {
			t.Errorf("Text missing count")
		}
		if !strings.Contains(output, "1. [READY] Second Clip (#43)") {
			t.Errorf("Text missing job listing, got:\n%s", output)
		}
	})

	t.Run("ExportToText Empty", func(t *testing.T) {
		data, err := ExportToText(nil)
		if err != nil {
			t.Fatal(err)
		}
		if strings.Contains(string(data), "States:") {
			t.Errorf("expected no state summary for no jobs, got: %s", data)
		}
	})

	t.Run("ExportToJSON", func(t *testing.T) {
		data, err := ExportToJSON(jobs)
		if err != nil {
			t.Fatalf("ExportToJSON failed: %v", err)
		}

		var decoded []models.Job
		if err := json.Unmarshal(data, &decoded); err != nil {
			t.Fatalf("invalid JSON: %v", err)
		}
		if len(decoded) != 3 || decoded[0].State != models.Ready || decoded[1].JobID != "42" {
			t.Errorf("unexpected decoded jobs: %+v", decoded)
		}
		if !strings.Contains(string(data), `"state": "PROCESSING"`) {
			t.Errorf("expected states by name, got: %s", data)
		}
	})

	t.Run("ExportToJSON Empty", func(t *testing.T) {
		data, err := ExportToJSON(nil)
		if err != nil {
			t.Fatal(err)
		}
		if string(data) != "[]" {
			t.Errorf("expected empty array, got %s", data)
		}
	})
}

func TestSummarize(t *testing.T) {
	tests := []struct {
		name string
		jobs []models.Job
		want string
	}{
		{name: "empty", want: ""},
		{name: "single", jobs: []models.Job{{State: models.Failed}}, want: "1 FAILED"},
		{
			name: "lifecycle order",
			jobs: []models.Job{{State: models.Failed}, {State: models.Uploaded}, {State: models.Pending}, {State: models.Pending}},
			want: "2 PENDING, 1 UPLOADED, 1 FAILED",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Summarize(tt.jobs); got != tt.want {
				t.Errorf("Summarize() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestWriters(t *testing.T) {
	jobs := sampleJobs()

	t.Run("Default Paths", func(t *testing.T) {
		tempDir := t.TempDir()
		originalDir := th.MustGetwd(t)
		th.MustChdir(t, tempDir)
		defer th.MustChdir(t, originalDir)

		for format, want := range map[string]string{
			FormatCSV:      "jobs.csv",
			FormatText:     "jobs.txt",
			FormatJSON:     "jobs.json",
			FormatMarkdown: filepath.Join("jobs", "README.md"),
		} {
			path, err := Write(format, jobs, "")
			if err != nil {
				t.Fatalf("Write(%s) failed: %v", format, err)
			}
			if path != want {
				t.Errorf("Write(%s) path = %q, want %q", format, path, want)
			}
			th.AssertFileExists(t, path)
		}

		content := th.MustReadFile(t, "jobs.txt")
		if !strings.Contains(content, "First Clip") {
			t.Errorf("text export missing job")
		}
	})

	t.Run("Custom Paths", func(t *testing.T) {
		tempDir := t.TempDir()

		csvPath := filepath.Join(tempDir, "out.csv")
		if path, err := WriteCSVExport(jobs, csvPath); err != nil || path != csvPath {
			t.Fatalf("WriteCSVExport = %q, %v", path, err)
		}
		th.AssertFileExists(t, csvPath)

		result, err := WriteMarkdownExport(jobs, filepath.Join(tempDir, "report"))
		if err != nil {
			t.Fatalf("WriteMarkdownExport failed: %v", err)
		}
		th.AssertDirExists(t, result.Directory)
		if content := th.MustReadFile(t, result.Files[0]); !strings.Contains(content, "## 2026-03-10") {
			t.Errorf("Markdown export missing folder heading")
		}
	})

	t.Run("Unknown Format", func(t *testing.T) {
		if _, err := Write("xml", jobs, ""); !errors.Is(err, shared.ErrInvalidArgument) {
			t.Errorf("expected ErrInvalidArgument, got %v", err)
		}
	})
}
