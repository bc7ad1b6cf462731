// Package report summarizes runs from their per-record outcomes and keeps a
// YAML history of them under the report directory.
package report

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/freedevtools/fdtdb/models"
)

// IndexFile lists every report written to a directory, newest first.
const IndexFile = "index.yaml"

// Summary counts outcomes by status.
type Summary struct {
	Inserted int `yaml:"inserted" json:"inserted"`
	Skipped  int `yaml:"skipped" json:"skipped"`
	Failed   int `yaml:"failed" json:"failed"`
	Total    int `yaml:"total" json:"total"`
}

// Summarize is the only way run counts are computed.
func Summarize(outcomes []models.Outcome) Summary {
	var s Summary
	for _, o := range outcomes {
		switch o.Status {
		case models.StatusInserted:
			s.Inserted++
		case models.StatusSkipped:
			s.Skipped++
		case models.StatusFailed:
			s.Failed++
		}
	}
	s.Total = len(outcomes)
	return s
}

// Failures returns the failed outcomes in the order they were produced.
func Failures(outcomes []models.Outcome) []models.Outcome {
	var out []models.Outcome
	for _, o := range outcomes {
		if o.Status == models.StatusFailed {
			out = append(out, o)
		}
	}
	return out
}

// Run is one persisted report.
type Run struct {
	ID       string           `yaml:"id"`
	Command  string           `yaml:"command"`
	Domain   string           `yaml:"domain"`
	Started  time.Time        `yaml:"started"`
	Duration time.Duration    `yaml:"duration"`
	Summary  Summary          `yaml:"summary"`
	Failures []models.Outcome `yaml:"failures,omitempty"`
	// Details carries command specific results, e.g. a migration result or
	// verification reports.
	Details any    `yaml:"details,omitempty"`
	Error   string `yaml:"error,omitempty"`
}

// NewRun starts a report with a timestamp-first id.
func NewRun(command, domain string, started time.Time) *Run {
	return &Run{
		ID:      NewRunID(command, domain, started),
		Command: command,
		Domain:  domain,
		Started: started,
	}
}

// NewRunID formats YYYY-MM-DDTHH-MM-SS-{hash}. Ids sort chronologically.
func NewRunID(command, domain string, at time.Time) string {
	h := sha256.New()
	h.Write([]byte(command))
	h.Write([]byte("\n"))
	h.Write([]byte(domain))
	h.Write([]byte("\n"))
	h.Write([]byte(at.Format(time.RFC3339Nano)))
	short := hex.EncodeToString(h.Sum(nil)[:4])
	return fmt.Sprintf("%s-%s", at.Format("2006-01-02T15-04-05"), short)
}

// Record sets the summary and failures from outcomes.
func (r *Run) Record(outcomes []models.Outcome) {
	r.Summary = Summarize(outcomes)
	r.Failures = Failures(outcomes)
}

// Finish stamps the duration and the error, if any.
func (r *Run) Finish(err error) {
	r.Duration = time.Since(r.Started).Round(time.Millisecond)
	if err != nil {
		r.Error = err.Error()
	}
}

// FileName is the report file of a run inside the report directory.
func (r *Run) FileName() string {
	return "report-" + r.ID + ".yaml"
}

// IndexEntry is one line of index.yaml.
type IndexEntry struct {
	ID       string    `yaml:"id"`
	Command  string    `yaml:"command"`
	Domain   string    `yaml:"domain"`
	Created  time.Time `yaml:"created"`
	File     string    `yaml:"file"`
	Inserted int       `yaml:"inserted"`
	Skipped  int       `yaml:"skipped"`
	Failed   int       `yaml:"failed"`
	Error    string    `yaml:"error,omitempty"`
}

// Index is the content of index.yaml.
type Index struct {
	Runs []IndexEntry `yaml:"runs"`
}

// Write persists the run as report-<id>.yaml and upserts its index entry.
// It returns the path of the report file.
func Write(dir string, run *Run) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create report directory: %w", err)
	}

	data, err := yaml.Marshal(run)
	if err != nil {
		return "", fmt.Errorf("failed to marshal report: %w", err)
	}
	path := filepath.Join(dir, run.FileName())
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write report: %w", err)
	}

	if err := updateIndex(dir, IndexEntry{
		ID:       run.ID,
		Command:  run.Command,
		Domain:   run.Domain,
		Created:  run.Started,
		File:     run.FileName(),
		Inserted: run.Summary.Inserted,
		Skipped:  run.Summary.Skipped,
		Failed:   run.Summary.Failed,
		Error:    run.Error,
	}); err != nil {
		return path, err
	}
	return path, nil
}

// ReadIndex loads index.yaml; a missing file is an empty index.
func ReadIndex(dir string) (*Index, error) {
	var index Index
	data, err := os.ReadFile(filepath.Join(dir, IndexFile))
	if err != nil {
		if os.IsNotExist(err) {
			return &index, nil
		}
		return nil, fmt.Errorf("failed to read report index: %w", err)
	}
	if err := yaml.Unmarshal(data, &index); err != nil {
		return nil, fmt.Errorf("failed to parse report index: %w", err)
	}
	return &index, nil
}

func updateIndex(dir string, entry IndexEntry) error {
	index, err := ReadIndex(dir)
	if err != nil {
		return err
	}

	found := false
	for i, e := range index.Runs {
		if e.ID == entry.ID {
			index.Runs[i] = entry
			found = true
			break
		}
	}
	if !found {
		index.Runs = append(index.Runs, entry)
	}

	sort.Slice(index.Runs, func(i, j int) bool {
		return index.Runs[i].ID > index.Runs[j].ID // newest first
	})

	out, err := yaml.Marshal(index)
	if err != nil {
		return fmt.Errorf("failed to marshal report index: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, IndexFile), out, 0644); err != nil {
		return fmt.Errorf("failed to write report index: %w", err)
	}
	return nil
}

// PrintTable writes the counts and at most maxFailures failures.
func PrintTable(w io.Writer, run *Run, maxFailures int) {
	fmt.Fprintf(w, "%-12s %-14s %-10s %-10s %-10s %-10s\n",
		"COMMAND", "DOMAIN", "INSERTED", "SKIPPED", "FAILED", "TOTAL")
	fmt.Fprintln(w, strings.Repeat("-", 72))
	fmt.Fprintf(w, "%-12s %-14s %-10d %-10d %-10d %-10d\n",
		run.Command, run.Domain, run.Summary.Inserted, run.Summary.Skipped, run.Summary.Failed, run.Summary.Total)

	if len(run.Failures) == 0 {
		return
	}
	fmt.Fprintf(w, "\nFailures (%d):\n", len(run.Failures))
	fmt.Fprintln(w, strings.Repeat("-", 72))
	for i, f := range run.Failures {
		if maxFailures > 0 && i >= maxFailures {
			fmt.Fprintf(w, "... and %d more, see %s\n", len(run.Failures)-maxFailures, run.FileName())
			break
		}
		fmt.Fprintf(w, "%3d. %s\n     %s\n", i+1, f.Key, f.Reason)
	}
}
