package migration

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/systemshift/docmigrate/internal/mutate"
)

// BlockedOp is a delete refused by the validator
type BlockedOp struct {
	ID string   `json:"id"`
	By []string `json:"by"`
}

// SkippedOp is an operation that was never attempted
type SkippedOp struct {
	ID     string `json:"id"`
	Op     string `json:"op"`
	Reason string `json:"reason"`
}

// PhaseReport summarises one phase
type PhaseReport struct {
	Index    int            `json:"index"`
	Label    string         `json:"label"`
	Ops      []string       `json:"ops"`
	Declined bool           `json:"declined,omitempty"`
	Summary  mutate.Summary `json:"summary"`
}

// Summary holds the run counters
type Summary struct {
	Total      int `json:"total"`
	Successful int `json:"successful"`
	Unchanged  int `json:"unchanged"`
	Failed     int `json:"failed"`
	Blocked    int `json:"blocked"`
	Skipped    int `json:"skipped"`
}

// Report is the terminal artifact of an orchestrated run
type Report struct {
	RunID      string           `json:"runId"`
	Plan       string           `json:"plan,omitempty"`
	DryRun     bool             `json:"dryRun"`
	StartedAt  time.Time        `json:"startedAt"`
	FinishedAt time.Time        `json:"finishedAt"`
	Aborted    string           `json:"aborted,omitempty"`
	Summary    Summary          `json:"summary"`
	Phases     []PhaseReport    `json:"phases"`
	Successful []string         `json:"successful"`
	Unchanged  []string         `json:"unchanged"`
	Failed     []mutate.Failure `json:"failed"`
	Blocked    []BlockedOp      `json:"blocked"`
	Skipped    []SkippedOp      `json:"skipped"`
}

func newReport(runID, plan string, dryRun bool, started time.Time) *Report {
	return &Report{
		RunID:      runID,
		Plan:       plan,
		DryRun:     dryRun,
		StartedAt:  started,
		Phases:     []PhaseReport{},
		Successful: []string{},
		Unchanged:  []string{},
		Failed:     []mutate.Failure{},
		Blocked:    []BlockedOp{},
		Skipped:    []SkippedOp{},
	}
}

func (r *Report) finish(at time.Time) {
	r.FinishedAt = at
	r.Summary = Summary{
		Successful: len(r.Successful),
		Unchanged:  len(r.Unchanged),
		Failed:     len(r.Failed),
		Blocked:    len(r.Blocked),
		Skipped:    len(r.Skipped),
	}
	r.Summary.Total = r.Summary.Successful + r.Summary.Unchanged + r.Summary.Failed + r.Summary.Blocked + r.Summary.Skipped
}

// Changes is the number of operations that modified the store
func (r *Report) Changes() int {
	return len(r.Successful)
}

// OK reports whether nothing failed and nothing was aborted
func (r *Report) OK() bool {
	return len(r.Failed) == 0 && r.Aborted == ""
}

// WriteReport stores r as <dir>/migration-<timestamp>.json and returns the path
func WriteReport(dir string, r *Report) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating report directory: %w", err)
	}
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding report: %w", err)
	}
	name := "migration-" + r.StartedAt.UTC().Format("20060102T150405.000Z") + ".json"
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("writing report: %w", err)
	}
	return path, nil
}
