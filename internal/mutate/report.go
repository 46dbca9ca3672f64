package mutate

import (
	"time"

	"github.com/systemshift/docmigrate/internal/core"
)

// Outcome is the settled result of one operation
type Outcome string

// Outcomes
const (
	Applied   Outcome = "applied"   // the store changed
	Unchanged Outcome = "unchanged" // already in the desired state
	Failed    Outcome = "failed"
)

// Result is the outcome of one operation
type Result struct {
	Op       core.Operation
	Outcome  Outcome
	Err      error
	Document *core.Document // stored document after an applied write
	Elapsed  time.Duration
}

// Failure is a failed operation in a report
type Failure struct {
	ID    string `json:"id"`
	Op    string `json:"op"`
	Error string `json:"error"`
}

// Summary holds the counters of a report
type Summary struct {
	Total      int `json:"total"`
	Successful int `json:"successful"`
	Unchanged  int `json:"unchanged"`
	Failed     int `json:"failed"`
}

// Report is the structured result of a Mutator run
type Report struct {
	Successful []string  `json:"successful"`
	Unchanged  []string  `json:"unchanged"`
	Failed     []Failure `json:"failed"`
	Total      int       `json:"total"`
	Results    []Result  `json:"-"`
}

// NewReport returns an empty report with non-nil lists
func NewReport() *Report {
	return &Report{Successful: []string{}, Unchanged: []string{}, Failed: []Failure{}}
}

// Add records r in the report
func (r *Report) Add(res Result) {
	r.Total++
	r.Results = append(r.Results, res)
	switch res.Outcome {
	case Applied:
		r.Successful = append(r.Successful, res.Op.ID)
	case Unchanged:
		r.Unchanged = append(r.Unchanged, res.Op.ID)
	default:
		msg := "unknown error"
		if res.Err != nil {
			msg = res.Err.Error()
		}
		r.Failed = append(r.Failed, Failure{ID: res.Op.ID, Op: res.Op.Key(), Error: msg})
	}
}

// Summary returns the report counters
func (r *Report) Summary() Summary {
	return Summary{
		Total:      r.Total,
		Successful: len(r.Successful),
		Unchanged:  len(r.Unchanged),
		Failed:     len(r.Failed),
	}
}

// FailureRate is failed / total, zero for an empty report
func (r *Report) FailureRate() float64 {
	if r.Total == 0 {
		return 0
	}
	return float64(len(r.Failed)) / float64(r.Total)
}
