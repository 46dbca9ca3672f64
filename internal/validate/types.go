package validate

import (
	"time"

	"github.com/systemshift/docmigrate/internal/core"
)

// Status is the classification of a deletion candidate
type Status string

// Candidate statuses
const (
	Safe    Status = "safe"
	Blocked Status = "blocked"
)

// Candidate is a document proposed for deletion
type Candidate struct {
	ID         string `yaml:"id" json:"id"`
	Type       string `yaml:"type" json:"type"`
	Reason     string `yaml:"reason" json:"reason"`
	ReplacedBy string `yaml:"replacedBy,omitempty" json:"replacedBy,omitempty"` // canonical id for duplicates
}

// Referrer is a document holding a reference to a candidate
type Referrer struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Path string `json:"path"`
}

// Classification is a Candidate after a live validation pass. Only the
// Validator produces these.
type Classification struct {
	Candidate
	Status Status     `json:"status"`
	Exists bool       `json:"exists"`
	By     []Referrer `json:"by,omitempty"`
}

// BlockedBy returns the referencing ids
func (c Classification) BlockedBy() []string {
	ids := make([]string, 0, len(c.By))
	for _, r := range c.By {
		ids = append(ids, r.ID)
	}
	return ids
}

// Err returns the ReferenceBlockedError for a blocked classification, or nil
func (c Classification) Err() error {
	if c.Status != Blocked {
		return nil
	}
	return &core.ReferenceBlockedError{ID: c.ID, By: c.BlockedBy()}
}

// RenameStatus is the dry-run outcome of a field rename on one document
type RenameStatus string

// Rename statuses
const (
	RenameReady          RenameStatus = "ready"          // from set, to free or equal
	RenameAlreadyApplied RenameStatus = "alreadyApplied" // only to is set
	RenameConflict       RenameStatus = "conflict"       // both set with different values
	RenameMissing        RenameStatus = "missing"        // document or both fields absent
)

// RenameCandidate proposes moving field From to To. Either ID names one
// document or Type selects every document of that type carrying From.
type RenameCandidate struct {
	ID   string `yaml:"id,omitempty" json:"id,omitempty"`
	Type string `yaml:"type,omitempty" json:"type,omitempty"`
	From string `yaml:"from" json:"from"`
	To   string `yaml:"to" json:"to"`
}

// RenameCheck is the simulated result of a rename on one document
type RenameCheck struct {
	ID        string       `json:"id"`
	Type      string       `json:"type,omitempty"`
	From      string       `json:"from"`
	To        string       `json:"to"`
	Status    RenameStatus `json:"status"`
	Dangling  []string     `json:"dangling,omitempty"`  // targets inside the moved value that do not resolve
	Consumers []Referrer   `json:"consumers,omitempty"` // documents referencing the renamed document
	Before    any          `json:"before,omitempty"`
	After     any          `json:"after,omitempty"`
}

// TypeCounts tallies classifications for one document type
type TypeCounts struct {
	Safe    int `json:"safe"`
	Blocked int `json:"blocked"`
}

// Report is the structured output of a validation run
type Report struct {
	GeneratedAt time.Time             `json:"generatedAt"`
	Deletions   []Classification      `json:"deletions"`
	Counts      map[string]TypeCounts `json:"counts"`
	Renames     []RenameCheck         `json:"renames,omitempty"`
	Dangling    []core.Reference      `json:"dangling,omitempty"`
}

// Safe returns the ids classified safe
func (r *Report) Safe() []string {
	return r.ids(Safe)
}

// Blocked returns the ids classified blocked
func (r *Report) Blocked() []string {
	return r.ids(Blocked)
}

func (r *Report) ids(s Status) []string {
	var out []string
	for _, c := range r.Deletions {
		if c.Status == s {
			out = append(out, c.ID)
		}
	}
	return out
}

// Count tallies classifications per candidate type
func Count(cs []Classification) map[string]TypeCounts {
	out := make(map[string]TypeCounts)
	for _, c := range cs {
		tc := out[c.Type]
		if c.Status == Blocked {
			tc.Blocked++
		} else {
			tc.Safe++
		}
		out[c.Type] = tc
	}
	return out
}
