package validate

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/systemshift/docmigrate/internal/core"
	"github.com/systemshift/docmigrate/internal/store"
)

// Predicate is a caller-supplied business rule over document fields
type Predicate func(doc *core.Document) bool

// SelectByPredicate returns a deletion candidate for every document of
// docType matching pred
func SelectByPredicate(ctx context.Context, client store.Client, docType string, pred Predicate, reason string, pageSize int) ([]Candidate, error) {
	docs, err := store.QueryAll(ctx, client, core.Query{Types: []string{docType}}, pageSize)
	if err != nil {
		return nil, fmt.Errorf("selecting %s: %w", docType, err)
	}
	var out []Candidate
	for _, d := range docs {
		if pred(d) {
			out = append(out, Candidate{ID: d.ID, Type: d.Type, Reason: reason})
		}
	}
	return out, nil
}

// FieldEquals matches documents whose field equals value
func FieldEquals(field string, value any) Predicate {
	return func(doc *core.Document) bool {
		v, ok := doc.Fields.Get(field)
		return ok && core.EqualValues(v, value)
	}
}

// FieldMissing matches documents that lack field
func FieldMissing(field string) Predicate {
	return func(doc *core.Document) bool {
		_, ok := doc.Fields.Get(field)
		return !ok
	}
}

// DuplicateDetector decides which documents duplicate another
type DuplicateDetector interface {
	Duplicates(docs []*core.Document) []Candidate
}

// FieldDuplicates treats documents with the same normalised Field value as
// duplicates. The lowest id in each group is canonical; the rest become
// candidates with ReplacedBy set to it.
type FieldDuplicates struct {
	Field string
}

// Duplicates implements DuplicateDetector
func (f FieldDuplicates) Duplicates(docs []*core.Document) []Candidate {
	sorted := append([]*core.Document(nil), docs...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	canonical := make(map[string]string)
	var out []Candidate
	for _, d := range sorted {
		v, ok := d.Fields.Get(f.Field)
		if !ok {
			continue
		}
		key := d.Type + "\x00" + normalise(v)
		first, dup := canonical[key]
		if !dup {
			canonical[key] = d.ID
			continue
		}
		out = append(out, Candidate{
			ID:         d.ID,
			Type:       d.Type,
			Reason:     fmt.Sprintf("duplicate of %s by %s", first, f.Field),
			ReplacedBy: first,
		})
	}
	return out
}

func normalise(v any) string {
	if s, ok := v.(string); ok {
		return strings.ToLower(strings.Join(strings.Fields(s), " "))
	}
	data, _ := json.Marshal(v)
	return string(data)
}

// FindDuplicates loads every document of docType and runs d over them
func FindDuplicates(ctx context.Context, client store.Client, docType string, d DuplicateDetector, pageSize int) ([]Candidate, error) {
	docs, err := store.QueryAll(ctx, client, core.Query{Types: []string{docType}}, pageSize)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", docType, err)
	}
	return d.Duplicates(docs), nil
}

// CandidateFile is the YAML input of the validate command
type CandidateFile struct {
	Deletions  []Candidate       `yaml:"deletions"`
	Renames    []RenameCandidate `yaml:"renames"`
	Duplicates []DuplicateRule   `yaml:"duplicates"`
}

// DuplicateRule asks for duplicate detection over one type by one field
type DuplicateRule struct {
	Type  string `yaml:"type"`
	Field string `yaml:"field"`
}

// LoadCandidates reads a candidate file
func LoadCandidates(path string) (*CandidateFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &core.ConfigurationError{Reason: fmt.Sprintf("reading candidates: %v", err)}
	}
	var f CandidateFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, &core.ConfigurationError{Reason: fmt.Sprintf("parsing candidates: %v", err)}
	}
	for _, c := range f.Deletions {
		if c.ID == "" {
			return nil, &core.ConfigurationError{Reason: "deletion candidate without id"}
		}
	}
	for _, r := range f.Duplicates {
		if r.Type == "" || r.Field == "" {
			return nil, &core.ConfigurationError{Reason: "duplicate rule needs type and field"}
		}
	}
	return &f, nil
}

// Resolve turns the file into validator input, running duplicate rules
// against the live store
func (f *CandidateFile) Resolve(ctx context.Context, client store.Client, pageSize int) (Input, error) {
	in := Input{Deletions: append([]Candidate(nil), f.Deletions...), Renames: f.Renames}
	for _, r := range f.Duplicates {
		dups, err := FindDuplicates(ctx, client, r.Type, FieldDuplicates{Field: r.Field}, pageSize)
		if err != nil {
			return Input{}, err
		}
		in.Deletions = append(in.Deletions, dups...)
	}
	return in, nil
}
