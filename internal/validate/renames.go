package validate

import (
	"context"
	"fmt"
	"sort"

	"github.com/systemshift/docmigrate/internal/core"
	"github.com/systemshift/docmigrate/internal/store"
)

// ExpandRenames resolves type-scoped rename candidates into per-document
// candidates, selecting documents of that type that still carry From.
// Candidates naming an id pass through unchanged.
func ExpandRenames(ctx context.Context, client store.Client, renames []RenameCandidate, pageSize int) ([]RenameCandidate, error) {
	var out []RenameCandidate
	for _, r := range renames {
		if r.From == "" || r.To == "" || r.From == r.To {
			return nil, &core.ValidationError{ID: r.ID, Reason: fmt.Sprintf("invalid rename %q -> %q", r.From, r.To)}
		}
		if r.ID != "" {
			out = append(out, r)
			continue
		}
		if r.Type == "" {
			return nil, &core.ValidationError{Reason: fmt.Sprintf("rename %s -> %s needs an id or a type", r.From, r.To)}
		}
		docs, err := store.QueryAll(ctx, client, core.Query{Types: []string{r.Type}}, pageSize)
		if err != nil {
			return nil, fmt.Errorf("expanding rename on %s: %w", r.Type, err)
		}
		for _, d := range docs {
			if _, ok := d.Fields.Get(r.From); ok {
				out = append(out, RenameCandidate{ID: d.ID, Type: d.Type, From: r.From, To: r.To})
			}
		}
	}
	return out, nil
}

// ClassifyRename decides what renaming from to to would do to doc (nil = absent)
func ClassifyRename(doc *core.Document, from, to string) RenameStatus {
	if doc == nil {
		return RenameMissing
	}
	fv, hasFrom := doc.Fields.Get(from)
	tv, hasTo := doc.Fields.Get(to)
	switch {
	case hasFrom && hasTo && !core.EqualValues(fv, tv):
		return RenameConflict
	case hasFrom:
		return RenameReady
	case hasTo:
		return RenameAlreadyApplied
	default:
		return RenameMissing
	}
}

// CheckRenames simulates every rename against the live document without
// writing it: the moved value's references must still resolve, and documents
// that reference the renamed document are listed as consumers that may read
// the old field name directly.
func (v *Validator) CheckRenames(ctx context.Context, renames []RenameCandidate) ([]RenameCheck, error) {
	expanded, err := ExpandRenames(ctx, v.client, renames, v.opts.PageSize)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(expanded))
	for _, r := range expanded {
		ids = append(ids, r.ID)
	}
	graph, err := LoadGraph(ctx, v.client, ids, v.opts.PageSize)
	if err != nil {
		return nil, err
	}

	checks := make([]RenameCheck, 0, len(expanded))
	var targets []string
	for _, r := range expanded {
		lookup, err := v.client.Get(ctx, r.ID)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", r.ID, err)
		}
		check := RenameCheck{ID: r.ID, Type: r.Type, From: r.From, To: r.To}
		check.Status = ClassifyRename(lookup.Document, r.From, r.To)
		if lookup.Found() {
			doc := lookup.Document
			check.Type = doc.Type
			check.Before, _ = doc.Fields.Get(r.From)
			if check.Status == RenameReady {
				sim := doc.Clone()
				sim.Fields.Rename(r.From, r.To)
				check.After, _ = sim.Fields.Get(r.To)
				targets = append(targets, core.ValueReferences(check.After)...)
			}
			check.Consumers = graph.Referrers(r.ID)
		}
		checks = append(checks, check)
	}

	found, err := store.Existing(ctx, v.client, distinct(targets), v.opts.BatchSize)
	if err != nil {
		return nil, err
	}
	for i := range checks {
		if checks[i].Status != RenameReady {
			continue
		}
		for _, id := range distinct(core.ValueReferences(checks[i].After)) {
			if !found[id] {
				checks[i].Dangling = append(checks[i].Dangling, id)
			}
		}
	}
	return checks, nil
}

func distinct(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}
