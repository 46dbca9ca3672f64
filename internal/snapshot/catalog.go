package snapshot

import (
	"context"
	"fmt"
	"sort"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/systemshift/docmigrate/internal/core"
	"github.com/systemshift/docmigrate/internal/store"
)

// Catalog is the list of document types to export. Entries may be glob
// patterns ("faq*", "{author,category}"), which are matched against the
// types present in the store.
type Catalog []string

// Validate rejects malformed patterns
func (c Catalog) Validate() error {
	if len(c) == 0 {
		return &core.ConfigurationError{Reason: "export catalog is empty"}
	}
	for _, p := range c {
		if !doublestar.ValidatePattern(p) {
			return &core.ConfigurationError{Reason: fmt.Sprintf("invalid catalog pattern %q", p)}
		}
	}
	return nil
}

// Select returns the sorted, distinct types from available matched by the catalog
func (c Catalog) Select(available []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, t := range available {
		if seen[t] {
			continue
		}
		for _, p := range c {
			if ok, _ := doublestar.Match(p, t); ok {
				seen[t] = true
				out = append(out, t)
				break
			}
		}
	}
	sort.Strings(out)
	return out
}

// hasPatterns reports whether any entry needs the live type list to resolve
func (c Catalog) hasPatterns() bool {
	for _, p := range c {
		if containsMeta(p) {
			return true
		}
	}
	return false
}

// Resolve expands the catalog into concrete type names. Literal-only catalogs
// resolve without touching the store.
func (c Catalog) Resolve(ctx context.Context, client store.Client, pageSize int) ([]string, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	if !c.hasPatterns() {
		return c.Select(c), nil
	}
	docs, err := store.QueryAll(ctx, client, core.Query{}, pageSize)
	if err != nil {
		return nil, fmt.Errorf("listing document types: %w", err)
	}
	types := make([]string, 0, len(docs))
	for _, d := range docs {
		types = append(types, d.Type)
	}
	return c.Select(types), nil
}

func containsMeta(p string) bool {
	for _, r := range p {
		switch r {
		case '*', '?', '[', '{':
			return true
		}
	}
	return false
}
