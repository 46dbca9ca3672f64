// Package validate classifies candidate destructive changes against the live
// reference graph. Nothing in this package mutates the store.
package validate

import (
	"context"
	"fmt"
	"sort"

	"github.com/systemshift/docmigrate/internal/core"
	"github.com/systemshift/docmigrate/internal/store"
)

// ReferenceGraph is an in-memory view of reference edges, rebuilt per run
type ReferenceGraph struct {
	inbound  map[string][]core.Reference
	outbound map[string][]core.Reference
}

// NewReferenceGraph indexes the references carried by docs
func NewReferenceGraph(docs []*core.Document) *ReferenceGraph {
	g := &ReferenceGraph{
		inbound:  make(map[string][]core.Reference),
		outbound: make(map[string][]core.Reference),
	}
	seen := make(map[string]bool, len(docs))
	for _, d := range docs {
		if seen[d.ID] {
			continue
		}
		seen[d.ID] = true
		for _, ref := range d.References() {
			g.outbound[ref.FromID] = append(g.outbound[ref.FromID], ref)
			g.inbound[ref.ToID] = append(g.inbound[ref.ToID], ref)
		}
	}
	return g
}

// LoadGraph builds the graph around ids from the current store state: the
// documents themselves (outbound edges) and every document referencing them
// (inbound edges).
func LoadGraph(ctx context.Context, client store.Client, ids []string, pageSize int) (*ReferenceGraph, error) {
	var docs []*core.Document
	for _, batch := range store.Chunk(ids, store.DefaultBatchSize) {
		own, err := store.QueryAll(ctx, client, core.Query{IDs: batch}, pageSize)
		if err != nil {
			return nil, fmt.Errorf("loading documents: %w", err)
		}
		referencing, err := store.QueryAll(ctx, client, core.Query{References: batch}, pageSize)
		if err != nil {
			return nil, fmt.Errorf("loading inbound references: %w", err)
		}
		docs = append(docs, own...)
		docs = append(docs, referencing...)
	}
	return NewReferenceGraph(docs), nil
}

// Inbound returns the references pointing at id
func (g *ReferenceGraph) Inbound(id string) []core.Reference {
	return g.inbound[id]
}

// Outbound returns the references held by id
func (g *ReferenceGraph) Outbound(id string) []core.Reference {
	return g.outbound[id]
}

// Referrers returns the distinct ids referencing id, excluding id itself
func (g *ReferenceGraph) Referrers(id string) []Referrer {
	seen := make(map[string]bool)
	var out []Referrer
	for _, ref := range g.inbound[id] {
		if ref.FromID == id || seen[ref.FromID] {
			continue
		}
		seen[ref.FromID] = true
		out = append(out, Referrer{ID: ref.FromID, Type: ref.FromType, Path: ref.Path})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
