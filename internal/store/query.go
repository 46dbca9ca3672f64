package store

import (
	"context"
	"fmt"

	"github.com/systemshift/docmigrate/internal/core"
)

// DefaultBatchSize bounds the number of ids sent in one query
const DefaultBatchSize = 50

// QueryAll pages through q until a short page is returned
func QueryAll(ctx context.Context, c Client, q core.Query, pageSize int) ([]*core.Document, error) {
	if pageSize <= 0 {
		pageSize = 200
	}
	var all []*core.Document
	q.Offset = 0
	q.Limit = pageSize
	for {
		page, err := c.Query(ctx, q)
		if err != nil {
			return nil, fmt.Errorf("querying offset %d: %w", q.Offset, err)
		}
		all = append(all, page...)
		if len(page) < pageSize {
			return all, nil
		}
		q.Offset += len(page)
	}
}

// Existing returns the subset of ids that resolve to a document, querying in batches
func Existing(ctx context.Context, c Client, ids []string, batchSize int) (map[string]bool, error) {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	found := make(map[string]bool, len(ids))
	for _, batch := range Chunk(ids, batchSize) {
		docs, err := c.Query(ctx, core.Query{IDs: batch})
		if err != nil {
			return nil, fmt.Errorf("checking existence: %w", err)
		}
		for _, d := range docs {
			found[d.ID] = true
		}
	}
	return found, nil
}

// Chunk splits ids into consecutive batches of at most size
func Chunk(ids []string, size int) [][]string {
	if size <= 0 {
		size = DefaultBatchSize
	}
	var out [][]string
	for start := 0; start < len(ids); start += size {
		end := start + size
		if end > len(ids) {
			end = len(ids)
		}
		out = append(out, ids[start:end])
	}
	return out
}
