package graph

import (
	"context"

	"github.com/systemshift/docmigrate/internal/core"
)

// Repository defines the interface for document storage backends.
// Both SQLite and Neo4j implement this interface.
type Repository interface {
	// Lifecycle
	Close(ctx context.Context) error
	EnsureIndexes(ctx context.Context) error

	// Reads
	GetDocument(ctx context.Context, id string) (*core.Document, error)
	QueryDocuments(ctx context.Context, q core.Query) ([]*core.Document, int, error)

	// Writes. Every write assigns a fresh revision.
	CreateDocument(ctx context.Context, doc *core.Document) (*core.Document, error)
	PutDocument(ctx context.Context, doc *core.Document) (*core.Document, error)
	PatchDocument(ctx context.Context, id string, p core.Patch) (*core.Document, error)

	// DeleteDocument reports whether the document existed
	DeleteDocument(ctx context.Context, id string) (bool, error)
}

var (
	_ Repository = (*SQLiteRepository)(nil)
	_ Repository = (*Neo4jRepository)(nil)
)
