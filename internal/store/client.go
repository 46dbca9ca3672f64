// Package store is the client side of the remote content API.
package store

import (
	"context"

	"github.com/systemshift/docmigrate/internal/core"
)

// Client is the contract every engine component uses to reach the content store.
//
// Get reports absence through core.Lookup instead of an error. Delete of an
// absent id succeeds with Ack.Existed == false. Patch of an absent id fails
// with core.ErrNotFound.
type Client interface {
	Query(ctx context.Context, q core.Query) ([]*core.Document, error)
	Get(ctx context.Context, id string) (core.Lookup, error)
	Create(ctx context.Context, doc *core.Document) (*core.Document, error)
	CreateOrReplace(ctx context.Context, doc *core.Document) (*core.Document, error)
	Patch(ctx context.Context, id string, p core.Patch) (*core.Document, error)
	Delete(ctx context.Context, id string) (core.Ack, error)
	Ping(ctx context.Context) error
}
