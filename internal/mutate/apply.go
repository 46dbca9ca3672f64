package mutate

import (
	"context"
	"fmt"

	"github.com/systemshift/docmigrate/internal/core"
	"github.com/systemshift/docmigrate/internal/store"
	"github.com/systemshift/docmigrate/internal/validate"
)

// Apply executes one operation idempotently: an operation whose effect is
// already present reports Unchanged without writing. Create is an upsert, so
// an existing document with other content is overwritten.
func Apply(ctx context.Context, c store.Client, op core.Operation) Result {
	res := Result{Op: op}
	if err := op.Validate(); err != nil {
		res.Outcome, res.Err = Failed, err
		return res
	}

	var err error
	switch op.Kind {
	case core.OpCreate, core.OpCreateOrReplace:
		res.Outcome, res.Document, err = createOrReplace(ctx, c, op.Document)
	case core.OpPatch:
		res.Outcome, res.Document, err = patch(ctx, c, op.ID, op.Patch)
	case core.OpRename:
		res.Outcome, res.Document, err = rename(ctx, c, op.ID, op.From, op.To)
	case core.OpDelete:
		var ack core.Ack
		ack, err = c.Delete(ctx, op.ID)
		if err == nil && !ack.Existed {
			res.Outcome = Unchanged
			return res
		}
	}

	if err != nil {
		res.Outcome, res.Err = Failed, err
		return res
	}
	if res.Outcome == "" {
		res.Outcome = Applied
	}
	return res
}

func createOrReplace(ctx context.Context, c store.Client, doc *core.Document) (Outcome, *core.Document, error) {
	lookup, err := c.Get(ctx, doc.ID)
	if err != nil {
		return Failed, nil, err
	}
	if lookup.Found() && core.SameContent(lookup.Document, doc) {
		return Unchanged, lookup.Document, nil
	}
	stored, err := c.CreateOrReplace(ctx, doc)
	return Applied, stored, err
}

func patch(ctx context.Context, c store.Client, id string, p core.Patch) (Outcome, *core.Document, error) {
	lookup, err := c.Get(ctx, id)
	if err != nil {
		return Failed, nil, err
	}
	if !lookup.Found() {
		return Failed, nil, fmt.Errorf("patch %s: %w", id, core.ErrNotFound)
	}
	if p.AppliedTo(lookup.Document) {
		return Unchanged, lookup.Document, nil
	}
	if p.IfRevision == "" {
		p.IfRevision = lookup.Document.Revision
	}
	stored, err := c.Patch(ctx, id, p)
	return Applied, stored, err
}

func rename(ctx context.Context, c store.Client, id, from, to string) (Outcome, *core.Document, error) {
	lookup, err := c.Get(ctx, id)
	if err != nil {
		return Failed, nil, err
	}
	if !lookup.Found() {
		return Failed, nil, fmt.Errorf("rename on %s: %w", id, core.ErrNotFound)
	}
	doc := lookup.Document

	switch validate.ClassifyRename(doc, from, to) {
	case validate.RenameConflict:
		return Failed, nil, fmt.Errorf("rename %s -> %s on %s: both fields hold different values: %w", from, to, id, core.ErrConflict)
	case validate.RenameReady:
		v, _ := doc.Fields.Get(from)
		stored, err := c.Patch(ctx, id, core.Patch{
			Set:        map[string]any{to: v},
			Unset:      []string{from},
			IfRevision: doc.Revision,
		})
		return Applied, stored, err
	default:
		return Unchanged, doc, nil
	}
}
