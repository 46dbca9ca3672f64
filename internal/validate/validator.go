package validate

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/systemshift/docmigrate/internal/core"
	"github.com/systemshift/docmigrate/internal/logger"
	"github.com/systemshift/docmigrate/internal/store"
)

// Options configures a Validator
type Options struct {
	BatchSize   int // ids per reverse-reference query
	Concurrency int // batches queried at once
	PageSize    int
}

// Validator classifies candidates using live reverse-reference queries
type Validator struct {
	client store.Client
	opts   Options
	log    *zap.Logger
	now    func() time.Time
}

// New creates a Validator
func New(client store.Client, opts Options, log *zap.Logger) *Validator {
	if opts.BatchSize <= 0 {
		opts.BatchSize = store.DefaultBatchSize
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	return &Validator{
		client: client,
		opts:   opts,
		log:    logger.OrNop(log).With(zap.String("component", "validator")),
		now:    time.Now,
	}
}

// ClassifyDeletions marks every candidate Safe or Blocked. A candidate is
// Blocked when any other document references it. Results keep input order.
func (v *Validator) ClassifyDeletions(ctx context.Context, cands []Candidate) ([]Classification, error) {
	ids := make([]string, 0, len(cands))
	seen := make(map[string]bool, len(cands))
	for _, c := range cands {
		if c.ID == "" {
			return nil, &core.ValidationError{Reason: "deletion candidate without id"}
		}
		if !seen[c.ID] {
			seen[c.ID] = true
			ids = append(ids, c.ID)
		}
	}

	batches := store.Chunk(ids, v.opts.BatchSize)
	graphs := make([]*ReferenceGraph, len(batches))
	exists := make([]map[string]bool, len(batches))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(v.opts.Concurrency)
	for i, batch := range batches {
		g.Go(func() error {
			referencing, err := store.QueryAll(gctx, v.client, core.Query{References: batch}, v.opts.PageSize)
			if err != nil {
				return fmt.Errorf("querying inbound references: %w", err)
			}
			own, err := v.client.Query(gctx, core.Query{IDs: batch})
			if err != nil {
				return fmt.Errorf("checking candidates exist: %w", err)
			}
			found := make(map[string]bool, len(own))
			for _, d := range own {
				found[d.ID] = true
			}
			graphs[i] = NewReferenceGraph(referencing)
			exists[i] = found
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	batchOf := make(map[string]int, len(ids))
	for i, batch := range batches {
		for _, id := range batch {
			batchOf[id] = i
		}
	}

	out := make([]Classification, 0, len(cands))
	for _, c := range cands {
		i := batchOf[c.ID]
		cl := Classification{
			Candidate: c,
			Status:    Safe,
			Exists:    exists[i][c.ID],
			By:        graphs[i].Referrers(c.ID),
		}
		if len(cl.By) > 0 {
			cl.Status = Blocked
		}
		v.log.Debug("classified candidate",
			zap.String("id", c.ID),
			zap.String("status", string(cl.Status)),
			zap.Int("referrers", len(cl.By)))
		out = append(out, cl)
	}
	return out, nil
}

// FindDangling scans documents of the given types (all types when empty) and
// returns every reference whose target does not exist
func (v *Validator) FindDangling(ctx context.Context, types []string) ([]core.Reference, error) {
	docs, err := store.QueryAll(ctx, v.client, core.Query{Types: types}, v.opts.PageSize)
	if err != nil {
		return nil, fmt.Errorf("loading documents: %w", err)
	}

	var refs []core.Reference
	targets := make(map[string]bool)
	for _, d := range docs {
		for _, ref := range d.References() {
			refs = append(refs, ref)
			targets[ref.ToID] = true
		}
	}
	ids := make([]string, 0, len(targets))
	for id := range targets {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	found, err := store.Existing(ctx, v.client, ids, v.opts.BatchSize)
	if err != nil {
		return nil, err
	}

	var dangling []core.Reference
	for _, ref := range refs {
		if !found[ref.ToID] {
			dangling = append(dangling, ref)
		}
	}
	return dangling, nil
}

// Validate runs every requested check and assembles a Report
func (v *Validator) Validate(ctx context.Context, in Input) (*Report, error) {
	report := &Report{GeneratedAt: v.now().UTC(), Deletions: []Classification{}}

	cls, err := v.ClassifyDeletions(ctx, in.Deletions)
	if err != nil {
		return nil, err
	}
	report.Deletions = cls
	report.Counts = Count(cls)

	if len(in.Renames) > 0 {
		checks, err := v.CheckRenames(ctx, in.Renames)
		if err != nil {
			return nil, err
		}
		report.Renames = checks
	}

	if in.Dangling {
		dangling, err := v.FindDangling(ctx, in.DanglingTypes)
		if err != nil {
			return nil, err
		}
		report.Dangling = dangling
	}

	v.log.Info("validation finished",
		zap.Int("safe", len(report.Safe())),
		zap.Int("blocked", len(report.Blocked())),
		zap.Int("renames", len(report.Renames)),
		zap.Int("dangling", len(report.Dangling)))
	return report, nil
}

// Input is everything a validation run checks
type Input struct {
	Deletions     []Candidate
	Renames       []RenameCandidate
	Dangling      bool
	DanglingTypes []string
}
