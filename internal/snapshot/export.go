package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/systemshift/docmigrate/internal/core"
	"github.com/systemshift/docmigrate/internal/logger"
	"github.com/systemshift/docmigrate/internal/store"
)

// ErrIncomplete is returned alongside a written manifest when some types failed
var ErrIncomplete = errors.New("snapshot incomplete")

// Options configures an export
type Options struct {
	Dir      string  // parent directory; each export gets its own timestamped subdirectory
	Catalog  Catalog // document types to export
	PageSize int
	Source   string // recorded in the manifest, e.g. "project/dataset"
}

// Exporter writes per-type snapshot files of the live store
type Exporter struct {
	client store.Client
	opts   Options
	log    *zap.Logger
	now    func() time.Time
}

// NewExporter creates a new exporter
func NewExporter(client store.Client, opts Options, log *zap.Logger) *Exporter {
	return &Exporter{
		client: client,
		opts:   opts,
		log:    logger.OrNop(log).With(zap.String("component", "snapshot")),
		now:    time.Now,
	}
}

// Export walks the catalog and writes one file per type, a manifest and a
// summary into a new timestamped directory. It returns the directory and the
// manifest. A type that fails to export is recorded in the manifest and the
// export continues; in that case the returned error wraps ErrIncomplete.
func (e *Exporter) Export(ctx context.Context) (string, *Manifest, error) {
	types, err := e.opts.Catalog.Resolve(ctx, e.client, e.opts.PageSize)
	if err != nil {
		return "", nil, err
	}

	exportedAt := e.now().UTC()
	dir := filepath.Join(e.opts.Dir, exportedAt.Format("20060102T150405.000Z"))
	if err := os.MkdirAll(e.opts.Dir, 0o755); err != nil {
		return "", nil, fmt.Errorf("creating snapshot root: %w", err)
	}
	// Mkdir, not MkdirAll: an existing snapshot directory is never reused
	if err := os.Mkdir(dir, 0o755); err != nil {
		return "", nil, fmt.Errorf("creating snapshot directory: %w", err)
	}

	manifest := &Manifest{
		Version:    Version,
		ExportedAt: exportedAt,
		Source:     e.opts.Source,
		Counts:     make(map[string]int),
		Errors:     []TypeError{},
		Files:      []FileEntry{},
	}

	e.log.Info("starting export", zap.String("dir", dir), zap.Strings("types", types))

	for _, docType := range types {
		if err := ctx.Err(); err != nil {
			return dir, manifest, err
		}
		entry, err := e.exportType(ctx, dir, docType, exportedAt)
		if err != nil {
			if core.IsInfrastructure(err) {
				return dir, manifest, err
			}
			e.log.Warn("exporting type failed", zap.String("type", docType), zap.Error(err))
			manifest.Errors = append(manifest.Errors, TypeError{Type: docType, Error: err.Error()})
			continue
		}
		manifest.Files = append(manifest.Files, entry)
		manifest.Counts[docType] = entry.Count
		manifest.Total += entry.Count
		manifest.Bytes += entry.Bytes
		e.log.Info("exported type",
			zap.String("type", docType),
			zap.Int("documents", entry.Count),
			zap.Int64("bytes", entry.Bytes))
	}

	// Write manifest last (now has correct counts)
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return dir, manifest, fmt.Errorf("encoding manifest: %w", err)
	}
	if _, err := writeNew(filepath.Join(dir, ManifestFile), data); err != nil {
		return dir, manifest, err
	}
	if _, err := writeNew(filepath.Join(dir, SummaryFile), []byte(Summary(manifest))); err != nil {
		return dir, manifest, err
	}

	if len(manifest.Errors) > 0 {
		return dir, manifest, fmt.Errorf("%w: %d of %d types failed", ErrIncomplete, len(manifest.Errors), len(types))
	}
	return dir, manifest, nil
}

func (e *Exporter) exportType(ctx context.Context, dir, docType string, exportedAt time.Time) (FileEntry, error) {
	docs, err := store.QueryAll(ctx, e.client, core.Query{Types: []string{docType}}, e.opts.PageSize)
	if err != nil {
		return FileEntry{}, err
	}

	refs, err := e.references(ctx, docs)
	if err != nil {
		return FileEntry{}, err
	}

	if docs == nil {
		docs = []*core.Document{}
	}
	file := TypeFile{
		Version:    Version,
		Type:       docType,
		ExportedAt: exportedAt,
		Count:      len(docs),
		Documents:  docs,
		References: refs,
	}
	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return FileEntry{}, fmt.Errorf("encoding %s: %w", docType, err)
	}

	name := fileName(docType)
	size, err := writeNew(filepath.Join(dir, name), data)
	if err != nil {
		return FileEntry{}, err
	}
	return FileEntry{Name: name, Type: docType, Count: len(docs), Bytes: size}, nil
}

// references computes outbound targets from the documents themselves and
// inbound sources with batched reverse queries against the live store
func (e *Exporter) references(ctx context.Context, docs []*core.Document) (map[string]DocumentRefs, error) {
	refs := make(map[string]DocumentRefs, len(docs))
	ids := make([]string, 0, len(docs))
	for _, d := range docs {
		out := core.TargetIDs(d.References())
		if out == nil {
			out = []string{}
		}
		refs[d.ID] = DocumentRefs{Outbound: out, Inbound: []string{}}
		ids = append(ids, d.ID)
	}

	for _, batch := range store.Chunk(ids, store.DefaultBatchSize) {
		inBatch := make(map[string]bool, len(batch))
		for _, id := range batch {
			inBatch[id] = true
		}
		sources, err := store.QueryAll(ctx, e.client, core.Query{References: batch}, e.opts.PageSize)
		if err != nil {
			return nil, fmt.Errorf("querying inbound references: %w", err)
		}
		for _, src := range sources {
			for _, target := range core.TargetIDs(src.References()) {
				if !inBatch[target] {
					continue
				}
				r := refs[target]
				r.Inbound = append(r.Inbound, src.ID)
				refs[target] = r
			}
		}
	}

	for id, r := range refs {
		sort.Strings(r.Inbound)
		refs[id] = r
	}
	return refs, nil
}

// Summary renders the human-readable summary of a manifest
func Summary(m *Manifest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Snapshot of %s\n", m.Source)
	fmt.Fprintf(&b, "Exported at %s\n\n", m.ExportedAt.Format(time.RFC3339))

	for _, f := range m.Files {
		fmt.Fprintf(&b, "  %-30s %8s documents  %10s\n", f.Type, humanize.Comma(int64(f.Count)), humanize.Bytes(uint64(f.Bytes)))
	}
	fmt.Fprintf(&b, "\nTotal: %s documents in %d files (%s)\n",
		humanize.Comma(int64(m.Total)), len(m.Files), humanize.Bytes(uint64(m.Bytes)))

	if len(m.Errors) > 0 {
		fmt.Fprintf(&b, "\nErrors (%d):\n", len(m.Errors))
		for _, te := range m.Errors {
			fmt.Fprintf(&b, "  %s: %s\n", te.Type, te.Error)
		}
	}
	return b.String()
}

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

func fileName(docType string) string {
	return unsafeName.ReplaceAllString(docType, "_") + ".json"
}

// writeNew creates path exclusively and returns the number of bytes written
func writeNew(path string, data []byte) (int64, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return 0, fmt.Errorf("creating %s: %w", filepath.Base(path), err)
	}
	n, err := f.Write(data)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return 0, fmt.Errorf("writing %s: %w", filepath.Base(path), err)
	}
	return int64(n), nil
}
