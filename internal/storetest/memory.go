// Package storetest provides an in-memory store.Client with fault injection.
package storetest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/systemshift/docmigrate/internal/core"
	"github.com/systemshift/docmigrate/internal/store"
)

// Op names used by call counters and fault injection
const (
	OpQuery           = "query"
	OpGet             = "get"
	OpCreate          = "create"
	OpCreateOrReplace = "createOrReplace"
	OpPatch           = "patch"
	OpDelete          = "delete"
	OpPing            = "ping"
)

// MemoryStore implements store.Client for testing
type MemoryStore struct {
	mu       sync.Mutex
	docs     map[string]*core.Document
	revision int

	failures    map[string]error // keyed by document id, applied to writes
	typeFaults  map[string]error // keyed by document type, applied to queries
	unavailable bool
	delay       time.Duration
	hook        func(op, id string)

	calls       map[string]int
	inFlight    int
	maxInFlight int
}

var _ store.Client = (*MemoryStore)(nil)

// NewMemoryStore creates a store seeded with docs
func NewMemoryStore(docs ...*core.Document) *MemoryStore {
	m := &MemoryStore{
		docs:       make(map[string]*core.Document),
		failures:   make(map[string]error),
		typeFaults: make(map[string]error),
		calls:      make(map[string]int),
	}
	for _, d := range docs {
		m.Seed(d)
	}
	return m
}

// Seed stores a document directly, bypassing counters and faults
func (m *MemoryStore) Seed(doc *core.Document) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.put(doc.Clone())
}

// FailWrites makes every write to id fail with err
func (m *MemoryStore) FailWrites(id string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[id] = err
}

// FailQueries makes every query filtering on docType fail with err
func (m *MemoryStore) FailQueries(docType string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.typeFaults[docType] = err
}

// SetUnavailable makes every call fail as if the network were down
func (m *MemoryStore) SetUnavailable(down bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unavailable = down
}

// SetDelay holds every call for d so concurrency can be observed
func (m *MemoryStore) SetDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
}

// OnCall registers fn to run at the start of every call
func (m *MemoryStore) OnCall(fn func(op, id string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hook = fn
}

// Calls returns how many times op was invoked
func (m *MemoryStore) Calls(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

// Writes returns the number of mutating calls
func (m *MemoryStore) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[OpCreate] + m.calls[OpCreateOrReplace] + m.calls[OpPatch] + m.calls[OpDelete]
}

// ResetCalls zeroes the call counters
func (m *MemoryStore) ResetCalls() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = make(map[string]int)
	m.maxInFlight = 0
}

// MaxInFlight returns the highest number of concurrent calls observed
func (m *MemoryStore) MaxInFlight() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.maxInFlight
}

// Document returns a copy of the stored document, or nil
func (m *MemoryStore) Document(id string) *core.Document {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d, ok := m.docs[id]; ok {
		return d.Clone()
	}
	return nil
}

// Len returns the number of stored documents
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.docs)
}

// Query returns the documents matching q ordered by id
func (m *MemoryStore) Query(ctx context.Context, q core.Query) ([]*core.Document, error) {
	done, err := m.enter(ctx, OpQuery, "")
	if err != nil {
		return nil, err
	}
	defer done()

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range q.Types {
		if err := m.typeFaults[t]; err != nil {
			return nil, err
		}
	}

	ids := sortedIDs(m.docs)
	var out []*core.Document
	for _, id := range ids {
		d := m.docs[id]
		if matches(d, q) {
			out = append(out, d.Clone())
		}
	}
	if q.Offset > 0 {
		if q.Offset >= len(out) {
			return nil, nil
		}
		out = out[q.Offset:]
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

// Get retrieves a document by id
func (m *MemoryStore) Get(ctx context.Context, id string) (core.Lookup, error) {
	done, err := m.enter(ctx, OpGet, id)
	if err != nil {
		return core.Lookup{}, err
	}
	defer done()

	m.mu.Lock()
	defer m.mu.Unlock()
	if d, ok := m.docs[id]; ok {
		return core.FoundDocument(d.Clone()), nil
	}
	return core.NotFound(), nil
}

// Create stores a new document
func (m *MemoryStore) Create(ctx context.Context, doc *core.Document) (*core.Document, error) {
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	done, err := m.enter(ctx, OpCreate, doc.ID)
	if err != nil {
		return nil, err
	}
	defer done()

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failures[doc.ID]; err != nil {
		return nil, err
	}
	if _, ok := m.docs[doc.ID]; ok {
		return nil, fmt.Errorf("create %s: %w", doc.ID, core.ErrAlreadyExists)
	}
	return m.put(doc.Clone()).Clone(), nil
}

// CreateOrReplace upserts a document
func (m *MemoryStore) CreateOrReplace(ctx context.Context, doc *core.Document) (*core.Document, error) {
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	done, err := m.enter(ctx, OpCreateOrReplace, doc.ID)
	if err != nil {
		return nil, err
	}
	defer done()

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failures[doc.ID]; err != nil {
		return nil, err
	}
	out := doc.Clone()
	if existing, ok := m.docs[doc.ID]; ok {
		out.Created = existing.Created
	}
	return m.put(out).Clone(), nil
}

// Patch applies p to an existing document
func (m *MemoryStore) Patch(ctx context.Context, id string, p core.Patch) (*core.Document, error) {
	done, err := m.enter(ctx, OpPatch, id)
	if err != nil {
		return nil, err
	}
	defer done()

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failures[id]; err != nil {
		return nil, err
	}
	existing, ok := m.docs[id]
	if !ok {
		return nil, fmt.Errorf("patch %s: %w", id, core.ErrNotFound)
	}
	if p.IfRevision != "" && p.IfRevision != existing.Revision {
		return nil, fmt.Errorf("patch %s: %w", id, core.ErrConflict)
	}
	return m.put(p.Apply(existing)).Clone(), nil
}

// Delete removes a document; an absent id is acknowledged
func (m *MemoryStore) Delete(ctx context.Context, id string) (core.Ack, error) {
	done, err := m.enter(ctx, OpDelete, id)
	if err != nil {
		return core.Ack{}, err
	}
	defer done()

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failures[id]; err != nil {
		return core.Ack{}, err
	}
	_, existed := m.docs[id]
	delete(m.docs, id)
	return core.Ack{ID: id, Existed: existed}, nil
}

// Ping reports whether the store is reachable
func (m *MemoryStore) Ping(ctx context.Context) error {
	done, err := m.enter(ctx, OpPing, "")
	if err != nil {
		return err
	}
	done()
	return nil
}

// enter counts the call, applies faults and tracks concurrency
func (m *MemoryStore) enter(ctx context.Context, op, id string) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.calls[op]++
	hook := m.hook
	delay := m.delay
	if m.unavailable {
		m.mu.Unlock()
		return nil, &core.UnavailableError{Err: fmt.Errorf("%s: connection refused", op)}
	}
	m.inFlight++
	if m.inFlight > m.maxInFlight {
		m.maxInFlight = m.inFlight
	}
	m.mu.Unlock()

	if hook != nil {
		hook(op, id)
	}
	if delay > 0 {
		time.Sleep(delay)
	}
	return func() {
		m.mu.Lock()
		m.inFlight--
		m.mu.Unlock()
	}, nil
}

// put assigns a fresh revision and timestamps; callers hold mu
func (m *MemoryStore) put(doc *core.Document) *core.Document {
	m.revision++
	now := time.Now().UTC()
	doc.Revision = fmt.Sprintf("r%d", m.revision)
	doc.Modified = now
	if doc.Created.IsZero() {
		doc.Created = now
	}
	m.docs[doc.ID] = doc
	return doc
}

func matches(d *core.Document, q core.Query) bool {
	if len(q.Types) > 0 && !contains(q.Types, d.Type) {
		return false
	}
	if len(q.IDs) > 0 && !contains(q.IDs, d.ID) {
		return false
	}
	if len(q.References) > 0 {
		hit := false
		for _, target := range core.TargetIDs(d.References()) {
			if contains(q.References, target) {
				hit = true
				break
			}
		}
		if !hit {
			return false
		}
	}
	return true
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func sortedIDs(docs map[string]*core.Document) []string {
	ids := make([]string, 0, len(docs))
	for id := range docs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
