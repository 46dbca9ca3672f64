package core

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Document is a single record in the remote content store
type Document struct {
	ID       string    `json:"id"`                 // Globally unique identifier
	Type     string    `json:"type"`               // Type tag, e.g. "category"
	Revision string    `json:"revision,omitempty"` // Opaque optimistic-concurrency token
	Fields   Fields    `json:"fields"`             // Ordered field values
	Created  time.Time `json:"created,omitempty"`
	Modified time.Time `json:"modified,omitempty"`
}

// Clone returns a deep copy of the document
func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}
	c := *d
	c.Fields = d.Fields.Clone()
	return &c
}

// Validate checks the minimum shape the store accepts
func (d *Document) Validate() error {
	if d == nil {
		return &ValidationError{Reason: "document is nil"}
	}
	if d.ID == "" {
		return &ValidationError{Reason: "document id is required"}
	}
	if d.Type == "" {
		return &ValidationError{ID: d.ID, Reason: "document type is required"}
	}
	return nil
}

// References returns every outbound reference embedded in the document's fields
func (d *Document) References() []Reference {
	if d == nil {
		return nil
	}
	return ExtractReferences(d.ID, d.Type, d.Fields)
}

// SameContent reports whether two documents carry the same type and field values.
// Revision, timestamps and field order are ignored.
func SameContent(a, b *Document) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.ID != b.ID || a.Type != b.Type || a.Fields.Len() != b.Fields.Len() {
		return false
	}
	for _, k := range a.Fields.Keys() {
		av, _ := a.Fields.Get(k)
		bv, ok := b.Fields.Get(k)
		if !ok || !EqualValues(av, bv) {
			return false
		}
	}
	return true
}

// EqualValues compares two field values by their canonical JSON encoding,
// which makes int/float and map ordering differences irrelevant.
func EqualValues(a, b any) bool {
	ab, err := json.Marshal(a)
	if err != nil {
		return false
	}
	bb, err := json.Marshal(b)
	if err != nil {
		return false
	}
	return bytes.Equal(ab, bb)
}

// NormalizeValue converts a value into the shape it has after a JSON round trip
func NormalizeValue(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("normalizing value: %w", err)
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("normalizing value: %w", err)
	}
	return out, nil
}

// Query selects documents. Non-empty filters are AND-ed together.
type Query struct {
	Types      []string `json:"types,omitempty"`
	IDs        []string `json:"ids,omitempty"`
	References []string `json:"references,omitempty"` // documents referencing any of these ids
	Limit      int      `json:"limit,omitempty"`
	Offset     int      `json:"offset,omitempty"`
}

// Patch describes field-level changes to a single document
type Patch struct {
	Set        map[string]any `json:"set,omitempty"`
	Unset      []string       `json:"unset,omitempty"`
	IfRevision string         `json:"ifRevision,omitempty"`
}

// Empty reports whether the patch changes nothing
func (p Patch) Empty() bool {
	return len(p.Set) == 0 && len(p.Unset) == 0
}

// AppliedTo reports whether doc already reflects every change in the patch
func (p Patch) AppliedTo(doc *Document) bool {
	for k, v := range p.Set {
		cur, ok := doc.Fields.Get(k)
		if !ok || !EqualValues(cur, v) {
			return false
		}
	}
	for _, k := range p.Unset {
		if _, ok := doc.Fields.Get(k); ok {
			return false
		}
	}
	return true
}

// Apply returns a copy of doc with the patch applied. Set keys are applied in
// sorted order so new fields land deterministically.
func (p Patch) Apply(doc *Document) *Document {
	out := doc.Clone()
	for _, k := range sortedKeys(p.Set) {
		out.Fields.Set(k, p.Set[k])
	}
	for _, k := range p.Unset {
		out.Fields.Delete(k)
	}
	return out
}

// Lookup is the result of a get-by-id: either Found with a Document or NotFound
type Lookup struct {
	Document *Document
}

// Found reports whether the lookup resolved to a document
func (l Lookup) Found() bool {
	return l.Document != nil
}

// NotFound builds a lookup for an absent id
func NotFound() Lookup {
	return Lookup{}
}

// FoundDocument builds a lookup for an existing document
func FoundDocument(doc *Document) Lookup {
	return Lookup{Document: doc}
}

// Ack acknowledges a delete. Existed is false when the id was already absent.
type Ack struct {
	ID      string `json:"id"`
	Existed bool   `json:"deleted"`
}
