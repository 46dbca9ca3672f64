package core

import (
	"fmt"
	"sort"
)

// RefKey is the key that marks a field value as a reference
const RefKey = "_ref"

// Reference is a directed edge (FromID, FromType) -> ToID embedded in a field
type Reference struct {
	FromID   string `json:"fromId"`
	FromType string `json:"fromType"`
	Path     string `json:"path"` // field path inside the source document, e.g. "items[2].author"
	ToID     string `json:"toId"`
}

// Ref builds a reference value pointing at id
func Ref(id string) map[string]any {
	return map[string]any{RefKey: id}
}

// RefTarget returns the target id when v is a reference value
func RefTarget(v any) (string, bool) {
	m, ok := v.(map[string]any)
	if !ok {
		return "", false
	}
	id, ok := m[RefKey].(string)
	if !ok || id == "" {
		return "", false
	}
	return id, true
}

// ExtractReferences walks the field values and returns every reference found,
// in field order and then in nested map key order.
func ExtractReferences(fromID, fromType string, fields Fields) []Reference {
	var refs []Reference
	for _, k := range fields.Keys() {
		v, _ := fields.Get(k)
		walkRefs(v, k, func(path, to string) {
			refs = append(refs, Reference{FromID: fromID, FromType: fromType, Path: path, ToID: to})
		})
	}
	return refs
}

// ValueReferences returns the target ids referenced anywhere inside a single value
func ValueReferences(v any) []string {
	var ids []string
	walkRefs(v, "", func(_ string, to string) {
		ids = append(ids, to)
	})
	return ids
}

// TargetIDs returns the distinct target ids of refs, sorted
func TargetIDs(refs []Reference) []string {
	seen := make(map[string]bool, len(refs))
	var ids []string
	for _, r := range refs {
		if !seen[r.ToID] {
			seen[r.ToID] = true
			ids = append(ids, r.ToID)
		}
	}
	sort.Strings(ids)
	return ids
}

func walkRefs(v any, path string, visit func(path, to string)) {
	switch t := v.(type) {
	case map[string]any:
		if id, ok := RefTarget(t); ok {
			visit(path, id)
			return
		}
		for _, k := range sortedKeys(t) {
			walkRefs(t[k], joinPath(path, k), visit)
		}
	case []any:
		for i, item := range t {
			walkRefs(item, fmt.Sprintf("%s[%d]", path, i), visit)
		}
	}
}

func joinPath(base, key string) string {
	if base == "" {
		return key
	}
	return base + "." + key
}

// RewriteReferences returns a copy of v where every reference whose target is
// a key of remap points at the mapped id instead.
func RewriteReferences(v any, remap map[string]string) any {
	switch t := v.(type) {
	case map[string]any:
		if id, ok := RefTarget(t); ok {
			out := make(map[string]any, len(t))
			for k, vv := range t {
				out[k] = vv
			}
			if to, ok := remap[id]; ok {
				out[RefKey] = to
			}
			return out
		}
		out := make(map[string]any, len(t))
		for k, vv := range t {
			out[k] = RewriteReferences(vv, remap)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = RewriteReferences(item, remap)
		}
		return out
	default:
		return v
	}
}

// RewriteFieldReferences applies RewriteReferences to every field
func RewriteFieldReferences(fields Fields, remap map[string]string) Fields {
	if len(remap) == 0 {
		return fields.Clone()
	}
	var out Fields
	for _, k := range fields.Keys() {
		v, _ := fields.Get(k)
		out.Set(k, RewriteReferences(v, remap))
	}
	return out
}
