package core

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"
)

// Fields is an ordered mapping of field name to value. The zero value is an
// empty, usable mapping. Values are scalars, lists, nested maps or references
// ({"_ref": id}).
type Fields struct {
	keys   []string
	values map[string]any
}

// FieldsFromMap builds Fields from a plain map with keys in sorted order
func FieldsFromMap(m map[string]any) Fields {
	var f Fields
	for _, k := range sortedKeys(m) {
		f.Set(k, m[k])
	}
	return f
}

// Get returns the value of a field
func (f Fields) Get(name string) (any, bool) {
	v, ok := f.values[name]
	return v, ok
}

// Set assigns a field, appending it when new and keeping its position otherwise
func (f *Fields) Set(name string, value any) {
	if f.values == nil {
		f.values = make(map[string]any)
	}
	if _, ok := f.values[name]; !ok {
		f.keys = append(f.keys, name)
	}
	f.values[name] = value
}

// Delete removes a field and reports whether it was present
func (f *Fields) Delete(name string) bool {
	if _, ok := f.values[name]; !ok {
		return false
	}
	delete(f.values, name)
	for i, k := range f.keys {
		if k == name {
			f.keys = append(f.keys[:i:i], f.keys[i+1:]...)
			break
		}
	}
	return true
}

// Rename moves a field to a new name in place. It is a no-op when from is absent.
func (f *Fields) Rename(from, to string) bool {
	v, ok := f.values[from]
	if !ok || from == to {
		return false
	}
	if _, exists := f.values[to]; exists {
		f.Delete(from)
		f.values[to] = v
		return true
	}
	delete(f.values, from)
	for i, k := range f.keys {
		if k == from {
			f.keys[i] = to
			break
		}
	}
	f.values[to] = v
	return true
}

// Keys returns field names in order
func (f Fields) Keys() []string {
	out := make([]string, len(f.keys))
	copy(out, f.keys)
	return out
}

// Len returns the number of fields
func (f Fields) Len() int {
	return len(f.keys)
}

// Map returns the fields as a plain map
func (f Fields) Map() map[string]any {
	m := make(map[string]any, len(f.keys))
	for _, k := range f.keys {
		m[k] = f.values[k]
	}
	return m
}

// Clone deep-copies the fields
func (f Fields) Clone() Fields {
	var out Fields
	for _, k := range f.keys {
		out.Set(k, cloneValue(f.values[k]))
	}
	return out
}

// MarshalJSON writes fields as a JSON object preserving order
func (f Fields) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range f.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		vb, err := json.Marshal(f.values[k])
		if err != nil {
			return nil, fmt.Errorf("marshaling field %q: %w", k, err)
		}
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads a JSON object keeping its key order
func (f *Fields) UnmarshalJSON(data []byte) error {
	*f = Fields{}
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("fields must be a JSON object")
	}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("unexpected field key %v", tok)
		}
		var v any
		if err := dec.Decode(&v); err != nil {
			return fmt.Errorf("decoding field %q: %w", key, err)
		}
		f.Set(key, v)
	}
	_, err = dec.Token()
	return err
}

// UnmarshalYAML reads a YAML mapping keeping its key order. Values are
// normalised to their JSON shapes so they compare equal to store values.
func (f *Fields) UnmarshalYAML(node *yaml.Node) error {
	*f = Fields{}
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: fields must be a mapping", node.Line)
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		key := node.Content[i].Value
		var raw any
		if err := node.Content[i+1].Decode(&raw); err != nil {
			return fmt.Errorf("decoding field %q: %w", key, err)
		}
		v, err := NormalizeValue(raw)
		if err != nil {
			return fmt.Errorf("field %q: %w", key, err)
		}
		f.Set(key, v)
	}
	return nil
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, vv := range t {
			m[k] = cloneValue(vv)
		}
		return m
	case []any:
		s := make([]any, len(t))
		for i, vv := range t {
			s[i] = cloneValue(vv)
		}
		return s
	default:
		return v
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
