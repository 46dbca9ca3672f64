package storetest

import "github.com/systemshift/docmigrate/internal/core"

// Doc builds a document from alternating field names and values
func Doc(id, typ string, kv ...any) *core.Document {
	d := &core.Document{ID: id, Type: typ}
	for i := 0; i+1 < len(kv); i += 2 {
		d.Fields.Set(kv[i].(string), kv[i+1])
	}
	return d
}
