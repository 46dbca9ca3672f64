package migration

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systemshift/docmigrate/internal/core"
)

const samplePlan = `
name: faq-restructure
documents:
  - id: cat-general
    type: faqCategory
    fields:
      title: General
      order: 1
  - mode: create
    id: faq-join
    type: faq
    fields:
      question: How do I join?
      category: {_ref: cat-old}
      centerCount: 4
patches:
  - id: faq-legacy
    type: faq
    set:
      category: {_ref: cat-old}
      centerCount: 2
renames:
  - type: center
    from: centerCount
    to: centreCount
  - id: faq-legacy
    from: question
    to: title
deletes:
  - id: cat-old
    type: faqCategory
    reason: merged into cat-general
remap:
  ids:
    cat-old: cat-general
  fields:
    faq:
      centerCount: centreCount
`

func TestParsePlanAndOperations(t *testing.T) {
	plan, err := ParsePlan([]byte(samplePlan))
	require.NoError(t, err)
	assert.Equal(t, "faq-restructure", plan.Name)

	ops, typeRenames := plan.Operations()
	require.Len(t, typeRenames, 1)
	assert.Equal(t, "center", typeRenames[0].Type)

	require.Len(t, ops, 5)
	assert.Equal(t, core.OpCreateOrReplace, ops[0].Kind)
	assert.Equal(t, []string{"title", "order"}, ops[0].Document.Fields.Keys())

	join := ops[1]
	assert.Equal(t, core.OpCreate, join.Kind)
	assert.Equal(t, []string{"cat-general"}, join.References())
	assert.Equal(t, []string{"question", "category", "centreCount"}, join.Document.Fields.Keys())

	patch := ops[2]
	assert.Equal(t, core.OpPatch, patch.Kind)
	assert.Equal(t, core.Ref("cat-general"), patch.Patch.Set["category"])
	assert.EqualValues(t, 2, patch.Patch.Set["centreCount"])

	assert.Equal(t, core.RenameOp("faq-legacy", "question", "title"), ops[3])
	assert.Equal(t, core.DeleteOp("cat-old", "faqCategory", "merged into cat-general"), ops[4])
}

func TestParsePlanRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		plan string
	}{
		{"empty", ""},
		{"bad yaml", "documents: [\n"},
		{"unknown mode", "documents:\n  - {id: a, type: t, mode: upsert}\n"},
		{"document without type", "documents:\n  - {id: a}\n"},
		{"rename without target", "renames:\n  - {from: a, to: b}\n"},
		{"empty patch", "patches:\n  - {id: a}\n"},
		{"unknown section", "extra: true\n"},
		{"remap value not string", "remap:\n  ids:\n    a: [b]\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParsePlan([]byte(tt.plan))
			var cerr *core.ConfigurationError
			assert.ErrorAs(t, err, &cerr)
		})
	}
}

func TestLoadPlan(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plan.yaml")
	require.NoError(t, os.WriteFile(path, []byte(samplePlan), 0o644))
	plan, err := LoadPlan(path)
	require.NoError(t, err)
	assert.Len(t, plan.Documents, 2)

	_, err = LoadPlan(filepath.Join(t.TempDir(), "missing.yaml"))
	var cerr *core.ConfigurationError
	assert.ErrorAs(t, err, &cerr)
}

func doc(id, typ string, kv ...any) *core.Document {
	d := &core.Document{ID: id, Type: typ}
	for i := 0; i+1 < len(kv); i += 2 {
		d.Fields.Set(kv[i].(string), kv[i+1])
	}
	return d
}

func TestPhasesOrderParentsFirst(t *testing.T) {
	ops := []core.Operation{
		core.CreateOrReplaceOp(doc("entry-1", "entry", "author", core.Ref("author-1"), "category", core.Ref("cat-1"))),
		core.CreateOrReplaceOp(doc("cat-1", "category", "parent", core.Ref("root"))),
		core.CreateOrReplaceOp(doc("author-1", "author")),
		core.CreateOrReplaceOp(doc("root", "category")),
		core.PatchOp("cat-1", core.Patch{Set: map[string]any{"title": "x"}}),
		core.RenameOp("cat-1", "title", "name"),
	}
	phases, err := BuildGraph(ops).Phases()
	require.NoError(t, err)
	assert.Equal(t, [][]int{{2, 3}, {1}, {0, 4}, {5}}, phases)
}

func TestPhasesRejectCycles(t *testing.T) {
	ops := []core.Operation{
		core.CreateOrReplaceOp(doc("a", "t", "next", core.Ref("b"))),
		core.CreateOrReplaceOp(doc("b", "t", "next", core.Ref("c"))),
		core.CreateOrReplaceOp(doc("c", "t", "next", core.Ref("a"))),
		core.CreateOrReplaceOp(doc("self", "t", "me", core.Ref("self"))),
	}
	_, err := BuildGraph(ops).Phases()
	var cerr *core.ConfigurationError
	require.ErrorAs(t, err, &cerr)
	assert.Contains(t, cerr.Reason, "createOrReplace:a")
	assert.NotContains(t, cerr.Reason, "self")
}
