package validate

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/systemshift/docmigrate/internal/core"
	"github.com/systemshift/docmigrate/internal/storetest"
)

func faqStore() *storetest.MemoryStore {
	m := storetest.NewMemoryStore(
		storetest.Doc("faq-A", "faq", "question", "How do I join?"),
		storetest.Doc("faqCategory-B", "faqCategory", "title", "Membership"),
	)
	for i := 1; i <= 5; i++ {
		m.Seed(storetest.Doc(fmt.Sprintf("faq-%d", i), "faq", "category", core.Ref("faqCategory-B")))
	}
	return m
}

func TestClassifyDeletionsSafeAndBlocked(t *testing.T) {
	m := faqStore()
	v := New(m, Options{}, zap.NewNop())

	cls, err := v.ClassifyDeletions(context.Background(), []Candidate{
		{ID: "faq-A", Type: "faq", Reason: "duplicate"},
		{ID: "faqCategory-B", Type: "faqCategory", Reason: "unused"},
	})
	require.NoError(t, err)
	require.Len(t, cls, 2)

	assert.Equal(t, Safe, cls[0].Status)
	assert.True(t, cls[0].Exists)
	assert.NoError(t, cls[0].Err())

	assert.Equal(t, Blocked, cls[1].Status)
	assert.Equal(t, []string{"faq-1", "faq-2", "faq-3", "faq-4", "faq-5"}, cls[1].BlockedBy())
	assert.Equal(t, "faq", cls[1].By[0].Type)
	assert.Equal(t, "category", cls[1].By[0].Path)

	var blocked *core.ReferenceBlockedError
	require.ErrorAs(t, cls[1].Err(), &blocked)
	assert.Len(t, blocked.By, 5)

	assert.Equal(t, map[string]TypeCounts{
		"faq":         {Safe: 1},
		"faqCategory": {Blocked: 1},
	}, Count(cls))
	assert.Zero(t, m.Writes())
}

func TestClassifyDeletionsBatchesConcurrently(t *testing.T) {
	m := faqStore()
	v := New(m, Options{BatchSize: 1, Concurrency: 3}, zap.NewNop())

	cls, err := v.ClassifyDeletions(context.Background(), []Candidate{
		{ID: "faq-1"}, {ID: "faq-A"}, {ID: "faqCategory-B"}, {ID: "ghost"},
	})
	require.NoError(t, err)
	assert.Equal(t, Safe, cls[0].Status)
	assert.Equal(t, Safe, cls[1].Status)
	assert.Equal(t, Blocked, cls[2].Status)
	assert.Equal(t, Safe, cls[3].Status)
	assert.False(t, cls[3].Exists)
	assert.Equal(t, 8, m.Calls(storetest.OpQuery))
}

func TestLoadGraphInboundAndOutbound(t *testing.T) {
	m := faqStore()
	g, err := LoadGraph(context.Background(), m, []string{"faqCategory-B", "faq-1"}, 2)
	require.NoError(t, err)

	var from []string
	for _, ref := range g.Inbound("faqCategory-B") {
		assert.Equal(t, "category", ref.Path)
		from = append(from, ref.FromID)
	}
	assert.ElementsMatch(t, []string{"faq-1", "faq-2", "faq-3", "faq-4", "faq-5"}, from)
	assert.Empty(t, g.Outbound("faqCategory-B"))

	out := g.Outbound("faq-1")
	require.Len(t, out, 1)
	assert.Equal(t, core.Reference{FromID: "faq-1", FromType: "faq", Path: "category", ToID: "faqCategory-B"}, out[0])
	assert.Empty(t, g.Inbound("faq-1"))
	assert.Zero(t, m.Writes())
}

func TestSelfReferenceDoesNotBlock(t *testing.T) {
	m := storetest.NewMemoryStore(storetest.Doc("loop", "page", "self", core.Ref("loop")))
	v := New(m, Options{}, nil)

	cls, err := v.ClassifyDeletions(context.Background(), []Candidate{{ID: "loop"}})
	require.NoError(t, err)
	assert.Equal(t, Safe, cls[0].Status)
}

func TestClassifyDeletionsPropagatesStoreFailure(t *testing.T) {
	m := faqStore()
	m.SetUnavailable(true)
	v := New(m, Options{}, nil)

	_, err := v.ClassifyDeletions(context.Background(), []Candidate{{ID: "faq-A"}})
	assert.True(t, core.IsInfrastructure(err))
}

func TestFindDangling(t *testing.T) {
	m := storetest.NewMemoryStore(
		storetest.Doc("cat", "category"),
		storetest.Doc("e1", "entry", "category", core.Ref("cat")),
		storetest.Doc("e2", "entry", "category", core.Ref("categry"), "links", []any{core.Ref("e1"), core.Ref("gone")}),
	)
	v := New(m, Options{}, nil)

	dangling, err := v.FindDangling(context.Background(), []string{"entry"})
	require.NoError(t, err)
	require.Len(t, dangling, 2)
	assert.Equal(t, core.Reference{FromID: "e2", FromType: "entry", Path: "category", ToID: "categry"}, dangling[0])
	assert.Equal(t, "links[1]", dangling[1].Path)
}

func TestCheckRenames(t *testing.T) {
	m := storetest.NewMemoryStore(
		storetest.Doc("c1", "center", "centerCount", 3),
		storetest.Doc("c2", "center", "centreCount", 4),
		storetest.Doc("c3", "center", "centerCount", 1, "centreCount", 2),
		storetest.Doc("c4", "center", "centerCount", map[string]any{"_ref": "missing"}),
		storetest.Doc("page", "page", "center", core.Ref("c1")),
	)
	v := New(m, Options{}, nil)

	checks, err := v.CheckRenames(context.Background(), []RenameCandidate{
		{Type: "center", From: "centerCount", To: "centreCount"},
		{ID: "c2", From: "centerCount", To: "centreCount"},
		{ID: "nope", From: "centerCount", To: "centreCount"},
	})
	require.NoError(t, err)

	byID := make(map[string]RenameCheck)
	for _, c := range checks {
		byID[c.ID] = c
	}
	require.Len(t, checks, 5)
	assert.Equal(t, RenameReady, byID["c1"].Status)
	assert.Equal(t, []Referrer{{ID: "page", Type: "page", Path: "center"}}, byID["c1"].Consumers)
	assert.EqualValues(t, 3, byID["c1"].After)
	assert.Equal(t, RenameAlreadyApplied, byID["c2"].Status)
	assert.Equal(t, RenameConflict, byID["c3"].Status)
	assert.Equal(t, []string{"missing"}, byID["c4"].Dangling)
	assert.Equal(t, RenameMissing, byID["nope"].Status)
	assert.Zero(t, m.Writes())
}

func TestExpandRenamesRejectsInvalid(t *testing.T) {
	m := storetest.NewMemoryStore()
	_, err := ExpandRenames(context.Background(), m, []RenameCandidate{{From: "a", To: "b"}}, 0)
	assert.Error(t, err)
	_, err = ExpandRenames(context.Background(), m, []RenameCandidate{{ID: "x", From: "a", To: "a"}}, 0)
	assert.Error(t, err)
}

func TestFieldDuplicates(t *testing.T) {
	docs := []*core.Document{
		storetest.Doc("faq-3", "faq", "question", "How do I  JOIN?"),
		storetest.Doc("faq-1", "faq", "question", "how do i join?"),
		storetest.Doc("faq-2", "faq", "question", "Where are you?"),
		storetest.Doc("faq-4", "faq"),
	}
	dups := FieldDuplicates{Field: "question"}.Duplicates(docs)
	require.Len(t, dups, 1)
	assert.Equal(t, "faq-3", dups[0].ID)
	assert.Equal(t, "faq-1", dups[0].ReplacedBy)
}

func TestSelectByPredicate(t *testing.T) {
	m := storetest.NewMemoryStore(
		storetest.Doc("t1", "testimonial", "franchise", true),
		storetest.Doc("t2", "testimonial", "franchise", false),
		storetest.Doc("t3", "testimonial"),
	)
	got, err := SelectByPredicate(context.Background(), m, "testimonial", FieldMissing("franchise"), "no franchise flag", 0)
	require.NoError(t, err)
	assert.Equal(t, []Candidate{{ID: "t3", Type: "testimonial", Reason: "no franchise flag"}}, got)

	got, err = SelectByPredicate(context.Background(), m, "testimonial", FieldEquals("franchise", false), "not franchise", 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "t2", got[0].ID)
}

func TestLoadCandidatesAndValidate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "candidates.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
deletions:
  - id: faq-A
    type: faq
    reason: duplicate
  - id: faqCategory-B
    type: faqCategory
    reason: unused
renames:
  - type: faq
    from: question
    to: title
duplicates:
  - type: faq
    field: category
`), 0o644))

	f, err := LoadCandidates(path)
	require.NoError(t, err)
	require.Len(t, f.Deletions, 2)

	m := faqStore()
	in, err := f.Resolve(context.Background(), m, 0)
	require.NoError(t, err)
	// faq-2..faq-5 duplicate faq-1 by category
	assert.Len(t, in.Deletions, 6)

	in.Dangling = true
	v := New(m, Options{}, nil)
	report, err := v.Validate(context.Background(), in)
	require.NoError(t, err)
	assert.Contains(t, report.Safe(), "faq-A")
	assert.Equal(t, []string{"faqCategory-B"}, report.Blocked())
	require.Len(t, report.Renames, 1)
	assert.Equal(t, "faq-A", report.Renames[0].ID)
	assert.Empty(t, report.Dangling)

	out, err := WriteReport(t.TempDir(), report)
	require.NoError(t, err)
	assert.FileExists(t, out)
}

func TestLoadCandidatesErrors(t *testing.T) {
	_, err := LoadCandidates(filepath.Join(t.TempDir(), "missing.yaml"))
	var cerr *core.ConfigurationError
	assert.ErrorAs(t, err, &cerr)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("deletions:\n  - type: faq\n"), 0o644))
	_, err = LoadCandidates(path)
	assert.ErrorAs(t, err, &cerr)
}
