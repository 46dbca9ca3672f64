package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systemshift/docmigrate/internal/core"
	"github.com/systemshift/docmigrate/internal/exitcode"
	"github.com/systemshift/docmigrate/internal/notify"
	"github.com/systemshift/docmigrate/internal/server/api"
	"github.com/systemshift/docmigrate/internal/server/graph"
	"github.com/systemshift/docmigrate/internal/storetest"
)

type testEnv struct {
	repo   *graph.SQLiteRepository
	dir    string
	config string
}

func newTestEnv(t *testing.T, docs ...*core.Document) *testEnv {
	t.Helper()
	ctx := context.Background()

	repo, err := graph.NewSQLite(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close(ctx) })
	for _, d := range docs {
		_, err := repo.CreateDocument(ctx, d)
		require.NoError(t, err)
	}

	srv := httptest.NewServer(api.New(repo, api.Options{Project: "site", Dataset: "production", Token: "secret"}, nil).Router())
	t.Cleanup(srv.Close)

	dir := t.TempDir()
	env := &testEnv{repo: repo, dir: dir, config: filepath.Join(dir, "docmigrate.yaml")}
	env.writeConfig(t, srv.URL, "secret")
	return env
}

func (e *testEnv) writeConfig(t *testing.T, url, token string) {
	t.Helper()
	content := fmt.Sprintf(`
api_url: %s
project: site
dataset: production
token: %q
rate_limit: 1000
max_attempts: 1
window_pause: 0s
snapshot_dir: %s
report_dir: %s
`, url, token, filepath.Join(e.dir, "snapshots"), filepath.Join(e.dir, "reports"))
	require.NoError(t, os.WriteFile(e.config, []byte(content), 0o644))
}

func (e *testEnv) file(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(e.dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func (e *testEnv) run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(append(args, "--config", e.config))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func faqDocs() []*core.Document {
	return []*core.Document{
		storetest.Doc("faq-A", "faq", "question", "How do I join?"),
		storetest.Doc("faqCategory-B", "faqCategory", "title", "Membership"),
		storetest.Doc("faq-1", "faq", "category", core.Ref("faqCategory-B")),
		storetest.Doc("center-1", "center", "centerCount", 3),
	}
}

const migratePlan = `
name: membership cleanup
documents:
  - {id: faqCategory-C, type: faqCategory, fields: {title: Members}}
patches:
  - {id: faq-1, set: {category: {_ref: faqCategory-C}}}
renames:
  - {type: center, from: centerCount, to: centreCount}
deletes:
  - {id: faqCategory-B, type: faqCategory, reason: replaced}
`

func TestMigrateAppliesPlanOnce(t *testing.T) {
	env := newTestEnv(t, faqDocs()...)
	plan := env.file(t, "plan.yaml", migratePlan)
	ctx := context.Background()

	out, err := env.run(t, "", "migrate", "--plan", plan, "--yes")
	require.NoError(t, err, out)
	assert.Contains(t, out, "Summary: 4 operations, 4 applied, 0 unchanged, 0 failed, 0 blocked, 0 skipped")
	assert.Contains(t, out, "Report written to")

	_, err = env.repo.GetDocument(ctx, "faqCategory-B")
	assert.ErrorIs(t, err, core.ErrNotFound)
	center, err := env.repo.GetDocument(ctx, "center-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"centreCount"}, center.Fields.Keys())

	out, err = env.run(t, "", "migrate", "--plan", plan, "--yes")
	require.NoError(t, err, out)
	assert.Contains(t, out, "Summary: 3 operations, 0 applied, 3 unchanged")

	reports, err := os.ReadDir(filepath.Join(env.dir, "reports"))
	require.NoError(t, err)
	assert.Len(t, reports, 2)
}

func TestMigrateDeclinedAtPrompt(t *testing.T) {
	env := newTestEnv(t, faqDocs()...)
	plan := env.file(t, "plan.yaml", migratePlan)

	out, err := env.run(t, "no\n", "migrate", "--plan", plan)
	require.NoError(t, err, out)
	assert.Contains(t, out, `Type "yes" to continue`)
	assert.Contains(t, out, "declined")

	_, err = env.repo.GetDocument(context.Background(), "faqCategory-C")
	assert.ErrorIs(t, err, core.ErrNotFound)
	_, err = env.repo.GetDocument(context.Background(), "faqCategory-B")
	assert.NoError(t, err)
}

func TestMigrateDryRun(t *testing.T) {
	env := newTestEnv(t, faqDocs()...)
	plan := env.file(t, "plan.yaml", `
deletes:
  - {id: faq-A}
  - {id: faqCategory-B}
`)

	out, err := env.run(t, "", "migrate", "--plan", plan, "--dry-run")
	require.NoError(t, err, out)
	assert.Contains(t, out, "(dry run)")
	assert.Contains(t, out, "delete:faq-A")
	assert.Contains(t, out, "blocked  faqCategory-B (referenced by 1)")

	_, err = env.repo.GetDocument(context.Background(), "faq-A")
	assert.NoError(t, err)
}

func TestMigrateReportsFailedItems(t *testing.T) {
	env := newTestEnv(t, faqDocs()...)
	plan := env.file(t, "plan.yaml", `
patches:
  - {id: missing, set: {title: x}}
  - {id: faq-A, set: {answer: "Sign up online"}}
`)

	out, err := env.run(t, "", "migrate", "--plan", plan, "--yes")
	assert.True(t, errors.Is(err, exitcode.ErrOperationsFailed))
	assert.Equal(t, exitcode.OperationsFailed, exitcode.FromError(err))
	assert.Contains(t, out, "failed   patch:missing")
}

func TestMigrateRejectsCyclicPlan(t *testing.T) {
	env := newTestEnv(t)
	plan := env.file(t, "plan.yaml", `
documents:
  - {id: a, type: t, fields: {next: {_ref: b}}}
  - {id: b, type: t, fields: {next: {_ref: a}}}
`)

	_, err := env.run(t, "", "migrate", "--plan", plan, "--yes")
	assert.Equal(t, exitcode.ConfigError, exitcode.FromError(err))
	_, err = env.repo.GetDocument(context.Background(), "a")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestMigrateNotifiesWebhook(t *testing.T) {
	env := newTestEnv(t, faqDocs()...)
	plan := env.file(t, "plan.yaml", migratePlan)

	got := make(chan notify.Notification, 1)
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var n notify.Notification
		if err := json.NewDecoder(r.Body).Decode(&n); err == nil {
			got <- n
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer hook.Close()

	f, err := os.OpenFile(env.config, os.O_APPEND|os.O_WRONLY, 0)
	require.NoError(t, err)
	_, err = fmt.Fprintf(f, "webhooks:\n  - url: %s\n    events: [\"migrate.*\"]\n", hook.URL)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	out, err := env.run(t, "", "migrate", "--plan", plan, "--yes")
	require.NoError(t, err, out)

	n := <-got
	assert.Equal(t, notify.EventMigrateFinished, n.Event.Type)
	assert.Equal(t, "site/production", n.Event.Source)
	assert.NotEmpty(t, n.Event.RunID)
	assert.Equal(t, "membership cleanup", n.Event.Meta["plan"])
}

func TestValidateCommand(t *testing.T) {
	env := newTestEnv(t, faqDocs()...)
	candidates := env.file(t, "candidates.yaml", `
deletions:
  - {id: faq-A, type: faq, reason: duplicate}
  - {id: faqCategory-B, type: faqCategory}
renames:
  - {type: center, from: centerCount, to: centreCount}
`)

	out, err := env.run(t, "", "validate", "--candidates", candidates, "--dangling")
	require.NoError(t, err, out)
	assert.Contains(t, out, "Deletion candidates: 1 safe, 1 blocked")
	assert.Contains(t, out, "faqCategory-B <- faq-1")
	assert.Contains(t, out, "ready")

	_, err = env.run(t, "", "validate", "--candidates", candidates, "--strict")
	assert.Equal(t, exitcode.OperationsFailed, exitcode.FromError(err))
}

func TestExportAndVerify(t *testing.T) {
	env := newTestEnv(t, faqDocs()...)

	out, err := env.run(t, "", "export", "--catalog", "faq*")
	require.NoError(t, err, out)
	assert.Contains(t, out, "Total: 3 documents in 2 files")

	root := filepath.Join(env.dir, "snapshots")
	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	out, err = env.run(t, "", "verify", filepath.Join(root, entries[0].Name()))
	require.NoError(t, err, out)
	assert.Contains(t, out, "OK: 2 files, 3 documents")
}

func TestMissingTokenIsConfigError(t *testing.T) {
	env := newTestEnv(t)
	env.writeConfig(t, "http://127.0.0.1:1", "")

	_, err := env.run(t, "", "validate")
	assert.Equal(t, exitcode.ConfigError, exitcode.FromError(err))
}

func TestUnreachableStore(t *testing.T) {
	env := newTestEnv(t)
	srv := httptest.NewServer(nil)
	url := srv.URL
	srv.Close()
	env.writeConfig(t, url, "secret")

	_, err := env.run(t, "", "export", "--catalog", "faq")
	assert.Equal(t, exitcode.NetworkError, exitcode.FromError(err))
}

func TestVersion(t *testing.T) {
	env := newTestEnv(t)
	out, err := env.run(t, "", "version")
	require.NoError(t, err)
	assert.Equal(t, "docmigrate dev\n", out)
}
