package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/systemshift/docmigrate/internal/server/graph"
)

const testBase = "/v1/site/production"

func setupTestServer(t *testing.T, token string) *httptest.Server {
	t.Helper()
	repo, err := graph.NewSQLite(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close(context.Background()) })

	srv := New(repo, Options{Project: "site", Dataset: "production", Token: token}, zap.NewNop())
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts
}

func call(t *testing.T, ts *httptest.Server, method, path, token, body string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, ts.URL+path, bytes.NewReader([]byte(body)))
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func TestHealthCheck(t *testing.T) {
	ts := setupTestServer(t, "secret")
	resp, body := call(t, ts, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
}

func TestAuthAndScope(t *testing.T) {
	ts := setupTestServer(t, "secret")

	resp, body := call(t, ts, http.MethodPost, testBase+"/query", "", `{}`)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "unauthorized", body["code"])

	resp, _ = call(t, ts, http.MethodPost, testBase+"/query", "wrong", `{}`)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = call(t, ts, http.MethodPost, "/v1/site/staging/query", "secret", `{}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = call(t, ts, http.MethodPost, testBase+"/query", "secret", `{}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestDocumentLifecycle(t *testing.T) {
	ts := setupTestServer(t, "")

	tests := []struct {
		name       string
		method     string
		path       string
		body       string
		wantStatus int
		wantCode   string
	}{
		{"create", http.MethodPost, "/documents", `{"id":"cat-1","type":"faqCategory","fields":{"title":"General"}}`, http.StatusCreated, ""},
		{"create duplicate", http.MethodPost, "/documents", `{"id":"cat-1","type":"faqCategory","fields":{}}`, http.StatusConflict, "exists"},
		{"create without type", http.MethodPost, "/documents", `{"id":"x","fields":{}}`, http.StatusBadRequest, "invalid"},
		{"invalid json", http.MethodPost, "/documents", `{invalid`, http.StatusBadRequest, "invalid"},
		{"get", http.MethodGet, "/documents/cat-1", "", http.StatusOK, ""},
		{"get missing", http.MethodGet, "/documents/nope", "", http.StatusNotFound, "not_found"},
		{"put", http.MethodPut, "/documents/faq-1", `{"type":"faq","fields":{"category":{"_ref":"cat-1"}}}`, http.StatusOK, ""},
		{"put id mismatch", http.MethodPut, "/documents/faq-1", `{"id":"faq-2","type":"faq","fields":{}}`, http.StatusBadRequest, "invalid"},
		{"patch stale revision", http.MethodPatch, "/documents/faq-1", `{"set":{"a":1},"ifRevision":"old"}`, http.StatusConflict, "conflict"},
		{"patch empty", http.MethodPatch, "/documents/faq-1", `{}`, http.StatusBadRequest, "invalid"},
		{"patch missing", http.MethodPatch, "/documents/nope", `{"set":{"a":1}}`, http.StatusNotFound, "not_found"},
		{"patch", http.MethodPatch, "/documents/faq-1", `{"set":{"a":1}}`, http.StatusOK, ""},
		{"delete", http.MethodDelete, "/documents/faq-1", "", http.StatusOK, ""},
		{"delete again", http.MethodDelete, "/documents/faq-1", "", http.StatusNotFound, "not_found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := call(t, ts, tt.method, testBase+tt.path, "", tt.body)
			assert.Equal(t, tt.wantStatus, resp.StatusCode)
			if tt.wantCode != "" {
				assert.Equal(t, tt.wantCode, body["code"])
			}
		})
	}
}

func TestQueryReturnsReferencingDocuments(t *testing.T) {
	ts := setupTestServer(t, "")

	call(t, ts, http.MethodPut, testBase+"/documents/cat-1", "", `{"type":"faqCategory","fields":{}}`)
	call(t, ts, http.MethodPut, testBase+"/documents/faq-1", "", `{"type":"faq","fields":{"category":{"_ref":"cat-1"}}}`)
	call(t, ts, http.MethodPut, testBase+"/documents/faq-2", "", `{"type":"faq","fields":{"tags":[{"_ref":"cat-1"}]}}`)

	resp, body := call(t, ts, http.MethodPost, testBase+"/query", "", `{"references":["cat-1"]}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 2, body["total"])

	docs := body["documents"].([]any)
	require.Len(t, docs, 2)
	assert.Equal(t, "faq-1", docs[0].(map[string]any)["id"])
	assert.Equal(t, "faq-2", docs[1].(map[string]any)["id"])

	resp, body = call(t, ts, http.MethodPost, testBase+"/query", "", `{"types":["nothing"]}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, body["documents"])

	resp, _ = call(t, ts, http.MethodPost, testBase+"/query", "", `{"limit":-1}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
