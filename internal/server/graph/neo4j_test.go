package graph

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systemshift/docmigrate/internal/core"
)

// These tests require a running Neo4j instance (NEO4J_URI, NEO4J_USER, NEO4J_PASSWORD)
func TestNeo4jRoundTrip(t *testing.T) {
	uri := os.Getenv("NEO4J_URI")
	if uri == "" {
		t.Skip("NEO4J_URI not set")
	}
	ctx := context.Background()
	repo, err := NewNeo4j(ctx, Config{
		URI:      uri,
		Username: os.Getenv("NEO4J_USER"),
		Password: os.Getenv("NEO4J_PASSWORD"),
	})
	require.NoError(t, err)
	defer repo.Close(ctx)
	require.NoError(t, repo.EnsureIndexes(ctx))

	t.Cleanup(func() {
		repo.DeleteDocument(ctx, "neo-cat")
		repo.DeleteDocument(ctx, "neo-faq")
	})

	_, err = repo.PutDocument(ctx, doc("neo-cat", "faqCategory", "title", "General"))
	require.NoError(t, err)
	_, err = repo.PutDocument(ctx, doc("neo-faq", "faq", "category", core.Ref("neo-cat")))
	require.NoError(t, err)

	docs, total, err := repo.QueryDocuments(ctx, core.Query{References: []string{"neo-cat"}})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, []string{"neo-faq"}, ids(docs))

	existed, err := repo.DeleteDocument(ctx, "neo-faq")
	require.NoError(t, err)
	assert.True(t, existed)

	_, err = repo.GetDocument(ctx, "neo-faq")
	assert.True(t, errors.Is(err, core.ErrNotFound))
}
