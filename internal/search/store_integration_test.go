package search_test

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsdesk-ai/opsdesk/internal/search"
	"github.com/opsdesk-ai/opsdesk/internal/testutil"
)

const vectorDim = 768

// basis returns a unit vector with a 1 in the given dimension. Basis
// vectors are mutually orthogonal, giving exact cosine similarities of
// 1 or 0.
func basis(dim int) []float32 {
	v := make([]float32, vectorDim)
	v[dim] = 1
	return v
}

func seedDocument(t *testing.T, pool *pgxpool.Pool, title, content string, vec []float32) {
	t.Helper()
	_, err := pool.Exec(context.Background(),
		`INSERT INTO documents (title, content, embedding) VALUES ($1, $2, $3)`,
		title, content, pgvector.NewVector(vec))
	require.NoError(t, err)
}

func seedTemplate(t *testing.T, pool *pgxpool.Pool, name, category, description string, vec []float32) {
	t.Helper()
	_, err := pool.Exec(context.Background(),
		`INSERT INTO ticket_templates (name, category, description, priority, urgency, assigned_group, embedding)
		 VALUES ($1, $2, $3, 'P3', 'medium', 'service-desk', $4)`,
		name, category, description, pgvector.NewVector(vec))
	require.NoError(t, err)
}

func TestSearchKnowledge(t *testing.T) {
	pool := testutil.SetupTestDB(t)
	ctx := context.Background()

	seedDocument(t, pool, "Password Reset Guide",
		"How to reset a forgotten password through the self-service portal.", basis(0))
	seedDocument(t, pool, "VPN Setup",
		"Installing and configuring the corporate VPN client.", basis(1))

	g := testutil.NewGenkit(t)
	mock := testutil.NewMockEmbedder(vectorDim)
	mock.SetVector("how do I reset my password", basis(0))
	embedder := mock.RegisterEmbedder(g)

	t.Run("hybrid ranks the matching document first", func(t *testing.T) {
		store, err := search.NewStore(pool, embedder, search.Options{
			TopK:            5,
			UseTextSearch:   true,
			UseVectorSearch: true,
		}, testutil.DiscardLogger())
		require.NoError(t, err)

		docs, err := store.SearchKnowledge(ctx, "how do I reset my password")
		require.NoError(t, err)
		require.Len(t, docs, 2)

		assert.Equal(t, "Password Reset Guide", docs[0].Title)
		require.NotNil(t, docs[0].Score)
		require.NotNil(t, docs[1].Score)
		assert.Greater(t, *docs[0].Score, *docs[1].Score)
		assert.Nil(t, docs[0].RerankerScore)
	})

	t.Run("vector only", func(t *testing.T) {
		store, err := search.NewStore(pool, embedder, search.Options{
			TopK:            5,
			UseVectorSearch: true,
		}, testutil.DiscardLogger())
		require.NoError(t, err)

		docs, err := store.SearchKnowledge(ctx, "how do I reset my password")
		require.NoError(t, err)
		require.NotEmpty(t, docs)
		assert.Equal(t, "Password Reset Guide", docs[0].Title)
		assert.InDelta(t, 1.0, *docs[0].Score, 1e-5)
	})

	t.Run("text only matches on terms", func(t *testing.T) {
		store, err := search.NewStore(pool, nil, search.Options{
			TopK:          5,
			UseTextSearch: true,
		}, testutil.DiscardLogger())
		require.NoError(t, err)

		docs, err := store.SearchKnowledge(ctx, "password")
		require.NoError(t, err)
		require.Len(t, docs, 1)
		assert.Equal(t, "Password Reset Guide", docs[0].Title)
	})

	t.Run("blank query returns nothing without error", func(t *testing.T) {
		store, err := search.NewStore(pool, embedder, search.Options{
			TopK:            5,
			UseVectorSearch: true,
		}, testutil.DiscardLogger())
		require.NoError(t, err)

		docs, err := store.SearchKnowledge(ctx, "   ")
		require.NoError(t, err)
		assert.Empty(t, docs)
	})

	t.Run("reranker populates reranker scores", func(t *testing.T) {
		mock.SetVector("Password Reset Guide\nHow to reset a forgotten password through the self-service portal.", basis(0))
		mock.SetVector("VPN Setup\nInstalling and configuring the corporate VPN client.", basis(1))

		store, err := search.NewStore(pool, embedder, search.Options{
			TopK:            5,
			UseVectorSearch: true,
			UseReranker:     true,
		}, testutil.DiscardLogger())
		require.NoError(t, err)

		docs, err := store.SearchKnowledge(ctx, "how do I reset my password")
		require.NoError(t, err)
		require.Len(t, docs, 2)

		for _, d := range docs {
			require.NotNil(t, d.RerankerScore, "document %q", d.Title)
		}
		assert.InDelta(t, 1.0, *docs[0].RerankerScore, 1e-5)
		assert.InDelta(t, 0.0, *docs[1].RerankerScore, 1e-5)
	})
}

func TestSearchTemplates(t *testing.T) {
	pool := testutil.SetupTestDB(t)
	ctx := context.Background()

	seedTemplate(t, pool, "Laptop Hardware Failure", "HARDWARE",
		"Laptop or desktop hardware is broken or will not power on.", basis(0))
	seedTemplate(t, pool, "Software Install Request", "SOFTWARE",
		"Request installation of approved software.", basis(1))

	g := testutil.NewGenkit(t)
	mock := testutil.NewMockEmbedder(vectorDim)
	mock.SetVector("my laptop is broken", basis(0))
	embedder := mock.RegisterEmbedder(g)

	store, err := search.NewStore(pool, embedder, search.Options{
		TopK:            5,
		UseTextSearch:   true,
		UseVectorSearch: true,
	}, testutil.DiscardLogger())
	require.NoError(t, err)

	t.Run("all categories", func(t *testing.T) {
		templates, err := store.SearchTemplates(ctx, "", "my laptop is broken")
		require.NoError(t, err)
		require.Len(t, templates, 2)
		assert.Equal(t, "Laptop Hardware Failure", templates[0].Name)
		assert.Equal(t, "P3", templates[0].Priority)
		assert.Equal(t, "service-desk", templates[0].AssignedGroup)
	})

	t.Run("category filter", func(t *testing.T) {
		templates, err := store.SearchTemplates(ctx, "SOFTWARE", "my laptop is broken")
		require.NoError(t, err)
		require.Len(t, templates, 1)
		assert.Equal(t, "Software Install Request", templates[0].Name)
	})

	t.Run("unknown category matches nothing", func(t *testing.T) {
		templates, err := store.SearchTemplates(ctx, "NETWORK", "my laptop is broken")
		require.NoError(t, err)
		assert.Empty(t, templates)
	})
}
