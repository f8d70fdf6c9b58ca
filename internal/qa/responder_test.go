package qa_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsdesk-ai/opsdesk/internal/chat"
	"github.com/opsdesk-ai/opsdesk/internal/qa"
	"github.com/opsdesk-ai/opsdesk/internal/search"
	"github.com/opsdesk-ai/opsdesk/internal/testutil"
)

const vectorDim = 768

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

type fixture struct {
	responder *qa.Responder
	mock      *testutil.MockLLM
}

// newFixture wires a Responder against a seeded test database, the mock
// embedder, and the mock model.
func newFixture(t *testing.T, minSearchScore float64) *fixture {
	t.Helper()

	pool := testutil.SetupTestDB(t)
	seedDocument(t, pool, "Password Reset Guide",
		"Reset a forgotten password through the self-service portal.", basis(0))

	g := testutil.NewGenkit(t)

	embedder := testutil.NewMockEmbedder(vectorDim)
	embedder.SetVector("how do I reset my password", basis(0))
	emb := embedder.RegisterEmbedder(g)

	mock := testutil.NewMockLLM("Use the self-service portal to reset it.")
	mock.RegisterModel(g)

	store, err := search.NewStore(pool, emb, search.Options{
		TopK:            5,
		UseVectorSearch: true,
	}, testutil.DiscardLogger())
	require.NoError(t, err)

	responder, err := qa.New(qa.Config{
		Genkit:         g,
		Store:          store,
		Logger:         testutil.DiscardLogger(),
		ModelName:      testutil.MockModelName,
		SystemPrompt:   "Answer from the reference documents.",
		Temperature:    0.4,
		MinSearchScore: minSearchScore,
	})
	require.NoError(t, err)

	return &fixture{responder: responder, mock: mock}
}

func collect(t *testing.T, stream chat.Stream) ([]*chat.Fragment, error) {
	t.Helper()
	var frags []*chat.Fragment
	for frag, err := range stream {
		if err != nil {
			return frags, err
		}
		frags = append(frags, frag)
	}
	return frags, nil
}

func TestRespondStreamsGroundedAnswer(t *testing.T) {
	f := newFixture(t, 0)

	meta := json.RawMessage(`{"session":"qa-1"}`)
	frags, err := collect(t, f.responder.Respond(context.Background(), &chat.Request{
		Messages:        []chat.Message{{Role: chat.RoleUser, Content: "how do I reset my password"}},
		HistoryMetadata: meta,
	}))
	require.NoError(t, err)
	require.NotEmpty(t, frags)

	var reply strings.Builder
	for _, frag := range frags {
		assert.Equal(t, chat.RoleAssistant, frag.Delta.Role)
		assert.Equal(t, meta, frag.HistoryMetadata)
		reply.WriteString(frag.Delta.Content)
	}
	assert.Equal(t, "Use the self-service portal to reset it.", reply.String())

	last := frags[len(frags)-1]
	require.NotNil(t, last.EndTurn)
	assert.True(t, *last.EndTurn)

	// Temperature reaches the model as a plain map config.
	calls := f.mock.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, map[string]any{"temperature": 0.4}, calls[0].Config)
}

func TestRespondAnswersWithoutQualifyingDocuments(t *testing.T) {
	// Threshold above every possible cosine score filters all documents;
	// the model still answers, just ungrounded.
	f := newFixture(t, 2.0)

	frags, err := collect(t, f.responder.Respond(context.Background(), &chat.Request{
		Messages: []chat.Message{{Role: chat.RoleUser, Content: "how do I reset my password"}},
	}))
	require.NoError(t, err)
	require.NotEmpty(t, frags)
}

func TestRespondValidation(t *testing.T) {
	f := newFixture(t, 0)

	_, err := collect(t, f.responder.Respond(context.Background(), &chat.Request{}))
	require.ErrorIs(t, err, chat.ErrNoMessages)

	_, err = collect(t, f.responder.Respond(context.Background(), &chat.Request{
		Messages: []chat.Message{{Role: chat.RoleAssistant, Content: "hi"}},
	}))
	require.ErrorIs(t, err, chat.ErrNoUserInput)
}

func TestRespondGenerationError(t *testing.T) {
	f := newFixture(t, 0)
	f.mock.SetError(errors.New("provider exploded"))

	_, err := collect(t, f.responder.Respond(context.Background(), &chat.Request{
		Messages: []chat.Message{{Role: chat.RoleUser, Content: "how do I reset my password"}},
	}))
	require.ErrorIs(t, err, qa.ErrGenerationFailed)
}

func TestRespondSinglePass(t *testing.T) {
	f := newFixture(t, 0)

	stream := f.responder.Respond(context.Background(), &chat.Request{
		Messages: []chat.Message{{Role: chat.RoleUser, Content: "how do I reset my password"}},
	})

	first, err := collect(t, stream)
	require.NoError(t, err)
	require.NotEmpty(t, first)

	second, err := collect(t, stream)
	require.NoError(t, err)
	assert.Empty(t, second)
}

func TestNewValidation(t *testing.T) {
	g := testutil.NewGenkit(t)

	_, err := qa.New(qa.Config{
		Genkit:       g,
		Logger:       testutil.DiscardLogger(),
		SystemPrompt: "x",
	})
	require.Error(t, err)
}
