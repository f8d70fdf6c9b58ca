package conversation_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/opsdesk-ai/opsdesk/internal/chat"
	"github.com/opsdesk-ai/opsdesk/internal/conversation"
	"github.com/opsdesk-ai/opsdesk/internal/testutil"
)

// newSession builds a Session backed by the mock model and a single
// registered echo tool.
func newSession(t *testing.T, mock *testutil.MockLLM) *conversation.Session {
	t.Helper()
	g := testutil.NewGenkit(t)
	mock.RegisterModel(g)

	echo := genkit.DefineTool(g, "echo", "Echo the input back.",
		func(tc *ai.ToolContext, input struct {
			Text string `json:"text"`
		}) (string, error) {
			return input.Text, nil
		})

	s, err := conversation.New(conversation.Config{
		Genkit:       g,
		Logger:       testutil.DiscardLogger(),
		Tools:        []ai.Tool{echo},
		ModelName:    testutil.MockModelName,
		SystemPrompt: "You are a helpdesk assistant.",
	})
	require.NoError(t, err)
	return s
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

func TestInvokeStreamsReply(t *testing.T) {
	mock := testutil.NewMockLLM("How can I help?")
	s := newSession(t, mock)

	meta := json.RawMessage(`{"session":"s-1","turn":3}`)
	frags, err := collect(t, s.Invoke(context.Background(), &chat.Request{
		Messages:        []chat.Message{{Role: chat.RoleUser, Content: "hello"}},
		HistoryMetadata: meta,
	}))
	require.NoError(t, err)
	require.NotEmpty(t, frags)

	var reply strings.Builder
	for i, frag := range frags {
		assert.Equal(t, chat.RoleAssistant, frag.Delta.Role)
		assert.Equal(t, meta, frag.HistoryMetadata, "fragment %d metadata", i)
		reply.WriteString(frag.Delta.Content)
		if i < len(frags)-1 {
			assert.Nil(t, frag.EndTurn, "intermediate fragment %d", i)
		}
	}
	assert.Equal(t, "How can I help?", reply.String())

	last := frags[len(frags)-1]
	require.NotNil(t, last.EndTurn)
	assert.True(t, *last.EndTurn)
	assert.Empty(t, last.Delta.Content)
}

func TestInvokeDefaultsMetadata(t *testing.T) {
	mock := testutil.NewMockLLM("hi")
	s := newSession(t, mock)

	frags, err := collect(t, s.Invoke(context.Background(), &chat.Request{
		Messages: []chat.Message{{Role: chat.RoleUser, Content: "hello"}},
	}))
	require.NoError(t, err)
	require.NotEmpty(t, frags)

	for _, frag := range frags {
		assert.Equal(t, json.RawMessage("{}"), frag.HistoryMetadata)
	}
}

func TestInvokeRunsToolLoop(t *testing.T) {
	mock := testutil.NewMockLLM("fallback")
	mock.AddToolResponse("use the tool",
		[]*ai.ToolRequest{{
			Name:  "echo",
			Input: map[string]any{"text": "ping"},
		}},
		"The tool replied.")
	s := newSession(t, mock)

	frags, err := collect(t, s.Invoke(context.Background(), &chat.Request{
		Messages: []chat.Message{{Role: chat.RoleUser, Content: "please use the tool"}},
	}))
	require.NoError(t, err)
	require.NotEmpty(t, frags)

	// Only assistant text reaches the stream; the tool transcript stays
	// host-side.
	var reply strings.Builder
	for _, frag := range frags {
		reply.WriteString(frag.Delta.Content)
	}
	assert.Equal(t, "The tool replied.", reply.String())
}

func TestInvokeAppliesConfiguredTemperature(t *testing.T) {
	mock := testutil.NewMockLLM("ok")
	g := testutil.NewGenkit(t)
	mock.RegisterModel(g)

	noop := genkit.DefineTool(g, "noop", "does nothing",
		func(tc *ai.ToolContext, input struct{}) (string, error) { return "", nil })

	s, err := conversation.New(conversation.Config{
		Genkit:       g,
		Logger:       testutil.DiscardLogger(),
		Tools:        []ai.Tool{noop},
		ModelName:    testutil.MockModelName,
		SystemPrompt: "You are a helpdesk assistant.",
		Temperature:  0.7,
	})
	require.NoError(t, err)

	_, err = collect(t, s.Invoke(context.Background(), &chat.Request{
		Messages: []chat.Message{{Role: chat.RoleUser, Content: "hello"}},
	}))
	require.NoError(t, err)

	calls := mock.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, map[string]any{"temperature": 0.7}, calls[0].Config)
}

func TestInvokeDefaultTemperatureSendsNoConfig(t *testing.T) {
	mock := testutil.NewMockLLM("ok")
	s := newSession(t, mock)

	_, err := collect(t, s.Invoke(context.Background(), &chat.Request{
		Messages: []chat.Message{{Role: chat.RoleUser, Content: "hello"}},
	}))
	require.NoError(t, err)

	calls := mock.Calls()
	require.Len(t, calls, 1)
	assert.Nil(t, calls[0].Config)
}

func TestInvokeValidation(t *testing.T) {
	mock := testutil.NewMockLLM("hi")
	s := newSession(t, mock)

	t.Run("empty request", func(t *testing.T) {
		_, err := collect(t, s.Invoke(context.Background(), &chat.Request{}))
		require.ErrorIs(t, err, chat.ErrNoMessages)
	})

	t.Run("no user turn", func(t *testing.T) {
		_, err := collect(t, s.Invoke(context.Background(), &chat.Request{
			Messages: []chat.Message{{Role: chat.RoleAssistant, Content: "hello"}},
		}))
		require.ErrorIs(t, err, chat.ErrNoUserInput)
	})
}

func TestInvokeGenerationError(t *testing.T) {
	mock := testutil.NewMockLLM("hi")
	mock.SetError(errors.New("provider exploded"))
	s := newSession(t, mock)

	_, err := collect(t, s.Invoke(context.Background(), &chat.Request{
		Messages: []chat.Message{{Role: chat.RoleUser, Content: "hello"}},
	}))
	require.ErrorIs(t, err, conversation.ErrGenerationFailed)
}

func TestInvokeSinglePass(t *testing.T) {
	mock := testutil.NewMockLLM("hi")
	s := newSession(t, mock)

	stream := s.Invoke(context.Background(), &chat.Request{
		Messages: []chat.Message{{Role: chat.RoleUser, Content: "hello"}},
	})

	first, err := collect(t, stream)
	require.NoError(t, err)
	require.NotEmpty(t, first)

	second, err := collect(t, stream)
	require.NoError(t, err)
	assert.Empty(t, second)
}

func TestInvokeAbandonedStream(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	mock := testutil.NewMockLLM("a long reply")
	s := newSession(t, mock)

	stream := s.Invoke(context.Background(), &chat.Request{
		Messages: []chat.Message{{Role: chat.RoleUser, Content: "hello"}},
	})

	for frag, err := range stream {
		require.NoError(t, err)
		require.NotNil(t, frag)
		break
	}
}

func TestNewValidation(t *testing.T) {
	g := testutil.NewGenkit(t)
	tool := genkit.DefineTool(g, "noop", "does nothing",
		func(tc *ai.ToolContext, input struct{}) (string, error) { return "", nil })

	base := conversation.Config{
		Genkit:       g,
		Logger:       testutil.DiscardLogger(),
		Tools:        []ai.Tool{tool},
		SystemPrompt: "x",
	}

	tests := []struct {
		name   string
		mutate func(*conversation.Config)
	}{
		{"missing genkit", func(c *conversation.Config) { c.Genkit = nil }},
		{"missing logger", func(c *conversation.Config) { c.Logger = nil }},
		{"no tools", func(c *conversation.Config) { c.Tools = nil }},
		{"missing prompt", func(c *conversation.Config) { c.SystemPrompt = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.mutate(&cfg)
			_, err := conversation.New(cfg)
			require.Error(t, err)
		})
	}
}
