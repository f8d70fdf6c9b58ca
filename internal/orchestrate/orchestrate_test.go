package orchestrate_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsdesk-ai/opsdesk/internal/chat"
	"github.com/opsdesk-ai/opsdesk/internal/intent"
	"github.com/opsdesk-ai/opsdesk/internal/orchestrate"
	"github.com/opsdesk-ai/opsdesk/internal/testutil"
)

// fixedClassifier always returns the same intent.
type fixedClassifier struct {
	intent intent.Intent
}

func (c fixedClassifier) Classify(context.Context, []chat.Message) intent.Intent {
	return c.intent
}

// stubResponder streams a fixed set of fragments, counting invocations.
type stubResponder struct {
	fragments []*chat.Fragment
	err       error
	calls     int
}

func (s *stubResponder) Respond(context.Context, *chat.Request) chat.Stream {
	s.calls++
	return func(yield func(*chat.Fragment, error) bool) {
		for _, frag := range s.fragments {
			if !yield(frag, nil) {
				return
			}
		}
		if s.err != nil {
			yield(nil, s.err)
		}
	}
}

func newOrchestrator(t *testing.T, it intent.Intent, ticket, answer *stubResponder) *orchestrate.Orchestrator {
	t.Helper()
	o, err := orchestrate.New(orchestrate.Config{
		Classifier: fixedClassifier{intent: it},
		Ticket:     ticket,
		Answer:     answer,
		Logger:     testutil.DiscardLogger(),
	})
	require.NoError(t, err)
	return o
}

func request() *chat.Request {
	return &chat.Request{Messages: []chat.Message{{Role: chat.RoleUser, Content: "hello"}}}
}

func TestRouteByIntent(t *testing.T) {
	tests := []struct {
		name       string
		intent     intent.Intent
		wantTicket bool
	}{
		{"create ticket goes to session", intent.CreateTicket, true},
		{"status lookup goes to session", intent.GetTicketStatus, true},
		{"question goes to answer path", intent.AnswerQuestion, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frag := chat.NewFragment("reply", nil)
			ticket := &stubResponder{fragments: []*chat.Fragment{frag}}
			answer := &stubResponder{fragments: []*chat.Fragment{frag}}
			o := newOrchestrator(t, tt.intent, ticket, answer)

			var got []*chat.Fragment
			for f, err := range o.Route(context.Background(), request()) {
				require.NoError(t, err)
				got = append(got, f)
			}
			require.Len(t, got, 1)

			if tt.wantTicket {
				assert.Equal(t, 1, ticket.calls)
				assert.Zero(t, answer.calls)
			} else {
				assert.Zero(t, ticket.calls)
				assert.Equal(t, 1, answer.calls)
			}
		})
	}
}

func TestRoutePassesErrorsThrough(t *testing.T) {
	wantErr := errors.New("downstream failed")
	ticket := &stubResponder{}
	answer := &stubResponder{
		fragments: []*chat.Fragment{chat.NewFragment("partial", nil)},
		err:       wantErr,
	}
	o := newOrchestrator(t, intent.AnswerQuestion, ticket, answer)

	var frags []*chat.Fragment
	var got error
	for f, err := range o.Route(context.Background(), request()) {
		if err != nil {
			got = err
			break
		}
		frags = append(frags, f)
	}
	require.ErrorIs(t, got, wantErr)
	assert.Len(t, frags, 1)
}

func TestRouteNilRequest(t *testing.T) {
	o := newOrchestrator(t, intent.AnswerQuestion, &stubResponder{}, &stubResponder{})

	var got error
	for _, err := range o.Route(context.Background(), nil) {
		got = err
	}
	require.Error(t, got)
}

func TestRouteStopsWhenConsumerStops(t *testing.T) {
	answer := &stubResponder{fragments: []*chat.Fragment{
		chat.NewFragment("one", nil),
		chat.NewFragment("two", nil),
		chat.NewFragment("three", nil),
	}}
	o := newOrchestrator(t, intent.AnswerQuestion, &stubResponder{}, answer)

	var seen int
	for _, err := range o.Route(context.Background(), request()) {
		require.NoError(t, err)
		seen++
		if seen == 2 {
			break
		}
	}
	assert.Equal(t, 2, seen)
}

func TestNewValidation(t *testing.T) {
	base := orchestrate.Config{
		Classifier: fixedClassifier{},
		Ticket:     &stubResponder{},
		Answer:     &stubResponder{},
		Logger:     testutil.DiscardLogger(),
	}

	tests := []struct {
		name   string
		mutate func(*orchestrate.Config)
	}{
		{"missing classifier", func(c *orchestrate.Config) { c.Classifier = nil }},
		{"missing ticket responder", func(c *orchestrate.Config) { c.Ticket = nil }},
		{"missing answer responder", func(c *orchestrate.Config) { c.Answer = nil }},
		{"missing logger", func(c *orchestrate.Config) { c.Logger = nil }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.mutate(&cfg)
			_, err := orchestrate.New(cfg)
			require.Error(t, err)
		})
	}
}
