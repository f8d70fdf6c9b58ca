// Package conversation implements the tool-calling chat session that
// serves the ticket flow: a fixed system instruction, the rebuilt
// conversation history, and streaming generation with automatic tool
// choice over the registered capabilities.
//
// A session is created per deployment, not per request. Invoke returns
// a single-pass fragment stream; each fragment carries only
// assistant-authored text and echoes the request's history metadata
// verbatim. Abandoning the stream cancels the generation in flight.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"golang.org/x/time/rate"

	"github.com/opsdesk-ai/opsdesk/internal/chat"
)

// ErrGenerationFailed indicates model generation failed after the
// request was accepted.
var ErrGenerationFailed = errors.New("generation failed")

// errStreamAborted signals that the consumer stopped reading. Returned
// from the streaming callback so Genkit aborts the generation; never
// surfaced to the consumer.
var errStreamAborted = errors.New("stream consumer gone")

// Config contains all required parameters for a Session.
type Config struct {
	Genkit *genkit.Genkit
	Logger *slog.Logger
	Tools  []ai.Tool // Pre-registered capabilities from tools.Register()

	ModelName    string  // Provider-qualified model name
	MaxTurns     int     // Maximum tool-calling loop turns (default 5)
	SystemPrompt string  // Fixed session instruction
	Temperature  float64 // Sampling temperature (0 = provider default)

	RateLimiter *rate.Limiter // Optional: proactive rate limiting (nil = use default)
}

func (cfg Config) validate() error {
	if cfg.Genkit == nil {
		return errors.New("genkit instance is required")
	}
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if len(cfg.Tools) == 0 {
		return errors.New("at least one tool is required")
	}
	if cfg.SystemPrompt == "" {
		return errors.New("system prompt is required")
	}
	return nil
}

// Session is the tool-calling conversation engine.
//
// All configuration is captured immutably at construction time, so a
// single Session is safe for concurrent use across requests.
type Session struct {
	g            *genkit.Genkit
	logger       *slog.Logger
	modelName    string
	maxTurns     int
	systemPrompt string
	temperature  float64
	rateLimiter  *rate.Limiter

	toolRefs  []ai.ToolRef // Cached for ai.WithTools()
	toolNames string       // Cached as comma-separated for logging
}

// New creates a Session.
func New(cfg Config) (*Session, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	maxTurns := cfg.MaxTurns
	if maxTurns <= 0 {
		maxTurns = 5
	}

	// Default: 10 requests/sec sustained, burst of 30.
	rl := cfg.RateLimiter
	if rl == nil {
		rl = rate.NewLimiter(10, 30)
	}

	toolRefs := make([]ai.ToolRef, len(cfg.Tools))
	names := make([]string, len(cfg.Tools))
	for i, t := range cfg.Tools {
		toolRefs[i] = t
		names[i] = t.Name()
	}

	s := &Session{
		g:            cfg.Genkit,
		logger:       cfg.Logger,
		modelName:    cfg.ModelName,
		maxTurns:     maxTurns,
		systemPrompt: cfg.SystemPrompt,
		temperature:  cfg.Temperature,
		rateLimiter:  rl,
		toolRefs:     toolRefs,
		toolNames:    strings.Join(names, ", "),
	}

	s.logger.Info("conversation session initialized",
		"tools", s.toolNames,
		"maxTurns", s.maxTurns,
	)
	return s, nil
}

// Invoke runs one conversation turn and returns the fragment stream.
//
// The stream is lazy: no model call happens until iteration starts. It
// is single-pass; iterating a second time yields nothing. Breaking out
// of the iteration cancels the generation in flight.
func (s *Session) Invoke(ctx context.Context, req *chat.Request) chat.Stream {
	consumed := false
	return func(yield func(*chat.Fragment, error) bool) {
		if consumed {
			return
		}
		consumed = true

		if err := req.Validate(); err != nil {
			yield(nil, err)
			return
		}

		history := buildHistory(req.Messages)
		metadata := req.Metadata()

		genCtx, cancel := context.WithCancel(ctx)
		defer cancel()

		if err := s.rateLimiter.Wait(genCtx); err != nil {
			yield(nil, fmt.Errorf("%w: rate limit wait: %v", ErrGenerationFailed, err))
			return
		}

		aborted := false
		callback := func(_ context.Context, chunk *ai.ModelResponseChunk) error {
			// Only assistant-authored text reaches the consumer. Tool
			// requests, tool responses, and bookkeeping chunks stay
			// host-side.
			if chunk.Role != "" && chunk.Role != ai.RoleModel {
				return nil
			}
			text := chunk.Text()
			if text == "" {
				return nil
			}
			if !yield(chat.NewFragment(text, metadata), nil) {
				aborted = true
				cancel()
				return errStreamAborted
			}
			return nil
		}

		opts := []ai.GenerateOption{
			ai.WithSystem(s.systemPrompt),
			ai.WithMessages(history...),
			ai.WithTools(s.toolRefs...),
			ai.WithMaxTurns(s.maxTurns),
			ai.WithStreaming(callback),
		}
		if s.modelName != "" {
			opts = append(opts, ai.WithModelName(s.modelName))
		}
		if s.temperature > 0 {
			// Plain map config is accepted by every provider plugin.
			opts = append(opts, ai.WithConfig(map[string]any{"temperature": s.temperature}))
		}

		s.logger.Debug("invoking conversation session",
			"history_len", len(history),
			"tools", s.toolNames,
		)

		if _, err := genkit.Generate(genCtx, s.g, opts...); err != nil {
			if aborted || errors.Is(err, errStreamAborted) {
				s.logger.Debug("stream abandoned by consumer, generation cancelled")
				return
			}
			yield(nil, fmt.Errorf("%w: %v", ErrGenerationFailed, err))
			return
		}

		yield(chat.EndFragment(metadata), nil)
	}
}

// Respond implements the orchestrator's responder contract.
func (s *Session) Respond(ctx context.Context, req *chat.Request) chat.Stream {
	return s.Invoke(ctx, req)
}

// buildHistory converts wire messages into model messages. Tool
// transcripts are dropped; assistant turns become model messages and
// user turns user messages, in order. The final user message is the
// active turn the model responds to.
func buildHistory(messages []chat.Message) []*ai.Message {
	filtered := chat.FilterToolMessages(messages)
	history := make([]*ai.Message, 0, len(filtered))
	for _, m := range filtered {
		switch m.Role {
		case chat.RoleAssistant:
			history = append(history, ai.NewModelMessage(ai.NewTextPart(m.Content)))
		case chat.RoleUser:
			history = append(history, ai.NewUserMessage(ai.NewTextPart(m.Content)))
		}
	}
	return history
}
