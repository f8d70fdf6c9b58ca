// Package qa implements the direct answer path: retrieve knowledge base
// documents for the user's question and stream a grounded answer, with
// no tool calling.
//
// It honors the same streaming contract as the conversation session:
// assistant-only non-empty fragments, verbatim history metadata, a
// terminal end-of-turn fragment, and cancellation on abandonment.
package qa

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"

	"github.com/opsdesk-ai/opsdesk/internal/chat"
	"github.com/opsdesk-ai/opsdesk/internal/search"
)

// ErrGenerationFailed indicates model generation failed after the
// request was accepted.
var ErrGenerationFailed = errors.New("answer generation failed")

var errStreamAborted = errors.New("stream consumer gone")

// Config contains all required parameters for a Responder.
type Config struct {
	Genkit *genkit.Genkit
	Store  *search.Store
	Logger *slog.Logger

	ModelName    string  // Provider-qualified model name
	SystemPrompt string  // Answer path system instruction
	Temperature  float64 // Sampling temperature (0 = provider default)

	// Two-threshold relevance filter applied to retrieved documents
	// before they are handed to the model.
	MinSearchScore   float64
	MinRerankerScore float64
}

func (cfg Config) validate() error {
	if cfg.Genkit == nil {
		return errors.New("genkit instance is required")
	}
	if cfg.Store == nil {
		return errors.New("search store is required")
	}
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.SystemPrompt == "" {
		return errors.New("system prompt is required")
	}
	return nil
}

// Responder answers questions grounded on retrieved documents.
//
// Responder is stateless and safe for concurrent use.
type Responder struct {
	g                *genkit.Genkit
	store            *search.Store
	logger           *slog.Logger
	modelName        string
	systemPrompt     string
	temperature      float64
	minSearchScore   float64
	minRerankerScore float64
}

// New creates a Responder.
func New(cfg Config) (*Responder, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Responder{
		g:                cfg.Genkit,
		store:            cfg.Store,
		logger:           cfg.Logger,
		modelName:        cfg.ModelName,
		systemPrompt:     cfg.SystemPrompt,
		temperature:      cfg.Temperature,
		minSearchScore:   cfg.MinSearchScore,
		minRerankerScore: cfg.MinRerankerScore,
	}, nil
}

// Respond retrieves documents for the latest user message and streams a
// grounded answer. The user's message text is used as the retrieval
// query exactly as written.
func (r *Responder) Respond(ctx context.Context, req *chat.Request) chat.Stream {
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

		userMsg, _ := req.LatestUserMessage()
		metadata := req.Metadata()

		genCtx, cancel := context.WithCancel(ctx)
		defer cancel()

		docs, err := r.retrieve(genCtx, userMsg.Content)
		if err != nil {
			yield(nil, fmt.Errorf("%w: %v", ErrGenerationFailed, err))
			return
		}

		aborted := false
		callback := func(_ context.Context, chunk *ai.ModelResponseChunk) error {
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
			ai.WithSystem(r.systemPrompt),
			ai.WithMessages(buildHistory(req.Messages)...),
			ai.WithStreaming(callback),
		}
		if len(docs) > 0 {
			opts = append(opts, ai.WithDocs(docs...))
		}
		if r.modelName != "" {
			opts = append(opts, ai.WithModelName(r.modelName))
		}
		if r.temperature > 0 {
			// Plain map config is accepted by every provider plugin.
			opts = append(opts, ai.WithConfig(map[string]any{"temperature": r.temperature}))
		}

		if _, err := genkit.Generate(genCtx, r.g, opts...); err != nil {
			if aborted || errors.Is(err, errStreamAborted) {
				r.logger.Debug("stream abandoned by consumer, generation cancelled")
				return
			}
			yield(nil, fmt.Errorf("%w: %v", ErrGenerationFailed, err))
			return
		}

		yield(chat.EndFragment(metadata), nil)
	}
}

// retrieve fetches and threshold-filters grounding documents.
func (r *Responder) retrieve(ctx context.Context, query string) ([]*ai.Document, error) {
	hits, err := r.store.SearchKnowledge(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("retrieving documents: %w", err)
	}

	docs := make([]*ai.Document, 0, len(hits))
	for _, h := range hits {
		if deref(h.Score) < r.minSearchScore || deref(h.RerankerScore) < r.minRerankerScore {
			continue
		}
		docs = append(docs, ai.DocumentFromText(h.Content, map[string]any{
			"title": h.Title,
		}))
	}
	r.logger.Debug("retrieved grounding documents", "hits", len(hits), "qualifying", len(docs))
	return docs, nil
}

func deref(f *float64) float64 {
	if f == nil {
		return 0
	}
	return *f
}

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
