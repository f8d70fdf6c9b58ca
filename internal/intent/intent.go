// Package intent classifies a conversation into one of three helpdesk
// intents with a single low-temperature model call.
//
// Classification is advisory routing, never a failure source: any error
// (model call, malformed output, unknown label) falls back to
// AnswerQuestion so the request still gets an answer. Classify logs the
// failure and returns; it has no error result by design.
package intent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"

	"github.com/opsdesk-ai/opsdesk/internal/chat"
)

// Intent is a classified user intent.
type Intent string

// The closed intent set. Anything the model produces outside this set
// is treated as AnswerQuestion.
const (
	AnswerQuestion  Intent = "ANSWER_QUESTION"
	CreateTicket    Intent = "CREATE_TICKET"
	GetTicketStatus Intent = "GET_TICKET_STATUS"
)

// Parse maps a label to an Intent, falling back to AnswerQuestion for
// anything outside the closed set. It is total: every input maps to a
// valid Intent.
func Parse(label string) Intent {
	switch Intent(strings.TrimSpace(label)) {
	case CreateTicket:
		return CreateTicket
	case GetTicketStatus:
		return GetTicketStatus
	default:
		return AnswerQuestion
	}
}

// Config contains required parameters for the Classifier.
type Config struct {
	Genkit       *genkit.Genkit
	Logger       *slog.Logger
	ModelName    string // Provider-qualified model name
	SystemPrompt string // Classifier system instruction
}

func (cfg Config) validate() error {
	if cfg.Genkit == nil {
		return fmt.Errorf("genkit instance is required")
	}
	if cfg.Logger == nil {
		return fmt.Errorf("logger is required")
	}
	if cfg.SystemPrompt == "" {
		return fmt.Errorf("system prompt is required")
	}
	return nil
}

// Classifier determines user intent from conversation history.
//
// Classifier is stateless and safe for concurrent use.
type Classifier struct {
	g            *genkit.Genkit
	logger       *slog.Logger
	modelName    string
	systemPrompt string
}

// NewClassifier creates a Classifier.
func NewClassifier(cfg Config) (*Classifier, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Classifier{
		g:            cfg.Genkit,
		logger:       cfg.Logger,
		modelName:    cfg.ModelName,
		systemPrompt: cfg.SystemPrompt,
	}, nil
}

// Classify determines the intent of the conversation. The full history
// (minus tool transcripts) is presented to the model in order after the
// system instruction; the model answers with bare JSON.
//
// Classify never fails: every error path logs and returns
// AnswerQuestion.
func (c *Classifier) Classify(ctx context.Context, messages []chat.Message) Intent {
	history := buildClassifierHistory(messages)

	// Config goes as a plain map: provider plugins convert a map to
	// their native config struct, while a foreign typed struct is
	// rejected. The explicit 0.0 entry pins deterministic sampling.
	opts := []ai.GenerateOption{
		ai.WithSystem(c.systemPrompt),
		ai.WithMessages(history...),
		ai.WithConfig(map[string]any{"temperature": 0.0}),
	}
	if c.modelName != "" {
		opts = append(opts, ai.WithModelName(c.modelName))
	}

	resp, err := genkit.Generate(ctx, c.g, opts...)
	if err != nil {
		c.logger.Error("intent classification failed, defaulting to answer path", "error", err)
		return AnswerQuestion
	}

	label, err := parseIntentResponse(resp.Text())
	if err != nil {
		c.logger.Error("unparsable intent response, defaulting to answer path",
			"error", err, "response_len", len(resp.Text()))
		return AnswerQuestion
	}

	it := Parse(label)
	c.logger.Debug("classified intent", "intent", it)
	return it
}

// buildClassifierHistory converts wire messages to model messages.
// Tool transcripts are dropped. Assistant messages carrying a context
// payload get it parsed and attached as message metadata; an unparsable
// context is dropped and the message passed through without it.
func buildClassifierHistory(messages []chat.Message) []*ai.Message {
	filtered := chat.FilterToolMessages(messages)
	history := make([]*ai.Message, 0, len(filtered))
	for _, m := range filtered {
		switch m.Role {
		case chat.RoleAssistant:
			msg := ai.NewModelMessage(ai.NewTextPart(m.Content))
			if m.Context != "" {
				var contextObj map[string]any
				if err := json.Unmarshal([]byte(m.Context), &contextObj); err == nil {
					msg.Metadata = map[string]any{"context": contextObj}
				}
			}
			history = append(history, msg)
		case chat.RoleUser:
			history = append(history, ai.NewUserMessage(ai.NewTextPart(m.Content)))
		}
	}
	return history
}

// parseIntentResponse extracts the intent label from the model's raw
// output. Tolerates surrounding whitespace and markdown code fences but
// demands a JSON object with an "intent" key.
func parseIntentResponse(raw string) (string, error) {
	text := strings.TrimSpace(raw)
	if after, found := strings.CutPrefix(text, "```json"); found {
		text = after
	} else if after, found := strings.CutPrefix(text, "```"); found {
		text = after
	}
	text = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(text), "```"))

	var parsed struct {
		Intent string `json:"intent"`
	}
	if err := json.Unmarshal([]byte(text), &parsed); err != nil {
		return "", fmt.Errorf("parsing intent JSON: %w", err)
	}
	if parsed.Intent == "" {
		return "", fmt.Errorf("intent key missing or empty")
	}
	return parsed.Intent, nil
}
