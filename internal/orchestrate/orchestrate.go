// Package orchestrate routes chat requests to a response path based on
// classified intent: ticket-related intents go to the tool-calling
// conversation session, everything else to the retrieval-grounded
// answer path.
package orchestrate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/opsdesk-ai/opsdesk/internal/chat"
	"github.com/opsdesk-ai/opsdesk/internal/intent"
)

// Responder produces a fragment stream for a chat request. Both the
// conversation session and the QA path satisfy this contract.
type Responder interface {
	Respond(ctx context.Context, req *chat.Request) chat.Stream
}

// Classifier determines the user intent for a conversation.
type Classifier interface {
	Classify(ctx context.Context, messages []chat.Message) intent.Intent
}

// Config contains all required parameters for the Orchestrator.
type Config struct {
	Classifier Classifier
	Ticket     Responder // Tool-calling session for ticket intents
	Answer     Responder // Retrieval-grounded answer path
	Logger     *slog.Logger
}

func (cfg Config) validate() error {
	if cfg.Classifier == nil {
		return errors.New("classifier is required")
	}
	if cfg.Ticket == nil {
		return errors.New("ticket responder is required")
	}
	if cfg.Answer == nil {
		return errors.New("answer responder is required")
	}
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	return nil
}

// Orchestrator is the routing policy between response paths.
type Orchestrator struct {
	classifier Classifier
	ticket     Responder
	answer     Responder
	logger     *slog.Logger
}

// New creates an Orchestrator.
func New(cfg Config) (*Orchestrator, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Orchestrator{
		classifier: cfg.Classifier,
		ticket:     cfg.Ticket,
		answer:     cfg.Answer,
		logger:     cfg.Logger,
	}, nil
}

// Route classifies the request and returns the chosen path's fragment
// stream. The stream is lazy: classification and generation only happen
// once iteration starts. Downstream errors are logged together with the
// classified intent and passed through to the consumer.
func (o *Orchestrator) Route(ctx context.Context, req *chat.Request) chat.Stream {
	return func(yield func(*chat.Fragment, error) bool) {
		if req == nil {
			yield(nil, fmt.Errorf("request is nil"))
			return
		}

		it := o.classifier.Classify(ctx, req.Messages)

		var responder Responder
		switch it {
		case intent.CreateTicket, intent.GetTicketStatus:
			responder = o.ticket
		default:
			responder = o.answer
		}

		for frag, err := range responder.Respond(ctx, req) {
			if err != nil {
				o.logger.Error("orchestration failed",
					"error", err, "intent", it)
				yield(nil, err)
				return
			}
			if !yield(frag, nil) {
				return
			}
		}
	}
}
