// Package chat defines the wire types shared between the HTTP layer and
// the conversation engine: inbound requests, conversation messages, and
// the streamed response fragments.
//
// The types mirror the external chat protocol exactly; the engine never
// re-serializes an inbound request, it only reads Messages and carries
// HistoryMetadata through to every emitted fragment untouched.
package chat

import (
	"encoding/json"
	"errors"
	"iter"
)

// Message roles used on the wire.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Sentinel errors for request validation.
var (
	// ErrNoMessages indicates the request carried an empty message list.
	ErrNoMessages = errors.New("no messages in request")

	// ErrNoUserInput indicates the request carried no user turn to process.
	ErrNoUserInput = errors.New("no user input to process")
)

// Message is a single conversation turn.
//
// Context is an opaque JSON string some clients attach to assistant
// turns (citation payloads from earlier answers). It is parsed only when
// building model input; an unparsable Context is carried as-is.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	Context string `json:"context,omitempty"`
}

// Request is the inbound chat request body.
//
// HistoryMetadata is an opaque client bookkeeping payload. It is kept as
// raw JSON so every fragment of the reply echoes it back byte-identical.
type Request struct {
	Messages        []Message       `json:"messages"`
	HistoryMetadata json.RawMessage `json:"history_metadata,omitempty"`
}

// Validate checks that the request contains something to process.
// The conversation engine calls this before any model call is attempted.
func (r *Request) Validate() error {
	if len(r.Messages) == 0 {
		return ErrNoMessages
	}
	if _, ok := r.LatestUserMessage(); !ok {
		return ErrNoUserInput
	}
	return nil
}

// LatestUserMessage returns the most recent user-role message.
func (r *Request) LatestUserMessage() (Message, bool) {
	for i := len(r.Messages) - 1; i >= 0; i-- {
		if r.Messages[i].Role == RoleUser {
			return r.Messages[i], true
		}
	}
	return Message{}, false
}

// Metadata returns the request's history metadata, defaulting to an
// empty JSON object so fragments always carry a well-formed mapping.
func (r *Request) Metadata() json.RawMessage {
	if len(r.HistoryMetadata) == 0 {
		return json.RawMessage("{}")
	}
	return r.HistoryMetadata
}

// FilterToolMessages returns messages with every tool-role turn removed.
// Tool transcripts from earlier requests are host-side bookkeeping; they
// are excluded from both classification input and rebuilt session
// history.
func FilterToolMessages(msgs []Message) []Message {
	filtered := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		if m.Role == RoleTool {
			continue
		}
		filtered = append(filtered, m)
	}
	return filtered
}

// Delta is the incremental assistant content of one fragment.
type Delta struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Fragment is one unit of the streamed assistant reply. The full reply
// is the ordered concatenation of fragment delta contents.
//
// EndTurn is nil on intermediate fragments and true on the terminal
// fragment of a successful reply.
type Fragment struct {
	Delta           Delta           `json:"delta"`
	HistoryMetadata json.RawMessage `json:"history_metadata"`
	EndTurn         *bool           `json:"end_turn"`
}

// Stream is a single-pass, forward-only sequence of response fragments.
// Once consumed it cannot be replayed. Abandoning iteration cancels the
// underlying generation.
type Stream = iter.Seq2[*Fragment, error]

// NewFragment builds an intermediate assistant fragment.
func NewFragment(content string, metadata json.RawMessage) *Fragment {
	return &Fragment{
		Delta:           Delta{Role: RoleAssistant, Content: content},
		HistoryMetadata: metadata,
	}
}

// EndFragment builds the terminal fragment of a successful reply.
func EndFragment(metadata json.RawMessage) *Fragment {
	done := true
	return &Fragment{
		Delta:           Delta{Role: RoleAssistant, Content: ""},
		HistoryMetadata: metadata,
		EndTurn:         &done,
	}
}

// ErrStream returns a Stream that yields a single error. Used by
// components that must report a failure through the streaming contract.
func ErrStream(err error) Stream {
	return func(yield func(*Fragment, error) bool) {
		yield(nil, err)
	}
}
