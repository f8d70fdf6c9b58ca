// Package tools registers the helpdesk capabilities the conversation
// model may invoke: knowledge search, ticket template lookup, ticket
// creation, and ticket status lookup.
//
// # Design Principles
//
//   - Dependency Injection: store and ticket client passed to a Handler
//   - No Package-Level State: tools capture dependencies via the Handler
//   - Thin adapters: Genkit closures convert parameters, Handler methods
//     hold the testable logic
//
// Search and template lookup apply a two-threshold relevance filter: a
// result qualifies only when its score and its reranker score both meet
// the configured minimums (a missing score counts as 0). The model only
// ever sees qualifying results.
package tools

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"

	"github.com/opsdesk-ai/opsdesk/internal/search"
	"github.com/opsdesk-ai/opsdesk/internal/ticket"
)

// Tool names registered with Genkit.
const (
	SearchName         = "search"
	TemplateLookupName = "get_ticket_templates"
	CreateTicketName   = "create_ticket"
	TicketStatusName   = "get_ticket_status"
)

// toolNames is the single source of truth for registered tool names.
var toolNames = []string{
	SearchName,
	TemplateLookupName,
	CreateTicketName,
	TicketStatusName,
}

// ToolNames returns all registered tool names.
func ToolNames() []string {
	return toolNames
}

// SearchInput defines input for the search tool.
type SearchInput struct {
	Query string `json:"query" jsonschema_description:"The user's question or issue, used verbatim as the search query"`
}

// TemplateLookupInput defines input for the template lookup tool.
type TemplateLookupInput struct {
	Category    string `json:"category,omitempty" jsonschema_description:"Ticket category to restrict the lookup to; empty searches all categories"`
	Description string `json:"description" jsonschema_description:"Description of the user's issue to match templates against"`
}

// CreateTicketInput defines input for the create_ticket tool.
type CreateTicketInput struct {
	TemplateName        string `json:"template_name" jsonschema_description:"Exact name of the ticket template to use, as returned by get_ticket_templates"`
	DetailedDescription string `json:"detailed_description" jsonschema_description:"Full ticket description including the user's name, email address, and issue details"`
}

// TicketStatusInput defines input for the get_ticket_status tool.
type TicketStatusInput struct {
	TicketID string `json:"ticket_id" jsonschema_description:"The id of the ticket to look up"`
}

// DocumentResult is one qualifying knowledge search hit.
type DocumentResult struct {
	Title         string   `json:"title"`
	Content       string   `json:"content"`
	Score         *float64 `json:"score,omitempty"`
	RerankerScore *float64 `json:"reranker_score,omitempty"`
}

// SearchOutput is the search tool result.
type SearchOutput struct {
	Documents []DocumentResult `json:"documents"`
}

// TemplateResult is one qualifying ticket template hit.
type TemplateResult struct {
	Name          string   `json:"name"`
	Category      string   `json:"category"`
	Description   string   `json:"description"`
	Priority      string   `json:"priority,omitempty"`
	Urgency       string   `json:"urgency,omitempty"`
	AssignedGroup string   `json:"assigned_group,omitempty"`
	Score         *float64 `json:"score,omitempty"`
	RerankerScore *float64 `json:"reranker_score,omitempty"`
}

// TemplateLookupOutput is the template lookup tool result.
type TemplateLookupOutput struct {
	Templates []TemplateResult `json:"templates"`
}

// TicketStatusOutput is the status lookup tool result.
type TicketStatusOutput struct {
	TicketID string `json:"ticket_id"`
	State    string `json:"state"`
	Summary  string `json:"summary,omitempty"`
}

// Config holds Handler dependencies and thresholds.
type Config struct {
	Store            *search.Store
	Tickets          *ticket.Client
	MinSearchScore   float64
	MinRerankerScore float64
	Logger           *slog.Logger
}

// Handler implements the capability logic behind the registered tools.
type Handler struct {
	store            *search.Store
	tickets          *ticket.Client
	minSearchScore   float64
	minRerankerScore float64
	logger           *slog.Logger
}

// NewHandler creates a Handler.
func NewHandler(cfg Config) (*Handler, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("search store is required")
	}
	if cfg.Tickets == nil {
		return nil, fmt.Errorf("ticket client is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Handler{
		store:            cfg.Store,
		tickets:          cfg.Tickets,
		minSearchScore:   cfg.MinSearchScore,
		minRerankerScore: cfg.MinRerankerScore,
		logger:           cfg.Logger,
	}, nil
}

// qualifies applies the two-threshold relevance filter.
func (h *Handler) qualifies(score, rerankerScore *float64) bool {
	return deref(score) >= h.minSearchScore && deref(rerankerScore) >= h.minRerankerScore
}

func deref(f *float64) float64 {
	if f == nil {
		return 0
	}
	return *f
}

// Search runs a knowledge search with the model-provided query verbatim.
func (h *Handler) Search(ctx context.Context, input SearchInput) (SearchOutput, error) {
	docs, err := h.store.SearchKnowledge(ctx, input.Query)
	if err != nil {
		h.logger.Error("knowledge search failed", "error", err)
		return SearchOutput{}, &ToolError{ErrorType: "SearchFailed", Message: err.Error()}
	}

	out := SearchOutput{Documents: make([]DocumentResult, 0, len(docs))}
	for _, d := range docs {
		if !h.qualifies(d.Score, d.RerankerScore) {
			continue
		}
		out.Documents = append(out.Documents, DocumentResult{
			Title:         d.Title,
			Content:       d.Content,
			Score:         d.Score,
			RerankerScore: d.RerankerScore,
		})
	}
	h.logger.Debug("knowledge search", "hits", len(docs), "qualifying", len(out.Documents))
	return out, nil
}

// LookupTemplates finds ticket templates matching the issue description.
func (h *Handler) LookupTemplates(ctx context.Context, input TemplateLookupInput) (TemplateLookupOutput, error) {
	templates, err := h.store.SearchTemplates(ctx, input.Category, input.Description)
	if err != nil {
		h.logger.Error("template lookup failed", "category", input.Category, "error", err)
		return TemplateLookupOutput{}, &ToolError{ErrorType: "TemplateLookupFailed", Message: err.Error()}
	}

	out := TemplateLookupOutput{Templates: make([]TemplateResult, 0, len(templates))}
	for _, t := range templates {
		if !h.qualifies(t.Score, t.RerankerScore) {
			continue
		}
		out.Templates = append(out.Templates, TemplateResult{
			Name:          t.Name,
			Category:      t.Category,
			Description:   t.Description,
			Priority:      t.Priority,
			Urgency:       t.Urgency,
			AssignedGroup: t.AssignedGroup,
			Score:         t.Score,
			RerankerScore: t.RerankerScore,
		})
	}
	return out, nil
}

// CreateTicket submits a ticket. The template name and description are
// passed through exactly as the model produced them. Failures come back
// as an in-band error status, never as a tool error.
func (h *Handler) CreateTicket(ctx context.Context, input CreateTicketInput) (ticket.Submission, error) {
	sub, err := h.tickets.Create(ctx, ticket.CreateRequest{
		TemplateName: input.TemplateName,
		Description:  input.DetailedDescription,
	})
	if err != nil || sub == nil {
		h.logger.Error("ticket creation failed", "error", err)
		return ticket.Submission{Status: ticket.StatusError}, nil
	}
	return *sub, nil
}

// TicketStatus looks up an existing ticket.
func (h *Handler) TicketStatus(ctx context.Context, input TicketStatusInput) (TicketStatusOutput, error) {
	status, err := h.tickets.GetStatus(ctx, input.TicketID)
	if err != nil {
		h.logger.Error("ticket status lookup failed", "ticket_id", input.TicketID, "error", err)
		return TicketStatusOutput{}, &ToolError{ErrorType: "TicketStatusFailed", Message: err.Error()}
	}
	return TicketStatusOutput{
		TicketID: status.TicketID,
		State:    status.State,
		Summary:  status.Summary,
	}, nil
}

// Register defines all capability tools with Genkit and returns them in
// registration order.
func Register(g *genkit.Genkit, h *Handler) ([]ai.Tool, error) {
	if g == nil {
		return nil, fmt.Errorf("genkit instance is required")
	}
	if h == nil {
		return nil, fmt.Errorf("handler is required")
	}

	tools := []ai.Tool{
		genkit.DefineTool(g, SearchName,
			"Search the helpdesk knowledge base for information relevant to the user's question. "+
				"Pass the user's question or issue as the query, unmodified. "+
				"Returns: matching documents with titles, content, and relevance scores.",
			func(tc *ai.ToolContext, input SearchInput) (SearchOutput, error) {
				return h.Search(tc.Context, input)
			}),
		genkit.DefineTool(g, TemplateLookupName,
			"Find ticket templates matching the user's issue. "+
				"Provide the issue description and optionally a category to narrow the lookup. "+
				"Returns: matching templates with name, category, priority, urgency, and assigned group. "+
				"Use the returned template name exactly when creating a ticket.",
			func(tc *ai.ToolContext, input TemplateLookupInput) (TemplateLookupOutput, error) {
				return h.LookupTemplates(tc.Context, input)
			}),
		genkit.DefineTool(g, CreateTicketName,
			"Create a support ticket from a template. "+
				"Requires the exact template name from get_ticket_templates and a detailed description "+
				"including the user's name, email address, and issue details. "+
				"Returns: the ticket id and a status of success or error.",
			func(tc *ai.ToolContext, input CreateTicketInput) (ticket.Submission, error) {
				return h.CreateTicket(tc.Context, input)
			}),
		genkit.DefineTool(g, TicketStatusName,
			"Look up the current status of an existing support ticket by its id. "+
				"Returns: the ticket's state and summary.",
			func(tc *ai.ToolContext, input TicketStatusInput) (TicketStatusOutput, error) {
				return h.TicketStatus(tc.Context, input)
			}),
	}
	return tools, nil
}
