// Package ticket is a client for the downstream ticketing system's REST
// API: creating incidents and looking up their status.
//
// Create never returns a transport error to the caller. The conversation
// model consumes its result directly, so failures are reported in-band
// as a Submission with StatusError; the model can then tell the user the
// ticket could not be created instead of the whole turn failing.
package ticket

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

// Submission statuses reported to the model.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

const defaultTimeout = 30 * time.Second

// CreateRequest is the incident creation payload.
type CreateRequest struct {
	TemplateName string `json:"template_name"`
	Description  string `json:"description"`
}

// Submission is the in-band result of a creation attempt.
// TicketID is empty when Status is StatusError.
type Submission struct {
	TicketID string `json:"ticket_id,omitempty"`
	Status   string `json:"status"`
}

// Status is the state of an existing incident.
type Status struct {
	TicketID string `json:"ticket_id"`
	State    string `json:"state"`
	Summary  string `json:"summary,omitempty"`
	Updated  string `json:"updated,omitempty"`
}

// Client talks to the ticketing system.
//
// Client is safe for concurrent use by multiple goroutines.
type Client struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
}

// New creates a ticketing client for the given endpoint base URL.
// apiKey may be empty when the downstream system is unauthenticated
// (local development).
func New(endpoint, apiKey string, logger *slog.Logger) (*Client, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("ticket endpoint is required")
	}
	if _, err := url.Parse(endpoint); err != nil {
		return nil, fmt.Errorf("invalid ticket endpoint: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		endpoint:   endpoint,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: defaultTimeout},
		logger:     logger,
	}, nil
}

// Create submits a new incident. Transport and downstream failures are
// mapped to a StatusError submission; the returned error is always nil.
// The error return is kept so the signature matches the other client
// operations.
func (c *Client) Create(ctx context.Context, req CreateRequest) (*Submission, error) {
	var resp Submission
	err := c.do(ctx, http.MethodPost, c.endpoint+"/incidents", req, &resp)
	if err != nil {
		c.logger.Error("ticket creation failed", "template", req.TemplateName, "error", err)
		return &Submission{Status: StatusError}, nil
	}
	if resp.Status == "" {
		resp.Status = StatusSuccess
	}
	c.logger.Info("ticket created", "ticket_id", resp.TicketID, "status", resp.Status)
	return &resp, nil
}

// GetStatus looks up an existing incident by id.
func (c *Client) GetStatus(ctx context.Context, ticketID string) (*Status, error) {
	if ticketID == "" {
		return nil, fmt.Errorf("ticket id is required")
	}
	var status Status
	if err := c.do(ctx, http.MethodGet,
		c.endpoint+"/incidents/"+url.PathEscape(ticketID), nil, &status); err != nil {
		return nil, fmt.Errorf("getting ticket status: %w", err)
	}
	if status.TicketID == "" {
		status.TicketID = ticketID
	}
	return &status, nil
}

// do makes an HTTP request against the ticketing API and decodes the
// JSON response into result.
func (c *Client) do(ctx context.Context, method, endpoint string, body, result any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reqBody)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(data))
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}
	return nil
}
