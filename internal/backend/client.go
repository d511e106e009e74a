// Package backend is the HTTP client for the automation backend's REST
// surface: ticket snapshots, agent control, and admin requests.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/triagedeck-io/triagedeck/pkg/protocol"
)

// Client talks to one automation backend.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger
}

// New creates a client for the backend at baseURL.
func New(baseURL string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
		logger:  logger,
	}
}

// AgentState is the backend's own view of the automation agent.
type AgentState struct {
	IsRunning bool   `json:"is_running"`
	SessionID string `json:"session_id"`
}

// FetchTickets returns the full current ticket collection.
func (c *Client) FetchTickets(ctx context.Context) ([]protocol.Ticket, error) {
	var out struct {
		Status  string            `json:"status"`
		Message string            `json:"message"`
		Tickets []protocol.Ticket `json:"tickets"`
	}
	if err := c.getJSON(ctx, "/tickets", &out); err != nil {
		return nil, err
	}
	if out.Status == "error" {
		return nil, fmt.Errorf("backend: fetch tickets: %s", out.Message)
	}
	return out.Tickets, nil
}

// FetchTicketsByType returns tickets filtered by request type.
func (c *Client) FetchTicketsByType(ctx context.Context, requestType string) ([]protocol.Ticket, error) {
	var out struct {
		Status  string            `json:"status"`
		Message string            `json:"message"`
		Tickets []protocol.Ticket `json:"tickets"`
	}
	path := "/tickets/by-type/" + url.PathEscape(requestType)
	if err := c.getJSON(ctx, path, &out); err != nil {
		return nil, err
	}
	if out.Status == "error" {
		return nil, fmt.Errorf("backend: fetch tickets by type: %s", out.Message)
	}
	return out.Tickets, nil
}

// RequestTypes returns the distinct request types known to the backend.
func (c *Client) RequestTypes(ctx context.Context) ([]string, error) {
	var out struct {
		Status       string   `json:"status"`
		Message      string   `json:"message"`
		RequestTypes []string `json:"request_types"`
	}
	if err := c.getJSON(ctx, "/request-types", &out); err != nil {
		return nil, err
	}
	if out.Status == "error" {
		return nil, fmt.Errorf("backend: request types: %s", out.Message)
	}
	return out.RequestTypes, nil
}

// Status probes the backend's agent state.
func (c *Client) Status(ctx context.Context) (AgentState, error) {
	var out struct {
		IsRunning bool   `json:"is_running"`
		SessionID string `json:"session_id"`
	}
	if err := c.getJSON(ctx, "/status", &out); err != nil {
		return AgentState{}, err
	}
	return AgentState{IsRunning: out.IsRunning, SessionID: out.SessionID}, nil
}

// StartAgent asks the backend to start processing. Fire and forget: the
// confirmed state arrives as a session event on the stream.
func (c *Client) StartAgent(ctx context.Context) error {
	var out struct {
		Status  string `json:"status"`
		Message string `json:"message"`
	}
	if err := c.getJSON(ctx, "/run-agent", &out); err != nil {
		return err
	}
	c.logger.Info("start agent requested", "status", out.Status, "message", out.Message)
	return nil
}

// StopAgent asks the backend to stop processing. See StartAgent.
func (c *Client) StopAgent(ctx context.Context) error {
	var out struct {
		Status  string `json:"status"`
		Message string `json:"message"`
	}
	if err := c.getJSON(ctx, "/stop-agent", &out); err != nil {
		return err
	}
	c.logger.Info("stop agent requested", "status", out.Status, "message", out.Message)
	return nil
}

// SendRequest submits an admin free-text request against a ticket and
// returns the agent's response text. On failure the server-provided detail
// message, when present, becomes the error text.
func (c *Client) SendRequest(ctx context.Context, ticketID int, request string) (string, error) {
	payload, err := json.Marshal(map[string]any{
		"ticket_id": ticketID,
		"request":   request,
	})
	if err != nil {
		return "", fmt.Errorf("backend: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/send-request", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("backend: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("backend: send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("backend: read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var fail struct {
			Detail string `json:"detail"`
		}
		if json.Unmarshal(body, &fail) == nil && fail.Detail != "" {
			return "", fmt.Errorf("backend: send request: %s", fail.Detail)
		}
		return "", fmt.Errorf("backend: send request: status %d", resp.StatusCode)
	}

	var out struct {
		Status        string `json:"status"`
		SummaryIntent string `json:"summary_intent"`
		Response      string `json:"response"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("backend: decode response: %w", err)
	}
	return out.Response, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("backend: build request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("backend: get %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))
		return fmt.Errorf("backend: get %s: status %d", path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("backend: decode %s: %w", path, err)
	}
	return nil
}
