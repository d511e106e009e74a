// Package engine folds stream events and poller snapshots into the two
// aggregate views the dashboard reads: per-email workflow timelines and
// per-ticket update histories.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/triagedeck-io/triagedeck/internal/tickets"
	"github.com/triagedeck-io/triagedeck/internal/timeline"
	"github.com/triagedeck-io/triagedeck/pkg/protocol"
)

// AgentStatus is the backend automation agent's run state. It changes only
// on an authoritative session event from the stream; the start/stop hooks
// never set it optimistically, so the view cannot diverge from a backend
// that fails to confirm.
type AgentStatus string

const (
	AgentStopped AgentStatus = "stopped"
	AgentStarted AgentStatus = "started"
)

// Backend is the subset of the automation backend the engine calls for
// control actions.
type Backend interface {
	StartAgent(ctx context.Context) error
	StopAgent(ctx context.Context) error
	// SendRequest submits an admin free-text request against a ticket and
	// returns the agent's response text.
	SendRequest(ctx context.Context, ticketID int, request string) (string, error)
}

// Snapshot is a self-contained copy of the engine's current state.
type Snapshot struct {
	AgentStatus AgentStatus       `json:"agent_status"`
	SessionID   string            `json:"session_id,omitempty"`
	Timelines   []timeline.Entry  `json:"timelines"`
	Tickets     []protocol.Ticket `json:"tickets"`
}

// Engine is the reconciliation dispatcher plus the two aggregates it
// guards. All mutation goes through it; every handler runs to completion
// under one lock, so callers always observe a coherent snapshot.
type Engine struct {
	mu        sync.Mutex
	timelines *timeline.Aggregate
	tickets   *tickets.Aggregate
	agent     AgentStatus
	sessionID string

	backend Backend
	logger  *slog.Logger
	now     func() time.Time
}

// New creates an engine. backend may be nil when control actions are not
// wired (tests, read-only deployments).
func New(backend Backend, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		timelines: timeline.NewAggregate(),
		tickets:   tickets.NewAggregate(),
		agent:     AgentStopped,
		backend:   backend,
		logger:    logger,
		now:       time.Now,
	}
}

// Apply folds one decoded event into the aggregates per the reconciliation
// rules. Safe under at-least-once delivery: event types where duplication
// is possible are idempotent, and events referencing unknown emails or
// tickets are dropped without error.
func (e *Engine) Apply(ev protocol.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch ev := ev.(type) {
	case *protocol.Session:
		e.applySession(ev)
	case *protocol.EmailDetected:
		e.applyEmailDetected(ev)
	case *protocol.SpamAlert:
		e.applySpamAlert(ev)
	case *protocol.IntentAnalyzed:
		e.applyIntentAnalyzed(ev)
	case *protocol.TicketCreated:
		e.applyTicketCreated(ev)
	case *protocol.ActionPerformed:
		e.applyActionPerformed(ev)
	case *protocol.TicketUpdated:
		e.applyTicketUpdated(ev)
	case *protocol.EmailReply:
		e.applyEmailReply(ev)
	case protocol.Ignored:
		e.logger.Debug("ignoring unrecognized event", "type", ev.Type)
	default:
		e.logger.Debug("ignoring unhandled event", "kind", ev.Kind())
	}
}

func (e *Engine) applySession(ev *protocol.Session) {
	switch ev.Status {
	case "started":
		e.agent = AgentStarted
		e.sessionID = ev.SessionID
	case "stopped":
		e.agent = AgentStopped
		e.sessionID = ""
	default:
		e.logger.Warn("session event with unknown status", "status", ev.Status)
		return
	}
	e.logger.Info("agent session changed", "status", ev.Status, "session_id", ev.SessionID)
}

func (e *Engine) applyEmailDetected(ev *protocol.EmailDetected) {
	details := fmt.Sprintf("%q from %s", ev.Subject, ev.Sender)
	if !ev.ValidDomain() {
		details += " (unauthorized sender domain)"
	}
	created := e.timelines.Start(ev.EmailID, timeline.Step{
		Status:  timeline.StepEmailArrived,
		Details: details,
	})
	if !created {
		// Redelivered arrival for a live entry: nothing to add.
		return
	}
	if !ev.ValidDomain() {
		e.timelines.Flag(ev.EmailID)
	}
}

func (e *Engine) applySpamAlert(ev *protocol.SpamAlert) {
	// Alerts are never deduplicated: multiple genuine alerts are possible.
	if !e.timelines.Append(ev.EmailID, timeline.Step{
		Status:  timeline.StepSecurityAlert,
		Details: ev.Message,
	}) {
		e.dropped("spam_alert", ev.EmailID)
		return
	}
	e.timelines.Flag(ev.EmailID)
}

func (e *Engine) applyIntentAnalyzed(ev *protocol.IntentAnalyzed) {
	ok := e.timelines.AppendOnce(ev.EmailID, "intent:"+ev.Intent, timeline.Step{
		Status:  timeline.StepAnalyzing,
		Details: ev.Intent,
	})
	if !ok && !e.timelines.Has(ev.EmailID) {
		e.dropped("intent_analyzed", ev.EmailID)
	}
}

func (e *Engine) applyTicketCreated(ev *protocol.TicketCreated) {
	id := ev.TicketID.String()
	ok := e.timelines.AppendOnce(ev.EmailID, "ticket:"+id, timeline.Step{
		Status:  timeline.StepTicketCreated,
		Details: fmt.Sprintf("Work item #%s (%s)", id, ev.ADOURL),
	})
	if !ok && !e.timelines.Has(ev.EmailID) {
		e.dropped("ticket_created", ev.EmailID)
	}
}

func (e *Engine) applyActionPerformed(ev *protocol.ActionPerformed) {
	label := timeline.ActionLabel(ev.Intent)
	details := ev.Message
	if !ev.Success {
		details = "Failed: " + ev.Message
	}
	ok := e.timelines.AppendOnce(ev.EmailID, "action:"+label+"|"+details, timeline.Step{
		Status:  label,
		Details: details,
	})
	if !ok && !e.timelines.Has(ev.EmailID) {
		e.dropped("action_performed", ev.EmailID)
	}
}

func (e *Engine) applyTicketUpdated(ev *protocol.TicketUpdated) {
	details := ev.Status
	if ev.Comment != "" {
		details += ": " + ev.Comment
	}
	// Timeline side needs an email id, which backend broadcasts include.
	if ev.EmailID != "" {
		if !e.timelines.Append(ev.EmailID, timeline.Step{
			Status:  timeline.StepTicketUpdated,
			Details: details,
		}) {
			e.dropped("ticket_updated", ev.EmailID)
		}
	}

	ok := e.tickets.AppendUpdate(ev.TicketID.String(), protocol.TicketUpdate{
		Status:     ev.Status,
		Comment:    ev.Comment,
		RevisionID: ev.RevisionID.String(),
		Timestamp:  e.now(),
	})
	if !ok {
		e.logger.Debug("update for unknown ticket dropped", "ticket_id", ev.TicketID)
	}
}

func (e *Engine) applyEmailReply(ev *protocol.EmailReply) {
	if !e.timelines.Append(ev.EmailID, timeline.Step{
		Status:  timeline.StepReplySent,
		Details: "Reply sent on thread " + ev.ThreadID,
	}) {
		e.dropped("email_reply", ev.EmailID)
	}
	if !e.tickets.MarkReplied(ev.TicketID.String(), ev.EmailID, ev.MessageID) {
		e.logger.Debug("reply for unknown ticket dropped",
			"ticket_id", ev.TicketID, "email_id", ev.EmailID)
	}
}

func (e *Engine) dropped(eventType, emailID string) {
	e.logger.Debug("event for unknown email dropped", "type", eventType, "email_id", emailID)
}

// ApplyTicketSnapshot merges a full poller snapshot into the ticket
// aggregate. Commutative with stream-originated updates: the two sources
// touch disjoint field sets.
func (e *Engine) ApplyTicketSnapshot(list []protocol.Ticket) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.tickets.ApplySnapshot(list)
	e.logger.Debug("ticket snapshot applied", "tickets", len(list))
}

// Dismiss removes a timeline entry entirely. There is no undismiss.
func (e *Engine) Dismiss(emailID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.timelines.Dismiss(emailID)
}

// StartAgent asks the backend to start the automation agent. The agent
// status is not flipped here; only a session event confirms the change.
func (e *Engine) StartAgent(ctx context.Context) error {
	if e.backend == nil {
		return fmt.Errorf("engine: no backend configured")
	}
	return e.backend.StartAgent(ctx)
}

// StopAgent asks the backend to stop the automation agent. See StartAgent.
func (e *Engine) StopAgent(ctx context.Context) error {
	if e.backend == nil {
		return fmt.Errorf("engine: no backend configured")
	}
	return e.backend.StopAgent(ctx)
}

// AgentState returns the last confirmed agent status and session id.
func (e *Engine) AgentState() (AgentStatus, string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.agent, e.sessionID
}

// Timelines returns copies of all timeline entries in creation order.
func (e *Engine) Timelines() []timeline.Entry {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.timelines.Snapshot()
}

// Timeline returns a copy of one timeline entry.
func (e *Engine) Timeline(emailID string) (timeline.Entry, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.timelines.Get(emailID)
}

// Tickets returns deep copies of all ticket records in snapshot order.
func (e *Engine) Tickets() []protocol.Ticket {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tickets.Snapshot()
}

// Ticket returns a deep copy of one ticket record.
func (e *Engine) Ticket(ticketID string) (protocol.Ticket, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tickets.Get(ticketID)
}

// Snapshot returns the complete current state as one coherent copy.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Snapshot{
		AgentStatus: e.agent,
		SessionID:   e.sessionID,
		Timelines:   e.timelines.Snapshot(),
		Tickets:     e.tickets.Snapshot(),
	}
}
