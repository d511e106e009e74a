package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// EventType tags each frame broadcast by the automation backend.
type EventType string

const (
	EventSession         EventType = "session"
	EventEmailDetected   EventType = "email_detected"
	EventSpamAlert       EventType = "spam_alert"
	EventIntentAnalyzed  EventType = "intent_analyzed"
	EventTicketCreated   EventType = "ticket_created"
	EventActionPerformed EventType = "action_performed"
	EventTicketUpdated   EventType = "ticket_updated"
	EventEmailReply      EventType = "email_reply"
)

// Event is the closed union of decoded stream events. Frames with an
// unrecognized type decode to Ignored so callers can drop them explicitly
// instead of guessing at their shape.
type Event interface {
	Kind() EventType
}

// Session reports the authoritative agent run state. It is the only event
// that changes the agent status on the dashboard side.
type Session struct {
	Status    string `json:"status"` // "started" or "stopped"
	SessionID string `json:"session_id"`
}

func (Session) Kind() EventType { return EventSession }

// EmailDetected announces a newly observed inbound email.
type EmailDetected struct {
	EmailID       string `json:"email_id"`
	Subject       string `json:"subject"`
	Sender        string `json:"sender"`
	IsValidDomain *bool  `json:"is_valid_domain"`
}

func (EmailDetected) Kind() EventType { return EventEmailDetected }

// ValidDomain reports whether the sender passed the domain check. A frame
// without the field is treated as valid; only an explicit false flags it.
func (e EmailDetected) ValidDomain() bool {
	return e.IsValidDomain == nil || *e.IsValidDomain
}

// SpamAlert marks an email as rejected by the sender-domain check.
type SpamAlert struct {
	EmailID string `json:"email_id"`
	Sender  string `json:"sender"`
	Message string `json:"message"`
}

func (SpamAlert) Kind() EventType { return EventSpamAlert }

// IntentAnalyzed carries the classified intent of an email.
type IntentAnalyzed struct {
	EmailID string `json:"email_id"`
	Intent  string `json:"intent"`
}

func (IntentAnalyzed) Kind() EventType { return EventIntentAnalyzed }

// TicketCreated announces a new ADO work item for an email.
type TicketCreated struct {
	EmailID  string `json:"email_id"`
	TicketID ID     `json:"ticket_id"`
	ADOURL   string `json:"ado_url"`
}

func (TicketCreated) Kind() EventType { return EventTicketCreated }

// ActionPerformed reports one remote action (GitHub or AWS) executed while
// fulfilling a request.
type ActionPerformed struct {
	EmailID string `json:"email_id"`
	Intent  string `json:"intent"`
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func (ActionPerformed) Kind() EventType { return EventActionPerformed }

// TicketUpdated appends one row to a ticket's update history. EmailID is
// present on backend broadcasts but not required by the wire contract.
type TicketUpdated struct {
	EmailID    string `json:"email_id"`
	TicketID   ID     `json:"ticket_id"`
	Status     string `json:"status"`
	Comment    string `json:"comment"`
	RevisionID ID     `json:"revision_id"`
}

func (TicketUpdated) Kind() EventType { return EventTicketUpdated }

// EmailReply confirms that the reply for an email went out.
type EmailReply struct {
	EmailID   string `json:"email_id"`
	TicketID  ID     `json:"ticket_id"`
	ThreadID  string `json:"thread_id"`
	MessageID string `json:"message_id"`
}

func (EmailReply) Kind() EventType { return EventEmailReply }

// EventIgnored tags well-formed frames whose type is not recognized.
const EventIgnored EventType = "ignored"

// Ignored is produced for well-formed frames whose type is not part of the
// recognized set. Handlers treat it as a no-op.
type Ignored struct {
	Type string
}

func (Ignored) Kind() EventType { return EventIgnored }

// ErrMissingType is returned for frames that parse as JSON but carry no
// type tag.
var ErrMissingType = errors.New("protocol: frame has no type field")

// DecodeEvent parses one raw stream frame into its tagged event. Malformed
// JSON and missing type tags return an error; unknown types succeed with an
// Ignored value.
func DecodeEvent(data []byte) (Event, error) {
	var env struct {
		Type EventType `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("protocol: decode frame: %w", err)
	}
	if env.Type == "" {
		return nil, ErrMissingType
	}

	var ev Event
	switch env.Type {
	case EventSession:
		ev = &Session{}
	case EventEmailDetected:
		ev = &EmailDetected{}
	case EventSpamAlert:
		ev = &SpamAlert{}
	case EventIntentAnalyzed:
		ev = &IntentAnalyzed{}
	case EventTicketCreated:
		ev = &TicketCreated{}
	case EventActionPerformed:
		ev = &ActionPerformed{}
	case EventTicketUpdated:
		ev = &TicketUpdated{}
	case EventEmailReply:
		ev = &EmailReply{}
	default:
		return Ignored{Type: string(env.Type)}, nil
	}
	if err := json.Unmarshal(data, ev); err != nil {
		return nil, fmt.Errorf("protocol: decode %s: %w", env.Type, err)
	}
	return ev, nil
}
