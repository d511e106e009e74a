package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// ID is a ticket or revision identifier. The backend emits ADO work item
// ids as JSON numbers on some events and strings on others; both decode to
// the stringified form so aggregate keys stay stable.
type ID string

func (id *ID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("protocol: id must be string or number: %w", err)
	}
	*id = ID(n.String())
	return nil
}

func (id ID) String() string { return string(id) }

// TicketUpdate is one row of a ticket's update history. Rows are append
// only; the reply-confirmation fields of the most recent row are the single
// permitted in-place mutation.
type TicketUpdate struct {
	Status         string    `json:"status"`
	Comment        string    `json:"comment,omitempty"`
	RevisionID     string    `json:"revision_id,omitempty"`
	EmailSent      bool      `json:"email_sent"`
	EmailMessageID string    `json:"email_message_id,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// ActionItem is one remote action recorded against a ticket.
type ActionItem struct {
	Action    string `json:"action_name"`
	Completed bool   `json:"completed"`
}

// ActionDetails groups recorded actions by provider.
type ActionDetails struct {
	GitHub []ActionItem `json:"github,omitempty"`
	AWS    []ActionItem `json:"aws,omitempty"`
}

// Attachment describes one file attached to an inbound email.
type Attachment struct {
	Filename string `json:"filename"`
	MimeType string `json:"mime_type"`
}

// EmailMessage is one inbound email in a ticket's thread.
type EmailMessage struct {
	EmailID   string    `json:"email_id"`
	Subject   string    `json:"subject,omitempty"`
	Sender    string    `json:"sender,omitempty"`
	Body      string    `json:"body,omitempty"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// Ticket is the durable representation of one support ticket. Static fields
// are refreshed wholesale from poller snapshots; Updates is owned by the
// event stream and survives snapshot merges.
type Ticket struct {
	TicketID    ID             `json:"ado_ticket_id"`
	Title       string         `json:"subject"`
	Sender      string         `json:"sender"`
	Description string         `json:"ticket_description"`
	RequestType string         `json:"type_of_request"`
	EmailID     string         `json:"email_id"`
	ThreadID    string         `json:"thread_id"`
	Details     ActionDetails  `json:"details"`
	Attachments []Attachment   `json:"attachments,omitempty"`
	EmailChain  []EmailMessage `json:"email_chain,omitempty"`
	Updates     []TicketUpdate `json:"updates,omitempty"`
}

// Clone returns a deep copy so snapshots handed to callers never alias
// aggregate-owned slices.
func (t Ticket) Clone() Ticket {
	out := t
	out.Details.GitHub = append([]ActionItem(nil), t.Details.GitHub...)
	out.Details.AWS = append([]ActionItem(nil), t.Details.AWS...)
	out.Attachments = append([]Attachment(nil), t.Attachments...)
	out.EmailChain = append([]EmailMessage(nil), t.EmailChain...)
	out.Updates = append([]TicketUpdate(nil), t.Updates...)
	return out
}
