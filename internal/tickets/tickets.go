// Package tickets maintains the per-ticket view reconciled from two
// independent sources: poller snapshots own the static fields, the event
// stream owns the append-only update history.
package tickets

import (
	"github.com/triagedeck-io/triagedeck/pkg/protocol"
)

// Aggregate maps ticket ids to records, preserving snapshot order. It is
// not goroutine safe; the engine serializes access.
type Aggregate struct {
	records map[string]*protocol.Ticket
	order   []string
}

func NewAggregate() *Aggregate {
	return &Aggregate{records: make(map[string]*protocol.Ticket)}
}

// AppendUpdate appends one history row to the matching ticket. Updates are
// never deduplicated: repeating statuses are distinct history entries.
// Returns false when the ticket is unknown, which callers treat as a silent
// drop (the poller may not have delivered the record yet).
func (a *Aggregate) AppendUpdate(ticketID string, u protocol.TicketUpdate) bool {
	rec, ok := a.records[ticketID]
	if !ok {
		return false
	}
	rec.Updates = append(rec.Updates, u)
	return true
}

// MarkReplied mutates the reply-confirmation fields of the most recent
// update of the ticket the reply belongs to. The ticket is located by id
// when the event carries one, otherwise by the email id it references.
// Earlier updates are never touched. This is the one permitted post-append
// mutation.
func (a *Aggregate) MarkReplied(ticketID, emailID, messageID string) bool {
	rec := a.records[ticketID]
	if rec == nil {
		rec = a.findByEmail(emailID)
	}
	if rec == nil || len(rec.Updates) == 0 {
		return false
	}
	last := &rec.Updates[len(rec.Updates)-1]
	last.EmailSent = true
	last.EmailMessageID = messageID
	return true
}

func (a *Aggregate) findByEmail(emailID string) *protocol.Ticket {
	if emailID == "" {
		return nil
	}
	for _, id := range a.order {
		rec := a.records[id]
		if rec.EmailID == emailID {
			return rec
		}
		for _, m := range rec.EmailChain {
			if m.EmailID == emailID {
				return rec
			}
		}
	}
	return nil
}

// ApplySnapshot reconciles a full poller snapshot. Static fields are
// replaced wholesale, tickets absent from the snapshot are removed, new
// tickets start with an empty update history, and existing histories are
// preserved: the stream is the only writer of Updates.
func (a *Aggregate) ApplySnapshot(list []protocol.Ticket) {
	next := make(map[string]*protocol.Ticket, len(list))
	order := make([]string, 0, len(list))
	for _, incoming := range list {
		id := incoming.TicketID.String()
		if id == "" {
			continue
		}
		if _, dup := next[id]; dup {
			continue
		}
		rec := incoming.Clone()
		if existing, ok := a.records[id]; ok {
			rec.Updates = existing.Updates
		} else {
			rec.Updates = nil
		}
		next[id] = &rec
		order = append(order, id)
	}
	a.records = next
	a.order = order
}

// Get returns a deep copy of one record.
func (a *Aggregate) Get(ticketID string) (protocol.Ticket, bool) {
	rec, ok := a.records[ticketID]
	if !ok {
		return protocol.Ticket{}, false
	}
	return rec.Clone(), true
}

// Snapshot returns deep copies of all records in snapshot order.
func (a *Aggregate) Snapshot() []protocol.Ticket {
	out := make([]protocol.Ticket, 0, len(a.order))
	for _, id := range a.order {
		out = append(out, a.records[id].Clone())
	}
	return out
}

// Len returns the number of tracked tickets.
func (a *Aggregate) Len() int { return len(a.records) }
