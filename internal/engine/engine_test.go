package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/triagedeck-io/triagedeck/internal/timeline"
	"github.com/triagedeck-io/triagedeck/pkg/protocol"
)

type fakeBackend struct {
	startCalls int
	stopCalls  int
	requests   []string
	requestIDs []int
	response   string
	requestErr error
}

func (f *fakeBackend) StartAgent(context.Context) error { f.startCalls++; return nil }
func (f *fakeBackend) StopAgent(context.Context) error  { f.stopCalls++; return nil }

func (f *fakeBackend) SendRequest(_ context.Context, ticketID int, request string) (string, error) {
	f.requestIDs = append(f.requestIDs, ticketID)
	f.requests = append(f.requests, request)
	if f.requestErr != nil {
		return "", f.requestErr
	}
	return f.response, nil
}

func mustDecode(t *testing.T, frame string) protocol.Event {
	t.Helper()
	ev, err := protocol.DecodeEvent([]byte(frame))
	if err != nil {
		t.Fatalf("DecodeEvent(%s): %v", frame, err)
	}
	return ev
}

func TestScenarioThreeSteps(t *testing.T) {
	e := New(nil, nil)
	e.Apply(mustDecode(t, `{"type":"email_detected","email_id":"e1","subject":"S","sender":"a@b.com","is_valid_domain":true}`))
	e.Apply(mustDecode(t, `{"type":"intent_analyzed","email_id":"e1","intent":"create_repo"}`))
	e.Apply(mustDecode(t, `{"type":"ticket_created","email_id":"e1","ticket_id":"42","ado_url":"http://x"}`))

	entry, ok := e.Timeline("e1")
	if !ok {
		t.Fatal("timeline entry missing")
	}
	if len(entry.Steps) != 3 {
		t.Fatalf("steps = %d, want 3", len(entry.Steps))
	}
	wantOrder := []string{timeline.StepEmailArrived, timeline.StepAnalyzing, timeline.StepTicketCreated}
	for i, want := range wantOrder {
		if entry.Steps[i].Status != want {
			t.Errorf("step %d status = %q, want %q", i, entry.Steps[i].Status, want)
		}
	}
	if entry.FlaggedUnsafe {
		t.Error("FlaggedUnsafe should be false")
	}
}

func TestIdempotentAppendUnderRedelivery(t *testing.T) {
	e := New(nil, nil)
	e.Apply(mustDecode(t, `{"type":"email_detected","email_id":"e1","subject":"S","sender":"a@b.com"}`))

	frames := []string{
		`{"type":"intent_analyzed","email_id":"e1","intent":"create_repo"}`,
		`{"type":"ticket_created","email_id":"e1","ticket_id":42,"ado_url":"http://x"}`,
		`{"type":"action_performed","email_id":"e1","intent":"github_create_repo","success":true,"message":"repo created"}`,
	}
	for _, f := range frames {
		e.Apply(mustDecode(t, f))
		e.Apply(mustDecode(t, f)) // redelivery
	}

	entry, _ := e.Timeline("e1")
	if len(entry.Steps) != 4 {
		t.Errorf("steps = %d, want 4 (arrival + 3 deduped)", len(entry.Steps))
	}
	if entry.Steps[3].Status != "Created GitHub repository" {
		t.Errorf("action step status = %q", entry.Steps[3].Status)
	}
}

func TestUnsafeSenderFlagged(t *testing.T) {
	e := New(nil, nil)
	e.Apply(mustDecode(t, `{"type":"email_detected","email_id":"e1","subject":"S","sender":"x@evil.com","is_valid_domain":false}`))
	e.Apply(mustDecode(t, `{"type":"spam_alert","email_id":"e1","message":"Email rejected: Sender not from authorized domain"}`))
	e.Apply(mustDecode(t, `{"type":"spam_alert","email_id":"e1","message":"Email rejected: Sender not from authorized domain"}`))

	entry, _ := e.Timeline("e1")
	if !entry.FlaggedUnsafe {
		t.Error("FlaggedUnsafe not set")
	}
	if len(entry.Steps) != 3 {
		t.Errorf("steps = %d, want 3 (alerts always append)", len(entry.Steps))
	}
}

func TestEventsForUnknownEmailDropped(t *testing.T) {
	e := New(nil, nil)
	e.Apply(mustDecode(t, `{"type":"intent_analyzed","email_id":"ghost","intent":"create_repo"}`))
	e.Apply(mustDecode(t, `{"type":"spam_alert","email_id":"ghost","message":"x"}`))
	e.Apply(mustDecode(t, `{"type":"email_reply","email_id":"ghost","thread_id":"t1"}`))

	if got := len(e.Timelines()); got != 0 {
		t.Errorf("timelines = %d, want 0", got)
	}
}

func TestTicketUpdateFlowsToBothViews(t *testing.T) {
	e := New(nil, nil)
	e.ApplyTicketSnapshot([]protocol.Ticket{{TicketID: "42", Title: "S", EmailID: "e1"}})
	e.Apply(mustDecode(t, `{"type":"email_detected","email_id":"e1","subject":"S","sender":"a@b.com"}`))
	e.Apply(mustDecode(t, `{"type":"ticket_updated","email_id":"e1","ticket_id":42,"status":"in progress","comment":"working","revision_id":3}`))

	entry, _ := e.Timeline("e1")
	if entry.Steps[len(entry.Steps)-1].Status != timeline.StepTicketUpdated {
		t.Errorf("timeline missing update step: %+v", entry.Steps)
	}

	rec, ok := e.Ticket("42")
	if !ok || len(rec.Updates) != 1 {
		t.Fatalf("ticket updates = %+v ok=%v", rec.Updates, ok)
	}
	u := rec.Updates[0]
	if u.Status != "in progress" || u.Comment != "working" || u.RevisionID != "3" {
		t.Errorf("update = %+v", u)
	}
	if u.Timestamp.IsZero() {
		t.Error("update timestamp not set")
	}
}

func TestReplyCorrelation(t *testing.T) {
	e := New(nil, nil)
	e.ApplyTicketSnapshot([]protocol.Ticket{{TicketID: "42", EmailID: "e1"}})
	e.Apply(mustDecode(t, `{"type":"ticket_updated","ticket_id":"42","status":"created"}`))
	e.Apply(mustDecode(t, `{"type":"ticket_updated","ticket_id":"42","status":"resolved"}`))
	e.Apply(mustDecode(t, `{"type":"email_reply","email_id":"e1","thread_id":"t1","message_id":"m9"}`))

	rec, _ := e.Ticket("42")
	if rec.Updates[0].EmailSent {
		t.Error("first update must stay untouched")
	}
	if !rec.Updates[1].EmailSent || rec.Updates[1].EmailMessageID != "m9" {
		t.Errorf("last update = %+v", rec.Updates[1])
	}
}

func TestSessionEventIsOnlyStatusWriter(t *testing.T) {
	b := &fakeBackend{}
	e := New(b, nil)

	if err := e.StartAgent(context.Background()); err != nil {
		t.Fatalf("StartAgent: %v", err)
	}
	if b.startCalls != 1 {
		t.Errorf("startCalls = %d", b.startCalls)
	}
	if status, _ := e.AgentState(); status != AgentStopped {
		t.Errorf("status after StartAgent = %q, want stopped (no optimistic set)", status)
	}

	e.Apply(mustDecode(t, `{"type":"session","status":"started","session_id":"s1"}`))
	status, session := e.AgentState()
	if status != AgentStarted || session != "s1" {
		t.Errorf("state = %q/%q", status, session)
	}

	e.Apply(mustDecode(t, `{"type":"session","status":"stopped","session_id":null}`))
	if status, _ := e.AgentState(); status != AgentStopped {
		t.Errorf("status = %q", status)
	}
}

func TestDismissThenFreshArrival(t *testing.T) {
	e := New(nil, nil)
	e.Apply(mustDecode(t, `{"type":"email_detected","email_id":"e1","subject":"S","sender":"a@b.com"}`))
	e.Apply(mustDecode(t, `{"type":"intent_analyzed","email_id":"e1","intent":"create_repo"}`))

	if !e.Dismiss("e1") {
		t.Fatal("Dismiss failed")
	}
	if _, ok := e.Timeline("e1"); ok {
		t.Fatal("entry survived dismissal")
	}

	e.Apply(mustDecode(t, `{"type":"email_detected","email_id":"e1","subject":"S2","sender":"a@b.com"}`))
	entry, ok := e.Timeline("e1")
	if !ok {
		t.Fatal("fresh arrival should recreate the entry")
	}
	if len(entry.Steps) != 1 {
		t.Errorf("steps = %d, want 1 (prior history must not return)", len(entry.Steps))
	}
}

func TestAdminRequestWithoutDigits(t *testing.T) {
	b := &fakeBackend{response: "should not be called"}
	e := New(b, nil)

	id := e.SubmitAdminRequest(context.Background(), "please help")
	entry, ok := e.Timeline(id)
	if !ok {
		t.Fatal("synthetic entry missing")
	}
	if len(entry.Steps) != 1 || entry.Steps[0].Status != timeline.StepError {
		t.Errorf("steps = %+v", entry.Steps)
	}
	if len(b.requests) != 0 {
		t.Errorf("backend called %d times, want 0", len(b.requests))
	}
}

func TestAdminRequestSuccess(t *testing.T) {
	b := &fakeBackend{response: "ticket 42 is resolved"}
	e := New(b, nil)
	e.now = func() time.Time { return time.Unix(0, 12345) }

	id := e.SubmitAdminRequest(context.Background(), "summarize ticket 42 for me")
	if id != "admin-request-12345" {
		t.Errorf("entry id = %q", id)
	}
	if len(b.requestIDs) != 1 || b.requestIDs[0] != 42 {
		t.Fatalf("requestIDs = %v", b.requestIDs)
	}

	entry, _ := e.Timeline(id)
	if len(entry.Steps) != 2 {
		t.Fatalf("steps = %+v", entry.Steps)
	}
	if entry.Steps[0].Status != timeline.StepAdminRequest || entry.Steps[1].Status != timeline.StepAdminResponse {
		t.Errorf("statuses = %q, %q", entry.Steps[0].Status, entry.Steps[1].Status)
	}
	if entry.Steps[1].Details != "ticket 42 is resolved" {
		t.Errorf("response details = %q", entry.Steps[1].Details)
	}
}

func TestAdminRequestFailure(t *testing.T) {
	b := &fakeBackend{requestErr: errors.New("backend: send request: ticket not found")}
	e := New(b, nil)

	id := e.SubmitAdminRequest(context.Background(), "update ticket 42")
	entry, _ := e.Timeline(id)
	last := entry.Steps[len(entry.Steps)-1]
	if last.Status != timeline.StepError {
		t.Errorf("last step status = %q", last.Status)
	}
	if last.Details != "backend: send request: ticket not found" {
		t.Errorf("last step details = %q", last.Details)
	}
}

func TestSnapshotCoherence(t *testing.T) {
	e := New(nil, nil)
	e.Apply(mustDecode(t, `{"type":"session","status":"started","session_id":"s1"}`))
	e.Apply(mustDecode(t, `{"type":"email_detected","email_id":"e1","subject":"S","sender":"a@b.com"}`))
	e.ApplyTicketSnapshot([]protocol.Ticket{{TicketID: "42", Title: "S"}})

	snap := e.Snapshot()
	if snap.AgentStatus != AgentStarted || snap.SessionID != "s1" {
		t.Errorf("snapshot state = %+v", snap)
	}
	if len(snap.Timelines) != 1 || len(snap.Tickets) != 1 {
		t.Errorf("snapshot sizes = %d timelines, %d tickets", len(snap.Timelines), len(snap.Tickets))
	}
}
