package poller

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/triagedeck-io/triagedeck/pkg/protocol"
)

type fakeSource struct {
	mu      sync.Mutex
	tickets []protocol.Ticket
	err     error
	calls   int
}

func (f *fakeSource) FetchTickets(context.Context) ([]protocol.Ticket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.tickets, nil
}

func TestPollAppliesSnapshot(t *testing.T) {
	src := &fakeSource{tickets: []protocol.Ticket{{TicketID: "42"}}}
	var applied [][]protocol.Ticket
	p := New(src, time.Second, func(list []protocol.Ticket) {
		applied = append(applied, list)
	}, nil)

	p.Poll(context.Background())
	if len(applied) != 1 || len(applied[0]) != 1 {
		t.Fatalf("applied = %+v", applied)
	}
	if applied[0][0].TicketID != "42" {
		t.Errorf("ticket = %+v", applied[0][0])
	}
}

func TestPollFailureKeepsPreviousSnapshot(t *testing.T) {
	src := &fakeSource{err: errors.New("backend down")}
	applies := 0
	p := New(src, time.Second, func([]protocol.Ticket) { applies++ }, nil)

	p.Poll(context.Background())
	p.Poll(context.Background())
	if applies != 0 {
		t.Errorf("applies = %d, want 0 on fetch failure", applies)
	}
}

func TestPollAfterCancelIsNoop(t *testing.T) {
	src := &fakeSource{tickets: []protocol.Ticket{{TicketID: "42"}}}
	applies := 0
	p := New(src, time.Second, func([]protocol.Ticket) { applies++ }, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p.Poll(ctx)
	if applies != 0 {
		t.Errorf("applies = %d, want 0 after cancellation", applies)
	}
	src.mu.Lock()
	defer src.mu.Unlock()
	if src.calls != 0 {
		t.Errorf("fetch calls = %d, want 0 after cancellation", src.calls)
	}
}

func TestStartRunsOnInterval(t *testing.T) {
	src := &fakeSource{tickets: []protocol.Ticket{{TicketID: "42"}}}
	var mu sync.Mutex
	applies := 0
	p := New(src, time.Second, func([]protocol.Ticket) {
		mu.Lock()
		applies++
		mu.Unlock()
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Start(ctx) }()

	// The priming poll fires immediately; the cron tick needs a second.
	time.Sleep(1500 * time.Millisecond)
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("Start = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if applies < 2 {
		t.Errorf("applies = %d, want at least 2 (prime + tick)", applies)
	}
}
