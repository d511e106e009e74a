package stream

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/triagedeck-io/triagedeck/pkg/protocol"
)

// scriptConn replays queued frames, then fails with an error to simulate a
// dropped connection.
type scriptConn struct {
	mu     sync.Mutex
	frames [][]byte
	closed bool
}

func (c *scriptConn) ReadMessage() (int, []byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, nil, io.ErrClosedPipe
	}
	if len(c.frames) == 0 {
		return 0, nil, errors.New("connection reset")
	}
	f := c.frames[0]
	c.frames = c.frames[1:]
	return 1, f, nil
}

func (c *scriptConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

type stateRecorder struct {
	mu     sync.Mutex
	states []State
}

func (r *stateRecorder) record(s State) {
	r.mu.Lock()
	r.states = append(r.states, s)
	r.mu.Unlock()
}

func (r *stateRecorder) count(s State) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, got := range r.states {
		if got == s {
			n++
		}
	}
	return n
}

func TestReconnectCeiling(t *testing.T) {
	dials := 0
	rec := &stateRecorder{}
	m := &Manager{
		URL: "ws://test",
		Dial: func(context.Context, string) (Conn, error) {
			dials++
			return nil, errors.New("connection refused")
		},
		Handler:    func(protocol.Event) {},
		OnState:    rec.record,
		RetryDelay: time.Millisecond,
		MaxRetries: 10,
	}

	err := m.Run(context.Background())
	if !errors.Is(err, ErrRetriesExhausted) {
		t.Fatalf("Run = %v, want ErrRetriesExhausted", err)
	}
	if dials != 10 {
		t.Errorf("dials = %d, want exactly 10", dials)
	}
	if m.State() != StateFailed {
		t.Errorf("state = %q, want failed", m.State())
	}
	if rec.count(StateFailed) != 1 {
		t.Errorf("failed reported %d times, want once", rec.count(StateFailed))
	}
}

func TestRetryCounterResetsOnOpen(t *testing.T) {
	// 9 dial failures, one success (one frame then drop), then more
	// failures. The drop after the successful open counts as the first of
	// a fresh stretch of 10; without the reset the run would die before
	// the successful dial ever happened.
	var events []protocol.Event
	var mu sync.Mutex
	dials := 0
	m := &Manager{
		URL: "ws://test",
		Dial: func(context.Context, string) (Conn, error) {
			dials++
			if dials == 10 {
				return &scriptConn{frames: [][]byte{
					[]byte(`{"type":"session","status":"started","session_id":"s1"}`),
				}}, nil
			}
			return nil, errors.New("connection refused")
		},
		Handler: func(ev protocol.Event) {
			mu.Lock()
			events = append(events, ev)
			mu.Unlock()
		},
		RetryDelay: time.Millisecond,
		MaxRetries: 10,
	}

	err := m.Run(context.Background())
	if !errors.Is(err, ErrRetriesExhausted) {
		t.Fatalf("Run = %v", err)
	}
	// 9 failures + 1 success (whose drop is failure 1 of 10) + 9 more.
	if dials != 19 {
		t.Errorf("dials = %d, want 19", dials)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(events) != 1 {
		t.Fatalf("events = %d, want 1", len(events))
	}
	if _, ok := events[0].(*protocol.Session); !ok {
		t.Errorf("event = %T", events[0])
	}
}

func TestMalformedFramesDropped(t *testing.T) {
	var events []protocol.Event
	var mu sync.Mutex
	dials := 0
	m := &Manager{
		URL: "ws://test",
		Dial: func(context.Context, string) (Conn, error) {
			dials++
			if dials > 1 {
				return nil, errors.New("refused")
			}
			return &scriptConn{frames: [][]byte{
				[]byte(`{garbage`),
				[]byte(`{"no_type":true}`),
				[]byte(`{"type":"email_detected","email_id":"e1","subject":"S","sender":"a@b"}`),
			}}, nil
		},
		Handler: func(ev protocol.Event) {
			mu.Lock()
			events = append(events, ev)
			mu.Unlock()
		},
		RetryDelay: time.Millisecond,
		MaxRetries: 2,
	}

	if err := m.Run(context.Background()); !errors.Is(err, ErrRetriesExhausted) {
		t.Fatalf("Run = %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(events) != 1 {
		t.Fatalf("events = %d, want 1 (malformed frames dropped)", len(events))
	}
	if _, ok := events[0].(*protocol.EmailDetected); !ok {
		t.Errorf("event = %T", events[0])
	}
}

func TestCancelStopsDelivery(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	delivered := make(chan struct{}, 1)
	m := &Manager{
		URL: "ws://test",
		Dial: func(context.Context, string) (Conn, error) {
			return &scriptConn{frames: [][]byte{
				[]byte(`{"type":"session","status":"started","session_id":"s1"}`),
			}}, nil
		},
		Handler: func(protocol.Event) {
			select {
			case delivered <- struct{}{}:
			default:
			}
			cancel()
		},
		RetryDelay: time.Millisecond,
		MaxRetries: 10,
	}

	err := m.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run = %v, want context.Canceled", err)
	}
	select {
	case <-delivered:
	default:
		t.Error("expected one delivery before cancellation")
	}
	if m.State() == StateFailed {
		t.Error("cancellation must not report terminal failure")
	}
}
