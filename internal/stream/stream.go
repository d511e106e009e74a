// Package stream owns the duplex event connection to the automation
// backend: dialing, reading frames into typed events, and bounded-retry
// reconnection.
package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/triagedeck-io/triagedeck/pkg/protocol"
)

// State is the connection lifecycle state. failed is terminal: it is only
// reached when the retry budget is exhausted.
type State string

const (
	StateConnecting State = "connecting"
	StateOpen       State = "open"
	StateClosed     State = "closed"
	StateFailed     State = "failed"
)

const (
	// DefaultRetryDelay is the fixed wait between reconnect attempts.
	DefaultRetryDelay = 3 * time.Second
	// DefaultMaxRetries is the ceiling of consecutive failures before the
	// connection is declared dead.
	DefaultMaxRetries = 10
)

// ErrRetriesExhausted is returned by Run exactly once, when the reconnect
// budget runs out with no successful open in between.
var ErrRetriesExhausted = errors.New("stream: reconnect retries exhausted")

// Conn is the read side of one established connection.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	Close() error
}

// DialFunc opens a connection to the stream endpoint. Tests inject fakes;
// production uses Dial.
type DialFunc func(ctx context.Context, url string) (Conn, error)

// Dial opens a websocket connection.
func Dial(ctx context.Context, url string) (Conn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("stream: dial %s: %w", url, err)
	}
	return conn, nil
}

// Manager keeps one live connection to the event stream, decoding each
// frame and handing it to Handler. On closure or transport error it
// reconnects after RetryDelay until MaxRetries consecutive failures, then
// transitions to failed. The failure counter resets on every successful
// open.
type Manager struct {
	URL        string
	Dial       DialFunc
	Handler    func(protocol.Event)
	OnState    func(State) // optional; called on every transition
	RetryDelay time.Duration
	MaxRetries int
	Logger     *slog.Logger

	mu    sync.Mutex
	state State
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == "" {
		return StateClosed
	}
	return m.state
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
	if m.OnState != nil {
		m.OnState(s)
	}
}

// Run drives the connection until the context is cancelled or the retry
// budget is exhausted. It returns ErrRetriesExhausted on terminal failure
// and ctx.Err() on cancellation; no events are delivered after it returns.
func (m *Manager) Run(ctx context.Context) error {
	dial := m.Dial
	if dial == nil {
		dial = Dial
	}
	delay := m.RetryDelay
	if delay <= 0 {
		delay = DefaultRetryDelay
	}
	maxRetries := m.MaxRetries
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	logger := m.Logger
	if logger == nil {
		logger = slog.Default()
	}

	failures := 0
	for {
		m.setState(StateConnecting)
		conn, err := dial(ctx, m.URL)
		if err == nil {
			m.setState(StateOpen)
			failures = 0
			logger.Info("stream connected", "url", m.URL)
			m.pump(ctx, conn, logger)
			conn.Close()
		} else if ctx.Err() == nil {
			logger.Warn("stream dial failed", "url", m.URL, "error", err)
		}

		if ctx.Err() != nil {
			m.setState(StateClosed)
			return ctx.Err()
		}

		m.setState(StateClosed)
		failures++
		if failures >= maxRetries {
			logger.Error("stream gave up reconnecting", "failures", failures)
			m.setState(StateFailed)
			return ErrRetriesExhausted
		}

		logger.Info("stream reconnecting", "attempt", failures, "delay", delay)
		if !sleep(ctx, delay) {
			return ctx.Err()
		}
	}
}

// pump reads frames until the connection dies or the context is cancelled.
// Malformed frames are dropped; they must never take the aggregates down.
func (m *Manager) pump(ctx context.Context, conn Conn, logger *slog.Logger) {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			// Unblocks the pending ReadMessage.
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				logger.Warn("stream read failed", "error", err)
			}
			return
		}
		ev, err := protocol.DecodeEvent(data)
		if err != nil {
			logger.Debug("dropping malformed frame", "error", err)
			continue
		}
		if ctx.Err() != nil {
			return
		}
		m.Handler(ev)
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
