package bus

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// maxPending bounds envelopes buffered between two polls; older ones are dropped first.
const maxPending = 1024

const (
	minRedial   = 100 * time.Millisecond
	maxRedial   = 5 * time.Second
	dialTimeout = 5 * time.Second
)

// ErrDisconnected is returned while a WSEndpoint has lost its hub and is redialling.
var ErrDisconnected = errors.New("hub disconnected")

// WSEndpoint attaches to a websocket hub (internal/transport/ws). A lost connection is
// redialled with exponential backoff until Close; meanwhile Publish fails with
// ErrDisconnected so callers retry instead of assuming delivery.
type WSEndpoint struct {
	url     string
	agentID string
	logger  *log.Logger

	writeMu sync.Mutex

	mu       sync.Mutex
	conn     *websocket.Conn
	pending  []Envelope
	err      error
	reported bool
	closed   bool

	stop chan struct{}
	done chan struct{}
}

// DialWS connects agentID to the hub at rawURL (ws://host/bus).
func DialWS(ctx context.Context, rawURL, agentID string, logger *log.Logger) (*WSEndpoint, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("hub url: %w", err)
	}
	q := u.Query()
	q.Set("agent", agentID)
	u.RawQuery = q.Encode()

	e := &WSEndpoint{
		url:     u.String(),
		agentID: agentID,
		logger:  logger,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	conn, err := e.dial(ctx)
	if err != nil {
		return nil, err
	}
	e.conn = conn
	go e.run(conn)
	return e, nil
}

func (e *WSEndpoint) dial(ctx context.Context) (*websocket.Conn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, e.url, nil)
	if err != nil {
		u, _ := url.Parse(e.url)
		return nil, fmt.Errorf("dial %s: %w", u.Redacted(), err)
	}
	return conn, nil
}

// run reads from conn until it fails, then redials until it succeeds or Close is called.
func (e *WSEndpoint) run(conn *websocket.Conn) {
	defer close(e.done)
	for {
		err := e.readLoop(conn)
		_ = conn.Close()

		e.mu.Lock()
		closed := e.closed
		e.conn = nil
		e.err = err
		e.reported = false
		e.mu.Unlock()
		if closed {
			return
		}
		e.logf("hub connection lost: %v", err)

		conn = e.redial()
		if conn == nil {
			return
		}
	}
}

func (e *WSEndpoint) redial() *websocket.Conn {
	wait := minRedial
	for {
		select {
		case <-e.stop:
			return nil
		case <-time.After(wait):
		}
		ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
		conn, err := e.dial(ctx)
		cancel()
		if err == nil {
			e.mu.Lock()
			if e.closed {
				e.mu.Unlock()
				_ = conn.Close()
				return nil
			}
			e.conn = conn
			e.err = nil
			e.mu.Unlock()
			e.logf("hub reconnected")
			return conn
		}
		e.mu.Lock()
		e.err = err
		e.mu.Unlock()
		wait = min(wait*2, maxRedial)
	}
}

// readLoop buffers envelopes for this agent. Pings from the hub are answered by the
// connection's default ping handler while ReadMessage runs.
func (e *WSEndpoint) readLoop(conn *websocket.Conn) error {
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		env, err := UnmarshalEnvelope(msg)
		if err != nil {
			e.logf("drop hub frame: %v", err)
			continue
		}
		if !env.For(e.agentID) {
			continue
		}
		e.mu.Lock()
		e.pending = append(e.pending, env)
		if over := len(e.pending) - maxPending; over > 0 {
			e.pending = append([]Envelope(nil), e.pending[over:]...)
		}
		e.mu.Unlock()
	}
}

func (e *WSEndpoint) Publish(_ context.Context, env Envelope) error {
	raw, err := env.Marshal()
	if err != nil {
		return err
	}
	e.mu.Lock()
	conn, closed, lastErr := e.conn, e.closed, e.err
	e.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if conn == nil {
		return fmt.Errorf("%w: %v", ErrDisconnected, lastErr)
	}

	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
		// Unblock the reader so run notices and redials.
		_ = conn.Close()
		return fmt.Errorf("write: %w", err)
	}
	return nil
}

// Poll returns buffered envelopes. After the connection drops, the first Poll that finds
// the buffer empty returns the cause once; later polls return nothing until the hub is back.
func (e *WSEndpoint) Poll(_ context.Context) ([]Envelope, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, ErrClosed
	}
	out := e.pending
	e.pending = nil
	if len(out) == 0 && e.conn == nil && e.err != nil && !e.reported {
		e.reported = true
		return nil, fmt.Errorf("%w: %v", ErrDisconnected, e.err)
	}
	return out, nil
}

// Connected reports whether the endpoint currently holds a hub connection.
func (e *WSEndpoint) Connected() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.conn != nil
}

func (e *WSEndpoint) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	conn := e.conn
	e.mu.Unlock()
	close(e.stop)

	var err error
	if conn != nil {
		e.writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		e.writeMu.Unlock()
		err = conn.Close()
	}
	<-e.done
	return err
}

func (e *WSEndpoint) logf(format string, args ...any) {
	if e.logger != nil {
		e.logger.Printf(format, args...)
	}
}
