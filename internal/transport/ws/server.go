package ws

import (
	"context"
	"log"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"agentcraft.ai/internal/bus"
)

// DefaultPongWait is how long a connection may stay silent, pongs included, before the
// hub drops it.
const DefaultPongWait = 60 * time.Second

// Server relays envelopes between websocket-attached agents. Each connection names its
// agent with ?agent=<id>; envelopes whose From does not match are dropped.
//
// The hub pings every connection at nine tenths of PongWait so quiet agents stay attached.
type Server struct {
	log *log.Logger

	PongWait time.Duration

	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns map[string]chan []byte
	taps  []func(bus.Envelope)
}

func NewServer(logger *log.Logger) *Server {
	return &Server{
		log:      logger,
		PongWait: DefaultPongWait,
		conns:    map[string]chan []byte{},
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 16 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

// Tap registers fn to observe every relayed envelope.
func (s *Server) Tap(fn func(bus.Envelope)) {
	s.mu.Lock()
	s.taps = append(s.taps, fn)
	s.mu.Unlock()
}

// Agents returns the attached agent ids.
func (s *Server) Agents() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.conns))
	for id := range s.conns {
		out = append(out, id)
	}
	return out
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		agentID := strings.TrimSpace(r.URL.Query().Get("agent"))
		if agentID == "" {
			http.Error(rw, "missing agent", http.StatusBadRequest)
			return
		}
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		out := make(chan []byte, 64)
		if !s.attach(agentID, out) {
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "agent already attached"), time.Now().Add(time.Second))
			return
		}
		defer s.detach(agentID, out)

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		pongWait := s.PongWait
		if pongWait <= 0 {
			pongWait = DefaultPongWait
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})

		// Writer goroutine; the only writer of data and pings.
		go func() {
			ping := time.NewTicker(pongWait * 9 / 10)
			defer ping.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ping.C:
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
						cancel()
						return
					}
				case b := <-out:
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						cancel()
						return
					}
				}
			}
		}()

		// Reader loop.
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				cancel()
				return
			}
			_ = conn.SetReadDeadline(time.Now().Add(pongWait))
			env, err := bus.UnmarshalEnvelope(msg)
			if err != nil {
				s.logf("drop frame from %s: %v", agentID, err)
				continue
			}
			if env.From != agentID {
				s.logf("drop envelope %s: from %q on connection of %q", env.ID, env.From, agentID)
				continue
			}
			s.relay(env, msg)
		}
	}
}

func (s *Server) attach(agentID string, out chan []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conns[agentID]; ok {
		return false
	}
	s.conns[agentID] = out
	return true
}

func (s *Server) detach(agentID string, out chan []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.conns[agentID]; ok && cur == out {
		delete(s.conns, agentID)
	}
}

func (s *Server) relay(env bus.Envelope, raw []byte) {
	s.mu.Lock()
	taps := slices.Clone(s.taps)
	for id, out := range s.conns {
		if !env.For(id) {
			continue
		}
		select {
		case out <- raw:
		default:
			s.logf("drop envelope %s for %s: queue full", env.ID, id)
		}
	}
	s.mu.Unlock()
	for _, fn := range taps {
		fn(env)
	}
}

func (s *Server) logf(format string, args ...any) {
	if s.log != nil {
		s.log.Printf(format, args...)
	}
}
