// Package observer streams agent status to websocket viewers. The server is a
// status.Reporter; every report is fanned out to the subscribed sessions.
package observer

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"agentcraft.ai/internal/agent/status"
	"agentcraft.ai/internal/observerproto"
	"agentcraft.ai/internal/sim/world"
)

const sessionQueue = 256

type Server struct {
	world  *world.World
	latest *status.Latest
	log    *log.Logger

	// AllowRemote disables the loopback-only check.
	AllowRemote bool

	upgrader websocket.Upgrader
	nextID   atomic.Uint64
	dropped  atomic.Uint64

	mu       sync.Mutex
	sessions map[string]*session
}

type session struct {
	out     chan []byte
	filter  map[string]bool
	history bool
}

func NewServer(w *world.World, latest *status.Latest, logger *log.Logger) *Server {
	return &Server{
		world:    w,
		latest:   latest,
		log:      logger,
		sessions: map[string]*session{},
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

// Report implements status.Reporter. Slow sessions lose frames rather than block agents.
func (s *Server) Report(st status.Status) {
	var full []byte
	var slim []byte
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sess := range s.sessions {
		if len(sess.filter) > 0 && !sess.filter[st.AgentID] {
			continue
		}
		var b []byte
		if sess.history {
			if full == nil {
				full = encodeStatus(st)
			}
			b = full
		} else {
			if slim == nil {
				cp := st
				cp.History = nil
				slim = encodeStatus(cp)
			}
			b = slim
		}
		s.push(sess, b)
	}
}

// PublishTick tells every session the world advanced.
func (s *Server) PublishTick() {
	if s.world == nil {
		return
	}
	b, _ := json.Marshal(observerproto.TickMsg{
		Type:            "TICK",
		ProtocolVersion: observerproto.Version,
		WorldID:         s.world.Config().ID,
		Tick:            s.world.CurrentTick(),
		Dropped:         s.dropped.Load(),
	})
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sess := range s.sessions {
		s.push(sess, b)
	}
}

// Sessions reports how many viewers are attached.
func (s *Server) Sessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *Server) push(sess *session, b []byte) {
	select {
	case sess.out <- b:
	default:
		s.dropped.Add(1)
	}
}

func encodeStatus(st status.Status) []byte {
	b, _ := json.Marshal(observerproto.StatusMsg{
		Type:            "STATUS",
		ProtocolVersion: observerproto.Version,
		Status:          st,
	})
	return b
}

func (s *Server) BootstrapHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !s.AllowRemote && !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}

		resp := observerproto.BootstrapResponse{ProtocolVersion: observerproto.Version}
		if s.world != nil {
			resp.WorldID = s.world.Config().ID
			resp.Tick = s.world.CurrentTick()
		}
		if s.latest != nil {
			resp.Statuses = s.latest.All()
		}
		resp.Agents = make([]observerproto.AgentInfo, 0, len(resp.Statuses))
		for _, st := range resp.Statuses {
			resp.Agents = append(resp.Agents, observerproto.AgentInfo{ID: st.AgentID, Role: st.Role, Color: st.Color})
		}

		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(resp)
	}
}

func (s *Server) WSHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !s.AllowRemote && !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}

		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		// Handshake: must send SUBSCRIBE first.
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		sub, ok := parseSubscribe(msg)
		if !ok {
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected SUBSCRIBE"), time.Now().Add(time.Second))
			return
		}

		sid := fmt.Sprintf("O%d", s.nextID.Add(1))
		sess := newSession(sub)
		s.mu.Lock()
		s.sessions[sid] = sess
		s.mu.Unlock()
		s.logf("observer %s attached (agents=%v)", sid, sub.Agents)
		defer func() {
			s.mu.Lock()
			delete(s.sessions, sid)
			s.mu.Unlock()
			s.logf("observer %s detached", sid)
		}()

		// Current state first, so viewers do not wait for the next report.
		if s.latest != nil {
			for _, st := range s.latest.All() {
				if len(sess.filter) == 0 || sess.filter[st.AgentID] {
					s.push(sess, encodeStatus(st))
				}
			}
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		writeErr := make(chan error, 1)
		go func() {
			for {
				select {
				case <-ctx.Done():
					writeErr <- ctx.Err()
					return
				case b := <-sess.out:
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						writeErr <- err
						return
					}
				}
			}
		}()

		// Reader loop: allow SUBSCRIBE updates.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			sub, ok := parseSubscribe(msg)
			if !ok {
				continue
			}
			next := newSession(sub)
			s.mu.Lock()
			sess.filter, sess.history = next.filter, next.history
			s.mu.Unlock()
		}

		cancel()
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))

		select {
		case <-writeErr:
		case <-time.After(500 * time.Millisecond):
		}
	}
}

func newSession(sub observerproto.SubscribeMsg) *session {
	sess := &session{out: make(chan []byte, sessionQueue), history: sub.History}
	if len(sub.Agents) > 0 {
		sess.filter = map[string]bool{}
		for _, id := range sub.Agents {
			sess.filter[id] = true
		}
	}
	return sess
}

func parseSubscribe(msg []byte) (observerproto.SubscribeMsg, bool) {
	var sub observerproto.SubscribeMsg
	if err := json.Unmarshal(msg, &sub); err != nil {
		return sub, false
	}
	return sub, sub.Type == "SUBSCRIBE" && sub.ProtocolVersion == observerproto.Version
}

func (s *Server) logf(format string, args ...any) {
	if s.log != nil {
		s.log.Printf(format, args...)
	}
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
