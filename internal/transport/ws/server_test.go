package ws

import (
	"context"
	"errors"
	"net"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"agentcraft.ai/internal/bus"
	"agentcraft.ai/internal/clock"
	"agentcraft.ai/internal/protocol"
)

func pollUntil(t *testing.T, ep bus.Endpoint, n int) []bus.Envelope {
	t.Helper()
	var got []bus.Envelope
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		batch, err := ep.Poll(context.Background())
		if err != nil {
			t.Fatalf("Poll: %v", err)
		}
		got = append(got, batch...)
		if len(got) >= n {
			return got
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out: got %d envelopes want %d", len(got), n)
	return nil
}

func TestServer_RelaysBetweenAgents(t *testing.T) {
	s := NewServer(nil)
	relayed := make(chan bus.Envelope, 4)
	s.Tap(func(e bus.Envelope) { relayed <- e })
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	ctx := context.Background()
	alice, err := bus.DialWS(ctx, url, "alice", nil)
	if err != nil {
		t.Fatalf("dial alice: %v", err)
	}
	defer alice.Close()
	bob, err := bus.DialWS(ctx, url, "bob", nil)
	if err != nil {
		t.Fatalf("dial bob: %v", err)
	}
	defer bob.Close()

	deadline := time.Now().Add(2 * time.Second)
	for len(s.Agents()) < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	clk := clock.Real{}
	need := bus.NewEnvelope(clk, "alice", "", protocol.Need("hoe"))
	if err := alice.Publish(ctx, need); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	got := pollUntil(t, bob, 1)
	if got[0].ID != need.ID || got[0].Text != "[NEED] hoe" {
		t.Fatalf("bob got %+v", got[0])
	}
	select {
	case e := <-relayed:
		if e.ID != need.ID {
			t.Fatalf("tap got %s", e.ID)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("tap not called")
	}

	// Spoofed sender is dropped; the following genuine envelope still arrives.
	spoof := bus.NewEnvelope(clk, "carol", "", protocol.Need("axe"))
	alice.Publish(ctx, spoof)
	reply := bus.NewEnvelope(clk, "alice", "bob", protocol.AcceptProvider("hoe", "bob"))
	alice.Publish(ctx, reply)
	got = pollUntil(t, bob, 1)
	if len(got) != 1 || got[0].ID != reply.ID {
		t.Fatalf("bob got %+v", got)
	}
}

// trackingListener remembers accepted connections so a test can cut them.
type trackingListener struct {
	net.Listener

	mu    sync.Mutex
	conns []net.Conn
}

func (l *trackingListener) Accept() (net.Conn, error) {
	c, err := l.Listener.Accept()
	if err == nil {
		l.mu.Lock()
		l.conns = append(l.conns, c)
		l.mu.Unlock()
	}
	return c, err
}

func (l *trackingListener) dropAll() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, c := range l.conns {
		_ = c.Close()
	}
	l.conns = nil
}

func startHub(t *testing.T, s *Server) (*httptest.Server, *trackingListener, string) {
	t.Helper()
	srv := httptest.NewUnstartedServer(s.Handler())
	tl := &trackingListener{Listener: srv.Listener}
	srv.Listener = tl
	srv.Start()
	t.Cleanup(srv.Close)
	return srv, tl, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func waitAgents(t *testing.T, s *Server, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for len(s.Agents()) < n && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := len(s.Agents()); got < n {
		t.Fatalf("agents = %d want %d", got, n)
	}
}

func TestServer_PingsKeepQuietAgentsAttached(t *testing.T) {
	s := NewServer(nil)
	s.PongWait = 150 * time.Millisecond
	_, _, url := startHub(t, s)

	ctx := context.Background()
	alice, err := bus.DialWS(ctx, url, "alice", nil)
	if err != nil {
		t.Fatalf("dial alice: %v", err)
	}
	defer alice.Close()
	bob, err := bus.DialWS(ctx, url, "bob", nil)
	if err != nil {
		t.Fatalf("dial bob: %v", err)
	}
	defer bob.Close()
	waitAgents(t, s, 2)

	// Several read deadlines pass with no traffic from either agent.
	time.Sleep(4 * s.PongWait)
	if got := len(s.Agents()); got != 2 {
		t.Fatalf("agents after idle = %d want 2", got)
	}
	need := bus.NewEnvelope(clock.Real{}, "alice", "", protocol.Need("hoe"))
	if err := alice.Publish(ctx, need); err != nil {
		t.Fatalf("Publish after idle: %v", err)
	}
	got := pollUntil(t, bob, 1)
	if got[0].ID != need.ID {
		t.Fatalf("bob got %+v", got[0])
	}
}

func TestDialWS_RedialsAfterHubDropsConnection(t *testing.T) {
	s := NewServer(nil)
	_, tl, url := startHub(t, s)

	ctx := context.Background()
	alice, err := bus.DialWS(ctx, url, "alice", nil)
	if err != nil {
		t.Fatalf("dial alice: %v", err)
	}
	defer alice.Close()
	bob, err := bus.DialWS(ctx, url, "bob", nil)
	if err != nil {
		t.Fatalf("dial bob: %v", err)
	}
	defer bob.Close()
	waitAgents(t, s, 2)

	tl.dropAll()

	clk := clock.Real{}
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		env := bus.NewEnvelope(clk, "alice", "bob", protocol.NeedFulfilled("hoe"))
		_ = alice.Publish(ctx, env)
		time.Sleep(50 * time.Millisecond)
		batch, _ := bob.Poll(ctx)
		for _, e := range batch {
			if e.ID == env.ID {
				return
			}
		}
	}
	t.Fatalf("no envelope relayed after reconnect")
}

func TestDialWS_PublishFailsWhileHubIsGone(t *testing.T) {
	s := NewServer(nil)
	srv, tl, url := startHub(t, s)

	ctx := context.Background()
	alice, err := bus.DialWS(ctx, url, "alice", nil)
	if err != nil {
		t.Fatalf("dial alice: %v", err)
	}
	defer alice.Close()
	waitAgents(t, s, 1)

	_ = srv.Listener.Close()
	tl.dropAll()

	env := bus.NewEnvelope(clock.Real{}, "alice", "", protocol.Need("hoe"))
	deadline := time.Now().Add(2 * time.Second)
	for {
		err := alice.Publish(ctx, env)
		if errors.Is(err, bus.ErrDisconnected) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("Publish err = %v, want ErrDisconnected", err)
		}
		time.Sleep(10 * time.Millisecond)
	}
	if alice.Connected() {
		t.Fatalf("endpoint still reports a connection")
	}
	if _, err := alice.Poll(ctx); !errors.Is(err, bus.ErrDisconnected) {
		t.Fatalf("first Poll err = %v, want ErrDisconnected", err)
	}
	if _, err := alice.Poll(ctx); err != nil {
		t.Fatalf("second Poll err = %v, want nil", err)
	}
	if err := alice.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := alice.Publish(ctx, env); !errors.Is(err, bus.ErrClosed) {
		t.Fatalf("Publish after Close = %v, want ErrClosed", err)
	}
}
