package bus

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"agentcraft.ai/internal/clock"
	"agentcraft.ai/internal/protocol"
)

var t0 = time.Unix(1700000000, 0)

func TestEnvelope_RoundTrip(t *testing.T) {
	clk := clock.NewManual(t0)
	env := NewEnvelope(clk, "alice", "", protocol.Need("hoe"))
	if env.ID == "" || env.Text != "[NEED] hoe" || !env.SentAt.Equal(t0) {
		t.Fatalf("got %+v", env)
	}
	raw, err := env.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	got, err := UnmarshalEnvelope(raw)
	if err != nil {
		t.Fatalf("UnmarshalEnvelope: %v", err)
	}
	if got.ID != env.ID || got.From != "alice" || got.Text != env.Text {
		t.Fatalf("got %+v want %+v", got, env)
	}
	if _, err := UnmarshalEnvelope([]byte(`{"id":"1","from":"a","text":""}`)); err == nil {
		t.Fatalf("expected schema rejection")
	}
}

func TestEnvelope_For(t *testing.T) {
	b := Envelope{From: "alice"}
	if b.For("alice") || !b.For("bob") {
		t.Fatalf("broadcast routing wrong")
	}
	d := Envelope{From: "alice", To: "bob"}
	if !d.For("bob") || d.For("carol") {
		t.Fatalf("direct routing wrong")
	}
}

func TestDedupe_TTL(t *testing.T) {
	d := NewDedupe(8, 10*time.Second)
	if d.Seen("m1", t0) {
		t.Fatalf("first sighting reported as duplicate")
	}
	if !d.Seen("m1", t0.Add(time.Second)) {
		t.Fatalf("duplicate within ttl not detected")
	}
	if d.Seen("m1", t0.Add(11*time.Second)) {
		t.Fatalf("expired id reported as duplicate")
	}
	if d.Seen("", t0) || d.Seen("", t0) {
		t.Fatalf("empty ids are never duplicates")
	}
}

func TestDedupe_Bounded(t *testing.T) {
	d := NewDedupe(4, time.Hour)
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		d.Seen(id, t0)
	}
	if d.Len() != 4 {
		t.Fatalf("len: got %d want 4", d.Len())
	}
	if d.Seen("a", t0) {
		t.Fatalf("evicted id still remembered")
	}
}

func TestMemoryHub(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewManual(t0)
	hub := NewMemoryHub()
	a, b, c := hub.Join("alice"), hub.Join("bob"), hub.Join("carol")
	var tapped int
	hub.Tap(func(Envelope) { tapped++ })

	if err := a.Publish(ctx, NewEnvelope(clk, "alice", "", protocol.Need("hoe"))); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if err := a.Publish(ctx, NewEnvelope(clk, "alice", "bob", protocol.AcceptProvider("hoe", "bob"))); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if got, _ := a.Poll(ctx); len(got) != 0 {
		t.Fatalf("sender received its own envelopes: %v", got)
	}
	if got, _ := b.Poll(ctx); len(got) != 2 {
		t.Fatalf("bob: got %d want 2", len(got))
	}
	if got, _ := c.Poll(ctx); len(got) != 1 {
		t.Fatalf("carol: got %d want 1", len(got))
	}
	if got, _ := b.Poll(ctx); len(got) != 0 {
		t.Fatalf("poll must drain")
	}
	if tapped != 2 {
		t.Fatalf("tap: got %d want 2", tapped)
	}

	hub.SetDuplicateDelivery(true)
	a.Publish(ctx, NewEnvelope(clk, "alice", "", protocol.Need("axe")))
	got, _ := c.Poll(ctx)
	if len(got) != 2 || got[0].ID != got[1].ID {
		t.Fatalf("duplicate delivery: %+v", got)
	}

	c.Close()
	if _, err := c.Poll(ctx); err != ErrClosed {
		t.Fatalf("poll after close: got %v", err)
	}
	if err := a.Publish(ctx, Envelope{From: "alice"}); err == nil {
		t.Fatalf("invalid envelope published")
	}
}

func TestRedisEndpoint(t *testing.T) {
	addr := os.Getenv("AGENTCRAFT_REDIS_ADDR")
	if addr == "" {
		t.Skip("AGENTCRAFT_REDIS_ADDR not set")
	}
	ctx := context.Background()
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()
	stream := "agentcraft:test:" + NewEnvelope(clock.Real{}, "x", "", protocol.Need("x")).ID
	defer client.Del(ctx, stream)

	a, err := NewRedisEndpoint(ctx, client, stream, "alice", WithMaxLenApprox(1000))
	if err != nil {
		t.Fatalf("alice: %v", err)
	}
	b, err := NewRedisEndpoint(ctx, client, stream, "bob")
	if err != nil {
		t.Fatalf("bob: %v", err)
	}
	env := NewEnvelope(clock.Real{}, "alice", "", protocol.Need("hoe"))
	if err := a.Publish(ctx, env); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	got, err := b.Poll(ctx)
	if err != nil || len(got) != 1 || got[0].ID != env.ID {
		t.Fatalf("bob poll: %+v err=%v", got, err)
	}
	if got, _ := a.Poll(ctx); len(got) != 0 {
		t.Fatalf("sender saw its own envelope")
	}
	if got, _ := b.Poll(ctx); len(got) != 0 {
		t.Fatalf("cursor did not advance")
	}
}
