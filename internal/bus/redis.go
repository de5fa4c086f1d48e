package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/redis/go-redis/v9"
)

// RedisEndpoint shares the channel through one Redis stream. Each endpoint keeps its own
// read cursor, so every agent sees every entry.
type RedisEndpoint struct {
	client  *redis.Client
	stream  string
	agentID string
	maxLen  int64
	logger  *log.Logger

	mu     sync.Mutex
	lastID string
}

type RedisOption func(*RedisEndpoint)

// WithMaxLenApprox trims the stream to roughly n entries on publish.
func WithMaxLenApprox(n int64) RedisOption {
	return func(e *RedisEndpoint) { e.maxLen = n }
}

func WithRedisLogger(l *log.Logger) RedisOption {
	return func(e *RedisEndpoint) { e.logger = l }
}

// NewRedisEndpoint attaches agentID to stream. Only entries added after the call are
// delivered.
func NewRedisEndpoint(ctx context.Context, client *redis.Client, stream, agentID string, opts ...RedisOption) (*RedisEndpoint, error) {
	if stream == "" {
		return nil, fmt.Errorf("stream name is required")
	}
	e := &RedisEndpoint{client: client, stream: stream, agentID: agentID, lastID: "0-0"}
	for _, opt := range opts {
		opt(e)
	}
	last, err := client.XRevRangeN(ctx, stream, "+", "-", 1).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("xrevrange: %w", err)
	}
	if len(last) > 0 {
		e.lastID = last[0].ID
	}
	return e, nil
}

func (e *RedisEndpoint) Publish(ctx context.Context, env Envelope) error {
	raw, err := env.Marshal()
	if err != nil {
		return err
	}
	args := &redis.XAddArgs{
		Stream: e.stream,
		Values: map[string]interface{}{"envelope": string(raw)},
	}
	if e.maxLen > 0 {
		args.MaxLen = e.maxLen
		args.Approx = true
	}
	if err := e.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("xadd: %w", err)
	}
	return nil
}

// Poll reads without blocking. Entries that fail schema validation are skipped.
func (e *RedisEndpoint) Poll(ctx context.Context) ([]Envelope, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	streams, err := e.client.XRead(ctx, &redis.XReadArgs{
		Streams: []string{e.stream, e.lastID},
		Count:   256,
		Block:   -1,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("xread: %w", err)
	}

	var out []Envelope
	for _, st := range streams {
		for _, msg := range st.Messages {
			e.lastID = msg.ID
			env, ok := e.decode(msg)
			if !ok || !env.For(e.agentID) {
				continue
			}
			out = append(out, env)
		}
	}
	return out, nil
}

func (e *RedisEndpoint) decode(msg redis.XMessage) (Envelope, bool) {
	raw, ok := msg.Values["envelope"]
	if !ok {
		return Envelope{}, false
	}
	var b []byte
	switch v := raw.(type) {
	case string:
		b = []byte(v)
	case []byte:
		b = v
	default:
		enc, err := json.Marshal(v)
		if err != nil {
			return Envelope{}, false
		}
		b = enc
	}
	env, err := UnmarshalEnvelope(b)
	if err != nil {
		if e.logger != nil {
			e.logger.Printf("drop stream entry %s: %v", msg.ID, err)
		}
		return Envelope{}, false
	}
	return env, true
}

// Close leaves the shared client open; its owner closes it.
func (e *RedisEndpoint) Close() error { return nil }
