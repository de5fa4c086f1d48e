package bus

import (
	"context"
	"errors"
	"slices"
	"sync"
)

var ErrClosed = errors.New("endpoint closed")

// MemoryHub is an in-process broadcast channel. Every published envelope is queued for
// every other member.
type MemoryHub struct {
	mu        sync.Mutex
	members   map[string]*MemoryEndpoint
	order     []string
	duplicate bool
	taps      []func(Envelope)
}

func NewMemoryHub() *MemoryHub {
	return &MemoryHub{members: map[string]*MemoryEndpoint{}}
}

// Join attaches agentID. Joining twice returns the same endpoint.
func (h *MemoryHub) Join(agentID string) *MemoryEndpoint {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ep, ok := h.members[agentID]; ok {
		return ep
	}
	ep := &MemoryEndpoint{hub: h, id: agentID}
	h.members[agentID] = ep
	h.order = append(h.order, agentID)
	return ep
}

// SetDuplicateDelivery makes the hub deliver every envelope twice.
func (h *MemoryHub) SetDuplicateDelivery(on bool) {
	h.mu.Lock()
	h.duplicate = on
	h.mu.Unlock()
}

// Tap registers fn to observe every envelope published on the hub.
func (h *MemoryHub) Tap(fn func(Envelope)) {
	h.mu.Lock()
	h.taps = append(h.taps, fn)
	h.mu.Unlock()
}

func (h *MemoryHub) publish(env Envelope) {
	h.mu.Lock()
	taps := slices.Clone(h.taps)
	for _, id := range h.order {
		ep := h.members[id]
		if ep.closed || !env.For(id) {
			continue
		}
		ep.queue = append(ep.queue, env)
		if h.duplicate {
			ep.queue = append(ep.queue, env)
		}
	}
	h.mu.Unlock()
	for _, fn := range taps {
		fn(env)
	}
}

func (h *MemoryHub) leave(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ep, ok := h.members[id]; ok {
		ep.closed = true
		ep.queue = nil
	}
}

// MemoryEndpoint is one member of a MemoryHub. Its queue is guarded by the hub lock.
type MemoryEndpoint struct {
	hub    *MemoryHub
	id     string
	queue  []Envelope
	closed bool
}

func (e *MemoryEndpoint) Publish(_ context.Context, env Envelope) error {
	if err := env.ValidateBasic(); err != nil {
		return err
	}
	e.hub.mu.Lock()
	closed := e.closed
	e.hub.mu.Unlock()
	if closed {
		return ErrClosed
	}
	e.hub.publish(env)
	return nil
}

func (e *MemoryEndpoint) Poll(_ context.Context) ([]Envelope, error) {
	e.hub.mu.Lock()
	defer e.hub.mu.Unlock()
	if e.closed {
		return nil, ErrClosed
	}
	out := e.queue
	e.queue = nil
	return out, nil
}

func (e *MemoryEndpoint) Close() error {
	e.hub.leave(e.id)
	return nil
}
