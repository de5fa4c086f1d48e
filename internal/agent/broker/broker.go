// Package broker runs the need/offer protocol for one agent. It advances on every
// perception cycle whatever goal the agent is pursuing, so a request opened by a goal
// that has since been preempted still completes or times out on its own.
package broker

import (
	"context"
	"io"
	"log"
	"sort"
	"time"

	"agentcraft.ai/internal/agent/blackboard"
	"agentcraft.ai/internal/agent/ports"
	"agentcraft.ai/internal/agent/recipe"
	"agentcraft.ai/internal/agent/share"
	"agentcraft.ai/internal/bus"
	"agentcraft.ai/internal/clock"
	"agentcraft.ai/internal/protocol"
)

type Config struct {
	// OfferWindow is how long offers are collected after a need is broadcast.
	OfferWindow time.Duration `yaml:"offer_window"`
	// DeliveryTimeout bounds the wait for a delivery to be announced, and then to be
	// picked up, before the need is broadcast again.
	DeliveryTimeout time.Duration `yaml:"delivery_timeout"`
	// MaxAttempts is how many times one need is broadcast before it is abandoned.
	MaxAttempts int `yaml:"max_attempts"`
	// CommitmentTTL expires offers this agent made that were never accepted or closed.
	CommitmentTTL time.Duration `yaml:"commitment_ttl"`
	DedupeTTL     time.Duration `yaml:"dedupe_ttl"`
	DedupeSize    int           `yaml:"dedupe_size"`
}

func DefaultConfig() Config {
	return Config{
		OfferWindow:     30 * time.Second,
		DeliveryTimeout: 2 * time.Minute,
		MaxAttempts:     3,
		CommitmentTTL:   3 * time.Minute,
		DedupeTTL:       10 * time.Minute,
		DedupeSize:      4096,
	}
}

// Stats counts protocol traffic.
type Stats struct {
	Sent       int `json:"sent"`
	Received   int `json:"received"`
	Duplicates int `json:"duplicates"`
	Malformed  int `json:"malformed"`
	Ignored    int `json:"ignored"`
	Fulfilled  int `json:"fulfilled"`
	Abandoned  int `json:"abandoned"`
	Offers     int `json:"offers"`
}

type Options struct {
	AgentID    string
	Blackboard *blackboard.Blackboard
	Endpoint   bus.Endpoint
	Resolver   *recipe.Resolver
	Policy     share.Policy
	Clock      clock.Clock
	Config     Config
	Logger     *log.Logger
}

type Broker struct {
	id       string
	bb       *blackboard.Blackboard
	ep       bus.Endpoint
	resolver *recipe.Resolver
	policy   share.Policy
	clock    clock.Clock
	cfg      Config
	log      *log.Logger
	dedupe   *bus.Dedupe

	onClosed []func(blackboard.NeedRequest)
	stats    Stats
}

func New(o Options) *Broker {
	if o.Clock == nil {
		o.Clock = clock.Real{}
	}
	if o.Logger == nil {
		o.Logger = log.New(io.Discard, "", 0)
	}
	d := DefaultConfig()
	if o.Config.OfferWindow <= 0 {
		o.Config.OfferWindow = d.OfferWindow
	}
	if o.Config.DeliveryTimeout <= 0 {
		o.Config.DeliveryTimeout = d.DeliveryTimeout
	}
	if o.Config.MaxAttempts <= 0 {
		o.Config.MaxAttempts = d.MaxAttempts
	}
	if o.Config.CommitmentTTL <= 0 {
		o.Config.CommitmentTTL = d.CommitmentTTL
	}
	return &Broker{
		id:       o.AgentID,
		bb:       o.Blackboard,
		ep:       o.Endpoint,
		resolver: o.Resolver,
		policy:   o.Policy,
		clock:    o.Clock,
		cfg:      o.Config,
		log:      o.Logger,
		dedupe:   bus.NewDedupe(o.Config.DedupeSize, o.Config.DedupeTTL),
	}
}

// OnClosed registers fn to receive every request that reaches Fulfilled or Abandoned.
func (b *Broker) OnClosed(fn func(blackboard.NeedRequest)) {
	b.onClosed = append(b.onClosed, fn)
}

func (b *Broker) Stats() Stats { return b.stats }

// Broadcast opens a request for kind. While a request for kind is live it returns that
// request and false.
func (b *Broker) Broadcast(ctx context.Context, kind string) (*blackboard.NeedRequest, bool) {
	if r := b.bb.LiveNeed(kind); r != nil {
		return r, false
	}
	now := b.clock.Now()
	r := &blackboard.NeedRequest{
		Kind:        kind,
		RequesterID: b.id,
		CreatedAt:   now,
		Status:      blackboard.Broadcasting,
		Attempt:     1,
	}
	b.bb.Needs[kind] = r
	b.emitNeed(ctx, r, now)
	return r, true
}

func (b *Broker) emitNeed(ctx context.Context, r *blackboard.NeedRequest, now time.Time) {
	if err := b.send(ctx, "", protocol.Need(r.Kind)); err != nil {
		b.log.Printf("need %s: broadcast failed, retrying next cycle: %v", r.Kind, err)
		return
	}
	r.Status = blackboard.CollectingOffers
	r.WindowStart = now
	r.Offers = nil
}

// Advance drains the channel, then runs every timer. Call it once per perception cycle.
func (b *Broker) Advance(ctx context.Context) {
	b.drain(ctx)
	now := b.clock.Now()
	for _, kind := range b.bb.NeedKinds() {
		if r := b.bb.Needs[kind]; r != nil {
			b.advanceRequest(ctx, r, now)
		}
	}
	b.expireCommitments(now)
}

func (b *Broker) drain(ctx context.Context) {
	envs, err := b.ep.Poll(ctx)
	if err != nil {
		b.log.Printf("poll: %v", err)
	}
	now := b.clock.Now()
	for _, env := range envs {
		if !env.For(b.id) {
			continue
		}
		if b.dedupe.Seen(env.ID, now) {
			b.stats.Duplicates++
			continue
		}
		if !protocol.IsCoordination(env.Text) {
			continue
		}
		m, err := protocol.Parse(env.Text)
		if err != nil {
			b.stats.Malformed++
			b.log.Printf("drop %s from %s: %v", env.ID, env.From, err)
			continue
		}
		b.stats.Received++
		b.dispatch(ctx, env.From, m, now)
	}
}

func (b *Broker) dispatch(ctx context.Context, from string, m protocol.Message, now time.Time) {
	switch m.Tag {
	case protocol.TagNeed:
		b.onNeed(ctx, from, m.Kind, now)
	case protocol.TagCanProvide:
		b.onOffer(from, m, now)
	case protocol.TagAcceptProvider:
		b.onAccept(from, m, now)
	case protocol.TagProvideAt:
		b.onDelivery(from, m, now)
	case protocol.TagNeedFulfilled:
		b.onFulfilled(from, m.Kind)
	}
}

// onOffer appends an offer to the request it names while offers are being collected.
func (b *Broker) onOffer(from string, m protocol.Message, now time.Time) {
	r := b.requestFor(m.Kind, blackboard.CollectingOffers)
	if r == nil {
		b.stats.Ignored++
		return
	}
	r.AddOffer(blackboard.Offer{
		ProviderID:    from,
		Items:         m.Items,
		CraftingSteps: m.Steps,
		ReceivedAt:    now,
	})
}

func (b *Broker) onDelivery(from string, m protocol.Message, now time.Time) {
	r := b.requestFor(m.Kind, blackboard.AwaitingDelivery)
	if r == nil || r.Accepted == nil || r.Accepted.ProviderID != from || r.Delivery != nil {
		b.stats.Ignored++
		return
	}
	r.Delivery = &blackboard.DeliveryAnnouncement{
		ProviderID: from,
		Location:   m.Pos,
		Items:      m.Items,
		ReceivedAt: now,
	}
	r.Baseline = copyCounts(b.bb.Inventory)
}

// requestFor finds the live request a reply belongs to. Without a kind the reply is
// attributed to the only request in the wanted status, if there is exactly one.
func (b *Broker) requestFor(kind string, want blackboard.NeedStatus) *blackboard.NeedRequest {
	if kind != "" {
		r := b.bb.LiveNeed(kind)
		if r == nil || r.Status != want {
			return nil
		}
		return r
	}
	var found *blackboard.NeedRequest
	for _, k := range b.bb.NeedKinds() {
		r := b.bb.Needs[k]
		if r.Status != want {
			continue
		}
		if found != nil {
			return nil
		}
		found = r
	}
	return found
}

func (b *Broker) advanceRequest(ctx context.Context, r *blackboard.NeedRequest, now time.Time) {
	switch r.Status {
	case blackboard.Broadcasting:
		b.emitNeed(ctx, r, now)

	case blackboard.CollectingOffers:
		if now.Sub(r.WindowStart) < b.cfg.OfferWindow {
			return
		}
		best, ok := BestOffer(r.Offers)
		if !ok {
			b.close(r.Kind, blackboard.Abandoned, now, "no offers")
			return
		}
		r.Accepted = &best
		r.AcceptedAt = now
		r.Status = blackboard.Accepted
		b.emitAccept(ctx, r)

	case blackboard.Accepted:
		b.emitAccept(ctx, r)

	case blackboard.AwaitingDelivery:
		if r.Delivery != nil && received(r.Delivery.Items, r.Baseline, b.bb.Inventory) {
			if err := b.send(ctx, "", protocol.NeedFulfilled(r.Kind)); err != nil {
				b.log.Printf("need %s: fulfilled notice failed, retrying next cycle: %v", r.Kind, err)
				return
			}
			b.close(r.Kind, blackboard.Fulfilled, now, "")
			return
		}
		since := r.AcceptedAt
		if r.Delivery != nil {
			since = r.Delivery.ReceivedAt
		}
		if now.Sub(since) < b.cfg.DeliveryTimeout {
			return
		}
		if r.Attempt >= b.cfg.MaxAttempts {
			b.close(r.Kind, blackboard.Abandoned, now, "delivery never observed")
			return
		}
		b.log.Printf("need %s: delivery not observed, broadcasting again (attempt %d)", r.Kind, r.Attempt+1)
		r.Attempt++
		r.Status = blackboard.Broadcasting
		r.Accepted = nil
		r.Delivery = nil
		r.Baseline = nil
		r.Offers = nil
		b.emitNeed(ctx, r, now)
	}
}

func (b *Broker) emitAccept(ctx context.Context, r *blackboard.NeedRequest) {
	if err := b.send(ctx, "", protocol.AcceptProvider(r.Kind, r.Accepted.ProviderID)); err != nil {
		b.log.Printf("need %s: accept failed, retrying next cycle: %v", r.Kind, err)
		return
	}
	r.Status = blackboard.AwaitingDelivery
	r.Baseline = copyCounts(b.bb.Inventory)
}

func (b *Broker) close(kind string, status blackboard.NeedStatus, now time.Time, reason string) {
	closed, ok := b.bb.CloseNeed(kind, status, now, reason)
	if !ok {
		return
	}
	if status == blackboard.Fulfilled {
		b.stats.Fulfilled++
	} else {
		b.stats.Abandoned++
		b.log.Printf("need %s abandoned: %s", kind, reason)
	}
	for _, fn := range b.onClosed {
		fn(closed)
	}
}

// PendingPickups lists announced deliveries this agent has not collected yet.
func (b *Broker) PendingPickups() []blackboard.NeedRequest {
	var out []blackboard.NeedRequest
	for _, k := range b.bb.NeedKinds() {
		r := b.bb.Needs[k]
		if r.Status == blackboard.AwaitingDelivery && r.Delivery != nil && !r.Delivery.Collected {
			out = append(out, *r)
		}
	}
	return out
}

// MarkCollected records that the agent tried to pick up the delivery for kind.
// Fulfillment still waits for the inventory to show the items.
func (b *Broker) MarkCollected(kind string) {
	if r := b.bb.LiveNeed(kind); r != nil && r.Delivery != nil {
		r.Delivery.Collected = true
	}
}

func (b *Broker) send(ctx context.Context, to string, m protocol.Message) error {
	env := bus.NewEnvelope(b.clock, b.id, to, m)
	if err := b.ep.Publish(ctx, env); err != nil {
		return err
	}
	b.stats.Sent++
	return nil
}

// BestOffer picks the offer with the fewest crafting steps. Ties go to the earliest
// received, then to the lowest provider id.
func BestOffer(offers []blackboard.Offer) (blackboard.Offer, bool) {
	if len(offers) == 0 {
		return blackboard.Offer{}, false
	}
	sorted := append([]blackboard.Offer(nil), offers...)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, c := sorted[i], sorted[j]
		if a.CraftingSteps != c.CraftingSteps {
			return a.CraftingSteps < c.CraftingSteps
		}
		if !a.ReceivedAt.Equal(c.ReceivedAt) {
			return a.ReceivedAt.Before(c.ReceivedAt)
		}
		return a.ProviderID < c.ProviderID
	})
	return sorted[0], true
}

// received reports whether every delivered item is now held beyond the baseline.
func received(items []ports.ItemCount, baseline, inv map[string]int) bool {
	if len(items) == 0 {
		return false
	}
	for _, it := range items {
		if inv[it.Item] <= baseline[it.Item] {
			return false
		}
	}
	return true
}

func copyCounts(in map[string]int) map[string]int {
	out := make(map[string]int, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
