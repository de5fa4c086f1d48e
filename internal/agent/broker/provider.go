package broker

import (
	"context"
	"fmt"
	"time"

	"agentcraft.ai/internal/agent/blackboard"
	"agentcraft.ai/internal/agent/ports"
	"agentcraft.ai/internal/agent/recipe"
	"agentcraft.ai/internal/protocol"
)

// onNeed answers a peer's need in the same cycle when the spare inventory can cover it.
func (b *Broker) onNeed(ctx context.Context, from, kind string, now time.Time) {
	key := blackboard.CommitmentKey(from, kind)
	// A repeated need means the peer timed out on whatever was promised before.
	delete(b.bb.Commitments, key)

	if b.resolver == nil {
		return
	}
	res, ok := b.resolver.ResolveWithSpare(kind, b.unreserved(), b.policy)
	if !ok {
		return
	}
	if err := b.send(ctx, from, protocol.CanProvide(kind, res.Items, res.Steps)); err != nil {
		b.log.Printf("offer %s to %s failed: %v", kind, from, err)
		return
	}
	b.stats.Offers++
	b.bb.Commitments[key] = &blackboard.Commitment{
		RequesterID: from,
		Kind:        kind,
		Items:       res.Items,
		Crafts:      res.Crafts,
		Steps:       res.Steps,
		OfferedAt:   now,
		Status:      blackboard.CommitOffered,
	}
}

func (b *Broker) unreserved() recipe.Inventory {
	return recipe.Inventory(b.bb.Unreserved())
}

func (b *Broker) onAccept(from string, m protocol.Message, now time.Time) {
	c := b.commitmentFor(from, m.Kind)
	if c == nil {
		b.stats.Ignored++
		return
	}
	if m.ProviderID != b.id {
		// The requester chose someone else.
		if c.Status == blackboard.CommitOffered {
			delete(b.bb.Commitments, blackboard.CommitmentKey(c.RequesterID, c.Kind))
		}
		return
	}
	if c.Status != blackboard.CommitOffered {
		return
	}
	c.Status = blackboard.CommitAccepted
	c.AcceptedAt = now
}

// commitmentFor finds this agent's commitment to requester. Without a kind it only
// answers when exactly one commitment to requester is still an open offer.
func (b *Broker) commitmentFor(requester, kind string) *blackboard.Commitment {
	if kind != "" {
		return b.bb.Commitments[blackboard.CommitmentKey(requester, kind)]
	}
	var found *blackboard.Commitment
	for _, key := range b.bb.CommitmentKeys() {
		c := b.bb.Commitments[key]
		if c.RequesterID != requester || c.Status != blackboard.CommitOffered {
			continue
		}
		if found != nil {
			return nil
		}
		found = c
	}
	return found
}

func (b *Broker) onFulfilled(from, kind string) {
	delete(b.bb.Commitments, blackboard.CommitmentKey(from, kind))
}

func (b *Broker) expireCommitments(now time.Time) {
	for _, key := range b.bb.CommitmentKeys() {
		c := b.bb.Commitments[key]
		since := c.OfferedAt
		switch c.Status {
		case blackboard.CommitAccepted:
			since = c.AcceptedAt
		case blackboard.CommitStaged:
			since = c.StagedAt
		}
		if now.Sub(since) >= b.cfg.CommitmentTTL {
			delete(b.bb.Commitments, key)
		}
	}
}

// PendingDeliveries lists accepted commitments that still have to be staged, sorted by
// requester and kind.
func (b *Broker) PendingDeliveries() []blackboard.Commitment {
	var out []blackboard.Commitment
	for _, key := range b.bb.CommitmentKeys() {
		if c := b.bb.Commitments[key]; c.Status == blackboard.CommitAccepted {
			out = append(out, *c)
		}
	}
	return out
}

// AnnounceDelivery tells requester where the promised items were staged.
func (b *Broker) AnnounceDelivery(ctx context.Context, requester, kind string, at ports.Vec3, items []ports.ItemCount) error {
	c := b.bb.Commitments[blackboard.CommitmentKey(requester, kind)]
	if c == nil || c.Status != blackboard.CommitAccepted {
		return fmt.Errorf("announce %s to %s: no accepted commitment", kind, requester)
	}
	if err := b.send(ctx, requester, protocol.ProvideAt(kind, at, items)); err != nil {
		return fmt.Errorf("announce %s to %s: %w", kind, requester, err)
	}
	c.Status = blackboard.CommitStaged
	c.StagedAt = b.clock.Now()
	c.Location = at
	c.Items = items
	return nil
}
