package blackboard

import (
	"time"

	"agentcraft.ai/internal/agent/ports"
	"agentcraft.ai/internal/agent/recipe"
)

type NeedStatus int

const (
	Broadcasting NeedStatus = iota
	CollectingOffers
	Accepted
	AwaitingDelivery
	Fulfilled
	Abandoned
)

func (s NeedStatus) String() string {
	switch s {
	case Broadcasting:
		return "BROADCASTING"
	case CollectingOffers:
		return "COLLECTING_OFFERS"
	case Accepted:
		return "ACCEPTED"
	case AwaitingDelivery:
		return "AWAITING_DELIVERY"
	case Fulfilled:
		return "FULFILLED"
	case Abandoned:
		return "ABANDONED"
	default:
		return "UNKNOWN"
	}
}

// Terminal reports whether the request is closed.
func (s NeedStatus) Terminal() bool { return s == Fulfilled || s == Abandoned }

type Offer struct {
	ProviderID    string            `json:"provider_id"`
	Items         []ports.ItemCount `json:"items"`
	CraftingSteps int               `json:"crafting_steps"`
	ReceivedAt    time.Time         `json:"received_at"`
}

type DeliveryAnnouncement struct {
	ProviderID string            `json:"provider_id"`
	Location   ports.Vec3        `json:"location"`
	Items      []ports.ItemCount `json:"items"`
	ReceivedAt time.Time         `json:"received_at"`
	// Collected is set once the requester has tried to pick the items up.
	Collected bool `json:"collected,omitempty"`
}

type NeedRequest struct {
	Kind        string                `json:"kind"`
	RequesterID string                `json:"requester_id"`
	CreatedAt   time.Time             `json:"created_at"`
	Status      NeedStatus            `json:"status"`
	Offers      []Offer               `json:"offers,omitempty"`
	WindowStart time.Time             `json:"window_start"`
	AcceptedAt  time.Time             `json:"accepted_at,omitempty"`
	Accepted    *Offer                `json:"accepted,omitempty"`
	Delivery    *DeliveryAnnouncement `json:"delivery,omitempty"`
	// Baseline is the requester's inventory when the offer was accepted.
	Baseline map[string]int `json:"baseline,omitempty"`
	Attempt  int            `json:"attempt"`
	ClosedAt time.Time      `json:"closed_at,omitempty"`
	Reason   string         `json:"reason,omitempty"`
}

// AddOffer records an offer. A second offer from the same provider replaces the first.
func (r *NeedRequest) AddOffer(o Offer) {
	for i := range r.Offers {
		if r.Offers[i].ProviderID == o.ProviderID {
			r.Offers[i] = o
			return
		}
	}
	r.Offers = append(r.Offers, o)
}

type CommitmentStatus int

const (
	CommitOffered CommitmentStatus = iota
	CommitAccepted
	CommitStaged
)

func (s CommitmentStatus) String() string {
	switch s {
	case CommitOffered:
		return "OFFERED"
	case CommitAccepted:
		return "ACCEPTED"
	case CommitStaged:
		return "STAGED"
	default:
		return "UNKNOWN"
	}
}

// Commitment is the provider side of an offer made to a peer's need.
type Commitment struct {
	RequesterID string            `json:"requester_id"`
	Kind        string            `json:"kind"`
	Items       []ports.ItemCount `json:"items"`
	Crafts      []recipe.Craft    `json:"crafts,omitempty"`
	Steps       int               `json:"steps"`
	OfferedAt   time.Time         `json:"offered_at"`
	Status      CommitmentStatus  `json:"status"`
	AcceptedAt  time.Time         `json:"accepted_at,omitempty"`
	StagedAt    time.Time         `json:"staged_at,omitempty"`
	Location    ports.Vec3        `json:"location"`
}

func CommitmentKey(requesterID, kind string) string { return requesterID + "/" + kind }

// Unreserved is the inventory minus items promised to peers and not yet staged.
func (b *Blackboard) Unreserved() map[string]int {
	inv := copyCounts(b.Inventory)
	for _, c := range b.Commitments {
		if c.Status == CommitStaged {
			continue
		}
		for _, it := range c.Items {
			inv[it.Item] -= it.Count
			if inv[it.Item] <= 0 {
				delete(inv, it.Item)
			}
		}
	}
	return inv
}
