package roles

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"agentcraft.ai/internal/agent/blackboard"
	"agentcraft.ai/internal/agent/goal"
	"agentcraft.ai/internal/agent/plan"
	"agentcraft.ai/internal/agent/ports"
	"agentcraft.ai/internal/agent/recipe"
	"agentcraft.ai/internal/agent/share"
	"agentcraft.ai/internal/sim/catalogs"
)

// Built-in goal names.
const (
	GoalDeliverOffer    = "deliver_offer"
	GoalCollectDelivery = "collect_delivery"
	GoalStudyKnowledge  = "study_knowledge"
	GoalIdle            = "idle"
)

// kit is what goal and action constructors share.
type kit struct {
	cats        *catalogs.Catalogs
	resolver    *recipe.Resolver
	policy      share.Policy
	unusableFor time.Duration
}

func (k *kit) common() ([]*goal.Goal, []plan.Action) {
	goals := []*goal.Goal{
		{
			Name: GoalCollectDelivery,
			Utility: func(bb *blackboard.Blackboard) float64 {
				if _, ok := nextPickup(bb); ok {
					return 0.95
				}
				return 0
			},
			Plan: steps("goto_delivery", "pickup_delivery"),
		},
		{
			Name: GoalDeliverOffer,
			Utility: func(bb *blackboard.Blackboard) float64 {
				if _, ok := nextDelivery(bb); ok {
					return 0.9
				}
				return 0
			},
			Plan: steps("stage_delivery"),
		},
		{
			Name: GoalStudyKnowledge,
			Utility: func(bb *blackboard.Blackboard) float64 {
				if bb.HasStudied || len(bb.UnreadSources()) == 0 {
					return 0
				}
				return 0.3
			},
			Plan: steps("goto_sign", "read_signs"),
		},
		{
			Name:    GoalIdle,
			Utility: func(*blackboard.Blackboard) float64 { return 0.01 },
			Plan:    steps("go_home"),
		},
	}
	actions := []plan.Action{
		plan.Func{
			ActionName: "goto_delivery",
			Pre: func(env *plan.Env) error {
				_, ok := nextPickup(env.BB)
				return present(ok, "announced delivery")
			},
			Run: func(ctx context.Context, env *plan.Env) error {
				r, _ := nextPickup(env.BB)
				return gotoPos(ctx, env, r.Delivery.Location)
			},
		},
		plan.Func{ActionName: "pickup_delivery", Pre: func(env *plan.Env) error {
			_, ok := nextPickup(env.BB)
			return present(ok, "announced delivery")
		}, Run: pickupDelivery},
		plan.Func{ActionName: "stage_delivery", Pre: func(env *plan.Env) error {
			_, ok := nextDelivery(env.BB)
			return present(ok, "accepted commitment")
		}, Run: k.stageDelivery},
		plan.Func{
			ActionName: "goto_sign",
			Pre: func(env *plan.Env) error {
				return present(len(env.BB.UnreadSources()) > 0, "unread knowledge source")
			},
			Run: func(ctx context.Context, env *plan.Env) error {
				id := env.BB.UnreadSources()[0]
				return gotoPos(ctx, env, env.BB.KnownSources[id])
			},
		},
		plan.Func{ActionName: "read_signs", Run: readSigns},
		plan.Func{ActionName: "goto_chest", Run: gotoChest},
		plan.Func{ActionName: "go_home", Run: func(ctx context.Context, env *plan.Env) error {
			if env.BB.Home == nil || env.BB.Position == *env.BB.Home {
				return nil
			}
			return gotoPos(ctx, env, *env.BB.Home)
		}},
	}
	return goals, actions
}

func steps(names ...string) func(*blackboard.Blackboard) ([]string, error) {
	return func(*blackboard.Blackboard) ([]string, error) { return names, nil }
}

func present(ok bool, what string) error {
	if ok {
		return nil
	}
	return fmt.Errorf("no %s: %w", what, ports.ErrNotFound)
}

func gotoPos(ctx context.Context, env *plan.Env, p ports.Vec3) error {
	if ports.Manhattan(env.BB.Position, p) <= ports.Reach {
		return nil
	}
	if env.Ports.Navigator == nil {
		return plan.Irrecoverable(errors.New("no navigator"))
	}
	return env.Ports.Navigator.Goto(ctx, p)
}

// nextPickup is the first live request with an announced, uncollected delivery.
func nextPickup(bb *blackboard.Blackboard) (*blackboard.NeedRequest, bool) {
	for _, kind := range bb.NeedKinds() {
		r := bb.Needs[kind]
		if r.Status == blackboard.AwaitingDelivery && r.Delivery != nil && !r.Delivery.Collected {
			return r, true
		}
	}
	return nil, false
}

// nextDelivery is the first accepted commitment still to be staged.
func nextDelivery(bb *blackboard.Blackboard) (*blackboard.Commitment, bool) {
	for _, key := range bb.CommitmentKeys() {
		if c := bb.Commitments[key]; c.Status == blackboard.CommitAccepted {
			return c, true
		}
	}
	return nil, false
}

func pickupDelivery(ctx context.Context, env *plan.Env) error {
	r, _ := nextPickup(env.BB)
	got, err := env.Ports.Actuator.PickUp(ctx, r.Delivery.Location)
	if err != nil {
		return fmt.Errorf("pick up %s at %s: %w", r.Kind, r.Delivery.Location, err)
	}
	env.Coord.MarkCollected(r.Kind)
	if len(got) == 0 {
		return fmt.Errorf("pick up %s at %s: nothing there", r.Kind, r.Delivery.Location)
	}
	env.Logf("picked up %v for need %s", got, r.Kind)
	return nil
}

// stageDelivery crafts what the commitment promised, drops it and announces the spot.
func (k *kit) stageDelivery(ctx context.Context, env *plan.Env) error {
	c, _ := nextDelivery(env.BB)
	items := c.Items
	for _, cr := range c.Crafts {
		if err := env.Ports.Actuator.Craft(ctx, cr.RecipeID, cr.Times); err != nil {
			return plan.Irrecoverable(fmt.Errorf("craft %s for %s: %w", cr.RecipeID, c.RequesterID, err))
		}
	}
	if n := len(c.Crafts); n > 0 {
		items = k.finishedOutputs(c.Crafts[n-1], c.Kind)
	}
	at, err := env.Ports.Actuator.Drop(ctx, items)
	if err != nil {
		return plan.Irrecoverable(fmt.Errorf("drop %s for %s: %w", ports.FormatItems(items), c.RequesterID, err))
	}
	return env.Coord.AnnounceDelivery(ctx, c.RequesterID, c.Kind, at, items)
}

func (k *kit) finishedOutputs(final recipe.Craft, requirement string) []ports.ItemCount {
	rec := k.cats.Recipes.ByID[final.RecipeID]
	var out []ports.ItemCount
	for _, o := range rec.Outputs {
		if k.cats.Satisfies(o.Item, requirement) {
			out = append(out, ports.ItemCount{Item: o.Item, Count: o.Count * final.Times})
		}
	}
	return out
}

func readSigns(ctx context.Context, env *plan.Env) error {
	if env.Ports.Knowledge == nil {
		return plan.Irrecoverable(errors.New("no knowledge store"))
	}
	entries, err := env.Ports.Knowledge.ReadEntries(ctx, env.BB.Position)
	if err != nil {
		return fmt.Errorf("read signs: %w", err)
	}
	n := env.BB.MergeKnowledge(entries)
	for _, id := range env.BB.UnreadSources() {
		if ports.Manhattan(env.BB.KnownSources[id], env.BB.Position) <= ports.Reach {
			env.BB.ReadSources[id] = true
		}
	}
	env.BB.HasStudied = true
	env.Logf("studied signs: %d new site(s)", n)
	return nil
}

// requestAction broadcasts a need for kind. Being asked twice is harmless.
func requestAction(kind string) plan.Action {
	return plan.Func{ActionName: "request_" + kind, Run: func(ctx context.Context, env *plan.Env) error {
		if _, opened := env.Coord.Broadcast(ctx, kind); opened {
			env.Logf("asked peers for %s", kind)
		}
		return nil
	}}
}

// chests returns usable, not full containers sorted by distance then id.
func chests(env *plan.Env, now time.Time) []blackboard.Container {
	var out []blackboard.Container
	for id, c := range env.BB.Containers {
		if c.Full || !env.BB.IsUsable(id, now) {
			continue
		}
		out = append(out, c)
	}
	pos := env.BB.Position
	sort.Slice(out, func(i, j int) bool {
		di, dj := ports.Manhattan(out[i].Pos, pos), ports.Manhattan(out[j].Pos, pos)
		if di != dj {
			return di < dj
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func gotoChest(ctx context.Context, env *plan.Env) error {
	cs := chests(env, env.Now())
	if len(cs) == 0 {
		return present(false, "usable container")
	}
	return gotoPos(ctx, env, cs[0].Pos)
}

// deposit moves count of item into the nearest usable container in reach. A full
// container is avoided for unusableFor.
func (k *kit) deposit(ctx context.Context, env *plan.Env, item string, count int) error {
	c, ok := reachableChest(env)
	if !ok {
		return fmt.Errorf("deposit %s: %w", item, ports.ErrOutOfReach)
	}
	n, err := env.Ports.Actuator.Deposit(ctx, c.ID, item, count)
	if errors.Is(err, ports.ErrContainerFull) {
		env.BB.MarkUnusable(c.ID, env.Now().Add(k.unusableFor))
		env.Logf("container %s full, avoiding it for %s", c.ID, k.unusableFor)
		if n > 0 {
			return nil
		}
	}
	if err != nil {
		return fmt.Errorf("deposit %dx%s into %s: %w", count, item, c.ID, err)
	}
	return nil
}

// reachableChest is the nearest usable container within reach.
func reachableChest(env *plan.Env) (blackboard.Container, bool) {
	for _, c := range chests(env, env.Now()) {
		if ports.Manhattan(c.Pos, env.BB.Position) <= ports.Reach {
			return c, true
		}
	}
	return blackboard.Container{}, false
}

func anyChest(bb *blackboard.Blackboard) bool {
	for id, c := range bb.Containers {
		if !c.Full && bb.IsUsable(id, bb.Now) {
			return true
		}
	}
	return false
}
