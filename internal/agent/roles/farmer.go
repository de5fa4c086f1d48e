package roles

import (
	"context"
	"fmt"
	"math"

	"agentcraft.ai/internal/agent/blackboard"
	"agentcraft.ai/internal/agent/goal"
	"agentcraft.ai/internal/agent/plan"
	"agentcraft.ai/internal/agent/ports"
)

const (
	ripeCrop   = "wheat_ripe"
	crop       = "wheat"
	seeds      = "wheat_seeds"
	cropBatch  = 16
	farmSite   = "farm"
	harvestKey = "harvested"
)

// farmer harvests ripe wheat with a hoe, replants, and stores the crop in a shared chest.
// Without a hoe it asks its peers for one.
func farmer(k *kit) ([]*goal.Goal, []plan.Action) {
	hasHoe := func(bb *blackboard.Blackboard) bool { return bb.CountMatching(k.cats, "hoe") > 0 }

	goals := []*goal.Goal{
		{
			Name: "obtain_hoe",
			Utility: func(bb *blackboard.Blackboard) float64 {
				if hasHoe(bb) || bb.LiveNeed("hoe") != nil {
					return 0
				}
				return 0.8
			},
			Plan: steps("request_hoe"),
		},
		{
			Name: "harvest",
			Utility: func(bb *blackboard.Blackboard) float64 {
				if !hasHoe(bb) {
					return 0
				}
				if _, ok := bb.Nearest(ripeCrop, nil); !ok {
					return 0
				}
				// Harvesting loses appeal as the unsold crop piles up.
				return 0.6 * (1 - math.Min(1, float64(bb.Count(crop))/(2*cropBatch)))
			},
			Plan: steps("goto_crop", "harvest_crop"),
		},
		{
			Name: "deposit_crops",
			Utility: func(bb *blackboard.Blackboard) float64 {
				if bb.Count(crop) == 0 || !anyChest(bb) {
					return 0
				}
				return 0.7 * math.Min(1, float64(bb.Count(crop))/cropBatch)
			},
			Plan: steps("goto_chest", "deposit_crops"),
		},
		{
			Name: "scout_farm",
			Utility: func(bb *blackboard.Blackboard) float64 {
				if _, ok := bb.Nearest(ripeCrop, nil); ok || len(bb.Sites[farmSite]) == 0 {
					return 0
				}
				return 0.2
			},
			Plan: steps("goto_farm"),
		},
	}

	actions := []plan.Action{
		requestAction("hoe"),
		plan.Func{
			ActionName: "goto_crop",
			Pre: func(env *plan.Env) error {
				_, ok := env.BB.Nearest(ripeCrop, nil)
				return present(ok, "ripe crop")
			},
			Run: func(ctx context.Context, env *plan.Env) error {
				p, _ := env.BB.Nearest(ripeCrop, nil)
				return gotoPos(ctx, env, p)
			},
		},
		&harvestCrop{k: k},
		plan.Func{ActionName: "deposit_crops", Run: func(ctx context.Context, env *plan.Env) error {
			return k.deposit(ctx, env, crop, env.BB.Count(crop))
		}},
		plan.Func{
			ActionName: "goto_farm",
			Pre: func(env *plan.Env) error {
				return present(len(env.BB.Sites[farmSite]) > 0, "known farm")
			},
			Run: func(ctx context.Context, env *plan.Env) error {
				return gotoPos(ctx, env, nearestSite(env.BB, farmSite))
			},
		},
	}
	return goals, actions
}

type harvestCrop struct{ k *kit }

func (h *harvestCrop) Name() string { return "harvest_crop" }

func (h *harvestCrop) Precondition(env *plan.Env) error {
	if env.BB.CountMatching(h.k.cats, "hoe") == 0 {
		return plan.Irrecoverable(fmt.Errorf("harvest needs a hoe: %w", ports.ErrMissingItems))
	}
	p, ok := env.BB.Nearest(ripeCrop, nil)
	if !ok {
		return present(false, "ripe crop")
	}
	if ports.Manhattan(p, env.BB.Position) > ports.Reach {
		return fmt.Errorf("crop at %s: %w", p, ports.ErrOutOfReach)
	}
	return nil
}

func (h *harvestCrop) Execute(ctx context.Context, env *plan.Env) error {
	p, _ := env.BB.Nearest(ripeCrop, nil)
	if err := env.Ports.Actuator.Dig(ctx, p); err != nil {
		return fmt.Errorf("harvest %s: %w", p, err)
	}
	delete(env.BB.Blocks, p)
	env.BB.Counters[harvestKey]++
	if env.BB.Count(seeds) > 0 {
		if err := env.Ports.Actuator.Place(ctx, seeds, p); err != nil {
			env.Logf("replant at %s failed: %v", p, err)
		}
	}
	return nil
}

// Progress reports the harvest towards the next full batch.
func (h *harvestCrop) Progress(env *plan.Env) (int, int, bool) {
	return env.BB.Count(crop) % cropBatch, cropBatch, true
}

func nearestSite(bb *blackboard.Blackboard, category string) ports.Vec3 {
	sites := bb.Sites[category]
	best := sites[0]
	for _, p := range sites[1:] {
		if ports.Manhattan(p, bb.Position) < ports.Manhattan(best, bb.Position) {
			best = p
		}
	}
	return best
}
