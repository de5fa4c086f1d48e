package roles

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"agentcraft.ai/internal/agent/blackboard"
	"agentcraft.ai/internal/agent/goal"
	"agentcraft.ai/internal/agent/plan"
	"agentcraft.ai/internal/agent/ports"
)

const (
	forestSite = "forest"
	// keepWood is how many planks and sticks the lumberjack holds back from the chest.
	keepWood = 4
)

// lumberjack fells trees with an axe, turns logs into planks and sticks, stocks the
// shared chest with them and marks forests on signs for others.
func lumberjack(k *kit) ([]*goal.Goal, []plan.Action) {
	hasAxe := func(bb *blackboard.Blackboard) bool { return bb.CountMatching(k.cats, "axe") > 0 }
	surplus := func(bb *blackboard.Blackboard, category string) int {
		return bb.CountMatching(k.cats, category) - keepWood
	}

	goals := []*goal.Goal{
		{
			Name: "obtain_axe",
			Utility: func(bb *blackboard.Blackboard) float64 {
				if hasAxe(bb) || bb.LiveNeed("axe") != nil {
					return 0
				}
				return 0.8
			},
			Plan: steps("request_axe"),
		},
		{
			Name: "chop",
			Utility: func(bb *blackboard.Blackboard) float64 {
				if !hasAxe(bb) {
					return 0
				}
				if _, ok := bb.Nearest(forestSite, nil); !ok {
					return 0
				}
				if bb.CountMatching(k.cats, "log") >= 8 {
					return 0.1
				}
				return 0.5
			},
			Plan: steps("goto_tree", "chop_tree"),
		},
		{
			Name: "process_wood",
			Utility: func(bb *blackboard.Blackboard) float64 {
				logs := 0
				for item, n := range bb.Unreserved() {
					if k.cats.Satisfies(item, "log") {
						logs += n
					}
				}
				if logs < 2 {
					return 0
				}
				return 0.55
			},
			Plan: steps("craft_planks", "craft_sticks"),
		},
		{
			Name: "deposit_wood",
			Utility: func(bb *blackboard.Blackboard) float64 {
				if !anyChest(bb) || (surplus(bb, "planks") <= 0 && surplus(bb, "stick") <= 0) {
					return 0
				}
				return 0.65
			},
			Plan: steps("goto_chest", "deposit_wood"),
		},
		{
			Name: "write_forest_sign",
			Utility: func(bb *blackboard.Blackboard) float64 {
				if !bb.ShouldWrite(forestSite) || len(bb.Sites[forestSite]) == 0 {
					return 0
				}
				return 0.4
			},
			Plan: steps("write_forest_sign"),
		},
	}

	actions := []plan.Action{
		requestAction("axe"),
		plan.Func{
			ActionName: "goto_tree",
			Pre: func(env *plan.Env) error {
				_, ok := env.BB.Nearest(forestSite, nil)
				return present(ok, "tree")
			},
			Run: func(ctx context.Context, env *plan.Env) error {
				p, _ := env.BB.Nearest(forestSite, nil)
				return gotoPos(ctx, env, p)
			},
		},
		plan.Func{
			ActionName: "chop_tree",
			Pre: func(env *plan.Env) error {
				if !hasAxe(env.BB) {
					return plan.Irrecoverable(fmt.Errorf("chopping needs an axe: %w", ports.ErrMissingItems))
				}
				p, ok := env.BB.Nearest(forestSite, nil)
				if !ok {
					return present(false, "tree")
				}
				if ports.Manhattan(p, env.BB.Position) > ports.Reach {
					return fmt.Errorf("tree at %s: %w", p, ports.ErrOutOfReach)
				}
				return nil
			},
			Run: func(ctx context.Context, env *plan.Env) error {
				p, _ := env.BB.Nearest(forestSite, nil)
				if err := env.Ports.Actuator.Dig(ctx, p); err != nil {
					return fmt.Errorf("chop %s: %w", p, err)
				}
				delete(env.BB.Blocks, p)
				env.BB.Counters["chopped"]++
				return nil
			},
		},
		plan.Func{ActionName: "craft_planks", Run: func(ctx context.Context, env *plan.Env) error {
			crafted := 0
			free := env.BB.Unreserved()
			for _, log := range sortedMatching(env, "log") {
				id, ok := k.recipeFrom(log)
				if !ok || free[log] <= 0 {
					continue
				}
				if err := env.Ports.Actuator.Craft(ctx, id, free[log]); err != nil {
					return fmt.Errorf("craft %s: %w", id, err)
				}
				crafted++
			}
			if crafted == 0 {
				return plan.Irrecoverable(errors.New("no log converts to planks"))
			}
			return nil
		}},
		plan.Func{ActionName: "craft_sticks", Run: func(ctx context.Context, env *plan.Env) error {
			// Half the planks become sticks. The planks crafted by the previous step have
			// been perceived by now.
			planks := 0
			for item, n := range env.BB.Unreserved() {
				if k.cats.Satisfies(item, "planks") {
					planks += n
				}
			}
			if times := planks / 4; times > 0 {
				return env.Ports.Actuator.Craft(ctx, "stick", times)
			}
			return nil
		}},
		plan.Func{ActionName: "deposit_wood", Run: func(ctx context.Context, env *plan.Env) error {
			free := env.BB.Unreserved()
			for _, item := range append(sortedMatching(env, "planks"), "stick") {
				extra := free[item] - keepWood
				if extra <= 0 {
					continue
				}
				if err := k.deposit(ctx, env, item, extra); err != nil {
					return err
				}
			}
			return nil
		}},
		plan.Func{ActionName: "write_forest_sign", Run: func(ctx context.Context, env *plan.Env) error {
			if env.Ports.Knowledge == nil {
				return plan.Irrecoverable(errors.New("no knowledge store"))
			}
			site := nearestSite(env.BB, forestSite)
			if err := env.Ports.Knowledge.WriteEntry(ctx, forestSite, site); err != nil {
				return fmt.Errorf("write forest sign: %w", err)
			}
			env.BB.MarkWritten(forestSite)
			env.Logf("marked forest at %s", site)
			return nil
		}},
	}
	return goals, actions
}

// recipeFrom finds the recipe that converts a single input item, e.g. a log into planks.
func (k *kit) recipeFrom(item string) (string, bool) {
	for _, id := range k.cats.Recipes.IDs {
		rec := k.cats.Recipes.ByID[id]
		if len(rec.Inputs) == 1 && rec.Inputs[0].Item == item && rec.Inputs[0].Count == 1 {
			return id, true
		}
	}
	return "", false
}

func sortedMatching(env *plan.Env, category string) []string {
	var out []string
	for item, n := range env.BB.Inventory {
		if n > 0 && env.Catalogs.Satisfies(item, category) {
			out = append(out, item)
		}
	}
	sort.Strings(out)
	return out
}
