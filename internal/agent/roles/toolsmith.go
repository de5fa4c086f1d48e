package roles

import (
	"context"
	"fmt"
	"sort"

	"agentcraft.ai/internal/agent/blackboard"
	"agentcraft.ai/internal/agent/goal"
	"agentcraft.ai/internal/agent/plan"
	"agentcraft.ai/internal/agent/recipe"
)

// spareTools is how many of each tool category the toolsmith keeps on hand, one for
// itself and the rest to hand out.
const spareTools = 2

var (
	stockedTools = []string{"hoe", "axe"}
	// toolMaterials are the shared-chest items tool recipes draw on.
	toolMaterials = []string{"planks", "stick", "stone"}
)

// toolsmith keeps a stock of tools. It crafts them from its own inventory, refills
// materials from the shared chest under the sharing policy, and asks peers for sticks
// when the chest has none.
func toolsmith(k *kit) ([]*goal.Goal, []plan.Action) {
	// shortfall is the first tool category below stock, or "".
	shortfall := func(bb *blackboard.Blackboard) string {
		for _, c := range stockedTools {
			if bb.CountMatching(k.cats, c) < spareTools {
				return c
			}
		}
		return ""
	}
	craftable := func(bb *blackboard.Blackboard) (recipe.Resolution, bool) {
		kind := shortfall(bb)
		if kind == "" {
			return recipe.Resolution{}, false
		}
		// Items promised to peers stay untouched until staged.
		res, ok := k.resolver.Resolve(kind, recipe.Inventory(bb.Unreserved()))
		if !ok || res.Steps == 0 {
			// Steps 0 would mean the tool is already held, which shortfall ruled out.
			return recipe.Resolution{}, false
		}
		return res, true
	}
	chestMaterials := func(bb *blackboard.Blackboard) bool {
		for id, c := range bb.Containers {
			if !bb.IsUsable(id, bb.Now) {
				continue
			}
			for item, n := range c.Items {
				if k.matchesAny(item, toolMaterials) && k.policy.Withdrawable(k.cats.IsTool(item), n, k.policy.MaterialCap) > 0 {
					return true
				}
			}
		}
		return false
	}

	goals := []*goal.Goal{
		{
			Name: "craft_tool",
			Utility: func(bb *blackboard.Blackboard) float64 {
				if _, ok := craftable(bb); ok {
					return 0.7
				}
				return 0
			},
			Plan: steps("craft_tool"),
		},
		{
			Name: "fetch_materials",
			Utility: func(bb *blackboard.Blackboard) float64 {
				if shortfall(bb) == "" || !chestMaterials(bb) {
					return 0
				}
				if _, ok := craftable(bb); ok {
					return 0
				}
				return 0.6
			},
			Plan: steps("goto_chest", "withdraw_materials"),
		},
		{
			Name: "obtain_sticks",
			Utility: func(bb *blackboard.Blackboard) float64 {
				if shortfall(bb) == "" || chestMaterials(bb) || bb.Count("stick") > 0 || bb.LiveNeed("stick") != nil {
					return 0
				}
				return 0.4
			},
			Plan: steps("request_stick"),
		},
	}

	actions := []plan.Action{
		requestAction("stick"),
		plan.Func{
			ActionName: "craft_tool",
			Pre: func(env *plan.Env) error {
				_, ok := craftable(env.BB)
				return present(ok, "craftable tool")
			},
			Run: func(ctx context.Context, env *plan.Env) error {
				res, _ := craftable(env.BB)
				for _, c := range res.Crafts {
					if err := env.Ports.Actuator.Craft(ctx, c.RecipeID, c.Times); err != nil {
						return fmt.Errorf("craft %s for %s: %w", c.RecipeID, res.Requirement, err)
					}
				}
				env.BB.Counters["crafted_"+res.Requirement]++
				env.Logf("crafted %s via %s (%d step(s))", res.Requirement, res.RecipeID, res.Steps)
				return nil
			},
		},
		plan.Func{ActionName: "withdraw_materials", Run: func(ctx context.Context, env *plan.Env) error {
			c, ok := reachableChest(env)
			if !ok {
				return present(false, "container in reach")
			}
			taken := 0
			for _, item := range sortedKeys(c.Items) {
				if !k.matchesAny(item, toolMaterials) {
					continue
				}
				n, err := env.Policy.Withdraw(ctx, env.Ports.Actuator, k.cats, c.ID, item, c.Items[item], env.Policy.MaterialCap)
				if err != nil {
					return err
				}
				taken += n
			}
			if taken == 0 {
				// Everything left in the chest is at or below the floor.
				env.BB.MarkUnusable(c.ID, env.Now().Add(k.unusableFor))
				return fmt.Errorf("container %s has nothing above the sharing floor", c.ID)
			}
			return nil
		}},
	}
	return goals, actions
}

func (k *kit) matchesAny(item string, requirements []string) bool {
	for _, r := range requirements {
		if k.cats.Satisfies(item, r) {
			return true
		}
	}
	return false
}

func sortedKeys(m map[string]int) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
