// Package recipe computes the cheapest way an inventory can satisfy a requirement.
//
// Resolution only looks two stages deep: a finished item already held (0 steps), the
// direct inputs of a recipe (1 step), or raw materials that convert into missing direct
// inputs (2 steps). Held items may be split between the final recipe and the conversions.
// Arbitrary recipe graphs are not explored.
package recipe

import (
	"sort"

	"agentcraft.ai/internal/agent/ports"
	"agentcraft.ai/internal/sim/catalogs"
)

// MaxSteps is the deepest resolution the resolver returns.
const MaxSteps = 2

type Inventory map[string]int

// Craft is one crafting stage: run RecipeID Times times.
type Craft struct {
	RecipeID string `json:"recipe_id"`
	Times    int    `json:"times"`
}

type Resolution struct {
	Requirement string            `json:"requirement"`
	Steps       int               `json:"steps"`
	RecipeID    string            `json:"recipe_id,omitempty"`
	Crafts      []Craft           `json:"crafts,omitempty"` // execution order, final recipe last
	Items       []ports.ItemCount `json:"items"`            // what the holder hands over, sorted by item
}

func (r Resolution) TotalItems() int {
	n := 0
	for _, it := range r.Items {
		n += it.Count
	}
	return n
}

type Resolver struct {
	cats *catalogs.Catalogs
}

func NewResolver(cats *catalogs.Catalogs) *Resolver {
	return &Resolver{cats: cats}
}

func (r *Resolver) Catalogs() *catalogs.Catalogs { return r.cats }

// Satisfied reports whether inv already holds something meeting the requirement.
func (r *Resolver) Satisfied(requirement string, inv Inventory) bool {
	_, ok := r.finished(requirement, inv)
	return ok
}

// Resolve returns the fewest-step resolution of requirement from inv.
func (r *Resolver) Resolve(requirement string, inv Inventory) (Resolution, bool) {
	if requirement == "" {
		return Resolution{}, false
	}
	if item, ok := r.finished(requirement, inv); ok {
		return Resolution{
			Requirement: requirement,
			Steps:       0,
			Items:       []ports.ItemCount{{Item: item, Count: 1}},
		}, true
	}

	var (
		best  Resolution
		found bool
	)
	for _, id := range r.cats.Recipes.IDs {
		rec := r.cats.Recipes.ByID[id]
		if !r.produces(rec, requirement) {
			continue
		}
		res, ok := r.resolveRecipe(requirement, rec, inv)
		if !ok {
			continue
		}
		if !found || better(res, best) {
			best, found = res, true
		}
	}
	return best, found
}

// Sparer reports how much of a held item its owner may give away.
type Sparer interface {
	Spare(isTool bool, held int) int
}

// ResolveWithSpare resolves against the part of inv that sp lets the holder give away.
func (r *Resolver) ResolveWithSpare(requirement string, inv Inventory, sp Sparer) (Resolution, bool) {
	spare := Inventory{}
	for item, n := range inv {
		if s := sp.Spare(r.cats.IsTool(item), n); s > 0 {
			spare[item] = s
		}
	}
	return r.Resolve(requirement, spare)
}

func better(a, b Resolution) bool {
	if a.Steps != b.Steps {
		return a.Steps < b.Steps
	}
	if a.TotalItems() != b.TotalItems() {
		return a.TotalItems() < b.TotalItems()
	}
	return a.RecipeID < b.RecipeID
}

func (r *Resolver) finished(requirement string, inv Inventory) (string, bool) {
	for _, item := range sortedItems(inv) {
		if inv[item] > 0 && r.cats.Satisfies(item, requirement) {
			return item, true
		}
	}
	return "", false
}

func (r *Resolver) produces(rec catalogs.RecipeDef, requirement string) bool {
	for _, out := range rec.Outputs {
		if r.cats.Satisfies(out.Item, requirement) {
			return true
		}
	}
	return false
}

// resolveRecipe tries every split of the held items between the final recipe and the
// conversions feeding it. The first split tried hands the final recipe all it can take.
func (r *Resolver) resolveRecipe(requirement string, rec catalogs.RecipeDef, inv Inventory) (Resolution, bool) {
	var (
		best  Resolution
		found bool
	)
	r.splits(rec.Inputs, inv, func(give Inventory) bool {
		res, ok := r.resolveSplit(requirement, rec, inv, give)
		if ok && (!found || better(res, best)) {
			best, found = res, true
		}
		return !found || best.Steps > 1
	})
	return best, found
}

// resolveSplit resolves rec when the final recipe may only draw give from inv directly.
func (r *Resolver) resolveSplit(requirement string, rec catalogs.RecipeDef, inv, give Inventory) (Resolution, bool) {
	direct := copyInv(give)
	used := Inventory{}
	missing := r.allocate(rec.Inputs, direct, used)
	if len(missing) == 0 {
		return Resolution{
			Requirement: requirement,
			Steps:       1,
			RecipeID:    rec.RecipeID,
			Crafts:      []Craft{{RecipeID: rec.RecipeID, Times: 1}},
			Items:       toItems(used),
		}, true
	}

	avail := copyInv(inv)
	for item, n := range used {
		avail[item] -= n
	}
	var crafts []Craft
	for _, m := range missing {
		c, ok := r.convert(m, rec.RecipeID, avail, used)
		if !ok {
			return Resolution{}, false
		}
		crafts = append(crafts, c)
	}
	crafts = append(crafts, Craft{RecipeID: rec.RecipeID, Times: 1})
	return Resolution{
		Requirement: requirement,
		Steps:       2,
		RecipeID:    rec.RecipeID,
		Crafts:      crafts,
		Items:       toItems(used),
	}, true
}

// splits calls fn with each amount of the held items the final recipe may take directly,
// bounded by how many of each the recipe could use, largest amounts first and items in
// sorted order. fn must not keep give and returns false to stop.
func (r *Resolver) splits(inputs []catalogs.Ingredient, inv Inventory, fn func(give Inventory) bool) {
	type bound struct {
		item string
		max  int
	}
	var bounds []bound
	for _, item := range sortedItems(inv) {
		n := 0
		for _, in := range inputs {
			if r.cats.Matches(item, in) {
				n += in.Count
			}
		}
		if n = min(n, inv[item]); n > 0 {
			bounds = append(bounds, bound{item: item, max: n})
		}
	}
	give := Inventory{}
	var walk func(i int) bool
	walk = func(i int) bool {
		if i == len(bounds) {
			return fn(give)
		}
		for n := bounds[i].max; n >= 0; n-- {
			give[bounds[i].item] = n
			if !walk(i + 1) {
				return false
			}
		}
		return true
	}
	walk(0)
}

// convert finds a recipe producing the missing ingredient whose own inputs are all held.
func (r *Resolver) convert(missing catalogs.Ingredient, finalID string, avail, used Inventory) (Craft, bool) {
	for _, id := range r.cats.Recipes.IDs {
		if id == finalID {
			continue
		}
		rec := r.cats.Recipes.ByID[id]
		per := 0
		for _, out := range rec.Outputs {
			if r.cats.Matches(out.Item, missing) {
				per += out.Count
			}
		}
		if per == 0 {
			continue
		}
		times := (missing.Count + per - 1) / per
		scaled := make([]catalogs.Ingredient, 0, len(rec.Inputs))
		for _, in := range rec.Inputs {
			in.Count *= times
			scaled = append(scaled, in)
		}
		tryAvail := copyInv(avail)
		tryUsed := copyInv(used)
		if rest := r.allocate(scaled, tryAvail, tryUsed); len(rest) > 0 {
			continue
		}
		replace(avail, tryAvail)
		replace(used, tryUsed)
		return Craft{RecipeID: id, Times: times}, true
	}
	return Craft{}, false
}

// allocate takes ingredients out of avail into used. Concrete items are served before
// categories so a category never consumes an item a concrete ingredient needs. It returns
// the unmet remainder of each ingredient.
func (r *Resolver) allocate(inputs []catalogs.Ingredient, avail, used Inventory) []catalogs.Ingredient {
	ordered := append([]catalogs.Ingredient(nil), inputs...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Item != "" && ordered[j].Item == ""
	})
	var missing []catalogs.Ingredient
	for _, in := range ordered {
		need := in.Count
		for _, item := range sortedItems(avail) {
			if need == 0 {
				break
			}
			if avail[item] <= 0 || !r.cats.Matches(item, in) {
				continue
			}
			take := min(need, avail[item])
			avail[item] -= take
			used[item] += take
			need -= take
		}
		if need > 0 {
			in.Count = need
			missing = append(missing, in)
		}
	}
	return missing
}

func sortedItems(inv Inventory) []string {
	ids := make([]string, 0, len(inv))
	for id := range inv {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func copyInv(in Inventory) Inventory {
	out := make(Inventory, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func replace(dst, src Inventory) {
	for k := range dst {
		delete(dst, k)
	}
	for k, v := range src {
		dst[k] = v
	}
}

func toItems(m Inventory) []ports.ItemCount {
	out := make([]ports.ItemCount, 0, len(m))
	for _, item := range sortedItems(m) {
		if m[item] > 0 {
			out = append(out, ports.ItemCount{Item: item, Count: m[item]})
		}
	}
	return out
}
