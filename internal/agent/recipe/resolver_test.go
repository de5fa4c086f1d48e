package recipe

import (
	"reflect"
	"testing"

	"agentcraft.ai/internal/agent/ports"
	"agentcraft.ai/internal/sim/catalogs"
)

func loadResolver(t *testing.T) *Resolver {
	t.Helper()
	cats, err := catalogs.Load("../../../configs")
	if err != nil {
		t.Fatalf("load catalogs: %v", err)
	}
	return NewResolver(cats)
}

func TestResolve_FinishedItemIsZeroSteps(t *testing.T) {
	r := loadResolver(t)
	res, ok := r.Resolve("hoe", Inventory{"wooden_hoe": 1, "oak_planks": 10})
	if !ok {
		t.Fatalf("expected resolution")
	}
	if res.Steps != 0 {
		t.Fatalf("steps: got %d want 0", res.Steps)
	}
	want := []ports.ItemCount{{Item: "wooden_hoe", Count: 1}}
	if !reflect.DeepEqual(res.Items, want) {
		t.Fatalf("items: got %v want %v", res.Items, want)
	}
}

func TestResolve_DirectInputsIsOneStep(t *testing.T) {
	r := loadResolver(t)
	res, ok := r.Resolve("hoe", Inventory{"oak_planks": 2, "stick": 2})
	if !ok {
		t.Fatalf("expected resolution")
	}
	if res.Steps != 1 || res.RecipeID != "wooden_hoe" {
		t.Fatalf("got steps=%d recipe=%s want 1 wooden_hoe", res.Steps, res.RecipeID)
	}
	want := []ports.ItemCount{{Item: "oak_planks", Count: 2}, {Item: "stick", Count: 2}}
	if !reflect.DeepEqual(res.Items, want) {
		t.Fatalf("items: got %v want %v", res.Items, want)
	}
}

func TestResolve_IntermediateConversionIsTwoSteps(t *testing.T) {
	r := loadResolver(t)
	res, ok := r.Resolve("hoe", Inventory{"oak_planks": 4})
	if !ok {
		t.Fatalf("expected resolution")
	}
	if res.Steps != 2 {
		t.Fatalf("steps: got %d want 2", res.Steps)
	}
	wantCrafts := []Craft{{RecipeID: "stick", Times: 1}, {RecipeID: "wooden_hoe", Times: 1}}
	if !reflect.DeepEqual(res.Crafts, wantCrafts) {
		t.Fatalf("crafts: got %v want %v", res.Crafts, wantCrafts)
	}
	want := []ports.ItemCount{{Item: "oak_planks", Count: 4}}
	if !reflect.DeepEqual(res.Items, want) {
		t.Fatalf("items: got %v want %v", res.Items, want)
	}
}

func TestResolve_RawPrecursorOfStick(t *testing.T) {
	r := loadResolver(t)
	res, ok := r.Resolve("stick", Inventory{"oak_log": 3})
	if !ok {
		t.Fatalf("expected resolution")
	}
	if res.Steps != 2 {
		t.Fatalf("steps: got %d want 2", res.Steps)
	}
	want := []ports.ItemCount{{Item: "oak_log", Count: 1}}
	if !reflect.DeepEqual(res.Items, want) {
		t.Fatalf("items: got %v want %v", res.Items, want)
	}
}

func TestResolve_HeldIntermediateFeedsConversion(t *testing.T) {
	r := loadResolver(t)
	cases := []struct {
		req        string
		inv        Inventory
		wantFinal  string
		wantItems  []ports.ItemCount
		wantCrafts []Craft
	}{
		{
			// Planks become sticks while the log supplies the hoe's planks.
			req:        "hoe",
			inv:        Inventory{"oak_planks": 2, "oak_log": 1},
			wantFinal:  "wooden_hoe",
			wantItems:  []ports.ItemCount{{Item: "oak_log", Count: 1}, {Item: "oak_planks", Count: 2}},
			wantCrafts: []Craft{{RecipeID: "stick", Times: 1}, {RecipeID: "oak_planks", Times: 1}, {RecipeID: "wooden_hoe", Times: 1}},
		},
		{
			req:        "pickaxe",
			inv:        Inventory{"oak_planks": 3, "oak_log": 1},
			wantFinal:  "wooden_pickaxe",
			wantItems:  []ports.ItemCount{{Item: "oak_log", Count: 1}, {Item: "oak_planks", Count: 2}},
			wantCrafts: []Craft{{RecipeID: "stick", Times: 1}, {RecipeID: "oak_planks", Times: 1}, {RecipeID: "wooden_pickaxe", Times: 1}},
		},
		{
			// Fewest items wins among the splits that work.
			req:        "pickaxe",
			inv:        Inventory{"oak_planks": 4, "oak_log": 1},
			wantFinal:  "wooden_pickaxe",
			wantItems:  []ports.ItemCount{{Item: "oak_log", Count: 1}, {Item: "oak_planks", Count: 2}},
			wantCrafts: []Craft{{RecipeID: "stick", Times: 1}, {RecipeID: "oak_planks", Times: 1}, {RecipeID: "wooden_pickaxe", Times: 1}},
		},
	}
	for _, tc := range cases {
		res, ok := r.Resolve(tc.req, tc.inv)
		if !ok {
			t.Fatalf("%s from %v: expected resolution", tc.req, tc.inv)
		}
		if res.Steps != 2 || res.RecipeID != tc.wantFinal {
			t.Fatalf("%s from %v: got steps=%d recipe=%s want 2 %s", tc.req, tc.inv, res.Steps, res.RecipeID, tc.wantFinal)
		}
		if !reflect.DeepEqual(res.Items, tc.wantItems) {
			t.Fatalf("%s from %v: items got %v want %v", tc.req, tc.inv, res.Items, tc.wantItems)
		}
		if !reflect.DeepEqual(res.Crafts, tc.wantCrafts) {
			t.Fatalf("%s from %v: crafts got %v want %v", tc.req, tc.inv, res.Crafts, tc.wantCrafts)
		}
	}
}

func TestResolve_DeeperThanTwoStepsIsUnresolvable(t *testing.T) {
	r := loadResolver(t)
	// log -> planks -> sticks -> hoe needs three stages.
	if res, ok := r.Resolve("hoe", Inventory{"oak_log": 5}); ok {
		t.Fatalf("expected no resolution, got %+v", res)
	}
	if _, ok := r.Resolve("hoe", Inventory{}); ok {
		t.Fatalf("expected no resolution for empty inventory")
	}
}

func TestResolve_PrefersFewestSteps(t *testing.T) {
	r := loadResolver(t)
	// Stone hoe is one step away, wooden hoe two.
	res, ok := r.Resolve("hoe", Inventory{"cobblestone": 2, "stick": 2, "birch_planks": 1})
	if !ok {
		t.Fatalf("expected resolution")
	}
	if res.Steps != 1 || res.RecipeID != "stone_hoe" {
		t.Fatalf("got steps=%d recipe=%s want 1 stone_hoe", res.Steps, res.RecipeID)
	}
}

func TestResolve_ConcreteItemsAllocatedBeforeCategories(t *testing.T) {
	r := loadResolver(t)
	// Mixed plank types satisfy the category ingredient together.
	res, ok := r.Resolve("wooden_axe", Inventory{"oak_planks": 1, "birch_planks": 2, "stick": 2})
	if !ok || res.Steps != 1 {
		t.Fatalf("got %+v ok=%v", res, ok)
	}
	got := ports.ItemsToMap(res.Items)
	if got["oak_planks"]+got["birch_planks"] != 3 || got["stick"] != 2 {
		t.Fatalf("items: got %v", got)
	}
}

func TestResolve_Deterministic(t *testing.T) {
	r := loadResolver(t)
	inv := Inventory{"oak_planks": 3, "birch_planks": 3, "oak_log": 2, "birch_log": 1}
	first, ok := r.Resolve("hoe", inv)
	if !ok {
		t.Fatalf("expected resolution")
	}
	for i := 0; i < 20; i++ {
		again, _ := r.Resolve("hoe", inv)
		if !reflect.DeepEqual(first, again) {
			t.Fatalf("run %d differs: %+v vs %+v", i, first, again)
		}
	}
	if inv["oak_planks"] != 3 || inv["oak_log"] != 2 {
		t.Fatalf("resolver mutated inventory: %v", inv)
	}
}

func TestSatisfied(t *testing.T) {
	r := loadResolver(t)
	if !r.Satisfied("hoe", Inventory{"stone_hoe": 1}) {
		t.Fatalf("stone_hoe should satisfy hoe")
	}
	if r.Satisfied("hoe", Inventory{"stone_hoe": 0, "stick": 9}) {
		t.Fatalf("zero count must not satisfy")
	}
}

type spareAboveTwo struct{}

func (spareAboveTwo) Spare(isTool bool, held int) int {
	if isTool {
		if held > 1 {
			return 1
		}
		return 0
	}
	return max(0, held-2)
}

func TestResolveWithSpare(t *testing.T) {
	r := loadResolver(t)
	// The only hoe is kept; four planks leave two to spare, not enough for sticks and a hoe.
	if res, ok := r.ResolveWithSpare("hoe", Inventory{"wooden_hoe": 1, "oak_planks": 4}, spareAboveTwo{}); ok {
		t.Fatalf("expected no resolution, got %+v", res)
	}
	res, ok := r.ResolveWithSpare("hoe", Inventory{"wooden_hoe": 2}, spareAboveTwo{})
	if !ok || res.Steps != 0 {
		t.Fatalf("got %+v ok=%v", res, ok)
	}
}
