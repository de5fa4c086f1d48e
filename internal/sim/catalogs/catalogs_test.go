package catalogs

import (
	"strings"
	"testing"
)

func TestLoadConfigs(t *testing.T) {
	c, err := Load("../../../configs")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(c.Items.Digest) != 64 || len(c.Recipes.Digest) != 64 || len(c.Blocks.Digest) != 64 {
		t.Fatalf("digests not set: %q %q %q", c.Items.Digest, c.Recipes.Digest, c.Blocks.Digest)
	}
	if got := c.Items.ByCategory["hoe"]; len(got) != 2 || got[0] != "stone_hoe" || got[1] != "wooden_hoe" {
		t.Fatalf("hoe category: got %v", got)
	}
	if !c.Satisfies("wooden_hoe", "hoe") || !c.Satisfies("stick", "stick") || c.Satisfies("stick", "hoe") {
		t.Fatalf("Satisfies mismatch")
	}
	if !c.IsTool("hoe") || !c.IsTool("wooden_axe") || c.IsTool("planks") || c.IsTool("unknown") {
		t.Fatalf("IsTool mismatch")
	}
	for i := 1; i < len(c.Recipes.IDs); i++ {
		if c.Recipes.IDs[i-1] >= c.Recipes.IDs[i] {
			t.Fatalf("recipe ids not sorted: %v", c.Recipes.IDs)
		}
	}
}

func TestNew_RejectsUnknownReferences(t *testing.T) {
	items := []ItemDef{{ID: "oak_log", Kind: KindRaw, Category: "log"}}
	recipes := []RecipeDef{{
		RecipeID: "planks",
		Inputs:   []Ingredient{{Item: "oak_log", Count: 1}},
		Outputs:  []ItemCount{{Item: "oak_planks", Count: 4}},
	}}
	_, err := New(nil, items, recipes)
	if err == nil || !strings.Contains(err.Error(), "unknown output item") {
		t.Fatalf("expected unknown output error, got %v", err)
	}

	recipes[0].Inputs = []Ingredient{{Item: "oak_log", Category: "log", Count: 1}}
	recipes[0].Outputs = []ItemCount{{Item: "oak_log", Count: 1}}
	if _, err := New(nil, items, recipes); err == nil {
		t.Fatalf("expected error for ingredient naming item and category")
	}
}

func TestNew_RejectsBadKind(t *testing.T) {
	_, err := New(nil, []ItemDef{{ID: "x", Kind: "GADGET"}}, nil)
	if err == nil {
		t.Fatalf("expected error")
	}
}
