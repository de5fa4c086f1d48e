package catalogs

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Item kinds.
const (
	KindRaw      = "RAW"
	KindMaterial = "MATERIAL"
	KindTool     = "TOOL"
	KindBlock    = "BLOCK"
	KindFood     = "FOOD"
)

type Catalogs struct {
	Blocks  BlockCatalog
	Items   ItemCatalog
	Recipes RecipeCatalog
}

type BlockCatalog struct {
	Defs   map[string]BlockDef
	Digest string
}

type BlockDef struct {
	ID           string `json:"id"`
	Solid        bool   `json:"solid"`
	Breakable    bool   `json:"breakable"`
	DropsItem    string `json:"drops_item,omitempty"`
	DropsCount   int    `json:"drops_count,omitempty"`
	RequiresTool string `json:"requires_tool,omitempty"` // item category
	Category     string `json:"category,omitempty"`      // resource-site category, e.g. "forest"
}

type ItemCatalog struct {
	Defs       map[string]ItemDef
	ByCategory map[string][]string // sorted item ids
	Digest     string
}

type ItemDef struct {
	ID       string `json:"id"`
	Kind     string `json:"kind"`
	Category string `json:"category,omitempty"`
	PlaceAs  string `json:"place_as,omitempty"`
}

type RecipeCatalog struct {
	ByID   map[string]RecipeDef
	IDs    []string // sorted
	Digest string
}

type RecipeDef struct {
	RecipeID  string       `json:"recipe_id"`
	Station   string       `json:"station"`
	Inputs    []Ingredient `json:"inputs"`
	Outputs   []ItemCount  `json:"outputs"`
	TimeTicks int          `json:"time_ticks"`
}

// Ingredient names either a concrete item or any item of a category.
type Ingredient struct {
	Item     string `json:"item,omitempty"`
	Category string `json:"category,omitempty"`
	Count    int    `json:"count"`
}

func (in Ingredient) Key() string {
	if in.Item != "" {
		return in.Item
	}
	return "#" + in.Category
}

type ItemCount struct {
	Item  string `json:"item"`
	Count int    `json:"count"`
}

func Load(configDir string) (*Catalogs, error) {
	var c Catalogs
	if err := loadBlocks(filepath.Join(configDir, "blocks.json"), &c.Blocks); err != nil {
		return nil, err
	}
	if err := loadItems(filepath.Join(configDir, "items.json"), &c.Items); err != nil {
		return nil, err
	}
	if err := loadRecipes(filepath.Join(configDir, "recipes.json"), &c.Recipes); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// New builds catalogs from in-memory definitions (tests, generated worlds).
func New(blocks []BlockDef, items []ItemDef, recipes []RecipeDef) (*Catalogs, error) {
	var c Catalogs
	for _, step := range []struct {
		name string
		v    any
		fn   func([]byte) error
	}{
		{"blocks", blocks, func(b []byte) error { return decodeBlocks(b, &c.Blocks) }},
		{"items", items, func(b []byte) error { return decodeItems(b, &c.Items) }},
		{"recipes", recipes, func(b []byte) error { return decodeRecipes(b, &c.Recipes) }},
	} {
		raw, err := json.Marshal(step.v)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", step.name, err)
		}
		if err := step.fn(raw); err != nil {
			return nil, err
		}
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks cross references between recipes and items.
func (c *Catalogs) Validate() error {
	for _, id := range c.Recipes.IDs {
		r := c.Recipes.ByID[id]
		if len(r.Inputs) == 0 || len(r.Outputs) == 0 {
			return fmt.Errorf("recipe %q: missing inputs or outputs", id)
		}
		for _, in := range r.Inputs {
			if in.Count <= 0 {
				return fmt.Errorf("recipe %q: input %s: count must be > 0", id, in.Key())
			}
			if (in.Item == "") == (in.Category == "") {
				return fmt.Errorf("recipe %q: input must name exactly one of item/category", id)
			}
			if in.Item != "" {
				if _, ok := c.Items.Defs[in.Item]; !ok {
					return fmt.Errorf("recipe %q: unknown input item %q", id, in.Item)
				}
			} else if len(c.Items.ByCategory[in.Category]) == 0 {
				return fmt.Errorf("recipe %q: empty input category %q", id, in.Category)
			}
		}
		for _, out := range r.Outputs {
			if _, ok := c.Items.Defs[out.Item]; !ok {
				return fmt.Errorf("recipe %q: unknown output item %q", id, out.Item)
			}
			if out.Count <= 0 {
				return fmt.Errorf("recipe %q: output %s: count must be > 0", id, out.Item)
			}
		}
	}
	for id, b := range c.Blocks.Defs {
		if b.DropsItem != "" {
			if _, ok := c.Items.Defs[b.DropsItem]; !ok {
				return fmt.Errorf("block %q: unknown drop %q", id, b.DropsItem)
			}
		}
	}
	return nil
}

// Category returns the item's category, or "" for unknown items.
func (c *Catalogs) Category(item string) string {
	return c.Items.Defs[item].Category
}

func (c *Catalogs) Kind(item string) string {
	return c.Items.Defs[item].Kind
}

// Satisfies reports whether item fulfils a requirement naming an item or a category.
func (c *Catalogs) Satisfies(item, requirement string) bool {
	if item == requirement {
		return true
	}
	cat := c.Items.Defs[item].Category
	return cat != "" && cat == requirement
}

// Matches reports whether item can be used for the ingredient.
func (c *Catalogs) Matches(item string, in Ingredient) bool {
	if in.Item != "" {
		return item == in.Item
	}
	return c.Items.Defs[item].Category == in.Category
}

// IsTool reports whether an item id (or every item of a category) is a tool.
func (c *Catalogs) IsTool(itemOrCategory string) bool {
	if d, ok := c.Items.Defs[itemOrCategory]; ok {
		return d.Kind == KindTool
	}
	ids := c.Items.ByCategory[itemOrCategory]
	if len(ids) == 0 {
		return false
	}
	for _, id := range ids {
		if c.Items.Defs[id].Kind != KindTool {
			return false
		}
	}
	return true
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func loadBlocks(path string, out *BlockCatalog) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return decodeBlocks(raw, out)
}

func decodeBlocks(raw []byte, out *BlockCatalog) error {
	out.Digest = sha256Hex(raw)
	var defs []BlockDef
	if err := json.Unmarshal(raw, &defs); err != nil {
		return fmt.Errorf("blocks.json: %w", err)
	}
	out.Defs = map[string]BlockDef{}
	for _, d := range defs {
		if d.ID == "" {
			return fmt.Errorf("blocks.json: empty id")
		}
		if d.DropsItem != "" && d.DropsCount <= 0 {
			d.DropsCount = 1
		}
		out.Defs[d.ID] = d
	}
	return nil
}

func loadItems(path string, out *ItemCatalog) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return decodeItems(raw, out)
}

func decodeItems(raw []byte, out *ItemCatalog) error {
	out.Digest = sha256Hex(raw)
	var defs []ItemDef
	if err := json.Unmarshal(raw, &defs); err != nil {
		return fmt.Errorf("items.json: %w", err)
	}
	out.Defs = map[string]ItemDef{}
	out.ByCategory = map[string][]string{}
	for _, d := range defs {
		if d.ID == "" {
			return fmt.Errorf("items.json: empty id")
		}
		switch d.Kind {
		case KindRaw, KindMaterial, KindTool, KindBlock, KindFood:
		default:
			return fmt.Errorf("items.json: %s: unknown kind %q", d.ID, d.Kind)
		}
		if _, dup := out.Defs[d.ID]; dup {
			return fmt.Errorf("items.json: duplicate id %q", d.ID)
		}
		out.Defs[d.ID] = d
		if c := strings.TrimSpace(d.Category); c != "" {
			out.ByCategory[c] = append(out.ByCategory[c], d.ID)
		}
	}
	for c := range out.ByCategory {
		sort.Strings(out.ByCategory[c])
	}
	return nil
}

func loadRecipes(path string, out *RecipeCatalog) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return decodeRecipes(raw, out)
}

func decodeRecipes(raw []byte, out *RecipeCatalog) error {
	out.Digest = sha256Hex(raw)
	var defs []RecipeDef
	if err := json.Unmarshal(raw, &defs); err != nil {
		return fmt.Errorf("recipes.json: %w", err)
	}
	out.ByID = map[string]RecipeDef{}
	out.IDs = out.IDs[:0]
	for _, r := range defs {
		if r.RecipeID == "" {
			return fmt.Errorf("recipes.json: empty recipe_id")
		}
		if _, dup := out.ByID[r.RecipeID]; dup {
			return fmt.Errorf("recipes.json: duplicate recipe_id %q", r.RecipeID)
		}
		out.ByID[r.RecipeID] = r
		out.IDs = append(out.IDs, r.RecipeID)
	}
	sort.Strings(out.IDs)
	return nil
}
