// Package ports declares the collaborators an agent consumes: perception, navigation,
// low-level actuation and world-persisted knowledge. Implementations live outside the
// planning core (the in-process simulator in internal/sim/world, the sqlite knowledge
// store in internal/persistence/knowledge).
package ports

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrContainerFull = errors.New("container full")
	ErrMissingItems  = errors.New("missing items")
	ErrOutOfReach    = errors.New("out of reach")
)

// Reach is the Manhattan distance within which an agent can touch a block, container or drop.
const Reach = 2

type Vec3 struct {
	X int `json:"x"`
	Y int `json:"y"`
	Z int `json:"z"`
}

func (v Vec3) String() string { return fmt.Sprintf("%d,%d,%d", v.X, v.Y, v.Z) }

func (v Vec3) Add(o Vec3) Vec3 { return Vec3{X: v.X + o.X, Y: v.Y + o.Y, Z: v.Z + o.Z} }

func Manhattan(a, b Vec3) int {
	return abs(a.X-b.X) + abs(a.Y-b.Y) + abs(a.Z-b.Z)
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// ParseVec3 parses "x,y,z" (whitespace around parts allowed).
func ParseVec3(s string) (Vec3, error) {
	parts := strings.Split(strings.TrimSpace(s), ",")
	if len(parts) != 3 {
		return Vec3{}, fmt.Errorf("vec3 %q: want 3 parts, got %d", s, len(parts))
	}
	var out [3]int
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return Vec3{}, fmt.Errorf("vec3 %q: %w", s, err)
		}
		out[i] = n
	}
	return Vec3{X: out[0], Y: out[1], Z: out[2]}, nil
}

// SortVec3 orders positions by X, then Y, then Z.
func SortVec3(vs []Vec3) {
	sort.Slice(vs, func(i, j int) bool {
		if vs[i].X != vs[j].X {
			return vs[i].X < vs[j].X
		}
		if vs[i].Y != vs[j].Y {
			return vs[i].Y < vs[j].Y
		}
		return vs[i].Z < vs[j].Z
	})
}

type ItemCount struct {
	Item  string `json:"item"`
	Count int    `json:"count"`
}

// FormatItems renders items as "2xoak_planks,2xstick", sorted by item id.
func FormatItems(items []ItemCount) string {
	cp := append([]ItemCount(nil), items...)
	sort.Slice(cp, func(i, j int) bool { return cp[i].Item < cp[j].Item })
	parts := make([]string, 0, len(cp))
	for _, it := range cp {
		parts = append(parts, fmt.Sprintf("%dx%s", it.Count, it.Item))
	}
	return strings.Join(parts, ",")
}

// ParseItems is the inverse of FormatItems. A bare item id counts as one unit.
func ParseItems(s string) ([]ItemCount, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	var out []ItemCount
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		count := 1
		item := part
		if i := strings.IndexByte(part, 'x'); i > 0 {
			if n, err := strconv.Atoi(part[:i]); err == nil {
				count = n
				item = part[i+1:]
			}
		}
		if item == "" || count <= 0 {
			return nil, fmt.Errorf("items %q: bad entry %q", s, part)
		}
		out = append(out, ItemCount{Item: item, Count: count})
	}
	return out, nil
}

// ItemsToMap sums items by id.
func ItemsToMap(items []ItemCount) map[string]int {
	out := make(map[string]int, len(items))
	for _, it := range items {
		out[it.Item] += it.Count
	}
	return out
}

type BlockObs struct {
	Name     string `json:"name"`
	Category string `json:"category,omitempty"` // resource-site category, e.g. "forest"
	Pos      Vec3   `json:"pos"`
}

// Entity types.
const (
	EntityAgent = "AGENT"
	EntityChest = "CHEST"
	EntityItem  = "ITEM"
	EntitySign  = "SIGN"
)

type EntityObs struct {
	ID    string         `json:"id"`
	Type  string         `json:"type"`
	Pos   Vec3           `json:"pos"`
	Items map[string]int `json:"items,omitempty"`
	Full  bool           `json:"full,omitempty"`
}

// Snapshot is one perception pass around the agent. Everything within Radius (Manhattan)
// of Position is reported; what is missing there is gone.
type Snapshot struct {
	Time      time.Time      `json:"time"`
	Position  Vec3           `json:"position"`
	Radius    int            `json:"radius"`
	Inventory map[string]int `json:"inventory"`
	Blocks    []BlockObs     `json:"blocks,omitempty"`
	Entities  []EntityObs    `json:"entities,omitempty"`
}

type Sensor interface {
	Snapshot(ctx context.Context) (Snapshot, error)
}

type Navigator interface {
	Goto(ctx context.Context, target Vec3) error
	Stop()
	IsMoving() bool
}

type Actuator interface {
	Dig(ctx context.Context, pos Vec3) error
	Place(ctx context.Context, item string, pos Vec3) error
	Craft(ctx context.Context, recipeID string, times int) error
	Deposit(ctx context.Context, containerID, item string, count int) (int, error)
	// Withdraw moves up to count units of item out of a container, leaving at least keep
	// behind. The bound is applied to the container's live contents.
	Withdraw(ctx context.Context, containerID, item string, count, keep int) (int, error)
	// Drop stages items on the ground at the agent's feet.
	Drop(ctx context.Context, items []ItemCount) (Vec3, error)
	// PickUp collects dropped items within reach of pos.
	PickUp(ctx context.Context, pos Vec3) (map[string]int, error)
}

// KnowledgeEntry is one world-persisted fact, e.g. a sign reading "[FARM] 10,64,-3".
type KnowledgeEntry struct {
	SourceID string `json:"source_id"`
	Category string `json:"category"`
	Pos      Vec3   `json:"pos"`
}

type KnowledgeStore interface {
	ReadEntries(ctx context.Context, hint Vec3) ([]KnowledgeEntry, error)
	WriteEntry(ctx context.Context, category string, pos Vec3) error
}

// Ports bundles the collaborators of one agent.
type Ports struct {
	Sensor    Sensor
	Navigator Navigator
	Actuator  Actuator
	Knowledge KnowledgeStore
}
