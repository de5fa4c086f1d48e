package world

import (
	"context"
	"fmt"
	"sort"
	"time"

	"agentcraft.ai/internal/agent/ports"
	"agentcraft.ai/internal/sim/catalogs"
)

// Body is one agent's handle on the world. It implements ports.Sensor, ports.Navigator,
// ports.Actuator and ports.KnowledgeStore.
type Body struct {
	w   *World
	id  string
	now func() time.Time
}

// Body returns the handle for an agent added with AddAgent. now stamps snapshots; nil
// uses time.Now.
func (w *World) Body(agentID string, now func() time.Time) (*Body, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.agents[agentID] == nil {
		return nil, fmt.Errorf("agent %s: %w", agentID, ports.ErrNotFound)
	}
	if now == nil {
		now = time.Now
	}
	return &Body{w: w, id: agentID, now: now}, nil
}

// Ports bundles the body as every collaborator of the agent.
func (b *Body) Ports() ports.Ports {
	return ports.Ports{Sensor: b, Navigator: b, Actuator: b, Knowledge: b}
}

func (b *Body) agent() (*Agent, error) {
	a := b.w.agents[b.id]
	if a == nil {
		return nil, fmt.Errorf("agent %s: %w", b.id, ports.ErrNotFound)
	}
	return a, nil
}

func (b *Body) Snapshot(ctx context.Context) (ports.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return ports.Snapshot{}, err
	}
	w := b.w
	w.mu.Lock()
	defer w.mu.Unlock()
	a, err := b.agent()
	if err != nil {
		return ports.Snapshot{}, err
	}
	r := w.cfg.ObsRadius
	near := func(p ports.Vec3) bool { return ports.Manhattan(p, a.Pos) <= r }

	s := ports.Snapshot{
		Time:      b.now(),
		Position:  a.Pos,
		Radius:    r,
		Inventory: copyCounts(a.Inventory),
	}
	for p, id := range w.blocks {
		if !near(p) {
			continue
		}
		s.Blocks = append(s.Blocks, ports.BlockObs{Name: id, Category: w.cats.Blocks.Defs[id].Category, Pos: p})
	}
	sort.Slice(s.Blocks, func(i, j int) bool { return lessVec(s.Blocks[i].Pos, s.Blocks[j].Pos) })

	for _, c := range w.containers {
		if near(c.Pos) {
			s.Entities = append(s.Entities, ports.EntityObs{
				ID: c.ID, Type: ports.EntityChest, Pos: c.Pos, Items: copyCounts(c.Inventory), Full: c.total() >= c.Capacity,
			})
		}
	}
	for p, items := range w.drops {
		if near(p) {
			s.Entities = append(s.Entities, ports.EntityObs{ID: "drop@" + p.String(), Type: ports.EntityItem, Pos: p, Items: copyCounts(items)})
		}
	}
	for _, sg := range w.signs {
		if near(sg.Pos) {
			s.Entities = append(s.Entities, ports.EntityObs{ID: sg.ID, Type: ports.EntitySign, Pos: sg.Pos})
		}
	}
	for _, o := range w.agents {
		if o.ID != a.ID && near(o.Pos) {
			s.Entities = append(s.Entities, ports.EntityObs{ID: o.ID, Type: ports.EntityAgent, Pos: o.Pos})
		}
	}
	sort.Slice(s.Entities, func(i, j int) bool {
		if s.Entities[i].Type != s.Entities[j].Type {
			return s.Entities[i].Type < s.Entities[j].Type
		}
		return s.Entities[i].ID < s.Entities[j].ID
	})
	return s, nil
}

// Goto moves the agent to target at once.
func (b *Body) Goto(ctx context.Context, target ports.Vec3) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.w.mu.Lock()
	defer b.w.mu.Unlock()
	a, err := b.agent()
	if err != nil {
		return err
	}
	a.Pos = target
	return nil
}

func (b *Body) Stop() {}

func (b *Body) IsMoving() bool { return false }

func (b *Body) reach(a *Agent, p ports.Vec3) error {
	if ports.Manhattan(a.Pos, p) > ports.Reach {
		return fmt.Errorf("%s from %s: %w", p, a.Pos, ports.ErrOutOfReach)
	}
	return nil
}

func (b *Body) Dig(ctx context.Context, p ports.Vec3) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	w := b.w
	w.mu.Lock()
	defer w.mu.Unlock()
	a, err := b.agent()
	if err != nil {
		return err
	}
	if err := b.reach(a, p); err != nil {
		return err
	}
	id, ok := w.blocks[p]
	if !ok {
		return fmt.Errorf("dig %s: no block: %w", p, ports.ErrNotFound)
	}
	def := w.cats.Blocks.Defs[id]
	if !def.Breakable {
		return fmt.Errorf("dig %s: %s is not breakable", p, id)
	}
	if def.RequiresTool != "" && !holds(w.cats, a.Inventory, def.RequiresTool) {
		return fmt.Errorf("dig %s needs a %s: %w", id, def.RequiresTool, ports.ErrMissingItems)
	}
	if def.DropsItem != "" {
		a.Inventory[def.DropsItem] += max(1, def.DropsCount)
	}
	switch {
	case id == blockRipe:
		// Harvest leaves the farmland and yields a seed to replant.
		w.blocks[p] = blockFarmland
		a.Inventory[itemSeeds]++
	case def.Category == "forest":
		delete(w.blocks, p)
		w.pending[p] = pending{Block: id, Due: w.tick + uint64(w.cfg.RegrowTicks)}
	default:
		delete(w.blocks, p)
	}
	return nil
}

func (b *Body) Place(ctx context.Context, item string, p ports.Vec3) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	w := b.w
	w.mu.Lock()
	defer w.mu.Unlock()
	a, err := b.agent()
	if err != nil {
		return err
	}
	if err := b.reach(a, p); err != nil {
		return err
	}
	if a.Inventory[item] <= 0 {
		return fmt.Errorf("place %s: %w", item, ports.ErrMissingItems)
	}
	cur, occupied := w.blocks[p]
	switch {
	case item == itemSeeds:
		if cur != blockFarmland {
			return fmt.Errorf("place %s at %s: needs farmland, found %q", item, p, cur)
		}
		w.blocks[p] = blockYoung
		w.pending[p] = pending{Block: blockRipe, Due: w.tick + uint64(w.cfg.GrowTicks)}
	case w.cats.Items.Defs[item].PlaceAs != "":
		if occupied {
			return fmt.Errorf("place %s at %s: occupied by %s", item, p, cur)
		}
		as := w.cats.Items.Defs[item].PlaceAs
		w.blocks[p] = as
		if as == "chest" {
			id := fmt.Sprintf("chest@%s", p)
			w.containers[id] = &Container{ID: id, Pos: p, Capacity: w.cfg.ContainerCapacity, Inventory: map[string]int{}}
		}
	default:
		return fmt.Errorf("place %s: not placeable", item)
	}
	take(a.Inventory, item, 1)
	return nil
}

// Craft checks and consumes the recipe inputs times over, then adds the outputs.
// Category ingredients draw from matching items in id order.
func (b *Body) Craft(ctx context.Context, recipeID string, times int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if times <= 0 {
		return fmt.Errorf("craft %s: bad times %d", recipeID, times)
	}
	w := b.w
	rec, ok := w.cats.Recipes.ByID[recipeID]
	if !ok {
		return fmt.Errorf("craft %s: unknown recipe: %w", recipeID, ports.ErrNotFound)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	a, err := b.agent()
	if err != nil {
		return err
	}

	inv := copyCounts(a.Inventory)
	for _, in := range rec.Inputs {
		need := in.Count * times
		for _, item := range matching(w.cats, inv, in) {
			n := min(need, inv[item])
			take(inv, item, n)
			need -= n
			if need == 0 {
				break
			}
		}
		if need > 0 {
			return fmt.Errorf("craft %s x%d: short %d %s: %w", recipeID, times, need, in.Key(), ports.ErrMissingItems)
		}
	}
	for _, out := range rec.Outputs {
		inv[out.Item] += out.Count * times
	}
	a.Inventory = inv
	return nil
}

// Deposit moves up to count items into the container. When the container fills first it
// returns the number moved together with ports.ErrContainerFull.
func (b *Body) Deposit(ctx context.Context, containerID, item string, count int) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	w := b.w
	w.mu.Lock()
	defer w.mu.Unlock()
	a, c, err := b.container(containerID)
	if err != nil {
		return 0, err
	}
	n := min(count, a.Inventory[item])
	if n <= 0 {
		return 0, fmt.Errorf("deposit %s: %w", item, ports.ErrMissingItems)
	}
	free := c.Capacity - c.total()
	if free <= 0 {
		return 0, fmt.Errorf("deposit into %s: %w", c.ID, ports.ErrContainerFull)
	}
	moved := min(n, free)
	take(a.Inventory, item, moved)
	c.Inventory[item] += moved
	if moved < n {
		return moved, fmt.Errorf("deposit into %s: moved %d of %d: %w", c.ID, moved, n, ports.ErrContainerFull)
	}
	return moved, nil
}

func (b *Body) Withdraw(ctx context.Context, containerID, item string, count, keep int) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	w := b.w
	w.mu.Lock()
	defer w.mu.Unlock()
	a, c, err := b.container(containerID)
	if err != nil {
		return 0, err
	}
	held := c.Inventory[item]
	if held <= 0 {
		return 0, fmt.Errorf("withdraw %s from %s: %w", item, c.ID, ports.ErrMissingItems)
	}
	n := min(count, held-max(0, keep))
	if n <= 0 {
		return 0, nil
	}
	take(c.Inventory, item, n)
	a.Inventory[item] += n
	return n, nil
}

func (b *Body) container(id string) (*Agent, *Container, error) {
	a, err := b.agent()
	if err != nil {
		return nil, nil, err
	}
	c := b.w.containers[id]
	if c == nil {
		return nil, nil, fmt.Errorf("container %s: %w", id, ports.ErrNotFound)
	}
	if err := b.reach(a, c.Pos); err != nil {
		return nil, nil, err
	}
	return a, c, nil
}

// Drop stages items at the agent's feet. Either every item is dropped or none is.
func (b *Body) Drop(ctx context.Context, items []ports.ItemCount) (ports.Vec3, error) {
	if err := ctx.Err(); err != nil {
		return ports.Vec3{}, err
	}
	w := b.w
	w.mu.Lock()
	defer w.mu.Unlock()
	a, err := b.agent()
	if err != nil {
		return ports.Vec3{}, err
	}
	want := ports.ItemsToMap(items)
	for item, n := range want {
		if n <= 0 || a.Inventory[item] < n {
			return ports.Vec3{}, fmt.Errorf("drop %dx%s: %w", n, item, ports.ErrMissingItems)
		}
	}
	pile := w.drops[a.Pos]
	if pile == nil {
		pile = map[string]int{}
		w.drops[a.Pos] = pile
	}
	for item, n := range want {
		take(a.Inventory, item, n)
		pile[item] += n
	}
	return a.Pos, nil
}

// PickUp collects every drop within reach of both pos and the agent.
func (b *Body) PickUp(ctx context.Context, pos ports.Vec3) (map[string]int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	w := b.w
	w.mu.Lock()
	defer w.mu.Unlock()
	a, err := b.agent()
	if err != nil {
		return nil, err
	}
	got := map[string]int{}
	for p, pile := range w.drops {
		if ports.Manhattan(p, pos) > ports.Reach || ports.Manhattan(p, a.Pos) > ports.Reach {
			continue
		}
		for item, n := range pile {
			a.Inventory[item] += n
			got[item] += n
		}
		delete(w.drops, p)
	}
	if len(got) == 0 {
		return nil, fmt.Errorf("pick up near %s: %w", pos, ports.ErrNotFound)
	}
	return got, nil
}

func holds(cats *catalogs.Catalogs, inv map[string]int, requirement string) bool {
	for item, n := range inv {
		if n > 0 && cats.Satisfies(item, requirement) {
			return true
		}
	}
	return false
}

func matching(cats *catalogs.Catalogs, inv map[string]int, in catalogs.Ingredient) []string {
	var out []string
	for item, n := range inv {
		if n > 0 && cats.Matches(item, in) {
			out = append(out, item)
		}
	}
	sort.Strings(out)
	return out
}

func take(m map[string]int, item string, n int) {
	m[item] -= n
	if m[item] <= 0 {
		delete(m, item)
	}
}

func lessVec(a, b ports.Vec3) bool {
	if a.X != b.X {
		return a.X < b.X
	}
	if a.Y != b.Y {
		return a.Y < b.Y
	}
	return a.Z < b.Z
}
