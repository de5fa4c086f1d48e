package world

import (
	"fmt"
	"sort"

	"agentcraft.ai/internal/agent/ports"
	"agentcraft.ai/internal/persistence/snapshot"
	"agentcraft.ai/internal/sim/catalogs"
)

// Export captures the world as a snapshot. Slices are sorted so equal worlds export
// identically.
func (w *World) Export() snapshot.SnapshotV1 {
	w.mu.Lock()
	defer w.mu.Unlock()

	s := snapshot.SnapshotV1{
		Header:            snapshot.Header{Version: snapshot.Version, WorldID: w.cfg.ID, Tick: w.tick},
		ObsRadius:         w.cfg.ObsRadius,
		GrowTicks:         w.cfg.GrowTicks,
		RegrowTicks:       w.cfg.RegrowTicks,
		ContainerCapacity: w.cfg.ContainerCapacity,
		NextSign:          w.nextSign,
	}
	for p, b := range w.blocks {
		s.Blocks = append(s.Blocks, snapshot.BlockV1{Pos: arr(p), Block: b})
	}
	sort.Slice(s.Blocks, func(i, j int) bool { return lessArr(s.Blocks[i].Pos, s.Blocks[j].Pos) })
	for p, pd := range w.pending {
		s.Pending = append(s.Pending, snapshot.PendingV1{Pos: arr(p), Block: pd.Block, Due: pd.Due})
	}
	sort.Slice(s.Pending, func(i, j int) bool { return lessArr(s.Pending[i].Pos, s.Pending[j].Pos) })
	for _, c := range w.containers {
		s.Containers = append(s.Containers, snapshot.ContainerV1{ID: c.ID, Pos: arr(c.Pos), Capacity: c.Capacity, Inventory: copyCounts(c.Inventory)})
	}
	sort.Slice(s.Containers, func(i, j int) bool { return s.Containers[i].ID < s.Containers[j].ID })
	for p, items := range w.drops {
		s.Drops = append(s.Drops, snapshot.DropV1{Pos: arr(p), Items: copyCounts(items)})
	}
	sort.Slice(s.Drops, func(i, j int) bool { return lessArr(s.Drops[i].Pos, s.Drops[j].Pos) })
	for _, sg := range w.signs {
		s.Signs = append(s.Signs, snapshot.SignV1{ID: sg.ID, Pos: arr(sg.Pos), Text: sg.Text, By: sg.By})
	}
	sort.Slice(s.Signs, func(i, j int) bool { return s.Signs[i].ID < s.Signs[j].ID })
	for _, a := range w.agents {
		s.Agents = append(s.Agents, snapshot.AgentV1{ID: a.ID, Pos: arr(a.Pos), Inventory: copyCounts(a.Inventory)})
	}
	sort.Slice(s.Agents, func(i, j int) bool { return s.Agents[i].ID < s.Agents[j].ID })
	return s
}

// Import rebuilds a world from a snapshot. Unknown blocks are rejected.
func Import(cats *catalogs.Catalogs, s snapshot.SnapshotV1) (*World, error) {
	if s.Header.Version != snapshot.Version {
		return nil, fmt.Errorf("import: unsupported snapshot version %d", s.Header.Version)
	}
	w := New(cats, Config{
		ID:                s.Header.WorldID,
		ObsRadius:         s.ObsRadius,
		GrowTicks:         s.GrowTicks,
		RegrowTicks:       s.RegrowTicks,
		ContainerCapacity: s.ContainerCapacity,
	})
	w.tick = s.Header.Tick
	w.nextSign = s.NextSign
	for _, b := range s.Blocks {
		if _, ok := cats.Blocks.Defs[b.Block]; !ok {
			return nil, fmt.Errorf("import: block %s at %v: unknown", b.Block, b.Pos)
		}
		w.blocks[vec(b.Pos)] = b.Block
	}
	for _, pd := range s.Pending {
		w.pending[vec(pd.Pos)] = pending{Block: pd.Block, Due: pd.Due}
	}
	for _, c := range s.Containers {
		w.containers[c.ID] = &Container{ID: c.ID, Pos: vec(c.Pos), Capacity: c.Capacity, Inventory: copyCounts(c.Inventory)}
	}
	for _, d := range s.Drops {
		w.drops[vec(d.Pos)] = copyCounts(d.Items)
	}
	for _, sg := range s.Signs {
		w.signs[sg.ID] = &Sign{ID: sg.ID, Pos: vec(sg.Pos), Text: sg.Text, By: sg.By}
	}
	for _, a := range s.Agents {
		w.agents[a.ID] = &Agent{ID: a.ID, Pos: vec(a.Pos), Inventory: copyCounts(a.Inventory)}
	}
	return w, nil
}

func arr(p ports.Vec3) [3]int { return [3]int{p.X, p.Y, p.Z} }
func vec(a [3]int) ports.Vec3 { return ports.Vec3{X: a[0], Y: a[1], Z: a[2]} }

func lessArr(a, b [3]int) bool { return lessVec(vec(a), vec(b)) }
