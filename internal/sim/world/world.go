// Package world is a small in-process block world that implements every agent
// collaborator: perception, navigation, actuation and sign-based knowledge.
//
// All state is guarded by one mutex, so agents may run in their own goroutines.
package world

import (
	"fmt"
	"sort"
	"sync"

	"agentcraft.ai/internal/agent/ports"
	"agentcraft.ai/internal/sim/catalogs"
)

const (
	blockAir      = "air"
	blockFarmland = "farmland"
	blockYoung    = "wheat_young"
	blockRipe     = "wheat_ripe"
	itemSeeds     = "wheat_seeds"
)

type Config struct {
	ID        string `yaml:"id"`
	ObsRadius int    `yaml:"obs_radius"`
	// GrowTicks is how long a planted crop takes to ripen.
	GrowTicks int `yaml:"grow_ticks"`
	// RegrowTicks is how long a felled tree takes to grow back.
	RegrowTicks int `yaml:"regrow_ticks"`
	// ContainerCapacity is the default total item capacity of a container.
	ContainerCapacity int `yaml:"container_capacity"`
}

func (c *Config) normalize() {
	if c.ID == "" {
		c.ID = "world"
	}
	if c.ObsRadius <= 0 {
		c.ObsRadius = 16
	}
	if c.GrowTicks <= 0 {
		c.GrowTicks = 40
	}
	if c.RegrowTicks <= 0 {
		c.RegrowTicks = 200
	}
	if c.ContainerCapacity <= 0 {
		c.ContainerCapacity = 256
	}
}

type Container struct {
	ID        string
	Pos       ports.Vec3
	Capacity  int
	Inventory map[string]int
}

func (c *Container) total() int {
	n := 0
	for _, v := range c.Inventory {
		n += v
	}
	return n
}

type Sign struct {
	ID   string
	Pos  ports.Vec3
	Text string
	By   string
}

type Agent struct {
	ID        string
	Pos       ports.Vec3
	Inventory map[string]int
}

// pending is a block that turns into another at a tick.
type pending struct {
	Block string
	Due   uint64
}

type World struct {
	mu   sync.Mutex
	cfg  Config
	cats *catalogs.Catalogs

	tick       uint64
	blocks     map[ports.Vec3]string
	containers map[string]*Container
	drops      map[ports.Vec3]map[string]int
	signs      map[string]*Sign
	agents     map[string]*Agent
	pending    map[ports.Vec3]pending
	nextSign   int
}

func New(cats *catalogs.Catalogs, cfg Config) *World {
	cfg.normalize()
	return &World{
		cfg:        cfg,
		cats:       cats,
		blocks:     map[ports.Vec3]string{},
		containers: map[string]*Container{},
		drops:      map[ports.Vec3]map[string]int{},
		signs:      map[string]*Sign{},
		agents:     map[string]*Agent{},
		pending:    map[ports.Vec3]pending{},
	}
}

func (w *World) Config() Config { return w.cfg }

func (w *World) CurrentTick() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.tick
}

// Step advances world time by one tick: crops ripen and felled trees grow back.
func (w *World) Step() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.tick++
	for p, pd := range w.pending {
		if pd.Due > w.tick {
			continue
		}
		// A tree only grows back into an empty cell.
		if cur := w.blocks[p]; cur == "" || cur == blockAir || cur == blockYoung {
			w.blocks[p] = pd.Block
		}
		delete(w.pending, p)
	}
}

func (w *World) SetBlock(p ports.Vec3, block string) error {
	if _, ok := w.cats.Blocks.Defs[block]; !ok {
		return fmt.Errorf("set block %s: unknown block %q", p, block)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.setBlock(p, block)
	return nil
}

func (w *World) setBlock(p ports.Vec3, block string) {
	if block == blockAir {
		delete(w.blocks, p)
		return
	}
	w.blocks[p] = block
}

func (w *World) Block(p ports.Vec3) string {
	w.mu.Lock()
	defer w.mu.Unlock()
	if b, ok := w.blocks[p]; ok {
		return b
	}
	return blockAir
}

// AddAgent places an agent. Adding an existing id moves it and replaces its inventory.
func (w *World) AddAgent(id string, pos ports.Vec3, inv map[string]int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	a := &Agent{ID: id, Pos: pos, Inventory: map[string]int{}}
	for k, v := range inv {
		if v > 0 {
			a.Inventory[k] = v
		}
	}
	w.agents[id] = a
}

func (w *World) AddContainer(id string, pos ports.Vec3, capacity int, items map[string]int) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.containers[id]; ok {
		return fmt.Errorf("container %s already exists", id)
	}
	if capacity <= 0 {
		capacity = w.cfg.ContainerCapacity
	}
	c := &Container{ID: id, Pos: pos, Capacity: capacity, Inventory: map[string]int{}}
	for k, v := range items {
		if v > 0 {
			c.Inventory[k] = v
		}
	}
	if c.total() > capacity {
		return fmt.Errorf("container %s: %d items exceed capacity %d", id, c.total(), capacity)
	}
	w.containers[id] = c
	w.blocks[pos] = "chest"
	return nil
}

// Inventory returns a copy of an agent's inventory.
func (w *World) Inventory(agentID string) map[string]int {
	w.mu.Lock()
	defer w.mu.Unlock()
	a := w.agents[agentID]
	if a == nil {
		return nil
	}
	return copyCounts(a.Inventory)
}

// ContainerItems returns a copy of a container's inventory.
func (w *World) ContainerItems(id string) map[string]int {
	w.mu.Lock()
	defer w.mu.Unlock()
	c := w.containers[id]
	if c == nil {
		return nil
	}
	return copyCounts(c.Inventory)
}

func (w *World) AgentIDs() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, 0, len(w.agents))
	for id := range w.agents {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (w *World) AgentPos(id string) (ports.Vec3, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	a := w.agents[id]
	if a == nil {
		return ports.Vec3{}, false
	}
	return a.Pos, true
}

func copyCounts(in map[string]int) map[string]int {
	out := make(map[string]int, len(in))
	for k, v := range in {
		if v > 0 {
			out[k] = v
		}
	}
	return out
}
