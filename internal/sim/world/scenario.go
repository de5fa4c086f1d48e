package world

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"agentcraft.ai/internal/agent/ports"
	"agentcraft.ai/internal/sim/catalogs"
)

// Scenario is a starting world described in YAML.
type Scenario struct {
	World      Config          `yaml:"world"`
	Fills      []FillSpec      `yaml:"fills"`
	Blocks     []BlockSpec     `yaml:"blocks"`
	Containers []ContainerSpec `yaml:"containers"`
	Signs      []SignSpec      `yaml:"signs"`
	Agents     []AgentSpec     `yaml:"agents"`
}

// FillSpec fills the box between From and To (inclusive) with one block.
type FillSpec struct {
	Block string `yaml:"block"`
	From  string `yaml:"from"`
	To    string `yaml:"to"`
}

type BlockSpec struct {
	Block string `yaml:"block"`
	At    string `yaml:"at"`
}

type ContainerSpec struct {
	ID       string         `yaml:"id"`
	At       string         `yaml:"at"`
	Capacity int            `yaml:"capacity"`
	Items    map[string]int `yaml:"items"`
}

type SignSpec struct {
	At   string `yaml:"at"`
	Text string `yaml:"text"`
}

type AgentSpec struct {
	ID        string         `yaml:"id"`
	Role      string         `yaml:"role"`
	At        string         `yaml:"at"`
	Home      string         `yaml:"home"`
	Inventory map[string]int `yaml:"inventory"`
}

// maxFill bounds the cells a single fill may cover.
const maxFill = 4096

func LoadScenario(path string) (Scenario, error) {
	var s Scenario
	b, err := os.ReadFile(path)
	if err != nil {
		return s, err
	}
	if err := yaml.Unmarshal(b, &s); err != nil {
		return s, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

// HomeOf returns the parsed home of an agent spec, or nil when unset.
func (a AgentSpec) HomeOf() (*ports.Vec3, error) {
	if a.Home == "" {
		return nil, nil
	}
	p, err := ports.ParseVec3(a.Home)
	if err != nil {
		return nil, fmt.Errorf("agent %s home: %w", a.ID, err)
	}
	return &p, nil
}

// Build creates the scenario world. Fills apply first, then single blocks, containers,
// signs and agents.
func (s Scenario) Build(cats *catalogs.Catalogs) (*World, error) {
	w := New(cats, s.World)
	for i, f := range s.Fills {
		from, err := ports.ParseVec3(f.From)
		if err != nil {
			return nil, fmt.Errorf("fills[%d]: %w", i, err)
		}
		to, err := ports.ParseVec3(f.To)
		if err != nil {
			return nil, fmt.Errorf("fills[%d]: %w", i, err)
		}
		if err := w.fill(f.Block, from, to); err != nil {
			return nil, fmt.Errorf("fills[%d]: %w", i, err)
		}
	}
	for i, b := range s.Blocks {
		p, err := ports.ParseVec3(b.At)
		if err != nil {
			return nil, fmt.Errorf("blocks[%d]: %w", i, err)
		}
		if err := w.SetBlock(p, b.Block); err != nil {
			return nil, fmt.Errorf("blocks[%d]: %w", i, err)
		}
	}
	for i, c := range s.Containers {
		p, err := ports.ParseVec3(c.At)
		if err != nil {
			return nil, fmt.Errorf("containers[%d]: %w", i, err)
		}
		if err := checkItems(cats, c.Items); err != nil {
			return nil, fmt.Errorf("containers[%d]: %w", i, err)
		}
		if err := w.AddContainer(c.ID, p, c.Capacity, c.Items); err != nil {
			return nil, err
		}
	}
	for i, sg := range s.Signs {
		p, err := ports.ParseVec3(sg.At)
		if err != nil {
			return nil, fmt.Errorf("signs[%d]: %w", i, err)
		}
		if _, err := w.AddSign("", p, sg.Text, ""); err != nil {
			return nil, fmt.Errorf("signs[%d]: %w", i, err)
		}
	}
	seen := map[string]bool{}
	for i, a := range s.Agents {
		if a.ID == "" || seen[a.ID] {
			return nil, fmt.Errorf("agents[%d]: missing or duplicate id %q", i, a.ID)
		}
		seen[a.ID] = true
		p, err := ports.ParseVec3(a.At)
		if err != nil {
			return nil, fmt.Errorf("agents[%d]: %w", i, err)
		}
		if _, err := a.HomeOf(); err != nil {
			return nil, err
		}
		if err := checkItems(cats, a.Inventory); err != nil {
			return nil, fmt.Errorf("agents[%d]: %w", i, err)
		}
		w.AddAgent(a.ID, p, a.Inventory)
	}
	return w, nil
}

func (w *World) fill(block string, from, to ports.Vec3) error {
	if _, ok := w.cats.Blocks.Defs[block]; !ok {
		return fmt.Errorf("unknown block %q", block)
	}
	lo := ports.Vec3{X: min(from.X, to.X), Y: min(from.Y, to.Y), Z: min(from.Z, to.Z)}
	hi := ports.Vec3{X: max(from.X, to.X), Y: max(from.Y, to.Y), Z: max(from.Z, to.Z)}
	if n := (hi.X - lo.X + 1) * (hi.Y - lo.Y + 1) * (hi.Z - lo.Z + 1); n > maxFill {
		return fmt.Errorf("fill of %d cells exceeds %d", n, maxFill)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	for x := lo.X; x <= hi.X; x++ {
		for y := lo.Y; y <= hi.Y; y++ {
			for z := lo.Z; z <= hi.Z; z++ {
				w.setBlock(ports.Vec3{X: x, Y: y, Z: z}, block)
			}
		}
	}
	return nil
}

func checkItems(cats *catalogs.Catalogs, items map[string]int) error {
	for item, n := range items {
		if _, ok := cats.Items.Defs[item]; !ok {
			return fmt.Errorf("unknown item %q", item)
		}
		if n < 0 {
			return fmt.Errorf("item %s: negative count %d", item, n)
		}
	}
	return nil
}
