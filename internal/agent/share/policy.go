// Package share bounds how much an agent may take from a shared pool or give away from
// its own inventory.
package share

import (
	"context"
	"fmt"

	"agentcraft.ai/internal/agent/ports"
	"agentcraft.ai/internal/sim/catalogs"
)

type Policy struct {
	// MaterialCap is the most units of one material taken per withdrawal.
	MaterialCap int `yaml:"material_cap" json:"material_cap"`
	// MaterialFloor is the least units of one material left behind in the pool.
	MaterialFloor int `yaml:"material_floor" json:"material_floor"`
	// ToolCap is the most tools of one kind taken per withdrawal.
	ToolCap int `yaml:"tool_cap" json:"tool_cap"`
}

func DefaultPolicy() Policy {
	return Policy{MaterialCap: 16, MaterialFloor: 8, ToolCap: 1}
}

// Withdrawable returns how many units of a pool holding available may be taken when want
// are requested. Materials respect both the cap and the floor; tools are taken at most
// ToolCap at a time.
func (p Policy) Withdrawable(isTool bool, available, want int) int {
	if available <= 0 || want <= 0 {
		return 0
	}
	if isTool {
		return clamp(min(want, p.ToolCap, available))
	}
	return clamp(min(want, p.MaterialCap, available-p.MaterialFloor))
}

// Spare returns how much of held an agent can give away from its own inventory: materials
// above the floor (capped), and a tool only when it keeps at least one for itself.
func (p Policy) Spare(isTool bool, held int) int {
	if held <= 0 {
		return 0
	}
	if isTool {
		return clamp(min(p.ToolCap, held-1))
	}
	return clamp(min(p.MaterialCap, held-p.MaterialFloor))
}

// SpareInventory applies Spare to every entry of inv.
func (p Policy) SpareInventory(cats *catalogs.Catalogs, inv map[string]int) map[string]int {
	out := map[string]int{}
	for item, n := range inv {
		if s := p.Spare(cats.IsTool(item), n); s > 0 {
			out[item] = s
		}
	}
	return out
}

// Withdraw takes up to want units of item from a shared container last seen holding
// available, never more than Withdrawable allows. The floor is also passed to the
// container so it holds against the live pool when other agents withdraw concurrently.
// It returns how many units actually moved.
func (p Policy) Withdraw(ctx context.Context, act ports.Actuator, cats *catalogs.Catalogs, containerID, item string, available, want int) (int, error) {
	isTool := cats.IsTool(item)
	n := p.Withdrawable(isTool, available, want)
	if n == 0 {
		return 0, nil
	}
	keep := p.MaterialFloor
	if isTool {
		keep = 0
	}
	got, err := act.Withdraw(ctx, containerID, item, n, keep)
	if err != nil {
		return got, fmt.Errorf("withdraw %dx%s from %s: %w", n, item, containerID, err)
	}
	return got, nil
}

// Normalize fills zero values with defaults and keeps the floor non-negative.
func (p *Policy) Normalize() {
	d := DefaultPolicy()
	if p.MaterialCap <= 0 {
		p.MaterialCap = d.MaterialCap
	}
	if p.MaterialFloor < 0 {
		p.MaterialFloor = 0
	}
	if p.ToolCap <= 0 {
		p.ToolCap = d.ToolCap
	}
}

func clamp(n int) int {
	if n < 0 {
		return 0
	}
	return n
}
