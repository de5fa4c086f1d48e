package share

import (
	"context"
	"testing"

	"agentcraft.ai/internal/agent/ports"
	"agentcraft.ai/internal/sim/catalogs"
)

func TestWithdrawable_MaterialBounds(t *testing.T) {
	p := DefaultPolicy()
	for available := 0; available <= 40; available++ {
		for want := 0; want <= 40; want++ {
			n := p.Withdrawable(false, available, want)
			if n < 0 || n > want {
				t.Fatalf("available=%d want=%d: got %d", available, want, n)
			}
			if n > p.MaterialCap {
				t.Fatalf("available=%d want=%d: got %d exceeds cap %d", available, want, n, p.MaterialCap)
			}
			if n > 0 && available-n < p.MaterialFloor {
				t.Fatalf("available=%d want=%d: got %d leaves %d below floor %d", available, want, n, available-n, p.MaterialFloor)
			}
		}
	}
	if got := p.Withdrawable(false, 30, 100); got != 16 {
		t.Fatalf("capped: got %d want 16", got)
	}
	if got := p.Withdrawable(false, 12, 100); got != 4 {
		t.Fatalf("floored: got %d want 4", got)
	}
	if got := p.Withdrawable(false, 8, 1); got != 0 {
		t.Fatalf("at floor: got %d want 0", got)
	}
}

func TestWithdrawable_ToolsAtMostOne(t *testing.T) {
	p := DefaultPolicy()
	if got := p.Withdrawable(true, 5, 3); got != 1 {
		t.Fatalf("got %d want 1", got)
	}
	if got := p.Withdrawable(true, 0, 1); got != 0 {
		t.Fatalf("empty pool: got %d want 0", got)
	}
}

func TestSpare(t *testing.T) {
	p := DefaultPolicy()
	cases := []struct {
		tool bool
		held int
		want int
	}{
		{tool: true, held: 1, want: 0},
		{tool: true, held: 2, want: 1},
		{tool: true, held: 9, want: 1},
		{tool: false, held: 8, want: 0},
		{tool: false, held: 10, want: 2},
		{tool: false, held: 64, want: 16},
		{tool: false, held: 0, want: 0},
	}
	for _, c := range cases {
		if got := p.Spare(c.tool, c.held); got != c.want {
			t.Fatalf("Spare(tool=%v, %d): got %d want %d", c.tool, c.held, got, c.want)
		}
	}
}

func TestSpareInventory(t *testing.T) {
	cats, err := catalogs.Load("../../../configs")
	if err != nil {
		t.Fatalf("load catalogs: %v", err)
	}
	p := DefaultPolicy()
	got := p.SpareInventory(cats, map[string]int{"wooden_hoe": 1, "stone_hoe": 2, "oak_log": 11, "stick": 3})
	if len(got) != 2 || got["stone_hoe"] != 1 || got["oak_log"] != 3 {
		t.Fatalf("got %v", got)
	}
}

// fakeActuator is a container whose live pool may differ from what was perceived.
type fakeActuator struct {
	ports.Actuator
	pool      map[string]int
	withdrawn map[string]int
}

func (f *fakeActuator) Withdraw(_ context.Context, _ string, item string, count, keep int) (int, error) {
	if f.withdrawn == nil {
		f.withdrawn = map[string]int{}
	}
	n := count
	if f.pool != nil {
		n = max(0, min(count, f.pool[item]-keep))
		f.pool[item] -= n
	}
	f.withdrawn[item] += n
	return n, nil
}

func TestWithdraw_GoesThroughPolicy(t *testing.T) {
	cats, err := catalogs.Load("../../../configs")
	if err != nil {
		t.Fatalf("load catalogs: %v", err)
	}
	p := DefaultPolicy()
	act := &fakeActuator{}
	ctx := context.Background()

	if n, err := p.Withdraw(ctx, act, cats, "chest-1", "oak_planks", 20, 50); err != nil || n != 12 {
		t.Fatalf("planks: got %d err=%v want 12", n, err)
	}
	if n, err := p.Withdraw(ctx, act, cats, "chest-1", "wooden_hoe", 3, 2); err != nil || n != 1 {
		t.Fatalf("hoe: got %d err=%v want 1", n, err)
	}
	if n, _ := p.Withdraw(ctx, act, cats, "chest-1", "stick", 8, 4); n != 0 {
		t.Fatalf("stick at floor: got %d want 0", n)
	}
	if act.withdrawn["stick"] != 0 {
		t.Fatalf("actuator called for zero withdrawal")
	}
}

func TestWithdraw_FloorHoldsAgainstLivePool(t *testing.T) {
	cats, err := catalogs.Load("../../../configs")
	if err != nil {
		t.Fatalf("load catalogs: %v", err)
	}
	p := DefaultPolicy()
	ctx := context.Background()

	// Two agents saw 20 planks; the first takes its share before the second acts.
	act := &fakeActuator{pool: map[string]int{"oak_planks": 20, "wooden_hoe": 1}}
	first, err := p.Withdraw(ctx, act, cats, "chest-1", "oak_planks", 20, 50)
	if err != nil || first != 12 {
		t.Fatalf("first: got %d err=%v want 12", first, err)
	}
	second, err := p.Withdraw(ctx, act, cats, "chest-1", "oak_planks", 20, 50)
	if err != nil || second != 0 {
		t.Fatalf("second: got %d err=%v want 0", second, err)
	}
	if act.pool["oak_planks"] != p.MaterialFloor {
		t.Fatalf("pool = %d, want floor %d", act.pool["oak_planks"], p.MaterialFloor)
	}
	// Tools carry no floor.
	if n, err := p.Withdraw(ctx, act, cats, "chest-1", "wooden_hoe", 1, 1); err != nil || n != 1 {
		t.Fatalf("hoe: got %d err=%v want 1", n, err)
	}
}
