package agent

import (
	"context"
	"errors"
	"testing"
	"time"

	"agentcraft.ai/internal/agent/blackboard"
	"agentcraft.ai/internal/agent/goal"
	"agentcraft.ai/internal/agent/plan"
	"agentcraft.ai/internal/agent/ports"
	"agentcraft.ai/internal/agent/status"
	"agentcraft.ai/internal/bus"
	"agentcraft.ai/internal/clock"
	"agentcraft.ai/internal/sim/catalogs"
	"agentcraft.ai/internal/tuning"
)

var t0 = time.Unix(1700000000, 0)

type fakeSensor struct{ clk clock.Clock }

func (s fakeSensor) Snapshot(context.Context) (ports.Snapshot, error) {
	return ports.Snapshot{Time: s.clk.Now(), Radius: 8, Inventory: map[string]int{"wheat_seeds": 3}}, nil
}

type fakeActuator struct{ ports.Actuator }

type fakeKnowledge struct {
	reads int
	fail  bool
}

func (k *fakeKnowledge) ReadEntries(context.Context, ports.Vec3) ([]ports.KnowledgeEntry, error) {
	k.reads++
	if k.fail {
		return nil, errors.New("sign unreadable")
	}
	return []ports.KnowledgeEntry{{SourceID: "sign-1", Category: "farm", Pos: ports.Vec3{X: 3}}}, nil
}

func (k *fakeKnowledge) WriteEntry(context.Context, string, ports.Vec3) error { return nil }

type testRole struct {
	goals   []*goal.Goal
	actions []plan.Action
}

func (r *testRole) Name() string                                      { return "tester" }
func (r *testRole) Goals() []*goal.Goal                               { return r.goals }
func (r *testRole) Actions() []plan.Action                            { return r.actions }
func (r *testRole) CreateBlackboard(id string) *blackboard.Blackboard { return blackboard.New(id, "tester") }

type counting struct {
	name string
	runs int
}

func (c *counting) Name() string                     { return c.name }
func (c *counting) Precondition(env *plan.Env) error { return nil }
func (c *counting) Execute(context.Context, *plan.Env) error {
	c.runs++
	return nil
}

func fixed(u float64) func(*blackboard.Blackboard) float64 {
	return func(*blackboard.Blackboard) float64 { return u }
}

func steps(names ...string) func(*blackboard.Blackboard) ([]string, error) {
	return func(*blackboard.Blackboard) ([]string, error) { return names, nil }
}

type journal struct {
	actions []plan.HistoryEntry
	needs   []blackboard.NeedRequest
}

func (j *journal) RecordAction(_ string, e plan.HistoryEntry)    { j.actions = append(j.actions, e) }
func (j *journal) RecordNeed(_ string, r blackboard.NeedRequest) { j.needs = append(j.needs, r) }

func newAgent(t *testing.T, role Role, clk *clock.Manual, know ports.KnowledgeStore) (*Agent, *status.Latest, *journal) {
	t.Helper()
	cats, err := catalogs.Load("../../configs")
	if err != nil {
		t.Fatalf("load catalogs: %v", err)
	}
	tu := tuning.Defaults()
	tu.KnowledgeEveryTicks = 3
	latest := status.NewLatest()
	j := &journal{}
	a, err := New(Config{
		ID:       "alice",
		Role:     role,
		Ports:    ports.Ports{Sensor: fakeSensor{clk}, Actuator: fakeActuator{}, Knowledge: know},
		Endpoint: bus.NewMemoryHub().Join("alice"),
		Clock:    clk,
		Tuning:   tu,
		Catalogs: cats,
		Reporter: latest,
		Journal:  j,
		Colors:   status.NewColorTable(4),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a, latest, j
}

func TestTick_OneActionPerTick(t *testing.T) {
	a1, a2, a3 := &counting{name: "a1"}, &counting{name: "a2"}, &counting{name: "a3"}
	role := &testRole{
		goals:   []*goal.Goal{{Name: "work", Utility: fixed(1), Plan: steps("a1", "a2", "a3")}},
		actions: []plan.Action{a1, a2, a3},
	}
	clk := clock.NewManual(t0)
	ag, latest, j := newAgent(t, role, clk, nil)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		if err := ag.Tick(ctx); err != nil {
			t.Fatalf("tick %d: %v", i, err)
		}
		if got := a1.runs + a2.runs + a3.runs; got != i {
			t.Fatalf("tick %d: %d actions ran", i, got)
		}
		clk.Advance(time.Second)
	}
	st, ok := latest.Get("alice")
	if !ok || st.Stats.ActionsExecuted != 3 || st.Stats.GoalsSucceeded != 1 || st.Tick != 3 {
		t.Fatalf("status: %+v", st)
	}
	if st.Color == "" || st.Role != "tester" || len(st.History) != 3 {
		t.Fatalf("status fields: %+v", st)
	}
	if len(j.actions) != 3 {
		t.Fatalf("journal: %d actions", len(j.actions))
	}
}

func TestTick_CooldownGoalNeverSelected(t *testing.T) {
	hi, lo := &counting{name: "hi"}, &counting{name: "lo"}
	role := &testRole{
		goals: []*goal.Goal{
			{Name: "urgent", Utility: fixed(10), Plan: steps("hi"), Cooldown: time.Minute},
			{Name: "idle", Utility: fixed(0), Plan: steps("lo"), Cooldown: time.Second},
		},
		actions: []plan.Action{hi, lo},
	}
	clk := clock.NewManual(t0)
	ag, _, _ := newAgent(t, role, clk, nil)
	ctx := context.Background()

	ag.Tick(ctx)
	if hi.runs != 1 {
		t.Fatalf("urgent goal did not run")
	}
	for i := 0; i < 20; i++ {
		clk.Advance(2 * time.Second)
		ag.Tick(ctx)
		st := ag.Status()
		if st.Goal == "urgent" {
			t.Fatalf("goal on cooldown selected at tick %d", st.Tick)
		}
		if !contains(st.Cooldowns, "urgent") {
			t.Fatalf("cooldowns not reported: %+v", st.Cooldowns)
		}
	}
	if hi.runs != 1 || lo.runs == 0 {
		t.Fatalf("hi=%d lo=%d", hi.runs, lo.runs)
	}
	clk.Advance(time.Minute)
	ag.Tick(ctx)
	if hi.runs != 2 {
		t.Fatalf("urgent goal not selected after its cooldown")
	}
}

func TestNew_UnsetCooldownTakesTuningAndNoCooldownRearms(t *testing.T) {
	hi, lo := &counting{name: "hi"}, &counting{name: "lo"}
	role := &testRole{
		goals: []*goal.Goal{
			{Name: "again", Utility: fixed(10), Plan: steps("hi"), Cooldown: goal.NoCooldown},
			{Name: "unset", Utility: fixed(1), Plan: steps("lo")},
		},
		actions: []plan.Action{hi, lo},
	}
	clk := clock.NewManual(t0)
	ag, _, _ := newAgent(t, role, clk, nil)
	if got := role.goals[0].Cooldown; got != goal.NoCooldown {
		t.Fatalf("again cooldown = %v, want NoCooldown", got)
	}
	if got, want := role.goals[1].Cooldown, tuning.Defaults().GoalCooldown; got != want {
		t.Fatalf("unset cooldown = %v, want %v", got, want)
	}

	ctx := context.Background()
	for i := 0; i < 6; i++ {
		ag.Tick(ctx)
		if contains(ag.Status().Cooldowns, "again") {
			t.Fatalf("tick %d: again reported on cooldown", i+1)
		}
	}
	if hi.runs < 2 || lo.runs != 0 {
		t.Fatalf("hi=%d lo=%d, want again to be reselected without the clock moving", hi.runs, lo.runs)
	}
}

func TestTick_InvalidPlanReselectsWithinTick(t *testing.T) {
	fallback := &counting{name: "fallback"}
	role := &testRole{
		goals: []*goal.Goal{
			{Name: "broken", Utility: fixed(5), Plan: func(*blackboard.Blackboard) ([]string, error) {
				return nil, errors.New("no route")
			}},
			{Name: "ghost", Utility: fixed(4), Plan: steps("missing_action")},
			{Name: "backup", Utility: fixed(1), Plan: steps("fallback")},
		},
		actions: []plan.Action{fallback},
	}
	ag, _, _ := newAgent(t, role, clock.NewManual(t0), nil)
	if err := ag.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if fallback.runs != 1 {
		t.Fatalf("fallback did not run in the same tick")
	}
	st := ag.Status()
	if st.Goal != "backup" {
		t.Fatalf("goal: got %q", st.Goal)
	}
	var invalid int
	for _, g := range st.Goals {
		if g.Invalid {
			invalid++
		}
	}
	if invalid != 2 {
		t.Fatalf("invalid goals reported: %+v", st.Goals)
	}
}

func TestTick_PreemptionKeepsBrokerTimers(t *testing.T) {
	var urgent float64
	role := &testRole{
		goals: []*goal.Goal{
			{Name: "gather", Utility: fixed(1), Plan: steps("ask", "wait", "wait")},
			{Name: "flee", Utility: func(*blackboard.Blackboard) float64 { return urgent }, Plan: steps("run")},
		},
	}
	ask := plan.Func{ActionName: "ask", Run: func(ctx context.Context, env *plan.Env) error {
		env.Coord.Broadcast(ctx, "hoe")
		return nil
	}}
	role.actions = []plan.Action{ask, &counting{name: "wait"}, &counting{name: "run"}}
	clk := clock.NewManual(t0)
	ag, _, j := newAgent(t, role, clk, nil)
	ctx := context.Background()

	ag.Tick(ctx)
	if ag.Blackboard().LiveNeed("hoe") == nil {
		t.Fatalf("need not opened")
	}
	urgent = 5
	clk.Advance(time.Second)
	ag.Tick(ctx)
	if st := ag.Status(); st.Goal != "flee" || st.Stats.ReplansRequested != 1 {
		t.Fatalf("not preempted: %+v", st)
	}

	// No provider exists, so the request must still close once its window passes.
	clk.Advance(tuning.Defaults().Broker.OfferWindow)
	ag.Tick(ctx)
	if ag.Blackboard().LiveNeed("hoe") != nil {
		t.Fatalf("request stuck after preemption")
	}
	if len(j.needs) != 1 || j.needs[0].Status != blackboard.Abandoned {
		t.Fatalf("journal needs: %+v", j.needs)
	}
}

func TestTick_KnowledgeRefreshRetriesOnFailure(t *testing.T) {
	role := &testRole{
		goals:   []*goal.Goal{{Name: "idle", Utility: fixed(0), Plan: steps("noop")}},
		actions: []plan.Action{&counting{name: "noop"}},
	}
	know := &fakeKnowledge{fail: true}
	clk := clock.NewManual(t0)
	ag, _, _ := newAgent(t, role, clk, know)
	ctx := context.Background()

	ag.Tick(ctx) // tick 1 reads and fails
	if know.reads != 1 || len(ag.Blackboard().SignCoords) != 0 {
		t.Fatalf("reads=%d", know.reads)
	}
	know.fail = false
	ag.Tick(ctx)
	ag.Tick(ctx)
	if know.reads != 1 {
		t.Fatalf("refresh ran between intervals: %d", know.reads)
	}
	ag.Tick(ctx) // tick 4
	if know.reads != 2 {
		t.Fatalf("refresh not retried: %d", know.reads)
	}
	if got := ag.Blackboard().SignCoords["farm"]; len(got) != 1 || got[0] != (ports.Vec3{X: 3}) {
		t.Fatalf("sign coords: %+v", ag.Blackboard().SignCoords)
	}
}

func TestNew_RequiresCollaborators(t *testing.T) {
	if _, err := New(Config{ID: "x", Role: &testRole{}}); err == nil {
		t.Fatalf("expected error without ports")
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
