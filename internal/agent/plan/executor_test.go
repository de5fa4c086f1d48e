package plan

import (
	"context"
	"errors"
	"testing"
	"time"

	"agentcraft.ai/internal/agent/blackboard"
	"agentcraft.ai/internal/agent/goal"
	"agentcraft.ai/internal/clock"
)

var t0 = time.Unix(1700000000, 0)

type counter struct {
	name  string
	runs  int
	fails int // fail this many times before succeeding
	err   error
}

func (c *counter) Name() string                { return c.name }
func (c *counter) Precondition(env *Env) error { return nil }
func (c *counter) Execute(ctx context.Context, env *Env) error {
	c.runs++
	if c.runs <= c.fails {
		if c.err != nil {
			return c.err
		}
		return errors.New("boom")
	}
	return nil
}

func newEnv() (*Env, *clock.Manual) {
	clk := clock.NewManual(t0)
	return &Env{AgentID: "a", BB: blackboard.New("a", "r"), Clock: clk}, clk
}

func planOf(names ...string) func(*blackboard.Blackboard) ([]string, error) {
	return func(*blackboard.Blackboard) ([]string, error) { return names, nil }
}

func TestExecutor_OneActionPerStep(t *testing.T) {
	a, b := &counter{name: "a"}, &counter{name: "b"}
	x := NewExecutor([]Action{a, b}, 3)
	env, _ := newEnv()
	g := &goal.Goal{Name: "g", Plan: planOf("a", "b"), Cooldown: 5 * time.Second}
	if err := x.Prepare(g, env); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if x.CurrentAction() != "a" || x.PlanPercent() != 0 {
		t.Fatalf("current=%q pct=%d", x.CurrentAction(), x.PlanPercent())
	}
	if _, err := x.Step(context.Background(), env); err != nil {
		t.Fatalf("Step: %v", err)
	}
	if a.runs != 1 || b.runs != 0 {
		t.Fatalf("after one step: a=%d b=%d", a.runs, b.runs)
	}
	if x.PlanPercent() != 50 {
		t.Fatalf("pct: got %d want 50", x.PlanPercent())
	}
	x.Step(context.Background(), env)
	if x.State() != Succeeded || b.runs != 1 {
		t.Fatalf("state=%s b=%d", x.State(), b.runs)
	}
	if !env.BB.IsOnCooldown("g", t0) || env.BB.IsOnCooldown("g", t0.Add(5*time.Second)) {
		t.Fatalf("cooldown not applied")
	}
	st := x.Stats()
	if st.ActionsExecuted != 2 || st.ActionsSucceeded != 2 || st.GoalsSucceeded != 1 {
		t.Fatalf("stats: %+v", st)
	}
	if _, err := x.Step(context.Background(), env); !errors.Is(err, ErrNoPlan) {
		t.Fatalf("step after success: got %v", err)
	}

	x.Settle()
	if x.State() != Cooldown {
		t.Fatalf("want Cooldown, got %s", x.State())
	}
	x.Settle()
	if x.State() != Idle || x.Goal() != nil {
		t.Fatalf("want Idle, got %s", x.State())
	}
}

func TestExecutor_RetryBudget(t *testing.T) {
	a := &counter{name: "a", fails: 10}
	x := NewExecutor([]Action{a}, 3)
	env, _ := newEnv()
	g := &goal.Goal{Name: "g", Plan: planOf("a")}
	x.Prepare(g, env)
	for i := 1; i <= 3; i++ {
		e, _ := x.Step(context.Background(), env)
		if e.Success || e.ConsecutiveFailures != i {
			t.Fatalf("step %d: %+v", i, e)
		}
	}
	if x.State() != Failed {
		t.Fatalf("want Failed, got %s", x.State())
	}
	st := x.Stats()
	if st.ActionsFailed != 3 || st.GoalsFailed != 1 || st.ActionsExecuted != 3 {
		t.Fatalf("stats: %+v", st)
	}
	if len(x.History()) != 3 {
		t.Fatalf("history: %d", len(x.History()))
	}
}

func TestExecutor_RecoversWithinBudget(t *testing.T) {
	a := &counter{name: "a", fails: 2}
	x := NewExecutor([]Action{a}, 3)
	env, _ := newEnv()
	x.Prepare(&goal.Goal{Name: "g", Plan: planOf("a")}, env)
	for i := 0; i < 3; i++ {
		x.Step(context.Background(), env)
	}
	if x.State() != Succeeded {
		t.Fatalf("want Succeeded, got %s", x.State())
	}
}

func TestExecutor_IrrecoverableFailsImmediately(t *testing.T) {
	a := &counter{name: "a", fails: 1, err: Irrecoverable(errors.New("no path"))}
	x := NewExecutor([]Action{a}, 5)
	env, _ := newEnv()
	x.Prepare(&goal.Goal{Name: "g", Plan: planOf("a")}, env)
	x.Step(context.Background(), env)
	if x.State() != Failed {
		t.Fatalf("want Failed, got %s", x.State())
	}
}

func TestExecutor_PreemptionIsNotFailure(t *testing.T) {
	a := &counter{name: "a", fails: 1}
	x := NewExecutor([]Action{a, &counter{name: "b"}}, 3)
	env, _ := newEnv()
	x.Prepare(&goal.Goal{Name: "g", Plan: planOf("a", "b"), Cooldown: time.Minute}, env)
	x.Step(context.Background(), env)
	if !x.Preempt() {
		t.Fatalf("expected preemption")
	}
	st := x.Stats()
	if st.ReplansRequested != 1 || st.GoalsFailed != 0 || x.State() != Idle {
		t.Fatalf("stats=%+v state=%s", st, x.State())
	}
	if env.BB.IsOnCooldown("g", t0) {
		t.Fatalf("preempted goal must not enter cooldown")
	}
	if x.Preempt() {
		t.Fatalf("idle executor has nothing to preempt")
	}
}

func TestExecutor_InvalidPlan(t *testing.T) {
	x := NewExecutor([]Action{&counter{name: "a"}}, 3)
	env, _ := newEnv()
	cases := []*goal.Goal{
		{Name: "unknown", Plan: planOf("missing")},
		{Name: "empty", Plan: planOf()},
		{Name: "err", Plan: func(*blackboard.Blackboard) ([]string, error) { return nil, errors.New("no site") }},
		{Name: "none"},
	}
	for _, g := range cases {
		if err := x.Prepare(g, env); !errors.Is(err, ErrInvalidPlan) {
			t.Fatalf("%s: got %v", g.Name, err)
		}
		if x.State() != Idle {
			t.Fatalf("%s: state %s", g.Name, x.State())
		}
	}
}

type progressing struct{ counter }

func (p *progressing) Progress(env *Env) (int, int, bool) { return 2, 5, true }

func TestExecutor_ActionProgress(t *testing.T) {
	p := &progressing{counter{name: "p"}}
	x := NewExecutor([]Action{p}, 1)
	env, _ := newEnv()
	x.Prepare(&goal.Goal{Name: "g", Plan: planOf("p")}, env)
	got := x.ActionProgress(env)
	if got == nil || got.Current != 2 || got.Total != 5 {
		t.Fatalf("got %+v", got)
	}
}
