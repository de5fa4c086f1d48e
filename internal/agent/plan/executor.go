// Package plan runs the action sequence of the selected goal, one action per tick.
package plan

import (
	"context"
	"fmt"
	"time"

	"agentcraft.ai/internal/agent/goal"
)

type State int

const (
	Idle State = iota
	Planning
	Executing
	Succeeded
	Failed
	Cooldown
)

func (s State) String() string {
	switch s {
	case Idle:
		return "IDLE"
	case Planning:
		return "PLANNING"
	case Executing:
		return "EXECUTING"
	case Succeeded:
		return "SUCCEEDED"
	case Failed:
		return "FAILED"
	case Cooldown:
		return "COOLDOWN"
	default:
		return "UNKNOWN"
	}
}

// HistoryLimit bounds the action history kept by an Executor.
const HistoryLimit = 64

type Stats struct {
	ActionsExecuted  int `json:"actions_executed"`
	ActionsSucceeded int `json:"actions_succeeded"`
	ActionsFailed    int `json:"actions_failed"`
	ReplansRequested int `json:"replans_requested"`
	GoalsSucceeded   int `json:"goals_succeeded"`
	GoalsFailed      int `json:"goals_failed"`
}

type HistoryEntry struct {
	Goal                string    `json:"goal"`
	Action              string    `json:"action"`
	Success             bool      `json:"success"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	At                  time.Time `json:"at"`
	Err                 string    `json:"err,omitempty"`
}

type Progress struct {
	Current int `json:"current"`
	Total   int `json:"total"`
}

// Executor drives Idle -> Planning -> Executing -> Succeeded|Failed -> Cooldown -> Idle.
type Executor struct {
	registry    map[string]Action
	retryBudget int

	state    State
	goal     *goal.Goal
	plan     []Action
	idx      int
	failures []int

	stats   Stats
	history []HistoryEntry
}

// NewExecutor registers actions by name. An action failing retryBudget times in a row
// fails its goal.
func NewExecutor(actions []Action, retryBudget int) *Executor {
	if retryBudget < 1 {
		retryBudget = 1
	}
	reg := make(map[string]Action, len(actions))
	for _, a := range actions {
		reg[a.Name()] = a
	}
	return &Executor{registry: reg, retryBudget: retryBudget}
}

// Register adds or replaces an action.
func (x *Executor) Register(a Action) { x.registry[a.Name()] = a }

func (x *Executor) State() State { return x.state }

// Goal is the goal owning the current plan, or nil.
func (x *Executor) Goal() *goal.Goal { return x.goal }

func (x *Executor) Stats() Stats { return x.stats }

// History returns a copy of the most recent entries, oldest first.
func (x *Executor) History() []HistoryEntry {
	return append([]HistoryEntry(nil), x.history...)
}

// Active reports whether a plan is being executed.
func (x *Executor) Active() bool { return x.state == Executing }

// Settle moves a finished plan through Cooldown back to Idle, one state per call.
func (x *Executor) Settle() {
	switch x.state {
	case Succeeded, Failed:
		x.state = Cooldown
	case Cooldown:
		x.state = Idle
		x.goal = nil
	}
}

// Prepare builds the plan for g. A plan that cannot be built leaves the executor idle
// and returns an error wrapping ErrInvalidPlan.
func (x *Executor) Prepare(g *goal.Goal, env *Env) error {
	x.state = Planning
	x.goal = g
	x.plan, x.idx, x.failures = nil, 0, nil

	fail := func(err error) error {
		x.state = Idle
		x.goal = nil
		return fmt.Errorf("%w: goal %s: %w", ErrInvalidPlan, g.Name, err)
	}
	if g.Plan == nil {
		return fail(fmt.Errorf("no planner"))
	}
	names, err := g.Plan(env.BB)
	if err != nil {
		return fail(err)
	}
	if len(names) == 0 {
		return fail(fmt.Errorf("empty plan"))
	}
	steps := make([]Action, 0, len(names))
	for _, n := range names {
		a, ok := x.registry[n]
		if !ok {
			return fail(fmt.Errorf("unknown action %q", n))
		}
		steps = append(steps, a)
	}
	x.plan = steps
	x.failures = make([]int, len(steps))
	x.state = Executing
	return nil
}

// Preempt discards the running plan without counting a failure.
func (x *Executor) Preempt() bool {
	if x.state != Executing && x.state != Planning {
		return false
	}
	x.state = Idle
	x.goal = nil
	x.plan, x.idx, x.failures = nil, 0, nil
	x.stats.ReplansRequested++
	return true
}

// Step runs exactly one action: its precondition, then its effect.
func (x *Executor) Step(ctx context.Context, env *Env) (HistoryEntry, error) {
	if x.state != Executing || x.idx >= len(x.plan) {
		return HistoryEntry{}, ErrNoPlan
	}
	a := x.plan[x.idx]
	err := a.Precondition(env)
	if err == nil {
		err = a.Execute(ctx, env)
	}
	now := env.Now()

	x.stats.ActionsExecuted++
	entry := HistoryEntry{Goal: x.goal.Name, Action: a.Name(), Success: err == nil, At: now}
	if err == nil {
		x.stats.ActionsSucceeded++
		x.failures[x.idx] = 0
		x.idx++
		if x.idx == len(x.plan) {
			x.finish(env, Succeeded)
		}
	} else {
		x.stats.ActionsFailed++
		x.failures[x.idx]++
		entry.ConsecutiveFailures = x.failures[x.idx]
		entry.Err = err.Error()
		if IsIrrecoverable(err) || x.failures[x.idx] >= x.retryBudget {
			x.finish(env, Failed)
		}
	}
	x.record(entry)
	return entry, nil
}

func (x *Executor) finish(env *Env, s State) {
	x.state = s
	if s == Succeeded {
		x.stats.GoalsSucceeded++
	} else {
		x.stats.GoalsFailed++
	}
	env.BB.MarkCooldown(x.goal.Name, env.Now().Add(max(0, x.goal.Cooldown)))
}

func (x *Executor) record(e HistoryEntry) {
	x.history = append(x.history, e)
	if over := len(x.history) - HistoryLimit; over > 0 {
		x.history = append([]HistoryEntry(nil), x.history[over:]...)
	}
}

// CurrentAction is the name of the action the next Step runs, or "".
func (x *Executor) CurrentAction() string {
	if x.state != Executing || x.idx >= len(x.plan) {
		return ""
	}
	return x.plan[x.idx].Name()
}

// ActionProgress reports {current,total} of the running action when it tracks one.
func (x *Executor) ActionProgress(env *Env) *Progress {
	if x.state != Executing || x.idx >= len(x.plan) {
		return nil
	}
	p, ok := x.plan[x.idx].(Progresser)
	if !ok {
		return nil
	}
	cur, total, ok := p.Progress(env)
	if !ok {
		return nil
	}
	return &Progress{Current: cur, Total: total}
}

// PlanPercent is the share of the plan's actions already completed.
func (x *Executor) PlanPercent() int {
	switch x.state {
	case Succeeded:
		return 100
	case Executing:
		if len(x.plan) == 0 {
			return 0
		}
		return x.idx * 100 / len(x.plan)
	default:
		return 0
	}
}
