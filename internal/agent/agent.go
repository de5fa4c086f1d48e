// Package agent runs one utility-planning agent: perceive, coordinate, select a goal,
// run one action, report.
package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"agentcraft.ai/internal/agent/blackboard"
	"agentcraft.ai/internal/agent/broker"
	"agentcraft.ai/internal/agent/goal"
	"agentcraft.ai/internal/agent/plan"
	"agentcraft.ai/internal/agent/ports"
	"agentcraft.ai/internal/agent/recipe"
	"agentcraft.ai/internal/agent/status"
	"agentcraft.ai/internal/bus"
	"agentcraft.ai/internal/clock"
	"agentcraft.ai/internal/sim/catalogs"
	"agentcraft.ai/internal/tuning"
)

// Role is the capability set of one kind of agent.
type Role interface {
	Name() string
	Goals() []*goal.Goal
	Actions() []plan.Action
	CreateBlackboard(agentID string) *blackboard.Blackboard
}

// Journal receives what an agent did. Implementations must not block the tick.
type Journal interface {
	RecordAction(agentID string, e plan.HistoryEntry)
	RecordNeed(agentID string, r blackboard.NeedRequest)
}

type Config struct {
	ID       string
	Role     Role
	Ports    ports.Ports
	Endpoint bus.Endpoint
	Clock    clock.Clock
	Tuning   tuning.Tuning
	Catalogs *catalogs.Catalogs
	Logger   *log.Logger
	Reporter status.Reporter
	Journal  Journal
	Colors   *status.ColorTable
}

type Agent struct {
	cfg    Config
	log    *log.Logger
	clock  clock.Clock
	bb     *blackboard.Blackboard
	eval   *goal.Evaluator
	exec   *plan.Executor
	broker *broker.Broker
	env    *plan.Env

	tick       uint64
	lastStatus status.Status
}

func New(cfg Config) (*Agent, error) {
	if cfg.ID == "" {
		return nil, errors.New("agent: missing id")
	}
	if cfg.Role == nil {
		return nil, fmt.Errorf("agent %s: missing role", cfg.ID)
	}
	if cfg.Ports.Sensor == nil || cfg.Ports.Actuator == nil {
		return nil, fmt.Errorf("agent %s: sensor and actuator are required", cfg.ID)
	}
	if cfg.Endpoint == nil {
		return nil, fmt.Errorf("agent %s: missing bus endpoint", cfg.ID)
	}
	if cfg.Catalogs == nil {
		return nil, fmt.Errorf("agent %s: missing catalogs", cfg.ID)
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real{}
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(io.Discard, "", 0)
	}
	cfg.Tuning.Normalize()

	goals := cfg.Role.Goals()
	for _, g := range goals {
		// Zero means unset; goal.NoCooldown is the explicit zero.
		if g.Cooldown == 0 {
			g.Cooldown = cfg.Tuning.CooldownFor(g.Name)
		}
	}

	bb := cfg.Role.CreateBlackboard(cfg.ID)
	resolver := recipe.NewResolver(cfg.Catalogs)
	br := broker.New(broker.Options{
		AgentID:    cfg.ID,
		Blackboard: bb,
		Endpoint:   cfg.Endpoint,
		Resolver:   resolver,
		Policy:     cfg.Tuning.Share,
		Clock:      cfg.Clock,
		Config:     cfg.Tuning.Broker,
		Logger:     cfg.Logger,
	})
	a := &Agent{
		cfg:    cfg,
		log:    cfg.Logger,
		clock:  cfg.Clock,
		bb:     bb,
		eval:   goal.NewEvaluator(cfg.Logger, goals...),
		exec:   plan.NewExecutor(cfg.Role.Actions(), cfg.Tuning.RetryBudget),
		broker: br,
	}
	a.env = &plan.Env{
		AgentID:  cfg.ID,
		BB:       bb,
		Ports:    cfg.Ports,
		Catalogs: cfg.Catalogs,
		Resolver: resolver,
		Policy:   cfg.Tuning.Share,
		Coord:    br,
		Clock:    cfg.Clock,
		Logger:   cfg.Logger,
	}
	br.OnClosed(func(r blackboard.NeedRequest) {
		a.log.Printf("need %s closed: %s %s", r.Kind, r.Status, r.Reason)
		if cfg.Journal != nil {
			cfg.Journal.RecordNeed(cfg.ID, r)
		}
	})
	return a, nil
}

func (a *Agent) ID() string                         { return a.cfg.ID }
func (a *Agent) Blackboard() *blackboard.Blackboard { return a.bb }
func (a *Agent) Broker() *broker.Broker             { return a.broker }
func (a *Agent) Executor() *plan.Executor           { return a.exec }
func (a *Agent) Status() status.Status              { return a.lastStatus }

// Run ticks every TickPeriod until ctx is cancelled.
func (a *Agent) Run(ctx context.Context) error {
	t := time.NewTicker(a.cfg.Tuning.TickPeriod())
	defer t.Stop()
	for {
		if err := a.Tick(ctx); err != nil {
			a.log.Printf("tick %d: %v", a.tick, err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
	}
}

// Tick runs one perceive / coordinate / decide / act cycle. At most one action runs.
func (a *Agent) Tick(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	a.tick++
	a.perceive(ctx)
	a.broker.Advance(ctx)

	for a.exec.State() == plan.Succeeded || a.exec.State() == plan.Failed || a.exec.State() == plan.Cooldown {
		a.exec.Settle()
	}

	now := a.clock.Now()
	sel, err := a.decide(now)
	if err == nil && a.exec.Active() {
		var entry plan.HistoryEntry
		entry, err = a.exec.Step(ctx, a.env)
		if err == nil {
			a.afterStep(entry)
		}
	}
	a.report(sel, now)
	return err
}

func (a *Agent) perceive(ctx context.Context) {
	snap, err := a.cfg.Ports.Sensor.Snapshot(ctx)
	if err != nil {
		a.log.Printf("perception failed, keeping previous state: %v", err)
	} else {
		a.bb.Update(snap)
	}
	if a.cfg.Ports.Knowledge == nil {
		return
	}
	if every := uint64(a.cfg.Tuning.KnowledgeEveryTicks); a.tick != 1 && (a.tick-1)%every != 0 {
		return
	}
	entries, err := a.cfg.Ports.Knowledge.ReadEntries(ctx, a.bb.Position)
	if err != nil {
		a.log.Printf("knowledge refresh failed, retrying in %d ticks: %v", a.cfg.Tuning.KnowledgeEveryTicks, err)
		return
	}
	if n := a.bb.MergeKnowledge(entries); n > 0 {
		a.log.Printf("learned %d site(s) from knowledge sources", n)
	}
}

// decide selects a goal and makes sure the executor runs its plan. A goal whose plan cannot
// be built is excluded and the selection repeats within the same tick.
func (a *Agent) decide(now time.Time) (goal.Selection, error) {
	invalid := map[string]bool{}
	for i := 0; i <= len(a.eval.Goals()); i++ {
		sel := a.eval.Evaluate(a.bb, now, invalid)
		if sel.Goal == nil {
			if a.exec.Preempt() {
				a.log.Printf("no eligible goal, plan dropped")
			}
			return sel, nil
		}
		if a.exec.Active() && a.exec.Goal() == sel.Goal {
			return sel, nil
		}
		if running := a.exec.Goal(); running != nil && a.exec.Preempt() {
			a.log.Printf("goal %s preempted by %s (utility %.2f)", running.Name, sel.Goal.Name, sel.Utility)
		}
		err := a.exec.Prepare(sel.Goal, a.env)
		if err == nil {
			a.log.Printf("goal %s selected (utility %.2f)", sel.Goal.Name, sel.Utility)
			return sel, nil
		}
		if !errors.Is(err, plan.ErrInvalidPlan) {
			return sel, err
		}
		a.log.Printf("%v; reselecting", err)
		invalid[sel.Goal.Name] = true
	}
	return goal.Selection{}, fmt.Errorf("no goal produced a plan")
}

func (a *Agent) afterStep(e plan.HistoryEntry) {
	if !e.Success {
		a.log.Printf("action %s failed (%d in a row): %s", e.Action, e.ConsecutiveFailures, e.Err)
	}
	if a.cfg.Journal != nil {
		a.cfg.Journal.RecordAction(a.cfg.ID, e)
	}
	switch a.exec.State() {
	case plan.Succeeded:
		a.log.Printf("goal %s succeeded", e.Goal)
		a.eval.Forget()
	case plan.Failed:
		a.log.Printf("goal %s failed", e.Goal)
		a.eval.Forget()
	}
}

func (a *Agent) report(sel goal.Selection, now time.Time) {
	s := status.Status{
		AgentID:     a.cfg.ID,
		Role:        a.cfg.Role.Name(),
		Tick:        a.tick,
		At:          now,
		State:       a.exec.State().String(),
		Action:      a.exec.CurrentAction(),
		Progress:    a.exec.ActionProgress(a.env),
		PlanPercent: a.exec.PlanPercent(),
		Goals:       sel.Reports,
		History:     status.RecentHistory(a.exec.History()),
		Stats:       a.exec.Stats(),
		Cooldowns:   a.bb.CooldownGoals(now),
		Needs:       status.NeedViews(a.bb),
		Commitments: len(a.bb.Commitments),
		Position:    a.bb.Position,
	}
	if g := a.exec.Goal(); g != nil {
		s.Goal = g.Name
	} else if sel.Goal != nil {
		s.Goal = sel.Goal.Name
	}
	if sel.Goal != nil && sel.Goal.Name == s.Goal {
		s.Utility = sel.Utility
	}
	if a.cfg.Colors != nil {
		s.Color = a.cfg.Colors.Color(a.cfg.ID)
	}
	a.lastStatus = s
	if a.cfg.Reporter != nil {
		a.cfg.Reporter.Report(s)
	}
}
