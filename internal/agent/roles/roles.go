// Package roles provides reference roles. Each role is a set of goals and actions; every
// role also carries the built-in coordination goals so it can both ask for and hand over
// items.
package roles

import (
	"fmt"
	"sort"
	"time"

	"agentcraft.ai/internal/agent/blackboard"
	"agentcraft.ai/internal/agent/goal"
	"agentcraft.ai/internal/agent/plan"
	"agentcraft.ai/internal/agent/ports"
	"agentcraft.ai/internal/agent/recipe"
	"agentcraft.ai/internal/agent/share"
	"agentcraft.ai/internal/sim/catalogs"
)

const (
	Farmer     = "farmer"
	Lumberjack = "lumberjack"
	Toolsmith  = "toolsmith"
)

type Options struct {
	Catalogs *catalogs.Catalogs
	// UnusableFor is how long a full container is avoided.
	UnusableFor time.Duration
	// Policy bounds what the role takes from shared containers.
	Policy share.Policy
	// Home is where the agent returns when idle, if set.
	Home *ports.Vec3
}

// Role implements agent.Role.
type Role struct {
	name    string
	home    *ports.Vec3
	goals   []*goal.Goal
	actions []plan.Action
}

func (r *Role) Name() string           { return r.name }
func (r *Role) Goals() []*goal.Goal    { return r.goals }
func (r *Role) Actions() []plan.Action { return r.actions }

func (r *Role) CreateBlackboard(agentID string) *blackboard.Blackboard {
	bb := blackboard.New(agentID, r.name)
	if r.home != nil {
		h := *r.home
		bb.Home = &h
	}
	return bb
}

type builder func(k *kit) ([]*goal.Goal, []plan.Action)

var registry = map[string]builder{
	Farmer:     farmer,
	Lumberjack: lumberjack,
	Toolsmith:  toolsmith,
}

// Names lists the available roles.
func Names() []string {
	out := make([]string, 0, len(registry))
	for n := range registry {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

func New(name string, o Options) (*Role, error) {
	build, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("unknown role %q (have %v)", name, Names())
	}
	if o.Catalogs == nil {
		return nil, fmt.Errorf("role %s: missing catalogs", name)
	}
	if o.UnusableFor <= 0 {
		o.UnusableFor = time.Minute
	}
	o.Policy.Normalize()
	k := &kit{cats: o.Catalogs, resolver: recipe.NewResolver(o.Catalogs), policy: o.Policy, unusableFor: o.UnusableFor}
	goals, actions := build(k)
	cg, ca := k.common()
	return &Role{
		name:    name,
		home:    o.Home,
		goals:   append(cg, goals...),
		actions: append(ca, actions...),
	}, nil
}
