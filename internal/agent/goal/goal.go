// Package goal scores an agent's goals and selects the one to pursue.
package goal

import (
	"io"
	"log"
	"math"
	"time"

	"agentcraft.ai/internal/agent/blackboard"
)

// Ineligible is the utility reported for goals that cannot be selected this tick.
const Ineligible = -1.0

// Goal is a named utility function plus the plan that pursues it. Goals hold no state;
// everything they read lives on the blackboard.
type Goal struct {
	Name    string
	Utility func(bb *blackboard.Blackboard) float64
	// Plan returns the action names to run, in order. An error or an empty plan marks the
	// goal invalid for the current tick.
	Plan func(bb *blackboard.Blackboard) ([]string, error)
	// Cooldown is applied after the goal succeeds or fails. Zero takes the agent's
	// configured cooldown for the goal; NoCooldown re-arms immediately.
	Cooldown time.Duration
}

// NoCooldown lets a goal be selected again right after it finishes.
const NoCooldown time.Duration = -1

// GoalUtility is the per-goal report of one evaluation.
type GoalUtility struct {
	Name       string  `json:"name"`
	Utility    float64 `json:"utility"`
	Current    bool    `json:"current,omitempty"`
	Invalid    bool    `json:"invalid,omitempty"`
	Zero       bool    `json:"zero,omitempty"`
	OnCooldown bool    `json:"on_cooldown,omitempty"`
}

type Selection struct {
	Goal    *Goal
	Utility float64
	Reports []GoalUtility
}

type Evaluator struct {
	goals   []*Goal
	current string
	logger  *log.Logger
}

// NewEvaluator keeps goals in declaration order, which is also the tie-break order.
func NewEvaluator(logger *log.Logger, goals ...*Goal) *Evaluator {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Evaluator{goals: goals, logger: logger}
}

func (e *Evaluator) Goals() []*Goal { return e.goals }

// Current is the name of the last selected goal, or "".
func (e *Evaluator) Current() string { return e.current }

func (e *Evaluator) Lookup(name string) *Goal {
	for _, g := range e.goals {
		if g.Name == name {
			return g
		}
	}
	return nil
}

// Evaluate scores every goal and selects the eligible one with the greatest utility.
// Goals on cooldown or in invalid are ineligible. On an exact tie the previously selected
// goal wins, then declaration order. The winner may have zero utility when nothing else
// is eligible.
func (e *Evaluator) Evaluate(bb *blackboard.Blackboard, now time.Time, invalid map[string]bool) Selection {
	reports := make([]GoalUtility, len(e.goals))
	winner := -1
	best := 0.0
	for i, g := range e.goals {
		r := GoalUtility{Name: g.Name}
		switch {
		case bb.IsOnCooldown(g.Name, now):
			r.Utility = Ineligible
			r.OnCooldown = true
		case invalid[g.Name]:
			r.Utility = Ineligible
			r.Invalid = true
		default:
			u := g.Utility(bb)
			if math.IsNaN(u) || math.IsInf(u, 0) {
				e.logger.Printf("goal %s: non-finite utility %v; treating as ineligible", g.Name, u)
				r.Utility = Ineligible
				r.Invalid = true
				break
			}
			if u < 0 {
				u = 0
			}
			r.Utility = u
			r.Zero = u == 0
		}
		reports[i] = r
		if r.Utility == Ineligible {
			continue
		}
		switch {
		case winner < 0, r.Utility > best:
			winner, best = i, r.Utility
		case r.Utility == best && g.Name == e.current && e.goals[winner].Name != e.current:
			winner = i
		}
	}

	if winner < 0 {
		e.current = ""
		return Selection{Reports: reports}
	}
	reports[winner].Current = true
	g := e.goals[winner]
	e.current = g.Name
	return Selection{Goal: g, Utility: best, Reports: reports}
}

// Forget clears the hysteresis memory, e.g. after the current goal completed.
func (e *Evaluator) Forget() { e.current = "" }
