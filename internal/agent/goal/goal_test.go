package goal

import (
	"bytes"
	"log"
	"math"
	"strings"
	"testing"
	"time"

	"agentcraft.ai/internal/agent/blackboard"
)

var t0 = time.Unix(1700000000, 0)

func fixed(name string, u float64) *Goal {
	return &Goal{Name: name, Utility: func(*blackboard.Blackboard) float64 { return u }}
}

func TestEvaluate_MaxWins(t *testing.T) {
	e := NewEvaluator(nil, fixed("a", 1), fixed("b", 5), fixed("c", 3))
	sel := e.Evaluate(blackboard.New("x", "r"), t0, nil)
	if sel.Goal == nil || sel.Goal.Name != "b" || sel.Utility != 5 {
		t.Fatalf("got %+v", sel)
	}
	if !sel.Reports[1].Current || sel.Reports[0].Current {
		t.Fatalf("Current flag: %+v", sel.Reports)
	}
}

func TestEvaluate_CooldownNeverSelected(t *testing.T) {
	bb := blackboard.New("x", "r")
	e := NewEvaluator(nil, fixed("a", 1), fixed("b", 100))
	bb.MarkCooldown("b", t0.Add(time.Second))
	sel := e.Evaluate(bb, t0, nil)
	if sel.Goal.Name != "a" {
		t.Fatalf("got %s want a", sel.Goal.Name)
	}
	if r := sel.Reports[1]; r.Utility != Ineligible || !r.OnCooldown {
		t.Fatalf("cooldown report: %+v", r)
	}
	if sel := e.Evaluate(bb, t0.Add(time.Second), nil); sel.Goal.Name != "b" {
		t.Fatalf("after cooldown: got %s want b", sel.Goal.Name)
	}
}

func TestEvaluate_TieKeepsPrevious(t *testing.T) {
	ua, ub := 2.0, 1.0
	a := &Goal{Name: "a", Utility: func(*blackboard.Blackboard) float64 { return ua }}
	b := &Goal{Name: "b", Utility: func(*blackboard.Blackboard) float64 { return ub }}
	e := NewEvaluator(nil, a, b)
	bb := blackboard.New("x", "r")
	if sel := e.Evaluate(bb, t0, nil); sel.Goal != a {
		t.Fatalf("first: want a")
	}
	ua, ub = 1, 3
	if sel := e.Evaluate(bb, t0, nil); sel.Goal != b {
		t.Fatalf("second: want b")
	}
	ua = 3
	if sel := e.Evaluate(bb, t0, nil); sel.Goal != b {
		t.Fatalf("tie: previous selection must hold, got %s", sel.Goal.Name)
	}
	e.Forget()
	if sel := e.Evaluate(bb, t0, nil); sel.Goal != a {
		t.Fatalf("tie without history: declaration order, got %s", sel.Goal.Name)
	}
}

func TestEvaluate_NegativeClampsAndNaNIsIneligible(t *testing.T) {
	var buf bytes.Buffer
	logger := log.New(&buf, "", 0)
	e := NewEvaluator(logger, fixed("neg", -4), fixed("nan", math.NaN()), fixed("inf", math.Inf(1)))
	sel := e.Evaluate(blackboard.New("x", "r"), t0, nil)
	if sel.Goal == nil || sel.Goal.Name != "neg" || sel.Utility != 0 {
		t.Fatalf("got %+v", sel)
	}
	if !sel.Reports[0].Zero {
		t.Fatalf("clamped goal must report zero")
	}
	for _, r := range sel.Reports[1:] {
		if r.Utility != Ineligible || !r.Invalid {
			t.Fatalf("non-finite report: %+v", r)
		}
	}
	if !strings.Contains(buf.String(), "non-finite") {
		t.Fatalf("defect not logged: %q", buf.String())
	}
}

func TestEvaluate_InvalidSetExcluded(t *testing.T) {
	e := NewEvaluator(nil, fixed("a", 9), fixed("b", 1))
	sel := e.Evaluate(blackboard.New("x", "r"), t0, map[string]bool{"a": true})
	if sel.Goal.Name != "b" || !sel.Reports[0].Invalid {
		t.Fatalf("got %+v", sel)
	}
}

func TestEvaluate_NothingEligible(t *testing.T) {
	bb := blackboard.New("x", "r")
	bb.MarkCooldown("a", t0.Add(time.Minute))
	e := NewEvaluator(nil, fixed("a", 1))
	if sel := e.Evaluate(bb, t0, nil); sel.Goal != nil || e.Current() != "" {
		t.Fatalf("got %+v", sel)
	}
}
