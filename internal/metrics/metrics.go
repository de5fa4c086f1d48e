// Package metrics exports agent status as Prometheus series.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"agentcraft.ai/internal/agent/broker"
	"agentcraft.ai/internal/agent/plan"
	"agentcraft.ai/internal/agent/status"
)

const namespace = "agentcraft"

var needStates = []string{"BROADCASTING", "COLLECTING_OFFERS", "ACCEPTED", "AWAITING_DELIVERY", "FULFILLED", "ABANDONED"}

// Collector implements status.Reporter. Gauges mirror the latest status; counters are
// advanced by the difference between consecutive cumulative stats.
type Collector struct {
	utility     *prometheus.GaugeVec
	planPercent *prometheus.GaugeVec
	commitments *prometheus.GaugeVec
	needs       *prometheus.GaugeVec
	ticks       *prometheus.GaugeVec

	actions  *prometheus.CounterVec
	goals    *prometheus.CounterVec
	replans  *prometheus.CounterVec
	messages *prometheus.CounterVec

	mu         sync.Mutex
	lastPlan   map[string]plan.Stats
	lastBroker map[string]broker.Stats
}

// New registers the collector's series with registerer. A nil registerer means
// prometheus.DefaultRegisterer. Registering twice reuses the existing series.
func New(registerer prometheus.Registerer) *Collector {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	gauge := func(name, help string, labels ...string) *prometheus.GaugeVec {
		return registerGaugeVec(registerer, prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "agent", Name: name, Help: help,
		}, labels))
	}
	counter := func(name, help string, labels ...string) *prometheus.CounterVec {
		return registerCounterVec(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "agent", Name: name, Help: help,
		}, labels))
	}
	return &Collector{
		utility:     gauge("goal_utility", "Utility of the active goal.", "agent", "role", "goal"),
		planPercent: gauge("plan_percent", "Completion of the active plan, 0-100.", "agent"),
		commitments: gauge("commitments", "Items promised to other agents.", "agent"),
		needs:       gauge("needs", "Live need requests by state.", "agent", "state"),
		ticks:       gauge("tick", "Last tick reported by the agent.", "agent"),
		actions:     counter("actions_total", "Actions executed, by result.", "agent", "result"),
		goals:       counter("goals_total", "Goals finished, by result.", "agent", "result"),
		replans:     counter("replans_total", "Replans requested.", "agent"),
		messages:    counter("broker_messages_total", "Coordination messages, by kind.", "agent", "kind"),
		lastPlan:    map[string]plan.Stats{},
		lastBroker:  map[string]broker.Stats{},
	}
}

// Report implements status.Reporter. It is safe to call on a nil receiver.
func (c *Collector) Report(s status.Status) {
	if c == nil {
		return
	}
	id := s.AgentID
	c.utility.DeletePartialMatch(prometheus.Labels{"agent": id})
	if s.Goal != "" {
		c.utility.WithLabelValues(id, s.Role, s.Goal).Set(s.Utility)
	}
	c.planPercent.WithLabelValues(id).Set(float64(s.PlanPercent))
	c.commitments.WithLabelValues(id).Set(float64(s.Commitments))
	c.ticks.WithLabelValues(id).Set(float64(s.Tick))

	counts := map[string]int{}
	for _, n := range s.Needs {
		counts[n.Status]++
	}
	for _, st := range needStates {
		c.needs.WithLabelValues(id, st).Set(float64(counts[st]))
	}

	c.mu.Lock()
	prev := c.lastPlan[id]
	c.lastPlan[id] = s.Stats
	c.mu.Unlock()
	add(c.actions.WithLabelValues(id, "success"), s.Stats.ActionsSucceeded-prev.ActionsSucceeded)
	add(c.actions.WithLabelValues(id, "failure"), s.Stats.ActionsFailed-prev.ActionsFailed)
	add(c.goals.WithLabelValues(id, "success"), s.Stats.GoalsSucceeded-prev.GoalsSucceeded)
	add(c.goals.WithLabelValues(id, "failure"), s.Stats.GoalsFailed-prev.GoalsFailed)
	add(c.replans.WithLabelValues(id), s.Stats.ReplansRequested-prev.ReplansRequested)
}

// ObserveBroker advances the message counters from an agent's cumulative broker stats.
func (c *Collector) ObserveBroker(agentID string, st broker.Stats) {
	if c == nil {
		return
	}
	c.mu.Lock()
	prev := c.lastBroker[agentID]
	c.lastBroker[agentID] = st
	c.mu.Unlock()
	for kind, d := range map[string]int{
		"sent":      st.Sent - prev.Sent,
		"received":  st.Received - prev.Received,
		"duplicate": st.Duplicates - prev.Duplicates,
		"malformed": st.Malformed - prev.Malformed,
		"ignored":   st.Ignored - prev.Ignored,
		"offer":     st.Offers - prev.Offers,
		"fulfilled": st.Fulfilled - prev.Fulfilled,
		"abandoned": st.Abandoned - prev.Abandoned,
	} {
		add(c.messages.WithLabelValues(agentID, kind), d)
	}
}

// Handler serves the registry in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	if g == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

func add(c prometheus.Counter, d int) {
	if d > 0 {
		c.Add(float64(d))
	}
}

func registerCounterVec(registerer prometheus.Registerer, collector *prometheus.CounterVec) *prometheus.CounterVec {
	if err := registerer.Register(collector); err != nil {
		if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, castOK := already.ExistingCollector.(*prometheus.CounterVec); castOK {
				return existing
			}
		}
		panic(err)
	}
	return collector
}

func registerGaugeVec(registerer prometheus.Registerer, collector *prometheus.GaugeVec) *prometheus.GaugeVec {
	if err := registerer.Register(collector); err != nil {
		if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, castOK := already.ExistingCollector.(*prometheus.GaugeVec); castOK {
				return existing
			}
		}
		panic(err)
	}
	return collector
}
