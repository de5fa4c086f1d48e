// Package status is the read-only projection an agent reports every tick.
package status

import (
	"log"
	"sort"
	"sync"
	"time"

	"agentcraft.ai/internal/agent/blackboard"
	"agentcraft.ai/internal/agent/goal"
	"agentcraft.ai/internal/agent/plan"
	"agentcraft.ai/internal/agent/ports"
)

// HistoryLimit is how many recent actions a Status carries.
const HistoryLimit = 10

type Status struct {
	AgentID     string              `json:"agent_id"`
	Role        string              `json:"role"`
	Color       string              `json:"color,omitempty"`
	Tick        uint64              `json:"tick"`
	At          time.Time           `json:"at"`
	State       string              `json:"state"`
	Goal        string              `json:"goal,omitempty"`
	Utility     float64             `json:"utility"`
	Action      string              `json:"action,omitempty"`
	Progress    *plan.Progress      `json:"progress,omitempty"`
	PlanPercent int                 `json:"plan_percent"`
	Goals       []goal.GoalUtility  `json:"goals"`
	History     []plan.HistoryEntry `json:"history"`
	Stats       plan.Stats          `json:"stats"`
	Cooldowns   []string            `json:"cooldowns"`
	Needs       []NeedView          `json:"needs,omitempty"`
	Commitments int                 `json:"commitments"`
	Position    ports.Vec3          `json:"position"`
}

// NeedView summarises one live request.
type NeedView struct {
	Kind     string      `json:"kind"`
	Status   string      `json:"status"`
	Attempt  int         `json:"attempt"`
	Offers   int         `json:"offers"`
	Provider string      `json:"provider,omitempty"`
	Delivery *ports.Vec3 `json:"delivery,omitempty"`
}

// NeedViews lists the live requests on bb sorted by kind.
func NeedViews(bb *blackboard.Blackboard) []NeedView {
	var out []NeedView
	for _, kind := range bb.NeedKinds() {
		r := bb.Needs[kind]
		v := NeedView{Kind: kind, Status: r.Status.String(), Attempt: r.Attempt, Offers: len(r.Offers)}
		if r.Accepted != nil {
			v.Provider = r.Accepted.ProviderID
		}
		if r.Delivery != nil {
			at := r.Delivery.Location
			v.Delivery = &at
		}
		out = append(out, v)
	}
	return out
}

// RecentHistory keeps the last HistoryLimit entries.
func RecentHistory(h []plan.HistoryEntry) []plan.HistoryEntry {
	if len(h) > HistoryLimit {
		h = h[len(h)-HistoryLimit:]
	}
	return append([]plan.HistoryEntry(nil), h...)
}

type Reporter interface {
	Report(s Status)
}

type ReporterFunc func(Status)

func (f ReporterFunc) Report(s Status) { f(s) }

// Multi fans a status out to every reporter in order.
type Multi []Reporter

func (m Multi) Report(s Status) {
	for _, r := range m {
		if r != nil {
			r.Report(s)
		}
	}
}

// Latest keeps the most recent status per agent.
type Latest struct {
	mu   sync.RWMutex
	byID map[string]Status
}

func NewLatest() *Latest { return &Latest{byID: map[string]Status{}} }

func (l *Latest) Report(s Status) {
	l.mu.Lock()
	l.byID[s.AgentID] = s
	l.mu.Unlock()
}

func (l *Latest) Get(agentID string) (Status, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	s, ok := l.byID[agentID]
	return s, ok
}

// All returns every known status sorted by agent id.
func (l *Latest) All() []Status {
	l.mu.RLock()
	out := make([]Status, 0, len(l.byID))
	for _, s := range l.byID {
		out = append(out, s)
	}
	l.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].AgentID < out[j].AgentID })
	return out
}

// LogReporter prints a one-line summary whenever an agent's goal or action changes.
type LogReporter struct {
	log  *log.Logger
	mu   sync.Mutex
	last map[string]string
}

func NewLogReporter(logger *log.Logger) *LogReporter {
	return &LogReporter{log: logger, last: map[string]string{}}
}

func (r *LogReporter) Report(s Status) {
	line := s.Goal + "/" + s.Action
	r.mu.Lock()
	changed := r.last[s.AgentID] != line
	r.last[s.AgentID] = line
	r.mu.Unlock()
	if !changed || r.log == nil {
		return
	}
	r.log.Printf("%s (%s) goal=%s utility=%.2f action=%s plan=%d%% needs=%d",
		s.AgentID, s.Role, s.Goal, s.Utility, s.Action, s.PlanPercent, len(s.Needs))
}
