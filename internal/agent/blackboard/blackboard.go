// Package blackboard holds an agent's private memory: what it perceived, what it learned
// from knowledge sources, goal cooldowns and its coordination state.
//
// A Blackboard is owned by exactly one agent loop and is not safe for concurrent use.
package blackboard

import (
	"sort"
	"time"

	"agentcraft.ai/internal/agent/ports"
	"agentcraft.ai/internal/sim/catalogs"
)

// HistoryLimit bounds NeedHistory.
const HistoryLimit = 32

type Container struct {
	ID    string         `json:"id"`
	Pos   ports.Vec3     `json:"pos"`
	Items map[string]int `json:"items,omitempty"`
	Full  bool           `json:"full,omitempty"`
}

type Blackboard struct {
	AgentID  string
	Role     string
	Now      time.Time
	Position ports.Vec3
	// Inventory is the last perceived inventory.
	Inventory map[string]int

	Blocks map[ports.Vec3]ports.BlockObs
	// Sites are learned resource-site locations by category. They outlive the blocks
	// that revealed them.
	Sites map[string][]ports.Vec3
	Home  *ports.Vec3

	SignCoords        map[string][]ports.Vec3
	ReadSources       map[string]bool
	WrittenCategories map[string]bool
	HasStudied        bool
	// KnownSources are knowledge sources (signs) seen nearby.
	KnownSources map[string]ports.Vec3

	Containers map[string]Container
	Drops      map[ports.Vec3]map[string]int
	Peers      map[string]ports.Vec3

	Cooldowns map[string]time.Time
	Unusable  map[string]time.Time

	Needs       map[string]*NeedRequest
	NeedHistory []NeedRequest
	Commitments map[string]*Commitment

	// Counters are free-form role tallies (harvested, chopped, ...).
	Counters map[string]int
}

func New(agentID, role string) *Blackboard {
	return &Blackboard{
		AgentID:           agentID,
		Role:              role,
		Inventory:         map[string]int{},
		Blocks:            map[ports.Vec3]ports.BlockObs{},
		Sites:             map[string][]ports.Vec3{},
		SignCoords:        map[string][]ports.Vec3{},
		ReadSources:       map[string]bool{},
		WrittenCategories: map[string]bool{},
		KnownSources:      map[string]ports.Vec3{},
		Containers:        map[string]Container{},
		Drops:             map[ports.Vec3]map[string]int{},
		Peers:             map[string]ports.Vec3{},
		Cooldowns:         map[string]time.Time{},
		Unusable:          map[string]time.Time{},
		Needs:             map[string]*NeedRequest{},
		Commitments:       map[string]*Commitment{},
		Counters:          map[string]int{},
	}
}

// Update merges a perception snapshot. Facts inside the snapshot radius are replaced by
// what the snapshot reports; facts outside it are kept. Applying the same snapshot twice
// leaves the blackboard unchanged.
func (b *Blackboard) Update(s ports.Snapshot) {
	if !s.Time.IsZero() {
		b.Now = s.Time
	}
	b.Position = s.Position
	b.Inventory = make(map[string]int, len(s.Inventory))
	for k, v := range s.Inventory {
		if v > 0 {
			b.Inventory[k] = v
		}
	}

	inRange := func(p ports.Vec3) bool { return ports.Manhattan(p, s.Position) <= s.Radius }
	for p := range b.Blocks {
		if inRange(p) {
			delete(b.Blocks, p)
		}
	}
	for _, blk := range s.Blocks {
		b.Blocks[blk.Pos] = blk
		if blk.Category != "" {
			b.AddSite(blk.Category, blk.Pos)
		}
	}

	for id, c := range b.Containers {
		if inRange(c.Pos) {
			delete(b.Containers, id)
		}
	}
	for p := range b.Drops {
		if inRange(p) {
			delete(b.Drops, p)
		}
	}
	for id, p := range b.Peers {
		if inRange(p) {
			delete(b.Peers, id)
		}
	}
	for _, e := range s.Entities {
		switch e.Type {
		case ports.EntityChest:
			b.Containers[e.ID] = Container{ID: e.ID, Pos: e.Pos, Items: copyCounts(e.Items), Full: e.Full}
		case ports.EntityItem:
			m := b.Drops[e.Pos]
			if m == nil {
				m = map[string]int{}
				b.Drops[e.Pos] = m
			}
			for k, v := range e.Items {
				m[k] = v
			}
		case ports.EntityAgent:
			if e.ID != b.AgentID {
				b.Peers[e.ID] = e.Pos
			}
		case ports.EntitySign:
			b.KnownSources[e.ID] = e.Pos
		}
	}
}

// AddSite records a resource site once.
func (b *Blackboard) AddSite(category string, p ports.Vec3) bool {
	return addCoord(b.Sites, category, p)
}

func (b *Blackboard) MarkCooldown(goal string, until time.Time) {
	b.Cooldowns[goal] = until
}

func (b *Blackboard) IsOnCooldown(goal string, now time.Time) bool {
	until, ok := b.Cooldowns[goal]
	return ok && now.Before(until)
}

// CooldownGoals returns the goals on cooldown at now, sorted, and forgets elapsed ones.
func (b *Blackboard) CooldownGoals(now time.Time) []string {
	var out []string
	for g, until := range b.Cooldowns {
		if now.Before(until) {
			out = append(out, g)
		} else {
			delete(b.Cooldowns, g)
		}
	}
	sort.Strings(out)
	return out
}

func (b *Blackboard) MarkUnusable(resource string, until time.Time) {
	b.Unusable[resource] = until
}

func (b *Blackboard) IsUsable(resource string, now time.Time) bool {
	until, ok := b.Unusable[resource]
	if !ok {
		return true
	}
	if !now.Before(until) {
		delete(b.Unusable, resource)
		return true
	}
	return false
}

// MergeKnowledge caches entries read from the knowledge store. Entries from an already
// read source are skipped. It returns how many coordinates were added.
func (b *Blackboard) MergeKnowledge(entries []ports.KnowledgeEntry) int {
	added := 0
	fresh := map[string]bool{}
	for _, e := range entries {
		if e.SourceID != "" && b.ReadSources[e.SourceID] {
			continue
		}
		if e.SourceID != "" {
			fresh[e.SourceID] = true
		}
		if addCoord(b.SignCoords, e.Category, e.Pos) {
			added++
		}
		b.AddSite(e.Category, e.Pos)
	}
	for id := range fresh {
		b.ReadSources[id] = true
	}
	return added
}

// UnreadSources lists nearby knowledge sources not read yet, sorted by id.
func (b *Blackboard) UnreadSources() []string {
	var out []string
	for id := range b.KnownSources {
		if !b.ReadSources[id] {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

func (b *Blackboard) ShouldWrite(category string) bool { return !b.WrittenCategories[category] }

func (b *Blackboard) MarkWritten(category string) { b.WrittenCategories[category] = true }

func (b *Blackboard) Count(item string) int { return b.Inventory[item] }

// CountMatching sums inventory items satisfying requirement (an item or a category).
func (b *Blackboard) CountMatching(cats *catalogs.Catalogs, requirement string) int {
	n := 0
	for item, c := range b.Inventory {
		if cats.Satisfies(item, requirement) {
			n += c
		}
	}
	return n
}

// Nearest returns the closest known block whose name or category equals what and for
// which usable returns true (nil accepts everything).
func (b *Blackboard) Nearest(what string, usable func(ports.Vec3) bool) (ports.Vec3, bool) {
	var (
		best  ports.Vec3
		bestD = -1
	)
	for p, blk := range b.Blocks {
		if blk.Name != what && blk.Category != what {
			continue
		}
		if usable != nil && !usable(p) {
			continue
		}
		d := ports.Manhattan(p, b.Position)
		if bestD < 0 || d < bestD || (d == bestD && less(p, best)) {
			best, bestD = p, d
		}
	}
	return best, bestD >= 0
}

// LiveNeed returns the open request for kind, if any.
func (b *Blackboard) LiveNeed(kind string) *NeedRequest {
	r := b.Needs[kind]
	if r == nil || r.Status.Terminal() {
		return nil
	}
	return r
}

// CloseNeed moves the request for kind into history with a terminal status.
func (b *Blackboard) CloseNeed(kind string, status NeedStatus, now time.Time, reason string) (NeedRequest, bool) {
	r, ok := b.Needs[kind]
	if !ok {
		return NeedRequest{}, false
	}
	delete(b.Needs, kind)
	r.Status = status
	r.ClosedAt = now
	r.Reason = reason
	b.NeedHistory = append(b.NeedHistory, *r)
	if over := len(b.NeedHistory) - HistoryLimit; over > 0 {
		b.NeedHistory = append([]NeedRequest(nil), b.NeedHistory[over:]...)
	}
	return *r, true
}

// NeedKinds returns the kinds with a live request, sorted.
func (b *Blackboard) NeedKinds() []string {
	out := make([]string, 0, len(b.Needs))
	for k := range b.Needs {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// CommitmentKeys returns commitment keys, sorted.
func (b *Blackboard) CommitmentKeys() []string {
	out := make([]string, 0, len(b.Commitments))
	for k := range b.Commitments {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func addCoord(m map[string][]ports.Vec3, category string, p ports.Vec3) bool {
	for _, q := range m[category] {
		if q == p {
			return false
		}
	}
	m[category] = append(m[category], p)
	ports.SortVec3(m[category])
	return true
}

func less(a, b ports.Vec3) bool {
	if a.X != b.X {
		return a.X < b.X
	}
	if a.Y != b.Y {
		return a.Y < b.Y
	}
	return a.Z < b.Z
}

func copyCounts(in map[string]int) map[string]int {
	out := make(map[string]int, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
