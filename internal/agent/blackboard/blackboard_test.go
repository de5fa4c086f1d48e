package blackboard

import (
	"reflect"
	"testing"
	"time"

	"agentcraft.ai/internal/agent/ports"
	"agentcraft.ai/internal/sim/catalogs"
)

var t0 = time.Unix(1700000000, 0)

func snapshot() ports.Snapshot {
	return ports.Snapshot{
		Time:      t0,
		Position:  ports.Vec3{X: 0, Y: 64, Z: 0},
		Radius:    8,
		Inventory: map[string]int{"wheat_seeds": 3, "stick": 0},
		Blocks: []ports.BlockObs{
			{Name: "wheat_ripe", Category: "farm", Pos: ports.Vec3{X: 2, Y: 64, Z: 0}},
			{Name: "oak_tree", Category: "forest", Pos: ports.Vec3{X: -3, Y: 64, Z: 1}},
		},
		Entities: []ports.EntityObs{
			{ID: "chest-1", Type: ports.EntityChest, Pos: ports.Vec3{X: 1, Y: 64, Z: 1}, Items: map[string]int{"wheat": 4}},
			{ID: "bob", Type: ports.EntityAgent, Pos: ports.Vec3{X: 3, Y: 64, Z: 3}},
			{ID: "sign-1", Type: ports.EntitySign, Pos: ports.Vec3{X: 0, Y: 64, Z: 2}},
		},
	}
}

func TestUpdate_Idempotent(t *testing.T) {
	b := New("alice", "farmer")
	b.Update(snapshot())
	firstBlocks := map[ports.Vec3]ports.BlockObs{}
	for k, v := range b.Blocks {
		firstBlocks[k] = v
	}
	firstSites := copySites(b.Sites)
	b.Update(snapshot())

	if !reflect.DeepEqual(b.Blocks, firstBlocks) || !reflect.DeepEqual(b.Sites, firstSites) {
		t.Fatalf("second update changed facts")
	}
	if len(b.Sites["farm"]) != 1 || len(b.Sites["forest"]) != 1 {
		t.Fatalf("sites: got %v", b.Sites)
	}
	if _, ok := b.Inventory["stick"]; ok {
		t.Fatalf("zero counts must not be kept: %v", b.Inventory)
	}
	if b.Containers["chest-1"].Items["wheat"] != 4 || len(b.Peers) != 1 {
		t.Fatalf("entities: %+v %+v", b.Containers, b.Peers)
	}
	if got := b.UnreadSources(); !reflect.DeepEqual(got, []string{"sign-1"}) {
		t.Fatalf("unread: got %v", got)
	}
}

func TestUpdate_ForgetsVanishedBlocksInRange(t *testing.T) {
	b := New("alice", "farmer")
	b.Update(snapshot())
	far := ports.Vec3{X: 40, Y: 64, Z: 0}
	b.Blocks[far] = ports.BlockObs{Name: "stone", Pos: far}

	s := snapshot()
	s.Blocks = s.Blocks[1:]
	b.Update(s)
	if _, ok := b.Blocks[ports.Vec3{X: 2, Y: 64, Z: 0}]; ok {
		t.Fatalf("harvested block still known")
	}
	if _, ok := b.Blocks[far]; !ok {
		t.Fatalf("out-of-range block forgotten")
	}
	if len(b.Sites["farm"]) != 1 {
		t.Fatalf("learned site must survive: %v", b.Sites)
	}
}

func TestCooldowns(t *testing.T) {
	b := New("alice", "farmer")
	b.MarkCooldown("harvest", t0.Add(10*time.Second))
	b.MarkCooldown("deposit", t0)
	if !b.IsOnCooldown("harvest", t0) || b.IsOnCooldown("harvest", t0.Add(10*time.Second)) {
		t.Fatalf("harvest cooldown window wrong")
	}
	if b.IsOnCooldown("deposit", t0) {
		t.Fatalf("zero-length cooldown must not block")
	}
	if got := b.CooldownGoals(t0); !reflect.DeepEqual(got, []string{"harvest"}) {
		t.Fatalf("CooldownGoals: got %v", got)
	}
}

func TestUnusable(t *testing.T) {
	b := New("alice", "farmer")
	b.MarkUnusable("chest-1", t0.Add(time.Minute))
	if b.IsUsable("chest-1", t0) {
		t.Fatalf("chest should be unusable")
	}
	if !b.IsUsable("chest-1", t0.Add(time.Minute)) {
		t.Fatalf("chest should be usable after expiry")
	}
	if _, ok := b.Unusable["chest-1"]; ok {
		t.Fatalf("expired entry not cleared")
	}
}

func TestMergeKnowledge_SkipsReadSources(t *testing.T) {
	b := New("alice", "farmer")
	entries := []ports.KnowledgeEntry{
		{SourceID: "sign-1", Category: "farm", Pos: ports.Vec3{X: 10, Y: 64, Z: -3}},
		{SourceID: "sign-1", Category: "forest", Pos: ports.Vec3{X: 20, Y: 64, Z: 0}},
	}
	if n := b.MergeKnowledge(entries); n != 2 {
		t.Fatalf("first merge: got %d want 2", n)
	}
	entries[0].Pos = ports.Vec3{X: 99, Y: 64, Z: 99}
	if n := b.MergeKnowledge(entries); n != 0 {
		t.Fatalf("re-read: got %d want 0", n)
	}
	if len(b.SignCoords["farm"]) != 1 || len(b.Sites["forest"]) != 1 {
		t.Fatalf("coords: %v sites: %v", b.SignCoords, b.Sites)
	}
	if !b.ShouldWrite("farm") {
		t.Fatalf("farm not written yet")
	}
	b.MarkWritten("farm")
	if b.ShouldWrite("farm") {
		t.Fatalf("farm already written")
	}
}

func TestCountMatchingAndNearest(t *testing.T) {
	cats, err := catalogs.Load("../../../configs")
	if err != nil {
		t.Fatalf("load catalogs: %v", err)
	}
	b := New("alice", "farmer")
	s := snapshot()
	s.Inventory = map[string]int{"oak_planks": 2, "birch_planks": 3, "stick": 1}
	s.Blocks = append(s.Blocks, ports.BlockObs{Name: "wheat_ripe", Category: "farm", Pos: ports.Vec3{X: 1, Y: 64, Z: 0}})
	b.Update(s)
	if got := b.CountMatching(cats, "planks"); got != 5 {
		t.Fatalf("planks: got %d want 5", got)
	}
	p, ok := b.Nearest("wheat_ripe", nil)
	if !ok || p != (ports.Vec3{X: 1, Y: 64, Z: 0}) {
		t.Fatalf("nearest: got %v ok=%v", p, ok)
	}
	p, ok = b.Nearest("farm", func(v ports.Vec3) bool { return v.X != 1 })
	if !ok || p != (ports.Vec3{X: 2, Y: 64, Z: 0}) {
		t.Fatalf("nearest usable: got %v ok=%v", p, ok)
	}
}

func TestNeedLifecycle(t *testing.T) {
	b := New("alice", "farmer")
	r := &NeedRequest{Kind: "hoe", RequesterID: "alice", CreatedAt: t0, Status: CollectingOffers}
	b.Needs["hoe"] = r
	r.AddOffer(Offer{ProviderID: "bob", CraftingSteps: 2, ReceivedAt: t0})
	r.AddOffer(Offer{ProviderID: "bob", CraftingSteps: 1, ReceivedAt: t0.Add(time.Second)})
	if len(r.Offers) != 1 || r.Offers[0].CraftingSteps != 1 {
		t.Fatalf("latest offer per provider must win: %+v", r.Offers)
	}
	if b.LiveNeed("hoe") == nil {
		t.Fatalf("expected live need")
	}
	closed, ok := b.CloseNeed("hoe", Abandoned, t0.Add(time.Minute), "no offers")
	if !ok || closed.Status != Abandoned || b.LiveNeed("hoe") != nil {
		t.Fatalf("close: %+v ok=%v", closed, ok)
	}
	for i := 0; i < HistoryLimit+5; i++ {
		b.Needs["x"] = &NeedRequest{Kind: "x"}
		b.CloseNeed("x", Fulfilled, t0, "")
	}
	if len(b.NeedHistory) != HistoryLimit {
		t.Fatalf("history: got %d want %d", len(b.NeedHistory), HistoryLimit)
	}
}

func TestUnreserved(t *testing.T) {
	b := New("bob", "toolsmith")
	b.Inventory = map[string]int{"stick": 5, "oak_planks": 2}
	b.Commitments[CommitmentKey("alice", "hoe")] = &Commitment{
		Items:  []ports.ItemCount{{Item: "stick", Count: 2}, {Item: "oak_planks", Count: 2}},
		Status: CommitAccepted,
	}
	b.Commitments[CommitmentKey("carol", "stick")] = &Commitment{
		Items:  []ports.ItemCount{{Item: "stick", Count: 3}},
		Status: CommitStaged,
	}
	got := b.Unreserved()
	if want := map[string]int{"stick": 3}; !reflect.DeepEqual(got, want) {
		t.Fatalf("unreserved = %v, want %v", got, want)
	}
	if b.Inventory["oak_planks"] != 2 {
		t.Fatalf("inventory mutated: %v", b.Inventory)
	}
}

func copySites(m map[string][]ports.Vec3) map[string][]ports.Vec3 {
	out := map[string][]ports.Vec3{}
	for k, v := range m {
		out[k] = append([]ports.Vec3(nil), v...)
	}
	return out
}
