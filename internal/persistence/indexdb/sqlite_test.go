package indexdb

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"agentcraft.ai/internal/agent/blackboard"
	"agentcraft.ai/internal/agent/plan"
	"agentcraft.ai/internal/persistence/snapshot"
	"agentcraft.ai/internal/sim/catalogs"
	"agentcraft.ai/internal/tuning"
)

func TestSQLiteIndex_QueueDropStats(t *testing.T) {
	s := &SQLiteIndex{ch: make(chan req, 1)}
	s.ch <- req{kind: reqAction}

	s.RecordAction("a", plan.HistoryEntry{})
	s.RecordNeed("a", blackboard.NeedRequest{})
	s.RecordSnapshot("/tmp/2.snap.zst", snapshot.SnapshotV1{})

	st := s.Stats()
	if st.DropActionTotal != 1 || st.DropNeedTotal != 1 || st.DropSnapshotTotal != 1 {
		t.Fatalf("drops = %+v, want one of each", st)
	}
	if st.QueueDepth != 1 || st.QueueCapacity != 1 {
		t.Fatalf("queue stats mismatch: depth=%d cap=%d", st.QueueDepth, st.QueueCapacity)
	}
}

func TestSQLiteIndex_RecordAndQuery(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.db")
	idx, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	at := time.Unix(1700000000, 0)
	idx.RecordAction("farmer-1", plan.HistoryEntry{Goal: "harvest", Action: "harvest_crop", Success: true, At: at})
	idx.RecordAction("farmer-1", plan.HistoryEntry{Goal: "harvest", Action: "harvest_crop", Success: false, Err: "out of reach", At: at})
	idx.RecordAction("toolsmith-1", plan.HistoryEntry{Goal: "craft_tool", Action: "craft_tool", Success: true, At: at})
	idx.RecordNeed("farmer-1", blackboard.NeedRequest{Kind: "hoe", Status: blackboard.Fulfilled, Attempt: 1, Accepted: &blackboard.Offer{ProviderID: "toolsmith-1"}})
	idx.RecordNeed("lumberjack-1", blackboard.NeedRequest{Kind: "axe", Status: blackboard.Abandoned, Attempt: 3})
	idx.RecordSnapshot("/snaps/10.snap.zst", snapshot.SnapshotV1{Header: snapshot.Header{WorldID: "w", Tick: 10}, Agents: make([]snapshot.AgentV1, 3)})
	if err := idx.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	db, err := OpenReader(path)
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer db.Close()
	ctx := context.Background()

	acts, err := Actions(ctx, db, "farmer-1")
	if err != nil {
		t.Fatalf("Actions: %v", err)
	}
	if len(acts) != 1 || acts[0].Runs != 2 || acts[0].Failures != 1 {
		t.Fatalf("actions = %+v", acts)
	}
	all, _ := Actions(ctx, db, "")
	if len(all) != 2 {
		t.Fatalf("all actions = %+v", all)
	}

	needs, err := Needs(ctx, db)
	if err != nil {
		t.Fatalf("Needs: %v", err)
	}
	if len(needs) != 2 || needs[0].Kind != "axe" || needs[0].Status != "ABANDONED" || needs[0].AvgAttempts != 3 {
		t.Fatalf("needs = %+v", needs)
	}

	snaps, err := Snapshots(ctx, db, 0)
	if err != nil {
		t.Fatalf("Snapshots: %v", err)
	}
	if len(snaps) != 1 || snaps[0].Tick != 10 || snaps[0].Agents != 3 {
		t.Fatalf("snapshots = %+v", snaps)
	}
}

func TestSQLiteIndex_UpsertCatalogs(t *testing.T) {
	cats, err := catalogs.Load("../../../configs")
	if err != nil {
		t.Fatalf("load catalogs: %v", err)
	}
	path := filepath.Join(t.TempDir(), "index.db")
	idx, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	if err := idx.UpsertCatalogs("../../../configs", cats, tuning.Defaults()); err != nil {
		t.Fatalf("UpsertCatalogs: %v", err)
	}
	_ = idx.Close()

	db, err := OpenReader(path)
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer db.Close()
	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM catalogs`).Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 4 {
		t.Fatalf("catalog rows = %d, want 4", n)
	}
}
