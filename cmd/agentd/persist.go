package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"agentcraft.ai/internal/agent"
	"agentcraft.ai/internal/agent/blackboard"
	"agentcraft.ai/internal/agent/plan"
	"agentcraft.ai/internal/persistence/archive"
	"agentcraft.ai/internal/persistence/indexdb"
	"agentcraft.ai/internal/persistence/snapshot"
	"agentcraft.ai/internal/sim/catalogs"
	"agentcraft.ai/internal/sim/world"
)

type multiJournal []agent.Journal

func (m multiJournal) RecordAction(agentID string, e plan.HistoryEntry) {
	for _, j := range m {
		j.RecordAction(agentID, e)
	}
}

func (m multiJournal) RecordNeed(agentID string, r blackboard.NeedRequest) {
	for _, j := range m {
		j.RecordNeed(agentID, r)
	}
}

func journalOf(j agent.Journal, idx *indexdb.SQLiteIndex) agent.Journal {
	if idx == nil {
		return j
	}
	return multiJournal{j, idx}
}

// snapshotter writes world snapshots under dir/snapshots, records them in the index and
// applies the archive policy.
type snapshotter struct {
	dir    string
	idx    *indexdb.SQLiteIndex
	log    *log.Logger
	policy archive.Policy

	mu   sync.Mutex
	last uint64
}

func (s *snapshotter) save(w *world.World) {
	snap := w.Export()
	s.mu.Lock()
	defer s.mu.Unlock()
	if snap.Header.Tick != 0 && snap.Header.Tick == s.last {
		return
	}
	path := filepath.Join(s.dir, "snapshots", fmt.Sprintf("%d.snap.zst", snap.Header.Tick))
	if err := snapshot.WriteSnapshot(path, snap); err != nil {
		s.log.Printf("snapshot write: %v", err)
		return
	}
	s.last = snap.Header.Tick
	if s.idx != nil {
		s.idx.RecordSnapshot(path, snap)
	}
	if archived, ok, err := archive.ArchiveSnapshot(s.dir, path, snap, s.policy); err != nil {
		s.log.Printf("archive snapshot: %v", err)
	} else if ok {
		s.log.Printf("archived tick %d to %s", snap.Header.Tick, archived)
	}
	if _, err := archive.Prune(filepath.Join(s.dir, "snapshots"), s.policy); err != nil {
		s.log.Printf("prune snapshots: %v", err)
	}
}

func loadWorld(cats *catalogs.Catalogs, path string) (*world.World, error) {
	snap, err := snapshot.ReadSnapshot(path)
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	w, err := world.Import(cats, snap)
	if err != nil {
		return nil, fmt.Errorf("import snapshot %s: %w", path, err)
	}
	return w, nil
}

func latestSnapshot(worldDir string) string {
	dir := filepath.Join(worldDir, "snapshots")
	ents, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	var (
		best     string
		bestTick uint64
	)
	for _, e := range ents {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".snap.zst") {
			continue
		}
		tick, err := strconv.ParseUint(strings.TrimSuffix(name, ".snap.zst"), 10, 64)
		if err != nil {
			continue
		}
		if best == "" || tick > bestTick {
			best, bestTick = filepath.Join(dir, name), tick
		}
	}
	return best
}
