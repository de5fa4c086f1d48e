// Package indexdb keeps a queryable sqlite index of what agents did: actions, need
// outcomes and recorded snapshots. Writes are queued and applied by one goroutine; when
// the queue is full they are dropped and counted, the JSONL journal stays authoritative.
package indexdb

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"agentcraft.ai/internal/agent/blackboard"
	"agentcraft.ai/internal/agent/plan"
	"agentcraft.ai/internal/persistence/snapshot"
	"agentcraft.ai/internal/sim/catalogs"
	"agentcraft.ai/internal/tuning"
)

const defaultQueue = 65536

type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropAction   atomic.Uint64
	dropNeed     atomic.Uint64
	dropSnapshot atomic.Uint64
}

type reqKind int

const (
	reqAction reqKind = iota + 1
	reqNeed
	reqSnapshot
)

type req struct {
	kind  reqKind
	agent string

	action   plan.HistoryEntry
	need     blackboard.NeedRequest
	snapshot snapshotRow
}

type snapshotRow struct {
	Tick       uint64
	Path       string
	WorldID    string
	Blocks     int
	Agents     int
	Containers int
	Signs      int
}

// Stats reports queue pressure.
type Stats struct {
	DropActionTotal   uint64 `json:"drop_action_total"`
	DropNeedTotal     uint64 `json:"drop_need_total"`
	DropSnapshotTotal uint64 `json:"drop_snapshot_total"`
	QueueDepth        int    `json:"queue_depth"`
	QueueCapacity     int    `json:"queue_capacity"`
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{db: db, ch: make(chan req, defaultQueue)}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS catalogs (
			name TEXT PRIMARY KEY,
			digest TEXT NOT NULL,
			json TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS actions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			agent_id TEXT NOT NULL,
			at TEXT NOT NULL,
			goal TEXT NOT NULL,
			action TEXT NOT NULL,
			success INTEGER NOT NULL,
			failures INTEGER NOT NULL,
			err TEXT
		);`,
		`CREATE INDEX IF NOT EXISTS idx_actions_agent ON actions(agent_id, id);`,
		`CREATE TABLE IF NOT EXISTS needs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			agent_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			status TEXT NOT NULL,
			attempt INTEGER NOT NULL,
			offers INTEGER NOT NULL,
			provider TEXT,
			created_at TEXT NOT NULL,
			closed_at TEXT NOT NULL,
			reason TEXT,
			raw_json TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_needs_kind ON needs(kind, status);`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			tick INTEGER PRIMARY KEY,
			path TEXT NOT NULL,
			world_id TEXT NOT NULL,
			blocks INTEGER NOT NULL,
			agents INTEGER NOT NULL,
			containers INTEGER NOT NULL,
			signs INTEGER NOT NULL
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *SQLiteIndex) enqueue(r req, drops *atomic.Uint64) {
	if s.closed.Load() {
		return
	}
	select {
	case s.ch <- r:
	default:
		drops.Add(1)
	}
}

// RecordAction implements agent.Journal.
func (s *SQLiteIndex) RecordAction(agentID string, e plan.HistoryEntry) {
	s.enqueue(req{kind: reqAction, agent: agentID, action: e}, &s.dropAction)
}

// RecordNeed implements agent.Journal.
func (s *SQLiteIndex) RecordNeed(agentID string, r blackboard.NeedRequest) {
	s.enqueue(req{kind: reqNeed, agent: agentID, need: r}, &s.dropNeed)
}

func (s *SQLiteIndex) RecordSnapshot(path string, snap snapshot.SnapshotV1) {
	s.enqueue(req{kind: reqSnapshot, snapshot: snapshotRow{
		Tick:       snap.Header.Tick,
		Path:       path,
		WorldID:    snap.Header.WorldID,
		Blocks:     len(snap.Blocks),
		Agents:     len(snap.Agents),
		Containers: len(snap.Containers),
		Signs:      len(snap.Signs),
	}}, &s.dropSnapshot)
}

func (s *SQLiteIndex) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		DropActionTotal:   s.dropAction.Load(),
		DropNeedTotal:     s.dropNeed.Load(),
		DropSnapshotTotal: s.dropSnapshot.Load(),
		QueueDepth:        len(s.ch),
		QueueCapacity:     cap(s.ch),
	}
}

// UpsertCatalogs records the catalog files and the tuning in effect, with digests.
func (s *SQLiteIndex) UpsertCatalogs(configDir string, cats *catalogs.Catalogs, tune tuning.Tuning) error {
	if s == nil {
		return nil
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	type kv struct {
		name   string
		digest string
		json   []byte
	}
	var rows []kv
	for _, f := range []struct{ name, file, digest string }{
		{"blocks", "blocks.json", cats.Blocks.Digest},
		{"items", "items.json", cats.Items.Digest},
		{"recipes", "recipes.json", cats.Recipes.Digest},
	} {
		if configDir == "" {
			break
		}
		b, err := os.ReadFile(filepath.Join(configDir, f.file))
		if err != nil {
			continue
		}
		rows = append(rows, kv{name: f.name, digest: f.digest, json: b})
	}
	{
		b, _ := json.Marshal(tune)
		sum := sha256.Sum256(b)
		rows = append(rows, kv{name: "tuning", digest: hex.EncodeToString(sum[:]), json: b})
	}

	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1')`); err != nil {
		return err
	}
	stmt, err := tx.Prepare(`INSERT OR REPLACE INTO catalogs(name,digest,json,updated_at) VALUES(?,?,?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, r := range rows {
		if r.digest == "" || len(r.json) == 0 {
			continue
		}
		if _, err := stmt.Exec(r.name, r.digest, string(r.json), now); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertAction, _ := s.db.Prepare(`INSERT INTO actions(agent_id,at,goal,action,success,failures,err) VALUES(?,?,?,?,?,?,?)`)
	insertNeed, _ := s.db.Prepare(`INSERT INTO needs(agent_id,kind,status,attempt,offers,provider,created_at,closed_at,reason,raw_json) VALUES(?,?,?,?,?,?,?,?,?,?)`)
	insertSnapshot, _ := s.db.Prepare(`INSERT OR REPLACE INTO snapshots(tick,path,world_id,blocks,agents,containers,signs) VALUES(?,?,?,?,?,?,?)`)
	defer func() {
		for _, st := range []*sql.Stmt{insertAction, insertNeed, insertSnapshot} {
			if st != nil {
				_ = st.Close()
			}
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 500
		commitMaxWait = 2 * time.Second
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	exec := func(st *sql.Stmt, args ...any) {
		if st == nil {
			return
		}
		if _, err := tx.Stmt(st).Exec(args...); err != nil {
			rollback()
			return
		}
		opCount++
	}

	tick := time.NewTicker(commitMaxWait)
	defer tick.Stop()
	for {
		var r req
		select {
		case <-tick.C:
			if time.Since(lastCommit) >= commitMaxWait {
				commit()
			}
			continue
		case rr, ok := <-s.ch:
			if !ok {
				commit()
				return
			}
			r = rr
		}
		begin()
		if tx == nil {
			continue
		}
		switch r.kind {
		case reqAction:
			a := r.action
			exec(insertAction, r.agent, a.At.UTC().Format(time.RFC3339Nano), a.Goal, a.Action, boolInt(a.Success), a.ConsecutiveFailures, a.Err)
		case reqNeed:
			n := r.need
			raw, _ := json.Marshal(n)
			provider := ""
			if n.Accepted != nil {
				provider = n.Accepted.ProviderID
			}
			exec(insertNeed, r.agent, n.Kind, n.Status.String(), n.Attempt, len(n.Offers), provider,
				n.CreatedAt.UTC().Format(time.RFC3339Nano), n.ClosedAt.UTC().Format(time.RFC3339Nano), n.Reason, string(raw))
		case reqSnapshot:
			sn := r.snapshot
			exec(insertSnapshot, int64(sn.Tick), sn.Path, sn.WorldID, sn.Blocks, sn.Agents, sn.Containers, sn.Signs)
		}
		if tx != nil && opCount >= commitEvery {
			commit()
		}
	}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
