// Package knowledge is a shared, sqlite-backed ports.KnowledgeStore. Entries play the
// part of signs: each is a category and a coordinate, readable by every agent.
package knowledge

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"agentcraft.ai/internal/agent/ports"
)

type Store struct {
	db *sql.DB
	// radius limits reads to entries near the hint; 0 reads everything.
	radius int
	now    func() time.Time
}

type Option func(*Store)

func WithRadius(r int) Option { return func(s *Store) { s.radius = r } }

func WithClock(now func() time.Time) Option { return func(s *Store) { s.now = now } }

func Open(path string, opts ...Option) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("empty knowledge db path")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	for _, stmt := range []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA busy_timeout=5000;",
		`CREATE TABLE IF NOT EXISTS entries (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			category TEXT NOT NULL,
			x INTEGER NOT NULL,
			y INTEGER NOT NULL,
			z INTEGER NOT NULL,
			author TEXT NOT NULL,
			written_at TEXT NOT NULL,
			UNIQUE(category, x, y, z)
		);`,
	} {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("knowledge init: %w", err)
		}
	}
	s := &Store{db: db, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

// For returns the agent's view of the store; writes are attributed to agentID.
func (s *Store) For(agentID string) *AgentStore {
	return &AgentStore{s: s, agentID: agentID}
}

// AgentStore implements ports.KnowledgeStore for one agent.
type AgentStore struct {
	s       *Store
	agentID string
}

// ReadEntries returns entries nearest the hint first.
func (a *AgentStore) ReadEntries(ctx context.Context, hint ports.Vec3) ([]ports.KnowledgeEntry, error) {
	rows, err := a.s.db.QueryContext(ctx, `SELECT id, category, x, y, z FROM entries ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("read entries: %w", err)
	}
	defer rows.Close()
	var out []ports.KnowledgeEntry
	for rows.Next() {
		var (
			id int64
			e  ports.KnowledgeEntry
		)
		if err := rows.Scan(&id, &e.Category, &e.Pos.X, &e.Pos.Y, &e.Pos.Z); err != nil {
			return nil, err
		}
		if a.s.radius > 0 && ports.Manhattan(e.Pos, hint) > a.s.radius {
			continue
		}
		e.SourceID = fmt.Sprintf("kdb-%d", id)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool {
		return ports.Manhattan(out[i].Pos, hint) < ports.Manhattan(out[j].Pos, hint)
	})
	return out, nil
}

// WriteEntry records a site once; writing a known site again is a no-op.
func (a *AgentStore) WriteEntry(ctx context.Context, category string, p ports.Vec3) error {
	category = strings.ToLower(strings.TrimSpace(category))
	if category == "" {
		return fmt.Errorf("write entry: empty category")
	}
	_, err := a.s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO entries(category,x,y,z,author,written_at) VALUES(?,?,?,?,?,?)`,
		category, p.X, p.Y, p.Z, a.agentID, a.s.now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("write entry %s %s: %w", category, p, err)
	}
	return nil
}
