package indexdb

import (
	"context"
	"database/sql"
	"fmt"
)

type ActionSummary struct {
	AgentID  string `json:"agent_id"`
	Action   string `json:"action"`
	Runs     int    `json:"runs"`
	Failures int    `json:"failures"`
}

type NeedSummary struct {
	Kind   string `json:"kind"`
	Status string `json:"status"`
	Count  int    `json:"count"`
	// AvgAttempts is the mean broadcast attempts per closed need.
	AvgAttempts float64 `json:"avg_attempts"`
}

type SnapshotRow struct {
	Tick       uint64 `json:"tick"`
	Path       string `json:"path"`
	WorldID    string `json:"world_id"`
	Blocks     int    `json:"blocks"`
	Agents     int    `json:"agents"`
	Containers int    `json:"containers"`
	Signs      int    `json:"signs"`
}

// OpenReader opens an index for queries only. It does not start a writer.
func OpenReader(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return db, nil
}

// Actions summarises runs and failures per agent and action. An empty agentID selects
// every agent.
func Actions(ctx context.Context, db *sql.DB, agentID string) ([]ActionSummary, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT agent_id, action, COUNT(*), SUM(CASE WHEN success=0 THEN 1 ELSE 0 END)
		FROM actions
		WHERE ?='' OR agent_id=?
		GROUP BY agent_id, action
		ORDER BY agent_id, action`, agentID, agentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ActionSummary
	for rows.Next() {
		var a ActionSummary
		if err := rows.Scan(&a.AgentID, &a.Action, &a.Runs, &a.Failures); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func Needs(ctx context.Context, db *sql.DB) ([]NeedSummary, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT kind, status, COUNT(*), AVG(attempt)
		FROM needs
		GROUP BY kind, status
		ORDER BY kind, status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []NeedSummary
	for rows.Next() {
		var n NeedSummary
		if err := rows.Scan(&n.Kind, &n.Status, &n.Count, &n.AvgAttempts); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// Snapshots lists recorded snapshots, newest first.
func Snapshots(ctx context.Context, db *sql.DB, limit int) ([]SnapshotRow, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.QueryContext(ctx, `
		SELECT tick, path, world_id, blocks, agents, containers, signs
		FROM snapshots ORDER BY tick DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []SnapshotRow
	for rows.Next() {
		var r SnapshotRow
		var tick int64
		if err := rows.Scan(&tick, &r.Path, &r.WorldID, &r.Blocks, &r.Agents, &r.Containers, &r.Signs); err != nil {
			return nil, err
		}
		r.Tick = uint64(tick)
		out = append(out, r)
	}
	return out, rows.Err()
}
