// Package archive keeps long-lived copies of selected world snapshots and prunes the
// rolling snapshot directory.
package archive

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"agentcraft.ai/internal/persistence/snapshot"
)

type Meta struct {
	WorldID    string `json:"world_id"`
	Tick       uint64 `json:"tick"`
	Snapshot   string `json:"snapshot"`
	CreatedAt  string `json:"created_at"`
	Agents     int    `json:"agents"`
	Containers int    `json:"containers"`
	Signs      int    `json:"signs"`
}

// Policy: every snapshot whose tick is a multiple of Every is archived; the rolling
// directory keeps the newest Keep snapshots. Zero disables either half.
type Policy struct {
	Every uint64
	Keep  int
}

// ArchiveSnapshot copies the snapshot into `worldDir/archives/tick_<N>/` with a meta.json.
// It reports archived=false when the policy does not select this tick.
func ArchiveSnapshot(worldDir, snapshotPath string, snap snapshot.SnapshotV1, p Policy) (archivedPath string, archived bool, err error) {
	tick := snap.Header.Tick
	if p.Every == 0 || tick == 0 || tick%p.Every != 0 {
		return "", false, nil
	}

	archiveDir := filepath.Join(worldDir, "archives", fmt.Sprintf("tick_%010d", tick))
	if err := os.MkdirAll(archiveDir, 0o755); err != nil {
		return "", false, err
	}
	dst := filepath.Join(archiveDir, filepath.Base(snapshotPath))
	if err := copyFile(snapshotPath, dst); err != nil {
		return "", false, err
	}

	meta := Meta{
		WorldID:    snap.Header.WorldID,
		Tick:       tick,
		Snapshot:   filepath.Base(dst),
		CreatedAt:  time.Now().UTC().Format(time.RFC3339Nano),
		Agents:     len(snap.Agents),
		Containers: len(snap.Containers),
		Signs:      len(snap.Signs),
	}
	b, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return "", false, err
	}
	if err := os.WriteFile(filepath.Join(archiveDir, "meta.json"), b, 0o644); err != nil {
		return "", false, err
	}
	return dst, true, nil
}

// Prune removes all but the newest p.Keep "<tick>.snap.zst" files in dir and returns the
// removed paths.
func Prune(dir string, p Policy) ([]string, error) {
	if p.Keep <= 0 {
		return nil, nil
	}
	ents, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	type snap struct {
		tick uint64
		path string
	}
	var snaps []snap
	for _, e := range ents {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".snap.zst") {
			continue
		}
		tick, err := strconv.ParseUint(strings.TrimSuffix(name, ".snap.zst"), 10, 64)
		if err != nil {
			continue
		}
		snaps = append(snaps, snap{tick: tick, path: filepath.Join(dir, name)})
	}
	if len(snaps) <= p.Keep {
		return nil, nil
	}
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].tick > snaps[j].tick })
	var removed []string
	for _, s := range snaps[p.Keep:] {
		if err := os.Remove(s.path); err != nil {
			return removed, err
		}
		removed = append(removed, s.path)
	}
	return removed, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() { _ = out.Close() }()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
