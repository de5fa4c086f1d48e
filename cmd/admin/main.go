// Command admin inspects the runtime data of agentd: worlds, the sqlite index, shared
// knowledge and the live status endpoint.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"agentcraft.ai/internal/agent/ports"
	"agentcraft.ai/internal/persistence/knowledge"
	"agentcraft.ai/internal/persistence/snapshot"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "db":
			dbCmd(os.Args[2:])
			return
		case "state":
			stateCmd(os.Args[2:])
			return
		case "knowledge":
			knowledgeCmd(os.Args[2:])
			return
		}
	}
	listCmd(os.Args[1:])
}

// listCmd prints each world with its newest snapshot tick.
func listCmd(args []string) {
	fs := flag.NewFlagSet("admin", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	_ = fs.Parse(args)

	base := filepath.Join(*dataDir, "worlds")
	entries, err := os.ReadDir(base)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read:", err)
		os.Exit(1)
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		line := e.Name()
		if path, ok := newestSnapshot(filepath.Join(base, e.Name(), "snapshots")); ok {
			if h, err := snapshot.ReadHeader(path); err == nil {
				line += fmt.Sprintf(" tick=%d", h.Tick)
			}
		}
		fmt.Println(line)
	}
}

func knowledgeCmd(args []string) {
	fs := flag.NewFlagSet("knowledge", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	worldID := fs.String("world", "", "world id (required unless -db)")
	dbPath := fs.String("db", "", "knowledge sqlite path (optional)")
	near := fs.String("near", "0,0,0", "sort entries by distance from x,y,z")
	_ = fs.Parse(args)

	path := strings.TrimSpace(*dbPath)
	if path == "" {
		if strings.TrimSpace(*worldID) == "" {
			fmt.Fprintln(os.Stderr, "missing -world or -db")
			os.Exit(2)
		}
		path = filepath.Join(*dataDir, "worlds", *worldID, "knowledge.sqlite")
	}
	hint, err := ports.ParseVec3(*near)
	if err != nil {
		fmt.Fprintln(os.Stderr, "bad -near:", err)
		os.Exit(2)
	}
	st, err := knowledge.Open(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	defer st.Close()
	entries, err := st.For("admin").ReadEntries(context.Background(), hint)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read:", err)
		os.Exit(1)
	}
	printJSON(entries)
}

func newestSnapshot(dir string) (string, bool) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return "", false
	}
	var (
		best     string
		bestTick uint64
	)
	for _, e := range ents {
		var tick uint64
		if _, err := fmt.Sscanf(e.Name(), "%d.snap.zst", &tick); err != nil {
			continue
		}
		if best == "" || tick > bestTick {
			best, bestTick = filepath.Join(dir, e.Name()), tick
		}
	}
	return best, best != ""
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
