// Command replay summarises a world's journal and, optionally, one of its snapshots.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	persistlog "agentcraft.ai/internal/persistence/log"
	"agentcraft.ai/internal/persistence/snapshot"
	"agentcraft.ai/internal/sim/catalogs"
	"agentcraft.ai/internal/sim/world"
)

func main() {
	var (
		worldDir  = flag.String("world", "", "world data dir containing journal/ (e.g. ./data/worlds/meadow)")
		snapPath  = flag.String("snapshot", "", "path to .snap.zst (optional)")
		configDir = flag.String("configs", "./configs", "config directory, used to validate -snapshot")
		agentID   = flag.String("agent", "", "only this agent")
		since     = flag.String("since", "", "skip records before this RFC3339 time")
		tail      = flag.Int("tail", 0, "also print the last N matching records")
	)
	flag.Parse()

	if *worldDir == "" && *snapPath == "" {
		fmt.Fprintln(os.Stderr, "missing -world or -snapshot")
		os.Exit(2)
	}

	if *snapPath != "" {
		if err := describeSnapshot(os.Stdout, *snapPath, *configDir); err != nil {
			fmt.Fprintln(os.Stderr, "snapshot:", err)
			os.Exit(1)
		}
	}
	if *worldDir == "" {
		return
	}

	f := filter{agent: *agentID}
	if *since != "" {
		t, err := time.Parse(time.RFC3339, *since)
		if err != nil {
			fmt.Fprintln(os.Stderr, "bad -since:", err)
			os.Exit(2)
		}
		f.since = t
	}
	sum, err := summarise(*worldDir, f, *tail)
	if err != nil {
		fmt.Fprintln(os.Stderr, "replay:", err)
		os.Exit(1)
	}
	sum.print(os.Stdout)
}

func describeSnapshot(out io.Writer, path, configDir string) error {
	snap, err := snapshot.ReadSnapshot(path)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "snapshot v%d world=%s tick=%d blocks=%d pending=%d containers=%d drops=%d signs=%d agents=%d\n",
		snap.Header.Version, snap.Header.WorldID, snap.Header.Tick, len(snap.Blocks), len(snap.Pending),
		len(snap.Containers), len(snap.Drops), len(snap.Signs), len(snap.Agents))
	cats, err := catalogs.Load(configDir)
	if err != nil {
		return fmt.Errorf("load catalogs: %w", err)
	}
	if _, err := world.Import(cats, snap); err != nil {
		return fmt.Errorf("snapshot does not match catalogs: %w", err)
	}
	return nil
}

type filter struct {
	agent string
	since time.Time
}

func (f filter) keep(r persistlog.Record) bool {
	if f.agent != "" && r.Agent != f.agent {
		return false
	}
	return f.since.IsZero() || !r.At.Before(f.since)
}

type actionStat struct {
	Runs, Failures int
}

type summary struct {
	Records int
	First   time.Time
	Last    time.Time
	// Actions is keyed by agent, then action.
	Actions map[string]map[string]*actionStat
	// Needs is keyed by "kind status".
	Needs     map[string]int
	Providers map[string]int
	Tail      []persistlog.Record
}

func summarise(worldDir string, f filter, tail int) (*summary, error) {
	s := &summary{
		Actions:   map[string]map[string]*actionStat{},
		Needs:     map[string]int{},
		Providers: map[string]int{},
	}
	err := persistlog.ReadDir(worldDir, func(r persistlog.Record) error {
		if !f.keep(r) {
			return nil
		}
		s.Records++
		if s.First.IsZero() || r.At.Before(s.First) {
			s.First = r.At
		}
		if r.At.After(s.Last) {
			s.Last = r.At
		}
		switch r.Kind {
		case persistlog.KindAction:
			if r.Action == nil {
				break
			}
			byAction := s.Actions[r.Agent]
			if byAction == nil {
				byAction = map[string]*actionStat{}
				s.Actions[r.Agent] = byAction
			}
			st := byAction[r.Action.Action]
			if st == nil {
				st = &actionStat{}
				byAction[r.Action.Action] = st
			}
			st.Runs++
			if !r.Action.Success {
				st.Failures++
			}
		case persistlog.KindNeed:
			if r.Need == nil {
				break
			}
			s.Needs[r.Need.Kind+" "+r.Need.Status]++
			if r.Need.Provider != "" {
				s.Providers[r.Need.Provider]++
			}
		}
		if tail > 0 {
			s.Tail = append(s.Tail, r)
			if len(s.Tail) > tail {
				s.Tail = s.Tail[1:]
			}
		}
		return nil
	})
	return s, err
}

func (s *summary) print(out io.Writer) {
	fmt.Fprintf(out, "records=%d first=%s last=%s\n", s.Records, s.First.Format(time.RFC3339), s.Last.Format(time.RFC3339))
	for _, agent := range sortedKeys(s.Actions) {
		fmt.Fprintf(out, "agent %s\n", agent)
		for _, action := range sortedKeys(s.Actions[agent]) {
			st := s.Actions[agent][action]
			fmt.Fprintf(out, "  %-20s runs=%d failures=%d\n", action, st.Runs, st.Failures)
		}
	}
	for _, k := range sortedKeys(s.Needs) {
		fmt.Fprintf(out, "need %s: %d\n", k, s.Needs[k])
	}
	for _, k := range sortedKeys(s.Providers) {
		fmt.Fprintf(out, "provider %s delivered %d\n", k, s.Providers[k])
	}
	for _, r := range s.Tail {
		switch {
		case r.Action != nil:
			line := fmt.Sprintf("%s %s %s/%s ok=%v", r.At.Format(time.RFC3339), r.Agent, r.Action.Goal, r.Action.Action, r.Action.Success)
			if r.Action.Err != "" {
				line += " err=" + r.Action.Err
			}
			fmt.Fprintln(out, line)
		case r.Need != nil:
			fmt.Fprintf(out, "%s %s need %s %s %s\n", r.At.Format(time.RFC3339), r.Agent, r.Need.Kind, r.Need.Status, strings.TrimSpace(r.Need.Reason))
		}
	}
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
